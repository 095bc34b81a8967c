// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gnmi "github.com/STORDIS/orca-nw-lib-sub000"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetDevice_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDevice("10.0.0.1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDevice() error = %v, want ErrNotFound", err)
	}
}

func TestInventoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inv := gnmi.DeviceInventory{
		Interfaces: []string{"Ethernet0", "Ethernet4"},
		PortGroups: []string{"1"},
	}
	if err := s.SetInventory("10.0.0.1", inv); err != nil {
		t.Fatal(err)
	}

	ifaces, err := s.Interfaces(ctx, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ifaces) != 2 || ifaces[0] != "Ethernet0" || ifaces[1] != "Ethernet4" {
		t.Errorf("Interfaces() = %v", ifaces)
	}

	pgs, err := s.PortGroups(ctx, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pgs) != 1 || pgs[0] != "1" {
		t.Errorf("PortGroups() = %v", pgs)
	}

	unknown, err := s.Interfaces(ctx, "10.0.0.99")
	if err != nil || unknown != nil {
		t.Errorf("Interfaces(unknown) = %v, %v; want nil, nil", unknown, err)
	}
}

func TestDeviceStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	status, err := s.DeviceStatus(ctx, "10.0.0.1")
	if err != nil || status != "" {
		t.Errorf("DeviceStatus(unknown) = %q, %v; want empty, nil", status, err)
	}

	if err := s.SetStatus("10.0.0.1", "System is not ready - core services are down"); err != nil {
		t.Fatal(err)
	}

	gate := gnmi.NewReadinessGate(s, nil)
	if err := gate.Check(ctx, "10.0.0.1"); !errors.Is(err, gnmi.ErrDeviceNotReady) {
		t.Errorf("gate.Check() error = %v, want ErrDeviceNotReady", err)
	}

	if err := s.SetStatus("10.0.0.1", "System is ready"); err != nil {
		t.Fatal(err)
	}
	if err := gate.Check(ctx, "10.0.0.1"); err != nil {
		t.Errorf("gate.Check() error = %v, want nil", err)
	}
}

func TestUpdateInterface_MergesFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enabled := true
	mtu := uint64(9100)
	if err := s.UpdateInterface(ctx, "10.0.0.1", gnmi.InterfaceConfig{Name: "Ethernet0", Enabled: &enabled}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateInterface(ctx, "10.0.0.1", gnmi.InterfaceConfig{Name: "Ethernet0", MTU: &mtu}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.GetInterface("10.0.0.1", "Ethernet0")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Enabled == nil || !*rec.Enabled {
		t.Errorf("Enabled = %v, want true kept from first update", rec.Enabled)
	}
	if rec.MTU == nil || *rec.MTU != 9100 {
		t.Errorf("MTU = %v, want 9100", rec.MTU)
	}
	if rec.Device != "10.0.0.1" {
		t.Errorf("Device = %q", rec.Device)
	}

	if err := s.UpdateInterface(ctx, "10.0.0.1", gnmi.InterfaceConfig{}); err == nil {
		t.Error("UpdateInterface() without name: expected error")
	}
}

func TestUpdatePortGroupAndSTPPort(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	speed := "openconfig-if-ethernet:SPEED_25GB"
	if err := s.UpdatePortGroup(ctx, "10.0.0.1", gnmi.PortGroupConfig{ID: "1", Speed: &speed}); err != nil {
		t.Fatal(err)
	}
	pg, err := s.GetPortGroup("10.0.0.1", "1")
	if err != nil {
		t.Fatal(err)
	}
	if pg.Speed == nil || *pg.Speed != speed {
		t.Errorf("Speed = %v, want %s", pg.Speed, speed)
	}

	guard := true
	if err := s.UpdateSTPPort(ctx, "10.0.0.1", gnmi.STPPortConfig{Name: "Ethernet0", BPDUGuard: &guard}); err != nil {
		t.Fatal(err)
	}
	stp, err := s.GetSTPPort("10.0.0.1", "Ethernet0")
	if err != nil {
		t.Fatal(err)
	}
	if stp.BPDUGuard == nil || !*stp.BPDUGuard {
		t.Errorf("BPDUGuard = %v, want true", stp.BPDUGuard)
	}
}

func TestUpdateDeviceState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetInventory("10.0.0.1", gnmi.DeviceInventory{Interfaces: []string{"Ethernet0"}}); err != nil {
		t.Fatal(err)
	}

	host := "leaf1"
	if err := s.UpdateDeviceState(ctx, "10.0.0.1", gnmi.DeviceState{Hostname: &host}); err != nil {
		t.Fatal(err)
	}

	dev, err := s.GetDevice("10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if dev.Hostname != "leaf1" {
		t.Errorf("Hostname = %q, want leaf1", dev.Hostname)
	}
	if len(dev.Interfaces) != 1 {
		t.Errorf("Interfaces = %v, want inventory preserved", dev.Interfaces)
	}
	if dev.LastSeen.IsZero() {
		t.Error("LastSeen not set")
	}
}

func TestListDevices(t *testing.T) {
	s := newTestStore(t)

	for _, ip := range []string{"10.0.0.2", "10.0.0.1"} {
		if err := s.SaveDevice(&Device{Address: ip}); err != nil {
			t.Fatal(err)
		}
	}

	devices, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("len(ListDevices()) = %d, want 2", len(devices))
	}
	if devices[0].Address != "10.0.0.1" {
		t.Errorf("devices[0] = %q, want 10.0.0.1 (key order)", devices[0].Address)
	}
}
