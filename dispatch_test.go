// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
)

func TestClassifyPrefix(t *testing.T) {
	tests := []struct {
		path string
		want UpdateKind
	}{
		{"openconfig-interfaces:interfaces/interface[name=Ethernet0]/config", KindInterfaceConfig},
		{"interfaces/interface[name=Ethernet0]", KindInterfaceConfig},
		{"openconfig-port-group:port-groups/port-group[id=1]/config", KindPortGroupConfig},
		{"openconfig-spanning-tree:stp/interfaces/interface[name=Ethernet0]", KindSTPPortConfig},
		{"openconfig-system:system/state", KindDeviceState},
		{"openconfig-lldp:lldp/interfaces", KindUnknown},
		{"", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ClassifyPrefix(MustBuildPath(tt.path)); got != tt.want {
				t.Errorf("ClassifyPrefix(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestClassifyPrefix_ModuleOnElement(t *testing.T) {
	p := &gnmipb.Path{Elem: []*gnmipb.PathElem{{Name: "openconfig-system:system"}}}
	if got := ClassifyPrefix(p); got != KindDeviceState {
		t.Errorf("ClassifyPrefix() = %v, want %v", got, KindDeviceState)
	}
}

func TestUpdateKind_String(t *testing.T) {
	if KindPortGroupConfig.String() != "port-group-config" {
		t.Errorf("String() = %q", KindPortGroupConfig.String())
	}
	if UpdateKind(99).String() != "UpdateKind(99)" {
		t.Errorf("String() = %q", UpdateKind(99).String())
	}
}

func TestDecodeNotification_GroupsByKey(t *testing.T) {
	n := &gnmipb.Notification{
		Timestamp: 1700000000000000000,
		Prefix:    MustBuildPath("openconfig-spanning-tree:stp/interfaces"),
		Update: []*gnmipb.Update{
			{
				Path: MustBuildPath("interface[name=Ethernet0]/config/bpdu-guard"),
				Val:  &gnmipb.TypedValue{Value: &gnmipb.TypedValue_BoolVal{BoolVal: true}},
			},
			{
				Path: MustBuildPath("interface[name=Ethernet4]/config/portfast"),
				Val:  &gnmipb.TypedValue{Value: &gnmipb.TypedValue_BoolVal{BoolVal: false}},
			},
			{
				Path: MustBuildPath("interface[name=Ethernet0]/config/cost"),
				Val:  &gnmipb.TypedValue{Value: &gnmipb.TypedValue_UintVal{UintVal: 200}},
			},
		},
	}

	updates := DecodeNotification("10.0.0.1", n)
	if len(updates) != 2 {
		t.Fatalf("len(updates) = %d, want 2", len(updates))
	}

	first := updates[0]
	if first.Kind != KindSTPPortConfig || first.Key != "Ethernet0" || first.DeviceIP != "10.0.0.1" {
		t.Errorf("updates[0] = %+v", first)
	}
	if len(first.Leaves) != 2 {
		t.Errorf("updates[0] leaves = %d, want 2", len(first.Leaves))
	}
	if l, ok := first.Leaf("cost"); !ok || l.Value != uint64(200) {
		t.Errorf("Leaf(cost) = %+v, %v", l, ok)
	}
	if _, ok := first.Leaf("missing"); ok {
		t.Error("Leaf(missing) found")
	}
	if !first.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Timestamp = %v", first.Timestamp)
	}
	if updates[1].Key != "Ethernet4" {
		t.Errorf("updates[1].Key = %q", updates[1].Key)
	}

	cfg := parseSTPPortConfig(first)
	if cfg.Name != "Ethernet0" || cfg.BPDUGuard == nil || !*cfg.BPDUGuard || cfg.Cost == nil || *cfg.Cost != 200 {
		t.Errorf("parseSTPPortConfig() = %+v", cfg)
	}
}

func TestDecodeNotification_JSONContainer(t *testing.T) {
	n := &gnmipb.Notification{
		Prefix: MustBuildPath("openconfig-interfaces:interfaces/interface[name=Ethernet8]"),
		Update: []*gnmipb.Update{{
			Path: MustBuildPath("config"),
			Val: &gnmipb.TypedValue{Value: &gnmipb.TypedValue_JsonIetfVal{JsonIetfVal: []byte(
				`{"openconfig-interfaces:enabled":true,"mtu":9100,"description":"uplink","openconfig-if-ethernet-ext2:port-fec":"FEC_RS"}`,
			)}},
		}},
	}

	updates := DecodeNotification("10.0.0.1", n)
	if len(updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(updates))
	}

	cfg := parseInterfaceConfig(updates[0])
	if cfg.Name != "Ethernet8" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Enabled == nil || !*cfg.Enabled {
		t.Errorf("Enabled = %v", cfg.Enabled)
	}
	if cfg.MTU == nil || *cfg.MTU != 9100 {
		t.Errorf("MTU = %v", cfg.MTU)
	}
	if cfg.Description == nil || *cfg.Description != "uplink" {
		t.Errorf("Description = %v", cfg.Description)
	}
	if cfg.FEC == nil || *cfg.FEC != "FEC_RS" {
		t.Errorf("FEC = %v", cfg.FEC)
	}
	if cfg.Speed != nil {
		t.Errorf("Speed = %v, want nil (absent)", *cfg.Speed)
	}
}

func TestDecodeNotification_NoPrefix(t *testing.T) {
	n := &gnmipb.Notification{
		Update: []*gnmipb.Update{{
			Path: MustBuildPath("openconfig-system:system/state/hostname"),
			Val:  &gnmipb.TypedValue{Value: &gnmipb.TypedValue_StringVal{StringVal: "leaf1"}},
		}},
	}

	updates := DecodeNotification("10.0.0.1", n)
	if len(updates) != 1 || updates[0].Kind != KindDeviceState {
		t.Fatalf("updates = %+v", updates)
	}
	st := parseDeviceState(updates[0])
	if st.Hostname == nil || *st.Hostname != "leaf1" {
		t.Errorf("Hostname = %v", st.Hostname)
	}
}

func TestTypedValueToAny(t *testing.T) {
	tests := []struct {
		name string
		in   *gnmipb.TypedValue
		want any
	}{
		{"string", &gnmipb.TypedValue{Value: &gnmipb.TypedValue_StringVal{StringVal: "up"}}, "up"},
		{"int", &gnmipb.TypedValue{Value: &gnmipb.TypedValue_IntVal{IntVal: -1}}, int64(-1)},
		{"uint", &gnmipb.TypedValue{Value: &gnmipb.TypedValue_UintVal{UintVal: 7}}, uint64(7)},
		{"bool", &gnmipb.TypedValue{Value: &gnmipb.TypedValue_BoolVal{BoolVal: true}}, true},
		{"double", &gnmipb.TypedValue{Value: &gnmipb.TypedValue_DoubleVal{DoubleVal: 1.5}}, 1.5},
		{"ascii", &gnmipb.TypedValue{Value: &gnmipb.TypedValue_AsciiVal{AsciiVal: "a"}}, "a"},
		{"json scalar", &gnmipb.TypedValue{Value: &gnmipb.TypedValue_JsonVal{JsonVal: []byte(`"x"`)}}, "x"},
		{"invalid json", &gnmipb.TypedValue{Value: &gnmipb.TypedValue_JsonIetfVal{JsonIetfVal: []byte(`{`)}}, "{"},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := typedValueToAny(tt.in); got != tt.want {
				t.Errorf("typedValueToAny() = %#v, want %#v", got, tt.want)
			}
		})
	}

	leaflist := &gnmipb.TypedValue{Value: &gnmipb.TypedValue_LeaflistVal{LeaflistVal: &gnmipb.ScalarArray{
		Element: []*gnmipb.TypedValue{
			{Value: &gnmipb.TypedValue_StringVal{StringVal: "a"}},
			{Value: &gnmipb.TypedValue_UintVal{UintVal: 2}},
		},
	}}}
	got, ok := typedValueToAny(leaflist).([]any)
	if !ok || len(got) != 2 || got[0] != "a" || got[1] != uint64(2) {
		t.Errorf("leaflist = %#v", got)
	}
}

func TestAsUint(t *testing.T) {
	tests := []struct {
		in   any
		want uint64
		ok   bool
	}{
		{uint64(5), 5, true},
		{int64(5), 5, true},
		{int64(-5), 0, false},
		{float64(9100), 9100, true},
		{1.5, 0, false},
		{"42", 42, true},
		{"x", 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := asUint(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("asUint(%#v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

type recordingSink struct {
	mu      sync.Mutex
	updates []*DecodedUpdate
	err     error
	block   chan struct{}
}

func (s *recordingSink) WriteUpdate(_ context.Context, u *DecodedUpdate) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return s.err
}

func (s *recordingSink) kinds() []UpdateKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UpdateKind, 0, len(s.updates))
	for _, u := range s.updates {
		out = append(out, u.Kind)
	}
	return out
}

func mixedNotification() *gnmipb.Notification {
	return &gnmipb.Notification{
		Update: []*gnmipb.Update{
			{
				Path: MustBuildPath("openconfig-port-group:port-groups/port-group[id=1]/config/speed"),
				Val:  &gnmipb.TypedValue{Value: &gnmipb.TypedValue_StringVal{StringVal: "SPEED_25GB"}},
			},
			{
				Path: MustBuildPath("openconfig-system:system/state/hostname"),
				Val:  &gnmipb.TypedValue{Value: &gnmipb.TypedValue_StringVal{StringVal: "leaf1"}},
			},
			{
				Path: MustBuildPath("openconfig-lldp:lldp/state/enabled"),
				Val:  &gnmipb.TypedValue{Value: &gnmipb.TypedValue_BoolVal{BoolVal: true}},
			},
		},
	}
}

func TestDispatch_RoutesByKind(t *testing.T) {
	w := &recordingWriter{}
	sink := &recordingSink{}
	d := NewDispatcher(w, WithSinks(sink))

	if err := d.Dispatch(context.Background(), "10.0.0.1", mixedNotification()); err != nil {
		t.Fatal(err)
	}
	d.Wait()

	ifaces, pgs, stp, states := w.counts()
	if ifaces != 0 || pgs != 1 || stp != 0 || states != 1 {
		t.Errorf("writes = %d/%d/%d/%d, want 0/1/0/1", ifaces, pgs, stp, states)
	}
	if w.portGroups[0].ID != "1" || w.portGroups[0].Speed == nil || *w.portGroups[0].Speed != "SPEED_25GB" {
		t.Errorf("port group write = %+v", w.portGroups[0])
	}
	if got := len(sink.kinds()); got != 3 {
		t.Errorf("sink updates = %d, want 3 (unknown kinds included)", got)
	}
}

func TestDispatch_HandlerErrorIsolated(t *testing.T) {
	w := &recordingWriter{portGroupErr: errors.New("disk full")}
	logger := &mockLogger{}
	d := NewDispatcher(w, WithDispatchLogger(logger))

	err := d.Dispatch(context.Background(), "10.0.0.1", mixedNotification())
	if err == nil {
		t.Fatal("expected handler error")
	}

	_, _, _, states := w.counts()
	if states != 1 {
		t.Errorf("device state writes = %d, want 1 despite earlier failure", states)
	}
	if logger.errors() != 1 {
		t.Errorf("error logs = %d, want 1", logger.errors())
	}
}

func TestDispatch_InterfaceConfigOffloaded(t *testing.T) {
	w := &recordingWriter{block: make(chan struct{})}
	d := NewDispatcher(w)

	n := &gnmipb.Notification{
		Prefix: MustBuildPath("openconfig-interfaces:interfaces/interface[name=Ethernet0]/config"),
		Update: []*gnmipb.Update{{
			Path: MustBuildPath("enabled"),
			Val:  &gnmipb.TypedValue{Value: &gnmipb.TypedValue_BoolVal{BoolVal: false}},
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Dispatch(ctx, "10.0.0.1", n) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a slow interface handler")
	}

	// The handler survives cancellation of the dispatch context.
	cancel()
	close(w.block)
	d.Wait()

	ifaces, _, _, _ := w.counts()
	if ifaces != 1 {
		t.Fatalf("interface writes = %d, want 1", ifaces)
	}
	if w.interfaces[0].Enabled == nil || *w.interfaces[0].Enabled {
		t.Errorf("Enabled = %v, want false", w.interfaces[0].Enabled)
	}
}

func TestDispatch_SinkErrorDoesNotFail(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	logger := &mockLogger{}
	d := NewDispatcher(nil, WithSinks(sink), WithDispatchLogger(logger))

	if err := d.Dispatch(context.Background(), "10.0.0.1", mixedNotification()); err != nil {
		t.Errorf("Dispatch() error = %v, want nil", err)
	}
	d.Wait()

	if got := len(sink.kinds()); got != 3 {
		t.Errorf("sink updates = %d, want 3", got)
	}
	if logger.warns() != 3 {
		t.Errorf("warn logs = %d, want 3", logger.warns())
	}
}

func TestDispatch_SlowSinkDoesNotBlock(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	w := &recordingWriter{}
	d := NewDispatcher(w, WithSinks(sink))

	done := make(chan error, 1)
	go func() { done <- d.Dispatch(context.Background(), "10.0.0.1", mixedNotification()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a slow sink")
	}

	// State writes are not held back by the sink.
	if _, pgs, _, states := w.counts(); pgs != 1 || states != 1 {
		t.Errorf("writes = %d port groups, %d states; want 1, 1", pgs, states)
	}

	close(sink.block)
	d.Wait()

	want := []UpdateKind{KindPortGroupConfig, KindDeviceState, KindUnknown}
	got := sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("sink updates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sink update %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDispatch_SinkBacklogFullDrops(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	logger := &mockLogger{}
	d := NewDispatcher(nil, WithSinks(sink), WithSinkBacklog(1), WithDispatchLogger(logger))

	ctx := context.Background()
	if err := d.Dispatch(ctx, "10.0.0.1", mixedNotification()); err != nil {
		t.Fatal(err)
	}
	if err := d.Dispatch(ctx, "10.0.0.1", mixedNotification()); err != nil {
		t.Fatal(err)
	}
	if logger.warns() != 1 {
		t.Errorf("warn logs = %d, want 1 for the dropped batch", logger.warns())
	}

	close(sink.block)
	d.Wait()

	if got := len(sink.kinds()); got != 3 {
		t.Errorf("sink updates = %d, want 3 from the first batch only", got)
	}
}

func TestDispatcher_WaitWhileDispatching(t *testing.T) {
	w := &recordingWriter{}
	sink := &recordingSink{}
	d := NewDispatcher(w, WithSinks(sink))

	n := &gnmipb.Notification{
		Prefix: MustBuildPath("openconfig-interfaces:interfaces/interface[name=Ethernet0]/config"),
		Update: []*gnmipb.Update{{
			Path: MustBuildPath("mtu"),
			Val:  &gnmipb.TypedValue{Value: &gnmipb.TypedValue_UintVal{UintVal: 9100}},
		}},
	}

	const rounds = 100
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < rounds; i++ {
			if err := d.Dispatch(context.Background(), "10.0.0.2", n); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	// Wait may run while another device keeps dispatching.
	for {
		d.Wait()
		select {
		case <-finished:
			d.Wait()
			if ifaces, _, _, _ := w.counts(); ifaces != rounds {
				t.Errorf("interface writes = %d, want %d", ifaces, rounds)
			}
			if got := len(sink.kinds()); got != rounds {
				t.Errorf("sink updates = %d, want %d", got, rounds)
			}
			return
		default:
		}
	}
}
