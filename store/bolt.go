// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	gnmi "github.com/STORDIS/orca-nw-lib-sub000"
)

var (
	bucketDevices    = []byte("devices")
	bucketInterfaces = []byte("interfaces")
	bucketPortGroups = []byte("port_groups")
	bucketSTPPorts   = []byte("stp_ports")
)

// BoltStore keeps the device cache in a bbolt file.
//
// It is the StatusSource and Inventory the gnmi package reads from and the
// StateWriter subscriptions write into.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

var (
	_ gnmi.StatusSource = (*BoltStore)(nil)
	_ gnmi.Inventory    = (*BoltStore)(nil)
	_ gnmi.StateWriter  = (*BoltStore)(nil)
)

// NewBoltStore opens or creates a bbolt database.
func NewBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketInterfaces, bucketPortGroups, bucketSTPPorts} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func listKey(ip, name string) []byte {
	return []byte(ip + "|" + name)
}

func get[T any](tx *bolt.Tx, bucket, key []byte) (*T, error) {
	b := tx.Bucket(bucket)
	if b == nil {
		return nil, fmt.Errorf("bucket %q not found", bucket)
	}
	data := b.Get(key)
	if data == nil {
		return nil, fmt.Errorf("%s %s: %w", bucket, key, ErrNotFound)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func put(tx *bolt.Tx, bucket, key []byte, v any) error {
	b := tx.Bucket(bucket)
	if b == nil {
		return fmt.Errorf("bucket %q not found", bucket)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// SaveDevice stores dev, replacing any previous record.
func (s *BoltStore) SaveDevice(dev *Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketDevices, []byte(dev.Address), dev)
	})
}

// GetDevice returns the device with address ip.
func (s *BoltStore) GetDevice(ip string) (*Device, error) {
	var dev *Device
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		dev, err = get[Device](tx, bucketDevices, []byte(ip))
		return err
	})
	return dev, err
}

// ListDevices returns every stored device ordered by address bytes.
func (s *BoltStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return nil
		}
		devices = make([]*Device, 0, b.Stats().KeyN)
		return b.ForEach(func(_, v []byte) error {
			var dev Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return err
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	return devices, err
}

// UpdateDevice reads, modifies and saves a device in one transaction,
// creating it if it does not exist yet.
func (s *BoltStore) UpdateDevice(ip string, fn func(dev *Device) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		dev, err := get[Device](tx, bucketDevices, []byte(ip))
		if err != nil {
			dev = &Device{Address: ip}
		}
		if err := fn(dev); err != nil {
			return err
		}
		dev.LastSeen = s.now()
		return put(tx, bucketDevices, []byte(ip), dev)
	})
}

// SetStatus records the device status string read by the readiness gate.
func (s *BoltStore) SetStatus(ip, status string) error {
	return s.UpdateDevice(ip, func(dev *Device) error {
		dev.Status = status
		return nil
	})
}

// SetInventory records the discovered interfaces and port groups of ip.
func (s *BoltStore) SetInventory(ip string, inv gnmi.DeviceInventory) error {
	return s.UpdateDevice(ip, func(dev *Device) error {
		dev.Interfaces = append([]string(nil), inv.Interfaces...)
		dev.PortGroups = append([]string(nil), inv.PortGroups...)
		return nil
	})
}

// DeviceStatus implements gnmi.StatusSource. Unknown devices have an
// empty status.
func (s *BoltStore) DeviceStatus(_ context.Context, ip string) (string, error) {
	dev, err := s.GetDevice(ip)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return dev.Status, nil
}

// Interfaces implements gnmi.Inventory. Unknown devices have no interfaces.
func (s *BoltStore) Interfaces(_ context.Context, ip string) ([]string, error) {
	dev, err := s.GetDevice(ip)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dev.Interfaces, nil
}

// PortGroups implements gnmi.Inventory.
func (s *BoltStore) PortGroups(_ context.Context, ip string) ([]string, error) {
	dev, err := s.GetDevice(ip)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dev.PortGroups, nil
}

// GetInterface returns the mirrored config of one interface.
func (s *BoltStore) GetInterface(ip, name string) (*Interface, error) {
	var rec *Interface
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = get[Interface](tx, bucketInterfaces, listKey(ip, name))
		return err
	})
	return rec, err
}

// GetPortGroup returns the mirrored config of one port group.
func (s *BoltStore) GetPortGroup(ip, id string) (*PortGroup, error) {
	var rec *PortGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = get[PortGroup](tx, bucketPortGroups, listKey(ip, id))
		return err
	})
	return rec, err
}

// GetSTPPort returns the mirrored spanning-tree config of one interface.
func (s *BoltStore) GetSTPPort(ip, name string) (*STPPort, error) {
	var rec *STPPort
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = get[STPPort](tx, bucketSTPPorts, listKey(ip, name))
		return err
	})
	return rec, err
}

// UpdateInterface implements gnmi.StateWriter. Fields absent from cfg keep
// their stored value.
func (s *BoltStore) UpdateInterface(_ context.Context, ip string, cfg gnmi.InterfaceConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("interface update for %s without name", ip)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		key := listKey(ip, cfg.Name)
		rec, err := get[Interface](tx, bucketInterfaces, key)
		if err != nil {
			rec = &Interface{Device: ip, InterfaceConfig: gnmi.InterfaceConfig{Name: cfg.Name}}
		}
		mergePtr(&rec.Enabled, cfg.Enabled)
		mergePtr(&rec.MTU, cfg.MTU)
		mergePtr(&rec.Description, cfg.Description)
		mergePtr(&rec.Speed, cfg.Speed)
		mergePtr(&rec.FEC, cfg.FEC)
		mergePtr(&rec.AutoNeg, cfg.AutoNeg)
		rec.UpdatedAt = s.now()
		return put(tx, bucketInterfaces, key, rec)
	})
}

// UpdatePortGroup implements gnmi.StateWriter.
func (s *BoltStore) UpdatePortGroup(_ context.Context, ip string, cfg gnmi.PortGroupConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("port group update for %s without id", ip)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		key := listKey(ip, cfg.ID)
		rec, err := get[PortGroup](tx, bucketPortGroups, key)
		if err != nil {
			rec = &PortGroup{Device: ip, PortGroupConfig: gnmi.PortGroupConfig{ID: cfg.ID}}
		}
		mergePtr(&rec.Speed, cfg.Speed)
		rec.UpdatedAt = s.now()
		return put(tx, bucketPortGroups, key, rec)
	})
}

// UpdateSTPPort implements gnmi.StateWriter.
func (s *BoltStore) UpdateSTPPort(_ context.Context, ip string, cfg gnmi.STPPortConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("stp port update for %s without name", ip)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		key := listKey(ip, cfg.Name)
		rec, err := get[STPPort](tx, bucketSTPPorts, key)
		if err != nil {
			rec = &STPPort{Device: ip, STPPortConfig: gnmi.STPPortConfig{Name: cfg.Name}}
		}
		mergePtr(&rec.BPDUGuard, cfg.BPDUGuard)
		mergePtr(&rec.BPDUFilter, cfg.BPDUFilter)
		mergePtr(&rec.BPDUGuardPortShutdown, cfg.BPDUGuardPortShutdown)
		mergePtr(&rec.PortFast, cfg.PortFast)
		mergePtr(&rec.UplinkFast, cfg.UplinkFast)
		mergePtr(&rec.Guard, cfg.Guard)
		mergePtr(&rec.EdgePort, cfg.EdgePort)
		mergePtr(&rec.LinkType, cfg.LinkType)
		mergePtr(&rec.Cost, cfg.Cost)
		mergePtr(&rec.Priority, cfg.Priority)
		rec.UpdatedAt = s.now()
		return put(tx, bucketSTPPorts, key, rec)
	})
}

// UpdateDeviceState implements gnmi.StateWriter.
func (s *BoltStore) UpdateDeviceState(_ context.Context, ip string, st gnmi.DeviceState) error {
	return s.UpdateDevice(ip, func(dev *Device) error {
		if st.Hostname != nil {
			dev.Hostname = *st.Hostname
		}
		if st.SoftwareVersion != nil {
			dev.SoftwareVersion = *st.SoftwareVersion
		}
		if st.BootTime != nil {
			dev.BootTime = *st.BootTime
		}
		return nil
	})
}

func mergePtr[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}
