// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package store is the local device cache of the collector: discovered
// inventory, device status and the config mirrored from subscriptions.
package store

import (
	"errors"
	"time"

	gnmi "github.com/STORDIS/orca-nw-lib-sub000"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Device is one managed switch.
type Device struct {
	Address         string    `json:"address"`
	Status          string    `json:"status,omitempty"`
	Hostname        string    `json:"hostname,omitempty"`
	SoftwareVersion string    `json:"software_version,omitempty"`
	BootTime        uint64    `json:"boot_time,omitempty"`
	Interfaces      []string  `json:"interfaces,omitempty"`
	PortGroups      []string  `json:"port_groups,omitempty"`
	LastSeen        time.Time `json:"last_seen"`
}

// Interface is the mirrored config of one interface.
type Interface struct {
	Device string `json:"device"`
	gnmi.InterfaceConfig
	UpdatedAt time.Time `json:"updated_at"`
}

// PortGroup is the mirrored config of one port group.
type PortGroup struct {
	Device string `json:"device"`
	gnmi.PortGroupConfig
	UpdatedAt time.Time `json:"updated_at"`
}

// STPPort is the mirrored spanning-tree config of one interface.
type STPPort struct {
	Device string `json:"device"`
	gnmi.STPPortConfig
	UpdatedAt time.Time `json:"updated_at"`
}
