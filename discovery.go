// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	interfacesPath = "openconfig-interfaces:interfaces"
	portGroupsPath = "openconfig-port-group:port-groups"
)

// DeviceInventory is what DiscoverInventory found on a device.
type DeviceInventory struct {
	Interfaces []string
	PortGroups []string
}

// DiscoverInventory reads the interface names and port-group ids of ip.
//
// Devices without the port-group model answer NotFound; that yields an
// empty port-group list rather than an error.
func DiscoverInventory(ctx context.Context, client *Client, ip string) (DeviceInventory, error) {
	var inv DeviceInventory

	res, err := client.GetPaths(ctx, ip, interfacesPath)
	if err != nil {
		return inv, fmt.Errorf("discover interfaces of %s: %w", ip, err)
	}
	inv.Interfaces = firstNonEmpty(res,
		`openconfig-interfaces:interfaces.interface.#.name`,
		`openconfig-interfaces:interface.#.name`)

	res, err = client.GetPaths(ctx, ip, portGroupsPath)
	switch {
	case err == nil:
		inv.PortGroups = firstNonEmpty(res,
			`openconfig-port-group:port-groups.port-group.#.id`,
			`openconfig-port-group:port-group.#.id`)
	case status.Code(err) == codes.NotFound:
	default:
		return inv, fmt.Errorf("discover port groups of %s: %w", ip, err)
	}

	return inv, nil
}

// firstNonEmpty returns the string values of the first query that matches
// anything. Devices disagree on whether the container is included.
func firstNonEmpty(res GetRes, queries ...string) []string {
	for _, q := range queries {
		r := res.GetValue(q)
		if !r.Exists() {
			continue
		}
		var out []string
		for _, v := range r.Array() {
			if s := v.String(); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
