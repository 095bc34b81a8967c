// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package gnmi manages gNMI sessions and streaming subscriptions for a
// fleet of OpenConfig switches.
//
// One ChannelRegistry holds a TLS channel per device IP. A Client issues
// Get, Set, Subscribe and Capabilities on top of it; a SubscriptionManager
// keeps one long-lived stream per device and hands every notification to
// a Dispatcher, which decodes it and writes it to a StateWriter and to
// telemetry sinks.
//
// # Quick Start
//
//	registry := gnmi.NewChannelRegistry(gnmi.WithDefaultEndpoint(gnmi.Endpoint{
//	    Username: "admin",
//	    Password: "YourPaSsWoRd",
//	}))
//	defer registry.InvalidateAll()
//
//	client := gnmi.NewClient(registry, gnmi.WithStatusSource(store))
//	res, err := client.GetPaths(ctx, "10.10.130.11", "openconfig-system:system/state")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.GetValue("openconfig-system:state.hostname").String())
//
// # Paths
//
// Paths are written as slash-separated strings with bracketed key filters.
// A module prefix on the first element becomes the path origin. Escape key
// values that may contain "/" or brackets with EscapeKeyValue:
//
//	p, err := gnmi.BuildPath(fmt.Sprintf(
//	    "openconfig-interfaces:interfaces/interface[name=%s]/config",
//	    gnmi.EscapeKeyValue("Eth1/1")))
//
// # Error Handling
//
// A device that answers Unavailable has its channel rebuilt and the RPC
// re-sent once. A second Unavailable is reported as ErrDeviceUnreachable.
// Other errors are returned as *GnmiError; use errors.Is with the package
// sentinels:
//
//	if errors.Is(err, gnmi.ErrDeviceNotReady) {
//	    // device is booting, try later
//	}
//
// # Subscriptions
//
//	manager := gnmi.NewSubscriptionManager(client, store, gnmi.NewDispatcher(store))
//	if err := manager.Subscribe(ctx, ip, false); err != nil {
//	    return err
//	}
//	if err := manager.WaitForSync(ctx, ip); err != nil {
//	    return err
//	}
//
// Configuration changes should go through WithConfigGuard (or the
// Configurator) so nothing is written to a device without a live,
// synced subscription.
//
// # References
//
//   - gNMI Specification: https://github.com/openconfig/reference/blob/master/rpc/gnmi/gnmi-specification.md
//   - gNMI Protocol: https://github.com/openconfig/gnmi/blob/master/proto/gnmi/gnmi.proto
//   - gjson: https://github.com/tidwall/gjson
//   - sjson: https://github.com/tidwall/sjson
//   - gnmic: https://github.com/openconfig/gnmic
package gnmi
