// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"context"
	"fmt"
	"sync"
)

// ForEachDevice runs fn for every ip concurrently and returns the error of
// each device that failed. One failing device never stops the others.
func ForEachDevice(ctx context.Context, ips []string, fn func(ctx context.Context, ip string) error) map[string]error {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs = make(map[string]error)
	)
	for _, ip := range ips {
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			if err := fn(ctx, ip); err != nil {
				mu.Lock()
				errs[ip] = err
				mu.Unlock()
			}
		}(ip)
	}
	wg.Wait()
	return errs
}

// Configurator applies interface and port-group changes behind the config
// guard, so nothing is written to a device whose subscription is not live.
type Configurator struct {
	client  *Client
	manager *SubscriptionManager
}

// NewConfigurator creates a configurator.
func NewConfigurator(client *Client, manager *SubscriptionManager) *Configurator {
	return &Configurator{client: client, manager: manager}
}

// SetInterfaceEnabled sets the admin state of an interface.
func (c *Configurator) SetInterfaceEnabled(ctx context.Context, ip, name string, enabled bool) error {
	return c.updateInterface(ctx, ip, name, Body{}.Set("openconfig-interfaces:config.enabled", enabled))
}

// SetInterfaceMTU sets the MTU of an interface.
func (c *Configurator) SetInterfaceMTU(ctx context.Context, ip, name string, mtu uint32) error {
	return c.updateInterface(ctx, ip, name, Body{}.Set("openconfig-interfaces:config.mtu", mtu))
}

// SetPortGroupSpeed sets the speed of a port group, e.g. "openconfig-if-ethernet:SPEED_25GB".
func (c *Configurator) SetPortGroupSpeed(ctx context.Context, ip, id, speed string) error {
	body := Body{}.Set("openconfig-port-group:config.speed", speed)
	path := fmt.Sprintf(portGroupConfigPath, EscapeKeyValue(id))
	return c.apply(ctx, ip, path, body)
}

func (c *Configurator) updateInterface(ctx context.Context, ip, name string, body Body) error {
	path := fmt.Sprintf(interfaceConfigPath, EscapeKeyValue(name))
	return c.apply(ctx, ip, path, body)
}

func (c *Configurator) apply(ctx context.Context, ip, path string, body Body) error {
	value, err := body.String()
	if err != nil {
		return err
	}
	return c.manager.WithConfigGuard(ctx, ip, func(ctx context.Context) error {
		_, err := c.client.SetOps(ctx, ip, Update(path, value))
		return err
	})
}
