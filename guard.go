// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"context"
	"fmt"
)

// EnsureReadyForConfig subscribes ip if needed and waits for its sync
// response. Any failure is reported as ErrNotReadyForConfig.
func (m *SubscriptionManager) EnsureReadyForConfig(ctx context.Context, ip string) error {
	if err := m.Subscribe(ctx, ip, false); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotReadyForConfig, ip, err)
	}
	if err := m.WaitForSync(ctx, ip); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotReadyForConfig, ip, err)
	}
	return nil
}

// WithConfigGuard runs fn only once ip is subscribed and synced.
//
// Example:
//
//	err := manager.WithConfigGuard(ctx, ip, func(ctx context.Context) error {
//	    _, err := client.SetOps(ctx, ip, gnmi.Update(path, body))
//	    return err
//	})
func (m *SubscriptionManager) WithConfigGuard(ctx context.Context, ip string, fn func(ctx context.Context) error) error {
	if err := m.EnsureReadyForConfig(ctx, ip); err != nil {
		m.logger.Warn(ctx, "refusing configuration change",
			"device", ip,
			"error", err.Error())
		return err
	}
	return fn(ctx)
}
