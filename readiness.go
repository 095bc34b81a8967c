// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"context"
	"fmt"
	"strings"
)

// NotReadyMarker is the status substring a device reports while it is
// booting or its services are still coming up.
const NotReadyMarker = "system is not ready"

// StatusSource looks up the last known status string of a device.
// An empty string means the status is unknown.
type StatusSource interface {
	DeviceStatus(ctx context.Context, ip string) (string, error)
}

// StatusSourceFunc adapts a function to StatusSource.
type StatusSourceFunc func(ctx context.Context, ip string) (string, error)

// DeviceStatus calls f.
func (f StatusSourceFunc) DeviceStatus(ctx context.Context, ip string) (string, error) {
	return f(ctx, ip)
}

// ReadinessGate short-circuits RPCs to devices known to be not ready.
//
// The status is looked up on every call and never cached here. A nil
// gate, or a gate without a source, lets every call through.
type ReadinessGate struct {
	source StatusSource
	logger Logger
}

// NewReadinessGate creates a gate backed by source.
func NewReadinessGate(source StatusSource, logger Logger) *ReadinessGate {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &ReadinessGate{source: source, logger: logger}
}

// Check returns ErrDeviceNotReady if the device's status contains
// NotReadyMarker. Lookup failures are logged and treated as ready.
func (g *ReadinessGate) Check(ctx context.Context, ip string) error {
	if g == nil || g.source == nil {
		return nil
	}

	status, err := g.source.DeviceStatus(ctx, ip)
	if err != nil {
		g.logger.Debug(ctx, "device status lookup failed, assuming ready",
			"device", ip,
			"error", err.Error())
		return nil
	}

	if IsNotReadyStatus(status) {
		g.logger.Warn(ctx, "device is not ready, skipping request",
			"device", ip,
			"status", status)
		return fmt.Errorf("%w: %s: %s", ErrDeviceNotReady, ip, status)
	}
	return nil
}

// IsNotReadyStatus reports whether status contains NotReadyMarker,
// ignoring case.
func IsNotReadyStatus(status string) bool {
	return strings.Contains(strings.ToLower(status), NotReadyMarker)
}
