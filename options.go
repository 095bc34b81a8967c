// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import "time"

// Configuration options using the functional options pattern

// RegistryOption configures a ChannelRegistry.
type RegistryOption func(*ChannelRegistry)

// WithDefaultEndpoint sets the connection settings used for every device
// without its own entry. Zero fields keep the built-in defaults.
//
// Example:
//
//	registry := gnmi.NewChannelRegistry(
//	    gnmi.WithDefaultEndpoint(gnmi.Endpoint{
//	        Port:     8080,
//	        Username: "admin",
//	        Password: "YourPaSsWoRd",
//	    }))
func WithDefaultEndpoint(ep Endpoint) RegistryOption {
	return func(r *ChannelRegistry) {
		r.defaults = ep.withDefaults(r.defaults)
	}
}

// WithEndpoint registers per-device connection settings. Zero fields fall
// back to the registry defaults when the channel is created.
func WithEndpoint(ep Endpoint) RegistryOption {
	return func(r *ChannelRegistry) {
		if ep.Address != "" {
			r.endpoints[ep.Address] = ep
		}
	}
}

// WithDialer replaces the TLS dialer. Mostly useful for tests and for
// devices reached through a proxy.
func WithDialer(d Dialer) RegistryOption {
	return func(r *ChannelRegistry) {
		if d != nil {
			r.dial = d
		}
	}
}

// WithRegistryLogger configures the registry logger
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *ChannelRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger configures a custom logger for the client
//
// By default, the client uses NoOpLogger which discards all log messages.
//
// Example:
//
//	client := gnmi.NewClient(registry,
//	    gnmi.WithLogger(gnmi.NewDefaultLogger(gnmi.LogLevelInfo)))
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStatusSource enables readiness gating. Every Get, Set and Subscribe
// looks up the device status first and fails with ErrDeviceNotReady,
// without touching the network, while the device reports it is not ready.
func WithStatusSource(source StatusSource) ClientOption {
	return func(c *Client) {
		c.statusSource = source
	}
}

// OperationTimeout sets the fallback timeout for unary RPCs when neither
// the request nor the context carries one (default: endpoint RequestTimeout)
func OperationTimeout(duration time.Duration) ClientOption {
	return func(c *Client) {
		c.operationTimeout = duration
	}
}

// WithPrettyPrintLogs enables/disables JSON pretty printing in debug logs
func WithPrettyPrintLogs(enabled bool) ClientOption {
	return func(c *Client) {
		c.prettyPrintLogs = enabled
	}
}

// ManagerOption configures a SubscriptionManager.
type ManagerOption func(*SubscriptionManager)

// WithManagerLogger configures the subscription manager logger
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *SubscriptionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// UnsubscribeRetries sets how many times Unsubscribe polls for the
// streaming task to exit (default: 5)
func UnsubscribeRetries(retries int) ManagerOption {
	return func(m *SubscriptionManager) {
		if retries > 0 {
			m.unsubscribeRetries = retries
		}
	}
}

// UnsubscribeInterval sets the sleep between exit polls (default: 1s)
func UnsubscribeInterval(interval time.Duration) ManagerOption {
	return func(m *SubscriptionManager) {
		if interval > 0 {
			m.unsubscribeInterval = interval
		}
	}
}

// SyncAttempts sets how many times WaitForSync checks the sync flag (default: 5)
func SyncAttempts(attempts int) ManagerOption {
	return func(m *SubscriptionManager) {
		if attempts > 0 {
			m.syncAttempts = attempts
		}
	}
}

// SyncInterval sets the sleep between sync checks (default: 2s)
func SyncInterval(interval time.Duration) ManagerOption {
	return func(m *SubscriptionManager) {
		if interval > 0 {
			m.syncInterval = interval
		}
	}
}

// WithSubscriptionSet replaces the function that builds the per-device
// subscription list.
func WithSubscriptionSet(build SubscriptionSetBuilder) ManagerOption {
	return func(m *SubscriptionManager) {
		if build != nil {
			m.buildSet = build
		}
	}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSinks adds telemetry sinks that receive every decoded update.
func WithSinks(sinks ...TelemetrySink) DispatcherOption {
	return func(d *Dispatcher) {
		for _, s := range sinks {
			if s != nil {
				d.sinks = append(d.sinks, s)
			}
		}
	}
}

// WithSinkBacklog sets how many notifications may wait for the sinks before
// new ones are dropped (default: DefaultSinkBacklog)
func WithSinkBacklog(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sinkSlots = make(chan struct{}, n)
		}
	}
}

// WithDispatchLogger configures the dispatcher logger
func WithDispatchLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}
