// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
)

// Default subscription manager configuration values
const (
	DefaultUnsubscribeRetries  = 5
	DefaultUnsubscribeInterval = 1 * time.Second
	DefaultSyncAttempts        = 5
	DefaultSyncInterval        = 2 * time.Second
)

// Subscribed path templates. %s is replaced by an escaped list key.
const (
	interfaceConfigPath = "openconfig-interfaces:interfaces/interface[name=%s]/config"
	portGroupConfigPath = "openconfig-port-group:port-groups/port-group[id=%s]/config"
	stpInterfacesPath   = "openconfig-spanning-tree:stp/interfaces/interface"
	systemStatePath     = "openconfig-system:system/state"
)

// Inventory reports what has been discovered on a device so far.
type Inventory interface {
	Interfaces(ctx context.Context, ip string) ([]string, error)
	PortGroups(ctx context.Context, ip string) ([]string, error)
}

// SubscriptionPath is one entry of a subscription list.
type SubscriptionPath struct {
	Path *gnmipb.Path
	Mode gnmipb.SubscriptionMode
}

// SubscriptionSetBuilder builds the subscription list of a device from its
// interface names and port-group ids.
type SubscriptionSetBuilder func(interfaces, portGroups []string) ([]SubscriptionPath, error)

// DefaultSubscriptionSet subscribes to the config of every interface and
// port group (target defined), STP interfaces (on change) and system state
// (target defined).
//
// Returns ErrPreconditionNotMet when neither interfaces nor port groups
// are known yet.
func DefaultSubscriptionSet(interfaces, portGroups []string) ([]SubscriptionPath, error) {
	if len(interfaces) == 0 && len(portGroups) == 0 {
		return nil, fmt.Errorf("%w: no interfaces or port groups discovered", ErrPreconditionNotMet)
	}

	set := make([]SubscriptionPath, 0, len(interfaces)+len(portGroups)+2)
	add := func(p string, mode gnmipb.SubscriptionMode) error {
		path, err := BuildPath(p)
		if err != nil {
			return err
		}
		set = append(set, SubscriptionPath{Path: path, Mode: mode})
		return nil
	}

	for _, name := range interfaces {
		if err := add(fmt.Sprintf(interfaceConfigPath, EscapeKeyValue(name)), gnmipb.SubscriptionMode_TARGET_DEFINED); err != nil {
			return nil, err
		}
	}
	for _, id := range portGroups {
		if err := add(fmt.Sprintf(portGroupConfigPath, EscapeKeyValue(id)), gnmipb.SubscriptionMode_TARGET_DEFINED); err != nil {
			return nil, err
		}
	}
	if err := add(stpInterfacesPath, gnmipb.SubscriptionMode_ON_CHANGE); err != nil {
		return nil, err
	}
	if err := add(systemStatePath, gnmipb.SubscriptionMode_TARGET_DEFINED); err != nil {
		return nil, err
	}
	return set, nil
}

// NewSubscribeRequest builds a STREAM subscription with PROTO encoding
// that only delivers updates after the initial sync.
func NewSubscribeRequest(set []SubscriptionPath) *gnmipb.SubscribeRequest {
	subs := make([]*gnmipb.Subscription, 0, len(set))
	for _, s := range set {
		subs = append(subs, &gnmipb.Subscription{Path: s.Path, Mode: s.Mode})
	}
	return &gnmipb.SubscribeRequest{
		Request: &gnmipb.SubscribeRequest_Subscribe{
			Subscribe: &gnmipb.SubscriptionList{
				Subscription: subs,
				Mode:         gnmipb.SubscriptionList_STREAM,
				Encoding:     wireEncoding(EncodingProto),
				UpdatesOnly:  true,
			},
		},
	}
}

// session is the streaming task of one device.
type session struct {
	ip      string
	stream  *SubscribeStream
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	mu     sync.Mutex
	synced bool

	// err is written once before done is closed
	err error
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *session) isSynced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

// SubscriptionManager owns one streaming subscription per device.
//
// A device never has two streaming tasks at once: Subscribe and
// Unsubscribe on the same IP are serialized, and a forced resubscribe
// waits for the old task to exit before the new stream is opened.
type SubscriptionManager struct {
	client     *Client
	inventory  Inventory
	dispatcher *Dispatcher
	logger     Logger
	buildSet   SubscriptionSetBuilder

	unsubscribeRetries  int
	unsubscribeInterval time.Duration
	syncAttempts        int
	syncInterval        time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	lastErr  map[string]error
	locks    map[string]*deviceLock
}

// deviceLock serialises Subscribe and Unsubscribe of one device. It is
// dropped from the table once nobody holds or waits for it.
type deviceLock struct {
	sync.Mutex
	refs int
}

// NewSubscriptionManager creates a manager streaming through client.
//
// Example:
//
//	dispatcher := gnmi.NewDispatcher(store, gnmi.WithSinks(influx))
//	manager := gnmi.NewSubscriptionManager(client, store, dispatcher)
//	if err := manager.Subscribe(ctx, "10.10.130.11", false); err != nil {
//	    return err
//	}
//	defer manager.UnsubscribeAll(context.Background())
func NewSubscriptionManager(client *Client, inventory Inventory, dispatcher *Dispatcher, opts ...ManagerOption) *SubscriptionManager {
	m := &SubscriptionManager{
		client:              client,
		inventory:           inventory,
		dispatcher:          dispatcher,
		logger:              &NoOpLogger{},
		buildSet:            DefaultSubscriptionSet,
		unsubscribeRetries:  DefaultUnsubscribeRetries,
		unsubscribeInterval: DefaultUnsubscribeInterval,
		syncAttempts:        DefaultSyncAttempts,
		syncInterval:        DefaultSyncInterval,
		sessions:            make(map[string]*session),
		lastErr:             make(map[string]error),
		locks:               make(map[string]*deviceLock),
	}
	if m.dispatcher == nil {
		m.dispatcher = NewDispatcher(nil)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lockDevice takes the lifecycle lock of ip and returns its release.
func (m *SubscriptionManager) lockDevice(ip string) func() {
	m.mu.Lock()
	l, ok := m.locks[ip]
	if !ok {
		l = &deviceLock{}
		m.locks[ip] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, ip)
		}
		m.mu.Unlock()
	}
}

func (m *SubscriptionManager) current(ip string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[ip]
}

// Subscribe starts streaming updates from ip.
//
// Without force, a device that already has a running task is left alone
// and nil is returned. With force, the running task is torn down first.
// The subscription list is built from the inventory; an empty inventory
// yields ErrPreconditionNotMet and no task is started.
//
// The stream is opened before Subscribe returns, so connection and
// readiness errors are returned here. The task itself outlives ctx and
// runs until Unsubscribe or a stream error.
func (m *SubscriptionManager) Subscribe(ctx context.Context, ip string, force bool) error {
	defer m.lockDevice(ip)()

	if force {
		exited, err := m.unsubscribeLocked(ctx, ip)
		if err != nil && !errors.Is(err, ErrNotSubscribed) {
			return err
		}
		if !exited {
			return fmt.Errorf("resubscribe %s: previous subscription task did not exit", ip)
		}
	} else if s := m.current(ip); s != nil && s.alive() {
		m.logger.Debug(ctx, "device already subscribed",
			"device", ip,
			"since", s.started.Format(time.RFC3339))
		return nil
	}

	interfaces, err := m.inventory.Interfaces(ctx, ip)
	if err != nil {
		return fmt.Errorf("subscribe %s: list interfaces: %w", ip, err)
	}
	portGroups, err := m.inventory.PortGroups(ctx, ip)
	if err != nil {
		return fmt.Errorf("subscribe %s: list port groups: %w", ip, err)
	}

	set, err := m.buildSet(interfaces, portGroups)
	if err != nil {
		m.logger.Warn(ctx, "not subscribing",
			"device", ip,
			"error", err.Error())
		return fmt.Errorf("subscribe %s: %w", ip, err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := m.client.Subscribe(streamCtx, ip, NewSubscribeRequest(set))
	if err != nil {
		cancel()
		m.setLastError(ip, err)
		return err
	}

	s := &session{
		ip:      ip,
		stream:  stream,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}

	m.mu.Lock()
	m.sessions[ip] = s
	delete(m.lastErr, ip)
	m.mu.Unlock()

	go m.run(streamCtx, s)

	if !s.alive() {
		return fmt.Errorf("subscribe %s: task exited on start: %w", ip, s.err)
	}

	m.logger.Info(ctx, "device subscribed",
		"device", ip,
		"paths", len(set),
		"generation", stream.Generation())
	return nil
}

// run reads the stream until it fails or is cancelled.
func (m *SubscriptionManager) run(ctx context.Context, s *session) {
	defer close(s.done)
	defer s.stream.Close()

	for {
		resp, err := s.stream.Recv()
		if err != nil {
			m.finish(ctx, s, err)
			return
		}

		switch r := resp.GetResponse().(type) {
		case *gnmipb.SubscribeResponse_SyncResponse:
			m.markSynced(ctx, s)
		case *gnmipb.SubscribeResponse_Update:
			if err := m.dispatcher.Dispatch(ctx, s.ip, r.Update); err != nil {
				m.finish(ctx, s, fmt.Errorf("dispatch: %w", err))
				return
			}
		default:
			m.logger.Debug(ctx, "ignoring subscribe response",
				"device", s.ip,
				"type", fmt.Sprintf("%T", r))
		}
	}
}

// finish records why the task of s ended and drops s from the session
// table if it is still the registered one.
func (m *SubscriptionManager) finish(ctx context.Context, s *session, err error) {
	switch {
	case ctx.Err() != nil || isCanceled(err):
		m.logger.Info(ctx, "subscription stream cancelled",
			"device", s.ip)
		return
	case errors.Is(err, io.EOF):
		err = fmt.Errorf("stream closed by device: %w", err)
		m.logger.Warn(ctx, "subscription stream closed by device",
			"device", s.ip)
	default:
		m.logger.Error(ctx, "subscription task terminated",
			"device", s.ip,
			"error", err.Error())
	}

	s.err = err

	m.mu.Lock()
	if m.sessions[s.ip] == s {
		delete(m.sessions, s.ip)
		m.lastErr[s.ip] = err
	}
	m.mu.Unlock()
}

func (m *SubscriptionManager) markSynced(ctx context.Context, s *session) {
	m.mu.Lock()
	isCurrent := m.sessions[s.ip] == s
	m.mu.Unlock()
	if !isCurrent {
		return
	}

	s.mu.Lock()
	first := !s.synced
	s.synced = true
	s.mu.Unlock()

	if first {
		m.logger.Info(ctx, "sync response received",
			"device", s.ip,
			"after", time.Since(s.started).String())
	}
}

func (m *SubscriptionManager) setLastError(ip string, err error) {
	m.mu.Lock()
	m.lastErr[ip] = err
	m.mu.Unlock()
}

// Unsubscribe cancels the streaming task of ip and waits, polling up to
// the configured number of times, for it to exit. A task that does not
// exit in time is logged, not returned as an error.
//
// Returns ErrNotSubscribed if no task is registered for ip.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context, ip string) error {
	defer m.lockDevice(ip)()

	_, err := m.unsubscribeLocked(ctx, ip)
	return err
}

// unsubscribeLocked reports whether the old task has exited.
func (m *SubscriptionManager) unsubscribeLocked(ctx context.Context, ip string) (bool, error) {
	m.mu.Lock()
	s, ok := m.sessions[ip]
	delete(m.sessions, ip)
	m.mu.Unlock()

	if !ok {
		return true, fmt.Errorf("%w: %s", ErrNotSubscribed, ip)
	}

	s.cancel()
	s.stream.Close()

	for attempt := 1; attempt <= m.unsubscribeRetries; attempt++ {
		if !s.alive() {
			break
		}
		timer := time.NewTimer(m.unsubscribeInterval)
		select {
		case <-s.done:
		case <-timer.C:
			m.logger.Debug(ctx, "waiting for subscription task to exit",
				"device", ip,
				"attempt", attempt)
		case <-ctx.Done():
		}
		timer.Stop()
		if ctx.Err() != nil {
			break
		}
	}

	if s.alive() {
		m.logger.Error(ctx, "subscription task did not exit",
			"device", ip,
			"retries", m.unsubscribeRetries,
			"interval", m.unsubscribeInterval.String())
		return false, nil
	}

	m.logger.Info(ctx, "device unsubscribed",
		"device", ip)
	return true, nil
}

// UnsubscribeAll tears down every subscription concurrently and waits for
// pending handler and sink writes. Devices subscribed while it runs keep
// streaming.
func (m *SubscriptionManager) UnsubscribeAll(ctx context.Context) {
	errs := ForEachDevice(ctx, m.SubscribedDevices(), m.Unsubscribe)
	for ip, err := range errs {
		if err != nil && !errors.Is(err, ErrNotSubscribed) {
			m.logger.Warn(ctx, "unsubscribe failed",
				"device", ip,
				"error", err.Error())
		}
	}
	m.dispatcher.Wait()
}

// SyncResponseReceived reports whether the current subscription of ip has
// delivered its sync response.
func (m *SubscriptionManager) SyncResponseReceived(ip string) bool {
	s := m.current(ip)
	if s != nil && s.isSynced() {
		return true
	}
	m.logger.Debug(context.Background(), "sync response not received yet",
		"device", ip)
	return false
}

// WaitForSync checks for the sync response up to the configured number of
// times, sleeping the configured interval between checks.
func (m *SubscriptionManager) WaitForSync(ctx context.Context, ip string) error {
	for attempt := 1; attempt <= m.syncAttempts; attempt++ {
		s := m.current(ip)
		if s == nil {
			if err := m.LastError(ip); err != nil {
				return fmt.Errorf("wait for sync %s: subscription ended: %w", ip, err)
			}
			return fmt.Errorf("wait for sync: %w: %s", ErrNotSubscribed, ip)
		}
		if s.isSynced() {
			return nil
		}
		if attempt == m.syncAttempts {
			break
		}

		timer := time.NewTimer(m.syncInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	m.logger.Warn(ctx, "sync response not received",
		"device", ip,
		"attempts", m.syncAttempts)
	return fmt.Errorf("no sync response from %s after %d checks", ip, m.syncAttempts)
}

// IsSubscribed reports whether a streaming task is running for ip.
func (m *SubscriptionManager) IsSubscribed(ip string) bool {
	s := m.current(ip)
	return s != nil && s.alive()
}

// SubscribedDevices returns the IPs with a registered task, sorted.
func (m *SubscriptionManager) SubscribedDevices() []string {
	m.mu.Lock()
	ips := make([]string, 0, len(m.sessions))
	for ip := range m.sessions {
		ips = append(ips, ip)
	}
	m.mu.Unlock()

	sort.Strings(ips)
	return ips
}

// LastError returns why the last subscription of ip ended or failed to
// start, or nil.
func (m *SubscriptionManager) LastError(ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr[ip]
}
