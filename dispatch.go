// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"github.com/tidwall/gjson"
)

// UpdateKind classifies a streamed update by the root of its path.
type UpdateKind int

const (
	// KindUnknown is any root without a handler; such updates are dropped
	KindUnknown UpdateKind = iota

	// KindInterfaceConfig is openconfig-interfaces interface config
	KindInterfaceConfig

	// KindPortGroupConfig is openconfig-port-group port-group config
	KindPortGroupConfig

	// KindSTPPortConfig is openconfig-spanning-tree per-interface config
	KindSTPPortConfig

	// KindDeviceState is openconfig-system state
	KindDeviceState
)

var kindNames = map[UpdateKind]string{
	KindUnknown:         "unknown",
	KindInterfaceConfig: "interface-config",
	KindPortGroupConfig: "port-group-config",
	KindSTPPortConfig:   "stp-port-config",
	KindDeviceState:     "device-state",
}

// String returns the kind name used in logs and telemetry tags.
func (k UpdateKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("UpdateKind(%d)", int(k))
}

var rootKinds = map[string]UpdateKind{
	"interfaces":  KindInterfaceConfig,
	"port-groups": KindPortGroupConfig,
	"stp":         KindSTPPortConfig,
	"system":      KindDeviceState,
}

// ClassifyPrefix maps the first element of p to an UpdateKind. A module
// prefix on the element name ("openconfig-system:system") is ignored.
func ClassifyPrefix(p *gnmipb.Path) UpdateKind {
	elems := p.GetElem()
	if len(elems) == 0 {
		return KindUnknown
	}
	if k, ok := rootKinds[stripModule(elems[0].GetName())]; ok {
		return k
	}
	return KindUnknown
}

// Leaf is one decoded value of an update.
type Leaf struct {
	// Name is the leaf name without module prefix
	Name string

	// Path is the full path of the value
	Path string

	// Value is the decoded value (string, int64, uint64, bool, float64, []byte, []any or map[string]any)
	Value any
}

// DecodedUpdate is the set of leaves of one notification that belong to the same
// list entry of the same kind.
type DecodedUpdate struct {
	DeviceIP  string
	Kind      UpdateKind
	Key       string
	Prefix    *gnmipb.Path
	Leaves    []Leaf
	Timestamp time.Time
}

// Leaf returns the first leaf named name.
func (u *DecodedUpdate) Leaf(name string) (Leaf, bool) {
	for _, l := range u.Leaves {
		if l.Name == name {
			return l, true
		}
	}
	return Leaf{}, false
}

// InterfaceConfig is the config of one interface. Nil fields were not
// present in the update.
type InterfaceConfig struct {
	Name        string
	Enabled     *bool
	MTU         *uint64
	Description *string
	Speed       *string
	FEC         *string
	AutoNeg     *bool
}

// PortGroupConfig is the config of one port group.
type PortGroupConfig struct {
	ID    string
	Speed *string
}

// STPPortConfig is the spanning-tree config of one interface.
type STPPortConfig struct {
	Name                  string
	BPDUGuard             *bool
	BPDUFilter            *bool
	BPDUGuardPortShutdown *bool
	PortFast              *bool
	UplinkFast            *bool
	Guard                 *string
	EdgePort              *string
	LinkType              *string
	Cost                  *uint64
	Priority              *uint64
}

// DeviceState is the system state of a device.
type DeviceState struct {
	Hostname        *string
	SoftwareVersion *string
	CurrentDatetime *string
	BootTime        *uint64
	Uptime          *uint64
}

// StateWriter persists decoded config and state. Implementations must be
// safe for concurrent use: interface updates arrive on their own goroutines.
type StateWriter interface {
	UpdateInterface(ctx context.Context, ip string, cfg InterfaceConfig) error
	UpdatePortGroup(ctx context.Context, ip string, cfg PortGroupConfig) error
	UpdateSTPPort(ctx context.Context, ip string, cfg STPPortConfig) error
	UpdateDeviceState(ctx context.Context, ip string, st DeviceState) error
}

// TelemetrySink receives every decoded update, whatever its kind.
type TelemetrySink interface {
	WriteUpdate(ctx context.Context, u *DecodedUpdate) error
}

// Dispatcher routes streamed notifications to a StateWriter and to
// telemetry sinks.
type Dispatcher struct {
	writer StateWriter
	sinks  []TelemetrySink
	logger Logger

	// sinkSlots bounds the notifications waiting for the sinks
	sinkSlots chan struct{}
	inflight  tracker
}

// DefaultSinkBacklog is how many notifications may wait for slow sinks
// before further ones are dropped.
const DefaultSinkBacklog = 1024

// NewDispatcher creates a dispatcher writing into writer. A nil writer
// only feeds the sinks.
func NewDispatcher(writer StateWriter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		writer: writer,
		logger: &NoOpLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sinkSlots == nil {
		d.sinkSlots = make(chan struct{}, DefaultSinkBacklog)
	}
	return d
}

// tracker counts running handler goroutines. Unlike sync.WaitGroup it
// allows new work to start while someone is waiting for the count to
// reach zero.
type tracker struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func (t *tracker) init() {
	if t.cond == nil {
		t.cond = sync.NewCond(&t.mu)
	}
}

func (t *tracker) add() {
	t.mu.Lock()
	t.init()
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.init()
	t.n--
	if t.n == 0 {
		t.cond.Broadcast()
	}
	t.mu.Unlock()
}

func (t *tracker) wait() {
	t.mu.Lock()
	t.init()
	for t.n > 0 {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// goTracked runs fn on its own goroutine, counted by Wait.
func (d *Dispatcher) goTracked(fn func()) {
	d.inflight.add()
	go func() {
		defer d.inflight.done()
		fn()
	}()
}

// Dispatch decodes n and hands every update to its handler.
//
// Interface config and the telemetry sinks run on tracked goroutines so a
// slow writer or broker never blocks the stream; the other kinds are
// written inline. A failing handler does not stop the remaining updates of
// the batch; the errors are returned joined once the batch is done.
func (d *Dispatcher) Dispatch(ctx context.Context, ip string, n *gnmipb.Notification) error {
	updates := DecodeNotification(ip, n)
	d.writeSinks(ctx, ip, updates)

	if d.writer == nil {
		return nil
	}

	var errs []error
	for _, u := range updates {
		switch u.Kind {
		case KindInterfaceConfig:
			cfg := parseInterfaceConfig(u)
			d.goTracked(func() {
				if err := d.writer.UpdateInterface(context.WithoutCancel(ctx), ip, cfg); err != nil {
					d.logger.Error(ctx, "interface config handler failed",
						"device", ip,
						"interface", cfg.Name,
						"error", err.Error())
				}
			})
		case KindPortGroupConfig:
			if err := d.writer.UpdatePortGroup(ctx, ip, parsePortGroupConfig(u)); err != nil {
				errs = append(errs, d.handlerFailed(ctx, u, err))
			}
		case KindSTPPortConfig:
			if err := d.writer.UpdateSTPPort(ctx, ip, parseSTPPortConfig(u)); err != nil {
				errs = append(errs, d.handlerFailed(ctx, u, err))
			}
		case KindDeviceState:
			if err := d.writer.UpdateDeviceState(ctx, ip, parseDeviceState(u)); err != nil {
				errs = append(errs, d.handlerFailed(ctx, u, err))
			}
		default:
			d.logger.Debug(ctx, "dropping update with unhandled prefix",
				"device", ip,
				"prefix", PathString(u.Prefix))
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every offloaded handler and sink write has returned.
// Dispatch may keep running for other devices while Wait blocks.
func (d *Dispatcher) Wait() {
	d.inflight.wait()
}

func (d *Dispatcher) handlerFailed(ctx context.Context, u *DecodedUpdate, err error) error {
	d.logger.Error(ctx, "update handler failed",
		"device", u.DeviceIP,
		"kind", u.Kind.String(),
		"key", u.Key,
		"prefix", PathString(u.Prefix),
		"error", err.Error())
	return fmt.Errorf("%s handler for %s: %w", u.Kind, u.Key, err)
}

// writeSinks hands the updates of one notification to the sinks in order.
// When the backlog is full the updates are dropped.
func (d *Dispatcher) writeSinks(ctx context.Context, ip string, updates []*DecodedUpdate) {
	if len(d.sinks) == 0 || len(updates) == 0 {
		return
	}
	select {
	case d.sinkSlots <- struct{}{}:
	default:
		d.logger.Warn(ctx, "telemetry backlog full, dropping updates",
			"device", ip,
			"updates", len(updates))
		return
	}

	sinkCtx := context.WithoutCancel(ctx)
	d.goTracked(func() {
		defer func() { <-d.sinkSlots }()
		for _, u := range updates {
			for _, sink := range d.sinks {
				if err := sink.WriteUpdate(sinkCtx, u); err != nil {
					d.logger.Warn(sinkCtx, "telemetry sink write failed",
						"device", u.DeviceIP,
						"kind", u.Kind.String(),
						"error", err.Error())
				}
			}
		}
	})
}

// DecodeNotification groups the updates of n by kind and list key, in the
// order the groups first appear.
func DecodeNotification(ip string, n *gnmipb.Notification) []*DecodedUpdate {
	ts := time.Unix(0, n.GetTimestamp())
	prefix := n.GetPrefix()

	var (
		out    []*DecodedUpdate
		groups = make(map[string]*DecodedUpdate)
	)
	for _, u := range n.GetUpdate() {
		full := joinPath(prefix, u.GetPath())

		classifyBy := prefix
		if len(prefix.GetElem()) == 0 {
			classifyBy = full
		}
		kind := ClassifyPrefix(classifyBy)
		key := listKey(full)

		id := kind.String() + "\x00" + key
		g, ok := groups[id]
		if !ok {
			g = &DecodedUpdate{
				DeviceIP:  ip,
				Kind:      kind,
				Key:       key,
				Prefix:    classifyBy,
				Timestamp: ts,
			}
			groups[id] = g
			out = append(out, g)
		}
		g.Leaves = append(g.Leaves, decodeLeaves(full, u.GetVal())...)
	}
	return out
}

// decodeLeaves turns one update value into leaves. A JSON object value is
// flattened one level so containers sent as JSON parse like scalar leaves.
func decodeLeaves(full *gnmipb.Path, val *gnmipb.TypedValue) []Leaf {
	p := PathString(full)
	v := typedValueToAny(val)

	if obj, ok := v.(map[string]any); ok {
		names := make([]string, 0, len(obj))
		for k := range obj {
			names = append(names, k)
		}
		sort.Strings(names)

		leaves := make([]Leaf, 0, len(obj))
		for _, k := range names {
			leaves = append(leaves, Leaf{Name: stripModule(k), Path: p + "/" + k, Value: obj[k]})
		}
		return leaves
	}
	return []Leaf{{Name: stripModule(leafName(full)), Path: p, Value: v}}
}

// typedValueToAny converts a TypedValue into a plain Go value.
func typedValueToAny(val *gnmipb.TypedValue) any {
	switch v := val.GetValue().(type) {
	case nil:
		return nil
	case *gnmipb.TypedValue_StringVal:
		return v.StringVal
	case *gnmipb.TypedValue_IntVal:
		return v.IntVal
	case *gnmipb.TypedValue_UintVal:
		return v.UintVal
	case *gnmipb.TypedValue_BoolVal:
		return v.BoolVal
	case *gnmipb.TypedValue_DoubleVal:
		return v.DoubleVal
	case *gnmipb.TypedValue_FloatVal: //nolint:staticcheck // still sent by older agents
		return float64(v.FloatVal)
	case *gnmipb.TypedValue_BytesVal:
		return v.BytesVal
	case *gnmipb.TypedValue_AsciiVal:
		return v.AsciiVal
	case *gnmipb.TypedValue_JsonIetfVal:
		return decodeJSON(v.JsonIetfVal)
	case *gnmipb.TypedValue_JsonVal:
		return decodeJSON(v.JsonVal)
	case *gnmipb.TypedValue_LeaflistVal:
		elems := v.LeaflistVal.GetElement()
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			out = append(out, typedValueToAny(e))
		}
		return out
	default:
		return val.String()
	}
}

func decodeJSON(b []byte) any {
	if !gjson.ValidBytes(b) {
		return string(b)
	}
	return gjson.ParseBytes(b).Value()
}

// listKey returns the key value of the first keyed element of p: "name"
// if present, then "id", then the alphabetically first key.
func listKey(p *gnmipb.Path) string {
	for _, e := range p.GetElem() {
		keys := e.GetKey()
		if len(keys) == 0 {
			continue
		}
		if v, ok := keys["name"]; ok {
			return v
		}
		if v, ok := keys["id"]; ok {
			return v
		}
		names := make([]string, 0, len(keys))
		for k := range keys {
			names = append(names, k)
		}
		sort.Strings(names)
		return keys[names[0]]
	}
	return ""
}

func stripModule(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func parseInterfaceConfig(u *DecodedUpdate) InterfaceConfig {
	cfg := InterfaceConfig{Name: u.Key}
	for _, l := range u.Leaves {
		switch l.Name {
		case "name":
			if s, ok := asString(l.Value); ok && cfg.Name == "" {
				cfg.Name = s
			}
		case "enabled":
			cfg.Enabled = boolPtr(l.Value)
		case "mtu":
			cfg.MTU = uintPtr(l.Value)
		case "description":
			cfg.Description = stringPtr(l.Value)
		case "port-speed":
			cfg.Speed = stringPtr(l.Value)
		case "port-fec":
			cfg.FEC = stringPtr(l.Value)
		case "auto-negotiate":
			cfg.AutoNeg = boolPtr(l.Value)
		}
	}
	return cfg
}

func parsePortGroupConfig(u *DecodedUpdate) PortGroupConfig {
	cfg := PortGroupConfig{ID: u.Key}
	for _, l := range u.Leaves {
		switch l.Name {
		case "id":
			if s, ok := asString(l.Value); ok && cfg.ID == "" {
				cfg.ID = s
			}
		case "speed":
			cfg.Speed = stringPtr(l.Value)
		}
	}
	return cfg
}

func parseSTPPortConfig(u *DecodedUpdate) STPPortConfig {
	cfg := STPPortConfig{Name: u.Key}
	for _, l := range u.Leaves {
		switch l.Name {
		case "name":
			if s, ok := asString(l.Value); ok && cfg.Name == "" {
				cfg.Name = s
			}
		case "bpdu-guard":
			cfg.BPDUGuard = boolPtr(l.Value)
		case "bpdu-filter":
			cfg.BPDUFilter = boolPtr(l.Value)
		case "bpdu-guard-port-shutdown":
			cfg.BPDUGuardPortShutdown = boolPtr(l.Value)
		case "portfast":
			cfg.PortFast = boolPtr(l.Value)
		case "uplink-fast":
			cfg.UplinkFast = boolPtr(l.Value)
		case "guard":
			cfg.Guard = stringPtr(l.Value)
		case "edge-port":
			cfg.EdgePort = stringPtr(l.Value)
		case "link-type":
			cfg.LinkType = stringPtr(l.Value)
		case "cost":
			cfg.Cost = uintPtr(l.Value)
		case "port-priority":
			cfg.Priority = uintPtr(l.Value)
		}
	}
	return cfg
}

func parseDeviceState(u *DecodedUpdate) DeviceState {
	var st DeviceState
	for _, l := range u.Leaves {
		switch l.Name {
		case "hostname":
			st.Hostname = stringPtr(l.Value)
		case "software-version":
			st.SoftwareVersion = stringPtr(l.Value)
		case "current-datetime":
			st.CurrentDatetime = stringPtr(l.Value)
		case "boot-time":
			st.BootTime = uintPtr(l.Value)
		case "up-time":
			st.Uptime = uintPtr(l.Value)
		}
	}
	return st
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(x), true
	}
}

func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(x)
		return b, err == nil
	default:
		return false, false
	}
}

func asUint(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case int64:
		return uint64(x), x >= 0
	case float64:
		return uint64(x), x >= 0 && x == float64(uint64(x))
	case string:
		n, err := strconv.ParseUint(x, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func stringPtr(v any) *string {
	if s, ok := asString(v); ok {
		return &s
	}
	return nil
}

func boolPtr(v any) *bool {
	if b, ok := asBool(v); ok {
		return &b
	}
	return nil
}

func uintPtr(v any) *uint64 {
	if n, ok := asUint(v); ok {
		return &n
	}
	return nil
}
