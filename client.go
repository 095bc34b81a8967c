// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"github.com/tidwall/gjson"
	"google.golang.org/protobuf/encoding/prototext"
)

// maxResend is the number of times an RPC is re-sent after the channel was
// rebuilt because the device reported Unavailable.
const maxResend = 1

// Security limits for JSON processing and logging
const (
	MaxJSONSizeForLogging = 1 * 1024 * 1024 // 1MB limit to prevent ReDoS attacks
	MaxSensitiveFields    = 1000            // Max redaction operations to prevent DoS
)

// Logging message constants
const (
	JSONTooLargeMessage     = "[JSON TOO LARGE FOR LOGGING]"
	JSONTooManySensitiveMsg = "[JSON CONTAINS TOO MANY SENSITIVE FIELDS]"
)

// defaultRedactionPatterns contains regex patterns for redacting sensitive data in logs
var defaultRedactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"password"\s*:\s*"[^"]*"`),
	regexp.MustCompile(`"secret"\s*:\s*"[^"]*"`),
	regexp.MustCompile(`"key"\s*:\s*"[^"]*"`),
	regexp.MustCompile(`"community"\s*:\s*"[^"]*"`),
	regexp.MustCompile(`"token"\s*:\s*"[^"]*"`),
	regexp.MustCompile(`"auth"\s*:\s*"[^"]*"`),
}

var redactionReplacements = []string{
	`"password":"[REDACTED]"`,
	`"secret":"[REDACTED]"`,
	`"key":"[REDACTED]"`,
	`"community":"[REDACTED]"`,
	`"token":"[REDACTED]"`,
	`"auth":"[REDACTED]"`,
}

// Client issues gNMI RPCs against any device known to a ChannelRegistry.
//
// The client holds no per-device state of its own; channels live in the
// registry so that discovery, configuration and subscriptions share them.
// Every RPC goes through the readiness gate first and is re-sent at most
// once, on a freshly dialled channel, when the device answers Unavailable.
type Client struct {
	registry *ChannelRegistry
	gate     *ReadinessGate

	statusSource     StatusSource
	operationTimeout time.Duration

	logger          Logger
	prettyPrintLogs bool
}

// NewClient creates a client on top of registry.
//
// Example:
//
//	registry := gnmi.NewChannelRegistry(gnmi.WithDefaultEndpoint(gnmi.Endpoint{
//	    Username: "admin",
//	    Password: "YourPaSsWoRd",
//	}))
//	client := gnmi.NewClient(registry,
//	    gnmi.WithLogger(gnmi.NewDefaultLogger(gnmi.LogLevelInfo)),
//	    gnmi.WithStatusSource(store))
//
//	res, err := client.GetPaths(ctx, "10.10.130.11", "openconfig-system:system/state")
func NewClient(registry *ChannelRegistry, opts ...ClientOption) *Client {
	c := &Client{
		registry: registry,
		logger:   &NoOpLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.gate = NewReadinessGate(c.statusSource, c.logger)
	return c
}

// Registry returns the channel registry the client dials through.
func (c *Client) Registry() *ChannelRegistry {
	return c.registry
}

// invoke runs call on the device's channel under the single-resend policy.
//
// On success the channel is returned still holding the reference taken
// for the call; the caller must Release it. On failure the reference has
// already been returned. The int result is the number of re-sends made.
func (c *Client) invoke(ctx context.Context, operation, ip string, call func(ch *Channel) error) (*Channel, int, error) {
	if err := checkContextCancellation(ctx); err != nil {
		return nil, 0, err
	}
	if err := c.gate.Check(ctx, ip); err != nil {
		return nil, 0, err
	}

	var lastErr error
	for attempt := 0; attempt <= maxResend; attempt++ {
		if attempt > 0 {
			if err := checkContextCancellation(ctx); err != nil {
				return nil, attempt, err
			}
		}

		ch, err := c.registry.GetOrCreate(ctx, ip)
		if err != nil {
			return nil, attempt, err
		}

		err = call(ch)
		if err == nil {
			return ch, attempt, nil
		}

		if !isUnavailable(err) {
			ch.Release()
			return nil, attempt, err
		}

		lastErr = err
		c.registry.invalidateChannel(ip, ch)
		ch.Release()

		if attempt < maxResend {
			c.logger.Warn(ctx, "device unavailable, rebuilding channel and re-sending",
				"operation", operation,
				"device", ip,
				"generation", ch.Generation,
				"error", err.Error())
		}
	}

	return nil, maxResend, fmt.Errorf("%w: %w", ErrDeviceUnreachable, lastErr)
}

// fail logs a failed operation and wraps it in a GnmiError.
func (c *Client) fail(ctx context.Context, operation, ip string, retries int, err error) *GnmiError {
	if errors.Is(err, ErrDeviceNotReady) || isCanceled(err) {
		c.logger.Debug(ctx, "gNMI operation skipped",
			"operation", operation,
			"device", ip,
			"error", err.Error())
	} else {
		c.logger.Error(ctx, "gNMI operation failed",
			"operation", operation,
			"device", ip,
			"retries", retries,
			"error", err.Error())
	}
	return &GnmiError{
		Operation: operation,
		Target:    ip,
		Errors:    extractErrorDetails(err),
		Message:   err.Error(),
		Retries:   retries,
		Err:       err,
	}
}

// Get retrieves all data under paths and merges the JSON values of every
// update into one map. Top-level keys of later updates overwrite earlier
// ones. An empty response yields an empty, non-nil map.
//
// Example:
//
//	paths := []*gnmipb.Path{gnmi.MustBuildPath("openconfig-interfaces:interfaces")}
//	res, err := client.Get(ctx, "10.10.130.11", paths, gnmi.Timeout(30*time.Second))
//	if err != nil {
//	    return err
//	}
//	names := res.GetValue(`openconfig-interfaces:interface.#.name`)
func (c *Client) Get(ctx context.Context, ip string, paths []*gnmipb.Path, mods ...func(*Req)) (GetRes, error) {
	req := &Req{}
	for _, mod := range mods {
		mod(req)
	}

	getReq, err := NewGetRequest(paths)
	if err != nil {
		return GetRes{Errors: []ErrorModel{{Message: err.Error()}}}, fmt.Errorf("get: %w", err)
	}

	c.logger.Debug(ctx, "gNMI Get request",
		"device", ip,
		"paths", len(paths),
		"request", prototext.Format(getReq))

	var resp *gnmipb.GetResponse
	ch, retries, err := c.invoke(ctx, "get", ip, func(ch *Channel) error {
		attemptCtx, cancel := c.createAttemptContext(ctx, ch, req)
		defer cancel()

		r, err := ch.Stub.Get(attemptCtx, getReq)
		resp = r
		return err
	})
	if err != nil {
		gerr := c.fail(ctx, "get", ip, retries, err)
		return GetRes{Errors: gerr.Errors}, gerr
	}
	ch.Release()

	data, err := mergeNotifications(resp.GetNotification())
	if err != nil {
		c.logger.Error(ctx, "gNMI Get response decode failed",
			"device", ip,
			"error", err.Error())
		gerr := &GnmiError{Operation: "get", Target: ip, Message: err.Error(), Err: err}
		return GetRes{Notifications: resp.GetNotification(), Errors: []ErrorModel{{Message: err.Error()}}}, gerr
	}

	c.logger.Debug(ctx, "gNMI Get response",
		"device", ip,
		"notifications", len(resp.GetNotification()),
		"keys", len(data))

	return GetRes{
		Data:          data,
		Notifications: resp.GetNotification(),
		Timestamp:     time.Now().UnixNano(),
		OK:            true,
	}, nil
}

// GetPaths is Get with string paths parsed by BuildPath.
func (c *Client) GetPaths(ctx context.Context, ip string, paths ...string) (GetRes, error) {
	built := make([]*gnmipb.Path, 0, len(paths))
	for _, p := range paths {
		bp, err := BuildPath(p)
		if err != nil {
			return GetRes{Errors: []ErrorModel{{Message: err.Error()}}}, fmt.Errorf("get: %w", err)
		}
		built = append(built, bp)
	}
	return c.Get(ctx, ip, built)
}

// Set applies req to the device.
func (c *Client) Set(ctx context.Context, ip string, req *gnmipb.SetRequest, mods ...func(*Req)) (SetRes, error) {
	if req == nil {
		return SetRes{}, fmt.Errorf("set: request cannot be nil")
	}

	r := &Req{}
	for _, mod := range mods {
		mod(r)
	}

	if c.shouldLogDebug() {
		for i, u := range append(append([]*gnmipb.Update{}, req.GetUpdate()...), req.GetReplace()...) {
			c.logger.Debug(ctx, "gNMI Set update",
				"device", ip,
				"index", i,
				"path", PathString(joinPath(req.GetPrefix(), u.GetPath())),
				"value", c.prepareJSONForLogging(string(jsonBytes(u.GetVal()))))
		}
	}

	var resp *gnmipb.SetResponse
	ch, retries, err := c.invoke(ctx, "set", ip, func(ch *Channel) error {
		attemptCtx, cancel := c.createAttemptContext(ctx, ch, r)
		defer cancel()

		res, err := ch.Stub.Set(attemptCtx, req)
		resp = res
		return err
	})
	if err != nil {
		gerr := c.fail(ctx, "set", ip, retries, err)
		return SetRes{Errors: gerr.Errors}, gerr
	}
	ch.Release()

	c.logger.Info(ctx, "gNMI Set applied",
		"device", ip,
		"updates", len(req.GetUpdate()),
		"replaces", len(req.GetReplace()),
		"deletes", len(req.GetDelete()),
		"retries", retries)

	return SetRes{
		Response:  resp,
		Timestamp: time.Now().UnixNano(),
		OK:        true,
	}, nil
}

// SetOps builds a SetRequest from ops and applies it.
//
// Example:
//
//	body, _ := gnmi.Body{}.Set("openconfig-interfaces:config.enabled", true).String()
//	_, err := client.SetOps(ctx, ip,
//	    gnmi.Update("openconfig-interfaces:interfaces/interface[name=Ethernet0]/config", body))
func (c *Client) SetOps(ctx context.Context, ip string, ops ...SetOperation) (SetRes, error) {
	req, err := NewSetRequest(ops...)
	if err != nil {
		return SetRes{Errors: []ErrorModel{{Message: err.Error()}}}, fmt.Errorf("set: %w", err)
	}
	return c.Set(ctx, ip, req)
}

// Capabilities returns the device's supported models and encodings.
func (c *Client) Capabilities(ctx context.Context, ip string) (CapabilitiesRes, error) {
	var resp *gnmipb.CapabilityResponse
	ch, retries, err := c.invoke(ctx, "capabilities", ip, func(ch *Channel) error {
		attemptCtx, cancel := c.createAttemptContext(ctx, ch, &Req{})
		defer cancel()

		r, err := ch.Stub.Capabilities(attemptCtx, &gnmipb.CapabilityRequest{})
		resp = r
		return err
	})
	if err != nil {
		gerr := c.fail(ctx, "capabilities", ip, retries, err)
		return CapabilitiesRes{Errors: gerr.Errors}, gerr
	}
	ch.Release()

	encodings := make([]string, 0, len(resp.GetSupportedEncodings()))
	for _, e := range resp.GetSupportedEncodings() {
		encodings = append(encodings, encodingName(e))
	}

	return CapabilitiesRes{
		Version:   resp.GetGNMIVersion(),
		Encodings: encodings,
		Models:    resp.GetSupportedModels(),
		OK:        true,
	}, nil
}

// SubscribeStream is an open Subscribe RPC. Close must be called once the
// caller stops reading; it cancels the stream and releases the channel.
type SubscribeStream struct {
	stream gnmipb.GNMI_SubscribeClient
	cancel context.CancelFunc
	ch     *Channel

	closeOnce sync.Once
}

// Recv blocks until the next response, an error, or cancellation.
func (s *SubscribeStream) Recv() (*gnmipb.SubscribeResponse, error) {
	return s.stream.Recv()
}

// Generation is the generation of the channel the stream runs on.
func (s *SubscribeStream) Generation() uint64 {
	return s.ch.Generation
}

// Close cancels the stream. It is safe to call more than once.
func (s *SubscribeStream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.ch.Release()
	})
}

// Subscribe opens a Subscribe stream and sends req on it.
//
// The stream lives until ctx is cancelled or Close is called. Opening the
// stream follows the same readiness gate and single-resend policy as Get.
func (c *Client) Subscribe(ctx context.Context, ip string, req *gnmipb.SubscribeRequest) (*SubscribeStream, error) {
	if req == nil {
		return nil, fmt.Errorf("subscribe: request cannot be nil")
	}

	c.logger.Debug(ctx, "gNMI Subscribe request",
		"device", ip,
		"subscriptions", len(req.GetSubscribe().GetSubscription()))

	var (
		stream gnmipb.GNMI_SubscribeClient
		cancel context.CancelFunc
	)
	ch, retries, err := c.invoke(ctx, "subscribe", ip, func(ch *Channel) error {
		streamCtx, streamCancel := context.WithCancel(ctx)

		s, err := ch.Stub.Subscribe(streamCtx)
		if err == nil {
			err = sendSubscribe(s, req)
		}
		if err != nil {
			streamCancel()
			return err
		}

		stream, cancel = s, streamCancel
		return nil
	})
	if err != nil {
		return nil, c.fail(ctx, "subscribe", ip, retries, err)
	}

	c.logger.Info(ctx, "gNMI Subscribe stream opened",
		"device", ip,
		"generation", ch.Generation,
		"retries", retries)

	return &SubscribeStream{stream: stream, cancel: cancel, ch: ch}, nil
}

// sendSubscribe sends req on s. A broken stream makes Send return io.EOF;
// the status the device closed it with is then read from Recv.
func sendSubscribe(s gnmipb.GNMI_SubscribeClient, req *gnmipb.SubscribeRequest) error {
	err := s.Send(req)
	if !errors.Is(err, io.EOF) {
		return err
	}
	if _, rerr := s.Recv(); rerr != nil && !errors.Is(rerr, io.EOF) {
		return rerr
	}
	return err
}

// checkContextCancellation checks if context is canceled or deadline exceeded
//
// This is a non-blocking check used before each attempt to avoid wasted work.
func checkContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// createAttemptContext creates the context for a single unary attempt.
//
// Timeout priority model:
//  1. Request-specific timeout (req.Timeout > 0)
//  2. Existing context deadline
//  3. Client OperationTimeout
//  4. The channel endpoint's RequestTimeout
//
// Caller MUST call the returned cancel function.
func (c *Client) createAttemptContext(ctx context.Context, ch *Channel, req *Req) (context.Context, context.CancelFunc) {
	if req.Timeout > 0 {
		if req.Timeout < time.Second {
			c.logger.Warn(ctx, "request timeout is very short (may not complete)",
				"timeout", req.Timeout.String(),
				"device", ch.Endpoint.Address)
		}
		return context.WithTimeout(ctx, req.Timeout)
	}

	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}

	timeout := c.operationTimeout
	if timeout <= 0 {
		timeout = ch.Endpoint.RequestTimeout
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// mergeNotifications decodes every update value and merges it into one map.
func mergeNotifications(notifs []*gnmipb.Notification) (map[string]any, error) {
	data := make(map[string]any)
	for _, n := range notifs {
		for _, u := range n.GetUpdate() {
			val := u.GetVal()
			raw := val.GetJsonIetfVal()
			if raw == nil {
				raw = val.GetJsonVal()
			}

			if raw == nil {
				data[leafName(joinPath(n.GetPrefix(), u.GetPath()))] = typedValueToAny(val)
				continue
			}

			if !gjson.ValidBytes(raw) {
				return nil, fmt.Errorf("invalid JSON value at %s", PathString(joinPath(n.GetPrefix(), u.GetPath())))
			}
			decoded := gjson.ParseBytes(raw).Value()
			if obj, ok := decoded.(map[string]any); ok {
				for k, v := range obj {
					data[k] = v
				}
				continue
			}
			data[leafName(joinPath(n.GetPrefix(), u.GetPath()))] = decoded
		}
	}
	return data, nil
}

// leafName returns the last element name of p, or "" for the root.
func leafName(p *gnmipb.Path) string {
	elems := p.GetElem()
	if len(elems) == 0 {
		return ""
	}
	return elems[len(elems)-1].GetName()
}

func jsonBytes(val *gnmipb.TypedValue) []byte {
	if b := val.GetJsonIetfVal(); b != nil {
		return b
	}
	return val.GetJsonVal()
}

func (c *Client) shouldLogDebug() bool {
	_, noop := c.logger.(*NoOpLogger)
	return !noop
}

// prepareJSONForLogging redacts sensitive data and formats JSON for logging
//
// Size and count limits keep the regex redaction bounded on hostile input.
func (c *Client) prepareJSONForLogging(jsonStr string) string {
	if len(jsonStr) > MaxJSONSizeForLogging {
		return JSONTooLargeMessage
	}

	sensitiveCount := strings.Count(jsonStr, `"password"`) +
		strings.Count(jsonStr, `"secret"`) +
		strings.Count(jsonStr, `"key"`) +
		strings.Count(jsonStr, `"community"`) +
		strings.Count(jsonStr, `"token"`) +
		strings.Count(jsonStr, `"auth"`)
	if sensitiveCount > MaxSensitiveFields {
		return JSONTooManySensitiveMsg
	}

	redacted := redactSensitiveData(jsonStr)

	if c.prettyPrintLogs {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(redacted), "", "  "); err == nil {
			return buf.String()
		}
	}
	return redacted
}

// redactSensitiveData replaces sensitive string fields in JSON with [REDACTED]
func redactSensitiveData(s string) string {
	for i, pattern := range defaultRedactionPatterns {
		s = pattern.ReplaceAllString(s, redactionReplacements[i])
	}
	return s
}
