// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors surfaced to callers. Use errors.Is to match them through
// a *GnmiError or any other wrapping.
var (
	// ErrDeviceUnreachable indicates the device could not be reached on its
	// gNMI port, or stayed unavailable after the channel was rebuilt once.
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrDeviceNotReady indicates the cached device status reports that the
	// system is not ready. No RPC was attempted.
	ErrDeviceNotReady = errors.New("device not ready")

	// ErrMalformedPath indicates a path string with unbalanced brackets or a
	// key filter without a value.
	ErrMalformedPath = errors.New("malformed path")

	// ErrPreconditionNotMet indicates nothing has been discovered for the
	// device yet, so there is nothing to subscribe to.
	ErrPreconditionNotMet = errors.New("precondition not met")

	// ErrNotReadyForConfig indicates the device has no live subscription or
	// has not delivered a sync response, so configuration is refused.
	ErrNotReadyForConfig = errors.New("device not ready for configuration")

	// ErrNotSubscribed indicates no subscription task is registered for the device.
	ErrNotSubscribed = errors.New("device not subscribed")
)

// GnmiError represents a structured gNMI error with operation context
type GnmiError struct {
	// Operation name that failed (get, set, subscribe)
	Operation string

	// Target is the device IP the operation was issued against
	Target string

	// Errors from gNMI error details
	Errors []ErrorModel

	// Human-readable error message
	Message string

	// Number of retry attempts made
	Retries int

	// Err is the underlying cause
	Err error
}

// Error implements the error interface
func (e *GnmiError) Error() string {
	if e.Retries > 0 {
		return fmt.Sprintf("gnmi: %s on %s failed: %s (retries: %d)", e.Operation, e.Target, e.Message, e.Retries)
	}
	return fmt.Sprintf("gnmi: %s on %s failed: %s", e.Operation, e.Target, e.Message)
}

// Unwrap returns the underlying cause so errors.Is and status.FromError see through GnmiError.
func (e *GnmiError) Unwrap() error {
	return e.Err
}

// ErrorModel represents a gNMI error with gRPC status code
type ErrorModel struct {
	// Code is the gRPC status code
	Code uint32

	// Message is the error message
	Message string

	// Details contains additional error information
	Details string
}

// extractErrorDetails extracts error details from gRPC errors
//
// Parses gRPC status codes and error messages into ErrorModel structs.
// Non-gRPC errors are reported with code 0.
func extractErrorDetails(err error) []ErrorModel {
	if err == nil {
		return nil
	}

	if st, ok := status.FromError(err); ok {
		return []ErrorModel{{
			Code:    uint32(st.Code()),
			Message: st.Message(),
			Details: st.String(),
		}}
	}

	return []ErrorModel{{
		Code:    0,
		Message: err.Error(),
	}}
}

// isUnavailable reports whether err carries codes.Unavailable.
//
// Only this code triggers channel eviction and the single resend. Other
// codes (NotFound, PermissionDenied, DeadlineExceeded, ...) are passed
// through to the caller untouched.
func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	return st.Code() == codes.Unavailable
}

// isCanceled reports whether err is the result of cooperative cancellation.
func isCanceled(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.Canceled
}
