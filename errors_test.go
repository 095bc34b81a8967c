// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGnmiError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *GnmiError
		want string
	}{
		{
			name: "without retries",
			err:  &GnmiError{Operation: "get", Target: "10.0.0.1", Message: "not found"},
			want: "gnmi: get on 10.0.0.1 failed: not found",
		},
		{
			name: "with retries",
			err:  &GnmiError{Operation: "set", Target: "10.0.0.2", Message: "unavailable", Retries: 1},
			want: "gnmi: set on 10.0.0.2 failed: unavailable (retries: 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGnmiError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("%w: %w", ErrDeviceUnreachable, status.Error(codes.Unavailable, "reset"))
	err := &GnmiError{Operation: "get", Target: "10.0.0.1", Message: cause.Error(), Err: cause}

	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Error("errors.Is(ErrDeviceUnreachable) = false")
	}
	if status.Code(err) != codes.Unavailable {
		t.Errorf("status.Code() = %v, want Unavailable", status.Code(err))
	}

	var gerr *GnmiError
	if !errors.As(fmt.Errorf("discover: %w", err), &gerr) || gerr.Target != "10.0.0.1" {
		t.Error("errors.As did not find GnmiError")
	}
}

func TestExtractErrorDetails(t *testing.T) {
	if got := extractErrorDetails(nil); got != nil {
		t.Errorf("extractErrorDetails(nil) = %v", got)
	}

	got := extractErrorDetails(status.Error(codes.NotFound, "path not found"))
	if len(got) != 1 || got[0].Code != uint32(codes.NotFound) || got[0].Message != "path not found" {
		t.Errorf("grpc error details = %+v", got)
	}
	if got[0].Details == "" {
		t.Error("Details empty for grpc error")
	}

	got = extractErrorDetails(errors.New("plain"))
	if len(got) != 1 || got[0].Code != 0 || got[0].Message != "plain" {
		t.Errorf("plain error details = %+v", got)
	}
}

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "x"), true},
		{"wrapped unavailable", fmt.Errorf("get: %w", status.Error(codes.Unavailable, "x")), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "x"), false},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "x"), false},
		{"not found", status.Error(codes.NotFound, "x"), false},
		{"plain", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUnavailable(tt.err); got != tt.want {
				t.Errorf("isUnavailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsCanceled(t *testing.T) {
	if !isCanceled(context.Canceled) {
		t.Error("context.Canceled not canceled")
	}
	if !isCanceled(fmt.Errorf("stream: %w", context.Canceled)) {
		t.Error("wrapped context.Canceled not canceled")
	}
	if !isCanceled(status.Error(codes.Canceled, "x")) {
		t.Error("codes.Canceled not canceled")
	}
	if isCanceled(context.DeadlineExceeded) {
		t.Error("DeadlineExceeded reported as canceled")
	}
}
