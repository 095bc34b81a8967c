// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"fmt"

	"github.com/tidwall/sjson"
)

// Body builds JSON_IETF payloads for Set with sjson path syntax.
//
// Body is a value type; every call returns a new Body. The first error is
// kept and all later calls become no-ops, so a chain can be checked once.
//
// Example:
//
//	value, err := gnmi.Body{}.
//	    Set("openconfig-interfaces:config.enabled", true).
//	    Set("openconfig-interfaces:config.mtu", 9100).
//	    String()
type Body struct {
	str string
	err error
}

// Set sets value at path.
func (b Body) Set(path string, value any) Body {
	if b.err != nil {
		return b
	}
	result, err := sjson.Set(b.str, path, value)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("Set(%q): %w", path, err)}
	}
	return Body{str: result}
}

// SetRaw sets pre-encoded JSON at path.
func (b Body) SetRaw(path, raw string) Body {
	if b.err != nil {
		return b
	}
	result, err := sjson.SetRaw(b.str, path, raw)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("SetRaw(%q): %w", path, err)}
	}
	return Body{str: result}
}

// Delete removes the value at path.
func (b Body) Delete(path string) Body {
	if b.err != nil {
		return b
	}
	result, err := sjson.Delete(b.str, path)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("Delete(%q): %w", path, err)}
	}
	return Body{str: result}
}

// String returns the JSON and the first error encountered.
func (b Body) String() (string, error) {
	return b.str, b.err
}

// Err returns the first error encountered.
func (b Body) Err() error {
	return b.err
}
