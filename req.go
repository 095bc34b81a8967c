// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"fmt"
	"time"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"github.com/openconfig/gnmic/pkg/api"
)

// Req represents a gNMI request modifier
//
// Example:
//
//	res, err := client.Get(ctx, ip, paths, gnmi.Timeout(30*time.Second))
type Req struct {
	// Timeout is the request-specific timeout
	// Overrides the endpoint RequestTimeout if set
	Timeout time.Duration
}

// Timeout returns a request modifier that sets a custom timeout for the operation.
func Timeout(duration time.Duration) func(*Req) {
	return func(req *Req) {
		req.Timeout = duration
	}
}

// SetOperationType represents the type of Set operation
type SetOperationType string

const (
	// OperationUpdate modifies existing configuration, creating it if it doesn't exist
	OperationUpdate SetOperationType = "update"

	// OperationReplace removes existing configuration before applying new value
	OperationReplace SetOperationType = "replace"

	// OperationDelete removes configuration at the specified path
	OperationDelete SetOperationType = "delete"
)

// SetOperation represents a single gNMI Set operation (Update, Replace, or Delete)
type SetOperation struct {
	// OperationType specifies the operation type (update, replace, delete)
	OperationType SetOperationType

	// Path is the gNMI path
	Path string

	// Value is the JSON value for Update/Replace operations
	// Empty for Delete operations
	Value string

	// Encoding specifies the value encoding, json_ietf by default
	Encoding string
}

// Update creates a SetOperation for updating a path with a value
//
// Example:
//
//	op := gnmi.Update("openconfig-interfaces:interfaces/interface[name=Ethernet0]/config",
//	    `{"openconfig-interfaces:config": {"enabled": true}}`)
func Update(path, value string) SetOperation {
	return SetOperation{
		OperationType: OperationUpdate,
		Path:          path,
		Value:         value,
		Encoding:      EncodingJSONIETF,
	}
}

// Replace creates a SetOperation for replacing a path with a value
func Replace(path, value string) SetOperation {
	return SetOperation{
		OperationType: OperationReplace,
		Path:          path,
		Value:         value,
		Encoding:      EncodingJSONIETF,
	}
}

// Delete creates a SetOperation for deleting a path
func Delete(path string) SetOperation {
	return SetOperation{
		OperationType: OperationDelete,
		Path:          path,
	}
}

// NewSetRequest builds a SetRequest from operations.
//
// Paths are validated with BuildPath before being handed to the gnmic
// request builder, so a malformed path fails with ErrMalformedPath.
func NewSetRequest(ops ...SetOperation) (*gnmipb.SetRequest, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("operations cannot be empty")
	}

	gnmicOpts := make([]api.GNMIOption, 0, len(ops))
	for i, op := range ops {
		if _, err := BuildPath(op.Path); err != nil {
			return nil, fmt.Errorf("operation at index %d: %w", i, err)
		}

		encoding := op.Encoding
		if encoding == "" {
			encoding = EncodingJSONIETF
		}
		if err := ValidateEncoding(encoding); err != nil {
			return nil, fmt.Errorf("operation at index %d: %w", i, err)
		}

		switch op.OperationType {
		case OperationUpdate:
			gnmicOpts = append(gnmicOpts, api.Update(api.Path(op.Path), api.Value(op.Value, encoding)))
		case OperationReplace:
			gnmicOpts = append(gnmicOpts, api.Replace(api.Path(op.Path), api.Value(op.Value, encoding)))
		case OperationDelete:
			gnmicOpts = append(gnmicOpts, api.Delete(op.Path))
		default:
			return nil, fmt.Errorf("operation at index %d: invalid operation type: %q", i, op.OperationType)
		}
	}

	req, err := api.NewSetRequest(gnmicOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create set request: %w", err)
	}
	return req, nil
}

// NewGetRequest builds a JSON_IETF Get request for all data under paths.
func NewGetRequest(paths []*gnmipb.Path) (*gnmipb.GetRequest, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("paths cannot be empty")
	}
	return &gnmipb.GetRequest{
		Path:     paths,
		Type:     gnmipb.GetRequest_ALL,
		Encoding: wireEncoding(EncodingJSONIETF),
	}, nil
}
