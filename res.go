// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"encoding/json"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"github.com/tidwall/gjson"
	"google.golang.org/protobuf/encoding/protojson"
)

// GetRes is the result of Get. Data holds the JSON values of all updates
// merged into one object; Notifications keeps the raw response.
type GetRes struct {
	Data          map[string]any
	Notifications []*gnmipb.Notification

	// Timestamp is when the response was received, in Unix nanoseconds
	Timestamp int64

	OK     bool
	Errors []ErrorModel
}

// GetValue queries Data with a gjson path.
//
// Example:
//
//	res, err := client.GetPaths(ctx, ip, "openconfig-interfaces:interfaces")
//	if err != nil {
//	    return err
//	}
//	for _, name := range res.GetValue(`openconfig-interfaces:interfaces.interface.#.name`).Array() {
//	    fmt.Println(name.String())
//	}
func (r GetRes) GetValue(path string) gjson.Result {
	return queryJSON(r.JSON(), path)
}

// JSON renders Data, or "" if there is none.
func (r GetRes) JSON() string {
	if r.Data == nil {
		return ""
	}
	data, err := json.Marshal(r.Data)
	if err != nil {
		return ""
	}
	return string(data)
}

// SetRes is the result of Set.
type SetRes struct {
	Response *gnmipb.SetResponse

	// Timestamp is when the response was received, in Unix nanoseconds
	Timestamp int64

	OK     bool
	Errors []ErrorModel
}

// GetValue queries the response in its protobuf JSON form, e.g.
// "response.0.op" or "timestamp".
func (r SetRes) GetValue(path string) gjson.Result {
	return queryJSON(r.JSON(), path)
}

// JSON renders Response with proto field names, or "" if there is none.
func (r SetRes) JSON() string {
	if r.Response == nil {
		return ""
	}
	data, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(r.Response)
	if err != nil {
		return ""
	}
	return string(data)
}

func queryJSON(doc, path string) gjson.Result {
	if doc == "" {
		return gjson.Result{}
	}
	return gjson.Get(doc, path)
}

// CapabilitiesRes is the result of Capabilities.
type CapabilitiesRes struct {
	Version string

	// Encodings are lower-case names as accepted by ValidateEncoding
	// (plus any the device reports beyond those)
	Encodings []string

	Models []*gnmipb.ModelData

	OK     bool
	Errors []ErrorModel
}

// SupportsEncoding reports whether the device listed enc.
func (r CapabilitiesRes) SupportsEncoding(enc string) bool {
	for _, e := range r.Encodings {
		if e == enc {
			return true
		}
	}
	return false
}
