// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"fmt"
	"strings"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
)

// Encoding names accepted by SetOperation and reported by Capabilities.
// SONiC answers Get and Set in json_ietf and streams subscriptions in proto.
const (
	EncodingJSON     = "json"
	EncodingJSONIETF = "json_ietf"
	EncodingProto    = "proto"
)

// ValidEncodings lists the encodings a SetOperation may carry.
var ValidEncodings = []string{
	EncodingJSON,
	EncodingJSONIETF,
	EncodingProto,
}

var wireEncodings = map[string]gnmipb.Encoding{
	EncodingJSON:     gnmipb.Encoding_JSON,
	EncodingJSONIETF: gnmipb.Encoding_JSON_IETF,
	EncodingProto:    gnmipb.Encoding_PROTO,
}

// ValidateEncoding checks that enc is one of ValidEncodings.
func ValidateEncoding(enc string) error {
	if _, ok := wireEncodings[enc]; ok {
		return nil
	}
	return fmt.Errorf("invalid encoding: %s (valid values: %s)", enc, strings.Join(ValidEncodings, ", "))
}

// wireEncoding maps a known encoding name to its protobuf enum.
func wireEncoding(enc string) gnmipb.Encoding {
	return wireEncodings[enc]
}

// encodingName is the inverse of wireEncoding; unknown values fall back to
// the lower-cased enum name ("ascii", "bytes", ...).
func encodingName(e gnmipb.Encoding) string {
	for name, v := range wireEncodings {
		if v == e {
			return name
		}
	}
	return strings.ToLower(e.String())
}
