// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
)

// MaxPathLength is the maximum length for a gNMI path string (1024 characters)
const MaxPathLength = 1024

// ignoredSegments are dropped while building a path. They appear when paths
// are copied from RESTCONF URLs.
var ignoredSegments = map[string]bool{
	"":         true,
	"restconf": true,
	"data":     true,
}

var keyValueEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"[", "%5B",
	"]", "%5D",
	",", "%2C",
	"=", "%3D",
)

// EscapeKeyValue percent-encodes the characters that carry meaning inside a
// path string, so the value survives a BuildPath round trip unchanged.
//
// Example:
//
//	p := fmt.Sprintf("interfaces/interface[name=%s]", gnmi.EscapeKeyValue("Eth1/1"))
//	// interfaces/interface[name=Eth1%2F1]
func EscapeKeyValue(v string) string {
	return keyValueEscaper.Replace(v)
}

// BuildPath builds a gNMI path from a slash-delimited string with optional
// bracketed key filters.
//
// A module prefix on the first segment becomes the path origin. Empty,
// "restconf" and "data" segments are skipped. Each bracket group holds a
// comma-separated list of key=value pairs; values are percent-decoded once.
//
// Example:
//
//	p, err := gnmi.BuildPath("openconfig-interfaces:interfaces/interface[name=Vlan1]/config")
//	// origin: openconfig-interfaces
//	// elem:   interfaces, interface{name: Vlan1}, config
//
// Returns ErrMalformedPath (wrapped) for unbalanced brackets or a key
// without "=".
func BuildPath(s string) (*gnmipb.Path, error) {
	if err := checkPathString(s); err != nil {
		return nil, err
	}

	segments, err := splitPath(s)
	if err != nil {
		return nil, err
	}

	path := &gnmipb.Path{}
	first := true
	for _, seg := range segments {
		if ignoredSegments[seg] {
			continue
		}
		if first {
			first = false
			if origin, rest, ok := splitOrigin(seg); ok {
				path.Origin = origin
				seg = rest
			}
		}

		elem, err := parseElem(seg)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrMalformedPath, s, err)
		}
		path.Elem = append(path.Elem, elem)
	}
	return path, nil
}

// MustBuildPath is like BuildPath but panics on a malformed path. It is
// intended for package-level path constants.
func MustBuildPath(s string) *gnmipb.Path {
	p, err := BuildPath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PathString serializes p back into the string form accepted by BuildPath.
// Keys are written in sorted order.
func PathString(p *gnmipb.Path) string {
	if p == nil {
		return ""
	}

	var b strings.Builder
	if p.GetOrigin() != "" {
		b.WriteString(p.GetOrigin())
		b.WriteByte(':')
	}

	for i, elem := range p.GetElem() {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(elem.GetName())

		keys := elem.GetKey()
		if len(keys) == 0 {
			continue
		}
		names := make([]string, 0, len(keys))
		for k := range keys {
			names = append(names, k)
		}
		sort.Strings(names)

		b.WriteByte('[')
		for j, k := range names {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(EscapeKeyValue(keys[k]))
		}
		b.WriteByte(']')
	}
	return b.String()
}

// checkPathString rejects null bytes and over-long input.
func checkPathString(s string) error {
	if len(s) > MaxPathLength {
		return fmt.Errorf("%w: path exceeds maximum length of %d characters", ErrMalformedPath, MaxPathLength)
	}
	if i := strings.IndexByte(s, 0); i >= 0 {
		return fmt.Errorf("%w: path contains null byte at position %d", ErrMalformedPath, i)
	}
	return nil
}

// splitPath splits on '/' outside of brackets. An unterminated '[' or a
// stray ']' is reported here.
func splitPath(s string) ([]string, error) {
	var (
		segments []string
		depth    int
		start    int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			if depth == 0 {
				return nil, fmt.Errorf("%w: %q: ']' without '[' at position %d", ErrMalformedPath, s, i)
			}
			depth--
		case '/':
			if depth == 0 {
				segments = append(segments, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: %q: '[' without ']'", ErrMalformedPath, s)
	}
	return append(segments, s[start:]), nil
}

// splitOrigin separates "module:name[...]" into module and the rest. The
// colon must appear before any bracket.
func splitOrigin(seg string) (string, string, bool) {
	head := seg
	if i := strings.IndexByte(seg, '['); i >= 0 {
		head = seg[:i]
	}
	i := strings.IndexByte(head, ':')
	if i <= 0 || i == len(head)-1 {
		return "", seg, false
	}
	return seg[:i], seg[i+1:], true
}

// parseElem turns "name[k=v,k2=v2][k3=v3]" into a PathElem.
func parseElem(seg string) (*gnmipb.PathElem, error) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		if strings.IndexByte(seg, ']') >= 0 {
			return nil, fmt.Errorf("segment %q has ']' without '['", seg)
		}
		return &gnmipb.PathElem{Name: seg}, nil
	}

	elem := &gnmipb.PathElem{Name: seg[:open]}
	if elem.Name == "" {
		return nil, fmt.Errorf("segment %q has key filter without element name", seg)
	}

	rest := seg[open:]
	for rest != "" {
		if rest[0] != '[' {
			return nil, fmt.Errorf("segment %q has text after key filter", seg)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("segment %q has '[' without ']'", seg)
		}
		if err := parseKeys(rest[1:end], elem); err != nil {
			return nil, fmt.Errorf("segment %q: %w", seg, err)
		}
		rest = rest[end+1:]
	}
	return elem, nil
}

// parseKeys parses "k=v,k2=v2" into elem.Key, splitting each pair on the
// first '='.
func parseKeys(body string, elem *gnmipb.PathElem) error {
	if elem.Key == nil {
		elem.Key = make(map[string]string)
	}
	for _, pair := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return fmt.Errorf("key filter %q is not key=value", pair)
		}
		decoded, err := url.PathUnescape(v)
		if err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		elem.Key[k] = decoded
	}
	return nil
}

// joinPath concatenates prefix and path elements into a new path.
func joinPath(prefix, p *gnmipb.Path) *gnmipb.Path {
	out := &gnmipb.Path{Origin: prefix.GetOrigin()}
	if out.Origin == "" {
		out.Origin = p.GetOrigin()
	}
	out.Elem = make([]*gnmipb.PathElem, 0, len(prefix.GetElem())+len(p.GetElem()))
	out.Elem = append(out.Elem, prefix.GetElem()...)
	out.Elem = append(out.Elem, p.GetElem()...)
	return out
}
