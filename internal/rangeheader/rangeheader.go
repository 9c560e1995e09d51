// Package rangeheader parses HTTP Range request headers (RFC 9110 §14.1.1).
// The router only ever honors a single range per request, so Parse returns
// every spec present but callers reject requests naming more than one.
package rangeheader

import (
	"fmt"
	"strconv"
	"strings"
)

// Spec is a single byte range, either a bounded int-range or an open-ended
// or suffix range that must be Resolved against a concrete content length
// before use.
type Spec struct {
	start, end int64 // end == -1 means unbounded/suffix
}

// Start returns the first byte offset named by the header, before
// resolution against a content length. For a suffix range this is
// negative.
func (s Spec) Start() int64 { return s.start }

// IsSuffix reports whether the range is a suffix range ("-N", meaning the
// last N bytes).
func (s Spec) IsSuffix() bool { return s.start < 0 }

// Resolve converts s into a concrete, bounds-checked [start, end] pair
// (inclusive) against content length n. ok is false if the range cannot be
// satisfied for n bytes of content.
func (s Spec) Resolve(n int64) (resolved Spec, ok bool) {
	if s.end >= 0 {
		// A last-pos at or beyond the content length names the remainder of
		// the representation, not an out-of-bounds range (RFC 9110 §14.1.1).
		end := s.end
		if end >= n {
			end = n - 1
		}
		return Spec{start: s.start, end: end}, s.start >= 0 && s.start < n
	}
	// Suffix range: start is "last N bytes".
	if s.start < 0 {
		count := -s.start
		begin := n - count
		if begin < 0 {
			begin = 0
		}
		return Spec{start: begin, end: n - 1}, n > 0 && count > 0
	}
	// Open-ended range: "start-".
	return Spec{start: s.start, end: n - 1}, s.start >= 0 && s.start < n
}

// Start/End of a resolved Spec, inclusive.
func (s Spec) End() int64 { return s.end }

// Parse parses the value of a Range header into the ranges it names.
// Unsupported units are rejected; this server only serves "bytes".
func Parse(header string) ([]Spec, error) {
	if header == "" {
		return nil, nil
	}
	rest, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		unit, _, _ := strings.Cut(header, "=")
		return nil, fmt.Errorf("parse range header: unsupported unit %q", unit)
	}

	var specs []Spec
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		start, end, hasDash := strings.Cut(part, "-")
		switch {
		case hasDash && start == "" && isDigits(end):
			i, err := strconv.ParseInt(end, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse range header: suffix range %q: %w", part, err)
			}
			specs = append(specs, Spec{start: -i, end: -1})
		case hasDash && isDigits(start) && end == "":
			i, err := strconv.ParseInt(start, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse range header: open range %q: %w", part, err)
			}
			specs = append(specs, Spec{start: i, end: -1})
		case hasDash && isDigits(start) && isDigits(end):
			i, err := strconv.ParseInt(start, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse range header: bounded range %q: %w", part, err)
			}
			j, err := strconv.ParseInt(end, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse range header: bounded range %q: %w", part, err)
			}
			if j < i {
				return nil, fmt.Errorf("parse range header: bounded range %q: end before start", part)
			}
			specs = append(specs, Spec{start: i, end: j})
		default:
			return nil, fmt.Errorf("parse range header: invalid spec %q", part)
		}
	}
	return specs, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
