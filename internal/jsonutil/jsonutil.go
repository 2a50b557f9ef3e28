// Package jsonutil holds the JSON decoding and comparison helpers shared by
// the harness components. Decoding uses goccy/go-json; equality and
// canonical forms go through RFC 8785 (JCS) so key order and number
// formatting never cause false mismatches.
package jsonutil

import (
	"bytes"
	"fmt"
	"math"

	"github.com/goccy/go-json"
	"github.com/gowebpki/jcs"
)

// Marshal and Unmarshal are the codec used across the module.
var (
	Marshal   = json.Marshal
	Unmarshal = json.Unmarshal
)

// Decode parses a JSON document into generic Go values
// (map[string]any, []any, float64, string, bool, nil).
func Decode(data []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return doc, nil
}

// Canonical returns the JCS canonical form of a JSON document.
func Canonical(data []byte) ([]byte, error) {
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// CanonicalValue marshals v and returns its canonical form.
func CanonicalValue(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return Canonical(data)
}

// Equal reports whether a and b encode to the same canonical JSON.
// An int and a float64 holding the same number are equal; 5 and "5" are not.
func Equal(a, b any) bool {
	ca, err := CanonicalValue(a)
	if err != nil {
		return false
	}
	cb, err := CanonicalValue(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// Int64 converts a decoded JSON number to int64. It fails for non-numbers
// and for numbers with a fractional part.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// Float64 converts a numeric value to float64.
func Float64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

// Object returns v as a JSON object, or nil when it is not one.
func Object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// TypeName names the JSON type of a decoded value.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
