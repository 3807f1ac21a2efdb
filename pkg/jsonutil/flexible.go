// Package jsonutil coerces loosely-typed JSON from language models into
// the shapes callers asked for.
package jsonutil

import (
	"encoding/json"
	"strconv"
)

// FlexibleStringValue reads a raw JSON value as a string, accepting the
// numbers and booleans models emit where a string was requested. Null and
// empty input yield "".
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil {
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return strconv.FormatBool(b)
	}
	return string(raw)
}

// FlexibleStringSlice reads a raw JSON value as a string slice, accepting
// a bare scalar where an array was requested. Empty elements are dropped.
func FlexibleStringSlice(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) == nil {
		out := make([]string, 0, len(arr))
		for _, el := range arr {
			if s := FlexibleStringValue(el); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	if s := FlexibleStringValue(raw); s != "" {
		return []string{s}
	}
	return nil
}
