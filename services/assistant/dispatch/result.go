// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrorKind classifies a failed dispatch. Empty on success.
type ErrorKind string

const (
	// KindUnknownTool means no tool with the requested name is registered.
	KindUnknownTool ErrorKind = "unknown_tool"

	// KindValidation means the arguments did not match the tool's parameters.
	KindValidation ErrorKind = "validation_error"

	// KindHandlerFailure means the handler errored, panicked, timed out or
	// reported success=false.
	KindHandlerFailure ErrorKind = "handler_failure"
)

// Call is one tool invocation requested by the model.
type Call struct {
	Name string
	Args map[string]any
}

// Violation is one argument problem found during validation.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Result is the uniform outcome of a dispatch.
//
// Description:
//
//	Success, Message and Data mirror what the handler returned. Kind and
//	Violations are filled by the dispatcher when it recovers a failure, so
//	the model can see what went wrong and correct itself.
type Result struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Data       any         `json:"data,omitempty"`
	Kind       ErrorKind   `json:"error_kind,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
}

// OK builds a successful result.
func OK(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Fail builds a handler-reported failure.
func Fail(message string) Result {
	return Result{Success: false, Message: message, Kind: KindHandlerFailure}
}

// Failf builds a handler-reported failure with a formatted message.
func Failf(format string, args ...any) Result {
	return Fail(fmt.Sprintf(format, args...))
}

// AsMap converts the result to the JSON object sent back to the model.
//
// Data is normalised through encoding/json so that handler-specific structs
// reach the model as plain maps and slices.
func (r Result) AsMap() map[string]any {
	raw, err := json.Marshal(r)
	if err != nil {
		return map[string]any{
			"success":    false,
			"message":    fmt.Sprintf("result could not be encoded: %v", err),
			"error_kind": string(KindHandlerFailure),
		}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"success": r.Success, "message": r.Message}
	}
	return out
}

// Args is the argument bag handed to a handler after validation.
type Args map[string]any

// String returns the string at key, or "" if absent or not a string.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return strings.TrimSpace(s)
}

// Has reports whether key is present with a non-nil value.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// Int returns the integer at key. Validated integer parameters always convert.
// Values that are fractional or do not fit in an int report false.
func (a Args) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return fitInt(v)
	case uint:
		return fitUint(uint64(v))
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return fitUint(uint64(v))
	case uint64:
		return fitUint(v)
	case float64:
		return floatInt(v)
	case float32:
		return floatInt(float64(v))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return fitInt(n)
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatInt(f)
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

func fitInt(n int64) (int, bool) {
	if n < math.MinInt || n > math.MaxInt {
		return 0, false
	}
	return int(n), true
}

func fitUint(n uint64) (int, bool) {
	if n > math.MaxInt {
		return 0, false
	}
	return int(n), true
}

// floatInt accepts whole numbers in int64 range. NaN fails the Trunc test.
func floatInt(f float64) (int, bool) {
	if math.Trunc(f) != f || f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	return fitInt(int64(f))
}

// IntOr returns the integer at key or def.
func (a Args) IntOr(key string, def int) int {
	if n, ok := a.Int(key); ok {
		return n
	}
	return def
}

// Bool returns the boolean at key.
func (a Args) Bool(key string) (bool, bool) {
	b, ok := a[key].(bool)
	return b, ok
}
