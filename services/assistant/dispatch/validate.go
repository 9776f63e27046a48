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
	"slices"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianCRM/services/assistant/tools"
)

// validateArgs checks args against the tool's parameter map.
//
// Every required parameter must be present and non-null, every present
// parameter must be declared, and its value must match the declared type
// (and enum, for strings). All problems are reported, sorted by field.
func validateArgs(spec tools.ToolSpec, args map[string]any) []Violation {
	var out []Violation

	for _, name := range spec.RequiredParams() {
		if v, ok := args[name]; !ok || v == nil {
			out = append(out, Violation{Field: name, Reason: "missing required parameter"})
		}
	}

	for name, value := range args {
		param, ok := spec.Parameters[name]
		if !ok {
			out = append(out, Violation{Field: name, Reason: "unknown parameter"})
			continue
		}
		if value == nil {
			// Already reported above when required; optional nulls are treated as absent.
			continue
		}
		if reason := checkType(param, value); reason != "" {
			out = append(out, Violation{Field: name, Reason: reason})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

func checkType(param tools.ParamSpec, value any) string {
	switch param.Type {
	case tools.ParamString:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected string, got %s", jsonType(value))
		}
		if len(param.Enum) > 0 && !slices.Contains(param.Enum, s) {
			return fmt.Sprintf("must be one of [%s]", strings.Join(param.Enum, ", "))
		}
	case tools.ParamNumber:
		if !isNumber(value) {
			return fmt.Sprintf("expected number, got %s", jsonType(value))
		}
	case tools.ParamInteger:
		if !isInteger(value) {
			return fmt.Sprintf("expected integer, got %s", jsonType(value))
		}
	case tools.ParamBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %s", jsonType(value))
		}
	default:
		return fmt.Sprintf("unsupported parameter type %q", param.Type)
	}
	return ""
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return math.Trunc(float64(v)) == float64(v)
	case float64:
		return !math.IsInf(v, 0) && math.Trunc(v) == v
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}

func jsonType(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if isNumber(value) {
		return "number"
	}
	return fmt.Sprintf("%T", value)
}

func describeViolations(violations []Violation) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.Field + ": " + v.Reason
	}
	return strings.Join(parts, "; ")
}
