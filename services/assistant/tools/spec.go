// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools declares the fixed set of actions the CRM assistant may invoke.
//
// A ToolSpec is pure data: name, description and a parameter schema. The
// Registry is filled once at startup and then frozen so that the capability
// surface advertised to the model and the one enforced by the dispatcher are
// the same for the lifetime of the process.
package tools

import (
	"sort"
)

// ParamType is the JSON type accepted for a tool parameter.
type ParamType string

const (
	// ParamString accepts JSON strings. Combined with Enum it accepts only the listed values.
	ParamString ParamType = "string"

	// ParamNumber accepts any JSON number.
	ParamNumber ParamType = "number"

	// ParamInteger accepts JSON numbers without a fractional part.
	ParamInteger ParamType = "integer"

	// ParamBoolean accepts true or false.
	ParamBoolean ParamType = "boolean"
)

// ParamSpec describes a single named parameter of a tool.
//
// Thread Safety: ParamSpec is immutable after registration.
type ParamSpec struct {
	// Type is the JSON type of the parameter.
	Type ParamType `json:"type" yaml:"type" validate:"required,oneof=string number integer boolean"`

	// Description is shown to the model.
	Description string `json:"description" yaml:"description" validate:"required"`

	// Required marks the parameter as mandatory for dispatch.
	Required bool `json:"required" yaml:"required"`

	// Enum restricts a string parameter to a closed set of values.
	Enum []string `json:"enum,omitempty" yaml:"enum,omitempty" validate:"omitempty,dive,required"`
}

// ToolSpec is one registry entry.
//
// Description:
//
//	Declares a tool the model may call. The parameter map is keyed by
//	parameter name. Parameters not listed here are rejected at dispatch,
//	not silently dropped.
//
// Thread Safety: ToolSpec values are copied in and out of the Registry and
// are safe for concurrent read access.
type ToolSpec struct {
	// Name is the unique tool identifier the model uses in a function call.
	Name string `json:"name" yaml:"name" validate:"required,toolname"`

	// Description explains what the tool does and when to use it.
	Description string `json:"description" yaml:"description" validate:"required"`

	// Parameters maps parameter names to their definitions.
	Parameters map[string]ParamSpec `json:"parameters" yaml:"parameters"`
}

// RequiredParams returns the names of all required parameters, sorted.
func (s ToolSpec) RequiredParams() []string {
	var names []string
	for name, p := range s.Parameters {
		if p.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ParamNames returns all parameter names, sorted.
func (s ToolSpec) ParamNames() []string {
	names := make([]string, 0, len(s.Parameters))
	for name := range s.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// clone returns a deep copy so callers cannot mutate registry state.
func (s ToolSpec) clone() ToolSpec {
	out := s
	if s.Parameters != nil {
		out.Parameters = make(map[string]ParamSpec, len(s.Parameters))
		for name, p := range s.Parameters {
			if p.Enum != nil {
				p.Enum = append([]string(nil), p.Enum...)
			}
			out.Parameters[name] = p
		}
	}
	return out
}
