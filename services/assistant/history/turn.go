// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history holds the wire log of one assistant conversation: the exact
// sequence of turns that is replayed to the model on every request.
package history

import (
	"strings"
	"time"
)

// Role tags who produced a turn.
type Role string

const (
	// RoleUser is free text typed by the person using the CRM.
	RoleUser Role = "user"

	// RoleModel is a reply from the model: either text or tool calls.
	RoleModel Role = "model"

	// RoleToolResult carries the host's answers to the preceding tool calls.
	RoleToolResult Role = "tool-result"
)

// ToolCall is a model-issued request to invoke a named tool.
type ToolCall struct {
	// ID is the provider call identifier, if the provider issues one.
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
	// Signature is opaque provider state that must be sent back unchanged
	// with the call on later requests.
	Signature []byte `json:"signature,omitempty"`
}

// ToolResult is the host's outcome for one ToolCall.
type ToolResult struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Part is one element of a turn. Exactly one field is set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Turn is one role-tagged entry of the conversation.
type Turn struct {
	Role  Role      `json:"role"`
	Parts []Part    `json:"parts"`
	At    time.Time `json:"at"`
}

// UserTurn builds a user text turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{{Text: text}}}
}

// ModelTextTurn builds a model text turn.
func ModelTextTurn(text string) Turn {
	return Turn{Role: RoleModel, Parts: []Part{{Text: text}}}
}

// ModelToolCallTurn builds a model turn holding the given calls in order.
func ModelToolCallTurn(calls []ToolCall) Turn {
	parts := make([]Part, len(calls))
	for i := range calls {
		c := calls[i]
		parts[i] = Part{ToolCall: &c}
	}
	return Turn{Role: RoleModel, Parts: parts}
}

// ToolResultTurn builds a tool-result turn holding the given results in order.
func ToolResultTurn(results []ToolResult) Turn {
	parts := make([]Part, len(results))
	for i := range results {
		r := results[i]
		parts[i] = Part{ToolResult: &r}
	}
	return Turn{Role: RoleToolResult, Parts: parts}
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// ToolCalls returns the tool calls of the turn in order.
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range t.Parts {
		if p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// HasToolCalls reports whether the turn is a model tool-call turn.
func (t Turn) HasToolCalls() bool {
	return t.Role == RoleModel && len(t.Parts) > 0 && t.Parts[0].ToolCall != nil
}

func (p Part) kinds() int {
	n := 0
	if p.Text != "" {
		n++
	}
	if p.ToolCall != nil {
		n++
	}
	if p.ToolResult != nil {
		n++
	}
	return n
}

func cloneTurn(t Turn) Turn {
	out := t
	if t.Parts == nil {
		return out
	}
	out.Parts = make([]Part, len(t.Parts))
	for i, p := range t.Parts {
		cp := Part{Text: p.Text}
		if p.ToolCall != nil {
			tc := *p.ToolCall
			tc.Args = CloneMap(p.ToolCall.Args)
			if p.ToolCall.Signature != nil {
				tc.Signature = append([]byte(nil), p.ToolCall.Signature...)
			}
			cp.ToolCall = &tc
		}
		if p.ToolResult != nil {
			tr := *p.ToolResult
			tr.Response = CloneMap(p.ToolResult.Response)
			cp.ToolResult = &tr
		}
		out.Parts[i] = cp
	}
	return out
}

// CloneMap deep-copies a JSON-like map. Nested maps and slices are copied;
// scalars are shared.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
