// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"fmt"
	"sync"
	"time"
)

// ProtocolViolationError reports a turn that would break the shape of the log.
//
// Description:
//
//	Returned by Append when a turn is malformed or out of order. The most
//	important case is a tool-result turn that does not pair 1:1, in order,
//	with the tool calls of the model turn right before it. This is always a
//	bug in the caller; the owner of the history should stop using it.
type ProtocolViolationError struct {
	// Index is the position the rejected turn would have taken.
	Index  int
	Role   Role
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation at turn %d (%s): %s", e.Index, e.Role, e.Reason)
}

// History is an append-only, in-memory conversation log.
//
// Description:
//
//	Turns are copied on the way in and on the way out, so neither the caller
//	of Append nor the reader of Snapshot can alter what has been recorded.
//	A model turn with N tool calls must be followed by exactly one
//	tool-result turn with N results in the same order before any other
//	user or model turn.
//
// Thread Safety: History is safe for concurrent use. By convention only the
// orchestration engine that owns it appends.
type History struct {
	mu    sync.RWMutex
	turns []Turn
	now   func() time.Time
}

// New creates an empty history.
func New() *History {
	return &History{
		turns: make([]Turn, 0, 16),
		now:   time.Now,
	}
}

// Append validates and records a turn.
//
// Outputs:
//   - error: *ProtocolViolationError if the turn is malformed or breaks the
//     tool-call/tool-result pairing. Nothing is recorded in that case.
func (h *History) Append(turn Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.check(turn); err != nil {
		return err
	}
	recorded := cloneTurn(turn)
	if recorded.At.IsZero() {
		recorded.At = h.now().UTC()
	}
	h.turns = append(h.turns, recorded)
	return nil
}

// Snapshot returns a deep copy of every turn in order.
func (h *History) Snapshot() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Turn, len(h.turns))
	for i, t := range h.turns {
		out[i] = cloneTurn(t)
	}
	return out
}

// Len returns the number of recorded turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// LastUserText returns the text of the most recent user turn.
func (h *History) LastUserText() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].Role == RoleUser {
			return h.turns[i].Text(), true
		}
	}
	return "", false
}

// PendingToolCalls returns the calls of the last turn if it is a model
// tool-call turn still waiting for its results.
func (h *History) PendingToolCalls() []ToolCall {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.turns) == 0 {
		return nil
	}
	last := h.turns[len(h.turns)-1]
	if !last.HasToolCalls() {
		return nil
	}
	return cloneTurn(last).ToolCalls()
}

// check must be called with h.mu held.
func (h *History) check(turn Turn) error {
	idx := len(h.turns)
	violation := func(format string, args ...any) error {
		return &ProtocolViolationError{Index: idx, Role: turn.Role, Reason: fmt.Sprintf(format, args...)}
	}

	if len(turn.Parts) == 0 {
		return violation("turn has no parts")
	}
	for i, p := range turn.Parts {
		if p.kinds() != 1 {
			return violation("part %d must hold exactly one of text, tool call or tool result", i)
		}
	}

	var prev *Turn
	if idx > 0 {
		prev = &h.turns[idx-1]
	}
	awaitingResults := prev != nil && prev.HasToolCalls()

	switch turn.Role {
	case RoleUser:
		if awaitingResults {
			return violation("user turn while %d tool call(s) await results", len(prev.ToolCalls()))
		}
		for i, p := range turn.Parts {
			if p.ToolCall != nil || p.ToolResult != nil {
				return violation("user part %d is not text", i)
			}
		}

	case RoleModel:
		if awaitingResults {
			return violation("model turn while %d tool call(s) await results", len(prev.ToolCalls()))
		}
		if prev == nil || prev.Role == RoleModel {
			return violation("model turn must follow a user or tool-result turn")
		}
		calls := 0
		for i, p := range turn.Parts {
			if p.ToolResult != nil {
				return violation("model part %d is a tool result", i)
			}
			if p.ToolCall != nil {
				if p.ToolCall.Name == "" {
					return violation("tool call %d has no name", i)
				}
				calls++
			}
		}
		if calls != 0 && calls != len(turn.Parts) {
			return violation("model turn mixes text and tool calls")
		}

	case RoleToolResult:
		if !awaitingResults {
			return violation("tool-result turn without a preceding tool-call turn")
		}
		calls := prev.ToolCalls()
		if len(calls) != len(turn.Parts) {
			return violation("%d result(s) for %d tool call(s)", len(turn.Parts), len(calls))
		}
		for i, p := range turn.Parts {
			if p.ToolResult == nil {
				return violation("tool-result part %d is not a tool result", i)
			}
			if p.ToolResult.Name != calls[i].Name {
				return violation("result %d is for %q, call %d was %q", i, p.ToolResult.Name, i, calls[i].Name)
			}
			if calls[i].ID != "" && p.ToolResult.ID != "" && calls[i].ID != p.ToolResult.ID {
				return violation("result %d has call id %q, expected %q", i, p.ToolResult.ID, calls[i].ID)
			}
		}

	default:
		return violation("unknown role")
	}
	return nil
}
