// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianCRM/services/assistant/dispatch"
)

// ToolOutcome is one dispatched call of a turn.
type ToolOutcome struct {
	Name   string          `json:"name"`
	Args   map[string]any  `json:"args"`
	Result dispatch.Result `json:"result"`
}

// TurnOutcome summarises a finished turn.
type TurnOutcome struct {
	TurnID string `json:"turn_id"`

	// Text is the final assistant reply, empty for an empty reply or a failure.
	Text string `json:"text,omitempty"`

	// Tools lists dispatched calls in the order the model issued them.
	Tools []ToolOutcome `json:"tools,omitempty"`

	// Rounds is the number of model calls made: 1 or 2.
	Rounds int `json:"rounds"`

	// Empty is set when the last reply carried neither text nor tool calls.
	Empty bool `json:"empty,omitempty"`

	Duration time.Duration `json:"duration"`

	// Err is a gateway failure, ErrSessionAborted or ErrEngineClosed.
	Err error `json:"-"`
}

// Ticket tracks one submitted user message.
type Ticket struct {
	ID string

	done    chan struct{}
	once    sync.Once
	outcome TurnOutcome
}

func newTicket(id string) *Ticket {
	return &Ticket{ID: id, done: make(chan struct{})}
}

func (t *Ticket) finish(o TurnOutcome) {
	t.once.Do(func() {
		o.TurnID = t.ID
		t.outcome = o
		close(t.done)
	})
}

// Done is closed when the turn has finished.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Outcome returns the outcome once the turn has finished.
func (t *Ticket) Outcome() (TurnOutcome, bool) {
	select {
	case <-t.done:
		return t.outcome, true
	default:
		return TurnOutcome{}, false
	}
}

// Wait blocks until the turn finishes or ctx is done. The returned error
// is the outcome's Err, or ctx.Err() if ctx ended first.
func (t *Ticket) Wait(ctx context.Context) (TurnOutcome, error) {
	select {
	case <-t.done:
		return t.outcome, t.outcome.Err
	case <-ctx.Done():
		return TurnOutcome{TurnID: t.ID}, ctx.Err()
	}
}
