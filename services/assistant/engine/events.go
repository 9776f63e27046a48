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

import "time"

// EventKind names an engine event observed by the display layer.
type EventKind string

const (
	EventUserSubmitted  EventKind = "userSubmitted"
	EventLoadingStarted EventKind = "loadingStarted"
	EventToolRendered   EventKind = "toolRendered"
	EventTextReady      EventKind = "textReady"
	EventLoadingEnded   EventKind = "loadingEnded"

	// EventTurnFailed carries the generic message shown when the model
	// could not be reached.
	EventTurnFailed EventKind = "turnFailed"

	// EventSessionAborted is emitted once when the engine stops for good.
	EventSessionAborted EventKind = "sessionAborted"
)

// Event is what the engine tells its Sink. Which fields are set depends on Kind.
type Event struct {
	Kind   EventKind
	TurnID string
	At     time.Time

	// Text is the user text, the final reply, or the failure message.
	Text string

	// Tool and Data describe a successful tool result (EventToolRendered).
	Tool string
	Data any
}

// Sink receives events in the order the engine emits them. Handle is
// called from the engine's goroutines and must not block.
type Sink interface {
	Handle(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Handle implements Sink.
func (f SinkFunc) Handle(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Handle(Event) {}
