// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"github.com/AleutianAI/AleutianCRM/services/assistant/display"
	"github.com/AleutianAI/AleutianCRM/services/assistant/engine"
	"github.com/AleutianAI/AleutianCRM/services/assistant/history"
	"github.com/AleutianAI/AleutianCRM/services/assistant/session"
	"github.com/AleutianAI/AleutianCRM/services/assistant/tools"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeEmptyMessage    = "EMPTY_MESSAGE"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeSessionAborted  = "SESSION_ABORTED"
	CodeSessionClosed   = "SESSION_CLOSED"
	CodeQueueFull       = "QUEUE_FULL"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SessionResponse describes one session.
type SessionResponse struct {
	session.Info

	// Error is the reason an aborted session stopped.
	Error string `json:"error,omitempty"`
}

// ListSessionsResponse is returned by GET /sessions.
type ListSessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
}

// SendMessageRequest is the body of POST /sessions/:id/messages.
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`

	// ContextHint describes what the user is looking at, for this turn only.
	ContextHint string `json:"context_hint,omitempty"`

	// Wait holds the response until the turn finishes.
	Wait bool `json:"wait,omitempty"`
}

// SendMessageResponse is returned by POST /sessions/:id/messages.
//
// Without wait, or when waiting timed out, only TurnID is set and the
// status is 202. Otherwise Outcome is set and the status is 200; a model
// failure is reported through Error and ErrorKind.
type SendMessageResponse struct {
	TurnID    string              `json:"turn_id"`
	Pending   bool                `json:"pending,omitempty"`
	Outcome   *engine.TurnOutcome `json:"outcome,omitempty"`
	Error     string              `json:"error,omitempty"`
	ErrorKind string              `json:"error_kind,omitempty"`
}

// MessagesResponse is returned by GET /sessions/:id/messages.
type MessagesResponse struct {
	Messages []display.Message `json:"messages"`
}

// HistoryResponse is returned by GET /sessions/:id/history.
type HistoryResponse struct {
	Turns []history.Turn `json:"turns"`
}

// ToolsResponse is returned by GET /tools.
type ToolsResponse struct {
	Tools []tools.ToolSpec `json:"tools"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Tools    int    `json:"tools"`
}

// StreamFrame is one websocket message of GET /sessions/:id/stream.
//
// The first frame is a snapshot of the transcript; each following frame is
// a single update. A new snapshot is sent whenever the server had to drop
// updates for a slow reader.
type StreamFrame struct {
	Type     string            `json:"type"` // "snapshot" or "update"
	Messages []display.Message `json:"messages,omitempty"`
	Op       display.Op        `json:"op,omitempty"`
	Message  *display.Message  `json:"message,omitempty"`
}
