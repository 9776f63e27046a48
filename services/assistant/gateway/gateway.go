// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway is the boundary to the remote conversational model.
//
// A Gateway takes the full wire history plus an optional context hint and
// returns either free text or a list of tool calls, never both. Transport
// problems, timeouts and unusable replies come back as *Error.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianCRM/services/assistant/history"
)

// Request is one model call.
type Request struct {
	// History is the complete conversation so far, oldest first.
	History []history.Turn

	// ContextHint is appended to the system instruction for this call only.
	ContextHint string

	// AllowTools lets the model answer with tool calls. The engine clears it
	// for the second round so the reply is the final text.
	AllowTools bool

	// Round is 1 or 2; used for metrics and tracing only.
	Round int
}

// Usage reports token counts when the provider returns them.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Reply is the model's answer. At most one of Text and ToolCalls is set;
// both empty means the model produced nothing.
type Reply struct {
	Text      string
	ToolCalls []history.ToolCall
	Usage     Usage
}

// Empty reports whether the reply carries neither text nor tool calls.
func (r Reply) Empty() bool {
	return r.Text == "" && len(r.ToolCalls) == 0
}

// Gateway sends a conversation to the model.
type Gateway interface {
	Send(ctx context.Context, req Request) (Reply, error)
}

// ErrorKind classifies a gateway failure. Values are safe Prometheus labels.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindAuth      ErrorKind = "auth"
	KindRateLimit ErrorKind = "rate_limit"
	KindServer    ErrorKind = "server"
	KindMalformed ErrorKind = "malformed"
	KindTransport ErrorKind = "transport"
	KindCanceled  ErrorKind = "canceled"
)

// Error is returned by Send for every failure.
type Error struct {
	Kind  ErrorKind
	Model string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %s (%s): %s", e.Kind, e.Model, SafeLogString(e.Err.Error()))
}

func (e *Error) Unwrap() error { return e.Err }

// ErrMalformedReply is wrapped by *Error when the provider answered with
// something that cannot be turned into a Reply.
var ErrMalformedReply = errors.New("malformed model reply")

// KindOf returns the kind of a gateway error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}
