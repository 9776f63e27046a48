// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package display derives the chat transcript shown to the user from engine
// events. It never reads or writes the wire history.
package display

import "time"

// Sender is who a message appears to come from.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Kind selects how a message is rendered.
type Kind string

const (
	KindText          Kind = "text"
	KindDraft         Kind = "draft"
	KindSearchResults Kind = "searchResults"
	KindLoading       Kind = "loading"
)

// Message is one entry of the rendered transcript.
type Message struct {
	ID        string    `json:"id"`
	TurnID    string    `json:"turn_id"`
	Sender    Sender    `json:"sender"`
	Kind      Kind      `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Error     bool      `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Draft is an email prepared for the user to review. Handlers return it as
// result data to get a draft card.
type Draft struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// SearchHit is one document passage.
type SearchHit struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// SearchResults is a ranked list of hits. Handlers return it as result data
// to get a search results card.
type SearchResults struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
}
