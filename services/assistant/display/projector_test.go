// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCRM/services/assistant/engine"
)

func kinds(msgs []Message) []Kind {
	out := make([]Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func TestProjector_SingleRoundTurn(t *testing.T) {
	p := NewProjector()
	p.Handle(engine.Event{Kind: engine.EventUserSubmitted, TurnID: "t1", Text: "hi"})
	p.Handle(engine.Event{Kind: engine.EventLoadingStarted, TurnID: "t1"})

	assert.Equal(t, []Kind{KindText, KindLoading}, kinds(p.Messages()))

	p.Handle(engine.Event{Kind: engine.EventTextReady, TurnID: "t1", Text: "Hello!"})
	p.Handle(engine.Event{Kind: engine.EventLoadingEnded, TurnID: "t1"})

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, SenderUser, msgs[0].Sender)
	assert.Equal(t, "hi", msgs[0].Payload)
	assert.Equal(t, SenderAssistant, msgs[1].Sender)
	assert.Equal(t, KindText, msgs[1].Kind)
	assert.Equal(t, "Hello!", msgs[1].Payload)
	assert.False(t, msgs[1].Error)
}

func TestProjector_ToolCards(t *testing.T) {
	p := NewProjector()
	p.Handle(engine.Event{Kind: engine.EventUserSubmitted, TurnID: "t1", Text: "draft it"})
	p.Handle(engine.Event{Kind: engine.EventLoadingStarted, TurnID: "t1"})
	p.Handle(engine.Event{Kind: engine.EventToolRendered, TurnID: "t1", Tool: "draftEmail",
		Data: Draft{Recipient: "bob@x.com", Subject: "Hi", Body: "Hello Bob"}})
	p.Handle(engine.Event{Kind: engine.EventToolRendered, TurnID: "t1", Tool: "createClientLead",
		Data: map[string]any{"id": "maria-lopez-001"}})
	p.Handle(engine.Event{Kind: engine.EventToolRendered, TurnID: "t1", Tool: "searchDocuments",
		Data: &SearchResults{Query: "pricing", Hits: []SearchHit{{Title: "Pricing"}}}})
	p.Handle(engine.Event{Kind: engine.EventTextReady, TurnID: "t1", Text: "Drafted."})
	p.Handle(engine.Event{Kind: engine.EventLoadingEnded, TurnID: "t1"})

	msgs := p.Messages()
	assert.Equal(t, []Kind{KindText, KindDraft, KindSearchResults, KindText}, kinds(msgs))
	assert.Equal(t, "bob@x.com", msgs[1].Payload.(Draft).Recipient)
	assert.Equal(t, "pricing", msgs[2].Payload.(SearchResults).Query)
}

func TestProjector_FailureIsErrorText(t *testing.T) {
	p := NewProjector()
	p.Handle(engine.Event{Kind: engine.EventUserSubmitted, TurnID: "t1", Text: "hi"})
	p.Handle(engine.Event{Kind: engine.EventLoadingStarted, TurnID: "t1"})
	p.Handle(engine.Event{Kind: engine.EventTurnFailed, TurnID: "t1", Text: engine.DefaultFallbackMessage})
	p.Handle(engine.Event{Kind: engine.EventLoadingEnded, TurnID: "t1"})

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Error)
	assert.Equal(t, engine.DefaultFallbackMessage, msgs[1].Payload)
}

func TestProjector_EmptyReplyProjectsNothing(t *testing.T) {
	p := NewProjector()
	p.Handle(engine.Event{Kind: engine.EventUserSubmitted, TurnID: "t1", Text: "hi"})
	p.Handle(engine.Event{Kind: engine.EventLoadingStarted, TurnID: "t1"})
	p.Handle(engine.Event{Kind: engine.EventLoadingEnded, TurnID: "t1"})

	assert.Equal(t, []Kind{KindText}, kinds(p.Messages()))
}

func TestProjector_Subscribe(t *testing.T) {
	p := NewProjector()
	ch, cancel := p.Subscribe(8)

	p.Handle(engine.Event{Kind: engine.EventLoadingStarted, TurnID: "t1"})
	p.Handle(engine.Event{Kind: engine.EventLoadingEnded, TurnID: "t1"})

	first := <-ch
	second := <-ch
	assert.Equal(t, OpAppend, first.Op)
	assert.Equal(t, OpRemove, second.Op)
	assert.Equal(t, first.Message.ID, second.Message.ID)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestProjector_SlowSubscriberDropped(t *testing.T) {
	p := NewProjector()
	ch, _ := p.Subscribe(1)

	p.Handle(engine.Event{Kind: engine.EventUserSubmitted, TurnID: "t1", Text: "a"})
	p.Handle(engine.Event{Kind: engine.EventUserSubmitted, TurnID: "t2", Text: "b"})

	<-ch
	_, open := <-ch
	assert.False(t, open)
	assert.Len(t, p.Messages(), 2, "dropping a subscriber never loses messages")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		data any
		want Kind
		ok   bool
	}{
		{"nil", nil, "", false},
		{"draft struct", Draft{Recipient: "a", Subject: "b", Body: "c"}, KindDraft, true},
		{"draft map", map[string]any{"recipient": "a", "subject": "b", "body": "c"}, KindDraft, true},
		{"partial draft map", map[string]any{"recipient": "a", "subject": "b"}, "", false},
		{"results map", map[string]any{"query": "q", "results": []any{map[string]any{"title": "x"}}}, KindSearchResults, true},
		{"lead", struct {
			ID string `json:"id"`
		}{ID: "maria-lopez-001"}, "", false},
		{"string", "plain", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, _, ok := Classify(tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, kind)
		})
	}
}
