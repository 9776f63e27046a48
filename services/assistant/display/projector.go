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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCRM/services/assistant/engine"
)

// Op is the kind of change pushed to subscribers.
type Op string

const (
	OpAppend Op = "append"
	OpRemove Op = "remove"
)

// Update is one change to the transcript.
type Update struct {
	Op      Op      `json:"op"`
	Message Message `json:"message"`
}

// Projector keeps the rendered transcript of one session.
//
// Description:
//
//	Implements engine.Sink. Each event maps to at most one append or
//	remove: userSubmitted and textReady append text, loadingStarted
//	appends a placeholder that loadingEnded removes, toolRendered appends a
//	card when the tool data has a renderable shape and is ignored
//	otherwise, turnFailed and sessionAborted append an error-flagged text.
//
// Thread Safety: Projector is safe for concurrent use.
type Projector struct {
	mu       sync.RWMutex
	messages []Message
	loading  map[string]string // turn id -> placeholder message id
	subs     map[int]chan Update
	nextSub  int
	now      func() time.Time
	newID    func() string
}

// NewProjector creates an empty projector.
func NewProjector() *Projector {
	return &Projector{
		loading: make(map[string]string),
		subs:    make(map[int]chan Update),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Handle implements engine.Sink.
func (p *Projector) Handle(ev engine.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	at := ev.At
	if at.IsZero() {
		at = p.now()
	}
	msg := Message{ID: p.newID(), TurnID: ev.TurnID, CreatedAt: at}

	switch ev.Kind {
	case engine.EventUserSubmitted:
		msg.Sender, msg.Kind, msg.Payload = SenderUser, KindText, ev.Text
		p.append(msg)

	case engine.EventLoadingStarted:
		msg.Sender, msg.Kind = SenderAssistant, KindLoading
		p.loading[ev.TurnID] = msg.ID
		p.append(msg)

	case engine.EventToolRendered:
		kind, payload, ok := Classify(ev.Data)
		if !ok {
			return
		}
		msg.Sender, msg.Kind, msg.Payload = SenderAssistant, kind, payload
		p.append(msg)

	case engine.EventTextReady:
		msg.Sender, msg.Kind, msg.Payload = SenderAssistant, KindText, ev.Text
		p.append(msg)

	case engine.EventTurnFailed, engine.EventSessionAborted:
		msg.Sender, msg.Kind, msg.Payload, msg.Error = SenderAssistant, KindText, ev.Text, true
		p.append(msg)

	case engine.EventLoadingEnded:
		id, ok := p.loading[ev.TurnID]
		if !ok {
			return
		}
		delete(p.loading, ev.TurnID)
		p.remove(id)
	}
}

// Messages returns a copy of the transcript.
func (p *Projector) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}

// Subscribe returns a channel of subsequent updates and a cancel function.
//
// A subscriber that falls more than buffer updates behind is dropped and
// its channel closed; it should re-read Messages and subscribe again.
func (p *Projector) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Update, buffer)
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Close drops every subscriber.
func (p *Projector) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}

// append and remove must be called with p.mu held.
func (p *Projector) append(msg Message) {
	p.messages = append(p.messages, msg)
	p.publish(Update{Op: OpAppend, Message: msg})
}

func (p *Projector) remove(id string) {
	for i, m := range p.messages {
		if m.ID == id {
			p.messages = append(p.messages[:i:i], p.messages[i+1:]...)
			p.publish(Update{Op: OpRemove, Message: m})
			return
		}
	}
}

func (p *Projector) publish(u Update) {
	for id, ch := range p.subs {
		select {
		case ch <- u:
		default:
			delete(p.subs, id)
			close(ch)
		}
	}
}
