// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session keeps the live assistant conversations of a process.
//
// Every session owns its own engine, history and projector; nothing mutable
// is shared between sessions. The set is bounded: adding a session beyond
// capacity evicts the least recently used one and closes its engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianCRM/services/assistant/display"
	"github.com/AleutianAI/AleutianCRM/services/assistant/engine"
	"github.com/AleutianAI/AleutianCRM/services/assistant/gateway"
)

var (
	// ErrSessionNotFound is returned for unknown or already closed session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrManagerClosed is returned by Create after Shutdown.
	ErrManagerClosed = errors.New("session manager closed")
)

const (
	DefaultMaxSessions = 256
	DefaultIdleTTL     = 30 * time.Minute
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "crm",
		Subsystem: "session",
		Name:      "active",
		Help:      "Number of live assistant sessions",
	})

	sessionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crm",
		Subsystem: "session",
		Name:      "closed_total",
		Help:      "Sessions closed, by reason",
	}, []string{"reason"})
)

// Session is one live conversation.
type Session struct {
	ID        string
	CreatedAt time.Time
	Engine    *engine.Engine
	Projector *display.Projector

	mu         sync.Mutex
	lastActive time.Time
}

// Info is the listing view of a session.
type Info struct {
	ID         string       `json:"id"`
	CreatedAt  time.Time    `json:"created_at"`
	LastActive time.Time    `json:"last_active"`
	State      engine.State `json:"state"`
	InFlight   bool         `json:"in_flight"`
	Turns      int          `json:"turns"`
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// LastActive returns when the session was last looked up.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Info returns a point-in-time summary.
func (s *Session) Info() Info {
	return Info{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive(),
		State:      s.Engine.State(),
		InFlight:   s.Engine.InFlight(),
		Turns:      len(s.Engine.History()),
	}
}

func (s *Session) close() {
	s.Engine.Close()
	s.Projector.Close()
}

// Config tunes a Manager.
type Config struct {
	// MaxSessions bounds the live set. Default DefaultMaxSessions.
	MaxSessions int

	// IdleTTL is how long an idle session survives a Sweep. Default DefaultIdleTTL.
	IdleTTL time.Duration

	// Engine is the template for every new session's engine. SessionID is
	// overwritten per session.
	Engine engine.Config

	Logger *slog.Logger
}

// Manager creates, finds and closes sessions.
//
// Description:
//
//	All sessions share the gateway and dispatcher, which are stateless per
//	call, and get their own engine and projector. Closing a session, by
//	Close, eviction or Sweep, closes its engine (cancelling the running
//	turn) and drops its display subscribers.
//
// Thread Safety: Manager is safe for concurrent use.
type Manager struct {
	gw     gateway.Gateway
	disp   engine.ToolDispatcher
	cfg    Config
	logger *slog.Logger
	cache  *lru.Cache[string, *Session]
	now    func() time.Time

	mu      sync.Mutex
	closed  bool
	reasons map[string]string // session id -> close reason, set before Remove
}

// NewManager creates an empty Manager.
func NewManager(gw gateway.Gateway, disp engine.ToolDispatcher, cfg Config) (*Manager, error) {
	if gw == nil || disp == nil {
		return nil, errors.New("session: gateway and dispatcher are required")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		gw:      gw,
		disp:    disp,
		cfg:     cfg,
		logger:  cfg.Logger,
		now:     time.Now,
		reasons: make(map[string]string),
	}
	cache, err := lru.NewWithEvict[string, *Session](cfg.MaxSessions, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("session: creating cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// onEvict runs outside the cache lock for Add, Remove and Purge.
func (m *Manager) onEvict(id string, s *Session) {
	m.mu.Lock()
	reason, ok := m.reasons[id]
	delete(m.reasons, id)
	switch {
	case ok:
	case m.closed:
		reason = "shutdown"
	default:
		reason = "evicted"
	}
	m.mu.Unlock()

	s.close()
	activeSessions.Dec()
	sessionsClosedTotal.WithLabelValues(reason).Inc()
	m.logger.Info("session closed", slog.String("session_id", id), slog.String("reason", reason))
}

// Create starts a new session.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.mu.Unlock()

	id := uuid.NewString()
	now := m.now()

	ecfg := m.cfg.Engine
	ecfg.SessionID = id
	if ecfg.Logger == nil {
		ecfg.Logger = m.logger
	}
	proj := display.NewProjector()
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		Engine:     engine.New(m.gw, m.disp, proj, ecfg),
		Projector:  proj,
		lastActive: now,
	}

	activeSessions.Inc()
	m.cache.Add(id, s)
	m.logger.Info("session created", slog.String("session_id", id))
	return s, nil
}

// Get returns a live session and marks it recently used.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.touch(m.now())
	return s, nil
}

// List returns summaries of all live sessions, oldest first.
func (m *Manager) List() []Info {
	sessions := m.cache.Values()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.cache.Len()
}

// Close closes one session.
func (m *Manager) Close(id string) error {
	if !m.remove(id, "closed") {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Sweep closes sessions idle for longer than IdleTTL that have no turn in
// flight. It returns the number closed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.cfg.IdleTTL)
	var stale []string
	for _, s := range m.cache.Values() {
		if s.LastActive().Before(cutoff) && !s.Engine.InFlight() {
			stale = append(stale, s.ID)
		}
	}
	closed := 0
	for _, id := range stale {
		if m.remove(id, "idle") {
			closed++
		}
	}
	return closed
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("swept idle sessions", slog.Int("count", n))
			}
		}
	}
}

// Shutdown closes every session and rejects further Create calls.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.cache.Purge()
}

func (m *Manager) remove(id, reason string) bool {
	m.mu.Lock()
	m.reasons[id] = reason
	m.mu.Unlock()
	if m.cache.Remove(id) {
		return true
	}
	m.mu.Lock()
	delete(m.reasons, id)
	m.mu.Unlock()
	return false
}
