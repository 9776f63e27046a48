// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCRM/services/assistant/dispatch"
	"github.com/AleutianAI/AleutianCRM/services/assistant/engine"
	"github.com/AleutianAI/AleutianCRM/services/assistant/gateway"
)

type echoGateway struct{}

func (echoGateway) Send(ctx context.Context, req gateway.Request) (gateway.Reply, error) {
	last := req.History[len(req.History)-1]
	return gateway.Reply{Text: "echo: " + last.Text()}, nil
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, call dispatch.Call) dispatch.Result {
	return dispatch.OK("ok", nil)
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(echoGateway{}, noopDispatcher{}, cfg)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	_, err := NewManager(nil, noopDispatcher{}, Config{})
	assert.Error(t, err)
	_, err = NewManager(echoGateway{}, nil, Config{})
	assert.Error(t, err)
}

func TestManager_CreateGetClose(t *testing.T) {
	m := newTestManager(t, Config{})

	s, err := m.Create()
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, s.ID, s.Engine.SessionID())

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, m.Close(s.ID))
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(s.ID), ErrSessionNotFound)

	_, err = s.Engine.Submit("hello")
	assert.ErrorIs(t, err, engine.ErrEngineClosed)
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m := newTestManager(t, Config{})
	a, err := m.Create()
	require.NoError(t, err)
	b, err := m.Create()
	require.NoError(t, err)

	ticket, err := a.Engine.Submit("only for a")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := ticket.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "echo: only for a", out.Text)

	assert.Len(t, a.Engine.History(), 2)
	assert.Empty(t, b.Engine.History())
	assert.Len(t, a.Projector.Messages(), 2)
	assert.Empty(t, b.Projector.Messages())
}

func TestManager_EvictsLeastRecentlyUsed(t *testing.T) {
	m := newTestManager(t, Config{MaxSessions: 2})

	first, err := m.Create()
	require.NoError(t, err)
	second, err := m.Create()
	require.NoError(t, err)

	// Touch first so second becomes the eviction candidate.
	_, err = m.Get(first.ID)
	require.NoError(t, err)

	_, err = m.Create()
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	_, err = m.Get(second.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = second.Engine.Submit("anyone there?")
	assert.ErrorIs(t, err, engine.ErrEngineClosed)
}

func TestManager_ListOldestFirst(t *testing.T) {
	m := newTestManager(t, Config{})
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		m.now = func() time.Time { return at }
		s, err := m.Create()
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	infos := m.List()
	require.Len(t, infos, 3)
	for i, info := range infos {
		assert.Equal(t, ids[i], info.ID)
		assert.Equal(t, engine.StateIdle, info.State)
		assert.False(t, info.InFlight)
	}
}

func TestManager_Sweep(t *testing.T) {
	m := newTestManager(t, Config{IdleTTL: time.Minute})
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }

	stale, err := m.Create()
	require.NoError(t, err)
	fresh, err := m.Create()
	require.NoError(t, err)

	m.now = func() time.Time { return start.Add(50 * time.Second) }
	_, err = m.Get(fresh.ID)
	require.NoError(t, err)

	m.now = func() time.Time { return start.Add(90 * time.Second) }
	assert.Equal(t, 1, m.Sweep())

	_, err = m.Get(stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestManager_Shutdown(t *testing.T) {
	m, err := NewManager(echoGateway{}, noopDispatcher{}, Config{})
	require.NoError(t, err)
	s, err := m.Create()
	require.NoError(t, err)
	updates, _ := s.Projector.Subscribe(4)

	m.Shutdown()
	m.Shutdown()

	assert.Equal(t, 0, m.Len())
	_, err = m.Create()
	assert.ErrorIs(t, err, ErrManagerClosed)
	_, open := <-updates
	assert.False(t, open)
}
