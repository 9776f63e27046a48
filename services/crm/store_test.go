// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_LeadIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateLead(ctx, Lead{Name: "Maria Lopez", Email: "maria@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "maria-lopez-001", first.ID)
	assert.Equal(t, LeadNew, first.Status)

	second, err := s.CreateLead(ctx, Lead{Name: "  maria LOPEZ ", Email: "maria.lopez@y.com"})
	require.NoError(t, err)
	assert.Equal(t, "maria-lopez-002", second.ID)

	other, err := s.CreateLead(ctx, Lead{Name: "Maria Lopez-Smith", Email: "mls@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "maria-lopez-smith-001", other.ID)

	third, err := s.CreateLead(ctx, Lead{Name: "Maria Lopez", Email: "m3@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "maria-lopez-003", third.ID, "longer names sharing the prefix are not counted")
}

func TestStore_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateLead(ctx, Lead{Name: "Maria Lopez", Email: "maria@x.com"})
	require.NoError(t, err)
	_, err = s.CreateLead(ctx, Lead{Name: "Someone Else", Email: "MARIA@x.com"})
	assert.ErrorIs(t, err, ErrDuplicateLead)
}

func TestStore_GetAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateLead(ctx, Lead{Name: "Ana Ruiz", Email: "Ana@Example.com", Company: "Acme"})
	require.NoError(t, err)

	got, err := s.GetLead(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Company)

	byEmail, err := s.FindLeadByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = s.GetLead(ctx, "nobody-001")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindLeadByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateLead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.CreateLead(ctx, Lead{Name: "Ana Ruiz", Email: "ana@example.com"})
	require.NoError(t, err)

	status := LeadQualified
	note := "Wants a demo next week"
	updated, err := s.UpdateLead(ctx, created.ID, LeadPatch{Status: &status, Note: &note})
	require.NoError(t, err)
	assert.Equal(t, LeadQualified, updated.Status)
	assert.Equal(t, []string{note}, updated.Notes)

	second := "Budget approved"
	updated, err = s.UpdateLead(ctx, created.ID, LeadPatch{Note: &second})
	require.NoError(t, err)
	assert.Equal(t, []string{note, second}, updated.Notes)
	assert.Equal(t, LeadQualified, updated.Status)

	_, err = s.UpdateLead(ctx, "missing-001", LeadPatch{Note: &note})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AppointmentsAndTickets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC)

	later, err := s.CreateAppointment(ctx, Appointment{Subject: "Ana", Title: "Follow-up", StartTime: base.Add(24 * time.Hour), DurationMinutes: 30})
	require.NoError(t, err)
	sooner, err := s.CreateAppointment(ctx, Appointment{Subject: "Bob", Title: "Intro", StartTime: base, DurationMinutes: 45})
	require.NoError(t, err)
	assert.Equal(t, "APT-00001", later.ID)
	assert.Equal(t, "APT-00002", sooner.ID)
	assert.Equal(t, base.Add(45*time.Minute), sooner.EndTime())

	appts, err := s.ListAppointments(ctx)
	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.Equal(t, sooner.ID, appts[0].ID)

	ticket, err := s.CreateTicket(ctx, Ticket{Subject: "Login broken", Description: "500 on login", Priority: "high"})
	require.NoError(t, err)
	assert.Equal(t, "TCK-00001", ticket.ID)
	assert.Equal(t, "open", ticket.Status)

	tickets, err := s.ListTickets(ctx)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
}

func TestStore_ContextCancelled(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CreateLead(ctx, Lead{Name: "A", Email: "a@x.com"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Maria Lopez":      "maria-lopez",
		"  O'Brien, Sean ": "o-brien-sean",
		"José Núñez":       "josé-núñez",
		"!!!":              "lead",
		"ACME 2 Corp":      "acme-2-corp",
	}
	for in, want := range tests {
		assert.Equal(t, want, slugify(in), in)
	}
}
