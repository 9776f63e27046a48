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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianCRM/services/assistant/dispatch"
	"github.com/AleutianAI/AleutianCRM/services/assistant/display"
	"github.com/AleutianAI/AleutianCRM/services/assistant/tools"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 10
	maxAppointmentMins = 24 * 60
)

// startTimeLayouts are tried in order; the zoneless ones are read in the
// handler's location.
var startTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// Handlers implements the CRM tools on top of a Store and a Library.
//
// Description:
//
//	Arguments arrive already validated against the tool specs. Problems
//	the model can fix (unknown lead, bad time, duplicate email) come back
//	as failed results; storage errors are returned as errors and reported
//	by the dispatcher as handler failures.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	store    *Store
	library  *Library
	logger   *slog.Logger
	validate *validator.Validate
	loc      *time.Location
}

// NewHandlers creates the handler set. library may be nil, in which case
// searchDocuments reports that no library is configured.
func NewHandlers(store *Store, library *Library, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:    store,
		library:  library,
		logger:   logger,
		validate: validator.New(),
		loc:      time.Local,
	}
}

// Bind registers every CRM tool handler with d.
func (h *Handlers) Bind(d *dispatch.Dispatcher) error {
	bindings := map[string]dispatch.HandlerFunc{
		tools.SearchDocuments:     h.SearchDocuments,
		tools.CreateClientLead:    h.CreateClientLead,
		tools.UpdateLead:          h.UpdateLead,
		tools.ScheduleAppointment: h.ScheduleAppointment,
		tools.DraftEmail:          h.DraftEmail,
		tools.CreateSupportTicket: h.CreateSupportTicket,
	}
	for name, fn := range bindings {
		if err := d.Bind(name, fn); err != nil {
			return fmt.Errorf("crm: binding %s: %w", name, err)
		}
	}
	return nil
}

// SearchDocuments handles searchDocuments.
func (h *Handlers) SearchDocuments(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	if h.library == nil {
		return dispatch.Fail("The document library is not configured."), nil
	}
	query := args.String("query")
	limit := args.IntOr("limit", defaultSearchLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	hits := h.library.Search(query, limit)
	h.logger.Debug("document search", slog.String("query", query), slog.Int("hits", len(hits)))
	results := display.SearchResults{Query: query, Hits: hits}
	if len(hits) == 0 {
		return dispatch.OK(fmt.Sprintf("No documents matched %q.", query), results), nil
	}
	return dispatch.OK(fmt.Sprintf("Found %d relevant passages for %q.", len(hits), query), results), nil
}

// CreateClientLead handles createClientLead.
func (h *Handlers) CreateClientLead(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	email := args.String("email")
	if err := h.validate.Var(email, "email"); err != nil {
		return dispatch.Failf("%q is not a valid email address.", email), nil
	}

	lead, err := h.store.CreateLead(ctx, Lead{
		Name:    args.String("name"),
		Email:   email,
		Phone:   args.String("phone"),
		Company: args.String("company"),
		Source:  args.String("source"),
	})
	if errors.Is(err, ErrDuplicateLead) {
		existing, findErr := h.store.FindLeadByEmail(ctx, email)
		if findErr != nil {
			return dispatch.Failf("A lead with email %s already exists.", email), nil
		}
		return dispatch.Failf("A lead with email %s already exists (%s).", email, existing.ID), nil
	}
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.OK(fmt.Sprintf("Created lead %s for %s.", lead.ID, lead.Name), lead), nil
}

// UpdateLead handles updateLead. The lead is found by leadId, or by email
// when no id is given.
func (h *Handlers) UpdateLead(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	lead, problem, err := h.resolveLead(ctx, args.String("leadId"), args.String("email"))
	if err != nil {
		return dispatch.Result{}, err
	}
	if problem != "" {
		return dispatch.Fail(problem), nil
	}

	var patch LeadPatch
	if args.Has("status") {
		status := LeadStatus(args.String("status"))
		patch.Status = &status
	}
	if args.Has("notes") {
		note := args.String("notes")
		patch.Note = &note
	}
	if args.Has("phone") {
		phone := args.String("phone")
		patch.Phone = &phone
	}
	if args.Has("company") {
		company := args.String("company")
		patch.Company = &company
	}
	if patch.Empty() {
		return dispatch.Failf("Nothing to update for lead %s: give a status, notes, phone or company.", lead.ID), nil
	}

	updated, err := h.store.UpdateLead(ctx, lead.ID, patch)
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.OK(fmt.Sprintf("Updated lead %s (status %s).", updated.ID, updated.Status), updated), nil
}

// resolveLead finds the lead by id, else by email. A non-empty problem is a
// message for the model.
func (h *Handlers) resolveLead(ctx context.Context, id, email string) (lead Lead, problem string, err error) {
	ref := id
	switch {
	case id != "":
		lead, err = h.store.GetLead(ctx, id)
	case email != "":
		ref = email
		lead, err = h.store.FindLeadByEmail(ctx, email)
	default:
		return Lead{}, "Provide leadId or email to identify the lead.", nil
	}
	if errors.Is(err, ErrNotFound) {
		return Lead{}, fmt.Sprintf("No lead found for %s.", ref), nil
	}
	return lead, "", err
}

// ScheduleAppointment handles scheduleAppointment.
func (h *Handlers) ScheduleAppointment(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	start, ok := h.parseStart(args.String("startTime"))
	if !ok {
		return dispatch.Failf("startTime %q is not a valid date and time; use RFC 3339, e.g. 2025-06-03T14:00:00-07:00.",
			args.String("startTime")), nil
	}
	minutes, _ := args.Int("durationMinutes")
	if minutes <= 0 || minutes > maxAppointmentMins {
		return dispatch.Failf("durationMinutes must be between 1 and %d.", maxAppointmentMins), nil
	}

	subject := args.String("subject")
	appt := Appointment{
		Subject:         subject,
		Title:           args.String("title"),
		StartTime:       start,
		DurationMinutes: minutes,
	}
	if lead, err := h.store.GetLead(ctx, subject); err == nil {
		appt.LeadID = lead.ID
	} else if strings.Contains(subject, "@") {
		if lead, err := h.store.FindLeadByEmail(ctx, subject); err == nil {
			appt.LeadID = lead.ID
		}
	}

	saved, err := h.store.CreateAppointment(ctx, appt)
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.OK(fmt.Sprintf("Scheduled %q with %s on %s for %d minutes (%s).",
		saved.Title, saved.Subject, saved.StartTime.Format("Mon Jan 2 15:04 MST"), saved.DurationMinutes, saved.ID), saved), nil
}

func (h *Handlers) parseStart(v string) (time.Time, bool) {
	for _, layout := range startTimeLayouts {
		if t, err := time.ParseInLocation(layout, v, h.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DraftEmail handles draftEmail. Nothing is sent; the draft is returned for
// the user to review.
func (h *Handlers) DraftEmail(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	draft := display.Draft{
		Recipient: args.String("recipient"),
		Subject:   args.String("subject"),
		Body:      args.String("body"),
	}
	return dispatch.OK(fmt.Sprintf("Drafted an email to %s. It has not been sent.", draft.Recipient), draft), nil
}

// CreateSupportTicket handles createSupportTicket.
func (h *Handlers) CreateSupportTicket(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	t, err := h.store.CreateTicket(ctx, Ticket{
		Subject:     args.String("subject"),
		Description: args.String("description"),
		Priority:    args.String("priority"),
	})
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.OK(fmt.Sprintf("Opened ticket %s with %s priority.", t.ID, t.Priority), t), nil
}
