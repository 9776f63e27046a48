// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package crm is the host side of the assistant: the records the tools act
// on, the document library searchDocuments reads, and the tool handlers.
package crm

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateLead is returned when a lead with the same email exists.
	ErrDuplicateLead = errors.New("a lead with this email already exists")
)

// LeadStatus is the pipeline position of a lead.
type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadContacted LeadStatus = "contacted"
	LeadQualified LeadStatus = "qualified"
	LeadProposal  LeadStatus = "proposal"
	LeadWon       LeadStatus = "won"
	LeadLost      LeadStatus = "lost"
)

// Lead is a prospective client.
type Lead struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone,omitempty"`
	Company   string     `json:"company,omitempty"`
	Source    string     `json:"source,omitempty"`
	Status    LeadStatus `json:"status"`
	Notes     []string   `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LeadPatch lists the fields updateLead may change. Nil fields are left alone.
type LeadPatch struct {
	Status  *LeadStatus
	Note    *string
	Phone   *string
	Company *string
}

// Empty reports whether the patch changes nothing.
func (p LeadPatch) Empty() bool {
	return p.Status == nil && p.Note == nil && p.Phone == nil && p.Company == nil
}

// Appointment is a calendar entry.
type Appointment struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	LeadID          string    `json:"lead_id,omitempty"`
	Title           string    `json:"title"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
}

// EndTime returns the start time plus the duration.
func (a Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Ticket is a customer support ticket.
type Ticket struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}
