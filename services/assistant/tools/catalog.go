// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

// Tool names of the CRM catalog. Handlers are bound to these names by the host.
const (
	SearchDocuments     = "searchDocuments"
	CreateClientLead    = "createClientLead"
	UpdateLead          = "updateLead"
	ScheduleAppointment = "scheduleAppointment"
	DraftEmail          = "draftEmail"
	CreateSupportTicket = "createSupportTicket"
)

// Lead lifecycle values accepted by updateLead.
var leadStatuses = []string{"new", "contacted", "qualified", "proposal", "won", "lost"}

// CRMCatalog returns the tool specs the CRM assistant exposes to the model.
func CRMCatalog() []ToolSpec {
	return []ToolSpec{
		{
			Name:        SearchDocuments,
			Description: "Search the company document library (product sheets, pricing, policies, playbooks) and return the most relevant passages.",
			Parameters: map[string]ParamSpec{
				"query": {Type: ParamString, Description: "Free-text search query.", Required: true},
				"limit": {Type: ParamInteger, Description: "Maximum number of results, 1-10. Defaults to 5."},
			},
		},
		{
			Name:        CreateClientLead,
			Description: "Create a new client lead in the CRM.",
			Parameters: map[string]ParamSpec{
				"name":    {Type: ParamString, Description: "Full name of the contact.", Required: true},
				"email":   {Type: ParamString, Description: "Email address of the contact.", Required: true},
				"phone":   {Type: ParamString, Description: "Phone number."},
				"company": {Type: ParamString, Description: "Company the contact works for."},
				"source": {
					Type:        ParamString,
					Description: "Where the lead came from.",
					Enum:        []string{"website", "referral", "event", "cold_outreach", "other"},
				},
			},
		},
		{
			Name:        UpdateLead,
			Description: "Update an existing lead. Identify the lead by its id or by its email address.",
			Parameters: map[string]ParamSpec{
				"leadId":  {Type: ParamString, Description: "Lead id, for example maria-lopez-001."},
				"email":   {Type: ParamString, Description: "Email address of the lead when the id is unknown."},
				"status":  {Type: ParamString, Description: "New pipeline status.", Enum: leadStatuses},
				"notes":   {Type: ParamString, Description: "Notes to append to the lead."},
				"phone":   {Type: ParamString, Description: "New phone number."},
				"company": {Type: ParamString, Description: "New company name."},
			},
		},
		{
			Name:        ScheduleAppointment,
			Description: "Schedule an appointment with a lead or contact on the sales calendar.",
			Parameters: map[string]ParamSpec{
				"subject":         {Type: ParamString, Description: "Who the appointment is with (lead id, name or email).", Required: true},
				"title":           {Type: ParamString, Description: "Short title of the appointment.", Required: true},
				"startTime":       {Type: ParamString, Description: "Start time in ISO 8601 / RFC 3339 format.", Required: true},
				"durationMinutes": {Type: ParamInteger, Description: "Duration in minutes.", Required: true},
			},
		},
		{
			Name:        DraftEmail,
			Description: "Draft an email for the user to review. The email is not sent.",
			Parameters: map[string]ParamSpec{
				"recipient": {Type: ParamString, Description: "Recipient email address or name.", Required: true},
				"subject":   {Type: ParamString, Description: "Email subject line.", Required: true},
				"body":      {Type: ParamString, Description: "Plain-text email body.", Required: true},
			},
		},
		{
			Name:        CreateSupportTicket,
			Description: "Open a customer support ticket.",
			Parameters: map[string]ParamSpec{
				"subject":     {Type: ParamString, Description: "One-line summary of the issue.", Required: true},
				"description": {Type: ParamString, Description: "Details of the issue.", Required: true},
				"priority": {
					Type:        ParamString,
					Description: "Ticket priority.",
					Required:    true,
					Enum:        []string{"low", "medium", "high", "urgent"},
				},
			},
		},
	}
}

// NewCRMRegistry returns an unfrozen registry holding CRMCatalog.
func NewCRMRegistry() (*Registry, error) {
	reg := NewRegistry()
	if err := reg.RegisterAll(CRMCatalog()...); err != nil {
		return nil, err
	}
	return reg, nil
}
