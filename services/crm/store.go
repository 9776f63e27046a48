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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dgraph-io/badger/v4"
)

// Key layout.
const (
	keyPrefixLead       = "crm:lead:id:"
	keyPrefixLeadEmail  = "crm:lead:email:"
	keyPrefixAppt       = "crm:appt:"
	keyPrefixTicket     = "crm:ticket:"
	keySeqAppointment   = "crm:seq:appt"
	keySeqTicket        = "crm:seq:ticket"
	sequenceBandwidth   = 100
	maxConflictAttempts = 3
)

// Store persists CRM records in badger.
//
// Description:
//
//	Leads get readable ids derived from the contact name with a per-name
//	counter (maria-lopez-001, maria-lopez-002). Appointments and tickets
//	are numbered from badger sequences. Lead emails are unique,
//	case-insensitively.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	db      *badger.DB
	apptSeq *badger.Sequence
	tickSeq *badger.Sequence
	logger  *slog.Logger
	now     func() time.Time
	ownsDB  bool
}

// OpenStore opens (or creates) the store in dir. An empty dir keeps
// everything in memory.
func OpenStore(dir string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("crm: opening store: %w", err)
	}
	s, err := NewStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewStore wraps an open database. Close releases the sequences but leaves
// db open.
func NewStore(db *badger.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	apptSeq, err := db.GetSequence([]byte(keySeqAppointment), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("crm: appointment sequence: %w", err)
	}
	tickSeq, err := db.GetSequence([]byte(keySeqTicket), sequenceBandwidth)
	if err != nil {
		_ = apptSeq.Release()
		return nil, fmt.Errorf("crm: ticket sequence: %w", err)
	}
	return &Store{
		db:      db,
		apptSeq: apptSeq,
		tickSeq: tickSeq,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Close releases the store.
func (s *Store) Close() error {
	errs := []error{s.apptSeq.Release(), s.tickSeq.Release()}
	if s.ownsDB {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// =============================================================================
// Leads
// =============================================================================

// CreateLead stores a new lead with status "new" unless one is given.
func (s *Store) CreateLead(ctx context.Context, lead Lead) (Lead, error) {
	if err := ctx.Err(); err != nil {
		return Lead{}, err
	}
	lead.Name = strings.TrimSpace(lead.Name)
	lead.Email = strings.TrimSpace(lead.Email)
	if lead.Name == "" || lead.Email == "" {
		return Lead{}, errors.New("crm: lead needs a name and an email")
	}
	if lead.Status == "" {
		lead.Status = LeadNew
	}
	now := s.now().UTC()
	lead.CreatedAt, lead.UpdatedAt = now, now
	emailKey := []byte(keyPrefixLeadEmail + strings.ToLower(lead.Email))
	base := slugify(lead.Name)

	err := s.retryConflicts(func(txn *badger.Txn) error {
		if _, err := txn.Get(emailKey); err == nil {
			return ErrDuplicateLead
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		n, err := nextLeadNumber(txn, base)
		if err != nil {
			return err
		}
		lead.ID = fmt.Sprintf("%s-%03d", base, n)

		if err := setJSON(txn, keyPrefixLead+lead.ID, lead); err != nil {
			return err
		}
		return txn.Set(emailKey, []byte(lead.ID))
	})
	if err != nil {
		return Lead{}, fmt.Errorf("crm: create lead: %w", err)
	}
	s.logger.Info("lead created", slog.String("lead_id", lead.ID))
	return lead, nil
}

// GetLead returns the lead with id.
func (s *Store) GetLead(ctx context.Context, id string) (Lead, error) {
	if err := ctx.Err(); err != nil {
		return Lead{}, err
	}
	var lead Lead
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyPrefixLead+id, &lead)
	})
	if err != nil {
		return Lead{}, fmt.Errorf("crm: lead %s: %w", id, err)
	}
	return lead, nil
}

// FindLeadByEmail returns the lead registered under email.
func (s *Store) FindLeadByEmail(ctx context.Context, email string) (Lead, error) {
	if err := ctx.Err(); err != nil {
		return Lead{}, err
	}
	var lead Lead
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixLeadEmail + strings.ToLower(strings.TrimSpace(email))))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, keyPrefixLead+string(id), &lead)
	})
	if err != nil {
		return Lead{}, fmt.Errorf("crm: lead with email %s: %w", email, err)
	}
	return lead, nil
}

// UpdateLead applies patch to the lead with id and returns the result.
func (s *Store) UpdateLead(ctx context.Context, id string, patch LeadPatch) (Lead, error) {
	if err := ctx.Err(); err != nil {
		return Lead{}, err
	}
	var lead Lead
	err := s.retryConflicts(func(txn *badger.Txn) error {
		lead = Lead{}
		if err := getJSON(txn, keyPrefixLead+id, &lead); err != nil {
			return err
		}
		if patch.Status != nil {
			lead.Status = *patch.Status
		}
		if patch.Note != nil && strings.TrimSpace(*patch.Note) != "" {
			lead.Notes = append(lead.Notes, strings.TrimSpace(*patch.Note))
		}
		if patch.Phone != nil {
			lead.Phone = *patch.Phone
		}
		if patch.Company != nil {
			lead.Company = *patch.Company
		}
		lead.UpdatedAt = s.now().UTC()
		return setJSON(txn, keyPrefixLead+id, lead)
	})
	if err != nil {
		return Lead{}, fmt.Errorf("crm: update lead %s: %w", id, err)
	}
	return lead, nil
}

// ListLeads returns all leads ordered by id.
func (s *Store) ListLeads(ctx context.Context) ([]Lead, error) {
	return listJSON[Lead](ctx, s.db, keyPrefixLead)
}

// =============================================================================
// Appointments and Tickets
// =============================================================================

// CreateAppointment stores appt under a new APT id.
func (s *Store) CreateAppointment(ctx context.Context, appt Appointment) (Appointment, error) {
	if err := ctx.Err(); err != nil {
		return Appointment{}, err
	}
	n, err := s.apptSeq.Next()
	if err != nil {
		return Appointment{}, fmt.Errorf("crm: appointment id: %w", err)
	}
	appt.ID = fmt.Sprintf("APT-%05d", n+1)
	appt.CreatedAt = s.now().UTC()
	if err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, keyPrefixAppt+appt.ID, appt)
	}); err != nil {
		return Appointment{}, fmt.Errorf("crm: create appointment: %w", err)
	}
	s.logger.Info("appointment created", slog.String("appointment_id", appt.ID))
	return appt, nil
}

// ListAppointments returns all appointments ordered by start time.
func (s *Store) ListAppointments(ctx context.Context) ([]Appointment, error) {
	appts, err := listJSON[Appointment](ctx, s.db, keyPrefixAppt)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(appts, func(i, j int) bool { return appts[i].StartTime.Before(appts[j].StartTime) })
	return appts, nil
}

// CreateTicket stores t under a new TCK id with status "open".
func (s *Store) CreateTicket(ctx context.Context, t Ticket) (Ticket, error) {
	if err := ctx.Err(); err != nil {
		return Ticket{}, err
	}
	n, err := s.tickSeq.Next()
	if err != nil {
		return Ticket{}, fmt.Errorf("crm: ticket id: %w", err)
	}
	t.ID = fmt.Sprintf("TCK-%05d", n+1)
	t.Status = "open"
	t.CreatedAt = s.now().UTC()
	if err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, keyPrefixTicket+t.ID, t)
	}); err != nil {
		return Ticket{}, fmt.Errorf("crm: create ticket: %w", err)
	}
	s.logger.Info("ticket created", slog.String("ticket_id", t.ID), slog.String("priority", t.Priority))
	return t, nil
}

// ListTickets returns all tickets ordered by id.
func (s *Store) ListTickets(ctx context.Context) ([]Ticket, error) {
	return listJSON[Ticket](ctx, s.db, keyPrefixTicket)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Store) retryConflicts(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictAttempts; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

func listJSON[T any](ctx context.Context, db *badger.DB, prefix string) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("crm: list %s: %w", prefix, err)
	}
	return out, nil
}

// nextLeadNumber returns one more than the highest counter used by ids of
// the form base-NNN.
func nextLeadNumber(txn *badger.Txn, base string) (int, error) {
	prefix := []byte(keyPrefixLead + base + "-")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	highest := 0
	for it.Rewind(); it.Valid(); it.Next() {
		rest := string(it.Item().Key()[len(prefix):])
		n, err := strconv.Atoi(rest)
		if err != nil {
			// A longer name sharing the prefix, e.g. maria-lopez-smith-001.
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// slugify lowercases name and joins its letter and digit runs with hyphens.
func slugify(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	if b.Len() == 0 {
		return "lead"
	}
	return b.String()
}
