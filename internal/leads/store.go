// Package leads holds the client-side copy of the lead pipeline. The
// backend is authoritative: every mutation is followed by a full refetch,
// and a refresh response that is older than the newest applied one is
// discarded.
package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/metrics"
	"github.com/foxzi/followup/internal/notify"
)

var (
	// ErrInvalidDraft is returned when a lead draft lacks name or email
	ErrInvalidDraft = errors.New("invalid lead draft")
	// ErrNotConfirmed is returned when the user declines a destructive action
	ErrNotConfirmed = errors.New("not confirmed")
)

// DeletePrompt is passed to the Confirmer before a lead is deleted
const DeletePrompt = "Are you sure you want to delete this lead?"

// Backend is the subset of the API client the store needs
type Backend interface {
	ListLeads(ctx context.Context) ([]api.Lead, error)
	CreateLead(ctx context.Context, req *api.LeadCreate) (*api.Lead, error)
	DeleteLead(ctx context.Context, id int64) error
}

// Cache persists the last applied snapshot
type Cache interface {
	LoadLeads() ([]api.Lead, error)
	SaveLeads(leads []api.Lead) error
}

// Store is the remote lead store
type Store struct {
	backend Backend
	notify  notify.Notifier
	logger  *slog.Logger
	cache   Cache

	mu        sync.RWMutex
	leads     []api.Lead
	issued    uint64
	applied   uint64
	listeners []func()
}

// Option customizes a Store
type Option func(*Store)

// WithCache seeds the store from c and writes every applied refresh to it
func WithCache(c Cache) Option {
	return func(s *Store) { s.cache = c }
}

// New creates a lead store
func New(backend Backend, n notify.Notifier, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		notify:  n,
		logger:  logger.With("component", "leads"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cache != nil {
		cached, err := s.cache.LoadLeads()
		if err != nil {
			s.logger.Warn("failed to load cached leads", "error", err)
		} else {
			s.leads = cloneLeads(cached)
		}
	}
	return s
}

// OnChange registers fn to run after each applied refresh
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Refresh fetches the full lead list and replaces local state.
// On failure the previous state is kept.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.issued++
	gen := s.issued
	s.mu.Unlock()

	leads, err := s.backend.ListLeads(ctx)
	if err != nil {
		metrics.IncRefresh("leads", "error")
		if s.superseded(gen) {
			s.logger.Debug("stale refresh failed", "generation", gen, "error", err)
			return fmt.Errorf("refresh leads: %w", err)
		}
		s.logger.Warn("failed to load leads", "generation", gen, "error", err)
		s.notify.Error("Failed to load leads")
		return fmt.Errorf("refresh leads: %w", err)
	}

	if !s.replace(leads, gen) {
		metrics.IncRefresh("leads", "discarded")
		metrics.IncRefreshDiscarded("leads")
		s.logger.Debug("discarded stale refresh", "generation", gen)
		return nil
	}
	metrics.IncRefresh("leads", "ok")

	if s.cache != nil {
		if err := s.cache.SaveLeads(leads); err != nil {
			s.logger.Warn("failed to cache leads", "error", err)
		}
	}
	s.fireChange()
	return nil
}

func (s *Store) superseded(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return gen < s.applied
}

// replace installs leads if gen is not older than the applied generation
func (s *Store) replace(leads []api.Lead, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen < s.applied {
		return false
	}
	s.applied = gen
	s.leads = cloneLeads(leads)
	return true
}

func (s *Store) fireChange() {
	s.mu.RLock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// Generation returns the generation of the applied snapshot. Zero means
// no refresh has been applied yet.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied
}

// Leads returns a copy of the current list
func (s *Store) Leads() []api.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneLeads(s.leads)
}

// Lead returns a copy of one lead
func (s *Store) Lead(id int64) (api.Lead, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.leads {
		if l.ID == id {
			return cloneLead(l), true
		}
	}
	return api.Lead{}, false
}

// Filter returns leads whose name, email or company contains term,
// ignoring case. An empty term matches everything.
func (s *Store) Filter(term string) []api.Lead {
	term = strings.ToLower(strings.TrimSpace(term))
	all := s.Leads()
	if term == "" {
		return all
	}
	out := all[:0]
	for _, l := range all {
		if strings.Contains(strings.ToLower(l.Name), term) ||
			strings.Contains(strings.ToLower(l.Email), term) ||
			strings.Contains(strings.ToLower(l.Company), term) {
			out = append(out, l)
		}
	}
	return out
}

// Create posts a new lead and refreshes. The refresh outcome is reported
// through the notifier, not the returned error.
func (s *Store) Create(ctx context.Context, draft *api.LeadCreate) (*api.Lead, error) {
	if draft == nil || strings.TrimSpace(draft.Name) == "" || strings.TrimSpace(draft.Email) == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrInvalidDraft)
	}

	lead, err := s.backend.CreateLead(ctx, draft)
	if err != nil {
		s.logger.Warn("failed to create lead", "error", err)
		s.notify.Error(api.Message(err, "Failed to create lead"))
		return nil, fmt.Errorf("create lead: %w", err)
	}

	s.logger.Info("lead created", "lead_id", lead.ID)
	s.notify.Success("Lead created successfully!")
	if err := s.Refresh(ctx); err != nil {
		s.logger.Debug("refresh after create failed", "lead_id", lead.ID, "error", err)
	}
	return lead, nil
}

// Delete removes a lead after confirm approves it
func (s *Store) Delete(ctx context.Context, id int64, confirm notify.Confirmer) error {
	if !confirm.Confirm(DeletePrompt) {
		return ErrNotConfirmed
	}

	if err := s.backend.DeleteLead(ctx, id); err != nil {
		s.logger.Warn("failed to delete lead", "lead_id", id, "error", err)
		s.notify.Error("Failed to delete lead")
		return fmt.Errorf("delete lead %d: %w", id, err)
	}

	s.logger.Info("lead deleted", "lead_id", id)
	s.notify.Success("Lead deleted")
	if err := s.Refresh(ctx); err != nil {
		s.logger.Debug("refresh after delete failed", "lead_id", id, "error", err)
	}
	return nil
}

func cloneLeads(in []api.Lead) []api.Lead {
	if in == nil {
		return nil
	}
	out := make([]api.Lead, len(in))
	for i, l := range in {
		out[i] = cloneLead(l)
	}
	return out
}

// cloneLead copies the pointer fields so callers cannot alias store state
func cloneLead(l api.Lead) api.Lead {
	if l.SequenceID != nil {
		id := *l.SequenceID
		l.SequenceID = &id
	}
	if l.LastContactedDate != nil {
		ts := *l.LastContactedDate
		l.LastContactedDate = &ts
	}
	return l
}
