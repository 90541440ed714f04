// Package sequences holds the catalog of outreach sequences and the draft
// builder used to compose new ones.
package sequences

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/metrics"
	"github.com/foxzi/followup/internal/notify"
)

const (
	// NoSequence is the label for an unassigned or unknown sequence
	NoSequence = "No Sequence"
	// DeletePrompt is passed to the Confirmer before a sequence is deleted
	DeletePrompt = "Are you sure you want to terminate this sequence?"
)

// ErrNotConfirmed is returned when the user declines a deletion
var ErrNotConfirmed = errors.New("not confirmed")

// Backend is the subset of the API client the catalog needs
type Backend interface {
	ListSequences(ctx context.Context) ([]api.Sequence, error)
	CreateSequence(ctx context.Context, req *api.SequenceCreate) (*api.Sequence, error)
	DeleteSequence(ctx context.Context, id int64) error
}

// Cache persists the last fetched catalog
type Cache interface {
	LoadSequences() ([]api.Sequence, error)
	SaveSequences(seqs []api.Sequence) error
}

// Catalog is the client-side list of sequences
type Catalog struct {
	backend Backend
	notify  notify.Notifier
	logger  *slog.Logger
	cache   Cache

	mu      sync.RWMutex
	seqs    []api.Sequence
	issued  uint64
	applied uint64
}

// Option customizes a Catalog
type Option func(*Catalog)

// WithCache seeds the catalog from c and writes every applied refresh to it
func WithCache(c Cache) Option {
	return func(cat *Catalog) { cat.cache = c }
}

// New creates a sequence catalog
func New(backend Backend, n notify.Notifier, logger *slog.Logger, opts ...Option) *Catalog {
	c := &Catalog{
		backend: backend,
		notify:  n,
		logger:  logger.With("component", "sequences"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache != nil {
		cached, err := c.cache.LoadSequences()
		if err != nil {
			c.logger.Warn("failed to load cached sequences", "error", err)
		} else {
			c.seqs = normalize(cached)
		}
	}
	return c
}

// Refresh reloads the catalog. Errors are logged and otherwise ignored;
// the previous catalog stays in place.
func (c *Catalog) Refresh(ctx context.Context) {
	if err := c.refresh(ctx); err != nil {
		c.logger.Warn("failed to load sequences", "error", err)
	}
}

// RefreshStrict reloads the catalog and reports failure to the user
func (c *Catalog) RefreshStrict(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		c.logger.Warn("failed to load sequences", "error", err)
		c.notify.Error("Failed to load sequences")
		return err
	}
	return nil
}

func (c *Catalog) refresh(ctx context.Context) error {
	c.mu.Lock()
	c.issued++
	gen := c.issued
	c.mu.Unlock()

	seqs, err := c.backend.ListSequences(ctx)
	if err != nil {
		metrics.IncRefresh("sequences", "error")
		return fmt.Errorf("refresh sequences: %w", err)
	}

	c.mu.Lock()
	if gen < c.applied {
		c.mu.Unlock()
		metrics.IncRefresh("sequences", "discarded")
		metrics.IncRefreshDiscarded("sequences")
		return nil
	}
	c.applied = gen
	c.seqs = normalize(seqs)
	c.mu.Unlock()
	metrics.IncRefresh("sequences", "ok")

	if c.cache != nil {
		if err := c.cache.SaveSequences(seqs); err != nil {
			c.logger.Warn("failed to cache sequences", "error", err)
		}
	}
	return nil
}

// normalize deep-copies seqs with each step list sorted by step number
func normalize(seqs []api.Sequence) []api.Sequence {
	if seqs == nil {
		return nil
	}
	out := make([]api.Sequence, len(seqs))
	for i, s := range seqs {
		s.Steps = append([]api.SequenceStep(nil), s.Steps...)
		sort.SliceStable(s.Steps, func(a, b int) bool {
			return s.Steps[a].StepNumber < s.Steps[b].StepNumber
		})
		out[i] = s
	}
	return out
}

// Sequences returns a copy of the catalog, steps in ascending order
func (c *Catalog) Sequences() []api.Sequence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return normalize(c.seqs)
}

// Sequence returns one sequence by id
func (c *Catalog) Sequence(id int64) (api.Sequence, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.seqs {
		if s.ID == id {
			return normalize([]api.Sequence{s})[0], true
		}
	}
	return api.Sequence{}, false
}

// Name returns the display name for a lead's sequence reference
func (c *Catalog) Name(id *int64) string {
	if id == nil {
		return NoSequence
	}
	if s, ok := c.Sequence(*id); ok {
		return s.Name
	}
	return NoSequence
}

// Create validates d, posts it and refreshes the catalog
func (c *Catalog) Create(ctx context.Context, d *Draft) (*api.Sequence, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	seq, err := c.backend.CreateSequence(ctx, d.Request())
	if err != nil {
		c.logger.Warn("failed to create sequence", "error", err)
		c.notify.Error(api.Message(err, "Failed to create sequence"))
		return nil, fmt.Errorf("create sequence: %w", err)
	}

	c.logger.Info("sequence created", "sequence_id", seq.ID, "steps", len(seq.Steps))
	c.notify.Success("Sequence created!")
	if err := c.refresh(ctx); err != nil {
		c.logger.Warn("failed to load sequences", "sequence_id", seq.ID, "error", err)
	}
	return seq, nil
}

// Delete removes a sequence after confirm approves it. Leads that
// referenced it are detached by the backend and show NoSequence once
// they are refreshed.
func (c *Catalog) Delete(ctx context.Context, id int64, confirm notify.Confirmer) error {
	if !confirm.Confirm(DeletePrompt) {
		return ErrNotConfirmed
	}

	if err := c.backend.DeleteSequence(ctx, id); err != nil {
		c.logger.Warn("failed to delete sequence", "sequence_id", id, "error", err)
		c.notify.Error("Failed to terminate sequence")
		return fmt.Errorf("delete sequence %d: %w", id, err)
	}

	c.logger.Info("sequence deleted", "sequence_id", id)
	c.notify.Success("Sequence terminated")
	if err := c.refresh(ctx); err != nil {
		c.logger.Warn("failed to load sequences", "sequence_id", id, "error", err)
	}
	return nil
}
