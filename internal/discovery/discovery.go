// Package discovery runs backend lead discovery and imports the results.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/notify"
)

var (
	// ErrEmptyQuery is returned by Run for a blank query
	ErrEmptyQuery = errors.New("discovery query is empty")
	// ErrNothingToImport is returned by Import when no candidates are held
	ErrNothingToImport = errors.New("no discovered leads to import")
)

// Backend is the subset of the API client discovery needs
type Backend interface {
	RunDiscovery(ctx context.Context, query string) (*api.DiscoveryResult, error)
	ImportCandidates(ctx context.Context, candidates []api.DiscoveryCandidate) (*api.BatchResult, error)
}

// Refresher is the lead store, refreshed after an import
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Discovery holds the candidates of the last run until they are imported
type Discovery struct {
	backend Backend
	leads   Refresher
	notify  notify.Notifier
	logger  *slog.Logger

	mu         sync.Mutex
	query      string
	candidates []api.DiscoveryCandidate
}

// New creates a discovery session
func New(backend Backend, leads Refresher, n notify.Notifier, logger *slog.Logger) *Discovery {
	return &Discovery{
		backend: backend,
		leads:   leads,
		notify:  n,
		logger:  logger.With("component", "discovery"),
	}
}

// Run searches for candidates matching query and holds them for Import
func (d *Discovery) Run(ctx context.Context, query string) ([]api.DiscoveryCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	res, err := d.backend.RunDiscovery(ctx, query)
	if err != nil {
		d.logger.Warn("discovery failed", "query", query, "error", err)
		d.notify.Error("Discovery failed")
		return nil, fmt.Errorf("run discovery: %w", err)
	}

	d.mu.Lock()
	d.query = query
	d.candidates = append([]api.DiscoveryCandidate(nil), res.Leads...)
	d.mu.Unlock()

	d.logger.Info("discovery finished", "query", query, "results", len(res.Leads))
	d.notify.Success(fmt.Sprintf("Found %d potential leads!", len(res.Leads)))
	return d.Candidates(), nil
}

// Candidates returns the held candidates
func (d *Discovery) Candidates() []api.DiscoveryCandidate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.DiscoveryCandidate(nil), d.candidates...)
}

// Query returns the query of the last successful run
func (d *Discovery) Query() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.query
}

// Import adds the held candidates to the pipeline and refreshes leads.
// It returns how many were added.
func (d *Discovery) Import(ctx context.Context) (int, error) {
	candidates := d.Candidates()
	if len(candidates) == 0 {
		return 0, ErrNothingToImport
	}

	res, err := d.backend.ImportCandidates(ctx, candidates)
	if err != nil {
		d.logger.Warn("failed to add leads", "error", err)
		d.notify.Error("Failed to add leads")
		return 0, fmt.Errorf("import candidates: %w", err)
	}

	d.mu.Lock()
	d.candidates = nil
	d.mu.Unlock()

	d.logger.Info("leads imported", "added", res.AddedCount, "offered", len(candidates))
	d.notify.Success("Leads added to pipeline")
	if d.leads != nil {
		if err := d.leads.Refresh(ctx); err != nil {
			d.logger.Debug("refresh after import failed", "error", err)
		}
	}
	return res.AddedCount, nil
}
