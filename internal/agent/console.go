// Package agent drives the global agent cycle from the console view.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/clock"
	"github.com/foxzi/followup/internal/notify"
)

// DefaultBusyTimeout is how long the run control stays disabled after a
// successful start. It does not track the backend job.
const DefaultBusyTimeout = 10 * time.Second

// ErrRunning is returned when a run was started within the busy window
var ErrRunning = errors.New("agent run already in progress")

// Backend is the subset of the API client the console needs
type Backend interface {
	RunAgent(ctx context.Context) (*api.AgentRunResult, error)
	Stats(ctx context.Context) (*api.DashboardStats, error)
}

// Poller is told to fetch activities right after a run starts
type Poller interface {
	PollNow()
}

// Console runs the global agent and reports pipeline stats
type Console struct {
	backend     Backend
	notify      notify.Notifier
	logger      *slog.Logger
	clock       clock.Clock
	busyTimeout time.Duration
	poller      Poller

	mu      sync.Mutex
	running bool
	timer   *clock.Timer
}

// Option customizes a Console
type Option func(*Console)

// WithClock sets the time source for the busy timer
func WithClock(c clock.Clock) Option {
	return func(con *Console) { con.clock = c }
}

// WithBusyTimeout overrides DefaultBusyTimeout
func WithBusyTimeout(d time.Duration) Option {
	return func(con *Console) {
		if d > 0 {
			con.busyTimeout = d
		}
	}
}

// WithPoller sets the activity poller to nudge after a run
func WithPoller(p Poller) Option {
	return func(con *Console) { con.poller = p }
}

// New creates an agent console
func New(backend Backend, n notify.Notifier, logger *slog.Logger, opts ...Option) *Console {
	c := &Console{
		backend:     backend,
		notify:      n,
		logger:      logger.With("component", "agent"),
		clock:       clock.Real(),
		busyTimeout: DefaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Running reports whether the run control is disabled
func (c *Console) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// RunGlobal starts an agent cycle over every lead
func (c *Console) RunGlobal(ctx context.Context) (*api.AgentRunResult, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrRunning
	}
	c.running = true
	c.mu.Unlock()

	res, err := c.backend.RunAgent(ctx)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.logger.Warn("agent run failed", "error", err)
		c.notify.Error(api.Message(err, "Handshake failed"))
		return nil, fmt.Errorf("run agent: %w", err)
	}

	msg := res.Message
	if msg == "" {
		msg = "Autonomous sequence initiated"
	}
	c.logger.Info("agent run started", "leads_processed", res.LeadsProcessed)
	c.notify.Success(msg)
	if c.poller != nil {
		c.poller.PollNow()
	}

	timer := c.clock.AfterFunc(c.busyTimeout, c.release)
	c.mu.Lock()
	if c.running {
		c.timer = timer
	}
	c.mu.Unlock()
	return res, nil
}

func (c *Console) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.timer = nil
}

// Close cancels the busy timer. Used when the console view goes away.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.running = false
}

// Stats fetches dashboard statistics
func (c *Console) Stats(ctx context.Context) (*api.DashboardStats, error) {
	stats, err := c.backend.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return stats, nil
}
