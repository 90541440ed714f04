// Package activity polls the agent activity log and renders its entries.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/clock"
	"github.com/foxzi/followup/internal/metrics"
)

const (
	DefaultInterval = 3 * time.Second
	MinInterval     = 3 * time.Second
	MaxInterval     = 30 * time.Second
)

// Backend is the subset of the API client the poller needs
type Backend interface {
	ListActivities(ctx context.Context) ([]api.ActivityLog, error)
}

// ClampInterval bounds d to [MinInterval, MaxInterval]; zero or negative
// means DefaultInterval.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	}
	return d
}

// Poller keeps the last fetched activity list. Each tick starts a fetch
// without waiting for earlier ones; responses older than the newest
// applied one are dropped.
type Poller struct {
	backend  Backend
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	entries   []api.ActivityLog
	issued    uint64
	applied   uint64
	listeners []func([]api.ActivityLog)
	cancel    context.CancelFunc
	done      chan struct{}
	trigger   chan struct{}
	fetchCtx  context.Context
}

// Option customizes a Poller
type Option func(*Poller)

// WithClock sets the time source
func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithInterval sets the poll interval, clamped by ClampInterval
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = ClampInterval(d) }
}

// New creates a stopped poller
func New(backend Backend, logger *slog.Logger, opts ...Option) *Poller {
	p := &Poller{
		backend:  backend,
		clock:    clock.Real(),
		interval: DefaultInterval,
		logger:   logger.With("component", "activity"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the effective poll interval
func (p *Poller) Interval() time.Duration { return p.interval }

// OnChange registers fn to receive a copy of the list after each applied poll
func (p *Poller) OnChange(fn func([]api.ActivityLog)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Running reports whether the poll loop is active
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Start fetches immediately and then once per interval until Stop is
// called or ctx is cancelled. Starting a running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.trigger = make(chan struct{}, 1)
	// Fetches outlive Stop; their results are discarded instead.
	p.fetchCtx = context.WithoutCancel(ctx)

	ticker := p.clock.NewTicker(p.interval)
	p.startFetchLocked()
	go p.loop(loopCtx, ticker, p.trigger, p.done)

	p.logger.Debug("activity polling started", "interval", p.interval)
}

func (p *Poller) loop(ctx context.Context, ticker *clock.Ticker, trigger <-chan struct{}, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			if p.done == done {
				p.stopLocked()
			}
			p.mu.Unlock()
			return
		case <-ticker.C:
		case <-trigger:
		}

		p.mu.Lock()
		// A tick can race with Stop; re-check under the lock.
		if ctx.Err() != nil {
			p.mu.Unlock()
			continue
		}
		p.startFetchLocked()
		p.mu.Unlock()
	}
}

// PollNow requests an immediate fetch if the poller is running
func (p *Poller) PollNow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Stop ends polling and waits for the loop to exit. No fetch is started
// after Stop returns, and responses still in flight are discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	if cancel == nil {
		p.mu.Unlock()
		return
	}
	cancel()
	p.stopLocked()
	p.mu.Unlock()

	<-done
	p.logger.Debug("activity polling stopped")
}

// stopLocked marks the poller stopped and fences off in-flight fetches
func (p *Poller) stopLocked() {
	p.cancel = nil
	p.applied = p.issued
}

// startFetchLocked must be called with p.mu held
func (p *Poller) startFetchLocked() {
	p.issued++
	gen := p.issued
	go p.fetch(p.fetchCtx, gen)
}

func (p *Poller) fetch(ctx context.Context, gen uint64) {
	logs, err := p.backend.ListActivities(ctx)
	if err != nil {
		metrics.IncPoll("error")
		p.logger.Debug("log sync failed", "generation", gen, "error", err)
		return
	}

	p.mu.Lock()
	if gen <= p.applied {
		p.mu.Unlock()
		metrics.IncPoll("discarded")
		metrics.IncRefreshDiscarded("activity")
		p.logger.Debug("discarded stale poll", "generation", gen)
		return
	}
	p.applied = gen
	p.entries = append([]api.ActivityLog(nil), logs...)
	listeners := append([]func([]api.ActivityLog){}, p.listeners...)
	snapshot := append([]api.ActivityLog(nil), logs...)
	p.mu.Unlock()

	metrics.IncPoll("ok")
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// Entries returns a copy of the last applied list, in server order
func (p *Poller) Entries() []api.ActivityLog {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]api.ActivityLog(nil), p.entries...)
}
