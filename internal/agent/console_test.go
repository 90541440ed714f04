package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/clock"
	"github.com/foxzi/followup/internal/notify"
)

type fakeBackend struct {
	runs  int
	err   error
	msg   string
	stats api.DashboardStats
}

func (b *fakeBackend) RunAgent(ctx context.Context) (*api.AgentRunResult, error) {
	b.runs++
	if b.err != nil {
		return nil, b.err
	}
	return &api.AgentRunResult{Success: true, Message: b.msg}, nil
}

func (b *fakeBackend) Stats(ctx context.Context) (*api.DashboardStats, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &b.stats, nil
}

type countingPoller struct{ polls int }

func (p *countingPoller) PollNow() { p.polls++ }

func newTestConsole(b *fakeBackend, opts ...Option) (*Console, *clock.FakeClock, *notify.Recorder, *countingPoller) {
	clk := clock.Fake(time.Unix(0, 0))
	rec := &notify.Recorder{}
	poller := &countingPoller{}
	opts = append([]Option{WithClock(clk), WithPoller(poller)}, opts...)
	return New(b, rec, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...), clk, rec, poller
}

func TestRunGlobalBusyWindow(t *testing.T) {
	backend := &fakeBackend{}
	con, clk, rec, poller := newTestConsole(backend)
	ctx := context.Background()

	if _, err := con.RunGlobal(ctx); err != nil {
		t.Fatalf("RunGlobal() error = %v", err)
	}
	if last, _ := rec.Last(); last.Text != "Autonomous sequence initiated" {
		t.Errorf("notification = %q", last.Text)
	}
	if poller.polls != 1 {
		t.Errorf("polls = %d, want 1", poller.polls)
	}
	if !con.Running() {
		t.Fatal("Running() = false right after start")
	}

	if _, err := con.RunGlobal(ctx); !errors.Is(err, ErrRunning) {
		t.Errorf("second RunGlobal() error = %v, want ErrRunning", err)
	}
	if backend.runs != 1 {
		t.Errorf("runs = %d, want 1", backend.runs)
	}

	clk.Advance(9 * time.Second)
	if !con.Running() {
		t.Error("Running() = false before the busy timeout")
	}
	clk.Advance(time.Second)
	if con.Running() {
		t.Error("Running() = true after the busy timeout")
	}

	if _, err := con.RunGlobal(ctx); err != nil {
		t.Errorf("RunGlobal() after timeout error = %v", err)
	}
}

func TestRunGlobalServerMessage(t *testing.T) {
	con, _, rec, _ := newTestConsole(&fakeBackend{msg: "Agent cycle started in background."})
	con.RunGlobal(context.Background())
	if last, _ := rec.Last(); last.Text != "Agent cycle started in background." {
		t.Errorf("notification = %q", last.Text)
	}
}

func TestRunGlobalFailureClearsAtOnce(t *testing.T) {
	backend := &fakeBackend{err: &api.APIError{Status: 500}}
	con, clk, rec, poller := newTestConsole(backend)

	if _, err := con.RunGlobal(context.Background()); err == nil {
		t.Fatal("RunGlobal() expected error")
	}
	if con.Running() {
		t.Error("Running() = true after failure")
	}
	if clk.PendingCount() != 0 {
		t.Error("busy timer armed after failure")
	}
	if poller.polls != 0 {
		t.Error("poll triggered after failure")
	}
	if last, _ := rec.Last(); last.Kind != notify.KindError || last.Text != "Handshake failed" {
		t.Errorf("notification = %+v", last)
	}
}

func TestCustomBusyTimeoutAndClose(t *testing.T) {
	con, clk, _, _ := newTestConsole(&fakeBackend{}, WithBusyTimeout(2*time.Second))
	con.RunGlobal(context.Background())

	con.Close()
	if con.Running() {
		t.Error("Running() = true after Close")
	}
	if clk.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after Close, want 0", clk.PendingCount())
	}
}

func TestStats(t *testing.T) {
	con, _, _, _ := newTestConsole(&fakeBackend{stats: api.DashboardStats{TotalLeads: 4, Stalled: 1}})
	stats, err := con.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalLeads != 4 || stats.Stalled != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
