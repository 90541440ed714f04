package activity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/clock"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls int
	logs  []api.ActivityLog
	err   error
}

func (b *fakeBackend) ListActivities(ctx context.Context) ([]api.ActivityLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return append([]api.ActivityLog(nil), b.logs...), nil
}

func (b *fakeBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *fakeBackend) set(logs []api.ActivityLog, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs, b.err = logs, err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(id int64, actionType string) api.ActivityLog {
	return api.ActivityLog{ID: id, ActionType: actionType}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestClampInterval(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, 3 * time.Second},
		{-time.Second, 3 * time.Second},
		{time.Second, 3 * time.Second},
		{5 * time.Second, 5 * time.Second},
		{30 * time.Second, 30 * time.Second},
		{time.Minute, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := ClampInterval(tt.in); got != tt.want {
			t.Errorf("ClampInterval(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPollsImmediatelyAndPerInterval(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	backend := &fakeBackend{logs: []api.ActivityLog{entry(1, "classified")}}
	p := New(backend, testLogger(), WithClock(clk), WithInterval(3*time.Second))

	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, "initial fetch", func() bool { return len(p.Entries()) == 1 })

	backend.set([]api.ActivityLog{entry(2, "sent_email"), entry(1, "classified")}, nil)
	clk.Advance(3 * time.Second)
	waitFor(t, "tick fetch", func() bool { return len(p.Entries()) == 2 })

	got := p.Entries()
	if got[0].ID != 2 || got[1].ID != 1 {
		t.Errorf("order = %d,%d, want server order 2,1", got[0].ID, got[1].ID)
	}
}

func TestFailureKeepsEntries(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	backend := &fakeBackend{logs: []api.ActivityLog{entry(1, "classified")}}
	p := New(backend, testLogger(), WithClock(clk))

	p.Start(context.Background())
	defer p.Stop()
	waitFor(t, "initial fetch", func() bool { return len(p.Entries()) == 1 })

	backend.set(nil, errors.New("connection refused"))
	clk.Advance(3 * time.Second)
	waitFor(t, "failed fetch", func() bool { return backend.Calls() == 2 })

	if len(p.Entries()) != 1 {
		t.Errorf("entries = %d after failure, want 1 kept", len(p.Entries()))
	}
}

// Once Stop returns the ticker is gone and advancing time fetches nothing.
func TestStopHaltsFetching(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	backend := &fakeBackend{}
	p := New(backend, testLogger(), WithClock(clk))

	p.Start(context.Background())
	waitFor(t, "initial fetch", func() bool { return backend.Calls() == 1 })

	p.Stop()
	if p.Running() {
		t.Error("Running() = true after Stop")
	}
	if n := clk.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d after Stop, want 0", n)
	}

	clk.Advance(time.Minute)
	p.PollNow()
	time.Sleep(20 * time.Millisecond)
	if got := backend.Calls(); got != 1 {
		t.Errorf("calls = %d after Stop, want 1", got)
	}

	p.Stop()
}

func TestContextCancelStops(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	backend := &fakeBackend{}
	p := New(backend, testLogger(), WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	waitFor(t, "initial fetch", func() bool { return backend.Calls() == 1 })

	cancel()
	waitFor(t, "loop exit", func() bool { return !p.Running() && clk.PendingCount() == 0 })

	clk.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := backend.Calls(); got != 1 {
		t.Errorf("calls = %d after cancel, want 1", got)
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	backend := &fakeBackend{}
	p := New(backend, testLogger())
	ctx := context.Background()

	p.mu.Lock()
	p.issued = 2
	p.mu.Unlock()

	backend.set([]api.ActivityLog{entry(2, "newer")}, nil)
	p.fetch(ctx, 2)
	backend.set([]api.ActivityLog{entry(1, "older")}, nil)
	p.fetch(ctx, 1)

	got := p.Entries()
	if len(got) != 1 || got[0].ActionType != "newer" {
		t.Errorf("entries = %+v, want the newer response", got)
	}
}

func TestInFlightDiscardedAfterStop(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	backend := &fakeBackend{}
	p := New(backend, testLogger(), WithClock(clk))

	p.Start(context.Background())
	waitFor(t, "initial fetch", func() bool { return backend.Calls() == 1 })
	p.mu.Lock()
	gen := p.issued
	p.mu.Unlock()
	p.Stop()

	backend.set([]api.ActivityLog{entry(9, "late")}, nil)
	p.fetch(context.Background(), gen)
	if len(p.Entries()) != 0 {
		t.Errorf("late response applied after Stop: %+v", p.Entries())
	}
}

func TestOnChangeAndPollNow(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	backend := &fakeBackend{logs: []api.ActivityLog{entry(1, "classified")}}
	p := New(backend, testLogger(), WithClock(clk))

	var mu sync.Mutex
	var seen [][]api.ActivityLog
	p.OnChange(func(logs []api.ActivityLog) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, logs)
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}

	p.Start(context.Background())
	defer p.Stop()
	waitFor(t, "first change", func() bool { return count() == 1 })

	p.PollNow()
	waitFor(t, "triggered change", func() bool { return count() == 2 })
	if backend.Calls() != 2 {
		t.Errorf("calls = %d, want 2", backend.Calls())
	}
}

func TestStartTwiceIsNoop(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	backend := &fakeBackend{}
	p := New(backend, testLogger(), WithClock(clk))

	p.Start(context.Background())
	p.Start(context.Background())
	defer p.Stop()

	if n := clk.PendingCount(); n != 1 {
		t.Errorf("PendingCount() = %d, want one ticker", n)
	}
}
