package assign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/leads"
	"github.com/foxzi/followup/internal/mockapi"
	"github.com/foxzi/followup/internal/notify"
	"github.com/foxzi/followup/internal/session"
)

const putRoute = "PUT /api/leads/{id}"

type fixture struct {
	ctrl  *Controller
	store *leads.Store
	mock  *mockapi.Server
	rec   *notify.Recorder
}

func setupTestController(t *testing.T) *fixture {
	t.Helper()
	mock := mockapi.New(mockapi.WithBcryptCost(bcrypt.MinCost))
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)

	token, err := mock.AddUser("owner@example.com", "secret")
	if err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := api.NewClient(srv.URL, session.NewMemory(token))
	rec := &notify.Recorder{}
	store := leads.New(client, notify.Discard{}, logger)
	return &fixture{
		ctrl:  New(client, store, rec, logger),
		store: store,
		mock:  mock,
		rec:   rec,
	}
}

func waitForCalls(t *testing.T, mock *mockapi.Server, route string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for mock.Calls(route) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d calls on %s", n, route)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestReassignResetsStep(t *testing.T) {
	f := setupTestController(t)
	ctx := context.Background()

	a := f.mock.AddSequence(api.Sequence{Name: "A"})
	b := f.mock.AddSequence(api.Sequence{Name: "B"})
	lead := f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com", SequenceID: &a.ID, CurrentStepNumber: 3})
	f.store.Refresh(ctx)

	if err := f.ctrl.Assign(ctx, lead.ID, &b.ID); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}

	got, _ := f.store.Lead(lead.ID)
	if got.SequenceID == nil || *got.SequenceID != b.ID {
		t.Errorf("SequenceID = %v, want %d", got.SequenceID, b.ID)
	}
	if got.CurrentStepNumber != 0 {
		t.Errorf("CurrentStepNumber = %d, want 0", got.CurrentStepNumber)
	}
	if last, _ := f.rec.Last(); last.Text != "Sequence assigned!" {
		t.Errorf("notification = %q", last.Text)
	}
}

func TestUnassignClearsBoth(t *testing.T) {
	f := setupTestController(t)
	ctx := context.Background()

	a := f.mock.AddSequence(api.Sequence{Name: "A"})
	lead := f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com", SequenceID: &a.ID, CurrentStepNumber: 2})
	f.store.Refresh(ctx)

	if err := f.ctrl.Assign(ctx, lead.ID, nil); err != nil {
		t.Fatalf("Assign(nil) error = %v", err)
	}

	got, _ := f.store.Lead(lead.ID)
	if got.SequenceID != nil || got.CurrentStepNumber != 0 {
		t.Errorf("lead = sequence %v step %d, want nil/0", got.SequenceID, got.CurrentStepNumber)
	}
	if last, _ := f.rec.Last(); last.Text != "Sequence removed" {
		t.Errorf("notification = %q", last.Text)
	}
}

func TestAssignFailureIsPessimistic(t *testing.T) {
	f := setupTestController(t)
	ctx := context.Background()

	a := f.mock.AddSequence(api.Sequence{Name: "A"})
	b := f.mock.AddSequence(api.Sequence{Name: "B"})
	lead := f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com", SequenceID: &a.ID, CurrentStepNumber: 1})
	f.store.Refresh(ctx)
	gen := f.store.Generation()

	f.mock.Fail(putRoute, http.StatusInternalServerError, "boom")
	if err := f.ctrl.Assign(ctx, lead.ID, &b.ID); err == nil {
		t.Fatal("Assign() expected error")
	}

	if f.ctrl.Busy(lead.ID) {
		t.Error("busy marker not cleared after failure")
	}
	got, _ := f.store.Lead(lead.ID)
	if *got.SequenceID != a.ID || got.CurrentStepNumber != 1 {
		t.Errorf("lead mutated locally: sequence %d step %d", *got.SequenceID, got.CurrentStepNumber)
	}
	if f.store.Generation() != gen {
		t.Error("store refreshed after failed assignment")
	}
	if last, _ := f.rec.Last(); last.Kind != notify.KindError || last.Text != "Failed to assign sequence" {
		t.Errorf("notification = %+v", last)
	}
}

// A row in flight rejects a second action, hides its step, and leaves
// other rows untouched.
func TestBusyIsPerRow(t *testing.T) {
	f := setupTestController(t)
	ctx := context.Background()

	a := f.mock.AddSequence(api.Sequence{Name: "A"})
	one := f.mock.AddLead(api.Lead{Name: "One", Email: "one@example.com", SequenceID: &a.ID, CurrentStepNumber: 4})
	two := f.mock.AddLead(api.Lead{Name: "Two", Email: "two@example.com"})
	f.store.Refresh(ctx)

	release := f.mock.HoldNext(putRoute)
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Assign(ctx, one.ID, nil) }()
	waitForCalls(t, f.mock, putRoute, 1)

	if !f.ctrl.Busy(one.ID) {
		t.Fatal("row one not busy while in flight")
	}
	view, _ := f.ctrl.View(one.ID)
	if view.StepKnown || view.Step != 0 {
		t.Errorf("busy view = %+v, want step hidden", view)
	}

	if err := f.ctrl.Assign(ctx, one.ID, &a.ID); !errors.Is(err, ErrBusy) {
		t.Errorf("second Assign() error = %v, want ErrBusy", err)
	}
	if _, err := f.ctrl.RunAgent(ctx, one.ID, ""); !errors.Is(err, ErrBusy) {
		t.Errorf("RunAgent() on busy row error = %v, want ErrBusy", err)
	}

	if f.ctrl.Busy(two.ID) {
		t.Error("row two busy")
	}
	if err := f.ctrl.Assign(ctx, two.ID, &a.ID); err != nil {
		t.Errorf("Assign(two) error = %v", err)
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("Assign(one) error = %v", err)
	}
	if f.mock.Calls(putRoute) != 2 {
		t.Errorf("PUT calls = %d, want 2", f.mock.Calls(putRoute))
	}
	view, _ = f.ctrl.View(one.ID)
	if view.Busy || !view.StepKnown || view.Step != 0 {
		t.Errorf("settled view = %+v", view)
	}
}

func TestRunAgent(t *testing.T) {
	f := setupTestController(t)
	ctx := context.Background()
	lead := f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com"})
	f.store.Refresh(ctx)

	res, err := f.ctrl.RunAgent(ctx, lead.ID, "career")
	if err != nil {
		t.Fatalf("RunAgent() error = %v", err)
	}
	if last, _ := f.rec.Last(); last.Text != res.Message {
		t.Errorf("notification = %q, want server message %q", last.Text, res.Message)
	}

	if _, err := f.ctrl.RunAgent(ctx, 9999, ""); err == nil {
		t.Fatal("RunAgent(unknown) expected error")
	}
	if last, _ := f.rec.Last(); last.Text != "Lead not found" {
		t.Errorf("notification = %q, want server detail", last.Text)
	}
}

func TestSendCustomEmail(t *testing.T) {
	f := setupTestController(t)
	ctx := context.Background()
	lead := f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com"})
	f.store.Refresh(ctx)

	if err := f.ctrl.SendCustomEmail(ctx, lead.ID, "", "body"); !errors.Is(err, ErrEmptyEmail) {
		t.Errorf("empty subject error = %v, want ErrEmptyEmail", err)
	}
	if f.mock.Calls("POST /api/agent/send-custom-email") != 0 {
		t.Error("empty email reached the backend")
	}

	if err := f.ctrl.SendCustomEmail(ctx, lead.ID, "Hello", "Checking in"); err != nil {
		t.Fatalf("SendCustomEmail() error = %v", err)
	}
	if last, _ := f.rec.Last(); last.Text != "Custom email sent!" {
		t.Errorf("notification = %q", last.Text)
	}
	got, _ := f.store.Lead(lead.ID)
	if got.LastContactedDate == nil {
		t.Error("lead not refreshed after custom email")
	}

	if err := f.ctrl.SendCustomEmail(ctx, 9999, "Hello", "x"); err == nil {
		t.Fatal("SendCustomEmail(unknown) expected error")
	}
	if last, _ := f.rec.Last(); last.Text != "Failed to send custom email" {
		t.Errorf("notification = %q", last.Text)
	}
}

// After the PUT returns the row is no longer busy, but its step stays
// hidden until the follow-up refresh has landed.
func TestStepHiddenUntilRefreshReturns(t *testing.T) {
	f := setupTestController(t)
	ctx := context.Background()

	a := f.mock.AddSequence(api.Sequence{Name: "A"})
	b := f.mock.AddSequence(api.Sequence{Name: "B"})
	lead := f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com", SequenceID: &a.ID, CurrentStepNumber: 3})
	f.store.Refresh(ctx)

	release := f.mock.HoldNext("GET /api/leads")
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Assign(ctx, lead.ID, &b.ID) }()
	waitForCalls(t, f.mock, putRoute, 1)
	waitForCalls(t, f.mock, "GET /api/leads", 2)

	if f.ctrl.Busy(lead.ID) {
		t.Error("row still busy after the PUT returned")
	}
	view, _ := f.ctrl.View(lead.ID)
	if view.StepKnown || view.Step != 0 {
		t.Errorf("view during refresh = %+v, want step hidden", view)
	}
	if got := view.Lead.CurrentStepNumber; got != 3 {
		t.Errorf("stored step = %d, want the pre-refresh 3", got)
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	view, _ = f.ctrl.View(lead.ID)
	if !view.StepKnown || view.Step != 0 || view.Lead.SequenceID == nil || *view.Lead.SequenceID != b.ID {
		t.Errorf("settled view = %+v", view)
	}
}

// A failed follow-up refresh still reveals the step again.
func TestStepShownAfterFailedRefresh(t *testing.T) {
	f := setupTestController(t)
	ctx := context.Background()

	a := f.mock.AddSequence(api.Sequence{Name: "A"})
	lead := f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com"})
	f.store.Refresh(ctx)

	f.mock.Fail("GET /api/leads", http.StatusInternalServerError, "down")
	if err := f.ctrl.Assign(ctx, lead.ID, &a.ID); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if view, _ := f.ctrl.View(lead.ID); !view.StepKnown {
		t.Errorf("view = %+v, want step shown", view)
	}
}
