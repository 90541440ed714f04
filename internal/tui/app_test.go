package tui

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/followup/internal/activity"
	"github.com/foxzi/followup/internal/agent"
	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/assign"
	"github.com/foxzi/followup/internal/clock"
	"github.com/foxzi/followup/internal/leads"
	"github.com/foxzi/followup/internal/mockapi"
	"github.com/foxzi/followup/internal/sequences"
	"github.com/foxzi/followup/internal/session"
)

type fixture struct {
	app     *App
	mock    *mockapi.Server
	session *session.Memory
	poller  *activity.Poller
	ctrl    *assign.Controller
}

func setupTestApp(t *testing.T) *fixture {
	t.Helper()
	mock := mockapi.New(mockapi.WithBcryptCost(bcrypt.MinCost))
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)

	token, err := mock.AddUser("owner@example.com", "secret")
	if err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := session.NewMemory(token)
	client := api.NewClient(srv.URL, sess)
	status := NewStatusLine(time.Minute)
	clk := clock.Fake(time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC))

	store := leads.New(client, status, logger)
	catalog := sequences.New(client, status, logger)
	ctrl := assign.New(client, store, status, logger)
	poller := activity.New(client, logger, activity.WithClock(clk))
	console := agent.New(client, status, logger, agent.WithClock(clk), agent.WithPoller(poller))

	app := New(context.Background(), Deps{
		Leads:     store,
		Sequences: catalog,
		Assign:    ctrl,
		Agent:     console,
		Activity:  poller,
		Session:   sess,
		Status:    status,
		Logger:    logger,
	})
	t.Cleanup(app.Close)
	return &fixture{app: app, mock: mock, session: sess, poller: poller, ctrl: ctrl}
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends one key and runs the resulting command synchronously
func press(t *testing.T, a *App, msg tea.KeyMsg) {
	t.Helper()
	_, cmd := a.Update(msg)
	run(a, cmd)
}

func run(a *App, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	if msg := cmd(); msg != nil {
		a.Update(msg)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNextSequence(t *testing.T) {
	seqs := []api.Sequence{{ID: 3}, {ID: 8}}
	id := func(v int64) *int64 { return &v }

	tests := []struct {
		name    string
		seqs    []api.Sequence
		current *int64
		want    *int64
		wantOK  bool
	}{
		{"empty catalog", nil, nil, nil, false},
		{"unassigned picks first", seqs, nil, id(3), true},
		{"middle advances", seqs, id(3), id(8), true},
		{"last wraps to none", seqs, id(8), nil, true},
		{"unknown picks first", seqs, id(99), id(3), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := nextSequence(tt.seqs, tt.current)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("nextSequence() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCycleSequence(t *testing.T) {
	f := setupTestApp(t)
	s1 := f.mock.AddSequence(api.Sequence{Name: "Intro"})
	s2 := f.mock.AddSequence(api.Sequence{Name: "Nudge"})
	lead := f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com"})
	run(f.app, f.app.refreshAll())

	if !strings.Contains(f.app.View(), sequences.NoSequence) {
		t.Error("unassigned lead not shown as No Sequence")
	}

	for _, want := range []*int64{&s1.ID, &s2.ID, nil} {
		press(t, f.app, keyRunes("s"))
		got, _ := f.mock.Lead(lead.ID)
		if (want == nil) != (got.SequenceID == nil) || (want != nil && *got.SequenceID != *want) {
			t.Fatalf("sequence_id = %v, want %v", got.SequenceID, want)
		}
	}

	press(t, f.app, keyRunes("s"))
	if !strings.Contains(f.app.View(), "Intro") {
		t.Error("assigned sequence name not rendered")
	}
	press(t, f.app, keyRunes("x"))
	if got, _ := f.mock.Lead(lead.ID); got.SequenceID != nil {
		t.Errorf("unassign left sequence_id = %d", *got.SequenceID)
	}
}

func TestBusyRowHidesStep(t *testing.T) {
	f := setupTestApp(t)
	f.mock.AddSequence(api.Sequence{Name: "Intro"})
	lead := f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com"})
	run(f.app, f.app.refreshAll())

	release := f.mock.HoldNext("PUT /api/leads/{id}")
	_, cmd := f.app.Update(keyRunes("s"))
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()

	waitUntil(t, "busy row", func() bool { return f.ctrl.Busy(lead.ID) })
	if !strings.Contains(f.app.View(), StepPending) {
		t.Error("busy row still shows its step")
	}

	release()
	f.app.Update(<-done)
	if f.ctrl.Busy(lead.ID) {
		t.Error("row still busy after response")
	}
	if strings.Contains(f.app.View(), StepPending) {
		t.Error("step still pending after response")
	}
}

func TestDeleteAsksFirst(t *testing.T) {
	f := setupTestApp(t)
	lead := f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com"})
	run(f.app, f.app.refreshAll())

	press(t, f.app, keyRunes("d"))
	if !strings.Contains(f.app.View(), leads.DeletePrompt) {
		t.Fatal("confirmation prompt not shown")
	}
	press(t, f.app, keyRunes("n"))
	if _, ok := f.mock.Lead(lead.ID); !ok {
		t.Fatal("declined delete removed the lead")
	}
	if f.mock.Calls("DELETE /api/leads/{id}") != 0 {
		t.Error("declined delete reached the backend")
	}

	press(t, f.app, keyRunes("d"))
	press(t, f.app, keyRunes("y"))
	if _, ok := f.mock.Lead(lead.ID); ok {
		t.Error("confirmed delete kept the lead")
	}
	if len(f.app.visibleLeads()) != 0 {
		t.Error("store not refreshed after delete")
	}
}

func TestDeleteSequenceDetachesLeads(t *testing.T) {
	f := setupTestApp(t)
	seq := f.mock.AddSequence(api.Sequence{Name: "Intro"})
	f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com", SequenceID: &seq.ID, CurrentStepNumber: 2})
	run(f.app, f.app.refreshAll())

	press(t, f.app, keyRunes("2"))
	press(t, f.app, keyRunes("d"))
	if !strings.Contains(f.app.View(), sequences.DeletePrompt) {
		t.Fatal("confirmation prompt not shown")
	}
	press(t, f.app, keyRunes("y"))

	rows := f.app.visibleLeads()
	if len(rows) != 1 || rows[0].SequenceID != nil || rows[0].CurrentStepNumber != 0 {
		t.Errorf("lead after sequence delete = %+v", rows)
	}
}

// A refresh that shrinks the list can land before its event is handled.
// The next key press must act on the last remaining row.
func TestKeyAfterLeadsShrink(t *testing.T) {
	f := setupTestApp(t)
	ada := f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com"})
	bo := f.mock.AddLead(api.Lead{Name: "Bo", Email: "bo@example.com"})
	run(f.app, f.app.refreshAll())
	press(t, f.app, keyRunes("j"))

	if err := f.app.deps.Leads.Delete(context.Background(), bo.ID, approved); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	press(t, f.app, keyRunes("x"))
	press(t, f.app, keyRunes("d"))
	press(t, f.app, keyRunes("y"))
	if _, ok := f.mock.Lead(ada.ID); ok {
		t.Error("delete did not target the remaining row")
	}
	if f.app.cursor != 0 {
		t.Errorf("cursor = %d, want 0", f.app.cursor)
	}
}

func TestKeyAfterSequencesShrink(t *testing.T) {
	f := setupTestApp(t)
	intro := f.mock.AddSequence(api.Sequence{Name: "Intro"})
	nudge := f.mock.AddSequence(api.Sequence{Name: "Nudge"})
	run(f.app, f.app.refreshAll())
	press(t, f.app, keyRunes("2"))
	press(t, f.app, keyRunes("j"))

	if err := f.app.deps.Sequences.Delete(context.Background(), nudge.ID, approved); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	press(t, f.app, keyRunes("d"))
	press(t, f.app, keyRunes("y"))
	if got := f.mock.Calls("DELETE /api/sequences/{id}"); got != 2 {
		t.Errorf("DELETE calls = %d, want 2", got)
	}
	if seqs := f.app.deps.Sequences.Sequences(); len(seqs) != 0 {
		t.Errorf("sequences left = %+v, want %q deleted too", seqs, intro.Name)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ cursor, n, want int }{
		{0, 0, 0},
		{3, 0, 0},
		{1, 1, 0},
		{1, 2, 1},
		{5, 3, 2},
	}
	for _, tt := range tests {
		if got := clamp(tt.cursor, tt.n); got != tt.want {
			t.Errorf("clamp(%d, %d) = %d, want %d", tt.cursor, tt.n, got, tt.want)
		}
	}
}

func TestSearch(t *testing.T) {
	f := setupTestApp(t)
	f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com"})
	f.mock.AddLead(api.Lead{Name: "Bo", Email: "bo@example.com"})
	run(f.app, f.app.refreshAll())

	f.app.Update(keyRunes("/"))
	for _, r := range "ada" {
		f.app.Update(keyRunes(string(r)))
	}
	f.app.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if f.app.searching {
		t.Error("still searching after enter")
	}
	if rows := f.app.visibleLeads(); len(rows) != 1 || rows[0].Name != "Ada" {
		t.Errorf("visible = %+v", rows)
	}

	f.app.Update(keyRunes("/"))
	f.app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if len(f.app.visibleLeads()) != 2 {
		t.Error("esc did not clear the search")
	}
}

func TestAgentTabControlsPoller(t *testing.T) {
	f := setupTestApp(t)
	f.app.Update(tea.WindowSizeMsg{Width: 100, Height: 20})
	for i := 0; i < 30; i++ {
		f.mock.AddActivity(nil, "classified", map[string]any{"lead_name": "Ada", "new_status": "active"})
	}

	press(t, f.app, keyRunes("3"))
	if !f.poller.Running() {
		t.Fatal("poller not started on agent tab")
	}
	if f.app.stats == nil {
		t.Error("stats not loaded on agent tab")
	}

	waitUntil(t, "first poll", func() bool { return len(f.poller.Entries()) == 30 })
	f.app.Update(eventMsg{})
	if !f.app.console.AtBottom() {
		t.Error("console not scrolled to newest entry")
	}
	if !strings.Contains(f.app.View(), "Target Ada defined as [ACTIVE]") {
		t.Error("activity line not rendered")
	}

	press(t, f.app, keyRunes("1"))
	if f.poller.Running() {
		t.Error("poller still running after leaving agent tab")
	}
}

func TestGlobalAgentRun(t *testing.T) {
	f := setupTestApp(t)
	f.mock.AddLead(api.Lead{Name: "Ada", Email: "ada@example.com"})
	press(t, f.app, keyRunes("3"))

	_, cmd := f.app.Update(keyRunes("g"))
	if cmd == nil {
		t.Fatal("g returned no command")
	}
	if f.mock.Calls("POST /api/agent/run") != 0 {
		t.Fatal("run started before the command executed")
	}
	run(f.app, cmd)
	if f.mock.Calls("POST /api/agent/run") != 1 {
		t.Errorf("agent run calls = %d, want 1", f.mock.Calls("POST /api/agent/run"))
	}
	if !strings.Contains(f.app.View(), "running") {
		t.Error("agent not shown as running")
	}
	if msg, ok := f.app.deps.Status.Current(); !ok || msg.Text != "Agent cycle started in background." {
		t.Errorf("status = %+v", msg)
	}
}

func TestLogoutQuits(t *testing.T) {
	f := setupTestApp(t)
	f.session.Logout()

	_, cmd := f.app.Update(eventMsg{})
	if cmd == nil {
		t.Fatal("no command after logout")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("logout did not quit the dashboard")
	}
	if f.app.Err() == "" {
		t.Error("no reason recorded for quitting")
	}
}

func TestStatusLineExpires(t *testing.T) {
	s := NewStatusLine(time.Second)
	now := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, ok := s.Current(); ok {
		t.Error("empty status line reported a message")
	}
	s.Error("Failed to load leads")
	if msg, ok := s.Current(); !ok || msg.Text != "Failed to load leads" {
		t.Errorf("Current() = %+v, %v", msg, ok)
	}
	now = now.Add(time.Second)
	if _, ok := s.Current(); ok {
		t.Error("message did not expire")
	}
}
