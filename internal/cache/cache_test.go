package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/leads"
	"github.com/foxzi/followup/internal/sequences"
)

var (
	_ leads.Cache     = (*BoltCache)(nil)
	_ sequences.Cache = (*BoltCache)(nil)
)

func setupTestCache(t *testing.T) *BoltCache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "state", "cache.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLeadsSnapshot(t *testing.T) {
	c := setupTestCache(t)

	leads, err := c.LoadLeads()
	if err != nil {
		t.Fatalf("LoadLeads() error = %v", err)
	}
	if len(leads) != 0 {
		t.Fatalf("fresh cache has %d leads", len(leads))
	}

	seq := int64(4)
	first := []api.Lead{
		{ID: 300, Name: "Cy", Email: "cy@example.com"},
		{ID: 2, Name: "Ada", Email: "ada@example.com", SequenceID: &seq, CurrentStepNumber: 1},
	}
	if err := c.SaveLeads(first); err != nil {
		t.Fatalf("SaveLeads() error = %v", err)
	}

	got, err := c.LoadLeads()
	if err != nil {
		t.Fatalf("LoadLeads() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != 2 || got[1].ID != 300 {
		t.Errorf("order = [%d %d], want [2 300]", got[0].ID, got[1].ID)
	}
	if got[0].SequenceID == nil || *got[0].SequenceID != 4 || got[0].CurrentStepNumber != 1 {
		t.Errorf("assignment lost: %+v", got[0])
	}

	// A later snapshot replaces the earlier one entirely.
	if err := c.SaveLeads([]api.Lead{{ID: 7, Name: "Bo"}}); err != nil {
		t.Fatalf("SaveLeads() error = %v", err)
	}
	got, _ = c.LoadLeads()
	if len(got) != 1 || got[0].ID != 7 {
		t.Errorf("after replace = %+v", got)
	}
}

func TestSequencesSnapshot(t *testing.T) {
	c := setupTestCache(t)

	seqs := []api.Sequence{{
		ID:   1,
		Name: "Warm intro",
		Steps: []api.SequenceStep{
			{StepNumber: 1, WaitDays: 0, ActionType: api.ActionEmail},
			{StepNumber: 2, WaitDays: 3, ActionType: api.ActionWhatsApp},
		},
	}}
	if err := c.SaveSequences(seqs); err != nil {
		t.Fatalf("SaveSequences() error = %v", err)
	}

	got, err := c.LoadSequences()
	if err != nil {
		t.Fatalf("LoadSequences() error = %v", err)
	}
	if len(got) != 1 || len(got[0].Steps) != 2 || got[0].Steps[1].ActionType != api.ActionWhatsApp {
		t.Errorf("LoadSequences() = %+v", got)
	}
}

func TestSavedAtAndClear(t *testing.T) {
	c := setupTestCache(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return at }

	if !c.SavedAt().IsZero() {
		t.Error("SavedAt() set before any save")
	}
	c.SaveLeads([]api.Lead{{ID: 1}})
	c.SaveSequences([]api.Sequence{{ID: 1}})
	if !c.SavedAt().Equal(at) {
		t.Errorf("SavedAt() = %v, want %v", c.SavedAt(), at)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if l, _ := c.LoadLeads(); len(l) != 0 {
		t.Errorf("leads after Clear() = %d", len(l))
	}
	if s, _ := c.LoadSequences(); len(s) != 0 {
		t.Errorf("sequences after Clear() = %d", len(s))
	}
	if !c.SavedAt().IsZero() {
		t.Error("SavedAt() survived Clear()")
	}
}

func TestReopenKeepsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	c.SaveLeads([]api.Lead{{ID: 9, Name: "Persisted"}})
	c.Close()

	c, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer c.Close()
	got, _ := c.LoadLeads()
	if len(got) != 1 || got[0].Name != "Persisted" {
		t.Errorf("after reopen = %+v", got)
	}
}
