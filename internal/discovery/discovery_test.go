package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/leads"
	"github.com/foxzi/followup/internal/mockapi"
	"github.com/foxzi/followup/internal/notify"
	"github.com/foxzi/followup/internal/session"
)

func setupTestDiscovery(t *testing.T) (*Discovery, *leads.Store, *mockapi.Server, *notify.Recorder) {
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
	return New(client, store, rec, logger), store, mock, rec
}

func TestRunAndImport(t *testing.T) {
	d, store, _, rec := setupTestDiscovery(t)
	ctx := context.Background()

	found, err := d.Run(ctx, "  go agencies ")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("len(found) = %d, want 3", len(found))
	}
	if d.Query() != "go agencies" {
		t.Errorf("Query() = %q", d.Query())
	}
	if last, _ := rec.Last(); last.Text != "Found 3 potential leads!" {
		t.Errorf("notification = %q", last.Text)
	}

	added, err := d.Import(ctx)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if added != 3 {
		t.Errorf("added = %d, want 3", added)
	}
	if len(d.Candidates()) != 0 {
		t.Error("candidates held after import")
	}
	if len(store.Leads()) != 3 {
		t.Errorf("store has %d leads, want 3 after refresh", len(store.Leads()))
	}
	if last, _ := rec.Last(); last.Text != "Leads added to pipeline" {
		t.Errorf("notification = %q", last.Text)
	}

	if _, err := d.Import(ctx); !errors.Is(err, ErrNothingToImport) {
		t.Errorf("second Import() error = %v, want ErrNothingToImport", err)
	}
}

func TestRunValidation(t *testing.T) {
	d, _, mock, _ := setupTestDiscovery(t)
	if _, err := d.Run(context.Background(), "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Run() error = %v, want ErrEmptyQuery", err)
	}
	if mock.Calls("POST /api/discovery/run") != 0 {
		t.Error("empty query reached the backend")
	}
}

func TestFailures(t *testing.T) {
	d, _, mock, rec := setupTestDiscovery(t)
	ctx := context.Background()

	mock.Fail("POST /api/discovery/run", http.StatusBadGateway, "search provider down")
	if _, err := d.Run(ctx, "go"); err == nil {
		t.Fatal("Run() expected error")
	}
	if last, _ := rec.Last(); last.Text != "Discovery failed" {
		t.Errorf("notification = %q", last.Text)
	}
	mock.Recover("POST /api/discovery/run")

	d.Run(ctx, "go")
	mock.Fail("POST /api/discovery/add-batch", http.StatusInternalServerError, "")
	if _, err := d.Import(ctx); err == nil {
		t.Fatal("Import() expected error")
	}
	if last, _ := rec.Last(); last.Text != "Failed to add leads" {
		t.Errorf("notification = %q", last.Text)
	}
	if len(d.Candidates()) != 3 {
		t.Error("candidates dropped after failed import")
	}
}
