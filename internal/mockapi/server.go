// Package mockapi is an in-memory implementation of the FollowUp backend
// REST contract. It backs package tests and the mock-server command. It
// is single-tenant: every authenticated user sees the same leads.
package mockapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/metrics"
)

const activityLimit = 50

type user struct {
	id   int64
	hash []byte
}

type failure struct {
	status int
	detail string
}

// Server is the mock backend
type Server struct {
	router     chi.Router
	logger     *slog.Logger
	bcryptCost int
	now        func() time.Time

	mu         sync.Mutex
	users      map[string]*user
	tokens     map[string]int64
	leads      map[int64]*api.Lead
	sequences  map[int64]*api.Sequence
	activities []api.ActivityLog
	nextID     int64

	latency  map[string]time.Duration
	failures map[string]failure
	holds    map[string][]chan struct{}
	calls    map[string]int
}

// Option customizes a Server
type Option func(*Server)

// WithBcryptCost sets the password hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Server) { s.bcryptCost = cost }
}

// WithLogger sets the request logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger.With("component", "mockapi") }
}

// WithNow overrides the time source used for timestamps
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a mock backend
func New(opts ...Option) *Server {
	s := &Server{
		logger:     slog.New(slog.NewTextHandler(nopWriter{}, nil)),
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		users:      make(map[string]*user),
		tokens:     make(map[string]int64),
		leads:      make(map[int64]*api.Lead),
		sequences:  make(map[int64]*api.Sequence),
		latency:    make(map[string]time.Duration),
		failures:   make(map[string]failure),
		holds:      make(map[string][]chan struct{}),
		calls:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.route(r, http.MethodPost, "/api/auth/register", false, s.handleRegister)
	s.route(r, http.MethodPost, "/api/auth/login", false, s.handleLogin)
	s.route(r, http.MethodGet, "/api/auth/me", true, s.handleMe)

	s.route(r, http.MethodGet, "/api/leads", true, s.handleListLeads)
	s.route(r, http.MethodPost, "/api/leads", true, s.handleCreateLead)
	s.route(r, http.MethodGet, "/api/leads/export", true, s.handleExportLeads)
	s.route(r, http.MethodGet, "/api/leads/{id}", true, s.handleGetLead)
	s.route(r, http.MethodPut, "/api/leads/{id}", true, s.handleUpdateLead)
	s.route(r, http.MethodDelete, "/api/leads/{id}", true, s.handleDeleteLead)

	s.route(r, http.MethodGet, "/api/sequences", true, s.handleListSequences)
	s.route(r, http.MethodPost, "/api/sequences", true, s.handleCreateSequence)
	s.route(r, http.MethodDelete, "/api/sequences/{id}", true, s.handleDeleteSequence)

	s.route(r, http.MethodPost, "/api/agent/run", true, s.handleRunAgent)
	s.route(r, http.MethodPost, "/api/agent/run-lead/{id}", true, s.handleRunLeadAgent)
	s.route(r, http.MethodPost, "/api/agent/send-custom-email", true, s.handleSendCustomEmail)
	s.route(r, http.MethodGet, "/api/agent/activities", true, s.handleListActivities)
	s.route(r, http.MethodGet, "/api/agent/stats", true, s.handleStats)

	s.route(r, http.MethodPost, "/api/discovery/run", true, s.handleRunDiscovery)
	s.route(r, http.MethodPost, "/api/discovery/add-batch", true, s.handleAddBatch)

	s.router = r
}

// route registers h under "METHOD pattern". The test hooks (latency,
// failures, holds) are keyed by that string, e.g. "GET /api/leads".
func (s *Server) route(r chi.Router, method, pattern string, auth bool, h http.HandlerFunc) {
	key := method + " " + pattern
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		delay := s.latency[key]
		fail, failing := s.failures[key]
		var hold chan struct{}
		if queue := s.holds[key]; len(queue) > 0 {
			hold, s.holds[key] = queue[0], queue[1:]
		}
		s.mu.Unlock()

		if auth && !s.authorized(req) {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		// The handler runs (and reads or mutates state) on arrival; only
		// delivery of its response is delayed or held.
		rec := httptest.NewRecorder()
		if failing {
			writeDetail(rec, fail.status, fail.detail)
		} else {
			h(rec, req)
		}
		s.mu.Lock()
		s.calls[key]++
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return
			}
		}
		if hold != nil {
			select {
			case <-hold:
			case <-req.Context().Done():
				return
			}
		}

		for k, v := range rec.Header() {
			w.Header()[k] = v
		}
		w.WriteHeader(rec.Code)
		w.Write(rec.Body.Bytes())
	}))
}

func (s *Server) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok = s.tokens[token]
	return ok
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// SetLatency delays every response on route by d
func (s *Server) SetLatency(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency[route] = d
}

// Fail makes route answer with status and detail until Recover is called
func (s *Server) Fail(route string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = failure{status: status, detail: detail}
}

// Recover clears an injected failure
func (s *Server) Recover(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, route)
}

// HoldNext holds back the response of the next request on route until
// the returned release func is called. The request's state is read on
// arrival, so a held GET answers with data as of when it started.
func (s *Server) HoldNext(route string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[route] = append(s.holds[route], ch)
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns how many requests on route have been handled. A held
// request counts once its handler has run.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

type validationError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func writeValidation(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []validationError{{Loc: []string{"body", field}, Msg: msg, Type: "value_error"}},
	})
}
