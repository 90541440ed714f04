package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/followup/internal/metrics"
)

// TokenSource supplies the bearer token and is told to log out when the
// backend rejects it. session.Service satisfies it.
type TokenSource interface {
	Token() string
	Logout() error
}

// Client is a FollowUp backend API client
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger used for request tracing
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.With("component", "api")
		}
	}
}

// NewClient creates a new backend API client
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend address
func (c *Client) BaseURL() string { return c.baseURL }

// do performs an HTTP request and returns the response for status < 400.
// The caller closes the body.
func (c *Client) do(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	requestID := uuid.New().String()
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRequest(method, path, 0, time.Since(start))
		c.logger.Debug("request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return nil, &TransportError{Err: err}
	}
	metrics.ObserveRequest(method, path, resp.StatusCode, time.Since(start))
	c.logger.Debug("request done", "method", method, "path", path, "status", resp.StatusCode, "request_id", requestID)

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			apiErr.Detail = parseDetail(errResp.Detail)
		}
		if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
			if err := c.tokens.Logout(); err != nil {
				c.logger.Warn("logout after 401 failed", "error", err)
			}
		}
		return nil, apiErr
	}

	return resp, nil
}

// request performs a JSON request and decodes the response into result
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func leadPath(id int64) string {
	return "/api/leads/" + strconv.FormatInt(id, 10)
}

// ListLeads lists all leads
func (c *Client) ListLeads(ctx context.Context) ([]Lead, error) {
	var leads []Lead
	if err := c.request(ctx, http.MethodGet, "/api/leads", nil, &leads); err != nil {
		return nil, err
	}
	return leads, nil
}

// CreateLead creates a new lead
func (c *Client) CreateLead(ctx context.Context, req *LeadCreate) (*Lead, error) {
	var lead Lead
	if err := c.request(ctx, http.MethodPost, "/api/leads", req, &lead); err != nil {
		return nil, err
	}
	return &lead, nil
}

// UpdateLeadAssignment sets a lead's sequence and step counter
func (c *Client) UpdateLeadAssignment(ctx context.Context, id int64, req *LeadAssignment) (*Lead, error) {
	var lead Lead
	if err := c.request(ctx, http.MethodPut, leadPath(id), req, &lead); err != nil {
		return nil, err
	}
	return &lead, nil
}

// DeleteLead deletes a lead
func (c *Client) DeleteLead(ctx context.Context, id int64) error {
	return c.request(ctx, http.MethodDelete, leadPath(id), nil, nil)
}

// ExportLeads downloads the CSV export
func (c *Client) ExportLeads(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/leads/export", nil, "text/csv")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	return data, nil
}

// ListSequences lists all sequences
func (c *Client) ListSequences(ctx context.Context) ([]Sequence, error) {
	var seqs []Sequence
	if err := c.request(ctx, http.MethodGet, "/api/sequences", nil, &seqs); err != nil {
		return nil, err
	}
	return seqs, nil
}

// CreateSequence creates a sequence with its steps
func (c *Client) CreateSequence(ctx context.Context, req *SequenceCreate) (*Sequence, error) {
	var seq Sequence
	if err := c.request(ctx, http.MethodPost, "/api/sequences", req, &seq); err != nil {
		return nil, err
	}
	return &seq, nil
}

// DeleteSequence deletes a sequence; the backend detaches it from leads
func (c *Client) DeleteSequence(ctx context.Context, id int64) error {
	return c.request(ctx, http.MethodDelete, "/api/sequences/"+strconv.FormatInt(id, 10), nil, nil)
}

// RunAgent starts a global agent cycle
func (c *Client) RunAgent(ctx context.Context) (*AgentRunResult, error) {
	var resp AgentRunResult
	if err := c.request(ctx, http.MethodPost, "/api/agent/run", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunLeadAgent runs the agent for one lead. contextType may be empty.
func (c *Client) RunLeadAgent(ctx context.Context, leadID int64, contextType string) (*AgentRunResult, error) {
	path := "/api/agent/run-lead/" + strconv.FormatInt(leadID, 10)
	if contextType != "" {
		path += "?" + url.Values{"context_type": {contextType}}.Encode()
	}
	var resp AgentRunResult
	if err := c.request(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendCustomEmail sends a manual email to a lead
func (c *Client) SendCustomEmail(ctx context.Context, req *CustomEmailRequest) error {
	return c.request(ctx, http.MethodPost, "/api/agent/send-custom-email", req, nil)
}

// ListActivities returns the agent activity log
func (c *Client) ListActivities(ctx context.Context) ([]ActivityLog, error) {
	var logs []ActivityLog
	if err := c.request(ctx, http.MethodGet, "/api/agent/activities", nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// Stats returns dashboard statistics
func (c *Client) Stats(ctx context.Context) (*DashboardStats, error) {
	var stats DashboardStats
	if err := c.request(ctx, http.MethodGet, "/api/agent/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// RunDiscovery searches for candidate leads
func (c *Client) RunDiscovery(ctx context.Context, query string) (*DiscoveryResult, error) {
	path := "/api/discovery/run?" + url.Values{"query": {query}}.Encode()
	var resp DiscoveryResult
	if err := c.request(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ImportCandidates adds discovered candidates to the pipeline
func (c *Client) ImportCandidates(ctx context.Context, candidates []DiscoveryCandidate) (*BatchResult, error) {
	if candidates == nil {
		candidates = []DiscoveryCandidate{}
	}
	var resp BatchResult
	if err := c.request(ctx, http.MethodPost, "/api/discovery/add-batch", candidates, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login exchanges credentials for a token
func (c *Client) Login(ctx context.Context, creds *Credentials) (*AuthToken, error) {
	var tok AuthToken
	if err := c.request(ctx, http.MethodPost, "/api/auth/login", creds, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Register creates an account and returns its token
func (c *Client) Register(ctx context.Context, creds *Credentials) (*AuthToken, error) {
	var tok AuthToken
	if err := c.request(ctx, http.MethodPost, "/api/auth/register", creds, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Me returns the authenticated user
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.request(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
