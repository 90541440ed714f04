// Package assign runs per-lead mutations: sequence assignment, single-lead
// agent runs and custom emails. Each lead row has one busy marker shared by
// all of them; updates are pessimistic and local state only changes via the
// lead store's refetch.
package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/metrics"
	"github.com/foxzi/followup/internal/notify"
)

var (
	// ErrBusy is returned when the lead row already has a request in flight
	ErrBusy = errors.New("lead is busy")
	// ErrEmptyEmail is returned when a custom email lacks subject or body
	ErrEmptyEmail = errors.New("subject and body are required")
)

// Backend is the subset of the API client the controller needs
type Backend interface {
	UpdateLeadAssignment(ctx context.Context, id int64, req *api.LeadAssignment) (*api.Lead, error)
	RunLeadAgent(ctx context.Context, leadID int64, contextType string) (*api.AgentRunResult, error)
	SendCustomEmail(ctx context.Context, req *api.CustomEmailRequest) error
}

// LeadStore is the lead store as seen by the controller
type LeadStore interface {
	Refresh(ctx context.Context) error
	Lead(id int64) (api.Lead, bool)
}

// RowView is what a lead row should display
type RowView struct {
	Lead api.Lead
	Busy bool
	// StepKnown is false while a request is in flight and until the
	// refresh that follows it has returned. The stored step may belong to
	// the sequence being replaced.
	StepKnown bool
	Step      int
}

// Controller coordinates per-lead mutations
type Controller struct {
	backend Backend
	store   LeadStore
	notify  notify.Notifier
	logger  *slog.Logger

	mu       sync.Mutex
	busy     map[int64]string
	settling map[int64]int
}

// New creates an assignment controller
func New(backend Backend, store LeadStore, n notify.Notifier, logger *slog.Logger) *Controller {
	return &Controller{
		backend: backend,
		store:   store,
		notify:  n,
		logger:  logger.With("component", "assign"),
		busy:     make(map[int64]string),
		settling: make(map[int64]int),
	}
}

func (c *Controller) begin(leadID int64, action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.busy[leadID]; ok {
		c.logger.Debug("lead busy", "lead_id", leadID, "action", action, "in_flight", current)
		return fmt.Errorf("lead %d: %w", leadID, ErrBusy)
	}
	c.busy[leadID] = action
	metrics.SetBusyRows(len(c.busy))
	return nil
}

func (c *Controller) end(leadID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.busy, leadID)
	metrics.SetBusyRows(len(c.busy))
}

// Busy reports whether leadID has a request in flight
func (c *Controller) Busy(leadID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.busy[leadID]
	return ok
}

// settle refreshes the store after a mutation of leadID. The row's step
// stays hidden until the refresh returns.
func (c *Controller) settle(ctx context.Context, leadID int64) {
	c.mu.Lock()
	c.settling[leadID]++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.settling[leadID]--; c.settling[leadID] <= 0 {
			delete(c.settling, leadID)
		}
		c.mu.Unlock()
	}()

	if err := c.store.Refresh(ctx); err != nil {
		c.logger.Debug("refresh after update failed", "lead_id", leadID, "error", err)
	}
}

func (c *Controller) stepHidden(leadID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.busy[leadID]
	return busy || c.settling[leadID] > 0
}

// View returns the display state of one lead row
func (c *Controller) View(leadID int64) (RowView, bool) {
	lead, ok := c.store.Lead(leadID)
	if !ok {
		return RowView{}, false
	}
	v := RowView{Lead: lead, Busy: c.Busy(leadID), StepKnown: !c.stepHidden(leadID)}
	if v.StepKnown {
		v.Step = lead.CurrentStepNumber
	}
	return v, true
}

// Assign links leadID to sequenceID, or unlinks it when sequenceID is
// nil. The step counter is always reset to zero.
func (c *Controller) Assign(ctx context.Context, leadID int64, sequenceID *int64) error {
	if err := c.begin(leadID, "assign"); err != nil {
		return err
	}

	req := &api.LeadAssignment{SequenceID: sequenceID, CurrentStepNumber: 0}
	_, err := c.backend.UpdateLeadAssignment(ctx, leadID, req)
	c.end(leadID)

	if err != nil {
		metrics.IncAssignments("error")
		c.logger.Warn("failed to assign sequence", "lead_id", leadID, "error", err)
		c.notify.Error("Failed to assign sequence")
		return fmt.Errorf("assign lead %d: %w", leadID, err)
	}

	metrics.IncAssignments("ok")
	if sequenceID == nil {
		c.logger.Info("sequence removed", "lead_id", leadID)
		c.notify.Success("Sequence removed")
	} else {
		c.logger.Info("sequence assigned", "lead_id", leadID, "sequence_id", *sequenceID)
		c.notify.Success("Sequence assigned!")
	}
	c.settle(ctx, leadID)
	return nil
}

// RunAgent runs the agent for a single lead. contextType is optional.
func (c *Controller) RunAgent(ctx context.Context, leadID int64, contextType string) (*api.AgentRunResult, error) {
	if err := c.begin(leadID, "run_agent"); err != nil {
		return nil, err
	}

	res, err := c.backend.RunLeadAgent(ctx, leadID, contextType)
	c.end(leadID)

	if err != nil {
		c.logger.Warn("agent action failed", "lead_id", leadID, "error", err)
		c.notify.Error(api.Message(err, "Agent action failed"))
		return nil, fmt.Errorf("run agent for lead %d: %w", leadID, err)
	}

	msg := res.Message
	if msg == "" {
		msg = "Processing started!"
	}
	c.notify.Success(msg)
	c.settle(ctx, leadID)
	return res, nil
}

// SendCustomEmail sends a manual email to a lead
func (c *Controller) SendCustomEmail(ctx context.Context, leadID int64, subject, body string) error {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(body) == "" {
		return ErrEmptyEmail
	}
	if err := c.begin(leadID, "custom_email"); err != nil {
		return err
	}

	err := c.backend.SendCustomEmail(ctx, &api.CustomEmailRequest{LeadID: leadID, Subject: subject, Body: body})
	c.end(leadID)

	if err != nil {
		c.logger.Warn("failed to send custom email", "lead_id", leadID, "error", err)
		c.notify.Error("Failed to send custom email")
		return fmt.Errorf("send custom email to lead %d: %w", leadID, err)
	}

	c.notify.Success("Custom email sent!")
	c.settle(ctx, leadID)
	return nil
}
