package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// LeadStatus is a lead's pipeline status
type LeadStatus string

const (
	StatusActive        LeadStatus = "active"
	StatusNeedsFollowup LeadStatus = "needs_followup"
	StatusStalled       LeadStatus = "stalled"
)

// ContactType classifies a lead
type ContactType string

const (
	ContactClient    ContactType = "client"
	ContactRecruiter ContactType = "recruiter"
	ContactHR        ContactType = "hr"
)

// ActionType is the kind of a sequence step
type ActionType string

const (
	ActionEmail    ActionType = "email"
	ActionWhatsApp ActionType = "whatsapp"
)

// Timestamp accepts RFC 3339 as well as the zone-less ISO form the
// backend emits for naive datetimes.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Lead is a prospect tracked through the pipeline
type Lead struct {
	ID                int64       `json:"id"`
	UserID            int64       `json:"user_id"`
	Name              string      `json:"name"`
	Email             string      `json:"email"`
	Company           string      `json:"company"`
	Phone             string      `json:"phone"`
	LastContactedDate *Timestamp  `json:"last_contacted_date"`
	LastMessage       string      `json:"last_message"`
	Status            LeadStatus  `json:"status"`
	ContactType       ContactType `json:"contact_type"`
	ResumeLink        string      `json:"resume_link"`
	TechStack         string      `json:"tech_stack"`
	SourceURL         string      `json:"source_url"`
	SequenceID        *int64      `json:"sequence_id"`
	CurrentStepNumber int         `json:"current_step_number"`
	CreatedAt         Timestamp   `json:"created_at"`
	UpdatedAt         Timestamp   `json:"updated_at"`
}

// LeadCreate is the body of POST /api/leads
type LeadCreate struct {
	Name              string      `json:"name"`
	Email             string      `json:"email"`
	Company           string      `json:"company,omitempty"`
	LastContactedDate *Timestamp  `json:"last_contacted_date,omitempty"`
	LastMessage       string      `json:"last_message,omitempty"`
	ContactType       ContactType `json:"contact_type,omitempty"`
	ResumeLink        string      `json:"resume_link,omitempty"`
	TechStack         string      `json:"tech_stack,omitempty"`
	SourceURL         string      `json:"source_url,omitempty"`
	Phone             string      `json:"phone,omitempty"`
}

// LeadAssignment is the partial update sent when (re)assigning a
// sequence. Both keys are always serialised: a nil SequenceID goes out
// as an explicit null so the backend clears the link.
type LeadAssignment struct {
	SequenceID        *int64 `json:"sequence_id"`
	CurrentStepNumber int    `json:"current_step_number"`
}

// SequenceStep is one timed action within a sequence
type SequenceStep struct {
	ID           int64      `json:"id,omitempty"`
	SequenceID   int64      `json:"sequence_id,omitempty"`
	StepNumber   int        `json:"step_number"`
	WaitDays     int        `json:"wait_days"`
	ActionType   ActionType `json:"action_type"`
	TemplateName string     `json:"template_name,omitempty"`
}

// Sequence is a named, ordered set of outreach steps
type Sequence struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Steps       []SequenceStep `json:"steps"`
	CreatedAt   Timestamp      `json:"created_at"`
}

// SequenceCreate is the body of POST /api/sequences
type SequenceCreate struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Steps       []SequenceStep `json:"steps"`
}

// ActivityLog is one automation or user action
type ActivityLog struct {
	ID         int64          `json:"id"`
	UserID     int64          `json:"user_id"`
	LeadID     *int64         `json:"lead_id"`
	ActionType string         `json:"action_type"`
	Details    map[string]any `json:"details"`
	CreatedAt  Timestamp      `json:"created_at"`
}

// AgentRunResult is returned by both agent run endpoints
type AgentRunResult struct {
	Success        bool             `json:"success"`
	LeadsProcessed int              `json:"leads_processed"`
	EmailsSent     int              `json:"emails_sent"`
	Activities     []map[string]any `json:"activities"`
	Message        string           `json:"message"`
}

// CustomEmailRequest is the body of POST /api/agent/send-custom-email
type CustomEmailRequest struct {
	LeadID  int64  `json:"lead_id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// MessageResponse is a generic {success, message} reply
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DashboardStats summarises the pipeline
type DashboardStats struct {
	TotalLeads      int `json:"total_leads"`
	Active          int `json:"active"`
	NeedsFollowup   int `json:"needs_followup"`
	Stalled         int `json:"stalled"`
	EmailsSentToday int `json:"emails_sent_today"`
	CareerLeads     int `json:"career_leads"`
	FreelanceLeads  int `json:"freelance_leads"`
}

// DiscoveryCandidate is a lead proposed by a discovery run
type DiscoveryCandidate struct {
	Name        string      `json:"name"`
	Email       string      `json:"email,omitempty"`
	Company     string      `json:"company,omitempty"`
	ContactType ContactType `json:"contact_type,omitempty"`
	SourceURL   string      `json:"source_url,omitempty"`
}

// DiscoveryResult is returned by POST /api/discovery/run
type DiscoveryResult struct {
	Success      bool                 `json:"success"`
	Query        string               `json:"query"`
	ResultsCount int                  `json:"results_count"`
	Leads        []DiscoveryCandidate `json:"leads"`
}

// BatchResult is returned by POST /api/discovery/add-batch
type BatchResult struct {
	Success    bool `json:"success"`
	AddedCount int  `json:"added_count"`
}

// Credentials is the body of the login and register endpoints
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthToken is returned by login and register
type AuthToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// User is the authenticated account
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// ErrorResponse is the backend's error body. Detail is either a string
// or a list of validation errors.
type ErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}
