package mockapi

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/followup/internal/api"
)

// AddUser registers an account and returns a valid bearer token for it
func (s *Server) AddUser(email, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[email]; exists {
		return "", fmt.Errorf("user %s already exists", email)
	}
	s.nextID++
	u := &user{id: s.nextID, hash: hash}
	s.users[email] = u
	return s.issueToken(u), nil
}

// issueToken must be called with s.mu held
func (s *Server) issueToken(u *user) string {
	token := uuid.New().String()
	s.tokens[token] = u.id
	return token
}

// AddLead seeds a lead and returns it with its assigned ID
func (s *Server) AddLead(lead api.Lead) api.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLead(lead)
}

func (s *Server) insertLead(lead api.Lead) api.Lead {
	s.nextID++
	lead.ID = s.nextID
	now := api.Timestamp{Time: s.now().UTC()}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	if lead.Status == "" {
		lead.Status = api.StatusActive
	}
	if lead.ContactType == "" {
		lead.ContactType = api.ContactClient
	}
	stored := lead
	s.leads[lead.ID] = &stored
	return stored
}

// AddSequence seeds a sequence and returns it with its assigned IDs
func (s *Server) AddSequence(seq api.Sequence) api.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertSequence(seq)
}

func (s *Server) insertSequence(seq api.Sequence) api.Sequence {
	s.nextID++
	seq.ID = s.nextID
	if seq.CreatedAt.IsZero() {
		seq.CreatedAt = api.Timestamp{Time: s.now().UTC()}
	}
	steps := make([]api.SequenceStep, len(seq.Steps))
	for i, st := range seq.Steps {
		s.nextID++
		st.ID = s.nextID
		st.SequenceID = seq.ID
		steps[i] = st
	}
	seq.Steps = steps
	stored := seq
	s.sequences[seq.ID] = &stored
	return stored
}

// AddActivity appends a log entry
func (s *Server) AddActivity(leadID *int64, actionType string, details map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logActivity(leadID, actionType, details)
}

func (s *Server) logActivity(leadID *int64, actionType string, details map[string]any) {
	s.nextID++
	s.activities = append(s.activities, api.ActivityLog{
		ID:         s.nextID,
		LeadID:     leadID,
		ActionType: actionType,
		Details:    details,
		CreatedAt:  api.Timestamp{Time: s.now().UTC()},
	})
}

// Lead returns the stored lead, for assertions
func (s *Server) Lead(id int64) (api.Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return api.Lead{}, false
	}
	return *l, true
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

// Auth

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds api.Credentials
	if err := decodeBody(r, &creds); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if !strings.Contains(creds.Email, "@") {
		writeValidation(w, "email", "value is not a valid email address")
		return
	}
	if creds.Password == "" {
		writeValidation(w, "password", "field required")
		return
	}

	s.mu.Lock()
	_, exists := s.users[creds.Email]
	s.mu.Unlock()
	if exists {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}

	token, err := s.AddUser(creds.Email, creds.Password)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.AuthToken{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds api.Credentials
	if err := decodeBody(r, &creds); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	u, ok := s.users[creds.Email]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(creds.Password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}

	s.mu.Lock()
	token := s.issueToken(u)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, api.AuthToken{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.tokens[token]
	for email, u := range s.users {
		if u.id == id {
			writeJSON(w, http.StatusOK, api.User{ID: id, Email: email})
			return
		}
	}
	writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
}

// Leads

func (s *Server) sortedLeads() []api.Lead {
	leads := make([]api.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		leads = append(leads, *l)
	}
	sort.Slice(leads, func(i, j int) bool { return leads[i].ID < leads[j].ID })
	return leads
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	leads := s.sortedLeads()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, leads)
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req api.LeadCreate
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeValidation(w, "name", "field required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeValidation(w, "email", "value is not a valid email address")
		return
	}

	s.mu.Lock()
	lead := s.insertLead(api.Lead{
		Name:              req.Name,
		Email:             req.Email,
		Company:           req.Company,
		Phone:             req.Phone,
		LastContactedDate: req.LastContactedDate,
		LastMessage:       req.LastMessage,
		ContactType:       req.ContactType,
		ResumeLink:        req.ResumeLink,
		TechStack:         req.TechStack,
		SourceURL:         req.SourceURL,
	})
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid lead id")
		return
	}
	lead, found := s.Lead(id)
	if !found {
		writeDetail(w, http.StatusNotFound, "Lead not found")
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// handleUpdateLead applies a partial update. Only keys present in the
// body are changed; an explicit null sequence_id clears the link.
func (s *Server) handleUpdateLead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid lead id")
		return
	}
	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lead, found := s.leads[id]
	if !found {
		writeDetail(w, http.StatusNotFound, "Lead not found")
		return
	}
	updated := *lead

	if raw, ok := body["sequence_id"]; ok {
		var seqID *int64
		if err := json.Unmarshal(raw, &seqID); err != nil {
			writeValidation(w, "sequence_id", "value is not a valid integer")
			return
		}
		if seqID != nil {
			if _, exists := s.sequences[*seqID]; !exists {
				writeDetail(w, http.StatusNotFound, "Sequence not found")
				return
			}
		}
		updated.SequenceID = seqID
	}
	if raw, ok := body["current_step_number"]; ok {
		if err := json.Unmarshal(raw, &updated.CurrentStepNumber); err != nil {
			writeValidation(w, "current_step_number", "value is not a valid integer")
			return
		}
	}
	for key, dst := range map[string]*string{
		"name":         &updated.Name,
		"email":        &updated.Email,
		"company":      &updated.Company,
		"phone":        &updated.Phone,
		"last_message": &updated.LastMessage,
		"tech_stack":   &updated.TechStack,
		"resume_link":  &updated.ResumeLink,
		"source_url":   &updated.SourceURL,
	} {
		if raw, ok := body[key]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				writeValidation(w, key, "str type expected")
				return
			}
		}
	}
	if raw, ok := body["status"]; ok {
		json.Unmarshal(raw, &updated.Status)
	}
	if raw, ok := body["contact_type"]; ok {
		json.Unmarshal(raw, &updated.ContactType)
	}

	updated.UpdatedAt = api.Timestamp{Time: s.now().UTC()}
	*lead = updated
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid lead id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.leads[id]; !found {
		writeDetail(w, http.StatusNotFound, "Lead not found")
		return
	}
	delete(s.leads, id)
	writeJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "Lead deleted"})
}

var exportHeader = []string{
	"Name", "Email", "Company", "Phone", "Status", "Contact Type",
	"Last Contacted", "Tech Stack", "Source URL",
}

func (s *Server) handleExportLeads(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	leads := s.sortedLeads()
	s.mu.Unlock()

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Write(exportHeader)
	for _, l := range leads {
		lastContacted := ""
		if l.LastContactedDate != nil && !l.LastContactedDate.IsZero() {
			lastContacted = l.LastContactedDate.Format("2006-01-02")
		}
		cw.Write([]string{
			l.Name, l.Email, l.Company, l.Phone, string(l.Status), string(l.ContactType),
			lastContacted, l.TechStack, l.SourceURL,
		})
	}
	cw.Flush()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="leads_export.csv"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Sequences

func (s *Server) handleListSequences(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	seqs := make([]api.Sequence, 0, len(s.sequences))
	for _, seq := range s.sequences {
		seqs = append(seqs, *seq)
	}
	s.mu.Unlock()
	sort.Slice(seqs, func(i, j int) bool { return seqs[i].ID < seqs[j].ID })
	writeJSON(w, http.StatusOK, seqs)
}

func (s *Server) handleCreateSequence(w http.ResponseWriter, r *http.Request) {
	var req api.SequenceCreate
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeValidation(w, "name", "field required")
		return
	}
	for _, st := range req.Steps {
		if st.ActionType != api.ActionEmail && st.ActionType != api.ActionWhatsApp {
			writeValidation(w, "action_type", "value is not a valid enumeration member")
			return
		}
	}

	s.mu.Lock()
	seq := s.insertSequence(api.Sequence{Name: req.Name, Description: req.Description, Steps: req.Steps})
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, seq)
}

// handleDeleteSequence removes the sequence and detaches it from every
// lead that referenced it.
func (s *Server) handleDeleteSequence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid sequence id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.sequences[id]; !found {
		writeDetail(w, http.StatusNotFound, "Sequence not found")
		return
	}
	delete(s.sequences, id)
	for _, l := range s.leads {
		if l.SequenceID != nil && *l.SequenceID == id {
			l.SequenceID = nil
			l.CurrentStepNumber = 0
		}
	}
	writeJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "Sequence deleted"})
}

// Agent

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	leads := s.sortedLeads()
	for _, l := range leads {
		id := l.ID
		s.logActivity(&id, "classified", map[string]any{
			"lead_name":  l.Name,
			"new_status": string(l.Status),
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, api.AgentRunResult{
		Success:        true,
		LeadsProcessed: len(leads),
		Message:        "Agent cycle started in background.",
	})
}

func (s *Server) handleRunLeadAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid lead id")
		return
	}
	mode := r.URL.Query().Get("context_type")
	if mode == "" {
		mode = "followup"
	}

	s.mu.Lock()
	lead, found := s.leads[id]
	if !found {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Lead not found")
		return
	}
	s.logActivity(&id, "sent_email", map[string]any{
		"lead_name": lead.Name,
		"mode":      mode,
	})
	lead.LastContactedDate = &api.Timestamp{Time: s.now().UTC()}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, api.AgentRunResult{
		Success: true,
		Message: "Lead processing started in background.",
	})
}

func (s *Server) handleSendCustomEmail(w http.ResponseWriter, r *http.Request) {
	var req api.CustomEmailRequest
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Body) == "" {
		writeDetail(w, http.StatusBadRequest, "Subject and body are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lead, found := s.leads[req.LeadID]
	if !found {
		writeDetail(w, http.StatusNotFound, "Lead not found")
		return
	}
	id := req.LeadID
	s.logActivity(&id, "custom_email_sent", map[string]any{"subject": req.Subject})
	lead.LastContactedDate = &api.Timestamp{Time: s.now().UTC()}
	lead.LastMessage = req.Body
	writeJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "Email sent successfully"})
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.activities)
	limit := min(n, activityLimit)
	logs := make([]api.ActivityLog, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		logs = append(logs, s.activities[i])
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats api.DashboardStats
	today := s.now().UTC().Format("2006-01-02")
	for _, l := range s.leads {
		stats.TotalLeads++
		switch l.Status {
		case api.StatusActive:
			stats.Active++
		case api.StatusNeedsFollowup:
			stats.NeedsFollowup++
		case api.StatusStalled:
			stats.Stalled++
		}
		switch l.ContactType {
		case api.ContactRecruiter, api.ContactHR:
			stats.CareerLeads++
		default:
			stats.FreelanceLeads++
		}
	}
	for _, a := range s.activities {
		if (a.ActionType == "sent_email" || a.ActionType == "custom_email_sent") &&
			a.CreatedAt.Format("2006-01-02") == today {
			stats.EmailsSentToday++
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

// Discovery

func (s *Server) handleRunDiscovery(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeValidation(w, "query", "field required")
		return
	}

	slug := strings.ToLower(strings.Join(strings.Fields(query), "-"))
	candidates := make([]api.DiscoveryCandidate, 0, 3)
	for i := 1; i <= 3; i++ {
		company := fmt.Sprintf("%s Co %d", titleWord(query), i)
		candidates = append(candidates, api.DiscoveryCandidate{
			Name:        fmt.Sprintf("Contact %d", i),
			Email:       fmt.Sprintf("contact%d@%s-%d.example", i, slug, i),
			Company:     company,
			ContactType: api.ContactClient,
			SourceURL:   fmt.Sprintf("https://example.com/%s/%d", slug, i),
		})
	}

	s.mu.Lock()
	s.logActivity(nil, "started_discovery", map[string]any{"search_query": query})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, api.DiscoveryResult{
		Success:      true,
		Query:        query,
		ResultsCount: len(candidates),
		Leads:        candidates,
	})
}

func titleWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	w := f[0]
	return strings.ToUpper(w[:1]) + w[1:]
}

func (s *Server) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	var candidates []api.DiscoveryCandidate
	if err := decodeBody(r, &candidates); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	existing := make(map[string]bool, len(s.leads))
	for _, l := range s.leads {
		existing[strings.ToLower(l.Email)] = true
	}
	added := 0
	for _, c := range candidates {
		email := strings.ToLower(c.Email)
		if email == "" || existing[email] {
			continue
		}
		existing[email] = true
		s.insertLead(api.Lead{
			Name:        c.Name,
			Email:       c.Email,
			Company:     c.Company,
			ContactType: c.ContactType,
			SourceURL:   c.SourceURL,
		})
		added++
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, api.BatchResult{Success: true, AddedCount: added})
}
