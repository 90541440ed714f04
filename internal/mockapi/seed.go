package mockapi

import (
	"time"

	"github.com/foxzi/followup/internal/api"
)

// SeedDemo fills the backend with a small pipeline: two sequences, a
// handful of leads in different states and some agent activity.
func (s *Server) SeedDemo() {
	s.mu.Lock()
	defer s.mu.Unlock()

	intro := s.insertSequence(api.Sequence{
		Name:        "Warm intro",
		Description: "Intro email, a nudge, then WhatsApp",
		Steps: []api.SequenceStep{
			{StepNumber: 1, WaitDays: 0, ActionType: api.ActionEmail, TemplateName: "intro"},
			{StepNumber: 2, WaitDays: 3, ActionType: api.ActionEmail, TemplateName: "nudge"},
			{StepNumber: 3, WaitDays: 7, ActionType: api.ActionWhatsApp},
		},
	})
	recruiter := s.insertSequence(api.Sequence{
		Name:        "Recruiter follow-up",
		Description: "Resume first, then a check-in",
		Steps: []api.SequenceStep{
			{StepNumber: 1, WaitDays: 0, ActionType: api.ActionEmail, TemplateName: "resume"},
			{StepNumber: 2, WaitDays: 5, ActionType: api.ActionEmail, TemplateName: "check_in"},
		},
	})

	lastWeek := &api.Timestamp{Time: s.now().UTC().Add(-7 * 24 * time.Hour)}
	demo := []api.Lead{
		{Name: "Ada Lovelace", Email: "ada@analytical.example", Company: "Analytical Engines", Phone: "+44 20 7946 0018",
			ContactType: api.ContactClient, TechStack: "Go, Postgres", SequenceID: &intro.ID, CurrentStepNumber: 1},
		{Name: "Grace Hopper", Email: "grace@cobol.example", Company: "Compiler Co", Status: api.StatusNeedsFollowup,
			ContactType: api.ContactRecruiter, SequenceID: &recruiter.ID, LastContactedDate: lastWeek},
		{Name: "Linus Torvalds", Email: "linus@kernel.example", Company: "Kernel Labs", Status: api.StatusStalled,
			ContactType: api.ContactHR, LastContactedDate: lastWeek, LastMessage: "Checking in on the role"},
		{Name: "Barbara Liskov", Email: "barbara@clu.example", Company: "Substitution Inc", ContactType: api.ContactClient},
	}
	for _, l := range demo {
		lead := s.insertLead(l)
		s.logActivity(&lead.ID, "classified", map[string]any{
			"lead_name":  lead.Name,
			"new_status": string(lead.Status),
		})
	}
	s.logActivity(nil, "started_discovery", map[string]any{"search_query": "golang agencies berlin"})
}
