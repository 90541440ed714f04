package sequences

import (
	"errors"
	"fmt"
	"strings"

	"github.com/foxzi/followup/internal/api"
)

// ErrInvalidDraft is returned by Draft.Validate
var ErrInvalidDraft = errors.New("invalid sequence draft")

// Draft is a sequence being composed. Step numbers always run 1..n in
// list order.
type Draft struct {
	Name        string
	Description string
	steps       []api.SequenceStep
}

// NewDraft starts a draft with no steps
func NewDraft(name, description string) *Draft {
	return &Draft{Name: name, Description: description}
}

// AddStep appends a step numbered after the current last one
func (d *Draft) AddStep(waitDays int, action api.ActionType, template string) {
	d.steps = append(d.steps, api.SequenceStep{
		StepNumber:   len(d.steps) + 1,
		WaitDays:     waitDays,
		ActionType:   action,
		TemplateName: template,
	})
}

// RemoveStep drops the step at index i and renumbers the rest
func (d *Draft) RemoveStep(i int) bool {
	if i < 0 || i >= len(d.steps) {
		return false
	}
	d.steps = append(d.steps[:i], d.steps[i+1:]...)
	for j := range d.steps {
		d.steps[j].StepNumber = j + 1
	}
	return true
}

// Steps returns a copy of the draft's steps
func (d *Draft) Steps() []api.SequenceStep {
	return append([]api.SequenceStep(nil), d.steps...)
}

// Validate checks the draft before it is sent
func (d *Draft) Validate() error {
	if d == nil || strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDraft)
	}
	for _, s := range d.steps {
		if s.WaitDays < 0 {
			return fmt.Errorf("%w: step %d: wait_days must not be negative", ErrInvalidDraft, s.StepNumber)
		}
		if s.ActionType != api.ActionEmail && s.ActionType != api.ActionWhatsApp {
			return fmt.Errorf("%w: step %d: unknown action %q", ErrInvalidDraft, s.StepNumber, s.ActionType)
		}
	}
	return nil
}

// Request builds the create body
func (d *Draft) Request() *api.SequenceCreate {
	steps := d.Steps()
	if steps == nil {
		steps = []api.SequenceStep{}
	}
	return &api.SequenceCreate{
		Name:        strings.TrimSpace(d.Name),
		Description: d.Description,
		Steps:       steps,
	}
}
