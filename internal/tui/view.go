package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/foxzi/followup/internal/activity"
	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/notify"
)

// StepPending is shown in the Step column while a row has a request in flight.
const StepPending = "…"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	tabStyle = lipgloss.NewStyle().
			Padding(0, 2).
			Foreground(lipgloss.Color("#888888"))
	activeTabStyle = tabStyle.
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#5B8DEF"))
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#AAAAAA"))
	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#333A4D"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECB71"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	consoleStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type column struct {
	title string
	width int
}

var leadColumns = []column{
	{"Name", 20},
	{"Email", 26},
	{"Company", 18},
	{"Status", 15},
	{"Sequence", 20},
	{"Step", 4},
}

// View renders the current screen.
func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("FOLLOWUP"))
	b.WriteString("  ")
	b.WriteString(a.renderTabs())
	b.WriteString("\n\n")

	switch a.tab {
	case tabLeads:
		b.WriteString(a.renderLeads())
	case tabSequences:
		b.WriteString(a.renderSequences())
	case tabAgent:
		b.WriteString(a.renderAgent())
	}

	b.WriteString("\n")
	b.WriteString(a.renderFooter())
	return b.String()
}

func (a *App) renderTabs() string {
	parts := make([]string, len(tabTitles))
	for i, t := range tabTitles {
		if tab(i) == a.tab {
			parts[i] = activeTabStyle.Render(t)
		} else {
			parts[i] = tabStyle.Render(t)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (a *App) renderLeads() string {
	var b strings.Builder
	if a.searching || a.search.Value() != "" {
		b.WriteString(a.search.View())
		b.WriteString("\n")
	}

	header := make([]string, len(leadColumns))
	for i, c := range leadColumns {
		header[i] = pad(c.title, c.width)
	}
	b.WriteString(headerStyle.Render(strings.Join(header, " ")))
	b.WriteString("\n")

	rows := a.visibleLeads()
	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("No leads."))
		b.WriteString("\n")
		return b.String()
	}
	for i, lead := range rows {
		line := strings.Join(a.leadCells(lead), " ")
		if i == a.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) leadCells(lead api.Lead) []string {
	step := strconv.Itoa(lead.CurrentStepNumber)
	if view, ok := a.deps.Assign.View(lead.ID); ok && !view.StepKnown {
		step = StepPending
	}
	values := []string{
		lead.Name,
		lead.Email,
		lead.Company,
		string(lead.Status),
		a.deps.Sequences.Name(lead.SequenceID),
		step,
	}
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = pad(v, leadColumns[i].width)
	}
	return cells
}

func (a *App) renderSequences() string {
	seqs := a.deps.Sequences.Sequences()
	if len(seqs) == 0 {
		return dimStyle.Render("No sequences.") + "\n"
	}
	var b strings.Builder
	for i, s := range seqs {
		line := fmt.Sprintf("%s  %s", pad(s.Name, 24), dimStyle.Render(fmt.Sprintf("%d steps", len(s.Steps))))
		if i == a.seqCursor {
			line = selectedStyle.Render(fmt.Sprintf("%s  %d steps", pad(s.Name, 24), len(s.Steps)))
		}
		b.WriteString(line)
		b.WriteString("\n")
		if i != a.seqCursor {
			continue
		}
		if s.Description != "" {
			b.WriteString("    " + dimStyle.Render(s.Description) + "\n")
		}
		for _, st := range s.Steps {
			fmt.Fprintf(&b, "    %d. wait %dd, %s", st.StepNumber, st.WaitDays, st.ActionType)
			if st.TemplateName != "" {
				fmt.Fprintf(&b, " (%s)", st.TemplateName)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (a *App) renderAgent() string {
	var b strings.Builder
	state := dimStyle.Render("idle")
	if a.deps.Agent != nil && a.deps.Agent.Running() {
		state = successStyle.Render("running")
	}
	fmt.Fprintf(&b, "Agent: %s\n", state)
	if s := a.stats; s != nil {
		fmt.Fprintf(&b, "Leads %d  active %d  follow-up %d  stalled %d  sent today %d\n",
			s.TotalLeads, s.Active, s.NeedsFollowup, s.Stalled, s.EmailsSentToday)
	}
	b.WriteString(consoleStyle.Render(a.console.View()))
	b.WriteString("\n")
	return b.String()
}

func renderConsole(entries []api.ActivityLog) string {
	if len(entries) == 0 {
		return dimStyle.Render("Waiting for agent activity...")
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = activity.Line(e)
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderFooter() string {
	if a.confirm != nil {
		return errorStyle.Render(a.confirm.prompt) + " " +
			a.help.ShortHelpView([]key.Binding{a.keys.Confirm, a.keys.Cancel})
	}

	var b strings.Builder
	if msg, ok := a.deps.Status.Current(); ok {
		style := successStyle
		if msg.Kind == notify.KindError {
			style = errorStyle
		}
		b.WriteString(style.Render(msg.Text))
		b.WriteString("\n")
	}

	var bindings []key.Binding
	switch a.tab {
	case tabLeads:
		bindings = a.keys.leadsHelp()
	case tabSequences:
		bindings = a.keys.sequencesHelp()
	case tabAgent:
		bindings = a.keys.agentHelp()
	}
	b.WriteString(a.help.ShortHelpView(bindings))
	return b.String()
}

// pad truncates or right-pads s to width display cells
func pad(s string, width int) string {
	w := lipgloss.Width(s)
	if w > width {
		r := []rune(s)
		for lipgloss.Width(string(r)) > width-1 && len(r) > 0 {
			r = r[:len(r)-1]
		}
		return string(r) + "…"
	}
	return s + strings.Repeat(" ", width-w)
}
