package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the dashboard key bindings.
type KeyMap struct {
	Up   key.Binding
	Down key.Binding

	NextTab      key.Binding
	TabLeads     key.Binding
	TabSequences key.Binding
	TabAgent     key.Binding

	// Leads tab row actions.
	CycleSequence key.Binding
	Unassign      key.Binding
	RunLeadAgent  key.Binding
	Delete        key.Binding
	Search        key.Binding

	RunAgent key.Binding // Agent tab: global run.
	Refresh  key.Binding

	Confirm key.Binding
	Cancel  key.Binding
	Quit    key.Binding
}

// DefaultKeyMap is the built-in binding set.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	NextTab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next tab"),
	),
	TabLeads: key.NewBinding(
		key.WithKeys("1"),
		key.WithHelp("1", "leads"),
	),
	TabSequences: key.NewBinding(
		key.WithKeys("2"),
		key.WithHelp("2", "sequences"),
	),
	TabAgent: key.NewBinding(
		key.WithKeys("3"),
		key.WithHelp("3", "agent"),
	),
	CycleSequence: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "next sequence"),
	),
	Unassign: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "unassign"),
	),
	RunLeadAgent: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "run agent"),
	),
	Delete: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "delete"),
	),
	Search: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "search"),
	),
	RunAgent: key.NewBinding(
		key.WithKeys("g"),
		key.WithHelp("g", "run agent"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Confirm: key.NewBinding(
		key.WithKeys("y"),
		key.WithHelp("y", "confirm"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("n", "esc"),
		key.WithHelp("n/esc", "cancel"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k KeyMap) leadsHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.CycleSequence, k.Unassign, k.RunLeadAgent, k.Delete, k.Search, k.Refresh, k.NextTab, k.Quit}
}

func (k KeyMap) sequencesHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Delete, k.Refresh, k.NextTab, k.Quit}
}

func (k KeyMap) agentHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.RunAgent, k.Refresh, k.NextTab, k.Quit}
}
