// Package tui is the followup terminal dashboard. It is a bubbletea
// program over the same stores the CLI commands use: every key press
// becomes a command that calls a store, and the stores report changes
// back through OnChange hooks.
package tui

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/foxzi/followup/internal/activity"
	"github.com/foxzi/followup/internal/agent"
	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/assign"
	"github.com/foxzi/followup/internal/leads"
	"github.com/foxzi/followup/internal/notify"
	"github.com/foxzi/followup/internal/sequences"
	"github.com/foxzi/followup/internal/session"
)

// tab is the visible screen
type tab int

const (
	tabLeads tab = iota
	tabSequences
	tabAgent
)

var tabTitles = []string{"Leads", "Sequences", "Agent"}

const redrawInterval = time.Second

// Deps are the stores and services the dashboard drives.
type Deps struct {
	Leads     *leads.Store
	Sequences *sequences.Catalog
	Assign    *assign.Controller
	Agent     *agent.Console
	Activity  *activity.Poller
	Session   session.Service
	Status    *StatusLine
	Logger    *slog.Logger
}

// eventMsg means a store or the poller changed
type eventMsg struct{}

// actionDoneMsg ends a command started by a key press
type actionDoneMsg struct {
	err error
}

type statsMsg struct {
	stats *api.DashboardStats
	err   error
}

type tickMsg time.Time

// confirmation is a pending destructive action awaiting y/n
type confirmation struct {
	prompt string
	run    func(ctx context.Context) error
}

// App is the dashboard model.
type App struct {
	deps   Deps
	logger *slog.Logger
	keys   KeyMap
	help   help.Model

	ctx    context.Context
	cancel context.CancelFunc
	events chan struct{}

	loggedOut atomic.Bool

	tab       tab
	cursor    int
	seqCursor int

	searching bool
	search    textinput.Model
	confirm   *confirmation

	console viewport.Model
	stats   *api.DashboardStats

	width  int
	height int
	err    string
}

// New creates the dashboard. Close must be called after the program exits.
func New(ctx context.Context, deps Deps) *App {
	if deps.Status == nil {
		deps.Status = NewStatusLine(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)

	search := textinput.New()
	search.Prompt = "/ "
	search.Placeholder = "search leads"
	search.CharLimit = 120

	a := &App{
		deps:    deps,
		logger:  deps.Logger.With("component", "tui"),
		keys:    DefaultKeyMap,
		help:    help.New(),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan struct{}, 1),
		search:  search,
		console: viewport.New(80, 12),
	}

	deps.Leads.OnChange(a.signal)
	if deps.Activity != nil {
		deps.Activity.OnChange(func([]api.ActivityLog) { a.signal() })
	}
	if deps.Session != nil {
		deps.Session.OnLogout(func() {
			a.loggedOut.Store(true)
			a.signal()
		})
	}
	return a
}

// signal wakes waitForEvent without blocking the caller
func (a *App) signal() {
	select {
	case a.events <- struct{}{}:
	default:
	}
}

func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-a.events:
			return eventMsg{}
		case <-a.ctx.Done():
			return nil
		}
	}
}

func (a *App) scheduleRedraw() tea.Cmd {
	return tea.Tick(redrawInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Close stops the poller and any pending timers.
func (a *App) Close() {
	if a.deps.Activity != nil {
		a.deps.Activity.Stop()
	}
	if a.deps.Agent != nil {
		a.deps.Agent.Close()
	}
	a.cancel()
}

// Err returns the reason the program quit on its own, if any.
func (a *App) Err() string { return a.err }

// Init loads leads and sequences and starts the event loop.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.refreshAll(), a.waitForEvent(), a.scheduleRedraw())
}

// Update handles one message.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.console.Width = max(20, msg.Width-4)
		a.console.Height = max(3, msg.Height-12)
		a.syncConsole()
		return a, nil

	case eventMsg:
		if a.loggedOut.Load() {
			a.err = "Session expired. Run `followup login` to sign in again."
			return a, a.quit()
		}
		a.syncConsole()
		a.clampCursors()
		return a, a.waitForEvent()

	case actionDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, assign.ErrBusy) {
			a.logger.Debug("action failed", "error", msg.err)
		}
		a.clampCursors()
		return a, nil

	case statsMsg:
		if msg.err == nil {
			a.stats = msg.stats
		}
		return a, nil

	case tickMsg:
		return a, a.scheduleRedraw()

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, a.quit()
	}
	if a.confirm != nil {
		return a.handleConfirmKey(msg)
	}
	if a.searching {
		return a.handleSearchKey(msg)
	}

	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, a.quit()
	case key.Matches(msg, a.keys.NextTab):
		return a, a.switchTab((a.tab + 1) % tab(len(tabTitles)))
	case key.Matches(msg, a.keys.TabLeads):
		return a, a.switchTab(tabLeads)
	case key.Matches(msg, a.keys.TabSequences):
		return a, a.switchTab(tabSequences)
	case key.Matches(msg, a.keys.TabAgent):
		return a, a.switchTab(tabAgent)
	}

	switch a.tab {
	case tabLeads:
		return a, a.handleLeadsKey(msg)
	case tabSequences:
		return a, a.handleSequencesKey(msg)
	case tabAgent:
		return a, a.handleAgentKey(msg)
	}
	return a, nil
}

func (a *App) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Confirm):
		run := a.confirm.run
		a.confirm = nil
		return a, a.action(run)
	case key.Matches(msg, a.keys.Cancel):
		a.confirm = nil
	}
	return a, nil
}

func (a *App) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.search.SetValue("")
		fallthrough
	case "enter":
		a.searching = false
		a.search.Blur()
		a.clampCursors()
		return a, nil
	}
	var cmd tea.Cmd
	a.search, cmd = a.search.Update(msg)
	a.cursor = 0
	return a, cmd
}

func (a *App) handleLeadsKey(msg tea.KeyMsg) tea.Cmd {
	// A refresh may have shrunk the list before its message arrived.
	rows := a.visibleLeads()
	a.cursor = clamp(a.cursor, len(rows))
	switch {
	case key.Matches(msg, a.keys.Up):
		if a.cursor > 0 {
			a.cursor--
		}
		return nil
	case key.Matches(msg, a.keys.Down):
		if a.cursor < len(rows)-1 {
			a.cursor++
		}
		return nil
	case key.Matches(msg, a.keys.Search):
		a.searching = true
		return a.search.Focus()
	case key.Matches(msg, a.keys.Refresh):
		return a.refreshAll()
	}

	if len(rows) == 0 {
		return nil
	}
	lead := rows[a.cursor]

	switch {
	case key.Matches(msg, a.keys.CycleSequence):
		next, ok := nextSequence(a.deps.Sequences.Sequences(), lead.SequenceID)
		if !ok {
			a.deps.Status.Error("No sequences available")
			return nil
		}
		return a.action(func(ctx context.Context) error {
			return a.deps.Assign.Assign(ctx, lead.ID, next)
		})
	case key.Matches(msg, a.keys.Unassign):
		if lead.SequenceID == nil {
			return nil
		}
		return a.action(func(ctx context.Context) error {
			return a.deps.Assign.Assign(ctx, lead.ID, nil)
		})
	case key.Matches(msg, a.keys.RunLeadAgent):
		return a.action(func(ctx context.Context) error {
			_, err := a.deps.Assign.RunAgent(ctx, lead.ID, "")
			return err
		})
	case key.Matches(msg, a.keys.Delete):
		a.confirm = &confirmation{
			prompt: leads.DeletePrompt,
			run: func(ctx context.Context) error {
				return a.deps.Leads.Delete(ctx, lead.ID, approved)
			},
		}
	}
	return nil
}

func (a *App) handleSequencesKey(msg tea.KeyMsg) tea.Cmd {
	seqs := a.deps.Sequences.Sequences()
	a.seqCursor = clamp(a.seqCursor, len(seqs))
	switch {
	case key.Matches(msg, a.keys.Up):
		if a.seqCursor > 0 {
			a.seqCursor--
		}
	case key.Matches(msg, a.keys.Down):
		if a.seqCursor < len(seqs)-1 {
			a.seqCursor++
		}
	case key.Matches(msg, a.keys.Refresh):
		return a.refreshAll()
	case key.Matches(msg, a.keys.Delete):
		if len(seqs) == 0 {
			return nil
		}
		id := seqs[a.seqCursor].ID
		a.confirm = &confirmation{
			prompt: sequences.DeletePrompt,
			run: func(ctx context.Context) error {
				if err := a.deps.Sequences.Delete(ctx, id, approved); err != nil {
					return err
				}
				// Leads pointing at the sequence were detached server-side.
				return a.deps.Leads.Refresh(ctx)
			},
		}
	}
	return nil
}

func (a *App) handleAgentKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, a.keys.Up):
		a.console.LineUp(1)
	case key.Matches(msg, a.keys.Down):
		a.console.LineDown(1)
	case key.Matches(msg, a.keys.RunAgent):
		ctx := a.ctx
		return func() tea.Msg {
			if _, err := a.deps.Agent.RunGlobal(ctx); err != nil {
				return actionDoneMsg{err: err}
			}
			stats, err := a.deps.Agent.Stats(ctx)
			return statsMsg{stats: stats, err: err}
		}
	case key.Matches(msg, a.keys.Refresh):
		if a.deps.Activity != nil {
			a.deps.Activity.PollNow()
		}
		return a.fetchStats()
	}
	return nil
}

// switchTab starts the poller on entering the Agent tab and stops it on
// leaving.
func (a *App) switchTab(to tab) tea.Cmd {
	if to == a.tab {
		return nil
	}
	from := a.tab
	a.tab = to
	if from == tabAgent && a.deps.Activity != nil {
		a.deps.Activity.Stop()
	}
	if to == tabAgent {
		if a.deps.Activity != nil {
			a.deps.Activity.Start(a.ctx)
		}
		a.syncConsole()
		return a.fetchStats()
	}
	return nil
}

func (a *App) quit() tea.Cmd {
	if a.deps.Activity != nil {
		a.deps.Activity.Stop()
	}
	return tea.Quit
}

// action runs fn off the update loop
func (a *App) action(fn func(ctx context.Context) error) tea.Cmd {
	ctx := a.ctx
	return func() tea.Msg {
		return actionDoneMsg{err: fn(ctx)}
	}
}

func (a *App) refreshAll() tea.Cmd {
	return a.action(func(ctx context.Context) error {
		a.deps.Sequences.Refresh(ctx)
		return a.deps.Leads.Refresh(ctx)
	})
}

func (a *App) fetchStats() tea.Cmd {
	if a.deps.Agent == nil {
		return nil
	}
	ctx := a.ctx
	return func() tea.Msg {
		stats, err := a.deps.Agent.Stats(ctx)
		return statsMsg{stats: stats, err: err}
	}
}

func (a *App) visibleLeads() []api.Lead {
	return a.deps.Leads.Filter(a.search.Value())
}

func (a *App) clampCursors() {
	a.cursor = clamp(a.cursor, len(a.visibleLeads()))
	a.seqCursor = clamp(a.seqCursor, len(a.deps.Sequences.Sequences()))
}

// clamp keeps cursor within a list of n rows
func clamp(cursor, n int) int {
	return max(0, min(cursor, n-1))
}

// syncConsole re-renders the activity log and scrolls to the newest line
func (a *App) syncConsole() {
	if a.deps.Activity == nil {
		return
	}
	a.console.SetContent(renderConsole(a.deps.Activity.Entries()))
	a.console.GotoBottom()
}

// nextSequence returns the sequence after current in catalog order. After
// the last one it wraps to unassigned. ok is false when there are none.
func nextSequence(seqs []api.Sequence, current *int64) (next *int64, ok bool) {
	if len(seqs) == 0 {
		return nil, false
	}
	if current == nil {
		id := seqs[0].ID
		return &id, true
	}
	for i, s := range seqs {
		if s.ID != *current {
			continue
		}
		if i == len(seqs)-1 {
			return nil, true
		}
		id := seqs[i+1].ID
		return &id, true
	}
	id := seqs[0].ID
	return &id, true
}

// approved is the Confirmer used after the dashboard has asked y/n itself
var approved notify.Confirmer = func(string) bool { return true }
