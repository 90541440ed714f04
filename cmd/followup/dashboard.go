package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/foxzi/followup/internal/activity"
	"github.com/foxzi/followup/internal/agent"
	"github.com/foxzi/followup/internal/assign"
	"github.com/foxzi/followup/internal/tui"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"ui"},
	Short:   "Open the interactive dashboard",
	RunE:    runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	rt, err := setup(true)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.requireLogin(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	rt.startMetrics(ctx)

	status := tui.NewStatusLine(0)
	store := rt.leadStore(status)
	poller := activity.New(rt.client, rt.logger, activity.WithInterval(rt.cfg.Activity.PollInterval))
	app := tui.New(ctx, tui.Deps{
		Leads:     store,
		Sequences: rt.catalog(status),
		Assign:    assign.New(rt.client, store, status, rt.logger),
		Agent:     newConsole(rt, status, agent.WithPoller(poller)),
		Activity:  poller,
		Session:   rt.session,
		Status:    status,
		Logger:    rt.logger,
	})
	defer app.Close()

	rt.logger.Info("dashboard opened", "api", rt.client.BaseURL())
	program := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	if msg := app.Err(); msg != "" {
		return errors.New(msg)
	}
	return nil
}
