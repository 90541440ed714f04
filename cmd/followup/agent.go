package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foxzi/followup/internal/activity"
	"github.com/foxzi/followup/internal/agent"
	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/notify"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Autonomous agent commands",
}

var agentRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an agent cycle over every lead",
	RunE:  runAgentRun,
}

var agentStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline statistics",
	RunE:  runAgentStats,
}

var agentTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the agent activity log",
	RunE:  runAgentTail,
}

func init() {
	agentCmd.AddCommand(agentRunCmd)
	agentCmd.AddCommand(agentStatsCmd)
	agentCmd.AddCommand(agentTailCmd)
}

func newConsole(rt *runtime, n notify.Notifier, opts ...agent.Option) *agent.Console {
	opts = append([]agent.Option{agent.WithBusyTimeout(rt.cfg.Agent.BusyTimeout)}, opts...)
	return agent.New(rt.client, n, rt.logger, opts...)
}

func runAgentRun(cmd *cobra.Command, args []string) error {
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	console := newConsole(rt, rt.notify)
	defer console.Close()

	res, err := console.RunGlobal(context.Background())
	if err != nil {
		return err
	}
	if res.LeadsProcessed > 0 || res.EmailsSent > 0 {
		fmt.Printf("Leads processed: %d, emails sent: %d\n", res.LeadsProcessed, res.EmailsSent)
	}
	return nil
}

func printStats(s *api.DashboardStats) {
	fmt.Printf("Total leads:       %d\n", s.TotalLeads)
	fmt.Printf("  Active:          %d\n", s.Active)
	fmt.Printf("  Needs follow-up: %d\n", s.NeedsFollowup)
	fmt.Printf("  Stalled:         %d\n", s.Stalled)
	fmt.Printf("Emails sent today: %d\n", s.EmailsSentToday)
	fmt.Printf("Career leads:      %d\n", s.CareerLeads)
	fmt.Printf("Freelance leads:   %d\n", s.FreelanceLeads)
}

func runAgentStats(cmd *cobra.Command, args []string) error {
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := newConsole(rt, rt.notify).Stats(context.Background())
	if err != nil {
		return err
	}
	printStats(stats)
	return nil
}

func runAgentTail(cmd *cobra.Command, args []string) error {
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rt.startMetrics(ctx)

	poller := activity.New(rt.client, rt.logger, activity.WithInterval(rt.cfg.Activity.PollInterval))

	var mu sync.Mutex
	seen := make(map[int64]bool)
	poller.OnChange(func(entries []api.ActivityLog) {
		mu.Lock()
		defer mu.Unlock()
		// Entries arrive newest first; print unseen ones oldest first.
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			fmt.Fprintln(os.Stdout, activity.Line(e))
		}
	})

	rt.session.OnLogout(stop)
	poller.Start(ctx)
	<-ctx.Done()
	poller.Stop()
	if rt.session.Token() == "" {
		return fmt.Errorf("session expired, run `followup login` again")
	}
	return nil
}
