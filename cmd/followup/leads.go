package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/assign"
	"github.com/foxzi/followup/internal/export"
	"github.com/foxzi/followup/internal/leads"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Lead management commands",
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads",
	RunE:  runLeadsList,
}

var leadsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a lead",
	RunE:  runLeadsCreate,
}

var leadsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a lead",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeadsDelete,
}

var leadsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export leads as CSV",
	RunE:  runLeadsExport,
}

var leadsAssignCmd = &cobra.Command{
	Use:   "assign [lead-id] [sequence-id]",
	Short: "Assign a sequence to a lead and restart it at step 0",
	Args:  cobra.ExactArgs(2),
	RunE:  runLeadsAssign,
}

var leadsUnassignCmd = &cobra.Command{
	Use:   "unassign [lead-id]",
	Short: "Remove a lead from its sequence",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeadsUnassign,
}

var leadsRunCmd = &cobra.Command{
	Use:   "run [lead-id]",
	Short: "Run the agent for one lead",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeadsRun,
}

var leadsEmailCmd = &cobra.Command{
	Use:   "email [lead-id]",
	Short: "Send a custom email to a lead",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeadsEmail,
}

var leadsWhatsAppCmd = &cobra.Command{
	Use:   "whatsapp [lead-id]",
	Short: "Print a WhatsApp chat link for a lead",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeadsWhatsApp,
}

var (
	leadSearch string

	leadDraft       api.LeadCreate
	leadContactType string

	exportOutput string

	runContextType string

	emailSubject string
	emailBody    string
)

func init() {
	leadsListCmd.Flags().StringVarP(&leadSearch, "search", "s", "", "Only show leads whose name, email or company contains this")

	f := leadsCreateCmd.Flags()
	f.StringVar(&leadDraft.Name, "name", "", "Lead name")
	f.StringVar(&leadDraft.Email, "email", "", "Lead email")
	f.StringVar(&leadDraft.Company, "company", "", "Company")
	f.StringVar(&leadDraft.Phone, "phone", "", "Phone number")
	f.StringVar(&leadContactType, "type", "client", "Contact type (client, recruiter, hr)")
	f.StringVar(&leadDraft.TechStack, "tech-stack", "", "Tech stack")
	f.StringVar(&leadDraft.SourceURL, "source-url", "", "Where the lead was found")
	f.StringVar(&leadDraft.ResumeLink, "resume-link", "", "Resume link to include")
	f.StringVar(&leadDraft.LastMessage, "last-message", "", "Last message sent, if any")
	leadsCreateCmd.MarkFlagRequired("name")
	leadsCreateCmd.MarkFlagRequired("email")

	leadsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "leads_export.csv", "Output file, - for stdout")

	leadsRunCmd.Flags().StringVar(&runContextType, "context-type", "", "Agent mode for this run (default: follow-up)")

	leadsEmailCmd.Flags().StringVar(&emailSubject, "subject", "", "Email subject")
	leadsEmailCmd.Flags().StringVar(&emailBody, "body", "", "Email body")
	leadsEmailCmd.MarkFlagRequired("subject")
	leadsEmailCmd.MarkFlagRequired("body")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsCreateCmd)
	leadsCmd.AddCommand(leadsDeleteCmd)
	leadsCmd.AddCommand(leadsExportCmd)
	leadsCmd.AddCommand(leadsAssignCmd)
	leadsCmd.AddCommand(leadsUnassignCmd)
	leadsCmd.AddCommand(leadsRunCmd)
	leadsCmd.AddCommand(leadsEmailCmd)
	leadsCmd.AddCommand(leadsWhatsAppCmd)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// loggedIn is setup plus the login check shared by every backend command
func loggedIn() (*runtime, error) {
	rt, err := setup(false)
	if err != nil {
		return nil, err
	}
	if err := rt.requireLogin(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func runLeadsList(cmd *cobra.Command, args []string) error {
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	store := rt.leadStore(rt.notify)
	catalog := rt.catalog(rt.notify)
	catalog.Refresh(ctx)
	if err := store.Refresh(ctx); err != nil && len(store.Leads()) == 0 {
		return err
	}

	rows := store.Filter(leadSearch)
	fmt.Printf("%-6s  %-24s  %-30s  %-20s  %-15s  %-20s  %s\n", "ID", "Name", "Email", "Company", "Status", "Sequence", "Step")
	fmt.Println(strings.Repeat("-", 130))
	for _, l := range rows {
		fmt.Printf("%-6d  %-24s  %-30s  %-20s  %-15s  %-20s  %d\n",
			l.ID, l.Name, l.Email, l.Company, l.Status, catalog.Name(l.SequenceID), l.CurrentStepNumber)
	}
	fmt.Printf("\n%d leads\n", len(rows))
	return nil
}

func runLeadsCreate(cmd *cobra.Command, args []string) error {
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	draft := leadDraft
	draft.ContactType = api.ContactType(leadContactType)
	lead, err := rt.leadStore(rt.notify).Create(context.Background(), &draft)
	if err != nil {
		return err
	}
	fmt.Printf("Lead %d created\n", lead.ID)
	return nil
}

func runLeadsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	err = rt.leadStore(rt.notify).Delete(context.Background(), id, confirm)
	if errors.Is(err, leads.ErrNotConfirmed) {
		fmt.Println("Cancelled")
		return nil
	}
	return err
}

func runLeadsExport(cmd *cobra.Command, args []string) error {
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	var w io.Writer = os.Stdout
	if exportOutput != "-" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	rows, err := export.New(rt.client, rt.notify, rt.logger).ExportCSV(context.Background(), w)
	if err != nil {
		return err
	}
	if exportOutput != "-" {
		fmt.Printf("%d leads written to %s\n", rows, exportOutput)
	}
	return nil
}

func assignController(rt *runtime) *assign.Controller {
	return assign.New(rt.client, rt.leadStore(rt.notify), rt.notify, rt.logger)
}

func runLeadsAssign(cmd *cobra.Command, args []string) error {
	leadID, err := parseID(args[0])
	if err != nil {
		return err
	}
	seqID, err := parseID(args[1])
	if err != nil {
		return err
	}
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	return assignController(rt).Assign(context.Background(), leadID, &seqID)
}

func runLeadsUnassign(cmd *cobra.Command, args []string) error {
	leadID, err := parseID(args[0])
	if err != nil {
		return err
	}
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	return assignController(rt).Assign(context.Background(), leadID, nil)
}

func runLeadsRun(cmd *cobra.Command, args []string) error {
	leadID, err := parseID(args[0])
	if err != nil {
		return err
	}
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	_, err = assignController(rt).RunAgent(context.Background(), leadID, runContextType)
	return err
}

func runLeadsEmail(cmd *cobra.Command, args []string) error {
	leadID, err := parseID(args[0])
	if err != nil {
		return err
	}
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	return assignController(rt).SendCustomEmail(context.Background(), leadID, emailSubject, emailBody)
}

func runLeadsWhatsApp(cmd *cobra.Command, args []string) error {
	leadID, err := parseID(args[0])
	if err != nil {
		return err
	}
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	store := rt.leadStore(rt.notify)
	if err := store.Refresh(context.Background()); err != nil && len(store.Leads()) == 0 {
		return err
	}
	lead, ok := store.Lead(leadID)
	if !ok {
		return fmt.Errorf("lead %d not found", leadID)
	}
	link, err := export.WhatsAppLink(lead.Phone, lead.Name)
	if err != nil {
		return fmt.Errorf("lead %d: %w", leadID, err)
	}
	fmt.Println(link)
	return nil
}
