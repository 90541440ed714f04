package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/sequences"
)

var sequencesCmd = &cobra.Command{
	Use:     "sequences",
	Aliases: []string{"seq"},
	Short:   "Outreach sequence commands",
}

var sequencesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sequences and their steps",
	RunE:  runSequencesList,
}

var sequencesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a sequence",
	Long: `Create a sequence. Each --step is WAIT_DAYS:ACTION[:TEMPLATE], where ACTION
is email or whatsapp. Steps are numbered in the order given.`,
	Example: `  followup sequences create --name "Warm intro" --step 0:email:intro --step 3:whatsapp`,
	RunE:    runSequencesCreate,
}

var sequencesDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a sequence; its leads are detached",
	Args:  cobra.ExactArgs(1),
	RunE:  runSequencesDelete,
}

var (
	seqName        string
	seqDescription string
	seqSteps       []string
)

func init() {
	sequencesCreateCmd.Flags().StringVar(&seqName, "name", "", "Sequence name")
	sequencesCreateCmd.Flags().StringVar(&seqDescription, "description", "", "Sequence description")
	sequencesCreateCmd.Flags().StringArrayVar(&seqSteps, "step", nil, "Step as WAIT_DAYS:ACTION[:TEMPLATE] (repeatable)")
	sequencesCreateCmd.MarkFlagRequired("name")

	sequencesCmd.AddCommand(sequencesListCmd)
	sequencesCmd.AddCommand(sequencesCreateCmd)
	sequencesCmd.AddCommand(sequencesDeleteCmd)
}

// parseStep parses WAIT_DAYS:ACTION[:TEMPLATE]
func parseStep(s string) (int, api.ActionType, string, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return 0, "", "", fmt.Errorf("invalid step %q: want WAIT_DAYS:ACTION[:TEMPLATE]", s)
	}
	wait, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, "", "", fmt.Errorf("invalid step %q: wait days: %w", s, err)
	}
	action := api.ActionType(strings.ToLower(strings.TrimSpace(parts[1])))
	template := ""
	if len(parts) == 3 {
		template = strings.TrimSpace(parts[2])
	}
	return wait, action, template, nil
}

func buildDraft(name, description string, steps []string) (*sequences.Draft, error) {
	d := sequences.NewDraft(name, description)
	for _, s := range steps {
		wait, action, template, err := parseStep(s)
		if err != nil {
			return nil, err
		}
		d.AddStep(wait, action, template)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func runSequencesList(cmd *cobra.Command, args []string) error {
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	catalog := rt.catalog(rt.notify)
	if err := catalog.RefreshStrict(context.Background()); err != nil && len(catalog.Sequences()) == 0 {
		return err
	}

	seqs := catalog.Sequences()
	for _, s := range seqs {
		fmt.Printf("%-6d  %s\n", s.ID, s.Name)
		if s.Description != "" {
			fmt.Printf("        %s\n", s.Description)
		}
		for _, st := range s.Steps {
			line := fmt.Sprintf("        %d. after %d days: %s", st.StepNumber, st.WaitDays, st.ActionType)
			if st.TemplateName != "" {
				line += " (" + st.TemplateName + ")"
			}
			fmt.Println(line)
		}
	}
	fmt.Printf("\n%d sequences\n", len(seqs))
	return nil
}

func runSequencesCreate(cmd *cobra.Command, args []string) error {
	draft, err := buildDraft(seqName, seqDescription, seqSteps)
	if err != nil {
		return err
	}
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	seq, err := rt.catalog(rt.notify).Create(context.Background(), draft)
	if err != nil {
		return err
	}
	fmt.Printf("Sequence %d created with %d steps\n", seq.ID, len(seq.Steps))
	return nil
}

func runSequencesDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()

	err = rt.catalog(rt.notify).Delete(context.Background(), id, confirm)
	if errors.Is(err, sequences.ErrNotConfirmed) {
		fmt.Println("Cancelled")
		return nil
	}
	return err
}
