package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/followup/internal/discovery"
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Lead discovery commands",
}

var discoveryRunCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Search for new leads",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDiscoveryRun,
}

var discoveryImport bool

func init() {
	discoveryRunCmd.Flags().BoolVar(&discoveryImport, "import", false, "Add the results to the pipeline")
	discoveryCmd.AddCommand(discoveryRunCmd)
}

func runDiscoveryRun(cmd *cobra.Command, args []string) error {
	rt, err := loggedIn()
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	d := discovery.New(rt.client, rt.leadStore(rt.notify), rt.notify, rt.logger)
	found, err := d.Run(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Printf("%-28s  %-32s  %-24s  %s\n", "Name", "Email", "Company", "Source")
	fmt.Println(strings.Repeat("-", 110))
	for _, c := range found {
		fmt.Printf("%-28s  %-32s  %-24s  %s\n", c.Name, c.Email, c.Company, c.SourceURL)
	}

	if !discoveryImport || len(found) == 0 {
		return nil
	}
	added, err := d.Import(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d of %d leads added\n", added, len(found))
	return nil
}
