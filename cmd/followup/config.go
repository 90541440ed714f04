package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/followup/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Config file: %s\n", path)
	fmt.Printf("  API base URL: %s (timeout %s)\n", cfg.API.BaseURL, cfg.API.Timeout)
	fmt.Printf("  State dir: %s\n", cfg.Session.StateDir)
	fmt.Printf("  Activity poll interval: %s\n", cfg.Activity.PollInterval)
	fmt.Printf("  Agent busy timeout: %s\n", cfg.Agent.BusyTimeout)
	if cfg.Cache.Enabled {
		fmt.Printf("  Cache: %s\n", cfg.Cache.Path)
	} else {
		fmt.Println("  Cache: disabled")
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}
	fmt.Printf("  Logging: %s/%s\n", cfg.Logging.Level, cfg.Logging.Format)
	return nil
}
