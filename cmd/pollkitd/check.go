package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pollkit/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a config file",
	Long: `Parse and validate a config file without starting any poll.

Exit codes:
  0 - config is valid
  1 - config is invalid (details on stderr)`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringP("config", "c", defaultConfigPath, "path to config file (yaml or json)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewConfigManager(cfgPath).Load(context.Background())
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	enabled := 0
	for _, p := range cfg.Polls {
		if p.IsEnabled() {
			enabled++
		}
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config is valid: %s\n", cfgPath)
	fmt.Fprintf(out, "  polls:   %d (%d enabled)\n", len(cfg.Polls), enabled)
	for _, p := range cfg.Polls {
		interval := p.Interval
		if interval == "" {
			interval = "default"
		}
		fmt.Fprintf(out, "    - %-16s %s %s every %s sinks=%v\n", p.Name, p.EffectiveMethod(), p.URL, interval, p.EffectiveSinks())
	}
	storage := "none"
	if cfg.Storage != nil && cfg.Storage.Driver != "" {
		storage = cfg.Storage.Driver
	}
	fmt.Fprintf(out, "  storage: %s\n", storage)
	fmt.Fprintf(out, "  http:    %v\n", cfg.HTTP.Enabled)
	return nil
}
