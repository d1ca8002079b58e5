// Command pollkitd runs HTTP polls from a config file.
//
// Usage:
//
//	pollkitd run -c pollkit.yaml    # poll until SIGINT/SIGTERM
//	pollkitd check -c pollkit.yaml  # validate config and exit
//	pollkitd version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

const defaultConfigPath = "./pollkit.yaml"

var rootCmd = &cobra.Command{
	Use:   "pollkitd",
	Short: "Recurring HTTP polls with pluggable sinks",
	Long: `pollkitd runs a set of named HTTP polls on a shared worker pool.

Each poll checks its URL every interval and hands the result to its sinks
(log, store, nats). The config file is watched and reloaded in place:
added, removed and changed polls are applied without a restart.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pollkitd %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
