package main

import (
	"github.com/spf13/cobra"

	"github.com/quartershq/quarters/internal/api"
	"github.com/quartershq/quarters/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "quarters",
	Short: "Extraction job and gallery reconciliation engine",
	Long: `Quarters keeps property dashboards consistent with extraction output.

It tracks long-running extraction jobs against the external worker,
detects their completion through the store's change feed, and reconciles
authoritative refetches into locally edited galleries without losing
in-flight edits, focus, or display order.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.quarters/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "quarters home directory (default: ~/.quarters)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
