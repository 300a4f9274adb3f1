package main

import (
	"github.com/spf13/cobra"

	"github.com/quartershq/quarters/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Quarters server via HTTP.

These commands require a running server (quarters serve).
Use --server to specify a custom server URL.

Examples:
  quarters api health                                  # Check server health
  quarters api sessions open                           # Open a dashboard session
  quarters api extractions start <sid> image-set p-1   # Command an extraction
  quarters api galleries refresh <sid> property_images p-1`,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Dashboard session commands",
}

var extractionsCmd = &cobra.Command{
	Use:   "extractions",
	Short: "Extraction job commands",
}

var galleriesCmd = &cobra.Command{
	Use:   "galleries",
	Short: "Gallery view and edit commands",
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Configuration settings commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:7780", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.MetricsSummaryEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))

	// Sessions as subcommand group
	sessionsCmd.AddCommand((&endpoints.OpenSessionEndpoint{}).Command(getServerURL))
	sessionsCmd.AddCommand((&endpoints.CloseSessionEndpoint{}).Command(getServerURL))

	// Extractions as subcommand group
	extractionsCmd.AddCommand((&endpoints.StartExtractionEndpoint{}).Command(getServerURL))
	extractionsCmd.AddCommand((&endpoints.RetryExtractionEndpoint{}).Command(getServerURL))
	extractionsCmd.AddCommand((&endpoints.ExtractionStatusEndpoint{}).Command(getServerURL))
	extractionsCmd.AddCommand((&endpoints.ClearExtractionMessagesEndpoint{}).Command(getServerURL))
	extractionsCmd.AddCommand((&endpoints.ListExtractionsEndpoint{}).Command(getServerURL))

	// Galleries as subcommand group
	galleriesCmd.AddCommand((&endpoints.GetGalleryEndpoint{}).Command(getServerURL))
	galleriesCmd.AddCommand((&endpoints.RefreshGalleryEndpoint{}).Command(getServerURL))
	galleriesCmd.AddCommand((&endpoints.UpdateTagsEndpoint{}).Command(getServerURL))
	galleriesCmd.AddCommand((&endpoints.ToggleVisibilityEndpoint{}).Command(getServerURL))
	galleriesCmd.AddCommand((&endpoints.ReorderGalleryEndpoint{}).Command(getServerURL))
	galleriesCmd.AddCommand((&endpoints.NavigateGalleryEndpoint{}).Command(getServerURL))
	galleriesCmd.AddCommand((&endpoints.FocusGalleryEndpoint{}).Command(getServerURL))
	galleriesCmd.AddCommand((&endpoints.RemoveGalleryItemEndpoint{}).Command(getServerURL))

	// Settings as subcommand group
	settingsCmd.AddCommand((&endpoints.ListSettingsEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.GetSettingEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.UpdateSettingEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.ResetSettingEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(sessionsCmd)
	apiCmd.AddCommand(extractionsCmd)
	apiCmd.AddCommand(galleriesCmd)
	apiCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(apiCmd)
}
