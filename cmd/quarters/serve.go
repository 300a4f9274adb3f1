package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quartershq/quarters/internal/config"
	"github.com/quartershq/quarters/internal/home"
	"github.com/quartershq/quarters/internal/server"
	"github.com/quartershq/quarters/internal/store"
)

var (
	serveHost    string
	servePort    string
	serveDevMode bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Quarters server",
	Long: `Start the Quarters HTTP server.

The server tracks extraction jobs per dashboard session, listens to the
store's change feed for job completion, and serves reconciled gallery
views. With --dev it also runs the local dev store container and stops
it again on shutdown (Ctrl+C or SIGTERM).

The server provides:
  - /health - Basic server health check
  - /ready  - Readiness check (includes store health)

Examples:
  quarters serve                 # Connect to the configured hosted store
  quarters serve --dev           # Run against the local dev store container
  quarters serve --port 3000     # Start on custom port
  quarters serve --host 0.0.0.0  # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		// Get home directory
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		// Load config with hot-reload support
		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()
		cfg := cfgMgr.Get()

		host := serveHost
		if host == "" {
			host = cfg.Server.Host
		}
		port := servePort
		if port == "" {
			port = fmt.Sprintf("%d", cfg.Server.Port)
		}

		realtimeURL := ""
		if cfg.Realtime.Enabled {
			realtimeURL = cfg.Realtime.URL
		}

		srvCfg := server.Config{
			Host:          host,
			Port:          port,
			StoreURL:      cfg.Store.URL,
			StoreAPIKey:   cfg.StoreAPIKey(),
			RealtimeURL:   realtimeURL,
			WorkerURL:     cfg.Worker.URL,
			WorkerToken:   cfg.WorkerToken(),
			JobTimeout:    cfg.Engine.JobTimeout(),
			PollInterval:  cfg.Engine.PollInterval(),
			SaveWindow:    cfg.Engine.SaveWindow(),
			NavWindow:     cfg.Engine.NavWindow(),
			Debounce:      cfg.Engine.Debounce(),
			SessionIdle:   cfg.Engine.SessionIdle(),
			ConfigManager: cfgMgr,
			Logger:        logger,
		}

		if serveDevMode {
			srvCfg.ManageStore = true
			srvCfg.StoreDocker = store.DockerConfig{
				ContainerName: cfg.Store.Docker.ContainerName,
				Image:         cfg.Store.Docker.Image,
				HostPort:      cfg.Store.Docker.Port,
				DataPath:      h.DataPath(),
			}
			srvCfg.StoreURL = "" // derive from the container
		}

		// Create server
		srv, err := server.New(srvCfg)
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")
	serveCmd.Flags().BoolVar(&serveDevMode, "dev", false, "Run the local dev store container")

	rootCmd.AddCommand(serveCmd)
}
