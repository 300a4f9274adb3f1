package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quartershq/quarters/internal/home"
	"github.com/quartershq/quarters/internal/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the local dev store container",
	Long: `Manage the local dev store container lifecycle.

Production deployments point at the hosted store; the container is a
local stand-in for development. Data is persisted to ~/.quarters/data/.

Examples:
  quarters store start   # Start the dev store container
  quarters store stop    # Stop the container (data preserved)
  quarters store status  # Check container status
  quarters store logs    # View container logs`,
}

var storeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dev store container",
	Long: `Start the dev store container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.

Data is persisted to ~/.quarters/data/.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting dev store...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start dev store: %w", err)
		}

		fmt.Printf("Dev store is running at %s\n", mgr.URL())
		return nil
	},
}

var storeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the dev store container",
	Long: `Stop the dev store container.

This stops the container but preserves data. Use 'quarters store start'
to restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping dev store...")
		if err := mgr.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop dev store: %w", err)
		}

		fmt.Println("Dev store stopped")
		return nil
	},
}

var storeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dev store container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case store.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", mgr.URL())

			// Try health check
			client := store.NewClient(mgr.URL(), "")
			if err := client.HealthCheck(ctx); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
		case store.StatusStopped:
			fmt.Printf("Status: %s (use 'quarters store start' to start)\n", status)
		case store.StatusNotFound:
			fmt.Printf("Status: %s (use 'quarters store start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}

		return nil
	},
}

var storeLogsTail string

var storeLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show dev store container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(ctx, storeLogsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var storeRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the dev store container",
	Long: `Remove the dev store container.

This stops and removes the container. Data in ~/.quarters/data/
is NOT deleted - only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing dev store container...")
		if err := mgr.Remove(ctx); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("Dev store container removed (data preserved)")
		return nil
	},
}

var storeWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for the dev store to be ready",
	Long: `Wait for the dev store to be ready to accept connections.

This is useful in scripts to ensure the store is fully started
before running other commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		fmt.Printf("Waiting for the dev store (timeout: %s)...\n", timeout)

		if err := mgr.WaitReady(ctx, timeout); err != nil {
			return fmt.Errorf("dev store not ready: %w", err)
		}

		fmt.Println("Dev store is ready")
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeStartCmd)
	storeCmd.AddCommand(storeStopCmd)
	storeCmd.AddCommand(storeStatusCmd)
	storeCmd.AddCommand(storeLogsCmd)
	storeCmd.AddCommand(storeRemoveCmd)
	storeCmd.AddCommand(storeWaitCmd)

	storeLogsCmd.Flags().StringVar(&storeLogsTail, "tail", "100", "Number of lines to show from the end")

	storeWaitCmd.Flags().Duration("timeout", 30*time.Second, "Timeout waiting for the dev store")

	rootCmd.AddCommand(storeCmd)
}

// getHome returns the home directory manager.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// getStoreManager creates a DockerManager with the standard config.
func getStoreManager() (*store.DockerManager, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}

	return store.NewDockerManager(store.DockerConfig{
		DataPath: h.DataPath(),
	})
}
