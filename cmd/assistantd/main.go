// Package main is the assistantd CLI: an OpenAI-compatible assistants
// backend with an asynchronous run execution engine.
//
// Start the full server (API plus workers):
//
//	assistantd serve --config assistantd.yaml
//
// Run a standalone worker pool against a shared queue:
//
//	assistantd worker --config assistantd.yaml
//
// Apply database migrations:
//
//	assistantd migrate --config assistantd.yaml
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Best effort: a missing .env is not an error.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "assistantd",
		Short:        "Assistants API backend with an asynchronous run engine",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildWorkerCmd(),
		buildMigrateCmd(),
	)
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the run engine workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, true)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "assistantd.yaml", "Path to YAML configuration file")
	return cmd
}

func buildWorkerCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start run engine workers without the API server",
		Long: `Start a worker pool that claims runs from the shared queue.

Workers require the Redis queue and the Postgres store so that state is
shared with the API process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, false)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "assistantd.yaml", "Path to YAML configuration file")
	return cmd
}

func buildMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "assistantd.yaml", "Path to YAML configuration file")
	return cmd
}
