package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "edgeforge",
		Short: "EdgeForge - Static Site Convergence Engine",
		Long: `EdgeForge converges a declared static-website topology (origin bucket,
TLS certificate, DNS validation records, CDN distribution, alias records,
access policy) against observed state.

Features:
  - Dependency-graph-driven execution with bounded concurrency
  - First-class readiness waits for asynchronous cloud processes
  - Minimal-diff planning with create-before-destroy replacement
  - Drift detection against the live provider
  - Policy-gated plans with protected resources`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "site.yaml", "site config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
