package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sif-factory/sif/pkg/engine"
)

var (
	// Global flags
	catalogPath string
	dbPath      string
	metricsAddr string
	jsonOutput  bool
	verbose     bool
	noColor     bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error to a process exit code: 2 for requests rejected
// before anything ran, 3 for a busy target, 1 otherwise.
func ExitCode(err error) int {
	var failure *engine.JobFailure
	switch {
	case err == nil:
		return 0
	case errors.As(err, &failure):
		return 1
	case engine.IsBusy(err):
		return 3
	case engine.IsStructural(err):
		return 2
	default:
		return 1
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sif",
		Short: "sif - project provisioning orchestrator",
		Long: `sif provisions development projects from a catalog of components.

A provisioning job installs the selected components in dependency order,
synchronizes their reuse libraries into the project and renders their
content compositions. Every step is fingerprinted so re-running a job is
cheap, journaled so an interrupted job can be resumed, and compensated in
reverse order when a later step fails.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&catalogPath, "catalog", "c", envOr("SIF_CATALOG", "sif.yaml"), "catalog file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", envOr("SIF_DB", defaultDBPath()), "state database path")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newPoliciesCommand())

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDBPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sif", "state.db")
	}
	return "sif.db"
}
