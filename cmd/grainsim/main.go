// Command grainsim runs, validates, sweeps and plots grain simulations.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pthm-cable/grainsim/config"
	"github.com/pthm-cable/grainsim/telemetry"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "grainsim",
		Short: "Discrete-grid grain simulation",
		Long: `grainsim steps a lattice of grains and scalar fields under a model of
probabilistic behaviours, field dynamics and residual movement.

A scenario file names the model, the lattice and the initial layout.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml (empty = use defaults)")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newSweepCmd(),
		newPlotCmd(),
		newRunsCmd(),
	)
	return rootCmd
}

// initConfig loads the global config, applies logging overrides and installs
// the default logger.
func initConfig(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	if err := config.Init(path); err != nil {
		return err
	}
	cfg := config.Cfg()

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
		cfg.Derived.LogLevel = config.ParseLevel(level)
	}
	if jsonLogs, _ := cmd.Flags().GetBool("json-logs"); jsonLogs {
		cfg.Logging.Format = "json"
		cfg.Derived.JSONLogs = true
	}

	slog.SetDefault(telemetry.LoggerFromConfig(cmd.ErrOrStderr(), cfg))
	return nil
}
