package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pthm-cable/grainsim/config"
	"github.com/pthm-cable/grainsim/model"
	"github.com/pthm-cable/grainsim/sim"
	"github.com/pthm-cable/grainsim/store"
	"github.com/pthm-cable/grainsim/systems"
	"github.com/pthm-cable/grainsim/telemetry"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario",
		Long: `Run a scenario for a number of steps.

Examples:
  grainsim run scenario.yaml --steps 500 --output out/
  grainsim run scenario.yaml --store runs.db --metrics-addr :9090
  grainsim run scenario.yaml --store runs.db --resume <run-id> --steps 200`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runScenario(ctx, cmd, args[0])
		},
	}

	cmd.Flags().Int("steps", 0, "Steps to run (0 = use config)")
	cmd.Flags().Uint64("seed", 0, "RNG seed (0 = config, then time-based)")
	cmd.Flags().String("output", "", "Output directory for CSV logs, config and chart")
	cmd.Flags().String("store", "", "SQLite run store path")
	cmd.Flags().String("resume", "", "Continue a stored run from its latest snapshot")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().String("arbitration", "", "Conflict arbitration: union or exclusive")
	cmd.Flags().Bool("log-stats", false, "Log window stats and bookmarks")

	return cmd
}

// applyRunFlags copies changed flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("steps") {
		cfg.Engine.Steps, _ = flags.GetInt("steps")
	}
	if flags.Changed("output") {
		cfg.Output.Dir, _ = flags.GetString("output")
	}
	if flags.Changed("store") {
		cfg.Store.Path, _ = flags.GetString("store")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-stats") {
		cfg.Telemetry.LogStats, _ = flags.GetBool("log-stats")
	}
	if flags.Changed("arbitration") {
		s, _ := flags.GetString("arbitration")
		a, err := systems.ParseArbitration(s)
		if err != nil {
			return err
		}
		cfg.Engine.Arbitration = a
	}
	return nil
}

func runScenario(ctx context.Context, cmd *cobra.Command, path string) error {
	cfg := config.Cfg()
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	log := slog.Default()

	sc, err := loadScenario(path, cfg)
	if err != nil {
		return err
	}
	issues := model.Validate(sc.Model)
	if issues.HasErrors() {
		return fmt.Errorf("model %q is invalid: %w", sc.Model.Name, issues.Err())
	}
	for _, w := range issues.Warnings() {
		log.Warn("model warning", "subject", w.Subject, "message", w.Message)
	}

	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow)
	r := &runner{
		log:          log,
		collector:    telemetry.NewCollector(cfg.Telemetry.StatsWindow),
		perf:         perf,
		bookmarks:    telemetry.NewBookmarkDetector(cfg.Telemetry.BookmarkHistorySize, telemetry.ThresholdsFromConfig(cfg.Bookmarks)),
		logStats:     cfg.Telemetry.LogStats,
		chart:        cfg.Output.Chart,
		flushEvery:   cfg.Store.FlushEvery,
		snapshotLast: cfg.Store.SnapshotLast,
	}

	resume, _ := cmd.Flags().GetString("resume")
	if resume != "" && cfg.Store.Path == "" {
		return errors.New("--resume needs a store (--store or store.path)")
	}
	if cfg.Store.Path != "" {
		st, err := store.Open(ctx, cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		r.store = st
	}

	if resume != "" {
		snap, err := r.store.LoadSnapshot(ctx, resume, -1)
		if err != nil {
			return err
		}
		opts := simOptions(cfg, snap.Seed, log, perf)
		if r.sim, err = sim.Restore(sc.Model, snap, opts); err != nil {
			return err
		}
		r.runID = resume
		r.collector.Reset(r.sim.Tick())
		log.Info("resuming run", "run", resume, "step", r.sim.Tick())
	} else {
		seed := resolveSeed(cmd, cfg)
		if r.sim, err = newSimulation(sc, simOptions(cfg, seed, log, perf)); err != nil {
			return err
		}
		if r.store != nil {
			r.runID, err = r.store.CreateRun(ctx, store.Run{
				Model:       sc.Model.Name,
				Seed:        seed,
				Grid:        sc.Grid,
				Arbitration: cfg.Engine.Arbitration.String(),
			})
			if err != nil {
				return err
			}
		}
	}

	if r.output, err = telemetry.NewOutputManager(cfg.Output.Dir); err != nil {
		return err
	}
	defer r.output.Close()
	if err := r.output.WriteConfig(cfg); err != nil {
		return err
	}
	if err := r.output.WriteModel(sc.Model); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		r.metrics = telemetry.NewMetrics(reg)
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           telemetry.MetricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		log.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	log.Info("starting simulation",
		"scenario", sc.Name,
		"model", sc.Model.Name,
		"seed", r.sim.Seed(),
		"steps", cfg.Engine.Steps,
		"run", r.runID,
	)
	start := time.Now()
	runErr := r.run(ctx, cfg.Engine.Steps)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	// An interrupted run still gets its outputs.
	if err := r.finish(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	log.Info("simulation finished",
		"step", r.sim.Tick(),
		"elapsed", time.Since(start).Round(time.Millisecond),
		"bookmarks", len(r.found),
	)
	return runErr
}
