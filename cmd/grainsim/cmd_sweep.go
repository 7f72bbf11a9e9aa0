package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/gocarina/gocsv"
	"github.com/pthm-cable/grainsim/config"
	"github.com/pthm-cable/grainsim/model"
	"github.com/pthm-cable/grainsim/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// sweepRow is one grain's final count in one seeded run.
type sweepRow struct {
	Seed  uint64 `csv:"seed"`
	Grain string `csv:"grain"`
	Final int    `csv:"final"`
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep <scenario.yaml>",
		Short: "Run a scenario over many seeds and summarise final counts",
		Long: `Run a scenario once per seed, in parallel, and report the mean and
standard deviation of each grain's final count.

Seeds are base, base+1, ... base+runs-1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Cfg()
			if cmd.Flags().Changed("steps") {
				cfg.Engine.Steps, _ = cmd.Flags().GetInt("steps")
			}
			runs, _ := cmd.Flags().GetInt("runs")
			jobs, _ := cmd.Flags().GetInt("jobs")
			csvPath, _ := cmd.Flags().GetString("csv")

			sc, err := loadScenario(args[0], cfg)
			if err != nil {
				return err
			}
			seeds := make([]uint64, runs)
			base := resolveSeed(cmd, cfg)
			for i := range seeds {
				seeds[i] = base + uint64(i)
			}

			finals, err := sweep(cmd.Context(), sc, cfg, seeds, jobs)
			if err != nil {
				return err
			}

			summaries := summariseSweep(sc.Model, finals)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "grain\tmean\tstddev\tmin\tmax\n")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.0f\t%.0f\n", s.Name, s.Mean, s.StdDev, s.Min, s.Max)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if csvPath == "" {
				return nil
			}
			return writeSweepCSV(csvPath, sc.Model, seeds, finals)
		},
	}

	cmd.Flags().Int("runs", 8, "Number of seeds")
	cmd.Flags().Int("jobs", 0, "Parallel runs (0 = GOMAXPROCS)")
	cmd.Flags().Int("steps", 0, "Steps per run (0 = use config)")
	cmd.Flags().Uint64("seed", 0, "First seed (0 = config, then time-based)")
	cmd.Flags().String("csv", "", "Write per-seed final counts to this CSV file")

	return cmd
}

// sweep runs sc once per seed and returns the final counts, indexed like
// seeds. Each run gets its own copy of the model.
func sweep(ctx context.Context, sc *model.Scenario, cfg *config.Config, seeds []uint64, jobs int) ([]map[model.GrainID]int, error) {
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	finals := make([]map[model.GrainID]int, len(seeds))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, seed := range seeds {
		g.Go(func() error {
			local := *sc
			local.Model = sc.Model.Clone()
			log := slog.Default().With("seed", seed)
			s, err := newSimulation(&local, simOptions(cfg, seed, log, nil))
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			for range cfg.Engine.Steps {
				if err := gCtx.Err(); err != nil {
					return err
				}
				s.Step()
			}
			finals[i] = s.Counts()
			log.Debug("sweep run finished", "step", s.Tick())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return finals, nil
}

// summariseSweep reports, per grain in catalog order, the distribution of
// final counts across runs.
func summariseSweep(m *model.Model, finals []map[model.GrainID]int) []telemetry.SeriesSummary {
	out := make([]telemetry.SeriesSummary, 0, len(m.Grains))
	for _, g := range m.Grains {
		values := make([]float64, len(finals))
		for i, f := range finals {
			values[i] = float64(f[g.ID])
		}
		out = append(out, telemetry.Summarise(telemetry.Series{
			Kind:   telemetry.KindGrain,
			ID:     int(g.ID),
			Name:   m.GrainName(g.ID),
			Values: values,
		}))
	}
	return out
}

func writeSweepCSV(path string, m *model.Model, seeds []uint64, finals []map[model.GrainID]int) error {
	rows := make([]sweepRow, 0, len(seeds)*len(m.Grains))
	for i, seed := range seeds {
		for _, g := range m.Grains {
			rows = append(rows, sweepRow{Seed: seed, Grain: m.GrainName(g.ID), Final: finals[i][g.ID]})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := gocsv.Marshal(rows, f); err != nil {
		f.Close()
		return fmt.Errorf("writing sweep csv: %w", err)
	}
	return f.Close()
}
