package main

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/pthm-cable/grainsim/config"
	"github.com/pthm-cable/grainsim/model"
	"github.com/pthm-cable/grainsim/sim"
	"github.com/pthm-cable/grainsim/telemetry"
	"github.com/spf13/cobra"
)

// layoutStream is the PCG stream for scenario placement. The engine uses 0.
const layoutStream = 1

// resolveSeed returns the --seed flag if set, else the configured seed. A zero
// seed is replaced by the current time.
func resolveSeed(cmd *cobra.Command, cfg *config.Config) uint64 {
	seed := cfg.Engine.Seed
	if cmd.Flags().Changed("seed") {
		seed, _ = cmd.Flags().GetUint64("seed")
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return seed
}

// loadScenario reads a scenario, falling back to the configured grid when the
// file gives none.
func loadScenario(path string, cfg *config.Config) (*model.Scenario, error) {
	sc, err := model.LoadScenario(path)
	if err != nil {
		return nil, err
	}
	if sc.Grid.Width == 0 && sc.Grid.Height == 0 {
		sc.Grid = cfg.Grid
	}
	sc.Grid = sc.Grid.Normalize()
	return sc, nil
}

// simOptions builds engine options from the config.
func simOptions(cfg *config.Config, seed uint64, log *slog.Logger, perf *telemetry.PerfCollector) sim.Options {
	return sim.Options{
		Seed:          seed,
		MinFieldLevel: cfg.Engine.MinFieldLevel,
		Arbitration:   cfg.Engine.Arbitration,
		Logger:        log,
		Perf:          perf,
	}
}

// newSimulation lays out sc with seed and builds its simulation.
func newSimulation(sc *model.Scenario, opts sim.Options) (*sim.Simulation, error) {
	rng := rand.New(rand.NewPCG(opts.Seed, layoutStream))
	occupants, levels, err := sc.BuildInitial(rng)
	if err != nil {
		return nil, fmt.Errorf("building initial layout: %w", err)
	}
	return sim.New(sc.Model, sc.Grid, sim.InitialState{Occupants: occupants, Levels: levels}, opts)
}
