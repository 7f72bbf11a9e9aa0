package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/grainsim/sim"
	"github.com/pthm-cable/grainsim/store"
	"github.com/pthm-cable/grainsim/telemetry"
)

// runner steps a simulation and feeds the telemetry sinks. Every sink is
// optional.
type runner struct {
	sim *sim.Simulation
	log *slog.Logger

	collector *telemetry.Collector
	perf      *telemetry.PerfCollector
	bookmarks *telemetry.BookmarkDetector
	output    *telemetry.OutputManager
	metrics   *telemetry.Metrics
	logStats  bool
	chart     bool

	store        *store.Store
	runID        string
	flushEvery   int
	snapshotLast bool
	stored       int // history samples already in the store

	found []telemetry.Bookmark
}

// run advances n steps, stopping early if ctx is cancelled.
func (r *runner) run(ctx context.Context, n int) error {
	for range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats := r.sim.Step()
		if r.collector != nil {
			r.collector.Record(stats)
		}
		if r.metrics != nil {
			var perf *telemetry.PerfSample
			if r.perf != nil {
				last := r.perf.Last()
				perf = &last
			}
			r.metrics.ObserveStep(r.sim.Tick(), stats, perf)
		}
		if err := r.flushTelemetry(); err != nil {
			return err
		}
		if r.store != nil && r.sim.History().Len()-r.stored >= r.flushEvery {
			if err := r.flushSamples(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// flushTelemetry closes the stats window when it is due and handles bookmarks.
func (r *runner) flushTelemetry() error {
	step := r.sim.Tick()
	if r.collector == nil || !r.collector.ShouldFlush(step) {
		return nil
	}

	totals := r.sim.FieldTotals()
	sample := telemetry.SampleState(r.sim.Model(), r.sim.Occupants(), r.sim.Ages(), totals)
	stats := r.collector.Flush(step, sample)
	r.metrics.SetPopulation(r.sim.Model(), r.sim.Counts(), totals)

	var perfStats telemetry.PerfStats
	if r.perf != nil {
		perfStats = r.perf.Stats()
	}

	// Log stats if enabled (console output)
	if r.logStats {
		stats.LogStats(r.log)
		if r.perf != nil {
			perfStats.LogStats(r.log)
		}
	}

	if r.output != nil {
		if err := r.output.WriteTelemetry(stats); err != nil {
			return err
		}
		if r.perf != nil {
			if err := r.output.WritePerf(perfStats, stats.WindowEndStep); err != nil {
				return err
			}
		}
		if err := r.output.WriteHistory(r.sim.History()); err != nil {
			return err
		}
	}

	if r.bookmarks == nil {
		return nil
	}
	for _, bm := range r.bookmarks.Check(stats) {
		r.found = append(r.found, bm)
		if r.logStats {
			bm.LogBookmark(r.log)
		}
		if err := r.output.WriteBookmark(bm); err != nil {
			return err
		}
	}
	return nil
}

// flushSamples persists history samples recorded since the last flush.
func (r *runner) flushSamples(ctx context.Context) error {
	h := r.sim.History()
	if r.store == nil || h.Len() == r.stored {
		return nil
	}
	if err := r.store.AppendSamples(ctx, r.runID, h.Rows(r.stored)); err != nil {
		return fmt.Errorf("storing samples: %w", err)
	}
	r.stored = h.Len()
	return nil
}

// finish writes the end-of-run outputs and closes the stored run.
func (r *runner) finish(ctx context.Context) error {
	h := r.sim.History()
	summaries := h.Summaries()
	for _, s := range summaries {
		r.log.Info("series", "summary", s)
	}

	if r.output != nil {
		if err := r.output.WriteHistory(h); err != nil {
			return err
		}
		if err := r.output.WriteSummary(summaries); err != nil {
			return err
		}
		if r.chart && h.Len() >= 2 {
			if err := r.output.WriteChart(h, r.sim.Model().Name); err != nil {
				return err
			}
		}
	}

	if r.store == nil {
		return nil
	}
	if err := r.flushSamples(ctx); err != nil {
		return err
	}
	if r.snapshotLast {
		snap, err := r.sim.Snapshot()
		if err != nil {
			return err
		}
		if err := r.store.SaveSnapshot(ctx, r.runID, snap); err != nil {
			return err
		}
	}
	if err := r.store.FinishRun(ctx, r.runID, r.sim.Tick()); err != nil {
		return err
	}
	r.log.Info("run stored", "run", r.runID, "steps", r.sim.Tick(), "store", r.store.Path())
	return nil
}
