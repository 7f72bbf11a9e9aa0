package main

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/pthm-cable/grainsim/config"
	"github.com/pthm-cable/grainsim/model"
	"github.com/pthm-cable/grainsim/sim"
	"gonum.org/v1/gonum/stat"
)

// FitnessEvaluator runs seeded simulations and scores how close their final
// grain counts land to the targets.
type FitnessEvaluator struct {
	params   *ParamVector
	scenario *model.Scenario
	cfg      *config.Config
	steps    int
	seeds    []uint64
	targets  map[model.GrainID]float64

	// Weight of the instability penalty relative to the target error
	stabilityWeight float64

	mu         sync.Mutex
	lastCounts map[model.GrainID]float64 // mean final counts of the latest Evaluate
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, sc *model.Scenario, cfg *config.Config, steps int, seeds []uint64, targets map[model.GrainID]float64) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:          params,
		scenario:        sc,
		cfg:             cfg,
		steps:           steps,
		seeds:           seeds,
		targets:         targets,
		stabilityWeight: 0.1,
	}
}

// LastCounts returns the mean final counts from the most recent evaluation.
func (fe *FitnessEvaluator) LastCounts() map[model.GrainID]float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastCounts
}

// runResult holds the results from a single simulation run.
type runResult struct {
	final  map[model.GrainID]int
	tailCV float64 // mean coefficient of variation of target series over the last half
	err    error
}

// Evaluate computes fitness for a raw parameter vector (lower = better).
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	m := fe.params.ApplyToModel(fe.scenario.Model, x)

	// Run all seeds in parallel
	results := make([]runResult, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = fe.runSimulation(m.Clone(), seed)
		}()
	}
	wg.Wait()

	mean := make(map[model.GrainID]float64, len(fe.targets))
	var instability float64
	for _, r := range results {
		if r.err != nil {
			return math.Inf(1)
		}
		for id := range fe.targets {
			mean[id] += float64(r.final[id])
		}
		instability += r.tailCV
	}
	n := float64(len(results))
	for id := range mean {
		mean[id] /= n
	}
	instability /= n

	fe.mu.Lock()
	fe.lastCounts = mean
	fe.mu.Unlock()

	return targetError(mean, fe.targets) + fe.stabilityWeight*instability
}

// runSimulation executes one seeded run of m.
func (fe *FitnessEvaluator) runSimulation(m *model.Model, seed uint64) runResult {
	sc := *fe.scenario
	sc.Model = m
	occupants, levels, err := sc.BuildInitial(rand.New(rand.NewPCG(seed, 1)))
	if err != nil {
		return runResult{err: err}
	}
	s, err := sim.New(m, sc.Grid, sim.InitialState{Occupants: occupants, Levels: levels}, sim.Options{
		Seed:          seed,
		MinFieldLevel: fe.cfg.Engine.MinFieldLevel,
		Arbitration:   fe.cfg.Engine.Arbitration,
	})
	if err != nil {
		return runResult{err: err}
	}
	s.Run(fe.steps)

	var cvSum float64
	h := s.History()
	for id := range fe.targets {
		series := h.Grain(id)
		cvSum += cv(series[len(series)/2:])
	}
	return runResult{
		final:  s.Counts(),
		tailCV: cvSum / float64(max(len(fe.targets), 1)),
	}
}

// targetError is the mean squared relative deviation of counts from targets.
func targetError(counts, targets map[model.GrainID]float64) float64 {
	if len(targets) == 0 {
		return 0
	}
	var sum float64
	for id, want := range targets {
		d := (counts[id] - want) / math.Max(want, 1)
		sum += d * d
	}
	return sum / float64(len(targets))
}

// cv computes the coefficient of variation (std/mean) for a slice of values.
func cv(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	if mean == 0 {
		return 0
	}
	return std / mean
}
