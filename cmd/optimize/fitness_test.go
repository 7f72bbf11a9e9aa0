package main

import (
	"math"
	"testing"

	"github.com/pthm-cable/grainsim/config"
	"github.com/pthm-cable/grainsim/grid"
	"github.com/pthm-cable/grainsim/model"
)

func init() {
	config.MustInit("")
}

func tunableScenario() *model.Scenario {
	return &model.Scenario{
		Name:  "half",
		Model: tunableModel(),
		Grid:  grid.New(10, 10, 1),
		Place: []model.Placement{{Grain: "Source", Selection: model.Selection{Every: 2}}},
	}
}

func TestTargetError(t *testing.T) {
	targets := map[model.GrainID]float64{1: 10, 2: 0}
	if got := targetError(map[model.GrainID]float64{1: 10, 2: 0}, targets); got != 0 {
		t.Errorf("exact hit = %v, want 0", got)
	}
	// (5-10)/10 = -0.5 and (2-0)/1 = 2, mean of squares = (0.25+4)/2
	if got := targetError(map[model.GrainID]float64{1: 5, 2: 2}, targets); math.Abs(got-2.125) > 1e-12 {
		t.Errorf("error = %v, want 2.125", got)
	}
}

func TestCV(t *testing.T) {
	if got := cv(nil); got != 0 {
		t.Errorf("cv(nil) = %v", got)
	}
	if got := cv([]float64{4, 4, 4}); got != 0 {
		t.Errorf("cv(constant) = %v", got)
	}
	if got := cv([]float64{1, 3}); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("cv = %v, want 0.5", got)
	}
}

func TestEvaluateRewardsTargets(t *testing.T) {
	sc := tunableScenario()
	params, err := NewParamVector(sc.Model, nil, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	// Everything converts in one step and stays converted.
	targets := map[model.GrainID]float64{1: 0, 2: 50}
	fe := NewFitnessEvaluator(params, sc, config.Cfg(), 5, []uint64{1, 2}, targets)

	perfect := fe.Evaluate([]float64{1, 0})
	if perfect != 0 {
		t.Errorf("fitness at optimum = %v, want 0", perfect)
	}
	if got := fe.LastCounts(); got[2] != 50 {
		t.Errorf("mean Target count = %v, want 50", got[2])
	}

	idle := fe.Evaluate([]float64{0, 0})
	if idle <= perfect {
		t.Errorf("idle fitness %v not worse than optimum %v", idle, perfect)
	}
}
