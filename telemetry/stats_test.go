package telemetry

import (
	"math"
	"testing"

	"github.com/pthm-cable/grainsim/model"
	"github.com/pthm-cable/grainsim/systems"
)

func TestComputeAgeStats(t *testing.T) {
	values := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	mean, p10, p50, p90 := ComputeAgeStats(values)

	if math.Abs(mean-5.5) > 0.001 {
		t.Errorf("mean = %v, want 5.5", mean)
	}
	if p50 != 5 {
		t.Errorf("p50 = %v, want 5", p50)
	}
	if !(p10 <= p50 && p50 <= p90) {
		t.Errorf("percentiles out of order: %v %v %v", p10, p50, p90)
	}
	if p10 < 1 || p90 > 10 {
		t.Errorf("percentiles outside data: %v %v", p10, p90)
	}
	if values[0] != 10 {
		t.Error("input must not be reordered")
	}
}

func TestComputeAgeStatsEmpty(t *testing.T) {
	mean, p10, p50, p90 := ComputeAgeStats(nil)

	if mean != 0 || p10 != 0 || p50 != 0 || p90 != 0 {
		t.Error("empty slice should return all zeros")
	}
}

func TestSampleState(t *testing.T) {
	m := (&model.Model{Grains: []model.Grain{{ID: 1, Name: "Sand"}, {ID: 2, Name: "Water"}}}).MustCompile()
	occ := []model.GrainID{1, 0, 1, 0, 0, 0}
	ages := []int32{4, 0, 6, 0, 0, 0}
	s := SampleState(m, occ, ages, map[model.FieldID]float64{1: 2.5, 2: 0.5})

	if s.Cells != 6 || len(s.Ages) != 2 {
		t.Errorf("cells %d ages %v", s.Cells, s.Ages)
	}
	if s.Counts["Sand"] != 2 {
		t.Errorf("Sand = %d, want 2", s.Counts["Sand"])
	}
	if n, ok := s.Counts["Water"]; !ok || n != 0 {
		t.Error("absent grains should be present with a zero count")
	}
	if s.FieldTotal != 3 {
		t.Errorf("field total = %v, want 3", s.FieldTotal)
	}
}

func TestCollectorWindows(t *testing.T) {
	c := NewCollector(10)

	for step := 1; step <= 9; step++ {
		c.Record(systems.StepStats{Deaths: 1, Candidates: 4, Winners: 2, Conflicts: 1, Moves: 3})
		if c.ShouldFlush(step) {
			t.Fatalf("flushed early at step %d", step)
		}
	}
	c.Record(systems.StepStats{Candidates: 4, Winners: 2})
	if !c.ShouldFlush(10) {
		t.Fatal("expected flush at step 10")
	}

	sample := Sample{
		Cells:  100,
		Counts: map[string]int{"Sand": 3, "Water": 0},
		Ages:   []float64{1, 2, 3},
	}
	stats := c.Flush(10, sample)

	if stats.WindowStartStep != 0 || stats.WindowEndStep != 10 || stats.Steps != 10 {
		t.Errorf("window = %d..%d (%d)", stats.WindowStartStep, stats.WindowEndStep, stats.Steps)
	}
	if stats.Deaths != 9 || stats.Candidates != 40 || stats.Winners != 20 || stats.Conflicts != 9 || stats.Moves != 27 {
		t.Errorf("events = %+v", stats)
	}
	if stats.WinRate != 0.5 {
		t.Errorf("win rate = %v, want 0.5", stats.WinRate)
	}
	if stats.Occupied != 3 || stats.Empty != 97 || stats.GrainKinds != 1 {
		t.Errorf("occupancy = %d/%d kinds %d", stats.Occupied, stats.Empty, stats.GrainKinds)
	}
	if stats.AgeMean != 2 {
		t.Errorf("age mean = %v", stats.AgeMean)
	}

	// Counters reset after flush
	next := c.Flush(20, Sample{})
	if next.Deaths != 0 || next.WindowStartStep != 10 {
		t.Errorf("next window = %+v", next)
	}
}
