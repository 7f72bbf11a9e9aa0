package telemetry

import (
	"testing"
	"time"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	// Simulate a few steps
	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseAging)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhaseFields)
		time.Sleep(200 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()

	// Verify we got timing data
	if stats.AvgTickDuration <= 0 {
		t.Error("expected positive average tick duration")
	}

	if _, ok := stats.PhaseAvg[PhaseAging]; !ok {
		t.Error("expected aging phase to be tracked")
	}

	if _, ok := stats.PhaseAvg[PhaseFields]; !ok {
		t.Error("expected fields phase to be tracked")
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5) // Small window

	// Fill window completely
	for i := 0; i < 10; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseBehaviour)
		time.Sleep(10 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()

	if stats.AvgTickDuration <= 0 {
		t.Error("expected positive average tick duration after window filled")
	}

	if stats.TicksPerSecond <= 0 {
		t.Error("expected positive ticks per second")
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10)

	// Simulate with uneven phase durations
	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseMovement)
		time.Sleep(10 * time.Microsecond)
		pc.StartPhase(PhaseBehaviour)
		time.Sleep(2 * time.Millisecond)
		pc.EndTick()
	}

	stats := pc.Stats()

	fastPct := stats.PhasePct[PhaseMovement]
	slowPct := stats.PhasePct[PhaseBehaviour]

	// Slow phase should take more % than fast
	if slowPct <= fastPct {
		t.Errorf("expected behaviour phase (%v%%) > movement phase (%v%%)", slowPct, fastPct)
	}

	row := stats.ToCSV(500)
	if row.WindowEnd != 500 || row.BehaviourPct != slowPct || row.MovementPct != fastPct {
		t.Errorf("ToCSV = %+v", row)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	pc := NewPerfCollector(10)

	stats := pc.Stats()

	// Empty collector should return zero values without panicking
	if stats.AvgTickDuration != 0 {
		t.Error("expected zero avg tick duration for empty collector")
	}

	if stats.PhaseAvg == nil {
		t.Error("expected non-nil PhaseAvg map")
	}

	if stats.PhasePct == nil {
		t.Error("expected non-nil PhasePct map")
	}
}

func TestPerfCollector_Last(t *testing.T) {
	pc := NewPerfCollector(3)
	pc.StartTick()
	pc.StartPhase(PhaseHistory)
	time.Sleep(50 * time.Microsecond)
	pc.EndTick()

	last := pc.Last()
	if last.TickDuration <= 0 {
		t.Error("expected positive last tick duration")
	}
	if last.Phases[PhaseHistory] <= 0 {
		t.Error("expected history phase in last sample")
	}
	if _, ok := last.Phases[PhaseAging]; ok {
		t.Error("untimed phase should be absent")
	}
}
