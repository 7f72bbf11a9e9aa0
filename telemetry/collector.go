package telemetry

import "github.com/pthm-cable/grainsim/systems"

// Collector accumulates step events within fixed-length windows and produces
// WindowStats.
type Collector struct {
	windowSteps int

	// Current window tracking
	windowStart int

	// Event counters for current window
	deaths     int
	candidates int
	winners    int
	conflicts  int
	moves      int
}

// NewCollector creates a collector that flushes every windowSteps steps.
func NewCollector(windowSteps int) *Collector {
	if windowSteps < 1 {
		windowSteps = 1
	}
	return &Collector{windowSteps: windowSteps}
}

// Record adds one step's events to the current window.
func (c *Collector) Record(s systems.StepStats) {
	c.deaths += s.Deaths
	c.candidates += s.Candidates
	c.winners += s.Winners
	c.conflicts += s.Conflicts
	c.moves += s.Moves
}

// ShouldFlush returns true if enough steps have passed to flush the window.
func (c *Collector) ShouldFlush(step int) bool {
	return step-c.windowStart >= c.windowSteps
}

// Flush produces a WindowStats from the window's events and the end-of-window
// sample, then resets counters for the next window.
func (c *Collector) Flush(step int, sample Sample) WindowStats {
	var winRate float64
	if c.candidates > 0 {
		winRate = float64(c.winners) / float64(c.candidates)
	}
	mean, p10, p50, p90 := ComputeAgeStats(sample.Ages)

	kinds := 0
	for _, n := range sample.Counts {
		if n > 0 {
			kinds++
		}
	}

	stats := WindowStats{
		WindowStartStep: c.windowStart,
		WindowEndStep:   step,
		Steps:           step - c.windowStart,

		Occupied:   len(sample.Ages),
		Empty:      sample.Cells - len(sample.Ages),
		GrainKinds: kinds,

		Deaths:     c.deaths,
		Candidates: c.candidates,
		Winners:    c.winners,
		Conflicts:  c.conflicts,
		Moves:      c.moves,
		WinRate:    winRate,

		AgeMean: mean,
		AgeP10:  p10,
		AgeP50:  p50,
		AgeP90:  p90,

		FieldTotal: sample.FieldTotal,
		Counts:     sample.Counts,
	}

	// Reset for next window
	c.windowStart = step
	c.deaths = 0
	c.candidates = 0
	c.winners = 0
	c.conflicts = 0
	c.moves = 0

	return stats
}

// Reset discards the current window and starts a new one at step.
func (c *Collector) Reset(step int) {
	*c = Collector{windowSteps: c.windowSteps, windowStart: step}
}

// WindowSteps returns the number of steps per window.
func (c *Collector) WindowSteps() int {
	return c.windowSteps
}
