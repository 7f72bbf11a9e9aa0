package telemetry

import (
	"log/slog"
	"slices"

	"github.com/pthm-cable/grainsim/model"
	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a window of steps.
type WindowStats struct {
	WindowStartStep int `csv:"-"`
	WindowEndStep   int `csv:"window_end"`
	Steps           int `csv:"steps"`

	// Occupancy at window end
	Occupied   int `csv:"occupied"`
	Empty      int `csv:"empty"`
	GrainKinds int `csv:"grain_kinds"`

	// Events during window
	Deaths     int     `csv:"deaths"`
	Candidates int     `csv:"candidates"`
	Winners    int     `csv:"winners"`
	Conflicts  int     `csv:"conflicts"`
	Moves      int     `csv:"moves"`
	WinRate    float64 `csv:"win_rate"`

	// Age distribution of occupied cells at window end
	AgeMean float64 `csv:"age_mean"`
	AgeP10  float64 `csv:"age_p10"`
	AgeP50  float64 `csv:"age_p50"`
	AgeP90  float64 `csv:"age_p90"`

	// Sum of every field's total level
	FieldTotal float64 `csv:"field_total"`

	// Per-grain counts by name, for bookmark detection
	Counts map[string]int `csv:"-"`
}

// Sample is the end-of-window state handed to Collector.Flush.
type Sample struct {
	Cells      int
	Counts     map[string]int
	Ages       []float64
	FieldTotal float64
}

// SampleState builds a Sample from the raw per-cell arrays.
func SampleState(m *model.Model, occupants []model.GrainID, ages []int32, fieldTotals map[model.FieldID]float64) Sample {
	s := Sample{
		Cells:  len(occupants),
		Counts: make(map[string]int, len(m.Grains)),
	}
	for _, g := range m.Grains {
		s.Counts[g.Name] = 0
	}
	for i, id := range occupants {
		if id == model.None {
			continue
		}
		s.Counts[m.GrainName(id)]++
		s.Ages = append(s.Ages, float64(ages[i]))
	}
	for _, v := range fieldTotals {
		s.FieldTotal += v
	}
	return s
}

// ComputeAgeStats returns the mean and empirical 10th, 50th and 90th
// percentiles of values. It returns zeros for an empty slice.
func ComputeAgeStats(values []float64) (mean, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mean = stat.Mean(sorted, nil)
	p10 = stat.Quantile(0.10, stat.Empirical, sorted, nil)
	p50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	p90 = stat.Quantile(0.90, stat.Empirical, sorted, nil)
	return mean, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", s.WindowStartStep),
		slog.Int("window_end", s.WindowEndStep),
		slog.Int("occupied", s.Occupied),
		slog.Int("empty", s.Empty),
		slog.Int("grain_kinds", s.GrainKinds),
		slog.Int("deaths", s.Deaths),
		slog.Int("candidates", s.Candidates),
		slog.Int("winners", s.Winners),
		slog.Int("conflicts", s.Conflicts),
		slog.Int("moves", s.Moves),
		slog.Float64("win_rate", s.WinRate),
		slog.Float64("age_mean", s.AgeMean),
		slog.Float64("age_p50", s.AgeP50),
		slog.Float64("field_total", s.FieldTotal),
	)
}

// LogStats logs the window stats using l, or slog.Default() when l is nil.
func (s WindowStats) LogStats(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	l.Info("stats",
		"window_end", s.WindowEndStep,
		"occupied", s.Occupied,
		"grain_kinds", s.GrainKinds,
		"deaths", s.Deaths,
		"winners", s.Winners,
		"conflicts", s.Conflicts,
		"moves", s.Moves,
		"win_rate", s.WinRate,
		"age_p10", s.AgeP10,
		"age_p50", s.AgeP50,
		"age_p90", s.AgeP90,
		"field_total", s.FieldTotal,
	)
}

// LogStats logs the perf stats using l, or slog.Default() when l is nil.
func (s PerfStats) LogStats(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	l.Info("perf", "stats", s)
}
