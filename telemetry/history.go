// Package telemetry provides run history, windowed statistics, bookmarking,
// performance timing, metrics and experiment output for grain simulations.
package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/gocarina/gocsv"
	"github.com/pthm-cable/grainsim/model"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Series kinds.
const (
	KindGrain = "grain"
	KindField = "field"
)

// Series is one time series: the occupied-cell count of a grain type or the
// total level of a field.
type Series struct {
	Kind   string
	ID     int
	Name   string
	Values []float64
}

// History is the append-only record of per-grain counts and per-field totals,
// one sample per step since the last Reset.
type History struct {
	steps  []int
	grains []Series
	fields []Series
}

// NewHistory creates empty series for every grain and field in m, in model
// order.
func NewHistory(m *model.Model) *History {
	h := &History{
		grains: make([]Series, len(m.Grains)),
		fields: make([]Series, len(m.Fields)),
	}
	for i, g := range m.Grains {
		h.grains[i] = Series{Kind: KindGrain, ID: int(g.ID), Name: g.Name}
	}
	for i, f := range m.Fields {
		h.fields[i] = Series{Kind: KindField, ID: int(f.ID), Name: f.Name}
	}
	return h
}

// Append records one step. counts and totals are indexed like the model's
// Grains and Fields.
func (h *History) Append(step int, counts []int, totals []float64) {
	h.steps = append(h.steps, step)
	for i := range h.grains {
		v := 0.0
		if i < len(counts) {
			v = float64(counts[i])
		}
		h.grains[i].Values = append(h.grains[i].Values, v)
	}
	for i := range h.fields {
		v := 0.0
		if i < len(totals) {
			v = totals[i]
		}
		h.fields[i].Values = append(h.fields[i].Values, v)
	}
}

// Reset drops every sample and keeps the series layout.
func (h *History) Reset() {
	h.steps = h.steps[:0]
	for i := range h.grains {
		h.grains[i].Values = h.grains[i].Values[:0]
	}
	for i := range h.fields {
		h.fields[i].Values = h.fields[i].Values[:0]
	}
}

// Len is the number of recorded steps.
func (h *History) Len() int { return len(h.steps) }

// Steps returns the step number of every sample.
func (h *History) Steps() []int { return h.steps }

// Grains returns the per-grain count series.
func (h *History) Grains() []Series { return h.grains }

// Fields returns the per-field total series.
func (h *History) Fields() []Series { return h.fields }

// Grain returns the count series for id, or nil.
func (h *History) Grain(id model.GrainID) []float64 {
	for _, s := range h.grains {
		if s.ID == int(id) {
			return s.Values
		}
	}
	return nil
}

// Field returns the total series for id, or nil.
func (h *History) Field(id model.FieldID) []float64 {
	for _, s := range h.fields {
		if s.ID == int(id) {
			return s.Values
		}
	}
	return nil
}

// HistoryRow is one long-format CSV record.
type HistoryRow struct {
	Step  int     `csv:"step"`
	Kind  string  `csv:"kind"`
	ID    int     `csv:"id"`
	Name  string  `csv:"name"`
	Value float64 `csv:"value"`
}

// Rows flattens samples in [from, Len()) into long format, step-major.
func (h *History) Rows(from int) []HistoryRow {
	if from < 0 {
		from = 0
	}
	n := len(h.grains) + len(h.fields)
	rows := make([]HistoryRow, 0, max(0, h.Len()-from)*n)
	for k := from; k < h.Len(); k++ {
		step := h.steps[k]
		for _, s := range h.grains {
			rows = append(rows, HistoryRow{Step: step, Kind: s.Kind, ID: s.ID, Name: s.Name, Value: s.Values[k]})
		}
		for _, s := range h.fields {
			rows = append(rows, HistoryRow{Step: step, Kind: s.Kind, ID: s.ID, Name: s.Name, Value: s.Values[k]})
		}
	}
	return rows
}

// ReadHistoryCSV parses a history.csv written by OutputManager.
func ReadHistoryCSV(r io.Reader) ([]HistoryRow, error) {
	var rows []HistoryRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}
	return rows, nil
}

// SeriesFromRows regroups long-format rows into series, in first-seen order.
func SeriesFromRows(rows []HistoryRow) (steps []int, series []Series) {
	index := make(map[string]int)
	lastStep := math.MinInt
	for _, r := range rows {
		if r.Step != lastStep {
			steps = append(steps, r.Step)
			lastStep = r.Step
		}
		key := fmt.Sprintf("%s/%d", r.Kind, r.ID)
		i, ok := index[key]
		if !ok {
			i = len(series)
			index[key] = i
			series = append(series, Series{Kind: r.Kind, ID: r.ID, Name: r.Name})
		}
		series[i].Values = append(series[i].Values, r.Value)
	}
	return steps, series
}

// SeriesSummary describes one series over the recorded window.
type SeriesSummary struct {
	Kind   string  `csv:"kind"`
	ID     int     `csv:"id"`
	Name   string  `csv:"name"`
	Final  float64 `csv:"final"`
	Mean   float64 `csv:"mean"`
	StdDev float64 `csv:"stddev"`
	Min    float64 `csv:"min"`
	Max    float64 `csv:"max"`
}

// LogValue implements slog.LogValuer for structured logging.
func (s SeriesSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", s.Kind),
		slog.String("name", s.Name),
		slog.Float64("final", s.Final),
		slog.Float64("mean", s.Mean),
		slog.Float64("stddev", s.StdDev),
	)
}

// Summaries returns one summary per series. Empty series summarise to zero.
func (h *History) Summaries() []SeriesSummary {
	out := make([]SeriesSummary, 0, len(h.grains)+len(h.fields))
	for _, group := range [][]Series{h.grains, h.fields} {
		for _, s := range group {
			out = append(out, Summarise(s))
		}
	}
	return out
}

// Summarise computes the summary of one series.
func Summarise(s Series) SeriesSummary {
	sum := SeriesSummary{Kind: s.Kind, ID: s.ID, Name: s.Name}
	if len(s.Values) == 0 {
		return sum
	}
	sum.Final = s.Values[len(s.Values)-1]
	sum.Mean, sum.StdDev = stat.MeanStdDev(s.Values, nil)
	if len(s.Values) < 2 {
		sum.StdDev = 0
	}
	sum.Min = floats.Min(s.Values)
	sum.Max = floats.Max(s.Values)
	return sum
}
