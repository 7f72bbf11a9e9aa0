package telemetry

import (
	"bytes"
	"math"
	"slices"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/pthm-cable/grainsim/model"
)

func historyModel() *model.Model {
	return (&model.Model{
		Grains: []model.Grain{{ID: 1, Name: "Sand"}, {ID: 2, Name: "Water"}},
		Fields: []model.Field{{ID: 1, Name: "heat"}},
	}).MustCompile()
}

func TestHistoryAppendAndReset(t *testing.T) {
	h := NewHistory(historyModel())
	h.Append(1, []int{5, 0}, []float64{1.5})
	h.Append(2, []int{4, 1}, []float64{2.5})

	if h.Len() != 2 {
		t.Fatalf("len = %d, want 2", h.Len())
	}
	if got := h.Grain(1); !slices.Equal(got, []float64{5, 4}) {
		t.Errorf("Sand = %v", got)
	}
	if got := h.Field(1); !slices.Equal(got, []float64{1.5, 2.5}) {
		t.Errorf("heat = %v", got)
	}
	if h.Grain(9) != nil || h.Field(9) != nil {
		t.Error("unknown ids should have no series")
	}

	h.Reset()
	if h.Len() != 0 || len(h.Grain(1)) != 0 {
		t.Error("reset should clear every series")
	}
	if len(h.Grains()) != 2 || len(h.Fields()) != 1 {
		t.Error("reset should keep the series layout")
	}
}

func TestHistoryRowsRoundTrip(t *testing.T) {
	h := NewHistory(historyModel())
	for step := 1; step <= 3; step++ {
		h.Append(step, []int{step, 10 - step}, []float64{float64(step) / 2})
	}

	rows := h.Rows(1)
	if len(rows) != 2*3 {
		t.Fatalf("rows = %d, want 6", len(rows))
	}
	if rows[0].Step != 2 || rows[0].Kind != KindGrain || rows[0].Name != "Sand" || rows[0].Value != 2 {
		t.Errorf("first row = %+v", rows[0])
	}

	var buf bytes.Buffer
	if err := gocsv.Marshal(h.Rows(0), &buf); err != nil {
		t.Fatal(err)
	}
	back, err := ReadHistoryCSV(&buf)
	if err != nil {
		t.Fatal(err)
	}
	steps, series := SeriesFromRows(back)
	if !slices.Equal(steps, []int{1, 2, 3}) {
		t.Errorf("steps = %v", steps)
	}
	if len(series) != 3 {
		t.Fatalf("series = %d, want 3", len(series))
	}
	if !slices.Equal(series[1].Values, []float64{9, 8, 7}) || series[1].Name != "Water" {
		t.Errorf("Water series = %+v", series[1])
	}
	if series[2].Kind != KindField {
		t.Errorf("third series kind = %q", series[2].Kind)
	}
}

func TestHistorySummaries(t *testing.T) {
	h := NewHistory(historyModel())
	for _, n := range []int{2, 4, 4, 4, 5, 5, 7, 9} {
		h.Append(0, []int{n, 0}, nil)
	}
	sums := h.Summaries()
	if len(sums) != 3 {
		t.Fatalf("summaries = %d", len(sums))
	}
	sand := sums[0]
	if sand.Mean != 5 || sand.Min != 2 || sand.Max != 9 || sand.Final != 9 {
		t.Errorf("Sand summary = %+v", sand)
	}
	// Sample standard deviation of the sequence above.
	if math.Abs(sand.StdDev-math.Sqrt(32.0/7)) > 1e-9 {
		t.Errorf("stddev = %v", sand.StdDev)
	}

	empty := Summarise(Series{Name: "none"})
	if empty.Mean != 0 || empty.StdDev != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
	single := Summarise(Series{Values: []float64{3}})
	if single.StdDev != 0 || single.Mean != 3 {
		t.Errorf("single summary = %+v", single)
	}
}
