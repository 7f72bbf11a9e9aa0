package telemetry

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pthm-cable/grainsim/config"
)

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("empty dir should disable output, got %v %v", om, err)
	}
	// Nil manager methods are no-ops
	if err := om.WriteTelemetry(WindowStats{}); err != nil {
		t.Error(err)
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
}

func TestOutputManagerWritesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	h := NewHistory(historyModel())
	h.Append(1, []int{3, 1}, []float64{0.5})
	if err := om.WriteHistory(h); err != nil {
		t.Fatal(err)
	}
	h.Append(2, []int{2, 2}, []float64{0.25})
	if err := om.WriteHistory(h); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteTelemetry(WindowStats{WindowEndStep: 10, Occupied: 4}); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteTelemetry(WindowStats{WindowEndStep: 20, Occupied: 4}); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteBookmark(Bookmark{Type: BookmarkExtinction, Step: 20, Grain: "Sand"}); err != nil {
		t.Fatal(err)
	}
	if err := om.WritePerf(NewPerfCollector(2).Stats(), 20); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteConfig(config.Cfg()); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteModel(historyModel()); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteSummary(h.Summaries()); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteChart(h, "test"); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, "history.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := ReadHistoryCSV(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2*3 {
		t.Errorf("history rows = %d, want 6 (no duplicates across writes)", len(rows))
	}

	telemetry, _ := os.ReadFile(filepath.Join(dir, "telemetry.csv"))
	if n := strings.Count(string(telemetry), "window_end"); n != 1 {
		t.Errorf("telemetry.csv has %d headers, want 1", n)
	}
	for _, name := range []string{"perf.csv", "bookmarks.csv", "config.yaml", "model.yaml", "summary.csv", "history.png"} {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || info.Size() == 0 {
			t.Errorf("%s missing or empty: %v", name, err)
		}
	}
}

func TestRenderChartNeedsTwoSamples(t *testing.T) {
	var buf bytes.Buffer
	err := RenderChart(&buf, "x", []int{1}, []Series{{Name: "a", Values: []float64{1}}})
	if err != ErrTooFewSamples {
		t.Errorf("err = %v, want ErrTooFewSamples", err)
	}
	err = RenderChart(&buf, "x", []int{1, 2}, []Series{{Name: "a", Values: []float64{1}}})
	if err == nil {
		t.Error("expected length mismatch error")
	}
}
