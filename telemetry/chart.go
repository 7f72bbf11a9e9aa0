package telemetry

import (
	"errors"
	"fmt"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"gonum.org/v1/gonum/floats"
)

// ErrTooFewSamples is returned when a chart would have fewer than two points.
var ErrTooFewSamples = errors.New("chart needs at least two samples")

// RenderChart draws one line per series against steps as a PNG.
func RenderChart(w io.Writer, title string, steps []int, series []Series) error {
	if len(steps) < 2 {
		return ErrTooFewSamples
	}
	xs := make([]float64, len(steps))
	for i, s := range steps {
		xs[i] = float64(s)
	}

	lo, hi := 0.0, 1.0
	lines := make([]chart.Series, 0, len(series))
	for i, s := range series {
		if len(s.Values) != len(xs) {
			return fmt.Errorf("series %s has %d samples, want %d", s.Name, len(s.Values), len(xs))
		}
		lo = min(lo, floats.Min(s.Values))
		hi = max(hi, floats.Max(s.Values))
		lines = append(lines, chart.ContinuousSeries{
			Name:    s.Name,
			XValues: xs,
			YValues: s.Values,
			Style:   chart.Style{StrokeColor: chart.GetDefaultColor(i), StrokeWidth: 2.0},
		})
	}
	if len(lines) == 0 {
		return errors.New("chart has no series")
	}

	graph := chart.Chart{
		Title:  title,
		Width:  1024,
		Height: 512,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "step",
			Style: chart.Style{FontSize: 10.0},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
		YAxis: chart.YAxis{
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
		},
		Series: lines,
	}
	graph.Elements = []chart.Renderable{chart.LegendLeft(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("rendering chart: %w", err)
	}
	return nil
}
