package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pthm-cable/grainsim/model"
	"github.com/pthm-cable/grainsim/systems"
)

const metricsNamespace = "grainsim"

// Metrics exports simulation progress to Prometheus.
type Metrics struct {
	// StepDuration measures wall time per step.
	StepDuration prometheus.Histogram

	// PhaseDuration measures wall time per step phase.
	// Labels: phase (aging, fields, behaviour, movement, history)
	PhaseDuration *prometheus.HistogramVec

	// GrainCount is the occupied-cell count per grain type.
	// Labels: id, grain
	GrainCount *prometheus.GaugeVec

	// FieldTotal is the summed level per field.
	// Labels: id, field
	FieldTotal *prometheus.GaugeVec

	// Step is the current step counter.
	Step prometheus.Gauge

	DeathsTotal     prometheus.Counter
	CandidatesTotal prometheus.Counter
	WinnersTotal    prometheus.Counter
	ConflictsTotal  prometheus.Counter
	MovesTotal      prometheus.Counter
}

// NewMetrics registers the simulation metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "step",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		StepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "step",
			Name:      "duration_seconds",
			Help:      "Wall time per simulation step",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "step",
			Name:      "phase_duration_seconds",
			Help:      "Wall time per simulation step phase",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"phase"}),
		GrainCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "grain_cells",
			Help:      "Occupied cells per grain type",
		}, []string{"id", "grain"}),
		FieldTotal: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "field_total",
			Help:      "Summed level per field",
		}, []string{"id", "field"}),
		Step: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "step",
			Help:      "Completed simulation steps",
		}),
		DeathsTotal:     counter("deaths_total", "Grains removed by aging"),
		CandidatesTotal: counter("candidates_total", "Matched behaviour candidates"),
		WinnersTotal:    counter("winners_total", "Behaviour candidates applied"),
		ConflictsTotal:  counter("conflicts_total", "Cells claimed by more than one candidate"),
		MovesTotal:      counter("moves_total", "Grains relocated by residual movement"),
	}
}

// ObserveStep records one step's events and, when perf is non-nil, its
// timings.
func (m *Metrics) ObserveStep(step int, s systems.StepStats, perf *PerfSample) {
	if m == nil {
		return
	}
	m.Step.Set(float64(step))
	m.DeathsTotal.Add(float64(s.Deaths))
	m.CandidatesTotal.Add(float64(s.Candidates))
	m.WinnersTotal.Add(float64(s.Winners))
	m.ConflictsTotal.Add(float64(s.Conflicts))
	m.MovesTotal.Add(float64(s.Moves))
	if perf == nil {
		return
	}
	m.StepDuration.Observe(perf.TickDuration.Seconds())
	for phase, d := range perf.Phases {
		m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
	}
}

// SetPopulation publishes the current grain counts and field totals.
func (m *Metrics) SetPopulation(md *model.Model, counts map[model.GrainID]int, totals map[model.FieldID]float64) {
	if m == nil {
		return
	}
	for _, g := range md.Grains {
		m.GrainCount.WithLabelValues(strconv.Itoa(int(g.ID)), g.Name).Set(float64(counts[g.ID]))
	}
	for _, f := range md.Fields {
		m.FieldTotal.WithLabelValues(strconv.Itoa(int(f.ID)), f.Name).Set(totals[f.ID])
	}
}

// MetricsHandler serves the metrics in g over HTTP.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
