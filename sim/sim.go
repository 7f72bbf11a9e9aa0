// Package sim drives a grain simulation: it owns the per-cell arrays and the
// single RNG and runs the aging, field, behaviour and movement phases in a
// fixed order once per Step.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/pthm-cable/grainsim/grid"
	"github.com/pthm-cable/grainsim/model"
	"github.com/pthm-cable/grainsim/systems"
	"github.com/pthm-cable/grainsim/telemetry"
	"gonum.org/v1/gonum/floats"
)

// ErrSizeMismatch is returned when an initial array does not match the grid.
var ErrSizeMismatch = errors.New("sim: array length does not match grid size")

// Options configures a Simulation.
type Options struct {
	Seed          uint64
	MinFieldLevel float64
	Arbitration   systems.Arbitration
	Logger        *slog.Logger             // nil means slog.Default()
	Perf          *telemetry.PerfCollector // optional phase timing
}

// InitialState is the caller-supplied starting layout. Ages and Levels may be
// nil; missing fields start at zero.
type InitialState struct {
	Occupants []model.GrainID
	Ages      []int32
	Levels    map[model.FieldID][]float64
}

// Simulation is a single-threaded grain simulation. Independent instances may
// run on separate goroutines.
type Simulation struct {
	model *model.Model
	grid  grid.Grid
	opts  Options
	log   *slog.Logger

	src *rand.PCG
	rng *rand.Rand

	state     *systems.State
	initial   *systems.State
	initRNG   []byte
	step      int
	resetStep int

	aging      *systems.Aging
	fields     *systems.FieldDynamics
	behaviours *systems.Behaviours

	grainSlot map[model.GrainID]int
	counts    []int
	totals    []float64
	history   *telemetry.History
}

// New builds a simulation of m on g starting from start. The model is compiled
// if it has not been already and must not be mutated afterwards.
func New(m *model.Model, g grid.Grid, start InitialState, opts Options) (*Simulation, error) {
	if !m.Compiled() {
		if err := m.Compile(); err != nil {
			return nil, fmt.Errorf("compiling model: %w", err)
		}
	}
	st, err := buildState(m, g.Normalize(), start)
	if err != nil {
		return nil, err
	}
	return newFromState(m, st, 0, opts)
}

func buildState(m *model.Model, g grid.Grid, start InitialState) (*systems.State, error) {
	n := g.DataSize()
	if len(start.Occupants) != n {
		return nil, fmt.Errorf("%w: occupants have %d cells, grid has %d", ErrSizeMismatch, len(start.Occupants), n)
	}
	if start.Ages != nil && len(start.Ages) != n {
		return nil, fmt.Errorf("%w: ages have %d cells, grid has %d", ErrSizeMismatch, len(start.Ages), n)
	}

	st := systems.NewState(g, len(m.Fields))
	copy(st.Occupants, start.Occupants)
	copy(st.Ages, start.Ages)
	for id, lv := range start.Levels {
		slot, ok := m.FieldSlot(id)
		if !ok {
			return nil, fmt.Errorf("initial levels: %w: %d", model.ErrUnknownField, id)
		}
		if len(lv) != n {
			return nil, fmt.Errorf("%w: field %d has %d cells, grid has %d", ErrSizeMismatch, id, len(lv), n)
		}
		copy(st.Levels[slot], lv)
	}
	return st, nil
}

func newFromState(m *model.Model, st *systems.State, step int, opts Options) (*Simulation, error) {
	fd, err := systems.NewFieldDynamics(m, st.Grid, opts.MinFieldLevel)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Simulation{
		model:      m,
		grid:       st.Grid,
		opts:       opts,
		log:        log,
		src:        rand.NewPCG(opts.Seed, 0),
		state:      st,
		initial:    st.Clone(),
		step:       step,
		aging:      systems.NewAging(m),
		fields:     fd,
		behaviours: systems.NewBehaviours(m, st.Grid, opts.Arbitration),
		grainSlot:  make(map[model.GrainID]int, len(m.Grains)),
		counts:     make([]int, len(m.Grains)),
		totals:     make([]float64, len(m.Fields)),
		history:    telemetry.NewHistory(m),
	}
	s.rng = rand.New(s.src)
	s.initRNG, _ = s.src.MarshalBinary()
	s.resetStep = step
	for i, gr := range m.Grains {
		s.grainSlot[gr.ID] = i
	}
	s.log.Debug("simulation created",
		"model", m.Name,
		"grid", fmt.Sprintf("%dx%dx%d", st.Grid.Width, st.Grid.Height, st.Grid.Depth),
		"seed", opts.Seed,
		"arbitration", opts.Arbitration.String(),
	)
	return s, nil
}

// Step advances the simulation by one step and returns what happened in it.
// It panics if the state arrays no longer match the grid.
func (s *Simulation) Step() systems.StepStats {
	if err := s.state.Check(); err != nil {
		panic(fmt.Sprintf("sim: invariant violated: %v", err))
	}
	perf := s.opts.Perf
	if perf != nil {
		perf.StartTick()
		perf.StartPhase(telemetry.PhaseAging)
	}

	var stats systems.StepStats
	stats.Deaths = s.aging.Update(s.state, s.rng)

	if perf != nil {
		perf.StartPhase(telemetry.PhaseFields)
	}
	s.fields.Update(s.state, s.step)

	if perf != nil {
		perf.StartPhase(telemetry.PhaseBehaviour)
	}
	r := s.behaviours.Resolve(s.state, s.rng)
	stats.Candidates = r.Candidates
	stats.Winners = r.Winners
	stats.Conflicts = r.Conflicts

	if perf != nil {
		perf.StartPhase(telemetry.PhaseMovement)
	}
	stats.Moves = s.behaviours.Move(s.state, s.rng)

	s.step++

	if perf != nil {
		perf.StartPhase(telemetry.PhaseHistory)
	}
	s.record()

	if perf != nil {
		perf.EndTick()
	}
	return stats
}

// Run calls Step n times.
func (s *Simulation) Run(n int) {
	for range n {
		s.Step()
	}
}

func (s *Simulation) record() {
	clear(s.counts)
	for _, id := range s.state.Occupants {
		if slot, ok := s.grainSlot[id]; ok {
			s.counts[slot]++
		}
	}
	for i, lv := range s.state.Levels {
		s.totals[i] = floats.Sum(lv)
	}
	s.history.Append(s.step, s.counts, s.totals)
}

// Reset restores the initial layout and RNG state and clears history. The
// step counter returns to where the simulation started.
func (s *Simulation) Reset() {
	s.state.CopyFrom(s.initial)
	if err := s.src.UnmarshalBinary(s.initRNG); err != nil {
		s.src.Seed(s.opts.Seed, 0)
	}
	s.step = s.resetStep
	s.history.Reset()
}

// Model returns the simulated model.
func (s *Simulation) Model() *model.Model { return s.model }

// Grid returns the lattice.
func (s *Simulation) Grid() grid.Grid { return s.grid }

// Seed returns the RNG seed.
func (s *Simulation) Seed() uint64 { return s.opts.Seed }

// Tick returns the number of completed steps.
func (s *Simulation) Tick() int { return s.step }

// Occupants returns the live occupancy array. Callers must not resize it.
func (s *Simulation) Occupants() []model.GrainID { return s.state.Occupants }

// Ages returns the live age array.
func (s *Simulation) Ages() []int32 { return s.state.Ages }

// Levels returns the live level array for a field, or nil if the model has no
// such field.
func (s *Simulation) Levels(id model.FieldID) []float64 {
	slot, ok := s.model.FieldSlot(id)
	if !ok {
		return nil
	}
	return s.state.Levels[slot]
}

// RenderLevels copies a field's levels into dst with values below the
// minimum level reported as zero.
func (s *Simulation) RenderLevels(dst []float64, id model.FieldID) []float64 {
	lv := s.Levels(id)
	if lv == nil {
		return dst[:0]
	}
	return systems.RenderLevels(dst, lv, s.opts.MinFieldLevel)
}

// Counts tallies occupied cells per grain id.
func (s *Simulation) Counts() map[model.GrainID]int { return s.state.Counts() }

// FieldTotals returns the summed level of every field.
func (s *Simulation) FieldTotals() map[model.FieldID]float64 {
	out := make(map[model.FieldID]float64, len(s.model.Fields))
	for i, f := range s.model.Fields {
		out[f.ID] = floats.Sum(s.state.Levels[i])
	}
	return out
}

// History returns the per-step record since the last Reset.
func (s *Simulation) History() *telemetry.History { return s.history }

// Fired returns how many times each behaviour won in the last step, indexed
// like the model's Behaviours.
func (s *Simulation) Fired() []int { return s.behaviours.Fired }
