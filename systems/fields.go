package systems

import (
	"fmt"
	"math"

	"github.com/pthm-cable/grainsim/expr"
	"github.com/pthm-cable/grainsim/grid"
	"github.com/pthm-cable/grainsim/model"
)

// fieldKernel is the per-field update recipe derived from the model.
type fieldKernel struct {
	id      model.FieldID
	decay   float64 // multiplier per step; 1 = no decay
	speed   float64
	dirs    grid.Directions
	program *expr.Program

	// net production per grain (production * permeability)
	production map[model.GrainID]float64
}

// FieldDynamics advances every field by one step: decay, diffusion and
// production for plain fields, re-evaluation for formula fields.
type FieldDynamics struct {
	grid     grid.Grid
	kernels  []fieldKernel
	minLevel float64

	// Double buffers, swapped with State.Levels each step.
	next [][]float64

	// Snapshot read by formula fields.
	snap     snapshot
	formulas bool

	nbuf []int
}

// NewFieldDynamics compiles formulas and precomputes decay factors. It fails
// if a formula does not compile against the model.
func NewFieldDynamics(m *model.Model, g grid.Grid, minLevel float64) (*FieldDynamics, error) {
	n := g.DataSize()
	fd := &FieldDynamics{
		grid:     g,
		kernels:  make([]fieldKernel, len(m.Fields)),
		minLevel: math.Abs(minLevel),
		next:     make([][]float64, len(m.Fields)),
		nbuf:     make([]int, 0, 10),
	}
	fd.snap = snapshot{grid: g, slots: make(map[int]int, len(m.Fields))}

	for slot := range m.Fields {
		f := &m.Fields[slot]
		k := fieldKernel{
			id:         f.ID,
			decay:      DecayFactor(f.HalfLife),
			speed:      f.Speed,
			dirs:       g.Resolve(f.AllowedDirections),
			production: make(map[model.GrainID]float64),
		}
		if f.HasFormula() {
			prog, err := expr.Compile(f.Formula, m)
			if err != nil {
				return nil, fmt.Errorf("field %d (%s) formula: %w", f.ID, f.Name, err)
			}
			k.program = prog
			fd.formulas = true
		}
		for gi := range m.Grains {
			gr := &m.Grains[gi]
			if p, ok := gr.FieldProductions[f.ID]; ok && p != 0 {
				k.production[gr.ID] = p * gr.Permeability(f.ID)
			}
		}
		fd.kernels[slot] = k
		fd.next[slot] = make([]float64, n)
		fd.snap.slots[int(f.ID)] = slot
	}

	if fd.formulas {
		fd.snap.occupants = make([]model.GrainID, n)
		fd.snap.levels = make([][]float64, len(m.Fields))
		for i := range fd.snap.levels {
			fd.snap.levels[i] = make([]float64, n)
		}
	}
	return fd, nil
}

// DecayFactor is the per-step level multiplier for a half-life in steps.
// A half-life of 0 means no decay.
func DecayFactor(halfLife float64) float64 {
	if halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, 1/halfLife)
}

// Update advances every field. Formula fields read a snapshot of occupancy
// and levels taken before any field changes; step is the step number being
// computed.
func (fd *FieldDynamics) Update(st *State, step int) {
	if fd.formulas {
		copy(fd.snap.occupants, st.Occupants)
		for i := range st.Levels {
			copy(fd.snap.levels[i], st.Levels[i])
		}
	}

	for slot := range fd.kernels {
		k := &fd.kernels[slot]
		cur := st.Levels[slot]
		next := fd.next[slot]
		if k.program != nil {
			fd.evaluate(k.program, next, step)
		} else {
			fd.diffuse(k, cur, next)
			for i, id := range st.Occupants {
				if id == model.None {
					continue
				}
				if p, ok := k.production[id]; ok {
					next[i] += p
				}
			}
		}
		// Swap
		st.Levels[slot], fd.next[slot] = next, cur
	}
}

// diffuse decays each cell then moves speed*level evenly to its in-grid
// neighbours. Total mass is conserved apart from decay.
func (fd *FieldDynamics) diffuse(k *fieldKernel, cur, next []float64) {
	clear(next)
	for i, v := range cur {
		v *= k.decay
		if v == 0 {
			continue
		}
		if k.speed <= 0 || math.Abs(v) < fd.minLevel {
			next[i] += v
			continue
		}
		nbrs := fd.grid.Neighbors(fd.nbuf[:0], i, k.dirs)
		fd.nbuf = nbrs
		if len(nbrs) == 0 {
			next[i] += v
			continue
		}
		out := v * k.speed
		next[i] += v - out
		share := out / float64(len(nbrs))
		for _, n := range nbrs {
			next[n] += share
		}
	}
}

func (fd *FieldDynamics) evaluate(prog *expr.Program, next []float64, step int) {
	env := expr.Env{Step: step, Sampler: &fd.snap}
	for i := range next {
		p := fd.grid.ToPosition(i)
		env.X, env.Y, env.Z, env.Index = p.X, p.Y, p.Z, i
		next[i] = prog.Eval(&env)
	}
}

// RenderLevels copies src into dst with values below minLevel in magnitude
// zeroed. dst is grown as needed and returned.
func RenderLevels(dst, src []float64, minLevel float64) []float64 {
	if cap(dst) < len(src) {
		dst = make([]float64, len(src))
	}
	dst = dst[:len(src)]
	minLevel = math.Abs(minLevel)
	for i, v := range src {
		if math.Abs(v) < minLevel {
			v = 0
		}
		dst[i] = v
	}
	return dst
}

// snapshot implements expr.Sampler over a frozen copy of the state.
type snapshot struct {
	grid      grid.Grid
	occupants []model.GrainID
	levels    [][]float64
	slots     map[int]int
}

func (s *snapshot) Agent(index, dx, dy, dz int) float64 {
	j := s.grid.Offset(index, dx, dy, dz)
	if j == grid.NoIndex || j >= len(s.occupants) {
		return 0
	}
	return float64(s.occupants[j])
}

func (s *snapshot) Field(id, index, dx, dy, dz int) float64 {
	slot, ok := s.slots[id]
	if !ok {
		return 0
	}
	j := s.grid.Offset(index, dx, dy, dz)
	if j == grid.NoIndex || j >= len(s.levels[slot]) {
		return 0
	}
	return s.levels[slot][j]
}
