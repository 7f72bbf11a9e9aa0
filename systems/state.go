// Package systems implements the per-step phases of the grain simulation:
// aging, field dynamics, behaviour resolution and residual movement. Each
// phase mutates a shared State in place and draws randomness from the
// caller's RNG in row-major cell order.
package systems

import (
	"fmt"

	"github.com/pthm-cable/grainsim/grid"
	"github.com/pthm-cable/grainsim/model"
)

// State is the mutable per-cell simulation state. Every slice has exactly
// Grid.DataSize() elements; Levels holds one slice per model field, in model
// order.
type State struct {
	Grid      grid.Grid
	Occupants []model.GrainID
	Ages      []int32
	Levels    [][]float64
}

// NewState allocates an empty state for g with nFields level arrays.
func NewState(g grid.Grid, nFields int) *State {
	n := g.DataSize()
	s := &State{
		Grid:      g,
		Occupants: make([]model.GrainID, n),
		Ages:      make([]int32, n),
		Levels:    make([][]float64, nFields),
	}
	for i := range s.Levels {
		s.Levels[i] = make([]float64, n)
	}
	return s
}

// Check verifies that every array matches the grid size.
func (s *State) Check() error {
	n := s.Grid.DataSize()
	if len(s.Occupants) != n {
		return fmt.Errorf("occupants: have %d cells, grid has %d", len(s.Occupants), n)
	}
	if len(s.Ages) != n {
		return fmt.Errorf("ages: have %d cells, grid has %d", len(s.Ages), n)
	}
	for i, lv := range s.Levels {
		if len(lv) != n {
			return fmt.Errorf("field slot %d: have %d cells, grid has %d", i, len(lv), n)
		}
	}
	return nil
}

// CopyFrom overwrites s with src. Both states must have the same shape.
func (s *State) CopyFrom(src *State) {
	s.Grid = src.Grid
	copy(s.Occupants, src.Occupants)
	copy(s.Ages, src.Ages)
	for i := range s.Levels {
		copy(s.Levels[i], src.Levels[i])
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := NewState(s.Grid, len(s.Levels))
	c.CopyFrom(s)
	return c
}

// Counts tallies occupied cells per grain id.
func (s *State) Counts() map[model.GrainID]int {
	counts := make(map[model.GrainID]int)
	for _, id := range s.Occupants {
		if id != model.None {
			counts[id]++
		}
	}
	return counts
}

// StepStats summarises one step.
type StepStats struct {
	Deaths     int
	Candidates int
	Winners    int
	Conflicts  int // touched cells with more than one candidate
	Moves      int
}
