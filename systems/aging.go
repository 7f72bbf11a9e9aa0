package systems

import (
	"math"
	"math/rand/v2"

	"github.com/pthm-cable/grainsim/model"
)

// Aging applies half-life death and increments survivor ages.
type Aging struct {
	deathProb map[model.GrainID]float64
}

// NewAging precomputes per-grain death probabilities. A grain with half-life
// h survives one step with probability 0.5^(1/h).
func NewAging(m *model.Model) *Aging {
	a := &Aging{deathProb: make(map[model.GrainID]float64, len(m.Grains))}
	for i := range m.Grains {
		g := &m.Grains[i]
		if g.HalfLife > 0 {
			a.deathProb[g.ID] = DeathProbability(g.HalfLife)
		}
	}
	return a
}

// DeathProbability is the per-step death chance for a half-life in steps.
func DeathProbability(halfLife float64) float64 {
	if halfLife <= 0 {
		return 0
	}
	return 1 - math.Pow(0.5, 1/halfLife)
}

// Update runs one aging pass in row-major order and returns the number of
// deaths. Only mortal grains draw from rng.
func (a *Aging) Update(st *State, rng *rand.Rand) int {
	deaths := 0
	for i, id := range st.Occupants {
		if id == model.None {
			continue
		}
		if p, ok := a.deathProb[id]; ok && rng.Float64() < p {
			st.Occupants[i] = model.None
			st.Ages[i] = 0
			deaths++
			continue
		}
		if st.Ages[i] < math.MaxInt32 {
			st.Ages[i]++
		}
	}
	return deaths
}
