package systems

import (
	"math/rand/v2"
	"slices"

	"github.com/pthm-cable/grainsim/grid"
	"github.com/pthm-cable/grainsim/model"
)

// influence biases movement toward (positive weight) or away from (negative)
// higher levels of a field.
type influence struct {
	slot   int
	weight float64
}

type mover struct {
	probability float64
	dirs        grid.Directions
	influences  []influence
}

func newMovers(m *model.Model, g grid.Grid) map[model.GrainID]*mover {
	movers := make(map[model.GrainID]*mover)
	for i := range m.Grains {
		gr := &m.Grains[i]
		if gr.MovementProbability <= 0 {
			continue
		}
		mv := &mover{probability: gr.MovementProbability, dirs: g.Resolve(gr.AllowedDirections)}
		for fid, w := range gr.FieldInfluences {
			if slot, ok := m.FieldSlot(fid); ok && w != 0 {
				mv.influences = append(mv.influences, influence{slot: slot, weight: w})
			}
		}
		slices.SortFunc(mv.influences, func(a, b influence) int { return a.slot - b.slot })
		movers[gr.ID] = mv
	}
	return movers
}

// Move random-walks every occupied cell not written by a winner in the
// preceding Resolve. Cells are visited row-major; a grain that moved this
// step is not visited again at its new cell. Each candidate draws one
// Bernoulli trial against its movement probability, then picks an empty
// in-grid neighbour uniformly, or weighted by field gradient when the grain
// declares influences.
func (b *Behaviours) Move(st *State, rng *rand.Rand) int {
	moves := 0
	for i, id := range st.Occupants {
		if id == model.None || b.affected[i] || b.moved[i] {
			continue
		}
		mv := b.movers[id]
		if mv == nil || rng.Float64() >= mv.probability {
			continue
		}
		b.nbuf = b.grid.Neighbors(b.nbuf[:0], i, mv.dirs)
		b.options = b.options[:0]
		for _, n := range b.nbuf {
			if n != i && st.Occupants[n] == model.None && !b.optionSeen(n) {
				b.options = append(b.options, n)
			}
		}
		target, ok := b.chooseTarget(st, rng, mv, i)
		if !ok {
			continue
		}
		st.Occupants[target] = id
		st.Ages[target] = st.Ages[i]
		st.Occupants[i] = model.None
		st.Ages[i] = 0
		b.moved[target] = true
		moves++
	}
	return moves
}

// chooseTarget picks from b.options. Gradient weights are
// max(0, 1 + sum(weight * (level[target] - level[source]))).
func (b *Behaviours) chooseTarget(st *State, rng *rand.Rand, mv *mover, src int) (int, bool) {
	switch {
	case len(b.options) == 0:
		return 0, false
	case len(mv.influences) == 0:
		if len(b.options) == 1 {
			return b.options[0], true
		}
		return b.options[rng.IntN(len(b.options))], true
	}

	b.weights = b.weights[:0]
	total := 0.0
	for _, n := range b.options {
		w := 1.0
		for _, inf := range mv.influences {
			lv := st.Levels[inf.slot]
			w += inf.weight * (lv[n] - lv[src])
		}
		if !(w > 0) {
			w = 0
		}
		b.weights = append(b.weights, w)
		total += w
	}
	if !(total > 0) {
		return 0, false
	}
	r := rng.Float64() * total
	for k, w := range b.weights {
		if r < w {
			return b.options[k], true
		}
		r -= w
	}
	// Rounding left r at the top edge; take the last positive weight.
	for k := len(b.weights) - 1; k >= 0; k-- {
		if b.weights[k] > 0 {
			return b.options[k], true
		}
	}
	return 0, false
}
