package systems

import (
	"math/rand/v2"

	"github.com/pthm-cable/grainsim/grid"
	"github.com/pthm-cable/grainsim/model"
)

// fieldCheck is a field predicate bound to a level slot. slot < 0 means the
// field does not exist and reads 0.
type fieldCheck struct {
	slot int
	pred model.Predicate
}

type reactionRule struct {
	reactive model.GrainID
	product  model.GrainID
	dirs     grid.Directions
}

// rule is a Behaviour with lookups resolved against the model and grid.
type rule struct {
	probability float64
	age         *model.Predicate
	fields      []fieldCheck
	product     model.GrainID
	reactions   []reactionRule
}

// candidate is a matched Behaviour awaiting arbitration. Its cells are
// claims[start:end]: the main cell followed by one cell per reaction.
type candidate struct {
	behaviour  int32
	start, end int32
}

// Behaviours resolves reaction rules each step: matching, registration,
// arbitration, application and residual movement.
type Behaviours struct {
	model *model.Model
	grid  grid.Grid
	mode  Arbitration
	rules []rule

	// Per-step arenas, sized once and reused.
	cands     []candidate
	claims    []int32
	cellCands [][]int32 // cell -> candidate indexes
	touched   []int32
	winners   []bool // per candidate
	locked    []bool // per cell, exclusive arbitration
	affected  []bool // per cell, written by a winner this step
	moved     []bool // per cell, received a moving grain this step
	passing   []int
	nbuf      []int
	options   []int
	eligible  []int32

	movers  map[model.GrainID]*mover
	weights []float64

	// Fired counts winning applications per behaviour for the last step.
	Fired []int
}

// NewBehaviours prepares the resolver for m on g.
func NewBehaviours(m *model.Model, g grid.Grid, mode Arbitration) *Behaviours {
	n := g.DataSize()
	b := &Behaviours{
		model:     m,
		grid:      g,
		mode:      mode,
		rules:     make([]rule, len(m.Behaviours)),
		cellCands: make([][]int32, n),
		locked:    make([]bool, n),
		affected:  make([]bool, n),
		moved:     make([]bool, n),
		nbuf:      make([]int, 0, 10),
		options:   make([]int, 0, 10),
		Fired:     make([]int, len(m.Behaviours)),
	}
	for i := range m.Behaviours {
		src := &m.Behaviours[i]
		r := rule{
			probability: src.Probability,
			age:         src.AgePredicate,
			product:     src.MainProductID,
		}
		for id, p := range src.FieldPredicates {
			slot, ok := m.FieldSlot(id)
			if !ok {
				slot = -1
			}
			r.fields = append(r.fields, fieldCheck{slot: slot, pred: p})
		}
		for _, rc := range src.Reactions {
			r.reactions = append(r.reactions, reactionRule{
				reactive: rc.ReactiveID,
				product:  rc.ProductID,
				dirs:     g.Resolve(rc.AllowedDirections),
			})
		}
		b.rules[i] = r
	}
	b.movers = newMovers(m, g)
	return b
}

// Mode returns the arbitration mode.
func (b *Behaviours) Mode() Arbitration { return b.mode }

// Resolve runs matching, registration, arbitration and application. Cells
// written by a winner are excluded from the following Move.
func (b *Behaviours) Resolve(st *State, rng *rand.Rand) (stats StepStats) {
	b.reset()
	b.match(st, rng)
	stats.Candidates = len(b.cands)
	stats.Conflicts = b.arbitrate(rng)
	stats.Winners = b.apply(st)
	return stats
}

func (b *Behaviours) reset() {
	for _, c := range b.touched {
		b.cellCands[c] = b.cellCands[c][:0]
	}
	b.touched = b.touched[:0]
	b.cands = b.cands[:0]
	b.claims = b.claims[:0]
	b.winners = b.winners[:0]
	clear(b.affected)
	clear(b.moved)
	clear(b.Fired)
}

// match visits occupied cells in row-major order. Per cell it evaluates the
// age and field predicates of every behaviour whose main reactive is the
// occupant, draws one Bernoulli trial per passing behaviour, picks one of the
// successes uniformly and then matches reactions greedily.
func (b *Behaviours) match(st *State, rng *rand.Rand) {
	for i, id := range st.Occupants {
		if id == model.None {
			continue
		}
		indexes := b.model.BehavioursFor(id)
		if len(indexes) == 0 {
			continue
		}
		b.passing = b.passing[:0]
		for _, bi := range indexes {
			r := &b.rules[bi]
			if !r.age.Eval(float64(st.Ages[i])) || !fieldsPass(r.fields, st.Levels, i) {
				continue
			}
			if rng.Float64() < r.probability {
				b.passing = append(b.passing, bi)
			}
		}
		var chosen int
		switch len(b.passing) {
		case 0:
			continue
		case 1:
			chosen = b.passing[0]
		default:
			chosen = b.passing[rng.IntN(len(b.passing))]
		}
		b.claimReactions(st, rng, chosen, i)
	}
}

func fieldsPass(checks []fieldCheck, levels [][]float64, cell int) bool {
	for _, fc := range checks {
		v := 0.0
		if fc.slot >= 0 {
			v = levels[fc.slot][cell]
		}
		if !fc.pred.Eval(v) {
			return false
		}
	}
	return true
}

// claimReactions assigns a distinct neighbour to each reaction and registers
// the candidate. An unsatisfiable reaction drops the candidate.
func (b *Behaviours) claimReactions(st *State, rng *rand.Rand, bi, main int) {
	r := &b.rules[bi]
	start := int32(len(b.claims))
	b.claims = append(b.claims, int32(main))
	for _, rc := range r.reactions {
		b.nbuf = b.grid.Neighbors(b.nbuf[:0], main, rc.dirs)
		b.options = b.options[:0]
		for _, n := range b.nbuf {
			if st.Occupants[n] != rc.reactive || b.claimedBy(start, n) || b.optionSeen(n) {
				continue
			}
			b.options = append(b.options, n)
		}
		var pick int
		switch len(b.options) {
		case 0:
			b.claims = b.claims[:start]
			return
		case 1:
			pick = b.options[0]
		default:
			pick = b.options[rng.IntN(len(b.options))]
		}
		b.claims = append(b.claims, int32(pick))
	}
	b.register(candidate{behaviour: int32(bi), start: start, end: int32(len(b.claims))})
}

// claimedBy reports whether cell is already among the claims of the
// candidate being built.
func (b *Behaviours) claimedBy(start int32, cell int) bool {
	for _, c := range b.claims[start:] {
		if int(c) == cell {
			return true
		}
	}
	return false
}

// optionSeen drops duplicate neighbours on lattices narrow enough for two
// directions to reach the same cell.
func (b *Behaviours) optionSeen(cell int) bool {
	for _, o := range b.options {
		if o == cell {
			return true
		}
	}
	return false
}

// register records the candidate against every cell it claims.
func (b *Behaviours) register(c candidate) {
	ci := int32(len(b.cands))
	b.cands = append(b.cands, c)
	b.winners = append(b.winners, false)
	for _, cell := range b.claims[c.start:c.end] {
		if len(b.cellCands[cell]) == 0 {
			b.touched = append(b.touched, cell)
		}
		b.cellCands[cell] = append(b.cellCands[cell], ci)
	}
}

// apply writes winners in candidate order and returns how many were applied.
func (b *Behaviours) apply(st *State) int {
	applied := 0
	for ci, c := range b.cands {
		if !b.winners[ci] {
			continue
		}
		r := &b.rules[c.behaviour]
		cells := b.claims[c.start:c.end]
		main := cells[0]
		st.Occupants[main] = r.product
		st.Ages[main] = 0
		b.affected[main] = true
		for k, cell := range cells[1:] {
			st.Occupants[cell] = r.reactions[k].product
			st.Ages[cell] = 0
			b.affected[cell] = true
		}
		b.Fired[c.behaviour]++
		applied++
	}
	return applied
}
