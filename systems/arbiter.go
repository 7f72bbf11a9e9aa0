package systems

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
)

// Arbitration selects how candidates sharing cells are resolved.
type Arbitration uint8

const (
	// ArbitrationUnion picks one candidate per touched cell and lets every
	// pick win. A candidate can win at one of its cells while another
	// candidate wins at a different cell they share, so two winners may write
	// the same cell; the later one in row-major order prevails.
	ArbitrationUnion Arbitration = iota
	// ArbitrationExclusive commits at most one candidate per cell. At each
	// touched cell it picks among candidates whose cells are all still free
	// and locks the cells of the pick.
	ArbitrationExclusive
)

func (a Arbitration) String() string {
	switch a {
	case ArbitrationUnion:
		return "union"
	case ArbitrationExclusive:
		return "exclusive"
	}
	return fmt.Sprintf("arbitration(%d)", uint8(a))
}

// ParseArbitration accepts "union" or "exclusive".
func ParseArbitration(s string) (Arbitration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "union":
		return ArbitrationUnion, nil
	case "exclusive":
		return ArbitrationExclusive, nil
	}
	return 0, fmt.Errorf("unknown arbitration mode %q", s)
}

func (a Arbitration) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Arbitration) UnmarshalText(text []byte) error {
	v, err := ParseArbitration(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// arbitrate marks winners. Touched cells are visited in ascending index order
// and the RNG is drawn only where a choice exists. It returns the number of
// touched cells that had more than one candidate.
func (b *Behaviours) arbitrate(rng *rand.Rand) int {
	slices.Sort(b.touched)
	conflicts := 0
	for _, cell := range b.touched {
		if len(b.cellCands[cell]) > 1 {
			conflicts++
		}
	}
	switch b.mode {
	case ArbitrationExclusive:
		b.arbitrateExclusive(rng)
	default:
		b.arbitrateUnion(rng)
	}
	return conflicts
}

func (b *Behaviours) arbitrateUnion(rng *rand.Rand) {
	for _, cell := range b.touched {
		list := b.cellCands[cell]
		pick := list[0]
		if len(list) > 1 {
			pick = list[rng.IntN(len(list))]
		}
		b.winners[pick] = true
	}
}

func (b *Behaviours) arbitrateExclusive(rng *rand.Rand) {
	clear(b.locked)
	eligible := b.eligible
	for _, cell := range b.touched {
		if b.locked[cell] {
			continue
		}
		eligible = eligible[:0]
		for _, ci := range b.cellCands[cell] {
			if b.free(ci) {
				eligible = append(eligible, ci)
			}
		}
		if len(eligible) == 0 {
			continue
		}
		pick := eligible[0]
		if len(eligible) > 1 {
			pick = eligible[rng.IntN(len(eligible))]
		}
		b.winners[pick] = true
		c := b.cands[pick]
		for _, cc := range b.claims[c.start:c.end] {
			b.locked[cc] = true
		}
	}
	b.eligible = eligible
}

// free reports whether none of the candidate's cells is locked.
func (b *Behaviours) free(ci int32) bool {
	c := b.cands[ci]
	for _, cell := range b.claims[c.start:c.end] {
		if b.locked[cell] {
			return false
		}
	}
	return true
}
