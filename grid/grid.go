// Package grid provides index arithmetic and toroidal neighbour lookup over a
// fixed-size 2D/3D lattice.
package grid

import "fmt"

// NoIndex is returned by lookups that leave the lattice on an unwrapped axis.
const NoIndex = -1

// Position is a logical cell coordinate.
type Position struct {
	X, Y, Z int
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z)
}

// Grid describes the lattice dimensions. X and Y always wrap; Z wraps only
// when WrapZ is set.
type Grid struct {
	Width  int  `yaml:"width" json:"width"`
	Height int  `yaml:"height" json:"height"`
	Depth  int  `yaml:"depth" json:"depth"` // 0 or 1 = 2D
	WrapZ  bool `yaml:"wrap_z" json:"wrap_z"`
}

// New returns a grid with the given dimensions. Non-positive sizes collapse to 1.
func New(w, h, d int) Grid {
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	if d <= 0 {
		d = 1
	}
	return Grid{Width: w, Height: h, Depth: d}
}

// Normalize returns a copy with every dimension at least 1.
func (g Grid) Normalize() Grid {
	n := New(g.Width, g.Height, g.Depth)
	n.WrapZ = g.WrapZ
	return n
}

// Is3D reports whether the lattice has more than one layer.
func (g Grid) Is3D() bool { return g.depth() > 1 }

// DataSize is the number of cells, and the required length of every per-cell array.
func (g Grid) DataSize() int { return g.Width * g.Height * g.depth() }

// ToIndex returns the flat index of (x, y, z). Coordinates are not checked.
func (g Grid) ToIndex(x, y, z int) int {
	return x + y*g.Width + z*g.Width*g.Height
}

// ToPosition is the inverse of ToIndex.
func (g Grid) ToPosition(index int) Position {
	layer := g.Width * g.Height
	z := index / layer
	rem := index - z*layer
	y := rem / g.Width
	return Position{X: rem - y*g.Width, Y: y, Z: z}
}

// PositionInside reports whether p lies within the lattice bounds.
func (g Grid) PositionInside(p Position) bool {
	return p.X >= 0 && p.X < g.Width &&
		p.Y >= 0 && p.Y < g.Height &&
		p.Z >= 0 && p.Z < g.depth()
}

// IndexInside reports whether index addresses a cell.
func (g Grid) IndexInside(index int) bool {
	return index >= 0 && index < g.DataSize()
}

// MoveIndex returns the index one step from index in direction d. X and Y
// wrap within the current row/column; leaving the Z range returns NoIndex
// unless WrapZ is set.
func (g Grid) MoveIndex(index int, d Direction) int {
	dx, dy, dz := d.Delta()
	return g.Offset(index, dx, dy, dz)
}

// Offset returns the index displaced by (dx, dy, dz) from index with the same
// wrap rules as MoveIndex.
func (g Grid) Offset(index, dx, dy, dz int) int {
	p := g.ToPosition(index)
	x := modInt(p.X+dx, g.Width)
	y := modInt(p.Y+dy, g.Height)
	z := p.Z + dz
	depth := g.depth()
	if z < 0 || z >= depth {
		if !g.WrapZ {
			return NoIndex
		}
		z = modInt(z, depth)
	}
	return g.ToIndex(x, y, z)
}

// Neighbors appends the in-grid neighbours of index reachable through dirs
// to dst, in direction order, and returns the extended slice.
func (g Grid) Neighbors(dst []int, index int, dirs Directions) []int {
	for _, d := range dirs.List() {
		if n := g.MoveIndex(index, d); n != NoIndex {
			dst = append(dst, n)
		}
	}
	return dst
}

// DefaultDirections is the neighbourhood used when a model leaves a
// direction set empty: von Neumann, extended along Z for 3D lattices.
func (g Grid) DefaultDirections() Directions {
	if g.Is3D() {
		return VonNeumann3D
	}
	return VonNeumann
}

// Resolve returns dirs, or the default neighbourhood when dirs is empty.
func (g Grid) Resolve(dirs Directions) Directions {
	if dirs == 0 {
		return g.DefaultDirections()
	}
	return dirs
}

func (g Grid) depth() int {
	if g.Depth <= 0 {
		return 1
	}
	return g.Depth
}

func modInt(a, m int) int {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}
