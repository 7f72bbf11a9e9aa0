// Package expr parses and evaluates field formulas.
//
// A formula is a numeric expression over the evaluated cell: step, x, y, z and
// index, the occupant of a relative cell via agent(dx, dy[, dz]) and the level
// of field N at a relative cell via fieldN(dx, dy[, dz]). Booleans are 1 and
// 0; any non-zero value is true.
package expr

import "slices"

// Symbols resolves field references at compile time. A nil Symbols accepts
// every fieldN.
type Symbols interface {
	HasField(id int) bool
}

// Sampler reads simulation state relative to a cell. Implementations return
// 0 for positions outside the lattice.
type Sampler interface {
	// Agent returns the occupant grain id, 0 when empty.
	Agent(index, dx, dy, dz int) float64
	// Field returns the level of field id.
	Field(id, index, dx, dy, dz int) float64
}

// Env is the evaluation context for one cell.
type Env struct {
	Step    int
	X, Y, Z int
	Index   int
	Sampler Sampler
}

// Program is a compiled formula. It is immutable and safe for concurrent use.
type Program struct {
	src    string
	root   node
	fields []int
}

// Validate parses and resolves src without evaluating it.
func Validate(src string, syms Symbols) error {
	_, err := Compile(src, syms)
	return err
}

// Compile parses src and resolves every identifier. The returned error, if
// any, is an *Error.
func Compile(src string, syms Symbols) (*Program, error) {
	toks, lexErr := tokenize(src)
	if lexErr != nil {
		return nil, lexErr
	}
	p := &parser{toks: toks, syms: syms}
	root, err := p.parse()
	if err != nil {
		return nil, err
	}
	slices.Sort(p.fields)
	return &Program{src: src, root: root, fields: slices.Compact(p.fields)}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string, syms Symbols) *Program {
	prog, err := Compile(src, syms)
	if err != nil {
		panic("expr: " + err.Error())
	}
	return prog
}

// Eval evaluates the program. A nil env evaluates with every input at 0.
func (p *Program) Eval(env *Env) float64 {
	if p == nil || p.root == nil {
		return 0
	}
	return p.root.eval(env)
}

// Fields returns the sorted ids of fields the program reads.
func (p *Program) Fields() []int { return p.fields }

func (p *Program) String() string { return p.src }
