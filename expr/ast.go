package expr

import "math"

// node is a compiled expression tree node.
type node interface {
	eval(env *Env) float64
}

type number float64

func (n number) eval(*Env) float64 { return float64(n) }

type varKind uint8

const (
	varStep varKind = iota
	varX
	varY
	varZ
	varIndex
)

var variables = map[string]varKind{
	"step":  varStep,
	"x":     varX,
	"y":     varY,
	"z":     varZ,
	"index": varIndex,
}

type variable varKind

func (v variable) eval(env *Env) float64 {
	if env == nil {
		return 0
	}
	switch varKind(v) {
	case varStep:
		return float64(env.Step)
	case varX:
		return float64(env.X)
	case varY:
		return float64(env.Y)
	case varZ:
		return float64(env.Z)
	case varIndex:
		return float64(env.Index)
	}
	return 0
}

type negate struct{ x node }

func (n negate) eval(env *Env) float64 { return -n.x.eval(env) }

type not struct{ x node }

func (n not) eval(env *Env) float64 { return boolf(!truthy(n.x.eval(env))) }

type binary struct {
	op   string
	l, r node
}

func (b binary) eval(env *Env) float64 {
	switch b.op {
	case "&&":
		return boolf(truthy(b.l.eval(env)) && truthy(b.r.eval(env)))
	case "||":
		return boolf(truthy(b.l.eval(env)) || truthy(b.r.eval(env)))
	}
	l, r := b.l.eval(env), b.r.eval(env)
	switch b.op {
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	case "/":
		return l / r
	case "%":
		return math.Mod(l, r)
	case "^":
		return math.Pow(l, r)
	case "==":
		return boolf(l == r)
	case "!=":
		return boolf(l != r)
	case "<":
		return boolf(l < r)
	case "<=":
		return boolf(l <= r)
	case ">":
		return boolf(l > r)
	case ">=":
		return boolf(l >= r)
	}
	return 0
}

type ternary struct{ cond, a, b node }

func (t ternary) eval(env *Env) float64 {
	if truthy(t.cond.eval(env)) {
		return t.a.eval(env)
	}
	return t.b.eval(env)
}

type call struct {
	fn   func([]float64) float64
	args []node
}

func (c call) eval(env *Env) float64 {
	var buf [4]float64
	vals := buf[:0]
	for _, a := range c.args {
		vals = append(vals, a.eval(env))
	}
	return c.fn(vals)
}

// offsets holds dx, dy and an optional dz.
type offsets []node

func (o offsets) eval(env *Env) (dx, dy, dz int) {
	if len(o) > 0 {
		dx = toOffset(o[0].eval(env))
	}
	if len(o) > 1 {
		dy = toOffset(o[1].eval(env))
	}
	if len(o) > 2 {
		dz = toOffset(o[2].eval(env))
	}
	return dx, dy, dz
}

type agentRef struct{ at offsets }

func (a agentRef) eval(env *Env) float64 {
	if env == nil || env.Sampler == nil {
		return 0
	}
	dx, dy, dz := a.at.eval(env)
	return env.Sampler.Agent(env.Index, dx, dy, dz)
}

type fieldRef struct {
	id int
	at offsets
}

func (f fieldRef) eval(env *Env) float64 {
	if env == nil || env.Sampler == nil {
		return 0
	}
	dx, dy, dz := f.at.eval(env)
	return env.Sampler.Field(f.id, env.Index, dx, dy, dz)
}

const maxOffset = 1 << 20

func toOffset(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v > maxOffset {
		return maxOffset
	}
	if v < -maxOffset {
		return -maxOffset
	}
	return int(v)
}

func truthy(v float64) bool { return v != 0 }

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
