package expr

import (
	"errors"
	"math"
	"testing"
)

type fields map[int]bool

func (f fields) HasField(id int) bool { return f[id] }

// gridSampler is a 4x4 torus with constant field levels.
type gridSampler struct {
	agents []float64
	levels map[int][]float64
}

func (g gridSampler) at(index, dx, dy int) int {
	x, y := index%4, index/4
	x = ((x+dx)%4 + 4) % 4
	y = ((y+dy)%4 + 4) % 4
	return x + y*4
}

func (g gridSampler) Agent(index, dx, dy, dz int) float64 {
	if dz != 0 {
		return 0
	}
	return g.agents[g.at(index, dx, dy)]
}

func (g gridSampler) Field(id, index, dx, dy, dz int) float64 {
	lv, ok := g.levels[id]
	if !ok || dz != 0 {
		return 0
	}
	return lv[g.at(index, dx, dy)]
}

func TestEvalArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 % 4", 2},
		{"2 ^ 3 ^ 2", 512},
		{"-2 ^ 2", -4},
		{"2 ^ -1", 0.5},
		{"7 / 2", 3.5},
		{"1e3 + .5", 1000.5},
		{"3 > 2", 1},
		{"3 <= 2", 0},
		{"1 == 1 && 2 != 3", 1},
		{"0 || 0", 0},
		{"not 0", 1},
		{"not 1 == 2", 1},
		{"!5", 0},
		{"true and false", 0},
		{"1 or false", 1},
		{"1 > 0 ? 10 : 20", 10},
		{"0 ? 1 : 0 ? 2 : 3", 3},
		{"abs(-3) + floor(2.7) + ceil(2.1) + round(2.5)", 3 + 2 + 3 + 3},
		{"min(4, 2, 8) + max(1, 9) + sum(1, 2, 3) + avg(2, 4)", 2 + 9 + 6 + 3},
		{"log(e)", 1},
		{"log(8, 2)", 3},
		{"sqrt(16) + exp(0) + sign(-4)", 4},
		{"atan2(0, 1) + sin(0) + cosh(0)", 1},
		{"pi", math.Pi},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog, err := Compile(tt.src, nil)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			if got := prog.Eval(nil); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvalVariablesAndSampling(t *testing.T) {
	s := gridSampler{
		agents: make([]float64, 16),
		levels: map[int][]float64{1: make([]float64, 16)},
	}
	s.agents[6] = 3
	for i := range s.levels[1] {
		s.levels[1][i] = float64(i)
	}
	syms := fields{1: true}

	env := &Env{Step: 4, X: 1, Y: 1, Index: 5, Sampler: s}
	tests := []struct {
		src  string
		want float64
	}{
		{"step * 10 + x + y + z + index", 40 + 1 + 1 + 0 + 5},
		{"agent(1, 0)", 3},
		{"agent(0, 0)", 0},
		{"agent(1, 0, 1)", 0},
		{"agent", 0},
		{"field1(0, 0)", 5},
		{"field1(-2, 0)", 7},  // wraps to x=3 in row 1
		{"field1(0, -2)", 13}, // wraps to y=3
		{"field1", 5},
		{"field1(0.6, 0)", 6},
		{"agent(1,0) == 3 ? field1(0,1) : -1", 9},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog, err := Compile(tt.src, syms)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			if got := prog.Eval(env); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateErrorKinds(t *testing.T) {
	syms := fields{1: true}
	tests := []struct {
		src  string
		kind ErrorKind
		name string
	}{
		{"", SyntaxError, ""},
		{"1 +", SyntaxError, ""},
		{"(1 + 2", SyntaxError, ""},
		{"1 $ 2", SyntaxError, ""},
		{"min(1, 2", SyntaxError, ""},
		{"c ? 1", UnresolvedVariable, "c"},
		{"foo + 1", UnresolvedVariable, "foo"},
		{"bar(1)", UnresolvedVariable, "bar"},
		{"field2(0, 0)", UnresolvedVariable, "field2"},
		{"1 2", MalformedExpression, ""},
		{"atan2(1)", MalformedExpression, ""},
		{"sin", MalformedExpression, ""},
		{"x(1)", MalformedExpression, ""},
		{"agent(1)", MalformedExpression, ""},
		{"field1(1, 2, 3, 4)", MalformedExpression, ""},
		{"1.2.3", MalformedExpression, ""},
		{"()", MalformedExpression, ""},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			err := Validate(tt.src, syms)
			if err == nil {
				t.Fatal("expected error")
			}
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("kind = %v, want %v (%v)", e.Kind, tt.kind, err)
			}
			if e.Name != tt.name {
				t.Errorf("name = %q, want %q", e.Name, tt.name)
			}
			if !errors.Is(err, &Error{Kind: tt.kind}) {
				t.Error("errors.Is should match on kind")
			}
		})
	}

	if err := Validate("", syms); err.Error() != "syntax error at 0: expression expected" {
		t.Errorf("empty source message = %q", err)
	}
}

func TestValidateAcceptsGrammar(t *testing.T) {
	srcs := []string{
		"0",
		"field1(0, 1) * 0.25 + field1(0, -1) * 0.25",
		"agent(0,0) != 0 ? 1 : field1(0,0,0) * 0.9",
		"asin(0.5) + acos(0.5) + atan(1) + tan(0) + sinh(0) + tanh(0) + asinh(0) + acosh(1) + atanh(0)",
		"index % 2 == 0 && step > 3 || not (x < y)",
	}
	for _, src := range srcs {
		if err := Validate(src, fields{1: true}); err != nil {
			t.Errorf("Validate(%q) = %v", src, err)
		}
	}
}

func TestEvalNeverPanics(t *testing.T) {
	srcs := []string{
		"1 / 0",
		"0 / 0",
		"5 % 0",
		"log(0)",
		"sqrt(-1)",
		"agent(0/0, 1/0)",
		"field1(1e300, -1e300)",
		"acosh(0) ? 1 : 2",
	}
	s := gridSampler{agents: make([]float64, 16), levels: map[int][]float64{1: make([]float64, 16)}}
	for _, src := range srcs {
		prog := MustCompile(src, nil)
		_ = prog.Eval(nil)
		_ = prog.Eval(&Env{})
		_ = prog.Eval(&Env{Index: 3, Sampler: s})
	}
}

func TestProgramFields(t *testing.T) {
	prog := MustCompile("field3(0,0) + field1(1,0) + field3(0,1)", nil)
	got := prog.Fields()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Fields() = %v, want [1 3]", got)
	}
	if prog.String() != "field3(0,0) + field1(1,0) + field3(0,1)" {
		t.Errorf("String() = %q", prog.String())
	}
}

func BenchmarkEval(b *testing.B) {
	prog := MustCompile("agent(0,0) != 0 ? 1 : (field1(1,0) + field1(-1,0) + field1(0,1) + field1(0,-1)) / 4", nil)
	s := gridSampler{agents: make([]float64, 16), levels: map[int][]float64{1: make([]float64, 16)}}
	env := &Env{Sampler: s}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		env.Index = i & 15
		_ = prog.Eval(env)
	}
}
