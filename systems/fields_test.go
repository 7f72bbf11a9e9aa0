package systems

import (
	"math"
	"testing"

	"github.com/pthm-cable/grainsim/grid"
	"github.com/pthm-cable/grainsim/model"
)

func fieldModel(fields ...model.Field) *model.Model {
	return (&model.Model{
		Grains: []model.Grain{{ID: 1, Name: "A"}},
		Fields: fields,
	}).MustCompile()
}

func total(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func TestFieldNoOpDiffusionIsStable(t *testing.T) {
	g := grid.New(8, 6, 1)
	m := fieldModel(model.Field{ID: 1, Name: "still", Speed: 0, HalfLife: 0})
	fd, err := NewFieldDynamics(m, g, 0.001)
	if err != nil {
		t.Fatal(err)
	}
	st := NewState(g, 1)
	for i := range st.Levels[0] {
		st.Levels[0][i] = float64(i%7) * 0.37
	}
	want := append([]float64(nil), st.Levels[0]...)
	for step := 0; step < 50; step++ {
		fd.Update(st, step)
	}
	for i, v := range st.Levels[0] {
		if v != want[i] {
			t.Fatalf("cell %d changed: %v -> %v", i, want[i], v)
		}
	}
}

func TestFieldDiffusionConservesMass(t *testing.T) {
	tests := []struct {
		name string
		dirs grid.Directions
		g    grid.Grid
	}{
		{"von neumann", 0, grid.New(10, 10, 1)},
		{"moore", grid.Moore, grid.New(10, 10, 1)},
		{"single row", 0, grid.New(5, 1, 1)},
		{"3d", 0, grid.New(4, 4, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := fieldModel(model.Field{ID: 1, Name: "heat", Speed: 0.4, AllowedDirections: tt.dirs})
			fd, err := NewFieldDynamics(m, tt.g, 0)
			if err != nil {
				t.Fatal(err)
			}
			st := NewState(tt.g, 1)
			st.Levels[0][0] = 100
			for step := 0; step < 25; step++ {
				fd.Update(st, step)
			}
			if got := total(st.Levels[0]); math.Abs(got-100) > 1e-9 {
				t.Errorf("total = %v, want 100", got)
			}
			if st.Levels[0][0] >= 100 {
				t.Error("expected the source cell to spread")
			}
		})
	}
}

func TestFieldDiffusionSplitsEvenly(t *testing.T) {
	g := grid.New(5, 5, 1)
	m := fieldModel(model.Field{ID: 1, Name: "heat", Speed: 0.5})
	fd, _ := NewFieldDynamics(m, g, 0)
	st := NewState(g, 1)
	center := g.ToIndex(2, 2, 0)
	st.Levels[0][center] = 8

	fd.Update(st, 0)

	if got := st.Levels[0][center]; got != 4 {
		t.Errorf("center = %v, want 4", got)
	}
	for _, d := range []grid.Direction{grid.Left, grid.Right, grid.Up, grid.Down} {
		if got := st.Levels[0][g.MoveIndex(center, d)]; got != 1 {
			t.Errorf("%v neighbour = %v, want 1", d, got)
		}
	}
	if got := st.Levels[0][g.ToIndex(3, 3, 0)]; got != 0 {
		t.Errorf("diagonal = %v, want 0 for von Neumann", got)
	}
}

func TestFieldDecayHalvesAtHalfLife(t *testing.T) {
	g := grid.New(3, 3, 1)
	m := fieldModel(model.Field{ID: 1, Name: "decay", HalfLife: 4})
	fd, _ := NewFieldDynamics(m, g, 0)
	st := NewState(g, 1)
	st.Levels[0][4] = 10
	for step := 0; step < 4; step++ {
		fd.Update(st, step)
	}
	if got := st.Levels[0][4]; math.Abs(got-5) > 1e-9 {
		t.Errorf("level after one half-life = %v, want 5", got)
	}
}

func TestFieldMinLevelStopsPropagation(t *testing.T) {
	g := grid.New(5, 5, 1)
	m := fieldModel(model.Field{ID: 1, Name: "faint", Speed: 0.5})
	fd, _ := NewFieldDynamics(m, g, 0.1)
	st := NewState(g, 1)
	st.Levels[0][12] = 0.05
	fd.Update(st, 0)
	if st.Levels[0][12] != 0.05 {
		t.Errorf("sub-threshold level should stay put, got %v", st.Levels[0][12])
	}

	rendered := RenderLevels(nil, st.Levels[0], 0.1)
	if rendered[12] != 0 {
		t.Errorf("rendered level = %v, want 0", rendered[12])
	}
	if st.Levels[0][12] == 0 {
		t.Error("RenderLevels must not clamp storage")
	}
}

func TestFieldProductionWithPermeability(t *testing.T) {
	g := grid.New(4, 4, 1)
	m := (&model.Model{
		Grains: []model.Grain{
			{ID: 1, Name: "emitter", FieldProductions: map[model.FieldID]float64{1: 2}},
			{ID: 2, Name: "gated", FieldProductions: map[model.FieldID]float64{1: 2}, FieldPermeability: map[model.FieldID]float64{1: 0.25}},
			{ID: 3, Name: "blocked", FieldProductions: map[model.FieldID]float64{1: 2}, FieldPermeability: map[model.FieldID]float64{1: 0}},
		},
		Fields: []model.Field{{ID: 1, Name: "signal"}},
	}).MustCompile()
	fd, err := NewFieldDynamics(m, g, 0)
	if err != nil {
		t.Fatal(err)
	}
	st := NewState(g, 1)
	st.Occupants[0] = 1
	st.Occupants[5] = 2
	st.Occupants[10] = 3
	fd.Update(st, 0)
	fd.Update(st, 1)
	if st.Levels[0][0] != 4 || st.Levels[0][5] != 1 || st.Levels[0][10] != 0 {
		t.Errorf("levels = %v, %v, %v", st.Levels[0][0], st.Levels[0][5], st.Levels[0][10])
	}
}

func TestFormulaFieldsAgree(t *testing.T) {
	g := grid.New(6, 6, 1)
	const formula = "agent(1, 0) != 0 ? field1(0, 0) + step : field1(-1, 0) * 0.5 + x - y"
	m := (&model.Model{
		Grains: []model.Grain{{ID: 1, Name: "A"}},
		Fields: []model.Field{
			{ID: 1, Name: "base", Speed: 0.3},
			{ID: 2, Name: "left", Formula: formula},
			{ID: 3, Name: "right", Formula: formula},
		},
	}).MustCompile()
	fd, err := NewFieldDynamics(m, g, 0)
	if err != nil {
		t.Fatal(err)
	}
	st := NewState(g, 3)
	for i := range st.Levels[0] {
		st.Levels[0][i] = float64(i)
	}
	st.Occupants[7] = 1
	st.Occupants[20] = 1
	before := append([]float64(nil), st.Levels[0]...)

	fd.Update(st, 3)

	for i := range st.Levels[1] {
		if st.Levels[1][i] != st.Levels[2][i] {
			t.Fatalf("cell %d: %v != %v", i, st.Levels[1][i], st.Levels[2][i])
		}
	}
	// Formula fields read field1 before its own update this step.
	if got, want := st.Levels[1][6], before[6]+3; got != want {
		t.Errorf("cell 6 = %v, want %v from the pre-step snapshot", got, want)
	}
}

func TestFormulaCompileError(t *testing.T) {
	m := fieldModel(model.Field{ID: 1, Name: "bad", Formula: "field9(0,0)"})
	if _, err := NewFieldDynamics(m, grid.New(2, 2, 1), 0); err == nil {
		t.Error("expected formula error")
	}
}

func BenchmarkFieldDiffusion(b *testing.B) {
	g := grid.New(256, 256, 1)
	m := fieldModel(model.Field{ID: 1, Name: "heat", Speed: 0.2, HalfLife: 50})
	fd, _ := NewFieldDynamics(m, g, 1e-6)
	st := NewState(g, 1)
	for i := range st.Levels[0] {
		st.Levels[0][i] = float64(i % 13)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fd.Update(st, i)
	}
}
