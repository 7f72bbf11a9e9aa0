package model

import (
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pthm-cable/grainsim/grid"
)

const sampleModel = `
name: crystal
grains:
  - id: 1
    name: Seed
    color: "#ff8800"
    half_life: 0
    movement_probability: 0.5
    directions: moore
    productions: {1: 2.5}
    influences: {1: 0.3}
  - id: 2
    name: Crystal
    permeability: {1: 0.5}
fields:
  - id: 1
    name: heat
    half_life: 10
    speed: 0.2
  - id: 2
    name: density
    formula: "agent(0,0) != 0 ? 1 : field1(0,0)"
behaviours:
  - id: 1
    name: grow
    probability: 0.75
    age: ">= 3"
    fields:
      1: {op: "<", value: 4}
    reactive: 1
    product: 2
    reactions:
      - reactive: none
        product: 1
        directions: [left, right]
  - id: 2
    name: dissolve
    probability: 1
    reactive: 2
    product: none
`

func TestParseModel(t *testing.T) {
	m, err := Parse([]byte(sampleModel))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !m.Compiled() {
		t.Fatal("expected compiled model")
	}
	seed := m.Grain(1)
	if seed == nil || seed.Name != "Seed" {
		t.Fatalf("grain 1 = %+v", seed)
	}
	if seed.AllowedDirections != grid.Moore {
		t.Errorf("directions = %v", seed.AllowedDirections)
	}
	if seed.FieldProductions[1] != 2.5 {
		t.Errorf("production = %v", seed.FieldProductions)
	}
	if seed.Permeability(1) != 1 || m.Grain(2).Permeability(1) != 0.5 {
		t.Error("permeability defaults to 1 and reads declared values")
	}

	grow := m.Behaviours[0]
	if grow.AgePredicate == nil || grow.AgePredicate.Op != GreaterThanOrEquals || grow.AgePredicate.Constant != 3 {
		t.Errorf("age predicate = %+v", grow.AgePredicate)
	}
	if p := grow.FieldPredicates[1]; p.Op != LessThan || p.Constant != 4 {
		t.Errorf("field predicate = %+v", p)
	}
	if len(grow.Reactions) != 1 || grow.Reactions[0].ReactiveID != None || grow.Reactions[0].ProductID != 1 {
		t.Errorf("reactions = %+v", grow.Reactions)
	}
	if m.Behaviours[1].MainProductID != None {
		t.Error("product none should decode to None")
	}

	if got := m.BehavioursFor(1); len(got) != 1 || got[0] != 0 {
		t.Errorf("BehavioursFor(1) = %v", got)
	}
	if slot, ok := m.FieldSlot(2); !ok || slot != 1 {
		t.Errorf("FieldSlot(2) = %d, %v", slot, ok)
	}
	if !m.HasField(1) || m.HasField(9) {
		t.Error("HasField mismatch")
	}
	if id, err := m.GrainByName("crystal"); err != nil || id != 2 {
		t.Errorf("GrainByName = %v, %v", id, err)
	}
	if _, err := m.GrainByName("ghost"); !errors.Is(err, ErrUnknownGrain) {
		t.Errorf("expected ErrUnknownGrain, got %v", err)
	}

	if issues := Validate(m); issues.HasErrors() {
		t.Errorf("unexpected errors: %v", issues)
	}
}

func TestCompileRejectsDuplicates(t *testing.T) {
	m := &Model{Grains: []Grain{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}}}
	if err := m.Compile(); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
	m = &Model{Fields: []Field{{ID: 3, Name: "a"}, {ID: 3, Name: "b"}}}
	if err := m.Compile(); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID for fields, got %v", err)
	}
}

func TestPredicateEval(t *testing.T) {
	tests := []struct {
		p    Predicate
		v    float64
		want bool
	}{
		{Predicate{Equals, 3}, 3, true},
		{Predicate{Equals, 3}, 2, false},
		{Predicate{NotEquals, 3}, 2, true},
		{Predicate{LessThan, 3}, 3, false},
		{Predicate{LessThanOrEquals, 3}, 3, true},
		{Predicate{GreaterThan, 3}, 3, false},
		{Predicate{GreaterThanOrEquals, 3}, 3, true},
		{Predicate{GreaterThan, 0}, math.NaN(), false},
		{Predicate{Operator(42), 0}, 0, false},
	}
	for _, tt := range tests {
		if got := tt.p.Eval(tt.v); got != tt.want {
			t.Errorf("%v on %v = %v, want %v", tt.p, tt.v, got, tt.want)
		}
	}
	var nilPred *Predicate
	if !nilPred.Eval(123) {
		t.Error("nil predicate should pass")
	}
}

func TestParseOperator(t *testing.T) {
	for _, s := range []string{"<=", "le", "less_than_or_equals", "LessThanOrEquals"} {
		op, err := ParseOperator(s)
		if err != nil || op != LessThanOrEquals {
			t.Errorf("ParseOperator(%q) = %v, %v", s, op, err)
		}
	}
	if _, err := ParseOperator("~"); err == nil {
		t.Error("expected error for unknown operator")
	}
}

func TestValidateIssues(t *testing.T) {
	m := &Model{
		Grains: []Grain{
			{ID: 1, Name: "A", MovementProbability: 1.5},
			{ID: 2, Name: "B", FieldProductions: map[FieldID]float64{1: 1}, FieldPermeability: map[FieldID]float64{1: 0}},
		},
		Fields: []Field{
			{ID: 1, Name: "f", Speed: 0.1},
			{ID: 2, Name: "bad", Formula: "field7(0,0) + 1"},
		},
		Behaviours: []Behaviour{
			{ID: 1, Name: "r1", Probability: 1, MainReactiveID: 1, MainProductID: 9},
			{ID: 2, Name: "r2", Probability: 0, MainReactiveID: 2, AgePredicate: &Predicate{LessThan, 0},
				FieldPredicates: map[FieldID]Predicate{5: {GreaterThan, 1}}},
		},
	}
	issues := Validate(m)
	expect := []struct {
		sev  Severity
		frag string
	}{
		{SeverityError, "MovementProbability"},
		{SeverityWarning, "permeability 0 cancels production"},
		{SeverityError, "formula: unresolved variable \"field7\""},
		{SeverityError, "main product 9"},
		{SeverityWarning, "probability 0 never fires"},
		{SeverityWarning, "can never be satisfied"},
		{SeverityWarning, "unknown field 5 reads 0"},
	}
	for _, e := range expect {
		found := false
		for _, is := range issues {
			if is.Severity == e.sev && strings.Contains(is.String(), e.frag) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing %v issue containing %q in %v", e.sev, e.frag, issues)
		}
	}
	if issues.Err() == nil {
		t.Error("Err() should be non-nil with error issues")
	}
	if len(issues.Warnings()) != 4 {
		t.Errorf("warnings = %v", issues.Warnings())
	}
}

func TestValidateCleanModelHasNoErr(t *testing.T) {
	m := &Model{
		Grains:     []Grain{{ID: 1, Name: "Source"}, {ID: 2, Name: "Target"}},
		Behaviours: []Behaviour{{ID: 1, Probability: 1, MainReactiveID: 1, MainProductID: 2}},
	}
	issues := Validate(m)
	if len(issues) != 0 || issues.Err() != nil {
		t.Errorf("expected no issues, got %v", issues)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m, err := Parse([]byte(sampleModel))
	if err != nil {
		t.Fatal(err)
	}
	c := m.Clone()
	c.Behaviours[0].Probability = 0.1
	c.Behaviours[0].AgePredicate.Constant = 99
	c.Grains[0].FieldProductions[1] = -1
	if m.Behaviours[0].Probability != 0.75 || m.Behaviours[0].AgePredicate.Constant != 3 || m.Grains[0].FieldProductions[1] != 2.5 {
		t.Error("clone shares state with the original")
	}
	if c.Grain(2) == nil || len(c.BehavioursFor(2)) != 1 {
		t.Error("clone should be compiled")
	}
}

func TestScenarioNoiseMask(t *testing.T) {
	m := (&Model{
		Grains: []Grain{{ID: 1, Name: "Rock"}},
	}).MustCompile()
	g := grid.New(32, 32, 1)
	build := func(sel Selection) []int {
		t.Helper()
		s := &Scenario{Model: m, Grid: g, Place: []Placement{{Grain: "Rock", Selection: sel}}}
		occ, _, err := s.BuildInitial(nil)
		if err != nil {
			t.Fatal(err)
		}
		var got []int
		for i, id := range occ {
			if id == 1 {
				got = append(got, i)
			}
		}
		return got
	}

	mask := &NoiseMask{Seed: 7, Scale: 0.15, Threshold: 0.5}
	a := build(Selection{Noise: mask})
	b := build(Selection{Noise: mask})
	if len(a) == 0 || len(a) == g.DataSize() {
		t.Fatalf("noise mask kept %d of %d cells", len(a), g.DataSize())
	}
	if len(a) != len(b) {
		t.Fatalf("same seed gave %d and %d cells", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed gave different cells at %d", i)
		}
	}

	if got := build(Selection{Noise: &NoiseMask{Seed: 7, Scale: 0.15, Threshold: 1.1}}); len(got) != 0 {
		t.Errorf("threshold above 1 kept %d cells", len(got))
	}

	rect := &Rect{X: 4, Y: 4, W: 8, H: 8}
	for _, i := range build(Selection{Rect: rect, Noise: &NoiseMask{Seed: 7, Scale: 0.15}}) {
		p := g.ToPosition(i)
		if p.X < 4 || p.X >= 12 || p.Y < 4 || p.Y >= 12 {
			t.Errorf("noise mask escaped rect at %v", p)
		}
	}
}

func TestScenarioEveryNth(t *testing.T) {
	m := (&Model{
		Grains:     []Grain{{ID: 1, Name: "Source"}, {ID: 2, Name: "Target"}},
		Fields:     []Field{{ID: 1, Name: "f"}},
		Behaviours: []Behaviour{{ID: 1, Probability: 1, MainReactiveID: 1, MainProductID: 2}},
	}).MustCompile()
	s := &Scenario{
		Model:  m,
		Grid:   grid.New(10, 10, 1),
		Place:  []Placement{{Grain: "Source", Selection: Selection{Every: 20}}},
		Levels: []FieldLevel{{Field: 1, Value: 2, Selection: Selection{Rect: &Rect{X: 1, Y: 1, W: 2, H: 2}}}},
	}
	occ, levels, err := s.BuildInitial(rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	for i, id := range occ {
		if id == 1 {
			got = append(got, i)
		} else if id != None {
			t.Errorf("unexpected grain %v at %d", id, i)
		}
	}
	want := []int{0, 20, 40, 60, 80}
	if len(got) != len(want) {
		t.Fatalf("sources at %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sources at %v, want %v", got, want)
		}
	}

	var total float64
	for _, v := range levels[1] {
		total += v
	}
	if total != 8 || levels[1][11] != 2 || levels[1][22] != 2 {
		t.Errorf("field levels total=%v", total)
	}

	s.Place = append(s.Place, Placement{Grain: "nobody"})
	if _, _, err := s.BuildInitial(nil); !errors.Is(err, ErrUnknownGrain) {
		t.Errorf("expected ErrUnknownGrain, got %v", err)
	}
}

func TestScenarioDensityAndBounds(t *testing.T) {
	m := (&Model{Grains: []Grain{{ID: 1, Name: "A"}}}).MustCompile()
	s := &Scenario{Model: m, Grid: grid.New(50, 50, 1), Place: []Placement{{Grain: "A", Density: 0.3}}}
	occ, _, err := s.BuildInitial(rand.New(rand.NewPCG(7, 7)))
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, id := range occ {
		if id != None {
			n++
		}
	}
	if n < 600 || n > 900 {
		t.Errorf("density 0.3 on 2500 cells placed %d", n)
	}

	s.Place = []Placement{{Grain: "A", Selection: Selection{Indices: []int{2500}}}}
	if _, _, err := s.BuildInitial(nil); err == nil {
		t.Error("expected out-of-range index error")
	}
}

func TestLoadScenarioWithModelPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "model.yaml"), []byte(sampleModel), 0644); err != nil {
		t.Fatal(err)
	}
	scen := `
name: demo
model_path: model.yaml
grid: {width: 8, height: 8}
placements:
  - grain: Seed
    indices: [0, 9]
`
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(scen), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Model.Name != "crystal" || s.Grid.Width != 8 {
		t.Errorf("scenario = %+v", s)
	}
	occ, _, err := s.BuildInitial(nil)
	if err != nil {
		t.Fatal(err)
	}
	if occ[0] != 1 || occ[9] != 1 || len(occ) != 64 {
		t.Errorf("occupants = %v", occ)
	}

	out := filepath.Join(dir, "round.yaml")
	if err := s.Model.WriteYAML(out); err != nil {
		t.Fatal(err)
	}
	back, err := Load(out)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(back.Behaviours) != 2 || back.Behaviours[1].MainProductID != None {
		t.Errorf("reloaded behaviours = %+v", back.Behaviours)
	}
}
