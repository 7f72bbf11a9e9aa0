package main

import (
	"math"
	"slices"
	"testing"

	"github.com/pthm-cable/grainsim/model"
)

func tunableModel() *model.Model {
	return (&model.Model{
		Name: "tunable",
		Grains: []model.Grain{
			{ID: 1, Name: "Source"},
			{ID: 2, Name: "Target"},
		},
		Behaviours: []model.Behaviour{
			{ID: 1, Name: "convert", Probability: 0.5, MainReactiveID: 1, MainProductID: 2},
			{ID: 2, Name: "revert", Probability: 0.2, MainReactiveID: 2, MainProductID: 1},
		},
	}).MustCompile()
}

func TestParamVectorSelection(t *testing.T) {
	m := tunableModel()

	all, err := NewParamVector(m, nil, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if all.Dim() != 2 {
		t.Errorf("dim = %d, want 2", all.Dim())
	}

	one, err := NewParamVector(m, []string{"revert"}, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if one.Dim() != 1 || one.Specs[0].Behaviour != 1 || one.Specs[0].Default != 0.2 {
		t.Errorf("specs = %+v", one.Specs)
	}

	if _, err := NewParamVector(m, []string{"missing"}, 0, 1); err == nil {
		t.Error("expected error for unknown behaviour")
	}
	if _, err := NewParamVector(m, nil, 0.5, 0.2); err == nil {
		t.Error("expected error for inverted bounds")
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	pv, err := NewParamVector(tunableModel(), nil, 0.1, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	raw := pv.DefaultVector()
	back := pv.Denormalize(pv.Normalize(raw))
	for i := range raw {
		if math.Abs(back[i]-raw[i]) > 1e-12 {
			t.Errorf("param %d: %v -> %v", i, raw[i], back[i])
		}
	}
	if got := pv.Clamp([]float64{-1, 2}); !slices.Equal(got, []float64{0.1, 0.9}) {
		t.Errorf("Clamp = %v", got)
	}
}

func TestApplyToModelLeavesBaseUntouched(t *testing.T) {
	base := tunableModel()
	pv, err := NewParamVector(base, nil, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	tuned := pv.ApplyToModel(base, []float64{0.9, 1.5})
	if got := pv.ExtractFromModel(tuned); !slices.Equal(got, []float64{0.9, 1}) {
		t.Errorf("tuned probabilities = %v", got)
	}
	if got := pv.ExtractFromModel(base); !slices.Equal(got, []float64{0.5, 0.2}) {
		t.Errorf("base probabilities changed to %v", got)
	}
	if !tuned.Compiled() {
		t.Error("tuned model not compiled")
	}
}
