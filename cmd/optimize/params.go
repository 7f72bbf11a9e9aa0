package main

import (
	"fmt"
	"slices"

	"github.com/pthm-cable/grainsim/model"
)

// ParamSpec defines a single optimizable parameter: one behaviour's
// probability.
type ParamSpec struct {
	Name      string // Behaviour label
	Behaviour int    // Index into Model.Behaviours
	Min       float64
	Max       float64
	Default   float64
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector selects the behaviours of m named in names, or every
// behaviour when names is empty. Probabilities are searched in [lo, hi].
func NewParamVector(m *model.Model, names []string, lo, hi float64) (*ParamVector, error) {
	if lo < 0 || hi > 1 || lo >= hi {
		return nil, fmt.Errorf("invalid probability bounds [%g, %g]", lo, hi)
	}
	pv := &ParamVector{}
	for i := range m.Behaviours {
		b := &m.Behaviours[i]
		if len(names) > 0 && !slices.Contains(names, b.Label()) {
			continue
		}
		pv.Specs = append(pv.Specs, ParamSpec{
			Name:      b.Label(),
			Behaviour: i,
			Min:       lo,
			Max:       hi,
			Default:   min(max(b.Probability, lo), hi),
		})
	}
	if len(pv.Specs) == 0 {
		return nil, fmt.Errorf("no behaviours of model %q selected", m.Name)
	}
	for _, n := range names {
		if !slices.ContainsFunc(pv.Specs, func(s ParamSpec) bool { return s.Name == n }) {
			return nil, fmt.Errorf("model %q has no behaviour %q", m.Name, n)
		}
	}
	return pv, nil
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToModel returns a compiled copy of base with the clamped values as
// behaviour probabilities.
func (pv *ParamVector) ApplyToModel(base *model.Model, values []float64) *model.Model {
	clamped := pv.Clamp(values)
	m := base.Clone()
	for i, spec := range pv.Specs {
		m.Behaviours[spec.Behaviour].Probability = clamped[i]
	}
	return m
}

// ExtractFromModel reads the current parameter values from m.
func (pv *ParamVector) ExtractFromModel(m *model.Model) []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = m.Behaviours[spec.Behaviour].Probability
	}
	return v
}
