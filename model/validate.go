package model

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pthm-cable/grainsim/expr"
)

// Severity classifies an authoring issue.
type Severity uint8

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Issue is one finding from Validate.
type Issue struct {
	Severity Severity `json:"severity"`
	Subject  string   `json:"subject"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Subject, i.Message)
}

// Issues is the result of Validate, in discovery order.
type Issues []Issue

// HasErrors reports whether any issue has error severity.
func (is Issues) HasErrors() bool {
	for _, i := range is {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Warnings returns the warning-level issues.
func (is Issues) Warnings() Issues {
	var out Issues
	for _, i := range is {
		if i.Severity == SeverityWarning {
			out = append(out, i)
		}
	}
	return out
}

// Err joins the error-level issues, or returns nil when there are none.
func (is Issues) Err() error {
	var errs []error
	for _, i := range is {
		if i.Severity == SeverityError {
			errs = append(errs, errors.New(i.Subject+": "+i.Message))
		}
	}
	return errors.Join(errs...)
}

var modelValidate = validator.New()

type validation struct {
	m      *Model
	issues Issues
	grains map[GrainID]bool
	fields fieldSet
}

// fieldSet resolves fieldN references for formulas without requiring a
// compiled model.
type fieldSet map[int]bool

func (s fieldSet) HasField(id int) bool { return s[id] }

// Validate checks a model at authoring time. Structural constraints come from
// struct tags; cross references, predicates and formulas are checked here.
// Warnings do not prevent the model from running.
func Validate(m *Model) Issues {
	v := &validation{m: m, grains: make(map[GrainID]bool), fields: make(fieldSet)}
	v.structural()
	v.catalog()
	for i := range m.Behaviours {
		v.behaviour(&m.Behaviours[i])
	}
	return v.issues
}

func (v *validation) add(sev Severity, subject, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: sev, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

func (v *validation) structural() {
	err := modelValidate.Struct(v.m)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.add(SeverityError, "model", "%v", err)
		return
	}
	for _, fe := range verrs {
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		v.add(SeverityError, strings.TrimPrefix(fe.Namespace(), "Model."), "%s (got %v)", msg, fe.Value())
	}
}

func (v *validation) catalog() {
	names := make(map[string]bool)
	for i := range v.m.Grains {
		g := &v.m.Grains[i]
		if v.grains[g.ID] {
			v.add(SeverityError, grainSubject(g), "duplicate grain id %d", g.ID)
		}
		v.grains[g.ID] = true
		key := strings.ToLower(g.Name)
		if key != "" && names[key] {
			v.add(SeverityWarning, grainSubject(g), "duplicate grain name %q", g.Name)
		}
		names[key] = true
	}
	for i := range v.m.Fields {
		f := &v.m.Fields[i]
		if v.fields[int(f.ID)] {
			v.add(SeverityError, fieldSubject(f), "duplicate field id %d", f.ID)
		}
		v.fields[int(f.ID)] = true
	}

	for i := range v.m.Grains {
		g := &v.m.Grains[i]
		subj := grainSubject(g)
		for _, id := range sortedKeys(g.FieldProductions) {
			amount := g.FieldProductions[id]
			if !v.fields[int(id)] {
				v.add(SeverityWarning, subj, "produces unknown field %d", id)
				continue
			}
			if p, ok := g.FieldPermeability[id]; ok && p == 0 && amount != 0 {
				v.add(SeverityWarning, subj, "permeability 0 cancels production of field %d", id)
			}
		}
		for _, id := range sortedKeys(g.FieldInfluences) {
			if !v.fields[int(id)] {
				v.add(SeverityWarning, subj, "influenced by unknown field %d", id)
			}
		}
		for _, id := range sortedKeys(g.FieldPermeability) {
			if !v.fields[int(id)] {
				v.add(SeverityWarning, subj, "permeability for unknown field %d", id)
			}
		}
	}

	for i := range v.m.Fields {
		f := &v.m.Fields[i]
		if !f.HasFormula() {
			continue
		}
		subj := fieldSubject(f)
		if err := expr.Validate(f.Formula, v.fields); err != nil {
			v.add(SeverityError, subj, "formula: %v", err)
		}
		if f.Speed != 0 || f.HalfLife != 0 {
			v.add(SeverityWarning, subj, "speed and half_life are ignored for formula fields")
		}
	}
}

func (v *validation) behaviour(b *Behaviour) {
	subj := "behaviour " + b.Label()
	if b.MainReactiveID != None && !v.grains[b.MainReactiveID] {
		v.add(SeverityError, subj, "main reactive %d: %v", b.MainReactiveID, ErrUnknownGrain)
	}
	if b.MainProductID != None && !v.grains[b.MainProductID] {
		v.add(SeverityError, subj, "main product %d: %v", b.MainProductID, ErrUnknownGrain)
	}
	if b.Probability == 0 {
		v.add(SeverityWarning, subj, "probability 0 never fires")
	}

	if p := b.AgePredicate; p != nil {
		switch {
		case math.IsNaN(p.Constant):
			v.add(SeverityError, subj, "age predicate constant is NaN")
		case !p.satisfiableFrom(0):
			v.add(SeverityWarning, subj, "age predicate %s can never be satisfied", p)
		case p.Op == Equals && p.Constant != math.Trunc(p.Constant):
			v.add(SeverityWarning, subj, "age predicate %s compares against a fractional age", p)
		}
	}
	for _, id := range sortedKeys(b.FieldPredicates) {
		p := b.FieldPredicates[id]
		if math.IsNaN(p.Constant) {
			v.add(SeverityError, subj, "field %d predicate constant is NaN", id)
		}
		if !v.fields[int(id)] {
			v.add(SeverityWarning, subj, "predicate on unknown field %d reads 0", id)
		}
	}

	for i, r := range b.Reactions {
		rs := fmt.Sprintf("%s reaction %d", subj, i)
		if r.ReactiveID != None && !v.grains[r.ReactiveID] {
			v.add(SeverityError, rs, "reactive %d: %v", r.ReactiveID, ErrUnknownGrain)
		}
		if r.ProductID != None && !v.grains[r.ProductID] {
			v.add(SeverityError, rs, "product %d: %v", r.ProductID, ErrUnknownGrain)
		}
	}
}

func sortedKeys[V any](m map[FieldID]V) []FieldID {
	return slices.Sorted(maps.Keys(m))
}

func grainSubject(g *Grain) string {
	if g.Name != "" {
		return "grain " + g.Name
	}
	return fmt.Sprintf("grain %d", g.ID)
}

func fieldSubject(f *Field) string {
	if f.Name != "" {
		return "field " + f.Name
	}
	return fmt.Sprintf("field %d", f.ID)
}
