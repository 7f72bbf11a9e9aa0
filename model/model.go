// Package model describes the grain, field and behaviour catalog a simulation
// runs against. A Model is authored externally, compiled once and then treated
// as read-only by the engine.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pthm-cable/grainsim/grid"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownGrain = errors.New("unknown grain")
	ErrUnknownField = errors.New("unknown field")
	ErrDuplicateID  = errors.New("duplicate id")
)

// GrainID identifies a grain type. The zero value is the empty cell.
type GrainID int32

// None marks an empty cell, a removal product, or a reaction that requires an
// empty neighbour.
const None GrainID = 0

func (id GrainID) String() string {
	if id == None {
		return "none"
	}
	return strconv.Itoa(int(id))
}

// MarshalYAML writes None as the string "none".
func (id GrainID) MarshalYAML() (interface{}, error) {
	if id == None {
		return "none", nil
	}
	return int(id), nil
}

// UnmarshalYAML accepts an integer id or "none".
func (id *GrainID) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if value.Kind == yaml.ScalarNode && (strings.EqualFold(s, "none") || s == "" || s == "~") {
		*id = None
		return nil
	}
	var n int32
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("grain id %q: %w", s, err)
	}
	*id = GrainID(n)
	return nil
}

// FieldID identifies a scalar field type.
type FieldID int

// Grain is one occupant type.
type Grain struct {
	ID                  GrainID             `yaml:"id" json:"id" validate:"gt=0"`
	Name                string              `yaml:"name" json:"name" validate:"required"`
	Color               string              `yaml:"color,omitempty" json:"color,omitempty" validate:"omitempty,hexcolor"`
	HalfLife            float64             `yaml:"half_life" json:"half_life" validate:"gte=0"` // steps; 0 = immortal
	MovementProbability float64             `yaml:"movement_probability" json:"movement_probability" validate:"gte=0,lte=1"`
	AllowedDirections   grid.Directions     `yaml:"directions,omitempty" json:"directions,omitempty"`
	FieldProductions    map[FieldID]float64 `yaml:"productions,omitempty" json:"productions,omitempty"`
	FieldInfluences     map[FieldID]float64 `yaml:"influences,omitempty" json:"influences,omitempty"`
	FieldPermeability   map[FieldID]float64 `yaml:"permeability,omitempty" json:"permeability,omitempty" validate:"dive,gte=0,lte=1"`
}

// Permeability returns the production gate for fieldID, 1 when undeclared.
func (g *Grain) Permeability(fieldID FieldID) float64 {
	if p, ok := g.FieldPermeability[fieldID]; ok {
		return p
	}
	return 1
}

// Field is a scalar quantity stored per cell. A field with a Formula is
// recomputed every step instead of decaying and diffusing.
type Field struct {
	ID                FieldID         `yaml:"id" json:"id" validate:"gte=0"`
	Name              string          `yaml:"name" json:"name" validate:"required"`
	Color             string          `yaml:"color,omitempty" json:"color,omitempty" validate:"omitempty,hexcolor"`
	HalfLife          float64         `yaml:"half_life" json:"half_life" validate:"gte=0"`
	Speed             float64         `yaml:"speed" json:"speed" validate:"gte=0,lte=1"`
	AllowedDirections grid.Directions `yaml:"directions,omitempty" json:"directions,omitempty"`
	Formula           string          `yaml:"formula,omitempty" json:"formula,omitempty"`
}

// HasFormula reports whether the field is computed rather than diffused.
func (f *Field) HasFormula() bool { return strings.TrimSpace(f.Formula) != "" }

// Reaction is one secondary participant of a Behaviour.
type Reaction struct {
	ReactiveID        GrainID         `yaml:"reactive" json:"reactive" validate:"gte=0"`
	ProductID         GrainID         `yaml:"product" json:"product" validate:"gte=0"`
	AllowedDirections grid.Directions `yaml:"directions,omitempty" json:"directions,omitempty"`
}

// Behaviour is a reaction rule anchored on a main cell.
type Behaviour struct {
	ID              int                   `yaml:"id" json:"id"`
	Name            string                `yaml:"name" json:"name"`
	Probability     float64               `yaml:"probability" json:"probability" validate:"gte=0,lte=1"`
	AgePredicate    *Predicate            `yaml:"age,omitempty" json:"age,omitempty"`
	FieldPredicates map[FieldID]Predicate `yaml:"fields,omitempty" json:"fields,omitempty"`
	MainReactiveID  GrainID               `yaml:"reactive" json:"reactive" validate:"gt=0"`
	MainProductID   GrainID               `yaml:"product" json:"product" validate:"gte=0"`
	Reactions       []Reaction            `yaml:"reactions,omitempty" json:"reactions,omitempty" validate:"dive"`
}

// Label returns the name, or a positional fallback.
func (b *Behaviour) Label() string {
	if b.Name != "" {
		return b.Name
	}
	return fmt.Sprintf("behaviour#%d", b.ID)
}

// Model is the full catalog. Call Compile after construction or mutation;
// the engine never modifies a compiled model.
type Model struct {
	Name       string      `yaml:"name" json:"name"`
	Grains     []Grain     `yaml:"grains" json:"grains" validate:"dive"`
	Fields     []Field     `yaml:"fields,omitempty" json:"fields,omitempty" validate:"dive"`
	Behaviours []Behaviour `yaml:"behaviours,omitempty" json:"behaviours,omitempty" validate:"dive"`

	grainIndex  map[GrainID]int
	grainByName map[string]GrainID
	fieldIndex  map[FieldID]int
	byReactive  map[GrainID][]int
	compiled    bool
}

// Compile builds the lookup indexes. It fails on duplicate grain or field ids;
// dangling references are left to Validate and resolve to defaults at runtime.
func (m *Model) Compile() error {
	m.grainIndex = make(map[GrainID]int, len(m.Grains))
	m.grainByName = make(map[string]GrainID, len(m.Grains))
	for i := range m.Grains {
		g := &m.Grains[i]
		if _, dup := m.grainIndex[g.ID]; dup {
			return fmt.Errorf("grain %d: %w", g.ID, ErrDuplicateID)
		}
		m.grainIndex[g.ID] = i
		if g.Name != "" {
			m.grainByName[strings.ToLower(g.Name)] = g.ID
		}
	}

	m.fieldIndex = make(map[FieldID]int, len(m.Fields))
	for i := range m.Fields {
		f := &m.Fields[i]
		if _, dup := m.fieldIndex[f.ID]; dup {
			return fmt.Errorf("field %d: %w", f.ID, ErrDuplicateID)
		}
		m.fieldIndex[f.ID] = i
	}

	m.byReactive = make(map[GrainID][]int)
	for i := range m.Behaviours {
		id := m.Behaviours[i].MainReactiveID
		if id == None {
			continue
		}
		m.byReactive[id] = append(m.byReactive[id], i)
	}
	m.compiled = true
	return nil
}

// MustCompile is like Compile but panics on error.
func (m *Model) MustCompile() *Model {
	if err := m.Compile(); err != nil {
		panic(fmt.Sprintf("model: %v", err))
	}
	return m
}

// Compiled reports whether Compile has run.
func (m *Model) Compiled() bool { return m.compiled }

// Grain returns the grain type with id, or nil.
func (m *Model) Grain(id GrainID) *Grain {
	i, ok := m.grainIndex[id]
	if !ok {
		return nil
	}
	return &m.Grains[i]
}

// GrainByName resolves a grain by case-insensitive name or numeric id.
func (m *Model) GrainByName(ref string) (GrainID, error) {
	ref = strings.TrimSpace(ref)
	if strings.EqualFold(ref, "none") {
		return None, nil
	}
	if id, ok := m.grainByName[strings.ToLower(ref)]; ok {
		return id, nil
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if _, ok := m.grainIndex[GrainID(n)]; ok {
			return GrainID(n), nil
		}
	}
	return None, fmt.Errorf("%q: %w", ref, ErrUnknownGrain)
}

// GrainName returns the display name for id.
func (m *Model) GrainName(id GrainID) string {
	if g := m.Grain(id); g != nil && g.Name != "" {
		return g.Name
	}
	return id.String()
}

// Field returns the field type with id, or nil.
func (m *Model) Field(id FieldID) *Field {
	i, ok := m.fieldIndex[id]
	if !ok {
		return nil
	}
	return &m.Fields[i]
}

// FieldSlot returns the position of field id in Fields. Level arrays owned by
// the engine are stored in the same order.
func (m *Model) FieldSlot(id FieldID) (int, bool) {
	i, ok := m.fieldIndex[id]
	return i, ok
}

// HasField reports whether a field with the numeric id exists.
func (m *Model) HasField(id int) bool {
	_, ok := m.fieldIndex[FieldID(id)]
	return ok
}

// BehavioursFor returns the indexes into Behaviours whose main reactive is id,
// in model order.
func (m *Model) BehavioursFor(id GrainID) []int {
	return m.byReactive[id]
}
