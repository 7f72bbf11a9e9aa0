package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and compiles a model from a YAML file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and compiles a model from YAML.
func Parse(data []byte) (*Model, error) {
	m := &Model{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing model: %w", err)
	}
	if err := m.Compile(); err != nil {
		return nil, err
	}
	return m, nil
}

// WriteYAML writes the model to a YAML file.
func (m *Model) WriteYAML(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling model: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing model file: %w", err)
	}
	return nil
}

// Clone returns a compiled deep copy, safe to modify independently.
func (m *Model) Clone() *Model {
	c := &Model{Name: m.Name}
	c.Grains = make([]Grain, len(m.Grains))
	for i, g := range m.Grains {
		g.FieldProductions = cloneMap(g.FieldProductions)
		g.FieldInfluences = cloneMap(g.FieldInfluences)
		g.FieldPermeability = cloneMap(g.FieldPermeability)
		c.Grains[i] = g
	}
	c.Fields = append([]Field(nil), m.Fields...)
	c.Behaviours = make([]Behaviour, len(m.Behaviours))
	for i, b := range m.Behaviours {
		if b.AgePredicate != nil {
			p := *b.AgePredicate
			b.AgePredicate = &p
		}
		b.FieldPredicates = cloneMap(b.FieldPredicates)
		b.Reactions = append([]Reaction(nil), b.Reactions...)
		c.Behaviours[i] = b
	}
	// Ids were unique in m, so this cannot fail.
	_ = c.Compile()
	return c
}

func cloneMap[V any](src map[FieldID]V) map[FieldID]V {
	if src == nil {
		return nil
	}
	dst := make(map[FieldID]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
