package model

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/ojrac/opensimplex-go"
	"github.com/pthm-cable/grainsim/grid"
	"gopkg.in/yaml.v3"
)

// Scenario bundles a model with a lattice and an initial layout.
type Scenario struct {
	Name      string       `yaml:"name"`
	ModelPath string       `yaml:"model_path,omitempty"` // relative to the scenario file
	Model     *Model       `yaml:"model,omitempty"`
	Grid      grid.Grid    `yaml:"grid"`
	Place     []Placement  `yaml:"placements"`
	Levels    []FieldLevel `yaml:"fields,omitempty"`
}

// Rect selects an axis-aligned block of cells. Zero extents mean 1.
type Rect struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	Z int `yaml:"z"`
	W int `yaml:"w"`
	H int `yaml:"h"`
	D int `yaml:"d"`
}

// NoiseMask keeps the cells where OpenSimplex noise, normalized to [0,1] and
// sampled at position*Scale, is at least Threshold.
type NoiseMask struct {
	Seed      int64   `yaml:"seed"`
	Scale     float64 `yaml:"scale"`
	Threshold float64 `yaml:"threshold"`
}

// Selection picks cells for a placement or field level. With nothing set it
// selects every cell. Every and Offset select index%Every == Offset. Noise
// further filters whatever the other settings selected.
type Selection struct {
	Indices []int      `yaml:"indices,omitempty"`
	Every   int        `yaml:"every,omitempty"`
	Offset  int        `yaml:"offset,omitempty"`
	Rect    *Rect      `yaml:"rect,omitempty"`
	Noise   *NoiseMask `yaml:"noise,omitempty"`
}

// Placement puts a grain on selected cells. Density below 1 places each
// selected cell independently with that probability.
type Placement struct {
	Grain     string  `yaml:"grain"`
	Density   float64 `yaml:"density,omitempty"`
	Selection `yaml:",inline"`
}

// FieldLevel sets an initial level on selected cells.
type FieldLevel struct {
	Field     FieldID `yaml:"field"`
	Value     float64 `yaml:"value"`
	Selection `yaml:",inline"`
}

// LoadScenario reads a scenario file and its model.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	s := &Scenario{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	switch {
	case s.Model != nil:
		if err := s.Model.Compile(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case s.ModelPath != "":
		mp := s.ModelPath
		if !filepath.IsAbs(mp) {
			mp = filepath.Join(filepath.Dir(path), mp)
		}
		m, err := Load(mp)
		if err != nil {
			return nil, err
		}
		s.Model = m
	default:
		return nil, fmt.Errorf("%s: scenario has neither model nor model_path", path)
	}
	return s, nil
}

// cells returns the selected indices in ascending order.
func (sel *Selection) cells(g grid.Grid) ([]int, error) {
	n := g.DataSize()
	var out []int
	switch {
	case len(sel.Indices) > 0:
		for _, i := range sel.Indices {
			if !g.IndexInside(i) {
				return nil, fmt.Errorf("index %d outside grid of %d cells", i, n)
			}
		}
		out = append(out, sel.Indices...)
	case sel.Rect != nil:
		r := *sel.Rect
		w, h, d := max(r.W, 1), max(r.H, 1), max(r.D, 1)
		for z := r.Z; z < r.Z+d; z++ {
			for y := r.Y; y < r.Y+h; y++ {
				for x := r.X; x < r.X+w; x++ {
					p := grid.Position{X: x, Y: y, Z: z}
					if !g.PositionInside(p) {
						return nil, fmt.Errorf("rect cell %v outside grid", p)
					}
					out = append(out, g.ToIndex(x, y, z))
				}
			}
		}
	case sel.Every > 0:
		for i := 0; i < n; i++ {
			if i%sel.Every == sel.Offset {
				out = append(out, i)
			}
		}
	default:
		out = make([]int, n)
		for i := range out {
			out[i] = i
		}
	}
	if sel.Noise != nil {
		out = sel.Noise.filter(g, out)
	}
	return out, nil
}

func (nm *NoiseMask) filter(g grid.Grid, cells []int) []int {
	noise := opensimplex.NewNormalized(nm.Seed)
	scale := nm.Scale
	if scale <= 0 {
		scale = 0.1
	}
	kept := cells[:0]
	for _, c := range cells {
		p := g.ToPosition(c)
		var v float64
		if g.Is3D() {
			v = noise.Eval3(float64(p.X)*scale, float64(p.Y)*scale, float64(p.Z)*scale)
		} else {
			v = noise.Eval2(float64(p.X)*scale, float64(p.Y)*scale)
		}
		if v >= nm.Threshold {
			kept = append(kept, c)
		}
	}
	return kept
}

// BuildInitial lays out the occupancy array and field levels. Later
// placements overwrite earlier ones. rng is only consumed by density
// placements, in selection order.
func (s *Scenario) BuildInitial(rng *rand.Rand) ([]GrainID, map[FieldID][]float64, error) {
	if s.Model == nil || !s.Model.Compiled() {
		return nil, nil, fmt.Errorf("scenario %q: model not compiled", s.Name)
	}
	g := s.Grid.Normalize()
	occupants := make([]GrainID, g.DataSize())
	for i, p := range s.Place {
		id, err := s.Model.GrainByName(p.Grain)
		if err != nil {
			return nil, nil, fmt.Errorf("placement %d: %w", i, err)
		}
		cells, err := p.cells(g)
		if err != nil {
			return nil, nil, fmt.Errorf("placement %d: %w", i, err)
		}
		for _, c := range cells {
			if p.Density > 0 && p.Density < 1 && rng.Float64() >= p.Density {
				continue
			}
			occupants[c] = id
		}
	}

	var levels map[FieldID][]float64
	for i, fl := range s.Levels {
		if s.Model.Field(fl.Field) == nil {
			return nil, nil, fmt.Errorf("field level %d: field %d: %w", i, fl.Field, ErrUnknownField)
		}
		cells, err := fl.cells(g)
		if err != nil {
			return nil, nil, fmt.Errorf("field level %d: %w", i, err)
		}
		if levels == nil {
			levels = make(map[FieldID][]float64)
		}
		arr := levels[fl.Field]
		if arr == nil {
			arr = make([]float64, g.DataSize())
			levels[fl.Field] = arr
		}
		for _, c := range cells {
			arr[c] = fl.Value
		}
	}
	return occupants, levels, nil
}
