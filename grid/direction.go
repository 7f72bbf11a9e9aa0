package grid

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"

	"gopkg.in/yaml.v3"
)

// Direction is one step in the lattice neighbourhood.
type Direction uint8

const (
	Left Direction = iota
	Right
	Up
	Down
	UpLeft
	UpRight
	DownLeft
	DownRight
	Front // z-1
	Back  // z+1

	numDirections
)

var directionNames = [numDirections]string{
	Left:      "left",
	Right:     "right",
	Up:        "up",
	Down:      "down",
	UpLeft:    "up_left",
	UpRight:   "up_right",
	DownLeft:  "down_left",
	DownRight: "down_right",
	Front:     "front",
	Back:      "back",
}

var directionDeltas = [numDirections][3]int{
	Left:      {-1, 0, 0},
	Right:     {1, 0, 0},
	Up:        {0, -1, 0},
	Down:      {0, 1, 0},
	UpLeft:    {-1, -1, 0},
	UpRight:   {1, -1, 0},
	DownLeft:  {-1, 1, 0},
	DownRight: {1, 1, 0},
	Front:     {0, 0, -1},
	Back:      {0, 0, 1},
}

// Delta returns the coordinate offset of one step in d.
func (d Direction) Delta() (dx, dy, dz int) {
	if d >= numDirections {
		return 0, 0, 0
	}
	v := directionDeltas[d]
	return v[0], v[1], v[2]
}

func (d Direction) String() string {
	if d >= numDirections {
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
	return directionNames[d]
}

// ParseDirection maps a direction name (case-insensitive, "-" or "_"
// separated) to a Direction.
func ParseDirection(s string) (Direction, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for d, name := range directionNames {
		if name == norm {
			return Direction(d), nil
		}
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Directions is a set of Direction values.
type Directions uint16

// Named neighbourhoods.
const (
	VonNeumann    Directions = 1<<Left | 1<<Right | 1<<Up | 1<<Down
	Moore         Directions = VonNeumann | 1<<UpLeft | 1<<UpRight | 1<<DownLeft | 1<<DownRight
	VonNeumann3D  Directions = VonNeumann | 1<<Front | 1<<Back
	AllDirections Directions = Moore | 1<<Front | 1<<Back
)

var neighbourhoodNames = map[string]Directions{
	"von_neumann":    VonNeumann,
	"moore":          Moore,
	"von_neumann_3d": VonNeumann3D,
	"all":            AllDirections,
}

// DirectionsOf builds a set from individual directions.
func DirectionsOf(ds ...Direction) Directions {
	var s Directions
	for _, d := range ds {
		if d < numDirections {
			s |= 1 << d
		}
	}
	return s
}

// Has reports whether d is in the set.
func (s Directions) Has(d Direction) bool { return d < numDirections && s&(1<<d) != 0 }

// Len returns the number of directions in the set.
func (s Directions) Len() int { return bits.OnesCount16(uint16(s & AllDirections)) }

// List returns the members in direction order.
func (s Directions) List() []Direction {
	out := make([]Direction, 0, s.Len())
	for d := Direction(0); d < numDirections; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (s Directions) names() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, d := range list {
		out[i] = d.String()
	}
	return out
}

func (s Directions) String() string {
	return "[" + strings.Join(s.names(), " ") + "]"
}

// ParseDirections accepts direction names and neighbourhood names.
func ParseDirections(names []string) (Directions, error) {
	var s Directions
	for _, name := range names {
		norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
		if set, ok := neighbourhoodNames[norm]; ok {
			s |= set
			continue
		}
		d, err := ParseDirection(name)
		if err != nil {
			return 0, err
		}
		s |= 1 << d
	}
	return s, nil
}

// MarshalYAML encodes the set as a list of names.
func (s Directions) MarshalYAML() (interface{}, error) {
	return s.names(), nil
}

// UnmarshalYAML accepts a list of names or a single neighbourhood name.
func (s *Directions) UnmarshalYAML(value *yaml.Node) error {
	var names []string
	switch value.Kind {
	case yaml.ScalarNode:
		names = []string{value.Value}
	default:
		if err := value.Decode(&names); err != nil {
			return fmt.Errorf("decoding directions: %w", err)
		}
	}
	parsed, err := ParseDirections(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalJSON encodes the set as a list of names.
func (s Directions) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.names())
}

// UnmarshalJSON accepts a list of names or a single neighbourhood name.
func (s *Directions) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		var single string
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return fmt.Errorf("decoding directions: %w", err)
		}
		names = []string{single}
	}
	parsed, err := ParseDirections(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
