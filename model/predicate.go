package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operator is a comparison used by a Predicate.
type Operator uint8

const (
	Equals Operator = iota
	NotEquals
	LessThan
	LessThanOrEquals
	GreaterThan
	GreaterThanOrEquals
)

var operatorSymbols = [...]string{
	Equals:              "==",
	NotEquals:           "!=",
	LessThan:            "<",
	LessThanOrEquals:    "<=",
	GreaterThan:         ">",
	GreaterThanOrEquals: ">=",
}

var operatorAliases = map[string]Operator{
	"==": Equals, "=": Equals, "eq": Equals, "equals": Equals,
	"!=": NotEquals, "<>": NotEquals, "ne": NotEquals, "not_equals": NotEquals,
	"<": LessThan, "lt": LessThan, "less_than": LessThan,
	"<=": LessThanOrEquals, "le": LessThanOrEquals, "less_than_or_equals": LessThanOrEquals,
	">": GreaterThan, "gt": GreaterThan, "greater_than": GreaterThan,
	">=": GreaterThanOrEquals, "ge": GreaterThanOrEquals, "greater_than_or_equals": GreaterThanOrEquals,
}

func (o Operator) String() string {
	if int(o) < len(operatorSymbols) {
		return operatorSymbols[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// ParseOperator accepts a symbol ("<=") or a name ("less_than_or_equals",
// "LessThanOrEquals", "le").
func ParseOperator(s string) (Operator, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if op, ok := operatorAliases[key]; ok {
		return op, nil
	}
	// CamelCase names
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	if op, ok := operatorAliases[strings.ToLower(b.String())]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("unknown operator %q", s)
}

func (o Operator) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Operator) UnmarshalText(text []byte) error {
	op, err := ParseOperator(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Predicate compares a scalar (age or field level) against a constant.
type Predicate struct {
	Op       Operator `yaml:"op" json:"op"`
	Constant float64  `yaml:"value" json:"value"`
}

// Eval reports whether v satisfies the predicate. A nil predicate always
// passes; NaN never satisfies anything.
func (p *Predicate) Eval(v float64) bool {
	if p == nil {
		return true
	}
	switch p.Op {
	case Equals:
		return v == p.Constant
	case NotEquals:
		return v != p.Constant
	case LessThan:
		return v < p.Constant
	case LessThanOrEquals:
		return v <= p.Constant
	case GreaterThan:
		return v > p.Constant
	case GreaterThanOrEquals:
		return v >= p.Constant
	}
	return false
}

func (p Predicate) String() string {
	return p.Op.String() + " " + strconv.FormatFloat(p.Constant, 'g', -1, 64)
}

// parsePredicate reads the short form "<op> <value>", e.g. ">= 3".
func parsePredicate(s string) (Predicate, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool {
		return r == '-' || r == '+' || r == '.' || (r >= '0' && r <= '9') || r == ' '
	})
	if i <= 0 {
		return Predicate{}, fmt.Errorf("predicate %q: expected \"<op> <value>\"", s)
	}
	op, err := ParseOperator(s[:i])
	if err != nil {
		return Predicate{}, fmt.Errorf("predicate %q: %w", s, err)
	}
	c, err := strconv.ParseFloat(strings.TrimSpace(s[i:]), 64)
	if err != nil {
		return Predicate{}, fmt.Errorf("predicate %q: %w", s, err)
	}
	return Predicate{Op: op, Constant: c}, nil
}

type predicateFields struct {
	Op       Operator `yaml:"op"`
	Constant float64  `yaml:"value"`
}

// UnmarshalYAML accepts {op, value} or the short form ">= 3".
func (p *Predicate) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := parsePredicate(value.Value)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}
	var raw predicateFields
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = Predicate(raw)
	return nil
}

// UnmarshalJSON accepts {"op","value"} or the short string form.
func (p *Predicate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := parsePredicate(s)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}
	var raw struct {
		Op       Operator `json:"op"`
		Constant float64  `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Predicate{Op: raw.Op, Constant: raw.Constant}
	return nil
}

// satisfiableFrom reports whether some value >= lo satisfies p.
func (p *Predicate) satisfiableFrom(lo float64) bool {
	if math.IsNaN(p.Constant) {
		return false
	}
	switch p.Op {
	case Equals:
		return p.Constant >= lo
	case LessThan:
		return p.Constant > lo
	case LessThanOrEquals:
		return p.Constant >= lo
	}
	return true
}
