package expr

import "fmt"

// ErrorKind classifies a formula failure.
type ErrorKind uint8

const (
	// SyntaxError is an unexpected character or token, including a missing
	// operand ("expression expected").
	SyntaxError ErrorKind = iota + 1
	// UnresolvedVariable is an identifier or function that names nothing.
	UnresolvedVariable
	// MalformedExpression is well-tokenised input with the wrong shape:
	// bad arity, trailing input, malformed numbers.
	MalformedExpression
)

func (k ErrorKind) String() string {
	switch k {
	case SyntaxError:
		return "syntax error"
	case UnresolvedVariable:
		return "unresolved variable"
	case MalformedExpression:
		return "malformed expression"
	}
	return fmt.Sprintf("error kind %d", uint8(k))
}

// Error is returned by Validate and Compile.
type Error struct {
	Kind ErrorKind
	Name string // unresolved identifier, if any
	Pos  int    // byte offset in the source
	Msg  string
}

func (e *Error) Error() string {
	switch {
	case e.Kind == UnresolvedVariable && e.Name != "":
		return fmt.Sprintf("%s %q at %d", e.Kind, e.Name, e.Pos)
	case e.Msg != "":
		return fmt.Sprintf("%s at %d: %s", e.Kind, e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s at %d", e.Kind, e.Pos)
}

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, &expr.Error{Kind: expr.SyntaxError}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func errorf(kind ErrorKind, pos int, format string, args ...any) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
