package expr

import (
	"strconv"
	"strings"
)

// Precedence, loosest first:
//
//	c ? a : b
//	or ||
//	and &&
//	not
//	== != < <= > >=
//	+ -
//	* / %
//	unary - + !
//	^ (right associative, binds tighter than unary minus)
type parser struct {
	toks   []token
	pos    int
	syms   Symbols
	fields []int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(texts ...string) (token, bool) {
	t := p.peek()
	if t.kind == tokOp {
		for _, s := range texts {
			if t.text == s {
				return t, true
			}
		}
	}
	return t, false
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == word
}

func (p *parser) parse() (node, *Error) {
	n, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, errorf(MalformedExpression, t.pos, "unexpected %q after expression", t.text)
	}
	return n, nil
}

func (p *parser) ternary() (node, *Error) {
	cond, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokQuestion {
		return cond, nil
	}
	p.next()
	a, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokColon {
		return nil, p.expected(t, "\":\"")
	}
	p.next()
	b, err := p.ternary()
	if err != nil {
		return nil, err
	}
	return ternary{cond, a, b}, nil
}

func (p *parser) or() (node, *Error) {
	l, err := p.and()
	if err != nil {
		return nil, err
	}
	for {
		_, sym := p.isOp("||")
		if !sym && !p.isKeyword("or") {
			return l, nil
		}
		p.next()
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		l = binary{"||", l, r}
	}
}

func (p *parser) and() (node, *Error) {
	l, err := p.not()
	if err != nil {
		return nil, err
	}
	for {
		_, sym := p.isOp("&&")
		if !sym && !p.isKeyword("and") {
			return l, nil
		}
		p.next()
		r, err := p.not()
		if err != nil {
			return nil, err
		}
		l = binary{"&&", l, r}
	}
}

func (p *parser) not() (node, *Error) {
	if p.isKeyword("not") {
		p.next()
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return not{x}, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (node, *Error) {
	l, err := p.additive()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.isOp("==", "!=", "<", "<=", ">", ">=")
		if !ok {
			return l, nil
		}
		p.next()
		r, err := p.additive()
		if err != nil {
			return nil, err
		}
		l = binary{t.text, l, r}
	}
}

func (p *parser) additive() (node, *Error) {
	l, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.isOp("+", "-")
		if !ok {
			return l, nil
		}
		p.next()
		r, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		l = binary{t.text, l, r}
	}
}

func (p *parser) multiplicative() (node, *Error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.isOp("*", "/", "%")
		if !ok {
			return l, nil
		}
		p.next()
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binary{t.text, l, r}
	}
}

func (p *parser) unary() (node, *Error) {
	if t, ok := p.isOp("-", "+", "!"); ok {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		switch t.text {
		case "-":
			return negate{x}, nil
		case "!":
			return not{x}, nil
		}
		return x, nil
	}
	return p.power()
}

func (p *parser) power() (node, *Error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if _, ok := p.isOp("^"); !ok {
		return base, nil
	}
	p.next()
	exp, err := p.unary()
	if err != nil {
		return nil, err
	}
	return binary{"^", base, exp}, nil
}

func (p *parser) primary() (node, *Error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return number(t.num), nil
	case tokLParen:
		if p.peek().kind == tokRParen {
			return nil, errorf(MalformedExpression, t.pos, "empty parentheses")
		}
		n, err := p.ternary()
		if err != nil {
			return nil, err
		}
		if c := p.peek(); c.kind != tokRParen {
			return nil, p.expected(c, "\")\"")
		}
		p.next()
		return n, nil
	case tokIdent:
		return p.identifier(t)
	}
	return nil, p.expected(t, "expression")
}

func (p *parser) identifier(t token) (node, *Error) {
	name := t.text
	isCall := p.peek().kind == tokLParen
	var args []node
	if isCall {
		var err *Error
		if args, err = p.arguments(); err != nil {
			return nil, err
		}
	}

	if name == "agent" {
		if err := offsetArity(t, args, isCall); err != nil {
			return nil, err
		}
		return agentRef{offsets(args)}, nil
	}
	if id, ok := fieldName(name); ok {
		if p.syms != nil && !p.syms.HasField(id) {
			return nil, &Error{Kind: UnresolvedVariable, Name: name, Pos: t.pos}
		}
		if err := offsetArity(t, args, isCall); err != nil {
			return nil, err
		}
		p.fields = append(p.fields, id)
		return fieldRef{id: id, at: offsets(args)}, nil
	}
	if fn, ok := builtins[name]; ok {
		if !isCall {
			return nil, errorf(MalformedExpression, t.pos, "%s is a function", name)
		}
		if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
			return nil, errorf(MalformedExpression, t.pos, "%s: wrong number of arguments (%d)", name, len(args))
		}
		return call{fn: fn.fn, args: args}, nil
	}

	var n node
	if v, ok := constants[name]; ok {
		n = number(v)
	} else if k, ok := variables[name]; ok {
		n = variable(k)
	} else {
		return nil, &Error{Kind: UnresolvedVariable, Name: name, Pos: t.pos}
	}
	if isCall {
		return nil, errorf(MalformedExpression, t.pos, "%s is not a function", name)
	}
	return n, nil
}

// arguments parses "(a, b, ...)" with the opening paren as the next token.
func (p *parser) arguments() ([]node, *Error) {
	p.next()
	var args []node
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		a, err := p.ternary()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		switch t := p.next(); t.kind {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		default:
			return nil, p.expected(t, "\",\" or \")\"")
		}
	}
}

func (p *parser) expected(t token, what string) *Error {
	if t.kind == tokEOF {
		return errorf(SyntaxError, t.pos, "%s expected", what)
	}
	return errorf(SyntaxError, t.pos, "%s expected, found %q", what, t.text)
}

// offsetArity accepts a bare reference or two or three offsets.
func offsetArity(t token, args []node, isCall bool) *Error {
	if !isCall || len(args) == 2 || len(args) == 3 {
		return nil
	}
	return errorf(MalformedExpression, t.pos, "%s takes (dx, dy) or (dx, dy, dz), got %d arguments", t.text, len(args))
}

// fieldName recognises fieldN.
func fieldName(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "field")
	if !ok || rest == "" {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
