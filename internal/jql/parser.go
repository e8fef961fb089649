package jql

import (
	"fmt"
	"strings"
)

// Parse parses query text into a Query. Empty text yields an empty query
// that matches every issue.
func Parse(input string) (*Query, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	return p.parseQuery()
}

// MustParse is Parse for queries known to be valid. It panics on error.
func MustParse(input string) *Query {
	q, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return q
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &ParseError{Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func isKeyword(t token, kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

func (p *parser) parseQuery() (*Query, error) {
	q := &Query{}
	if p.peek().kind != tokEOF && !isKeyword(p.peek(), "order") {
		where, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		q.Where = where
	}
	if isKeyword(p.peek(), "order") {
		p.next()
		if t := p.next(); !isKeyword(t, "by") {
			return nil, p.errorf(t, "expected BY after ORDER but found %s", t)
		}
		sorts, err := p.parseSorts()
		if err != nil {
			return nil, err
		}
		q.OrderBy = sorts
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s", t)
	}
	return q, nil
}

func (p *parser) parseOr() (Clause, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	clauses := []Clause{first}
	for p.peek().kind == tokOr {
		p.next()
		c, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	if len(clauses) == 1 {
		return first, nil
	}
	return &OrClause{Clauses: flattenOr(clauses)}, nil
}

func (p *parser) parseAnd() (Clause, error) {
	first, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	clauses := []Clause{first}
	for p.peek().kind == tokAnd {
		p.next()
		c, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	if len(clauses) == 1 {
		return first, nil
	}
	return &AndClause{Clauses: flattenAnd(clauses)}, nil
}

// flattenAnd and flattenOr merge directly nested clauses of the same kind,
// so a AND (b AND c) and a AND b AND c produce the same tree.
func flattenAnd(clauses []Clause) []Clause {
	out := make([]Clause, 0, len(clauses))
	for _, c := range clauses {
		if n, ok := c.(*AndClause); ok {
			out = append(out, n.Clauses...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func flattenOr(clauses []Clause) []Clause {
	out := make([]Clause, 0, len(clauses))
	for _, c := range clauses {
		if n, ok := c.(*OrClause); ok {
			out = append(out, n.Clauses...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func (p *parser) parseNot() (Clause, error) {
	t := p.peek()
	switch t.kind {
	case tokNot:
		p.next()
		c, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotClause{Clause: c}, nil
	case tokLParen:
		p.next()
		c, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ')' but found %s", closing)
		}
		return c, nil
	}
	return p.parseTerminal()
}

func (p *parser) parseTerminal() (Clause, error) {
	t := p.next()
	if t.kind != tokWord && t.kind != tokString {
		return nil, p.errorf(t, "expected a field name but found %s", t)
	}
	if t.kind == tokWord && reserved[strings.ToLower(t.text)] {
		return nil, p.errorf(t, "%s is a reserved word and must be quoted to be used as a field name", t)
	}
	op, err := p.parseOperator()
	if err != nil {
		return nil, err
	}
	operand, err := p.parseOperand(op)
	if err != nil {
		return nil, err
	}
	return &TerminalClause{Field: t.text, Operator: op, Operand: operand}, nil
}

func (p *parser) parseOperator() (Operator, error) {
	t := p.next()
	switch t.kind {
	case tokOperator:
		switch t.text {
		case "=":
			return OpEquals, nil
		case "!=":
			return OpNotEquals, nil
		case "<":
			return OpLessThan, nil
		case "<=":
			return OpLessThanEquals, nil
		case ">":
			return OpGreaterThan, nil
		case ">=":
			return OpGreaterThanEquals, nil
		case "~":
			return OpLike, nil
		case "!~":
			return OpNotLike, nil
		}
	case tokNot:
		in := p.next()
		if !isKeyword(in, "in") {
			return 0, p.errorf(in, "expected IN after NOT but found %s", in)
		}
		return OpNotIn, nil
	case tokWord:
		switch strings.ToLower(t.text) {
		case "in":
			return OpIn, nil
		case "is":
			if p.peek().kind == tokNot {
				p.next()
				return OpIsNot, nil
			}
			return OpIs, nil
		case "was":
			if p.peek().kind == tokNot {
				p.next()
				return OpWasNot, nil
			}
			return OpWas, nil
		}
	}
	return 0, p.errorf(t, "expected an operator but found %s", t)
}

func (p *parser) parseOperand(op Operator) (Operand, error) {
	start := p.peek()
	operand, err := p.parseValue(true)
	if err != nil {
		return nil, err
	}
	_, isList := operand.(ListOperand)
	_, isEmpty := operand.(EmptyOperand)
	_, isFunc := operand.(FunctionOperand)
	switch {
	case op.IsList() && !isList && !isFunc:
		return nil, p.errorf(start, "operator '%s' requires a list of values", op)
	case !op.IsList() && isList && op != OpWas && op != OpWasNot:
		return nil, p.errorf(start, "operator '%s' does not accept a list of values", op)
	case op.IsEmptyOnly() && !isEmpty:
		return nil, p.errorf(start, "operator '%s' only accepts EMPTY", op)
	}
	return operand, nil
}

func (p *parser) parseValue(allowList bool) (Operand, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		if !allowList {
			return nil, p.errorf(t, "lists cannot be nested")
		}
		var values []Operand
		for {
			v, err := p.parseValue(false)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			sep := p.next()
			if sep.kind == tokRParen {
				break
			}
			if sep.kind != tokComma {
				return nil, p.errorf(sep, "expected ',' or ')' but found %s", sep)
			}
		}
		return ListOperand{Values: values}, nil
	case tokString:
		return SingleValue{Value: t.text}, nil
	case tokWord:
		lower := strings.ToLower(t.text)
		if lower == "empty" || lower == "null" {
			return EmptyOperand{}, nil
		}
		if reserved[lower] {
			return nil, p.errorf(t, "%s is a reserved word and must be quoted to be used as a value", t)
		}
		if p.peek().kind == tokLParen {
			return p.parseFunction(t)
		}
		return SingleValue{Value: t.text}, nil
	}
	return nil, p.errorf(t, "expected a value but found %s", t)
}

func (p *parser) parseFunction(name token) (Operand, error) {
	p.next() // (
	f := FunctionOperand{Name: name.text}
	if p.peek().kind == tokRParen {
		p.next()
		return f, nil
	}
	for {
		arg := p.next()
		if arg.kind != tokWord && arg.kind != tokString {
			return nil, p.errorf(arg, "expected a function argument but found %s", arg)
		}
		f.Args = append(f.Args, arg.text)
		sep := p.next()
		if sep.kind == tokRParen {
			return f, nil
		}
		if sep.kind != tokComma {
			return nil, p.errorf(sep, "expected ',' or ')' but found %s", sep)
		}
	}
}

func (p *parser) parseSorts() ([]SearchSort, error) {
	var sorts []SearchSort
	for {
		t := p.next()
		if t.kind != tokWord && t.kind != tokString {
			return nil, p.errorf(t, "expected a field name but found %s", t)
		}
		s := SearchSort{Field: t.text}
		switch {
		case isKeyword(p.peek(), "asc"):
			p.next()
			s.Direction = SortAscending
		case isKeyword(p.peek(), "desc"):
			p.next()
			s.Direction = SortDescending
		}
		sorts = append(sorts, s)
		if p.peek().kind != tokComma {
			return sorts, nil
		}
		p.next()
	}
}
