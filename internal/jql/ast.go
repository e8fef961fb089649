// Package jql holds the parsed form of the issue query language: the clause
// tree, operators, operands and sort order, plus the parser and canonical
// printer that convert between the tree and its text form.
package jql

import "strings"

// Operator is the comparison used by a terminal clause.
type Operator int

const (
	OpEquals Operator = iota + 1
	OpNotEquals
	OpLessThan
	OpLessThanEquals
	OpGreaterThan
	OpGreaterThanEquals
	OpLike
	OpNotLike
	OpIn
	OpNotIn
	OpIs
	OpIsNot
	OpWas
	OpWasNot
)

var operatorText = map[Operator]string{
	OpEquals:            "=",
	OpNotEquals:         "!=",
	OpLessThan:          "<",
	OpLessThanEquals:    "<=",
	OpGreaterThan:       ">",
	OpGreaterThanEquals: ">=",
	OpLike:              "~",
	OpNotLike:           "!~",
	OpIn:                "in",
	OpNotIn:             "not in",
	OpIs:                "is",
	OpIsNot:             "is not",
	OpWas:               "was",
	OpWasNot:            "was not",
}

// String returns the operator as written in a query.
func (o Operator) String() string {
	if s, ok := operatorText[o]; ok {
		return s
	}
	return "?"
}

// IsList reports whether the operator takes a list operand.
func (o Operator) IsList() bool {
	return o == OpIn || o == OpNotIn
}

// IsEmptyOnly reports whether the operator only accepts EMPTY.
func (o Operator) IsEmptyOnly() bool {
	return o == OpIs || o == OpIsNot
}

// IsNegative reports whether the operator excludes the matched values.
func (o Operator) IsNegative() bool {
	switch o {
	case OpNotEquals, OpNotLike, OpNotIn, OpIsNot, OpWasNot:
		return true
	}
	return false
}

// IsRelational reports whether the operator is an ordering comparison.
func (o Operator) IsRelational() bool {
	switch o {
	case OpLessThan, OpLessThanEquals, OpGreaterThan, OpGreaterThanEquals:
		return true
	}
	return false
}

// Operand is the right-hand side of a terminal clause. The concrete types
// are SingleValue, ListOperand, EmptyOperand and FunctionOperand.
type Operand interface {
	operand()
	String() string
}

// SingleValue is a literal string or number.
type SingleValue struct {
	Value string
}

// ListOperand is a parenthesised list of operands, used with IN / NOT IN.
type ListOperand struct {
	Values []Operand
}

// EmptyOperand is EMPTY (or its alias NULL).
type EmptyOperand struct{}

// FunctionOperand is a function call such as currentUser().
type FunctionOperand struct {
	Name string
	Args []string
}

func (SingleValue) operand()     {}
func (ListOperand) operand()     {}
func (EmptyOperand) operand()    {}
func (FunctionOperand) operand() {}

func (v SingleValue) String() string { return quoteValue(v.Value) }

func (l ListOperand) String() string {
	parts := make([]string, len(l.Values))
	for i, v := range l.Values {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (EmptyOperand) String() string { return "EMPTY" }

func (f FunctionOperand) String() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = quoteValue(a)
	}
	return f.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Clause is a node of the query tree. The concrete types are
// *TerminalClause, *AndClause, *OrClause and *NotClause.
type Clause interface {
	clause()
	String() string
}

// TerminalClause compares one field against an operand.
type TerminalClause struct {
	Field    string
	Operator Operator
	Operand  Operand
}

// AndClause matches when every child matches.
type AndClause struct {
	Clauses []Clause
}

// OrClause matches when any child matches.
type OrClause struct {
	Clauses []Clause
}

// NotClause inverts its child.
type NotClause struct {
	Clause Clause
}

func (*TerminalClause) clause() {}
func (*AndClause) clause()      {}
func (*OrClause) clause()       {}
func (*NotClause) clause()      {}

func (t *TerminalClause) String() string {
	return quoteName(t.Field) + " " + t.Operator.String() + " " + t.Operand.String()
}

func (a *AndClause) String() string {
	parts := make([]string, len(a.Clauses))
	for i, c := range a.Clauses {
		if _, ok := c.(*OrClause); ok {
			parts[i] = "(" + c.String() + ")"
		} else {
			parts[i] = c.String()
		}
	}
	return strings.Join(parts, " AND ")
}

func (o *OrClause) String() string {
	parts := make([]string, len(o.Clauses))
	for i, c := range o.Clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " OR ")
}

func (n *NotClause) String() string {
	switch n.Clause.(type) {
	case *AndClause, *OrClause:
		return "NOT (" + n.Clause.String() + ")"
	}
	return "NOT " + n.Clause.String()
}

// Walk visits c and its descendants depth-first. Returning false from fn
// skips the children of the current node.
func Walk(c Clause, fn func(Clause) bool) {
	if c == nil || !fn(c) {
		return
	}
	switch n := c.(type) {
	case *AndClause:
		for _, child := range n.Clauses {
			Walk(child, fn)
		}
	case *OrClause:
		for _, child := range n.Clauses {
			Walk(child, fn)
		}
	case *NotClause:
		Walk(n.Clause, fn)
	}
}

// Terminals returns every terminal clause in c in query order.
func Terminals(c Clause) []*TerminalClause {
	var out []*TerminalClause
	Walk(c, func(n Clause) bool {
		if t, ok := n.(*TerminalClause); ok {
			out = append(out, t)
		}
		return true
	})
	return out
}

// SortDirection is the direction of one ORDER BY entry.
type SortDirection int

const (
	// SortDefault leaves the direction to the field.
	SortDefault SortDirection = iota
	SortAscending
	SortDescending
)

// SearchSort is one ORDER BY entry.
type SearchSort struct {
	Field     string
	Direction SortDirection
}

func (s SearchSort) String() string {
	switch s.Direction {
	case SortAscending:
		return quoteName(s.Field) + " ASC"
	case SortDescending:
		return quoteName(s.Field) + " DESC"
	}
	return quoteName(s.Field)
}

// Query is a parsed query: an optional where clause and an optional sort.
// A nil Where matches every issue.
type Query struct {
	Where   Clause
	OrderBy []SearchSort
}

// String returns the canonical text of the query. Parsing the result yields
// an equal query.
func (q *Query) String() string {
	if q == nil {
		return ""
	}
	var b strings.Builder
	if q.Where != nil {
		b.WriteString(q.Where.String())
	}
	if len(q.OrderBy) > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("ORDER BY ")
		for i, s := range q.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.String())
		}
	}
	return b.String()
}

// Equal compares two queries by their canonical text.
func (q *Query) Equal(other *Query) bool {
	return q.String() == other.String()
}

// reserved words need quoting when used as bare values or field names.
var reserved = map[string]bool{
	"and": true, "or": true, "not": true, "empty": true, "null": true,
	"order": true, "by": true, "in": true, "is": true, "was": true,
	"asc": true, "desc": true,
}

func isBareWord(s string) bool {
	if s == "" || reserved[strings.ToLower(s)] {
		return false
	}
	for _, r := range s {
		if !isWordRune(r) {
			return false
		}
	}
	return true
}

func quoteValue(s string) string {
	if isBareWord(s) {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func quoteName(s string) string {
	return quoteValue(s)
}
