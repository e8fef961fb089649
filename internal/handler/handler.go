// Package handler binds query-language clause names to the code that
// validates them, compiles them into index queries and writes the index
// fields they search.
//
// A SearchHandler is the registration of one queryable field: the field
// indexers that project the field into the issue index, an optional
// searcher (the field's widget on the basic search form) with the clause
// handlers it drives, and any clause handlers that are only reachable from
// the query language.
package handler

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/zeebo/blake3"

	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/jql"
	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// ErrDuplicateClauseHandler is returned when a clause handler is registered
// both with the searcher and as a bare clause handler of the same field.
var ErrDuplicateClauseHandler = errors.New("handler: clause handler registered with the searcher and as a bare clause")

// ClauseHandler validates and compiles the terminal clauses of one field.
// Implementations must be pointer types and safe for concurrent use.
type ClauseHandler interface {
	Names() jql.ClauseNames
	Operators() []jql.Operator
	Compile(ctx context.Context, qc *QueryContext, clause *jql.TerminalClause) (query.Query, error)
}

// Validator is implemented by clause handlers that check operand values.
type Validator interface {
	Validate(ctx context.Context, qc *QueryContext, clause *jql.TerminalClause) []string
}

// Sortable is implemented by clause handlers whose field can be used in
// ORDER BY. The returned fields are index fields in precedence order.
type Sortable interface {
	SortFields() []string
	DefaultDirection() jql.SortDirection
}

// Searcher is the basic-search-form widget of a field.
type Searcher interface {
	ID() string
}

type searcher struct{ id string }

func (s *searcher) ID() string { return s.id }

// NewSearcher returns a searcher identified by id.
func NewSearcher(id string) Searcher { return &searcher{id: id} }

// ClauseRegistration wraps a clause handler in a SearchHandler.
type ClauseRegistration struct {
	Handler ClauseHandler
}

// Equal compares the registered handlers by type, names and operators.
func (c ClauseRegistration) Equal(other ClauseRegistration) bool {
	if c.Handler == other.Handler {
		return true
	}
	if c.Handler == nil || other.Handler == nil {
		return false
	}
	return c.key() == other.key()
}

func (c ClauseRegistration) key() string {
	if c.Handler == nil {
		return "<nil>"
	}
	ops := make([]string, 0, len(c.Handler.Operators()))
	for _, op := range c.Handler.Operators() {
		ops = append(ops, op.String())
	}
	sort.Strings(ops)
	return fmt.Sprintf("%T|%s|%s", c.Handler, c.Handler.Names(), strings.Join(ops, ","))
}

// SearcherRegistration binds a searcher to the clause handlers it drives.
type SearcherRegistration struct {
	Searcher Searcher
	Clauses  []ClauseRegistration
}

// SearchHandler is the registration of one queryable field. It is
// immutable once built.
type SearchHandler struct {
	indexers []index.FieldIndexer
	searcher *SearcherRegistration
	clauses  []ClauseRegistration
}

// NewSearchHandler builds a SearchHandler. It returns
// ErrDuplicateClauseHandler if a bare clause handler equal to one
// registered with the searcher is given, which would make the field
// contribute the same query terms twice. Every registration needs a
// handler.
func NewSearchHandler(indexers []index.FieldIndexer, searcher *SearcherRegistration, clauses ...ClauseRegistration) (*SearchHandler, error) {
	for i, c := range clauses {
		if c.Handler == nil {
			return nil, fmt.Errorf("handler: clause registration %d has no handler", i)
		}
	}
	if searcher != nil {
		if searcher.Searcher == nil || len(searcher.Clauses) == 0 {
			return nil, errors.New("handler: searcher registration needs a searcher and at least one clause handler")
		}
		for i, reg := range searcher.Clauses {
			if reg.Handler == nil {
				return nil, fmt.Errorf("handler: searcher %s clause registration %d has no handler", searcher.Searcher.ID(), i)
			}
		}
		for _, bare := range clauses {
			for _, reg := range searcher.Clauses {
				if bare.Equal(reg) {
					return nil, fmt.Errorf("%w: %s", ErrDuplicateClauseHandler, bare.Handler.Names())
				}
			}
		}
		searcher = &SearcherRegistration{
			Searcher: searcher.Searcher,
			Clauses:  append([]ClauseRegistration(nil), searcher.Clauses...),
		}
	}
	return &SearchHandler{
		indexers: append([]index.FieldIndexer(nil), indexers...),
		searcher: searcher,
		clauses:  append([]ClauseRegistration(nil), clauses...),
	}, nil
}

// MustSearchHandler is NewSearchHandler for static registrations.
func MustSearchHandler(indexers []index.FieldIndexer, searcher *SearcherRegistration, clauses ...ClauseRegistration) *SearchHandler {
	h, err := NewSearchHandler(indexers, searcher, clauses...)
	if err != nil {
		panic(err)
	}
	return h
}

func (h *SearchHandler) Indexers() []index.FieldIndexer { return h.indexers }

// Searcher returns the searcher registration, or nil for query-only fields.
func (h *SearchHandler) Searcher() *SearcherRegistration { return h.searcher }

// Clauses returns the bare clause registrations.
func (h *SearchHandler) Clauses() []ClauseRegistration { return h.clauses }

// AllClauses returns the searcher's clause registrations followed by the
// bare ones.
func (h *SearchHandler) AllClauses() []ClauseRegistration {
	var out []ClauseRegistration
	if h.searcher != nil {
		out = append(out, h.searcher.Clauses...)
	}
	return append(out, h.clauses...)
}

// Equal compares two handlers by their contents.
func (h *SearchHandler) Equal(other *SearchHandler) bool {
	if h == nil || other == nil {
		return h == other
	}
	if len(h.indexers) != len(other.indexers) || !clausesEqual(h.clauses, other.clauses) {
		return false
	}
	for i := range h.indexers {
		if h.indexers[i].ID() != other.indexers[i].ID() {
			return false
		}
	}
	if (h.searcher == nil) != (other.searcher == nil) {
		return false
	}
	if h.searcher == nil {
		return true
	}
	return h.searcher.Searcher.ID() == other.searcher.Searcher.ID() &&
		clausesEqual(h.searcher.Clauses, other.searcher.Clauses)
}

func clausesEqual(a, b []ClauseRegistration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Hash is consistent with Equal.
func (h *SearchHandler) Hash() uint64 {
	hasher := blake3.New()
	write := func(s string) {
		hasher.Write([]byte(s))
		hasher.Write([]byte{0})
	}
	write("indexers")
	for _, fi := range h.indexers {
		write(fi.ID())
	}
	write("searcher")
	if h.searcher != nil {
		write(h.searcher.Searcher.ID())
		for _, c := range h.searcher.Clauses {
			write(c.key())
		}
	}
	write("clauses")
	for _, c := range h.clauses {
		write(c.key())
	}
	return binary.BigEndian.Uint64(hasher.Sum(nil)[:8])
}

// IndexSource gives clause handlers read access to the comment and change
// indexes.
type IndexSource interface {
	Searcher(name index.Name) (index.Searcher, error)
}

// QueryContext carries the state of one query compilation. It is not safe
// for concurrent use.
type QueryContext struct {
	User *model.User
	// OverrideSecurity is set for administrative searches that bypass the
	// permission filter.
	OverrideSecurity bool
	Now              time.Time
	Indexes          IndexSource
	Functions        *FunctionSet

	terms int
}

// NewQueryContext returns a context for compiling a query on behalf of
// user at time now.
func NewQueryContext(user *model.User, now time.Time, functions *FunctionSet, indexes IndexSource) *QueryContext {
	if functions == nil {
		functions = DefaultFunctions()
	}
	return &QueryContext{User: user, Now: now, Functions: functions, Indexes: indexes}
}

// AddTerms records index terms produced by a clause.
func (qc *QueryContext) AddTerms(n int) { qc.terms += n }

// Terms returns the number of index terms produced so far.
func (qc *QueryContext) Terms() int { return qc.terms }

// Value is one resolved operand value.
type Value struct {
	Text  string
	Empty bool
	// Function names the function the value came from, if any.
	Function string
}

// Values flattens an operand into its values, evaluating functions.
func (qc *QueryContext) Values(op jql.Operand) ([]Value, error) {
	switch o := op.(type) {
	case jql.SingleValue:
		return []Value{{Text: o.Value}}, nil
	case jql.EmptyOperand:
		return []Value{{Empty: true}}, nil
	case jql.FunctionOperand:
		fn, ok := qc.Functions.Lookup(o.Name)
		if !ok {
			return nil, fmt.Errorf("unknown function %s", o.Name)
		}
		texts, err := fn.Eval(qc, o.Args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o, err)
		}
		vals := make([]Value, len(texts))
		for i, t := range texts {
			vals[i] = Value{Text: t, Function: fn.Name}
		}
		return vals, nil
	case jql.ListOperand:
		var out []Value
		for _, v := range o.Values {
			vals, err := qc.Values(v)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported operand %T", op)
}

// splitEmpty separates EMPTY from the literal values.
func splitEmpty(vals []Value) (texts []string, hasEmpty bool) {
	for _, v := range vals {
		if v.Empty {
			hasEmpty = true
			continue
		}
		texts = append(texts, v.Text)
	}
	return texts, hasEmpty
}

// Supports reports whether h accepts op.
func Supports(h ClauseHandler, op jql.Operator) bool {
	for _, o := range h.Operators() {
		if o == op {
			return true
		}
	}
	return false
}
