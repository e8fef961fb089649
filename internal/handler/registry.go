package handler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/jql"
)

// Registry aggregates the SearchHandlers of every field. It resolves
// clause names to clause handlers, lists the field indexers that define the
// issue index, and validates queries. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	handlers  []*SearchHandler
	byName    map[string][]ClauseHandler
	names     map[ClauseHandler]jql.ClauseNames
	basic     map[ClauseHandler]bool
	functions *FunctionSet
}

// NewRegistry returns a registry holding handlers. A nil function set
// installs the built-in functions.
func NewRegistry(functions *FunctionSet, handlers ...*SearchHandler) *Registry {
	if functions == nil {
		functions = DefaultFunctions()
	}
	r := &Registry{
		byName:    make(map[string][]ClauseHandler),
		names:     make(map[ClauseHandler]jql.ClauseNames),
		basic:     make(map[ClauseHandler]bool),
		functions: functions,
	}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds h. It returns false if an equal handler is already
// registered.
func (r *Registry) Register(h *SearchHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.handlers {
		if existing.Hash() == h.Hash() && existing.Equal(h) {
			return false
		}
	}
	r.handlers = append(r.handlers, h)
	if h.searcher != nil {
		for _, c := range h.searcher.Clauses {
			r.basic[c.Handler] = true
		}
	}
	for _, c := range h.AllClauses() {
		if _, seen := r.names[c.Handler]; seen {
			continue
		}
		names := c.Handler.Names()
		r.names[c.Handler] = names
		for _, n := range names.Names() {
			r.byName[n] = append(r.byName[n], c.Handler)
		}
	}
	return true
}

// Functions returns the registered query functions.
func (r *Registry) Functions() *FunctionSet { return r.functions }

// Handlers returns the clause handlers answering to name. Several
// handlers for one name are OR'd together.
func (r *Registry) Handlers(name string) []ClauseHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ClauseHandler(nil), r.byName[strings.ToLower(name)]...)
}

// SearchHandlers returns every registered SearchHandler.
func (r *Registry) SearchHandlers() []*SearchHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*SearchHandler(nil), r.handlers...)
}

// ClauseNames returns the names of every registered clause handler,
// ordered by primary name.
func (r *Registry) ClauseNames() []jql.ClauseNames {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []jql.ClauseNames
	for _, n := range r.names {
		key := n.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Primary() < out[j].Primary() })
	return out
}

// IsReserved reports whether name is already a clause name.
func (r *Registry) IsReserved(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[strings.ToLower(name)]
	return ok
}

// FieldIndexers returns the field indexers of every handler, without
// duplicates.
func (r *Registry) FieldIndexers() []index.FieldIndexer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []index.FieldIndexer
	for _, h := range r.handlers {
		for _, fi := range h.indexers {
			if seen[fi.ID()] {
				continue
			}
			seen[fi.ID()] = true
			out = append(out, fi)
		}
	}
	return out
}

// Validate checks every clause of q against the registered handlers and
// functions. Problems are returned together as a *jql.ValidationError.
func (r *Registry) Validate(ctx context.Context, qc *QueryContext, q *jql.Query) error {
	var ve jql.ValidationError
	for _, t := range jql.Terminals(q.Where) {
		handlers := r.Handlers(t.Field)
		if len(handlers) == 0 {
			ve.Add(fmt.Sprintf("Field '%s' does not exist or you do not have permission to view it.", t.Field))
			continue
		}
		if !r.checkFunctions(&ve, t.Operand) {
			continue
		}
		var usable []ClauseHandler
		for _, h := range handlers {
			if Supports(h, t.Operator) {
				usable = append(usable, h)
			}
		}
		if len(usable) == 0 {
			ve.Add(fmt.Sprintf("The operator '%s' is not supported by the '%s' field.", t.Operator, t.Field))
			continue
		}
		for _, h := range usable {
			if v, ok := h.(Validator); ok {
				for _, msg := range v.Validate(ctx, qc, t) {
					ve.Add(msg)
				}
			}
		}
	}
	for _, s := range q.OrderBy {
		if _, err := r.SortFields(s); err != nil {
			ve.Add(err.Error())
		}
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

func (r *Registry) checkFunctions(ve *jql.ValidationError, op jql.Operand) bool {
	ok := true
	switch o := op.(type) {
	case jql.FunctionOperand:
		fn, found := r.functions.Lookup(o.Name)
		switch {
		case !found:
			ve.Add(fmt.Sprintf("Unable to find JQL function '%s'.", o))
			ok = false
		case len(o.Args) < fn.MinArgs || len(o.Args) > fn.MaxArgs:
			ve.Add(fmt.Sprintf("Function '%s' expected between %d and %d arguments but received %d.", fn.Name, fn.MinArgs, fn.MaxArgs, len(o.Args)))
			ok = false
		}
	case jql.ListOperand:
		for _, v := range o.Values {
			if !r.checkFunctions(ve, v) {
				ok = false
			}
		}
	}
	return ok
}

// SortFields returns the index sort keys for one ORDER BY entry, prefixed
// with "-" for descending order.
func (r *Registry) SortFields(s jql.SearchSort) ([]string, error) {
	handlers := r.Handlers(s.Field)
	if len(handlers) == 0 {
		return nil, fmt.Errorf("Not able to sort using field '%s'.", s.Field)
	}
	for _, h := range handlers {
		sortable, ok := h.(Sortable)
		if !ok || len(sortable.SortFields()) == 0 {
			continue
		}
		dir := s.Direction
		if dir == jql.SortDefault {
			dir = sortable.DefaultDirection()
		}
		fields := sortable.SortFields()
		out := make([]string, len(fields))
		for i, f := range fields {
			if dir == jql.SortDescending {
				out[i] = "-" + f
			} else {
				out[i] = f
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("Field '%s' does not support sorting.", s.Field)
}

// IsBasicModeRepresentable reports whether q can be shown in the basic
// search form: a conjunction of terminal clauses, each naming a field at
// most once, and each handled only by clause handlers that a searcher
// drives.
func (r *Registry) IsBasicModeRepresentable(q *jql.Query) bool {
	if q == nil || q.Where == nil {
		return true
	}
	var clauses []*jql.TerminalClause
	switch c := q.Where.(type) {
	case *jql.TerminalClause:
		clauses = []*jql.TerminalClause{c}
	case *jql.AndClause:
		for _, child := range c.Clauses {
			t, ok := child.(*jql.TerminalClause)
			if !ok {
				return false
			}
			clauses = append(clauses, t)
		}
	default:
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, t := range clauses {
		handlers := r.byName[strings.ToLower(t.Field)]
		if len(handlers) == 0 {
			return false
		}
		for _, h := range handlers {
			if !r.basic[h] {
				return false
			}
			primary := r.names[h].Primary()
			if seen[primary] {
				return false
			}
			seen[primary] = true
		}
	}
	return true
}
