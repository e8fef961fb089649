package handler

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/jql"
)

// Resolver maps a user-supplied value to the index terms it stands for,
// e.g. a project key to its id. An empty result means the value does not
// exist.
type Resolver func(ctx context.Context, value string) ([]string, error)

var equalityOperators = []jql.Operator{
	jql.OpEquals, jql.OpNotEquals, jql.OpIn, jql.OpNotIn, jql.OpIs, jql.OpIsNot,
}

// KeywordHandler matches whole values of a keyword field.
type KeywordHandler struct {
	names         jql.ClauseNames
	field         string
	caseSensitive bool
	resolve       Resolver
	sortFields    []string
}

// KeywordOption configures a KeywordHandler.
type KeywordOption func(*KeywordHandler)

// CaseSensitive makes value matching case-sensitive.
func CaseSensitive() KeywordOption {
	return func(h *KeywordHandler) { h.caseSensitive = true }
}

// WithResolver translates values before matching.
func WithResolver(r Resolver) KeywordOption {
	return func(h *KeywordHandler) { h.resolve = r }
}

// SortBy sets the index fields used for ORDER BY.
func SortBy(fields ...string) KeywordOption {
	return func(h *KeywordHandler) { h.sortFields = fields }
}

// NewKeywordHandler returns a handler for field. By default the field sorts
// on itself.
func NewKeywordHandler(names jql.ClauseNames, field string, opts ...KeywordOption) *KeywordHandler {
	h := &KeywordHandler{names: names, field: field, sortFields: []string{field}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *KeywordHandler) Names() jql.ClauseNames              { return h.names }
func (h *KeywordHandler) Operators() []jql.Operator           { return equalityOperators }
func (h *KeywordHandler) SortFields() []string                { return h.sortFields }
func (h *KeywordHandler) DefaultDirection() jql.SortDirection { return jql.SortAscending }

// Validate reports values the resolver does not know.
func (h *KeywordHandler) Validate(ctx context.Context, qc *QueryContext, clause *jql.TerminalClause) []string {
	if h.resolve == nil {
		return nil
	}
	vals, err := qc.Values(clause.Operand)
	if err != nil {
		return []string{err.Error()}
	}
	var msgs []string
	for _, v := range vals {
		if v.Empty || v.Function != "" {
			continue
		}
		found, err := h.resolve(ctx, v.Text)
		if err != nil {
			return []string{err.Error()}
		}
		if len(found) == 0 {
			msgs = append(msgs, fmt.Sprintf("The value '%s' does not exist for the field '%s'.", v.Text, clause.Field))
		}
	}
	return msgs
}

func (h *KeywordHandler) termsFor(ctx context.Context, texts []string) ([]string, error) {
	if h.resolve != nil {
		var out []string
		for _, t := range texts {
			found, err := h.resolve(ctx, t)
			if err != nil {
				return nil, err
			}
			out = append(out, found...)
		}
		texts = out
	}
	if !h.caseSensitive {
		texts = lowerAll(texts)
	}
	return texts, nil
}

func (h *KeywordHandler) Compile(ctx context.Context, qc *QueryContext, clause *jql.TerminalClause) (query.Query, error) {
	vals, err := qc.Values(clause.Operand)
	if err != nil {
		return nil, err
	}
	texts, hasEmpty := splitEmpty(vals)
	ts, err := h.termsFor(ctx, texts)
	if err != nil {
		return nil, err
	}
	qc.AddTerms(len(ts) + 1)
	return compileEquality(h.field, clause.Operator, ts, hasEmpty)
}

// compileEquality builds the query for the equality operators over a set
// of already normalised terms.
func compileEquality(field string, op jql.Operator, ts []string, hasEmpty bool) (query.Query, error) {
	switch op {
	case jql.OpEquals, jql.OpIn, jql.OpIs:
		if hasEmpty && len(ts) == 0 {
			return isEmpty(field), nil
		}
		if hasEmpty {
			return or(terms(field, ts), isEmpty(field)), nil
		}
		return terms(field, ts), nil
	case jql.OpNotEquals, jql.OpNotIn, jql.OpIsNot:
		if len(ts) == 0 {
			return hasValue(field), nil
		}
		return excluding(field, terms(field, ts)), nil
	}
	return nil, fmt.Errorf("operator %s not supported", op)
}
