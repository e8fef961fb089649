package search

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/handler"
	"github.com/alfredjeanlab/issuesearch/internal/jql"
)

// compiler turns a where clause into an index query. It is used for one
// query only.
type compiler struct {
	registry   *handler.Registry
	qc         *handler.QueryContext
	maxClauses int
}

func (c *compiler) compile(ctx context.Context, clause jql.Clause) (query.Query, error) {
	switch cl := clause.(type) {
	case nil:
		return bleve.NewMatchAllQuery(), nil
	case *jql.TerminalClause:
		return c.terminal(ctx, cl)
	case *jql.AndClause:
		parts, err := c.children(ctx, cl.Clauses)
		if err != nil {
			return nil, err
		}
		return bleve.NewConjunctionQuery(parts...), nil
	case *jql.OrClause:
		parts, err := c.children(ctx, cl.Clauses)
		if err != nil {
			return nil, err
		}
		return bleve.NewDisjunctionQuery(parts...), nil
	case *jql.NotClause:
		inner, err := c.compile(ctx, cl.Clause)
		if err != nil {
			return nil, err
		}
		return query.NewBooleanQuery([]query.Query{bleve.NewMatchAllQuery()}, nil, []query.Query{inner}), nil
	}
	return nil, fmt.Errorf("unsupported clause %T", clause)
}

func (c *compiler) children(ctx context.Context, clauses []jql.Clause) ([]query.Query, error) {
	parts := make([]query.Query, 0, len(clauses))
	for _, child := range clauses {
		q, err := c.compile(ctx, child)
		if err != nil {
			return nil, err
		}
		parts = append(parts, q)
	}
	return parts, nil
}

// terminal ORs the queries of every handler of the clause's field that
// supports its operator.
func (c *compiler) terminal(ctx context.Context, clause *jql.TerminalClause) (query.Query, error) {
	var parts []query.Query
	for _, h := range c.registry.Handlers(clause.Field) {
		if !handler.Supports(h, clause.Operator) {
			continue
		}
		q, err := h.Compile(ctx, c.qc, clause)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", clause, err)
		}
		parts = append(parts, q)
	}
	if c.maxClauses > 0 && c.qc.Terms() > c.maxClauses {
		return nil, &ClauseTooComplexError{Clause: clause, Terms: c.qc.Terms(), Max: c.maxClauses}
	}
	switch len(parts) {
	case 0:
		return nil, fmt.Errorf("no handler for %s", clause)
	case 1:
		return parts[0], nil
	}
	return bleve.NewDisjunctionQuery(parts...), nil
}

