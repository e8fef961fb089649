package handler

import (
	"context"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/jql"
)

// HistoryHandler adds WAS and WAS NOT to a keyword handler. An issue
// "was" a value if it holds it now or any change item moved the field
// from or to it.
type HistoryHandler struct {
	*KeywordHandler
	changeField string
}

// WithHistory wraps h. changeField is the field name recorded in change
// items (e.g. "status").
func WithHistory(h *KeywordHandler, changeField string) *HistoryHandler {
	return &HistoryHandler{KeywordHandler: h, changeField: changeField}
}

func (h *HistoryHandler) Operators() []jql.Operator {
	return append(append([]jql.Operator(nil), h.KeywordHandler.Operators()...), jql.OpWas, jql.OpWasNot)
}

func (h *HistoryHandler) Compile(ctx context.Context, qc *QueryContext, clause *jql.TerminalClause) (query.Query, error) {
	if clause.Operator != jql.OpWas && clause.Operator != jql.OpWasNot {
		return h.KeywordHandler.Compile(ctx, qc, clause)
	}
	vals, err := qc.Values(clause.Operand)
	if err != nil {
		return nil, err
	}
	texts, hasEmpty := splitEmpty(vals)
	current, err := h.termsFor(ctx, texts)
	if err != nil {
		return nil, err
	}
	now, err := compileEquality(h.field, jql.OpIn, current, hasEmpty)
	if err != nil {
		return nil, err
	}

	past, err := h.pastMatches(ctx, qc, texts, hasEmpty)
	if err != nil {
		return nil, err
	}
	qc.AddTerms(2*len(texts) + 2)

	q := or(now, past)
	if clause.Operator == jql.OpWasNot {
		return not(q), nil
	}
	return q, nil
}

func (h *HistoryHandler) pastMatches(ctx context.Context, qc *QueryContext, texts []string, hasEmpty bool) (query.Query, error) {
	lowered := lowerAll(texts)
	var sides []query.Query
	if len(lowered) > 0 {
		sides = append(sides, terms(index.FieldFrom, lowered), terms(index.FieldTo, lowered))
	}
	if hasEmpty {
		sides = append(sides, not(hasValue(index.FieldFrom)), not(hasValue(index.FieldTo)))
	}
	if len(sides) == 0 {
		return bleve.NewMatchNoneQuery(), nil
	}
	changes := bleve.NewConjunctionQuery(term(index.FieldChanged, strings.ToLower(h.changeField)), or(sides...))

	s, err := qc.Indexes.Searcher(index.Changes)
	if err != nil {
		return nil, err
	}
	ids, err := index.CollectIssueIDs(ctx, s, changes)
	if err != nil {
		return nil, err
	}
	return index.DocIDs(ids), nil
}
