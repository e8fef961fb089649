package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/jql"
	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// KeyHandler matches issues by key (ABC-12) or numeric id. Relational
// operators compare key numbers within the key's project.
type KeyHandler struct {
	names jql.ClauseNames
}

func NewKeyHandler(names jql.ClauseNames) *KeyHandler {
	return &KeyHandler{names: names}
}

func (h *KeyHandler) Names() jql.ClauseNames { return h.names }

func (h *KeyHandler) Operators() []jql.Operator {
	return []jql.Operator{
		jql.OpEquals, jql.OpNotEquals, jql.OpIn, jql.OpNotIn,
		jql.OpLessThan, jql.OpLessThanEquals, jql.OpGreaterThan, jql.OpGreaterThanEquals,
	}
}

func (h *KeyHandler) SortFields() []string {
	return []string{index.FieldKeyProject, index.FieldKeyNumber}
}

func (h *KeyHandler) DefaultDirection() jql.SortDirection { return jql.SortAscending }

func isIssueID(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func (h *KeyHandler) Validate(_ context.Context, qc *QueryContext, clause *jql.TerminalClause) []string {
	vals, err := qc.Values(clause.Operand)
	if err != nil {
		return []string{err.Error()}
	}
	var msgs []string
	for _, v := range vals {
		if v.Empty {
			msgs = append(msgs, fmt.Sprintf("The field '%s' does not accept EMPTY.", clause.Field))
			continue
		}
		if isIssueID(v.Text) {
			continue
		}
		if _, _, ok := model.SplitKey(v.Text); !ok {
			msgs = append(msgs, fmt.Sprintf("The issue key '%s' for field '%s' is invalid.", v.Text, clause.Field))
		}
	}
	return msgs
}

func (h *KeyHandler) Compile(_ context.Context, qc *QueryContext, clause *jql.TerminalClause) (query.Query, error) {
	vals, err := qc.Values(clause.Operand)
	if err != nil {
		return nil, err
	}
	texts, _ := splitEmpty(vals)
	qc.AddTerms(len(texts) + 1)

	if clause.Operator.IsRelational() {
		if len(texts) == 0 {
			return nil, fmt.Errorf("operator %s needs an issue key", clause.Operator)
		}
		return h.relational(clause.Operator, texts[0])
	}

	matches := make([]query.Query, 0, len(texts))
	for _, t := range texts {
		matches = append(matches, h.exact(t))
	}
	if len(matches) == 0 {
		matches = append(matches, bleve.NewMatchNoneQuery())
	}
	switch clause.Operator {
	case jql.OpEquals, jql.OpIn:
		return or(matches...), nil
	case jql.OpNotEquals, jql.OpNotIn:
		return not(or(matches...)), nil
	}
	return nil, fmt.Errorf("operator %s not supported", clause.Operator)
}

func (h *KeyHandler) exact(v string) query.Query {
	if id, err := strconv.ParseInt(v, 10, 64); err == nil {
		n := float64(id)
		return numberRange(index.FieldID, &n, &n, true, true)
	}
	return term(index.FieldKey, strings.ToLower(v))
}

func (h *KeyHandler) relational(op jql.Operator, v string) (query.Query, error) {
	var field string
	var n float64
	var scope query.Query
	if id, err := strconv.ParseInt(v, 10, 64); err == nil {
		field, n = index.FieldID, float64(id)
	} else {
		project, num, ok := model.SplitKey(v)
		if !ok {
			return nil, fmt.Errorf("invalid issue key %q", v)
		}
		field, n = index.FieldKeyNumber, float64(num)
		scope = term(index.FieldKeyProject, strings.ToLower(project))
	}
	q, err := compileNumeric(field, op, []float64{n}, false)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return q, nil
	}
	return bleve.NewConjunctionQuery(scope, q), nil
}
