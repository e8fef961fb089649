package handler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/jql"
)

// NumberHandler compares a numeric field.
type NumberHandler struct {
	names jql.ClauseNames
	field string
}

func NewNumberHandler(names jql.ClauseNames, field string) *NumberHandler {
	return &NumberHandler{names: names, field: field}
}

func (h *NumberHandler) Names() jql.ClauseNames              { return h.names }
func (h *NumberHandler) Operators() []jql.Operator           { return relationalOperators }
func (h *NumberHandler) SortFields() []string                { return []string{h.field} }
func (h *NumberHandler) DefaultDirection() jql.SortDirection { return jql.SortAscending }

func (h *NumberHandler) Validate(_ context.Context, qc *QueryContext, clause *jql.TerminalClause) []string {
	vals, err := qc.Values(clause.Operand)
	if err != nil {
		return []string{err.Error()}
	}
	var msgs []string
	for _, v := range vals {
		if v.Empty {
			if clause.Operator.IsRelational() {
				msgs = append(msgs, fmt.Sprintf("The operator '%s' does not accept EMPTY for the field '%s'.", clause.Operator, clause.Field))
			}
			continue
		}
		if _, err := strconv.ParseFloat(v.Text, 64); err != nil {
			msgs = append(msgs, fmt.Sprintf("The value '%s' for field '%s' is not a number.", v.Text, clause.Field))
		}
	}
	return msgs
}

func (h *NumberHandler) Compile(_ context.Context, qc *QueryContext, clause *jql.TerminalClause) (query.Query, error) {
	vals, err := qc.Values(clause.Operand)
	if err != nil {
		return nil, err
	}
	texts, hasEmpty := splitEmpty(vals)
	nums := make([]float64, 0, len(texts))
	for _, t := range texts {
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", clause.Field, t)
		}
		nums = append(nums, n)
	}
	qc.AddTerms(len(nums) + 1)
	return compileNumeric(h.field, clause.Operator, nums, hasEmpty)
}

func compileNumeric(field string, op jql.Operator, nums []float64, hasEmpty bool) (query.Query, error) {
	if op.IsRelational() {
		if len(nums) == 0 {
			return nil, fmt.Errorf("operator %s needs a number for %s", op, field)
		}
		n := nums[0]
		switch op {
		case jql.OpLessThan:
			return numberRange(field, nil, &n, false, false), nil
		case jql.OpLessThanEquals:
			return numberRange(field, nil, &n, false, true), nil
		case jql.OpGreaterThan:
			return numberRange(field, &n, nil, false, false), nil
		default:
			return numberRange(field, &n, nil, true, false), nil
		}
	}

	matches := make([]query.Query, len(nums))
	for i := range nums {
		n := nums[i]
		matches[i] = numberRange(field, &n, &n, true, true)
	}
	switch op {
	case jql.OpEquals, jql.OpIn, jql.OpIs:
		if hasEmpty {
			matches = append(matches, isEmpty(field))
		}
		if len(matches) == 0 {
			return terms(field, nil), nil
		}
		return or(matches...), nil
	case jql.OpNotEquals, jql.OpNotIn, jql.OpIsNot:
		if len(matches) == 0 {
			return hasValue(field), nil
		}
		return excluding(field, or(matches...)), nil
	}
	return nil, fmt.Errorf("operator %s not supported", op)
}
