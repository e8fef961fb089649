package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/jql"
)

var relationalOperators = []jql.Operator{
	jql.OpEquals, jql.OpNotEquals, jql.OpIn, jql.OpNotIn, jql.OpIs, jql.OpIsNot,
	jql.OpLessThan, jql.OpLessThanEquals, jql.OpGreaterThan, jql.OpGreaterThanEquals,
}

// DateHandler compares a date field. A date without a time covers the
// whole day: created = 2026-01-02 matches the entire day and
// created <= 2026-01-02 includes it.
type DateHandler struct {
	names      jql.ClauseNames
	field      string
	defaultDir jql.SortDirection
}

// NewDateHandler returns a handler for a date field. ORDER BY without a
// direction sorts newest first.
func NewDateHandler(names jql.ClauseNames, field string) *DateHandler {
	return &DateHandler{names: names, field: field, defaultDir: jql.SortDescending}
}

func (h *DateHandler) Names() jql.ClauseNames              { return h.names }
func (h *DateHandler) Operators() []jql.Operator           { return relationalOperators }
func (h *DateHandler) SortFields() []string                { return []string{h.field} }
func (h *DateHandler) DefaultDirection() jql.SortDirection { return h.defaultDir }

func (h *DateHandler) Validate(_ context.Context, qc *QueryContext, clause *jql.TerminalClause) []string {
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
		if _, err := parseDate(v.Text, qc.Now); err != nil {
			msgs = append(msgs, fmt.Sprintf("Date value '%s' for field '%s' is invalid. Valid formats include: 'yyyy-MM-dd', 'yyyy-MM-dd HH:mm' or a period such as '-5d' or '4w 2d'.", v.Text, clause.Field))
		}
	}
	return msgs
}

func (h *DateHandler) Compile(_ context.Context, qc *QueryContext, clause *jql.TerminalClause) (query.Query, error) {
	vals, err := qc.Values(clause.Operand)
	if err != nil {
		return nil, err
	}
	texts, hasEmpty := splitEmpty(vals)
	dates := make([]dateValue, 0, len(texts))
	for _, t := range texts {
		d, err := parseDate(t, qc.Now)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	qc.AddTerms(len(dates) + 1)

	if clause.Operator.IsRelational() {
		if len(dates) == 0 {
			return nil, fmt.Errorf("operator %s needs a date for %s", clause.Operator, clause.Field)
		}
		return h.relational(clause.Operator, dates[0]), nil
	}

	ranges := make([]query.Query, len(dates))
	for i, d := range dates {
		start, end := d.bounds()
		ranges[i] = dateRange(h.field, start, end, true, false)
	}
	switch clause.Operator {
	case jql.OpEquals, jql.OpIn, jql.OpIs:
		if hasEmpty {
			ranges = append(ranges, isEmpty(h.field))
		}
		if len(ranges) == 0 {
			return terms(h.field, nil), nil
		}
		return or(ranges...), nil
	case jql.OpNotEquals, jql.OpNotIn, jql.OpIsNot:
		if len(ranges) == 0 {
			return hasValue(h.field), nil
		}
		return excluding(h.field, or(ranges...)), nil
	}
	return nil, fmt.Errorf("operator %s not supported", clause.Operator)
}

func (h *DateHandler) relational(op jql.Operator, d dateValue) query.Query {
	start, end := d.bounds()
	var zero time.Time
	switch op {
	case jql.OpLessThan:
		return dateRange(h.field, zero, start, false, false)
	case jql.OpLessThanEquals:
		if d.DateOnly {
			return dateRange(h.field, zero, end, false, false)
		}
		return dateRange(h.field, zero, start, false, true)
	case jql.OpGreaterThan:
		if d.DateOnly {
			return dateRange(h.field, end, zero, true, false)
		}
		return dateRange(h.field, start, zero, false, false)
	default:
		return dateRange(h.field, start, zero, true, false)
	}
}
