package handler

import (
	"context"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/jql"
)

// TextHandler matches analysed text with ~ and !~. It may search several
// issue fields and the comments index at once.
type TextHandler struct {
	names    jql.ClauseNames
	fields   []string
	comments bool
}

// NewTextHandler returns a handler over the given issue text fields.
func NewTextHandler(names jql.ClauseNames, fields ...string) *TextHandler {
	return &TextHandler{names: names, fields: fields}
}

// NewCommentHandler returns a text handler over the comments index.
func NewCommentHandler(names jql.ClauseNames) *TextHandler {
	return &TextHandler{names: names, comments: true}
}

// NewAllTextHandler returns a text handler over fields and comments.
func NewAllTextHandler(names jql.ClauseNames, fields ...string) *TextHandler {
	return &TextHandler{names: names, fields: fields, comments: true}
}

func (h *TextHandler) Names() jql.ClauseNames { return h.names }

func (h *TextHandler) Operators() []jql.Operator {
	if len(h.fields) == 1 && !h.comments {
		return []jql.Operator{jql.OpLike, jql.OpNotLike, jql.OpIs, jql.OpIsNot}
	}
	return []jql.Operator{jql.OpLike, jql.OpNotLike}
}

func (h *TextHandler) Compile(ctx context.Context, qc *QueryContext, clause *jql.TerminalClause) (query.Query, error) {
	vals, err := qc.Values(clause.Operand)
	if err != nil {
		return nil, err
	}
	texts, hasEmpty := splitEmpty(vals)
	if hasEmpty && len(h.fields) == 1 {
		qc.AddTerms(1)
		if clause.Operator == jql.OpIs {
			return isEmpty(h.fields[0]), nil
		}
		return hasValue(h.fields[0]), nil
	}

	var matches []query.Query
	for _, text := range texts {
		for _, f := range h.fields {
			matches = append(matches, textQuery(f, text))
		}
		if h.comments {
			q, err := h.commentMatches(ctx, qc, text)
			if err != nil {
				return nil, err
			}
			matches = append(matches, q)
		}
	}
	qc.AddTerms(len(matches))
	if len(matches) == 0 {
		matches = append(matches, bleve.NewMatchNoneQuery())
	}
	q := or(matches...)
	if clause.Operator == jql.OpNotLike {
		if len(h.fields) == 1 && !h.comments {
			return excluding(h.fields[0], q), nil
		}
		return not(q), nil
	}
	return q, nil
}

func (h *TextHandler) commentMatches(ctx context.Context, qc *QueryContext, text string) (query.Query, error) {
	s, err := qc.Indexes.Searcher(index.Comments)
	if err != nil {
		return nil, err
	}
	ids, err := index.CollectIssueIDs(ctx, s, textQuery(index.FieldBody, text))
	if err != nil {
		return nil, err
	}
	return index.DocIDs(ids), nil
}

// textQuery interprets a ~ operand: a quoted value is a phrase, a single
// word with * or ? is a wildcard, anything else must match every word.
func textQuery(field, value string) query.Query {
	v := strings.TrimSpace(value)
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		q := bleve.NewMatchPhraseQuery(v[1 : len(v)-1])
		q.SetField(field)
		return q
	}
	if strings.ContainsAny(v, "*?") && !strings.ContainsAny(v, " \t") {
		q := bleve.NewWildcardQuery(strings.ToLower(v))
		q.SetField(field)
		return q
	}
	q := bleve.NewMatchQuery(v)
	q.SetField(field)
	q.SetOperator(query.MatchQueryOperatorAnd)
	return q
}
