package handler

import (
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/index"
)

func term(field, value string) query.Query {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return q
}

// terms matches any of values. No values matches nothing.
func terms(field string, values []string) query.Query {
	switch len(values) {
	case 0:
		return bleve.NewMatchNoneQuery()
	case 1:
		return term(field, values[0])
	}
	qs := make([]query.Query, len(values))
	for i, v := range values {
		qs[i] = term(field, v)
	}
	return bleve.NewDisjunctionQuery(qs...)
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

func hasValue(field string) query.Query {
	return term(index.FieldNonEmpty, field)
}

func isEmpty(field string) query.Query {
	return not(hasValue(field))
}

// not matches every document q does not match.
func not(q query.Query) query.Query {
	return query.NewBooleanQuery([]query.Query{bleve.NewMatchAllQuery()}, nil, []query.Query{q})
}

// excluding matches documents that have a value for field and do not
// match q. Negative operators never match empty fields.
func excluding(field string, q query.Query) query.Query {
	return query.NewBooleanQuery([]query.Query{hasValue(field)}, nil, []query.Query{q})
}

func or(qs ...query.Query) query.Query {
	var kept []query.Query
	for _, q := range qs {
		if q != nil {
			kept = append(kept, q)
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return bleve.NewDisjunctionQuery(kept...)
}

func numberRange(field string, min, max *float64, minInclusive, maxInclusive bool) query.Query {
	q := bleve.NewNumericRangeInclusiveQuery(min, max, &minInclusive, &maxInclusive)
	q.SetField(field)
	return q
}

func dateRange(field string, start, end time.Time, startInclusive, endInclusive bool) query.Query {
	q := bleve.NewDateRangeInclusiveQuery(start, end, &startInclusive, &endInclusive)
	q.SetField(field)
	return q
}
