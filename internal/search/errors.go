package search

import (
	"fmt"

	"github.com/alfredjeanlab/issuesearch/internal/jql"
)

// SearchError reports a failure to read the index. It is not the user's
// fault and should be surfaced as an internal error.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %q: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// ClauseTooComplexError reports a query that compiles to more index terms
// than the engine accepts. Callers should ask the user to refine the query.
type ClauseTooComplexError struct {
	Clause *jql.TerminalClause
	Terms  int
	Max    int
}

func (e *ClauseTooComplexError) Error() string {
	return fmt.Sprintf("query is too complex at %s: %d terms exceeds the limit of %d", e.Clause, e.Terms, e.Max)
}
