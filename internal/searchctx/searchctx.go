// Package searchctx computes the projects and issue types a query applies
// to. A SearchContext either covers any project (issue type) or a specific
// list of them; a single-entry list is distinguished so callers can show
// project-specific choices.
package searchctx

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/issuesearch/internal/jql"
	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// SearchContext is the set of projects and issue types of a query. An
// empty list means any.
type SearchContext struct {
	projects   []int64
	issueTypes []string
}

// ProjectIDs returns the specific projects, or nil for any project.
func (c *SearchContext) ProjectIDs() []int64 { return slices.Clone(c.projects) }

// IssueTypeIDs returns the specific issue types, or nil for any type.
func (c *SearchContext) IssueTypeIDs() []string { return slices.Clone(c.issueTypes) }

func (c *SearchContext) IsForAnyProjects() bool   { return len(c.projects) == 0 }
func (c *SearchContext) IsForAnyIssueTypes() bool { return len(c.issueTypes) == 0 }

// IsSingleProjectContext reports whether exactly one project applies.
func (c *SearchContext) IsSingleProjectContext() bool { return len(c.projects) == 1 }

// SingleProject returns the only project of a single-project context.
func (c *SearchContext) SingleProject() (int64, bool) {
	if len(c.projects) != 1 {
		return 0, false
	}
	return c.projects[0], true
}

// SingleIssueType returns the only issue type of a single-type context.
func (c *SearchContext) SingleIssueType() (string, bool) {
	if len(c.issueTypes) != 1 {
		return "", false
	}
	return c.issueTypes[0], true
}

// Equal compares the project and issue type sets.
func (c *SearchContext) Equal(other *SearchContext) bool {
	if c == nil || other == nil {
		return c == other
	}
	return slices.Equal(c.projects, other.projects) && slices.Equal(c.issueTypes, other.issueTypes)
}

func (c *SearchContext) String() string {
	if c == nil {
		return "projects=any issuetypes=any"
	}
	var b strings.Builder
	b.WriteString("projects=")
	if c.IsForAnyProjects() {
		b.WriteString("any")
	} else {
		for i, p := range c.projects {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatInt(p, 10))
		}
	}
	b.WriteString(" issuetypes=")
	if c.IsForAnyIssueTypes() {
		b.WriteString("any")
	} else {
		b.WriteString(strings.Join(c.issueTypes, ","))
	}
	return b.String()
}

// MarshalJSON writes the context as {"projects": [...], "issue_types":
// [...]}; an empty list means any.
func (c *SearchContext) MarshalJSON() ([]byte, error) {
	v := struct {
		Projects   []int64  `json:"projects"`
		IssueTypes []string `json:"issue_types"`
	}{Projects: []int64{}, IssueTypes: []string{}}
	if c != nil {
		v.Projects = append(v.Projects, c.projects...)
		v.IssueTypes = append(v.IssueTypes, c.issueTypes...)
	}
	return json.Marshal(v)
}

func (c *SearchContext) clone() *SearchContext {
	return &SearchContext{projects: slices.Clone(c.projects), issueTypes: slices.Clone(c.issueTypes)}
}

// Lookup lists the projects, categories and issue types that exist.
type Lookup interface {
	ListProjects(ctx context.Context) ([]*model.Project, error)
	ListProjectsInCategory(ctx context.Context, categoryID int64) ([]*model.Project, error)
	ListIssueTypes(ctx context.Context) ([]*model.IssueType, error)
}

// Factory builds search contexts.
type Factory struct {
	lookup Lookup
}

func NewFactory(lookup Lookup) *Factory {
	return &Factory{lookup: lookup}
}

// Global returns the context covering everything.
func (f *Factory) Global() *SearchContext { return &SearchContext{} }

// Create builds a context from category, project and issue type ids. The
// projects of each category are added to the project list.
func (f *Factory) Create(ctx context.Context, categoryIDs, projectIDs []int64, issueTypeIDs []string) (*SearchContext, error) {
	projects := slices.Clone(projectIDs)
	for _, cat := range categoryIDs {
		inCat, err := f.lookup.ListProjectsInCategory(ctx, cat)
		if err != nil {
			return nil, err
		}
		for _, p := range inCat {
			projects = append(projects, p.ID)
		}
	}
	return newContext(projects, issueTypeIDs), nil
}

func newContext(projects []int64, issueTypes []string) *SearchContext {
	projects = slices.Clone(projects)
	slices.Sort(projects)
	issueTypes = slices.Clone(issueTypes)
	slices.Sort(issueTypes)
	return &SearchContext{projects: slices.Compact(projects), issueTypes: slices.Compact(issueTypes)}
}

// Combine narrows base by possible without modifying either. A nil base
// yields nil and a nil possible yields a copy of base. Otherwise projects
// and issue types are each narrowed independently: an unrestricted base
// adopts possible's list, and a restricted base keeps the intersection,
// or its own list when the intersection is empty.
func (f *Factory) Combine(base, possible *SearchContext) *SearchContext {
	if base == nil {
		return nil
	}
	if possible == nil {
		return base.clone()
	}
	return newContext(
		narrow(base.projects, possible.projects),
		narrow(base.issueTypes, possible.issueTypes),
	)
}

func narrow[T comparable](base, possible []T) []T {
	if len(base) == 0 {
		return possible
	}
	var both []T
	for _, v := range base {
		if slices.Contains(possible, v) {
			both = append(both, v)
		}
	}
	if len(both) == 0 {
		return base
	}
	return both
}

// Verify removes projects and issue types that no longer exist from c, in
// place. A context whose every project was removed covers any project.
func (f *Factory) Verify(ctx context.Context, c *SearchContext) error {
	if len(c.projects) > 0 {
		projects, err := f.lookup.ListProjects(ctx)
		if err != nil {
			return err
		}
		exists := make(map[int64]bool, len(projects))
		for _, p := range projects {
			exists[p.ID] = true
		}
		c.projects = slices.DeleteFunc(c.projects, func(id int64) bool { return !exists[id] })
	}
	if len(c.issueTypes) > 0 {
		types, err := f.lookup.ListIssueTypes(ctx)
		if err != nil {
			return err
		}
		exists := make(map[string]bool, len(types))
		for _, t := range types {
			exists[t.ID] = true
		}
		c.issueTypes = slices.DeleteFunc(c.issueTypes, func(id string) bool { return !exists[id] })
	}
	return nil
}

// FromQuery derives the context of a query from the project and issue
// type equality clauses of its top-level conjunction, nested AND clauses
// included. Every such clause must hold, so the lists of several clauses
// on one field intersect. Any OR or NOT at the top level, or a negative
// operator, leaves the context global. Values that name no project or
// type are ignored, as are clauses none of whose values resolve. Clauses
// that contradict each other leave that field unrestricted.
func (f *Factory) FromQuery(ctx context.Context, q *jql.Query, projectNames, issueTypeNames jql.ClauseNames) (*SearchContext, error) {
	terms := conjuncts(q.Where, nil)
	if len(terms) == 0 {
		return f.Global(), nil
	}

	var (
		projects   []*model.Project
		types      []*model.IssueType
		projectIDs = restriction[int64]{}
		typeIDs    = restriction[string]{}
	)
	for _, t := range terms {
		if t.Operator != jql.OpEquals && t.Operator != jql.OpIn {
			continue
		}
		switch {
		case projectNames.Contains(t.Field):
			if projects == nil {
				var err error
				if projects, err = f.lookup.ListProjects(ctx); err != nil {
					return nil, err
				}
			}
			var ids []int64
			for _, v := range literals(t.Operand) {
				for _, p := range projects {
					if strings.EqualFold(p.Key, v) || strings.EqualFold(p.Name, v) || strconv.FormatInt(p.ID, 10) == v {
						ids = append(ids, p.ID)
					}
				}
			}
			projectIDs.and(ids)
		case issueTypeNames.Contains(t.Field):
			if types == nil {
				var err error
				if types, err = f.lookup.ListIssueTypes(ctx); err != nil {
					return nil, err
				}
			}
			var ids []string
			for _, v := range literals(t.Operand) {
				for _, it := range types {
					if strings.EqualFold(it.Name, v) || it.ID == v {
						ids = append(ids, it.ID)
					}
				}
			}
			typeIDs.and(ids)
		}
	}
	return newContext(projectIDs.list(), typeIDs.list()), nil
}

// conjuncts appends the terminal clauses that every match of c satisfies:
// c itself, or the terminals of c's AND clauses at any depth.
func conjuncts(c jql.Clause, out []*jql.TerminalClause) []*jql.TerminalClause {
	switch c := c.(type) {
	case *jql.TerminalClause:
		out = append(out, c)
	case *jql.AndClause:
		for _, child := range c.Clauses {
			out = conjuncts(child, out)
		}
	}
	return out
}

// restriction accumulates the values allowed by a conjunction of clauses.
type restriction[T comparable] struct {
	set   bool
	ids   []T
	empty bool
}

func (r *restriction[T]) and(ids []T) {
	if len(ids) == 0 || r.empty {
		return
	}
	if !r.set {
		r.set, r.ids = true, ids
		return
	}
	r.ids = slices.DeleteFunc(r.ids, func(id T) bool { return !slices.Contains(ids, id) })
	if len(r.ids) == 0 {
		r.empty = true
	}
}

func (r *restriction[T]) list() []T {
	if r.empty {
		return nil
	}
	return r.ids
}

func literals(op jql.Operand) []string {
	switch o := op.(type) {
	case jql.SingleValue:
		return []string{o.Value}
	case jql.ListOperand:
		var out []string
		for _, v := range o.Values {
			out = append(out, literals(v)...)
		}
		return out
	}
	return nil
}
