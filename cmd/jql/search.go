package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/issuesearch/internal/jql"
	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
	"github.com/alfredjeanlab/issuesearch/internal/search"
	"github.com/alfredjeanlab/issuesearch/internal/searchctx"
	"github.com/alfredjeanlab/issuesearch/internal/ui"
)

// resolveQuery returns the query a search command runs and the projects
// and issue types it is limited to. With --filter the saved search runs,
// narrowed by the query text in args when there is one.
func resolveQuery(ctx context.Context, a *app, user *model.User, filterID int64, args []string) (*jql.Query, *searchctx.SearchContext, error) {
	var candidate *jql.Query
	if filterID == 0 || len(args) > 0 {
		q, err := jql.Parse(strings.Join(args, " "))
		if err != nil {
			return nil, nil, err
		}
		candidate = q
	}
	if filterID == 0 {
		sc, err := a.provider.QueryContext(ctx, candidate)
		if err != nil {
			return nil, nil, err
		}
		return candidate, sc, nil
	}

	r, err := a.filters.Get(ctx, user, filterID)
	if err != nil {
		return nil, nil, fmt.Errorf("saved search %d: %w", filterID, err)
	}
	base := r.Query()
	sc, err := a.provider.NarrowContext(ctx, base, candidate)
	if err != nil {
		return nil, nil, err
	}
	return narrowQuery(base, candidate), sc, nil
}

// narrowQuery requires both where clauses to match. The candidate's sort
// replaces the saved one when it has any.
func narrowQuery(base, candidate *jql.Query) *jql.Query {
	if candidate == nil {
		return base
	}
	out := &jql.Query{Where: base.Where, OrderBy: base.OrderBy}
	if len(candidate.OrderBy) > 0 {
		out.OrderBy = candidate.OrderBy
	}
	switch {
	case base.Where == nil:
		out.Where = candidate.Where
	case candidate.Where != nil:
		out.Where = &jql.AndClause{Clauses: []jql.Clause{base.Where, candidate.Where}}
	}
	return out
}

var searchCmd = &cobra.Command{
	Use:     "search [query]",
	Short:   "Run a JQL query and list the matching issues",
	GroupID: "search",
	Example: `  jql search 'project = ABC AND status = Open ORDER BY priority'
  jql search --filter 12 --start 50
  jql search --filter 12 'assignee = alice'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filterID, _ := cmd.Flags().GetInt64("filter")
		start, _ := cmd.Flags().GetInt("start")
		limit, _ := cmd.Flags().GetInt("limit")
		all, _ := cmd.Flags().GetBool("all")

		ctx := cmd.Context()
		return withApp(ctx, func(a *app, user *model.User) error {
			q, scope, err := resolveQuery(ctx, a, user, filterID, args)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = a.cfg.DefaultPageSize
			}
			pager := paging.NewPagerFilter(start, limit)
			if all {
				pager = paging.UnlimitedFilter()
			}
			results, err := a.provider.Search(ctx, q, user, pager)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				v, err := newResultsJSON(results, scope)
				if err != nil {
					return err
				}
				return printJSON(out, v)
			}
			return printIssueTable(out, styler, results, ui.Width(os.Stdout))
		})
	},
}

var countCmd = &cobra.Command{
	Use:     "count [query]",
	Short:   "Count the issues matching a JQL query",
	GroupID: "search",
	RunE: func(cmd *cobra.Command, args []string) error {
		filterID, _ := cmd.Flags().GetInt64("filter")

		ctx := cmd.Context()
		return withApp(ctx, func(a *app, user *model.User) error {
			q, _, err := resolveQuery(ctx, a, user, filterID, args)
			if err != nil {
				return err
			}
			n, err := a.provider.SearchCount(ctx, q, user)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"count": n})
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats [query]",
	Short:   "Count the matching issues per value of a field",
	GroupID: "search",
	Example: `  jql stats --field assignee 'status = Open'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filterID, _ := cmd.Flags().GetInt64("filter")
		field, _ := cmd.Flags().GetString("field")

		counter, err := search.NewFieldValueCounter(field)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		return withApp(ctx, func(a *app, user *model.User) error {
			q, _, err := resolveQuery(ctx, a, user, filterID, args)
			if err != nil {
				return err
			}
			if err := a.provider.Collect(ctx, q, user, counter); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), counter.Counts())
			}
			return printValueCounts(cmd.OutOrStdout(), field, counter.Counts(), counter.Hits())
		})
	},
}

var namesCmd = &cobra.Command{
	Use:     "names",
	Short:   "List the field names a query can use",
	GroupID: "search",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app, _ *model.User) error {
			names := a.registry.ClauseNames()
			if jsonOutput {
				type entry struct {
					Primary string   `json:"primary"`
					Names   []string `json:"names"`
				}
				out := make([]entry, len(names))
				for i, n := range names {
					out[i] = entry{Primary: n.Primary(), Names: n.Names()}
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			return printClauseNames(cmd.OutOrStdout(), names)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, countCmd, statsCmd} {
		c.Flags().Int64("filter", 0, "run the saved search with this id, narrowed by the query if one is given")
	}
	searchCmd.Flags().Int("start", 0, "zero-based offset of the first hit")
	searchCmd.Flags().Int("limit", 0, "page size (default from configuration)")
	searchCmd.Flags().Bool("all", false, "return every hit on one page")
	statsCmd.Flags().String("field", "status", "field to count (status, priority, assignee, reporter, issuetype, project, labels)")
}
