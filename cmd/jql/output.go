package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/issuesearch/internal/jql"
	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
	"github.com/alfredjeanlab/issuesearch/internal/search"
	"github.com/alfredjeanlab/issuesearch/internal/searchctx"
	"github.com/alfredjeanlab/issuesearch/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// resultsJSON is the --json form of a search page.
type resultsJSON struct {
	Start   int                      `json:"start"`
	Max     int                      `json:"max"`
	Total   int                      `json:"total"`
	Issues  []*model.Issue           `json:"issues"`
	Pages   []paging.Page            `json:"pages,omitempty"`
	Context *searchctx.SearchContext `json:"context"`
}

func newResultsJSON(r *paging.SearchResults, scope *searchctx.SearchContext) (resultsJSON, error) {
	out := resultsJSON{Start: r.Start(), Max: r.Max(), Total: r.Total(), Issues: r.Issues(), Context: scope}
	if out.Issues == nil {
		out.Issues = []*model.Issue{}
	}
	if r.Max() > 0 {
		pages, err := r.Pages()
		if err != nil {
			return out, err
		}
		out.Pages = pages
	}
	return out, nil
}

// summaryWidth leaves room for the key, status, priority and assignee
// columns of a terminal of the given width.
func summaryWidth(termWidth int) int {
	w := termWidth - 60
	if w < 20 {
		w = 20
	}
	return w
}

func printIssueTable(w io.Writer, s ui.Styler, r *paging.SearchResults, termWidth int) error {
	issues := r.Issues()
	if len(issues) == 0 {
		_, err := fmt.Fprintln(w, s.Muted("No issues found."))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tPRIORITY\tASSIGNEE\tSUMMARY")
	for _, i := range issues {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Accent(i.Key),
			s.Status(i.Status),
			i.Priority,
			i.Assignee,
			ui.Truncate(i.Summary, summaryWidth(termWidth)),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nShowing %d-%d of %d\n", r.NiceStart(), r.End(), r.Total())
	links, err := s.PageLinks(r)
	if err != nil {
		return err
	}
	if links != "" {
		fmt.Fprintln(w, links)
	}
	return nil
}

func printValueCounts(w io.Writer, field string, counts []search.ValueCount, hits int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\tCOUNT\n", strings.ToUpper(field))
	for _, c := range counts {
		v := c.Value
		if v == "" {
			v = "(none)"
		}
		fmt.Fprintf(tw, "%s\t%d\n", v, c.Count)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d issues\n", hits)
	return err
}

func formatShares(p model.SharePermissions) string {
	if p.IsPrivate() {
		return "private"
	}
	parts := make([]string, len(p))
	for i, sp := range p {
		parts[i] = sp.String()
	}
	return strings.Join(parts, ", ")
}

func printFilter(w io.Writer, s ui.Styler, r *model.SearchRequest, favourite bool) {
	id, _ := r.ID()
	fmt.Fprintf(w, "ID:          %d\n", id)
	fmt.Fprintf(w, "Name:        %s\n", s.Accent(r.Name()))
	if r.Description() != "" {
		fmt.Fprintf(w, "Description: %s\n", r.Description())
	}
	fmt.Fprintf(w, "Owner:       %s\n", r.OwnerKey())
	fmt.Fprintf(w, "Query:       %s\n", r.Query())
	fmt.Fprintf(w, "Shared:      %s\n", formatShares(r.Permissions()))
	fmt.Fprintf(w, "Favourites:  %d\n", r.FavouriteCount())
	if favourite {
		fmt.Fprintln(w, "Favourite:   yes")
	}
}

func filterRecords(filters []*model.SearchRequest) []model.SearchRequestRecord {
	out := make([]model.SearchRequestRecord, len(filters))
	for i, f := range filters {
		out[i] = f.Record()
	}
	return out
}

func printFilterTable(w io.Writer, s ui.Styler, filters []*model.SearchRequest, total int) error {
	if len(filters) == 0 {
		_, err := fmt.Fprintln(w, s.Muted("No saved searches found."))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tOWNER\tFAVOURITES\tSHARED")
	for _, f := range filters {
		id, _ := f.ID()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			id,
			s.Accent(ui.Truncate(f.Name(), 40)),
			f.OwnerKey(),
			f.FavouriteCount(),
			formatShares(f.Permissions()),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d saved searches (%d total)\n", len(filters), total)
	return err
}

func printClauseNames(w io.Writer, names []jql.ClauseNames) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tALIASES")
	for _, n := range names {
		var aliases []string
		for _, a := range n.Names() {
			if a != strings.ToLower(n.Primary()) {
				aliases = append(aliases, a)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\n", n.Primary(), strings.Join(aliases, ", "))
	}
	return tw.Flush()
}
