package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/store"
)

// dataset is the JSON document read by "jql load" and --data: the lookups,
// users, grants and issues of a site. Projects may name their category
// instead of carrying its id.
type dataset struct {
	Categories   []*model.ProjectCategory `json:"categories"`
	Projects     []*datasetProject        `json:"projects"`
	IssueTypes   []*model.IssueType       `json:"issue_types"`
	CustomFields []*model.CustomField     `json:"custom_fields"`
	Users        []*model.User            `json:"users"`
	Grants       []model.BrowseGrant      `json:"grants"`
	Issues       []*model.Issue           `json:"issues"`
}

type datasetProject struct {
	model.Project
	Category string `json:"category,omitempty"`
}

// loadResult counts what loadDataset wrote.
type loadResult struct {
	Projects     int `json:"projects"`
	CustomFields int `json:"custom_fields"`
	Users        int `json:"users"`
	Issues       int `json:"issues"`
}

func readDataset(r io.Reader) (*dataset, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var ds dataset
	if err := dec.Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	for _, i := range ds.Issues {
		if err := model.ValidateIssue(i); err != nil {
			return nil, fmt.Errorf("issue %q: %w", i.Key, err)
		}
	}
	return &ds, nil
}

func readDatasetFile(path string) (*dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readDataset(f)
}

// loadDataset writes ds to st in one transaction. Custom field ids are
// assigned by the store, in the order the fields are listed.
func loadDataset(ctx context.Context, st store.Store, ds *dataset) (loadResult, error) {
	var res loadResult
	err := st.RunInTransaction(ctx, func(tx store.Store) error {
		categories := make(map[string]int64, len(ds.Categories))
		for _, c := range ds.Categories {
			if err := tx.CreateProjectCategory(ctx, c); err != nil {
				return fmt.Errorf("category %q: %w", c.Name, err)
			}
			categories[c.Name] = c.ID
		}
		for _, p := range ds.Projects {
			if p.Category != "" {
				id, ok := categories[p.Category]
				if !ok {
					return fmt.Errorf("project %q: unknown category %q", p.Key, p.Category)
				}
				p.CategoryID = &id
			}
			if err := tx.CreateProject(ctx, &p.Project); err != nil {
				return fmt.Errorf("project %q: %w", p.Key, err)
			}
			res.Projects++
		}
		for _, t := range ds.IssueTypes {
			if err := tx.CreateIssueType(ctx, t); err != nil {
				return fmt.Errorf("issue type %q: %w", t.ID, err)
			}
		}
		for _, cf := range ds.CustomFields {
			if !cf.Type.IsValid() {
				return fmt.Errorf("custom field %q: invalid type %q", cf.Name, cf.Type)
			}
			if err := tx.CreateCustomField(ctx, cf); err != nil {
				return fmt.Errorf("custom field %q: %w", cf.Name, err)
			}
			res.CustomFields++
		}
		for _, u := range ds.Users {
			if err := tx.CreateUser(ctx, u); err != nil {
				return fmt.Errorf("user %q: %w", u.Key, err)
			}
			res.Users++
		}
		for _, g := range ds.Grants {
			if err := tx.GrantBrowse(ctx, g); err != nil {
				return fmt.Errorf("grant %s %s on %d: %w", g.Type, g.Param, g.ProjectID, err)
			}
		}
		for _, i := range ds.Issues {
			if err := tx.UpsertIssue(ctx, i); err != nil {
				return fmt.Errorf("issue %q: %w", i.Key, err)
			}
			for _, c := range i.Comments {
				c.IssueID = i.ID
				if err := tx.AddComment(ctx, c); err != nil {
					return fmt.Errorf("comment on %q: %w", i.Key, err)
				}
			}
			for _, ch := range i.Changes {
				ch.IssueID = i.ID
				if err := tx.RecordChange(ctx, ch); err != nil {
					return fmt.Errorf("change on %q: %w", i.Key, err)
				}
			}
			res.Issues++
		}
		return nil
	})
	return res, err
}

var loadCmd = &cobra.Command{
	Use:     "load <file>",
	Short:   "Load projects, users, grants and issues from a JSON dataset",
	GroupID: "system",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := readDatasetFile(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := openStore(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		res, err := loadDataset(ctx, st, ds)
		if err != nil {
			st.Close()
			return err
		}

		// Open the app after loading so the registry sees the new custom
		// fields, then bring a persistent index up to date.
		a, err := newApp(ctx, cfg, st, nil, logger)
		if err != nil {
			st.Close()
			return err
		}
		defer a.Close()
		if cfg.IndexDir != "" {
			if _, err := a.pipeline.Rebuild(ctx); err != nil {
				return err
			}
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d projects, %d custom fields, %d users and %d issues\n",
			res.Projects, res.CustomFields, res.Users, res.Issues)
		return nil
	},
}
