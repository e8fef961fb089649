package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/issuesearch/internal/events"
	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// readIssues decodes one issue per line. Blank lines are skipped.
func readIssues(r io.Reader) ([]*model.Issue, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var (
		out  []*model.Issue
		line int
	)
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var i model.Issue
		if err := json.Unmarshal(scanner.Bytes(), &i); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := model.ValidateIssue(&i); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, &i)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// upsertIssues writes issues, brings the local index up to date and
// announces each change so that running servers reindex too.
func (a *app) upsertIssues(ctx context.Context, issues []*model.Issue) error {
	for _, i := range issues {
		if err := a.store.UpsertIssue(ctx, i); err != nil {
			return fmt.Errorf("upsert %s: %w", i.Key, err)
		}
	}
	for _, i := range issues {
		if err := a.pipeline.Reindex(ctx, i.ID); err != nil {
			return err
		}
		a.announce(ctx, events.TopicIssueUpserted, i)
	}
	return nil
}

// deleteIssue removes the issue from the store and the local index.
func (a *app) deleteIssue(ctx context.Context, id int64) error {
	i, err := a.store.GetIssue(ctx, id)
	if err != nil {
		return fmt.Errorf("get issue %d: %w", id, err)
	}
	if err := a.store.DeleteIssue(ctx, id); err != nil {
		return fmt.Errorf("delete issue %d: %w", id, err)
	}
	// Reindexing an issue the store no longer has removes its documents.
	if err := a.pipeline.Reindex(ctx, id); err != nil {
		return err
	}
	a.announce(ctx, events.TopicIssueDeleted, i)
	return nil
}

func (a *app) announce(ctx context.Context, topic string, i *model.Issue) {
	if err := a.publisher.Publish(ctx, topic, events.IssueChanged{IssueID: i.ID, Key: i.Key}); err != nil {
		a.logger.Warn("publish issue event failed", "topic", topic, "issue", i.Key, "err", err)
	}
}

var issueCmd = &cobra.Command{
	Use:     "issue",
	Short:   "Write issues to the store and index",
	GroupID: "system",
}

var issueImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create or replace issues from a JSONL file (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		issues, err := readIssues(r)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		return withApp(ctx, func(a *app, _ *model.User) error {
			if err := a.upsertIssues(ctx, issues); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d issues\n", len(issues))
			return nil
		})
	},
}

var issueDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid issue id %q", args[0])
		}
		ctx := cmd.Context()
		return withApp(ctx, func(a *app, _ *model.User) error {
			if err := a.deleteIssue(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted issue %d\n", id)
			return nil
		})
	},
}

var indexCmd = &cobra.Command{
	Use:     "index",
	Short:   "Maintain the search indexes",
	GroupID: "system",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Index every issue in the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app, _ *model.User) error {
			// In-memory indexes were rebuilt when the app opened.
			n := int(a.pipeline.Stats().Indexed)
			if a.cfg.IndexDir != "" {
				var err error
				if n, err = a.pipeline.Rebuild(ctx); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d issues\n", n)
			return nil
		})
	},
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the document count of each index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app, _ *model.User) error {
			counts := make(map[string]uint64, len(index.Names))
			for _, name := range index.Names {
				n, err := a.indexes.DocumentCount(name)
				if err != nil {
					return err
				}
				counts[string(name)] = n
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), counts)
			}
			for _, name := range index.Names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d\n", name, counts[string(name)])
			}
			return nil
		})
	},
}

func init() {
	issueCmd.AddCommand(issueImportCmd)
	issueCmd.AddCommand(issueDeleteCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexStatsCmd)
}
