package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/issuesearch/internal/jql"
	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
	filtersync "github.com/alfredjeanlab/issuesearch/internal/sync"
)

// parseShare reads a share spec: "global", or "<type>:<param>" such as
// "group:developers", "project:10" or "user:bob".
func parseShare(spec string) (model.SharePermission, error) {
	typ, param, _ := strings.Cut(strings.TrimSpace(spec), ":")
	p := model.SharePermission{Type: model.ShareType(strings.ToLower(typ)), Param: param}
	if !p.Type.IsValid() {
		return p, fmt.Errorf("invalid share %q (must be global, group:<name>, project:<id> or user:<key>)", spec)
	}
	return p, nil
}

func parseShares(specs []string) (model.SharePermissions, error) {
	var out model.SharePermissions
	for _, spec := range specs {
		p, err := parseShare(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid saved search id %q", s)
	}
	return id, nil
}

func showFilter(cmd *cobra.Command, a *app, user *model.User, r *model.SearchRequest) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), r.Record())
	}
	fav := false
	if user != nil {
		id, _ := r.ID()
		var err error
		if fav, err = a.filters.IsFavourite(cmd.Context(), user, id); err != nil {
			return err
		}
	}
	printFilter(cmd.OutOrStdout(), styler, r, fav)
	return nil
}

var filterCmd = &cobra.Command{
	Use:     "filter",
	Short:   "Manage saved searches",
	GroupID: "filters",
}

var filterCreateCmd = &cobra.Command{
	Use:   "create <query>",
	Short: "Save a query as a named search",
	Example: `  jql filter create --name "My open bugs" --share group:developers \
    'assignee = currentUser() AND status = Open'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		description, _ := cmd.Flags().GetString("description")
		shareSpecs, _ := cmd.Flags().GetStringArray("share")

		q, err := jql.Parse(strings.Join(args, " "))
		if err != nil {
			return err
		}
		shares, err := parseShares(shareSpecs)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		return withApp(ctx, func(a *app, user *model.User) error {
			r := model.NewSearchRequest(q, model.UserKey(user), name, description)
			r.SetPermissions(shares)
			if err := a.filters.Create(ctx, user, r); err != nil {
				return fmt.Errorf("creating saved search: %w", err)
			}
			return showFilter(cmd, a, user, r)
		})
	},
}

var filterShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a saved search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		return withApp(ctx, func(a *app, user *model.User) error {
			r, err := a.filters.Get(ctx, user, id)
			if err != nil {
				return err
			}
			return showFilter(cmd, a, user, r)
		})
	},
}

var filterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your saved searches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app, user *model.User) error {
			filters, err := a.filters.ListOwned(ctx, user)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), filterRecords(filters))
			}
			return printFilterTable(cmd.OutOrStdout(), styler, filters, len(filters))
		})
	},
}

var filterSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find the saved searches you can see",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		owner, _ := cmd.Flags().GetString("owner")
		shareSpec, _ := cmd.Flags().GetString("share")
		sortBy, _ := cmd.Flags().GetString("sort")
		desc, _ := cmd.Flags().GetBool("desc")
		start, _ := cmd.Flags().GetInt("start")
		limit, _ := cmd.Flags().GetInt("limit")

		params := model.SharedSearchParams{
			Text:       text,
			OwnerKey:   owner,
			SortBy:     model.SearchSortField(sortBy),
			Descending: desc,
		}
		switch params.SortBy {
		case model.SortByName, model.SortByOwner, model.SortByFavourites:
		default:
			return fmt.Errorf("invalid --sort %q (must be name, owner or favourites)", sortBy)
		}
		if shareSpec != "" {
			p, err := parseShare(shareSpec)
			if err != nil {
				return err
			}
			params.Share = &p
		}

		ctx := cmd.Context()
		return withApp(ctx, func(a *app, user *model.User) error {
			if limit <= 0 {
				limit = a.cfg.DefaultPageSize
			}
			filters, total, err := a.filters.Search(ctx, user, params, paging.NewPagerFilter(start, limit))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"total":   total,
					"filters": filterRecords(filters),
				})
			}
			return printFilterTable(cmd.OutOrStdout(), styler, filters, total)
		})
	},
}

var filterUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a saved search you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		return withApp(ctx, func(a *app, user *model.User) error {
			r, err := a.filters.Get(ctx, user, id)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("name") {
				v, _ := flags.GetString("name")
				r.SetName(v)
			}
			if flags.Changed("description") {
				v, _ := flags.GetString("description")
				r.SetDescription(v)
			}
			if flags.Changed("query") {
				v, _ := flags.GetString("query")
				q, err := jql.Parse(v)
				if err != nil {
					return err
				}
				r.SetQuery(q)
			}
			if private, _ := flags.GetBool("private"); private {
				r.SetPermissions(nil)
			} else if flags.Changed("share") {
				specs, _ := flags.GetStringArray("share")
				shares, err := parseShares(specs)
				if err != nil {
					return err
				}
				r.SetPermissions(shares)
			}
			if err := a.filters.Update(ctx, user, r); err != nil {
				return fmt.Errorf("updating saved search: %w", err)
			}
			return showFilter(cmd, a, user, r)
		})
	},
}

var filterDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved search you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		return withApp(ctx, func(a *app, user *model.User) error {
			if err := a.filters.Delete(ctx, user, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted saved search %d\n", id)
			return nil
		})
	},
}

func favouriteCmd(use, short string, add bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withApp(ctx, func(a *app, user *model.User) error {
				var r *model.SearchRequest
				if add {
					r, err = a.filters.Favourite(ctx, user, id)
				} else {
					r, err = a.filters.Unfavourite(ctx, user, id)
				}
				if err != nil {
					return err
				}
				return showFilter(cmd, a, user, r)
			})
		},
	}
}

var filterExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every saved search as JSONL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		ctx := cmd.Context()
		return withApp(ctx, func(a *app, _ *model.User) error {
			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			n, err := filtersync.ExportJSONL(ctx, a.store, w, time.Now())
			if err != nil {
				return err
			}
			a.logger.Info("exported saved searches", "count", n, "output", output)
			return nil
		})
	},
}

var filterImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load saved searches from a JSONL export",
	Long: `Load saved searches from a JSONL export. Searches whose owner already
has one of the same name are skipped. Ids and favourite counts are not
carried over.`,
	Args: cobra.ExactArgs(1),
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
		ctx := cmd.Context()
		return withApp(ctx, func(a *app, _ *model.User) error {
			res, err := filtersync.ImportJSONL(ctx, a.store, r)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d saved searches (%d skipped)\n", res.Created, res.Skipped)
			return nil
		})
	},
}

// pickBackup returns the configured backup named by from, or the first
// configured one when from is empty.
func pickBackup(backups []filtersync.Backup, from string) (filtersync.Backup, error) {
	for _, b := range backups {
		if from == "" || strings.HasPrefix(b.String(), from+":") {
			return b, nil
		}
	}
	if from == "" {
		return nil, errors.New("no backup configured: set JQL_SYNC_S3_BUCKET or JQL_SYNC_GIT_REPO")
	}
	return nil, fmt.Errorf("no %s backup configured", from)
}

var filterRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Load saved searches from the configured backup",
	Long: `Load saved searches from the S3 object or git file that "jql serve"
backs up to. Searches are merged as with "filter import".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		if from != "" && from != "s3" && from != "git" {
			return fmt.Errorf("invalid --from %q (want s3 or git)", from)
		}
		ctx := cmd.Context()
		b, err := pickBackup(syncDestinations(ctx), from)
		if err != nil {
			return err
		}
		return withApp(ctx, func(a *app, _ *model.User) error {
			res, err := filtersync.Restore(ctx, a.store, b)
			if err != nil {
				return err
			}
			a.logger.Info("restored saved searches", "from", b.String(), "created", res.Created, "skipped", res.Skipped)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d saved searches from %s (%d skipped)\n", res.Created, b, res.Skipped)
			return nil
		})
	},
}

func init() {
	filterCreateCmd.Flags().String("name", "", "name of the saved search (required)")
	filterCreateCmd.Flags().String("description", "", "description")
	filterCreateCmd.Flags().StringArray("share", nil, "share with global, group:<name>, project:<id> or user:<key> (repeatable)")
	filterCreateCmd.MarkFlagRequired("name")

	filterSearchCmd.Flags().String("text", "", "match name and description")
	filterSearchCmd.Flags().String("owner", "", "only searches owned by this user key")
	filterSearchCmd.Flags().String("share", "", "only searches carrying this share")
	filterSearchCmd.Flags().String("sort", string(model.SortByName), "sort by name, owner or favourites")
	filterSearchCmd.Flags().Bool("desc", false, "sort descending")
	filterSearchCmd.Flags().Int("start", 0, "zero-based offset")
	filterSearchCmd.Flags().Int("limit", 0, "page size (default from configuration)")

	filterUpdateCmd.Flags().String("name", "", "new name")
	filterUpdateCmd.Flags().String("description", "", "new description")
	filterUpdateCmd.Flags().String("query", "", "new JQL query")
	filterUpdateCmd.Flags().StringArray("share", nil, "replace the shares (repeatable)")
	filterUpdateCmd.Flags().Bool("private", false, "remove every share")

	filterExportCmd.Flags().StringP("output", "o", "", "file to write (default stdout)")
	filterRestoreCmd.Flags().String("from", "", "backup to read: s3 or git (default the first configured)")

	filterCmd.AddCommand(filterCreateCmd)
	filterCmd.AddCommand(filterShowCmd)
	filterCmd.AddCommand(filterListCmd)
	filterCmd.AddCommand(filterSearchCmd)
	filterCmd.AddCommand(filterUpdateCmd)
	filterCmd.AddCommand(filterDeleteCmd)
	filterCmd.AddCommand(favouriteCmd("fav", "Mark a saved search as a favourite", true))
	filterCmd.AddCommand(favouriteCmd("unfav", "Remove a saved search from your favourites", false))
	filterCmd.AddCommand(filterExportCmd)
	filterCmd.AddCommand(filterImportCmd)
	filterCmd.AddCommand(filterRestoreCmd)
}
