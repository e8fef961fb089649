package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/issuesearch/internal/config"
	"github.com/alfredjeanlab/issuesearch/internal/ui"
)

var (
	jsonOutput bool
	userKey    string
	colorMode  string
	dataFile   string

	cfg    *config.Config
	logger *slog.Logger
	styler ui.Styler
)

func defaultUser() string {
	return os.Getenv("JQL_USER")
}

var rootCmd = &cobra.Command{
	Use:           "jql <command>",
	Short:         "Search issues with the JQL query language",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		switch colorMode {
		case "auto":
			styler = ui.Styler{Color: ui.ShouldUseColor(os.Stdout)}
		case "always":
			styler = ui.Styler{Color: true}
		case "never":
			styler = ui.Styler{}
		default:
			return fmt.Errorf("unknown --color mode %q (must be auto, always or never)", colorMode)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVarP(&userKey, "user", "u", defaultUser(), "key of the searching user (empty = anonymous)")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "colorize output (auto, always or never)")
	rootCmd.PersistentFlags().StringVar(&dataFile, "data", "", "JSON dataset to load into the store before running the command")

	rootCmd.AddGroup(
		&cobra.Group{ID: "search", Title: "Searching:"},
		&cobra.Group{ID: "filters", Title: "Saved searches:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Searching
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(namesCmd)

	// Saved searches
	rootCmd.AddCommand(filterCmd)

	// System
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, styler.Error("Error: "+err.Error()))
		os.Exit(1)
	}
}
