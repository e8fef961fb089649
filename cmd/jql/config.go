package main

import (
	"net/url"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Inspect the effective configuration",
	GroupID: "system",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	Long: `Print the configuration after the JQL_CONFIG_FILE file and JQL_*
environment variables are applied. The output is itself a valid
configuration file. Database passwords are redacted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := *cfg
		if u, err := url.Parse(c.DatabaseURL); err == nil && u.User != nil {
			c.DatabaseURL = u.Redacted()
		}
		return c.WriteTOML(cmd.OutOrStdout())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
