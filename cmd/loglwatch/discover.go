package main

import (
	"github.com/oicur0t/loglwatch/internal/discover"
	"github.com/spf13/cobra"
)

func newDiscoverCmd() *cobra.Command {
	var (
		patterns []string
		plugin   string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find log files and print matching service entries as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(patterns) == 0 {
				patterns = discover.DefaultPatterns
			}
			entries, err := discover.Find(patterns, plugin)
			if err != nil {
				return err
			}
			return discover.WriteYAML(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringArrayVarP(&patterns, "pattern", "p", nil, "Glob pattern, ** matches any depth (repeatable)")
	cmd.Flags().StringVar(&plugin, "plugin", "", "Plugin to assign to every discovered service")
	return cmd
}
