package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/loglwatch/loglwatch.yaml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "loglwatch",
		Short: "Log health monitor with throttled restarts",
		Long: `loglwatch reads the logs of files, containers and pods, classifies every
line with the plugin assigned to the service and restarts services that turn
unhealthy, never more often than their restart budget allows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "Path to configuration file")

	cmd.AddCommand(
		newCheckCmd(opts),
		newStreamCmd(opts),
		newStatusCmd(opts),
		newDiscoverCmd(),
	)
	return cmd
}
