package main

import (
	"context"
	"fmt"

	"github.com/oicur0t/loglwatch/internal/render"
	"github.com/oicur0t/loglwatch/internal/store"
	"github.com/spf13/cobra"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the latest health snapshot of every service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, logger, err := setup(root.configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			st, err := store.Open(ctx, cfg.State, logger)
			if err != nil {
				return fmt.Errorf("failed to open state store: %w", err)
			}
			defer st.Close(ctx)

			snaps, err := st.LoadSnapshots(ctx)
			if err != nil {
				return err
			}
			return render.Write(cmd.OutOrStdout(), output, snaps)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", render.FormatText, "Output format: text or json")
	return cmd
}
