package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/oicur0t/loglwatch/internal/render"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one batch pass over file-backed services",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, root.configPath)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			results, err := rt.loop.RunBatch(ctx)
			if err != nil {
				rt.logger.Error("Batch pass finished with errors", zap.Error(err))
			}
			if output != "" {
				if werr := render.Write(cmd.OutOrStdout(), output, results); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Print the pass results: text or json")
	return cmd
}
