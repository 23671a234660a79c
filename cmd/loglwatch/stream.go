package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oicur0t/loglwatch/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newStreamCmd(root *rootOptions) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Follow container, pod and file sources for a fixed duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, root.configPath)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if duration <= 0 {
				duration = rt.cfg.Streaming.Duration
			}
			rt.logger.Info("Starting loglwatch stream",
				zap.Duration("duration", duration),
				zap.Int("services", len(rt.cfg.Services)),
				zap.String("state_backend", rt.cfg.State.Backend))

			serverCtx, stopServer := context.WithCancel(ctx)
			serverDone := make(chan error, 1)
			if rt.cfg.Server.Enabled {
				handler := server.NewRouter(server.NewHandler(rt.loop, rt.logger), rt.metrics.Handler(), rt.cfg.Server, rt.logger)
				go func() {
					serverDone <- server.Run(serverCtx, rt.cfg.Server, handler, rt.logger)
				}()
			} else {
				serverDone <- nil
			}

			_, runErr := rt.loop.RunStreaming(ctx, duration)
			if runErr != nil {
				rt.logger.Error("Streaming pass finished with errors", zap.Error(runErr))
			}

			stopServer()
			if err := <-serverDone; err != nil {
				rt.logger.Error("Status server failed", zap.Error(err))
			}

			rt.logger.Info("Stream stopped gracefully")
			return runErr
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "How long to follow sources (default streaming.duration)")
	return cmd
}
