package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tickwork/internal/app"
	logx "tickwork/pkg/logx"
)

func newRunCmd() *cobra.Command {
	var (
		cfgPath     string
		stopTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			boot := logx.NewConsole("info").With(logx.String("comp", "main"))
			a, err := app.NewApp(cfgPath)
			if err != nil {
				boot.Error("startup failed", logx.String("config", cfgPath), logx.Err(err))
				return err
			}

			reason := app.StopSignal
			if err := a.Start(ctx); err != nil {
				boot.Error("start failed", logx.Err(err))
				reason = app.StopFatalError
			} else {
				select {
				case <-ctx.Done():
				case <-a.Done():
					reason = app.StopFatalError
				}
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			stopErr := a.Stop(stopCtx, reason)
			if reason == app.StopFatalError {
				if err := a.Err(); err != nil {
					return err
				}
			}
			return stopErr
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config file (json or yaml)")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 30*time.Second, "upper bound for graceful shutdown")
	return cmd
}
