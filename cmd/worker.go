package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued jobs",
	Long:  "Runs the worker pool against the configured queue, along with the stale-job recovery sweep and the alert checker.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if workerConcurrency > 0 {
			cfg.Worker.Concurrency = workerConcurrency
		}
		if cfg.Queue.Driver == "memory" {
			zap.L().Warn("worker is using an in-memory queue; only recovered jobs will be processed")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		g, gctx := errgroup.WithContext(ctx)
		if err := startBackground(gctx, g, env); err != nil {
			return err
		}
		if checker := newChecker(env); checker != nil {
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "concurrent jobs (default from config)")
	rootCmd.AddCommand(workerCmd)
}
