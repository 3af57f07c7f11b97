package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen-cli/internal/api"
	"github.com/sells-group/leadgen-cli/internal/pipeline"
)

const shutdownTimeout = 15 * time.Second

var (
	servePort        int
	serveEmbedWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job API server",
	Long:  "Serves the job submission API. With an in-memory queue, or --embed-worker, the worker pool and recovery sweep run in the same process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		server := api.NewServer(env.Store, env.Queue, api.Options{
			CORSOrigins: cfg.Server.CORSOrigins,
			Metrics:     env.Metrics,
			Collector:   env.Collector,
			Logger:      zap.L(),
		})
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		// Nothing outside this process can drain an in-memory queue.
		embed := serveEmbedWorker || cfg.Server.EmbedWorker || cfg.Queue.Driver == "memory"
		if embed {
			if err := startBackground(gctx, g, env); err != nil {
				return err
			}
		}
		if checker := newChecker(env); checker != nil {
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port), zap.Bool("embedded_worker", embed))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

// startBackground runs the worker pool and the recovery sweep in g until
// ctx is done.
func startBackground(ctx context.Context, g *errgroup.Group, env *appEnv) error {
	recovery, err := newRecovery(env)
	if err != nil {
		return err
	}
	if err := recovery.Start(ctx); err != nil {
		return err
	}

	pool := pipeline.NewPool(env.Queue, env.Worker, cfg.Worker.Concurrency, zap.L(), env.Metrics)
	g.Go(func() error {
		return pool.Run(ctx)
	})
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveEmbedWorker, "embed-worker", false, "run the worker pool in the server process")
	rootCmd.AddCommand(serveCmd)
}
