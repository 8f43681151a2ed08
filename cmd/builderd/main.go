// builderd is the site builder service: an API plane (serve) and a build
// worker plane (worker).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/awaregh/platform/internal/api"
	"github.com/awaregh/platform/internal/app"
	"github.com/awaregh/platform/internal/artifact"
	"github.com/awaregh/platform/internal/auth"
	"github.com/awaregh/platform/internal/builder"
	"github.com/awaregh/platform/internal/resolver"
	"github.com/awaregh/platform/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "builderd",
		Short: "Site build and serve service",
	}
	root.AddCommand(serveCmd(), workerCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildService(deps *app.Deps) (*builder.Service, *resolver.Resolver, error) {
	artifacts, err := artifact.NewS3Store(deps.Cfg.ObjectStore)
	if err != nil {
		return nil, nil, err
	}
	res := resolver.New(deps.Store, artifacts, deps.Logger)
	svc := builder.New(deps.Store, artifacts, deps.Queue, res, deps.Logger, builder.Config{})
	return svc, res, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the builder HTTP API and public serve endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			deps, err := app.Bootstrap(ctx, "builderd")
			if err != nil {
				return err
			}
			defer deps.Close()

			svc, res, err := buildService(deps)
			if err != nil {
				return err
			}

			handler := api.NewHandler(api.HandlerConfig{
				Store:      deps.Store,
				Auth:       auth.NewService(deps.Store, deps.Store, deps.Cfg.JWTSecret),
				Builder:    svc,
				Resolver:   res,
				Limiter:    api.NewRedisRateLimiter(deps.Redis, 0),
				Logger:     deps.Logger,
				Production: deps.Cfg.IsProduction(),
				DBPinger:   deps.Store,
				KVPinger:   api.NewRedisPinger(deps.Redis),
			})

			e := api.NewEcho(handler, deps.Cfg.IsDevelopment())
			api.RegisterBuilderRoutes(e, handler)

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", deps.Cfg.Port),
				Handler:      e,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serverErrors := make(chan error, 1)
			go func() {
				deps.Logger.Info("server starting", "addr", server.Addr)
				serverErrors <- server.ListenAndServe()
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-serverErrors:
				if err != http.ErrServerClosed {
					return fmt.Errorf("server error: %w", err)
				}
			case sig := <-shutdown:
				deps.Logger.Info("shutdown signal received", "signal", sig.String())

				drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := server.Shutdown(drainCtx); err != nil {
					deps.Logger.Error("server shutdown error", "error", err)
					server.Close()
					os.Exit(1)
				}
			}

			deps.Logger.Info("server stopped gracefully")
			return nil
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the build worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := app.Bootstrap(ctx, "builderd-worker")
			if err != nil {
				return err
			}
			defer deps.Close()

			svc, _, err := buildService(deps)
			if err != nil {
				return err
			}

			pool := worker.NewBuildWorker(svc, deps.Queue, deps.Logger, worker.BuildWorkerConfig{
				Concurrency: deps.Cfg.BuildWorkerConcurrency,
			})

			done := make(chan struct{})
			go func() {
				pool.Run(ctx)
				close(done)
			}()

			<-ctx.Done()
			deps.Logger.Info("draining build workers")
			select {
			case <-done:
			case <-time.After(shutdownTimeout):
				deps.Logger.Error("drain window elapsed")
				os.Exit(1)
			}
			return nil
		},
	}
}
