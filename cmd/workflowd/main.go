// workflowd is the workflow service: an API plane (serve), a step worker
// plane (worker), and a demo seeder (seed).
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
	"github.com/awaregh/platform/internal/auth"
	"github.com/awaregh/platform/internal/engine"
	"github.com/awaregh/platform/internal/engine/completion"
	"github.com/awaregh/platform/internal/pushbus"
	"github.com/awaregh/platform/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "workflowd",
		Short: "Workflow execution service",
	}
	root.AddCommand(serveCmd(), workerCmd(), seedCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func completionClient(deps *app.Deps) completion.Client {
	if deps.Cfg.MockCompletions() {
		deps.Logger.Info("completion capability in mock mode")
		return completion.NewMock()
	}
	return completion.NewHTTPClient(deps.Cfg.CompletionURL, deps.Cfg.CompletionAPIKey)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			deps, err := app.Bootstrap(ctx, "workflowd")
			if err != nil {
				return err
			}
			defer deps.Close()

			bus := pushbus.New(deps.Logger)
			executor := engine.NewExecutor(completionClient(deps), nil, deps.Logger)
			eng := engine.New(deps.Store, deps.Queue, bus, executor, deps.Logger,
				engine.Config{Env: deps.TemplateEnv()})

			handler := api.NewHandler(api.HandlerConfig{
				Store:      deps.Store,
				Auth:       auth.NewService(deps.Store, deps.Store, deps.Cfg.JWTSecret),
				Engine:     eng,
				Bus:        bus,
				Limiter:    api.NewRedisRateLimiter(deps.Redis, 0),
				Logger:     deps.Logger,
				Production: deps.Cfg.IsProduction(),
				DBPinger:   deps.Store,
				KVPinger:   api.NewRedisPinger(deps.Redis),
			})

			e := api.NewEcho(handler, deps.Cfg.IsDevelopment())
			api.RegisterWorkflowRoutes(e, handler)

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
				bus.Shutdown(drainCtx)
			}

			deps.Logger.Info("server stopped gracefully")
			return nil
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the step worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := app.Bootstrap(ctx, "workflowd-worker")
			if err != nil {
				return err
			}
			defer deps.Close()

			executor := engine.NewExecutor(completionClient(deps), nil, deps.Logger)
			eng := engine.New(deps.Store, deps.Queue, nil, executor, deps.Logger,
				engine.Config{Env: deps.TemplateEnv()})

			pool := worker.NewStepWorker(eng, deps.Queue, deps.Store, deps.Logger, worker.StepWorkerConfig{
				Concurrency:    deps.Cfg.StepWorkerConcurrency,
				StepsPerSecond: deps.Cfg.StepRateLimit,
			})

			done := make(chan struct{})
			go func() {
				pool.Run(ctx)
				close(done)
			}()

			<-ctx.Done()
			deps.Logger.Info("draining step workers")
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
