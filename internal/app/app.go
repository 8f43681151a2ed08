// Package app bootstraps the shared dependencies of both service binaries:
// config, logging, the relational pool, the KV client, and the job store.
package app

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/awaregh/platform/internal/config"
	"github.com/awaregh/platform/internal/jobstore"
	"github.com/awaregh/platform/internal/logging"
	"github.com/awaregh/platform/internal/repository"
)

type Deps struct {
	Cfg    *config.Config
	Logger hclog.Logger
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Store  *repository.PostgresStore
	Queue  *jobstore.RedisQueue
}

// Bootstrap loads config and connects every shared backend. Any failure
// here is fatal for the process.
func Bootstrap(ctx context.Context, service string) (*Deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := logging.New(service, cfg.LogLevel, cfg.IsProduction())

	pool, err := repository.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	kv, err := jobstore.Connect(ctx, cfg.KVURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv store: %w", err)
	}

	logger.Info("dependencies connected", "env", cfg.Env)
	return &Deps{
		Cfg:    cfg,
		Logger: logger,
		Pool:   pool,
		Redis:  kv,
		Store:  repository.NewPostgresStore(pool),
		Queue:  jobstore.NewRedisQueue(kv),
	}, nil
}

// Close releases every store handle.
func (d *Deps) Close() {
	d.Queue.Close()
	d.Pool.Close()
}

// TemplateEnv exposes the non-secret configuration visible to workflow
// templates as env.*.
func (d *Deps) TemplateEnv() map[string]any {
	return map[string]any{
		"ENV":          d.Cfg.Env,
		"CDN_BASE_URL": d.Cfg.CDNBaseURL,
	}
}
