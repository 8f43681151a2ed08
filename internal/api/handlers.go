package api

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/awaregh/platform/internal/auth"
	"github.com/awaregh/platform/internal/builder"
	"github.com/awaregh/platform/internal/engine"
	"github.com/awaregh/platform/internal/pushbus"
	"github.com/awaregh/platform/internal/repository"
	"github.com/awaregh/platform/internal/resolver"
)

// Pinger reports dependency reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := p.client.Ping(ctx).Err()
	return time.Since(start), err
}

// NewRedisPinger adapts a redis client to the health check.
func NewRedisPinger(client *redis.Client) Pinger {
	return redisPinger{client: client}
}

// Handler carries the dependencies of every route.
type Handler struct {
	store      repository.Store
	auth       *auth.Service
	engine     *engine.Engine
	builder    *builder.Service
	resolver   *resolver.Resolver
	bus        *pushbus.Bus
	limiter    RateLimiter
	logger     hclog.Logger
	production bool

	dbPinger Pinger
	kvPinger Pinger
}

type HandlerConfig struct {
	Store      repository.Store
	Auth       *auth.Service
	Engine     *engine.Engine
	Builder    *builder.Service
	Resolver   *resolver.Resolver
	Bus        *pushbus.Bus
	Limiter    RateLimiter
	Logger     hclog.Logger
	Production bool
	DBPinger   Pinger
	KVPinger   Pinger
}

func NewHandler(cfg HandlerConfig) *Handler {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewMemoryRateLimiter(0)
	}
	return &Handler{
		store:      cfg.Store,
		auth:       cfg.Auth,
		engine:     cfg.Engine,
		builder:    cfg.Builder,
		resolver:   cfg.Resolver,
		bus:        cfg.Bus,
		limiter:    limiter,
		logger:     cfg.Logger.Named("api"),
		production: cfg.Production,
		dbPinger:   cfg.DBPinger,
		kvPinger:   cfg.KVPinger,
	}
}

type healthCheck struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]healthCheck `json:"checks"`
}

// HandleHealth reports per-dependency reachability and latency. Any failed
// check flips the endpoint to 503.
func (h *Handler) HandleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]healthCheck)
	healthy := true
	for name, pinger := range map[string]Pinger{"postgres": h.dbPinger, "redis": h.kvPinger} {
		if pinger == nil {
			continue
		}
		latency, err := pinger.Ping(ctx)
		check := healthCheck{Status: "ok", LatencyMs: latency.Milliseconds()}
		if err != nil {
			healthy = false
			check.Status = "unreachable"
			check.Error = err.Error()
		}
		checks[name] = check
	}

	resp := healthResponse{Status: "ok", Timestamp: time.Now().UTC(), Checks: checks}
	if !healthy {
		resp.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
