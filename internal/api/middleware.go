package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/awaregh/platform/internal/auth"
	"github.com/awaregh/platform/pkg/models"
)

const identityKey = "identity"

// Guard authenticates bearer tokens and populates the caller identity on
// the request context. Every query downstream carries the identity's
// tenant id.
func (h *Handler) Guard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c.Request())
		if token == "" {
			return h.writeError(c, models.ErrUnauthorized)
		}
		identity, err := h.auth.Verify(token)
		if err != nil {
			return h.writeError(c, models.ErrUnauthorized)
		}
		c.Set(identityKey, identity)
		return next(c)
	}
}

func identityOf(c echo.Context) *auth.Identity {
	identity, _ := c.Get(identityKey).(*auth.Identity)
	return identity
}

// requireAdmin gates destructive operations to the tenant's admins.
func requireAdmin(c echo.Context) error {
	if identity := identityOf(c); identity == nil || identity.Role != models.RoleAdmin {
		return models.ErrForbidden
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// the websocket handshake cannot set headers from a browser
	return r.URL.Query().Get("token")
}

// RateLimiter is the fixed-window limiter in front of all API routes.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisRateLimiter counts requests per client in a fixed one-minute window.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, limit int) *RedisRateLimiter {
	if limit <= 0 {
		limit = 100
	}
	return &RedisRateLimiter{client: client, limit: limit, window: time.Minute}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().Unix() / int64(l.window.Seconds())
	bucket := fmt.Sprintf("ratelimit:%s:%d", key, window)

	count, err := l.client.Incr(ctx, bucket).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		l.client.Expire(ctx, bucket, l.window)
	}
	return count <= int64(l.limit), nil
}

// MemoryRateLimiter backs tests and single-process development.
type MemoryRateLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	limit  int
	window int64
}

func NewMemoryRateLimiter(limit int) *MemoryRateLimiter {
	if limit <= 0 {
		limit = 100
	}
	return &MemoryRateLimiter{counts: make(map[string]int), limit: limit}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	window := time.Now().Unix() / 60
	if window != l.window {
		l.window = window
		l.counts = make(map[string]int)
	}
	l.counts[key]++
	return l.counts[key] <= l.limit, nil
}

// RateLimit applies the limiter keyed by the authenticated user when an
// identity is already on the context, otherwise by the client address. The
// router mounts it ahead of Guard, so API requests are keyed by client
// address.
func (h *Handler) RateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.RealIP()
		if identity := identityOf(c); identity != nil {
			key = identity.UserID
		}
		ok, err := h.limiter.Allow(c.Request().Context(), key)
		if err != nil {
			// a broken limiter must not take the API down
			h.logger.Warn("rate limiter unavailable", "error", err)
			return next(c)
		}
		if !ok {
			return h.writeError(c, models.ErrRateLimited)
		}
		return next(c)
	}
}

// AccessLog writes one structured line per request.
func (h *Handler) AccessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		h.logger.Debug("request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}
}
