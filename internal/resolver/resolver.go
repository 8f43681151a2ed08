// Package resolver translates (subdomain, path) requests into artifact
// bytes for the public serve endpoint. Active-version lookups are cached
// per subdomain for a short TTL and invalidated on publish and rollback.
package resolver

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/awaregh/platform/internal/artifact"
	"github.com/awaregh/platform/internal/repository"
	"github.com/awaregh/platform/pkg/models"
)

const cacheTTL = 30 * time.Second

const (
	assetCacheControl = "public, max-age=31536000, immutable"
	pageCacheControl  = "public, max-age=60, s-maxage=300"
)

// paths ending in a dotted extension are static assets
var assetPattern = regexp.MustCompile(`\.\w+$`)

// Resolution is a fully served response: body, headers, and status.
type Resolution struct {
	Body         []byte
	ContentType  string
	CacheControl string
	Version      int
	StatusCode   int
}

type cacheEntry struct {
	prefix    string
	version   int
	expiresAt time.Time
}

type Resolver struct {
	store     repository.Store
	artifacts artifact.Store
	logger    hclog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

func New(store repository.Store, artifacts artifact.Store, logger hclog.Logger) *Resolver {
	return &Resolver{
		store:     store,
		artifacts: artifacts,
		logger:    logger.Named("resolver"),
		cache:     make(map[string]cacheEntry),
		now:       time.Now,
	}
}

// Invalidate evicts the cached lookup for a subdomain. The builder calls
// it whenever the active pointer moves.
func (r *Resolver) Invalidate(subdomain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, subdomain)
}

// Resolve serves one request. A missing page falls back to the version's
// 404 document; a missing asset or missing 404 surfaces a plain 404.
func (r *Resolver) Resolve(ctx context.Context, subdomain, requestPath string) (*Resolution, error) {
	entry, err := r.lookup(ctx, subdomain)
	if err != nil {
		return nil, err
	}

	if requestPath == "" {
		requestPath = "/"
	}
	if !strings.HasPrefix(requestPath, "/") {
		requestPath = "/" + requestPath
	}

	if assetPattern.MatchString(requestPath) {
		return r.serveAsset(ctx, entry, requestPath)
	}
	return r.servePage(ctx, entry, requestPath)
}

func (r *Resolver) lookup(ctx context.Context, subdomain string) (cacheEntry, error) {
	r.mu.Lock()
	cached, ok := r.cache[subdomain]
	r.mu.Unlock()
	if ok && r.now().Before(cached.expiresAt) {
		return cached, nil
	}

	site, err := r.store.GetSiteBySubdomain(ctx, subdomain)
	if err != nil {
		return cacheEntry{}, err
	}
	if site.ActiveVersionID == "" {
		return cacheEntry{}, fmt.Errorf("site %s has no active version: %w", subdomain, models.ErrNotFound)
	}
	version, err := r.store.GetVersion(ctx, site.ID, site.ActiveVersionID)
	if err != nil {
		return cacheEntry{}, err
	}

	entry := cacheEntry{
		prefix:    version.ArtifactPrefix,
		version:   version.Version,
		expiresAt: r.now().Add(cacheTTL),
	}
	r.mu.Lock()
	r.cache[subdomain] = entry
	r.mu.Unlock()
	return entry, nil
}

func (r *Resolver) serveAsset(ctx context.Context, entry cacheEntry, requestPath string) (*Resolution, error) {
	data, err := r.artifacts.Get(ctx, entry.prefix+requestPath)
	if err != nil {
		if models.IsNotFound(err) {
			return &Resolution{
				Body:         []byte("not found"),
				ContentType:  "text/plain; charset=utf-8",
				CacheControl: pageCacheControl,
				Version:      entry.version,
				StatusCode:   http.StatusNotFound,
			}, nil
		}
		return nil, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(requestPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Resolution{
		Body:         data,
		ContentType:  contentType,
		CacheControl: assetCacheControl,
		Version:      entry.version,
		StatusCode:   http.StatusOK,
	}, nil
}

func (r *Resolver) servePage(ctx context.Context, entry cacheEntry, requestPath string) (*Resolution, error) {
	key := entry.prefix + "/" + artifact.PagePathToFile(requestPath)

	data, err := r.artifacts.Get(ctx, key)
	status := http.StatusOK
	if err != nil {
		if !models.IsNotFound(err) {
			return nil, err
		}
		data, err = r.artifacts.Get(ctx, entry.prefix+"/404.html")
		if err != nil {
			if models.IsNotFound(err) {
				return &Resolution{
					Body:         []byte("not found"),
					ContentType:  "text/plain; charset=utf-8",
					CacheControl: pageCacheControl,
					Version:      entry.version,
					StatusCode:   http.StatusNotFound,
				}, nil
			}
			return nil, err
		}
		status = http.StatusNotFound
	}

	return &Resolution{
		Body:         data,
		ContentType:  "text/html; charset=utf-8",
		CacheControl: pageCacheControl,
		Version:      entry.version,
		StatusCode:   status,
	}, nil
}
