package resolver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaregh/platform/internal/artifact"
	"github.com/awaregh/platform/internal/repository/memory"
	"github.com/awaregh/platform/pkg/models"
)

type fixture struct {
	store     *memory.Store
	artifacts *artifact.MemoryStore
	resolver  *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	artifacts := artifact.NewMemoryStore()
	return &fixture{
		store:     store,
		artifacts: artifacts,
		resolver:  New(store, artifacts, hclog.NewNullLogger()),
	}
}

func (f *fixture) seedSite(t *testing.T, subdomain string, versionNumber int) (*models.Site, *models.SiteVersion) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	site := &models.Site{
		ID: "site-" + subdomain, TenantID: "tenant-1",
		Name: subdomain, Slug: subdomain, Subdomain: subdomain,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.store.CreateSite(ctx, site))

	version := &models.SiteVersion{
		ID: "ver-" + subdomain, SiteID: site.ID, TenantID: site.TenantID,
		Version:        versionNumber,
		ArtifactPrefix: "sites/tenant-1/" + site.ID + "/1",
		Status:         models.VersionStatusBuilding,
		CreatedAt:      now,
	}
	job := &models.BuildJob{ID: "job-" + subdomain, SiteVersionID: version.ID, TenantID: site.TenantID, Status: models.BuildJobQueued, CreatedAt: now}
	require.NoError(t, f.store.CreateVersionWithJob(ctx, version, job))
	require.NoError(t, f.store.ActivateVersion(ctx, version, job.ID))

	prefix := version.ArtifactPrefix
	require.NoError(t, f.artifacts.Put(ctx, prefix+"/index.html", []byte("<html>home</html>"), "text/html; charset=utf-8"))
	require.NoError(t, f.artifacts.Put(ctx, prefix+"/about/index.html", []byte("<html>about</html>"), "text/html; charset=utf-8"))
	require.NoError(t, f.artifacts.Put(ctx, prefix+"/404.html", []byte("<html>missing</html>"), "text/html; charset=utf-8"))
	require.NoError(t, f.artifacts.Put(ctx, prefix+"/assets/app.css", []byte("body{}"), "text/css"))
	return site, version
}

func TestResolveRootPage(t *testing.T) {
	f := newFixture(t)
	f.seedSite(t, "acme", 1)

	res, err := f.resolver.Resolve(context.Background(), "acme", "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "<html>home</html>", string(res.Body))
	assert.Equal(t, "text/html; charset=utf-8", res.ContentType)
	assert.Equal(t, pageCacheControl, res.CacheControl)
	assert.Equal(t, 1, res.Version)
}

func TestResolveNestedPage(t *testing.T) {
	f := newFixture(t)
	f.seedSite(t, "acme", 1)

	res, err := f.resolver.Resolve(context.Background(), "acme", "/about")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "<html>about</html>", string(res.Body))
}

func TestResolveAssetGetsImmutableCaching(t *testing.T) {
	f := newFixture(t)
	f.seedSite(t, "acme", 1)

	res, err := f.resolver.Resolve(context.Background(), "acme", "/assets/app.css")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, assetCacheControl, res.CacheControl)
	assert.Contains(t, res.ContentType, "text/css")
}

func TestMissingPageFallsBackTo404Document(t *testing.T) {
	f := newFixture(t)
	f.seedSite(t, "acme", 1)

	res, err := f.resolver.Resolve(context.Background(), "acme", "/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "<html>missing</html>", string(res.Body))
}

func TestMissingAssetIsPlain404(t *testing.T) {
	f := newFixture(t)
	f.seedSite(t, "acme", 1)

	res, err := f.resolver.Resolve(context.Background(), "acme", "/assets/nope.js")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestUnknownSubdomain(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve(context.Background(), "ghost", "/")
	assert.True(t, models.IsNotFound(err))
}

func TestSiteWithoutActiveVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	site := &models.Site{ID: "site-bare", TenantID: "tenant-1", Name: "bare", Slug: "bare", Subdomain: "bare", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.store.CreateSite(ctx, site))

	_, err := f.resolver.Resolve(ctx, "bare", "/")
	assert.True(t, models.IsNotFound(err))
}

func TestCacheServesStaleUntilInvalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	site, _ := f.seedSite(t, "acme", 1)

	// prime the cache
	res, err := f.resolver.Resolve(ctx, "acme", "/")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)

	// activate a new version behind the cache's back
	now := time.Now().UTC()
	v2 := &models.SiteVersion{
		ID: "ver-2", SiteID: site.ID, TenantID: site.TenantID,
		Version:        2,
		ArtifactPrefix: "sites/tenant-1/" + site.ID + "/2",
		Status:         models.VersionStatusBuilding,
		CreatedAt:      now,
	}
	job := &models.BuildJob{ID: "job-2", SiteVersionID: v2.ID, TenantID: site.TenantID, Status: models.BuildJobQueued, CreatedAt: now}
	require.NoError(t, f.store.CreateVersionWithJob(ctx, v2, job))
	require.NoError(t, f.store.ActivateVersion(ctx, v2, job.ID))
	require.NoError(t, f.artifacts.Put(ctx, v2.ArtifactPrefix+"/index.html", []byte("<html>v2</html>"), "text/html; charset=utf-8"))

	// still within TTL: the cached version is served
	res, err = f.resolver.Resolve(ctx, "acme", "/")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)

	// explicit invalidation flips immediately
	f.resolver.Invalidate(site.Subdomain)
	res, err = f.resolver.Resolve(ctx, "acme", "/")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version)
	assert.Equal(t, "<html>v2</html>", string(res.Body))
}

func TestCacheExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSite(t, "acme", 1)

	current := time.Now()
	f.resolver.now = func() time.Time { return current }

	res, err := f.resolver.Resolve(ctx, "acme", "/")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)

	// move past the TTL; the next request re-resolves
	current = current.Add(cacheTTL + time.Second)
	res, err = f.resolver.Resolve(ctx, "acme", "/")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
}
