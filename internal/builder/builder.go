// Package builder snapshots a site's published pages into an immutable
// artifact version and activates it with an atomic pointer flip. A failed
// build never moves the active pointer; the site keeps serving the
// previous version.
package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/awaregh/platform/internal/artifact"
	"github.com/awaregh/platform/internal/jobstore"
	"github.com/awaregh/platform/internal/renderer"
	"github.com/awaregh/platform/internal/repository"
	"github.com/awaregh/platform/pkg/models"
)

const buildJobKind = "site.build"

// BuildJobPayload is the queue payload referencing the persisted job row.
type BuildJobPayload struct {
	BuildJobID string `json:"build_job_id"`
	TenantID   string `json:"tenant_id"`
	Attempt    int    `json:"attempt"`
}

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	WorkerID   string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.WorkerID == "" {
		c.WorkerID = "builder-" + uuid.New().String()[:8]
	}
	return c
}

// Invalidator lets the builder evict resolver cache entries after a
// publish or rollback moves the active pointer.
type Invalidator interface {
	Invalidate(subdomain string)
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(string) {}

type Service struct {
	store     repository.Store
	artifacts artifact.Store
	queue     jobstore.Queue
	cache     Invalidator
	logger    hclog.Logger
	cfg       Config
	now       func() time.Time
}

func New(store repository.Store, artifacts artifact.Store, queue jobstore.Queue, cache Invalidator, logger hclog.Logger, cfg Config) *Service {
	if cache == nil {
		cache = nopInvalidator{}
	}
	return &Service{
		store:     store,
		artifacts: artifacts,
		queue:     queue,
		cache:     cache,
		logger:    logger.Named("builder"),
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// Publish creates the next BUILDING version with its QUEUED build job and
// enqueues the job.
func (s *Service) Publish(ctx context.Context, tenantID, siteID string) (*models.SiteVersion, *models.BuildJob, error) {
	site, err := s.store.GetSite(ctx, tenantID, siteID)
	if err != nil {
		return nil, nil, err
	}

	pages, err := s.store.ListPublishedPages(ctx, site.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(pages) == 0 {
		return nil, nil, models.NewValidationError("site has no published pages",
			models.FieldError{Path: "pages", Message: "publish requires at least one published page"})
	}

	number, err := s.store.NextVersionNumber(ctx, site.ID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	version := &models.SiteVersion{
		ID:             uuid.New().String(),
		SiteID:         site.ID,
		TenantID:       tenantID,
		Version:        number,
		ArtifactPrefix: fmt.Sprintf("sites/%s/%s/%d", tenantID, site.ID, number),
		Status:         models.VersionStatusBuilding,
		CreatedAt:      now,
	}
	job := &models.BuildJob{
		ID:            uuid.New().String(),
		SiteVersionID: version.ID,
		TenantID:      tenantID,
		Status:        models.BuildJobQueued,
		CreatedAt:     now,
	}

	if err := s.store.CreateVersionWithJob(ctx, version, job); err != nil {
		return nil, nil, err
	}
	if err := s.enqueue(ctx, job.ID, tenantID, 0, 0); err != nil {
		return nil, nil, err
	}

	s.logger.Info("publish queued", "site_id", site.ID, "version", number)
	return version, job, nil
}

// ExecuteBuild renders and uploads the version's artifacts, then activates
// it. Page state is read at execution time, so edits made after Publish
// land in the build.
func (s *Service) ExecuteBuild(ctx context.Context, jobID string) error {
	job, err := s.store.GetBuildJob(ctx, jobID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil
		}
		return err
	}
	if job.Status == models.BuildJobCompleted || job.Status == models.BuildJobFailed {
		return nil
	}

	started := s.now().UTC()
	job.Status = models.BuildJobProcessing
	job.WorkerID = s.cfg.WorkerID
	job.StartedAt = &started
	if err := s.store.UpdateBuildJob(ctx, job); err != nil {
		return err
	}

	version, err := s.store.GetVersionByID(ctx, job.SiteVersionID)
	if err != nil {
		return err
	}

	if buildErr := s.build(ctx, job, version); buildErr != nil {
		return s.handleBuildError(ctx, job, version, buildErr)
	}
	return nil
}

func (s *Service) build(ctx context.Context, job *models.BuildJob, version *models.SiteVersion) error {
	started := s.now()

	site, err := s.store.GetSite(ctx, version.TenantID, version.SiteID)
	if err != nil {
		return err
	}
	pages, err := s.store.ListPublishedPages(ctx, site.ID)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("site %s has no published pages", site.ID)
	}

	prefix := version.ArtifactPrefix
	var (
		manifestPages []models.ManifestPage
		totalSize     int64
	)

	for _, page := range pages {
		html := renderer.RenderPage(page, site)
		sum := sha256.Sum256([]byte(html))
		key := prefix + "/" + artifact.PagePathToFile(page.Path)

		if err := s.artifacts.Put(ctx, key, []byte(html), "text/html; charset=utf-8"); err != nil {
			return err
		}

		manifestPages = append(manifestPages, models.ManifestPage{
			Path:        page.Path,
			ArtifactKey: key,
			Title:       page.Title,
			Hash:        hex.EncodeToString(sum[:]),
			Size:        int64(len(html)),
		})
		totalSize += int64(len(html))
	}

	notFound := renderer.RenderNotFound(site)
	if err := s.artifacts.Put(ctx, prefix+"/404.html", []byte(notFound), "text/html; charset=utf-8"); err != nil {
		return err
	}
	totalSize += int64(len(notFound))

	var hashes strings.Builder
	for _, p := range manifestPages {
		hashes.WriteString(p.Hash)
	}
	checksum := sha256.Sum256([]byte(hashes.String()))

	manifest := models.Manifest{
		Version:     version.Version,
		SiteID:      site.ID,
		TenantID:    version.TenantID,
		GeneratedAt: s.now().UTC(),
		Pages:       manifestPages,
		Assets:      []string{},
		TotalSize:   totalSize,
		Checksum:    hex.EncodeToString(checksum[:]),
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := s.artifacts.Put(ctx, prefix+"/manifest.json", raw, "application/json"); err != nil {
		return err
	}

	version.PageCount = len(manifestPages)
	version.AssetSize = totalSize
	version.ManifestHash = manifest.Checksum
	version.BuildDurationMs = s.now().Sub(started).Milliseconds()

	if err := s.store.ActivateVersion(ctx, version, job.ID); err != nil {
		return err
	}
	s.cache.Invalidate(site.Subdomain)

	s.logger.Info("version activated",
		"site_id", site.ID, "version", version.Version,
		"pages", version.PageCount, "duration_ms", version.BuildDurationMs)
	return nil
}

func (s *Service) handleBuildError(ctx context.Context, job *models.BuildJob, version *models.SiteVersion, buildErr error) error {
	job.RetryCount++
	job.Error = buildErr.Error()

	if job.RetryCount <= s.cfg.MaxRetries {
		job.Status = models.BuildJobQueued
		if err := s.store.UpdateBuildJob(ctx, job); err != nil {
			return err
		}
		delay := s.cfg.BaseDelay * (1 << (job.RetryCount - 1))
		s.logger.Warn("build failed, scheduling retry",
			"job_id", job.ID, "attempt", job.RetryCount, "delay", delay, "error", buildErr)
		return s.enqueue(ctx, job.ID, job.TenantID, job.RetryCount, delay)
	}

	s.logger.Error("build failed permanently", "job_id", job.ID, "error", buildErr)
	if err := s.store.FailVersion(ctx, version.ID, job.ID, buildErr.Error()); err != nil {
		return err
	}
	return &models.BuildError{SiteVersionID: version.ID, Err: buildErr}
}

// Rollback activates a prior READY or SUPERSEDED version.
func (s *Service) Rollback(ctx context.Context, tenantID, siteID, targetVersionID string) (*models.SiteVersion, error) {
	site, err := s.store.GetSite(ctx, tenantID, siteID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetVersion(ctx, site.ID, targetVersionID)
	if err != nil {
		return nil, err
	}
	if target.Status != models.VersionStatusReady && target.Status != models.VersionStatusSuperseded {
		return nil, models.NewValidationError("version is not eligible for rollback",
			models.FieldError{Path: "versionId", Message: fmt.Sprintf("version status is %s", target.Status)})
	}

	if err := s.store.PromoteVersion(ctx, site.ID, target.ID); err != nil {
		return nil, err
	}
	s.cache.Invalidate(site.Subdomain)

	s.logger.Info("rolled back", "site_id", site.ID, "version", target.Version)
	return s.store.GetVersion(ctx, site.ID, target.ID)
}

func (s *Service) enqueue(ctx context.Context, jobID, tenantID string, attempt int, delay time.Duration) error {
	payload := BuildJobPayload{BuildJobID: jobID, TenantID: tenantID, Attempt: attempt}
	queued, err := jobstore.NewJob(fmt.Sprintf("%s:%d", jobID, attempt), buildJobKind, payload)
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, jobstore.BuildQueue, queued, delay)
}
