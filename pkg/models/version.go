package models

import (
	"time"
)

type VersionStatus string

const (
	VersionStatusBuilding   VersionStatus = "BUILDING"
	VersionStatusReady      VersionStatus = "READY"
	VersionStatusFailed     VersionStatus = "FAILED"
	VersionStatusSuperseded VersionStatus = "SUPERSEDED"
)

// SiteVersion is an immutable snapshot of a site's pages in the artifact
// store. After creation only status and the build totals recorded at
// activation (page count, asset size, manifest hash, duration, publish
// time) change.
type SiteVersion struct {
	ID              string        `json:"id"`
	SiteID          string        `json:"site_id"`
	TenantID        string        `json:"tenant_id"`
	Version         int           `json:"version"`
	ArtifactPrefix  string        `json:"artifact_prefix"`
	Status          VersionStatus `json:"status"`
	PageCount       int           `json:"page_count"`
	AssetSize       int64         `json:"asset_size"`
	ManifestHash    string        `json:"manifest_hash,omitempty"`
	BuildDurationMs int64         `json:"build_duration_ms,omitempty"`
	PublishedAt     *time.Time    `json:"published_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

type BuildJobStatus string

const (
	BuildJobQueued     BuildJobStatus = "QUEUED"
	BuildJobProcessing BuildJobStatus = "PROCESSING"
	BuildJobCompleted  BuildJobStatus = "COMPLETED"
	BuildJobFailed     BuildJobStatus = "FAILED"
)

type BuildJob struct {
	ID            string         `json:"id"`
	SiteVersionID string         `json:"site_version_id"`
	TenantID      string         `json:"tenant_id"`
	Status        BuildJobStatus `json:"status"`
	RetryCount    int            `json:"retry_count"`
	WorkerID      string         `json:"worker_id,omitempty"`
	Error         string         `json:"error,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Manifest enumerates a version's artifacts. It is written once to the
// artifact store at {prefix}/manifest.json during a successful build.
type Manifest struct {
	Version     int            `json:"version"`
	SiteID      string         `json:"site_id"`
	TenantID    string         `json:"tenant_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Pages       []ManifestPage `json:"pages"`
	Assets      []string       `json:"assets"`
	TotalSize   int64          `json:"total_size"`
	Checksum    string         `json:"checksum"`
}

type ManifestPage struct {
	Path        string `json:"path"`
	ArtifactKey string `json:"artifact_key"`
	Title       string `json:"title"`
	Hash        string `json:"hash"`
	Size        int64  `json:"size"`
}
