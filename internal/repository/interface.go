// Package repository defines the narrow store interfaces both services
// persist through, plus their Postgres implementations. API-facing reads
// are tenant scoped; the worker-plane and public lookups (GetRunByID,
// GetVersionByID, GetBuildJob, GetSiteBySubdomain) take no tenant and are
// keyed by globally unique ids or subdomains.
package repository

import (
	"context"
	"time"

	"github.com/awaregh/platform/pkg/models"
)

// PageRequest is the common pagination input. Page starts at 1.
type PageRequest struct {
	Page  int
	Limit int
}

func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Normalize clamps the request into the supported window.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	return p
}

type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, tenantID, id string) (*models.User, error)
}

type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, tenantID, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, tenantID string, page PageRequest) ([]*models.Workflow, int, error)
	// UpdateWorkflow bumps the version on every definition change.
	UpdateWorkflow(ctx context.Context, wf *models.Workflow) error
	// DeactivateWorkflow soft-deletes; runs keep referencing the row.
	DeactivateWorkflow(ctx context.Context, tenantID, id string) error
}

type RunStore interface {
	// CreateRun persists the run and its full step set in one transaction.
	CreateRun(ctx context.Context, run *models.Run, steps []*models.Step) error
	GetRun(ctx context.Context, tenantID, id string) (*models.Run, error)
	// GetRunByID looks the run up without a tenant predicate. Only the
	// worker plane uses it; jobs already carry the tenant.
	GetRunByID(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, tenantID, workflowID string, status models.RunStatus, page PageRequest) ([]*models.Run, int, error)
	UpdateRun(ctx context.Context, run *models.Run) error

	GetStep(ctx context.Context, runID, stepKey string) (*models.Step, error)
	ListSteps(ctx context.Context, runID string) ([]*models.Step, error)
	UpdateStep(ctx context.Context, step *models.Step) error

	// CancelRun marks the run cancelled and skips every PENDING or RUNNING
	// step in the same transaction.
	CancelRun(ctx context.Context, tenantID, id string) (*models.Run, error)
	// SkipPendingSteps transitions the run's remaining PENDING steps to
	// SKIPPED and returns how many were skipped.
	SkipPendingSteps(ctx context.Context, runID string) (int, error)
}

type EventStore interface {
	AppendEvent(ctx context.Context, event *models.Event) error
	ListEvents(ctx context.Context, runID string, since time.Time, page PageRequest) ([]*models.Event, int, error)
}

type SiteStore interface {
	CreateSite(ctx context.Context, site *models.Site) error
	GetSite(ctx context.Context, tenantID, id string) (*models.Site, error)
	GetSiteBySubdomain(ctx context.Context, subdomain string) (*models.Site, error)
	ListSites(ctx context.Context, tenantID string, page PageRequest) ([]*models.Site, int, error)
	UpdateSite(ctx context.Context, site *models.Site) error
	// DeleteSite cascades to the site's pages and versions.
	DeleteSite(ctx context.Context, tenantID, id string) error
}

type PageStore interface {
	CreatePage(ctx context.Context, page *models.Page) error
	GetPage(ctx context.Context, siteID, id string) (*models.Page, error)
	ListPages(ctx context.Context, siteID string, page PageRequest) ([]*models.Page, int, error)
	// ListPublishedPages returns isPublished pages ordered by sort order.
	ListPublishedPages(ctx context.Context, siteID string) ([]*models.Page, error)
	UpdatePage(ctx context.Context, page *models.Page) error
	DeletePage(ctx context.Context, siteID, id string) error
}

type VersionStore interface {
	// CreateVersionWithJob creates the BUILDING version and its QUEUED
	// build job in one transaction.
	CreateVersionWithJob(ctx context.Context, version *models.SiteVersion, job *models.BuildJob) error
	GetVersion(ctx context.Context, siteID, id string) (*models.SiteVersion, error)
	// GetVersionByID is the worker-plane lookup; build jobs already carry
	// the tenant.
	GetVersionByID(ctx context.Context, id string) (*models.SiteVersion, error)
	ListVersions(ctx context.Context, siteID string, page PageRequest) ([]*models.SiteVersion, int, error)
	NextVersionNumber(ctx context.Context, siteID string) (int, error)

	GetBuildJob(ctx context.Context, id string) (*models.BuildJob, error)
	UpdateBuildJob(ctx context.Context, job *models.BuildJob) error

	// ActivateVersion atomically marks the version READY with its build
	// totals, supersedes the previously active version, flips the site's
	// active pointer, and completes the build job.
	ActivateVersion(ctx context.Context, version *models.SiteVersion, jobID string) error
	// FailVersion marks the version and job failed, leaving the site's
	// active pointer untouched.
	FailVersion(ctx context.Context, versionID, jobID, reason string) error
	// PromoteVersion performs the rollback transaction: target becomes
	// READY and active, the displaced version becomes SUPERSEDED.
	PromoteVersion(ctx context.Context, siteID, targetVersionID string) error
}

// Store aggregates every interface; the Postgres implementation satisfies
// all of them from a single pool.
type Store interface {
	TenantStore
	UserStore
	WorkflowStore
	RunStore
	EventStore
	SiteStore
	PageStore
	VersionStore
}
