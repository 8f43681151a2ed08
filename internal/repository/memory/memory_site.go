package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/awaregh/platform/internal/repository"
	"github.com/awaregh/platform/pkg/models"
)

func (s *Store) CreateSite(_ context.Context, site *models.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sites {
		if existing.Subdomain == site.Subdomain {
			return fmt.Errorf("%w: sites_subdomain_key", models.ErrConflict)
		}
		if existing.TenantID == site.TenantID && existing.Slug == site.Slug {
			return fmt.Errorf("%w: sites_tenant_id_slug_key", models.ErrConflict)
		}
	}
	cp := *site
	s.sites[site.ID] = &cp
	return nil
}

func (s *Store) GetSite(_ context.Context, tenantID, id string) (*models.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok || site.TenantID != tenantID {
		return nil, models.ErrNotFound
	}
	cp := *site
	return &cp, nil
}

func (s *Store) GetSiteBySubdomain(_ context.Context, subdomain string) (*models.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, site := range s.sites {
		if site.Subdomain == subdomain {
			cp := *site
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) ListSites(_ context.Context, tenantID string, page repository.PageRequest) ([]*models.Site, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Site
	for _, site := range s.sites {
		if site.TenantID == tenantID {
			cp := *site
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) UpdateSite(_ context.Context, site *models.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sites[site.ID]
	if !ok || existing.TenantID != site.TenantID {
		return models.ErrNotFound
	}
	// the active pointer only moves through activation and rollback
	cp := *site
	cp.ActiveVersionID = existing.ActiveVersionID
	s.sites[site.ID] = &cp
	return nil
}

func (s *Store) DeleteSite(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok || site.TenantID != tenantID {
		return models.ErrNotFound
	}
	delete(s.sites, id)
	for pid, p := range s.pages {
		if p.SiteID == id {
			delete(s.pages, pid)
		}
	}
	for vid, v := range s.versions {
		if v.SiteID == id {
			delete(s.versions, vid)
		}
	}
	for jid, j := range s.buildJobs {
		if v, ok := s.versions[j.SiteVersionID]; !ok || v.SiteID == id {
			delete(s.buildJobs, jid)
		}
	}
	return nil
}

func (s *Store) CreatePage(_ context.Context, page *models.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.pages {
		if existing.SiteID == page.SiteID && existing.Path == page.Path {
			return fmt.Errorf("%w: pages_site_id_path_key", models.ErrConflict)
		}
	}
	cp := *page
	s.pages[page.ID] = &cp
	return nil
}

func (s *Store) GetPage(_ context.Context, siteID, id string) (*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok || page.SiteID != siteID {
		return nil, models.ErrNotFound
	}
	cp := *page
	return &cp, nil
}

func (s *Store) ListPages(_ context.Context, siteID string, page repository.PageRequest) ([]*models.Page, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pagesOf(siteID, false)
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) ListPublishedPages(_ context.Context, siteID string) ([]*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagesOf(siteID, true), nil
}

func (s *Store) pagesOf(siteID string, publishedOnly bool) []*models.Page {
	var out []*models.Page
	for _, p := range s.pages {
		if p.SiteID != siteID {
			continue
		}
		if publishedOnly && !p.IsPublished {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func (s *Store) UpdatePage(_ context.Context, page *models.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.pages[page.ID]
	if !ok || existing.SiteID != page.SiteID {
		return models.ErrNotFound
	}
	for _, other := range s.pages {
		if other.ID != page.ID && other.SiteID == page.SiteID && other.Path == page.Path {
			return fmt.Errorf("%w: pages_site_id_path_key", models.ErrConflict)
		}
	}
	cp := *page
	s.pages[page.ID] = &cp
	return nil
}

func (s *Store) DeletePage(_ context.Context, siteID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok || page.SiteID != siteID {
		return models.ErrNotFound
	}
	delete(s.pages, id)
	return nil
}

func (s *Store) CreateVersionWithJob(_ context.Context, version *models.SiteVersion, job *models.BuildJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vc := *version
	s.versions[version.ID] = &vc
	jc := *job
	s.buildJobs[job.ID] = &jc
	return nil
}

func (s *Store) GetVersion(_ context.Context, siteID, id string) (*models.SiteVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok || v.SiteID != siteID {
		return nil, models.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) GetVersionByID(_ context.Context, id string) (*models.SiteVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) ListVersions(_ context.Context, siteID string, page repository.PageRequest) ([]*models.SiteVersion, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SiteVersion
	for _, v := range s.versions {
		if v.SiteID == siteID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) NextVersionNumber(_ context.Context, siteID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, v := range s.versions {
		if v.SiteID == siteID && v.Version > max {
			max = v.Version
		}
	}
	return max + 1, nil
}

func (s *Store) GetBuildJob(_ context.Context, id string) (*models.BuildJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.buildJobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *Store) UpdateBuildJob(_ context.Context, job *models.BuildJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buildJobs[job.ID]; !ok {
		return models.ErrNotFound
	}
	cp := *job
	s.buildJobs[job.ID] = &cp
	return nil
}

func (s *Store) ActivateVersion(_ context.Context, version *models.SiteVersion, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[version.ID]
	if !ok {
		return models.ErrNotFound
	}
	site, ok := s.sites[version.SiteID]
	if !ok {
		return models.ErrNotFound
	}

	now := time.Now().UTC()
	v.Status = models.VersionStatusReady
	v.PageCount = version.PageCount
	v.AssetSize = version.AssetSize
	v.ManifestHash = version.ManifestHash
	v.BuildDurationMs = version.BuildDurationMs
	v.PublishedAt = &now

	if site.ActiveVersionID != "" && site.ActiveVersionID != version.ID {
		if prev, ok := s.versions[site.ActiveVersionID]; ok {
			prev.Status = models.VersionStatusSuperseded
		}
	}
	site.ActiveVersionID = version.ID

	if job, ok := s.buildJobs[jobID]; ok {
		job.Status = models.BuildJobCompleted
		job.CompletedAt = &now
	}
	return nil
}

func (s *Store) FailVersion(_ context.Context, versionID, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.versions[versionID]; ok {
		v.Status = models.VersionStatusFailed
	}
	if job, ok := s.buildJobs[jobID]; ok {
		now := time.Now().UTC()
		job.Status = models.BuildJobFailed
		job.Error = reason
		job.CompletedAt = &now
	}
	return nil
}

func (s *Store) PromoteVersion(_ context.Context, siteID, targetVersionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return models.ErrNotFound
	}
	target, ok := s.versions[targetVersionID]
	if !ok || target.SiteID != siteID {
		return models.ErrNotFound
	}

	target.Status = models.VersionStatusReady
	if site.ActiveVersionID != "" && site.ActiveVersionID != targetVersionID {
		if prev, ok := s.versions[site.ActiveVersionID]; ok {
			prev.Status = models.VersionStatusSuperseded
		}
	}
	site.ActiveVersionID = targetVersionID
	return nil
}
