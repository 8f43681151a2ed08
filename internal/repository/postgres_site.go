package repository

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/awaregh/platform/pkg/models"
)

func (s *PostgresStore) CreateSite(ctx context.Context, site *models.Site) error {
	settings, err := json.Marshal(site.Settings)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO sites (id, tenant_id, name, slug, subdomain, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		site.ID, site.TenantID, site.Name, site.Slug, site.Subdomain, settings, site.CreatedAt, site.UpdatedAt)
	return mapError(err)
}

const siteColumns = `id, tenant_id, name, slug, subdomain, settings, COALESCE(active_version_id::text, ''), created_at, updated_at`

func scanSite(row interface{ Scan(...any) error }) (*models.Site, error) {
	var (
		site     models.Site
		settings []byte
	)
	err := row.Scan(&site.ID, &site.TenantID, &site.Name, &site.Slug, &site.Subdomain,
		&settings, &site.ActiveVersionID, &site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := json.Unmarshal(settings, &site.Settings); err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *PostgresStore) GetSite(ctx context.Context, tenantID, id string) (*models.Site, error) {
	return scanSite(s.db.QueryRow(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (s *PostgresStore) GetSiteBySubdomain(ctx context.Context, subdomain string) (*models.Site, error) {
	return scanSite(s.db.QueryRow(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE subdomain = $1`, subdomain))
}

func (s *PostgresStore) ListSites(ctx context.Context, tenantID string, page PageRequest) ([]*models.Site, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM sites WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE tenant_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var sites []*models.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, 0, err
		}
		sites = append(sites, site)
	}
	return sites, total, rows.Err()
}

func (s *PostgresStore) UpdateSite(ctx context.Context, site *models.Site) error {
	settings, err := json.Marshal(site.Settings)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE sites SET name = $1, slug = $2, settings = $3, updated_at = $4
		 WHERE tenant_id = $5 AND id = $6`,
		site.Name, site.Slug, settings, site.UpdatedAt, site.TenantID, site.ID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteSite(ctx context.Context, tenantID, id string) error {
	// pages, versions, and build jobs cascade via foreign keys
	tag, err := s.db.Exec(ctx,
		`DELETE FROM sites WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePage(ctx context.Context, page *models.Page) error {
	content, err := json.Marshal(page.Content)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO pages (id, site_id, path, title, content, seo_title, seo_description, is_published, sort_order, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11)`,
		page.ID, page.SiteID, page.Path, page.Title, content, page.SEOTitle, page.SEODescription,
		page.IsPublished, page.SortOrder, page.CreatedAt, page.UpdatedAt)
	return mapError(err)
}

const pageColumns = `id, site_id, path, title, content, COALESCE(seo_title, ''), COALESCE(seo_description, ''), is_published, sort_order, created_at, updated_at`

func scanPage(row interface{ Scan(...any) error }) (*models.Page, error) {
	var (
		page    models.Page
		content []byte
	)
	err := row.Scan(&page.ID, &page.SiteID, &page.Path, &page.Title, &content,
		&page.SEOTitle, &page.SEODescription, &page.IsPublished, &page.SortOrder,
		&page.CreatedAt, &page.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := json.Unmarshal(content, &page.Content); err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *PostgresStore) GetPage(ctx context.Context, siteID, id string) (*models.Page, error) {
	return scanPage(s.db.QueryRow(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE site_id = $1 AND id = $2`, siteID, id))
}

func (s *PostgresStore) ListPages(ctx context.Context, siteID string, page PageRequest) ([]*models.Page, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM pages WHERE site_id = $1`, siteID).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE site_id = $1
		 ORDER BY sort_order, path LIMIT $2 OFFSET $3`,
		siteID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var pages []*models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, 0, err
		}
		pages = append(pages, p)
	}
	return pages, total, rows.Err()
}

func (s *PostgresStore) ListPublishedPages(ctx context.Context, siteID string) ([]*models.Page, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE site_id = $1 AND is_published
		 ORDER BY sort_order, path`, siteID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var pages []*models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (s *PostgresStore) UpdatePage(ctx context.Context, page *models.Page) error {
	content, err := json.Marshal(page.Content)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE pages SET path = $1, title = $2, content = $3, seo_title = NULLIF($4, ''), seo_description = NULLIF($5, ''), is_published = $6, sort_order = $7, updated_at = $8
		 WHERE site_id = $9 AND id = $10`,
		page.Path, page.Title, content, page.SEOTitle, page.SEODescription,
		page.IsPublished, page.SortOrder, page.UpdatedAt, page.SiteID, page.ID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeletePage(ctx context.Context, siteID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM pages WHERE site_id = $1 AND id = $2`, siteID, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
