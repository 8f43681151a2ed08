package api

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/awaregh/platform/pkg/models"
)

var (
	slugPattern      = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	subdomainPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	pagePathPattern  = regexp.MustCompile(`^/(?:[a-zA-Z0-9._~-]+(?:/[a-zA-Z0-9._~-]+)*)?$`)
)

type siteRequest struct {
	Name      string               `json:"name"`
	Slug      string               `json:"slug"`
	Subdomain string               `json:"subdomain"`
	Settings  *models.SiteSettings `json:"settings"`
}

func validateSiteRequest(req siteRequest, create bool) error {
	var fields []models.FieldError
	if create && req.Name == "" {
		fields = append(fields, models.FieldError{Path: "name", Message: "name is required"})
	}
	if req.Slug != "" && !slugPattern.MatchString(req.Slug) {
		fields = append(fields, models.FieldError{Path: "slug", Message: "slug must be lowercase letters, digits, and dashes"})
	} else if create && req.Slug == "" {
		fields = append(fields, models.FieldError{Path: "slug", Message: "slug is required"})
	}
	if create {
		if req.Subdomain == "" || !subdomainPattern.MatchString(req.Subdomain) || len(req.Subdomain) > 63 {
			fields = append(fields, models.FieldError{Path: "subdomain", Message: "subdomain must be lowercase letters, digits, and dashes"})
		}
	}
	if len(fields) > 0 {
		return models.NewValidationError("invalid site", fields...)
	}
	return nil
}

func (h *Handler) HandleListSites(c echo.Context) error {
	identity := identityOf(c)
	req := pageRequest(c)
	sites, total, err := h.store.ListSites(c.Request().Context(), identity.TenantID, req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, paged(sites, req, total))
}

func (h *Handler) HandleCreateSite(c echo.Context) error {
	identity := identityOf(c)

	var req siteRequest
	if err := c.Bind(&req); err != nil {
		return h.writeError(c, models.NewValidationError("malformed request body"))
	}
	if err := validateSiteRequest(req, true); err != nil {
		return h.writeError(c, err)
	}

	now := time.Now().UTC()
	site := &models.Site{
		ID:        uuid.New().String(),
		TenantID:  identity.TenantID,
		Name:      req.Name,
		Slug:      req.Slug,
		Subdomain: req.Subdomain,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Settings != nil {
		site.Settings = *req.Settings
	}
	if err := h.store.CreateSite(c.Request().Context(), site); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, site)
}

func (h *Handler) HandleGetSite(c echo.Context) error {
	identity := identityOf(c)
	site, err := h.store.GetSite(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, site)
}

// HandleUpdateSite merges partial settings over the stored ones; the
// subdomain is immutable after creation.
func (h *Handler) HandleUpdateSite(c echo.Context) error {
	identity := identityOf(c)
	ctx := c.Request().Context()

	site, err := h.store.GetSite(ctx, identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}

	var req siteRequest
	if err := c.Bind(&req); err != nil {
		return h.writeError(c, models.NewValidationError("malformed request body"))
	}
	if err := validateSiteRequest(req, false); err != nil {
		return h.writeError(c, err)
	}

	if req.Name != "" {
		site.Name = req.Name
	}
	if req.Slug != "" {
		site.Slug = req.Slug
	}
	if req.Settings != nil {
		if err := mergo.Merge(&site.Settings, *req.Settings, mergo.WithOverride); err != nil {
			return h.writeError(c, fmt.Errorf("failed to merge settings: %w", err))
		}
	}
	site.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateSite(ctx, site); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, site)
}

func (h *Handler) HandleDeleteSite(c echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return h.writeError(c, err)
	}
	identity := identityOf(c)
	site, err := h.store.GetSite(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	if err := h.store.DeleteSite(c.Request().Context(), identity.TenantID, site.ID); err != nil {
		return h.writeError(c, err)
	}
	h.resolver.Invalidate(site.Subdomain)
	return c.NoContent(http.StatusNoContent)
}

type publishResponse struct {
	Version *models.SiteVersion `json:"version"`
	Job     *models.BuildJob    `json:"job"`
}

func (h *Handler) HandlePublishSite(c echo.Context) error {
	identity := identityOf(c)
	version, job, err := h.builder.Publish(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, publishResponse{Version: version, Job: job})
}

type rollbackRequest struct {
	VersionID string `json:"versionId"`
}

func (h *Handler) HandleRollbackSite(c echo.Context) error {
	identity := identityOf(c)

	var req rollbackRequest
	if err := c.Bind(&req); err != nil {
		return h.writeError(c, models.NewValidationError("malformed request body"))
	}
	if req.VersionID == "" {
		return h.writeError(c, models.NewValidationError("invalid rollback",
			models.FieldError{Path: "versionId", Message: "versionId is required"}))
	}

	version, err := h.builder.Rollback(c.Request().Context(), identity.TenantID, c.Param("id"), req.VersionID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, version)
}

func (h *Handler) HandleListVersions(c echo.Context) error {
	identity := identityOf(c)
	ctx := c.Request().Context()

	site, err := h.store.GetSite(ctx, identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}

	req := pageRequest(c)
	versions, total, err := h.store.ListVersions(ctx, site.ID, req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, paged(versions, req, total))
}

type pageRequestBody struct {
	Path           string              `json:"path"`
	Title          string              `json:"title"`
	Content        *models.PageContent `json:"content"`
	SEOTitle       string              `json:"seoTitle"`
	SEODescription string              `json:"seoDescription"`
	IsPublished    *bool               `json:"isPublished"`
	SortOrder      *int                `json:"sortOrder"`
}

func validatePagePath(path string) error {
	if !pagePathPattern.MatchString(path) {
		return models.NewValidationError("invalid page",
			models.FieldError{Path: "path", Message: "path must start with / and contain only URL-safe segments"})
	}
	return nil
}

func (h *Handler) HandleListPages(c echo.Context) error {
	identity := identityOf(c)
	ctx := c.Request().Context()

	site, err := h.store.GetSite(ctx, identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}

	req := pageRequest(c)
	pages, total, err := h.store.ListPages(ctx, site.ID, req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, paged(pages, req, total))
}

func (h *Handler) HandleCreatePage(c echo.Context) error {
	identity := identityOf(c)
	ctx := c.Request().Context()

	site, err := h.store.GetSite(ctx, identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}

	var req pageRequestBody
	if err := c.Bind(&req); err != nil {
		return h.writeError(c, models.NewValidationError("malformed request body"))
	}
	if req.Title == "" {
		return h.writeError(c, models.NewValidationError("invalid page",
			models.FieldError{Path: "title", Message: "title is required"}))
	}
	if err := validatePagePath(req.Path); err != nil {
		return h.writeError(c, err)
	}

	now := time.Now().UTC()
	page := &models.Page{
		ID:             uuid.New().String(),
		SiteID:         site.ID,
		Path:           req.Path,
		Title:          req.Title,
		SEOTitle:       req.SEOTitle,
		SEODescription: req.SEODescription,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Content != nil {
		page.Content = *req.Content
	}
	if req.IsPublished != nil {
		page.IsPublished = *req.IsPublished
	}
	if req.SortOrder != nil {
		page.SortOrder = *req.SortOrder
	}

	if err := h.store.CreatePage(ctx, page); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, page)
}

func (h *Handler) HandleUpdatePage(c echo.Context) error {
	identity := identityOf(c)
	ctx := c.Request().Context()

	site, err := h.store.GetSite(ctx, identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	page, err := h.store.GetPage(ctx, site.ID, c.Param("pageId"))
	if err != nil {
		return h.writeError(c, err)
	}

	var req pageRequestBody
	if err := c.Bind(&req); err != nil {
		return h.writeError(c, models.NewValidationError("malformed request body"))
	}
	if req.Path != "" {
		if err := validatePagePath(req.Path); err != nil {
			return h.writeError(c, err)
		}
		page.Path = req.Path
	}
	if req.Title != "" {
		page.Title = req.Title
	}
	if req.Content != nil {
		page.Content = *req.Content
	}
	if req.SEOTitle != "" {
		page.SEOTitle = req.SEOTitle
	}
	if req.SEODescription != "" {
		page.SEODescription = req.SEODescription
	}
	if req.IsPublished != nil {
		page.IsPublished = *req.IsPublished
	}
	if req.SortOrder != nil {
		page.SortOrder = *req.SortOrder
	}
	page.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdatePage(ctx, page); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) HandleDeletePage(c echo.Context) error {
	identity := identityOf(c)
	ctx := c.Request().Context()

	site, err := h.store.GetSite(ctx, identity.TenantID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	if err := h.store.DeletePage(ctx, site.ID, c.Param("pageId")); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleServe is the public artifact endpoint; it carries no auth.
func (h *Handler) HandleServe(c echo.Context) error {
	subdomain := c.Param("subdomain")
	path := c.Param("*")

	res, err := h.resolver.Resolve(c.Request().Context(), subdomain, path)
	if err != nil {
		if models.IsNotFound(err) {
			return c.String(http.StatusNotFound, "not found")
		}
		return h.writeError(c, err)
	}

	c.Response().Header().Set("Cache-Control", res.CacheControl)
	c.Response().Header().Set("X-Site-Version", fmt.Sprintf("%d", res.Version))
	return c.Blob(res.StatusCode, res.ContentType, res.Body)
}
