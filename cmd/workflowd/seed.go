package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/awaregh/platform/internal/app"
	"github.com/awaregh/platform/internal/auth"
	"github.com/awaregh/platform/pkg/models"
)

const (
	seedTenantName = "Demo Tenant"
	seedEmail      = "demo@example.com"
	seedPassword   = "demo-password"
)

// seedCmd idempotently creates a demo tenant with an example workflow and
// site so a fresh environment has something to click through.
func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo tenant with an example workflow and site",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			deps, err := app.Bootstrap(ctx, "workflowd-seed")
			if err != nil {
				return err
			}
			defer deps.Close()
			logger := deps.Logger.Named("seed")

			// 1. Ensure the demo tenant and admin user exist
			user, err := deps.Store.GetUserByEmail(ctx, seedEmail)
			if err != nil {
				if !models.IsNotFound(err) {
					return err
				}
				authSvc := auth.NewService(deps.Store, deps.Store, deps.Cfg.JWTSecret)
				user, _, err = authSvc.Register(ctx, seedTenantName, seedEmail, seedPassword)
				if err != nil {
					return err
				}
				logger.Info("created demo tenant", "tenant_id", user.TenantID)
			} else {
				logger.Info("found existing demo tenant", "tenant_id", user.TenantID)
			}

			// 2. Check for existing rows to prevent duplicates
			workflows, _, err := deps.Store.ListWorkflows(ctx, user.TenantID, repositoryPage())
			if err != nil {
				return err
			}
			existingWorkflows := make(map[string]bool)
			for _, wf := range workflows {
				existingWorkflows[wf.Name] = true
			}

			for _, wf := range seedWorkflows(user) {
				if existingWorkflows[wf.Name] {
					logger.Info("skipping existing workflow", "name", wf.Name)
					continue
				}
				if err := deps.Store.CreateWorkflow(ctx, wf); err != nil {
					logger.Error("failed to create workflow", "name", wf.Name, "error", err)
					continue
				}
				logger.Info("seeded workflow", "name", wf.Name, "id", wf.ID)
			}

			// 3. Demo site with a couple of published pages
			sites, _, err := deps.Store.ListSites(ctx, user.TenantID, repositoryPage())
			if err != nil {
				return err
			}
			existingSites := make(map[string]bool)
			for _, s := range sites {
				existingSites[s.Slug] = true
			}

			site := seedSite(user.TenantID)
			if existingSites[site.Slug] {
				logger.Info("skipping existing site", "slug", site.Slug)
			} else {
				if err := deps.Store.CreateSite(ctx, site); err != nil {
					return err
				}
				for _, page := range seedPages(site.ID) {
					if err := deps.Store.CreatePage(ctx, page); err != nil {
						logger.Error("failed to create page", "path", page.Path, "error", err)
					}
				}
				logger.Info("seeded site", "slug", site.Slug, "subdomain", site.Subdomain)
			}

			logger.Info("seeding complete")
			return nil
		},
	}
}
