package main

import (
	"time"

	"github.com/google/uuid"

	"github.com/awaregh/platform/internal/repository"
	"github.com/awaregh/platform/pkg/models"
)

func repositoryPage() repository.PageRequest {
	return repository.PageRequest{Page: 1, Limit: 100}
}

func seedWorkflows(user *models.User) []*models.Workflow {
	now := time.Now().UTC()
	return []*models.Workflow{
		{
			ID:       uuid.New().String(),
			TenantID: user.TenantID,
			Name:     "Content Summarizer",
			Version:  1,
			IsActive: true,
			Definition: models.WorkflowDefinition{
				Metadata:   models.DefinitionMetadata{Name: "Content Summarizer", Version: 1, Description: "Summarize input text and package the summary with a timestamp."},
				Entrypoint: "summarize",
				Nodes: map[string]models.Node{
					"summarize": {
						ID:   "summarize",
						Type: models.NodeAICompletion,
						Config: models.AICompletionConfig{
							SystemPrompt:       "You are a concise technical summarizer.",
							UserPromptTemplate: "Summarize the following text:\n\n{{input.text}}",
							MaxTokens:          256,
						},
						Next: []string{"deliver"},
					},
					"deliver": {
						ID:     "deliver",
						Type:   models.NodeTransform,
						Config: models.TransformConfig{Template: map[string]any{"summary": "{{steps[\"summarize\"].output.content}}", "generatedAt": "{{now}}"}},
					},
				},
				Edges: []models.Edge{{From: "summarize", To: "deliver"}},
			},
			CreatedBy: user.ID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:       uuid.New().String(),
			TenantID: user.TenantID,
			Name:     "Uptime Check",
			Version:  1,
			IsActive: true,
			Definition: models.WorkflowDefinition{
				Metadata:   models.DefinitionMetadata{Name: "Uptime Check", Version: 1, Description: "Fetch a URL and branch on the status code."},
				Entrypoint: "fetch",
				Nodes: map[string]models.Node{
					"fetch": {
						ID:     "fetch",
						Type:   models.NodeHTTPRequest,
						Config: models.HTTPRequestConfig{URL: "{{input.url}}", Method: "GET"},
						Next:   []string{"check"},
					},
					"check": {
						ID:   "check",
						Type: models.NodeCondition,
						Config: models.ConditionConfig{
							Expression:  `steps["fetch"].output.statusCode < 400`,
							TrueBranch:  "healthy",
							FalseBranch: "unhealthy",
						},
					},
					"healthy": {
						ID:     "healthy",
						Type:   models.NodeTransform,
						Config: models.TransformConfig{Template: map[string]any{"status": "up", "checkedAt": "{{now}}"}},
					},
					"unhealthy": {
						ID:     "unhealthy",
						Type:   models.NodeTransform,
						Config: models.TransformConfig{Template: map[string]any{"status": "down", "checkedAt": "{{now}}"}},
					},
				},
				Edges: []models.Edge{{From: "fetch", To: "check"}},
			},
			CreatedBy: user.ID,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func seedSite(tenantID string) *models.Site {
	now := time.Now().UTC()
	return &models.Site{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      "Demo Studio",
		Slug:      "demo-studio",
		Subdomain: "demo-studio",
		Settings: models.SiteSettings{
			Theme: models.ThemeSettings{
				PrimaryColor:   "#2563eb",
				SecondaryColor: "#7c3aed",
			},
			Navigation: []models.NavItem{
				{Label: "Home", Path: "/"},
				{Label: "About", Path: "/about"},
			},
			FooterText: "Built with Demo Studio",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func seedPages(siteID string) []*models.Page {
	now := time.Now().UTC()
	return []*models.Page{
		{
			ID:     uuid.New().String(),
			SiteID: siteID,
			Path:   "/",
			Title:  "Home",
			Content: models.PageContent{Sections: []models.Section{
				{Type: models.SectionHero, Props: models.HeroProps{
					Heading:    "Ship your site in minutes",
					Subheading: "Structured pages, instant publishing, one-click rollback.",
					CTAText:    "Get started",
					CTALink:    "/about",
					Alignment:  models.AlignCenter,
				}},
				{Type: models.SectionFeatures, Props: models.FeaturesProps{
					Heading: "Why Demo Studio",
					Columns: 3,
					Items: []models.FeatureItem{
						{Icon: "rocket", Title: "Fast", Description: "Versions go live with a single pointer flip."},
						{Icon: "shield", Title: "Safe", Description: "Every publish is immutable and instantly reversible."},
						{Icon: "globe", Title: "Global", Description: "Artifacts are served straight from object storage."},
					},
				}},
			}},
			IsPublished: true,
			SortOrder:   0,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:     uuid.New().String(),
			SiteID: siteID,
			Path:   "/about",
			Title:  "About",
			Content: models.PageContent{Sections: []models.Section{
				{Type: models.SectionText, Props: models.TextProps{
					Heading:   "About us",
					Body:      "Demo Studio is the seeded example site for local development.",
					Alignment: models.AlignLeft,
				}},
				{Type: models.SectionCTA, Props: models.CTAProps{
					Heading:    "Ready to publish?",
					ButtonText: "Back home",
					ButtonLink: "/",
					Variant:    "primary",
				}},
			}},
			IsPublished: true,
			SortOrder:   1,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}
