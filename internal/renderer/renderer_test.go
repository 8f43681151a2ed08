package renderer

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaregh/platform/pkg/models"
)

func testSite() *models.Site {
	return &models.Site{
		ID:        "site-1",
		TenantID:  "tenant-1",
		Name:      "Acme",
		Slug:      "acme",
		Subdomain: "acme",
		Settings: models.SiteSettings{
			Theme: models.ThemeSettings{
				PrimaryColor: "#ff0000",
				FontHeading:  "Georgia, serif",
			},
			Navigation: []models.NavItem{
				{Label: "Home", Path: "/"},
				{Label: "About", Path: "/about"},
			},
			FooterText: "© Acme",
		},
	}
}

func testPage(sections ...models.Section) *models.Page {
	return &models.Page{
		ID:      "page-1",
		SiteID:  "site-1",
		Path:    "/",
		Title:   "Welcome",
		Content: models.PageContent{Sections: sections},
	}
}

func TestDocumentSkeleton(t *testing.T) {
	html := RenderPage(testPage(), testSite())

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, `<html lang="en">`)
	assert.Contains(t, html, `<meta charset="utf-8">`)
	assert.Contains(t, html, `name="viewport"`)
	assert.Contains(t, html, "<title>Welcome</title>")
	assert.Contains(t, html, `<meta property="og:type" content="website">`)
}

func TestSEOTitlePreferred(t *testing.T) {
	page := testPage()
	page.SEOTitle = "Welcome | Acme"
	page.SEODescription = "The Acme homepage"
	html := RenderPage(page, testSite())

	assert.Contains(t, html, "<title>Welcome | Acme</title>")
	assert.Contains(t, html, `<meta name="description" content="The Acme homepage">`)
	assert.Contains(t, html, `<meta property="og:title" content="Welcome | Acme">`)
}

func TestThemeCustomProperties(t *testing.T) {
	html := RenderPage(testPage(), testSite())

	assert.Contains(t, html, "--color-primary:#ff0000")
	assert.Contains(t, html, "--font-heading:Georgia, serif")
	// unset tokens fall back to defaults
	assert.Contains(t, html, "--color-bg:#ffffff")
}

func TestNavigationMarksActivePath(t *testing.T) {
	page := testPage()
	page.Path = "/about"
	html := RenderPage(page, testSite())

	assert.Contains(t, html, `<a href="/about" class="active">About</a>`)
	assert.Contains(t, html, `<a href="/">Home</a>`)
	assert.Contains(t, html, "© Acme")
}

func TestUserTextIsEscaped(t *testing.T) {
	hostile := `<script>alert("x")</script> & 'quotes'`
	page := testPage(
		models.Section{Type: models.SectionHero, Props: models.HeroProps{Heading: hostile, Subheading: hostile}},
		models.Section{Type: models.SectionText, Props: models.TextProps{Body: hostile}},
		models.Section{Type: models.SectionCTA, Props: models.CTAProps{Heading: hostile, ButtonText: hostile, ButtonLink: "/x"}},
	)
	site := testSite()
	site.Name = hostile
	site.Settings.FooterText = hostile

	html := RenderPage(page, site)

	assert.NotContains(t, html, hostile)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "&amp;")
}

func TestSectionsRenderInOrder(t *testing.T) {
	page := testPage(
		models.Section{Type: models.SectionText, Props: models.TextProps{Body: "first"}},
		models.Section{Type: models.SectionText, Props: models.TextProps{Body: "second"}},
	)
	html := RenderPage(page, testSite())
	assert.Less(t, strings.Index(html, "<p>first</p>"), strings.Index(html, "<p>second</p>"))
}

func TestUnknownSectionEmitsComment(t *testing.T) {
	page := testPage(models.Section{Type: "carousel"})
	html := RenderPage(page, testSite())
	assert.Contains(t, html, "<!-- unknown section type: carousel -->")
}

func TestFeatureIcons(t *testing.T) {
	page := testPage(models.Section{Type: models.SectionFeatures, Props: models.FeaturesProps{
		Columns: 3,
		Items: []models.FeatureItem{
			{Icon: "rocket", Title: "Fast", Description: "d"},
			{Icon: "no-such-icon", Title: "Odd", Description: "d"},
		},
	}})
	html := RenderPage(page, testSite())

	assert.Contains(t, html, "🚀")
	assert.Contains(t, html, defaultIcon)
}

func TestGridColumnsClamped(t *testing.T) {
	for _, tt := range []struct {
		columns int
		class   string
	}{
		{2, "cols-2"}, {3, "cols-3"}, {4, "cols-4"}, {7, "cols-3"}, {0, "cols-3"},
	} {
		page := testPage(models.Section{Type: models.SectionCards, Props: models.CardsProps{
			Columns: tt.columns,
			Items:   []models.CardItem{{Title: "t", Description: "d"}},
		}})
		html := RenderPage(page, testSite())
		assert.Contains(t, html, "grid "+tt.class)
	}
}

func TestRenderingIsDeterministic(t *testing.T) {
	page := testPage(
		models.Section{Type: models.SectionHero, Props: models.HeroProps{Heading: "H", Alignment: models.AlignLeft}},
		models.Section{Type: models.SectionFeatures, Props: models.FeaturesProps{Columns: 2, Items: []models.FeatureItem{{Icon: "zap", Title: "Z", Description: "d"}}}},
	)
	site := testSite()

	first := RenderPage(page, site)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, RenderPage(page, site))
	}
}

// content that is stored, parsed back, and re-rendered must produce the
// same bytes, or artifact hashes would drift between builds
func TestStoredContentRoundTripRendersIdentically(t *testing.T) {
	page := testPage(
		models.Section{Type: models.SectionHero, Props: models.HeroProps{Heading: "Hello", CTAText: "Go", CTALink: "/x", Alignment: models.AlignRight}},
		models.Section{Type: models.SectionCards, Props: models.CardsProps{Columns: 2, Items: []models.CardItem{{Title: "A", Description: "d", Link: "/a"}}}},
		models.Section{Type: models.SectionImage, Props: models.ImageProps{Src: "/img.png", Alt: "alt text", Caption: "cap"}},
	)
	site := testSite()
	original := RenderPage(page, site)

	raw, err := json.Marshal(page.Content)
	require.NoError(t, err)
	var restored models.PageContent
	require.NoError(t, json.Unmarshal(raw, &restored))

	page.Content = restored
	assert.Equal(t, original, RenderPage(page, site))
}

func TestNotFoundDocument(t *testing.T) {
	html := RenderNotFound(testSite())
	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "404")
	assert.Contains(t, html, "© Acme")
}
