// Package renderer turns structured page content into standalone HTML5
// documents. Rendering is a pure function of its inputs: identical pages
// produce byte-identical output, which keeps artifact hashes stable.
package renderer

import (
	"fmt"
	"html"
	"strings"

	"github.com/awaregh/platform/pkg/models"
)

// esc escapes all user-supplied text. html.EscapeString covers the five
// significant characters (& < > " ').
func esc(s string) string {
	return html.EscapeString(s)
}

var defaultTheme = models.ThemeSettings{
	PrimaryColor:    "#2563eb",
	SecondaryColor:  "#7c3aed",
	BackgroundColor: "#ffffff",
	TextColor:       "#111827",
	FontHeading:     "Inter, system-ui, sans-serif",
	FontBody:        "Inter, system-ui, sans-serif",
}

func themeOf(settings models.SiteSettings) models.ThemeSettings {
	t := settings.Theme
	if t.PrimaryColor == "" {
		t.PrimaryColor = defaultTheme.PrimaryColor
	}
	if t.SecondaryColor == "" {
		t.SecondaryColor = defaultTheme.SecondaryColor
	}
	if t.BackgroundColor == "" {
		t.BackgroundColor = defaultTheme.BackgroundColor
	}
	if t.TextColor == "" {
		t.TextColor = defaultTheme.TextColor
	}
	if t.FontHeading == "" {
		t.FontHeading = defaultTheme.FontHeading
	}
	if t.FontBody == "" {
		t.FontBody = defaultTheme.FontBody
	}
	return t
}

// RenderPage produces the full document for one page of a site.
func RenderPage(page *models.Page, site *models.Site) string {
	title := page.Title
	if page.SEOTitle != "" {
		title = page.SEOTitle
	}

	var b strings.Builder
	writeHead(&b, site, title, page.SEODescription)
	writeNav(&b, site, page.Path)

	b.WriteString("<main>\n")
	for _, section := range page.Content.Sections {
		renderSection(&b, section)
	}
	b.WriteString("</main>\n")

	writeFooter(&b, site)
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

// RenderNotFound produces the version's 404 document.
func RenderNotFound(site *models.Site) string {
	var b strings.Builder
	writeHead(&b, site, "Page Not Found", "")
	writeNav(&b, site, "")
	b.WriteString("<main>\n<section class=\"not-found\"><h1>404</h1><p>The page you are looking for does not exist.</p><p><a href=\"/\">Back to home</a></p></section>\n</main>\n")
	writeFooter(&b, site)
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func writeHead(b *strings.Builder, site *models.Site, title, description string) {
	theme := themeOf(site.Settings)

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	fmt.Fprintf(b, "<title>%s</title>\n", esc(title))
	if description != "" {
		fmt.Fprintf(b, "<meta name=\"description\" content=\"%s\">\n", esc(description))
	}
	fmt.Fprintf(b, "<meta property=\"og:title\" content=\"%s\">\n", esc(title))
	if description != "" {
		fmt.Fprintf(b, "<meta property=\"og:description\" content=\"%s\">\n", esc(description))
	}
	b.WriteString("<meta property=\"og:type\" content=\"website\">\n")
	b.WriteString("<style>\n")
	fmt.Fprintf(b, ":root{--color-primary:%s;--color-secondary:%s;--color-bg:%s;--color-text:%s;--font-heading:%s;--font-body:%s;}\n",
		esc(theme.PrimaryColor), esc(theme.SecondaryColor), esc(theme.BackgroundColor),
		esc(theme.TextColor), esc(theme.FontHeading), esc(theme.FontBody))
	b.WriteString(baseCSS)
	b.WriteString("</style>\n</head>\n<body>\n")
}

func writeNav(b *strings.Builder, site *models.Site, currentPath string) {
	b.WriteString("<header class=\"site-header\"><nav>\n")
	fmt.Fprintf(b, "<span class=\"site-name\">%s</span>\n<ul>\n", esc(site.Name))
	for _, item := range site.Settings.Navigation {
		class := ""
		if item.Path == currentPath {
			class = " class=\"active\""
		}
		fmt.Fprintf(b, "<li><a href=\"%s\"%s>%s</a></li>\n", esc(item.Path), class, esc(item.Label))
	}
	b.WriteString("</ul>\n</nav></header>\n")
}

func writeFooter(b *strings.Builder, site *models.Site) {
	if site.Settings.FooterText == "" {
		return
	}
	fmt.Fprintf(b, "<footer class=\"site-footer\"><p>%s</p></footer>\n", esc(site.Settings.FooterText))
}

func renderSection(b *strings.Builder, section models.Section) {
	switch props := section.Props.(type) {
	case models.HeroProps:
		renderHero(b, props)
	case models.TextProps:
		renderText(b, props)
	case models.FeaturesProps:
		renderFeatures(b, props)
	case models.CardsProps:
		renderCards(b, props)
	case models.ImageProps:
		renderImage(b, props)
	case models.CTAProps:
		renderCTA(b, props)
	default:
		fmt.Fprintf(b, "<!-- unknown section type: %s -->\n", esc(string(section.Type)))
	}
}

func alignment(a models.Alignment) models.Alignment {
	switch a {
	case models.AlignLeft, models.AlignCenter, models.AlignRight:
		return a
	default:
		return models.AlignCenter
	}
}

func renderHero(b *strings.Builder, p models.HeroProps) {
	style := ""
	if p.BackgroundImage != "" {
		style = fmt.Sprintf(" style=\"background-image:url('%s')\"", esc(p.BackgroundImage))
	}
	fmt.Fprintf(b, "<section class=\"hero align-%s\"%s>\n", alignment(p.Alignment), style)
	fmt.Fprintf(b, "<h1>%s</h1>\n", esc(p.Heading))
	if p.Subheading != "" {
		fmt.Fprintf(b, "<p class=\"subheading\">%s</p>\n", esc(p.Subheading))
	}
	if p.CTAText != "" && p.CTALink != "" {
		fmt.Fprintf(b, "<a class=\"button primary\" href=\"%s\">%s</a>\n", esc(p.CTALink), esc(p.CTAText))
	}
	b.WriteString("</section>\n")
}

func renderText(b *strings.Builder, p models.TextProps) {
	fmt.Fprintf(b, "<section class=\"text align-%s\">\n", alignment(p.Alignment))
	if p.Heading != "" {
		fmt.Fprintf(b, "<h2>%s</h2>\n", esc(p.Heading))
	}
	fmt.Fprintf(b, "<p>%s</p>\n", esc(p.Body))
	b.WriteString("</section>\n")
}

// grid columns are limited to 2, 3, or 4 with responsive fallbacks in CSS
func columns(n int) int {
	switch n {
	case 2, 3, 4:
		return n
	default:
		return 3
	}
}

func renderFeatures(b *strings.Builder, p models.FeaturesProps) {
	b.WriteString("<section class=\"features\">\n")
	if p.Heading != "" {
		fmt.Fprintf(b, "<h2>%s</h2>\n", esc(p.Heading))
	}
	fmt.Fprintf(b, "<div class=\"grid cols-%d\">\n", columns(p.Columns))
	for _, item := range p.Items {
		b.WriteString("<div class=\"feature\">")
		fmt.Fprintf(b, "<span class=\"icon\">%s</span>", iconFor(item.Icon))
		fmt.Fprintf(b, "<h3>%s</h3>", esc(item.Title))
		fmt.Fprintf(b, "<p>%s</p>", esc(item.Description))
		b.WriteString("</div>\n")
	}
	b.WriteString("</div>\n</section>\n")
}

func renderCards(b *strings.Builder, p models.CardsProps) {
	b.WriteString("<section class=\"cards\">\n")
	if p.Heading != "" {
		fmt.Fprintf(b, "<h2>%s</h2>\n", esc(p.Heading))
	}
	fmt.Fprintf(b, "<div class=\"grid cols-%d\">\n", columns(p.Columns))
	for _, item := range p.Items {
		b.WriteString("<div class=\"card\">")
		if item.Image != "" {
			fmt.Fprintf(b, "<img src=\"%s\" alt=\"%s\">", esc(item.Image), esc(item.Title))
		}
		fmt.Fprintf(b, "<h3>%s</h3>", esc(item.Title))
		fmt.Fprintf(b, "<p>%s</p>", esc(item.Description))
		if item.Link != "" {
			fmt.Fprintf(b, "<a href=\"%s\">Learn more</a>", esc(item.Link))
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("</div>\n</section>\n")
}

func renderImage(b *strings.Builder, p models.ImageProps) {
	class := "image"
	if p.FullWidth {
		class = "image full-width"
	}
	fmt.Fprintf(b, "<section class=\"%s\">\n", class)
	fmt.Fprintf(b, "<img src=\"%s\" alt=\"%s\">\n", esc(p.Src), esc(p.Alt))
	if p.Caption != "" {
		fmt.Fprintf(b, "<figcaption>%s</figcaption>\n", esc(p.Caption))
	}
	b.WriteString("</section>\n")
}

func renderCTA(b *strings.Builder, p models.CTAProps) {
	variant := p.Variant
	switch variant {
	case "primary", "secondary", "outline":
	default:
		variant = "primary"
	}
	b.WriteString("<section class=\"cta\">\n")
	fmt.Fprintf(b, "<h2>%s</h2>\n", esc(p.Heading))
	if p.Description != "" {
		fmt.Fprintf(b, "<p>%s</p>\n", esc(p.Description))
	}
	fmt.Fprintf(b, "<a class=\"button %s\" href=\"%s\">%s</a>\n", variant, esc(p.ButtonLink), esc(p.ButtonText))
	b.WriteString("</section>\n")
}

var icons = map[string]string{
	"code":     "💻",
	"palette":  "🎨",
	"rocket":   "🚀",
	"star":     "⭐",
	"shield":   "🛡️",
	"zap":      "⚡",
	"heart":    "❤️",
	"globe":    "🌐",
	"mail":     "✉️",
	"phone":    "📞",
	"settings": "⚙️",
	"check":    "✅",
	"chart":    "📊",
	"lock":     "🔒",
	"cloud":    "☁️",
	"users":    "👥",
}

const defaultIcon = "✨"

func iconFor(name string) string {
	if icon, ok := icons[name]; ok {
		return icon
	}
	return defaultIcon
}

const baseCSS = `*{box-sizing:border-box;margin:0;padding:0}
body{background:var(--color-bg);color:var(--color-text);font-family:var(--font-body);line-height:1.6}
h1,h2,h3{font-family:var(--font-heading)}
main>section{padding:4rem 2rem;max-width:1100px;margin:0 auto}
.site-header nav{display:flex;align-items:center;justify-content:space-between;padding:1rem 2rem}
.site-header ul{display:flex;gap:1.5rem;list-style:none}
.site-header a{color:var(--color-text);text-decoration:none}
.site-header a.active{color:var(--color-primary);font-weight:600}
.hero{text-align:center;padding:6rem 2rem}
.hero h1{font-size:2.75rem;margin-bottom:1rem}
.align-left{text-align:left}
.align-center{text-align:center}
.align-right{text-align:right}
.button{display:inline-block;padding:.75rem 1.75rem;border-radius:.5rem;text-decoration:none;margin-top:1.5rem}
.button.primary{background:var(--color-primary);color:#fff}
.button.secondary{background:var(--color-secondary);color:#fff}
.button.outline{border:2px solid var(--color-primary);color:var(--color-primary)}
.grid{display:grid;gap:1.5rem;margin-top:2rem}
.grid.cols-2{grid-template-columns:repeat(2,1fr)}
.grid.cols-3{grid-template-columns:repeat(3,1fr)}
.grid.cols-4{grid-template-columns:repeat(4,1fr)}
.feature,.card{padding:1.5rem;border:1px solid rgba(0,0,0,.08);border-radius:.75rem}
.feature .icon{font-size:2rem}
.image img{max-width:100%}
.image.full-width{max-width:none;padding:0}
.cta{text-align:center;background:var(--color-primary);color:#fff;border-radius:1rem}
.site-footer{padding:2rem;text-align:center;opacity:.7}
.not-found{text-align:center;padding:6rem 2rem}
@media(max-width:768px){.grid.cols-3,.grid.cols-4{grid-template-columns:repeat(2,1fr)}}
@media(max-width:480px){.grid.cols-2,.grid.cols-3,.grid.cols-4{grid-template-columns:1fr}}
`
