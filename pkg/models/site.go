package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Site is a tenant's publishable website. ActiveVersionID names the one
// version currently served; it only ever points at a READY version.
type Site struct {
	ID              string       `json:"id"`
	TenantID        string       `json:"tenant_id"`
	Name            string       `json:"name"`
	Slug            string       `json:"slug"`
	Subdomain       string       `json:"subdomain"`
	Settings        SiteSettings `json:"settings"`
	ActiveVersionID string       `json:"active_version_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type SiteSettings struct {
	Theme      ThemeSettings `json:"theme"`
	Navigation []NavItem     `json:"navigation,omitempty"`
	FooterText string        `json:"footer_text,omitempty"`
}

type ThemeSettings struct {
	PrimaryColor    string `json:"primary_color,omitempty"`
	SecondaryColor  string `json:"secondary_color,omitempty"`
	BackgroundColor string `json:"background_color,omitempty"`
	TextColor       string `json:"text_color,omitempty"`
	FontHeading     string `json:"font_heading,omitempty"`
	FontBody        string `json:"font_body,omitempty"`
}

type NavItem struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Page is a structured content document attached to a site. Path is unique
// within the site and always begins with "/".
type Page struct {
	ID             string      `json:"id"`
	SiteID         string      `json:"site_id"`
	Path           string      `json:"path"`
	Title          string      `json:"title"`
	Content        PageContent `json:"content"`
	SEOTitle       string      `json:"seo_title,omitempty"`
	SEODescription string      `json:"seo_description,omitempty"`
	IsPublished    bool        `json:"is_published"`
	SortOrder      int         `json:"sort_order"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type PageContent struct {
	Sections []Section `json:"sections"`
}

type SectionType string

const (
	SectionHero     SectionType = "hero"
	SectionText     SectionType = "text"
	SectionFeatures SectionType = "features"
	SectionCards    SectionType = "cards"
	SectionImage    SectionType = "image"
	SectionCTA      SectionType = "cta"
)

// Section is a tagged variant dispatched on Type. Unknown types survive a
// round trip (the renderer emits a visible comment for them) but carry no
// typed props.
type Section struct {
	Type  SectionType  `json:"type"`
	Props SectionProps `json:"-"`
}

type SectionProps interface {
	sectionProps()
}

type Alignment string

const (
	AlignLeft   Alignment = "left"
	AlignCenter Alignment = "center"
	AlignRight  Alignment = "right"
)

type HeroProps struct {
	Heading         string    `json:"heading"`
	Subheading      string    `json:"subheading,omitempty"`
	CTAText         string    `json:"ctaText,omitempty"`
	CTALink         string    `json:"ctaLink,omitempty"`
	BackgroundImage string    `json:"backgroundImage,omitempty"`
	Alignment       Alignment `json:"alignment,omitempty"`
}

type TextProps struct {
	Heading   string    `json:"heading,omitempty"`
	Body      string    `json:"body"`
	Alignment Alignment `json:"alignment,omitempty"`
}

type FeatureItem struct {
	Icon        string `json:"icon"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type FeaturesProps struct {
	Heading string        `json:"heading,omitempty"`
	Columns int           `json:"columns,omitempty"`
	Items   []FeatureItem `json:"items"`
}

type CardItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image,omitempty"`
	Link        string `json:"link,omitempty"`
}

type CardsProps struct {
	Heading string     `json:"heading,omitempty"`
	Columns int        `json:"columns,omitempty"`
	Items   []CardItem `json:"items"`
}

type ImageProps struct {
	Src       string `json:"src"`
	Alt       string `json:"alt"`
	Caption   string `json:"caption,omitempty"`
	FullWidth bool   `json:"fullWidth,omitempty"`
}

type CTAProps struct {
	Heading     string `json:"heading"`
	Description string `json:"description,omitempty"`
	ButtonText  string `json:"buttonText"`
	ButtonLink  string `json:"buttonLink"`
	Variant     string `json:"variant,omitempty"`
}

func (HeroProps) sectionProps()     {}
func (TextProps) sectionProps()     {}
func (FeaturesProps) sectionProps() {}
func (CardsProps) sectionProps()    {}
func (ImageProps) sectionProps()    {}
func (CTAProps) sectionProps()      {}

func (s *Section) UnmarshalJSON(data []byte) error {
	var head struct {
		Type SectionType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	s.Type = head.Type

	var (
		props SectionProps
		err   error
	)
	switch head.Type {
	case SectionHero:
		var p HeroProps
		err = json.Unmarshal(data, &p)
		props = p
	case SectionText:
		var p TextProps
		err = json.Unmarshal(data, &p)
		props = p
	case SectionFeatures:
		var p FeaturesProps
		err = json.Unmarshal(data, &p)
		props = p
	case SectionCards:
		var p CardsProps
		err = json.Unmarshal(data, &p)
		props = p
	case SectionImage:
		var p ImageProps
		err = json.Unmarshal(data, &p)
		props = p
	case SectionCTA:
		var p CTAProps
		err = json.Unmarshal(data, &p)
		props = p
	default:
		s.Props = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("section %s: %w", head.Type, err)
	}
	s.Props = props
	return nil
}

func (s Section) MarshalJSON() ([]byte, error) {
	if s.Props == nil {
		return json.Marshal(map[string]any{"type": s.Type})
	}
	raw, err := json.Marshal(s.Props)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["type"] = s.Type
	return json.Marshal(m)
}
