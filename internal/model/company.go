package model

import (
	"strings"
	"time"
)

// Record sources.
const (
	SourceAutoMatching = "auto_matching"
	SourceManual       = "manual"
	SourceTestData     = "test_data"
)

// Company is an organization's canonical record of a publisher or media house.
type Company struct {
	ID             string     `json:"id" db:"id" yaml:"id"`
	Name           string     `json:"name" db:"name" yaml:"name"`
	Website        string     `json:"website,omitempty" db:"website" yaml:"website"`
	OrganizationID string     `json:"organization_id" db:"organization_id" yaml:"organization_id"`
	IsReference    bool       `json:"is_reference" db:"is_reference" yaml:"is_reference"`
	Source         string     `json:"source,omitempty" db:"source" yaml:"source"`
	CreatedBy      string     `json:"created_by,omitempty" db:"created_by" yaml:"created_by"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" db:"deleted_at" yaml:"deleted_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at" yaml:"-"`
}

// Deleted reports whether the record is soft-deleted.
func (c *Company) Deleted() bool { return c.DeletedAt != nil }

// Owned reports whether the company is the organization's own live record.
func (c *Company) Owned() bool {
	return !c.IsReference && c.DeletedAt == nil && !IsReferenceID(c.ID)
}

var referenceIDMarkers = []string{"-ref-", "_ref"}

// IsReferenceID reports whether id follows one of the naming patterns used
// for reference mirrors of another organization's record.
func IsReferenceID(id string) bool {
	id = strings.ToLower(id)
	if strings.HasPrefix(id, "ref_") || strings.HasPrefix(id, "reference_") {
		return true
	}
	for _, m := range referenceIDMarkers {
		if strings.Contains(id, m) {
			return true
		}
	}
	return false
}

// Monitoring is the feed-monitoring configuration of a publication. The engine
// only fills defaults; it never interprets the values.
type Monitoring struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	FeedURLs        []string `json:"feed_urls,omitempty" yaml:"feed_urls"`
	AutoDetectFeeds bool     `json:"auto_detect_feeds" yaml:"auto_detect_feeds"`
	CheckFrequency  string   `json:"check_frequency" yaml:"check_frequency"`
}

// PublicationMetrics holds reach figures for a publication.
type PublicationMetrics struct {
	Circulation    *int64 `json:"circulation,omitempty" yaml:"circulation"`
	UniqueVisitors *int64 `json:"unique_visitors,omitempty" yaml:"unique_visitors"`
	PageViews      *int64 `json:"page_views,omitempty" yaml:"page_views"`
}

// Publication is an organization's canonical record of an outlet.
type Publication struct {
	ID             string             `json:"id" db:"id" yaml:"id"`
	Title          string             `json:"title" db:"title" yaml:"title"`
	CompanyID      *string            `json:"company_id,omitempty" db:"company_id" yaml:"company_id"`
	PublisherName  string             `json:"publisher_name,omitempty" db:"publisher_name" yaml:"publisher_name"`
	Website        string             `json:"website,omitempty" db:"website" yaml:"website"`
	OrganizationID string             `json:"organization_id" db:"organization_id" yaml:"organization_id"`
	IsReference    bool               `json:"is_reference" db:"is_reference" yaml:"is_reference"`
	IsGlobal       bool               `json:"is_global" db:"is_global" yaml:"is_global"`
	Type           string             `json:"type" db:"type" yaml:"type"`
	Country        string             `json:"country" db:"country" yaml:"country"`
	Languages      []string           `json:"languages" db:"languages" yaml:"languages"`
	Monitoring     Monitoring         `json:"monitoring" db:"monitoring" yaml:"monitoring"`
	Metrics        PublicationMetrics `json:"metrics" db:"metrics" yaml:"metrics"`
	Source         string             `json:"source,omitempty" db:"source" yaml:"source"`
	CreatedBy      string             `json:"created_by,omitempty" db:"created_by" yaml:"created_by"`
	DeletedAt      *time.Time         `json:"deleted_at,omitempty" db:"deleted_at" yaml:"deleted_at"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at" yaml:"-"`
}

// Deleted reports whether the record is soft-deleted.
func (p *Publication) Deleted() bool { return p.DeletedAt != nil }

// Owned reports whether the publication is the organization's own live record.
func (p *Publication) Owned() bool {
	return !p.IsReference && p.DeletedAt == nil && !IsReferenceID(p.ID)
}

// EditableCompanyFields are the company fields a conflict review may overwrite.
var EditableCompanyFields = map[string]bool{
	"name":    true,
	"website": true,
}

// EditablePublicationFields are the publication fields a conflict review may overwrite.
var EditablePublicationFields = map[string]bool{
	"title":          true,
	"website":        true,
	"publisher_name": true,
}
