// Package model defines the typed records the matching engine reads and writes.
package model

import (
	"strings"
	"time"
)

// EntityType identifies what kind of real-world entity a record describes.
type EntityType string

const (
	EntityContact     EntityType = "contact"
	EntityCompany     EntityType = "company"
	EntityPublication EntityType = "publication"
)

// Organization is a tenant of the platform.
type Organization struct {
	ID   string `json:"id" db:"id" yaml:"id"`
	Name string `json:"name" db:"name" yaml:"name"`
}

// PersonName is the structured name of a contact.
type PersonName struct {
	FirstName string `json:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" yaml:"last_name"`
}

// Full returns "First Last" with empty parts dropped.
func (n PersonName) Full() string {
	return strings.TrimSpace(strings.TrimSpace(n.FirstName) + " " + strings.TrimSpace(n.LastName))
}

// Email is one address of a contact.
type Email struct {
	Email     string `json:"email" yaml:"email" validate:"required,email"`
	Type      string `json:"type,omitempty" yaml:"type"`
	IsPrimary bool   `json:"is_primary" yaml:"is_primary"`
}

// ContactData is the matching-relevant payload of a contact.
type ContactData struct {
	Name            PersonName `json:"name" yaml:"name"`
	DisplayName     string     `json:"display_name" yaml:"display_name"`
	Emails          []Email    `json:"emails,omitempty" yaml:"emails" validate:"dive"`
	CompanyName     string     `json:"company_name,omitempty" yaml:"company_name"`
	HasMediaProfile bool       `json:"has_media_profile" yaml:"has_media_profile"`
	Publications    []string   `json:"publications,omitempty" yaml:"publications"`
}

// FullName prefers the structured name and falls back to the display name.
func (d ContactData) FullName() string {
	if n := d.Name.Full(); n != "" {
		return n
	}
	return strings.TrimSpace(d.DisplayName)
}

// EmailAddresses returns all non-empty addresses, primary first.
func (d ContactData) EmailAddresses() []string {
	out := make([]string, 0, len(d.Emails))
	for _, e := range d.Emails {
		if e.IsPrimary && e.Email != "" {
			out = append(out, e.Email)
		}
	}
	for _, e := range d.Emails {
		if !e.IsPrimary && e.Email != "" {
			out = append(out, e.Email)
		}
	}
	return out
}

// Contact is an organization's own stored contact record.
type Contact struct {
	ID             string      `json:"id" db:"id" yaml:"id"`
	OrganizationID string      `json:"organization_id" db:"organization_id" yaml:"organization_id"`
	Data           ContactData `json:"data" db:"data" yaml:"data"`
	CompanyID      string      `json:"company_id,omitempty" db:"company_id" yaml:"company_id"`
	PublicationIDs []string    `json:"publication_ids,omitempty" db:"publication_ids" yaml:"publication_ids"`
	EmailDomains   []string    `json:"email_domains,omitempty" db:"email_domains" yaml:"-"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty" db:"deleted_at" yaml:"-"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at" yaml:"-"`
}

// Variant snapshots the contact as seen by the engine during a scan.
func (c Contact) Variant(orgName string) ContactVariant {
	data := c.Data
	data.Emails = append([]Email(nil), c.Data.Emails...)
	data.Publications = append([]string(nil), c.Data.Publications...)
	return ContactVariant{
		OrganizationID:   c.OrganizationID,
		OrganizationName: orgName,
		ContactID:        c.ID,
		ContactData:      data,
	}
}

// ContactVariant is one organization's read-only view of a possibly shared contact.
type ContactVariant struct {
	OrganizationID   string      `json:"organization_id" validate:"required"`
	OrganizationName string      `json:"organization_name"`
	ContactID        string      `json:"contact_id" validate:"required"`
	ContactData      ContactData `json:"contact_data"`
}

// DistinctOrganizations returns the org ids contributing to variants, in first-seen order.
func DistinctOrganizations(variants []ContactVariant) []string {
	seen := make(map[string]bool, len(variants))
	var out []string
	for _, v := range variants {
		if !seen[v.OrganizationID] {
			seen[v.OrganizationID] = true
			out = append(out, v.OrganizationID)
		}
	}
	return out
}
