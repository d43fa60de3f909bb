package model

import "time"

// CandidateStatus is the review state of a matching candidate.
type CandidateStatus string

const (
	CandidateOpen     CandidateStatus = "open"
	CandidateApproved CandidateStatus = "approved"
	CandidateRejected CandidateStatus = "rejected"
)

// MatchingCandidate is the hypothesis that variants from several
// organizations describe the same real-world entity.
type MatchingCandidate struct {
	ID             string           `json:"id" db:"id"`
	EntityType     EntityType       `json:"entity_type" db:"entity_type"`
	MatchKey       string           `json:"match_key" db:"match_key"`
	DisplayName    string           `json:"display_name" db:"display_name"`
	Variants       []ContactVariant `json:"variants" db:"variants"`
	Score          int              `json:"score" db:"score"`
	Status         CandidateStatus  `json:"status" db:"status"`
	CompanyID      string           `json:"company_id,omitempty" db:"company_id"`
	PublicationIDs []string         `json:"publication_ids,omitempty" db:"publication_ids"`
	ScanJobID      string           `json:"scan_job_id,omitempty" db:"scan_job_id"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// Organizations returns the distinct organizations contributing variants.
func (c *MatchingCandidate) Organizations() []string {
	return DistinctOrganizations(c.Variants)
}

// IsCrossTenant reports whether at least two organizations contribute.
func (c *MatchingCandidate) IsCrossTenant() bool {
	return len(c.Organizations()) >= 2
}

// SameVariants reports whether both candidates group the same (org, contact) pairs.
func (c *MatchingCandidate) SameVariants(other []ContactVariant) bool {
	if len(c.Variants) != len(other) {
		return false
	}
	set := make(map[string]bool, len(c.Variants))
	for _, v := range c.Variants {
		set[v.OrganizationID+"/"+v.ContactID] = true
	}
	for _, v := range other {
		if !set[v.OrganizationID+"/"+v.ContactID] {
			return false
		}
	}
	return true
}
