package model

import "time"

// ReviewStatus is the state of a conflict review item.
type ReviewStatus string

const (
	ReviewOpen     ReviewStatus = "open"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Priority ranks open review items.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Recommendation is the advisory outcome shown next to a review item.
type Recommendation string

const (
	RecommendApply Recommendation = "apply_update"
	RecommendKeep  Recommendation = "keep_current"
)

// Evidence backs a suggested value.
type Evidence struct {
	CurrentValueSource string `json:"current_value_source"`
	CurrentValueAge    int    `json:"current_value_age"` // days
	NewVariantsCount   int    `json:"new_variants_count"`
	TotalVariantsCount int    `json:"total_variants_count"`
}

// ConflictReview gates the overwrite of a canonical field value.
type ConflictReview struct {
	ID             string       `json:"id" db:"id"`
	EntityType     EntityType   `json:"entity_type" db:"entity_type"`
	EntityID       string       `json:"entity_id" db:"entity_id"`
	EntityName     string       `json:"entity_name" db:"entity_name"`
	OrganizationID string       `json:"organization_id" db:"organization_id"`
	Field          string       `json:"field" db:"field"`
	CurrentValue   string       `json:"current_value" db:"current_value"`
	SuggestedValue string       `json:"suggested_value" db:"suggested_value"`
	Confidence     float64      `json:"confidence" db:"confidence"`
	Priority       Priority     `json:"priority" db:"priority"`
	Evidence       Evidence     `json:"evidence" db:"evidence"`
	Status         ReviewStatus `json:"status" db:"status"`
	CandidateID    string       `json:"candidate_id,omitempty" db:"candidate_id"`
	ReviewedBy     string       `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewNotes    string       `json:"review_notes,omitempty" db:"review_notes"`
	ReviewedAt     *time.Time   `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// Recommend returns the advisory decision for the item. Confidence at or
// above threshold recommends applying the update.
func (r *ConflictReview) Recommend(threshold float64) Recommendation {
	if r.Confidence >= threshold {
		return RecommendApply
	}
	return RecommendKeep
}
