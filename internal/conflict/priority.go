package conflict

import "github.com/sells-group/contact-match/internal/model"

// Priority thresholds.
const (
	HighConfidence   = 0.9
	MediumConfidence = 0.7
	// StaleAfterDays marks a current value old enough to review with high
	// priority regardless of confidence.
	StaleAfterDays = 365
)

// DefaultRecommendThreshold is the confidence at which an update is
// recommended for approval.
const DefaultRecommendThreshold = 0.8

// Priority derives the review priority from confidence and the age in days
// of the current value.
func Priority(confidence float64, currentValueAge int) model.Priority {
	switch {
	case confidence >= HighConfidence || currentValueAge > StaleAfterDays:
		return model.PriorityHigh
	case confidence >= MediumConfidence:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}
