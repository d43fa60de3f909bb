// Package conflict gates overwrites of canonical field values behind human
// review items.
package conflict

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/lock"
	"github.com/sells-group/contact-match/internal/metrics"
	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/store"
)

var (
	// ErrAlreadyResolved is returned when approving or rejecting a review
	// that is no longer open.
	ErrAlreadyResolved = eris.New("conflict: already resolved")
	// ErrUserRequired is returned when a decision carries no user id.
	ErrUserRequired = eris.New("conflict: user id required")
)

// Store is the persistence subset the resolver needs.
type Store interface {
	CreateReview(ctx context.Context, r *model.ConflictReview) error
	GetReview(ctx context.Context, id string) (*model.ConflictReview, error)
	ListReviews(ctx context.Context, filter store.ReviewFilter) ([]model.ConflictReview, error)
	ResolveReview(ctx context.Context, d store.ReviewDecision) error
}

// Proposal suggests replacing the current value of a canonical field.
type Proposal struct {
	EntityType     model.EntityType
	EntityID       string
	EntityName     string
	OrganizationID string
	Field          string
	CurrentValue   string
	SuggestedValue string
	Confidence     float64
	Evidence       model.Evidence
	CandidateID    string
}

// Resolver raises and decides conflict review items.
type Resolver struct {
	store     Store
	locker    lock.Locker
	threshold float64
}

// NewResolver creates a conflict resolver. A threshold of zero uses
// DefaultRecommendThreshold.
func NewResolver(s Store, locker lock.Locker, recommendThreshold float64) *Resolver {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if recommendThreshold <= 0 {
		recommendThreshold = DefaultRecommendThreshold
	}
	return &Resolver{store: s, locker: locker, threshold: recommendThreshold}
}

// Raise opens a review item for the proposal. It returns false without
// writing when the values are equal or an open item already exists for the
// same entity field; in the latter case the open item is returned.
func (r *Resolver) Raise(ctx context.Context, p Proposal) (*model.ConflictReview, bool, error) {
	current := strings.TrimSpace(p.CurrentValue)
	suggested := strings.TrimSpace(p.SuggestedValue)
	if current == suggested {
		return nil, false, nil
	}
	if p.EntityType == "" || p.EntityID == "" || p.Field == "" {
		return nil, false, eris.New("conflict: entity and field are required")
	}

	var (
		out    *model.ConflictReview
		raised bool
	)
	key := lock.Key("review", string(p.EntityType), p.EntityID, p.Field)
	err := r.locker.WithLock(ctx, key, func(ctx context.Context) error {
		existing, err := r.openFor(ctx, p)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		review := &model.ConflictReview{
			EntityType:     p.EntityType,
			EntityID:       p.EntityID,
			EntityName:     p.EntityName,
			OrganizationID: p.OrganizationID,
			Field:          p.Field,
			CurrentValue:   current,
			SuggestedValue: suggested,
			Confidence:     p.Confidence,
			Priority:       Priority(p.Confidence, p.Evidence.CurrentValueAge),
			Evidence:       p.Evidence,
			Status:         model.ReviewOpen,
			CandidateID:    p.CandidateID,
		}
		err = r.store.CreateReview(ctx, review)
		if errors.Is(err, store.ErrDuplicate) {
			// Another process raised the same item between check and write.
			out, err = r.openFor(ctx, p)
			return err
		}
		if err != nil {
			return eris.Wrapf(err, "conflict: create review %s/%s.%s", p.EntityType, p.EntityID, p.Field)
		}
		out, raised = review, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if raised {
		zap.L().Info("conflict: review raised",
			zap.String("component", "conflict"),
			zap.String("review_id", out.ID),
			zap.String("entity", string(p.EntityType)+"/"+p.EntityID),
			zap.String("field", p.Field),
			zap.String("organization_id", p.OrganizationID),
			zap.Float64("confidence", p.Confidence),
			zap.String("priority", string(out.Priority)),
		)
		metrics.ConflictsTotal.WithLabelValues(string(model.ReviewOpen), string(out.Priority)).Inc()
	}
	return out, raised, nil
}

func (r *Resolver) openFor(ctx context.Context, p Proposal) (*model.ConflictReview, error) {
	open, err := r.store.ListReviews(ctx, store.ReviewFilter{
		Status:     model.ReviewOpen,
		EntityType: p.EntityType,
		EntityID:   p.EntityID,
		Field:      p.Field,
		Limit:      1,
	})
	if err != nil {
		return nil, eris.Wrap(err, "conflict: list open reviews")
	}
	if len(open) == 0 {
		return nil, nil
	}
	return &open[0], nil
}

// Open returns the open review items, oldest first.
func (r *Resolver) Open(ctx context.Context) ([]model.ConflictReview, error) {
	reviews, err := r.store.ListReviews(ctx, store.ReviewFilter{Status: model.ReviewOpen})
	if err != nil {
		return nil, eris.Wrap(err, "conflict: list open reviews")
	}
	return reviews, nil
}

// Get returns one review item.
func (r *Resolver) Get(ctx context.Context, id string) (*model.ConflictReview, error) {
	review, err := r.store.GetReview(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "conflict: get review %s", id)
	}
	return review, nil
}

// Approve writes the suggested value to the canonical field and closes the
// item in one conditional step.
func (r *Resolver) Approve(ctx context.Context, id, userID, notes string) error {
	return r.decide(ctx, id, userID, notes, model.ReviewApproved)
}

// Reject closes the item and leaves the canonical field untouched.
func (r *Resolver) Reject(ctx context.Context, id, userID, notes string) error {
	return r.decide(ctx, id, userID, notes, model.ReviewRejected)
}

func (r *Resolver) decide(ctx context.Context, id, userID, notes string, status model.ReviewStatus) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserRequired
	}
	review, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if review.Status != model.ReviewOpen {
		return eris.Wrapf(ErrAlreadyResolved, "review %s is %s", id, review.Status)
	}

	d := store.ReviewDecision{ID: id, Status: status, ReviewedBy: userID, Notes: notes}
	if status == model.ReviewApproved {
		d.Apply = &store.FieldUpdate{
			EntityType: review.EntityType,
			EntityID:   review.EntityID,
			Fields:     map[string]string{review.Field: review.SuggestedValue},
		}
	}

	err = r.store.ResolveReview(ctx, d)
	if errors.Is(err, store.ErrNotOpen) {
		return eris.Wrapf(ErrAlreadyResolved, "review %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "conflict: %s review %s", status, id)
	}

	zap.L().Info("conflict: review decided",
		zap.String("component", "conflict"),
		zap.String("review_id", id),
		zap.String("status", string(status)),
		zap.String("user_id", userID),
		zap.String("entity", string(review.EntityType)+"/"+review.EntityID),
		zap.String("field", review.Field),
	)
	metrics.ConflictsTotal.WithLabelValues(string(status), string(review.Priority)).Inc()
	return nil
}

// Recommendation returns the advisory decision for review using the
// resolver's threshold.
func (r *Resolver) Recommendation(review *model.ConflictReview) model.Recommendation {
	return review.Recommend(r.threshold)
}
