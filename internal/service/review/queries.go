package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	reviewrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/impactreview"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// GetByProposal returns the proposal's review.
func (s *Service) GetByProposal(ctx context.Context, proposalID string) (domain.ImpactReview, error) {
	return s.reviews.GetByProposal(ctx, proposalID)
}

// GetByID returns a review by id.
func (s *Service) GetByID(ctx context.Context, id string) (domain.ImpactReview, error) {
	return s.reviews.GetByID(ctx, id)
}

// List returns a filtered page of reviews plus the total match count.
func (s *Service) List(ctx context.Context, filter reviewrepo.Filter) ([]domain.ImpactReview, int, error) {
	return s.reviews.List(ctx, filter)
}

// ListDue returns pending reviews whose scheduled time has passed.
func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ImpactReview, error) {
	return s.reviews.ListDue(ctx, now, limit)
}

// Reschedule overrides the reviewer and/or scheduled time of a review.
func (s *Service) Reschedule(ctx context.Context, proposalID string, reviewerID *uuid.UUID, scheduledAt *time.Time) (domain.ImpactReview, error) {
	var rev domain.ImpactReview
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		rev, err = s.reviews.GetByProposalForUpdate(txCtx, proposalID)
		if err != nil {
			return err
		}
		if reviewerID != nil {
			rev.ReviewerID = reviewerID
		}
		if scheduledAt != nil {
			at := scheduledAt.UTC()
			rev.ScheduledAt = &at
		}
		return s.reviews.Update(txCtx, rev)
	})
	if err != nil {
		return domain.ImpactReview{}, err
	}
	return rev, nil
}

// Delete removes a review whose trust deltas have not been applied yet.
// Applied reviews are immutable history.
func (s *Service) Delete(ctx context.Context, proposalID string) error {
	rev, err := s.reviews.GetByProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if rev.TrustScoreApplied {
		return fmt.Errorf("review trust score changes are already applied: %w", domain.ErrConflict)
	}
	return s.reviews.Delete(ctx, rev.ID)
}
