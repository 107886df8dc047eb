package trust

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/domain"
)

// ProposalScoreDelta is the global trust delta a proposal outcome earns its
// author.
func ProposalScoreDelta(approved bool) int {
	if approved {
		return 2
	}
	return -1
}

// ApplyProposalResultInTx credits or debits the proposal author on finalize:
// once in the global domain and once per distinct declared domain. Runs on
// the caller's transaction; the proposal id is the idempotency event id.
func (s *Service) ApplyProposalResultInTx(
	ctx context.Context,
	userID uuid.UUID,
	userType domain.ParticipantType,
	projectID uuid.UUID,
	proposalID string,
	approved bool,
	domains []string,
) error {
	eventType := domain.EventProposalRejected
	reason := fmt.Sprintf("proposal %s rejected", proposalID)
	if approved {
		eventType = domain.EventProposalApproved
		reason = fmt.Sprintf("proposal %s approved", proposalID)
	}
	delta := ProposalScoreDelta(approved)

	in := ChangeInput{
		UserID:    userID,
		UserType:  userType,
		ProjectID: projectID,
		Domain:    domain.GlobalDomain,
		Delta:     delta,
		EventType: eventType,
		EventID:   proposalID,
		Reason:    reason,
	}
	if err := s.ApplyChangeInTx(ctx, in); err != nil {
		return err
	}

	seen := map[string]struct{}{}
	for _, d := range domains {
		key := domain.NormalizeDomainKey(d)
		if key == "" || key == domain.GlobalDomain || !domain.ValidDomainKey(key) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		in.Domain = key
		if err := s.ApplyChangeInTx(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

// ApplyProposalResult is ApplyProposalResultInTx in its own transaction.
func (s *Service) ApplyProposalResult(
	ctx context.Context,
	userID uuid.UUID,
	userType domain.ParticipantType,
	projectID uuid.UUID,
	proposalID string,
	approved bool,
	domains []string,
) error {
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		return s.ApplyProposalResultInTx(txCtx, userID, userType, projectID, proposalID, approved, domains)
	})
}

// ApplyInactivityDecay debits 2 points per inactive month in the global
// domain. A non-positive month count is a no-op.
func (s *Service) ApplyInactivityDecay(
	ctx context.Context,
	userID uuid.UUID,
	userType domain.ParticipantType,
	projectID uuid.UUID,
	months int,
	eventID string,
) error {
	if months <= 0 {
		return nil
	}
	return s.ApplyChange(ctx, ChangeInput{
		UserID:    userID,
		UserType:  userType,
		ProjectID: projectID,
		Domain:    domain.GlobalDomain,
		Delta:     -(2 * months),
		EventType: domain.EventInactivityPenalty,
		EventID:   eventID,
		Reason:    fmt.Sprintf("%d months inactivity penalty", months),
	})
}

// ApplyManualAdjustmentInTx applies an arbitrary delta in the given domain
// (normalized; empty falls back to global). Used by appeal compensation.
func (s *Service) ApplyManualAdjustmentInTx(
	ctx context.Context,
	userID uuid.UUID,
	userType domain.ParticipantType,
	projectID uuid.UUID,
	dom string,
	delta int,
	eventType domain.TrustEventType,
	eventID string,
	reason string,
) error {
	key := domain.NormalizeDomainKey(dom)
	if key == "" {
		key = domain.GlobalDomain
	}
	return s.ApplyChangeInTx(ctx, ChangeInput{
		UserID:    userID,
		UserType:  userType,
		ProjectID: projectID,
		Domain:    key,
		Delta:     delta,
		EventType: eventType,
		EventID:   eventID,
		Reason:    reason,
	})
}

// ApplyImpactReviewDeltaInTx applies one participant's review delta in the
// given domain (normalized; empty falls back to global).
func (s *Service) ApplyImpactReviewDeltaInTx(
	ctx context.Context,
	userID uuid.UUID,
	userType domain.ParticipantType,
	projectID uuid.UUID,
	dom string,
	eventID string,
	delta int,
	reason string,
) error {
	key := domain.NormalizeDomainKey(dom)
	if key == "" {
		key = domain.GlobalDomain
	}
	return s.ApplyChangeInTx(ctx, ChangeInput{
		UserID:    userID,
		UserType:  userType,
		ProjectID: projectID,
		Domain:    key,
		Delta:     delta,
		EventType: domain.EventImpactReviewCompleted,
		EventID:   eventID,
		Reason:    reason,
	})
}
