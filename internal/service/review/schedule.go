package review

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/domain"
)

// reviewReminderLead is how long after the last linked issue closes a review
// may be pulled forward.
const reviewReminderLead = 7 * 24 * time.Hour

// Schedule creates the proposal's impact review in its own transaction.
func (s *Service) Schedule(ctx context.Context, proposalID string, autoTriggered bool) (domain.ImpactReview, error) {
	var rev domain.ImpactReview
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		rev, err = s.scheduleInTx(txCtx, proposalID, autoTriggered)
		return err
	})
	return rev, err
}

// ScheduleInTx schedules the review on the caller's transaction. Idempotent:
// an existing review for the proposal is returned untouched.
func (s *Service) ScheduleInTx(ctx context.Context, proposalID string, autoTriggered bool) error {
	_, err := s.scheduleInTx(ctx, proposalID, autoTriggered)
	return err
}

func (s *Service) scheduleInTx(ctx context.Context, proposalID string, autoTriggered bool) (domain.ImpactReview, error) {
	existing, err := s.reviews.GetByProposal(ctx, proposalID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.ImpactReview{}, err
	}

	p, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return domain.ImpactReview{}, err
	}
	if p.Status != domain.ProposalStatusApproved {
		return domain.ImpactReview{}, domain.NewValidationError("status",
			"impact review can only be created for approved proposal")
	}

	projectID, err := s.requireProjectID(ctx, proposalID, p.AuthorID)
	if err != nil {
		return domain.ImpactReview{}, err
	}

	scheduledAt, err := s.computeScheduledAt(ctx, &p, projectID)
	if err != nil {
		return domain.ImpactReview{}, err
	}

	rev := domain.ImpactReview{
		ID:              newReviewID(),
		ProposalID:      proposalID,
		ProjectID:       projectID,
		Status:          domain.ReviewStatusPending,
		IsAutoTriggered: autoTriggered,
		ScheduledAt:     &scheduledAt,
		CreatedAt:       time.Now().UTC(),
	}
	created, err := s.reviews.Create(ctx, rev)
	if err != nil {
		return domain.ImpactReview{}, err
	}
	if !created {
		// Lost the insert race; the winner's row is the review.
		return s.reviews.GetByProposal(ctx, proposalID)
	}

	if err := s.populateParticipants(ctx, rev.ID, &p); err != nil {
		return domain.ImpactReview{}, err
	}

	s.log.InfoContext(ctx, "impact review scheduled",
		slog.String("review_id", rev.ID),
		slog.String("proposal_id", proposalID),
		slog.Time("scheduled_at", scheduledAt),
	)
	return rev, nil
}

// computeScheduledAt picks the review date: auto_review_days after voting
// ended, pulled forward to a week after the last linked issue closed when
// all linked issues are already done.
func (s *Service) computeScheduledAt(ctx context.Context, p *domain.Proposal, projectID uuid.UUID) (time.Time, error) {
	cfg, err := s.config.Get(ctx, projectID)
	if err != nil {
		return time.Time{}, err
	}
	autoReviewDays := cfg.AutoReviewDays
	if autoReviewDays < 1 {
		autoReviewDays = 1
	}

	base := time.Now().UTC()
	if p.VotingEndedAt != nil {
		base = p.VotingEndedAt.UTC()
	}
	fromVoting := base.Add(time.Duration(autoReviewDays) * 24 * time.Hour)

	allDoneAt, err := s.reviews.AllLinkedIssuesDoneAt(ctx, p.ID)
	if err != nil {
		return time.Time{}, err
	}
	if allDoneAt != nil {
		if fromIssues := allDoneAt.Add(reviewReminderLead); fromIssues.Before(fromVoting) {
			return fromIssues, nil
		}
	}
	return fromVoting, nil
}

// populateParticipants seeds the roster from the proposal's actors: the
// author, every voter (role per choice), and every vetoer.
func (s *Service) populateParticipants(ctx context.Context, reviewID string, p *domain.Proposal) error {
	if err := s.participants.UpsertProposer(ctx, reviewID, p.AuthorID); err != nil {
		return err
	}

	votes, err := s.votes.ListByProposal(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, v := range votes {
		role := domain.RoleVoterAbstain
		switch v.Choice {
		case domain.VoteChoiceYes:
			role = domain.RoleVoterYes
		case domain.VoteChoiceNo:
			role = domain.RoleVoterNo
		}
		if err := s.participants.UpsertVoter(ctx, reviewID, v.VoterID, role, v.Choice); err != nil {
			return err
		}
	}

	vetoes, err := s.vetoes.ListByProposal(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, e := range vetoes {
		overturned := e.Status == domain.VetoStatusOverturned
		if err := s.participants.UpsertVetoer(ctx, reviewID, e.VetoerID.String(), overturned); err != nil {
			return err
		}
	}
	return nil
}
