package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// SubmitResult reports the submit transition.
type SubmitResult struct {
	ID               string
	Status           domain.ProposalStatus
	DiscussionEndsAt time.Time
}

// Submit moves the author's draft to open and stamps the discussion window.
func (s *Service) Submit(ctx context.Context, actor Actor, id string) (SubmitResult, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return SubmitResult{}, err
	}
	if p.AuthorID != actor.IDString() {
		return SubmitResult{}, fmt.Errorf("only proposal author can submit: %w", domain.ErrForbidden)
	}
	if p.Status != domain.ProposalStatusDraft {
		return SubmitResult{}, domain.NewValidationError("status", "only draft proposal can be submitted")
	}

	now := time.Now().UTC()
	if err := s.proposals.MarkSubmitted(ctx, id, now); err != nil {
		return SubmitResult{}, fmt.Errorf("submit proposal %s: %w", id, err)
	}
	discussionEndsAt := now.Add(p.CycleTemplate.DiscussionWindow())

	if projectID, err := s.resolveProjectID(ctx, p.ID, p.AuthorID); err == nil && projectID != nil {
		oldValue, _ := json.Marshal(map[string]any{"status": "draft"})
		newValue, _ := json.Marshal(map[string]any{"status": "open", "submitted_at": now.Format(time.RFC3339)})
		s.writeAudit(ctx, *projectID, actor.UserID, "proposal.submitted", "proposal", id, oldValue, newValue, nil)

		s.webhooks.DispatchAsync(webhook.Event{
			Type:       "proposal.submitted",
			ProposalID: p.ID,
			ProjectID:  projectID.String(),
			Data: map[string]any{
				"status":             "open",
				"discussion_ends_at": discussionEndsAt.Format(time.RFC3339),
			},
		})
	}

	s.log.InfoContext(ctx, "proposal submitted",
		slog.String("proposal_id", id),
		slog.Time("discussion_ends_at", discussionEndsAt),
	)
	return SubmitResult{ID: id, Status: domain.ProposalStatusOpen, DiscussionEndsAt: discussionEndsAt}, nil
}

// VotingResult reports the start-voting transition.
type VotingResult struct {
	ID              string
	Status          domain.ProposalStatus
	VotingStartedAt time.Time
	VotingEndsAt    time.Time
}

// StartVoting moves the author's open proposal into the voting phase and
// fans out vote-request tasks to the project's AI agents.
func (s *Service) StartVoting(ctx context.Context, actor Actor, id string) (VotingResult, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return VotingResult{}, err
	}
	if p.AuthorID != actor.IDString() {
		return VotingResult{}, fmt.Errorf("only proposal author can start voting: %w", domain.ErrForbidden)
	}
	if p.Status != domain.ProposalStatusOpen {
		return VotingResult{}, domain.NewValidationError("status", "proposal must be in open status")
	}

	now := time.Now().UTC()
	if err := s.proposals.MarkVotingStarted(ctx, id, now); err != nil {
		return VotingResult{}, fmt.Errorf("start voting on %s: %w", id, err)
	}
	votingEndsAt := now.Add(p.CycleTemplate.VotingWindow())

	if projectID, err := s.resolveProjectID(ctx, p.ID, p.AuthorID); err == nil && projectID != nil {
		oldValue, _ := json.Marshal(map[string]any{"status": "open"})
		newValue, _ := json.Marshal(map[string]any{"status": "voting", "voting_started_at": now.Format(time.RFC3339)})
		s.writeAudit(ctx, *projectID, actor.UserID, "proposal.voting_started", "proposal", id, oldValue, newValue, nil)

		if _, err := s.tasks.QueueVoteRequested(ctx, *projectID, p.ID, p.Title); err != nil {
			s.log.ErrorContext(ctx, "queue vote_requested tasks failed",
				slog.String("proposal_id", p.ID),
				slog.String("error", err.Error()),
			)
		}

		s.webhooks.DispatchAsync(webhook.Event{
			Type:       "proposal.voting_started",
			ProposalID: p.ID,
			ProjectID:  projectID.String(),
			Data: map[string]any{
				"voting_started_at": now.Format(time.RFC3339),
				"voting_ends_at":    votingEndsAt.Format(time.RFC3339),
			},
		})
	}

	s.log.InfoContext(ctx, "proposal voting started",
		slog.String("proposal_id", id),
		slog.Time("voting_ends_at", votingEndsAt),
	)
	return VotingResult{
		ID:              id,
		Status:          domain.ProposalStatusVoting,
		VotingStartedAt: now,
		VotingEndsAt:    votingEndsAt,
	}, nil
}

// Archive moves a proposal to archived. Author or admin only.
func (s *Service) Archive(ctx context.Context, actor Actor, id string) (time.Time, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if err := ensureAuthorOrAdmin(p, actor); err != nil {
		return time.Time{}, err
	}

	now := time.Now().UTC()
	if err := s.proposals.MarkArchived(ctx, id, now); err != nil {
		return time.Time{}, fmt.Errorf("archive proposal %s: %w", id, err)
	}

	if projectID, err := s.resolveProjectID(ctx, p.ID, p.AuthorID); err == nil && projectID != nil {
		oldValue, _ := json.Marshal(map[string]any{"status": string(p.Status)})
		newValue, _ := json.Marshal(map[string]any{"status": "archived", "archived_at": now.Format(time.RFC3339)})
		s.writeAudit(ctx, *projectID, actor.UserID, "proposal.archived", "proposal", id, oldValue, newValue, nil)

		s.webhooks.DispatchAsync(webhook.Event{
			Type:       "proposal.archived",
			ProposalID: p.ID,
			ProjectID:  projectID.String(),
		})
	}

	s.log.InfoContext(ctx, "proposal archived", slog.String("proposal_id", id))
	return now, nil
}

// Delete removes the author's draft proposal. Non-draft proposals are
// immutable history and cannot be deleted.
func (s *Service) Delete(ctx context.Context, actor Actor, id string) error {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.AuthorID != actor.IDString() {
		return fmt.Errorf("only proposal author can delete: %w", domain.ErrForbidden)
	}
	if p.Status != domain.ProposalStatusDraft {
		return domain.NewValidationError("status", "only draft proposal can be deleted")
	}

	if err := s.proposals.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete proposal %s: %w", id, err)
	}

	if projectID, err := s.resolveProjectID(ctx, p.ID, p.AuthorID); err == nil && projectID != nil {
		oldValue, _ := json.Marshal(map[string]any{
			"title":         p.Title,
			"proposal_type": string(p.Type),
			"status":        string(p.Status),
		})
		s.writeAudit(ctx, *projectID, actor.UserID, "proposal.deleted", "proposal", id, oldValue, nil, nil)
	}

	s.log.InfoContext(ctx, "proposal deleted", slog.String("proposal_id", id))
	return nil
}
