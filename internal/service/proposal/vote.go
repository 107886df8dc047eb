package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// VoteInput is one ballot request.
type VoteInput struct {
	Choice string
	Reason *string
}

// CastVote records the actor's ballot on a voting proposal. The stored
// weight is a snapshot of the voter's effective trust weight; finalize
// re-resolves it. AI voters must justify their ballot with a reason of the
// registry-configured minimum length.
func (s *Service) CastVote(ctx context.Context, actor Actor, proposalID string, in VoteInput) (domain.Vote, domain.Tally, error) {
	p, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return domain.Vote{}, domain.Tally{}, err
	}
	if err := s.EnsureFinalized(ctx, p); err != nil {
		return domain.Vote{}, domain.Tally{}, err
	}
	p, err = s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return domain.Vote{}, domain.Tally{}, err
	}

	if p.Status != domain.ProposalStatusVoting {
		return domain.Vote{}, domain.Tally{}, domain.NewValidationError("status", "proposal is not in voting status")
	}

	choice := domain.VoteChoice(strings.ToLower(strings.TrimSpace(in.Choice)))
	if !choice.IsValid() {
		return domain.Vote{}, domain.Tally{}, domain.NewValidationError("choice", "invalid vote choice")
	}

	if actor.Type == domain.ParticipantAI {
		if err := s.checkAIVote(ctx, actor, p, in.Reason); err != nil {
			return domain.Vote{}, domain.Tally{}, err
		}
	}

	var reason *string
	if in.Reason != nil {
		trimmed := strings.TrimSpace(*in.Reason)
		reason = &trimmed
	}

	weight, err := s.resolveWeightForProposal(ctx, p, actor.UserID)
	if err != nil {
		return domain.Vote{}, domain.Tally{}, err
	}

	v, err := s.votes.Create(ctx, domain.Vote{
		ProposalID: proposalID,
		VoterID:    actor.IDString(),
		VoterType:  actor.Type,
		Choice:     choice,
		Weight:     weight,
		Reason:     reason,
		VotedAt:    time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Vote{}, domain.Tally{}, fmt.Errorf("you have already voted on this proposal: %w", domain.ErrConflict)
		}
		return domain.Vote{}, domain.Tally{}, fmt.Errorf("cast vote on %s: %w", proposalID, err)
	}

	tally, err := s.votes.Tally(ctx, proposalID)
	if err != nil {
		return domain.Vote{}, domain.Tally{}, err
	}

	if projectID, err := s.resolveProjectID(ctx, p.ID, p.AuthorID); err == nil && projectID != nil {
		newValue, _ := json.Marshal(map[string]any{
			"proposal_id": proposalID,
			"voter_id":    v.VoterID,
			"choice":      string(v.Choice),
			"weight":      v.Weight,
		})
		s.writeAudit(ctx, *projectID, actor.UserID, "vote.created", "vote", fmt.Sprint(v.ID), nil, newValue, nil)

		s.webhooks.DispatchAsync(webhook.Event{
			Type:       "proposal.vote_cast",
			ProposalID: p.ID,
			ProjectID:  projectID.String(),
			Data: map[string]any{
				"choice": string(v.Choice),
				"weight": v.Weight,
				"tally":  map[string]int{"yes": tally.Yes, "no": tally.No, "abstain": tally.Abstain},
			},
		})
	}

	s.log.InfoContext(ctx, "vote cast",
		slog.String("proposal_id", proposalID),
		slog.String("voter_id", v.VoterID),
		slog.String("choice", string(v.Choice)),
		slog.Float64("weight", v.Weight),
	)
	return v, tally, nil
}

// checkAIVote enforces the agent-specific voting policy: a resolvable
// project, voting permission in the proposal's primary domain and a minimum
// justification length.
func (s *Service) checkAIVote(ctx context.Context, actor Actor, p domain.Proposal, reason *string) error {
	projectID, err := s.resolveProjectID(ctx, p.ID, p.AuthorID)
	if err != nil {
		return err
	}
	if projectID == nil {
		return fmt.Errorf("ai voting requires project context: %w", domain.ErrForbidden)
	}

	dom := p.PrimaryDomain()
	canVote, err := s.permission.CanVote(ctx, actor.UserID, *projectID, dom, domain.ParticipantAI)
	if err != nil {
		return err
	}
	if !canVote {
		return fmt.Errorf("ai participant has no voting permission in this domain: %w", domain.ErrForbidden)
	}

	minReason := domain.DefaultAIReasonMinLen
	if configured, err := s.permission.AIReasonMinLength(ctx, actor.UserID, *projectID); err != nil {
		return err
	} else if configured != nil && *configured >= 0 {
		minReason = *configured
	}

	reasonLen := 0
	if reason != nil {
		reasonLen = utf8.RuneCountInString(strings.TrimSpace(*reason))
	}
	if reasonLen < minReason {
		return domain.NewValidationError("reason",
			fmt.Sprintf("reason is required for AI vote and must be at least %d characters", minReason))
	}
	return nil
}

// resolveWeightForProposal snapshots the voter's effective weight. Voters
// outside any resolvable project context vote with weight 1.0.
func (s *Service) resolveWeightForProposal(ctx context.Context, p domain.Proposal, voterID uuid.UUID) (float64, error) {
	projectID, err := s.resolveProjectID(ctx, p.ID, p.AuthorID)
	if err != nil {
		return 0, err
	}
	if projectID == nil {
		return 1.0, nil
	}
	return s.weights.ResolveVoteWeight(ctx, voterID, *projectID, normalizedDomains(p.Domains))
}

// VoteListing is the ballot view of a proposal. Individual ballots stay
// hidden while voting is in progress; the aggregate tally is always visible.
type VoteListing struct {
	ProposalID string
	IsHidden   bool
	Tally      domain.Tally
	Items      []domain.Vote
}

// ListVotes returns the proposal's tally, plus the individual ballots once
// voting has closed.
func (s *Service) ListVotes(ctx context.Context, proposalID string) (VoteListing, error) {
	p, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return VoteListing{}, err
	}
	if err := s.EnsureFinalized(ctx, p); err != nil {
		return VoteListing{}, err
	}
	p, err = s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return VoteListing{}, err
	}

	tally, err := s.votes.Tally(ctx, proposalID)
	if err != nil {
		return VoteListing{}, err
	}

	if p.Status == domain.ProposalStatusVoting {
		return VoteListing{ProposalID: proposalID, IsHidden: true, Tally: tally, Items: []domain.Vote{}}, nil
	}

	votes, err := s.votes.ListByProposal(ctx, proposalID)
	if err != nil {
		return VoteListing{}, err
	}
	return VoteListing{ProposalID: proposalID, IsHidden: false, Tally: tally, Items: votes}, nil
}

// WithdrawVote removes the actor's own ballot while voting is still open.
func (s *Service) WithdrawVote(ctx context.Context, actor Actor, proposalID string) error {
	p, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return err
	}
	if err := s.EnsureFinalized(ctx, p); err != nil {
		return err
	}
	p, err = s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return err
	}

	if p.Status != domain.ProposalStatusVoting {
		return domain.NewValidationError("status", "vote can only be withdrawn during voting")
	}

	existing, err := s.votes.GetByVoter(ctx, proposalID, actor.IDString())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.votes.DeleteByVoter(ctx, proposalID, actor.IDString()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("withdraw vote on %s: %w", proposalID, err)
	}

	if projectID, err := s.resolveProjectID(ctx, p.ID, p.AuthorID); err == nil && projectID != nil {
		oldValue, _ := json.Marshal(map[string]any{
			"proposal_id": proposalID,
			"voter_id":    existing.VoterID,
			"choice":      string(existing.Choice),
			"weight":      existing.Weight,
		})
		s.writeAudit(ctx, *projectID, actor.UserID, "vote.deleted", "vote", fmt.Sprint(existing.ID), oldValue, nil, nil)
	}

	s.log.InfoContext(ctx, "vote withdrawn",
		slog.String("proposal_id", proposalID),
		slog.String("voter_id", actor.IDString()),
	)
	return nil
}

// normalizedDomains returns the proposal's distinct normalized domains,
// excluding the implicit global bucket.
func normalizedDomains(domains []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, d := range domains {
		key := domain.NormalizeDomainKey(d)
		if key == "" || key == domain.GlobalDomain {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
