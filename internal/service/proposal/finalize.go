package proposal

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Approval thresholds per voting rule, applied to the weighted tally.
const (
	absoluteMajorityThreshold = 0.67
	consensusThreshold        = 0.80
)

// errAlreadyFinalized aborts a finalize transaction (rolling it back) when a
// concurrent finalize won the decision insert. The race is benign.
var errAlreadyFinalized = errors.New("proposal already finalized")

// CalculateResult turns a weighted tally into a decision under the voting
// rule. A zero total always rejects.
func CalculateResult(weightedYes, weightedNo float64, rule domain.VotingRule) domain.DecisionResult {
	total := weightedYes + weightedNo
	if total <= 0 {
		return domain.DecisionRejected
	}

	switch rule {
	case domain.VotingRuleSimpleMajority:
		if weightedYes > weightedNo {
			return domain.DecisionApproved
		}
	case domain.VotingRuleAbsoluteMajority:
		if weightedYes/total >= absoluteMajorityThreshold {
			return domain.DecisionApproved
		}
	case domain.VotingRuleConsensus:
		if weightedYes/total >= consensusThreshold {
			return domain.DecisionApproved
		}
	}
	return domain.DecisionRejected
}

// EnsureFinalized lazily finalizes a voting proposal whose window has
// already elapsed, so reads and writes racing the watcher observe the final
// state. A proposal still inside its window is left alone.
func (s *Service) EnsureFinalized(ctx context.Context, p domain.Proposal) error {
	if p.Status != domain.ProposalStatusVoting || p.VotingStartedAt == nil {
		return nil
	}
	if time.Now().UTC().Before(p.VotingStartedAt.Add(p.CycleTemplate.VotingWindow())) {
		return nil
	}

	exists, err := s.decisions.ExistsForProposal(ctx, p.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.Finalize(ctx, p)
}

// Finalize closes voting on a proposal: re-resolves every ballot's weight,
// computes the result, records the decision, credits the author's trust
// score and schedules the impact review for approved proposals. Everything
// happens in one transaction; losing the decision-insert race to a
// concurrent finalize rolls the whole transaction back as a no-op.
func (s *Service) Finalize(ctx context.Context, p domain.Proposal) error {
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		tally, err := s.recalculateAndTally(txCtx, p)
		if err != nil {
			return err
		}

		result := CalculateResult(tally.WeightedYes, tally.WeightedNo, p.VotingRule)
		now := time.Now().UTC()

		status := domain.ProposalStatusRejected
		if result == domain.DecisionApproved {
			status = domain.ProposalStatusApproved
		}
		if err := s.proposals.MarkFinalized(txCtx, p.ID, status, now); err != nil {
			return err
		}

		d := buildDecision(p.ID, result, tally, now)
		if err := s.decisions.Create(txCtx, d); err != nil {
			if postgres.IsUniqueViolation(err, "decisions_proposal_id_key") {
				return errAlreadyFinalized
			}
			return err
		}

		if err := s.applyTrustAfterFinalize(txCtx, p, result); err != nil {
			return err
		}
		if result == domain.DecisionApproved {
			if err := s.reviews.ScheduleInTx(txCtx, p.ID, true); err != nil {
				return err
			}
		}

		s.log.InfoContext(txCtx, "proposal finalized",
			slog.String("proposal_id", p.ID),
			slog.String("result", string(result)),
			slog.Int("total_votes", tally.Total()),
			slog.Float64("weighted_yes", tally.WeightedYes),
			slog.Float64("weighted_no", tally.WeightedNo),
		)
		return nil
	})
	if errors.Is(err, errAlreadyFinalized) {
		s.log.WarnContext(ctx, "skip finalize: decision already exists",
			slog.String("proposal_id", p.ID))
		return nil
	}
	return err
}

// buildDecision assembles the decision row from a finalized tally.
func buildDecision(proposalID string, result domain.DecisionResult, tally domain.Tally, decidedAt time.Time) domain.Decision {
	var approvalRate *float64
	if tally.Yes+tally.No > 0 {
		rate := float64(tally.Yes) / float64(tally.Yes+tally.No)
		approvalRate = &rate
	}
	var weightedApprovalRate *float64
	if tally.WeightedYes+tally.WeightedNo > 0 {
		rate := tally.WeightedYes / (tally.WeightedYes + tally.WeightedNo)
		weightedApprovalRate = &rate
	}
	weightedYes := tally.WeightedYes
	weightedNo := tally.WeightedNo

	return domain.Decision{
		ID:                   newPrefixedID("DEC"),
		ProposalID:           proposalID,
		Result:               result,
		ApprovalRate:         approvalRate,
		TotalVotes:           tally.Total(),
		YesVotes:             tally.Yes,
		NoVotes:              tally.No,
		AbstainVotes:         tally.Abstain,
		WeightedYes:          &weightedYes,
		WeightedNo:           &weightedNo,
		WeightedApprovalRate: weightedApprovalRate,
		IsWeighted:           true,
		DecidedAt:            decidedAt,
	}
}

// recalculateAndTally re-resolves every ballot's weight against the current
// trust scores and aggregates the tally. Drifted weights are written back so
// the stored ballots match what was counted.
func (s *Service) recalculateAndTally(ctx context.Context, p domain.Proposal) (domain.Tally, error) {
	var tally domain.Tally

	projectID, err := s.resolveProjectID(ctx, p.ID, p.AuthorID)
	if err != nil {
		return domain.Tally{}, err
	}
	domains := normalizedDomains(p.Domains)

	votes, err := s.votes.ListByProposal(ctx, p.ID)
	if err != nil {
		return domain.Tally{}, err
	}

	for _, v := range votes {
		effective := clampWeight(v.Weight)
		if projectID != nil {
			if voterUUID, parseErr := uuid.Parse(v.VoterID); parseErr == nil {
				effective, err = s.weights.ResolveVoteWeight(ctx, voterUUID, *projectID, domains)
				if err != nil {
					return domain.Tally{}, err
				}
			}
		}

		if math.Abs(effective-v.Weight) > 1e-9 {
			if err := s.votes.UpdateWeight(ctx, v.ID, effective); err != nil {
				return domain.Tally{}, err
			}
		}

		switch v.Choice {
		case domain.VoteChoiceYes:
			tally.Yes++
			tally.WeightedYes += effective
		case domain.VoteChoiceNo:
			tally.No++
			tally.WeightedNo += effective
		case domain.VoteChoiceAbstain:
			tally.Abstain++
		}
	}
	return tally, nil
}

// applyTrustAfterFinalize credits or debits the author. Non-UUID authors and
// proposals without a resolvable project are skipped, never failed.
func (s *Service) applyTrustAfterFinalize(ctx context.Context, p domain.Proposal, result domain.DecisionResult) error {
	if result != domain.DecisionApproved && result != domain.DecisionRejected {
		return nil
	}

	authorID, err := uuid.Parse(p.AuthorID)
	if err != nil {
		s.log.WarnContext(ctx, "skip trust score update: non-uuid author id",
			slog.String("proposal_id", p.ID),
			slog.String("author_id", p.AuthorID),
		)
		return nil
	}

	projectID, err := s.resolveProjectID(ctx, p.ID, p.AuthorID)
	if err != nil {
		return err
	}
	if projectID == nil {
		return nil
	}

	return s.trust.ApplyProposalResultInTx(ctx,
		authorID, p.AuthorType, *projectID, p.ID,
		result == domain.DecisionApproved, p.Domains,
	)
}

func clampWeight(w float64) float64 {
	if w < 0.5 {
		return 0.5
	}
	if w > 2.0 {
		return 2.0
	}
	return w
}

// Decision returns the proposal's recorded decision.
func (s *Service) Decision(ctx context.Context, proposalID string) (domain.Decision, error) {
	return s.decisions.GetByProposal(ctx, proposalID)
}

// DecisionByID returns a decision by its own id.
func (s *Service) DecisionByID(ctx context.Context, id string) (domain.Decision, error) {
	return s.decisions.GetByID(ctx, id)
}

// ListDecisions returns decisions newest first.
func (s *Service) ListDecisions(ctx context.Context, limit, offset int) ([]domain.Decision, error) {
	return s.decisions.List(ctx, limit, offset)
}
