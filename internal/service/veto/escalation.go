package veto

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// StartEscalation opens the escalation window on an active veto. Only the
// proposal author may escalate, and only within 48 hours of the veto.
func (s *Service) StartEscalation(ctx context.Context, initiatorID uuid.UUID, proposalID string) (domain.VetoEvent, error) {
	var event domain.VetoEvent

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		veto, err := s.events.LatestByProposalForUpdate(txCtx, proposalID)
		if err != nil {
			return err
		}

		p, err := s.proposals.GetByID(txCtx, proposalID)
		if err != nil {
			return err
		}
		authorID, err := uuid.Parse(p.AuthorID)
		if err != nil || authorID != initiatorID {
			return fmt.Errorf("only proposal author can start escalation: %w", domain.ErrForbidden)
		}

		if veto.Status != domain.VetoStatusActive {
			return domain.NewValidationError("status", "only active veto can be escalated")
		}
		if veto.EscalationStartedAt != nil {
			return fmt.Errorf("escalation already started: %w", domain.ErrConflict)
		}
		if time.Now().UTC().After(veto.CreatedAt.Add(domain.EscalationWindow)) {
			return domain.NewValidationError("escalation",
				"escalation window has expired (48h after veto)")
		}

		now := time.Now().UTC()
		veto.EscalationStartedAt = &now
		if veto.EscalationVotes == nil {
			veto.EscalationVotes = domain.NewEscalationVotes()
		}
		if err := s.events.Update(txCtx, veto); err != nil {
			return err
		}
		event = veto
		return nil
	})
	if err != nil {
		return domain.VetoEvent{}, err
	}

	p, pErr := s.proposals.GetByID(ctx, proposalID)
	if pErr == nil {
		if projectID, err := s.resolveProjectID(ctx, proposalID, p.AuthorID); err == nil && projectID != nil {
			newValue, _ := json.Marshal(map[string]any{
				"proposal_id":           proposalID,
				"status":                string(event.Status),
				"escalation_started_at": event.EscalationStartedAt.Format(time.RFC3339),
			})
			metadata, _ := json.Marshal(map[string]any{"proposal_id": proposalID})
			s.writeAudit(ctx, *projectID, initiatorID, "veto.escalation_started", fmt.Sprint(event.ID), nil, newValue, metadata)

			s.webhooks.DispatchAsync(webhook.Event{
				Type:       "veto.escalation_started",
				ProposalID: proposalID,
				ProjectID:  projectID.String(),
				Data:       map[string]any{"veto_id": event.ID},
			})
		}
	}

	s.log.InfoContext(ctx, "veto escalation started",
		slog.String("proposal_id", proposalID),
		slog.Int64("veto_id", event.ID),
	)
	return event, nil
}

// CastEscalationVote records one vetoer's overturn/uphold ballot on the
// escalation. Re-votes overwrite. Reaching the two-thirds overturn threshold
// releases the veto; all ballots in without the threshold upholds it.
func (s *Service) CastEscalationVote(ctx context.Context, voterID uuid.UUID, proposalID string, overturn bool) (domain.VetoEvent, error) {
	var (
		event     domain.VetoEvent
		projectID *uuid.UUID
	)

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		veto, err := s.events.LatestByProposalForUpdate(txCtx, proposalID)
		if err != nil {
			return err
		}
		if veto.Status != domain.VetoStatusActive {
			return fmt.Errorf("veto is already resolved: %w", domain.ErrConflict)
		}
		if veto.EscalationStartedAt == nil {
			return domain.NewValidationError("escalation", "escalation has not started")
		}
		if time.Now().UTC().After(veto.EscalationStartedAt.Add(domain.EscalationWindow)) {
			return domain.NewValidationError("escalation",
				"escalation voting window has expired (48h after escalation start)")
		}

		p, err := s.proposals.GetByID(txCtx, proposalID)
		if err != nil {
			return err
		}
		projectID, err = s.resolveProjectID(txCtx, proposalID, p.AuthorID)
		if err != nil {
			return err
		}
		if projectID == nil {
			return domain.NewValidationError("project", "proposal project not found")
		}

		granted, err := s.vetoers.Exists(txCtx, voterID, *projectID, veto.Domain)
		if err != nil {
			return err
		}
		if !granted {
			return fmt.Errorf("vetoer required: %w", domain.ErrForbidden)
		}

		if veto.EscalationVotes == nil {
			veto.EscalationVotes = domain.NewEscalationVotes()
		}
		veto.EscalationVotes.Record(voterID.String(), overturn)

		totalVetoers, err := s.vetoers.CountByDomain(txCtx, *projectID, veto.Domain)
		if err != nil {
			return err
		}
		threshold := domain.OverturnThreshold(totalVetoers)

		balloted := veto.EscalationVotes.Overturned + veto.EscalationVotes.Upheld
		switch {
		case totalVetoers > 0 && veto.EscalationVotes.Overturned >= threshold:
			veto.Status = domain.VetoStatusOverturned
			result := string(domain.VetoStatusOverturned)
			veto.EscalationResult = &result
			if err := s.releaseVeto(txCtx, p); err != nil {
				return err
			}
		case totalVetoers > 0 && balloted >= totalVetoers:
			veto.Status = domain.VetoStatusUpheld
			result := string(domain.VetoStatusUpheld)
			veto.EscalationResult = &result
		}

		if err := s.events.Update(txCtx, veto); err != nil {
			return err
		}
		event = veto
		return nil
	})
	if err != nil {
		return domain.VetoEvent{}, err
	}

	if projectID != nil {
		newValue, _ := json.Marshal(map[string]any{
			"proposal_id":       proposalID,
			"overturn":          overturn,
			"status":            string(event.Status),
			"escalation_result": event.EscalationResult,
		})
		metadata, _ := json.Marshal(map[string]any{"proposal_id": proposalID})
		s.writeAudit(ctx, *projectID, voterID, "veto.escalation_voted", fmt.Sprint(event.ID), nil, newValue, metadata)
	}

	s.log.InfoContext(ctx, "escalation vote cast",
		slog.String("proposal_id", proposalID),
		slog.Bool("overturn", overturn),
		slog.String("veto_status", string(event.Status)),
	)
	return event, nil
}

// Withdraw releases the veto at the original vetoer's request, while voting
// has not ended, and restores the proposal to its pre-veto phase.
func (s *Service) Withdraw(ctx context.Context, requesterID uuid.UUID, proposalID string) (domain.VetoEvent, error) {
	var (
		event     domain.VetoEvent
		projectID *uuid.UUID
	)

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		veto, err := s.events.LatestByProposalForUpdate(txCtx, proposalID)
		if err != nil {
			return err
		}
		if veto.Status != domain.VetoStatusActive {
			return domain.NewValidationError("status", "only active veto can be withdrawn")
		}
		if veto.VetoerID != requesterID {
			return fmt.Errorf("only original vetoer can withdraw veto: %w", domain.ErrForbidden)
		}

		p, err := s.proposals.GetByID(txCtx, proposalID)
		if err != nil {
			return err
		}
		if p.VotingEndedAt != nil && !p.VotingEndedAt.After(time.Now().UTC()) {
			return domain.NewValidationError("voting",
				"voting period has ended, veto cannot be withdrawn")
		}

		projectID, _ = s.resolveProjectID(txCtx, proposalID, p.AuthorID)

		if err := s.releaseVeto(txCtx, p); err != nil {
			return err
		}

		veto.Status = domain.VetoStatusWithdrawn
		result := string(domain.VetoStatusWithdrawn)
		veto.EscalationResult = &result
		if err := s.events.Update(txCtx, veto); err != nil {
			return err
		}
		event = veto
		return nil
	})
	if err != nil {
		return domain.VetoEvent{}, err
	}

	if projectID != nil {
		oldValue, _ := json.Marshal(map[string]any{"proposal_id": proposalID, "status": "active"})
		newValue, _ := json.Marshal(map[string]any{"proposal_id": proposalID, "status": string(event.Status)})
		metadata, _ := json.Marshal(map[string]any{"proposal_id": proposalID})
		s.writeAudit(ctx, *projectID, requesterID, "veto.withdrawn", fmt.Sprint(event.ID), oldValue, newValue, metadata)

		s.webhooks.DispatchAsync(webhook.Event{
			Type:       "veto.withdrawn",
			ProposalID: proposalID,
			ProjectID:  projectID.String(),
			Data:       map[string]any{"veto_id": event.ID},
		})
	}

	s.log.InfoContext(ctx, "veto withdrawn",
		slog.String("proposal_id", proposalID),
		slog.Int64("veto_id", event.ID),
	)
	return event, nil
}

// releaseVeto restores a vetoed proposal to its pre-veto phase, revises the
// decision from the live tally and schedules an impact review when the
// revised decision is an approval.
func (s *Service) releaseVeto(ctx context.Context, p domain.Proposal) error {
	resumed := domain.ProposalStatusOpen
	if p.VotingStartedAt != nil && (p.VotingEndedAt == nil || p.VotingEndedAt.After(time.Now().UTC())) {
		resumed = domain.ProposalStatusVoting
	}
	if err := s.proposals.SetStatus(ctx, p.ID, resumed); err != nil {
		return err
	}

	tally, err := s.votes.Tally(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := s.decisions.SyncFromTally(ctx, decisionFromTally(p.ID, tally)); err != nil {
		return err
	}

	d, err := s.decisions.GetByProposal(ctx, p.ID)
	if err != nil {
		return err
	}
	if d.Result == domain.DecisionApproved {
		return s.reviews.ScheduleInTx(ctx, p.ID, true)
	}
	return nil
}

// decisionFromTally maps the live ballot tally onto a revised decision.
func decisionFromTally(proposalID string, t domain.Tally) domain.Decision {
	result := domain.DecisionRejected
	if t.WeightedYes > t.WeightedNo {
		result = domain.DecisionApproved
	}

	weightedApprovalRate := 0.0
	if t.WeightedYes+t.WeightedNo > 0 {
		weightedApprovalRate = t.WeightedYes / (t.WeightedYes + t.WeightedNo)
	}
	var approvalRate *float64
	if t.Yes+t.No > 0 {
		rate := float64(t.Yes) / float64(t.Yes+t.No)
		approvalRate = &rate
	}
	weightedYes := t.WeightedYes
	weightedNo := t.WeightedNo

	return domain.Decision{
		ProposalID:           proposalID,
		Result:               result,
		ApprovalRate:         approvalRate,
		TotalVotes:           t.Total(),
		YesVotes:             t.Yes,
		NoVotes:              t.No,
		AbstainVotes:         t.Abstain,
		WeightedYes:          &weightedYes,
		WeightedNo:           &weightedNo,
		WeightedApprovalRate: &weightedApprovalRate,
		DecidedAt:            time.Now().UTC(),
	}
}
