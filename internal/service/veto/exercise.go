package veto

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// ExerciseInput is a veto request against a proposal.
type ExerciseInput struct {
	// Domain the veto applies to. Empty picks the proposal's primary domain.
	Domain *string
	Reason string
}

// Exercise blocks an open or voting proposal. The vetoer needs both the
// trust level and a grant row in the chosen domain; an AI vetoer is
// additionally blocked when every human ballot agrees, unless the agent
// holds the explicit capability to override human consensus.
func (s *Service) Exercise(ctx context.Context, vetoerID uuid.UUID, vetoerType domain.ParticipantType, proposalID string, in ExerciseInput) (domain.VetoEvent, error) {
	var (
		event     domain.VetoEvent
		projectID *uuid.UUID
	)

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := s.proposals.GetByID(txCtx, proposalID)
		if err != nil {
			return err
		}
		if p.Status != domain.ProposalStatusOpen && p.Status != domain.ProposalStatusVoting {
			return domain.NewValidationError("status", "proposal must be open or voting to veto")
		}

		reason := strings.TrimSpace(in.Reason)
		if utf8.RuneCountInString(reason) < domain.MinVetoReasonLen {
			return domain.NewValidationError("reason",
				fmt.Sprintf("veto reason must be at least %d characters", domain.MinVetoReasonLen))
		}

		vetoDomain := selectVetoDomain(&p, in.Domain)

		projectID, err = s.resolveProjectID(txCtx, proposalID, p.AuthorID)
		if err != nil {
			return err
		}
		if projectID == nil {
			return domain.NewValidationError("project", "proposal project not found")
		}

		canVeto, err := s.permission.CanVeto(txCtx, vetoerID, *projectID, vetoDomain, vetoerType)
		if err != nil {
			return err
		}
		if !canVeto {
			return fmt.Errorf("no veto permission in this domain: %w", domain.ErrForbidden)
		}

		granted, err := s.vetoers.Exists(txCtx, vetoerID, *projectID, vetoDomain)
		if err != nil {
			return err
		}
		if !granted {
			return fmt.Errorf("vetoer record not found: %w", domain.ErrForbidden)
		}

		if vetoerType == domain.ParticipantAI {
			if err := s.checkAIConsensusBlock(txCtx, vetoerID, *projectID, proposalID); err != nil {
				return err
			}
		}

		event, err = s.events.Create(txCtx, domain.VetoEvent{
			ProposalID: proposalID,
			VetoerID:   vetoerID,
			Domain:     vetoDomain,
			Reason:     reason,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		if err := s.proposals.SetStatus(txCtx, proposalID, domain.ProposalStatusVetoed); err != nil {
			return err
		}

		eventID := event.ID
		return s.decisions.UpsertVetoed(txCtx, domain.Decision{
			ID:          fmt.Sprintf("DEC-%s", uuid.New()),
			ProposalID:  proposalID,
			Result:      domain.DecisionVetoed,
			IsWeighted:  true,
			VetoEventID: &eventID,
			DecidedAt:   time.Now().UTC(),
		})
	})
	if err != nil {
		return domain.VetoEvent{}, err
	}

	if projectID != nil {
		newValue, _ := json.Marshal(map[string]any{
			"proposal_id": event.ProposalID,
			"domain":      event.Domain,
			"reason":      event.Reason,
			"status":      string(event.Status),
		})
		metadata, _ := json.Marshal(map[string]any{"proposal_id": proposalID})
		s.writeAudit(ctx, *projectID, vetoerID, "veto.exercised", fmt.Sprint(event.ID), nil, newValue, metadata)

		s.webhooks.DispatchAsync(webhook.Event{
			Type:       "veto.exercised",
			ProposalID: proposalID,
			ProjectID:  projectID.String(),
			Data: map[string]any{
				"veto_id": event.ID,
				"domain":  event.Domain,
				"status":  string(event.Status),
			},
		})
	}

	s.log.InfoContext(ctx, "veto exercised",
		slog.String("proposal_id", proposalID),
		slog.String("vetoer_id", vetoerID.String()),
		slog.String("domain", event.Domain),
	)
	return event, nil
}

// checkAIConsensusBlock rejects an AI veto against a unanimous human vote
// unless the agent holds the explicit override capability.
func (s *Service) checkAIConsensusBlock(ctx context.Context, vetoerID, projectID uuid.UUID, proposalID string) error {
	canOverride, err := s.permission.AICanVetoHumanConsensus(ctx, vetoerID, projectID)
	if err != nil {
		return err
	}
	if canOverride {
		return nil
	}

	consensus, err := s.votes.HumanConsensus(ctx, proposalID)
	if err != nil {
		return err
	}
	if consensus {
		return fmt.Errorf("ai veto is blocked because all human votes are in consensus: %w", domain.ErrForbidden)
	}
	return nil
}

// selectVetoDomain picks the domain a veto applies to: the requested one if
// valid, else the proposal's first declared domain, else global.
func selectVetoDomain(p *domain.Proposal, requested *string) string {
	if requested != nil {
		if key := domain.NormalizeDomainKey(*requested); key != "" {
			return key
		}
	}
	return p.PrimaryDomain()
}

// Get returns the most recent veto event on a proposal.
func (s *Service) Get(ctx context.Context, proposalID string) (domain.VetoEvent, error) {
	return s.events.LatestByProposal(ctx, proposalID)
}

// History returns every veto event on a proposal, newest first.
func (s *Service) History(ctx context.Context, proposalID string) ([]domain.VetoEvent, error) {
	return s.events.ListByProposal(ctx, proposalID)
}
