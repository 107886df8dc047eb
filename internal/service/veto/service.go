// Package veto owns the privileged-block mechanism on in-progress proposals:
// exercising a veto, the 48-hour escalation process among the domain's
// vetoers, withdrawal, and the vetoer grant registry.
package veto

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	vetoerrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/vetoer"
	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

type vetoEventRepo interface {
	Create(ctx context.Context, e domain.VetoEvent) (domain.VetoEvent, error)
	LatestByProposal(ctx context.Context, proposalID string) (domain.VetoEvent, error)
	LatestByProposalForUpdate(ctx context.Context, proposalID string) (domain.VetoEvent, error)
	Update(ctx context.Context, e domain.VetoEvent) error
	ListByProposal(ctx context.Context, proposalID string) ([]domain.VetoEvent, error)
}

type vetoerRepo interface {
	Create(ctx context.Context, v domain.Vetoer) (domain.Vetoer, error)
	Delete(ctx context.Context, userID, projectID uuid.UUID, dom string) error
	Exists(ctx context.Context, userID, projectID uuid.UUID, dom string) (bool, error)
	CountByDomain(ctx context.Context, projectID uuid.UUID, dom string) (int, error)
	List(ctx context.Context, filter vetoerrepo.Filter) ([]domain.Vetoer, error)
}

type proposalRepo interface {
	GetByID(ctx context.Context, id string) (domain.Proposal, error)
	SetStatus(ctx context.Context, id string, status domain.ProposalStatus) error
}

type voteRepo interface {
	Tally(ctx context.Context, proposalID string) (domain.Tally, error)
	HumanConsensus(ctx context.Context, proposalID string) (bool, error)
}

type decisionRepo interface {
	UpsertVetoed(ctx context.Context, d domain.Decision) error
	SyncFromTally(ctx context.Context, d domain.Decision) error
	GetByProposal(ctx context.Context, proposalID string) (domain.Decision, error)
}

type membershipRepo interface {
	LinkedProjectIDs(ctx context.Context, proposalID string) ([]uuid.UUID, error)
	AuthorProjectIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	IsProjectAdminOrOwner(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
}

type permissionChecker interface {
	CanVeto(ctx context.Context, userID, projectID uuid.UUID, dom string, userType domain.ParticipantType) (bool, error)
	AICanVetoHumanConsensus(ctx context.Context, userID, projectID uuid.UUID) (bool, error)
}

type reviewScheduler interface {
	ScheduleInTx(ctx context.Context, proposalID string, autoTriggered bool) error
}

type auditRepo interface {
	Log(ctx context.Context, entry domain.AuditLogEntry) error
}

type webhookSink interface {
	DispatchAsync(event webhook.Event)
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service provides veto and escalation operations.
type Service struct {
	events     vetoEventRepo
	vetoers    vetoerRepo
	proposals  proposalRepo
	votes      voteRepo
	decisions  decisionRepo
	membership membershipRepo
	permission permissionChecker
	reviews    reviewScheduler
	audit      auditRepo
	webhooks   webhookSink
	tx         txManager
	log        *slog.Logger
}

// NewService creates a new Veto service.
func NewService(
	log *slog.Logger,
	events vetoEventRepo,
	vetoers vetoerRepo,
	proposals proposalRepo,
	votes voteRepo,
	decisions decisionRepo,
	membership membershipRepo,
	permission permissionChecker,
	reviews reviewScheduler,
	audit auditRepo,
	webhooks webhookSink,
	tx txManager,
) *Service {
	return &Service{
		events:     events,
		vetoers:    vetoers,
		proposals:  proposals,
		votes:      votes,
		decisions:  decisions,
		membership: membership,
		permission: permission,
		reviews:    reviews,
		audit:      audit,
		webhooks:   webhooks,
		tx:         tx,
		log:        log.With("service", "veto"),
	}
}

// resolveProjectID maps a proposal to its governing project the same way the
// proposal service does: linked issues first, author membership as fallback,
// nil on ambiguity.
func (s *Service) resolveProjectID(ctx context.Context, proposalID, authorID string) (*uuid.UUID, error) {
	linked, err := s.membership.LinkedProjectIDs(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("resolve project for %s: %w", proposalID, err)
	}
	if len(linked) >= 1 {
		return &linked[0], nil
	}

	authorUUID, err := uuid.Parse(authorID)
	if err != nil {
		return nil, nil
	}
	projects, err := s.membership.AuthorProjectIDs(ctx, authorUUID)
	if err != nil {
		s.log.WarnContext(ctx, "failed to resolve author projects",
			slog.String("proposal_id", proposalID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if len(projects) == 1 {
		return &projects[0], nil
	}
	return nil, nil
}

// writeAudit appends an audit entry for a veto action, logging instead of
// failing the caller when the write is rejected.
func (s *Service) writeAudit(ctx context.Context, projectID, actorID uuid.UUID, action, resourceID string, oldValue, newValue, metadata []byte) {
	err := s.audit.Log(ctx, domain.AuditLogEntry{
		ProjectID:    projectID,
		ActorID:      &actorID,
		Action:       action,
		ResourceType: "veto_event",
		ResourceID:   &resourceID,
		OldValue:     oldValue,
		NewValue:     newValue,
		Metadata:     metadata,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "audit write failed",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", err.Error()),
		)
	}
}
