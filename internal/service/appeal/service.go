// Package appeal lets a user contest a single trust ledger entry. An accepted
// appeal is compensated by a new ledger adjustment that reverses the contested
// delta; the original entry is never mutated.
package appeal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	appealrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/appeal"
	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

type appealRepo interface {
	Create(ctx context.Context, a domain.Appeal) (domain.Appeal, error)
	GetByID(ctx context.Context, id int64) (domain.Appeal, error)
	GetByIDForUpdate(ctx context.Context, id int64) (domain.Appeal, error)
	Resolve(ctx context.Context, a domain.Appeal) error
	Delete(ctx context.Context, id int64) error
	PendingExistsForLog(ctx context.Context, logID int64) (bool, error)
	List(ctx context.Context, filter appealrepo.Filter) ([]domain.Appeal, error)
}

type trustLogRepo interface {
	GetLogByID(ctx context.Context, id int64) (domain.TrustScoreLog, error)
	MarkLogAppealed(ctx context.Context, logID int64, result string) error
}

type trustAdjuster interface {
	ApplyManualAdjustmentInTx(ctx context.Context, userID uuid.UUID, userType domain.ParticipantType, projectID uuid.UUID, dom string, delta int, eventType domain.TrustEventType, eventID string, reason string) error
}

type membershipRepo interface {
	IsProjectAdminOrOwner(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
}

type vetoerRepo interface {
	Exists(ctx context.Context, userID, projectID uuid.UUID, dom string) (bool, error)
}

type agentRepo interface {
	GetByUserAndProject(ctx context.Context, userID string, projectID uuid.UUID) (domain.AIParticipant, error)
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

// Service provides appeal operations.
type Service struct {
	appeals    appealRepo
	trustLogs  trustLogRepo
	trust      trustAdjuster
	membership membershipRepo
	vetoers    vetoerRepo
	agents     agentRepo
	audit      auditRepo
	webhooks   webhookSink
	tx         txManager
	log        *slog.Logger
}

// NewService creates a new Appeal service.
func NewService(
	log *slog.Logger,
	appeals appealRepo,
	trustLogs trustLogRepo,
	trust trustAdjuster,
	membership membershipRepo,
	vetoers vetoerRepo,
	agents agentRepo,
	audit auditRepo,
	webhooks webhookSink,
	tx txManager,
) *Service {
	return &Service{
		appeals:    appeals,
		trustLogs:  trustLogs,
		trust:      trust,
		membership: membership,
		vetoers:    vetoers,
		agents:     agents,
		audit:      audit,
		webhooks:   webhooks,
		tx:         tx,
		log:        log.With("service", "appeal"),
	}
}

// canReview reports whether the user may rule on appeals against the given
// ledger entry: project admin/owner, or a vetoer in the entry's domain.
func (s *Service) canReview(ctx context.Context, userID uuid.UUID, l domain.TrustScoreLog) (bool, error) {
	admin, err := s.membership.IsProjectAdminOrOwner(ctx, l.ProjectID, userID)
	if err != nil {
		return false, err
	}
	if admin {
		return true, nil
	}
	return s.vetoers.Exists(ctx, userID, l.ProjectID, l.Domain)
}

// participantType resolves how the ledger entry's owner participates in the
// project. Registered active agents are AI, everyone else is human.
func (s *Service) participantType(ctx context.Context, userID, projectID uuid.UUID) (domain.ParticipantType, error) {
	agent, err := s.agents.GetByUserAndProject(ctx, userID.String(), projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ParticipantHuman, nil
	}
	if err != nil {
		return "", err
	}
	if agent.IsActive {
		return domain.ParticipantAI, nil
	}
	return domain.ParticipantHuman, nil
}

func (s *Service) writeAudit(ctx context.Context, projectID uuid.UUID, actorID *uuid.UUID, action string, appealID int64, oldValue, newValue []byte) {
	resourceID := fmt.Sprintf("%d", appealID)
	err := s.audit.Log(ctx, domain.AuditLogEntry{
		ProjectID:    projectID,
		ActorID:      actorID,
		Action:       action,
		ResourceType: "appeal",
		ResourceID:   &resourceID,
		OldValue:     oldValue,
		NewValue:     newValue,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "audit write failed",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", err.Error()),
		)
	}
}
