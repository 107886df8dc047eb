// Package trust owns the trust score ledger. Every score mutation, whatever
// its producer, goes through the single applyChange path: idempotency check,
// row lock, banded recompute, ledger append, audit entry, vetoer sync.
package trust

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/adapter/postgres/trustscore"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

type scoreRepo interface {
	GetForUpdate(ctx context.Context, key trustscore.Key) (domain.TrustScore, error)
	InsertDefault(ctx context.Context, key trustscore.Key, userType domain.ParticipantType) error
	Update(ctx context.Context, s domain.TrustScore) error
	FindLog(ctx context.Context, key trustscore.Key, eventType domain.TrustEventType, eventID string) (domain.TrustScoreLog, error)
	InsertLog(ctx context.Context, l domain.TrustScoreLog) (domain.TrustScoreLog, error)
	Get(ctx context.Context, key trustscore.Key) (domain.TrustScore, error)
	UserScores(ctx context.Context, userID, projectID uuid.UUID) ([]domain.TrustScore, error)
	List(ctx context.Context, filter trustscore.ListFilter) ([]domain.TrustScore, error)
	History(ctx context.Context, userID, projectID uuid.UUID, limit, offset int) ([]domain.TrustScoreLog, error)
}

type vetoerRepo interface {
	EnsureTrustGranted(ctx context.Context, userID, projectID uuid.UUID, dom string) error
	RevokeTrustGranted(ctx context.Context, userID, projectID uuid.UUID, dom string) error
}

type auditRepo interface {
	Log(ctx context.Context, entry domain.AuditLogEntry) error
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service provides trust score operations.
type Service struct {
	scores  scoreRepo
	vetoers vetoerRepo
	audit   auditRepo
	tx      txManager
	log     *slog.Logger
}

// NewService creates a new Trust service.
func NewService(
	log *slog.Logger,
	scores scoreRepo,
	vetoers vetoerRepo,
	audit auditRepo,
	tx txManager,
) *Service {
	return &Service{
		scores:  scores,
		vetoers: vetoers,
		audit:   audit,
		tx:      tx,
		log:     log.With("service", "trust"),
	}
}
