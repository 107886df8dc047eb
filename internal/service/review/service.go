// Package review owns impact reviews: scheduling the retrospective on an
// approved proposal, its participant roster, the one-time trust delta
// write-back on completion, and AI learning records.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	reviewrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/impactreview"
	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

type reviewRepo interface {
	Create(ctx context.Context, rev domain.ImpactReview) (bool, error)
	GetByID(ctx context.Context, id string) (domain.ImpactReview, error)
	GetByProposal(ctx context.Context, proposalID string) (domain.ImpactReview, error)
	GetByProposalForUpdate(ctx context.Context, proposalID string) (domain.ImpactReview, error)
	Update(ctx context.Context, rev domain.ImpactReview) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter reviewrepo.Filter) ([]domain.ImpactReview, int, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ImpactReview, error)
	AllLinkedIssuesDoneAt(ctx context.Context, proposalID string) (*time.Time, error)
	Summarize(ctx context.Context, reviewID string) (reviewrepo.Summary, error)
}

type participantRepo interface {
	UpsertProposer(ctx context.Context, reviewID, userID string) error
	UpsertVoter(ctx context.Context, reviewID, userID, role string, choice domain.VoteChoice) error
	UpsertVetoer(ctx context.Context, reviewID, userID string, overturned bool) error
	UpsertParticipant(ctx context.Context, p domain.ReviewParticipant) (domain.ReviewParticipant, error)
	GetParticipant(ctx context.Context, reviewID, userID string) (domain.ReviewParticipant, error)
	UpdateParticipant(ctx context.Context, p domain.ReviewParticipant) error
	ListParticipants(ctx context.Context, reviewID string) ([]domain.ReviewParticipant, error)
	SetParticipantScoreChange(ctx context.Context, participantID int64, change int) error
	RemoveParticipant(ctx context.Context, reviewID, userID string) error
	ListLearningCandidates(ctx context.Context, projectID uuid.UUID, proposalID, reviewID string) ([]reviewrepo.LearningCandidate, error)
	InsertLearningRecord(ctx context.Context, rec domain.AILearningRecord) error
}

type proposalRepo interface {
	GetByID(ctx context.Context, id string) (domain.Proposal, error)
}

type voteRepo interface {
	ListByProposal(ctx context.Context, proposalID string) ([]domain.Vote, error)
}

type vetoEventRepo interface {
	ListByProposal(ctx context.Context, proposalID string) ([]domain.VetoEvent, error)
}

type configRepo interface {
	Get(ctx context.Context, projectID uuid.UUID) (domain.GovernanceConfig, error)
}

type membershipRepo interface {
	LinkedProjectIDs(ctx context.Context, proposalID string) ([]uuid.UUID, error)
	AuthorProjectIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type trustApplier interface {
	ApplyImpactReviewDeltaInTx(ctx context.Context, userID uuid.UUID, userType domain.ParticipantType, projectID uuid.UUID, dom string, eventID string, delta int, reason string) error
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

// Service provides impact review operations.
type Service struct {
	reviews      reviewRepo
	participants participantRepo
	proposals    proposalRepo
	votes        voteRepo
	vetoes       vetoEventRepo
	config       configRepo
	membership   membershipRepo
	trust        trustApplier
	audit        auditRepo
	webhooks     webhookSink
	tx           txManager
	log          *slog.Logger
}

// NewService creates a new Impact Review service.
func NewService(
	log *slog.Logger,
	reviews reviewRepo,
	participants participantRepo,
	proposals proposalRepo,
	votes voteRepo,
	vetoes vetoEventRepo,
	config configRepo,
	membership membershipRepo,
	trust trustApplier,
	audit auditRepo,
	webhooks webhookSink,
	tx txManager,
) *Service {
	return &Service{
		reviews:      reviews,
		participants: participants,
		proposals:    proposals,
		votes:        votes,
		vetoes:       vetoes,
		config:       config,
		membership:   membership,
		trust:        trust,
		audit:        audit,
		webhooks:     webhooks,
		tx:           tx,
		log:          log.With("service", "review"),
	}
}

// requireProjectID maps a proposal to its governing project. Reviews are
// project-scoped rows, so an unresolvable project is an error here, unlike
// the best-effort resolution used for audit routing.
func (s *Service) requireProjectID(ctx context.Context, proposalID, authorID string) (uuid.UUID, error) {
	linked, err := s.membership.LinkedProjectIDs(ctx, proposalID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve project for %s: %w", proposalID, err)
	}
	if len(linked) >= 1 {
		return linked[0], nil
	}

	authorUUID, err := uuid.Parse(authorID)
	if err != nil {
		return uuid.Nil, domain.NewValidationError("author_id", "proposal author_id is not uuid")
	}
	projects, err := s.membership.AuthorProjectIDs(ctx, authorUUID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve author projects for %s: %w", proposalID, err)
	}
	if len(projects) == 0 {
		return uuid.Nil, domain.NewValidationError("project", "proposal project not found")
	}
	return projects[0], nil
}

func (s *Service) writeAudit(ctx context.Context, projectID uuid.UUID, actorID *uuid.UUID, action, resourceID string, oldValue, newValue []byte) {
	err := s.audit.Log(ctx, domain.AuditLogEntry{
		ProjectID:    projectID,
		ActorID:      actorID,
		Action:       action,
		ResourceType: "impact_review",
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

// newReviewID builds the review primary key.
func newReviewID() string {
	return fmt.Sprintf("REV-%s", uuid.New())
}
