// Package proposal owns the proposal lifecycle state machine
// (draft → open → voting → {approved, rejected, vetoed} → archived),
// the ballot box, and finalization into a decision.
package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	proposalrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/proposal"
	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

type proposalRepo interface {
	Create(ctx context.Context, p domain.Proposal) error
	GetByID(ctx context.Context, id string) (domain.Proposal, error)
	MarkSubmitted(ctx context.Context, id string, at time.Time) error
	MarkVotingStarted(ctx context.Context, id string, at time.Time) error
	MarkFinalized(ctx context.Context, id string, status domain.ProposalStatus, endedAt time.Time) error
	MarkArchived(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	GetTemplate(ctx context.Context, id string) (domain.ProposalTemplate, error)
	List(ctx context.Context, filter proposalrepo.Filter) ([]domain.Proposal, int, error)
	ListExpiredVoting(ctx context.Context, now time.Time) ([]domain.Proposal, error)
	PromoteExpiredOpen(ctx context.Context, now time.Time) ([]proposalrepo.PromotedProposal, error)
}

type voteRepo interface {
	Create(ctx context.Context, v domain.Vote) (domain.Vote, error)
	GetByVoter(ctx context.Context, proposalID, voterID string) (domain.Vote, error)
	ListByProposal(ctx context.Context, proposalID string) ([]domain.Vote, error)
	Tally(ctx context.Context, proposalID string) (domain.Tally, error)
	UpdateWeight(ctx context.Context, voteID int64, weight float64) error
	DeleteByVoter(ctx context.Context, proposalID, voterID string) error
}

type decisionRepo interface {
	Create(ctx context.Context, d domain.Decision) error
	GetByProposal(ctx context.Context, proposalID string) (domain.Decision, error)
	GetByID(ctx context.Context, id string) (domain.Decision, error)
	ExistsForProposal(ctx context.Context, proposalID string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]domain.Decision, error)
}

type membershipRepo interface {
	LinkedProjectIDs(ctx context.Context, proposalID string) ([]uuid.UUID, error)
	AuthorProjectIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
}

type weightResolver interface {
	ResolveVoteWeight(ctx context.Context, userID, projectID uuid.UUID, domains []string) (float64, error)
}

type trustApplier interface {
	ApplyProposalResultInTx(ctx context.Context, userID uuid.UUID, userType domain.ParticipantType, projectID uuid.UUID, proposalID string, approved bool, domains []string) error
}

type reviewScheduler interface {
	ScheduleInTx(ctx context.Context, proposalID string, autoTriggered bool) error
}

type permissionChecker interface {
	CanVote(ctx context.Context, userID, projectID uuid.UUID, dom string, userType domain.ParticipantType) (bool, error)
	AIReasonMinLength(ctx context.Context, userID, projectID uuid.UUID) (*int, error)
}

type taskQueue interface {
	QueueVoteRequested(ctx context.Context, projectID uuid.UUID, proposalID, title string) (int, error)
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

// Actor identifies the authenticated participant performing an operation.
type Actor struct {
	UserID  uuid.UUID
	Type    domain.ParticipantType
	IsAdmin bool
}

// IDString is the text form used for proposal author and voter columns.
func (a Actor) IDString() string { return a.UserID.String() }

// Service provides proposal lifecycle operations.
type Service struct {
	proposals  proposalRepo
	votes      voteRepo
	decisions  decisionRepo
	membership membershipRepo
	weights    weightResolver
	trust      trustApplier
	reviews    reviewScheduler
	permission permissionChecker
	tasks      taskQueue
	audit      auditRepo
	webhooks   webhookSink
	tx         txManager
	log        *slog.Logger
}

// NewService creates a new Proposal service.
func NewService(
	log *slog.Logger,
	proposals proposalRepo,
	votes voteRepo,
	decisions decisionRepo,
	membership membershipRepo,
	weights weightResolver,
	trust trustApplier,
	reviews reviewScheduler,
	permission permissionChecker,
	tasks taskQueue,
	audit auditRepo,
	webhooks webhookSink,
	tx txManager,
) *Service {
	return &Service{
		proposals:  proposals,
		votes:      votes,
		decisions:  decisions,
		membership: membership,
		weights:    weights,
		trust:      trust,
		reviews:    reviews,
		permission: permission,
		tasks:      tasks,
		audit:      audit,
		webhooks:   webhooks,
		tx:         tx,
		log:        log.With("service", "proposal"),
	}
}

// newPrefixedID builds the string primary keys used by proposals, decisions
// and reviews ("PROP-<uuid>", "DEC-<uuid>", "REV-<uuid>").
func newPrefixedID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New())
}

func ensureAuthorOrAdmin(p domain.Proposal, actor Actor) error {
	if p.AuthorID == actor.IDString() || actor.IsAdmin {
		return nil
	}
	return fmt.Errorf("only proposal author or admin can perform this action: %w", domain.ErrForbidden)
}
