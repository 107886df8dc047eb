package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImpactReview is the scheduled retrospective on an approved proposal.
// One per proposal; trust_score_applied guards the one-time write-back of
// participant deltas into the trust ledger.
type ImpactReview struct {
	ID                string
	ProposalID        string
	ProjectID         uuid.UUID
	Status            ReviewStatus
	Rating            *ReviewRating
	Metrics           []byte
	GoalAchievements  []byte
	Achievements      *string
	Lessons           *string
	ReviewerID        *uuid.UUID
	IsAutoTriggered   bool
	DataSources       []byte
	TrustScoreApplied bool
	ScheduledAt       *time.Time
	ConductedAt       *time.Time
	CreatedAt         time.Time
}

// Review participant roles.
const (
	RoleProposer     = "proposer"
	RoleVoterYes     = "voter_yes"
	RoleVoterNo      = "voter_no"
	RoleVoterAbstain = "voter_abstain"
	RoleVetoer       = "vetoer"
)

// ReviewParticipant links a user to a review with the behavior that will
// drive their trust delta.
type ReviewParticipant struct {
	ID                int64
	ReviewID          string
	UserID            string
	Role              string
	VoteChoice        *VoteChoice
	ExercisedVeto     bool
	VetoOverturned    bool
	FeedbackSubmitted bool
	FeedbackContent   *string
	TrustScoreChange  *int
}

// AILearningRecord captures, per AI participant and review, whether the
// agent's vote aligned with the review outcome.
type AILearningRecord struct {
	ID                  int64
	AIParticipantID     string
	ReviewID            string
	ProposalID          string
	Domain              string
	ReviewRating        ReviewRating
	AIVoteChoice        *VoteChoice
	AIVoteReason        *string
	OutcomeAlignment    OutcomeAlignment
	LessonLearned       *string
	WillChange          *string
	FollowUpImprovement *string
	CreatedAt           time.Time
}

// Appeal contests a single trust ledger entry. Acceptance produces a
// compensating ledger adjustment, never a mutation of the original entry.
type Appeal struct {
	ID          int64
	LogID       int64
	AppellantID uuid.UUID
	Reason      string
	Evidence    []byte
	Status      AppealStatus
	ReviewerID  *uuid.UUID
	ReviewNote  *string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}
