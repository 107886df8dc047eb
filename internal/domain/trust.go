package domain

import (
	"time"

	"github.com/google/uuid"
)

// GlobalDomain is the domain-independent default bucket for trust scores.
const GlobalDomain = "global"

// Trust level bands.
const (
	levelAdvisorMin    = 50
	levelVoterMin      = 100
	levelVetoerMin     = 200
	levelAutonomousMin = 300
)

// TrustLevel is the banded label derived from a trust score.
type TrustLevel string

const (
	LevelObserver   TrustLevel = "observer"
	LevelAdvisor    TrustLevel = "advisor"
	LevelVoter      TrustLevel = "voter"
	LevelVetoer     TrustLevel = "vetoer"
	LevelAutonomous TrustLevel = "autonomous"
)

func (l TrustLevel) String() string { return string(l) }

func (l TrustLevel) IsValid() bool {
	switch l {
	case LevelObserver, LevelAdvisor, LevelVoter, LevelVetoer, LevelAutonomous:
		return true
	}
	return false
}

// Rank orders levels for permission comparisons (observer lowest).
func (l TrustLevel) Rank() int {
	switch l {
	case LevelAdvisor:
		return 1
	case LevelVoter:
		return 2
	case LevelVetoer:
		return 3
	case LevelAutonomous:
		return 4
	default:
		return 0
	}
}

// LevelForScore derives the trust level band for a score.
func LevelForScore(score int) TrustLevel {
	switch {
	case score < levelAdvisorMin:
		return LevelObserver
	case score < levelVoterMin:
		return LevelAdvisor
	case score < levelVetoerMin:
		return LevelVoter
	case score < levelAutonomousMin:
		return LevelVetoer
	default:
		return LevelAutonomous
	}
}

// WeightForScore derives the vote-weight multiplier for a score,
// clamped to [0.5, 2.0].
func WeightForScore(score int) float64 {
	w := 1.0 + (float64(score)-100.0)/200.0
	if w < 0.5 {
		return 0.5
	}
	if w > 2.0 {
		return 2.0
	}
	return w
}

// Initial state of a lazily created trust score row.
const (
	InitialTrustScore  = 100
	InitialTrustWeight = 1.0
)

// TrustScore is the per-(user, project, domain) ledger head. It is mutated
// only through the trust service's single mutation path.
type TrustScore struct {
	ID                    int64
	UserID                uuid.UUID
	UserType              ParticipantType
	ProjectID             uuid.UUID
	Domain                string
	Score                 int
	Level                 TrustLevel
	VoteWeight            float64
	ConsecutiveRejections int
	CooldownUntil         *time.Time
	UpdatedAt             time.Time
}

// TrustEventType names the producers of trust score changes. Together with
// the event id it forms the ledger idempotency key.
type TrustEventType string

const (
	EventProposalApproved      TrustEventType = "proposal_approved"
	EventProposalRejected      TrustEventType = "proposal_rejected"
	EventInactivityPenalty     TrustEventType = "inactivity_penalty"
	EventAppealAccepted        TrustEventType = "appeal_accepted"
	EventImpactReviewCompleted TrustEventType = "impact_review_completed"
)

func (t TrustEventType) String() string { return string(t) }

// TrustScoreLog is the immutable ledger entry recording one applied event.
// (user, project, domain, event_type, event_id) is unique; appeals create a
// compensating entry rather than mutating this one.
type TrustScoreLog struct {
	ID           int64
	UserID       uuid.UUID
	ProjectID    uuid.UUID
	Domain       string
	EventType    TrustEventType
	EventID      string
	ScoreChange  int
	OldScore     int
	NewScore     int
	OldLevel     TrustLevel
	NewLevel     TrustLevel
	Reason       string
	IsAppealed   bool
	AppealResult *string
	CreatedAt    time.Time
}

// Vetoer is a veto-rights grant for (user, project, domain). Rows granted by
// trust-score sync come and go with the level; manual grants persist until
// explicitly revoked.
type Vetoer struct {
	ID        int64
	UserID    uuid.UUID
	ProjectID uuid.UUID
	Domain    string
	GrantedBy GrantSource
	GrantedAt time.Time
}
