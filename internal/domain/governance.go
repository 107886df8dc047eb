package domain

import (
	"time"

	"github.com/google/uuid"
)

// Governance config defaults applied when a project has no stored row.
const (
	DefaultAutoReviewDays     = 30
	DefaultReviewReminderDays = 7
	DefaultTrustUpdateMode    = "automatic"
)

// GovernanceConfig is the per-project tuning for the engine.
type GovernanceConfig struct {
	ID                 int64
	ProjectID          uuid.UUID
	ReviewRequired     bool
	AutoReviewDays     int
	ReviewReminderDays int
	AuditReportCron    string
	TrustUpdateMode    string
	Config             []byte
	UpdatedBy          *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DefaultGovernanceConfig returns the implicit configuration for a project
// without a stored row.
func DefaultGovernanceConfig(projectID uuid.UUID) GovernanceConfig {
	return GovernanceConfig{
		ProjectID:          projectID,
		ReviewRequired:     true,
		AutoReviewDays:     DefaultAutoReviewDays,
		ReviewReminderDays: DefaultReviewReminderDays,
		TrustUpdateMode:    DefaultTrustUpdateMode,
	}
}

// AuditLogEntry is one immutable governance audit record. It is written
// inside the same transaction as the mutation it describes.
type AuditLogEntry struct {
	ID           int64
	ProjectID    uuid.UUID
	ActorID      *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *string
	OldValue     []byte
	NewValue     []byte
	Metadata     []byte
	CreatedAt    time.Time
}

// AIParticipant is a registered AI agent scoped to a project. Permission
// checks consult it before any trust-level derived capability applies.
type AIParticipant struct {
	ID                   string
	ProjectID            uuid.UUID
	Name                 string
	Model                string
	Provider             string
	APIEndpoint          *string
	Capabilities         []byte
	DomainOverrides      map[string]TrustLevel
	MaxDomainLevel       TrustLevel
	CanVetoHumanConsensus bool
	ReasonMinLength      int
	IsActive             bool
	RegisteredBy         uuid.UUID
	LastActiveAt         *time.Time
	CreatedAt            time.Time
}

// DefaultAIReasonMinLen applies when a participant row has no explicit
// minimum justification length.
const DefaultAIReasonMinLen = 50

// AITask is a queued unit of work for an AI participant (e.g. a
// vote_requested notification). Idempotent by idempotency_key.
type AITask struct {
	ID             uuid.UUID
	ProjectID      uuid.UUID
	AIParticipantID uuid.UUID
	TaskType       string
	ReferenceType  *string
	ReferenceID    *uuid.UUID
	Status         string
	Priority       int
	Payload        []byte
	Result         []byte
	ErrorMessage   *string
	IdempotencyKey *string
	Attempts       int
	MaxAttempts    int
	NextRetryAt    *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
