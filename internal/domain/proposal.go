package domain

import (
	"time"

	"github.com/google/uuid"
)

// Proposal is a governance proposal moving through the lifecycle
// draft → open → voting → {approved, rejected, vetoed} → archived.
type Proposal struct {
	ID              string
	Title           string
	Type            ProposalType
	Status          ProposalStatus
	AuthorID        string
	AuthorType      ParticipantType
	Content         string
	Domains         []string
	VotingRule      VotingRule
	CycleTemplate   CycleTemplate
	TemplateID      *string
	CreatedAt       time.Time
	SubmittedAt     *time.Time
	VotingStartedAt *time.Time
	VotingEndedAt   *time.Time
	ArchivedAt      *time.Time
}

// PrimaryDomain returns the first declared domain, normalized,
// falling back to the global domain.
func (p *Proposal) PrimaryDomain() string {
	for _, d := range p.Domains {
		if key := NormalizeDomainKey(d); key != "" {
			return key
		}
	}
	return GlobalDomain
}

// DiscussionWindow and VotingWindow lengths per cycle template.
func (c CycleTemplate) DiscussionWindow() time.Duration {
	switch c {
	case CycleTemplateRapid:
		return time.Hour
	case CycleTemplateFast:
		return 24 * time.Hour
	case CycleTemplateCritical:
		return 168 * time.Hour
	default:
		return 72 * time.Hour
	}
}

func (c CycleTemplate) VotingWindow() time.Duration {
	switch c {
	case CycleTemplateRapid:
		return time.Hour
	case CycleTemplateFast:
		return 24 * time.Hour
	case CycleTemplateCritical:
		return 72 * time.Hour
	default:
		return 48 * time.Hour
	}
}

// DefaultCycleTemplate picks the window set a proposal type gets when the
// author does not choose one explicitly.
func DefaultCycleTemplate(t ProposalType) CycleTemplate {
	switch t {
	case ProposalTypeArchitecture, ProposalTypeResource:
		return CycleTemplateStandard
	case ProposalTypeGovernance:
		return CycleTemplateCritical
	default:
		return CycleTemplateRapid
	}
}

// ProposalTemplate is a reusable, project-scoped blueprint a proposal can
// be instantiated from. Content is free-form JSON holding the prefilled
// title/type/content/domains/voting_rule/cycle_template fields.
type ProposalTemplate struct {
	ID           string
	ProjectID    uuid.UUID
	Name         string
	Description  *string
	TemplateType string
	Content      []byte
	IsDefault    bool
	IsActive     bool
	CreatedBy    *uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Vote is a single ballot on a proposal. (proposal, voter) is unique;
// weight is a snapshot that gets re-resolved at finalize time.
type Vote struct {
	ID         int64
	ProposalID string
	VoterID    string
	VoterType  ParticipantType
	Choice     VoteChoice
	Weight     float64
	Reason     *string
	VotedAt    time.Time
}

// Tally is the aggregate over a proposal's current votes.
type Tally struct {
	Yes         int
	No          int
	Abstain     int
	WeightedYes float64
	WeightedNo  float64
}

func (t Tally) Total() int { return t.Yes + t.No + t.Abstain }

// Decision is the one-per-proposal recorded outcome. It is created exactly
// once (unique on proposal_id) but may be revised in place when a veto is
// withdrawn or overturned.
type Decision struct {
	ID                   string
	ProposalID           string
	Result               DecisionResult
	ApprovalRate         *float64
	TotalVotes           int
	YesVotes             int
	NoVotes              int
	AbstainVotes         int
	WeightedYes          *float64
	WeightedNo           *float64
	WeightedApprovalRate *float64
	IsWeighted           bool
	VetoEventID          *int64
	DecidedAt            time.Time
}
