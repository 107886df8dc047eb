package domain

// ProposalType is the fixed taxonomy of governance proposals.
type ProposalType string

const (
	ProposalTypeFeature      ProposalType = "feature"
	ProposalTypeArchitecture ProposalType = "architecture"
	ProposalTypePriority     ProposalType = "priority"
	ProposalTypeResource     ProposalType = "resource"
	ProposalTypeGovernance   ProposalType = "governance"
	ProposalTypeBugfix       ProposalType = "bugfix"
)

func (t ProposalType) String() string { return string(t) }

func (t ProposalType) IsValid() bool {
	switch t {
	case ProposalTypeFeature, ProposalTypeArchitecture, ProposalTypePriority,
		ProposalTypeResource, ProposalTypeGovernance, ProposalTypeBugfix:
		return true
	}
	return false
}

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalStatusDraft    ProposalStatus = "draft"
	ProposalStatusOpen     ProposalStatus = "open"
	ProposalStatusVoting   ProposalStatus = "voting"
	ProposalStatusApproved ProposalStatus = "approved"
	ProposalStatusRejected ProposalStatus = "rejected"
	ProposalStatusVetoed   ProposalStatus = "vetoed"
	ProposalStatusArchived ProposalStatus = "archived"
)

func (s ProposalStatus) String() string { return string(s) }

func (s ProposalStatus) IsValid() bool {
	switch s {
	case ProposalStatusDraft, ProposalStatusOpen, ProposalStatusVoting,
		ProposalStatusApproved, ProposalStatusRejected, ProposalStatusVetoed,
		ProposalStatusArchived:
		return true
	}
	return false
}

// IsTerminal reports whether no further user-driven transitions are allowed
// (veto release may still move a vetoed proposal back to open/voting).
func (s ProposalStatus) IsTerminal() bool {
	switch s {
	case ProposalStatusApproved, ProposalStatusRejected, ProposalStatusArchived:
		return true
	}
	return false
}

// VotingRule decides how a weighted tally turns into a result.
type VotingRule string

const (
	VotingRuleSimpleMajority   VotingRule = "simple_majority"
	VotingRuleAbsoluteMajority VotingRule = "absolute_majority"
	VotingRuleConsensus        VotingRule = "consensus"
)

func (r VotingRule) String() string { return string(r) }

func (r VotingRule) IsValid() bool {
	switch r {
	case VotingRuleSimpleMajority, VotingRuleAbsoluteMajority, VotingRuleConsensus:
		return true
	}
	return false
}

// CycleTemplate maps to fixed discussion/voting window lengths.
type CycleTemplate string

const (
	CycleTemplateRapid    CycleTemplate = "rapid"
	CycleTemplateFast     CycleTemplate = "fast"
	CycleTemplateStandard CycleTemplate = "standard"
	CycleTemplateCritical CycleTemplate = "critical"
)

func (c CycleTemplate) String() string { return string(c) }

func (c CycleTemplate) IsValid() bool {
	switch c {
	case CycleTemplateRapid, CycleTemplateFast, CycleTemplateStandard, CycleTemplateCritical:
		return true
	}
	return false
}

// VoteChoice is a single ballot option.
type VoteChoice string

const (
	VoteChoiceYes     VoteChoice = "yes"
	VoteChoiceNo      VoteChoice = "no"
	VoteChoiceAbstain VoteChoice = "abstain"
)

func (c VoteChoice) String() string { return string(c) }

func (c VoteChoice) IsValid() bool {
	switch c {
	case VoteChoiceYes, VoteChoiceNo, VoteChoiceAbstain:
		return true
	}
	return false
}

// DecisionResult is the recorded outcome of a proposal.
type DecisionResult string

const (
	DecisionApproved DecisionResult = "approved"
	DecisionRejected DecisionResult = "rejected"
	DecisionVetoed   DecisionResult = "vetoed"
)

func (r DecisionResult) String() string { return string(r) }

// ParticipantType distinguishes human users from registered AI agents.
// It is a closed variant inside the engine; the string form exists only
// for the persistence boundary.
type ParticipantType string

const (
	ParticipantHuman ParticipantType = "human"
	ParticipantAI    ParticipantType = "ai"
)

func (p ParticipantType) String() string { return string(p) }

func (p ParticipantType) IsValid() bool {
	return p == ParticipantHuman || p == ParticipantAI
}

// VetoStatus is the lifecycle state of a veto event.
type VetoStatus string

const (
	VetoStatusActive     VetoStatus = "active"
	VetoStatusWithdrawn  VetoStatus = "withdrawn"
	VetoStatusOverturned VetoStatus = "overturned"
	VetoStatusUpheld     VetoStatus = "upheld"
)

func (s VetoStatus) String() string { return string(s) }

// ReviewStatus is the lifecycle state of an impact review.
type ReviewStatus string

const (
	ReviewStatusPending    ReviewStatus = "pending"
	ReviewStatusCollecting ReviewStatus = "collecting"
	ReviewStatusCompleted  ReviewStatus = "completed"
	ReviewStatusSkipped    ReviewStatus = "skipped"
)

func (s ReviewStatus) String() string { return string(s) }

func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewStatusPending, ReviewStatusCollecting, ReviewStatusCompleted, ReviewStatusSkipped:
		return true
	}
	return false
}

// ReviewRating grades the real-world outcome of an approved proposal.
type ReviewRating string

const (
	RatingS ReviewRating = "S"
	RatingA ReviewRating = "A"
	RatingB ReviewRating = "B"
	RatingC ReviewRating = "C"
	RatingF ReviewRating = "F"
)

func (r ReviewRating) String() string { return string(r) }

func (r ReviewRating) IsValid() bool {
	switch r {
	case RatingS, RatingA, RatingB, RatingC, RatingF:
		return true
	}
	return false
}

// IsPositive reports whether the rating counts as a net-positive outcome
// when computing alignment and participant deltas (S/A/B yes, C/F no).
func (r ReviewRating) IsPositive() bool {
	return r == RatingS || r == RatingA || r == RatingB
}

// AppealStatus is the lifecycle state of a trust-score appeal.
type AppealStatus string

const (
	AppealStatusPending  AppealStatus = "pending"
	AppealStatusAccepted AppealStatus = "accepted"
	AppealStatusRejected AppealStatus = "rejected"
)

func (s AppealStatus) String() string { return string(s) }

// OutcomeAlignment compares an AI participant's vote with the review outcome.
type OutcomeAlignment string

const (
	AlignmentAligned    OutcomeAlignment = "aligned"
	AlignmentMisaligned OutcomeAlignment = "misaligned"
	AlignmentNeutral    OutcomeAlignment = "neutral"
)

func (a OutcomeAlignment) String() string { return string(a) }

// GrantSource records how a vetoer right was granted.
type GrantSource string

const (
	GrantManual     GrantSource = "manual_grant"
	GrantTrustScore GrantSource = "trust_score"
)

func (g GrantSource) String() string { return string(g) }
