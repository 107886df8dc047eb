package rest

import (
	"encoding/json"
	"time"

	"github.com/heartmarshall/concord-backend/internal/domain"
)

type proposalResponse struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Type            string          `json:"proposal_type"`
	Status          string          `json:"status"`
	AuthorID        string          `json:"author_id"`
	AuthorType      string          `json:"author_type"`
	Content         string          `json:"content"`
	Domains         []string        `json:"domains"`
	VotingRule      string          `json:"voting_rule"`
	CycleTemplate   string          `json:"cycle_template"`
	TemplateID      *string         `json:"template_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	VotingStartedAt *time.Time      `json:"voting_started_at,omitempty"`
	VotingEndedAt   *time.Time      `json:"voting_ended_at,omitempty"`
	ArchivedAt      *time.Time      `json:"archived_at,omitempty"`
}

func toProposalResponse(p domain.Proposal) proposalResponse {
	domains := p.Domains
	if domains == nil {
		domains = []string{}
	}
	return proposalResponse{
		ID:              p.ID,
		Title:           p.Title,
		Type:            string(p.Type),
		Status:          string(p.Status),
		AuthorID:        p.AuthorID,
		AuthorType:      string(p.AuthorType),
		Content:         p.Content,
		Domains:         domains,
		VotingRule:      string(p.VotingRule),
		CycleTemplate:   string(p.CycleTemplate),
		TemplateID:      p.TemplateID,
		CreatedAt:       p.CreatedAt,
		SubmittedAt:     p.SubmittedAt,
		VotingStartedAt: p.VotingStartedAt,
		VotingEndedAt:   p.VotingEndedAt,
		ArchivedAt:      p.ArchivedAt,
	}
}

func toProposalResponses(proposals []domain.Proposal) []proposalResponse {
	out := make([]proposalResponse, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, toProposalResponse(p))
	}
	return out
}

type voteResponse struct {
	ID         int64     `json:"id"`
	ProposalID string    `json:"proposal_id"`
	VoterID    string    `json:"voter_id"`
	VoterType  string    `json:"voter_type"`
	Choice     string    `json:"choice"`
	Weight     float64   `json:"weight"`
	Reason     *string   `json:"reason,omitempty"`
	VotedAt    time.Time `json:"voted_at"`
}

func toVoteResponse(v domain.Vote) voteResponse {
	return voteResponse{
		ID:         v.ID,
		ProposalID: v.ProposalID,
		VoterID:    v.VoterID,
		VoterType:  string(v.VoterType),
		Choice:     string(v.Choice),
		Weight:     v.Weight,
		Reason:     v.Reason,
		VotedAt:    v.VotedAt,
	}
}

type tallyResponse struct {
	Yes         int     `json:"yes"`
	No          int     `json:"no"`
	Abstain     int     `json:"abstain"`
	Total       int     `json:"total"`
	WeightedYes float64 `json:"weighted_yes"`
	WeightedNo  float64 `json:"weighted_no"`
}

func toTallyResponse(t domain.Tally) tallyResponse {
	return tallyResponse{
		Yes:         t.Yes,
		No:          t.No,
		Abstain:     t.Abstain,
		Total:       t.Total(),
		WeightedYes: t.WeightedYes,
		WeightedNo:  t.WeightedNo,
	}
}

type decisionResponse struct {
	ID                   string    `json:"id"`
	ProposalID           string    `json:"proposal_id"`
	Result               string    `json:"result"`
	ApprovalRate         *float64  `json:"approval_rate,omitempty"`
	TotalVotes           int       `json:"total_votes"`
	YesVotes             int       `json:"yes_votes"`
	NoVotes              int       `json:"no_votes"`
	AbstainVotes         int       `json:"abstain_votes"`
	WeightedYes          *float64  `json:"weighted_yes,omitempty"`
	WeightedNo           *float64  `json:"weighted_no,omitempty"`
	WeightedApprovalRate *float64  `json:"weighted_approval_rate,omitempty"`
	IsWeighted           bool      `json:"is_weighted"`
	VetoEventID          *int64    `json:"veto_event_id,omitempty"`
	DecidedAt            time.Time `json:"decided_at"`
}

func toDecisionResponse(d domain.Decision) decisionResponse {
	return decisionResponse{
		ID:                   d.ID,
		ProposalID:           d.ProposalID,
		Result:               string(d.Result),
		ApprovalRate:         d.ApprovalRate,
		TotalVotes:           d.TotalVotes,
		YesVotes:             d.YesVotes,
		NoVotes:              d.NoVotes,
		AbstainVotes:         d.AbstainVotes,
		WeightedYes:          d.WeightedYes,
		WeightedNo:           d.WeightedNo,
		WeightedApprovalRate: d.WeightedApprovalRate,
		IsWeighted:           d.IsWeighted,
		VetoEventID:          d.VetoEventID,
		DecidedAt:            d.DecidedAt,
	}
}

type vetoEventResponse struct {
	ID                  int64            `json:"id"`
	ProposalID          string           `json:"proposal_id"`
	VetoerID            string           `json:"vetoer_id"`
	Domain              string           `json:"domain"`
	Reason              string           `json:"reason"`
	Status              string           `json:"status"`
	EscalationStartedAt *time.Time       `json:"escalation_started_at,omitempty"`
	EscalationResult    *string          `json:"escalation_result,omitempty"`
	EscalationVotes     *escalationVotes `json:"escalation_votes,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

type escalationVotes struct {
	Ballots    map[string]bool `json:"ballots"`
	Overturned int             `json:"overturned"`
	Upheld     int             `json:"upheld"`
}

func toVetoEventResponse(e domain.VetoEvent) vetoEventResponse {
	resp := vetoEventResponse{
		ID:                  e.ID,
		ProposalID:          e.ProposalID,
		VetoerID:            e.VetoerID.String(),
		Domain:              e.Domain,
		Reason:              e.Reason,
		Status:              string(e.Status),
		EscalationStartedAt: e.EscalationStartedAt,
		EscalationResult:    e.EscalationResult,
		CreatedAt:           e.CreatedAt,
	}
	if e.EscalationVotes != nil {
		resp.EscalationVotes = &escalationVotes{
			Ballots:    e.EscalationVotes.Ballots,
			Overturned: e.EscalationVotes.Overturned,
			Upheld:     e.EscalationVotes.Upheld,
		}
	}
	return resp
}

type vetoerResponse struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	ProjectID string    `json:"project_id"`
	Domain    string    `json:"domain"`
	GrantedBy string    `json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`
}

func toVetoerResponse(v domain.Vetoer) vetoerResponse {
	return vetoerResponse{
		ID:        v.ID,
		UserID:    v.UserID.String(),
		ProjectID: v.ProjectID.String(),
		Domain:    v.Domain,
		GrantedBy: string(v.GrantedBy),
		GrantedAt: v.GrantedAt,
	}
}

type trustScoreResponse struct {
	UserID                string     `json:"user_id"`
	UserType              string     `json:"user_type"`
	ProjectID             string     `json:"project_id"`
	Domain                string     `json:"domain"`
	Score                 int        `json:"score"`
	Level                 string     `json:"level"`
	VoteWeight            float64    `json:"vote_weight"`
	ConsecutiveRejections int        `json:"consecutive_rejections"`
	CooldownUntil         *time.Time `json:"cooldown_until,omitempty"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func toTrustScoreResponse(s domain.TrustScore) trustScoreResponse {
	return trustScoreResponse{
		UserID:                s.UserID.String(),
		UserType:              string(s.UserType),
		ProjectID:             s.ProjectID.String(),
		Domain:                s.Domain,
		Score:                 s.Score,
		Level:                 string(s.Level),
		VoteWeight:            s.VoteWeight,
		ConsecutiveRejections: s.ConsecutiveRejections,
		CooldownUntil:         s.CooldownUntil,
		UpdatedAt:             s.UpdatedAt,
	}
}

type trustLogResponse struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	ProjectID    string    `json:"project_id"`
	Domain       string    `json:"domain"`
	EventType    string    `json:"event_type"`
	EventID      string    `json:"event_id"`
	ScoreChange  int       `json:"score_change"`
	OldScore     int       `json:"old_score"`
	NewScore     int       `json:"new_score"`
	OldLevel     string    `json:"old_level"`
	NewLevel     string    `json:"new_level"`
	Reason       string    `json:"reason"`
	IsAppealed   bool      `json:"is_appealed"`
	AppealResult *string   `json:"appeal_result,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toTrustLogResponse(l domain.TrustScoreLog) trustLogResponse {
	return trustLogResponse{
		ID:           l.ID,
		UserID:       l.UserID.String(),
		ProjectID:    l.ProjectID.String(),
		Domain:       l.Domain,
		EventType:    string(l.EventType),
		EventID:      l.EventID,
		ScoreChange:  l.ScoreChange,
		OldScore:     l.OldScore,
		NewScore:     l.NewScore,
		OldLevel:     string(l.OldLevel),
		NewLevel:     string(l.NewLevel),
		Reason:       l.Reason,
		IsAppealed:   l.IsAppealed,
		AppealResult: l.AppealResult,
		CreatedAt:    l.CreatedAt,
	}
}

type reviewResponse struct {
	ID                string          `json:"id"`
	ProposalID        string          `json:"proposal_id"`
	ProjectID         string          `json:"project_id"`
	Status            string          `json:"status"`
	Rating            *string         `json:"rating,omitempty"`
	Metrics           json.RawMessage `json:"metrics,omitempty"`
	GoalAchievements  json.RawMessage `json:"goal_achievements,omitempty"`
	Achievements      *string         `json:"achievements,omitempty"`
	Lessons           *string         `json:"lessons,omitempty"`
	ReviewerID        *string         `json:"reviewer_id,omitempty"`
	IsAutoTriggered   bool            `json:"is_auto_triggered"`
	DataSources       json.RawMessage `json:"data_sources,omitempty"`
	TrustScoreApplied bool            `json:"trust_score_applied"`
	ScheduledAt       *time.Time      `json:"scheduled_at,omitempty"`
	ConductedAt       *time.Time      `json:"conducted_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func toReviewResponse(rev domain.ImpactReview) reviewResponse {
	resp := reviewResponse{
		ID:                rev.ID,
		ProposalID:        rev.ProposalID,
		ProjectID:         rev.ProjectID.String(),
		Status:            string(rev.Status),
		Metrics:           rev.Metrics,
		GoalAchievements:  rev.GoalAchievements,
		Achievements:      rev.Achievements,
		Lessons:           rev.Lessons,
		IsAutoTriggered:   rev.IsAutoTriggered,
		DataSources:       rev.DataSources,
		TrustScoreApplied: rev.TrustScoreApplied,
		ScheduledAt:       rev.ScheduledAt,
		ConductedAt:       rev.ConductedAt,
		CreatedAt:         rev.CreatedAt,
	}
	if rev.Rating != nil {
		rating := string(*rev.Rating)
		resp.Rating = &rating
	}
	if rev.ReviewerID != nil {
		id := rev.ReviewerID.String()
		resp.ReviewerID = &id
	}
	return resp
}

func toReviewResponses(reviews []domain.ImpactReview) []reviewResponse {
	out := make([]reviewResponse, 0, len(reviews))
	for _, rev := range reviews {
		out = append(out, toReviewResponse(rev))
	}
	return out
}

type participantResponse struct {
	ID                int64   `json:"id"`
	ReviewID          string  `json:"review_id"`
	UserID            string  `json:"user_id"`
	Role              string  `json:"role"`
	VoteChoice        *string `json:"vote_choice,omitempty"`
	ExercisedVeto     bool    `json:"exercised_veto"`
	VetoOverturned    bool    `json:"veto_overturned"`
	FeedbackSubmitted bool    `json:"feedback_submitted"`
	FeedbackContent   *string `json:"feedback_content,omitempty"`
	TrustScoreChange  *int    `json:"trust_score_change,omitempty"`
}

func toParticipantResponse(p domain.ReviewParticipant) participantResponse {
	resp := participantResponse{
		ID:                p.ID,
		ReviewID:          p.ReviewID,
		UserID:            p.UserID,
		Role:              p.Role,
		ExercisedVeto:     p.ExercisedVeto,
		VetoOverturned:    p.VetoOverturned,
		FeedbackSubmitted: p.FeedbackSubmitted,
		FeedbackContent:   p.FeedbackContent,
		TrustScoreChange:  p.TrustScoreChange,
	}
	if p.VoteChoice != nil {
		choice := string(*p.VoteChoice)
		resp.VoteChoice = &choice
	}
	return resp
}

type appealResponse struct {
	ID          int64           `json:"id"`
	LogID       int64           `json:"log_id"`
	AppellantID string          `json:"appellant_id"`
	Reason      string          `json:"reason"`
	Evidence    json.RawMessage `json:"evidence,omitempty"`
	Status      string          `json:"status"`
	ReviewerID  *string         `json:"reviewer_id,omitempty"`
	ReviewNote  *string         `json:"review_note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

func toAppealResponse(a domain.Appeal) appealResponse {
	resp := appealResponse{
		ID:          a.ID,
		LogID:       a.LogID,
		AppellantID: a.AppellantID.String(),
		Reason:      a.Reason,
		Evidence:    a.Evidence,
		Status:      string(a.Status),
		ReviewNote:  a.ReviewNote,
		CreatedAt:   a.CreatedAt,
		ResolvedAt:  a.ResolvedAt,
	}
	if a.ReviewerID != nil {
		id := a.ReviewerID.String()
		resp.ReviewerID = &id
	}
	return resp
}

func toAppealResponses(appeals []domain.Appeal) []appealResponse {
	out := make([]appealResponse, 0, len(appeals))
	for _, a := range appeals {
		out = append(out, toAppealResponse(a))
	}
	return out
}

type governanceConfigResponse struct {
	ProjectID          string          `json:"project_id"`
	ReviewRequired     bool            `json:"review_required"`
	AutoReviewDays     int             `json:"auto_review_days"`
	ReviewReminderDays int             `json:"review_reminder_days"`
	AuditReportCron    string          `json:"audit_report_cron"`
	TrustUpdateMode    string          `json:"trust_update_mode"`
	Config             json.RawMessage `json:"config,omitempty"`
	UpdatedBy          *string         `json:"updated_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func toGovernanceConfigResponse(cfg domain.GovernanceConfig) governanceConfigResponse {
	resp := governanceConfigResponse{
		ProjectID:          cfg.ProjectID.String(),
		ReviewRequired:     cfg.ReviewRequired,
		AutoReviewDays:     cfg.AutoReviewDays,
		ReviewReminderDays: cfg.ReviewReminderDays,
		AuditReportCron:    cfg.AuditReportCron,
		TrustUpdateMode:    cfg.TrustUpdateMode,
		Config:             cfg.Config,
		CreatedAt:          cfg.CreatedAt,
		UpdatedAt:          cfg.UpdatedAt,
	}
	if cfg.UpdatedBy != nil {
		id := cfg.UpdatedBy.String()
		resp.UpdatedBy = &id
	}
	return resp
}

type auditLogResponse struct {
	ID           int64           `json:"id"`
	ProjectID    string          `json:"project_id"`
	ActorID      *string         `json:"actor_id,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   *string         `json:"resource_id,omitempty"`
	OldValue     json.RawMessage `json:"old_value,omitempty"`
	NewValue     json.RawMessage `json:"new_value,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toAuditLogResponse(e domain.AuditLogEntry) auditLogResponse {
	resp := auditLogResponse{
		ID:           e.ID,
		ProjectID:    e.ProjectID.String(),
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		OldValue:     e.OldValue,
		NewValue:     e.NewValue,
		Metadata:     e.Metadata,
		CreatedAt:    e.CreatedAt,
	}
	if e.ActorID != nil {
		id := e.ActorID.String()
		resp.ActorID = &id
	}
	return resp
}
