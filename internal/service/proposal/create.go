package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Title and content bounds for new proposals.
const (
	minTitleLen   = 10
	maxTitleLen   = 200
	minContentLen = 50
)

// CreateInput carries the fields of a new proposal. Empty fields may be
// filled from the referenced template.
type CreateInput struct {
	Title         string
	Type          string
	Content       string
	Domains       []string
	VotingRule    string
	CycleTemplate string
	TemplateID    *string
}

// Create validates the input, applies template defaults and persists a new
// draft proposal.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (domain.Proposal, error) {
	title := strings.TrimSpace(in.Title)
	proposalType := strings.TrimSpace(in.Type)
	content := strings.TrimSpace(in.Content)
	domains := in.Domains
	votingRule := strings.TrimSpace(in.VotingRule)
	cycleTemplate := strings.TrimSpace(in.CycleTemplate)

	var templateProjectID *uuid.UUID
	if in.TemplateID != nil {
		tpl, err := s.proposals.GetTemplate(ctx, *in.TemplateID)
		if err != nil {
			return domain.Proposal{}, fmt.Errorf("get proposal template %s: %w", *in.TemplateID, err)
		}
		if !tpl.IsActive {
			return domain.Proposal{}, domain.NewValidationError("template_id", "proposal template is inactive")
		}
		if !actor.IsAdmin {
			member, err := s.membership.IsProjectMember(ctx, tpl.ProjectID, actor.UserID)
			if err != nil {
				return domain.Proposal{}, fmt.Errorf("check template project membership: %w", err)
			}
			if !member {
				return domain.Proposal{}, fmt.Errorf("project access denied: %w", domain.ErrForbidden)
			}
		}

		templateProjectID = &tpl.ProjectID
		fields := templateFields(tpl)
		if title == "" {
			title = fields.title
		}
		if proposalType == "" {
			proposalType = fields.proposalType
			if proposalType == "" {
				proposalType = tpl.TemplateType
			}
		}
		if content == "" {
			content = fields.content
		}
		if len(domains) == 0 {
			domains = fields.domains
		}
		if votingRule == "" {
			votingRule = fields.votingRule
		}
		if cycleTemplate == "" {
			cycleTemplate = fields.cycleTemplate
		}
	}

	if title == "" {
		return domain.Proposal{}, domain.NewValidationError("title", "title is required")
	}
	if proposalType == "" {
		return domain.Proposal{}, domain.NewValidationError("proposal_type", "proposal_type is required")
	}
	if content == "" {
		return domain.Proposal{}, domain.NewValidationError("content", "content is required")
	}
	if len(domains) == 0 {
		return domain.Proposal{}, domain.NewValidationError("domains", "at least one domain is required")
	}
	if len(title) < minTitleLen || len(title) > maxTitleLen {
		return domain.Proposal{}, domain.NewValidationError("title", "title must be between 10 and 200 characters")
	}
	if len(content) < minContentLen {
		return domain.Proposal{}, domain.NewValidationError("content", "content must be at least 50 characters")
	}

	typ := domain.ProposalType(proposalType)
	if !typ.IsValid() {
		return domain.Proposal{}, domain.NewValidationError("proposal_type", "invalid proposal_type")
	}

	rule := domain.VotingRuleSimpleMajority
	if votingRule != "" {
		rule = domain.VotingRule(votingRule)
		if !rule.IsValid() {
			return domain.Proposal{}, domain.NewValidationError("voting_rule", "invalid voting_rule")
		}
	}

	cycle := domain.DefaultCycleTemplate(typ)
	if cycleTemplate != "" {
		cycle = domain.CycleTemplate(cycleTemplate)
		if !cycle.IsValid() {
			return domain.Proposal{}, domain.NewValidationError("cycle_template", "invalid cycle_template")
		}
	}

	p := domain.Proposal{
		ID:            newPrefixedID("PROP"),
		Title:         title,
		Type:          typ,
		Status:        domain.ProposalStatusDraft,
		AuthorID:      actor.IDString(),
		AuthorType:    actor.Type,
		Content:       content,
		Domains:       domains,
		VotingRule:    rule,
		CycleTemplate: cycle,
		TemplateID:    in.TemplateID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.proposals.Create(ctx, p); err != nil {
		return domain.Proposal{}, fmt.Errorf("create proposal: %w", err)
	}

	projectID := templateProjectID
	if projectID == nil {
		resolved, err := s.resolveProjectID(ctx, p.ID, p.AuthorID)
		if err != nil {
			return domain.Proposal{}, err
		}
		projectID = resolved
	}
	if projectID != nil {
		newValue, _ := json.Marshal(map[string]any{
			"title":          p.Title,
			"proposal_type":  string(p.Type),
			"voting_rule":    string(p.VotingRule),
			"cycle_template": string(p.CycleTemplate),
			"template_id":    p.TemplateID,
		})
		metadata, _ := json.Marshal(map[string]any{"domains": p.Domains})
		s.writeAudit(ctx, *projectID, actor.UserID, "proposal.created", "proposal", p.ID, nil, newValue, metadata)

		s.webhooks.DispatchAsync(webhook.Event{
			Type:       "proposal.created",
			ProposalID: p.ID,
			ProjectID:  projectID.String(),
			Data: map[string]any{
				"title":          p.Title,
				"proposal_type":  string(p.Type),
				"status":         string(p.Status),
				"cycle_template": string(p.CycleTemplate),
			},
		})
	}

	s.log.InfoContext(ctx, "proposal created",
		slog.String("proposal_id", p.ID),
		slog.String("author_id", p.AuthorID),
		slog.String("type", string(p.Type)),
		slog.String("cycle_template", string(p.CycleTemplate)),
	)
	return p, nil
}

type templateFieldSet struct {
	title         string
	proposalType  string
	content       string
	domains       []string
	votingRule    string
	cycleTemplate string
}

// templateFields extracts the prefilled proposal fields from a template's
// free-form JSON content. Malformed content yields an empty set.
func templateFields(tpl domain.ProposalTemplate) templateFieldSet {
	var raw struct {
		Title         string   `json:"title"`
		ProposalType  string   `json:"proposal_type"`
		Content       string   `json:"content"`
		Domains       []string `json:"domains"`
		VotingRule    string   `json:"voting_rule"`
		CycleTemplate string   `json:"cycle_template"`
	}
	if len(tpl.Content) > 0 {
		_ = json.Unmarshal(tpl.Content, &raw)
	}

	var domains []string
	for _, d := range raw.Domains {
		if trimmed := strings.TrimSpace(d); trimmed != "" {
			domains = append(domains, trimmed)
		}
	}
	return templateFieldSet{
		title:         strings.TrimSpace(raw.Title),
		proposalType:  strings.TrimSpace(raw.ProposalType),
		content:       strings.TrimSpace(raw.Content),
		domains:       domains,
		votingRule:    strings.TrimSpace(raw.VotingRule),
		cycleTemplate: strings.TrimSpace(raw.CycleTemplate),
	}
}

// writeAudit appends an audit entry, logging instead of failing the caller's
// operation when the write is rejected.
func (s *Service) writeAudit(ctx context.Context, projectID, actorID uuid.UUID, action, resourceType, resourceID string, oldValue, newValue, metadata []byte) {
	err := s.audit.Log(ctx, domain.AuditLogEntry{
		ProjectID:    projectID,
		ActorID:      &actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   &resourceID,
		OldValue:     oldValue,
		NewValue:     newValue,
		Metadata:     metadata,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "audit write failed",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", err.Error()),
		)
	}
}

// resolveProjectID maps a proposal to its governing project: the single
// project of its linked issues, else the author's single project. Ambiguity
// resolves to nil — project-scoped side effects are skipped rather than
// guessed.
func (s *Service) resolveProjectID(ctx context.Context, proposalID, authorID string) (*uuid.UUID, error) {
	linked, err := s.membership.LinkedProjectIDs(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("resolve project for %s: %w", proposalID, err)
	}
	if len(linked) == 1 {
		return &linked[0], nil
	}
	if len(linked) > 1 {
		s.log.WarnContext(ctx, "proposal links multiple projects, skipping project-scoped effects",
			slog.String("proposal_id", proposalID),
			slog.Int("count", len(linked)),
		)
		return nil, nil
	}

	authorUUID, err := uuid.Parse(authorID)
	if err != nil {
		return nil, nil
	}
	projects, err := s.membership.AuthorProjectIDs(ctx, authorUUID)
	if err != nil {
		s.log.WarnContext(ctx, "failed to resolve author projects, skipping project-scoped effects",
			slog.String("proposal_id", proposalID),
			slog.String("author_id", authorID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	switch {
	case len(projects) == 1:
		return &projects[0], nil
	case len(projects) > 1:
		s.log.WarnContext(ctx, "author belongs to multiple projects, skipping project-scoped effects",
			slog.String("proposal_id", proposalID),
			slog.String("author_id", authorID),
		)
		return nil, nil
	default:
		return nil, nil
	}
}
