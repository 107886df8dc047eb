// Package permission derives what a participant may do in a project domain
// from their trust level. AI agents get the same bands but are additionally
// capped by their registry row, and never rise above observer in the
// governance domain.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/adapter/postgres/trustscore"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// The governance domain is reserved for humans: AI agents are capped at
// observer there regardless of registry overrides.
const governanceDomain = "governance"

type scoreRepo interface {
	Get(ctx context.Context, key trustscore.Key) (domain.TrustScore, error)
}

type aiParticipantRepo interface {
	GetByUserAndProject(ctx context.Context, userID string, projectID uuid.UUID) (domain.AIParticipant, error)
}

// Service answers permission questions for governance operations.
type Service struct {
	scores scoreRepo
	agents aiParticipantRepo
	log    *slog.Logger
}

// NewService creates a new Permission service.
func NewService(
	log *slog.Logger,
	scores scoreRepo,
	agents aiParticipantRepo,
) *Service {
	return &Service{
		scores: scores,
		agents: agents,
		log:    log.With("service", "permission"),
	}
}

// EffectiveLevel returns the participant's trust level in (project, domain).
// Humans get the band of their domain score (default 100 when no row exists).
// AI agents additionally take the minimum with their registry cap; an
// unregistered or inactive agent is an observer.
func (s *Service) EffectiveLevel(ctx context.Context, userID, projectID uuid.UUID, dom string, userType domain.ParticipantType) (domain.TrustLevel, error) {
	key := trustscore.Key{UserID: userID, ProjectID: projectID, Domain: normalizeOrGlobal(dom)}

	score := domain.InitialTrustScore
	row, err := s.scores.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.LevelObserver, fmt.Errorf("get trust score %s: %w", key, err)
		}
	} else {
		score = row.Score
	}
	level := domain.LevelForScore(score)

	if userType != domain.ParticipantAI {
		return level, nil
	}

	agent, err := s.agents.GetByUserAndProject(ctx, userID.String(), projectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.LevelObserver, nil
		}
		return domain.LevelObserver, fmt.Errorf("get ai participant %s: %w", userID, err)
	}
	if !agent.IsActive {
		return domain.LevelObserver, nil
	}

	return minLevel(level, aiMaxLevelForDomain(agent, key.Domain)), nil
}

// CanVote reports whether the participant may cast ballots in the domain.
func (s *Service) CanVote(ctx context.Context, userID, projectID uuid.UUID, dom string, userType domain.ParticipantType) (bool, error) {
	level, err := s.EffectiveLevel(ctx, userID, projectID, dom, userType)
	if err != nil {
		return false, err
	}
	return level.Rank() >= domain.LevelVoter.Rank(), nil
}

// CanComment reports whether the participant may comment in the domain.
func (s *Service) CanComment(ctx context.Context, userID, projectID uuid.UUID, dom string, userType domain.ParticipantType) (bool, error) {
	level, err := s.EffectiveLevel(ctx, userID, projectID, dom, userType)
	if err != nil {
		return false, err
	}
	return level.Rank() >= domain.LevelAdvisor.Rank(), nil
}

// CanVeto reports whether the participant's level alone permits a veto in
// the domain. The veto service additionally requires a grant row.
func (s *Service) CanVeto(ctx context.Context, userID, projectID uuid.UUID, dom string, userType domain.ParticipantType) (bool, error) {
	level, err := s.EffectiveLevel(ctx, userID, projectID, dom, userType)
	if err != nil {
		return false, err
	}
	return level.Rank() >= domain.LevelVetoer.Rank(), nil
}

// AIReasonMinLength returns the agent's required vote justification length,
// or nil when the user is not an active registered agent.
func (s *Service) AIReasonMinLength(ctx context.Context, userID, projectID uuid.UUID) (*int, error) {
	agent, err := s.agents.GetByUserAndProject(ctx, userID.String(), projectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ai participant %s: %w", userID, err)
	}
	if !agent.IsActive {
		return nil, nil
	}
	minLen := agent.ReasonMinLength
	return &minLen, nil
}

// AICanVetoHumanConsensus reports whether a registered active agent holds
// the explicit capability to veto a human consensus outcome.
func (s *Service) AICanVetoHumanConsensus(ctx context.Context, userID, projectID uuid.UUID) (bool, error) {
	agent, err := s.agents.GetByUserAndProject(ctx, userID.String(), projectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get ai participant %s: %w", userID, err)
	}
	return agent.IsActive && agent.CanVetoHumanConsensus, nil
}

func aiMaxLevelForDomain(agent domain.AIParticipant, dom string) domain.TrustLevel {
	if dom == governanceDomain {
		return domain.LevelObserver
	}
	if override, ok := agent.DomainOverrides[dom]; ok {
		return parseLevel(override)
	}
	return parseLevel(agent.MaxDomainLevel)
}

// parseLevel treats anything unknown as observer, so a malformed registry
// row can only restrict an agent, never elevate it.
func parseLevel(level domain.TrustLevel) domain.TrustLevel {
	if level.IsValid() {
		return level
	}
	return domain.LevelObserver
}

func minLevel(a, b domain.TrustLevel) domain.TrustLevel {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

func normalizeOrGlobal(dom string) string {
	key := domain.NormalizeDomainKey(dom)
	if key == "" {
		return domain.GlobalDomain
	}
	return key
}
