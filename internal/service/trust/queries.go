package trust

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/adapter/postgres/trustscore"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Score returns the trust score for (user, project, domain). A user with no
// history gets the implicit default row: score rows are created lazily, so a
// missing row is not an error.
func (s *Service) Score(ctx context.Context, userID, projectID uuid.UUID, dom string) (domain.TrustScore, error) {
	key := trustscore.Key{UserID: userID, ProjectID: projectID, Domain: normalizeOrGlobal(dom)}

	score, err := s.scores.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return defaultScore(key), nil
		}
		return domain.TrustScore{}, fmt.Errorf("get trust score %s: %w", key, err)
	}
	return score, nil
}

// UserScores returns all of a user's score rows in a project. A user with no
// rows gets the implicit global default.
func (s *Service) UserScores(ctx context.Context, userID, projectID uuid.UUID) ([]domain.TrustScore, error) {
	scores, err := s.scores.UserScores(ctx, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list user trust scores: %w", err)
	}
	if len(scores) == 0 {
		key := trustscore.Key{UserID: userID, ProjectID: projectID, Domain: domain.GlobalDomain}
		scores = []domain.TrustScore{defaultScore(key)}
	}
	return scores, nil
}

// List returns a project's score rows, highest score first.
func (s *Service) List(ctx context.Context, filter trustscore.ListFilter) ([]domain.TrustScore, error) {
	return s.scores.List(ctx, filter)
}

// History returns a user's ledger entries in a project, newest first.
func (s *Service) History(ctx context.Context, userID, projectID uuid.UUID, limit, offset int) ([]domain.TrustScoreLog, error) {
	return s.scores.History(ctx, userID, projectID, limit, offset)
}

func normalizeOrGlobal(dom string) string {
	key := domain.NormalizeDomainKey(dom)
	if key == "" {
		return domain.GlobalDomain
	}
	return key
}

func defaultScore(key trustscore.Key) domain.TrustScore {
	return domain.TrustScore{
		UserID:     key.UserID,
		UserType:   domain.ParticipantHuman,
		ProjectID:  key.ProjectID,
		Domain:     key.Domain,
		Score:      domain.InitialTrustScore,
		Level:      domain.LevelVoter,
		VoteWeight: domain.InitialTrustWeight,
		UpdatedAt:  time.Time{},
	}
}
