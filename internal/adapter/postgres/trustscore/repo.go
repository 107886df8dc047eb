// Package trustscore implements the trust ledger repositories (scores and
// append-only logs) using PostgreSQL. Score mutation is serialized per
// (user, project, domain) with SELECT ... FOR UPDATE; the five-column unique
// key on trust_score_logs carries the idempotency guarantee.
package trustscore

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Repo provides trust score and ledger persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new trust score repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const scoreColumns = `
id, user_id, user_type, project_id, domain, score, level, vote_weight,
consecutive_rejections, cooldown_until, updated_at`

// Key identifies one trust score row.
type Key struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
	Domain    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.UserID, k.ProjectID, k.Domain)
}

const getForUpdateSQL = `
SELECT ` + scoreColumns + `
FROM trust_scores
WHERE user_id = $1 AND project_id = $2 AND domain = $3
FOR UPDATE`

// GetForUpdate locks and returns the score row for the key. Must run inside
// a transaction. Returns domain.ErrNotFound when the row does not exist.
func (r *Repo) GetForUpdate(ctx context.Context, key Key) (domain.TrustScore, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	s, err := scanScore(q.QueryRow(ctx, getForUpdateSQL, key.UserID, key.ProjectID, key.Domain))
	if err != nil {
		return domain.TrustScore{}, postgres.MapError(err, "trust_score", key)
	}
	return s, nil
}

const insertDefaultSQL = `
INSERT INTO trust_scores (user_id, user_type, project_id, domain, score, level, vote_weight, updated_at)
VALUES ($1, $2, $3, $4, $5, 'voter', $6, $7)
ON CONFLICT (user_id, project_id, domain) DO NOTHING`

// InsertDefault lazily creates the default score row for a key. Losing an
// insert race is fine: the caller re-selects FOR UPDATE afterwards.
func (r *Repo) InsertDefault(ctx context.Context, key Key, userType domain.ParticipantType) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx, insertDefaultSQL,
		key.UserID, string(userType), key.ProjectID, key.Domain,
		domain.InitialTrustScore, domain.InitialTrustWeight, time.Now().UTC(),
	)
	return postgres.MapError(err, "trust_score", key)
}

const updateScoreSQL = `
UPDATE trust_scores
SET score = $2, level = $3, vote_weight = $4, consecutive_rejections = $5,
    cooldown_until = $6, updated_at = $7
WHERE id = $1`

// Update persists the recomputed score row.
func (r *Repo) Update(ctx context.Context, s domain.TrustScore) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx, updateScoreSQL,
		s.ID, s.Score, string(s.Level), s.VoteWeight, s.ConsecutiveRejections,
		s.CooldownUntil, s.UpdatedAt,
	)
	return postgres.MapError(err, "trust_score", s.ID)
}

const logColumns = `
id, user_id, project_id, domain, event_type, event_id, score_change, old_score,
new_score, old_level, new_level, reason, is_appealed, appeal_result, created_at`

const findLogSQL = `
SELECT ` + logColumns + `
FROM trust_score_logs
WHERE user_id = $1 AND project_id = $2 AND domain = $3 AND event_type = $4 AND event_id = $5`

// FindLog looks up a ledger entry by its idempotency key.
func (r *Repo) FindLog(ctx context.Context, key Key, eventType domain.TrustEventType, eventID string) (domain.TrustScoreLog, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	l, err := scanLog(q.QueryRow(ctx, findLogSQL, key.UserID, key.ProjectID, key.Domain, string(eventType), eventID))
	if err != nil {
		return domain.TrustScoreLog{}, postgres.MapError(err, "trust_score_log", key)
	}
	return l, nil
}

const insertLogSQL = `
INSERT INTO trust_score_logs
    (user_id, project_id, domain, event_type, event_id, score_change, old_score,
     new_score, old_level, new_level, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`

// InsertLog appends a ledger entry. The unique key surfaces a duplicate event
// as domain.ErrAlreadyExists.
func (r *Repo) InsertLog(ctx context.Context, l domain.TrustScoreLog) (domain.TrustScoreLog, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	err := q.QueryRow(ctx, insertLogSQL,
		l.UserID, l.ProjectID, l.Domain, string(l.EventType), l.EventID, l.ScoreChange,
		l.OldScore, l.NewScore, string(l.OldLevel), string(l.NewLevel), l.Reason, l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		return domain.TrustScoreLog{}, postgres.MapError(err, "trust_score_log", l.EventID)
	}
	return l, nil
}

const getLogByIDSQL = `SELECT ` + logColumns + ` FROM trust_score_logs WHERE id = $1`

// GetLogByID returns one ledger entry.
func (r *Repo) GetLogByID(ctx context.Context, id int64) (domain.TrustScoreLog, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	l, err := scanLog(q.QueryRow(ctx, getLogByIDSQL, id))
	if err != nil {
		return domain.TrustScoreLog{}, postgres.MapError(err, "trust_score_log", id)
	}
	return l, nil
}

// MarkLogAppealed records the outcome of an appeal on the original entry.
// The score fields stay untouched: compensation happens via a new entry.
func (r *Repo) MarkLogAppealed(ctx context.Context, logID int64, result string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx,
		`UPDATE trust_score_logs SET is_appealed = TRUE, appeal_result = $2 WHERE id = $1`,
		logID, result,
	)
	return postgres.MapError(err, "trust_score_log", logID)
}

const globalWeightSQL = `
SELECT vote_weight FROM trust_scores
WHERE user_id = $1 AND project_id = $2 AND domain = $3`

const maxWeightSQL = `
SELECT MAX(vote_weight) FROM trust_scores
WHERE user_id = $1 AND project_id = $2 AND (domain = $3 OR domain = ANY($4))`

// ResolveVoteWeight computes the voter's effective weight: with no proposal
// domains, the global row's weight; otherwise the maximum across the global
// row and the proposal domains. Missing rows default to 1.0; the result is
// clamped to [0.5, 2.0].
func (r *Repo) ResolveVoteWeight(ctx context.Context, userID, projectID uuid.UUID, domains []string) (float64, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var weight *float64
	var err error
	if len(domains) == 0 {
		var w float64
		err = q.QueryRow(ctx, globalWeightSQL, userID, projectID, domain.GlobalDomain).Scan(&w)
		if err == nil {
			weight = &w
		}
	} else {
		err = q.QueryRow(ctx, maxWeightSQL, userID, projectID, domain.GlobalDomain, domains).Scan(&weight)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 1.0, nil
		}
		return 0, fmt.Errorf("resolve vote weight for %s: %w", userID, err)
	}
	if weight == nil {
		return 1.0, nil
	}

	w := *weight
	if w < 0.5 {
		w = 0.5
	}
	if w > 2.0 {
		w = 2.0
	}
	return w, nil
}

const getScoreSQL = `
SELECT ` + scoreColumns + `
FROM trust_scores
WHERE user_id = $1 AND project_id = $2 AND domain = $3`

// Get returns the score row for a key without locking it.
func (r *Repo) Get(ctx context.Context, key Key) (domain.TrustScore, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	s, err := scanScore(q.QueryRow(ctx, getScoreSQL, key.UserID, key.ProjectID, key.Domain))
	if err != nil {
		return domain.TrustScore{}, postgres.MapError(err, "trust_score", key)
	}
	return s, nil
}

const userScoresSQL = `
SELECT ` + scoreColumns + `
FROM trust_scores
WHERE user_id = $1 AND project_id = $2
ORDER BY domain ASC`

// UserScores returns all of a user's score rows in a project.
func (r *Repo) UserScores(ctx context.Context, userID, projectID uuid.UUID) ([]domain.TrustScore, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, userScoresSQL, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list user trust scores: %w", err)
	}
	defer rows.Close()

	return scanScores(rows)
}

// ListFilter defines parameters for listing trust scores in a project.
type ListFilter struct {
	ProjectID uuid.UUID
	Domain    *string
	MinLevel  *domain.TrustLevel
	Limit     int
	Offset    int
}

// List returns score rows matching the filter, highest score first.
func (r *Repo) List(ctx context.Context, filter ListFilter) ([]domain.TrustScore, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	builder := sq.Select(
		"id", "user_id", "user_type", "project_id", "domain", "score", "level",
		"vote_weight", "consecutive_rejections", "cooldown_until", "updated_at",
	).
		From("trust_scores").
		Where(sq.Eq{"project_id": filter.ProjectID}).
		OrderBy("score DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		PlaceholderFormat(sq.Dollar)

	if filter.Domain != nil {
		builder = builder.Where(sq.Eq{"domain": *filter.Domain})
	}
	if filter.MinLevel != nil {
		builder = builder.Where(sq.Eq{"level": string(*filter.MinLevel)})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build trust score list query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trust scores: %w", err)
	}
	defer rows.Close()

	return scanScores(rows)
}

const historySQL = `
SELECT ` + logColumns + `
FROM trust_score_logs
WHERE user_id = $1 AND project_id = $2
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

// History returns a user's ledger entries in a project, newest first.
func (r *Repo) History(ctx context.Context, userID, projectID uuid.UUID, limit, offset int) ([]domain.TrustScoreLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, historySQL, userID, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list trust score history: %w", err)
	}
	defer rows.Close()

	var logs []domain.TrustScoreLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trust_score_log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanScore(row pgx.Row) (domain.TrustScore, error) {
	var s domain.TrustScore
	err := row.Scan(
		&s.ID, &s.UserID, &s.UserType, &s.ProjectID, &s.Domain, &s.Score, &s.Level,
		&s.VoteWeight, &s.ConsecutiveRejections, &s.CooldownUntil, &s.UpdatedAt,
	)
	return s, err
}

func scanScores(rows pgx.Rows) ([]domain.TrustScore, error) {
	var scores []domain.TrustScore
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trust_score: %w", err)
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

func scanLog(row pgx.Row) (domain.TrustScoreLog, error) {
	var l domain.TrustScoreLog
	err := row.Scan(
		&l.ID, &l.UserID, &l.ProjectID, &l.Domain, &l.EventType, &l.EventID,
		&l.ScoreChange, &l.OldScore, &l.NewScore, &l.OldLevel, &l.NewLevel,
		&l.Reason, &l.IsAppealed, &l.AppealResult, &l.CreatedAt,
	)
	return l, err
}
