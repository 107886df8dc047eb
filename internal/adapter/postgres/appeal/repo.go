// Package appeal implements the appeal repository using PostgreSQL.
package appeal

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Repo provides appeal persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new appeal repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const appealColumns = `
id, log_id, appellant_id, reason, evidence, status, reviewer_id, review_note,
created_at, resolved_at`

const createSQL = `
INSERT INTO appeals (log_id, appellant_id, reason, evidence, status, created_at)
VALUES ($1, $2, $3, $4, 'pending', $5)
RETURNING id`

// Create inserts a pending appeal.
func (r *Repo) Create(ctx context.Context, a domain.Appeal) (domain.Appeal, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	err := q.QueryRow(ctx, createSQL,
		a.LogID, a.AppellantID, a.Reason, nilIfEmpty(a.Evidence), a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return domain.Appeal{}, postgres.MapError(err, "appeal", a.LogID)
	}
	a.Status = domain.AppealStatusPending
	return a, nil
}

const getByIDSQL = `SELECT ` + appealColumns + ` FROM appeals WHERE id = $1`

// GetByID returns an appeal by id.
func (r *Repo) GetByID(ctx context.Context, id int64) (domain.Appeal, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	a, err := scanAppeal(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return domain.Appeal{}, postgres.MapError(err, "appeal", id)
	}
	return a, nil
}

const getForUpdateSQL = `SELECT ` + appealColumns + ` FROM appeals WHERE id = $1 FOR UPDATE`

// GetByIDForUpdate locks and returns an appeal. Must run inside a transaction.
func (r *Repo) GetByIDForUpdate(ctx context.Context, id int64) (domain.Appeal, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	a, err := scanAppeal(q.QueryRow(ctx, getForUpdateSQL, id))
	if err != nil {
		return domain.Appeal{}, postgres.MapError(err, "appeal", id)
	}
	return a, nil
}

const resolveSQL = `
UPDATE appeals
SET status = $2, reviewer_id = $3, review_note = $4, resolved_at = $5
WHERE id = $1`

// Resolve records the reviewer's verdict on an appeal.
func (r *Repo) Resolve(ctx context.Context, a domain.Appeal) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, resolveSQL,
		a.ID, string(a.Status), a.ReviewerID, a.ReviewNote, a.ResolvedAt,
	)
	if err != nil {
		return postgres.MapError(err, "appeal", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appeal %d: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

// Delete removes an appeal.
func (r *Repo) Delete(ctx context.Context, id int64) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	tag, err := q.Exec(ctx, `DELETE FROM appeals WHERE id = $1`, id)
	if err != nil {
		return postgres.MapError(err, "appeal", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appeal %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// PendingExistsForLog reports whether the ledger entry already has an open
// appeal. One pending appeal per entry.
func (r *Repo) PendingExistsForLog(ctx context.Context, logID int64) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM appeals WHERE log_id = $1 AND status = 'pending')`, logID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pending appeal exists for log %d: %w", logID, err)
	}
	return exists, nil
}

// Filter defines parameters for listing appeals.
type Filter struct {
	Status      *domain.AppealStatus
	AppellantID *uuid.UUID
	LogID       *int64
	Limit       int
	Offset      int
}

// List returns appeals matching the filter, newest first.
func (r *Repo) List(ctx context.Context, filter Filter) ([]domain.Appeal, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	builder := sq.Select(
		"id", "log_id", "appellant_id", "reason", "evidence", "status",
		"reviewer_id", "review_note", "created_at", "resolved_at",
	).
		From("appeals").
		OrderBy("created_at DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		PlaceholderFormat(sq.Dollar)

	if filter.Status != nil {
		builder = builder.Where(sq.Eq{"status": string(*filter.Status)})
	}
	if filter.AppellantID != nil {
		builder = builder.Where(sq.Eq{"appellant_id": *filter.AppellantID})
	}
	if filter.LogID != nil {
		builder = builder.Where(sq.Eq{"log_id": *filter.LogID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build appeal list query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appeals: %w", err)
	}
	defer rows.Close()

	var appeals []domain.Appeal
	for rows.Next() {
		a, err := scanAppeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appeal: %w", err)
		}
		appeals = append(appeals, a)
	}
	return appeals, rows.Err()
}

func scanAppeal(row pgx.Row) (domain.Appeal, error) {
	var a domain.Appeal
	err := row.Scan(
		&a.ID, &a.LogID, &a.AppellantID, &a.Reason, &a.Evidence, &a.Status,
		&a.ReviewerID, &a.ReviewNote, &a.CreatedAt, &a.ResolvedAt,
	)
	return a, err
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
