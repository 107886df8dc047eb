// Package vetoer implements the vetoer-grant repository using PostgreSQL.
// (user, project, domain) is unique; trust-score sync only ever touches rows
// it granted itself.
package vetoer

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Repo provides vetoer grant persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new vetoer repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const createSQL = `
INSERT INTO vetoers (user_id, project_id, domain, granted_by, granted_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

// Create inserts a grant. A duplicate (user, project, domain) surfaces as
// domain.ErrAlreadyExists.
func (r *Repo) Create(ctx context.Context, v domain.Vetoer) (domain.Vetoer, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	if v.GrantedAt.IsZero() {
		v.GrantedAt = time.Now().UTC()
	}
	err := q.QueryRow(ctx, createSQL,
		v.UserID, v.ProjectID, v.Domain, string(v.GrantedBy), v.GrantedAt,
	).Scan(&v.ID)
	if err != nil {
		return domain.Vetoer{}, postgres.MapError(err, "vetoer", v.UserID)
	}
	return v, nil
}

const ensureSQL = `
INSERT INTO vetoers (user_id, project_id, domain, granted_by, granted_at)
VALUES ($1, $2, $3, 'trust_score', $4)
ON CONFLICT (user_id, project_id, domain) DO NOTHING`

// EnsureTrustGranted makes sure a trust-score grant exists for the key.
// An existing row — manual or trust-granted — is left untouched.
func (r *Repo) EnsureTrustGranted(ctx context.Context, userID, projectID uuid.UUID, dom string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx, ensureSQL, userID, projectID, dom, time.Now().UTC())
	return postgres.MapError(err, "vetoer", userID)
}

// RevokeTrustGranted removes the trust-score grant for the key, if one
// exists. Manual grants are never touched by level sync.
func (r *Repo) RevokeTrustGranted(ctx context.Context, userID, projectID uuid.UUID, dom string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx,
		`DELETE FROM vetoers WHERE user_id = $1 AND project_id = $2 AND domain = $3 AND granted_by = 'trust_score'`,
		userID, projectID, dom,
	)
	return postgres.MapError(err, "vetoer", userID)
}

// Delete removes a grant regardless of its source. Returns
// domain.ErrNotFound when no row matched.
func (r *Repo) Delete(ctx context.Context, userID, projectID uuid.UUID, dom string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx,
		`DELETE FROM vetoers WHERE user_id = $1 AND project_id = $2 AND domain = $3`,
		userID, projectID, dom,
	)
	if err != nil {
		return postgres.MapError(err, "vetoer", userID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vetoer %s/%s: %w", userID, dom, domain.ErrNotFound)
	}
	return nil
}

// Exists reports whether the user holds a grant for (project, domain).
func (r *Repo) Exists(ctx context.Context, userID, projectID uuid.UUID, dom string) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM vetoers WHERE user_id = $1 AND project_id = $2 AND domain = $3)`,
		userID, projectID, dom,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("vetoer exists %s/%s: %w", userID, dom, err)
	}
	return exists, nil
}

// CountByDomain returns the number of vetoers in (project, domain) — the
// denominator of the escalation overturn threshold.
func (r *Repo) CountByDomain(ctx context.Context, projectID uuid.UUID, dom string) (int, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var count int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM vetoers WHERE project_id = $1 AND domain = $2`,
		projectID, dom,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count vetoers %s/%s: %w", projectID, dom, err)
	}
	return count, nil
}

// Filter defines parameters for listing grants.
type Filter struct {
	ProjectID *uuid.UUID
	Domain    *string
	UserID    *uuid.UUID
	Limit     int
	Offset    int
}

// List returns grants matching the filter, newest first.
func (r *Repo) List(ctx context.Context, filter Filter) ([]domain.Vetoer, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	builder := sq.Select("id", "user_id", "project_id", "domain", "granted_by", "granted_at").
		From("vetoers").
		OrderBy("granted_at DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		PlaceholderFormat(sq.Dollar)

	if filter.ProjectID != nil {
		builder = builder.Where(sq.Eq{"project_id": *filter.ProjectID})
	}
	if filter.Domain != nil {
		builder = builder.Where(sq.Eq{"domain": *filter.Domain})
	}
	if filter.UserID != nil {
		builder = builder.Where(sq.Eq{"user_id": *filter.UserID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build vetoer list query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list vetoers: %w", err)
	}
	defer rows.Close()

	var grants []domain.Vetoer
	for rows.Next() {
		var v domain.Vetoer
		if err := rows.Scan(&v.ID, &v.UserID, &v.ProjectID, &v.Domain, &v.GrantedBy, &v.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan vetoer: %w", err)
		}
		grants = append(grants, v)
	}
	return grants, rows.Err()
}
