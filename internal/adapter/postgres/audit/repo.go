// Package audit implements the governance audit log repository using
// PostgreSQL. Writes are append-only and run on the caller's querier, so an
// entry written inside a transaction rolls back together with the mutation
// it describes.
package audit

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

// Repo provides governance audit log persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new audit repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const createSQL = `
INSERT INTO governance_audit_logs
    (project_id, actor_id, action, resource_type, resource_id, old_value, new_value, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`

// Create appends one audit entry and returns it with the assigned id.
func (r *Repo) Create(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := q.QueryRow(ctx, createSQL,
		entry.ProjectID, entry.ActorID, entry.Action, entry.ResourceType, entry.ResourceID,
		nilIfEmpty(entry.OldValue), nilIfEmpty(entry.NewValue), nilIfEmpty(entry.Metadata),
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return domain.AuditLogEntry{}, postgres.MapError(err, "audit_log", entry.Action)
	}

	return entry, nil
}

// Log appends an audit entry without returning it. Satisfies the auditRepo
// interfaces declared by the governance services.
func (r *Repo) Log(ctx context.Context, entry domain.AuditLogEntry) error {
	_, err := r.Create(ctx, entry)
	return err
}

// Filter defines parameters for listing audit entries. A nil ProjectID means
// a global listing across all projects.
type Filter struct {
	ProjectID    *uuid.UUID
	Action       *string
	ResourceType *string
	ActorID      *uuid.UUID
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

const (
	defaultLimit = 50
	maxLimit     = 200
)

func (f *Filter) normalize() {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

func (f Filter) apply(builder sq.SelectBuilder) sq.SelectBuilder {
	if f.ProjectID != nil {
		builder = builder.Where(sq.Eq{"project_id": *f.ProjectID})
	}
	if f.Action != nil {
		builder = builder.Where(sq.Eq{"action": *f.Action})
	}
	if f.ResourceType != nil {
		builder = builder.Where(sq.Eq{"resource_type": *f.ResourceType})
	}
	if f.ActorID != nil {
		builder = builder.Where(sq.Eq{"actor_id": *f.ActorID})
	}
	if f.Since != nil {
		builder = builder.Where(sq.GtOrEq{"created_at": *f.Since})
	}
	if f.Until != nil {
		builder = builder.Where(sq.LtOrEq{"created_at": *f.Until})
	}
	return builder
}

// List returns audit entries matching the filter, newest first, plus the
// total match count for pagination.
func (r *Repo) List(ctx context.Context, filter Filter) ([]domain.AuditLogEntry, int, error) {
	filter.normalize()
	q := postgres.QuerierFromCtx(ctx, r.pool)

	countQuery, countArgs, err := filter.apply(
		sq.Select("COUNT(*)").From("governance_audit_logs").PlaceholderFormat(sq.Dollar),
	).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build audit count query: %w", err)
	}
	var total int
	if err := q.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit_logs: %w", err)
	}

	builder := filter.apply(sq.Select(
		"id", "project_id", "actor_id", "action", "resource_type", "resource_id",
		"old_value", "new_value", "metadata", "created_at",
	).
		From("governance_audit_logs").
		PlaceholderFormat(sq.Dollar)).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset))

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build audit list query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit_logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var e domain.AuditLogEntry
		if err := rows.Scan(
			&e.ID, &e.ProjectID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.OldValue, &e.NewValue, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan audit_log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// nilIfEmpty maps an empty JSON payload to SQL NULL.
func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
