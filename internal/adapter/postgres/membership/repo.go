// Package membership answers project and workspace membership questions for
// permission checks and project resolution. Read-only.
package membership

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
)

// Repo answers membership queries backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new membership repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const isMemberSQL = `
SELECT EXISTS(
    SELECT 1
    FROM projects p
    INNER JOIN workspace_members wm ON wm.workspace_id = p.workspace_id
    WHERE p.id = $1 AND wm.user_id = $2
)`

// IsProjectMember reports whether the user belongs to the project's workspace.
func (r *Repo) IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var ok bool
	err := q.QueryRow(ctx, isMemberSQL, projectID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("project member %s/%s: %w", projectID, userID, err)
	}
	return ok, nil
}

const isAdminSQL = `
SELECT EXISTS(
    SELECT 1
    FROM projects p
    INNER JOIN workspace_members wm ON wm.workspace_id = p.workspace_id
    WHERE p.id = $1 AND wm.user_id = $2 AND wm.role IN ('owner', 'admin')
)`

// IsProjectAdminOrOwner reports whether the user holds an owner or admin role
// in the project's workspace.
func (r *Repo) IsProjectAdminOrOwner(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var ok bool
	err := q.QueryRow(ctx, isAdminSQL, projectID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("project admin %s/%s: %w", projectID, userID, err)
	}
	return ok, nil
}

const isSystemAdminSQL = `
SELECT EXISTS(
    SELECT 1 FROM users
    WHERE id = $1 AND is_active AND lower(trim(role)) = 'admin'
)`

// IsSystemAdmin reports whether the user is an active instance administrator.
func (r *Repo) IsSystemAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var ok bool
	err := q.QueryRow(ctx, isSystemAdminSQL, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("system admin %s: %w", userID, err)
	}
	return ok, nil
}

// authorProjectsSQL fetches up to two project ids so callers can distinguish
// "exactly one" from "ambiguous" without scanning all memberships.
const authorProjectsSQL = `
SELECT p.id
FROM projects p
INNER JOIN workspace_members wm ON wm.workspace_id = p.workspace_id
WHERE wm.user_id = $1
ORDER BY p.created_at DESC
LIMIT 2`

// AuthorProjectIDs returns up to two projects the user belongs to.
func (r *Repo) AuthorProjectIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, authorProjectsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("author projects %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const linkedProjectsSQL = `
SELECT DISTINCT wi.project_id
FROM proposal_issue_links pil
INNER JOIN work_items wi ON wi.id = pil.issue_id
WHERE pil.proposal_id = $1`

// LinkedProjectIDs returns the distinct projects of the proposal's linked
// issues.
func (r *Repo) LinkedProjectIDs(ctx context.Context, proposalID string) ([]uuid.UUID, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, linkedProjectsSQL, proposalID)
	if err != nil {
		return nil, fmt.Errorf("linked projects for %s: %w", proposalID, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
