// Package aiparticipant implements the AI participant registry using
// PostgreSQL. Permission checks and task fan-out both consult it.
package aiparticipant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Repo provides AI participant persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new AI participant repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const participantColumns = `
id, project_id, name, model, provider, api_endpoint, capabilities,
domain_overrides, max_domain_level, can_veto_human_consensus, reason_min_length,
is_active, registered_by, last_active_at, created_at`

const getSQL = `
SELECT ` + participantColumns + `
FROM ai_participants
WHERE id = $1 AND project_id = $2`

// GetByUserAndProject returns the agent registered under (user id, project).
func (r *Repo) GetByUserAndProject(ctx context.Context, userID string, projectID uuid.UUID) (domain.AIParticipant, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	p, err := scanParticipant(q.QueryRow(ctx, getSQL, userID, projectID))
	if err != nil {
		return domain.AIParticipant{}, postgres.MapError(err, "ai_participant", userID)
	}
	return p, nil
}

const listActiveSQL = `
SELECT ` + participantColumns + `
FROM ai_participants
WHERE project_id = $1 AND is_active
ORDER BY created_at ASC`

// ListActiveByProject returns the project's active agents.
func (r *Repo) ListActiveByProject(ctx context.Context, projectID uuid.UUID) ([]domain.AIParticipant, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listActiveSQL, projectID)
	if err != nil {
		return nil, fmt.Errorf("list ai_participants for %s: %w", projectID, err)
	}
	defer rows.Close()

	var participants []domain.AIParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ai_participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

const createSQL = `
INSERT INTO ai_participants
    (id, project_id, name, model, provider, api_endpoint, capabilities,
     domain_overrides, max_domain_level, can_veto_human_consensus,
     reason_min_length, is_active, registered_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, '[]'::jsonb), $8, $9, $10, $11, $12, $13, $14)`

// Create registers an agent.
func (r *Repo) Create(ctx context.Context, p domain.AIParticipant) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	overrides, err := marshalOverrides(p.DomainOverrides)
	if err != nil {
		return fmt.Errorf("ai_participant %s marshal overrides: %w", p.ID, err)
	}

	_, err = q.Exec(ctx, createSQL,
		p.ID, p.ProjectID, p.Name, p.Model, p.Provider, p.APIEndpoint,
		nilIfEmpty(p.Capabilities), overrides, string(p.MaxDomainLevel),
		p.CanVetoHumanConsensus, p.ReasonMinLength, p.IsActive, p.RegisteredBy, p.CreatedAt,
	)
	return postgres.MapError(err, "ai_participant", p.ID)
}

// TouchLastActive records agent activity.
func (r *Repo) TouchLastActive(ctx context.Context, id string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx,
		`UPDATE ai_participants SET last_active_at = now() WHERE id = $1`, id,
	)
	return postgres.MapError(err, "ai_participant", id)
}

func scanParticipant(row pgx.Row) (domain.AIParticipant, error) {
	var (
		p         domain.AIParticipant
		overrides []byte
	)
	err := row.Scan(
		&p.ID, &p.ProjectID, &p.Name, &p.Model, &p.Provider, &p.APIEndpoint,
		&p.Capabilities, &overrides, &p.MaxDomainLevel, &p.CanVetoHumanConsensus,
		&p.ReasonMinLength, &p.IsActive, &p.RegisteredBy, &p.LastActiveAt, &p.CreatedAt,
	)
	if err != nil {
		return domain.AIParticipant{}, err
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &p.DomainOverrides); err != nil {
			return domain.AIParticipant{}, fmt.Errorf("ai_participant %s unmarshal overrides: %w", p.ID, err)
		}
	}
	return p, nil
}

func marshalOverrides(m map[string]domain.TrustLevel) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
