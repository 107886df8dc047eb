// Package vetoevent implements the veto event repository using PostgreSQL.
// The escalation ballot map lives in a JSONB column on the event row.
package vetoevent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Repo provides veto event persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new veto event repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const eventColumns = `
id, proposal_id, vetoer_id, domain, reason, status, escalation_started_at,
escalation_result, escalation_votes, created_at`

const createSQL = `
INSERT INTO veto_events (proposal_id, vetoer_id, domain, reason, status, created_at)
VALUES ($1, $2, $3, $4, 'active', $5)
RETURNING id`

// Create inserts an active veto event.
func (r *Repo) Create(ctx context.Context, e domain.VetoEvent) (domain.VetoEvent, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	err := q.QueryRow(ctx, createSQL,
		e.ProposalID, e.VetoerID, e.Domain, e.Reason, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return domain.VetoEvent{}, postgres.MapError(err, "veto_event", e.ProposalID)
	}
	e.Status = domain.VetoStatusActive
	return e, nil
}

const latestByProposalSQL = `
SELECT ` + eventColumns + `
FROM veto_events
WHERE proposal_id = $1
ORDER BY created_at DESC
LIMIT 1`

// LatestByProposal returns the most recent veto event on a proposal.
func (r *Repo) LatestByProposal(ctx context.Context, proposalID string) (domain.VetoEvent, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	e, err := scanEvent(q.QueryRow(ctx, latestByProposalSQL, proposalID))
	if err != nil {
		return domain.VetoEvent{}, postgres.MapError(err, "veto_event", proposalID)
	}
	return e, nil
}

const latestByProposalForUpdateSQL = `
SELECT ` + eventColumns + `
FROM veto_events
WHERE proposal_id = $1
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE`

// LatestByProposalForUpdate locks and returns the most recent veto event on a
// proposal. Must run inside a transaction; callers check the status they need.
func (r *Repo) LatestByProposalForUpdate(ctx context.Context, proposalID string) (domain.VetoEvent, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	e, err := scanEvent(q.QueryRow(ctx, latestByProposalForUpdateSQL, proposalID))
	if err != nil {
		return domain.VetoEvent{}, postgres.MapError(err, "veto_event", proposalID)
	}
	return e, nil
}

const updateSQL = `
UPDATE veto_events
SET status = $2, escalation_started_at = $3, escalation_result = $4, escalation_votes = $5
WHERE id = $1`

// Update persists the mutable veto fields (status, escalation state).
func (r *Repo) Update(ctx context.Context, e domain.VetoEvent) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	votes, err := marshalVotes(e.EscalationVotes)
	if err != nil {
		return fmt.Errorf("veto_event %d marshal ballots: %w", e.ID, err)
	}

	_, err = q.Exec(ctx, updateSQL,
		e.ID, string(e.Status), e.EscalationStartedAt, e.EscalationResult, votes,
	)
	return postgres.MapError(err, "veto_event", e.ID)
}

const listByProposalSQL = `
SELECT ` + eventColumns + `
FROM veto_events
WHERE proposal_id = $1
ORDER BY created_at DESC`

// ListByProposal returns every veto event on a proposal, newest first.
func (r *Repo) ListByProposal(ctx context.Context, proposalID string) ([]domain.VetoEvent, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listByProposalSQL, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list veto_events for %s: %w", proposalID, err)
	}
	defer rows.Close()

	var events []domain.VetoEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan veto_event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (domain.VetoEvent, error) {
	var (
		e     domain.VetoEvent
		votes []byte
	)
	err := row.Scan(
		&e.ID, &e.ProposalID, &e.VetoerID, &e.Domain, &e.Reason, &e.Status,
		&e.EscalationStartedAt, &e.EscalationResult, &votes, &e.CreatedAt,
	)
	if err != nil {
		return domain.VetoEvent{}, err
	}
	if len(votes) > 0 {
		var ev domain.EscalationVotes
		if err := json.Unmarshal(votes, &ev); err != nil {
			return domain.VetoEvent{}, fmt.Errorf("veto_event %d unmarshal ballots: %w", e.ID, err)
		}
		e.EscalationVotes = &ev
	}
	return e, nil
}

func marshalVotes(v *domain.EscalationVotes) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
