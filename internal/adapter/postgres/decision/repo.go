// Package decision implements the decision repository using PostgreSQL.
// decisions.proposal_id is unique: the constraint — not a lock — serializes
// concurrent finalize attempts for the same proposal.
package decision

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Repo provides decision persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new decision repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const decisionColumns = `
id, proposal_id, result, approval_rate, total_votes, yes_votes, no_votes,
abstain_votes, weighted_yes, weighted_no, weighted_approval_rate, is_weighted,
veto_event_id, decided_at`

const createSQL = `
INSERT INTO decisions
    (id, proposal_id, result, approval_rate, total_votes, yes_votes, no_votes,
     abstain_votes, weighted_yes, weighted_no, weighted_approval_rate, is_weighted,
     veto_event_id, decided_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// Create inserts a decision. A concurrent duplicate for the same proposal
// fails the unique constraint; callers treat that as "already finalized".
func (r *Repo) Create(ctx context.Context, d domain.Decision) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	_, err := q.Exec(ctx, createSQL,
		d.ID, d.ProposalID, string(d.Result), d.ApprovalRate, d.TotalVotes, d.YesVotes,
		d.NoVotes, d.AbstainVotes, d.WeightedYes, d.WeightedNo, d.WeightedApprovalRate,
		d.IsWeighted, d.VetoEventID, d.DecidedAt,
	)
	if err != nil {
		// Preserve the raw constraint violation for IsUniqueViolation callers.
		return fmt.Errorf("create decision %s: %w", d.ID, err)
	}
	return nil
}

// upsertVetoSQL records a vetoed outcome. An existing decision is revised in
// place rather than duplicated.
const upsertVetoSQL = `
INSERT INTO decisions
    (id, proposal_id, result, total_votes, yes_votes, no_votes, abstain_votes,
     is_weighted, veto_event_id, decided_at)
VALUES ($1, $2, 'vetoed', 0, 0, 0, 0, TRUE, $3, $4)
ON CONFLICT (proposal_id) DO UPDATE
SET result = 'vetoed', veto_event_id = EXCLUDED.veto_event_id, decided_at = EXCLUDED.decided_at`

// UpsertVetoed links the proposal's decision to a veto event, creating the
// decision row when finalize has not run yet.
func (r *Repo) UpsertVetoed(ctx context.Context, d domain.Decision) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx, upsertVetoSQL, d.ID, d.ProposalID, d.VetoEventID, d.DecidedAt)
	return postgres.MapError(err, "decision", d.ProposalID)
}

const syncSQL = `
UPDATE decisions
SET result = $2, approval_rate = $3, total_votes = $4, yes_votes = $5, no_votes = $6,
    abstain_votes = $7, weighted_yes = $8, weighted_no = $9, weighted_approval_rate = $10,
    veto_event_id = NULL, decided_at = $11
WHERE proposal_id = $1`

// SyncFromTally revises the proposal's decision in place after a veto is
// withdrawn or overturned, detaching it from the veto event.
func (r *Repo) SyncFromTally(ctx context.Context, d domain.Decision) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, syncSQL,
		d.ProposalID, string(d.Result), d.ApprovalRate, d.TotalVotes, d.YesVotes,
		d.NoVotes, d.AbstainVotes, d.WeightedYes, d.WeightedNo, d.WeightedApprovalRate,
		d.DecidedAt,
	)
	if err != nil {
		return postgres.MapError(err, "decision", d.ProposalID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("decision for proposal %s: %w", d.ProposalID, domain.ErrNotFound)
	}
	return nil
}

const getByProposalSQL = `SELECT ` + decisionColumns + ` FROM decisions WHERE proposal_id = $1`

// GetByProposal returns the proposal's decision, if any.
func (r *Repo) GetByProposal(ctx context.Context, proposalID string) (domain.Decision, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	d, err := scanDecision(q.QueryRow(ctx, getByProposalSQL, proposalID))
	if err != nil {
		return domain.Decision{}, postgres.MapError(err, "decision", proposalID)
	}
	return d, nil
}

const getByIDSQL = `SELECT ` + decisionColumns + ` FROM decisions WHERE id = $1`

// GetByID returns a decision by its own id.
func (r *Repo) GetByID(ctx context.Context, id string) (domain.Decision, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	d, err := scanDecision(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return domain.Decision{}, postgres.MapError(err, "decision", id)
	}
	return d, nil
}

// ExistsForProposal reports whether the proposal already has a decision.
func (r *Repo) ExistsForProposal(ctx context.Context, proposalID string) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM decisions WHERE proposal_id = $1)`, proposalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("decision exists for %s: %w", proposalID, err)
	}
	return exists, nil
}

const listSQL = `
SELECT ` + decisionColumns + `
FROM decisions
ORDER BY decided_at DESC
LIMIT $1 OFFSET $2`

// List returns decisions newest first.
func (r *Repo) List(ctx context.Context, limit, offset int) ([]domain.Decision, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func scanDecision(row pgx.Row) (domain.Decision, error) {
	var d domain.Decision
	err := row.Scan(
		&d.ID, &d.ProposalID, &d.Result, &d.ApprovalRate, &d.TotalVotes, &d.YesVotes,
		&d.NoVotes, &d.AbstainVotes, &d.WeightedYes, &d.WeightedNo, &d.WeightedApprovalRate,
		&d.IsWeighted, &d.VetoEventID, &d.DecidedAt,
	)
	return d, err
}
