// Package vote implements the vote repository using PostgreSQL.
// Duplicate ballots are prevented by the uq_votes_proposal_voter constraint,
// not by an in-process check.
package vote

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Repo provides vote persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new vote repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const createSQL = `
INSERT INTO votes (proposal_id, voter_id, voter_type, choice, weight, reason, voted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

// Create inserts a ballot. A second ballot by the same voter surfaces as
// domain.ErrAlreadyExists via the unique constraint.
func (r *Repo) Create(ctx context.Context, v domain.Vote) (domain.Vote, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	err := q.QueryRow(ctx, createSQL,
		v.ProposalID, v.VoterID, string(v.VoterType), string(v.Choice), v.Weight, v.Reason, v.VotedAt,
	).Scan(&v.ID)
	if err != nil {
		return domain.Vote{}, postgres.MapError(err, "vote", v.ProposalID)
	}
	return v, nil
}

const listByProposalSQL = `
SELECT id, proposal_id, voter_id, voter_type, choice, weight, reason, voted_at
FROM votes
WHERE proposal_id = $1
ORDER BY voted_at ASC`

// ListByProposal returns every ballot on a proposal in cast order.
func (r *Repo) ListByProposal(ctx context.Context, proposalID string) ([]domain.Vote, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listByProposalSQL, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list votes for proposal %s: %w", proposalID, err)
	}
	defer rows.Close()

	return scanVotes(rows)
}

const getByVoterSQL = `
SELECT id, proposal_id, voter_id, voter_type, choice, weight, reason, voted_at
FROM votes
WHERE proposal_id = $1 AND voter_id = $2`

// GetByVoter returns the voter's ballot on a proposal.
func (r *Repo) GetByVoter(ctx context.Context, proposalID, voterID string) (domain.Vote, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var v domain.Vote
	err := q.QueryRow(ctx, getByVoterSQL, proposalID, voterID).Scan(
		&v.ID, &v.ProposalID, &v.VoterID, &v.VoterType, &v.Choice, &v.Weight, &v.Reason, &v.VotedAt,
	)
	if err != nil {
		return domain.Vote{}, postgres.MapError(err, "vote", proposalID)
	}
	return v, nil
}

const tallySQL = `
SELECT
  COUNT(*) FILTER (WHERE choice = 'yes')     AS yes,
  COUNT(*) FILTER (WHERE choice = 'no')      AS no,
  COUNT(*) FILTER (WHERE choice = 'abstain') AS abstain,
  COALESCE(SUM(weight) FILTER (WHERE choice = 'yes'), 0) AS weighted_yes,
  COALESCE(SUM(weight) FILTER (WHERE choice = 'no'), 0)  AS weighted_no
FROM votes
WHERE proposal_id = $1`

// Tally aggregates the proposal's current ballots.
func (r *Repo) Tally(ctx context.Context, proposalID string) (domain.Tally, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var t domain.Tally
	err := q.QueryRow(ctx, tallySQL, proposalID).Scan(
		&t.Yes, &t.No, &t.Abstain, &t.WeightedYes, &t.WeightedNo,
	)
	if err != nil {
		return domain.Tally{}, fmt.Errorf("tally votes for %s: %w", proposalID, err)
	}
	return t, nil
}

const humanConsensusSQL = `
SELECT COUNT(*), COUNT(DISTINCT choice)
FROM votes
WHERE proposal_id = $1 AND voter_type = 'human'`

// HumanConsensus reports whether every human ballot on the proposal picked
// the same choice (and at least one human voted).
func (r *Repo) HumanConsensus(ctx context.Context, proposalID string) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var total, distinct int
	if err := q.QueryRow(ctx, humanConsensusSQL, proposalID).Scan(&total, &distinct); err != nil {
		return false, fmt.Errorf("human consensus for %s: %w", proposalID, err)
	}
	return total > 0 && distinct == 1, nil
}

// UpdateWeight persists a re-resolved weight for one ballot (weight drift at
// finalize time).
func (r *Repo) UpdateWeight(ctx context.Context, voteID int64, weight float64) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx, `UPDATE votes SET weight = $2 WHERE id = $1`, voteID, weight)
	return postgres.MapError(err, "vote", voteID)
}

// DeleteByVoter removes the voter's ballot on a proposal. Returns
// domain.ErrNotFound when there is none.
func (r *Repo) DeleteByVoter(ctx context.Context, proposalID, voterID string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx,
		`DELETE FROM votes WHERE proposal_id = $1 AND voter_id = $2`,
		proposalID, voterID,
	)
	if err != nil {
		return postgres.MapError(err, "vote", proposalID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vote %s/%s: %w", proposalID, voterID, domain.ErrNotFound)
	}
	return nil
}

func scanVotes(rows pgx.Rows) ([]domain.Vote, error) {
	var votes []domain.Vote
	for rows.Next() {
		var v domain.Vote
		if err := rows.Scan(
			&v.ID, &v.ProposalID, &v.VoterID, &v.VoterType, &v.Choice, &v.Weight, &v.Reason, &v.VotedAt,
		); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}
