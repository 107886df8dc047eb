// Package proposal implements the proposal repository using PostgreSQL.
// Fixed-shape queries use raw SQL constants; the list filter is assembled
// with squirrel.
package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Repo provides proposal persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new proposal repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const proposalColumns = `
id, title, proposal_type, status, author_id, author_type, content, domains,
voting_rule, cycle_template, template_id, created_at, submitted_at,
voting_started_at, voting_ended_at, archived_at`

const createSQL = `
INSERT INTO proposals
    (id, title, proposal_type, status, author_id, author_type, content, domains,
     voting_rule, cycle_template, template_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// Create persists a new proposal.
func (r *Repo) Create(ctx context.Context, p domain.Proposal) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	domains, err := json.Marshal(p.Domains)
	if err != nil {
		return fmt.Errorf("proposal %s marshal domains: %w", p.ID, err)
	}

	_, err = q.Exec(ctx, createSQL,
		p.ID, p.Title, string(p.Type), string(p.Status), p.AuthorID, string(p.AuthorType),
		p.Content, domains, string(p.VotingRule), string(p.CycleTemplate), p.TemplateID,
		p.CreatedAt,
	)
	return postgres.MapError(err, "proposal", p.ID)
}

const getByIDSQL = `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`

// GetByID returns a proposal by id.
func (r *Repo) GetByID(ctx context.Context, id string) (domain.Proposal, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	p, err := scanProposal(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return domain.Proposal{}, postgres.MapError(err, "proposal", id)
	}
	return p, nil
}

const getForUpdateSQL = `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1 FOR UPDATE`

// GetForUpdate returns a proposal by id, locking the row for the duration of
// the enclosing transaction.
func (r *Repo) GetForUpdate(ctx context.Context, id string) (domain.Proposal, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	p, err := scanProposal(q.QueryRow(ctx, getForUpdateSQL, id))
	if err != nil {
		return domain.Proposal{}, postgres.MapError(err, "proposal", id)
	}
	return p, nil
}

// SetStatus updates only the status column.
func (r *Repo) SetStatus(ctx context.Context, id string, status domain.ProposalStatus) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	tag, err := q.Exec(ctx, `UPDATE proposals SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return postgres.MapError(err, "proposal", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkSubmitted moves a proposal to open and stamps submitted_at.
func (r *Repo) MarkSubmitted(ctx context.Context, id string, at time.Time) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx,
		`UPDATE proposals SET status = 'open', submitted_at = $2 WHERE id = $1`,
		id, at,
	)
	return postgres.MapError(err, "proposal", id)
}

// MarkVotingStarted moves a proposal to voting and stamps voting_started_at.
func (r *Repo) MarkVotingStarted(ctx context.Context, id string, at time.Time) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx,
		`UPDATE proposals SET status = 'voting', voting_started_at = $2 WHERE id = $1`,
		id, at,
	)
	return postgres.MapError(err, "proposal", id)
}

// MarkFinalized records the voting outcome and stamps voting_ended_at.
func (r *Repo) MarkFinalized(ctx context.Context, id string, status domain.ProposalStatus, endedAt time.Time) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx,
		`UPDATE proposals SET status = $2, voting_ended_at = $3 WHERE id = $1`,
		id, string(status), endedAt,
	)
	return postgres.MapError(err, "proposal", id)
}

// MarkArchived stamps archived_at and moves the proposal to archived.
func (r *Repo) MarkArchived(ctx context.Context, id string, at time.Time) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx,
		`UPDATE proposals SET status = 'archived', archived_at = $2 WHERE id = $1`,
		id, at,
	)
	return postgres.MapError(err, "proposal", id)
}

// Delete removes a proposal. The caller enforces the draft-only rule.
func (r *Repo) Delete(ctx context.Context, id string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	tag, err := q.Exec(ctx, `DELETE FROM proposals WHERE id = $1`, id)
	if err != nil {
		return postgres.MapError(err, "proposal", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// openToVotingSQL bulk-promotes every open proposal whose discussion window
// has elapsed. The window length depends on the cycle template, so the
// interval is selected with a CASE. COALESCE keeps an already stamped
// voting_started_at intact.
const openToVotingSQL = `
UPDATE proposals
SET status = 'voting',
    voting_started_at = COALESCE(voting_started_at, $1)
WHERE status = 'open'
  AND submitted_at IS NOT NULL
  AND submitted_at + CASE cycle_template
      WHEN 'rapid'    THEN INTERVAL '1 hour'
      WHEN 'fast'     THEN INTERVAL '24 hours'
      WHEN 'critical' THEN INTERVAL '168 hours'
      ELSE INTERVAL '72 hours'
  END <= $1
RETURNING id, author_id, title`

// PromotedProposal identifies a proposal moved open→voting by the watcher.
type PromotedProposal struct {
	ID       string
	AuthorID string
	Title    string
}

// PromoteExpiredOpen transitions all overdue open proposals to voting in one
// statement and returns the affected ids.
func (r *Repo) PromoteExpiredOpen(ctx context.Context, now time.Time) ([]PromotedProposal, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, openToVotingSQL, now)
	if err != nil {
		return nil, fmt.Errorf("promote expired open proposals: %w", err)
	}
	defer rows.Close()

	var promoted []PromotedProposal
	for rows.Next() {
		var p PromotedProposal
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Title); err != nil {
			return nil, fmt.Errorf("scan promoted proposal: %w", err)
		}
		promoted = append(promoted, p)
	}
	return promoted, rows.Err()
}

// expiredVotingSQL finds voting proposals whose window elapsed and that have
// no decision yet — the watcher finalizes each of them.
const expiredVotingSQL = `
SELECT ` + proposalColumns + `
FROM proposals p
WHERE p.status = 'voting'
  AND p.voting_started_at IS NOT NULL
  AND p.voting_started_at + CASE p.cycle_template
      WHEN 'rapid'    THEN INTERVAL '1 hour'
      WHEN 'fast'     THEN INTERVAL '24 hours'
      WHEN 'critical' THEN INTERVAL '72 hours'
      ELSE INTERVAL '48 hours'
  END <= $1
  AND NOT EXISTS (SELECT 1 FROM decisions d WHERE d.proposal_id = p.id)
ORDER BY p.voting_started_at ASC`

// ListExpiredVoting returns voting proposals past their deadline that still
// lack a decision.
func (r *Repo) ListExpiredVoting(ctx context.Context, now time.Time) ([]domain.Proposal, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, expiredVotingSQL, now)
	if err != nil {
		return nil, fmt.Errorf("list expired voting proposals: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

const getTemplateSQL = `
SELECT id, project_id, name, description, template_type, content,
       is_default, is_active, created_by, created_at, updated_at
FROM proposal_templates
WHERE id = $1`

// GetTemplate returns a proposal template by id.
func (r *Repo) GetTemplate(ctx context.Context, id string) (domain.ProposalTemplate, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var t domain.ProposalTemplate
	err := q.QueryRow(ctx, getTemplateSQL, id).Scan(
		&t.ID, &t.ProjectID, &t.Name, &t.Description, &t.TemplateType, &t.Content,
		&t.IsDefault, &t.IsActive, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.ProposalTemplate{}, postgres.MapError(err, "proposal_template", id)
	}
	return t, nil
}

func scanProposal(row pgx.Row) (domain.Proposal, error) {
	var (
		p       domain.Proposal
		domains []byte
	)
	err := row.Scan(
		&p.ID, &p.Title, &p.Type, &p.Status, &p.AuthorID, &p.AuthorType, &p.Content,
		&domains, &p.VotingRule, &p.CycleTemplate, &p.TemplateID, &p.CreatedAt,
		&p.SubmittedAt, &p.VotingStartedAt, &p.VotingEndedAt, &p.ArchivedAt,
	)
	if err != nil {
		return domain.Proposal{}, err
	}
	if len(domains) > 0 {
		if err := json.Unmarshal(domains, &p.Domains); err != nil {
			return domain.Proposal{}, fmt.Errorf("proposal %s unmarshal domains: %w", p.ID, err)
		}
	}
	return p, nil
}

func scanProposals(rows pgx.Rows) ([]domain.Proposal, error) {
	var proposals []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}
