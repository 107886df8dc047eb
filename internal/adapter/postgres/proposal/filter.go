package proposal

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Filter defines parameters for listing proposals.
type Filter struct {
	// Status filters by lifecycle state.
	Status *domain.ProposalStatus

	// Type filters by proposal taxonomy.
	Type *domain.ProposalType

	// Domain matches proposals whose JSON domain set contains the value.
	Domain *string

	// AuthorID filters by author.
	AuthorID *string

	// SortBy: "created_at", "title", "status". Default: "created_at".
	SortBy string

	// SortOrder: "ASC" or "DESC". Default: "DESC".
	SortOrder string

	// Page is 1-based; PerPage is clamped to [1, 100].
	Page    int
	PerPage int
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

func (f *Filter) normalize() {
	switch f.SortBy {
	case "created_at", "title", "status":
	default:
		f.SortBy = "created_at"
	}
	switch f.SortOrder {
	case "ASC", "DESC":
	default:
		f.SortOrder = "DESC"
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
}

func (f *Filter) apply(builder sq.SelectBuilder) sq.SelectBuilder {
	if f.Status != nil {
		builder = builder.Where(sq.Eq{"status": string(*f.Status)})
	}
	if f.Type != nil {
		builder = builder.Where(sq.Eq{"proposal_type": string(*f.Type)})
	}
	if f.Domain != nil {
		builder = builder.Where("domains @> ?", fmt.Sprintf(`["%s"]`, *f.Domain))
	}
	if f.AuthorID != nil {
		builder = builder.Where(sq.Eq{"author_id": *f.AuthorID})
	}
	return builder
}

// List returns a page of proposals plus the total match count.
func (r *Repo) List(ctx context.Context, filter Filter) ([]domain.Proposal, int, error) {
	filter.normalize()
	q := postgres.QuerierFromCtx(ctx, r.pool)

	countBuilder := filter.apply(
		sq.Select("COUNT(*)").From("proposals").PlaceholderFormat(sq.Dollar),
	)
	countQuery, countArgs, err := countBuilder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build proposal count query: %w", err)
	}

	var total int
	if err := q.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count proposals: %w", err)
	}

	builder := filter.apply(
		sq.Select(
			"id", "title", "proposal_type", "status", "author_id", "author_type",
			"content", "domains", "voting_rule", "cycle_template", "template_id",
			"created_at", "submitted_at", "voting_started_at", "voting_ended_at", "archived_at",
		).
			From("proposals").
			OrderBy(filter.SortBy + " " + filter.SortOrder).
			Limit(uint64(filter.PerPage)).
			Offset(uint64((filter.Page - 1) * filter.PerPage)).
			PlaceholderFormat(sq.Dollar),
	)

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build proposal list query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	proposals, err := scanProposals(rows)
	if err != nil {
		return nil, 0, err
	}
	return proposals, total, nil
}
