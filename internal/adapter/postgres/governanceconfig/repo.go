// Package governanceconfig implements per-project governance configuration
// persistence. A missing row means defaults apply.
package governanceconfig

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Repo provides governance config persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new governance config repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const configColumns = `
id, project_id, review_required, auto_review_days, review_reminder_days,
audit_report_cron, trust_update_mode, config, updated_by, created_at, updated_at`

const getSQL = `SELECT ` + configColumns + ` FROM governance_configs WHERE project_id = $1`

// Get returns the project's stored config, or the defaults when none exists.
func (r *Repo) Get(ctx context.Context, projectID uuid.UUID) (domain.GovernanceConfig, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	cfg, err := scanConfig(q.QueryRow(ctx, getSQL, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DefaultGovernanceConfig(projectID), nil
		}
		return domain.GovernanceConfig{}, postgres.MapError(err, "governance_config", projectID)
	}
	return cfg, nil
}

const upsertSQL = `
INSERT INTO governance_configs
    (project_id, review_required, auto_review_days, review_reminder_days,
     audit_report_cron, trust_update_mode, config, updated_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, '{}'::jsonb), $8, $9, $9)
ON CONFLICT (project_id) DO UPDATE
SET review_required      = EXCLUDED.review_required,
    auto_review_days     = EXCLUDED.auto_review_days,
    review_reminder_days = EXCLUDED.review_reminder_days,
    audit_report_cron    = EXCLUDED.audit_report_cron,
    trust_update_mode    = EXCLUDED.trust_update_mode,
    config               = EXCLUDED.config,
    updated_by           = EXCLUDED.updated_by,
    updated_at           = EXCLUDED.updated_at
RETURNING ` + configColumns

// Upsert stores the project's config, creating the row on first update.
func (r *Repo) Upsert(ctx context.Context, cfg domain.GovernanceConfig) (domain.GovernanceConfig, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var raw []byte
	if len(cfg.Config) > 0 {
		raw = cfg.Config
	}
	now := time.Now().UTC()

	stored, err := scanConfig(q.QueryRow(ctx, upsertSQL,
		cfg.ProjectID, cfg.ReviewRequired, cfg.AutoReviewDays, cfg.ReviewReminderDays,
		cfg.AuditReportCron, cfg.TrustUpdateMode, raw, cfg.UpdatedBy, now,
	))
	if err != nil {
		return domain.GovernanceConfig{}, postgres.MapError(err, "governance_config", cfg.ProjectID)
	}
	return stored, nil
}

func scanConfig(row pgx.Row) (domain.GovernanceConfig, error) {
	var cfg domain.GovernanceConfig
	err := row.Scan(
		&cfg.ID, &cfg.ProjectID, &cfg.ReviewRequired, &cfg.AutoReviewDays,
		&cfg.ReviewReminderDays, &cfg.AuditReportCron, &cfg.TrustUpdateMode,
		&cfg.Config, &cfg.UpdatedBy, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	return cfg, err
}
