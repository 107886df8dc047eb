// Command seeder populates a fresh database with a demo workspace: users,
// a project, memberships, an AI participant, and a sample proposal. It is
// idempotent and intended for local development, not production.
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/app"
	"github.com/heartmarshall/concord-backend/internal/config"
)

// Fixed ids keep the seeder idempotent and the demo data addressable.
const (
	workspaceID = "4dc1f43e-8a25-4b7e-9f3a-0c5d3a1e9b01"
	projectID   = "4dc1f43e-8a25-4b7e-9f3a-0c5d3a1e9b02"
	ownerID     = "4dc1f43e-8a25-4b7e-9f3a-0c5d3a1e9b03"
	memberID    = "4dc1f43e-8a25-4b7e-9f3a-0c5d3a1e9b04"
	botID       = "4dc1f43e-8a25-4b7e-9f3a-0c5d3a1e9b05"
	proposalID  = "PROP-demo-0001"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	statements := []struct {
		name string
		sql  string
		args []any
	}{
		{"workspace", `INSERT INTO workspaces (id, name) VALUES ($1, 'Demo Workspace') ON CONFLICT DO NOTHING`,
			[]any{workspaceID}},
		{"owner", `INSERT INTO users (id, email, name, role, entity_type) VALUES ($1, 'owner@example.com', 'Demo Owner', 'admin', 'person') ON CONFLICT DO NOTHING`,
			[]any{ownerID}},
		{"member", `INSERT INTO users (id, email, name, role, entity_type) VALUES ($1, 'member@example.com', 'Demo Member', 'member', 'person') ON CONFLICT DO NOTHING`,
			[]any{memberID}},
		{"bot user", `INSERT INTO users (id, email, name, role, entity_type) VALUES ($1, 'bot@example.com', 'Demo Agent', 'member', 'bot') ON CONFLICT DO NOTHING`,
			[]any{botID}},
		{"project", `INSERT INTO projects (id, workspace_id, name) VALUES ($1, $2, 'Demo Project') ON CONFLICT DO NOTHING`,
			[]any{projectID, workspaceID}},
		{"owner membership", `INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, 'owner') ON CONFLICT DO NOTHING`,
			[]any{workspaceID, ownerID}},
		{"member membership", `INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, 'member') ON CONFLICT DO NOTHING`,
			[]any{workspaceID, memberID}},
		{"bot membership", `INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, 'member') ON CONFLICT DO NOTHING`,
			[]any{workspaceID, botID}},
		{"ai participant", `INSERT INTO ai_participants (id, project_id, name, model, provider, max_domain_level, registered_by) VALUES ($1, $2, 'Demo Agent', 'demo-model', 'demo', 'voter', $3) ON CONFLICT DO NOTHING`,
			[]any{botID, projectID, ownerID}},
		{"governance config", `INSERT INTO governance_configs (project_id, review_required, auto_review_days, updated_by) VALUES ($1, TRUE, 30, $2) ON CONFLICT DO NOTHING`,
			[]any{projectID, ownerID}},
		{"proposal", `INSERT INTO proposals (id, title, proposal_type, status, author_id, author_type, content, domains, voting_rule, cycle_template) VALUES ($1, 'Adopt demo workflow', 'process', 'draft', $2, 'human', 'Adopt the demo governance workflow for this project.', '["process"]', 'simple_majority', 'standard') ON CONFLICT DO NOTHING`,
			[]any{proposalID, ownerID}},
	}

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, st := range statements {
			if _, err := tx.Exec(ctx, st.sql, st.args...); err != nil {
				logger.Error("seed step failed",
					slog.String("step", st.name),
					slog.String("error", err.Error()),
				)
				return err
			}
		}
		return nil
	})
	if err != nil {
		os.Exit(1)
	}

	logger.Info("demo data seeded",
		slog.String("project_id", projectID),
		slog.String("proposal_id", proposalID),
	)
}
