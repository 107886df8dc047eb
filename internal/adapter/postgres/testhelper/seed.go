package testhelper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/concord-backend/internal/domain"
)

// uniqueSuffix returns a short unique string for generating non-conflicting test data.
func uniqueSuffix() string {
	return uuid.New().String()[:8]
}

// SeedUser creates an active user. Workspace enrollment is left to the caller
// (see SeedProject / AddMember).
func SeedUser(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	id := uuid.New()
	suffix := uniqueSuffix()
	_, err := pool.Exec(ctx,
		`INSERT INTO users (id, email, name, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())`,
		id, "user-"+suffix+"@example.com", "Test User "+suffix,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedUser: %v", err)
	}
	return id
}

// SeedBotUser creates a user row with entity_type 'bot' for AI participants.
func SeedBotUser(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	id := uuid.New()
	suffix := uniqueSuffix()
	_, err := pool.Exec(ctx,
		`INSERT INTO users (id, email, name, entity_type, created_at, updated_at)
		 VALUES ($1, $2, $3, 'bot', now(), now())`,
		id, "bot-"+suffix+"@example.com", "Test Bot "+suffix,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedBotUser: %v", err)
	}
	return id
}

// SeedProject creates a workspace plus a project inside it and enrolls owner
// with the 'owner' workspace role. Returns the project id.
func SeedProject(t *testing.T, pool *pgxpool.Pool, owner uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	suffix := uniqueSuffix()
	wsID := uuid.New()
	projectID := uuid.New()

	_, err := pool.Exec(ctx,
		`INSERT INTO workspaces (id, name) VALUES ($1, $2)`,
		wsID, "ws-"+suffix,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedProject insert workspace: %v", err)
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, 'owner')`,
		wsID, owner,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedProject insert owner member: %v", err)
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO projects (id, workspace_id, name) VALUES ($1, $2, $3)`,
		projectID, wsID, "project-"+suffix,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedProject insert project: %v", err)
	}
	return projectID
}

// AddMember enrolls user into the project's workspace with the given role.
func AddMember(t *testing.T, pool *pgxpool.Pool, projectID, user uuid.UUID, role string) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role)
		 SELECT p.workspace_id, $2, $3 FROM projects p WHERE p.id = $1`,
		projectID, user, role,
	)
	if err != nil {
		t.Fatalf("testhelper: AddMember: %v", err)
	}
}

// SeedProposal inserts a proposal with the given status and returns it.
func SeedProposal(t *testing.T, pool *pgxpool.Pool, author uuid.UUID, status domain.ProposalStatus) domain.Proposal {
	t.Helper()
	ctx := context.Background()

	suffix := uniqueSuffix()
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := domain.Proposal{
		ID:            "PROP-" + suffix,
		Title:         "Test proposal " + suffix,
		Type:          domain.ProposalTypeFeature,
		Status:        status,
		AuthorID:      author.String(),
		AuthorType:    domain.ParticipantHuman,
		Content:       "Test proposal content long enough to pass the length validation rules.",
		Domains:       []string{"engineering"},
		VotingRule:    domain.VotingRuleSimpleMajority,
		CycleTemplate: domain.CycleTemplateStandard,
		CreatedAt:     now,
	}

	domains, err := json.Marshal(p.Domains)
	if err != nil {
		t.Fatalf("testhelper: SeedProposal marshal domains: %v", err)
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO proposals (id, title, proposal_type, status, author_id, author_type,
		                        content, domains, voting_rule, cycle_template, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Title, string(p.Type), string(p.Status), p.AuthorID, string(p.AuthorType),
		p.Content, domains, string(p.VotingRule), string(p.CycleTemplate), p.CreatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedProposal: %v", err)
	}
	return p
}

// SeedTrustScore inserts a trust score row with derived level and weight.
func SeedTrustScore(t *testing.T, pool *pgxpool.Pool, user, project uuid.UUID, dom string, score int) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx,
		`INSERT INTO trust_scores (user_id, project_id, domain, score, level, vote_weight, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		user, project, dom, score, string(domain.LevelForScore(score)), domain.WeightForScore(score),
	)
	if err != nil {
		t.Fatalf("testhelper: SeedTrustScore: %v", err)
	}
}

// SeedVetoer inserts a vetoer grant row.
func SeedVetoer(t *testing.T, pool *pgxpool.Pool, user, project uuid.UUID, dom string, source domain.GrantSource) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx,
		`INSERT INTO vetoers (user_id, project_id, domain, granted_by, granted_at)
		 VALUES ($1, $2, $3, $4, now())`,
		user, project, dom, string(source),
	)
	if err != nil {
		t.Fatalf("testhelper: SeedVetoer: %v", err)
	}
}
