// Package aitask implements the AI task queue using PostgreSQL. Enqueue is
// idempotent on idempotency_key, so re-running the watcher never duplicates
// notifications.
package aitask

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Retry backoff for failed tasks: attempts * 30s, capped at 10 minutes.
const (
	retryStep = 30 * time.Second
	retryCap  = 10 * time.Minute
)

// Repo provides AI task queue persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new AI task repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const enqueueSQL = `
INSERT INTO ai_tasks
    (id, project_id, ai_participant_id, task_type, reference_type, reference_id,
     status, priority, payload, idempotency_key, max_attempts, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, COALESCE($8, '{}'::jsonb), $9, $10, $11, $11)
ON CONFLICT (idempotency_key) DO NOTHING`

const insertEventSQL = `
INSERT INTO ai_task_events (id, task_id, event_type, payload, created_at)
VALUES ($1, $2, 'created', COALESCE($3, '{}'::jsonb), $4)`

// Enqueue inserts a task unless its idempotency key already exists. Returns
// true when a new task was created; a "created" event accompanies it.
func (r *Repo) Enqueue(ctx context.Context, t domain.AITask) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = 3
	}

	tag, err := q.Exec(ctx, enqueueSQL,
		t.ID, t.ProjectID, t.AIParticipantID, t.TaskType, t.ReferenceType, t.ReferenceID,
		t.Priority, nilIfEmpty(t.Payload), t.IdempotencyKey, t.MaxAttempts, t.CreatedAt,
	)
	if err != nil {
		return false, postgres.MapError(err, "ai_task", t.TaskType)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = q.Exec(ctx, insertEventSQL, uuid.New(), t.ID, nilIfEmpty(t.Payload), now)
	if err != nil {
		return false, postgres.MapError(err, "ai_task_event", t.ID)
	}
	return true, nil
}

// Bot is an active AI agent eligible for task fan-out: the registry row
// joined to its bot user account.
type Bot struct {
	ParticipantID uuid.UUID
	Name          string
}

// Active agents whose user account is a live bot. ai_participants.id stores
// the user's uuid as text.
const listBotsSQL = `
SELECT u.id, ap.name
FROM ai_participants ap
INNER JOIN users u ON u.id::text = ap.id
WHERE ap.project_id = $1 AND ap.is_active AND u.is_active AND u.entity_type = 'bot'`

// ListActiveBots returns the project's agents that can receive tasks.
func (r *Repo) ListActiveBots(ctx context.Context, projectID uuid.UUID) ([]Bot, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listBotsSQL, projectID)
	if err != nil {
		return nil, fmt.Errorf("list active bots for %s: %w", projectID, err)
	}
	defer rows.Close()

	var bots []Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.ParticipantID, &b.Name); err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// QueueVoteRequested enqueues one vote_requested task per active bot in the
// project. Returns the number of tasks actually created.
func (r *Repo) QueueVoteRequested(ctx context.Context, projectID uuid.UUID, proposalID, title string) (int, error) {
	bots, err := r.ListActiveBots(ctx, projectID)
	if err != nil {
		return 0, err
	}

	refType := "proposal"
	created := 0
	for _, bot := range bots {
		key := fmt.Sprintf("vote_requested:%s:%s:%s", projectID, proposalID, bot.ParticipantID)
		payload, err := json.Marshal(map[string]string{
			"proposal_id": proposalID,
			"title":       title,
		})
		if err != nil {
			return created, fmt.Errorf("marshal vote_requested payload: %w", err)
		}

		ok, err := r.Enqueue(ctx, domain.AITask{
			ProjectID:       projectID,
			AIParticipantID: bot.ParticipantID,
			TaskType:        "vote_requested",
			ReferenceType:   &refType,
			Priority:        5,
			Payload:         payload,
			IdempotencyKey:  &key,
			MaxAttempts:     3,
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

const markFailedSQL = `
UPDATE ai_tasks
SET status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
    attempts = attempts + 1,
    error_message = $2,
    next_retry_at = $3,
    updated_at = now()
WHERE id = $1`

// MarkFailed records a delivery failure and schedules the retry.
func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, message string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	backoff := time.Duration(attempts+1) * retryStep
	if backoff > retryCap {
		backoff = retryCap
	}
	retryAt := time.Now().UTC().Add(backoff)

	_, err := q.Exec(ctx, markFailedSQL, id, message, retryAt)
	return postgres.MapError(err, "ai_task", id)
}

const purgeFinishedSQL = `
DELETE FROM ai_tasks
WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < $1`

// PurgeFinished removes terminal tasks last touched before the threshold.
// Task events go with them via ON DELETE CASCADE.
func (r *Repo) PurgeFinished(ctx context.Context, threshold time.Time) (int64, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, purgeFinishedSQL, threshold)
	if err != nil {
		return 0, postgres.MapError(err, "ai_task", "purge")
	}
	return tag.RowsAffected(), nil
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
