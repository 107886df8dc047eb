// Package impactreview implements the impact review repositories (reviews,
// participants, AI learning records) using PostgreSQL. Review creation is
// idempotent via the unique constraint on proposal_id.
package impactreview

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Repo provides impact review persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new impact review repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const reviewColumns = `
id, proposal_id, project_id, status, rating, metrics, goal_achievements,
achievements, lessons, reviewer_id, is_auto_triggered, data_sources,
trust_score_applied, scheduled_at, conducted_at, created_at`

const createSQL = `
INSERT INTO impact_reviews
    (id, proposal_id, project_id, status, is_auto_triggered, scheduled_at, created_at)
VALUES ($1, $2, $3, 'pending', $4, $5, $6)
ON CONFLICT (proposal_id) DO NOTHING`

// Create schedules a review. Returns false when the proposal already has one
// (the schedule operation is idempotent).
func (r *Repo) Create(ctx context.Context, rev domain.ImpactReview) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := q.Exec(ctx, createSQL,
		rev.ID, rev.ProposalID, rev.ProjectID, rev.IsAutoTriggered, rev.ScheduledAt, rev.CreatedAt,
	)
	if err != nil {
		return false, postgres.MapError(err, "impact_review", rev.ProposalID)
	}
	return tag.RowsAffected() > 0, nil
}

const getByProposalForUpdateSQL = `
SELECT ` + reviewColumns + ` FROM impact_reviews WHERE proposal_id = $1 FOR UPDATE`

// GetByProposalForUpdate locks and returns the proposal's review. Must run
// inside a transaction.
func (r *Repo) GetByProposalForUpdate(ctx context.Context, proposalID string) (domain.ImpactReview, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	rev, err := scanReview(q.QueryRow(ctx, getByProposalForUpdateSQL, proposalID))
	if err != nil {
		return domain.ImpactReview{}, postgres.MapError(err, "impact_review", proposalID)
	}
	return rev, nil
}

const getByIDSQL = `SELECT ` + reviewColumns + ` FROM impact_reviews WHERE id = $1`

// GetByID returns a review by id.
func (r *Repo) GetByID(ctx context.Context, id string) (domain.ImpactReview, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	rev, err := scanReview(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return domain.ImpactReview{}, postgres.MapError(err, "impact_review", id)
	}
	return rev, nil
}

const getByProposalSQL = `SELECT ` + reviewColumns + ` FROM impact_reviews WHERE proposal_id = $1`

// GetByProposal returns the proposal's review without locking it.
func (r *Repo) GetByProposal(ctx context.Context, proposalID string) (domain.ImpactReview, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	rev, err := scanReview(q.QueryRow(ctx, getByProposalSQL, proposalID))
	if err != nil {
		return domain.ImpactReview{}, postgres.MapError(err, "impact_review", proposalID)
	}
	return rev, nil
}

const updateSQL = `
UPDATE impact_reviews
SET status = $2, rating = $3, metrics = $4, goal_achievements = $5, achievements = $6,
    lessons = $7, reviewer_id = $8, data_sources = $9, trust_score_applied = $10,
    scheduled_at = $11, conducted_at = $12
WHERE id = $1`

// Update persists the mutable review fields.
func (r *Repo) Update(ctx context.Context, rev domain.ImpactReview) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var rating *string
	if rev.Rating != nil {
		s := string(*rev.Rating)
		rating = &s
	}

	_, err := q.Exec(ctx, updateSQL,
		rev.ID, string(rev.Status), rating, nilIfEmpty(rev.Metrics),
		nilIfEmpty(rev.GoalAchievements), rev.Achievements, rev.Lessons, rev.ReviewerID,
		nilIfEmpty(rev.DataSources), rev.TrustScoreApplied, rev.ScheduledAt, rev.ConductedAt,
	)
	return postgres.MapError(err, "impact_review", rev.ID)
}

// Delete removes a review and (via cascade) its participants.
func (r *Repo) Delete(ctx context.Context, id string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	tag, err := q.Exec(ctx, `DELETE FROM impact_reviews WHERE id = $1`, id)
	if err != nil {
		return postgres.MapError(err, "impact_review", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("impact_review %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

const listDueSQL = `
SELECT ` + reviewColumns + `
FROM impact_reviews
WHERE status = 'pending' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
ORDER BY scheduled_at ASC
LIMIT $2`

// ListDue returns pending reviews whose scheduled time has passed.
func (r *Repo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ImpactReview, error) {
	if limit <= 0 {
		limit = 50
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listDueSQL, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due impact_reviews: %w", err)
	}
	defer rows.Close()

	var reviews []domain.ImpactReview
	for rows.Next() {
		rev, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan impact_review: %w", err)
		}
		reviews = append(reviews, rev)
	}
	return reviews, rows.Err()
}

// allIssuesDoneSQL returns MAX(updated_at) over the proposal's linked work
// items, but only when at least one link exists and none is unfinished.
const allIssuesDoneSQL = `
SELECT MAX(wi.updated_at) AS value
FROM proposal_issue_links pil
INNER JOIN work_items wi ON wi.id = pil.issue_id
WHERE pil.proposal_id = $1
GROUP BY pil.proposal_id
HAVING COUNT(*) > 0
   AND COUNT(*) FILTER (WHERE wi.state <> 'done') = 0`

// AllLinkedIssuesDoneAt returns the latest close time across the proposal's
// linked issues, or nil when any issue is still open (or none are linked).
func (r *Repo) AllLinkedIssuesDoneAt(ctx context.Context, proposalID string) (*time.Time, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var at time.Time
	err := q.QueryRow(ctx, allIssuesDoneSQL, proposalID).Scan(&at)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("linked issues done for %s: %w", proposalID, err)
	}
	return &at, nil
}

// Filter defines parameters for listing reviews.
type Filter struct {
	ProjectID *uuid.UUID
	Status    *domain.ReviewStatus
	Rating    *domain.ReviewRating

	// Page is 1-based; PerPage is clamped to [1, 100].
	Page    int
	PerPage int
}

func (f *Filter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = 20
	}
	if f.PerPage > 100 {
		f.PerPage = 100
	}
}

func (f *Filter) apply(builder sq.SelectBuilder) sq.SelectBuilder {
	if f.ProjectID != nil {
		builder = builder.Where(sq.Eq{"project_id": *f.ProjectID})
	}
	if f.Status != nil {
		builder = builder.Where(sq.Eq{"status": string(*f.Status)})
	}
	if f.Rating != nil {
		builder = builder.Where(sq.Eq{"rating": string(*f.Rating)})
	}
	return builder
}

// List returns a page of reviews plus the total match count, newest first.
func (r *Repo) List(ctx context.Context, filter Filter) ([]domain.ImpactReview, int, error) {
	filter.normalize()
	q := postgres.QuerierFromCtx(ctx, r.pool)

	countQuery, countArgs, err := filter.apply(
		sq.Select("COUNT(*)").From("impact_reviews").PlaceholderFormat(sq.Dollar),
	).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build impact_review count query: %w", err)
	}

	var total int
	if err := q.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count impact_reviews: %w", err)
	}

	query, args, err := filter.apply(
		sq.Select(
			"id", "proposal_id", "project_id", "status", "rating", "metrics",
			"goal_achievements", "achievements", "lessons", "reviewer_id",
			"is_auto_triggered", "data_sources", "trust_score_applied",
			"scheduled_at", "conducted_at", "created_at",
		).
			From("impact_reviews").
			OrderBy("created_at DESC").
			Limit(uint64(filter.PerPage)).
			Offset(uint64((filter.Page - 1) * filter.PerPage)).
			PlaceholderFormat(sq.Dollar),
	).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build impact_review list query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list impact_reviews: %w", err)
	}
	defer rows.Close()

	var reviews []domain.ImpactReview
	for rows.Next() {
		rev, err := scanReview(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan impact_review: %w", err)
		}
		reviews = append(reviews, rev)
	}
	return reviews, total, rows.Err()
}

// Summary aggregates a review's participant rows.
type Summary struct {
	ParticipantsCount      int
	FeedbackSubmittedCount int
	TrustDeltaTotal        int
	TrustDeltaAvg          float64
}

const summarizeSQL = `
SELECT
    COUNT(*) AS participants_count,
    COUNT(*) FILTER (WHERE feedback_submitted) AS feedback_submitted_count,
    COALESCE(SUM(trust_score_change), 0) AS trust_delta_total,
    COALESCE(AVG(COALESCE(trust_score_change, 0)), 0)::double precision AS trust_delta_avg
FROM review_participants
WHERE review_id = $1`

// Summarize returns participation and trust-delta aggregates for a review.
func (r *Repo) Summarize(ctx context.Context, reviewID string) (Summary, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var s Summary
	err := q.QueryRow(ctx, summarizeSQL, reviewID).Scan(
		&s.ParticipantsCount, &s.FeedbackSubmittedCount, &s.TrustDeltaTotal, &s.TrustDeltaAvg,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize review %s: %w", reviewID, err)
	}
	return s, nil
}

func scanReview(row pgx.Row) (domain.ImpactReview, error) {
	var rev domain.ImpactReview
	err := row.Scan(
		&rev.ID, &rev.ProposalID, &rev.ProjectID, &rev.Status, &rev.Rating,
		&rev.Metrics, &rev.GoalAchievements, &rev.Achievements, &rev.Lessons,
		&rev.ReviewerID, &rev.IsAutoTriggered, &rev.DataSources,
		&rev.TrustScoreApplied, &rev.ScheduledAt, &rev.ConductedAt, &rev.CreatedAt,
	)
	return rev, err
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// ---------------------------------------------------------------------------
// Participants
// ---------------------------------------------------------------------------

const upsertProposerSQL = `
INSERT INTO review_participants (review_id, user_id, role)
VALUES ($1, $2, 'proposer')
ON CONFLICT (review_id, user_id) DO NOTHING`

// UpsertProposer registers the proposal author. An existing row (the author
// may also be a voter) wins.
func (r *Repo) UpsertProposer(ctx context.Context, reviewID, userID string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx, upsertProposerSQL, reviewID, userID)
	return postgres.MapError(err, "review_participant", userID)
}

const upsertVoterSQL = `
INSERT INTO review_participants (review_id, user_id, role, vote_choice)
VALUES ($1, $2, $3, $4)
ON CONFLICT (review_id, user_id) DO UPDATE
SET role = EXCLUDED.role, vote_choice = EXCLUDED.vote_choice`

// UpsertVoter registers a voter, overwriting role and choice on re-run.
func (r *Repo) UpsertVoter(ctx context.Context, reviewID, userID, role string, choice domain.VoteChoice) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx, upsertVoterSQL, reviewID, userID, role, string(choice))
	return postgres.MapError(err, "review_participant", userID)
}

const upsertVetoerSQL = `
INSERT INTO review_participants (review_id, user_id, role, exercised_veto, veto_overturned)
VALUES ($1, $2, 'vetoer', TRUE, $3)
ON CONFLICT (review_id, user_id) DO UPDATE
SET role = 'vetoer', exercised_veto = TRUE, veto_overturned = EXCLUDED.veto_overturned`

// UpsertVetoer registers a vetoer along with whether the veto was overturned.
func (r *Repo) UpsertVetoer(ctx context.Context, reviewID, userID string, overturned bool) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx, upsertVetoerSQL, reviewID, userID, overturned)
	return postgres.MapError(err, "review_participant", userID)
}

const listParticipantsSQL = `
SELECT id, review_id, user_id, role, vote_choice, exercised_veto, veto_overturned,
       feedback_submitted, feedback_content, trust_score_change
FROM review_participants
WHERE review_id = $1
ORDER BY id ASC`

// ListParticipants returns the review's participants.
func (r *Repo) ListParticipants(ctx context.Context, reviewID string) ([]domain.ReviewParticipant, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listParticipantsSQL, reviewID)
	if err != nil {
		return nil, fmt.Errorf("list review_participants for %s: %w", reviewID, err)
	}
	defer rows.Close()

	var participants []domain.ReviewParticipant
	for rows.Next() {
		var p domain.ReviewParticipant
		if err := rows.Scan(
			&p.ID, &p.ReviewID, &p.UserID, &p.Role, &p.VoteChoice, &p.ExercisedVeto,
			&p.VetoOverturned, &p.FeedbackSubmitted, &p.FeedbackContent, &p.TrustScoreChange,
		); err != nil {
			return nil, fmt.Errorf("scan review_participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

const upsertParticipantSQL = `
INSERT INTO review_participants
    (review_id, user_id, role, vote_choice, exercised_veto, veto_overturned)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (review_id, user_id) DO UPDATE
SET role = EXCLUDED.role, vote_choice = EXCLUDED.vote_choice,
    exercised_veto = EXCLUDED.exercised_veto, veto_overturned = EXCLUDED.veto_overturned
RETURNING id, review_id, user_id, role, vote_choice, exercised_veto, veto_overturned,
          feedback_submitted, feedback_content, trust_score_change`

// UpsertParticipant inserts or fully replaces a manually managed participant.
func (r *Repo) UpsertParticipant(ctx context.Context, p domain.ReviewParticipant) (domain.ReviewParticipant, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var choice *string
	if p.VoteChoice != nil {
		s := string(*p.VoteChoice)
		choice = &s
	}

	err := q.QueryRow(ctx, upsertParticipantSQL,
		p.ReviewID, p.UserID, p.Role, choice, p.ExercisedVeto, p.VetoOverturned,
	).Scan(
		&p.ID, &p.ReviewID, &p.UserID, &p.Role, &p.VoteChoice, &p.ExercisedVeto,
		&p.VetoOverturned, &p.FeedbackSubmitted, &p.FeedbackContent, &p.TrustScoreChange,
	)
	if err != nil {
		return domain.ReviewParticipant{}, postgres.MapError(err, "review_participant", p.UserID)
	}
	return p, nil
}

const getParticipantSQL = `
SELECT id, review_id, user_id, role, vote_choice, exercised_veto, veto_overturned,
       feedback_submitted, feedback_content, trust_score_change
FROM review_participants
WHERE review_id = $1 AND user_id = $2`

// GetParticipant returns one participant row.
func (r *Repo) GetParticipant(ctx context.Context, reviewID, userID string) (domain.ReviewParticipant, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var p domain.ReviewParticipant
	err := q.QueryRow(ctx, getParticipantSQL, reviewID, userID).Scan(
		&p.ID, &p.ReviewID, &p.UserID, &p.Role, &p.VoteChoice, &p.ExercisedVeto,
		&p.VetoOverturned, &p.FeedbackSubmitted, &p.FeedbackContent, &p.TrustScoreChange,
	)
	if err != nil {
		return domain.ReviewParticipant{}, postgres.MapError(err, "review_participant", userID)
	}
	return p, nil
}

const updateParticipantSQL = `
UPDATE review_participants
SET role = $2, vote_choice = $3, exercised_veto = $4, veto_overturned = $5,
    feedback_submitted = $6, feedback_content = $7
WHERE id = $1`

// UpdateParticipant persists the mutable participant fields.
func (r *Repo) UpdateParticipant(ctx context.Context, p domain.ReviewParticipant) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var choice *string
	if p.VoteChoice != nil {
		s := string(*p.VoteChoice)
		choice = &s
	}

	_, err := q.Exec(ctx, updateParticipantSQL,
		p.ID, p.Role, choice, p.ExercisedVeto, p.VetoOverturned,
		p.FeedbackSubmitted, p.FeedbackContent,
	)
	return postgres.MapError(err, "review_participant", p.UserID)
}

// SetParticipantScoreChange records the delta applied to a participant.
func (r *Repo) SetParticipantScoreChange(ctx context.Context, participantID int64, change int) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	_, err := q.Exec(ctx,
		`UPDATE review_participants SET trust_score_change = $2 WHERE id = $1`,
		participantID, change,
	)
	return postgres.MapError(err, "review_participant", participantID)
}

// RemoveParticipant deletes a participant row from a review.
func (r *Repo) RemoveParticipant(ctx context.Context, reviewID, userID string) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	tag, err := q.Exec(ctx,
		`DELETE FROM review_participants WHERE review_id = $1 AND user_id = $2`,
		reviewID, userID,
	)
	if err != nil {
		return postgres.MapError(err, "review_participant", userID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("review_participant %s/%s: %w", reviewID, userID, domain.ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// AI learning records
// ---------------------------------------------------------------------------

// LearningCandidate is an AI participant of a review joined with their vote.
type LearningCandidate struct {
	AIParticipantID string
	VoteChoice      *domain.VoteChoice
	VoteReason      *string
}

const learningCandidatesSQL = `
SELECT rp.user_id AS ai_participant_id, rp.vote_choice, v.reason AS vote_reason
FROM review_participants rp
INNER JOIN ai_participants ap
        ON ap.id = rp.user_id AND ap.project_id = $1
LEFT JOIN votes v
       ON v.proposal_id = $2 AND v.voter_id = rp.user_id
WHERE rp.review_id = $3`

// ListLearningCandidates returns the review participants that are registered
// AI agents of the review's project, with their ballots when present.
func (r *Repo) ListLearningCandidates(ctx context.Context, projectID uuid.UUID, proposalID, reviewID string) ([]LearningCandidate, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, learningCandidatesSQL, projectID, proposalID, reviewID)
	if err != nil {
		return nil, fmt.Errorf("list learning candidates for %s: %w", reviewID, err)
	}
	defer rows.Close()

	var candidates []LearningCandidate
	for rows.Next() {
		var c LearningCandidate
		if err := rows.Scan(&c.AIParticipantID, &c.VoteChoice, &c.VoteReason); err != nil {
			return nil, fmt.Errorf("scan learning candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

const insertLearningRecordSQL = `
INSERT INTO ai_learning_records
    (ai_participant_id, review_id, proposal_id, domain, review_rating,
     ai_vote_choice, ai_vote_reason, outcome_alignment, follow_up_improvement, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// InsertLearningRecord appends one AI learning record.
func (r *Repo) InsertLearningRecord(ctx context.Context, rec domain.AILearningRecord) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var choice *string
	if rec.AIVoteChoice != nil {
		s := string(*rec.AIVoteChoice)
		choice = &s
	}

	_, err := q.Exec(ctx, insertLearningRecordSQL,
		rec.AIParticipantID, rec.ReviewID, rec.ProposalID, rec.Domain,
		string(rec.ReviewRating), choice, rec.AIVoteReason, string(rec.OutcomeAlignment),
		rec.FollowUpImprovement, rec.CreatedAt,
	)
	return postgres.MapError(err, "ai_learning_record", rec.AIParticipantID)
}
