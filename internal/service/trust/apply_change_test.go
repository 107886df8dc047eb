package trust

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/concord-backend/internal/adapter/postgres/trustscore"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

type scoreRepoMock struct {
	GetForUpdateFunc  func(ctx context.Context, key trustscore.Key) (domain.TrustScore, error)
	InsertDefaultFunc func(ctx context.Context, key trustscore.Key, userType domain.ParticipantType) error
	UpdateFunc        func(ctx context.Context, s domain.TrustScore) error
	FindLogFunc       func(ctx context.Context, key trustscore.Key, eventType domain.TrustEventType, eventID string) (domain.TrustScoreLog, error)
	InsertLogFunc     func(ctx context.Context, l domain.TrustScoreLog) (domain.TrustScoreLog, error)
	GetFunc           func(ctx context.Context, key trustscore.Key) (domain.TrustScore, error)
	UserScoresFunc    func(ctx context.Context, userID, projectID uuid.UUID) ([]domain.TrustScore, error)
	ListFunc          func(ctx context.Context, filter trustscore.ListFilter) ([]domain.TrustScore, error)
	HistoryFunc       func(ctx context.Context, userID, projectID uuid.UUID, limit, offset int) ([]domain.TrustScoreLog, error)

	updates []domain.TrustScore
	logs    []domain.TrustScoreLog
}

func (m *scoreRepoMock) GetForUpdate(ctx context.Context, key trustscore.Key) (domain.TrustScore, error) {
	return m.GetForUpdateFunc(ctx, key)
}

func (m *scoreRepoMock) InsertDefault(ctx context.Context, key trustscore.Key, userType domain.ParticipantType) error {
	if m.InsertDefaultFunc == nil {
		return nil
	}
	return m.InsertDefaultFunc(ctx, key, userType)
}

func (m *scoreRepoMock) Update(ctx context.Context, s domain.TrustScore) error {
	m.updates = append(m.updates, s)
	if m.UpdateFunc == nil {
		return nil
	}
	return m.UpdateFunc(ctx, s)
}

func (m *scoreRepoMock) FindLog(ctx context.Context, key trustscore.Key, eventType domain.TrustEventType, eventID string) (domain.TrustScoreLog, error) {
	return m.FindLogFunc(ctx, key, eventType, eventID)
}

func (m *scoreRepoMock) InsertLog(ctx context.Context, l domain.TrustScoreLog) (domain.TrustScoreLog, error) {
	m.logs = append(m.logs, l)
	if m.InsertLogFunc == nil {
		return l, nil
	}
	return m.InsertLogFunc(ctx, l)
}

func (m *scoreRepoMock) Get(ctx context.Context, key trustscore.Key) (domain.TrustScore, error) {
	return m.GetFunc(ctx, key)
}

func (m *scoreRepoMock) UserScores(ctx context.Context, userID, projectID uuid.UUID) ([]domain.TrustScore, error) {
	return m.UserScoresFunc(ctx, userID, projectID)
}

func (m *scoreRepoMock) List(ctx context.Context, filter trustscore.ListFilter) ([]domain.TrustScore, error) {
	return m.ListFunc(ctx, filter)
}

func (m *scoreRepoMock) History(ctx context.Context, userID, projectID uuid.UUID, limit, offset int) ([]domain.TrustScoreLog, error) {
	return m.HistoryFunc(ctx, userID, projectID, limit, offset)
}

type vetoerRepoMock struct {
	granted []string
	revoked []string
}

func (m *vetoerRepoMock) EnsureTrustGranted(ctx context.Context, userID, projectID uuid.UUID, dom string) error {
	m.granted = append(m.granted, dom)
	return nil
}

func (m *vetoerRepoMock) RevokeTrustGranted(ctx context.Context, userID, projectID uuid.UUID, dom string) error {
	m.revoked = append(m.revoked, dom)
	return nil
}

type auditRepoMock struct {
	entries []domain.AuditLogEntry
}

func (m *auditRepoMock) Log(ctx context.Context, entry domain.AuditLogEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

type txManagerMock struct {
	RunInTxFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *txManagerMock) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.RunInTxFunc == nil {
		return fn(ctx)
	}
	return m.RunInTxFunc(ctx, fn)
}

func newTestService(scores *scoreRepoMock, vetoers *vetoerRepoMock, audit *auditRepoMock) *Service {
	return NewService(slog.Default(), scores, vetoers, audit, &txManagerMock{})
}

func notFoundLog(ctx context.Context, key trustscore.Key, eventType domain.TrustEventType, eventID string) (domain.TrustScoreLog, error) {
	return domain.TrustScoreLog{}, domain.ErrNotFound
}

func existingScore(score int) func(ctx context.Context, key trustscore.Key) (domain.TrustScore, error) {
	return func(ctx context.Context, key trustscore.Key) (domain.TrustScore, error) {
		return domain.TrustScore{
			UserID:     key.UserID,
			ProjectID:  key.ProjectID,
			Domain:     key.Domain,
			Score:      score,
			Level:      domain.LevelForScore(score),
			VoteWeight: domain.WeightForScore(score),
		}, nil
	}
}

func testInput(delta int, eventType domain.TrustEventType) ChangeInput {
	return ChangeInput{
		UserID:    uuid.New(),
		UserType:  domain.ParticipantHuman,
		ProjectID: uuid.New(),
		Domain:    "backend",
		Delta:     delta,
		EventType: eventType,
		EventID:   "PROP-1",
		Reason:    "test event",
	}
}

func TestApplyChange_Idempotent(t *testing.T) {
	t.Parallel()

	scores := &scoreRepoMock{
		FindLogFunc: func(ctx context.Context, key trustscore.Key, eventType domain.TrustEventType, eventID string) (domain.TrustScoreLog, error) {
			return domain.TrustScoreLog{ID: 1, EventID: eventID}, nil
		},
	}
	vetoers := &vetoerRepoMock{}
	audit := &auditRepoMock{}
	svc := newTestService(scores, vetoers, audit)

	err := svc.ApplyChange(context.Background(), testInput(5, domain.EventProposalApproved))

	require.NoError(t, err)
	assert.Empty(t, scores.updates, "already-applied event must not touch the score")
	assert.Empty(t, scores.logs)
	assert.Empty(t, audit.entries)
}

func TestApplyChange_AppliesDelta(t *testing.T) {
	t.Parallel()

	scores := &scoreRepoMock{
		FindLogFunc:      notFoundLog,
		GetForUpdateFunc: existingScore(100),
	}
	vetoers := &vetoerRepoMock{}
	audit := &auditRepoMock{}
	svc := newTestService(scores, vetoers, audit)

	err := svc.ApplyChange(context.Background(), testInput(5, domain.EventProposalApproved))

	require.NoError(t, err)
	require.Len(t, scores.updates, 1)
	updated := scores.updates[0]
	assert.Equal(t, 105, updated.Score)
	assert.Equal(t, domain.LevelVoter, updated.Level)
	assert.InDelta(t, 1.025, updated.VoteWeight, 1e-9)
	assert.Equal(t, 0, updated.ConsecutiveRejections)

	require.Len(t, scores.logs, 1)
	entry := scores.logs[0]
	assert.Equal(t, 100, entry.OldScore)
	assert.Equal(t, 105, entry.NewScore)
	assert.Equal(t, 5, entry.ScoreChange)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "trust_score.changed", audit.entries[0].Action)

	// Voter level keeps no trust-granted veto rights.
	assert.Empty(t, vetoers.granted)
	assert.Equal(t, []string{"backend"}, vetoers.revoked)
}

func TestApplyChange_FloorsAtZero(t *testing.T) {
	t.Parallel()

	scores := &scoreRepoMock{
		FindLogFunc:      notFoundLog,
		GetForUpdateFunc: existingScore(2),
	}
	svc := newTestService(scores, &vetoerRepoMock{}, &auditRepoMock{})

	err := svc.ApplyChange(context.Background(), testInput(-10, domain.EventInactivityPenalty))

	require.NoError(t, err)
	require.Len(t, scores.updates, 1)
	assert.Equal(t, 0, scores.updates[0].Score)
	assert.Equal(t, domain.LevelObserver, scores.updates[0].Level)
}

func TestApplyChange_CooldownAfterRepeatedRejections(t *testing.T) {
	t.Parallel()

	scores := &scoreRepoMock{
		FindLogFunc: notFoundLog,
		GetForUpdateFunc: func(ctx context.Context, key trustscore.Key) (domain.TrustScore, error) {
			return domain.TrustScore{
				Score: 100, Level: domain.LevelVoter,
				ConsecutiveRejections: 2,
			}, nil
		},
	}
	svc := newTestService(scores, &vetoerRepoMock{}, &auditRepoMock{})

	err := svc.ApplyChange(context.Background(), testInput(-5, domain.EventProposalRejected))

	require.NoError(t, err)
	require.Len(t, scores.updates, 1)
	updated := scores.updates[0]
	assert.Equal(t, 3, updated.ConsecutiveRejections)
	require.NotNil(t, updated.CooldownUntil)
}

func TestApplyChange_ApprovalResetsRejectionStreak(t *testing.T) {
	t.Parallel()

	scores := &scoreRepoMock{
		FindLogFunc: notFoundLog,
		GetForUpdateFunc: func(ctx context.Context, key trustscore.Key) (domain.TrustScore, error) {
			return domain.TrustScore{Score: 80, Level: domain.LevelAdvisor, ConsecutiveRejections: 2}, nil
		},
	}
	svc := newTestService(scores, &vetoerRepoMock{}, &auditRepoMock{})

	err := svc.ApplyChange(context.Background(), testInput(10, domain.EventProposalApproved))

	require.NoError(t, err)
	require.Len(t, scores.updates, 1)
	assert.Equal(t, 0, scores.updates[0].ConsecutiveRejections)
	assert.Nil(t, scores.updates[0].CooldownUntil)
}

func TestApplyChange_GrantsVetoerRightsAtLevel(t *testing.T) {
	t.Parallel()

	scores := &scoreRepoMock{
		FindLogFunc:      notFoundLog,
		GetForUpdateFunc: existingScore(190),
	}
	vetoers := &vetoerRepoMock{}
	svc := newTestService(scores, vetoers, &auditRepoMock{})

	err := svc.ApplyChange(context.Background(), testInput(20, domain.EventProposalApproved))

	require.NoError(t, err)
	assert.Equal(t, []string{"backend"}, vetoers.granted)
	assert.Empty(t, vetoers.revoked)
}

func TestApplyChange_CreatesDefaultRowForNewUser(t *testing.T) {
	t.Parallel()

	created := false
	scores := &scoreRepoMock{
		FindLogFunc: notFoundLog,
		GetForUpdateFunc: func(ctx context.Context, key trustscore.Key) (domain.TrustScore, error) {
			if !created {
				return domain.TrustScore{}, domain.ErrNotFound
			}
			return domain.TrustScore{
				Score: domain.InitialTrustScore, Level: domain.LevelVoter,
				VoteWeight: domain.InitialTrustWeight,
			}, nil
		},
		InsertDefaultFunc: func(ctx context.Context, key trustscore.Key, userType domain.ParticipantType) error {
			created = true
			return nil
		},
	}
	svc := newTestService(scores, &vetoerRepoMock{}, &auditRepoMock{})

	err := svc.ApplyChange(context.Background(), testInput(3, domain.EventImpactReviewCompleted))

	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, scores.updates, 1)
	assert.Equal(t, 103, scores.updates[0].Score)
}

func TestApplyChange_ConcurrentLedgerInsertIsNoop(t *testing.T) {
	t.Parallel()

	scores := &scoreRepoMock{
		FindLogFunc:      notFoundLog,
		GetForUpdateFunc: existingScore(100),
		InsertLogFunc: func(ctx context.Context, l domain.TrustScoreLog) (domain.TrustScoreLog, error) {
			return domain.TrustScoreLog{}, domain.ErrAlreadyExists
		},
	}
	audit := &auditRepoMock{}
	svc := newTestService(scores, &vetoerRepoMock{}, audit)

	err := svc.ApplyChange(context.Background(), testInput(5, domain.EventProposalApproved))

	require.NoError(t, err)
	assert.Empty(t, audit.entries, "losing the insert race must not audit")
}
