package governance

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/audit"
	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

type configRepoMock struct {
	GetFunc    func(ctx context.Context, projectID uuid.UUID) (domain.GovernanceConfig, error)
	UpsertFunc func(ctx context.Context, cfg domain.GovernanceConfig) (domain.GovernanceConfig, error)

	upserts []domain.GovernanceConfig
}

func (m *configRepoMock) Get(ctx context.Context, projectID uuid.UUID) (domain.GovernanceConfig, error) {
	if m.GetFunc == nil {
		return domain.DefaultGovernanceConfig(projectID), nil
	}
	return m.GetFunc(ctx, projectID)
}

func (m *configRepoMock) Upsert(ctx context.Context, cfg domain.GovernanceConfig) (domain.GovernanceConfig, error) {
	m.upserts = append(m.upserts, cfg)
	if m.UpsertFunc == nil {
		return cfg, nil
	}
	return m.UpsertFunc(ctx, cfg)
}

type auditRepoMock struct {
	ListFunc func(ctx context.Context, filter auditrepo.Filter) ([]domain.AuditLogEntry, int, error)

	entries []domain.AuditLogEntry
}

func (m *auditRepoMock) Log(ctx context.Context, entry domain.AuditLogEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *auditRepoMock) List(ctx context.Context, filter auditrepo.Filter) ([]domain.AuditLogEntry, int, error) {
	if m.ListFunc == nil {
		return nil, 0, nil
	}
	return m.ListFunc(ctx, filter)
}

type membershipRepoMock struct {
	member       bool
	projectAdmin bool
	systemAdmin  bool
}

func (m *membershipRepoMock) IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	return m.member, nil
}

func (m *membershipRepoMock) IsProjectAdminOrOwner(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	return m.projectAdmin, nil
}

func (m *membershipRepoMock) IsSystemAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	return m.systemAdmin, nil
}

type webhookSinkMock struct {
	events []webhook.Event
}

func (m *webhookSinkMock) DispatchAsync(event webhook.Event) {
	m.events = append(m.events, event)
}

type txManagerMock struct{}

func (m *txManagerMock) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService(config *configRepoMock, audit *auditRepoMock, membership *membershipRepoMock, sink *webhookSinkMock) *Service {
	return NewService(slog.Default(), config, audit, membership, sink, &txManagerMock{})
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestConfig_RequiresMembership(t *testing.T) {
	t.Parallel()

	svc := newTestService(&configRepoMock{}, &auditRepoMock{}, &membershipRepoMock{}, &webhookSinkMock{})

	_, err := svc.Config(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestConfig_SystemAdminBypassesMembership(t *testing.T) {
	t.Parallel()

	membership := &membershipRepoMock{systemAdmin: true}
	svc := newTestService(&configRepoMock{}, &auditRepoMock{}, membership, &webhookSinkMock{})

	cfg, err := svc.Config(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.True(t, cfg.ReviewRequired)
	assert.Equal(t, domain.DefaultAutoReviewDays, cfg.AutoReviewDays)
}

func TestUpdateConfig_RequiresAdmin(t *testing.T) {
	t.Parallel()

	membership := &membershipRepoMock{member: true}
	svc := newTestService(&configRepoMock{}, &auditRepoMock{}, membership, &webhookSinkMock{})

	_, err := svc.UpdateConfig(context.Background(), uuid.New(), uuid.New(), UpdateConfigInput{})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUpdateConfig_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input UpdateConfigInput
	}{
		{"negative auto review days", UpdateConfigInput{AutoReviewDays: intPtr(-1)}},
		{"negative reminder days", UpdateConfigInput{ReviewReminderDays: intPtr(-5)}},
		{"empty trust update mode", UpdateConfigInput{TrustUpdateMode: strPtr("   ")}},
		{"overlong trust update mode", UpdateConfigInput{TrustUpdateMode: strPtr(strings.Repeat("x", 31))}},
		{"empty cron", UpdateConfigInput{AuditReportCron: strPtr("")}},
		{"overlong cron", UpdateConfigInput{AuditReportCron: strPtr(strings.Repeat("x", 101))}},
		{"config not an object", UpdateConfigInput{Config: []byte(`[1,2,3]`)}},
		{"config malformed", UpdateConfigInput{Config: []byte(`{`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			membership := &membershipRepoMock{projectAdmin: true}
			config := &configRepoMock{}
			svc := newTestService(config, &auditRepoMock{}, membership, &webhookSinkMock{})

			_, err := svc.UpdateConfig(context.Background(), uuid.New(), uuid.New(), tt.input)
			require.ErrorIs(t, err, domain.ErrValidation)
			assert.Empty(t, config.upserts, "invalid patch must not reach the store")
		})
	}
}

func TestUpdateConfig_MergesPatchOverCurrent(t *testing.T) {
	t.Parallel()

	projectID := uuid.New()
	actorID := uuid.New()

	membership := &membershipRepoMock{projectAdmin: true}
	config := &configRepoMock{}
	audit := &auditRepoMock{}
	sink := &webhookSinkMock{}
	svc := newTestService(config, audit, membership, sink)

	updated, err := svc.UpdateConfig(context.Background(), actorID, projectID, UpdateConfigInput{
		ReviewRequired:  boolPtr(false),
		AutoReviewDays:  intPtr(14),
		TrustUpdateMode: strPtr("  manual  "),
	})

	require.NoError(t, err)
	assert.False(t, updated.ReviewRequired)
	assert.Equal(t, 14, updated.AutoReviewDays)
	assert.Equal(t, "manual", updated.TrustUpdateMode, "mode is stored trimmed")
	assert.Equal(t, domain.DefaultReviewReminderDays, updated.ReviewReminderDays, "untouched field keeps its value")
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, actorID, *updated.UpdatedBy)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "governance.config.updated", audit.entries[0].Action)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "governance_config.updated", sink.events[0].Type)
}

func TestAuditLogs_GlobalNeedsSystemAdmin(t *testing.T) {
	t.Parallel()

	membership := &membershipRepoMock{member: true}
	svc := newTestService(&configRepoMock{}, &auditRepoMock{}, membership, &webhookSinkMock{})

	_, _, err := svc.AuditLogs(context.Background(), uuid.New(), auditrepo.Filter{})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAuditLogs_ProjectScopedNeedsMembership(t *testing.T) {
	t.Parallel()

	projectID := uuid.New()
	audit := &auditRepoMock{
		ListFunc: func(ctx context.Context, filter auditrepo.Filter) ([]domain.AuditLogEntry, int, error) {
			return []domain.AuditLogEntry{{Action: "proposal.created"}}, 1, nil
		},
	}

	denied := newTestService(&configRepoMock{}, audit, &membershipRepoMock{}, &webhookSinkMock{})
	_, _, err := denied.AuditLogs(context.Background(), uuid.New(), auditrepo.Filter{ProjectID: &projectID})
	require.ErrorIs(t, err, domain.ErrForbidden)

	allowed := newTestService(&configRepoMock{}, audit, &membershipRepoMock{member: true}, &webhookSinkMock{})
	entries, total, err := allowed.AuditLogs(context.Background(), uuid.New(), auditrepo.Filter{ProjectID: &projectID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
}
