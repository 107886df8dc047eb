package veto

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/concord-backend/internal/domain"
)

func vetoReason() string {
	return strings.Repeat("the rollout plan has no migration path for existing data ", 3)
}

func vetoableProposal(id string, authorID uuid.UUID, status domain.ProposalStatus) domain.Proposal {
	return domain.Proposal{
		ID:            id,
		Title:         "test proposal",
		Type:          domain.ProposalTypeFeature,
		Status:        status,
		AuthorID:      authorID.String(),
		AuthorType:    domain.ParticipantHuman,
		Domains:       []string{"Backend"},
		VotingRule:    domain.VotingRuleSimpleMajority,
		CycleTemplate: domain.CycleTemplateStandard,
	}
}

func TestExercise_RequiresOpenOrVoting(t *testing.T) {
	t.Parallel()

	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusApproved)}
	svc := newTestService(testDeps{proposals: proposals})

	_, err := svc.Exercise(context.Background(), uuid.New(), domain.ParticipantHuman, "PROP-1", ExerciseInput{
		Reason: vetoReason(),
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, proposals.statuses)
}

func TestExercise_RequiresLongReason(t *testing.T) {
	t.Parallel()

	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVoting)}
	svc := newTestService(testDeps{proposals: proposals})

	_, err := svc.Exercise(context.Background(), uuid.New(), domain.ParticipantHuman, "PROP-1", ExerciseInput{
		Reason: "too short",
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestExercise_RequiresPermission(t *testing.T) {
	t.Parallel()

	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVoting)}
	svc := newTestService(testDeps{
		proposals:  proposals,
		permission: &permissionCheckerMock{canVeto: false},
	})

	_, err := svc.Exercise(context.Background(), uuid.New(), domain.ParticipantHuman, "PROP-1", ExerciseInput{
		Reason: vetoReason(),
	})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestExercise_RequiresGrantRow(t *testing.T) {
	t.Parallel()

	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVoting)}
	svc := newTestService(testDeps{
		proposals: proposals,
		vetoers:   &vetoerRepoMock{exists: false},
	})

	_, err := svc.Exercise(context.Background(), uuid.New(), domain.ParticipantHuman, "PROP-1", ExerciseInput{
		Reason: vetoReason(),
	})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestExercise_AIBlockedByHumanConsensus(t *testing.T) {
	t.Parallel()

	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVoting)}
	svc := newTestService(testDeps{
		proposals:  proposals,
		votes:      &voteRepoMock{consensus: true},
		permission: &permissionCheckerMock{canVeto: true, canOverride: false},
	})

	_, err := svc.Exercise(context.Background(), uuid.New(), domain.ParticipantAI, "PROP-1", ExerciseInput{
		Reason: vetoReason(),
	})
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, proposals.statuses)
}

func TestExercise_AIOverrideCapabilityBypassesConsensusBlock(t *testing.T) {
	t.Parallel()

	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVoting)}
	svc := newTestService(testDeps{
		proposals:  proposals,
		votes:      &voteRepoMock{consensus: true},
		permission: &permissionCheckerMock{canVeto: true, canOverride: true},
	})

	event, err := svc.Exercise(context.Background(), uuid.New(), domain.ParticipantAI, "PROP-1", ExerciseInput{
		Reason: vetoReason(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.VetoStatusActive, event.Status)
}

func TestExercise_BlocksProposalAndLinksDecision(t *testing.T) {
	t.Parallel()

	vetoerID := uuid.New()
	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVoting)}
	events := &vetoEventRepoMock{}
	decisions := &decisionRepoMock{}
	audit := &auditRepoMock{}
	webhooks := &webhookSinkMock{}
	svc := newTestService(testDeps{
		proposals: proposals,
		events:    events,
		decisions: decisions,
		audit:     audit,
		webhooks:  webhooks,
	})

	event, err := svc.Exercise(context.Background(), vetoerID, domain.ParticipantHuman, "PROP-1", ExerciseInput{
		Reason: "  " + vetoReason() + "  ",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.VetoStatusActive, event.Status)
	assert.Equal(t, vetoerID, event.VetoerID)
	assert.Equal(t, strings.TrimSpace("  "+vetoReason()+"  "), event.Reason)

	assert.Equal(t, []domain.ProposalStatus{domain.ProposalStatusVetoed}, proposals.statuses)

	require.Len(t, decisions.vetoed, 1)
	d := decisions.vetoed[0]
	assert.Equal(t, domain.DecisionVetoed, d.Result)
	require.NotNil(t, d.VetoEventID)
	assert.Equal(t, event.ID, *d.VetoEventID)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "veto.exercised", audit.entries[0].Action)
	require.Len(t, webhooks.events, 1)
	assert.Equal(t, "veto.exercised", webhooks.events[0].Type)
}

func TestExercise_DomainSelection(t *testing.T) {
	t.Parallel()

	requested := "  Security Review "
	tests := []struct {
		name      string
		requested *string
		want      string
	}{
		{"requested domain is normalized", &requested, "security_review"},
		{"defaults to the proposal's primary domain", nil, "backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			events := &vetoEventRepoMock{}
			proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusOpen)}
			svc := newTestService(testDeps{proposals: proposals, events: events})

			event, err := svc.Exercise(context.Background(), uuid.New(), domain.ParticipantHuman, "PROP-1", ExerciseInput{
				Domain: tt.requested,
				Reason: vetoReason(),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, event.Domain)
		})
	}
}
