package veto

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/concord-backend/internal/domain"
)

func activeVeto(proposalID string, vetoerID uuid.UUID) domain.VetoEvent {
	return domain.VetoEvent{
		ID:         1,
		ProposalID: proposalID,
		VetoerID:   vetoerID,
		Domain:     "backend",
		Reason:     vetoReason(),
		Status:     domain.VetoStatusActive,
		CreatedAt:  time.Now().UTC(),
	}
}

func escalatedVeto(proposalID string, vetoerID uuid.UUID) domain.VetoEvent {
	v := activeVeto(proposalID, vetoerID)
	started := time.Now().UTC().Add(-time.Hour)
	v.EscalationStartedAt = &started
	v.EscalationVotes = domain.NewEscalationVotes()
	return v
}

func latestEvents(v domain.VetoEvent) *vetoEventRepoMock {
	return &vetoEventRepoMock{
		LatestFunc: func(ctx context.Context, proposalID string) (domain.VetoEvent, error) {
			return v, nil
		},
	}
}

func TestStartEscalation_AuthorOnly(t *testing.T) {
	t.Parallel()

	author := uuid.New()
	events := latestEvents(activeVeto("PROP-1", uuid.New()))
	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", author, domain.ProposalStatusVetoed)}
	svc := newTestService(testDeps{events: events, proposals: proposals})

	_, err := svc.StartEscalation(context.Background(), uuid.New(), "PROP-1")
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, events.updated)
}

func TestStartEscalation_ActiveVetoOnly(t *testing.T) {
	t.Parallel()

	author := uuid.New()
	v := activeVeto("PROP-1", uuid.New())
	v.Status = domain.VetoStatusWithdrawn
	events := latestEvents(v)
	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", author, domain.ProposalStatusOpen)}
	svc := newTestService(testDeps{events: events, proposals: proposals})

	_, err := svc.StartEscalation(context.Background(), author, "PROP-1")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestStartEscalation_RejectsSecondStart(t *testing.T) {
	t.Parallel()

	author := uuid.New()
	v := escalatedVeto("PROP-1", uuid.New())
	events := latestEvents(v)
	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", author, domain.ProposalStatusVetoed)}
	svc := newTestService(testDeps{events: events, proposals: proposals})

	_, err := svc.StartEscalation(context.Background(), author, "PROP-1")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestStartEscalation_WindowExpired(t *testing.T) {
	t.Parallel()

	author := uuid.New()
	v := activeVeto("PROP-1", uuid.New())
	v.CreatedAt = time.Now().UTC().Add(-49 * time.Hour)
	events := latestEvents(v)
	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", author, domain.ProposalStatusVetoed)}
	svc := newTestService(testDeps{events: events, proposals: proposals})

	_, err := svc.StartEscalation(context.Background(), author, "PROP-1")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestStartEscalation_StampsWindowAndBallots(t *testing.T) {
	t.Parallel()

	author := uuid.New()
	events := latestEvents(activeVeto("PROP-1", uuid.New()))
	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", author, domain.ProposalStatusVetoed)}
	audit := &auditRepoMock{}
	svc := newTestService(testDeps{events: events, proposals: proposals, audit: audit})

	event, err := svc.StartEscalation(context.Background(), author, "PROP-1")
	require.NoError(t, err)

	require.NotNil(t, event.EscalationStartedAt)
	require.NotNil(t, event.EscalationVotes)
	require.Len(t, events.updated, 1)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "veto.escalation_started", audit.entries[0].Action)
}

func TestCastEscalationVote_ResolvedVetoRejectsBallot(t *testing.T) {
	t.Parallel()

	overturner := uuid.New()
	upholderA := uuid.New()
	upholderB := uuid.New()

	// Upheld is terminal: the window may still be open, but a re-vote must
	// not flip the verdict and release the proposal.
	v := escalatedVeto("PROP-1", uuid.New())
	v.Status = domain.VetoStatusUpheld
	result := string(domain.VetoStatusUpheld)
	v.EscalationResult = &result
	v.EscalationVotes.Record(overturner.String(), true)
	v.EscalationVotes.Record(upholderA.String(), false)
	v.EscalationVotes.Record(upholderB.String(), false)

	events := latestEvents(v)
	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVetoed)}
	svc := newTestService(testDeps{
		events:    events,
		proposals: proposals,
		vetoers:   &vetoerRepoMock{exists: true, count: 3},
	})

	_, err := svc.CastEscalationVote(context.Background(), upholderA, "PROP-1", true)
	require.ErrorIs(t, err, domain.ErrConflict)

	assert.Empty(t, events.updated, "resolved veto must not be rewritten")
	assert.Empty(t, proposals.statuses, "resolved veto must not release the proposal")
}

func TestCastEscalationVote_RequiresEscalationStarted(t *testing.T) {
	t.Parallel()

	events := latestEvents(activeVeto("PROP-1", uuid.New()))
	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVetoed)}
	svc := newTestService(testDeps{events: events, proposals: proposals})

	_, err := svc.CastEscalationVote(context.Background(), uuid.New(), "PROP-1", true)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCastEscalationVote_WindowExpired(t *testing.T) {
	t.Parallel()

	v := activeVeto("PROP-1", uuid.New())
	started := time.Now().UTC().Add(-49 * time.Hour)
	v.EscalationStartedAt = &started
	v.EscalationVotes = domain.NewEscalationVotes()

	events := latestEvents(v)
	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVetoed)}
	svc := newTestService(testDeps{events: events, proposals: proposals})

	_, err := svc.CastEscalationVote(context.Background(), uuid.New(), "PROP-1", true)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCastEscalationVote_VetoerOnly(t *testing.T) {
	t.Parallel()

	events := latestEvents(escalatedVeto("PROP-1", uuid.New()))
	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVetoed)}
	svc := newTestService(testDeps{
		events:    events,
		proposals: proposals,
		vetoers:   &vetoerRepoMock{exists: false, count: 3},
	})

	_, err := svc.CastEscalationVote(context.Background(), uuid.New(), "PROP-1", true)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCastEscalationVote_ThresholdOverturnsAndResumesVoting(t *testing.T) {
	t.Parallel()

	// 3 vetoers need ceil(2/3*3) = 2 overturn ballots.
	v := escalatedVeto("PROP-1", uuid.New())
	v.EscalationVotes.Record(uuid.New().String(), true)

	p := vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVetoed)
	started := time.Now().UTC().Add(-time.Hour)
	p.VotingStartedAt = &started

	events := latestEvents(v)
	proposals := &proposalRepoMock{proposal: p}
	decisions := &decisionRepoMock{result: domain.DecisionApproved}
	reviews := &reviewSchedulerMock{}
	svc := newTestService(testDeps{
		events:    events,
		proposals: proposals,
		votes:     &voteRepoMock{tally: domain.Tally{Yes: 2, No: 1, WeightedYes: 2.0, WeightedNo: 1.0}},
		decisions: decisions,
		reviews:   reviews,
		vetoers:   &vetoerRepoMock{exists: true, count: 3},
	})

	event, err := svc.CastEscalationVote(context.Background(), uuid.New(), "PROP-1", true)
	require.NoError(t, err)

	assert.Equal(t, domain.VetoStatusOverturned, event.Status)
	require.NotNil(t, event.EscalationResult)
	assert.Equal(t, string(domain.VetoStatusOverturned), *event.EscalationResult)

	assert.Equal(t, []domain.ProposalStatus{domain.ProposalStatusVoting}, proposals.statuses,
		"open voting window resumes to voting")

	require.Len(t, decisions.synced, 1)
	assert.Equal(t, domain.DecisionApproved, decisions.synced[0].Result)
	assert.Equal(t, []string{"PROP-1"}, reviews.scheduled, "revised approval schedules an impact review")
}

func TestCastEscalationVote_OverturnResumesToOpenAfterWindow(t *testing.T) {
	t.Parallel()

	v := escalatedVeto("PROP-1", uuid.New())
	v.EscalationVotes.Record(uuid.New().String(), true)

	p := vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVetoed)
	started := time.Now().UTC().Add(-100 * time.Hour)
	ended := time.Now().UTC().Add(-time.Hour)
	p.VotingStartedAt = &started
	p.VotingEndedAt = &ended

	proposals := &proposalRepoMock{proposal: p}
	svc := newTestService(testDeps{
		events:    latestEvents(v),
		proposals: proposals,
		vetoers:   &vetoerRepoMock{exists: true, count: 3},
	})

	_, err := svc.CastEscalationVote(context.Background(), uuid.New(), "PROP-1", true)
	require.NoError(t, err)

	assert.Equal(t, []domain.ProposalStatus{domain.ProposalStatusOpen}, proposals.statuses)
}

func TestCastEscalationVote_AllBallotedWithoutThresholdUpholds(t *testing.T) {
	t.Parallel()

	v := escalatedVeto("PROP-1", uuid.New())
	v.EscalationVotes.Record(uuid.New().String(), true)
	v.EscalationVotes.Record(uuid.New().String(), false)

	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVetoed)}
	svc := newTestService(testDeps{
		events:    latestEvents(v),
		proposals: proposals,
		vetoers:   &vetoerRepoMock{exists: true, count: 3},
	})

	event, err := svc.CastEscalationVote(context.Background(), uuid.New(), "PROP-1", false)
	require.NoError(t, err)

	assert.Equal(t, domain.VetoStatusUpheld, event.Status)
	require.NotNil(t, event.EscalationResult)
	assert.Equal(t, string(domain.VetoStatusUpheld), *event.EscalationResult)
	assert.Empty(t, proposals.statuses, "upheld veto keeps the proposal blocked")
}

func TestCastEscalationVote_RevoteOverwrites(t *testing.T) {
	t.Parallel()

	voter := uuid.New()
	v := escalatedVeto("PROP-1", uuid.New())
	v.EscalationVotes.Record(voter.String(), false)

	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVetoed)}
	svc := newTestService(testDeps{
		events:    latestEvents(v),
		proposals: proposals,
		vetoers:   &vetoerRepoMock{exists: true, count: 5},
	})

	event, err := svc.CastEscalationVote(context.Background(), voter, "PROP-1", true)
	require.NoError(t, err)

	assert.Equal(t, domain.VetoStatusActive, event.Status, "one ballot of five is not decisive")
	assert.Len(t, event.EscalationVotes.Ballots, 1)
	assert.Equal(t, 1, event.EscalationVotes.Overturned)
	assert.Equal(t, 0, event.EscalationVotes.Upheld)
}

func TestWithdraw_OnlyOriginalVetoer(t *testing.T) {
	t.Parallel()

	events := latestEvents(activeVeto("PROP-1", uuid.New()))
	proposals := &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVetoed)}
	svc := newTestService(testDeps{events: events, proposals: proposals})

	_, err := svc.Withdraw(context.Background(), uuid.New(), "PROP-1")
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, proposals.statuses)
}

func TestWithdraw_ActiveVetoOnly(t *testing.T) {
	t.Parallel()

	vetoer := uuid.New()
	v := activeVeto("PROP-1", vetoer)
	v.Status = domain.VetoStatusOverturned
	svc := newTestService(testDeps{
		events:    latestEvents(v),
		proposals: &proposalRepoMock{proposal: vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusOpen)},
	})

	_, err := svc.Withdraw(context.Background(), vetoer, "PROP-1")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestWithdraw_BlockedAfterVotingEnds(t *testing.T) {
	t.Parallel()

	vetoer := uuid.New()
	p := vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVetoed)
	ended := time.Now().UTC().Add(-time.Hour)
	p.VotingEndedAt = &ended

	svc := newTestService(testDeps{
		events:    latestEvents(activeVeto("PROP-1", vetoer)),
		proposals: &proposalRepoMock{proposal: p},
	})

	_, err := svc.Withdraw(context.Background(), vetoer, "PROP-1")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestWithdraw_ReleasesProposalAndRevisesDecision(t *testing.T) {
	t.Parallel()

	vetoer := uuid.New()
	p := vetoableProposal("PROP-1", uuid.New(), domain.ProposalStatusVetoed)
	started := time.Now().UTC().Add(-time.Hour)
	p.VotingStartedAt = &started

	events := latestEvents(activeVeto("PROP-1", vetoer))
	proposals := &proposalRepoMock{proposal: p}
	decisions := &decisionRepoMock{result: domain.DecisionRejected}
	reviews := &reviewSchedulerMock{}
	audit := &auditRepoMock{}
	svc := newTestService(testDeps{
		events:    events,
		proposals: proposals,
		votes:     &voteRepoMock{tally: domain.Tally{Yes: 1, No: 2, WeightedYes: 1.0, WeightedNo: 2.0}},
		decisions: decisions,
		reviews:   reviews,
		audit:     audit,
	})

	event, err := svc.Withdraw(context.Background(), vetoer, "PROP-1")
	require.NoError(t, err)

	assert.Equal(t, domain.VetoStatusWithdrawn, event.Status)
	require.NotNil(t, event.EscalationResult)
	assert.Equal(t, string(domain.VetoStatusWithdrawn), *event.EscalationResult)

	assert.Equal(t, []domain.ProposalStatus{domain.ProposalStatusVoting}, proposals.statuses)

	require.Len(t, decisions.synced, 1)
	assert.Equal(t, domain.DecisionRejected, decisions.synced[0].Result)
	assert.Empty(t, reviews.scheduled, "rejected revision schedules no review")

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "veto.withdrawn", audit.entries[0].Action)
}
