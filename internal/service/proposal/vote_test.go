package proposal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/concord-backend/internal/domain"
)

func fixedProposal(p domain.Proposal) *proposalRepoMock {
	return &proposalRepoMock{
		GetByIDFunc: func(ctx context.Context, id string) (domain.Proposal, error) {
			return p, nil
		},
	}
}

// openVotingProposal is mid-vote: the window is still open, so EnsureFinalized
// leaves it alone.
func openVotingProposal(id, authorID string) domain.Proposal {
	p := votingProposal(id, authorID, domain.VotingRuleSimpleMajority)
	p.CycleTemplate = domain.CycleTemplateStandard
	started := time.Now().UTC().Add(-10 * time.Minute)
	p.VotingStartedAt = &started
	return p
}

func humanActor() Actor {
	return Actor{UserID: uuid.New(), Type: domain.ParticipantHuman}
}

func aiActor() Actor {
	return Actor{UserID: uuid.New(), Type: domain.ParticipantAI}
}

func aiReason() *string {
	r := strings.Repeat("the change is consistent with the agreed architecture direction ", 2)
	return &r
}

func TestCastVote_RequiresVotingStatus(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	p.Status = domain.ProposalStatusOpen
	svc := newTestService(serviceMocks{proposals: fixedProposal(p)})

	_, _, err := svc.CastVote(context.Background(), humanActor(), "PROP-1", VoteInput{Choice: "yes"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCastVote_RejectsInvalidChoice(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	svc := newTestService(serviceMocks{proposals: fixedProposal(p)})

	_, _, err := svc.CastVote(context.Background(), humanActor(), "PROP-1", VoteInput{Choice: "maybe"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCastVote_NormalizesChoice(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	svc := newTestService(serviceMocks{proposals: fixedProposal(p)})

	v, _, err := svc.CastVote(context.Background(), humanActor(), "PROP-1", VoteInput{Choice: " YES "})
	require.NoError(t, err)
	assert.Equal(t, domain.VoteChoiceYes, v.Choice)
}

func TestCastVote_DuplicateBallotIsConflict(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	votes := &voteRepoMock{
		CreateFunc: func(ctx context.Context, v domain.Vote) (domain.Vote, error) {
			return domain.Vote{}, domain.ErrAlreadyExists
		},
	}
	svc := newTestService(serviceMocks{proposals: fixedProposal(p), votes: votes})

	_, _, err := svc.CastVote(context.Background(), humanActor(), "PROP-1", VoteInput{Choice: "yes"})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.NotErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCastVote_SnapshotsTrustWeight(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	svc := newTestService(serviceMocks{
		proposals: fixedProposal(p),
		weights:   &weightResolverMock{weight: 1.8},
	})

	v, _, err := svc.CastVote(context.Background(), humanActor(), "PROP-1", VoteInput{Choice: "no"})
	require.NoError(t, err)
	assert.InDelta(t, 1.8, v.Weight, 1e-9)
}

func TestCastVote_AIRequiresMinimumReason(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	short := "looks fine"

	svc := newTestService(serviceMocks{proposals: fixedProposal(p)})

	_, _, err := svc.CastVote(context.Background(), aiActor(), "PROP-1", VoteInput{Choice: "yes", Reason: &short})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = svc.CastVote(context.Background(), aiActor(), "PROP-1", VoteInput{Choice: "yes", Reason: aiReason()})
	require.NoError(t, err)
}

func TestCastVote_AIConfiguredReasonMinimum(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	min := 5
	short := "looks fine"

	svc := newTestService(serviceMocks{
		proposals:  fixedProposal(p),
		permission: &permissionCheckerMock{reasonMin: &min},
	})

	_, _, err := svc.CastVote(context.Background(), aiActor(), "PROP-1", VoteInput{Choice: "yes", Reason: &short})
	require.NoError(t, err, "registry-configured minimum replaces the default")
}

func TestCastVote_AIRequiresProjectContext(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	svc := newTestService(serviceMocks{
		proposals:  fixedProposal(p),
		membership: &membershipRepoMock{unlinked: true},
	})

	_, _, err := svc.CastVote(context.Background(), aiActor(), "PROP-1", VoteInput{Choice: "yes", Reason: aiReason()})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCastVote_AIWithoutDomainPermission(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	svc := newTestService(serviceMocks{
		proposals:  fixedProposal(p),
		permission: &permissionCheckerMock{denyVote: true},
	})

	_, _, err := svc.CastVote(context.Background(), aiActor(), "PROP-1", VoteInput{Choice: "yes", Reason: aiReason()})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestListVotes_BallotsHiddenWhileVoting(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	votes := &voteRepoMock{
		ListByProposalFunc: func(ctx context.Context, proposalID string) ([]domain.Vote, error) {
			t.Fatal("individual ballots must not be read while voting is open")
			return nil, nil
		},
	}
	svc := newTestService(serviceMocks{proposals: fixedProposal(p), votes: votes})

	listing, err := svc.ListVotes(context.Background(), "PROP-1")
	require.NoError(t, err)

	assert.True(t, listing.IsHidden)
	assert.Empty(t, listing.Items)
}

func TestListVotes_RevealedAfterClose(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	p.Status = domain.ProposalStatusApproved
	votes := &voteRepoMock{
		ListByProposalFunc: func(ctx context.Context, proposalID string) ([]domain.Vote, error) {
			return []domain.Vote{
				{ID: 1, ProposalID: proposalID, Choice: domain.VoteChoiceYes},
				{ID: 2, ProposalID: proposalID, Choice: domain.VoteChoiceNo},
			}, nil
		},
	}
	svc := newTestService(serviceMocks{proposals: fixedProposal(p), votes: votes})

	listing, err := svc.ListVotes(context.Background(), "PROP-1")
	require.NoError(t, err)

	assert.False(t, listing.IsHidden)
	assert.Len(t, listing.Items, 2)
}

func TestWithdrawVote_OnlyDuringVoting(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	p.Status = domain.ProposalStatusApproved
	svc := newTestService(serviceMocks{proposals: fixedProposal(p)})

	err := svc.WithdrawVote(context.Background(), humanActor(), "PROP-1")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestWithdrawVote_RemovesOwnBallot(t *testing.T) {
	t.Parallel()

	actor := humanActor()
	p := openVotingProposal("PROP-1", uuid.New().String())
	votes := &voteRepoMock{
		GetByVoterFunc: func(ctx context.Context, proposalID, voterID string) (domain.Vote, error) {
			return domain.Vote{ID: 7, ProposalID: proposalID, VoterID: voterID, Choice: domain.VoteChoiceYes}, nil
		},
	}
	audit := &auditRepoMock{}
	svc := newTestService(serviceMocks{proposals: fixedProposal(p), votes: votes, audit: audit})

	err := svc.WithdrawVote(context.Background(), actor, "PROP-1")
	require.NoError(t, err)

	assert.Equal(t, []string{actor.IDString()}, votes.deleted)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "vote.deleted", audit.entries[0].Action)
}

func TestWithdrawVote_NoBallotIsNoop(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	votes := &voteRepoMock{}
	svc := newTestService(serviceMocks{proposals: fixedProposal(p), votes: votes})

	err := svc.WithdrawVote(context.Background(), humanActor(), "PROP-1")
	require.NoError(t, err)
	assert.Empty(t, votes.deleted)
}

func TestSubmit_AuthorOnly(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	p.Status = domain.ProposalStatusDraft
	svc := newTestService(serviceMocks{proposals: fixedProposal(p)})

	_, err := svc.Submit(context.Background(), humanActor(), "PROP-1")
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestSubmit_DraftOnly(t *testing.T) {
	t.Parallel()

	author := humanActor()
	p := openVotingProposal("PROP-1", author.IDString())
	p.Status = domain.ProposalStatusOpen
	svc := newTestService(serviceMocks{proposals: fixedProposal(p)})

	_, err := svc.Submit(context.Background(), author, "PROP-1")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSubmit_StampsDiscussionWindow(t *testing.T) {
	t.Parallel()

	author := humanActor()
	p := openVotingProposal("PROP-1", author.IDString())
	p.Status = domain.ProposalStatusDraft
	svc := newTestService(serviceMocks{proposals: fixedProposal(p)})

	res, err := svc.Submit(context.Background(), author, "PROP-1")
	require.NoError(t, err)

	assert.Equal(t, domain.ProposalStatusOpen, res.Status)
	assert.WithinDuration(t,
		time.Now().UTC().Add(domain.CycleTemplateStandard.DiscussionWindow()),
		res.DiscussionEndsAt, time.Minute)
}

func TestStartVoting_AuthorOnly(t *testing.T) {
	t.Parallel()

	p := openVotingProposal("PROP-1", uuid.New().String())
	p.Status = domain.ProposalStatusOpen
	svc := newTestService(serviceMocks{proposals: fixedProposal(p)})

	_, err := svc.StartVoting(context.Background(), humanActor(), "PROP-1")
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestStartVoting_OpenOnly(t *testing.T) {
	t.Parallel()

	author := humanActor()
	p := openVotingProposal("PROP-1", author.IDString())
	p.Status = domain.ProposalStatusDraft
	svc := newTestService(serviceMocks{proposals: fixedProposal(p)})

	_, err := svc.StartVoting(context.Background(), author, "PROP-1")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestStartVoting_QueuesAITasks(t *testing.T) {
	t.Parallel()

	author := humanActor()
	p := openVotingProposal("PROP-1", author.IDString())
	p.Status = domain.ProposalStatusOpen
	tasks := &taskQueueMock{}
	svc := newTestService(serviceMocks{proposals: fixedProposal(p), tasks: tasks})

	res, err := svc.StartVoting(context.Background(), author, "PROP-1")
	require.NoError(t, err)

	assert.Equal(t, domain.ProposalStatusVoting, res.Status)
	assert.Equal(t, []string{"PROP-1"}, tasks.queued)
	assert.WithinDuration(t,
		res.VotingStartedAt.Add(domain.CycleTemplateStandard.VotingWindow()),
		res.VotingEndsAt, time.Second)
}
