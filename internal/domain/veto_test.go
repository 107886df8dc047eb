package domain

import "testing"

func TestOverturnThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		totalVetoers int
		want         int
	}{
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{5, 4},
		{6, 4},
		{9, 6},
		{10, 7},
	}

	for _, tt := range tests {
		if got := OverturnThreshold(tt.totalVetoers); got != tt.want {
			t.Errorf("OverturnThreshold(%d) = %d, want %d", tt.totalVetoers, got, tt.want)
		}
	}
}

func TestEscalationVotes_Record(t *testing.T) {
	t.Parallel()

	votes := NewEscalationVotes()

	votes.Record("alice", true)
	votes.Record("bob", false)
	votes.Record("carol", true)

	if votes.Overturned != 2 || votes.Upheld != 1 {
		t.Fatalf("counts = %d/%d, want 2 overturned / 1 upheld", votes.Overturned, votes.Upheld)
	}
}

func TestEscalationVotes_Record_RevoteOverwrites(t *testing.T) {
	t.Parallel()

	votes := NewEscalationVotes()

	votes.Record("alice", true)
	votes.Record("alice", false)

	if len(votes.Ballots) != 1 {
		t.Fatalf("expected 1 ballot, got %d", len(votes.Ballots))
	}
	if votes.Overturned != 0 || votes.Upheld != 1 {
		t.Fatalf("counts = %d/%d, want 0 overturned / 1 upheld after re-vote", votes.Overturned, votes.Upheld)
	}
}

func TestEscalationVotes_Record_NilBallots(t *testing.T) {
	t.Parallel()

	votes := &EscalationVotes{}
	votes.Record("alice", true)

	if votes.Overturned != 1 {
		t.Fatalf("Overturned = %d, want 1", votes.Overturned)
	}
}
