package domain

import (
	"time"

	"github.com/google/uuid"
)

// MinVetoReasonLen is the minimum justification length (in runes) for
// exercising a veto.
const MinVetoReasonLen = 100

// EscalationWindow bounds both starting an escalation (after the veto) and
// casting escalation ballots (after the escalation start).
const EscalationWindow = 48 * time.Hour

// VetoEvent is a privileged block on an in-progress proposal. At most one
// veto is active per proposal at a time.
type VetoEvent struct {
	ID                  int64
	ProposalID          string
	VetoerID            uuid.UUID
	Domain              string
	Reason              string
	Status              VetoStatus
	EscalationStartedAt *time.Time
	EscalationResult    *string
	EscalationVotes     *EscalationVotes
	CreatedAt           time.Time
}

// EscalationVotes is the ballot map for a veto escalation, keyed by vetoer
// id. It is stored as a JSON column on the veto event; a re-vote overwrites
// the voter's previous ballot.
type EscalationVotes struct {
	Ballots    map[string]bool `json:"ballots"`
	Overturned int             `json:"overturned"`
	Upheld     int             `json:"upheld"`
}

// NewEscalationVotes returns an empty ballot map.
func NewEscalationVotes() *EscalationVotes {
	return &EscalationVotes{Ballots: map[string]bool{}}
}

// Record stores one vetoer's ballot (last vote per voter wins) and
// recounts the totals.
func (v *EscalationVotes) Record(voterID string, overturn bool) {
	if v.Ballots == nil {
		v.Ballots = map[string]bool{}
	}
	v.Ballots[voterID] = overturn

	v.Overturned, v.Upheld = 0, 0
	for _, b := range v.Ballots {
		if b {
			v.Overturned++
		} else {
			v.Upheld++
		}
	}
}

// OverturnThreshold is the ballot count needed to overturn a veto:
// ceil(2/3 of the domain's vetoers).
func OverturnThreshold(totalVetoers int) int {
	return (totalVetoers*2 + 2) / 3
}
