package rest

import "net/http"

// Handlers bundles every REST handler the router mounts.
type Handlers struct {
	Health     *HealthHandler
	Proposal   *ProposalHandler
	Veto       *VetoHandler
	Review     *ReviewHandler
	Trust      *TrustHandler
	Appeal     *AppealHandler
	Governance *GovernanceHandler
}

// NewRouter mounts all REST routes on a ServeMux. Authentication and the
// rest of the middleware chain are applied by the caller.
func NewRouter(h Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health.Live)
	mux.HandleFunc("GET /readyz", h.Health.Ready)
	mux.HandleFunc("GET /health", h.Health.Health)

	// Proposal lifecycle, ballots and decisions.
	mux.HandleFunc("POST /api/v1/proposals", h.Proposal.Create)
	mux.HandleFunc("GET /api/v1/proposals", h.Proposal.List)
	mux.HandleFunc("GET /api/v1/proposals/{id}", h.Proposal.Get)
	mux.HandleFunc("DELETE /api/v1/proposals/{id}", h.Proposal.Delete)
	mux.HandleFunc("POST /api/v1/proposals/{id}/submit", h.Proposal.Submit)
	mux.HandleFunc("POST /api/v1/proposals/{id}/start-voting", h.Proposal.StartVoting)
	mux.HandleFunc("POST /api/v1/proposals/{id}/archive", h.Proposal.Archive)
	mux.HandleFunc("POST /api/v1/proposals/{id}/votes", h.Proposal.CastVote)
	mux.HandleFunc("GET /api/v1/proposals/{id}/votes", h.Proposal.ListVotes)
	mux.HandleFunc("DELETE /api/v1/proposals/{id}/votes", h.Proposal.WithdrawVote)
	mux.HandleFunc("GET /api/v1/proposals/{id}/decision", h.Proposal.Decision)
	mux.HandleFunc("GET /api/v1/decisions", h.Proposal.ListDecisions)
	mux.HandleFunc("GET /api/v1/decisions/{id}", h.Proposal.DecisionByID)

	// Veto, escalation and vetoer grants.
	mux.HandleFunc("POST /api/v1/proposals/{id}/veto", h.Veto.Exercise)
	mux.HandleFunc("GET /api/v1/proposals/{id}/veto", h.Veto.Get)
	mux.HandleFunc("DELETE /api/v1/proposals/{id}/veto", h.Veto.Withdraw)
	mux.HandleFunc("GET /api/v1/proposals/{id}/veto/history", h.Veto.History)
	mux.HandleFunc("POST /api/v1/proposals/{id}/veto/escalate", h.Veto.StartEscalation)
	mux.HandleFunc("POST /api/v1/proposals/{id}/veto/escalation-votes", h.Veto.CastEscalationVote)
	mux.HandleFunc("POST /api/v1/vetoers", h.Veto.Grant)
	mux.HandleFunc("GET /api/v1/vetoers", h.Veto.ListGrants)
	mux.HandleFunc("DELETE /api/v1/vetoers", h.Veto.Revoke)

	// Impact reviews and their participant rosters.
	mux.HandleFunc("POST /api/v1/proposals/{id}/review", h.Review.Schedule)
	mux.HandleFunc("GET /api/v1/proposals/{id}/review", h.Review.GetByProposal)
	mux.HandleFunc("PATCH /api/v1/proposals/{id}/review", h.Review.Reschedule)
	mux.HandleFunc("DELETE /api/v1/proposals/{id}/review", h.Review.Delete)
	mux.HandleFunc("POST /api/v1/proposals/{id}/review/complete", h.Review.Complete)
	mux.HandleFunc("GET /api/v1/reviews", h.Review.List)
	mux.HandleFunc("GET /api/v1/reviews/due", h.Review.ListDue)
	mux.HandleFunc("GET /api/v1/reviews/{id}", h.Review.Get)
	mux.HandleFunc("GET /api/v1/reviews/{id}/participants", h.Review.Participants)
	mux.HandleFunc("POST /api/v1/reviews/{id}/participants", h.Review.UpsertParticipant)
	mux.HandleFunc("PATCH /api/v1/reviews/{id}/participants/{user_id}", h.Review.UpdateParticipant)
	mux.HandleFunc("DELETE /api/v1/reviews/{id}/participants/{user_id}", h.Review.RemoveParticipant)
	mux.HandleFunc("GET /api/v1/reviews/{id}/summary", h.Review.Summary)

	// Trust scores and the ledger.
	mux.HandleFunc("GET /api/v1/trust", h.Trust.List)
	mux.HandleFunc("GET /api/v1/trust/{user_id}/score", h.Trust.Score)
	mux.HandleFunc("GET /api/v1/trust/{user_id}/scores", h.Trust.UserScores)
	mux.HandleFunc("GET /api/v1/trust/{user_id}/history", h.Trust.History)

	// Appeals against trust ledger entries.
	mux.HandleFunc("POST /api/v1/appeals", h.Appeal.Create)
	mux.HandleFunc("GET /api/v1/appeals", h.Appeal.List)
	mux.HandleFunc("GET /api/v1/appeals/{id}", h.Appeal.Get)
	mux.HandleFunc("POST /api/v1/appeals/{id}/resolve", h.Appeal.Resolve)
	mux.HandleFunc("DELETE /api/v1/appeals/{id}", h.Appeal.Delete)

	// Governance configuration and the audit trail.
	mux.HandleFunc("GET /api/v1/governance/config", h.Governance.Config)
	mux.HandleFunc("PATCH /api/v1/governance/config", h.Governance.UpdateConfig)
	mux.HandleFunc("GET /api/v1/governance/audit", h.Governance.AuditLogs)

	return mux
}
