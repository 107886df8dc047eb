package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	proposalrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/proposal"
	"github.com/heartmarshall/concord-backend/internal/domain"
	"github.com/heartmarshall/concord-backend/internal/service/proposal"
	"github.com/heartmarshall/concord-backend/pkg/ctxutil"
)

type proposalService interface {
	Create(ctx context.Context, actor proposal.Actor, in proposal.CreateInput) (domain.Proposal, error)
	Get(ctx context.Context, id string) (domain.Proposal, error)
	List(ctx context.Context, filter proposalrepo.Filter) ([]domain.Proposal, int, error)
	Submit(ctx context.Context, actor proposal.Actor, id string) (proposal.SubmitResult, error)
	StartVoting(ctx context.Context, actor proposal.Actor, id string) (proposal.VotingResult, error)
	Archive(ctx context.Context, actor proposal.Actor, id string) (time.Time, error)
	Delete(ctx context.Context, actor proposal.Actor, id string) error
	CastVote(ctx context.Context, actor proposal.Actor, proposalID string, in proposal.VoteInput) (domain.Vote, domain.Tally, error)
	ListVotes(ctx context.Context, proposalID string) (proposal.VoteListing, error)
	WithdrawVote(ctx context.Context, actor proposal.Actor, proposalID string) error
	Decision(ctx context.Context, proposalID string) (domain.Decision, error)
	DecisionByID(ctx context.Context, id string) (domain.Decision, error)
	ListDecisions(ctx context.Context, limit, offset int) ([]domain.Decision, error)
}

// ProposalHandler serves proposal, vote and decision REST endpoints.
type ProposalHandler struct {
	svc proposalService
	log *slog.Logger
}

// NewProposalHandler creates a ProposalHandler.
func NewProposalHandler(svc proposalService, logger *slog.Logger) *ProposalHandler {
	return &ProposalHandler{svc: svc, log: logger.With("handler", "proposal")}
}

func (h *ProposalHandler) actor(w http.ResponseWriter, r *http.Request) (proposal.Actor, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return proposal.Actor{}, false
	}
	return proposal.Actor{
		UserID:  userID,
		Type:    callerType(r),
		IsAdmin: ctxutil.IsAdminCtx(r.Context()),
	}, true
}

type createProposalRequest struct {
	Title         string   `json:"title"`
	Type          string   `json:"proposal_type"`
	Content       string   `json:"content"`
	Domains       []string `json:"domains"`
	VotingRule    string   `json:"voting_rule"`
	CycleTemplate string   `json:"cycle_template"`
	TemplateID    *string  `json:"template_id"`
}

// Create handles POST /proposals.
func (h *ProposalHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createProposalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.svc.Create(r.Context(), actor, proposal.CreateInput{
		Title:         req.Title,
		Type:          req.Type,
		Content:       req.Content,
		Domains:       req.Domains,
		VotingRule:    req.VotingRule,
		CycleTemplate: req.CycleTemplate,
		TemplateID:    req.TemplateID,
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProposalResponse(p))
}

// Get handles GET /proposals/{id}.
func (h *ProposalHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

// List handles GET /proposals.
func (h *ProposalHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := proposalrepo.Filter{
		AuthorID:  queryString(r, "author_id"),
		Domain:    queryString(r, "domain"),
		SortBy:    r.URL.Query().Get("sort_by"),
		SortOrder: strings.ToUpper(r.URL.Query().Get("sort_order")),
		Page:      queryInt(r, "page", 1),
		PerPage:   queryInt(r, "per_page", 20),
	}
	if raw := queryString(r, "status"); raw != nil {
		status := domain.ProposalStatus(strings.ToLower(*raw))
		filter.Status = &status
	}
	if raw := queryString(r, "proposal_type"); raw != nil {
		proposalType := domain.ProposalType(strings.ToLower(*raw))
		filter.Type = &proposalType
	}

	proposals, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaginated(toProposalResponses(proposals), total, filter.Page, filter.PerPage))
}

// Submit handles POST /proposals/{id}/submit.
func (h *ProposalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	result, err := h.svc.Submit(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 result.ID,
		"status":             string(result.Status),
		"discussion_ends_at": result.DiscussionEndsAt,
	})
}

// StartVoting handles POST /proposals/{id}/start-voting.
func (h *ProposalHandler) StartVoting(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	result, err := h.svc.StartVoting(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                result.ID,
		"status":            string(result.Status),
		"voting_started_at": result.VotingStartedAt,
		"voting_ends_at":    result.VotingEndsAt,
	})
}

// Archive handles POST /proposals/{id}/archive.
func (h *ProposalHandler) Archive(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	archivedAt, err := h.svc.Archive(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          r.PathValue("id"),
		"archived_at": archivedAt,
	})
}

// Delete handles DELETE /proposals/{id}.
func (h *ProposalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), actor, r.PathValue("id")); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type castVoteRequest struct {
	Choice string  `json:"choice"`
	Reason *string `json:"reason"`
}

// CastVote handles POST /proposals/{id}/votes.
func (h *ProposalHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req castVoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	vote, tally, err := h.svc.CastVote(r.Context(), actor, r.PathValue("id"), proposal.VoteInput{
		Choice: req.Choice,
		Reason: req.Reason,
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"vote":  toVoteResponse(vote),
		"tally": toTallyResponse(tally),
	})
}

// ListVotes handles GET /proposals/{id}/votes. Individual ballots are hidden
// while voting is in progress.
func (h *ProposalHandler) ListVotes(w http.ResponseWriter, r *http.Request) {
	listing, err := h.svc.ListVotes(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	votes := make([]voteResponse, 0, len(listing.Items))
	for _, v := range listing.Items {
		votes = append(votes, toVoteResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": listing.ProposalID,
		"is_hidden":   listing.IsHidden,
		"tally":       toTallyResponse(listing.Tally),
		"votes":       votes,
	})
}

// WithdrawVote handles DELETE /proposals/{id}/votes.
func (h *ProposalHandler) WithdrawVote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.WithdrawVote(r.Context(), actor, r.PathValue("id")); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Decision handles GET /proposals/{id}/decision.
func (h *ProposalHandler) Decision(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Decision(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionResponse(d))
}

// DecisionByID handles GET /decisions/{id}.
func (h *ProposalHandler) DecisionByID(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.DecisionByID(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionResponse(d))
}

// ListDecisions handles GET /decisions.
func (h *ProposalHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	decisions, err := h.svc.ListDecisions(r.Context(), limit, offset)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	out := make([]decisionResponse, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, toDecisionResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
