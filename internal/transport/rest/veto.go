package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	vetoerrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/vetoer"
	"github.com/heartmarshall/concord-backend/internal/domain"
	"github.com/heartmarshall/concord-backend/internal/service/veto"
)

type vetoService interface {
	Exercise(ctx context.Context, vetoerID uuid.UUID, vetoerType domain.ParticipantType, proposalID string, in veto.ExerciseInput) (domain.VetoEvent, error)
	Get(ctx context.Context, proposalID string) (domain.VetoEvent, error)
	History(ctx context.Context, proposalID string) ([]domain.VetoEvent, error)
	StartEscalation(ctx context.Context, initiatorID uuid.UUID, proposalID string) (domain.VetoEvent, error)
	CastEscalationVote(ctx context.Context, voterID uuid.UUID, proposalID string, overturn bool) (domain.VetoEvent, error)
	Withdraw(ctx context.Context, requesterID uuid.UUID, proposalID string) (domain.VetoEvent, error)
	Grant(ctx context.Context, requesterID uuid.UUID, in veto.GrantInput) (domain.Vetoer, error)
	Revoke(ctx context.Context, requesterID, userID, projectID uuid.UUID, dom string) error
	ListGrants(ctx context.Context, filter vetoerrepo.Filter) ([]domain.Vetoer, error)
}

// VetoHandler serves veto, escalation and vetoer-grant REST endpoints.
type VetoHandler struct {
	svc vetoService
	log *slog.Logger
}

// NewVetoHandler creates a VetoHandler.
func NewVetoHandler(svc vetoService, logger *slog.Logger) *VetoHandler {
	return &VetoHandler{svc: svc, log: logger.With("handler", "veto")}
}

type exerciseVetoRequest struct {
	Domain *string `json:"domain"`
	Reason string  `json:"reason"`
}

// Exercise handles POST /proposals/{id}/veto.
func (h *VetoHandler) Exercise(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req exerciseVetoRequest
	if !decodeBody(w, r, &req) {
		return
	}

	event, err := h.svc.Exercise(r.Context(), userID, callerType(r), r.PathValue("id"), veto.ExerciseInput{
		Domain: req.Domain,
		Reason: req.Reason,
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVetoEventResponse(event))
}

// Get handles GET /proposals/{id}/veto.
func (h *VetoHandler) Get(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toVetoEventResponse(event))
}

// History handles GET /proposals/{id}/veto/history.
func (h *VetoHandler) History(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.History(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	out := make([]vetoEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toVetoEventResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// StartEscalation handles POST /proposals/{id}/veto/escalate.
func (h *VetoHandler) StartEscalation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	event, err := h.svc.StartEscalation(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toVetoEventResponse(event))
}

type escalationVoteRequest struct {
	Overturn bool `json:"overturn"`
}

// CastEscalationVote handles POST /proposals/{id}/veto/escalation-votes.
func (h *VetoHandler) CastEscalationVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req escalationVoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	event, err := h.svc.CastEscalationVote(r.Context(), userID, r.PathValue("id"), req.Overturn)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toVetoEventResponse(event))
}

// Withdraw handles DELETE /proposals/{id}/veto.
func (h *VetoHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	event, err := h.svc.Withdraw(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toVetoEventResponse(event))
}

type grantVetoerRequest struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	Domain    string `json:"domain"`
	GrantedBy string `json:"granted_by"`
}

// Grant handles POST /vetoers.
func (h *VetoHandler) Grant(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req grantVetoerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project_id")
		return
	}

	grant, err := h.svc.Grant(r.Context(), requesterID, veto.GrantInput{
		UserID:    userID,
		ProjectID: projectID,
		Domain:    req.Domain,
		GrantedBy: req.GrantedBy,
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVetoerResponse(grant))
}

// Revoke handles DELETE /vetoers?user_id=&project_id=&domain=.
func (h *VetoHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := requireUser(w, r)
	if !ok {
		return
	}
	userID, err := queryUUID(r, "user_id")
	if err != nil || userID == nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	projectID, err := queryUUID(r, "project_id")
	if err != nil || projectID == nil {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	if err := h.svc.Revoke(r.Context(), requesterID, *userID, *projectID, r.URL.Query().Get("domain")); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListGrants handles GET /vetoers.
func (h *VetoHandler) ListGrants(w http.ResponseWriter, r *http.Request) {
	projectID, err := queryUUID(r, "project_id")
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	userID, err := queryUUID(r, "user_id")
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	grants, err := h.svc.ListGrants(r.Context(), vetoerrepo.Filter{
		ProjectID: projectID,
		UserID:    userID,
		Domain:    queryString(r, "domain"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	out := make([]vetoerResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, toVetoerResponse(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
