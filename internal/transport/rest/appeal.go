package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/domain"
	"github.com/heartmarshall/concord-backend/internal/service/appeal"
)

type appealService interface {
	Create(ctx context.Context, appellantID uuid.UUID, in appeal.CreateInput) (domain.Appeal, error)
	Get(ctx context.Context, userID uuid.UUID, id int64) (domain.Appeal, error)
	List(ctx context.Context, userID uuid.UUID, in appeal.ListInput) ([]domain.Appeal, error)
	Resolve(ctx context.Context, reviewerID uuid.UUID, id int64, in appeal.ResolveInput) (domain.Appeal, error)
	Delete(ctx context.Context, userID uuid.UUID, id int64) error
}

// AppealHandler serves trust-score appeal REST endpoints.
type AppealHandler struct {
	svc appealService
	log *slog.Logger
}

// NewAppealHandler creates an AppealHandler.
func NewAppealHandler(svc appealService, logger *slog.Logger) *AppealHandler {
	return &AppealHandler{svc: svc, log: logger.With("handler", "appeal")}
}

func appealID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appeal id")
		return 0, false
	}
	return id, true
}

type createAppealRequest struct {
	LogID    int64           `json:"log_id"`
	Reason   string          `json:"reason"`
	Evidence json.RawMessage `json:"evidence"`
}

// Create handles POST /appeals.
func (h *AppealHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createAppealRequest
	if !decodeBody(w, r, &req) {
		return
	}

	a, err := h.svc.Create(r.Context(), userID, appeal.CreateInput{
		LogID:    req.LogID,
		Reason:   req.Reason,
		Evidence: req.Evidence,
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppealResponse(a))
}

// Get handles GET /appeals/{id}.
func (h *AppealHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := appealID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Get(r.Context(), userID, id)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppealResponse(a))
}

// List handles GET /appeals?status=&mine=&limit=&offset=.
func (h *AppealHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	appeals, err := h.svc.List(r.Context(), userID, appeal.ListInput{
		Status: queryString(r, "status"),
		Mine:   queryBool(r, "mine"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toAppealResponses(appeals)})
}

type resolveAppealRequest struct {
	Status     string  `json:"status"`
	ReviewNote *string `json:"review_note"`
}

// Resolve handles POST /appeals/{id}/resolve.
func (h *AppealHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := appealID(w, r)
	if !ok {
		return
	}
	var req resolveAppealRequest
	if !decodeBody(w, r, &req) {
		return
	}

	a, err := h.svc.Resolve(r.Context(), userID, id, appeal.ResolveInput{
		Status:     req.Status,
		ReviewNote: req.ReviewNote,
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppealResponse(a))
}

// Delete handles DELETE /appeals/{id}.
func (h *AppealHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := appealID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), userID, id); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
