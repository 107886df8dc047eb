package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/adapter/postgres/trustscore"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

type trustService interface {
	Score(ctx context.Context, userID, projectID uuid.UUID, dom string) (domain.TrustScore, error)
	UserScores(ctx context.Context, userID, projectID uuid.UUID) ([]domain.TrustScore, error)
	List(ctx context.Context, filter trustscore.ListFilter) ([]domain.TrustScore, error)
	History(ctx context.Context, userID, projectID uuid.UUID, limit, offset int) ([]domain.TrustScoreLog, error)
}

// TrustHandler serves trust-score REST endpoints.
type TrustHandler struct {
	svc trustService
	log *slog.Logger
}

// NewTrustHandler creates a TrustHandler.
func NewTrustHandler(svc trustService, logger *slog.Logger) *TrustHandler {
	return &TrustHandler{svc: svc, log: logger.With("handler", "trust")}
}

func (h *TrustHandler) pathUserAndProject(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return uuid.Nil, uuid.Nil, false
	}
	projectID, err := queryUUID(r, "project_id")
	if err != nil || projectID == nil {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, *projectID, true
}

// Score handles GET /trust/{user_id}/score?project_id=&domain=.
func (h *TrustHandler) Score(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.pathUserAndProject(w, r)
	if !ok {
		return
	}
	dom := strings.TrimSpace(r.URL.Query().Get("domain"))
	if dom == "" {
		dom = domain.GlobalDomain
	}

	score, err := h.svc.Score(r.Context(), userID, projectID, dom)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toTrustScoreResponse(score))
}

// UserScores handles GET /trust/{user_id}/scores?project_id=.
func (h *TrustHandler) UserScores(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.pathUserAndProject(w, r)
	if !ok {
		return
	}
	scores, err := h.svc.UserScores(r.Context(), userID, projectID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	out := make([]trustScoreResponse, 0, len(scores))
	for _, s := range scores {
		out = append(out, toTrustScoreResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// List handles GET /trust?project_id=&domain=&min_level=.
func (h *TrustHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, err := queryUUID(r, "project_id")
	if err != nil || projectID == nil {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	filter := trustscore.ListFilter{
		ProjectID: *projectID,
		Domain:    queryString(r, "domain"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}
	if raw := queryString(r, "min_level"); raw != nil {
		level := domain.TrustLevel(strings.ToLower(*raw))
		filter.MinLevel = &level
	}

	scores, err := h.svc.List(r.Context(), filter)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	out := make([]trustScoreResponse, 0, len(scores))
	for _, s := range scores {
		out = append(out, toTrustScoreResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// History handles GET /trust/{user_id}/history?project_id=.
func (h *TrustHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.pathUserAndProject(w, r)
	if !ok {
		return
	}
	logs, err := h.svc.History(r.Context(), userID, projectID, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	out := make([]trustLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, toTrustLogResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
