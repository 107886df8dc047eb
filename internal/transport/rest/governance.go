package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	auditrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/audit"
	"github.com/heartmarshall/concord-backend/internal/domain"
	"github.com/heartmarshall/concord-backend/internal/service/governance"
)

type governanceService interface {
	Config(ctx context.Context, userID, projectID uuid.UUID) (domain.GovernanceConfig, error)
	UpdateConfig(ctx context.Context, actorID, projectID uuid.UUID, in governance.UpdateConfigInput) (domain.GovernanceConfig, error)
	AuditLogs(ctx context.Context, userID uuid.UUID, filter auditrepo.Filter) ([]domain.AuditLogEntry, int, error)
}

// GovernanceHandler serves per-project governance configuration and the
// audit trail.
type GovernanceHandler struct {
	svc governanceService
	log *slog.Logger
}

// NewGovernanceHandler creates a GovernanceHandler.
func NewGovernanceHandler(svc governanceService, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{svc: svc, log: logger.With("handler", "governance")}
}

func requireProjectID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	projectID, err := queryUUID(r, "project_id")
	if err != nil || projectID == nil {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return uuid.Nil, false
	}
	return *projectID, true
}

// Config handles GET /governance/config?project_id=.
func (h *GovernanceHandler) Config(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}

	cfg, err := h.svc.Config(r.Context(), userID, projectID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toGovernanceConfigResponse(cfg))
}

type updateGovernanceConfigRequest struct {
	ReviewRequired     *bool           `json:"review_required"`
	AutoReviewDays     *int            `json:"auto_review_days"`
	ReviewReminderDays *int            `json:"review_reminder_days"`
	AuditReportCron    *string         `json:"audit_report_cron"`
	TrustUpdateMode    *string         `json:"trust_update_mode"`
	Config             json.RawMessage `json:"config"`
}

// UpdateConfig handles PATCH /governance/config?project_id=.
func (h *GovernanceHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}
	var req updateGovernanceConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cfg, err := h.svc.UpdateConfig(r.Context(), userID, projectID, governance.UpdateConfigInput{
		ReviewRequired:     req.ReviewRequired,
		AutoReviewDays:     req.AutoReviewDays,
		ReviewReminderDays: req.ReviewReminderDays,
		AuditReportCron:    req.AuditReportCron,
		TrustUpdateMode:    req.TrustUpdateMode,
		Config:             req.Config,
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toGovernanceConfigResponse(cfg))
}

// AuditLogs handles GET /governance/audit. Without a project_id the listing
// is global and requires a system admin.
func (h *GovernanceHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	projectID, err := queryUUID(r, "project_id")
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	actorID, err := queryUUID(r, "actor_id")
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	since, err := queryTime(r, "since")
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	until, err := queryTime(r, "until")
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	entries, total, err := h.svc.AuditLogs(r.Context(), userID, auditrepo.Filter{
		ProjectID:    projectID,
		Action:       queryString(r, "action"),
		ResourceType: queryString(r, "resource_type"),
		ActorID:      actorID,
		Since:        since,
		Until:        until,
		Limit:        queryInt(r, "limit", 50),
		Offset:       queryInt(r, "offset", 0),
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	out := make([]auditLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditLogResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": total})
}
