package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	reviewrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/impactreview"
	"github.com/heartmarshall/concord-backend/internal/domain"
	"github.com/heartmarshall/concord-backend/internal/service/review"
)

type reviewService interface {
	GetByProposal(ctx context.Context, proposalID string) (domain.ImpactReview, error)
	GetByID(ctx context.Context, id string) (domain.ImpactReview, error)
	List(ctx context.Context, filter reviewrepo.Filter) ([]domain.ImpactReview, int, error)
	Schedule(ctx context.Context, proposalID string, autoTriggered bool) (domain.ImpactReview, error)
	Reschedule(ctx context.Context, proposalID string, reviewerID *uuid.UUID, scheduledAt *time.Time) (domain.ImpactReview, error)
	Complete(ctx context.Context, reviewerID uuid.UUID, proposalID string, in review.CompleteInput) (domain.ImpactReview, error)
	Delete(ctx context.Context, proposalID string) error
	UpsertParticipant(ctx context.Context, reviewID string, in review.ParticipantInput) (domain.ReviewParticipant, error)
	UpdateParticipant(ctx context.Context, reviewID, userID string, in review.ParticipantUpdate) (domain.ReviewParticipant, error)
	RemoveParticipant(ctx context.Context, reviewID, userID string) error
	Participants(ctx context.Context, reviewID string) ([]domain.ReviewParticipant, error)
	Summarize(ctx context.Context, reviewID string) (reviewrepo.Summary, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ImpactReview, error)
}

// ReviewHandler serves impact-review REST endpoints.
type ReviewHandler struct {
	svc reviewService
	log *slog.Logger
}

// NewReviewHandler creates a ReviewHandler.
func NewReviewHandler(svc reviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{svc: svc, log: logger.With("handler", "review")}
}

// GetByProposal handles GET /proposals/{id}/review.
func (h *ReviewHandler) GetByProposal(w http.ResponseWriter, r *http.Request) {
	rev, err := h.svc.GetByProposal(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewResponse(rev))
}

// Get handles GET /reviews/{id}.
func (h *ReviewHandler) Get(w http.ResponseWriter, r *http.Request) {
	rev, err := h.svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewResponse(rev))
}

// List handles GET /reviews.
func (h *ReviewHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, err := queryUUID(r, "project_id")
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	filter := reviewrepo.Filter{
		ProjectID: projectID,
		Page:      queryInt(r, "page", 1),
		PerPage:   queryInt(r, "per_page", 20),
	}
	if raw := queryString(r, "status"); raw != nil {
		status := domain.ReviewStatus(strings.ToLower(*raw))
		filter.Status = &status
	}
	if raw := queryString(r, "rating"); raw != nil {
		rating := domain.ReviewRating(strings.ToUpper(*raw))
		filter.Rating = &rating
	}

	reviews, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	out := make([]reviewResponse, 0, len(reviews))
	for _, rev := range reviews {
		out = append(out, toReviewResponse(rev))
	}
	writeJSON(w, http.StatusOK, newPaginated(out, total, filter.Page, filter.PerPage))
}

// ListDue handles GET /reviews/due.
func (h *ReviewHandler) ListDue(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.svc.ListDue(r.Context(), time.Now().UTC(), queryInt(r, "limit", 50))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	out := make([]reviewResponse, 0, len(reviews))
	for _, rev := range reviews {
		out = append(out, toReviewResponse(rev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// Schedule handles POST /proposals/{id}/review.
func (h *ReviewHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	rev, err := h.svc.Schedule(r.Context(), r.PathValue("id"), false)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReviewResponse(rev))
}

type rescheduleReviewRequest struct {
	ReviewerID  *string    `json:"reviewer_id"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// Reschedule handles PATCH /proposals/{id}/review.
func (h *ReviewHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var req rescheduleReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var reviewerID *uuid.UUID
	if req.ReviewerID != nil {
		id, err := uuid.Parse(*req.ReviewerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid reviewer_id")
			return
		}
		reviewerID = &id
	}

	rev, err := h.svc.Reschedule(r.Context(), r.PathValue("id"), reviewerID, req.ScheduledAt)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewResponse(rev))
}

type completeReviewRequest struct {
	Rating           *string         `json:"rating"`
	Status           *string         `json:"status"`
	GoalAchievements json.RawMessage `json:"goal_achievements"`
	Achievements     *string         `json:"achievements"`
	Lessons          *string         `json:"lessons"`
	Metrics          json.RawMessage `json:"metrics"`
	DataSources      json.RawMessage `json:"data_sources"`
}

// Complete handles POST /proposals/{id}/review/complete.
func (h *ReviewHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req completeReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rev, err := h.svc.Complete(r.Context(), userID, r.PathValue("id"), review.CompleteInput{
		Rating:           req.Rating,
		Status:           req.Status,
		GoalAchievements: req.GoalAchievements,
		Achievements:     req.Achievements,
		Lessons:          req.Lessons,
		Metrics:          req.Metrics,
		DataSources:      req.DataSources,
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewResponse(rev))
}

// Delete handles DELETE /proposals/{id}/review.
func (h *ReviewHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Participants handles GET /reviews/{id}/participants.
func (h *ReviewHandler) Participants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.svc.Participants(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	out := make([]participantResponse, 0, len(participants))
	for _, p := range participants {
		out = append(out, toParticipantResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

type upsertParticipantRequest struct {
	UserID         string  `json:"user_id"`
	Role           string  `json:"role"`
	VoteChoice     *string `json:"vote_choice"`
	ExercisedVeto  bool    `json:"exercised_veto"`
	VetoOverturned bool    `json:"veto_overturned"`
}

// UpsertParticipant handles POST /reviews/{id}/participants.
func (h *ReviewHandler) UpsertParticipant(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var req upsertParticipantRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.svc.UpsertParticipant(r.Context(), r.PathValue("id"), review.ParticipantInput{
		UserID:         req.UserID,
		Role:           req.Role,
		VoteChoice:     req.VoteChoice,
		ExercisedVeto:  req.ExercisedVeto,
		VetoOverturned: req.VetoOverturned,
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toParticipantResponse(p))
}

type updateParticipantRequest struct {
	FeedbackSubmitted *bool   `json:"feedback_submitted"`
	FeedbackContent   *string `json:"feedback_content"`
	Role              *string `json:"role"`
	VoteChoice        *string `json:"vote_choice"`
	ExercisedVeto     *bool   `json:"exercised_veto"`
	VetoOverturned    *bool   `json:"veto_overturned"`
}

// UpdateParticipant handles PATCH /reviews/{id}/participants/{user_id}.
func (h *ReviewHandler) UpdateParticipant(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var req updateParticipantRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.svc.UpdateParticipant(r.Context(), r.PathValue("id"), r.PathValue("user_id"), review.ParticipantUpdate{
		FeedbackSubmitted: req.FeedbackSubmitted,
		FeedbackContent:   req.FeedbackContent,
		Role:              req.Role,
		VoteChoice:        req.VoteChoice,
		ExercisedVeto:     req.ExercisedVeto,
		VetoOverturned:    req.VetoOverturned,
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantResponse(p))
}

// RemoveParticipant handles DELETE /reviews/{id}/participants/{user_id}.
func (h *ReviewHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	if err := h.svc.RemoveParticipant(r.Context(), r.PathValue("id"), r.PathValue("user_id")); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Summary handles GET /reviews/{id}/summary.
func (h *ReviewHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Summarize(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"participants_count":       s.ParticipantsCount,
		"feedback_submitted_count": s.FeedbackSubmittedCount,
		"trust_delta_total":        s.TrustDeltaTotal,
		"trust_delta_avg":          s.TrustDeltaAvg,
	})
}
