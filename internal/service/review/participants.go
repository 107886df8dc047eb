package review

import (
	"context"
	"fmt"
	"strings"

	reviewrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/impactreview"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// ParticipantInput registers or replaces one roster entry.
type ParticipantInput struct {
	UserID         string
	Role           string
	VoteChoice     *string
	ExercisedVeto  bool
	VetoOverturned bool
}

// UpsertParticipant adds or replaces a manually managed participant.
func (s *Service) UpsertParticipant(ctx context.Context, reviewID string, in ParticipantInput) (domain.ReviewParticipant, error) {
	if _, err := s.reviews.GetByID(ctx, reviewID); err != nil {
		return domain.ReviewParticipant{}, err
	}

	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return domain.ReviewParticipant{}, domain.NewValidationError("user_id", "user_id is required")
	}
	role := strings.TrimSpace(in.Role)
	if role == "" {
		return domain.ReviewParticipant{}, domain.NewValidationError("role", "role is required")
	}

	choice, err := parseOptionalChoice(in.VoteChoice)
	if err != nil {
		return domain.ReviewParticipant{}, err
	}

	return s.participants.UpsertParticipant(ctx, domain.ReviewParticipant{
		ReviewID:       reviewID,
		UserID:         userID,
		Role:           role,
		VoteChoice:     choice,
		ExercisedVeto:  in.ExercisedVeto,
		VetoOverturned: in.VetoOverturned,
	})
}

// ParticipantUpdate patches one roster entry. Nil fields are left untouched.
type ParticipantUpdate struct {
	FeedbackSubmitted *bool
	FeedbackContent   *string
	Role              *string
	VoteChoice        *string
	ExercisedVeto     *bool
	VetoOverturned    *bool
}

// UpdateParticipant patches a participant's feedback and roster fields.
func (s *Service) UpdateParticipant(ctx context.Context, reviewID, userID string, in ParticipantUpdate) (domain.ReviewParticipant, error) {
	p, err := s.participants.GetParticipant(ctx, reviewID, strings.TrimSpace(userID))
	if err != nil {
		return domain.ReviewParticipant{}, err
	}

	if in.FeedbackSubmitted != nil {
		p.FeedbackSubmitted = *in.FeedbackSubmitted
	}
	if in.FeedbackContent != nil {
		trimmed := strings.TrimSpace(*in.FeedbackContent)
		if trimmed == "" {
			p.FeedbackContent = nil
		} else {
			p.FeedbackContent = &trimmed
		}
	}
	if in.Role != nil {
		role := strings.TrimSpace(*in.Role)
		if role == "" {
			return domain.ReviewParticipant{}, domain.NewValidationError("role", "role cannot be empty")
		}
		p.Role = role
	}
	if in.VoteChoice != nil {
		choice, err := parseOptionalChoice(in.VoteChoice)
		if err != nil {
			return domain.ReviewParticipant{}, err
		}
		p.VoteChoice = choice
	}
	if in.ExercisedVeto != nil {
		p.ExercisedVeto = *in.ExercisedVeto
	}
	if in.VetoOverturned != nil {
		p.VetoOverturned = *in.VetoOverturned
	}

	if err := s.participants.UpdateParticipant(ctx, p); err != nil {
		return domain.ReviewParticipant{}, err
	}
	return p, nil
}

// RemoveParticipant deletes one roster entry.
func (s *Service) RemoveParticipant(ctx context.Context, reviewID, userID string) error {
	return s.participants.RemoveParticipant(ctx, reviewID, strings.TrimSpace(userID))
}

// Participants returns the review's roster.
func (s *Service) Participants(ctx context.Context, reviewID string) ([]domain.ReviewParticipant, error) {
	return s.participants.ListParticipants(ctx, reviewID)
}

// Summarize returns participation and trust-delta aggregates for a review.
func (s *Service) Summarize(ctx context.Context, reviewID string) (reviewrepo.Summary, error) {
	return s.reviews.Summarize(ctx, reviewID)
}

func parseOptionalChoice(raw *string) (*domain.VoteChoice, error) {
	if raw == nil {
		return nil, nil
	}
	normalized := strings.ToLower(strings.TrimSpace(*raw))
	if normalized == "" {
		return nil, nil
	}
	choice := domain.VoteChoice(normalized)
	if !choice.IsValid() {
		return nil, domain.NewValidationError("vote_choice", fmt.Sprintf("invalid vote_choice %q", normalized))
	}
	return &choice, nil
}
