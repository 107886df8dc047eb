package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// CompleteInput carries the reviewer's conclusions. Nil fields are left
// untouched.
type CompleteInput struct {
	Rating           *string
	Status           *string
	GoalAchievements []byte
	Achievements     *string
	Lessons          *string
	Metrics          []byte
	DataSources      []byte
}

// Complete records the review outcome. Setting a rating completes the review
// and, exactly once, writes the participant trust deltas and AI learning
// records in the same transaction. An F rating flags the review as requiring
// a repair suggestion.
func (s *Service) Complete(ctx context.Context, reviewerID uuid.UUID, proposalID string, in CompleteInput) (domain.ImpactReview, error) {
	var rev domain.ImpactReview

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		rev, err = s.reviews.GetByProposalForUpdate(txCtx, proposalID)
		if err != nil {
			return err
		}

		if in.Status != nil {
			status := domain.ReviewStatus(strings.ToLower(strings.TrimSpace(*in.Status)))
			if !status.IsValid() {
				return domain.NewValidationError("status", "invalid review status")
			}
			rev.Status = status
		}
		if in.Rating != nil {
			rating := domain.ReviewRating(strings.ToUpper(strings.TrimSpace(*in.Rating)))
			if !rating.IsValid() {
				return domain.NewValidationError("rating", "invalid review rating")
			}
			rev.Rating = &rating
			rev.Status = domain.ReviewStatusCompleted
			now := time.Now().UTC()
			rev.ConductedAt = &now
		}
		if in.GoalAchievements != nil {
			rev.GoalAchievements = in.GoalAchievements
		}
		if in.Achievements != nil {
			rev.Achievements = in.Achievements
		}
		if in.Lessons != nil {
			rev.Lessons = in.Lessons
		}
		if in.Metrics != nil {
			rev.Metrics = in.Metrics
		}
		if in.DataSources != nil {
			rev.DataSources = in.DataSources
		}

		if rev.Status == domain.ReviewStatusCompleted && rev.Rating == nil {
			return domain.NewValidationError("rating", "completed review must include rating")
		}
		if rev.Rating != nil && *rev.Rating == domain.RatingF {
			rev.DataSources = flagRepairRequired(rev.DataSources)
		}
		rev.ReviewerID = &reviewerID

		applyDeltas := rev.Status == domain.ReviewStatusCompleted &&
			rev.Rating != nil && !rev.TrustScoreApplied
		if applyDeltas {
			rev.TrustScoreApplied = true
		}

		if err := s.reviews.Update(txCtx, rev); err != nil {
			return err
		}
		if !applyDeltas {
			return nil
		}

		if err := s.applyTrustDeltas(txCtx, &rev); err != nil {
			return err
		}
		return s.writeLearningRecords(txCtx, &rev)
	})
	if err != nil {
		return domain.ImpactReview{}, err
	}

	if rev.Status == domain.ReviewStatusCompleted {
		var rating string
		if rev.Rating != nil {
			rating = string(*rev.Rating)
		}
		newValue, _ := json.Marshal(map[string]any{
			"status": string(rev.Status),
			"rating": rating,
		})
		s.writeAudit(ctx, rev.ProjectID, &reviewerID, "impact_review.completed", rev.ID, nil, newValue)

		s.webhooks.DispatchAsync(webhook.Event{
			Type:       "impact_review.completed",
			ProposalID: rev.ProposalID,
			ProjectID:  rev.ProjectID.String(),
			Data:       map[string]any{"review_id": rev.ID, "rating": rating},
		})

		s.log.InfoContext(ctx, "impact review completed",
			slog.String("review_id", rev.ID),
			slog.String("rating", rating),
		)
	}
	return rev, nil
}

// applyTrustDeltas writes every participant's delta into the trust ledger
// under the proposal's primary domain.
func (s *Service) applyTrustDeltas(ctx context.Context, rev *domain.ImpactReview) error {
	p, err := s.proposals.GetByID(ctx, rev.ProposalID)
	if err != nil {
		return err
	}
	primaryDomain := p.PrimaryDomain()

	voterTypes, err := s.voterTypes(ctx, rev.ProposalID)
	if err != nil {
		return err
	}

	participants, err := s.participants.ListParticipants(ctx, rev.ID)
	if err != nil {
		return err
	}

	for _, participant := range participants {
		delta := ParticipantDelta(*rev.Rating, participant)
		if delta == 0 {
			continue
		}

		participantUUID, err := uuid.Parse(participant.UserID)
		if err != nil {
			s.log.DebugContext(ctx, "skip trust score update for non-uuid participant",
				slog.String("review_id", rev.ID),
				slog.String("participant_id", participant.UserID),
			)
			continue
		}

		participantType := domain.ParticipantHuman
		if participant.UserID == p.AuthorID {
			participantType = p.AuthorType
		} else if t, ok := voterTypes[participant.UserID]; ok {
			participantType = t
		}

		reason := fmt.Sprintf("impact review %s rating %s, role %s",
			rev.ID, *rev.Rating, participant.Role)
		err = s.trust.ApplyImpactReviewDeltaInTx(ctx,
			participantUUID, participantType, rev.ProjectID, primaryDomain,
			rev.ID, delta, reason,
		)
		if err != nil {
			return err
		}

		if err := s.participants.SetParticipantScoreChange(ctx, participant.ID, delta); err != nil {
			return err
		}
	}
	return nil
}

// writeLearningRecords appends one learning record per AI participant of the
// review, comparing their ballot with the outcome.
func (s *Service) writeLearningRecords(ctx context.Context, rev *domain.ImpactReview) error {
	p, err := s.proposals.GetByID(ctx, rev.ProposalID)
	if err != nil {
		return err
	}
	primaryDomain := p.PrimaryDomain()

	candidates, err := s.participants.ListLearningCandidates(ctx, rev.ProjectID, rev.ProposalID, rev.ID)
	if err != nil {
		return err
	}

	for _, c := range candidates {
		var followUp *string
		if *rev.Rating == domain.RatingF {
			required := "required"
			followUp = &required
		}

		err := s.participants.InsertLearningRecord(ctx, domain.AILearningRecord{
			AIParticipantID:     c.AIParticipantID,
			ReviewID:            rev.ID,
			ProposalID:          rev.ProposalID,
			Domain:              primaryDomain,
			ReviewRating:        *rev.Rating,
			AIVoteChoice:        c.VoteChoice,
			AIVoteReason:        c.VoteReason,
			OutcomeAlignment:    OutcomeAlignmentFor(*rev.Rating, c.VoteChoice),
			FollowUpImprovement: followUp,
			CreatedAt:           time.Now().UTC(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// voterTypes maps voter id to participant type from the proposal's ballots.
func (s *Service) voterTypes(ctx context.Context, proposalID string) (map[string]domain.ParticipantType, error) {
	votes, err := s.votes.ListByProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	types := make(map[string]domain.ParticipantType, len(votes))
	for _, v := range votes {
		types[v.VoterID] = v.VoterType
	}
	return types, nil
}

// ParticipantDelta computes one participant's trust delta from the review
// rating and their recorded behavior.
func ParticipantDelta(rating domain.ReviewRating, p domain.ReviewParticipant) int {
	var base int
	switch rating {
	case domain.RatingS:
		base = 5
	case domain.RatingA:
		base = 3
	case domain.RatingB:
		base = 1
	case domain.RatingC:
		base = -1
	case domain.RatingF:
		base = -3
	}

	positive := rating.IsPositive()

	bonus := 0
	if p.Role == domain.RoleProposer {
		if positive {
			bonus = 1
		} else {
			bonus = -2
		}
	}

	if p.VoteChoice != nil {
		strong := rating == domain.RatingS || rating == domain.RatingA
		switch *p.VoteChoice {
		case domain.VoteChoiceYes:
			if strong {
				bonus++
			}
		case domain.VoteChoiceNo:
			if rating == domain.RatingF {
				bonus += 2
			}
			if strong {
				bonus--
			}
		}
	}

	if p.ExercisedVeto {
		if p.VetoOverturned {
			bonus--
		} else if !positive {
			bonus++
		}
	}

	return base + bonus
}

// OutcomeAlignmentFor compares a ballot with the review outcome. Abstentions
// and missing ballots are neutral.
func OutcomeAlignmentFor(rating domain.ReviewRating, choice *domain.VoteChoice) domain.OutcomeAlignment {
	if choice == nil {
		return domain.AlignmentNeutral
	}
	positive := rating.IsPositive()
	switch *choice {
	case domain.VoteChoiceAbstain:
		return domain.AlignmentNeutral
	case domain.VoteChoiceYes:
		if positive {
			return domain.AlignmentAligned
		}
	case domain.VoteChoiceNo:
		if !positive {
			return domain.AlignmentAligned
		}
	}
	return domain.AlignmentMisaligned
}

// flagRepairRequired sets repair_suggestion_required in the review's data
// sources document, tolerating malformed or missing JSON.
func flagRepairRequired(dataSources []byte) []byte {
	doc := map[string]any{}
	if len(dataSources) > 0 {
		if err := json.Unmarshal(dataSources, &doc); err != nil {
			doc = map[string]any{}
		}
	}
	doc["repair_suggestion_required"] = true
	out, _ := json.Marshal(doc)
	return out
}
