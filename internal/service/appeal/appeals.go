package appeal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	appealrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/appeal"
	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// CreateInput is the payload for submitting an appeal.
type CreateInput struct {
	LogID    int64
	Reason   string
	Evidence []byte
}

// Create submits a pending appeal against one trust ledger entry. Only the
// entry's owner can appeal, and only one pending appeal per entry is allowed.
func (s *Service) Create(ctx context.Context, appellantID uuid.UUID, in CreateInput) (domain.Appeal, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return domain.Appeal{}, domain.NewValidationError("reason", "reason is required")
	}

	l, err := s.trustLogs.GetLogByID(ctx, in.LogID)
	if err != nil {
		return domain.Appeal{}, err
	}
	if l.UserID != appellantID {
		return domain.Appeal{}, fmt.Errorf("only the score owner can submit an appeal: %w", domain.ErrForbidden)
	}

	pending, err := s.appeals.PendingExistsForLog(ctx, in.LogID)
	if err != nil {
		return domain.Appeal{}, err
	}
	if pending {
		return domain.Appeal{}, fmt.Errorf("pending appeal already exists: %w", domain.ErrConflict)
	}

	a, err := s.appeals.Create(ctx, domain.Appeal{
		LogID:       in.LogID,
		AppellantID: appellantID,
		Reason:      reason,
		Evidence:    in.Evidence,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.Appeal{}, err
	}

	newValue, _ := json.Marshal(map[string]any{
		"log_id": a.LogID,
		"reason": a.Reason,
	})
	s.writeAudit(ctx, l.ProjectID, &appellantID, "appeal.created", a.ID, nil, newValue)

	s.webhooks.DispatchAsync(webhook.Event{
		Type:      "appeal.created",
		ProjectID: l.ProjectID.String(),
		Data: map[string]any{
			"appeal_id": a.ID,
			"log_id":    a.LogID,
			"domain":    l.Domain,
		},
	})

	s.log.InfoContext(ctx, "appeal created",
		slog.Int64("appeal_id", a.ID),
		slog.Int64("log_id", a.LogID),
	)
	return a, nil
}

// Get returns an appeal visible to the user: the appellant, a project
// admin/owner, or a vetoer in the contested entry's domain.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, id int64) (domain.Appeal, error) {
	a, err := s.appeals.GetByID(ctx, id)
	if err != nil {
		return domain.Appeal{}, err
	}
	if a.AppellantID == userID {
		return a, nil
	}

	l, err := s.trustLogs.GetLogByID(ctx, a.LogID)
	if err != nil {
		return domain.Appeal{}, err
	}
	ok, err := s.canReview(ctx, userID, l)
	if err != nil {
		return domain.Appeal{}, err
	}
	if !ok {
		return domain.Appeal{}, fmt.Errorf("appeal access denied: %w", domain.ErrForbidden)
	}
	return a, nil
}

// ListInput narrows an appeal listing.
type ListInput struct {
	Status *string
	Mine   bool
	Limit  int
	Offset int
}

// List returns appeals visible to the user, newest first. Mine restricts to
// the user's own submissions; otherwise own appeals plus those the user can
// review are included.
func (s *Service) List(ctx context.Context, userID uuid.UUID, in ListInput) ([]domain.Appeal, error) {
	filter := appealrepo.Filter{Limit: in.Limit, Offset: in.Offset}

	if in.Status != nil {
		normalized := domain.AppealStatus(strings.ToLower(strings.TrimSpace(*in.Status)))
		switch normalized {
		case domain.AppealStatusPending, domain.AppealStatusAccepted, domain.AppealStatusRejected:
			filter.Status = &normalized
		default:
			return nil, domain.NewValidationError("status", "invalid status")
		}
	}

	if in.Mine {
		filter.AppellantID = &userID
		return s.appeals.List(ctx, filter)
	}

	all, err := s.appeals.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	reviewable := map[uuid.UUID]map[string]bool{}
	visible := make([]domain.Appeal, 0, len(all))
	for _, a := range all {
		if a.AppellantID == userID {
			visible = append(visible, a)
			continue
		}
		l, err := s.trustLogs.GetLogByID(ctx, a.LogID)
		if err != nil {
			return nil, err
		}
		byDomain, cached := reviewable[l.ProjectID]
		if !cached {
			byDomain = map[string]bool{}
			reviewable[l.ProjectID] = byDomain
		}
		ok, cached := byDomain[l.Domain]
		if !cached {
			ok, err = s.canReview(ctx, userID, l)
			if err != nil {
				return nil, err
			}
			byDomain[l.Domain] = ok
		}
		if ok {
			visible = append(visible, a)
		}
	}
	return visible, nil
}

// ResolveInput is the reviewer's verdict.
type ResolveInput struct {
	Status     string
	ReviewNote *string
}

// Resolve rules on a pending appeal. Acceptance applies a compensating trust
// adjustment of the opposite sign in the same transaction, and either verdict
// stamps the contested ledger entry with the result.
func (s *Service) Resolve(ctx context.Context, reviewerID uuid.UUID, id int64, in ResolveInput) (domain.Appeal, error) {
	status := domain.AppealStatus(strings.ToLower(strings.TrimSpace(in.Status)))
	if status != domain.AppealStatusAccepted && status != domain.AppealStatusRejected {
		return domain.Appeal{}, domain.NewValidationError("status", "status must be accepted or rejected")
	}

	var (
		a   domain.Appeal
		l   domain.TrustScoreLog
		old domain.AppealStatus
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		a, err = s.appeals.GetByIDForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if a.Status != domain.AppealStatusPending {
			return fmt.Errorf("appeal is already resolved: %w", domain.ErrConflict)
		}
		old = a.Status

		l, err = s.trustLogs.GetLogByID(txCtx, a.LogID)
		if err != nil {
			return err
		}
		ok, err := s.canReview(txCtx, reviewerID, l)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("admin or domain vetoer required: %w", domain.ErrForbidden)
		}

		if status == domain.AppealStatusAccepted {
			participantType, err := s.participantType(txCtx, l.UserID, l.ProjectID)
			if err != nil {
				return err
			}
			err = s.trust.ApplyManualAdjustmentInTx(txCtx,
				l.UserID, participantType, l.ProjectID, l.Domain,
				-l.ScoreChange,
				domain.EventAppealAccepted,
				fmt.Sprintf("APL-%d", a.ID),
				fmt.Sprintf("appeal %d accepted", a.ID),
			)
			if err != nil {
				return err
			}
		}

		if err := s.trustLogs.MarkLogAppealed(txCtx, l.ID, string(status)); err != nil {
			return err
		}

		now := time.Now().UTC()
		a.Status = status
		a.ReviewerID = &reviewerID
		a.ReviewNote = in.ReviewNote
		a.ResolvedAt = &now
		return s.appeals.Resolve(txCtx, a)
	})
	if err != nil {
		return domain.Appeal{}, err
	}

	oldValue, _ := json.Marshal(map[string]any{"status": string(old)})
	newValue, _ := json.Marshal(map[string]any{"status": string(status)})
	s.writeAudit(ctx, l.ProjectID, &reviewerID, "appeal.resolved", a.ID, oldValue, newValue)

	s.webhooks.DispatchAsync(webhook.Event{
		Type:      "appeal.resolved",
		ProjectID: l.ProjectID.String(),
		Data: map[string]any{
			"appeal_id": a.ID,
			"log_id":    a.LogID,
			"status":    string(status),
		},
	})

	s.log.InfoContext(ctx, "appeal resolved",
		slog.Int64("appeal_id", a.ID),
		slog.String("status", string(status)),
	)
	return a, nil
}

// Delete removes a pending appeal. Only the appellant can delete, and only
// while no verdict exists.
func (s *Service) Delete(ctx context.Context, userID uuid.UUID, id int64) error {
	a, err := s.appeals.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.AppellantID != userID {
		return fmt.Errorf("only appellant can delete appeal: %w", domain.ErrForbidden)
	}
	if a.Status != domain.AppealStatusPending {
		return domain.NewValidationError("status", "only pending appeal can be deleted")
	}
	return s.appeals.Delete(ctx, id)
}
