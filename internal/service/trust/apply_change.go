package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/concord-backend/internal/adapter/postgres/trustscore"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Three consecutive rejections put the author in a week-long cooldown.
const (
	cooldownRejections = 3
	cooldownDuration   = 7 * 24 * time.Hour
)

// ChangeInput describes one trust score mutation. (user, project, domain,
// event_type, event_id) is the idempotency key: re-applying the same event
// is a no-op.
type ChangeInput struct {
	UserID    uuid.UUID
	UserType  domain.ParticipantType
	ProjectID uuid.UUID
	Domain    string
	Delta     int
	EventType domain.TrustEventType
	EventID   string
	Reason    string
}

// ApplyChange applies one mutation in its own transaction.
func (s *Service) ApplyChange(ctx context.Context, in ChangeInput) error {
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		return s.ApplyChangeInTx(txCtx, in)
	})
}

// ApplyChangeInTx applies one mutation on the caller's transaction. The flow
// is: idempotency check, lazy row creation, lock, re-check under the lock,
// recompute score/level/weight/streak, append the ledger entry, write the
// audit record, sync vetoer rights.
func (s *Service) ApplyChangeInTx(ctx context.Context, in ChangeInput) error {
	key := trustscore.Key{UserID: in.UserID, ProjectID: in.ProjectID, Domain: in.Domain}

	applied, err := s.alreadyApplied(ctx, key, in.EventType, in.EventID)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	current, err := s.lockOrCreate(ctx, key, in.UserType)
	if err != nil {
		return err
	}

	// A concurrent tx may have applied the event between the first check and
	// taking the lock.
	applied, err = s.alreadyApplied(ctx, key, in.EventType, in.EventID)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	oldScore := current.Score
	oldLevel := current.Level
	oldRejections := current.ConsecutiveRejections

	newScore := oldScore + in.Delta
	if newScore < 0 {
		newScore = 0
	}
	newLevel := domain.LevelForScore(newScore)
	newWeight := domain.WeightForScore(newScore)

	newRejections := oldRejections
	switch in.EventType {
	case domain.EventProposalRejected:
		newRejections = oldRejections + 1
	case domain.EventProposalApproved:
		newRejections = 0
	}

	now := time.Now().UTC()
	var cooldownUntil *time.Time
	if newRejections >= cooldownRejections {
		until := now.Add(cooldownDuration)
		cooldownUntil = &until
	}

	current.Score = newScore
	current.Level = newLevel
	current.VoteWeight = newWeight
	current.ConsecutiveRejections = newRejections
	current.CooldownUntil = cooldownUntil
	current.UpdatedAt = now

	if err := s.scores.Update(ctx, current); err != nil {
		return fmt.Errorf("update trust score %s: %w", key, err)
	}

	_, err = s.scores.InsertLog(ctx, domain.TrustScoreLog{
		UserID:      in.UserID,
		ProjectID:   in.ProjectID,
		Domain:      in.Domain,
		EventType:   in.EventType,
		EventID:     in.EventID,
		ScoreChange: in.Delta,
		OldScore:    oldScore,
		NewScore:    newScore,
		OldLevel:    oldLevel,
		NewLevel:    newLevel,
		Reason:      in.Reason,
		CreatedAt:   now,
	})
	if err != nil {
		// A concurrent insert of the same event after our lock means another
		// tx won; treat as applied.
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("append trust ledger %s: %w", key, err)
	}

	if err := s.writeAudit(ctx, key, in, current, oldScore, oldLevel, oldRejections); err != nil {
		return err
	}

	if err := s.syncVetoerRights(ctx, in.UserID, in.ProjectID, in.Domain, newLevel); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "trust score changed",
		slog.String("user_id", in.UserID.String()),
		slog.String("project_id", in.ProjectID.String()),
		slog.String("domain", in.Domain),
		slog.String("event", string(in.EventType)),
		slog.Int("delta", in.Delta),
		slog.Int("new_score", newScore),
		slog.String("new_level", string(newLevel)),
	)
	return nil
}

func (s *Service) alreadyApplied(ctx context.Context, key trustscore.Key, eventType domain.TrustEventType, eventID string) (bool, error) {
	_, err := s.scores.FindLog(ctx, key, eventType, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check trust ledger %s: %w", key, err)
	}
	return true, nil
}

// lockOrCreate returns the score row locked FOR UPDATE, inserting the default
// row first when the user has no history in this domain.
func (s *Service) lockOrCreate(ctx context.Context, key trustscore.Key, userType domain.ParticipantType) (domain.TrustScore, error) {
	current, err := s.scores.GetForUpdate(ctx, key)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.TrustScore{}, fmt.Errorf("lock trust score %s: %w", key, err)
	}

	if err := s.scores.InsertDefault(ctx, key, userType); err != nil {
		return domain.TrustScore{}, fmt.Errorf("create trust score %s: %w", key, err)
	}
	current, err = s.scores.GetForUpdate(ctx, key)
	if err != nil {
		return domain.TrustScore{}, fmt.Errorf("lock trust score %s after create: %w", key, err)
	}
	return current, nil
}

func (s *Service) writeAudit(ctx context.Context, key trustscore.Key, in ChangeInput, updated domain.TrustScore, oldScore int, oldLevel domain.TrustLevel, oldRejections int) error {
	oldValue, err := json.Marshal(map[string]any{
		"score":                  oldScore,
		"level":                  string(oldLevel),
		"consecutive_rejections": oldRejections,
	})
	if err != nil {
		return fmt.Errorf("marshal audit old value: %w", err)
	}

	var cooldown *string
	if updated.CooldownUntil != nil {
		s := updated.CooldownUntil.Format(time.RFC3339)
		cooldown = &s
	}
	newValue, err := json.Marshal(map[string]any{
		"score":                  updated.Score,
		"level":                  string(updated.Level),
		"vote_weight":            updated.VoteWeight,
		"consecutive_rejections": updated.ConsecutiveRejections,
		"cooldown_until":         cooldown,
	})
	if err != nil {
		return fmt.Errorf("marshal audit new value: %w", err)
	}

	metadata, err := json.Marshal(map[string]any{
		"event_type": string(in.EventType),
		"event_id":   in.EventID,
		"delta":      in.Delta,
		"reason":     in.Reason,
	})
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	resourceID := key.String()
	if err := s.audit.Log(ctx, domain.AuditLogEntry{
		ProjectID:    in.ProjectID,
		Action:       "trust_score.changed",
		ResourceType: "trust_score",
		ResourceID:   &resourceID,
		OldValue:     oldValue,
		NewValue:     newValue,
		Metadata:     metadata,
	}); err != nil {
		return fmt.Errorf("audit trust change %s: %w", key, err)
	}
	return nil
}

// syncVetoerRights keeps the trust-granted vetoer row in step with the level.
// Manual grants are never revoked here.
func (s *Service) syncVetoerRights(ctx context.Context, userID, projectID uuid.UUID, dom string, level domain.TrustLevel) error {
	if level.Rank() >= domain.LevelVetoer.Rank() {
		if err := s.vetoers.EnsureTrustGranted(ctx, userID, projectID, dom); err != nil {
			return fmt.Errorf("grant vetoer rights %s/%s: %w", userID, dom, err)
		}
		return nil
	}
	if err := s.vetoers.RevokeTrustGranted(ctx, userID, projectID, dom); err != nil {
		return fmt.Errorf("revoke vetoer rights %s/%s: %w", userID, dom, err)
	}
	return nil
}
