// Package governance owns per-project governance configuration and read
// access to the audit trail the other governance services write.
package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	auditrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/audit"
	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

type configRepo interface {
	Get(ctx context.Context, projectID uuid.UUID) (domain.GovernanceConfig, error)
	Upsert(ctx context.Context, cfg domain.GovernanceConfig) (domain.GovernanceConfig, error)
}

type auditRepo interface {
	Log(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter auditrepo.Filter) ([]domain.AuditLogEntry, int, error)
}

type membershipRepo interface {
	IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	IsProjectAdminOrOwner(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	IsSystemAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

type webhookSink interface {
	DispatchAsync(event webhook.Event)
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service provides governance configuration and audit trail operations.
type Service struct {
	config     configRepo
	audit      auditRepo
	membership membershipRepo
	webhooks   webhookSink
	tx         txManager
	log        *slog.Logger
}

// NewService creates a new Governance service.
func NewService(
	log *slog.Logger,
	config configRepo,
	audit auditRepo,
	membership membershipRepo,
	webhooks webhookSink,
	tx txManager,
) *Service {
	return &Service{
		config:     config,
		audit:      audit,
		membership: membership,
		webhooks:   webhooks,
		tx:         tx,
		log:        log.With("service", "governance"),
	}
}

// Config returns the project's effective configuration. Readable by any
// project member or a system admin; a missing row yields the defaults.
func (s *Service) Config(ctx context.Context, userID, projectID uuid.UUID) (domain.GovernanceConfig, error) {
	member, err := s.membership.IsProjectMember(ctx, projectID, userID)
	if err != nil {
		return domain.GovernanceConfig{}, err
	}
	if !member {
		admin, err := s.membership.IsSystemAdmin(ctx, userID)
		if err != nil {
			return domain.GovernanceConfig{}, err
		}
		if !admin {
			return domain.GovernanceConfig{}, fmt.Errorf("project access denied: %w", domain.ErrForbidden)
		}
	}
	return s.config.Get(ctx, projectID)
}

// UpdateConfigInput patches the project configuration. Nil fields keep their
// stored (or default) values.
type UpdateConfigInput struct {
	ReviewRequired     *bool
	AutoReviewDays     *int
	ReviewReminderDays *int
	AuditReportCron    *string
	TrustUpdateMode    *string
	Config             []byte
}

// UpdateConfig merges the patch over the current configuration and stores the
// result, writing the audit entry in the same transaction. Project admins,
// owners and system admins only.
func (s *Service) UpdateConfig(ctx context.Context, actorID, projectID uuid.UUID, in UpdateConfigInput) (domain.GovernanceConfig, error) {
	if err := s.requireConfigAdmin(ctx, projectID, actorID); err != nil {
		return domain.GovernanceConfig{}, err
	}

	if in.AutoReviewDays != nil && *in.AutoReviewDays < 0 {
		return domain.GovernanceConfig{}, domain.NewValidationError("auto_review_days", "auto_review_days must be >= 0")
	}
	if in.ReviewReminderDays != nil && *in.ReviewReminderDays < 0 {
		return domain.GovernanceConfig{}, domain.NewValidationError("review_reminder_days", "review_reminder_days must be >= 0")
	}
	if in.TrustUpdateMode != nil {
		mode := strings.TrimSpace(*in.TrustUpdateMode)
		if mode == "" || len(mode) > 30 {
			return domain.GovernanceConfig{}, domain.NewValidationError("trust_update_mode", "invalid trust_update_mode")
		}
	}
	if in.AuditReportCron != nil {
		cron := strings.TrimSpace(*in.AuditReportCron)
		if cron == "" || len(cron) > 100 {
			return domain.GovernanceConfig{}, domain.NewValidationError("audit_report_cron", "invalid audit_report_cron")
		}
	}
	if in.Config != nil {
		var obj map[string]any
		if err := json.Unmarshal(in.Config, &obj); err != nil {
			return domain.GovernanceConfig{}, domain.NewValidationError("config", "config must be a JSON object")
		}
	}

	var updated domain.GovernanceConfig
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.config.Get(txCtx, projectID)
		if err != nil {
			return err
		}

		next := current
		if in.ReviewRequired != nil {
			next.ReviewRequired = *in.ReviewRequired
		}
		if in.AutoReviewDays != nil {
			next.AutoReviewDays = *in.AutoReviewDays
		}
		if in.ReviewReminderDays != nil {
			next.ReviewReminderDays = *in.ReviewReminderDays
		}
		if in.AuditReportCron != nil {
			next.AuditReportCron = strings.TrimSpace(*in.AuditReportCron)
		}
		if in.TrustUpdateMode != nil {
			next.TrustUpdateMode = strings.TrimSpace(*in.TrustUpdateMode)
		}
		if in.Config != nil {
			next.Config = in.Config
		}
		next.UpdatedBy = &actorID

		updated, err = s.config.Upsert(txCtx, next)
		if err != nil {
			return err
		}

		resourceID := projectID.String()
		oldValue, _ := json.Marshal(configDoc(current))
		newValue, _ := json.Marshal(configDoc(updated))
		metadata, _ := json.Marshal(map[string]any{
			"source": "api",
			"updated_fields": map[string]bool{
				"review_required":      in.ReviewRequired != nil,
				"auto_review_days":     in.AutoReviewDays != nil,
				"review_reminder_days": in.ReviewReminderDays != nil,
				"audit_report_cron":    in.AuditReportCron != nil,
				"trust_update_mode":    in.TrustUpdateMode != nil,
				"config":               in.Config != nil,
			},
		})
		return s.audit.Log(txCtx, domain.AuditLogEntry{
			ProjectID:    projectID,
			ActorID:      &actorID,
			Action:       "governance.config.updated",
			ResourceType: "governance_config",
			ResourceID:   &resourceID,
			OldValue:     oldValue,
			NewValue:     newValue,
			Metadata:     metadata,
		})
	})
	if err != nil {
		return domain.GovernanceConfig{}, err
	}

	s.webhooks.DispatchAsync(webhook.Event{
		Type:      "governance_config.updated",
		ProjectID: projectID.String(),
		Data:      configDoc(updated),
	})

	s.log.InfoContext(ctx, "governance config updated",
		slog.String("project_id", projectID.String()),
	)
	return updated, nil
}

// AuditLogs returns the audit trail, newest first, plus the total match
// count. Project-scoped queries need membership or system admin; global
// queries need system admin.
func (s *Service) AuditLogs(ctx context.Context, userID uuid.UUID, filter auditrepo.Filter) ([]domain.AuditLogEntry, int, error) {
	if filter.ProjectID != nil {
		member, err := s.membership.IsProjectMember(ctx, *filter.ProjectID, userID)
		if err != nil {
			return nil, 0, err
		}
		if !member {
			admin, err := s.membership.IsSystemAdmin(ctx, userID)
			if err != nil {
				return nil, 0, err
			}
			if !admin {
				return nil, 0, fmt.Errorf("project access denied: %w", domain.ErrForbidden)
			}
		}
	} else {
		admin, err := s.membership.IsSystemAdmin(ctx, userID)
		if err != nil {
			return nil, 0, err
		}
		if !admin {
			return nil, 0, fmt.Errorf("admin access required for global audit logs: %w", domain.ErrForbidden)
		}
	}
	return s.audit.List(ctx, filter)
}

func (s *Service) requireConfigAdmin(ctx context.Context, projectID, userID uuid.UUID) error {
	admin, err := s.membership.IsProjectAdminOrOwner(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	system, err := s.membership.IsSystemAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !system {
		return fmt.Errorf("admin or owner required: %w", domain.ErrForbidden)
	}
	return nil
}

// configDoc renders a config for audit payloads and webhooks.
func configDoc(cfg domain.GovernanceConfig) map[string]any {
	var raw any
	if len(cfg.Config) > 0 {
		_ = json.Unmarshal(cfg.Config, &raw)
	}
	return map[string]any{
		"project_id":           cfg.ProjectID.String(),
		"review_required":      cfg.ReviewRequired,
		"auto_review_days":     cfg.AutoReviewDays,
		"review_reminder_days": cfg.ReviewReminderDays,
		"audit_report_cron":    cfg.AuditReportCron,
		"trust_update_mode":    cfg.TrustUpdateMode,
		"config":               raw,
	}
}
