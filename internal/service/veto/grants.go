package veto

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	vetoerrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/vetoer"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// GrantInput creates a vetoer grant.
type GrantInput struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
	Domain    string
	// GrantedBy is "manual_grant" or "trust_score"; empty means manual.
	GrantedBy string
}

// Grant gives a user veto rights in (project, domain). Project admin or
// owner only.
func (s *Service) Grant(ctx context.Context, requesterID uuid.UUID, in GrantInput) (domain.Vetoer, error) {
	admin, err := s.membership.IsProjectAdminOrOwner(ctx, in.ProjectID, requesterID)
	if err != nil {
		return domain.Vetoer{}, err
	}
	if !admin {
		return domain.Vetoer{}, fmt.Errorf("admin or owner required: %w", domain.ErrForbidden)
	}

	dom := domain.NormalizeDomainKey(in.Domain)
	if dom == "" {
		return domain.Vetoer{}, domain.NewValidationError("domain", "domain is required")
	}

	source := domain.GrantManual
	if in.GrantedBy != "" {
		source = domain.GrantSource(strings.ToLower(strings.TrimSpace(in.GrantedBy)))
		if source != domain.GrantManual && source != domain.GrantTrustScore {
			return domain.Vetoer{}, domain.NewValidationError("granted_by",
				"granted_by must be manual_grant or trust_score")
		}
	}

	grant, err := s.vetoers.Create(ctx, domain.Vetoer{
		UserID:    in.UserID,
		ProjectID: in.ProjectID,
		Domain:    dom,
		GrantedBy: source,
		GrantedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Vetoer{}, err
	}

	s.log.InfoContext(ctx, "vetoer granted",
		slog.String("user_id", in.UserID.String()),
		slog.String("project_id", in.ProjectID.String()),
		slog.String("domain", dom),
		slog.String("granted_by", string(source)),
	)
	return grant, nil
}

// Revoke removes a vetoer grant. Project admin or owner only.
func (s *Service) Revoke(ctx context.Context, requesterID, userID, projectID uuid.UUID, dom string) error {
	admin, err := s.membership.IsProjectAdminOrOwner(ctx, projectID, requesterID)
	if err != nil {
		return err
	}
	if !admin {
		return fmt.Errorf("admin or owner required: %w", domain.ErrForbidden)
	}

	key := domain.NormalizeDomainKey(dom)
	if key == "" {
		return domain.NewValidationError("domain", "domain is required")
	}

	if err := s.vetoers.Delete(ctx, userID, projectID, key); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "vetoer revoked",
		slog.String("user_id", userID.String()),
		slog.String("project_id", projectID.String()),
		slog.String("domain", key),
	)
	return nil
}

// ListGrants returns vetoer grants matching the filter, newest first. A
// normalized empty domain filter is rejected rather than silently matching
// nothing.
func (s *Service) ListGrants(ctx context.Context, filter vetoerrepo.Filter) ([]domain.Vetoer, error) {
	if filter.Domain != nil {
		key := domain.NormalizeDomainKey(*filter.Domain)
		if key == "" {
			return nil, domain.NewValidationError("domain", "invalid domain")
		}
		filter.Domain = &key
	}
	return s.vetoers.List(ctx, filter)
}
