package proposal

import (
	"context"

	proposalrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/proposal"
	"github.com/heartmarshall/concord-backend/internal/domain"
)

// Get returns a single proposal, lazily finalizing it first so an expired
// voting window is never observed as still open.
func (s *Service) Get(ctx context.Context, id string) (domain.Proposal, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := s.EnsureFinalized(ctx, p); err != nil {
		return domain.Proposal{}, err
	}
	return s.proposals.GetByID(ctx, id)
}

// List returns a filtered page of proposals plus the total match count.
// Listings serve stale voting state; the watcher and per-proposal reads
// converge it.
func (s *Service) List(ctx context.Context, filter proposalrepo.Filter) ([]domain.Proposal, int, error) {
	return s.proposals.List(ctx, filter)
}
