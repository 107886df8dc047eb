package proposal

import (
	"context"
	"log/slog"
	"time"
)

// DefaultWatchInterval is how often the cycle watcher sweeps for expired
// discussion and voting windows.
const DefaultWatchInterval = time.Minute

// Watcher drives the proposal lifecycle forward on a timer: open proposals
// whose discussion window elapsed move to voting, and voting proposals whose
// window elapsed get finalized. Every step is also reachable lazily through
// reads, so the watcher is a convergence loop, not a correctness requirement.
type Watcher struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
}

// NewWatcher creates a cycle watcher. A non-positive interval falls back to
// DefaultWatchInterval.
func NewWatcher(log *slog.Logger, svc *Service, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{
		svc:      svc,
		interval: interval,
		log:      log.With("service", "cycle_watcher"),
	}
}

// Run ticks until the context is cancelled. A tick that overruns the
// interval simply delays the next one; ticks never overlap.
func (w *Watcher) Run(ctx context.Context) {
	w.log.InfoContext(ctx, "cycle watcher started", slog.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.InfoContext(ctx, "cycle watcher stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep. Errors are logged per proposal and never abort the
// rest of the sweep.
func (w *Watcher) Tick(ctx context.Context) {
	now := time.Now().UTC()

	promoted, err := w.svc.proposals.PromoteExpiredOpen(ctx, now)
	if err != nil {
		w.log.ErrorContext(ctx, "promote expired open proposals failed",
			slog.String("error", err.Error()))
	}
	for _, p := range promoted {
		w.log.InfoContext(ctx, "discussion window elapsed, voting started",
			slog.String("proposal_id", p.ID))

		projectID, err := w.svc.resolveProjectID(ctx, p.ID, p.AuthorID)
		if err != nil || projectID == nil {
			continue
		}
		if _, err := w.svc.tasks.QueueVoteRequested(ctx, *projectID, p.ID, p.Title); err != nil {
			w.log.ErrorContext(ctx, "queue vote_requested tasks failed",
				slog.String("proposal_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	expired, err := w.svc.proposals.ListExpiredVoting(ctx, now)
	if err != nil {
		w.log.ErrorContext(ctx, "list expired voting proposals failed",
			slog.String("error", err.Error()))
		return
	}
	for _, p := range expired {
		if err := w.svc.Finalize(ctx, p); err != nil {
			w.log.ErrorContext(ctx, "finalize proposal failed",
				slog.String("proposal_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
