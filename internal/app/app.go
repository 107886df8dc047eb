package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	aiparticipantrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/aiparticipant"
	aitaskrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/aitask"
	appealrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/appeal"
	auditrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/audit"
	decisionrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/decision"
	configrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/governanceconfig"
	reviewrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/impactreview"
	membershiprepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/membership"
	proposalrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/proposal"
	trustscorerepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/trustscore"
	vetoerrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/vetoer"
	vetoeventrepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/vetoevent"
	voterepo "github.com/heartmarshall/concord-backend/internal/adapter/postgres/vote"
	"github.com/heartmarshall/concord-backend/internal/adapter/webhook"
	"github.com/heartmarshall/concord-backend/internal/auth"
	"github.com/heartmarshall/concord-backend/internal/config"
	"github.com/heartmarshall/concord-backend/internal/service/appeal"
	"github.com/heartmarshall/concord-backend/internal/service/governance"
	"github.com/heartmarshall/concord-backend/internal/service/permission"
	"github.com/heartmarshall/concord-backend/internal/service/proposal"
	"github.com/heartmarshall/concord-backend/internal/service/review"
	"github.com/heartmarshall/concord-backend/internal/service/trust"
	"github.com/heartmarshall/concord-backend/internal/service/veto"
	"github.com/heartmarshall/concord-backend/internal/transport/middleware"
	"github.com/heartmarshall/concord-backend/internal/transport/rest"
)

// Run is the application entry point. It loads configuration, connects to
// the database, wires the services and REST transport, starts the governance
// watcher, and serves HTTP until the context is cancelled.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := NewLogger(cfg.Log)

	logger.Info("starting application",
		slog.String("version", BuildVersion()),
		slog.String("log_level", cfg.Log.Level),
	)

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	tx := postgres.NewTxManager(pool)

	proposals := proposalrepo.New(pool)
	votes := voterepo.New(pool)
	decisions := decisionrepo.New(pool)
	vetoEvents := vetoeventrepo.New(pool)
	vetoers := vetoerrepo.New(pool)
	scores := trustscorerepo.New(pool)
	reviews := reviewrepo.New(pool)
	appeals := appealrepo.New(pool)
	govConfig := configrepo.New(pool)
	audit := auditrepo.New(pool)
	membership := membershiprepo.New(pool)
	agents := aiparticipantrepo.New(pool)
	tasks := aitaskrepo.New(pool)

	webhooks := webhook.NewDispatcher(cfg.Webhooks.Endpoints(), logger)

	permissionSvc := permission.NewService(logger, scores, agents)
	trustSvc := trust.NewService(logger, scores, vetoers, audit, tx)
	reviewSvc := review.NewService(logger, reviews, reviews, proposals, votes, vetoEvents, govConfig, membership, trustSvc, audit, webhooks, tx)
	proposalSvc := proposal.NewService(logger, proposals, votes, decisions, membership, scores, trustSvc, reviewSvc, permissionSvc, tasks, audit, webhooks, tx)
	vetoSvc := veto.NewService(logger, vetoEvents, vetoers, proposals, votes, decisions, membership, permissionSvc, reviewSvc, audit, webhooks, tx)
	appealSvc := appeal.NewService(logger, appeals, scores, trustSvc, membership, vetoers, agents, audit, webhooks, tx)
	governanceSvc := governance.NewService(logger, govConfig, audit, membership, webhooks, tx)

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL)

	mux := rest.NewRouter(rest.Handlers{
		Health:     rest.NewHealthHandler(pool, BuildVersion()),
		Proposal:   rest.NewProposalHandler(proposalSvc, logger),
		Veto:       rest.NewVetoHandler(vetoSvc, logger),
		Review:     rest.NewReviewHandler(reviewSvc, logger),
		Trust:      rest.NewTrustHandler(trustSvc, logger),
		Appeal:     rest.NewAppealHandler(appealSvc, logger),
		Governance: rest.NewGovernanceHandler(governanceSvc, logger),
	})

	mws := []middleware.Middleware{
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.CORS(cfg.CORS),
		middleware.Auth(jwtManager),
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.CleanupInterval)
		defer limiter.Stop()
		mws = append(mws, limiter.Limit(cfg.RateLimit.MaxPerMinute))
	}
	handler := middleware.Chain(mws...)(mux)

	watcher := proposal.NewWatcher(logger, proposalSvc, cfg.Governance.WatchInterval)
	go watcher.Run(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", server.Addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	return nil
}
