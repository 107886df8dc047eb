// Command cleanup physically removes finished AI tasks older than the
// configured retention period. It is intended to be invoked by an external
// cron job, not as an in-process goroutine.
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/heartmarshall/concord-backend/internal/adapter/postgres"
	"github.com/heartmarshall/concord-backend/internal/adapter/postgres/aitask"
	"github.com/heartmarshall/concord-backend/internal/app"
	"github.com/heartmarshall/concord-backend/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	taskRepo := aitask.New(pool)

	threshold := time.Now().AddDate(0, 0, -cfg.Governance.TaskRetentionDays)

	deleted, err := taskRepo.PurgeFinished(ctx, threshold)
	if err != nil {
		logger.Error("task purge failed",
			slog.String("error", err.Error()),
			slog.Time("threshold", threshold),
		)
		os.Exit(1)
	}

	logger.Info("task purge completed",
		slog.Int64("deleted", deleted),
		slog.Time("threshold", threshold),
	)
}
