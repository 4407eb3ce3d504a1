// Command cleanup deletes expired anonymous quiz attempts and temporary users
// once and exits. It is meant for cron-style deployments where the API's
// in-process scheduler is disabled.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/cleanup"
	"github.com/BizModelAI/Main12-sub002/internal/config"
	"github.com/BizModelAI/Main12-sub002/internal/database"
	"github.com/BizModelAI/Main12-sub002/internal/logger"
	"github.com/BizModelAI/Main12-sub002/internal/repository"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.ConfigFromEnv(cfg.Env))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.DefaultConfig(cfg.DatabaseURL), log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	cleaner := cleanup.NewCleaner(repository.NewStore(db), clockwork.NewRealClock(), log)
	result, err := cleaner.RunOnce(ctx)
	if err != nil {
		log.Error("cleanup failed", zap.Error(err))
		db.Close()
		os.Exit(1)
	}

	log.Info("cleanup complete",
		zap.Int64("attempts_deleted", result.AttemptsDeleted),
		zap.Int64("users_deleted", result.UsersDeleted))
}
