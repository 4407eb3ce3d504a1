package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/database/migrations"
)

// Migrate applies the embedded goose migrations.
func (db *DB) Migrate(ctx context.Context) error {
	if db.raw == nil {
		return errors.New("migrations require a pgxpool-backed database")
	}

	sqlDB := stdlib.OpenDBFromPool(db.raw)
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err == nil {
		db.log.Info("migrations applied", zap.Int64("version", version))
	}
	return nil
}
