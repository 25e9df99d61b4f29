package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/chairbook/chairbook/libs/db"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func migrations() (fs.FS, error) {
	return fs.Sub(migrationFiles, "migrations")
}

// Migrate applies pending embedded migrations with goose, each in its own transaction.
func Migrate(ctx context.Context, pool *db.Pool, logger *slog.Logger) error {
	fsys, err := migrations()
	if err != nil {
		return err
	}
	sqlDB := stdlib.OpenDBFromPool(pool.Pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info("migration applied", "version", r.Source.Version, "file", r.Source.Path, "duration", r.Duration)
	}
	return nil
}
