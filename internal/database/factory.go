package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"agrireg/internal/config"
)

// NewStoreFromConfig creates a Store based on the database config type.
// The schema is not migrated here; callers decide between MigrateUp and
// CheckMigrations.
func NewStoreFromConfig(ctx context.Context, cfg config.DatabaseConfig, hostID string) (*Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, hostID+".db"))
	case "memory":
		return NewSQLiteStore(":memory:")
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
