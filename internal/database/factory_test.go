package database

import (
	"context"
	"testing"

	"agrireg/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory database", func(t *testing.T) {
		got, err := NewStoreFromConfig(ctx, config.DatabaseConfig{Type: "memory"}, "test-host-123")
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if got.Path() != ":memory:" {
			t.Errorf("Path() = %q, want :memory:", got.Path())
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: t.TempDir()}
		got, err := NewStoreFromConfig(ctx, cfg, "test-host-123")
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.MigrateUp(); err != nil {
			t.Fatalf("MigrateUp() error = %v", err)
		}
		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	errorCases := []struct {
		name string
		cfg  config.DatabaseConfig
	}{
		{"sqlite database without data_dir", config.DatabaseConfig{Type: "sqlite"}},
		{"postgres without dsn", config.DatabaseConfig{Type: "postgres"}},
		{"unknown database type", config.DatabaseConfig{Type: "unknown"}},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(ctx, tt.cfg, "test-host-123")
			if err == nil {
				t.Error("NewStoreFromConfig() expected error, got nil")
			}
			if got != nil {
				t.Error("NewStoreFromConfig() should return nil on error")
				got.Close()
			}
		})
	}
}
