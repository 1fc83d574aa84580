package testutil

import (
	"testing"

	"agrireg/internal/database"
)

// NewTestStore creates a new in-memory SQLite store with migrations applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *database.Store {
	t.Helper()

	s, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.MigrateUp(); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return s
}
