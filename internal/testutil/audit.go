package testutil

import (
	"context"
	"sync"

	"agrireg/internal/audit"
	"agrireg/internal/encryption"
	"agrireg/internal/model"
	"agrireg/internal/vault"
)

// RecordingSink keeps every appended audit entry. Safe for concurrent use.
type RecordingSink struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	Err     error
}

var _ audit.Sink = (*RecordingSink)(nil)

func (r *RecordingSink) Append(_ context.Context, e model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.Err
}

// Entries returns a copy of what has been appended.
func (r *RecordingSink) Entries() []model.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AuditEntry(nil), r.entries...)
}

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}

// NewTestEncryptor creates a keyless, reversible encryptor for testing.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
