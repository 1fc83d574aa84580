// Package audit delivers audit entries to their destinations: the audit_log
// table and, optionally, an encrypted archive in a vault.
package audit

import (
	"context"
	"fmt"

	"agrireg/internal/model"
)

// Sink accepts audit entries. Append must not modify entry.
type Sink interface {
	Append(ctx context.Context, entry model.AuditEntry) error
}

// Appender is the store side of StoreSink.
type Appender interface {
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
}

// StoreSink writes entries to the backing store's audit_log table.
type StoreSink struct {
	store Appender
}

var _ Sink = (*StoreSink)(nil)

func NewStoreSink(store Appender) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Append(ctx context.Context, entry model.AuditEntry) error {
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("appending to audit log: %w", err)
	}
	return nil
}

// MultiSink fans an entry out to every sink. All sinks are attempted; the
// first error is returned.
type MultiSink []Sink

var _ Sink = MultiSink(nil)

func (m MultiSink) Append(ctx context.Context, entry model.AuditEntry) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DiscardSink drops every entry.
type DiscardSink struct{}

func (DiscardSink) Append(context.Context, model.AuditEntry) error { return nil }
