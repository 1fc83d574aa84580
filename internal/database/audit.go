package database

import (
	"context"
	"encoding/json"
	"fmt"

	"agrireg/internal/model"
	"agrireg/internal/querysql"
)

// AppendAudit writes one entry to audit_log. The layer never reads it back.
func (s *Store) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	snapshot, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	actor, err := json.Marshal(entry.Actor)
	if err != nil {
		return fmt.Errorf("encoding actor: %w", err)
	}

	b := querysql.NewBuilder(s.dialect)
	query := fmt.Sprintf(`INSERT INTO audit_log (uuid, type, entity_name, entity_uuid, snapshot, actor, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		b.Arg(entry.UUID), b.Arg(string(entry.Type)), b.Arg(entry.EntityName), b.Arg(entry.EntityUUID),
		b.Arg(string(snapshot)), b.Arg(string(actor)), b.Arg(entry.Timestamp.UTC()))
	if _, err := s.db.ExecContext(ctx, query, b.Args()...); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}
