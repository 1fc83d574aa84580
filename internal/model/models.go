package model

import "time"

// Record is a generic document stored in one collection.
// UUID is the external identity; ID is internal ordering and never handed out as a key.
type Record struct {
	ID        int64          // Auto-increment, internal only
	UUID      string         // External identity
	Fields    map[string]any // Domain columns, including foreign uuids
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time     // nil while the record is alive
	DeletedBy *ActorSnapshot // Who soft-deleted the record
}

// Alive reports whether the record has not been soft-deleted.
func (r *Record) Alive() bool {
	return r.DeletedAt == nil
}

// String returns the named field as a string, or "" when absent.
func (r *Record) String(field string) string {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// ActorSnapshot is the identity of an actor frozen at the time of a mutation.
type ActorSnapshot struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// AuditType is the kind of mutation an audit entry records.
type AuditType string

const (
	AuditCreate AuditType = "CREATE"
	AuditUpdate AuditType = "UPDATE"
	AuditDelete AuditType = "DELETE"
)

// AuditEntry is an immutable record of one mutation.
// Snapshot always holds the state after the mutation.
type AuditEntry struct {
	UUID       string         `json:"uuid"`
	Type       AuditType      `json:"type"`
	EntityName string         `json:"entity_name"`
	EntityUUID string         `json:"entity_uuid"`
	Snapshot   map[string]any `json:"snapshot"`
	Actor      ActorSnapshot  `json:"actor"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Snapshot returns the full state of the record as stored, for audit entries.
func (r *Record) Snapshot() map[string]any {
	snap := make(map[string]any, len(r.Fields)+5)
	for k, v := range r.Fields {
		snap[k] = v
	}
	snap["uuid"] = r.UUID
	snap["created_at"] = r.CreatedAt.UTC()
	snap["updated_at"] = r.UpdatedAt.UTC()
	if r.DeletedAt != nil {
		snap["deleted_at"] = r.DeletedAt.UTC()
	}
	if r.DeletedBy != nil {
		snap["deleted_by"] = *r.DeletedBy
	}
	return snap
}
