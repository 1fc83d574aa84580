package database

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"agrireg/internal/filter"
	"agrireg/internal/model"
	"agrireg/internal/querysql"
	"agrireg/internal/sequence"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestStore creates a new in-memory store with schema applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.MigrateUp(); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return s
}

// newPostgresStore connects to AGRIREG_TEST_POSTGRES_DSN or skips.
func newPostgresStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("AGRIREG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AGRIREG_TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgresStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.MigrateUp(); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return s
}

func insertCompany(t *testing.T, s *Store, uuid, name, code string) *model.Record {
	t.Helper()

	rec := &model.Record{
		UUID:      uuid,
		Fields:    map[string]any{"name": name, "company_code": code},
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
	if err := s.Insert(context.Background(), "companies", rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return rec
}

func TestStore_InsertAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := insertCompany(t, s, "c-1", "Acme Farms", "CMP-0001")
	insertCompany(t, s, "c-2", "Bolt Agri", "CMP-0002")

	if first.ID == 0 {
		t.Error("Insert() did not set ID")
	}

	records, err := s.Find(ctx, "companies", filter.All(), 0, 0)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	got := records[0]
	if got.UUID != "c-1" || got.String("name") != "Acme Farms" || got.String("company_code") != "CMP-0001" {
		t.Errorf("records[0] = %+v", got)
	}
	if !got.CreatedAt.Equal(testTime) || !got.UpdatedAt.Equal(testTime) {
		t.Errorf("timestamps = %v / %v, want %v", got.CreatedAt, got.UpdatedAt, testTime)
	}
	if !got.Alive() || got.DeletedBy != nil {
		t.Errorf("new record is not alive: %+v", got)
	}
	if _, ok := got.Fields["id"]; ok {
		t.Error("id leaked into Fields")
	}
	if v, ok := got.Fields["registration_no"]; !ok || v != nil {
		t.Errorf("registration_no = %v (present %v), want nil", v, ok)
	}
}

func TestStore_FindWindowAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon"} {
		insertCompany(t, s, "c-"+name, name, sequence.Format("CMP-0000", int64(i+1)))
	}

	where := filter.Contains{Column: "name", Value: "a"}
	n, err := s.Count(ctx, "companies", where)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	// Alpha, Beta, Gamma, Delta; LIKE is case-insensitive for ASCII.
	if n != 4 {
		t.Errorf("Count() = %d, want 4", n)
	}

	page, err := s.Find(ctx, "companies", where, 2, 2)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(page) != 2 || page[0].String("name") != "Gamma" || page[1].String("name") != "Delta" {
		t.Errorf("Find() page = %v", names(page))
	}

	none, err := s.Find(ctx, "companies", filter.None{}, 0, 10)
	if err != nil {
		t.Fatalf("Find(None) error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Find(None) returned %d records", len(none))
	}
}

func TestStore_LikeEscaping(t *testing.T) {
	s := newTestStore(t)
	insertCompany(t, s, "c-1", "100% Organic", "CMP-0001")
	insertCompany(t, s, "c-2", "1000 Acres", "CMP-0002")

	records, err := s.Find(context.Background(), "companies", filter.Contains{Column: "name", Value: "0%"}, 0, 0)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(records) != 1 || records[0].UUID != "c-1" {
		t.Errorf("Find() = %v, want only 100%% Organic", names(records))
	}
}

func TestStore_FindByUUID(t *testing.T) {
	s := newTestStore(t)
	insertCompany(t, s, "c-1", "Acme", "CMP-0001")

	got, err := s.FindByUUID(context.Background(), "companies", "c-1")
	if err != nil {
		t.Fatalf("FindByUUID() error = %v", err)
	}
	if got.String("name") != "Acme" {
		t.Errorf("name = %q, want Acme", got.String("name"))
	}

	_, err = s.FindByUUID(context.Background(), "companies", "missing")
	if !errors.Is(err, model.ErrReferenceNotFound) {
		t.Errorf("FindByUUID(missing) error = %v, want ErrReferenceNotFound", err)
	}
}

func TestStore_FetchAndMatchUUIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertCompany(t, s, "c-1", "Acme", "CMP-0001")
	insertCompany(t, s, "c-2", "Acme North", "CMP-0002")
	insertCompany(t, s, "c-3", "Bolt", "CMP-0003")

	fetched, err := s.FetchByUUIDs(ctx, "companies", []string{"c-3", "c-1", "nope"}, nil)
	if err != nil {
		t.Fatalf("FetchByUUIDs() error = %v", err)
	}
	if len(fetched) != 2 || fetched[0].UUID != "c-1" || fetched[1].UUID != "c-3" {
		t.Errorf("FetchByUUIDs() = %v", names(fetched))
	}

	empty, err := s.FetchByUUIDs(ctx, "companies", nil, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("FetchByUUIDs(nil) = %v, %v", empty, err)
	}

	matched, err := s.MatchUUIDs(ctx, "companies", filter.StartsWith{Column: "name", Value: "Acme"})
	if err != nil {
		t.Fatalf("MatchUUIDs() error = %v", err)
	}
	if strings.Join(matched, ",") != "c-1,c-2" {
		t.Errorf("MatchUUIDs() = %v, want [c-1 c-2]", matched)
	}
}

func TestStore_UpdateAndSoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertCompany(t, s, "c-1", "Acme", "CMP-0001")

	later := testTime.Add(time.Hour)
	if err := s.Update(ctx, "companies", "c-1", map[string]any{"contact_email": "ops@acme.test"}, later); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := s.FindByUUID(ctx, "companies", "c-1")
	if err != nil {
		t.Fatalf("FindByUUID() error = %v", err)
	}
	if got.String("contact_email") != "ops@acme.test" || !got.UpdatedAt.Equal(later) || !got.CreatedAt.Equal(testTime) {
		t.Errorf("after update = %+v", got)
	}

	actor := model.ActorSnapshot{UUID: "a-1", Name: "Dana", Role: "staff"}
	if err := s.SoftDelete(ctx, "companies", "c-1", later, actor); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	got, err = s.FindByUUID(ctx, "companies", "c-1")
	if err != nil {
		t.Fatalf("FindByUUID() error = %v", err)
	}
	if got.Alive() || !got.DeletedAt.Equal(later) || got.DeletedBy == nil || *got.DeletedBy != actor {
		t.Errorf("after delete = %+v", got)
	}

	// Deleted records are no longer mutable.
	if err := s.Update(ctx, "companies", "c-1", map[string]any{"name": "X"}, later); !errors.Is(err, model.ErrReferenceNotFound) {
		t.Errorf("Update(deleted) error = %v, want ErrReferenceNotFound", err)
	}
	if err := s.SoftDelete(ctx, "companies", "c-1", later, actor); !errors.Is(err, model.ErrReferenceNotFound) {
		t.Errorf("SoftDelete(deleted) error = %v, want ErrReferenceNotFound", err)
	}

	alive, err := s.Count(ctx, "companies", filter.IsNull{Column: "deleted_at"})
	if err != nil || alive != 0 {
		t.Errorf("alive count = %d, %v; want 0", alive, err)
	}
}

func TestStore_DuplicateCode(t *testing.T) {
	tests := []struct {
		name     string
		uuid     string
		code     string
		wantCode bool
	}{
		{name: "repeated code", uuid: "c-2", code: "CMP-0001", wantCode: true},
		{name: "repeated uuid", uuid: "c-1", code: "CMP-0002", wantCode: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			insertCompany(t, s, "c-1", "Acme", "CMP-0001")

			rec := &model.Record{
				UUID:      tt.uuid,
				Fields:    map[string]any{"name": "Bolt", "company_code": tt.code},
				CreatedAt: testTime,
				UpdatedAt: testTime,
			}
			err := s.Insert(context.Background(), "companies", rec)
			if err == nil {
				t.Fatal("Insert() error = nil, want a unique violation")
			}
			if got := errors.Is(err, model.ErrDuplicateSequenceCode); got != tt.wantCode {
				t.Errorf("errors.Is(%v, ErrDuplicateSequenceCode) = %v, want %v", err, got, tt.wantCode)
			}
		})
	}
}

func TestStore_RejectsBadIdentifiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Find(ctx, "companies; DROP TABLE farms", nil, 0, 0); err == nil {
		t.Error("Find() accepted a bad table name")
	}
	rec := &model.Record{UUID: "c-1", Fields: map[string]any{"name = 1 --": "x"}, CreatedAt: testTime, UpdatedAt: testTime}
	if err := s.Insert(ctx, "companies", rec); err == nil {
		t.Error("Insert() accepted a bad column name")
	}
}

func TestStore_AppendAudit(t *testing.T) {
	s := newTestStore(t)

	entry := model.AuditEntry{
		UUID:       "e-1",
		Type:       model.AuditCreate,
		EntityName: "company",
		EntityUUID: "c-1",
		Snapshot:   map[string]any{"name": "Acme"},
		Actor:      model.ActorSnapshot{UUID: "a-1", Name: "Dana", Role: "staff"},
		Timestamp:  testTime,
	}
	if err := s.AppendAudit(context.Background(), entry); err != nil {
		t.Fatalf("AppendAudit() error = %v", err)
	}

	var typ, snapshot, actor string
	err := s.DB().QueryRow("SELECT type, snapshot, actor FROM audit_log WHERE uuid = ?", "e-1").Scan(&typ, &snapshot, &actor)
	if err != nil {
		t.Fatalf("reading audit_log: %v", err)
	}
	if typ != "CREATE" || snapshot != `{"name":"Acme"}` || !strings.Contains(actor, `"uuid":"a-1"`) {
		t.Errorf("audit row = %s %s %s", typ, snapshot, actor)
	}
}

func TestStore_Increment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Increment(ctx, "Farm Profile")
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if got != want {
			t.Errorf("Increment() = %d, want %d", got, want)
		}
	}
	if got, _ := s.Increment(ctx, "Company Profile"); got != 1 {
		t.Errorf("Increment(other) = %d, want 1", got)
	}
}

func TestStore_IncrementConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Increment(ctx, "Farm Profile")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Errorf("distinct values = %d, want %d", len(seen), n)
	}
}

func TestCounters_Optimistic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := s.Counters()

	if _, found, err := c.Load(ctx, "Test"); err != nil || found {
		t.Fatalf("Load() = found %v, err %v; want missing", found, err)
	}
	if ok, err := c.Insert(ctx, "Test", 1); err != nil || !ok {
		t.Fatalf("Insert() = %v, %v", ok, err)
	}
	if ok, _ := c.Insert(ctx, "Test", 1); ok {
		t.Error("second Insert() succeeded")
	}
	if ok, _ := c.CompareAndSwap(ctx, "Test", 5, 6); ok {
		t.Error("CompareAndSwap() with stale value succeeded")
	}
	if ok, err := c.CompareAndSwap(ctx, "Test", 1, 2); err != nil || !ok {
		t.Errorf("CompareAndSwap() = %v, %v", ok, err)
	}

	g := sequence.NewGenerator(sequence.NewOptimisticCounter(c, 0, nil))
	code, err := g.Next(ctx, "Test", "X000")
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if code != "X003" {
		t.Errorf("Next() = %q, want X003", code)
	}
}

func TestStore_DumpSchema(t *testing.T) {
	s := newTestStore(t)

	schema, err := s.DumpSchema(context.Background())
	if err != nil {
		t.Fatalf("DumpSchema() error = %v", err)
	}
	for _, want := range []string{"CREATE TABLE companies", "CREATE TABLE audit_log", "CREATE UNIQUE INDEX farms_farm_code"} {
		if !strings.Contains(schema, want) {
			t.Errorf("DumpSchema() missing %q", want)
		}
	}
	if strings.Contains(schema, "schema_migrations") {
		t.Error("DumpSchema() includes migration bookkeeping")
	}
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	if s.Dialect() != querysql.Postgres {
		t.Fatalf("Dialect() = %v", s.Dialect())
	}
	if _, err := s.DB().Exec("TRUNCATE companies CASCADE"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	insertCompany(t, s, "c-pg-1", "Acme", "CMP-9001")

	records, err := s.Find(ctx, "companies", filter.Contains{Column: "name", Value: "acm"}, 0, 10)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(records) != 1 || records[0].UUID != "c-pg-1" {
		t.Errorf("Find() = %v", names(records))
	}

	dup := &model.Record{UUID: "c-pg-2", Fields: map[string]any{"name": "B", "company_code": "CMP-9001"}, CreatedAt: testTime, UpdatedAt: testTime}
	if err := s.Insert(ctx, "companies", dup); !errors.Is(err, model.ErrDuplicateSequenceCode) {
		t.Errorf("Insert(dup) error = %v, want ErrDuplicateSequenceCode", err)
	}
	again := &model.Record{UUID: "c-pg-1", Fields: map[string]any{"name": "C", "company_code": "CMP-9002"}, CreatedAt: testTime, UpdatedAt: testTime}
	if err := s.Insert(ctx, "companies", again); err == nil || errors.Is(err, model.ErrDuplicateSequenceCode) {
		t.Errorf("Insert(repeated uuid) error = %v, want a non-code unique violation", err)
	}
}

func names(records []model.Record) []string {
	out := make([]string, len(records))
	for i := range records {
		out[i] = records[i].String("name")
	}
	return out
}
