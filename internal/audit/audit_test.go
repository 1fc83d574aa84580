package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"agrireg/internal/encryption"
	"agrireg/internal/model"
	"agrireg/internal/vault"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func entry(i int) model.AuditEntry {
	return model.AuditEntry{
		UUID:       fmt.Sprintf("audit-%03d", i),
		Type:       model.AuditCreate,
		EntityName: "farm",
		EntityUUID: fmt.Sprintf("farm-%03d", i),
		Snapshot:   map[string]any{"name": fmt.Sprintf("Farm %d", i), "farm_code": fmt.Sprintf("FARM-%05d", i)},
		Actor:      model.ActorSnapshot{UUID: "actor-1", Name: "Ada", Role: "staff"},
		Timestamp:  testTime,
	}
}

type recordingSink struct {
	got []model.AuditEntry
	err error
}

func (r *recordingSink) Append(_ context.Context, e model.AuditEntry) error {
	r.got = append(r.got, e)
	return r.err
}

func TestMultiSink(t *testing.T) {
	t.Parallel()

	errFirst := errors.New("first broke")
	a := &recordingSink{err: errFirst}
	b := &recordingSink{err: errors.New("second broke")}
	c := &recordingSink{}

	err := MultiSink{a, b, c}.Append(context.Background(), entry(1))
	if !errors.Is(err, errFirst) {
		t.Errorf("Append() error = %v, want first sink's error", err)
	}
	for i, s := range []*recordingSink{a, b, c} {
		if len(s.got) != 1 {
			t.Errorf("sink %d received %d entries, want 1", i, len(s.got))
		}
	}

	if err := (MultiSink{c}).Append(context.Background(), entry(2)); err != nil {
		t.Errorf("Append() error = %v", err)
	}
}

type stubAppender struct {
	entries []model.AuditEntry
	err     error
}

func (s *stubAppender) AppendAudit(_ context.Context, e model.AuditEntry) error {
	s.entries = append(s.entries, e)
	return s.err
}

func TestStoreSink(t *testing.T) {
	t.Parallel()

	store := &stubAppender{}
	if err := NewStoreSink(store).Append(context.Background(), entry(1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(store.entries) != 1 || store.entries[0].UUID != "audit-001" {
		t.Errorf("store received %+v", store.entries)
	}

	broken := &stubAppender{err: errors.New("disk full")}
	if err := NewStoreSink(broken).Append(context.Background(), entry(1)); err == nil {
		t.Error("Append() should surface store error")
	}
}

func newTestArchive(t *testing.T, segmentBytes int64) (*ArchiveSink, *vault.MemoryVault) {
	t.Helper()
	v := vault.NewMemoryVault("test")
	clock := testTime
	a, err := NewArchiveSink(NewMemorySpool(DefaultSpoolSize), v, encryption.NewTestEncryptor(), "host-1", segmentBytes,
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}))
	if err != nil {
		t.Fatalf("NewArchiveSink() error = %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a, v
}

func TestArchiveSink_FlushAndRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, v := newTestArchive(t, DefaultSegmentBytes)
	for i := 1; i <= 3; i++ {
		if err := a.Append(ctx, entry(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	keys, _ := ListSegments(ctx, v, "host-1")
	if len(keys) != 0 {
		t.Fatalf("segments before flush = %v, want none", keys)
	}

	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	keys, err := ListSegments(ctx, v, "host-1")
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("segments = %v, want 1", keys)
	}
	want := "audit/host-1/20240115T103001.000000000Z-000001.jsonl.zst.age"
	if keys[0] != want {
		t.Errorf("segment key = %q, want %q", keys[0], want)
	}

	dc, _ := encryption.NewTestEncryptor().Unlock("")
	got, err := ReadSegment(ctx, v, dc, keys[0])
	if err != nil {
		t.Fatalf("ReadSegment() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadSegment() returned %d entries, want 3", len(got))
	}
	for i, e := range got {
		if e.UUID != entry(i+1).UUID {
			t.Errorf("entry %d uuid = %q, want %q", i, e.UUID, entry(i+1).UUID)
		}
		if e.Snapshot["farm_code"] != entry(i + 1).Snapshot["farm_code"] {
			t.Errorf("entry %d snapshot = %v", i, e.Snapshot)
		}
		if !e.Timestamp.Equal(testTime) {
			t.Errorf("entry %d timestamp = %v", i, e.Timestamp)
		}
	}

	// Nothing left to flush.
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("second Flush() error = %v", err)
	}
	keys, _ = ListSegments(ctx, v, "host-1")
	if len(keys) != 1 {
		t.Errorf("empty flush created a segment: %v", keys)
	}
}

func TestArchiveSink_RollsSegmentsBySize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, v := newTestArchive(t, 1)
	for i := 1; i <= 4; i++ {
		if err := a.Append(ctx, entry(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	keys, _ := ListSegments(ctx, v, "host-1")
	if len(keys) != 4 {
		t.Fatalf("segments = %d, want 4", len(keys))
	}
	for i, k := range keys {
		if !strings.HasSuffix(k, fmt.Sprintf("-%06d.jsonl.zst.age", i+1)) {
			t.Errorf("segment %d key = %q", i, k)
		}
	}
}

type failingVault struct {
	*vault.MemoryVault
	fail bool
}

func (f *failingVault) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if f.fail {
		return errors.New("vault offline")
	}
	return f.MemoryVault.Put(ctx, key, r, size)
}

func TestArchiveSink_FailedUploadKeepsEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	v := &failingVault{MemoryVault: vault.NewMemoryVault("test"), fail: true}
	spool := NewMemorySpool(DefaultSpoolSize)
	a, err := NewArchiveSink(spool, v, encryption.NewTestEncryptor(), "host-1", DefaultSegmentBytes)
	if err != nil {
		t.Fatalf("NewArchiveSink() error = %v", err)
	}

	if err := a.Append(ctx, entry(1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := a.Flush(ctx); err == nil {
		t.Fatal("Flush() should fail while the vault is offline")
	}
	if n, _ := spool.Len(); n != 1 {
		t.Fatalf("spool length after failed flush = %d, want 1", n)
	}

	v.fail = false
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n, _ := spool.Len(); n != 0 {
		t.Errorf("spool length after close = %d, want 0", n)
	}
	keys, _ := ListSegments(ctx, v, "host-1")
	if len(keys) != 1 {
		t.Errorf("segments = %v, want 1", keys)
	}
}

func TestArchiveSink_FullSpoolFlushesFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	v := vault.NewMemoryVault("test")
	spool := NewMemorySpool(400)
	a, err := NewArchiveSink(spool, v, encryption.NewTestEncryptor(), "host-1", DefaultSegmentBytes)
	if err != nil {
		t.Fatalf("NewArchiveSink() error = %v", err)
	}
	for i := 1; i <= 5; i++ {
		if err := a.Append(ctx, entry(i)); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	keys, _ := ListSegments(ctx, v, "host-1")
	if len(keys) < 2 {
		t.Fatalf("segments = %v, want the spool to have rolled at least once", keys)
	}
	dc, _ := encryption.NewTestEncryptor().Unlock("")
	total := 0
	for _, k := range keys {
		got, err := ReadSegment(ctx, v, dc, k)
		if err != nil {
			t.Fatalf("ReadSegment(%s) error = %v", k, err)
		}
		total += len(got)
	}
	if total != 5 {
		t.Errorf("archived %d entries, want 5", total)
	}
}

func TestNewArchiveSink_RequiresKeys(t *testing.T) {
	t.Parallel()

	enc := encryption.NewAgeEncryptor(configWithMissingKeys(t))
	_, err := NewArchiveSink(NewMemorySpool(0), vault.NewMemoryVault("t"), enc, "host-1", 0)
	if err == nil {
		t.Error("NewArchiveSink() should fail without encryption keys")
	}

	_, err = NewArchiveSink(NewMemorySpool(0), vault.NewMemoryVault("t"), encryption.NewTestEncryptor(), "", 0)
	if err == nil {
		t.Error("NewArchiveSink() should fail without a host id")
	}
}

func TestReadSegment_Missing(t *testing.T) {
	t.Parallel()

	dc, _ := encryption.NewTestEncryptor().Unlock("")
	_, err := ReadSegment(context.Background(), vault.NewMemoryVault("t"), dc, "audit/host-1/nope.jsonl.zst.age")
	if !errors.Is(err, vault.ErrNotFound) {
		t.Errorf("ReadSegment() error = %v, want vault.ErrNotFound", err)
	}
}
