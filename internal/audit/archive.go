package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"agrireg/internal/encryption"
	"agrireg/internal/model"
	"agrireg/internal/vault"
)

// DefaultSegmentBytes is the spooled size at which a segment is archived.
const DefaultSegmentBytes int64 = 256 * 1024

const segmentSuffix = ".jsonl.zst.age"

// ArchiveSink spools audit entries and ships them to a vault in sealed
// segments: JSON lines, zstd-compressed, then encrypted.
type ArchiveSink struct {
	spool        *Spool
	vault        vault.Vault
	encryptor    encryption.Encryptor
	hostID       string
	segmentBytes int64
	now          func() time.Time

	zenc *zstd.Encoder

	mu  sync.Mutex // serializes segment uploads
	seq int
}

var _ Sink = (*ArchiveSink)(nil)

// ArchiveOption customizes an ArchiveSink.
type ArchiveOption func(*ArchiveSink)

// WithClock overrides the time source used for segment keys.
func WithClock(now func() time.Time) ArchiveOption {
	return func(a *ArchiveSink) { a.now = now }
}

// NewArchiveSink creates an ArchiveSink. The encryptor must already have a
// key pair.
func NewArchiveSink(spool *Spool, v vault.Vault, enc encryption.Encryptor, hostID string, segmentBytes int64, opts ...ArchiveOption) (*ArchiveSink, error) {
	if hostID == "" {
		return nil, fmt.Errorf("archive sink requires a host id")
	}
	if !enc.IsConfigured() {
		return nil, fmt.Errorf("encryption keys not configured: run 'agrireg keys init'")
	}
	if segmentBytes <= 0 {
		segmentBytes = DefaultSegmentBytes
	}

	zenc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	a := &ArchiveSink{
		spool:        spool,
		vault:        v,
		encryptor:    enc,
		hostID:       hostID,
		segmentBytes: segmentBytes,
		now:          time.Now,
		zenc:         zenc,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Append spools entry and archives a segment once the spool reaches the
// segment size. A full spool is flushed before retrying once.
func (a *ArchiveSink) Append(ctx context.Context, entry model.AuditEntry) error {
	err := a.spool.Add(entry)
	if errors.Is(err, ErrSpoolFull) {
		if ferr := a.Flush(ctx); ferr != nil {
			return fmt.Errorf("flushing full spool: %w", ferr)
		}
		err = a.spool.Add(entry)
	}
	if err != nil {
		return err
	}

	size, err := a.spool.Size()
	if err != nil {
		return fmt.Errorf("getting spool size: %w", err)
	}
	if size >= a.segmentBytes {
		return a.Flush(ctx)
	}
	return nil
}

// Flush archives everything currently spooled as one segment. On failure the
// entries stay spooled.
func (a *ArchiveSink) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.spool.Drain(func(lines io.Reader, count int) error {
		raw, err := io.ReadAll(lines)
		if err != nil {
			return fmt.Errorf("reading spool: %w", err)
		}

		compressed := a.zenc.EncodeAll(raw, make([]byte, 0, len(raw)/2))

		var sealed bytes.Buffer
		if err := a.encryptor.Encrypt(bytes.NewReader(compressed), &sealed); err != nil {
			return fmt.Errorf("encrypting segment: %w", err)
		}

		key := SegmentKey(a.hostID, a.now(), a.seq+1)
		if err := a.vault.Put(ctx, key, bytes.NewReader(sealed.Bytes()), int64(sealed.Len())); err != nil {
			return fmt.Errorf("uploading segment %s (%d entries): %w", key, count, err)
		}
		a.seq++
		return nil
	})
}

// Close flushes what remains and releases the encoder.
func (a *ArchiveSink) Close(ctx context.Context) error {
	err := a.Flush(ctx)
	a.zenc.Close()
	return err
}

// SegmentKey names a segment: audit/<host>/<timestamp>-<seq>.jsonl.zst.age.
// Keys sort in upload order for one host.
func SegmentKey(hostID string, at time.Time, seq int) string {
	return fmt.Sprintf("audit/%s/%s-%06d%s", hostID, at.UTC().Format("20060102T150405.000000000Z"), seq, segmentSuffix)
}

// ListSegments returns the segment keys archived for hostID, oldest first.
func ListSegments(ctx context.Context, v vault.Vault, hostID string) ([]string, error) {
	keys, err := v.List(ctx, "audit/"+hostID+"/")
	if err != nil {
		return nil, fmt.Errorf("listing segments: %w", err)
	}
	segments := keys[:0]
	for _, k := range keys {
		if strings.HasSuffix(k, segmentSuffix) {
			segments = append(segments, k)
		}
	}
	sort.Strings(segments)
	return segments, nil
}

// ReadSegment fetches one segment and decodes its entries in order.
func ReadSegment(ctx context.Context, v vault.Vault, dc encryption.DecryptionContext, key string) ([]model.AuditEntry, error) {
	var sealed bytes.Buffer
	if err := v.Get(ctx, key, &sealed); err != nil {
		return nil, fmt.Errorf("fetching segment %s: %w", key, err)
	}

	var compressed bytes.Buffer
	if err := dc.Decrypt(&sealed, &compressed); err != nil {
		return nil, fmt.Errorf("decrypting segment %s: %w", key, err)
	}

	zdec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer zdec.Close()

	raw, err := zdec.DecodeAll(compressed.Bytes(), nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing segment %s: %w", key, err)
	}

	return decodeLines(raw)
}
