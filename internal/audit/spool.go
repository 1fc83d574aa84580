package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"agrireg/internal/model"
)

// DefaultSpoolSize is the default maximum spool size (1MB).
const DefaultSpoolSize int64 = 1024 * 1024

// ErrSpoolFull is returned when an entry would push the spool past its limit.
var ErrSpoolFull = errors.New("audit spool full")

// spoolStore abstracts where buffered lines live. Concurrency is managed by
// the caller (Spool.mu), so stores do not need to be safe for concurrent use.
type spoolStore interface {
	// Append adds one JSON line (including its trailing newline).
	Append(line []byte) error

	// Open returns a reader over every buffered line, oldest first.
	Open() (io.ReadCloser, error)

	// Size returns total buffered bytes.
	Size() (int64, error)

	// Len returns the number of buffered lines.
	Len() (int, error)

	// Reset discards everything buffered.
	Reset() error
}

// SegmentFunc receives the buffered JSON lines of one segment.
type SegmentFunc func(lines io.Reader, count int) error

// Spool is a bounded, ordered buffer of audit entries encoded as JSON lines.
type Spool struct {
	store   spoolStore
	maxSize int64
	mu      sync.Mutex
}

func newSpool(store spoolStore, maxSize int64) *Spool {
	if maxSize <= 0 {
		maxSize = DefaultSpoolSize
	}
	return &Spool{store: store, maxSize: maxSize}
}

// Add encodes entry and appends it. A single entry larger than the whole
// spool is rejected with ErrSpoolFull as well.
func (s *Spool) Add(entry model.AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	size, err := s.store.Size()
	if err != nil {
		return fmt.Errorf("getting spool size: %w", err)
	}
	if size+int64(len(line)) > s.maxSize {
		return fmt.Errorf("%w: would exceed max size of %d bytes", ErrSpoolFull, s.maxSize)
	}
	if err := s.store.Append(line); err != nil {
		return fmt.Errorf("appending to spool: %w", err)
	}
	return nil
}

// Drain calls fn with everything buffered. If fn returns nil the spool is
// emptied; if it returns an error the lines stay for the next attempt.
// An empty spool does not call fn.
func (s *Spool) Drain(fn SegmentFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.store.Len()
	if err != nil {
		return fmt.Errorf("counting spool: %w", err)
	}
	if count == 0 {
		return nil
	}

	r, err := s.store.Open()
	if err != nil {
		return fmt.Errorf("opening spool: %w", err)
	}
	err = fn(r, count)
	r.Close()
	if err != nil {
		return err
	}

	if err := s.store.Reset(); err != nil {
		return fmt.Errorf("resetting spool: %w", err)
	}
	return nil
}

// Size returns the number of buffered bytes.
func (s *Spool) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Size()
}

// Len returns the number of buffered entries.
func (s *Spool) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Len()
}
