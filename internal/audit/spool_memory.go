package audit

import (
	"bytes"
	"io"
)

// memoryStore keeps spooled lines in a byte buffer. Lost on exit.
type memoryStore struct {
	buf   bytes.Buffer
	lines int
}

// NewMemorySpool creates a spool held in memory.
func NewMemorySpool(maxSize int64) *Spool {
	return newSpool(&memoryStore{}, maxSize)
}

func (m *memoryStore) Append(line []byte) error {
	m.buf.Write(line)
	m.lines++
	return nil
}

func (m *memoryStore) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(bytes.Clone(m.buf.Bytes()))), nil
}

func (m *memoryStore) Size() (int64, error) { return int64(m.buf.Len()), nil }

func (m *memoryStore) Len() (int, error) { return m.lines, nil }

func (m *memoryStore) Reset() error {
	m.buf.Reset()
	m.lines = 0
	return nil
}
