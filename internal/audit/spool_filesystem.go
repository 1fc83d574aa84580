package audit

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// fileStore keeps spooled lines in a single append-only file so entries
// survive a restart until they are archived.
//
// Directory structure:
//
//	<spool_dir>/
//	  spool.jsonl
type fileStore struct {
	path string
}

// NewFileSystemSpool creates a spool backed by <dir>/spool.jsonl. Lines left
// by a previous process are kept and archived with the next segment.
func NewFileSystemSpool(dir string, maxSize int64) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return newSpool(&fileStore{path: filepath.Join(dir, "spool.jsonl")}, maxSize), nil
}

func (f *fileStore) Append(line []byte) error {
	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(line); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (f *fileStore) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return file, err
}

func (f *fileStore) Size() (int64, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *fileStore) Len() (int, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer file.Close()

	n := 0
	r := bufio.NewReader(file)
	for {
		_, err := r.ReadSlice('\n')
		if err == nil {
			n++
			continue
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		return 0, err
	}
}

func (f *fileStore) Reset() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
