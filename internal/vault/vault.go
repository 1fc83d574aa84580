// Package vault stores sealed audit archive segments in a keyed object
// store: process memory, a local directory, or an S3 bucket.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned by Get for a key that was never stored.
var ErrNotFound = errors.New("vault object not found")

// Vault is a write-once object store. Keys are slash-separated relative
// paths such as "audit/host-1/20240115T103000.000000000Z-000001.jsonl.zst.age".
type Vault interface {
	// Put stores size bytes read from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the object stored under key to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// List returns the keys starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

// validKey rejects keys that could escape a vault root.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("invalid vault key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid vault key %q", key)
		}
	}
	return nil
}
