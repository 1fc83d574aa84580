package audit

import (
	"fmt"

	"agrireg/internal/config"
)

// NewSpoolFromConfig creates a Spool based on the config type.
func NewSpoolFromConfig(cfg config.SpoolConfig) (*Spool, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemorySpool(cfg.MaxSize), nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem spool requires dir to be set")
		}
		return NewFileSystemSpool(cfg.Dir, cfg.MaxSize)
	default:
		return nil, fmt.Errorf("unknown spool type: %s", cfg.Type)
	}
}
