package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"agrireg/internal/model"
)

// decodeLines parses JSON-lines audit entries.
func decodeLines(raw []byte) ([]model.AuditEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var entries []model.AuditEntry
	for {
		var e model.AuditEntry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding entry %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
}
