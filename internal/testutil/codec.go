package testutil

import (
	"bytes"
	"testing"

	"agrireg/internal/envelope"
)

// TestSecret is a fixed 32-byte envelope secret.
var TestSecret = envelope.Secret(bytes.Repeat([]byte{0x42}, envelope.MinSecretBytes))

// NewTestCodec creates a codec with TestSecret, no expiry, and the given
// clock (nil for system time).
func NewTestCodec(t *testing.T, clock envelope.Clock) *envelope.Codec {
	t.Helper()
	c, err := envelope.NewCodec(TestSecret, 0, clock)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	return c
}
