package envelope

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SecretEnv names the environment variable holding a hex-encoded secret.
const SecretEnv = "AGRIREG_ENVELOPE_SECRET"

// MinSecretBytes is the shortest secret the codec accepts.
const MinSecretBytes = 32

// Secret is the process-wide signing key. It is loaded once at startup and
// never rotated while the process runs.
type Secret []byte

func (s Secret) validate() error {
	if len(s) < MinSecretBytes {
		return fmt.Errorf("envelope secret must be at least %d bytes, got %d", MinSecretBytes, len(s))
	}
	return nil
}

// ParseSecret decodes a hex-encoded secret.
func ParseSecret(encoded string) (Secret, error) {
	b, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decoding envelope secret: %w", err)
	}
	s := Secret(b)
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// GenerateSecret returns a new random secret of MinSecretBytes.
func GenerateSecret() (Secret, error) {
	b := make([]byte, MinSecretBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("generating envelope secret: %w", err)
	}
	return Secret(b), nil
}

// LoadSecret resolves the secret from SecretEnv, then from the key file at path,
// and otherwise generates one and persists it to path.
// Returns true when a new secret was generated.
func LoadSecret(path string) (Secret, bool, error) {
	if env := os.Getenv(SecretEnv); env != "" {
		s, err := ParseSecret(env)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", SecretEnv, err)
		}
		return s, false, nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		s, err := ParseSecret(string(data))
		if err != nil {
			return nil, false, fmt.Errorf("reading secret file %s: %w", path, err)
		}
		return s, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("reading secret file: %w", err)
	}

	s, err := GenerateSecret()
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, false, fmt.Errorf("creating secret directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(s)+"\n"), 0600); err != nil {
		return nil, false, fmt.Errorf("saving secret to %s: %w", path, err)
	}
	return s, true, nil
}
