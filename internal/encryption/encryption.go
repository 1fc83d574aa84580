// Package encryption seals audit archive segments. Sealing needs only the
// public key; opening a segment needs the passphrase-protected private key.
package encryption

import (
	"errors"
	"io"
)

// ErrKeysExist is returned by Setup when a key pair is already present.
var ErrKeysExist = errors.New("encryption keys already exist")

// Encryptor seals data for the archive and unlocks the private key for
// reading it back.
type Encryptor interface {
	// Setup performs one-time key generation, protecting the private key
	// with passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether a key pair is available.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
