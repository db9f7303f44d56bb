// Package secrets encrypts OAuth bearer tokens at rest for remote backends
// with auth: oauth (§3, §9's "OAuth browser flow is out of scope" note —
// this package only protects a token already obtained by some other means;
// it does not perform the OAuth flow itself).
package secrets

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// Encryptor encrypts and decrypts small opaque blobs (bearer tokens, API
// keys) for storage alongside the registry.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AgeEncryptor implements Encryptor using age's X25519 recipient scheme.
type AgeEncryptor struct {
	identity  *age.X25519Identity
	recipient age.Recipient
}

// NewAgeEncryptor loads an age identity from keyPath (a file containing an
// AGE-SECRET-KEY-1... identity, one per line, comments allowed).
func NewAgeEncryptor(keyPath string) (*AgeEncryptor, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: reading age key file %s: %w", keyPath, err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("secrets: parsing age key file %s: %w", keyPath, err)
	}
	for _, id := range identities {
		if x25519, ok := id.(*age.X25519Identity); ok {
			return &AgeEncryptor{identity: x25519, recipient: x25519.Recipient()}, nil
		}
	}
	return nil, fmt.Errorf("secrets: no X25519 identity found in %s", keyPath)
}

// EnsureKeyFile loads the age identity at keyPath, generating and writing a
// fresh one if the file does not yet exist.
func EnsureKeyFile(keyPath string) (*AgeEncryptor, error) {
	if _, err := os.Stat(keyPath); err == nil {
		return NewAgeEncryptor(keyPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("secrets: generating age identity: %w", err)
	}
	contents := fmt.Sprintf("# created by mcpgate\n%s\n", identity.String())
	if err := os.WriteFile(keyPath, []byte(contents), 0o600); err != nil {
		return nil, fmt.Errorf("secrets: writing age key file %s: %w", keyPath, err)
	}
	return &AgeEncryptor{identity: identity, recipient: identity.Recipient()}, nil
}

// Encrypt encrypts plaintext to this encryptor's own recipient.
func (e *AgeEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.recipient)
	if err != nil {
		return nil, fmt.Errorf("secrets: encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("secrets: encrypt write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("secrets: encrypt close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt decrypts ciphertext previously produced by Encrypt.
func (e *AgeEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identity)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt read: %w", err)
	}
	return out, nil
}
