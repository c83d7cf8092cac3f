// Package hipaa provides field-level encryption for PHI held at rest.
//
// Sensitive payloads are serialized to JSON and sealed with AES-256-GCM; the
// random nonce is prepended to the ciphertext and the whole value is base64
// encoded so it can live in a text column or a key-value entry. Decryption of
// a tampered or wrong-key value fails with ErrDecryptionFailed — it never
// yields partial plaintext. A codec with no configured key refuses to encrypt
// with ErrEncryptionUnavailable rather than writing plaintext.
package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrDecryptionFailed is returned for malformed, truncated, tampered or
	// wrong-key ciphertext. Distinguishable from a field that is simply absent.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrEncryptionUnavailable is returned when no encryption key is configured.
	ErrEncryptionUnavailable = errors.New("encryption unavailable: no key configured")
)

// Codec encrypts and decrypts structured payloads with a process-wide key.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a Codec from a 32-byte AES-256 key. A nil or empty key
// yields a codec whose operations fail with ErrEncryptionUnavailable, so a
// missing MASA_ENCRYPTION_KEY surfaces as a typed error instead of a panic
// or a plaintext write.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return &Codec{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("codec: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("codec: create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Ready reports whether the codec has a key and can encrypt.
func (c *Codec) Ready() bool {
	return c != nil && c.aead != nil
}

// Encrypt serializes payload to JSON and returns the sealed value as base64
// with the nonce prepended. JSON marshaling is deterministic for structs and
// sorts map keys, so Decrypt(Encrypt(x)) reproduces x field for field.
func (c *Codec) Encrypt(payload any) (string, error) {
	if !c.Ready() {
		return "", ErrEncryptionUnavailable
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encrypt: marshal payload: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("encrypt: generate nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, so the result is nonce + ciphertext.
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt into the value pointed to by out. Any failure —
// bad base64, short data, GCM authentication, JSON decode — is reported as
// ErrDecryptionFailed so callers can tell corruption apart from absence.
func (c *Codec) Decrypt(ciphertext string, out any) error {
	if !c.Ready() {
		return ErrEncryptionUnavailable
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return fmt.Errorf("%w: base64 decode: %v", ErrDecryptionFailed, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrDecryptionFailed, err)
	}
	return nil
}
