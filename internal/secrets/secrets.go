// Package secrets encrypts credential values at rest. The plaintext only ever
// exists in memory while building a dispatch envelope.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var (
	ErrInvalidKey       = errors.New("encryption key must be 32 bytes (raw or base64-encoded)")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrMalformedPayload = errors.New("malformed encrypted payload")
)

const nonceSize = 24

// Box seals and opens credential values with NaCl secretbox. Ciphertext is
// base64(nonce || sealed) so a single TEXT column carries everything.
type Box struct {
	key [32]byte
}

// New accepts either a raw 32-byte key or its base64 encoding.
func New(key string) (*Box, error) {
	var b Box
	if decoded, err := base64.StdEncoding.DecodeString(key); err == nil && len(decoded) == 32 {
		copy(b.key[:], decoded)
		return &b, nil
	}
	if len(key) == 32 {
		copy(b.key[:], key)
		return &b, nil
	}
	return nil, ErrInvalidKey
}

func (b *Box) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrMalformedPayload
	}
	if len(raw) < nonceSize {
		return "", ErrMalformedPayload
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	opened, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecryptionFailed
	}
	return string(opened), nil
}
