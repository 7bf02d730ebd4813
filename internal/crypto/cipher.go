// Package crypto implements the vault's key derivation and
// authenticated encryption: versioned single-shot tokens, a chunked
// streaming mode for large payloads, and the self-describing ciphertext
// file format.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/arcvault/arcvault/internal/models"
)

const (
	// TokenVersion identifies the sealed token format.
	TokenVersion = 1

	// Key sizes
	KeySize   = 32 // AES-256
	NonceSize = 12 // GCM standard
	TagSize   = 16 // GCM tag

	// Overhead is the token size beyond the plaintext size.
	Overhead = 1 + NonceSize + TagSize
)

// ErrInvalidKey reports a key of the wrong length. This is caller
// misuse, not a content-dependent failure, so it stays distinct from
// models.ErrDecryptFailed.
var ErrInvalidKey = errors.New("invalid key size")

// NewKey returns a fresh random 32-byte key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under key using AES-256-GCM.
// Token format: version || nonce || ciphertext+tag.
func Seal(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	token := make([]byte, 1+NonceSize, 1+NonceSize+len(plaintext)+TagSize)
	token[0] = TokenVersion
	copy(token[1:], nonce)

	return aead.Seal(token, nonce, plaintext, nil), nil
}

// Open decrypts a sealed token. Every content-dependent failure, a
// wrong key, a truncated token, an unknown version byte, a failed tag
// check, collapses into models.ErrDecryptFailed so callers cannot tell
// them apart.
func Open(token, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(token) < Overhead || token[0] != TokenVersion {
		return nil, models.ErrDecryptFailed
	}

	nonce := token[1 : 1+NonceSize]
	plaintext, err := aead.Open(nil, nonce, token[1+NonceSize:], nil)
	if err != nil {
		return nil, models.ErrDecryptFailed
	}

	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return aead, nil
}
