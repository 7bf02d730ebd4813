package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	// Iterations is the PBKDF2 cost for both derivation profiles.
	Iterations = 300_000

	// SaltSize is the derivation salt length.
	SaltSize = 32
)

// NewSalt returns a fresh random derivation salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 32-byte key from a single low-entropy secret,
// used for the password unlock path and folder passwords.
func DeriveKey(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, Iterations, KeySize, sha256.New)
}

// DeriveRecoveryKey derives a 32-byte key from a recovery answer set.
// The normalized answers are concatenated and folded through SHA-384
// first, turning a variable-length low-entropy input into fixed
// high-entropy input, then stretched with a 512-bit hash.
func DeriveRecoveryKey(answers []string, salt []byte) []byte {
	joined := make([]string, len(answers))
	for i, answer := range answers {
		joined[i] = NormalizeAnswer(answer)
	}

	digest := sha512.Sum384([]byte(strings.Join(joined, "")))
	return pbkdf2.Key(digest[:], salt, Iterations, KeySize, sha512.New)
}

// NormalizeAnswer canonicalizes a recovery answer so that case,
// surrounding whitespace, and Unicode presentation differences do not
// change the derived key.
func NormalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}
