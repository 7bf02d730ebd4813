package crypto_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcvault/arcvault/internal/crypto"
	"github.com/arcvault/arcvault/internal/models"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.NewKey()
	require.NoError(t, err)
	require.Len(t, key, crypto.KeySize)
	return key
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := testKey(t)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0x42}},
		{"short text", []byte("hello vault")},
		{"chunk boundary", bytes.Repeat([]byte{0xAB}, crypto.ChunkSize)},
		{"several megabytes", bytes.Repeat([]byte("arcvault"), 512*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := crypto.Seal(tt.plaintext, key)
			require.NoError(t, err)
			assert.Len(t, token, len(tt.plaintext)+crypto.Overhead)
			assert.Equal(t, byte(crypto.TokenVersion), token[0])

			opened, err := crypto.Open(token, key)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, opened)
		})
	}
}

func TestSeal_FreshNoncePerCall(t *testing.T) {
	key := testKey(t)

	first, err := crypto.Seal([]byte("same plaintext"), key)
	require.NoError(t, err)

	second, err := crypto.Seal([]byte("same plaintext"), key)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestOpen_FailureIndistinguishable(t *testing.T) {
	key := testKey(t)
	otherKey := testKey(t)

	token, err := crypto.Seal([]byte("classified payload"), key)
	require.NoError(t, err)

	tampered := append([]byte(nil), token...)
	tampered[len(tampered)-1] ^= 0xFF

	wrongVersion := append([]byte(nil), token...)
	wrongVersion[0] = 0x7F

	tests := []struct {
		name  string
		token []byte
		key   []byte
	}{
		{"wrong key", token, otherKey},
		{"tampered ciphertext", tampered, key},
		{"truncated token", token[:crypto.Overhead-1], key},
		{"unknown version", wrongVersion, key},
		{"garbage", []byte("not a token"), key},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crypto.Open(tt.token, tt.key)
			assert.ErrorIs(t, err, models.ErrDecryptFailed)

			// Callers must not be able to branch on the failure
			// cause from the error text.
			assert.EqualError(t, err, "wrong key or corrupted data")
		})
	}
}

func TestSealOpen_InvalidKeySize(t *testing.T) {
	_, err := crypto.Seal([]byte("data"), []byte("short"))
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)

	_, err = crypto.Open(make([]byte, 64), []byte("short"))
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	require.Len(t, salt, crypto.SaltSize)

	key1 := crypto.DeriveKey([]byte("Str0ng!Passw0rd123"), salt)
	key2 := crypto.DeriveKey([]byte("Str0ng!Passw0rd123"), salt)

	assert.Len(t, key1, crypto.KeySize)
	assert.Equal(t, key1, key2)

	otherSalt, err := crypto.NewSalt()
	require.NoError(t, err)
	assert.NotEqual(t, key1, crypto.DeriveKey([]byte("Str0ng!Passw0rd123"), otherSalt))
	assert.NotEqual(t, key1, crypto.DeriveKey([]byte("different password"), salt))
}

func TestDeriveRecoveryKey_Normalization(t *testing.T) {
	salt, err := crypto.NewSalt()
	require.NoError(t, err)

	base := crypto.DeriveRecoveryKey([]string{"Fluffy", "Lisbon"}, salt)
	assert.Len(t, base, crypto.KeySize)

	// Case, whitespace, and Unicode presentation must not change the
	// derived key.
	assert.Equal(t, base, crypto.DeriveRecoveryKey([]string{"  fluffy ", "LISBON"}, salt))

	assert.NotEqual(t, base, crypto.DeriveRecoveryKey([]string{"fluffy", "porto"}, salt))
	assert.NotEqual(t, base, crypto.DeriveKey([]byte("fluffylisbon"), salt))
}

func TestNormalizeAnswer(t *testing.T) {
	assert.Equal(t, "answer", crypto.NormalizeAnswer("  ANSWER "))
	assert.Equal(t, "café", crypto.NormalizeAnswer("Café"))
}
