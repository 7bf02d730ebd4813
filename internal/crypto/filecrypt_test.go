package crypto_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcvault/arcvault/internal/crypto"
	"github.com/arcvault/arcvault/internal/models"
)

func patternBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestSealStream_RoundTrip(t *testing.T) {
	key := testKey(t)

	tests := []struct {
		name string
		size int
	}{
		{"below one chunk", crypto.ChunkSize - 1},
		{"exactly one chunk", crypto.ChunkSize},
		{"just over one chunk", crypto.ChunkSize + 1},
		{"many chunks", 3*crypto.ChunkSize + 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plaintext := patternBytes(tt.size)

			var sealed bytes.Buffer
			n, err := crypto.SealStream(&sealed, bytes.NewReader(plaintext), key)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.size), n)

			var opened bytes.Buffer
			n, err = crypto.OpenStream(&opened, bytes.NewReader(sealed.Bytes()), key)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.size), n)
			assert.Equal(t, plaintext, opened.Bytes())
		})
	}
}

func TestOpenStream_Failures(t *testing.T) {
	key := testKey(t)
	plaintext := patternBytes(2*crypto.ChunkSize + 100)

	var sealed bytes.Buffer
	_, err := crypto.SealStream(&sealed, bytes.NewReader(plaintext), key)
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, err := crypto.OpenStream(&bytes.Buffer{}, bytes.NewReader(sealed.Bytes()), testKey(t))
		assert.ErrorIs(t, err, models.ErrDecryptFailed)
	})

	t.Run("tampered middle chunk", func(t *testing.T) {
		corrupt := append([]byte(nil), sealed.Bytes()...)
		corrupt[len(corrupt)/2] ^= 0xFF

		_, err := crypto.OpenStream(&bytes.Buffer{}, bytes.NewReader(corrupt), key)
		assert.ErrorIs(t, err, models.ErrDecryptFailed)
	})

	t.Run("truncated stream", func(t *testing.T) {
		truncated := sealed.Bytes()[:sealed.Len()-10]

		_, err := crypto.OpenStream(&bytes.Buffer{}, bytes.NewReader(truncated), key)
		assert.ErrorIs(t, err, models.ErrDecryptFailed)
	})

	t.Run("oversized frame length", func(t *testing.T) {
		bogus := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x00}

		_, err := crypto.OpenStream(&bytes.Buffer{}, bytes.NewReader(bogus), key)
		assert.ErrorIs(t, err, models.ErrDecryptFailed)
	})
}

func TestFileHeader_RoundTrip(t *testing.T) {
	wrapped := patternBytes(crypto.KeySize + crypto.Overhead)

	var buf bytes.Buffer
	err := crypto.WriteFileHeader(&buf, &crypto.FileHeader{
		Version:    crypto.FileFormatVersion,
		Mode:       crypto.ModeStream,
		WrappedKey: wrapped,
	})
	require.NoError(t, err)

	header, err := crypto.ReadFileHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, byte(crypto.FileFormatVersion), header.Version)
	assert.Equal(t, crypto.ModeStream, header.Mode)
	assert.Equal(t, wrapped, header.WrappedKey)
	assert.Zero(t, buf.Len(), "header read should stop at the body")
}

func TestReadFileHeader_Corrupt(t *testing.T) {
	valid := func() []byte {
		var buf bytes.Buffer
		err := crypto.WriteFileHeader(&buf, &crypto.FileHeader{
			Version:    crypto.FileFormatVersion,
			Mode:       crypto.ModeSingle,
			WrappedKey: patternBytes(61),
		})
		require.NoError(t, err)
		return buf.Bytes()
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"unknown version", func(b []byte) []byte { b[4] = 99; return b }},
		{"unknown mode", func(b []byte) []byte { b[5] = 0; return b }},
		{"zero key length", func(b []byte) []byte {
			copy(b[6:10], []byte{0, 0, 0, 0})
			return b
		}},
		{"huge key length", func(b []byte) []byte {
			copy(b[6:10], []byte{0xFF, 0xFF, 0xFF, 0xFF})
			return b
		}},
		{"truncated", func(b []byte) []byte { return b[:8] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(valid())
			_, err := crypto.ReadFileHeader(bytes.NewReader(data))
			assert.ErrorIs(t, err, models.ErrDecryptFailed)
		})
	}
}

func TestEncryptDecryptBody(t *testing.T) {
	key := testKey(t)

	tests := []struct {
		name string
		mode byte
		size int
	}{
		{"single shot", crypto.ModeSingle, 4096},
		{"single shot empty", crypto.ModeSingle, 0},
		{"streaming", crypto.ModeStream, 2*crypto.ChunkSize + 31},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plaintext := patternBytes(tt.size)
			wantHash := sha256.Sum256(plaintext)

			var body bytes.Buffer
			hash, n, err := crypto.EncryptBody(&body, bytes.NewReader(plaintext), key, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.size), n)
			assert.Equal(t, hex.EncodeToString(wantHash[:]), hash)

			var opened bytes.Buffer
			hash, n, err = crypto.DecryptBody(&opened, bytes.NewReader(body.Bytes()), key, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.size), n)
			assert.Equal(t, hex.EncodeToString(wantHash[:]), hash)
			assert.Equal(t, plaintext, opened.Bytes())
		})
	}
}

func TestModeForSize(t *testing.T) {
	assert.Equal(t, crypto.ModeSingle, crypto.ModeForSize(0, 0))
	assert.Equal(t, crypto.ModeSingle, crypto.ModeForSize(crypto.DefaultStreamThreshold, 0))
	assert.Equal(t, crypto.ModeStream, crypto.ModeForSize(crypto.DefaultStreamThreshold+1, 0))
	assert.Equal(t, crypto.ModeStream, crypto.ModeForSize(100, 50))
}
