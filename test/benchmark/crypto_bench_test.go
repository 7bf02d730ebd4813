package benchmark

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"testing"

	"github.com/arcvault/arcvault/internal/crypto"
)

func benchKey(b *testing.B) []byte {
	b.Helper()

	key := make([]byte, crypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		b.Fatal(err)
	}
	return key
}

func BenchmarkDeriveKey(b *testing.B) {
	salt, err := crypto.NewSalt()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		crypto.DeriveKey([]byte("Str0ng!Passw0rd123"), salt)
	}
}

func BenchmarkDeriveRecoveryKey(b *testing.B) {
	salt, err := crypto.NewSalt()
	if err != nil {
		b.Fatal(err)
	}
	answers := []string{"Bramble", "Larkspur Lane", "The Mountain Goats"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		crypto.DeriveRecoveryKey(answers, salt)
	}
}

func BenchmarkSeal(b *testing.B) {
	key := benchKey(b)

	for _, size := range []int{1024, 64 * 1024, 1024 * 1024} {
		b.Run(fmt.Sprintf("%dKiB", size/1024), func(b *testing.B) {
			plaintext := make([]byte, size)
			if _, err := rand.Read(plaintext); err != nil {
				b.Fatal(err)
			}

			b.SetBytes(int64(size))
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := crypto.Seal(plaintext, key); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkOpen(b *testing.B) {
	key := benchKey(b)

	for _, size := range []int{1024, 64 * 1024, 1024 * 1024} {
		b.Run(fmt.Sprintf("%dKiB", size/1024), func(b *testing.B) {
			plaintext := make([]byte, size)
			if _, err := rand.Read(plaintext); err != nil {
				b.Fatal(err)
			}
			token, err := crypto.Seal(plaintext, key)
			if err != nil {
				b.Fatal(err)
			}

			b.SetBytes(int64(size))
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := crypto.Open(token, key); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSealStream(b *testing.B) {
	key := benchKey(b)

	for _, size := range []int{1024 * 1024, 16 * 1024 * 1024} {
		b.Run(fmt.Sprintf("%dMiB", size/(1024*1024)), func(b *testing.B) {
			plaintext := make([]byte, size)
			if _, err := rand.Read(plaintext); err != nil {
				b.Fatal(err)
			}

			b.SetBytes(int64(size))
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := crypto.SealStream(io.Discard, bytes.NewReader(plaintext), key); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkOpenStream(b *testing.B) {
	key := benchKey(b)

	size := 16 * 1024 * 1024
	plaintext := make([]byte, size)
	if _, err := rand.Read(plaintext); err != nil {
		b.Fatal(err)
	}

	var sealed bytes.Buffer
	if _, err := crypto.SealStream(&sealed, bytes.NewReader(plaintext), key); err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(size))
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := crypto.OpenStream(io.Discard, bytes.NewReader(sealed.Bytes()), key); err != nil {
			b.Fatal(err)
		}
	}
}
