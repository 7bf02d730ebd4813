package benchmark

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/arcvault/arcvault/internal/config"
	"github.com/arcvault/arcvault/internal/events"
	"github.com/arcvault/arcvault/internal/keyring"
	"github.com/arcvault/arcvault/internal/store"
)

func benchStore(b *testing.B) (*store.Service, *config.VaultConfig) {
	b.Helper()

	cfg := &config.VaultConfig{
		Dir:             b.TempDir(),
		BackupRetention: 10,
		StreamThreshold: 10 * 1024 * 1024,
		KeyUseCeiling:   -1,
	}

	logger := events.NewTestLogger(events.ErrorLevel, "json", io.Discard)
	registry := keyring.NewRegistry(-1, logger)
	registry.LoadMaster(benchKey(b))

	svc, err := store.NewService(cfg, registry, nil, nil, logger)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = svc.Close() })
	return svc, cfg
}

func benchSource(b *testing.B, size int) string {
	b.Helper()

	content := make([]byte, size)
	if _, err := rand.Read(content); err != nil {
		b.Fatal(err)
	}

	path := filepath.Join(b.TempDir(), "source.bin")
	if err := os.WriteFile(path, content, 0600); err != nil {
		b.Fatal(err)
	}
	return path
}

func BenchmarkAddFile(b *testing.B) {
	for _, size := range []int{4 * 1024, 1024 * 1024} {
		b.Run(fmt.Sprintf("%dKiB", size/1024), func(b *testing.B) {
			svc, _ := benchStore(b)
			src := benchSource(b, size)

			b.SetBytes(int64(size))
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := svc.AddFile(src, fmt.Sprintf("f%d", i), ""); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkExtractFile(b *testing.B) {
	svc, _ := benchStore(b)
	src := benchSource(b, 1024*1024)

	fileID, err := svc.AddFile(src, "", "")
	if err != nil {
		b.Fatal(err)
	}
	outDir := b.TempDir()

	b.SetBytes(1024 * 1024)
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		dest := filepath.Join(outDir, fmt.Sprintf("out%d.bin", i))
		if err := svc.ExtractFile(fileID, dest); err != nil {
			b.Fatal(err)
		}
		_ = os.Remove(dest)
	}
}

func BenchmarkCommitBatch(b *testing.B) {
	svc, _ := benchStore(b)
	src := benchSource(b, 4*1024)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		txn := svc.Begin("bench batch")
		for j := 0; j < 10; j++ {
			if err := txn.AddFile(src, fmt.Sprintf("f%d-%d", i, j), ""); err != nil {
				b.Fatal(err)
			}
		}
		if _, err := txn.Commit(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVerifyIntegrity(b *testing.B) {
	svc, _ := benchStore(b)
	src := benchSource(b, 64*1024)

	for i := 0; i < 50; i++ {
		if _, err := svc.AddFile(src, fmt.Sprintf("f%d", i), ""); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		issues, err := svc.VerifyIntegrity()
		if err != nil {
			b.Fatal(err)
		}
		if len(issues) != 0 {
			b.Fatalf("unexpected issues: %v", issues)
		}
	}
}
