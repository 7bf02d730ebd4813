// Package testutil provides shared fixtures for arcvault tests: fast
// test configurations, log capture, and file helpers.
package testutil

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcvault/arcvault/internal/config"
	"github.com/arcvault/arcvault/internal/events"
)

// NewTestLogger returns a debug logger writing JSON into the returned
// buffer, so tests can assert on emitted lines.
func NewTestLogger() (*events.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf), &buf
}

// TestConfig builds a config rooted in a temp directory with the
// expensive knobs turned down: minimal bcrypt cost, millisecond timing
// floors, and a small streaming threshold so chunked encryption is
// exercised without multi-megabyte fixtures. The KDF iteration count
// is a package constant and stays at its production value.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Vault.Dir = t.TempDir()
	cfg.Vault.StreamThreshold = 256 * 1024

	cfg.Security.BcryptCost = 4
	cfg.Security.UnlockFloor = 10 * time.Millisecond
	cfg.Security.VerifyFloor = 5 * time.Millisecond
	cfg.Security.FolderDelayBase = time.Millisecond
	cfg.Security.FolderAutoLock = time.Hour

	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	return cfg
}

// WriteFile drops content into dir under name and returns the path.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, content, 0600))
	return path
}

// RandomBytes returns n random bytes.
func RandomBytes(t *testing.T, n int) []byte {
	t.Helper()

	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

// RequireLogContains asserts that a captured log buffer mentions
// substr on some line.
func RequireLogContains(t *testing.T, buf *bytes.Buffer, substr string) {
	t.Helper()

	if !strings.Contains(buf.String(), substr) {
		t.Fatalf("log output does not contain %q:\n%s", substr, buf.String())
	}
}
