package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcvault/arcvault/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.NotEmpty(t, cfg.Vault.Dir)
	assert.Equal(t, 10, cfg.Vault.BackupRetention)
	assert.Equal(t, int64(10*1024*1024), cfg.Vault.StreamThreshold)
	assert.Equal(t, 100, cfg.Vault.KeyUseCeiling)
	assert.Equal(t, 3, cfg.Security.LockoutThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Security.LockoutWindow)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.NoError(t, cfg.Validate())
}

func TestVaultPaths(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Vault.Dir = "/srv/vault"

	assert.Equal(t, filepath.Join("/srv/vault", "objects"), cfg.Vault.ObjectsDir())
	assert.Equal(t, filepath.Join("/srv/vault", "backups"), cfg.Vault.BackupDir())
	assert.Equal(t, filepath.Join("/srv/vault", "credentials.json"), cfg.Vault.CredentialsPath())
	assert.Equal(t, filepath.Join("/srv/vault", "tree.arc"), cfg.Vault.TreePath())
	assert.Equal(t, filepath.Join("/srv/vault", "audit.db"), cfg.Vault.AuditPath())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name: "valid config",
			modify: func(c *config.Config) {
				// No modifications
			},
			wantErr: "",
		},
		{
			name: "missing vault dir",
			modify: func(c *config.Config) {
				c.Vault.Dir = ""
			},
			wantErr: "vault.dir is required",
		},
		{
			name: "zero backup retention",
			modify: func(c *config.Config) {
				c.Vault.BackupRetention = 0
			},
			wantErr: "vault.backup_retention must be positive",
		},
		{
			name: "negative lockout window",
			modify: func(c *config.Config) {
				c.Security.LockoutWindow = -time.Minute
			},
			wantErr: "security.lockout_window must be positive",
		},
		{
			name: "bcrypt cost out of range",
			modify: func(c *config.Config) {
				c.Security.BcryptCost = 99
			},
			wantErr: "security.bcrypt_cost out of range",
		},
		{
			name: "invalid log level",
			modify: func(c *config.Config) {
				c.Log.Level = "invalid"
			},
			wantErr: "invalid log level",
		},
		{
			name: "invalid log format",
			modify: func(c *config.Config) {
				c.Log.Format = "xml"
			},
			wantErr: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoaderEnv(t *testing.T) {
	t.Setenv("ARCVAULT_VAULT_DIR", "/tmp/env-vault")
	t.Setenv("ARCVAULT_LOG_LEVEL", "debug")
	t.Setenv("ARCVAULT_SECURITY_LOCKOUT_WINDOW", "45s")

	loader := config.NewLoader("")
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-vault", cfg.Vault.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 45*time.Second, cfg.Security.LockoutWindow)
}

func TestLoaderFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.json")

	configJSON := `{
		"vault": {
			"dir": "/data/vault",
			"backup_retention": 5
		},
		"log": {
			"level": "warn",
			"format": "json"
		}
	}`

	err := os.WriteFile(configPath, []byte(configJSON), 0644)
	require.NoError(t, err)

	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "/data/vault", cfg.Vault.Dir)
	assert.Equal(t, 5, cfg.Vault.BackupRetention)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.Security.LockoutThreshold)
}

func TestLoaderMissingExplicitFile(t *testing.T) {
	loader := config.NewLoader(filepath.Join(t.TempDir(), "absent.json"))
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Vault.Dir = filepath.Join(tmpDir, "vault")

	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{
		cfg.Vault.Dir,
		cfg.Vault.ObjectsDir(),
		cfg.Vault.BackupDir(),
		cfg.Vault.TempDir(),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
