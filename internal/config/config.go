package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Vault layout and storage behavior
	Vault VaultConfig `json:"vault" mapstructure:"vault"`

	// Authentication and rate limiting
	Security SecurityConfig `json:"security" mapstructure:"security"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// VaultConfig for the on-disk vault layout.
type VaultConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`                           // Vault root directory
	BackupRetention int    `json:"backup_retention" mapstructure:"backup_retention"` // Tree backups kept
	StreamThreshold int64  `json:"stream_threshold" mapstructure:"stream_threshold"` // Bytes; larger files use chunked encryption
	KeyUseCeiling   int    `json:"key_use_ceiling" mapstructure:"key_use_ceiling"`   // Key retrievals before re-authentication
}

// ObjectsDir is where ciphertext files live.
func (v *VaultConfig) ObjectsDir() string { return filepath.Join(v.Dir, "objects") }

// BackupDir holds rotating tree backups.
func (v *VaultConfig) BackupDir() string { return filepath.Join(v.Dir, "backups") }

// TempDir holds in-flight decrypt output before the atomic move.
func (v *VaultConfig) TempDir() string { return filepath.Join(v.Dir, "temp") }

// CredentialsPath is the credential record file.
func (v *VaultConfig) CredentialsPath() string { return filepath.Join(v.Dir, "credentials.json") }

// TreePath is the sealed tree record file.
func (v *VaultConfig) TreePath() string { return filepath.Join(v.Dir, "tree.arc") }

// AuditPath is the audit journal database.
func (v *VaultConfig) AuditPath() string { return filepath.Join(v.Dir, "audit.db") }

// SecurityConfig for unlock behavior and rate limiting.
type SecurityConfig struct {
	LockoutThreshold int           `json:"lockout_threshold" mapstructure:"lockout_threshold"` // Failed recovery attempts before lockout
	LockoutWindow    time.Duration `json:"lockout_window" mapstructure:"lockout_window"`       // Attempt window
	UnlockFloor      time.Duration `json:"unlock_floor" mapstructure:"unlock_floor"`           // Min wall clock per recovery unlock
	VerifyFloor      time.Duration `json:"verify_floor" mapstructure:"verify_floor"`           // Min wall clock per answer verification

	FolderLockoutThreshold int           `json:"folder_lockout_threshold" mapstructure:"folder_lockout_threshold"`
	FolderLockoutWindow    time.Duration `json:"folder_lockout_window" mapstructure:"folder_lockout_window"`
	FolderAutoLock         time.Duration `json:"folder_auto_lock" mapstructure:"folder_auto_lock"`   // Idle time before a folder relocks
	FolderDelayBase        time.Duration `json:"folder_delay_base" mapstructure:"folder_delay_base"` // Progressive delay base after repeated failures

	BcryptCost int `json:"bcrypt_cost" mapstructure:"bcrypt_cost"` // Verification hash cost
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level     string `json:"level" mapstructure:"level"`         // debug, info, warn, error
	Format    string `json:"format" mapstructure:"format"`       // text, json
	File      string `json:"file" mapstructure:"file"`           // Log file path (empty = stdout)
	Color     bool   `json:"color" mapstructure:"color"`         // Enable colored output
	Timestamp bool   `json:"timestamp" mapstructure:"timestamp"` // Include timestamps
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Vault: VaultConfig{
			Dir:             ".arcvault",
			BackupRetention: 10,
			StreamThreshold: 10 * 1024 * 1024, // 10MB
			KeyUseCeiling:   100,
		},
		Security: SecurityConfig{
			LockoutThreshold: 3,
			LockoutWindow:    10 * time.Minute,
			UnlockFloor:      time.Second,
			VerifyFloor:      500 * time.Millisecond,

			FolderLockoutThreshold: 5,
			FolderLockoutWindow:    5 * time.Minute,
			FolderAutoLock:         30 * time.Minute,
			FolderDelayBase:        2 * time.Second,

			BcryptCost: 12,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			File:      "",
			Color:     true,
			Timestamp: true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Vault.Dir == "" {
		return errors.New("vault.dir is required")
	}

	if c.Vault.BackupRetention <= 0 {
		return errors.New("vault.backup_retention must be positive")
	}

	if c.Vault.StreamThreshold <= 0 {
		return errors.New("vault.stream_threshold must be positive")
	}

	if c.Security.LockoutThreshold <= 0 {
		return errors.New("security.lockout_threshold must be positive")
	}

	if c.Security.LockoutWindow <= 0 {
		return errors.New("security.lockout_window must be positive")
	}

	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		return fmt.Errorf("security.bcrypt_cost out of range: %d", c.Security.BcryptCost)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Vault.Dir,
		c.Vault.ObjectsDir(),
		c.Vault.BackupDir(),
		c.Vault.TempDir(),
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
