package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads configuration from defaults, an optional file, and
// environment variables, later sources overriding earlier ones.
// Environment variables use the ARCVAULT_ prefix with underscores, e.g.
// ARCVAULT_LOG_LEVEL=debug or ARCVAULT_VAULT_DIR=/srv/vault.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty path searches the default
// locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		v:          viper.New(),
	}
}

// Load resolves the final configuration.
func (l *Loader) Load() (*Config, error) {
	defaults := DefaultConfig()
	l.setDefaults(defaults)

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
	} else {
		l.v.SetConfigName("arcvault")
		l.v.SetConfigType("json")
		l.v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(homeDir, ".config", "arcvault"))
			l.v.AddConfigPath(filepath.Join(homeDir, ".arcvault"))
		}
	}

	l.v.SetEnvPrefix("ARCVAULT")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing file is fine when searching default locations;
		// an explicit path must exist.
		var notFound viper.ConfigFileNotFoundError
		if l.configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides work even
// without a config file.
func (l *Loader) setDefaults(cfg *Config) {
	l.v.SetDefault("vault.dir", cfg.Vault.Dir)
	l.v.SetDefault("vault.backup_retention", cfg.Vault.BackupRetention)
	l.v.SetDefault("vault.stream_threshold", cfg.Vault.StreamThreshold)
	l.v.SetDefault("vault.key_use_ceiling", cfg.Vault.KeyUseCeiling)

	l.v.SetDefault("security.lockout_threshold", cfg.Security.LockoutThreshold)
	l.v.SetDefault("security.lockout_window", cfg.Security.LockoutWindow)
	l.v.SetDefault("security.unlock_floor", cfg.Security.UnlockFloor)
	l.v.SetDefault("security.verify_floor", cfg.Security.VerifyFloor)
	l.v.SetDefault("security.folder_lockout_threshold", cfg.Security.FolderLockoutThreshold)
	l.v.SetDefault("security.folder_lockout_window", cfg.Security.FolderLockoutWindow)
	l.v.SetDefault("security.folder_auto_lock", cfg.Security.FolderAutoLock)
	l.v.SetDefault("security.folder_delay_base", cfg.Security.FolderDelayBase)
	l.v.SetDefault("security.bcrypt_cost", cfg.Security.BcryptCost)

	l.v.SetDefault("log.level", cfg.Log.Level)
	l.v.SetDefault("log.format", cfg.Log.Format)
	l.v.SetDefault("log.file", cfg.Log.File)
	l.v.SetDefault("log.color", cfg.Log.Color)
	l.v.SetDefault("log.timestamp", cfg.Log.Timestamp)
}

// SaveExample writes a config file populated with the defaults.
func SaveExample(path string) error {
	v := viper.New()
	(&Loader{v: v}).setDefaults(DefaultConfig())
	v.SetConfigType("json")

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
