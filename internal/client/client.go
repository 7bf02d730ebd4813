// Package client assembles a vault instance: one Client wires the
// credential service, folder protection, the transactional store, and
// the audit journal over a shared keyring.
package client

import (
	"fmt"
	"sync"

	"github.com/arcvault/arcvault/internal/audit"
	"github.com/arcvault/arcvault/internal/config"
	"github.com/arcvault/arcvault/internal/events"
	"github.com/arcvault/arcvault/internal/keyring"
	"github.com/arcvault/arcvault/internal/models"
	"github.com/arcvault/arcvault/internal/secure"
	"github.com/arcvault/arcvault/internal/services/creds"
	"github.com/arcvault/arcvault/internal/services/folders"
	"github.com/arcvault/arcvault/internal/store"
)

// Client is the high-level vault API. Creds and Folders are usable
// while locked; the store exists only between a successful unlock and
// Lock.
type Client struct {
	Creds   *creds.Service
	Folders *folders.Service

	cfg        *config.Config
	logger     *events.Logger
	baseLogger *events.Logger
	journal    *audit.Journal
	registry   *keyring.Registry

	mu    sync.Mutex
	store *store.Service // nil while locked
}

// New builds a client over cfg. The vault stays locked until
// Initialize or one of the unlock calls provides the master key.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	journal, err := audit.NewJournal(cfg.Vault.AuditPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open audit journal: %w", err)
	}

	registry := keyring.NewRegistry(cfg.Vault.KeyUseCeiling, logger)

	return &Client{
		Creds:      creds.NewService(cfg.Vault.CredentialsPath(), &cfg.Security, journal, logger),
		Folders:    folders.NewService(registry, &cfg.Security, journal, logger),
		cfg:        cfg,
		logger:     logger.WithField("component", "client"),
		baseLogger: logger,
		journal:    journal,
		registry:   registry,
	}, nil
}

// Initialized reports whether the vault has credentials on disk.
func (c *Client) Initialized() bool {
	return c.Creds.Initialized()
}

// Unlocked reports whether the store is open.
func (c *Client) Unlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store != nil
}

// Initialize creates the vault credentials and opens the store. An
// empty question set leaves recovery unconfigured.
func (c *Client) Initialize(password, hint string, questions []creds.QuestionAnswer) error {
	master, err := c.Creds.Initialize(password, hint, questions)
	if err != nil {
		return err
	}
	return c.open(master)
}

// Unlock opens the vault with the master password.
func (c *Client) Unlock(password string) error {
	master, err := c.Creds.UnlockWithPassword(password)
	if err != nil {
		return err
	}
	return c.open(master)
}

// UnlockWithRecovery opens the vault with recovery answers.
func (c *Client) UnlockWithRecovery(answers []string) error {
	master, err := c.Creds.UnlockWithRecovery(answers)
	if err != nil {
		return err
	}
	return c.open(master)
}

func (c *Client) open(master []byte) error {
	defer secure.Wipe(master)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil {
		return nil
	}

	c.registry.LoadMaster(master)
	st, err := store.NewService(&c.cfg.Vault, c.registry, c.Folders, c.journal, c.baseLogger)
	if err != nil {
		c.registry.ClearAll()
		return err
	}

	c.store = st
	c.logger.Info("Vault unlocked")
	return nil
}

// Journal exposes the audit journal for read-side consumers.
func (c *Client) Journal() *audit.Journal {
	return c.journal
}

// Store returns the open store.
func (c *Client) Store() (*store.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		return nil, models.ErrNotUnlocked
	}
	return c.store, nil
}

// Lock relocks every folder, closes the store, and wipes all keys.
// Safe to call on a locked vault.
func (c *Client) Lock() error {
	c.mu.Lock()
	st := c.store
	c.store = nil
	c.mu.Unlock()

	c.Folders.LockAll()
	if st != nil {
		err := st.Close()
		c.logger.Info("Vault locked")
		return err
	}

	c.registry.ClearAll()
	return nil
}

// Close locks the vault and closes the audit journal.
func (c *Client) Close() error {
	lockErr := c.Lock()
	if err := c.journal.Close(); err != nil {
		return err
	}
	return lockErr
}

// ProtectFolder puts a password gate on a folder and persists the
// protection metadata. The folder is left unlocked for this session.
func (c *Client) ProtectFolder(folderID, password string) error {
	st, err := c.Store()
	if err != nil {
		return err
	}

	node, err := st.FolderInfo(folderID)
	if err != nil {
		return err
	}

	if err := c.Folders.Protect(&node, password); err != nil {
		return err
	}

	err = st.UpdateFolder(folderID, func(f *models.FolderNode) error {
		f.Protected = node.Protected
		f.PasswordHash = node.PasswordHash
		f.KeySalt = node.KeySalt
		f.WrappedKey = node.WrappedKey
		return nil
	})
	if err != nil {
		// Metadata never landed; drop the runtime key again.
		c.Folders.Lock(folderID)
		return err
	}
	return nil
}

// UnlockFolder opens a protected folder for this session.
func (c *Client) UnlockFolder(folderID, password string) error {
	st, err := c.Store()
	if err != nil {
		return err
	}

	node, err := st.FolderInfo(folderID)
	if err != nil {
		return err
	}
	return c.Folders.Unlock(&node, password)
}

// LockFolder relocks a protected folder.
func (c *Client) LockFolder(folderID string) {
	c.Folders.Lock(folderID)
}

// ChangeFolderPassword rewraps a folder's key under a new password.
// Files in the folder stay readable; only the gate changes.
func (c *Client) ChangeFolderPassword(folderID, oldPassword, newPassword string) error {
	st, err := c.Store()
	if err != nil {
		return err
	}

	node, err := st.FolderInfo(folderID)
	if err != nil {
		return err
	}

	if err := c.Folders.ChangePassword(&node, oldPassword, newPassword); err != nil {
		return err
	}

	return st.UpdateFolder(folderID, func(f *models.FolderNode) error {
		f.PasswordHash = node.PasswordHash
		f.KeySalt = node.KeySalt
		f.WrappedKey = node.WrappedKey
		return nil
	})
}

// RemoveFolder deletes an empty folder and drops any runtime
// protection state it held.
func (c *Client) RemoveFolder(folderID string) error {
	st, err := c.Store()
	if err != nil {
		return err
	}

	if err := st.DeleteFolder(folderID); err != nil {
		return err
	}
	c.Folders.Lock(folderID)
	return nil
}
