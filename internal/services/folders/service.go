// Package folders implements per-folder protection: a bcrypt-gated
// password per protected folder, a folder key wrapped under a key
// derived from that password, idle auto-lock, and brute-force rate
// limiting with progressive delays.
//
// The service owns only runtime state. Protection metadata lives on the
// FolderNode; callers pass the node in and persist it afterwards.
package folders

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/arcvault/arcvault/internal/audit"
	"github.com/arcvault/arcvault/internal/config"
	"github.com/arcvault/arcvault/internal/crypto"
	"github.com/arcvault/arcvault/internal/events"
	"github.com/arcvault/arcvault/internal/keyring"
	"github.com/arcvault/arcvault/internal/models"
	"github.com/arcvault/arcvault/internal/secure"
	"github.com/arcvault/arcvault/internal/services/creds"
)

// maxAttemptDelay caps the progressive pre-attempt delay.
const maxAttemptDelay = 30 * time.Second

// Service tracks which folders are unlocked, their auto-lock timers,
// and the per-folder failure history. Folder keys themselves live in
// the keyring.
type Service struct {
	registry *keyring.Registry
	security *config.SecurityConfig
	lockout  *creds.Lockout
	journal  *audit.Journal
	logger   *events.Logger

	mu       sync.Mutex
	unlocked map[string]struct{}
	timers   map[string]*time.Timer
}

// NewService creates a folder protection service. The journal may be
// nil when auditing is not wired up.
func NewService(registry *keyring.Registry, security *config.SecurityConfig, journal *audit.Journal, logger *events.Logger) *Service {
	return &Service{
		registry: registry,
		security: security,
		lockout:  creds.NewLockout(security.FolderLockoutThreshold, security.FolderLockoutWindow, nil),
		journal:  journal,
		logger:   logger.WithField("service", "folders"),
		unlocked: make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}
}

// Protect puts a folder under password protection: a fresh folder key
// is generated and wrapped under a key derived from the password, and
// the protection metadata is written onto the node. The folder starts
// out unlocked, since the caller just proved knowledge of the password.
func (s *Service) Protect(folder *models.FolderNode, password string) error {
	if folder.Protected {
		return fmt.Errorf("folder %q is already protected", folder.Name)
	}
	if err := creds.CheckPassword(password); err != nil {
		return err
	}

	key, err := crypto.NewKey()
	if err != nil {
		return err
	}
	defer secure.Wipe(key)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.security.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash folder password: %w", err)
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}

	derived := crypto.DeriveKey([]byte(password), salt)
	wrapped, err := crypto.Seal(key, derived)
	secure.Wipe(derived)
	if err != nil {
		return fmt.Errorf("wrap folder key: %w", err)
	}

	folder.Protected = true
	folder.PasswordHash = string(hash)
	folder.KeySalt = base64.StdEncoding.EncodeToString(salt)
	folder.WrappedKey = base64.StdEncoding.EncodeToString(wrapped)

	s.registry.Register(folder.ID, key)
	s.markUnlocked(folder.ID)

	s.audit(audit.EventFolderProtected, map[string]interface{}{
		"folder_id": folder.ID,
		"name":      folder.Name,
	})
	s.logger.WithField("folder_id", folder.ID).Info("Folder protected")
	return nil
}

// Unlock verifies the folder password, unwraps the folder key into the
// keyring, and arms the auto-lock timer. Attempts are rate-limited per
// folder; repeated failures add a doubling delay before the check runs.
func (s *Service) Unlock(folder *models.FolderNode, password string) error {
	if !folder.Protected {
		return fmt.Errorf("folder %q is not protected", folder.Name)
	}

	if delay := s.attemptDelay(folder.ID); delay > 0 {
		s.logger.WithFields(map[string]interface{}{
			"folder_id": folder.ID,
			"delay":     delay.String(),
		}).Debug("Delaying unlock attempt")
		time.Sleep(delay)
	}

	if locked, remaining, _ := s.lockout.Status(folder.ID); locked {
		s.logger.WithField("folder_id", folder.ID).Warn("Folder unlock while locked out")
		return &models.LockedError{Remaining: remaining}
	}

	if bcrypt.CompareHashAndPassword([]byte(folder.PasswordHash), []byte(password)) != nil {
		s.fail(folder.ID)
		return models.ErrBadCredential
	}

	key, err := unwrapFolderKey(folder, password)
	if err != nil {
		s.fail(folder.ID)
		return err
	}

	s.lockout.Clear(folder.ID)
	s.registry.Register(folder.ID, key)
	secure.Wipe(key)
	s.markUnlocked(folder.ID)

	s.audit(audit.EventFolderUnlocked, map[string]interface{}{"folder_id": folder.ID})
	s.logger.WithField("folder_id", folder.ID).Info("Folder unlocked")
	return nil
}

// Lock relocks a folder: its key is wiped from the keyring and the
// auto-lock timer is cancelled. Locking a locked folder is a no-op.
func (s *Service) Lock(folderID string) {
	s.lock(folderID, false)
}

// LockAll relocks every unlocked folder. Called on vault close.
func (s *Service) LockAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.unlocked))
	for id := range s.unlocked {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.lock(id, false)
	}
}

// Unlocked reports whether a folder's key is currently available.
func (s *Service) Unlocked(folderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unlocked[folderID]
	return ok
}

// FolderKey returns a copy of an unlocked folder's key and resets its
// auto-lock timer. The retrieval counts against the key's use ceiling.
func (s *Service) FolderKey(folderID string) ([]byte, error) {
	if !s.Unlocked(folderID) {
		return nil, models.ErrFolderLocked
	}
	s.armTimer(folderID)

	key, err := s.registry.Key(folderID)
	if err == models.ErrNotFound {
		return nil, models.ErrFolderLocked
	}
	return key, err
}

// LockoutStatus reports the rate-limit state for one folder.
func (s *Service) LockoutStatus(folderID string) *models.LockoutStatus {
	locked, remaining, failures := s.lockout.Status(folderID)
	return &models.LockoutStatus{
		Locked:         locked,
		Remaining:      remaining,
		FailedAttempts: failures,
	}
}

// ChangePassword rotates a folder's password: the key is unwrapped with
// the old password and rewrapped under the new one. The folder key
// itself never changes, so stored files stay readable.
func (s *Service) ChangePassword(folder *models.FolderNode, oldPassword, newPassword string) error {
	if !folder.Protected {
		return fmt.Errorf("folder %q is not protected", folder.Name)
	}
	if err := creds.CheckPassword(newPassword); err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(folder.PasswordHash), []byte(oldPassword)) != nil {
		s.fail(folder.ID)
		return models.ErrBadCredential
	}

	key, err := unwrapFolderKey(folder, oldPassword)
	if err != nil {
		s.fail(folder.ID)
		return err
	}
	defer secure.Wipe(key)

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.security.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash folder password: %w", err)
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}

	derived := crypto.DeriveKey([]byte(newPassword), salt)
	wrapped, err := crypto.Seal(key, derived)
	secure.Wipe(derived)
	if err != nil {
		return fmt.Errorf("wrap folder key: %w", err)
	}

	folder.PasswordHash = string(hash)
	folder.KeySalt = base64.StdEncoding.EncodeToString(salt)
	folder.WrappedKey = base64.StdEncoding.EncodeToString(wrapped)

	s.lockout.Clear(folder.ID)
	s.audit(audit.EventFolderProtected, map[string]interface{}{
		"folder_id": folder.ID,
		"name":      folder.Name,
		"rotated":   true,
	})
	s.logger.WithField("folder_id", folder.ID).Info("Folder password changed")
	return nil
}

// attemptDelay returns the pre-attempt delay owed after repeated
// failures: nothing below three recent failures, then doubling from
// the configured base up to the cap.
func (s *Service) attemptDelay(folderID string) time.Duration {
	if s.security.FolderDelayBase <= 0 {
		return 0
	}

	_, _, failures := s.lockout.Status(folderID)
	if failures < 3 {
		return 0
	}

	delay := s.security.FolderDelayBase << uint(failures-3)
	if delay > maxAttemptDelay {
		delay = maxAttemptDelay
	}
	return delay
}

func (s *Service) fail(folderID string) {
	s.lockout.Record(folderID)
	s.audit(audit.EventUnlockFailed, map[string]interface{}{
		"method":    "folder",
		"folder_id": folderID,
	})
	if locked, remaining, _ := s.lockout.Status(folderID); locked {
		s.audit(audit.EventLockout, map[string]interface{}{
			"folder_id": folderID,
			"remaining": remaining.String(),
		})
	}
	s.logger.WithField("folder_id", folderID).Warn("Folder unlock failed")
}

func (s *Service) markUnlocked(folderID string) {
	s.mu.Lock()
	s.unlocked[folderID] = struct{}{}
	s.mu.Unlock()
	s.armTimer(folderID)
}

func (s *Service) lock(folderID string, auto bool) {
	s.mu.Lock()
	_, was := s.unlocked[folderID]
	delete(s.unlocked, folderID)
	if t, ok := s.timers[folderID]; ok {
		t.Stop()
		delete(s.timers, folderID)
	}
	s.mu.Unlock()

	if !was {
		return
	}

	s.registry.Unregister(folderID)
	s.audit(audit.EventFolderLocked, map[string]interface{}{
		"folder_id": folderID,
		"auto":      auto,
	})
	s.logger.WithFields(map[string]interface{}{
		"folder_id": folderID,
		"auto":      auto,
	}).Info("Folder locked")
}

func (s *Service) armTimer(folderID string) {
	if s.security.FolderAutoLock <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[folderID]; ok {
		t.Stop()
	}
	s.timers[folderID] = time.AfterFunc(s.security.FolderAutoLock, func() {
		s.lock(folderID, true)
	})
}

func (s *Service) audit(event string, detail map[string]interface{}) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(event, detail); err != nil {
		s.logger.WithError(err).Warn("Audit append failed")
	}
}

// unwrapFolderKey opens the folder key with a key derived from the
// password. Failures collapse to ErrBadCredential.
func unwrapFolderKey(folder *models.FolderNode, password string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(folder.KeySalt)
	if err != nil {
		return nil, models.ErrBadCredential
	}
	wrapped, err := base64.StdEncoding.DecodeString(folder.WrappedKey)
	if err != nil {
		return nil, models.ErrBadCredential
	}

	derived := crypto.DeriveKey([]byte(password), salt)
	defer secure.Wipe(derived)

	key, err := crypto.Open(wrapped, derived)
	if err != nil {
		return nil, models.ErrBadCredential
	}
	return key, nil
}
