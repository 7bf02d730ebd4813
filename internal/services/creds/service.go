// Package creds owns the credential vault: the master key wrapping
// hierarchy with its two unlock paths, password and answer
// verification, and the recovery lockout state machine.
//
// The master key is wrapped twice per path: once under a path-private
// encoder key, and the encoder key under a key derived from that
// path's secret. Rotating one path re-wraps only its own artifacts;
// the other path and the master key value are never touched.
package creds

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/arcvault/arcvault/internal/audit"
	"github.com/arcvault/arcvault/internal/config"
	"github.com/arcvault/arcvault/internal/crypto"
	"github.com/arcvault/arcvault/internal/events"
	"github.com/arcvault/arcvault/internal/models"
	"github.com/arcvault/arcvault/internal/secure"
)

// answerSaltSize is the per-question salt length appended to the
// normalized answer before hashing.
const answerSaltSize = 16

// QuestionAnswer is one recovery question with its answer, used when
// configuring the recovery path.
type QuestionAnswer struct {
	Question string
	Answer   string
}

// Service manages the credential record and both unlock paths.
type Service struct {
	path     string
	security *config.SecurityConfig
	lockout  *Lockout
	journal  *audit.Journal
	logger   *events.Logger

	mu sync.Mutex
}

// NewService creates a credential service persisting to credPath. The
// journal may be nil when auditing is not wired up.
func NewService(credPath string, security *config.SecurityConfig, journal *audit.Journal, logger *events.Logger) *Service {
	return &Service{
		path:     credPath,
		security: security,
		lockout:  NewLockout(security.LockoutThreshold, security.LockoutWindow, nil),
		journal:  journal,
		logger:   logger.WithField("service", "creds"),
	}
}

// Initialized reports whether a credential record exists on disk.
func (s *Service) Initialized() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Initialize creates the credential record for a new vault and returns
// the freshly generated master key. The caller owns the returned bytes
// and wipes them after loading the keyring.
func (s *Service) Initialize(password, hint string, questions []QuestionAnswer) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Initialized() {
		return nil, models.ErrVaultExists
	}
	if err := CheckPassword(password); err != nil {
		return nil, err
	}

	master, err := crypto.NewKey()
	if err != nil {
		return nil, err
	}

	wrappedMaster, wrappedEncoder, err := wrapUnderPassword(master, password)
	if err != nil {
		secure.Wipe(master)
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.security.BcryptCost)
	if err != nil {
		secure.Wipe(master)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	cred := &models.Credential{
		ID:                uuid.NewString(),
		PasswordHash:      string(hash),
		PasswordHint:      hint,
		WrappedMasterPW:   wrappedMaster,
		WrappedEncoderPW:  wrappedEncoder,
		WrappedMasterRec:  models.NoRecoveryMarker,
		WrappedEncoderRec: models.NoRecoveryMarker,
		FormatVersion:     models.CredentialVersion,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if len(questions) > 0 {
		if err := s.applyRecovery(cred, master, questions); err != nil {
			secure.Wipe(master)
			return nil, err
		}
	}

	if err := s.saveRecord(cred); err != nil {
		secure.Wipe(master)
		return nil, err
	}

	s.audit(audit.EventVaultCreated, map[string]interface{}{
		"recovery_configured": cred.RecoveryConfigured(),
	})
	s.logger.Info("Vault credentials created")
	return master, nil
}

// VerifyPassword checks the password against the verification hash
// without deriving any keys. It never touches lockout state.
func (s *Service) VerifyPassword(password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.loadRecord()
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password))
	return err == nil, nil
}

// UnlockWithPassword unwraps the master key through the password path.
// A wrong password and a corrupted record produce the same error.
func (s *Service) UnlockWithPassword(password string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.loadRecord()
	if err != nil {
		return nil, err
	}

	master, err := s.openPasswordPath(cred, password)
	if err != nil {
		s.audit(audit.EventUnlockFailed, map[string]interface{}{"method": "password"})
		s.logger.Warn("Password unlock failed")
		return nil, err
	}

	s.audit(audit.EventUnlock, map[string]interface{}{"method": "password"})
	s.logger.Info("Vault unlocked with password")
	return master, nil
}

// UnlockWithRecovery unwraps the master key through the recovery path.
// Attempts are rate-limited; each attempt, successful or not, takes at
// least the configured floor to complete.
func (s *Service) UnlockWithRecovery(answers []string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.loadRecord()
	if err != nil {
		return nil, err
	}
	if !cred.RecoveryConfigured() {
		return nil, models.ErrRecoveryNotConfigured
	}

	if locked, remaining, _ := s.lockout.Status(cred.ID); locked {
		s.logger.WithField("remaining", remaining.String()).Warn("Recovery unlock while locked out")
		return nil, &models.LockedError{Remaining: remaining}
	}

	start := time.Now()
	defer s.holdFloor(start, s.security.UnlockFloor)

	master, err := unwrap(cred.WrappedMasterRec, cred.WrappedEncoderRec, func(salt []byte) []byte {
		return crypto.DeriveRecoveryKey(answers, salt)
	})
	if err != nil {
		s.lockout.Record(cred.ID)
		s.audit(audit.EventUnlockFailed, map[string]interface{}{"method": "recovery"})
		if locked, remaining, _ := s.lockout.Status(cred.ID); locked {
			s.audit(audit.EventLockout, map[string]interface{}{"remaining": remaining.String()})
		}
		s.logger.Warn("Recovery unlock failed")
		return nil, err
	}

	s.lockout.Clear(cred.ID)
	s.audit(audit.EventRecoveryUnlock, nil)
	s.logger.Info("Vault unlocked with recovery answers")
	return master, nil
}

// VerifyRecoveryAnswers checks an answer set against the stored hashes
// without unwrapping anything. A locked-out caller always gets false;
// failed checks count toward the lockout. The call takes at least the
// verify floor regardless of outcome.
func (s *Service) VerifyRecoveryAnswers(answers []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.loadRecord()
	if err != nil {
		return false, err
	}
	if !cred.RecoveryConfigured() {
		return false, models.ErrRecoveryNotConfigured
	}
	if locked, _, _ := s.lockout.Status(cred.ID); locked {
		return false, nil
	}

	start := time.Now()
	defer s.holdFloor(start, s.security.VerifyFloor)

	ok := len(answers) == len(cred.Questions)
	if ok {
		for i, q := range cred.Questions {
			salt, err := base64.StdEncoding.DecodeString(q.Salt)
			if err != nil {
				ok = false
				break
			}
			probe := append([]byte(crypto.NormalizeAnswer(answers[i])), salt...)
			if bcrypt.CompareHashAndPassword([]byte(q.AnswerHash), probe) != nil {
				ok = false
				break
			}
		}
	}

	if !ok {
		s.lockout.Record(cred.ID)
	}
	return ok, nil
}

// ChangePassword rotates the password path: fresh encoder key, fresh
// derivation salt, new verification hash and hint. The recovery path
// and the master key value are untouched.
func (s *Service) ChangePassword(oldPassword, newPassword, newHint string) error {
	if err := CheckPassword(newPassword); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.loadRecord()
	if err != nil {
		return err
	}

	master, err := s.openPasswordPath(cred, oldPassword)
	if err != nil {
		s.logger.Warn("Password change rejected")
		return err
	}
	defer secure.Wipe(master)

	wrappedMaster, wrappedEncoder, err := wrapUnderPassword(master, newPassword)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.security.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	cred.PasswordHash = string(hash)
	cred.PasswordHint = newHint
	cred.WrappedMasterPW = wrappedMaster
	cred.WrappedEncoderPW = wrappedEncoder
	cred.UpdatedAt = time.Now().UTC()

	if err := s.saveRecord(cred); err != nil {
		return err
	}

	s.audit(audit.EventPasswordChanged, nil)
	s.logger.Info("Master password changed")
	return nil
}

// ReconfigureRecovery replaces the recovery path after a successful
// password check. An empty question set removes recovery entirely.
func (s *Service) ReconfigureRecovery(password string, questions []QuestionAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.loadRecord()
	if err != nil {
		return err
	}

	master, err := s.openPasswordPath(cred, password)
	if err != nil {
		s.logger.Warn("Recovery reconfiguration rejected")
		return err
	}
	defer secure.Wipe(master)

	if len(questions) == 0 {
		cred.WrappedMasterRec = models.NoRecoveryMarker
		cred.WrappedEncoderRec = models.NoRecoveryMarker
		cred.Questions = nil
	} else {
		if err := s.applyRecovery(cred, master, questions); err != nil {
			return err
		}
	}
	cred.UpdatedAt = time.Now().UTC()

	if err := s.saveRecord(cred); err != nil {
		return err
	}

	s.audit(audit.EventRecoveryChanged, map[string]interface{}{
		"configured": len(questions) > 0,
	})
	s.logger.Info("Recovery questions reconfigured")
	return nil
}

// LockoutStatus reports the recovery rate-limit state.
func (s *Service) LockoutStatus() (*models.LockoutStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.loadRecord()
	if err != nil {
		return nil, err
	}

	locked, remaining, failures := s.lockout.Status(cred.ID)
	return &models.LockoutStatus{
		Locked:             locked,
		Remaining:          remaining,
		FailedAttempts:     failures,
		RecoveryConfigured: cred.RecoveryConfigured(),
	}, nil
}

// PasswordHint returns the stored hint. Available without
// authentication, as it is shown on the unlock prompt.
func (s *Service) PasswordHint() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.loadRecord()
	if err != nil {
		return "", err
	}
	return cred.PasswordHint, nil
}

// Questions returns the recovery question texts in answer order.
func (s *Service) Questions() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.loadRecord()
	if err != nil {
		return nil, err
	}

	questions := make([]string, len(cred.Questions))
	for i, q := range cred.Questions {
		questions[i] = q.Question
	}
	return questions, nil
}

// openPasswordPath verifies the password hash, then unwraps the master
// key. All failures collapse to ErrBadCredential.
func (s *Service) openPasswordPath(cred *models.Credential, password string) ([]byte, error) {
	// Cheap rejection before the expensive derivation.
	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return nil, models.ErrBadCredential
	}

	return unwrap(cred.WrappedMasterPW, cred.WrappedEncoderPW, func(salt []byte) []byte {
		return crypto.DeriveKey([]byte(password), salt)
	})
}

// applyRecovery writes fresh recovery-path artifacts onto cred.
func (s *Service) applyRecovery(cred *models.Credential, master []byte, questions []QuestionAnswer) error {
	answers := make([]string, len(questions))
	for i, qa := range questions {
		if strings.TrimSpace(qa.Question) == "" {
			return fmt.Errorf("recovery question %d is empty", i+1)
		}
		if crypto.NormalizeAnswer(qa.Answer) == "" {
			return fmt.Errorf("recovery answer %d is empty", i+1)
		}
		answers[i] = qa.Answer
	}

	wrappedMaster, wrappedEncoder, err := wrapUnderAnswers(master, answers)
	if err != nil {
		return err
	}

	hashed := make([]models.RecoveryQuestion, len(questions))
	for i, qa := range questions {
		salt := make([]byte, answerSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("generate answer salt: %w", err)
		}

		probe := append([]byte(crypto.NormalizeAnswer(qa.Answer)), salt...)
		hash, err := bcrypt.GenerateFromPassword(probe, s.security.BcryptCost)
		if err != nil {
			return fmt.Errorf("hash answer %d: %w", i+1, err)
		}

		hashed[i] = models.RecoveryQuestion{
			Question:   qa.Question,
			AnswerHash: string(hash),
			Salt:       base64.StdEncoding.EncodeToString(salt),
		}
	}

	cred.WrappedMasterRec = wrappedMaster
	cred.WrappedEncoderRec = wrappedEncoder
	cred.Questions = hashed
	return nil
}

// loadRecord reads and parses the credential record.
func (s *Service) loadRecord() (*models.Credential, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, models.ErrVaultNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var cred models.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &cred, nil
}

// saveRecord writes the record atomically.
func (s *Service) saveRecord(cred *models.Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.tmp.%d", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename credentials file: %w", err)
	}

	return nil
}

func (s *Service) holdFloor(start time.Time, floor time.Duration) {
	if elapsed := time.Since(start); elapsed < floor {
		time.Sleep(floor - elapsed)
	}
}

func (s *Service) audit(event string, detail map[string]interface{}) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(event, detail); err != nil {
		s.logger.WithError(err).Warn("Audit append failed")
	}
}

// wrapUnderPassword builds password-path artifacts: the master key
// sealed under a fresh encoder key, and the encoder key sealed under a
// key derived from the password. The derivation salt is prefixed to
// the wrapped encoder blob.
func wrapUnderPassword(master []byte, password string) (wrappedMaster, wrappedEncoder string, err error) {
	return wrapPath(master, func(salt []byte) []byte {
		return crypto.DeriveKey([]byte(password), salt)
	})
}

// wrapUnderAnswers builds recovery-path artifacts from an answer set.
func wrapUnderAnswers(master []byte, answers []string) (wrappedMaster, wrappedEncoder string, err error) {
	return wrapPath(master, func(salt []byte) []byte {
		return crypto.DeriveRecoveryKey(answers, salt)
	})
}

func wrapPath(master []byte, derive func(salt []byte) []byte) (string, string, error) {
	encoder, err := crypto.NewKey()
	if err != nil {
		return "", "", err
	}
	defer secure.Wipe(encoder)

	sealedMaster, err := crypto.Seal(master, encoder)
	if err != nil {
		return "", "", fmt.Errorf("wrap master key: %w", err)
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return "", "", err
	}

	derived := derive(salt)
	defer secure.Wipe(derived)

	sealedEncoder, err := crypto.Seal(encoder, derived)
	if err != nil {
		return "", "", fmt.Errorf("wrap encoder key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sealedMaster),
		base64.StdEncoding.EncodeToString(append(salt, sealedEncoder...)), nil
}

// unwrap opens one path's artifacts: salt off the encoder blob, derive,
// open the encoder key, open the master key. Every failure collapses to
// ErrBadCredential so the caller cannot tell a wrong secret from a
// corrupted record.
func unwrap(wrappedMaster, wrappedEncoder string, derive func(salt []byte) []byte) ([]byte, error) {
	encoderBlob, err := base64.StdEncoding.DecodeString(wrappedEncoder)
	if err != nil || len(encoderBlob) <= crypto.SaltSize {
		return nil, models.ErrBadCredential
	}

	derived := derive(encoderBlob[:crypto.SaltSize])
	defer secure.Wipe(derived)

	encoder, err := crypto.Open(encoderBlob[crypto.SaltSize:], derived)
	if err != nil {
		return nil, models.ErrBadCredential
	}
	defer secure.Wipe(encoder)

	masterBlob, err := base64.StdEncoding.DecodeString(wrappedMaster)
	if err != nil {
		return nil, models.ErrBadCredential
	}

	master, err := crypto.Open(masterBlob, encoder)
	if err != nil {
		return nil, models.ErrBadCredential
	}
	return master, nil
}
