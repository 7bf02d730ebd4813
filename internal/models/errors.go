package models

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for structured error handling.
const (
	ErrCodeCredential  = "CREDENTIAL_ERROR"
	ErrCodeLocked      = "LOCKED"
	ErrCodeDecryption  = "DECRYPTION_ERROR"
	ErrCodeIntegrity   = "INTEGRITY_ERROR"
	ErrCodeTransaction = "TRANSACTION_ERROR"
	ErrCodeStorage     = "STORAGE_ERROR"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodePermission  = "PERMISSION_DENIED"
)

// Sentinel errors
var (
	// ErrDecryptFailed is the single error for any failed open: wrong key
	// and corrupted ciphertext are deliberately indistinguishable.
	ErrDecryptFailed = errors.New("wrong key or corrupted data")

	ErrBadCredential         = errors.New("invalid credentials")
	ErrNotUnlocked           = errors.New("vault is locked")
	ErrRecoveryNotConfigured = errors.New("recovery questions not configured")
	ErrKeyExhausted          = errors.New("key use limit reached, re-authentication required")
	ErrBufferCleared         = errors.New("secret buffer already cleared")
	ErrNotFound              = errors.New("not found")
	ErrFolderLocked          = errors.New("folder is locked")
	ErrVaultNotInitialized   = errors.New("vault not initialized")
	ErrVaultExists           = errors.New("vault already initialized")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrTxnFinished           = errors.New("transaction already finished")
	ErrStoreClosed           = errors.New("store is closed")
)

// LockedError reports an active recovery lockout.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed attempts, locked for %s", e.Remaining.Round(time.Second))
}

// IntegrityError represents a checksum or hash mismatch.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s",
		e.Path, e.Expected, e.Actual)
}

// TransactionError wraps the failure of one staged operation. The
// transaction has already been rolled back by the time it is returned.
type TransactionError struct {
	Op    string
	Index int
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed at operation %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// PolicyError collects password policy violations.
type PolicyError struct {
	Reasons []string
}

func (e *PolicyError) Error() string {
	if len(e.Reasons) == 1 {
		return fmt.Sprintf("password rejected: %s", e.Reasons[0])
	}
	return fmt.Sprintf("password rejected: %d policy violations", len(e.Reasons))
}

// StoreError provides detailed store failure information.
type StoreError struct {
	Code string
	Op   string
	ID   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store %s [%s]: %s: %v", e.Op, e.Code, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s [%s]: %v", e.Op, e.Code, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
