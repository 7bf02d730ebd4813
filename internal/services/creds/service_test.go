package creds_test

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/arcvault/arcvault/internal/audit"
	"github.com/arcvault/arcvault/internal/config"
	"github.com/arcvault/arcvault/internal/events"
	"github.com/arcvault/arcvault/internal/models"
	"github.com/arcvault/arcvault/internal/services/creds"
)

const (
	testPassword = "Str0ng!Passw0rd123"
	newPassword  = "N3w!Passw0rd#456x"
)

var testQuestions = []creds.QuestionAnswer{
	{Question: "First pet?", Answer: "Fluffy"},
	{Question: "Birth city?", Answer: "Springfield"},
}

var testAnswers = []string{"Fluffy", "Springfield"}

func testSecurity() *config.SecurityConfig {
	return &config.SecurityConfig{
		LockoutThreshold: 3,
		LockoutWindow:    10 * time.Minute,
		UnlockFloor:      5 * time.Millisecond,
		VerifyFloor:      5 * time.Millisecond,
		BcryptCost:       bcrypt.MinCost,
	}
}

func newTestService(t *testing.T, security *config.SecurityConfig) *creds.Service {
	t.Helper()

	if security == nil {
		security = testSecurity()
	}

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	path := filepath.Join(t.TempDir(), "credentials.json")

	return creds.NewService(path, security, nil, logger)
}

func TestInitializeAndUnlock(t *testing.T) {
	service := newTestService(t, nil)

	require.False(t, service.Initialized())
	_, err := service.UnlockWithPassword(testPassword)
	assert.ErrorIs(t, err, models.ErrVaultNotInitialized)

	master, err := service.Initialize(testPassword, "my hint", nil)
	require.NoError(t, err)
	require.Len(t, master, 32)
	require.True(t, service.Initialized())

	// The same master key comes back on every unlock
	first, err := service.UnlockWithPassword(testPassword)
	require.NoError(t, err)
	assert.Equal(t, master, first)

	second, err := service.UnlockWithPassword(testPassword)
	require.NoError(t, err)
	assert.Equal(t, master, second)

	// Wrong password fails with the credential error
	_, err = service.UnlockWithPassword("Wr0ng!Passw0rd999")
	assert.ErrorIs(t, err, models.ErrBadCredential)

	// Double initialization is rejected
	_, err = service.Initialize(testPassword, "", nil)
	assert.ErrorIs(t, err, models.ErrVaultExists)
}

func TestInitializeRejectsWeakPassword(t *testing.T) {
	service := newTestService(t, nil)

	_, err := service.Initialize("weak", "", nil)
	require.Error(t, err)

	var policyErr *models.PolicyError
	assert.ErrorAs(t, err, &policyErr)
	assert.False(t, service.Initialized())
}

func TestVerifyPassword(t *testing.T) {
	service := newTestService(t, nil)
	_, err := service.Initialize(testPassword, "", nil)
	require.NoError(t, err)

	ok, err := service.VerifyPassword(testPassword)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = service.VerifyPassword("Wr0ng!Passw0rd999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChangePassword(t *testing.T) {
	service := newTestService(t, nil)
	master, err := service.Initialize(testPassword, "old hint", testQuestions)
	require.NoError(t, err)

	// Wrong old password is rejected without changes
	err = service.ChangePassword("Wr0ng!Passw0rd999", newPassword, "")
	assert.ErrorIs(t, err, models.ErrBadCredential)

	require.NoError(t, service.ChangePassword(testPassword, newPassword, "new hint"))

	// Old password no longer works
	_, err = service.UnlockWithPassword(testPassword)
	assert.ErrorIs(t, err, models.ErrBadCredential)

	// New password yields the identical master key
	got, err := service.UnlockWithPassword(newPassword)
	require.NoError(t, err)
	assert.Equal(t, master, got)

	hint, err := service.PasswordHint()
	require.NoError(t, err)
	assert.Equal(t, "new hint", hint)

	// The recovery path is untouched by a password change
	got, err = service.UnlockWithRecovery(testAnswers)
	require.NoError(t, err)
	assert.Equal(t, master, got)
}

func TestChangePasswordRejectsWeak(t *testing.T) {
	service := newTestService(t, nil)
	_, err := service.Initialize(testPassword, "", nil)
	require.NoError(t, err)

	err = service.ChangePassword(testPassword, "weak", "")
	var policyErr *models.PolicyError
	require.ErrorAs(t, err, &policyErr)

	// Unchanged
	_, err = service.UnlockWithPassword(testPassword)
	assert.NoError(t, err)
}

func TestRecoveryUnlock(t *testing.T) {
	service := newTestService(t, nil)
	master, err := service.Initialize(testPassword, "", testQuestions)
	require.NoError(t, err)

	got, err := service.UnlockWithRecovery(testAnswers)
	require.NoError(t, err)
	assert.Equal(t, master, got)

	// Case, surrounding whitespace, and Unicode form are normalized
	got, err = service.UnlockWithRecovery([]string{"  FLUFFY ", "springfield"})
	require.NoError(t, err)
	assert.Equal(t, master, got)

	_, err = service.UnlockWithRecovery([]string{"Rex", "Springfield"})
	assert.ErrorIs(t, err, models.ErrBadCredential)
}

func TestRecoveryNotConfigured(t *testing.T) {
	service := newTestService(t, nil)
	_, err := service.Initialize(testPassword, "", nil)
	require.NoError(t, err)

	_, err = service.UnlockWithRecovery(testAnswers)
	assert.ErrorIs(t, err, models.ErrRecoveryNotConfigured)

	_, err = service.VerifyRecoveryAnswers(testAnswers)
	assert.ErrorIs(t, err, models.ErrRecoveryNotConfigured)

	status, err := service.LockoutStatus()
	require.NoError(t, err)
	assert.False(t, status.RecoveryConfigured)
	assert.False(t, status.Locked)
}

func TestRecoveryLockout(t *testing.T) {
	service := newTestService(t, nil)
	_, err := service.Initialize(testPassword, "", testQuestions)
	require.NoError(t, err)

	wrong := []string{"Rex", "Shelbyville"}
	for i := 0; i < 3; i++ {
		_, err := service.UnlockWithRecovery(wrong)
		assert.ErrorIs(t, err, models.ErrBadCredential)
	}

	// Locked now, even for the correct answers
	_, err = service.UnlockWithRecovery(testAnswers)
	var lockedErr *models.LockedError
	require.ErrorAs(t, err, &lockedErr)
	assert.Greater(t, lockedErr.Remaining, time.Duration(0))
	assert.LessOrEqual(t, lockedErr.Remaining, 10*time.Minute)

	status, err := service.LockoutStatus()
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Equal(t, 3, status.FailedAttempts)
	assert.True(t, status.RecoveryConfigured)

	// The password path is never rate-limited
	_, err = service.UnlockWithPassword(testPassword)
	assert.NoError(t, err)
}

func TestRecoveryLockoutExpiry(t *testing.T) {
	security := testSecurity()
	security.LockoutWindow = 2 * time.Second
	service := newTestService(t, security)

	master, err := service.Initialize(testPassword, "", testQuestions)
	require.NoError(t, err)

	wrong := []string{"Rex", "Shelbyville"}
	for i := 0; i < 3; i++ {
		_, err := service.UnlockWithRecovery(wrong)
		assert.ErrorIs(t, err, models.ErrBadCredential)
	}

	status, err := service.LockoutStatus()
	require.NoError(t, err)
	require.True(t, status.Locked)

	// Wait for the window to pass
	deadline := time.Now().Add(10 * time.Second)
	for {
		status, err = service.LockoutStatus()
		require.NoError(t, err)
		if !status.Locked {
			break
		}
		require.True(t, time.Now().Before(deadline), "lockout never expired")
		time.Sleep(100 * time.Millisecond)
	}

	got, err := service.UnlockWithRecovery(testAnswers)
	require.NoError(t, err)
	assert.Equal(t, master, got)

	// Success cleared the history
	status, err = service.LockoutStatus()
	require.NoError(t, err)
	assert.Zero(t, status.FailedAttempts)
}

func TestVerifyRecoveryAnswers(t *testing.T) {
	service := newTestService(t, nil)
	_, err := service.Initialize(testPassword, "", testQuestions)
	require.NoError(t, err)

	ok, err := service.VerifyRecoveryAnswers(testAnswers)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = service.VerifyRecoveryAnswers([]string{"Rex", "Springfield"})
	require.NoError(t, err)
	assert.False(t, ok)

	// Wrong cardinality is a plain mismatch
	ok, err = service.VerifyRecoveryAnswers([]string{"Fluffy"})
	require.NoError(t, err)
	assert.False(t, ok)

	// Failed verifications count toward the lockout
	status, err := service.LockoutStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, status.FailedAttempts)

	_, err = service.VerifyRecoveryAnswers([]string{"Rex", "Shelbyville"})
	require.NoError(t, err)

	status, err = service.LockoutStatus()
	require.NoError(t, err)
	assert.True(t, status.Locked)

	// Locked out callers always get false, even with correct answers
	ok, err = service.VerifyRecoveryAnswers(testAnswers)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecoveryUnlockFloor(t *testing.T) {
	security := testSecurity()
	security.UnlockFloor = 400 * time.Millisecond
	service := newTestService(t, security)

	_, err := service.Initialize(testPassword, "", testQuestions)
	require.NoError(t, err)

	start := time.Now()
	_, err = service.UnlockWithRecovery([]string{"Rex", "Shelbyville"})
	require.ErrorIs(t, err, models.ErrBadCredential)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)

	start = time.Now()
	_, err = service.UnlockWithRecovery(testAnswers)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestReconfigureRecovery(t *testing.T) {
	service := newTestService(t, nil)
	master, err := service.Initialize(testPassword, "", testQuestions)
	require.NoError(t, err)

	newQuestions := []creds.QuestionAnswer{
		{Question: "Favorite color?", Answer: "Teal"},
	}

	err = service.ReconfigureRecovery("Wr0ng!Passw0rd999", newQuestions)
	assert.ErrorIs(t, err, models.ErrBadCredential)

	require.NoError(t, service.ReconfigureRecovery(testPassword, newQuestions))

	// Old answers no longer unlock
	_, err = service.UnlockWithRecovery(testAnswers)
	assert.ErrorIs(t, err, models.ErrBadCredential)

	// New answers return the identical master key
	got, err := service.UnlockWithRecovery([]string{"Teal"})
	require.NoError(t, err)
	assert.Equal(t, master, got)

	questions, err := service.Questions()
	require.NoError(t, err)
	assert.Equal(t, []string{"Favorite color?"}, questions)

	// Empty set removes the recovery path
	require.NoError(t, service.ReconfigureRecovery(testPassword, nil))
	_, err = service.UnlockWithRecovery([]string{"Teal"})
	assert.ErrorIs(t, err, models.ErrRecoveryNotConfigured)

	// Password path still works throughout
	got, err = service.UnlockWithPassword(testPassword)
	require.NoError(t, err)
	assert.Equal(t, master, got)
}

func TestReconfigureRecoveryRejectsEmptyAnswer(t *testing.T) {
	service := newTestService(t, nil)
	_, err := service.Initialize(testPassword, "", nil)
	require.NoError(t, err)

	err = service.ReconfigureRecovery(testPassword, []creds.QuestionAnswer{
		{Question: "First pet?", Answer: "   "},
	})
	assert.Error(t, err)
}

func TestPasswordHint(t *testing.T) {
	service := newTestService(t, nil)
	_, err := service.Initialize(testPassword, "rhymes with cat", nil)
	require.NoError(t, err)

	hint, err := service.PasswordHint()
	require.NoError(t, err)
	assert.Equal(t, "rhymes with cat", hint)
}

func TestAuditTrail(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	dir := t.TempDir()

	journal, err := audit.NewJournal(filepath.Join(dir, "audit.db"), logger)
	require.NoError(t, err)
	defer journal.Close()

	service := creds.NewService(filepath.Join(dir, "credentials.json"), testSecurity(), journal, logger)

	_, err = service.Initialize(testPassword, "", nil)
	require.NoError(t, err)
	_, err = service.UnlockWithPassword(testPassword)
	require.NoError(t, err)
	_, err = service.UnlockWithPassword("Wr0ng!Passw0rd999")
	require.ErrorIs(t, err, models.ErrBadCredential)

	entries, err := journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, audit.EventUnlockFailed, entries[0].Event)
	assert.Equal(t, audit.EventUnlock, entries[1].Event)
	assert.Equal(t, audit.EventVaultCreated, entries[2].Event)

	verified, err := journal.Verify()
	require.NoError(t, err)
	assert.Equal(t, 3, verified)
}
