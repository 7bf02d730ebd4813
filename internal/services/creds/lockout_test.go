package creds_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arcvault/arcvault/internal/services/creds"
)

// fakeClock steps time manually for deterministic lockout tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestLockoutThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	lockout := creds.NewLockout(3, 10*time.Minute, clock.Now)

	locked, remaining, failures := lockout.Status("cred-1")
	assert.False(t, locked)
	assert.Zero(t, remaining)
	assert.Zero(t, failures)

	lockout.Record("cred-1")
	clock.Advance(time.Second)
	lockout.Record("cred-1")
	clock.Advance(time.Second)

	locked, _, failures = lockout.Status("cred-1")
	assert.False(t, locked)
	assert.Equal(t, 2, failures)

	lockout.Record("cred-1")

	locked, remaining, failures = lockout.Status("cred-1")
	assert.True(t, locked)
	assert.Equal(t, 3, failures)
	// Oldest attempt was 2s ago
	assert.Equal(t, 10*time.Minute-2*time.Second, remaining)
}

func TestLockoutExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	lockout := creds.NewLockout(3, 10*time.Minute, clock.Now)

	for i := 0; i < 3; i++ {
		lockout.Record("cred-1")
	}

	locked, _, _ := lockout.Status("cred-1")
	assert.True(t, locked)

	// Just before the window closes
	clock.Advance(10*time.Minute - time.Second)
	locked, remaining, _ := lockout.Status("cred-1")
	assert.True(t, locked)
	assert.Equal(t, time.Second, remaining)

	// Attempts age out
	clock.Advance(2 * time.Second)
	locked, remaining, failures := lockout.Status("cred-1")
	assert.False(t, locked)
	assert.Zero(t, remaining)
	assert.Zero(t, failures)
}

func TestLockoutClear(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	lockout := creds.NewLockout(3, 10*time.Minute, clock.Now)

	for i := 0; i < 3; i++ {
		lockout.Record("cred-1")
	}
	lockout.Record("cred-2")

	lockout.Clear("cred-1")

	locked, _, failures := lockout.Status("cred-1")
	assert.False(t, locked)
	assert.Zero(t, failures)

	// Other ids unaffected
	_, _, failures = lockout.Status("cred-2")
	assert.Equal(t, 1, failures)
}

func TestLockoutHistoryCap(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	lockout := creds.NewLockout(3, 10*time.Minute, clock.Now)

	for i := 0; i < 20; i++ {
		lockout.Record("cred-1")
		clock.Advance(time.Second)
	}

	// History is bounded, so the count cannot grow past 2x threshold
	_, _, failures := lockout.Status("cred-1")
	assert.LessOrEqual(t, failures, 6)
	assert.GreaterOrEqual(t, failures, 3)

	locked, _, _ := lockout.Status("cred-1")
	assert.True(t, locked)
}

func TestLockoutDefaultClock(t *testing.T) {
	lockout := creds.NewLockout(3, time.Minute, nil)

	lockout.Record("cred-1")
	_, _, failures := lockout.Status("cred-1")
	assert.Equal(t, 1, failures)
}
