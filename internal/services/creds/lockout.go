package creds

import (
	"sync"
	"time"
)

// Clock supplies the current time. Tests substitute a fake.
type Clock func() time.Time

// Lockout rate-limits recovery attempts per credential id. An id is
// locked while the number of attempts inside the window reaches the
// threshold; history is capped at twice the threshold.
type Lockout struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	attempts  map[string][]time.Time
	now       Clock
}

// NewLockout creates a tracker. A nil clock uses time.Now.
func NewLockout(threshold int, window time.Duration, clock Clock) *Lockout {
	if clock == nil {
		clock = time.Now
	}
	return &Lockout{
		threshold: threshold,
		window:    window,
		attempts:  make(map[string][]time.Time),
		now:       clock,
	}
}

// Record registers a failed attempt.
func (l *Lockout) Record(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := append(l.attempts[id], l.now())
	if len(list) > l.threshold*2 {
		list = list[len(list)-l.threshold:]
	}
	l.attempts[id] = list
}

// Clear drops the attempt history for an id.
func (l *Lockout) Clear(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, id)
}

// Status reports whether the id is locked, how long until the oldest
// retained attempt ages out, and the number of attempts still inside
// the window.
func (l *Lockout) Status(id string) (locked bool, remaining time.Duration, failures int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.attempts[id]
	if len(list) == 0 {
		return false, 0, 0
	}

	now := l.now()
	oldest := list[0]
	for _, t := range list {
		if now.Sub(t) < l.window {
			failures++
		}
		if t.Before(oldest) {
			oldest = t
		}
	}

	locked = failures >= l.threshold
	if locked {
		remaining = l.window - now.Sub(oldest)
		if remaining < 0 {
			remaining = 0
		}
	}

	return locked, remaining, failures
}
