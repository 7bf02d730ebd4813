// Package secure holds secret material in memory with an enforced
// overwrite-on-clear lifecycle.
package secure

import (
	"crypto/rand"
	"sync"

	"github.com/arcvault/arcvault/internal/models"
)

// wipePasses is the number of random overwrites before the final zero
// fill.
const wipePasses = 3

// Buffer is a byte container that refuses to yield its contents once
// cleared. Clearing overwrites the backing memory with random data and
// then zeroes it; it is idempotent and safe to call concurrently.
type Buffer struct {
	mu      sync.Mutex
	data    []byte
	cleared bool
}

// NewBuffer copies data into a fresh buffer. The caller remains
// responsible for wiping its own copy.
func NewBuffer(data []byte) *Buffer {
	held := make([]byte, len(data))
	copy(held, data)
	return &Buffer{data: held}
}

// NewBufferFromString copies a string into a fresh buffer.
func NewBufferFromString(s string) *Buffer {
	return NewBuffer([]byte(s))
}

// Retrieve returns a copy of the held bytes. Callers should wipe the
// copy when done with it.
func (b *Buffer) Retrieve() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cleared {
		return nil, models.ErrBufferCleared
	}

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}

// Len returns the held length, or 0 once cleared.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cleared {
		return 0
	}
	return len(b.data)
}

// IsCleared reports whether Clear has run.
func (b *Buffer) IsCleared() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleared
}

// Clear destroys the contents. Calling it again is a no-op.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cleared {
		return
	}

	Wipe(b.data)
	b.data = nil
	b.cleared = true
}

// String never exposes the contents.
func (b *Buffer) String() string {
	return "secure.Buffer(***)"
}

// Wipe overwrites a byte slice in place with random passes followed by
// a zero fill. Safe on nil and empty slices.
func Wipe(data []byte) {
	if len(data) == 0 {
		return
	}
	for pass := 0; pass < wipePasses; pass++ {
		// rand.Read only fails if the system entropy source is
		// broken; the zero fill below still runs.
		_, _ = rand.Read(data)
	}
	for i := range data {
		data[i] = 0
	}
}
