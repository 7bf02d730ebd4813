// Package keyring owns the unwrapped master key and any auxiliary keys
// while the vault is open. Every key sits behind a secure.Buffer with a
// use counter; past the ceiling, retrieval fails until the key is
// loaded again through a fresh authentication.
package keyring

import (
	"sync"

	"github.com/arcvault/arcvault/internal/events"
	"github.com/arcvault/arcvault/internal/models"
	"github.com/arcvault/arcvault/internal/secure"
)

// DefaultUseCeiling caps retrievals per loaded key.
const DefaultUseCeiling = 100

// container pairs a buffer with its use counter.
type container struct {
	buf     *secure.Buffer
	uses    int
	ceiling int
}

func (c *container) retrieve() ([]byte, error) {
	if c.ceiling > 0 && c.uses >= c.ceiling {
		return nil, models.ErrKeyExhausted
	}

	data, err := c.buf.Retrieve()
	if err != nil {
		return nil, err
	}

	c.uses++
	return data, nil
}

func (c *container) clear() {
	c.buf.Clear()
}

// Registry holds the master key and named auxiliary (folder) keys.
type Registry struct {
	mu      sync.Mutex
	master  *container
	named   map[string]*container
	ceiling int
	logger  *events.Logger
}

// NewRegistry creates an empty registry. A ceiling of 0 keeps the
// default; a negative ceiling disables the limit.
func NewRegistry(ceiling int, logger *events.Logger) *Registry {
	if ceiling == 0 {
		ceiling = DefaultUseCeiling
	}
	if ceiling < 0 {
		ceiling = 0
	}

	return &Registry{
		named:   make(map[string]*container),
		ceiling: ceiling,
		logger:  logger.WithField("component", "keyring"),
	}
}

// LoadMaster installs the master key, replacing and wiping any previous
// one. The use counter starts over.
func (r *Registry) LoadMaster(key []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.master != nil {
		r.master.clear()
	}

	r.master = &container{buf: secure.NewBuffer(key), ceiling: r.ceiling}
	r.logger.Debug("Master key loaded")
}

// MasterKey returns a copy of the master key, counting the use. Callers
// wipe the copy when done.
func (r *Registry) MasterKey() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.master == nil {
		return nil, models.ErrNotUnlocked
	}

	key, err := r.master.retrieve()
	if err == models.ErrKeyExhausted {
		r.logger.WithField("uses", r.master.uses).Warn("Master key use ceiling reached")
	}
	return key, err
}

// MasterLoaded reports whether a usable master key is present.
func (r *Registry) MasterLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.master != nil && !r.master.buf.IsCleared()
}

// MasterUses returns the retrieval count for the loaded master key.
func (r *Registry) MasterUses() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.master == nil {
		return 0
	}
	return r.master.uses
}

// Register installs a named auxiliary key, replacing and wiping any
// previous key under the same id.
func (r *Registry) Register(id string, key []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.named[id]; ok {
		old.clear()
	}

	r.named[id] = &container{buf: secure.NewBuffer(key), ceiling: r.ceiling}
	r.logger.WithField("key_id", id).Debug("Auxiliary key registered")
}

// Unregister wipes and removes a named key. Unknown ids are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.named[id]; ok {
		c.clear()
		delete(r.named, id)
		r.logger.WithField("key_id", id).Debug("Auxiliary key unregistered")
	}
}

// Key returns a copy of a named key, counting the use.
func (r *Registry) Key(id string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.named[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return c.retrieve()
}

// Registered reports whether a named key is present.
func (r *Registry) Registered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.named[id]
	return ok
}

// ClearAll wipes every key. The registry is unusable until the master
// key is loaded again.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.master != nil {
		r.master.clear()
		r.master = nil
	}
	for id, c := range r.named {
		c.clear()
		delete(r.named, id)
	}

	r.logger.Debug("Keyring cleared")
}
