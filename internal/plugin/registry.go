package plugin

import (
	"sync"

	"github.com/google/uuid"
)

// Registry holds live plugin instances by build identity. esbuild owns the
// plugin callbacks; everything else finds the instance here.
type Registry struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*Instance
}

// DefaultRegistry is used when Options.Registry is nil.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[uuid.UUID]*Instance)}
}

// Register adds inst under its ID.
func (r *Registry) Register(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID()] = inst
}

// Lookup returns the instance for id.
func (r *Registry) Lookup(id uuid.UUID) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Remove drops the instance for id.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
