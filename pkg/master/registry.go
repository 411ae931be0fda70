package master

import (
	"sync"

	"masterselector/pkg/metrics"
)

// Registry maps service keys to the address last observed as master.
//
// Writes come from the selector's event loop; reads may come from any
// goroutine at any time.
type Registry struct {
	mu      sync.RWMutex
	masters map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{masters: make(map[string]string)}
}

// Get returns the master address of key.
func (r *Registry) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.masters[key]
	return addr, ok
}

// Put records address as the master of key, replacing any previous value.
func (r *Registry) Put(key, address string) {
	r.mu.Lock()
	r.masters[key] = address
	n := len(r.masters)
	r.mu.Unlock()
	metrics.KnownMasters.Set(float64(n))
}

// Delete forgets key.
func (r *Registry) Delete(key string) {
	r.mu.Lock()
	delete(r.masters, key)
	n := len(r.masters)
	r.mu.Unlock()
	metrics.KnownMasters.Set(float64(n))
}

// Reset forgets every key.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.masters = make(map[string]string)
	r.mu.Unlock()
	metrics.KnownMasters.Set(0)
}

// Len returns the number of known keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.masters)
}

// Snapshot returns a copy of the current mapping.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.masters))
	for k, v := range r.masters {
		out[k] = v
	}
	return out
}
