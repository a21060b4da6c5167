package device

import (
	"sort"
	"sync"

	"github.com/flowforge-io/flowforge/pkg/errors"
)

// Registry is the lookup table of device plugins keyed by plugin id.
// Function nodes resolve their executor here once at validation time, not
// per call.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds or replaces the executor for a plugin id.
func (r *Registry) Register(pluginID string, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[pluginID] = executor
}

// Resolve returns the executor for a plugin id, or DeviceNotFoundError.
func (r *Registry) Resolve(pluginID string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[pluginID]
	if !ok {
		return nil, &errors.DeviceNotFoundError{PluginID: pluginID}
	}
	return exec, nil
}

// Has reports whether a plugin id is registered.
func (r *Registry) Has(pluginID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[pluginID]
	return ok
}

// List returns the sorted registered plugin ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
