// Package strategy keeps the registry of planners and the Backtester service
// that loads market data, runs the engine and persists the outcome.
package strategy

import (
	"sort"
	"sync"

	"polyagents/internal/engine"
)

// Registry holds a named collection of planners for lookup and enumeration.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	planners map[string]engine.Planner
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		planners: make(map[string]engine.Planner),
	}
}

// Register adds a planner to the registry, keyed by its Name(). A later
// registration under the same name replaces the earlier one.
func (r *Registry) Register(p engine.Planner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planners[p.Name()] = p
}

// Get retrieves a planner by name. The second return value indicates whether
// the planner was found.
func (r *Registry) Get(name string) (engine.Planner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.planners[name]
	return p, ok
}

// List returns a sorted slice of all registered planner names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.planners))
	for name := range r.planners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
