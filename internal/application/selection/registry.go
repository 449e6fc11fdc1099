package selection

import (
	"sync"

	"academy/internal/application/clientstore"
	"academy/internal/domain/session"
)

type registryKey struct {
	scope session.Scope
	mode  session.Mode
}

// Registry hands out one Manager per (scope, mode) so the selection survives
// across requests while the user navigates months.
type Registry struct {
	store *clientstore.Store
	opts  Options

	mu       sync.Mutex
	managers map[registryKey]*Manager
}

// NewRegistry creates an empty registry backed by store.
func NewRegistry(store *clientstore.Store, opts Options) *Registry {
	return &Registry{store: store, opts: opts, managers: make(map[registryKey]*Manager)}
}

// For returns the manager for scope and mode, creating it on first use.
func (r *Registry) For(scope session.Scope, mode session.Mode) *Manager {
	if mode == "" {
		mode = session.ModeEnroll
	}
	k := registryKey{scope: scope, mode: mode}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[k]
	if !ok {
		m = NewManager(r.store, scope, mode, r.opts)
		r.managers[k] = m
	}
	return m
}
