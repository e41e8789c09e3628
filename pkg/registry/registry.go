package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/flow"
)

// Constructor builds a fresh process. Every lookup gets a new instance, so tasks may
// keep per-run state.
type Constructor func() (*flow.Process, error)

// Registry manages the available processes, by name.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register adds a process constructor to the registry.
// If a process with the same name exists, it is overwritten.
func (r *Registry) Register(name string, fn Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = fn
}

// RegisterEntries registers a process built from the entries returned by fn.
func (r *Registry) RegisterEntries(name string, fn func() []any) {
	r.Register(name, func() (*flow.Process, error) {
		return flow.NewProcess(name, fn()...)
	})
}

// Lookup builds the process registered under name.
// Returns domain.ErrProcessNotFound if the name is unknown.
func (r *Registry) Lookup(name string) (*flow.Process, error) {
	r.mu.RLock()
	fn, ok := r.constructors[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProcessNotFound, name)
	}

	p, err := fn()
	if err != nil {
		return nil, fmt.Errorf("failed to build process %s: %w", name, err)
	}
	if p.Name() != name {
		return nil, fmt.Errorf("process registered as %s is named %s", name, p.Name())
	}
	return p, nil
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
