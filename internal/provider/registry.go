package provider

import (
	"fmt"
	"sync"
)

// Factory constructs a provider instance.
type Factory func() Interface

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a provider constructor available under the given name.
// Built-in providers register themselves at CLI startup; tests register
// fakes directly.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Registry manages the lifecycle of loaded providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Interface
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Interface),
	}
}

// Load initializes and registers the named provider. Loading an already
// loaded provider is a no-op.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = f()
	return nil
}

// Get returns a loaded provider.
func (r *Registry) Get(name string) (Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
