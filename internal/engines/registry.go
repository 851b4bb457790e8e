package engines

import (
	"fmt"
	"sort"
	"sync"

	"live-timing/internal/models"
)

// Factory builds an engine for one race
type Factory func(cfg Config) (Engine, error)

// Registry maps providers to engine factories. It is safe for concurrent use.
type Registry struct {
	factories map[models.Provider]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.Provider]Factory)}
}

// Register adds or replaces the factory for provider
func (r *Registry) Register(provider models.Provider, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = factory
}

// Create builds an engine for provider
func (r *Registry) Create(provider models.Provider, cfg Config) (Engine, error) {
	r.mu.RLock()
	factory, ok := r.factories[provider]
	r.mu.RUnlock()

	if !ok || factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotRegistered, provider)
	}
	return factory(cfg)
}

// Providers returns the registered providers in sorted order
func (r *Registry) Providers() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]models.Provider, 0, len(r.factories))
	for p := range r.factories {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}
