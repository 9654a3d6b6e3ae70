package provider

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sensor-harvest/internal/repository"
)

// Source loads stored provider configurations.
type Source interface {
	Provider(ctx context.Context, id string) (*repository.Provider, error)
}

// Registry is a Lookup that opens providers from their stored
// configuration and caches them by id.
type Registry struct {
	source  Source
	factory *Factory

	mu    sync.Mutex
	cache map[string]Provider
}

var _ Lookup = (*Registry)(nil)

// NewRegistry returns a registry reading configurations from source.
func NewRegistry(source Source, factory *Factory) *Registry {
	return &Registry{
		source:  source,
		factory: factory,
		cache:   make(map[string]Provider),
	}
}

// Provider implements Lookup.
func (r *Registry) Provider(ctx context.Context, id string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[id]; ok {
		return p, nil
	}
	rec, err := r.source.Provider(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: load %s", id)
	}
	kind, err := ParseStoreKind(rec.Kind)
	if err != nil {
		return nil, err
	}
	p, err := r.factory.Open(Config{ID: rec.ID, Kind: kind, Path: rec.Path, Params: rec.Params})
	if err != nil {
		return nil, err
	}
	r.cache[id] = p
	return p, nil
}

// Evict drops a provider from the cache, typically after it was deleted.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, id)
}
