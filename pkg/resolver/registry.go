package resolver

import (
	"fmt"
	"sync"

	"github.com/marmos91/dittodsu/pkg/dsu"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/identifier"
)

// FactoryOptions is passed to a Factory for every unit it builds.
type FactoryOptions struct {
	// Pinned requests a read-only persister for an immutable snapshot.
	Pinned bool
}

// Factory builds the persister of a unit. The resolver wraps the result in
// a *dsu.DSU wired to itself as the mount loader.
type Factory func(id identifier.Identifier, opts FactoryOptions) (dsu.Persister, error)

// factoryRegistry maps identifier types to factories.
//
// Thread safety:
// All operations are protected by a sync.RWMutex.
type factoryRegistry struct {
	mu        sync.RWMutex
	factories map[identifier.Type]Factory
}

func newFactoryRegistry() *factoryRegistry {
	return &factoryRegistry{factories: make(map[identifier.Type]Factory)}
}

// register adds a factory. Returns an error if one is already registered
// for t.
func (r *factoryRegistry) register(t identifier.Type, f Factory) error {
	if f == nil {
		return fmt.Errorf("cannot register nil factory")
	}
	if t == "" {
		return fmt.Errorf("cannot register factory with empty type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[t]; exists {
		return fmt.Errorf("factory for %q already registered", t)
	}
	r.factories[t] = f
	return nil
}

// replace registers f for t, overwriting any existing factory.
func (r *factoryRegistry) replace(t identifier.Type, f Factory) {
	r.mu.Lock()
	r.factories[t] = f
	r.mu.Unlock()
}

func (r *factoryRegistry) get(t identifier.Type) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[t]
	if !ok {
		return nil, fault.Newf(fault.DataInput, "no storage unit factory for identifier type %q", t)
	}
	return f, nil
}

// types returns the registered identifier types.
func (r *factoryRegistry) types() []identifier.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]identifier.Type, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	return out
}
