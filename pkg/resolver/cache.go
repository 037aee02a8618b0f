package resolver

import (
	gocache "github.com/patrickmn/go-cache"

	"github.com/marmos91/dittodsu/pkg/dsu"
	"github.com/marmos91/dittodsu/pkg/identifier"
)

// cacheKey keys live instances by anchor id and identifier type, so that a
// read key and the seed it derives from map to distinct instances.
func cacheKey(id identifier.Identifier) string {
	if anchorID, err := id.AnchorID(); err == nil {
		return string(id.Type()) + ":" + anchorID
	}
	return id.String()
}

func (r *Resolver) cacheGet(id identifier.Identifier) (*dsu.DSU, bool) {
	if r.cache == nil {
		return nil, false
	}
	v, ok := r.cache.Get(cacheKey(id))
	if !ok {
		return nil, false
	}
	unit, ok := v.(*dsu.DSU)
	return unit, ok
}

// cachePut stores unit, replacing any cached instance.
func (r *Resolver) cachePut(id identifier.Identifier, unit *dsu.DSU) {
	if r.cache == nil {
		return
	}
	r.cache.Set(cacheKey(id), unit, gocache.DefaultExpiration)
}

// cacheAdd stores unit unless another instance was cached concurrently, and
// returns the instance that won.
func (r *Resolver) cacheAdd(id identifier.Identifier, unit *dsu.DSU) *dsu.DSU {
	if r.cache == nil {
		return unit
	}
	key := cacheKey(id)
	if err := r.cache.Add(key, unit, gocache.DefaultExpiration); err != nil {
		if v, ok := r.cache.Get(key); ok {
			if existing, ok := v.(*dsu.DSU); ok {
				return existing
			}
		}
		r.cache.Set(key, unit, gocache.DefaultExpiration)
	}
	return unit
}

// Evict drops the cached instance for id, if any.
func (r *Resolver) Evict(id identifier.Identifier) {
	if r.cache == nil || id == nil {
		return
	}
	r.cache.Delete(cacheKey(id))
}

// CachedUnits returns the number of live cached instances.
func (r *Resolver) CachedUnits() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.ItemCount()
}
