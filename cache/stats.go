package cache

import (
	"context"
	"sync/atomic"

	"github.com/agentuity/memo/store"
)

type counters struct {
	hits         atomic.Uint64
	misses       atomic.Uint64
	stores       atomic.Uint64
	uncached     atomic.Uint64
	bypassed     atomic.Uint64
	lookupErrors atomic.Uint64
	storeErrors  atomic.Uint64
	decodeErrors atomic.Uint64
	unencodable  atomic.Uint64
}

// Counters are the cache's activity since it was created.
type Counters struct {
	// Hits are lookups answered from the store.
	Hits uint64 `json:"hits" yaml:"hits"`
	// Misses are lookups that found nothing usable and computed.
	Misses uint64 `json:"misses" yaml:"misses"`
	// Stores are results written successfully.
	Stores uint64 `json:"stores" yaml:"stores"`
	// Uncached are calls that never reached the store: no fingerprint,
	// unencodable arguments, interface result types or a closed cache.
	Uncached uint64 `json:"uncached" yaml:"uncached"`
	// Bypassed are store operations skipped while the circuit was open.
	Bypassed     uint64 `json:"bypassed" yaml:"bypassed"`
	LookupErrors uint64 `json:"lookup_errors" yaml:"lookup_errors"`
	StoreErrors  uint64 `json:"store_errors" yaml:"store_errors"`
	DecodeErrors uint64 `json:"decode_errors" yaml:"decode_errors"`
	Unencodable  uint64 `json:"unencodable" yaml:"unencodable"`
}

// Counters returns a snapshot of the activity counters.
func (c *Cache) Counters() Counters {
	if c == nil {
		return Counters{}
	}
	return Counters{
		Hits:         c.counters.hits.Load(),
		Misses:       c.counters.misses.Load(),
		Stores:       c.counters.stores.Load(),
		Uncached:     c.counters.uncached.Load(),
		Bypassed:     c.counters.bypassed.Load(),
		LookupErrors: c.counters.lookupErrors.Load(),
		StoreErrors:  c.counters.storeErrors.Load(),
		DecodeErrors: c.counters.decodeErrors.Load(),
		Unencodable:  c.counters.unencodable.Load(),
	}
}

// Stats combines the store's size figures with the cache's counters.
type Stats struct {
	store.Stats `yaml:",inline"`
	Counters    Counters `json:"counters" yaml:"counters"`
	Breaker     string   `json:"breaker" yaml:"breaker"`
}

// Stats reports the size of the store and the cache's activity.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	if c == nil {
		return Stats{}, errNoCache
	}
	st, err := c.engine.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Stats: st, Counters: c.Counters(), Breaker: c.breaker.State().String()}, nil
}
