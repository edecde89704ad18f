// Package stats maintains per-tier and aggregate cache counters.
package stats

import (
	"sync"

	"github.com/tiercache/tiercache/pkg/types"
)

// Collector accumulates hit/miss/eviction counters per tier plus the
// request-level totals. All counters are monotonically non-decreasing for
// the process lifetime; updates happen synchronously on the get/set/evict
// paths.
type Collector struct {
	mu    sync.Mutex
	tiers map[string]*types.CacheStats

	// Request-level counters: one hit per Get served by any tier, one miss
	// per Get that missed everywhere.
	hits   uint64
	misses uint64
}

// NewCollector creates a collector pre-registered for the given tier names.
func NewCollector(tierNames ...string) *Collector {
	c := &Collector{tiers: make(map[string]*types.CacheStats)}
	for _, name := range tierNames {
		c.tiers[name] = &types.CacheStats{}
	}
	return c
}

func (c *Collector) tier(name string) *types.CacheStats {
	s, ok := c.tiers[name]
	if !ok {
		s = &types.CacheStats{}
		c.tiers[name] = s
	}
	return s
}

// RecordHit counts a hit in the named tier.
func (c *Collector) RecordHit(tier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tier(tier).Hits++
}

// RecordMiss counts a miss in the named tier.
func (c *Collector) RecordMiss(tier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tier(tier).Misses++
}

// RecordEvictions counts n capacity evictions in the named tier. Expiry
// removals are deliberately not routed here.
func (c *Collector) RecordEvictions(tier string, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tier(tier).Evictions += uint64(n)
}

// RecordRequest counts one whole Get call.
func (c *Collector) RecordRequest(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

// Snapshot returns a copy of all counters. Per-tier Size/Capacity are filled
// in by the caller from the live tier stores; this collector owns only the
// monotonic counters.
func (c *Collector) Snapshot() types.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := types.Stats{
		Tiers:  make(map[string]types.CacheStats, len(c.tiers)),
		Hits:   c.hits,
		Misses: c.misses,
	}
	for name, s := range c.tiers {
		tier := *s
		if total := tier.Hits + tier.Misses; total > 0 {
			tier.HitRate = float64(tier.Hits) / float64(total)
		}
		out.Tiers[name] = tier
	}
	if total := c.hits + c.misses; total > 0 {
		out.HitRate = float64(c.hits) / float64(total)
	}
	return out
}
