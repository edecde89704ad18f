// Package types defines the shared data types and interfaces for the
// tiercache multi-tier caching subsystem.
package types

import (
	"time"
)

// Tier names in probe order, fastest first.
const (
	TierL1 = "l1"
	TierL2 = "l2"
	TierL3 = "l3"

	// TierNone is reported when a lookup misses every enabled tier.
	TierNone = "none"
)

// EntryMeta is the per-key bookkeeping a tier store maintains separately
// from the stored value. The eviction policy engine orders candidates by
// these fields alone.
type EntryMeta struct {
	Key         string        `json:"key"`
	Size        int64         `json:"size"`
	CreatedAt   time.Time     `json:"created_at"`
	LastAccess  time.Time     `json:"last_access"`
	AccessCount uint64        `json:"access_count"`
	TTL         time.Duration `json:"ttl"`

	// Seq is a monotonically increasing insertion sequence used to break
	// ordering ties deterministically.
	Seq uint64 `json:"seq"`
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
// A zero TTL means the entry never expires.
func (m *EntryMeta) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.After(m.CreatedAt.Add(m.TTL))
}

// GetResult is the outcome of a single-key lookup.
type GetResult struct {
	Data       interface{} `json:"data"`
	CacheLevel string      `json:"cache_level"`
	FromCache  bool        `json:"from_cache"`
}

// CacheStats represents performance counters for one tier. Counters are
// monotonically non-decreasing for the process lifetime; Size and
// Utilization are point-in-time.
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// Stats aggregates per-tier counters with the overall request-level view.
// Overall hits/misses count whole Get calls: a Get that any tier serves is
// one hit, a Get that misses every tier is one miss.
type Stats struct {
	Tiers   map[string]CacheStats `json:"tiers"`
	Hits    uint64                `json:"hits"`
	Misses  uint64                `json:"misses"`
	HitRate float64               `json:"hit_rate"`
}

// TierInfo describes one tier's configuration and current occupancy.
type TierInfo struct {
	Enabled     bool          `json:"enabled"`
	MaxSize     int           `json:"max_size"`
	TTL         time.Duration `json:"ttl"`
	Entries     int           `json:"entries"`
	Utilization float64       `json:"utilization"`
}

// CacheInfo is the configuration echo returned by Manager.Info.
type CacheInfo struct {
	EvictionPolicy    string              `json:"eviction_policy"`
	EvictionBatchSize int                 `json:"eviction_batch_size"`
	WarmingEnabled    bool                `json:"warming_enabled"`
	Tiers             map[string]TierInfo `json:"tiers"`
}

// AccessPattern records process-wide access history for one key. One record
// exists per key regardless of which tiers hold the value.
type AccessPattern struct {
	Key        string    `json:"key"`
	Count      uint64    `json:"count"`
	LastAccess time.Time `json:"last_access"`
	// Frequency is accesses per hour, recomputed on each access from the
	// time elapsed since the previous one.
	Frequency float64 `json:"frequency"`
}

// OperationEvent is emitted after every cache operation for external
// observability. HashedKey is a digest of the raw key; raw keys never
// cross this boundary.
type OperationEvent struct {
	Operation  string        `json:"operation"`
	HashedKey  string        `json:"hashed_key"`
	CacheLevel string        `json:"cache_level"`
	Hit        bool          `json:"hit"`
	Duration   time.Duration `json:"duration_ms"`
}
