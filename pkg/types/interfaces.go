package types

import (
	"context"
	"time"
)

// TierStore is the uniform contract every cache tier implements so the
// manager's probe/promote/write logic stays tier-agnostic. In-process tiers
// ignore the context; networked tiers derive their per-operation timeout
// from it.
//
// Get returns (value, true, nil) on a live hit and (nil, false, nil) on a
// miss or lazily detected expiry. A non-nil error always means a backend
// failure, never a miss.
type TierStore interface {
	// Name returns the tier identifier (TierL1, TierL2, TierL3).
	Name() string

	Get(ctx context.Context, key string) (interface{}, bool, error)

	// Set inserts or replaces an entry. When the store is at capacity and
	// the key is new, a policy-selected batch is evicted first.
	Set(ctx context.Context, key string, value interface{}, size int64, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Contains reports residency without touching access bookkeeping.
	Contains(ctx context.Context, key string) bool

	// Keys returns the keys currently tracked in the tier's metadata.
	Keys() []string

	// RemoveExpired drops every entry whose TTL elapsed before now and
	// returns the number removed. Expiry is housekeeping: it must not be
	// counted as eviction.
	RemoveExpired(now time.Time) int

	// Len returns the number of resident entries.
	Len() int

	Stats() CacheStats

	Close() error
}

// Observer receives operation events from the cache manager. Implementations
// must not block; slow consumers should buffer internally.
type Observer interface {
	ObserveCacheOperation(event OperationEvent)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(event OperationEvent)

// ObserveCacheOperation calls f(event).
func (f ObserverFunc) ObserveCacheOperation(event OperationEvent) { f(event) }
