package tier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tiercache/tiercache/internal/policy"
	"github.com/tiercache/tiercache/pkg/types"
)

// Memory is the in-process L1 store: a mutex-guarded value map with a
// separate metadata map. Values are held as-is, no serialization.
type Memory struct {
	mu         sync.RWMutex
	name       string
	maxSize    int
	defaultTTL time.Duration

	values map[string]interface{}
	meta   map[string]*types.EntryMeta
	seq    uint64

	engine    *policy.Engine
	onEvict   EvictionHook
	evictions uint64
	logger    *slog.Logger
}

// MemoryConfig configures an in-process tier store.
type MemoryConfig struct {
	Name       string
	MaxSize    int
	DefaultTTL time.Duration
	Engine     *policy.Engine
	OnEvict    EvictionHook
	Logger     *slog.Logger
}

// NewMemory creates an empty in-process store.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.OnEvict == nil {
		cfg.OnEvict = noopHook
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = types.TierL1
	}
	return &Memory{
		name:       cfg.Name,
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		values:     make(map[string]interface{}),
		meta:       make(map[string]*types.EntryMeta),
		engine:     cfg.Engine,
		onEvict:    cfg.OnEvict,
		logger:     cfg.Logger,
	}
}

// Name returns the tier identifier.
func (m *Memory) Name() string { return m.name }

// Get returns the live value for key, updating its access bookkeeping.
// Expired entries are removed lazily and reported as a miss.
func (m *Memory) Get(_ context.Context, key string) (interface{}, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.meta[key]
	if !ok {
		return nil, false, nil
	}

	now := time.Now()
	if meta.Expired(now) {
		m.removeLocked(key)
		return nil, false, nil
	}

	meta.LastAccess = now
	meta.AccessCount++
	return m.values[key], true, nil
}

// Set inserts or replaces an entry, evicting a policy-selected batch first
// when the store is at capacity and the key is new.
func (m *Memory) Set(_ context.Context, key string, value interface{}, size int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	if size <= 0 {
		size = 1
	}

	now := time.Now()
	if meta, exists := m.meta[key]; exists {
		m.values[key] = value
		meta.Size = size
		meta.CreatedAt = now
		meta.LastAccess = now
		meta.TTL = ttl
		return nil
	}

	if m.maxSize > 0 && len(m.values) >= m.maxSize {
		m.evictBatchLocked()
	}

	m.seq++
	m.values[key] = value
	m.meta[key] = &types.EntryMeta{
		Key:         key,
		Size:        size,
		CreatedAt:   now,
		LastAccess:  now,
		AccessCount: 0,
		TTL:         ttl,
		Seq:         m.seq,
	}
	return nil
}

// Delete removes key; removing an absent key is a no-op.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key)
	return nil
}

// Contains reports residency of a live entry without touching access
// bookkeeping.
func (m *Memory) Contains(_ context.Context, key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meta, ok := m.meta[key]
	if !ok {
		return false
	}
	return !meta.Expired(time.Now())
}

// Keys returns all tracked keys.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.meta))
	for key := range m.meta {
		keys = append(keys, key)
	}
	return keys
}

// RemoveExpired sweeps entries whose TTL elapsed before now. The removals
// are housekeeping, not evictions.
func (m *Memory) RemoveExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for key, meta := range m.meta {
		if meta.Expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		m.removeLocked(key)
	}
	return len(expired)
}

// Len returns the number of resident entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Stats returns occupancy and eviction counters for this store.
func (m *Memory) Stats() types.CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := types.CacheStats{
		Evictions: m.evictions,
		Size:      int64(len(m.values)),
		Capacity:  int64(m.maxSize),
	}
	if m.maxSize > 0 {
		s.Utilization = float64(len(m.values)) / float64(m.maxSize)
	}
	return s
}

// Close releases nothing for an in-process store.
func (m *Memory) Close() error { return nil }

// snapshotMetaLocked copies the metadata map for the policy engine.
func (m *Memory) snapshotMetaLocked() []types.EntryMeta {
	out := make([]types.EntryMeta, 0, len(m.meta))
	for _, meta := range m.meta {
		out = append(out, *meta)
	}
	return out
}

func (m *Memory) evictBatchLocked() {
	candidates := m.engine.Candidates(m.snapshotMetaLocked())
	for _, key := range candidates {
		m.removeLocked(key)
	}
	if n := len(candidates); n > 0 {
		m.evictions += uint64(n)
		m.onEvict(n)
		m.logger.Debug("evicted batch", "tier", m.name, "count", n, "policy", m.engine.Policy())
	}
}

func (m *Memory) removeLocked(key string) {
	delete(m.values, key)
	delete(m.meta, key)
}
