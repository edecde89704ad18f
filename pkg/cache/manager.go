// Package cache implements the multi-tier cache manager: tiered lookups
// with promotion, policy-driven eviction, frequency-driven warming, and
// per-tier statistics.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiercache/tiercache/internal/metrics"
	"github.com/tiercache/tiercache/internal/policy"
	"github.com/tiercache/tiercache/internal/stats"
	"github.com/tiercache/tiercache/internal/sweep"
	"github.com/tiercache/tiercache/internal/tier"
	"github.com/tiercache/tiercache/internal/tracker"
	"github.com/tiercache/tiercache/internal/warm"
	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/retry"
	"github.com/tiercache/tiercache/pkg/types"
)

// SetOptions overrides the per-tier defaults for one write. A zero TTL or
// Size falls back to each tier's configured default.
type SetOptions struct {
	TTL  time.Duration
	Size int64
}

// Manager orchestrates get/set/delete across the configured tiers. Reads
// probe fastest-first and promote hits into every faster enabled tier;
// writes go to every enabled tier. A degraded tier is equivalent to an
// empty one: read-path backend failures never reach the caller.
type Manager struct {
	config    Config
	engine    *policy.Engine
	tiers     []types.TierStore // enabled tiers, fastest first
	tracker   *tracker.Tracker
	collector *stats.Collector
	metrics   *metrics.Collector
	warmer    *warm.Warmer
	sweeper   *sweep.Scheduler
	logger    *slog.Logger

	obsMu     sync.RWMutex
	observers []types.Observer

	cancel context.CancelFunc
	closed atomic.Bool
}

// NewManager validates the configuration, connects every enabled tier, and
// starts the warming and cleanup schedules.
func NewManager(ctx context.Context, cfg Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	pol, err := policy.ParsePolicy(cfg.EvictionPolicy)
	if err != nil {
		return nil, err
	}
	engine := policy.NewEngine(pol, cfg.EvictionBatchSize)

	m := &Manager{
		config:    cfg,
		engine:    engine,
		tracker:   tracker.New(),
		collector: stats.NewCollector(types.TierL1, types.TierL2, types.TierL3),
		logger:    logger,
	}

	if cfg.MetricsEnabled {
		m.metrics = metrics.NewCollector(nil)
		m.Subscribe(m.metrics)
		if cfg.MetricsAddr != "" {
			if err := m.metrics.Serve(cfg.MetricsAddr); err != nil {
				return nil, err
			}
		}
	}

	if err := m.buildTiers(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.sweeper = sweep.New(cfg.CleanupInterval, m.tiers, logger)
	m.sweeper.Start()

	if cfg.WarmingEnabled {
		m.warmer = warm.New(warm.Config{
			Interval:    cfg.WarmingInterval,
			PreloadSize: cfg.PreloadSize,
			Threshold:   cfg.PopularityThreshold,
			Popular:     m.tracker.Popular,
			Resident:    m.tiers[0].Contains,
			Fetcher: warm.FetcherFunc(func(ctx context.Context, key string) error {
				_, err := m.Get(ctx, key)
				return err
			}),
			Logger: logger,
		})
		m.warmer.Start(runCtx)
	}

	logger.Info("cache manager started",
		"tiers", len(m.tiers),
		"policy", cfg.EvictionPolicy,
		"warming", cfg.WarmingEnabled)
	return m, nil
}

func (m *Manager) buildTiers(ctx context.Context) error {
	hook := func(name string) tier.EvictionHook {
		return func(n int) {
			m.collector.RecordEvictions(name, n)
			if m.metrics != nil {
				m.metrics.RecordEvictions(name, n)
			}
		}
	}

	if m.config.L1Enabled {
		m.tiers = append(m.tiers, tier.NewMemory(tier.MemoryConfig{
			Name:       types.TierL1,
			MaxSize:    m.config.L1MaxSize,
			DefaultTTL: m.config.L1TTL,
			Engine:     m.engine,
			OnEvict:    hook(types.TierL1),
			Logger:     m.logger,
		}))
	}

	if m.config.L2Enabled {
		// The networked tier may come up after us; retry the initial
		// connection with backoff before giving up.
		connect := retry.New(retry.Config{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			Jitter:       true,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				m.logger.Warn("redis connection failed, retrying",
					"attempt", attempt, "delay", delay, "error", err)
			},
		})

		var l2 types.TierStore
		err := connect.Do(ctx, func(ctx context.Context) error {
			store, err := tier.NewRedis(ctx, tier.RedisConfig{
				Name:       types.TierL2,
				Addr:       m.config.L2Addr,
				Password:   m.config.L2Password,
				DB:         m.config.L2DB,
				PoolSize:   m.config.L2PoolSize,
				KeyPrefix:  m.config.L2KeyPrefix,
				MaxSize:    m.config.L2MaxSize,
				DefaultTTL: m.config.L2TTL,
				OpTimeout:  m.config.L2OpTimeout,
				Client:     m.config.L2Client,
				Engine:     m.engine,
				OnEvict:    hook(types.TierL2),
				Logger:     m.logger,
			})
			if err == nil {
				l2 = store
			}
			return err
		})
		if err != nil {
			return err
		}
		m.tiers = append(m.tiers, l2)
	}

	if m.config.L3Enabled {
		var l3 types.TierStore
		var err error
		switch m.config.L3Storage {
		case L3StorageS3:
			l3, err = tier.NewS3(ctx, tier.S3Config{
				Name:       types.TierL3,
				Bucket:     m.config.L3S3.Bucket,
				KeyPrefix:  m.config.L3S3.KeyPrefix,
				Region:     m.config.L3S3.Region,
				Endpoint:   m.config.L3S3.Endpoint,
				AccessKey:  m.config.L3S3.AccessKey,
				SecretKey:  m.config.L3S3.SecretKey,
				PathStyle:  m.config.L3S3.PathStyle,
				MaxSize:    m.config.L3MaxSize,
				DefaultTTL: m.config.L3TTL,
				Engine:     m.engine,
				OnEvict:    hook(types.TierL3),
				Logger:     m.logger,
			})
		default:
			l3, err = tier.NewDisk(tier.DiskConfig{
				Name:        types.TierL3,
				Directory:   m.config.L3Directory,
				MaxSize:     m.config.L3MaxSize,
				DefaultTTL:  m.config.L3TTL,
				Compression: m.config.L3Compression,
				Engine:      m.engine,
				OnEvict:     hook(types.TierL3),
				Logger:      m.logger,
			})
		}
		if err != nil {
			return err
		}
		m.tiers = append(m.tiers, l3)
	}

	return nil
}

// Get probes the tiers fastest-first. On a hit the value is promoted into
// every faster enabled tier; stats record a hit on the hitting tier and a
// miss on each tier probed before it. Backend failures read as tier-local
// misses.
func (m *Manager) Get(ctx context.Context, key string) (types.GetResult, error) {
	if m.closed.Load() {
		return types.GetResult{CacheLevel: types.TierNone}, errors.NewError(errors.ErrCodeCacheClosed, "cache is closed")
	}

	start := time.Now()
	result := types.GetResult{CacheLevel: types.TierNone}
	hitIdx := -1

	for i, store := range m.tiers {
		value, ok, err := store.Get(ctx, key)
		if err != nil {
			// Degraded tier == empty tier; keep probing.
			m.logger.Warn("tier lookup failed, treating as miss",
				"tier", store.Name(), "key", hashKey(key), "error", err)
			m.recordMiss(store.Name())
			continue
		}
		if !ok {
			m.recordMiss(store.Name())
			continue
		}

		m.recordHit(store.Name())
		result = types.GetResult{Data: value, CacheLevel: store.Name(), FromCache: true}
		hitIdx = i
		break
	}

	if hitIdx > 0 {
		m.promote(ctx, key, result.Data, hitIdx)
	}

	m.collector.RecordRequest(result.FromCache)
	m.tracker.Record(key)
	m.emit(types.OperationEvent{
		Operation:  "get",
		HashedKey:  hashKey(key),
		CacheLevel: result.CacheLevel,
		Hit:        result.FromCache,
		Duration:   time.Since(start),
	})

	return result, nil
}

// promote copies a value that hit in tier hitIdx into every faster enabled
// tier, using each destination tier's default TTL.
func (m *Manager) promote(ctx context.Context, key string, value interface{}, hitIdx int) {
	for i := 0; i < hitIdx; i++ {
		if err := m.tiers[i].Set(ctx, key, value, 0, 0); err != nil {
			m.logger.Warn("promotion failed",
				"tier", m.tiers[i].Name(), "key", hashKey(key), "error", err)
		}
	}
}

// Set writes the value to every enabled tier. TTL and size default per tier
// when opts is nil or zero. The write fails only when every tier fails,
// except a serialization failure, which is surfaced even though a faster
// tier may already hold the value (the cache is advisory; partial writes
// are not rolled back).
func (m *Manager) Set(ctx context.Context, key string, value interface{}, opts *SetOptions) (bool, error) {
	if m.closed.Load() {
		return false, errors.NewError(errors.ErrCodeCacheClosed, "cache is closed")
	}

	start := time.Now()
	var ttl time.Duration
	var size int64
	if opts != nil {
		ttl = opts.TTL
		size = opts.Size
	}

	wrote := 0
	var firstErr, serErr error
	for _, store := range m.tiers {
		if err := store.Set(ctx, key, value, size, ttl); err != nil {
			if errors.IsCode(err, errors.ErrCodeSerializationFailed) {
				serErr = err
			} else {
				m.logger.Warn("tier write failed",
					"tier", store.Name(), "key", hashKey(key), "error", err)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		wrote++
	}

	m.tracker.Record(key)
	m.emit(types.OperationEvent{
		Operation:  "set",
		HashedKey:  hashKey(key),
		CacheLevel: types.TierNone,
		Hit:        wrote > 0,
		Duration:   time.Since(start),
	})

	if serErr != nil {
		return false, serErr
	}
	if wrote == 0 {
		return false, errors.WrapError(firstErr, errors.ErrCodeAllTiersFailed,
			"write failed in every enabled tier").WithComponent("cache").WithOperation("set")
	}
	return true, nil
}

// Delete removes the key from every tier and drops its access history.
// Deleting an absent key is a no-op and reports ok=false.
func (m *Manager) Delete(ctx context.Context, key string) (bool, error) {
	if m.closed.Load() {
		return false, errors.NewError(errors.ErrCodeCacheClosed, "cache is closed")
	}

	start := time.Now()
	existed := false
	for _, store := range m.tiers {
		if store.Contains(ctx, key) {
			existed = true
		}
		if err := store.Delete(ctx, key); err != nil {
			m.logger.Warn("tier delete failed",
				"tier", store.Name(), "key", hashKey(key), "error", err)
		}
	}

	m.tracker.Forget(key)
	m.emit(types.OperationEvent{
		Operation:  "delete",
		HashedKey:  hashKey(key),
		CacheLevel: types.TierNone,
		Hit:        existed,
		Duration:   time.Since(start),
	})

	return existed, nil
}

// MGet looks up each key independently; a per-key miss is represented in
// its GetResult, never as an error.
func (m *Manager) MGet(ctx context.Context, keys []string) map[string]types.GetResult {
	results := make(map[string]types.GetResult, len(keys))
	for _, key := range keys {
		result, err := m.Get(ctx, key)
		if err != nil {
			result = types.GetResult{CacheLevel: types.TierNone}
		}
		results[key] = result
	}
	return results
}

// MSet writes each entry independently and reports the first failure.
func (m *Manager) MSet(ctx context.Context, entries map[string]interface{}, opts *SetOptions) (bool, error) {
	ok := true
	var firstErr error
	for key, value := range entries {
		if _, err := m.Set(ctx, key, value, opts); err != nil {
			ok = false
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return ok, firstErr
}

// InvalidatePattern removes every resident key matching the regular
// expression and returns the exact count of keys removed.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if m.closed.Load() {
		return 0, errors.NewError(errors.ErrCodeCacheClosed, "cache is closed")
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrCodeInvalidPattern,
			"invalid invalidation pattern").WithComponent("cache")
	}

	matched := make(map[string]struct{})
	for _, store := range m.tiers {
		for _, key := range store.Keys() {
			if re.MatchString(key) {
				matched[key] = struct{}{}
			}
		}
	}

	for key := range matched {
		for _, store := range m.tiers {
			if err := store.Delete(ctx, key); err != nil {
				m.logger.Warn("invalidation delete failed",
					"tier", store.Name(), "key", hashKey(key), "error", err)
			}
		}
		m.tracker.Forget(key)
	}

	return len(matched), nil
}

// Stats returns per-tier and overall counters. Occupancy figures come from
// the live stores; counter history comes from the collector.
func (m *Manager) Stats() types.Stats {
	snapshot := m.collector.Snapshot()

	for _, store := range m.tiers {
		tierStats := store.Stats()
		s := snapshot.Tiers[store.Name()]
		s.Size = tierStats.Size
		s.Capacity = tierStats.Capacity
		s.Utilization = tierStats.Utilization
		snapshot.Tiers[store.Name()] = s

		if m.metrics != nil {
			m.metrics.SetEntries(store.Name(), store.Len())
		}
	}
	return snapshot
}

// Info returns the effective configuration and per-tier utilization.
func (m *Manager) Info() types.CacheInfo {
	info := types.CacheInfo{
		EvictionPolicy:    m.config.EvictionPolicy,
		EvictionBatchSize: m.config.EvictionBatchSize,
		WarmingEnabled:    m.config.WarmingEnabled,
		Tiers:             make(map[string]types.TierInfo),
	}

	configured := map[string]struct {
		enabled bool
		maxSize int
		ttl     time.Duration
	}{
		types.TierL1: {m.config.L1Enabled, m.config.L1MaxSize, m.config.L1TTL},
		types.TierL2: {m.config.L2Enabled, m.config.L2MaxSize, m.config.L2TTL},
		types.TierL3: {m.config.L3Enabled, m.config.L3MaxSize, m.config.L3TTL},
	}

	for name, c := range configured {
		ti := types.TierInfo{Enabled: c.enabled, MaxSize: c.maxSize, TTL: c.ttl}
		for _, store := range m.tiers {
			if store.Name() == name {
				ti.Entries = store.Len()
				if c.maxSize > 0 {
					ti.Utilization = float64(ti.Entries) / float64(c.maxSize)
				}
			}
		}
		info.Tiers[name] = ti
	}
	return info
}

// Subscribe attaches an observer to the operation event stream.
func (m *Manager) Subscribe(obs types.Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, obs)
}

// Warmer exposes the warming component, nil when warming is disabled.
func (m *Manager) Warmer() *warm.Warmer { return m.warmer }

// Close stops the background schedules and closes every tier. Close is
// idempotent.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	if m.warmer != nil {
		m.warmer.Stop()
	}
	m.sweeper.Stop()
	m.cancel()

	var firstErr error
	for _, store := range m.tiers {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if m.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.metrics.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.logger.Info("cache manager closed")
	return firstErr
}

func (m *Manager) recordHit(tierName string) {
	m.collector.RecordHit(tierName)
	if m.metrics != nil {
		m.metrics.RecordHit(tierName)
	}
}

func (m *Manager) recordMiss(tierName string) {
	m.collector.RecordMiss(tierName)
	if m.metrics != nil {
		m.metrics.RecordMiss(tierName)
	}
}

func (m *Manager) emit(event types.OperationEvent) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	for _, obs := range m.observers {
		obs.ObserveCacheOperation(event)
	}
}

// hashKey digests a raw key for events and logs; raw keys never leave the
// cache boundary.
func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash[:8])
}
