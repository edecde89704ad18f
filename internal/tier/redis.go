package tier

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tiercache/tiercache/internal/circuit"
	"github.com/tiercache/tiercache/internal/policy"
	cacheerrors "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// Redis is the networked L2 store. Values are JSON-encoded and written with
// the entry TTL; a local metadata index mirrors what this process wrote so
// the policy engine and pattern listing work without scanning the server.
//
// Every round trip carries an operation timeout and passes through a
// circuit breaker. Backend failures are wrapped as retryable errors so the
// manager degrades the tier to a miss/no-op instead of failing the caller;
// a tripped breaker turns further round trips into instant failures until
// the cooldown probe succeeds.
type Redis struct {
	mu         sync.Mutex
	name       string
	client     redis.UniversalClient
	keyPrefix  string
	maxSize    int
	defaultTTL time.Duration
	opTimeout  time.Duration
	breaker    *circuit.Breaker

	meta map[string]*types.EntryMeta
	seq  uint64

	engine    *policy.Engine
	onEvict   EvictionHook
	evictions uint64
	logger    *slog.Logger
	ownClient bool
}

// RedisConfig configures the networked tier store.
type RedisConfig struct {
	Name       string
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	KeyPrefix  string
	MaxSize    int
	DefaultTTL time.Duration
	OpTimeout  time.Duration

	// Client, when non-nil, is used instead of dialing Addr. The caller
	// keeps ownership and Close will not touch it.
	Client redis.UniversalClient

	Engine  *policy.Engine
	OnEvict EvictionHook
	Logger  *slog.Logger
}

// NewRedis creates the tier store and verifies connectivity with a ping.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.OnEvict == nil {
		cfg.OnEvict = noopHook
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = types.TierL2
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "tiercache:"
	}

	client := cfg.Client
	ownClient := false
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		})
		ownClient = true
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if ownClient {
			_ = client.Close()
		}
		return nil, cacheerrors.WrapError(err, cacheerrors.ErrCodeConnectionFailed,
			"failed to ping redis").WithComponent(cfg.Name)
	}

	r := &Redis{
		name:       cfg.Name,
		client:     client,
		keyPrefix:  cfg.KeyPrefix,
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		opTimeout:  cfg.OpTimeout,
		breaker:    newRedisBreaker(cfg.Name, cfg.Logger),
		meta:       make(map[string]*types.EntryMeta),
		engine:     cfg.Engine,
		onEvict:    cfg.OnEvict,
		logger:     cfg.Logger,
		ownClient:  ownClient,
	}

	r.logger.Info("redis tier connected", "tier", r.name, "addr", cfg.Addr)
	return r, nil
}

// newRedisBreaker builds the breaker guarding server round trips. A miss
// (redis.Nil) is a healthy response and never counts as a failure.
func newRedisBreaker(name string, logger *slog.Logger) *circuit.Breaker {
	return circuit.New(circuit.Config{
		IsFailure: func(err error) bool {
			return err != nil && !stderrors.Is(err, redis.Nil)
		},
		OnStateChange: func(from, to circuit.State) {
			logger.Warn("redis breaker state changed",
				"tier", name, "from", from.String(), "to", to.String())
		},
	})
}

// Name returns the tier identifier.
func (r *Redis) Name() string { return r.name }

func (r *Redis) redisKey(key string) string { return r.keyPrefix + key }

// roundTrip runs one server operation under the operation timeout and the
// circuit breaker.
func (r *Redis) roundTrip(ctx context.Context, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	return r.breaker.Do(func() error { return fn(opCtx) })
}

// Get fetches and decodes the value for key. A missing or expired server
// entry is a miss; network failures surface as retryable errors.
func (r *Redis) Get(ctx context.Context, key string) (interface{}, bool, error) {
	var data []byte
	err := r.roundTrip(ctx, func(ctx context.Context) error {
		var err error
		data, err = r.client.Get(ctx, r.redisKey(key)).Bytes()
		return err
	})
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			r.forgetMeta(key)
			return nil, false, nil
		}
		return nil, false, r.backendError(err, "get")
	}

	r.mu.Lock()
	if meta, ok := r.meta[key]; ok {
		now := time.Now()
		if meta.Expired(now) {
			// The server should have expired it already; treat as a miss
			// and let the stale index entry go.
			delete(r.meta, key)
			r.mu.Unlock()
			return nil, false, nil
		}
		meta.LastAccess = now
		meta.AccessCount++
	}
	r.mu.Unlock()

	value, err := decodeValue(data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set encodes the value and writes it with the entry TTL, evicting a
// policy-selected batch from the server when the local index is full.
func (r *Redis) Set(ctx context.Context, key string, value interface{}, size int64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	if size <= 0 {
		size = int64(len(data))
	}

	r.mu.Lock()
	_, exists := r.meta[key]
	var candidates []string
	if !exists && r.maxSize > 0 && len(r.meta) >= r.maxSize {
		candidates = r.engine.Candidates(r.snapshotMetaLocked())
	}
	r.mu.Unlock()

	if len(candidates) > 0 {
		r.evictBatch(ctx, candidates)
	}

	err = r.roundTrip(ctx, func(ctx context.Context) error {
		return r.client.Set(ctx, r.redisKey(key), data, ttl).Err()
	})
	if err != nil {
		return r.backendError(err, "set")
	}

	now := time.Now()
	r.mu.Lock()
	if meta, ok := r.meta[key]; ok {
		meta.Size = size
		meta.CreatedAt = now
		meta.LastAccess = now
		meta.TTL = ttl
	} else {
		r.seq++
		r.meta[key] = &types.EntryMeta{
			Key:        key,
			Size:       size,
			CreatedAt:  now,
			LastAccess: now,
			TTL:        ttl,
			Seq:        r.seq,
		}
	}
	r.mu.Unlock()
	return nil
}

// Delete removes key from the server and the local index.
func (r *Redis) Delete(ctx context.Context, key string) error {
	err := r.roundTrip(ctx, func(ctx context.Context) error {
		return r.client.Del(ctx, r.redisKey(key)).Err()
	})
	if err != nil {
		return r.backendError(err, "delete")
	}
	r.forgetMeta(key)
	return nil
}

// Contains checks server-side residency; any failure reads as absent.
func (r *Redis) Contains(ctx context.Context, key string) bool {
	var n int64
	err := r.roundTrip(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.client.Exists(ctx, r.redisKey(key)).Result()
		return err
	})
	return err == nil && n > 0
}

// Keys returns the locally indexed keys.
func (r *Redis) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.meta))
	for key := range r.meta {
		keys = append(keys, key)
	}
	return keys
}

// RemoveExpired drops index entries whose TTL elapsed. The server expires
// its own copies; this keeps the local index from retaining dead keys.
func (r *Redis) RemoveExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for key, meta := range r.meta {
		if meta.Expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(r.meta, key)
	}
	return len(expired)
}

// Len returns the number of locally indexed entries.
func (r *Redis) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.meta)
}

// Stats returns occupancy and eviction counters for this store.
func (r *Redis) Stats() types.CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := types.CacheStats{
		Evictions: r.evictions,
		Size:      int64(len(r.meta)),
		Capacity:  int64(r.maxSize),
	}
	if r.maxSize > 0 {
		s.Utilization = float64(len(r.meta)) / float64(r.maxSize)
	}
	return s
}

// Close shuts down the client only when this store dialed it.
func (r *Redis) Close() error {
	if r.ownClient {
		return r.client.Close()
	}
	return nil
}

func (r *Redis) snapshotMetaLocked() []types.EntryMeta {
	out := make([]types.EntryMeta, 0, len(r.meta))
	for _, meta := range r.meta {
		out = append(out, *meta)
	}
	return out
}

func (r *Redis) evictBatch(ctx context.Context, keys []string) {
	redisKeys := make([]string, len(keys))
	for i, key := range keys {
		redisKeys[i] = r.redisKey(key)
	}

	err := r.roundTrip(ctx, func(ctx context.Context) error {
		return r.client.Del(ctx, redisKeys...).Err()
	})
	if err != nil {
		// Eviction failure is logged and swallowed; the server's own TTL
		// will reclaim the space eventually.
		r.logger.Warn("redis eviction failed", "tier", r.name, "count", len(keys), "error", err)
	}

	r.mu.Lock()
	for _, key := range keys {
		delete(r.meta, key)
	}
	r.evictions += uint64(len(keys))
	r.mu.Unlock()
	r.onEvict(len(keys))
}

func (r *Redis) forgetMeta(key string) {
	r.mu.Lock()
	delete(r.meta, key)
	r.mu.Unlock()
}

func (r *Redis) backendError(err error, op string) error {
	code := cacheerrors.ErrCodeBackendUnavailable
	msg := "redis operation failed"
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		code = cacheerrors.ErrCodeConnectionTimeout
	case stderrors.Is(err, circuit.ErrOpen):
		msg = "redis backend circuit open"
	}
	return cacheerrors.WrapError(err, code, msg).
		WithComponent(r.name).WithOperation(op)
}
