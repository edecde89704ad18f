package tier

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tiercache/tiercache/internal/policy"
	cacheerrors "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// The networked tier degrades rather than propagates: every failure it
// returns must carry a retryable backend code so the manager can treat the
// tier as empty. These tests exercise the failure paths against an
// unreachable server; happy-path coverage lives in the integration suite.

func TestNewRedisUnreachableServer(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{
		Addr:      "127.0.0.1:1", // nothing listens here
		MaxSize:   10,
		OpTimeout: 50 * time.Millisecond,
		Engine:    policy.NewEngine(policy.LRU, 1),
	})
	if err == nil {
		t.Fatal("expected connection error for unreachable server")
	}
	if !cacheerrors.IsCode(err, cacheerrors.ErrCodeConnectionFailed) {
		t.Errorf("error = %v, want CONNECTION_FAILED", err)
	}
	if !cacheerrors.IsRetryable(err) {
		t.Error("connection failure should be retryable")
	}
}

// newDisconnectedRedis builds the store around a client that cannot reach
// its server, skipping the constructor ping.
func newDisconnectedRedis(t *testing.T) *Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	return &Redis{
		name:      "l2",
		client:    client,
		keyPrefix: "test:",
		maxSize:   10,
		opTimeout: 50 * time.Millisecond,
		breaker:   newRedisBreaker("l2", slog.Default()),
		meta:      make(map[string]*types.EntryMeta),
		engine:    policy.NewEngine(policy.LRU, 1),
		onEvict:   func(int) {},
		logger:    slog.Default(),
	}
}

func TestRedisGetWrapsBackendError(t *testing.T) {
	r := newDisconnectedRedis(t)

	_, ok, err := r.Get(context.Background(), "k")
	if ok {
		t.Fatal("expected no hit from unreachable server")
	}
	if err == nil {
		t.Fatal("expected backend error")
	}
	if !cacheerrors.IsRetryable(err) {
		t.Errorf("error = %v, want retryable backend error", err)
	}
}

func TestRedisSetWrapsBackendError(t *testing.T) {
	r := newDisconnectedRedis(t)

	err := r.Set(context.Background(), "k", "v", 0, time.Minute)
	if err == nil {
		t.Fatal("expected backend error")
	}
	if !cacheerrors.IsRetryable(err) {
		t.Errorf("error = %v, want retryable backend error", err)
	}
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0: failed write must not be indexed", r.Len())
	}
}

func TestRedisSetRejectsUnserializableValue(t *testing.T) {
	r := newDisconnectedRedis(t)

	err := r.Set(context.Background(), "k", func() {}, 0, time.Minute)
	if !cacheerrors.IsCode(err, cacheerrors.ErrCodeSerializationFailed) {
		t.Errorf("error = %v, want SERIALIZATION_FAILED", err)
	}
}

func TestRedisContainsFalseOnFailure(t *testing.T) {
	r := newDisconnectedRedis(t)
	if r.Contains(context.Background(), "k") {
		t.Error("expected Contains to read as absent on backend failure")
	}
}

func TestRedisBreakerTripsAfterRepeatedFailures(t *testing.T) {
	r := newDisconnectedRedis(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, _ = r.Get(ctx, "k")
	}

	start := time.Now()
	_, ok, err := r.Get(ctx, "k")
	elapsed := time.Since(start)

	if ok || err == nil {
		t.Fatal("expected short-circuited miss from tripped breaker")
	}
	if !cacheerrors.IsCode(err, cacheerrors.ErrCodeBackendUnavailable) {
		t.Errorf("error = %v, want BACKEND_UNAVAILABLE", err)
	}
	// An open breaker rejects before dialing, so no connect timeout applies.
	if elapsed > 25*time.Millisecond {
		t.Errorf("short-circuited lookup took %v", elapsed)
	}
}

func TestRedisRemoveExpiredPrunesIndex(t *testing.T) {
	r := newDisconnectedRedis(t)
	now := time.Now()
	r.meta["old"] = &types.EntryMeta{Key: "old", CreatedAt: now.Add(-time.Hour), TTL: time.Minute}
	r.meta["live"] = &types.EntryMeta{Key: "live", CreatedAt: now, TTL: time.Hour}

	if removed := r.RemoveExpired(now); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}
