package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tiercache/tiercache/pkg/types"
)

// stubStore counts RemoveExpired calls and can be made to panic.
type stubStore struct {
	mu       sync.Mutex
	name     string
	sweeps   int
	panicMsg string
}

func (s *stubStore) Name() string { return s.name }

func (s *stubStore) RemoveExpired(time.Time) int {
	s.mu.Lock()
	s.sweeps++
	s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return 1
}

func (s *stubStore) sweepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeps
}

func (s *stubStore) Get(context.Context, string) (interface{}, bool, error) { return nil, false, nil }
func (s *stubStore) Set(context.Context, string, interface{}, int64, time.Duration) error {
	return nil
}
func (s *stubStore) Delete(context.Context, string) error    { return nil }
func (s *stubStore) Contains(context.Context, string) bool   { return false }
func (s *stubStore) Keys() []string                          { return nil }
func (s *stubStore) Len() int                                { return 0 }
func (s *stubStore) Stats() types.CacheStats                 { return types.CacheStats{} }
func (s *stubStore) Close() error                            { return nil }

func TestSchedulerSweepsAllTiers(t *testing.T) {
	l1 := &stubStore{name: "l1"}
	l2 := &stubStore{name: "l2"}

	s := New(10*time.Millisecond, []types.TierStore{l1, l2}, nil)
	s.Start()
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	if l1.sweepCount() == 0 {
		t.Error("l1 was never swept")
	}
	if l2.sweepCount() == 0 {
		t.Error("l2 was never swept")
	}
	// Faster tiers are swept more frequently.
	if l1.sweepCount() < l2.sweepCount() {
		t.Errorf("l1 swept %d times, l2 %d: faster tier should sweep at least as often",
			l1.sweepCount(), l2.sweepCount())
	}
}

func TestSweepRecoversPanic(t *testing.T) {
	bad := &stubStore{name: "l1", panicMsg: "boom"}

	s := New(5*time.Millisecond, []types.TierStore{bad}, nil)
	s.Start()
	time.Sleep(25 * time.Millisecond)
	s.Stop()

	if bad.sweepCount() < 2 {
		t.Errorf("sweeps = %d, want loop to survive panics and keep sweeping", bad.sweepCount())
	}
}

func TestStopIsIdempotentBeforeStart(t *testing.T) {
	s := New(time.Minute, nil, nil)
	s.Stop() // must not hang or panic when never started
}
