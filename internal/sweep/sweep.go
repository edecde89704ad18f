// Package sweep removes TTL-expired entries from tier stores on independent
// timers.
package sweep

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tiercache/tiercache/pkg/types"
)

// Scheduler runs one sweep loop per tier. Faster tiers are swept more
// frequently: each successive tier doubles the base interval. Expiry
// removal is housekeeping, so it never increments eviction counters, and a
// panic in a sweep is recovered, never propagated to the host.
type Scheduler struct {
	baseInterval time.Duration
	tiers        []types.TierStore
	logger       *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates a stopped scheduler. Tiers must be ordered fastest first.
func New(baseInterval time.Duration, tiers []types.TierStore, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		baseInterval: baseInterval,
		tiers:        tiers,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
}

// Start launches one loop per tier. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true

	interval := s.baseInterval
	for _, store := range s.tiers {
		s.wg.Add(1)
		go s.loop(store, interval)
		interval *= 2
	}
}

// Stop terminates all sweep loops and waits for them to exit.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop(store types.TierStore, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(store)
		}
	}
}

func (s *Scheduler) sweep(store types.TierStore) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked", "tier", store.Name(), "panic", r)
		}
	}()

	if removed := store.RemoveExpired(time.Now()); removed > 0 {
		s.logger.Debug("swept expired entries", "tier", store.Name(), "removed", removed)
	}
}
