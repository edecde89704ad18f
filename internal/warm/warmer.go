// Package warm promotes frequently accessed keys into faster tiers ahead of
// demand.
package warm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Fetcher forces a promotion: a Get through the tier manager copies a value
// found in a slower tier into every faster one.
type Fetcher interface {
	Fetch(ctx context.Context, key string) error
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, key string) error

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, key string) error { return f(ctx, key) }

// Warmer periodically merges popular keys into a dedup queue and promotes
// up to preloadSize of them per cycle. Cycles are single-flight: a cycle
// that is still running when the ticker fires again is not joined by a
// second one.
type Warmer struct {
	interval    time.Duration
	preloadSize int
	threshold   uint64

	popular  func(threshold uint64, limit int) []string
	resident func(ctx context.Context, key string) bool
	fetcher  Fetcher
	logger   *slog.Logger

	mu       sync.Mutex
	queue    []string
	enqueued map[string]struct{}

	inProgress atomic.Bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	started    bool
}

// Config wires a warmer to its collaborators.
type Config struct {
	Interval    time.Duration
	PreloadSize int
	Threshold   uint64

	// Popular returns keys whose access count crossed the threshold.
	Popular func(threshold uint64, limit int) []string
	// Resident reports whether the fastest tier already holds the key.
	Resident func(ctx context.Context, key string) bool
	Fetcher  Fetcher
	Logger   *slog.Logger
}

// New creates a stopped warmer.
func New(cfg Config) *Warmer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PreloadSize < 1 {
		cfg.PreloadSize = 1
	}
	return &Warmer{
		interval:    cfg.Interval,
		preloadSize: cfg.PreloadSize,
		threshold:   cfg.Threshold,
		popular:     cfg.Popular,
		resident:    cfg.Resident,
		fetcher:     cfg.Fetcher,
		logger:      cfg.Logger,
		enqueued:    make(map[string]struct{}),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the warming loop. Calling Start twice is a no-op.
func (w *Warmer) Start(ctx context.Context) {
	if w.started {
		return
	}
	w.started = true

	go func() {
		defer close(w.doneCh)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.runCycle(ctx)
			}
		}
	}()
}

// Stop terminates the loop and waits for an in-flight cycle to finish.
func (w *Warmer) Stop() {
	if !w.started {
		return
	}
	close(w.stopCh)
	<-w.doneCh
}

// QueueLen returns the number of keys waiting for promotion.
func (w *Warmer) QueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// runCycle performs one warming pass. Exported to the package's tests via
// RunCycle below; production code only reaches it through the ticker.
func (w *Warmer) runCycle(ctx context.Context) {
	if !w.inProgress.CompareAndSwap(false, true) {
		w.logger.Debug("warming cycle already in progress, skipping")
		return
	}
	defer w.inProgress.Store(false)

	w.enqueuePopular()

	batch := w.dequeueBatch()
	warmed := 0
	for _, key := range batch {
		if w.resident(ctx, key) {
			continue
		}
		if err := w.fetcher.Fetch(ctx, key); err != nil {
			w.logger.Warn("warming fetch failed", "error", err)
			continue
		}
		warmed++
	}

	if warmed > 0 {
		w.logger.Debug("warming cycle complete", "candidates", len(batch), "warmed", warmed)
	}
}

// RunCycle triggers one warming pass synchronously.
func (w *Warmer) RunCycle(ctx context.Context) { w.runCycle(ctx) }

func (w *Warmer) enqueuePopular() {
	keys := w.popular(w.threshold, w.preloadSize)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, key := range keys {
		if _, dup := w.enqueued[key]; dup {
			continue
		}
		w.enqueued[key] = struct{}{}
		w.queue = append(w.queue, key)
	}
}

func (w *Warmer) dequeueBatch() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.preloadSize
	if n > len(w.queue) {
		n = len(w.queue)
	}

	batch := w.queue[:n]
	w.queue = w.queue[n:]
	for _, key := range batch {
		delete(w.enqueued, key)
	}
	return batch
}
