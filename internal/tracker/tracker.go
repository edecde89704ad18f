// Package tracker records per-key access frequency and recency for the
// warming pipeline.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/tiercache/tiercache/pkg/types"
)

// Tracker maintains one AccessPattern record per key, process-wide. Count is
// monotonically non-decreasing until the key is forgotten.
type Tracker struct {
	mu       sync.Mutex
	patterns map[string]*types.AccessPattern
	now      func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		patterns: make(map[string]*types.AccessPattern),
		now:      time.Now,
	}
}

// Record registers one access to key, incrementing its count and
// recomputing the accesses-per-hour frequency from the elapsed time since
// the previous access. Zero elapsed time leaves the frequency untouched.
func (t *Tracker) Record(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	p, ok := t.patterns[key]
	if !ok {
		t.patterns[key] = &types.AccessPattern{
			Key:        key,
			Count:      1,
			LastAccess: now,
		}
		return
	}

	p.Count++
	elapsed := now.Sub(p.LastAccess)
	if elapsed > 0 {
		p.Frequency = float64(p.Count) / elapsed.Hours()
	}
	p.LastAccess = now
}

// Popular returns the keys accessed at least threshold times, sorted by
// count descending (ties by key for determinism), capped at limit.
func (t *Tracker) Popular(threshold uint64, limit int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	matched := make([]*types.AccessPattern, 0, len(t.patterns))
	for _, p := range t.patterns {
		if p.Count >= threshold {
			matched = append(matched, p)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Count != matched[j].Count {
			return matched[i].Count > matched[j].Count
		}
		return matched[i].Key < matched[j].Key
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	keys := make([]string, len(matched))
	for i, p := range matched {
		keys[i] = p.Key
	}
	return keys
}

// Pattern returns a copy of the record for key.
func (t *Tracker) Pattern(key string) (types.AccessPattern, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.patterns[key]
	if !ok {
		return types.AccessPattern{}, false
	}
	return *p, true
}

// Forget removes the record for key; deleting a key from the cache deletes
// its access history with it.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.patterns, key)
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.patterns)
}
