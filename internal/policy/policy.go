// Package policy implements eviction candidate selection for tier stores.
package policy

import (
	"sort"
	"strings"

	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// Policy identifies an eviction ordering.
type Policy string

// Supported eviction policies.
const (
	LRU  Policy = "LRU"
	LFU  Policy = "LFU"
	FIFO Policy = "FIFO"
	TTL  Policy = "TTL"
)

// ParsePolicy parses a policy name case-insensitively.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(strings.ToUpper(name)) {
	case LRU:
		return LRU, nil
	case LFU:
		return LFU, nil
	case FIFO:
		return FIFO, nil
	case TTL:
		return TTL, nil
	default:
		return "", errors.NewError(errors.ErrCodeInvalidPolicy, "unknown eviction policy: "+name).
			WithComponent("policy")
	}
}

// Engine selects eviction candidates from tier metadata. Selection is a
// scan-and-sort over the metadata snapshot; tier capacities are entry counts
// small enough that the simpler code beats maintaining an intrusive
// structure per policy.
type Engine struct {
	policy    Policy
	batchSize int
}

// NewEngine creates an engine for the given policy and batch size.
func NewEngine(p Policy, batchSize int) *Engine {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Engine{policy: p, batchSize: batchSize}
}

// Policy returns the configured policy.
func (e *Engine) Policy() Policy { return e.policy }

// BatchSize returns how many keys one eviction pass removes.
func (e *Engine) BatchSize() int { return e.batchSize }

// Candidates returns up to batchSize keys ordered by the configured policy:
// LRU by ascending lastAccess, LFU by ascending accessCount, FIFO by
// ascending createdAt, TTL by ascending expiry instant. Ties break by
// insertion sequence, so candidate order is stable under equal timestamps.
func (e *Engine) Candidates(meta []types.EntryMeta) []string {
	if len(meta) == 0 {
		return nil
	}

	sorted := make([]types.EntryMeta, len(meta))
	copy(sorted, meta)

	less := e.lessFunc()
	sort.Slice(sorted, func(i, j int) bool {
		if less(&sorted[i], &sorted[j]) {
			return true
		}
		if less(&sorted[j], &sorted[i]) {
			return false
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	n := e.batchSize
	if n > len(sorted) {
		n = len(sorted)
	}

	keys := make([]string, 0, n)
	for _, m := range sorted[:n] {
		keys = append(keys, m.Key)
	}
	return keys
}

func (e *Engine) lessFunc() func(a, b *types.EntryMeta) bool {
	switch e.policy {
	case LFU:
		return func(a, b *types.EntryMeta) bool { return a.AccessCount < b.AccessCount }
	case FIFO:
		return func(a, b *types.EntryMeta) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case TTL:
		return func(a, b *types.EntryMeta) bool {
			return a.CreatedAt.Add(a.TTL).Before(b.CreatedAt.Add(b.TTL))
		}
	default: // LRU
		return func(a, b *types.EntryMeta) bool { return a.LastAccess.Before(b.LastAccess) }
	}
}
