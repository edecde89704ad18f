package stats

import (
	"math"
	"testing"
)

func TestPerTierCounters(t *testing.T) {
	c := NewCollector("l1", "l2")

	c.RecordHit("l1")
	c.RecordHit("l1")
	c.RecordMiss("l1")
	c.RecordMiss("l2")
	c.RecordEvictions("l1", 3)

	snap := c.Snapshot()

	l1 := snap.Tiers["l1"]
	if l1.Hits != 2 || l1.Misses != 1 || l1.Evictions != 3 {
		t.Errorf("l1 = %+v, want hits=2 misses=1 evictions=3", l1)
	}
	if got, want := l1.HitRate, 2.0/3.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("l1 hit rate = %v, want %v", got, want)
	}

	l2 := snap.Tiers["l2"]
	if l2.Hits != 0 || l2.Misses != 1 {
		t.Errorf("l2 = %+v, want hits=0 misses=1", l2)
	}
}

func TestOverallHitRate(t *testing.T) {
	c := NewCollector("l1")

	const n, h = 10, 7
	for i := 0; i < h; i++ {
		c.RecordRequest(true)
	}
	for i := 0; i < n-h; i++ {
		c.RecordRequest(false)
	}

	snap := c.Snapshot()
	if snap.Hits != h || snap.Misses != n-h {
		t.Fatalf("hits=%d misses=%d, want %d/%d", snap.Hits, snap.Misses, h, n-h)
	}
	if got, want := snap.HitRate, float64(h)/float64(n); math.Abs(got-want) > 1e-9 {
		t.Errorf("hit rate = %v, want %v", got, want)
	}
}

func TestZeroActivitySnapshot(t *testing.T) {
	c := NewCollector("l1")
	snap := c.Snapshot()
	if snap.HitRate != 0 {
		t.Errorf("hit rate = %v, want 0 with no activity", snap.HitRate)
	}
}

func TestNegativeEvictionsIgnored(t *testing.T) {
	c := NewCollector("l1")
	c.RecordEvictions("l1", 0)
	c.RecordEvictions("l1", -1)

	if got := c.Snapshot().Tiers["l1"].Evictions; got != 0 {
		t.Errorf("evictions = %d, want 0", got)
	}
}

func TestUnregisteredTierCreatedOnDemand(t *testing.T) {
	c := NewCollector()
	c.RecordHit("l3")

	if got := c.Snapshot().Tiers["l3"].Hits; got != 1 {
		t.Errorf("l3 hits = %d, want 1", got)
	}
}
