package tracker

import (
	"testing"
	"time"
)

func TestRecordCreatesAndIncrements(t *testing.T) {
	tr := New()

	tr.Record("k")
	p, ok := tr.Pattern("k")
	if !ok {
		t.Fatal("expected pattern after first access")
	}
	if p.Count != 1 {
		t.Errorf("count = %d, want 1", p.Count)
	}

	tr.Record("k")
	tr.Record("k")
	p, _ = tr.Pattern("k")
	if p.Count != 3 {
		t.Errorf("count = %d, want 3", p.Count)
	}
}

func TestFrequencySkipsZeroElapsed(t *testing.T) {
	tr := New()
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.Record("k")
	tr.Record("k") // same instant: elapsed is zero, frequency must stay 0

	p, _ := tr.Pattern("k")
	if p.Frequency != 0 {
		t.Errorf("frequency = %v, want 0 after zero-elapsed access", p.Frequency)
	}
	if p.Count != 2 {
		t.Errorf("count = %d, want 2", p.Count)
	}
}

func TestFrequencyComputedFromElapsed(t *testing.T) {
	tr := New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Record("k")
	now = now.Add(30 * time.Minute)
	tr.Record("k")

	// count=2 over 0.5 elapsed hours -> 4 accesses/hour
	p, _ := tr.Pattern("k")
	if p.Frequency != 4 {
		t.Errorf("frequency = %v, want 4", p.Frequency)
	}
	if !p.LastAccess.Equal(now) {
		t.Errorf("lastAccess = %v, want %v", p.LastAccess, now)
	}
}

func TestPopularThresholdAndOrder(t *testing.T) {
	tr := New()
	for i := 0; i < 5; i++ {
		tr.Record("hot")
	}
	for i := 0; i < 3; i++ {
		tr.Record("warm")
	}
	tr.Record("cold")

	got := tr.Popular(3, 10)
	if len(got) != 2 {
		t.Fatalf("popular = %v, want 2 keys", got)
	}
	if got[0] != "hot" || got[1] != "warm" {
		t.Errorf("popular = %v, want [hot warm]", got)
	}
}

func TestPopularCappedAtLimit(t *testing.T) {
	tr := New()
	keys := []string{"a", "b", "c", "d"}
	for _, k := range keys {
		tr.Record(k)
		tr.Record(k)
	}

	got := tr.Popular(1, 2)
	if len(got) != 2 {
		t.Errorf("popular returned %d keys, want limit 2", len(got))
	}
}

func TestForgetRemovesRecord(t *testing.T) {
	tr := New()
	tr.Record("k")
	tr.Forget("k")

	if _, ok := tr.Pattern("k"); ok {
		t.Error("expected pattern removed after Forget")
	}
	if tr.Len() != 0 {
		t.Errorf("len = %d, want 0", tr.Len())
	}

	// Forgetting an absent key is a no-op.
	tr.Forget("missing")
}
