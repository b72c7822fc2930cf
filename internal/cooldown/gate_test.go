package cooldown

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestGate(t *testing.T, size int) (*Gate, *time.Time) {
	t.Helper()
	g, err := NewGate(size)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	return g, &now
}

func TestTryAcquire_Twice(t *testing.T) {
	g, _ := newTestGate(t, 0)

	first := g.TryAcquire("scroll:reddit.com", 10*time.Minute)
	second := g.TryAcquire("scroll:reddit.com", 10*time.Minute)
	if !first || second {
		t.Errorf("TryAcquire twice = (%v, %v), want (true, false)", first, second)
	}
}

func TestTryAcquire_AfterCooldown(t *testing.T) {
	g, now := newTestGate(t, 0)

	g.TryAcquire("k", time.Minute)

	*now = now.Add(59 * time.Second)
	if g.TryAcquire("k", time.Minute) {
		t.Error("acquired before cooldown elapsed")
	}

	// Rejection leaves the deadline where it was.
	*now = now.Add(time.Second)
	if !g.TryAcquire("k", time.Minute) {
		t.Error("not acquired at nextAllowed")
	}

	next, ok := g.NextAllowed("k")
	if !ok || !next.Equal(now.Add(time.Minute)) {
		t.Errorf("NextAllowed() = %v, %v; want %v", next, ok, now.Add(time.Minute))
	}
}

func TestTryAcquire_IndependentKeys(t *testing.T) {
	g, _ := newTestGate(t, 0)

	if !g.TryAcquire("a", time.Hour) {
		t.Fatal("a not acquired")
	}
	if !g.TryAcquire("b", time.Hour) {
		t.Error("b blocked by a's cooldown")
	}
	if g.Len() != 2 {
		t.Errorf("Len() = %d, want 2", g.Len())
	}
}

func TestNextAllowed_Unknown(t *testing.T) {
	g, _ := newTestGate(t, 0)
	if _, ok := g.NextAllowed("missing"); ok {
		t.Error("NextAllowed() ok for unknown key")
	}
}

func TestGate_LRUBound(t *testing.T) {
	g, _ := newTestGate(t, 2)

	g.TryAcquire("a", time.Hour)
	g.TryAcquire("b", time.Hour)
	g.TryAcquire("c", time.Hour)

	if g.Len() != 2 {
		t.Errorf("Len() = %d, want 2", g.Len())
	}
	if _, ok := g.NextAllowed("a"); ok {
		t.Error("oldest key should have been evicted")
	}
	if !g.TryAcquire("a", time.Hour) {
		t.Error("evicted key should be acquirable again")
	}
}

func TestTryAcquire_Concurrent(t *testing.T) {
	g, _ := newTestGate(t, 0)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire("shared", time.Minute) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("concurrent acquisitions = %d, want 1", wins.Load())
	}
}
