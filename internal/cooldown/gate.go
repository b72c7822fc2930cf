// Package cooldown provides a keyed "not again until T" gate shared by every
// producer that can trigger an intervention.
package cooldown

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize bounds the number of remembered keys.
const DefaultSize = 10000

// Gate tracks the next time each key may be acquired. It is safe for
// concurrent use; TryAcquire is atomic per key.
//
// Entries are only overwritten by later successful acquisitions. The LRU
// bound evicts the least recently acquired key once size is reached, which
// lets that key fire again early.
type Gate struct {
	mu      sync.Mutex
	entries *lru.Cache[string, time.Time]
	nowFunc func() time.Time
}

// NewGate creates a gate remembering at most size keys (DefaultSize if <= 0).
func NewGate(size int) (*Gate, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("creating cooldown cache: %w", err)
	}
	return &Gate{entries: entries, nowFunc: time.Now}, nil
}

// SetClock replaces the gate's clock.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nowFunc = now
}

// TryAcquire reports whether key is outside its cooldown. On success the
// key's next allowed time becomes now+d. On failure state is unchanged.
func (g *Gate) TryAcquire(key string, d time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	if next, ok := g.entries.Peek(key); ok && now.Before(next) {
		return false
	}
	g.entries.Add(key, now.Add(d))
	return true
}

// NextAllowed returns when key may next be acquired. ok is false for keys
// the gate does not remember.
func (g *Gate) NextAllowed(key string) (next time.Time, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entries.Peek(key)
}

// Len returns the number of remembered keys.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entries.Len()
}
