package mcp

import (
	"context"
	"sync"

	"github.com/nvandessel/nudgeloop/internal/orchestrator"
)

// DefaultQueueSize bounds the fired-intervention queue.
const DefaultQueueSize = 100

// Queue is an orchestrator.Notifier that buffers fired interventions until
// the host drains them with nudge_poll. When full, the oldest entry is
// dropped. It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    []orchestrator.Intervention
	capacity int
	dropped  int64
}

// NewQueue creates a queue holding at most capacity interventions.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{capacity: capacity}
}

// Notify enqueues in. It never blocks and never fails.
func (q *Queue) Notify(_ context.Context, in orchestrator.Intervention) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, in)
	return nil
}

// Drain removes and returns up to max interventions, oldest first.
// max <= 0 drains everything.
func (q *Queue) Drain(max int) []orchestrator.Intervention {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	out := make([]orchestrator.Intervention, n)
	copy(out, q.items[:n])

	rest := make([]orchestrator.Intervention, len(q.items)-n)
	copy(rest, q.items[n:])
	q.items = rest
	return out
}

// Len returns the number of queued interventions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many interventions were discarded because the queue was full.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
