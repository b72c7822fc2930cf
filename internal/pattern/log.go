package pattern

import (
	"sync"

	"github.com/nvandessel/nudgeloop/internal/models"
)

// Log is an append-only insight log capped at a fixed size; the oldest
// entries are trimmed first.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []models.Insight
}

// NewLog creates a log holding at most capacity insights.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log{capacity: capacity}
}

// Append adds an insight, trimming the oldest entry when full.
func (l *Log) Append(in models.Insight) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, in)
	if over := len(l.entries) - l.capacity; over > 0 {
		trimmed := make([]models.Insight, l.capacity)
		copy(trimmed, l.entries[over:])
		l.entries = trimmed
	}
}

// Recent returns up to limit of the newest entries, oldest first.
// A non-positive limit returns every entry.
func (l *Log) Recent(limit int) []models.Insight {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(l.entries) {
		start = len(l.entries) - limit
	}
	out := make([]models.Insight, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
