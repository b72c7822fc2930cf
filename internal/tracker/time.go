package tracker

import (
	"sync"
	"time"

	"github.com/nvandessel/nudgeloop/internal/models"
	"github.com/nvandessel/nudgeloop/internal/session"
)

// TimeTracker accrues focused minutes per tab. Only the activated tab
// accrues; switching focus carries the elapsed time of the previous tab
// into its Carried total.
type TimeTracker struct {
	*Tracker

	mu     sync.Mutex
	active string
}

// NewTimeTracker creates a time-on-site tracker. cfg.Threshold is in minutes.
func NewTimeTracker(cfg Config) *TimeTracker {
	return &TimeTracker{Tracker: newTracker(timeAccumulator{}, cfg)}
}

// Activate moves focus to key, pausing every other session.
func (t *TimeTracker) Activate(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	t.active = key
	t.store.Each(func(s *session.Session) {
		switch {
		case s.Key == key:
			if !s.Active {
				s.Active = true
				s.ActiveSince = now
			}
		case s.Active:
			if now.After(s.ActiveSince) {
				s.Carried += now.Sub(s.ActiveSince)
			}
			s.Active = false
			s.ActiveSince = time.Time{}
		}
	})
}

// ActiveKey returns the focused tab, or "" if none.
func (t *TimeTracker) ActiveKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// RecordEvent records a page event for key. If no tab has been activated
// yet, key becomes the focused tab.
func (t *TimeTracker) RecordEvent(key string, ev Event) models.Severity {
	t.mu.Lock()
	if t.active == "" {
		t.active = key
	}
	ev.focused = key != "" && key == t.active
	emitted, sev := t.record(key, ev)
	t.mu.Unlock()

	if emitted != nil {
		t.emit(*emitted)
	}
	return sev
}

// EndSession finalizes and removes the session, clearing focus if key had it.
func (t *TimeTracker) EndSession(key string) {
	t.mu.Lock()
	if t.active == key {
		t.active = ""
	}
	t.mu.Unlock()

	t.Tracker.EndSession(key)
}
