// Package session holds the per-key accumulator state used by the signal
// trackers. Each key (a tab id or a domain) owns one Session whose window
// resets once it grows older than the store's window duration.
//
// All public methods are safe for concurrent use. Mutations of a key are
// serialized by the store lock, so events for the same key are applied in
// the order they arrive.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/nvandessel/nudgeloop/internal/models"
)

// Session is the live state for one tracked key.
type Session struct {
	Key               string          `json:"key"`
	Domain            string          `json:"domain,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	WindowStart       time.Time       `json:"window_start"`
	WindowAccumulator float64         `json:"window_accumulator"`
	LastActivity      time.Time       `json:"last_activity"`
	EventCount        int             `json:"event_count"`
	Classification    models.Severity `json:"classification"`

	// Time-tracking fields. Carried holds time accrued in earlier focus
	// periods of the current window; ActiveSince is set while focused.
	Active      bool          `json:"active,omitempty"`
	ActiveSince time.Time     `json:"active_since,omitempty"`
	Carried     time.Duration `json:"carried,omitempty"`

	// LastEmittedAt is when the owning tracker last emitted an event for this key.
	LastEmittedAt time.Time `json:"last_emitted_at,omitempty"`
}

// ResetWindow starts a fresh accumulation window at now.
func (s *Session) ResetWindow(now time.Time) {
	s.WindowStart = now
	s.WindowAccumulator = 0
	s.Carried = 0
	if s.Active {
		s.ActiveSince = now
	}
}

// Store is a keyed collection of sessions sharing one window duration.
type Store struct {
	mu       sync.RWMutex
	window   time.Duration
	sessions map[string]*Session
}

// NewStore creates a store. A non-positive window disables window resets.
func NewStore(window time.Duration) *Store {
	return &Store{
		window:   window,
		sessions: make(map[string]*Session),
	}
}

// Window returns the window duration.
func (s *Store) Window() time.Duration {
	return s.window
}

// Update applies fn to the session for key, creating it on first use.
// If the window has expired it is reset before fn runs. The activity
// timestamp and event count are bumped. Returns copies of the session
// before and after the update; prev is the zero Session for a new key.
func (s *Store) Update(key string, now time.Time, fn func(*Session)) (prev, next Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[key]
	if !exists {
		sess = &Session{
			Key:          key,
			CreatedAt:    now,
			WindowStart:  now,
			LastActivity: now,
		}
		s.sessions[key] = sess
	} else {
		prev = *sess
	}

	if s.window > 0 && now.Sub(sess.WindowStart) > s.window {
		sess.ResetWindow(now)
	}

	sess.LastActivity = now
	sess.EventCount++
	if fn != nil {
		fn(sess)
	}
	return prev, *sess
}

// Refresh applies fn to an existing session without counting it as
// activity and without resetting the window. Returns false if the key
// does not exist.
func (s *Store) Refresh(key string, fn func(*Session)) (prev, next Session, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[key]
	if !exists {
		return Session{}, Session{}, false
	}
	prev = *sess
	if fn != nil {
		fn(sess)
	}
	return prev, *sess, true
}

// Each applies fn to every session under a single lock.
func (s *Store) Each(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		fn(sess)
	}
}

// Get returns a copy of the session for key.
func (s *Store) Get(key string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[key]
	if !exists {
		return Session{}, false
	}
	return *sess, true
}

// All returns copies of every session, ordered by key.
func (s *Store) All() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns every key, ordered.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Delete removes a session and returns its final state.
func (s *Store) Delete(key string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[key]
	if !exists {
		return Session{}, false
	}
	delete(s.sessions, key)
	return *sess, true
}

// Sweep evicts sessions whose last activity is more than staleness before
// now and returns the evicted sessions.
func (s *Store) Sweep(now time.Time, staleness time.Duration) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []Session
	for key, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > staleness {
			evicted = append(evicted, *sess)
			delete(s.sessions, key)
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i].Key < evicted[j].Key })
	return evicted
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

// Reset clears all sessions.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*Session)
}
