// Package scheduler fires name-keyed, one-shot delayed callbacks.
//
// Scheduling under a name that is still pending replaces it. Every entry
// carries a generation number so a timer that pops after being replaced or
// cancelled never reaches the callback.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Callback is invoked once per fired intervention, on the timer's goroutine.
type Callback func(name string, payload any)

// Intervention is a pending scheduled intervention.
type Intervention struct {
	Name    string    `json:"name"`
	FireAt  time.Time `json:"fire_at"`
	Payload any       `json:"payload,omitempty"`
}

type entry struct {
	gen     uint64
	timer   *time.Timer
	fireAt  time.Time
	payload any
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu       sync.Mutex
	entries  map[string]*entry
	gen      uint64
	closed   bool
	callback Callback
	inflight sync.WaitGroup
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// New creates a scheduler that calls callback when an intervention fires.
func New(callback Callback, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		entries:  make(map[string]*entry),
		callback: callback,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// SetClock replaces the clock used to compute FireAt. Timers still run on
// real time.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = now
}

// Schedule registers name to fire after delay. A pending intervention with
// the same name is cancelled first; replaced reports whether one existed.
// Scheduling on a closed scheduler is a no-op.
func (s *Scheduler) Schedule(name string, delay time.Duration, payload any) (replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if old, ok := s.entries[name]; ok {
		old.timer.Stop()
		replaced = true
	}

	s.gen++
	gen := s.gen
	s.entries[name] = &entry{
		gen:     gen,
		fireAt:  s.nowFunc().Add(delay),
		payload: payload,
		timer:   time.AfterFunc(delay, func() { s.fire(name, gen) }),
	}
	return replaced
}

// Cancel removes a pending intervention without firing it.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, name)
	return true
}

func (s *Scheduler) fire(name string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if s.closed || !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.entries, name)
	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()
	if err := s.invoke(name, e.payload); err != nil {
		s.logger.Error("intervention callback failed", "name", name, "error", err)
	}
}

func (s *Scheduler) invoke(name string, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if s.callback != nil {
		s.callback(name, payload)
	}
	return nil
}

// Pending returns the pending interventions ordered by fire time.
func (s *Scheduler) Pending() []Intervention {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Intervention, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, Intervention{Name: name, FireAt: e.fireAt, Payload: e.payload})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Close cancels every pending intervention and waits for running callbacks
// to return. It must not be called from a callback.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for name, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, name)
	}
	s.mu.Unlock()

	s.inflight.Wait()
}
