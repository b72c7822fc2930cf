// Package tracker turns raw host events into classified BehaviorEvents.
//
// A Tracker owns a session.Store and an Accumulator. Every recorded event
// updates the key's session, reclassifies it against fixed ratios of the
// configured threshold, and emits a BehaviorEvent to the Sink when the
// classification rises to (or changes between) non-none values. A periodic
// Tick evicts stale sessions and re-evaluates the rest so that accrual
// without fresh events (time on site) still produces events.
package tracker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvandessel/nudgeloop/internal/models"
	"github.com/nvandessel/nudgeloop/internal/session"
)

// Event is a raw observation for one key.
type Event struct {
	URL   string  // page URL; its host is checked against the monitored set
	Delta float64 // scrolled pixels (scroll tracker only)

	focused bool // set by TimeTracker for the focused tab
}

// Sink receives BehaviorEvents emitted by a tracker.
type Sink interface {
	OnBehavior(ev models.BehaviorEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev models.BehaviorEvent)

// OnBehavior calls f(ev).
func (f SinkFunc) OnBehavior(ev models.BehaviorEvent) { f(ev) }

// Config holds tracker settings.
type Config struct {
	// Threshold is the accumulator value at which classification becomes low.
	// Minutes for time, pixels for scroll, visits for visit.
	Threshold float64

	// Window is the accumulation window. Sessions idle for twice the window
	// are evicted on Tick.
	Window time.Duration

	// Monitored lists the domains the tracker accepts. Empty monitors all hosts.
	Monitored []string

	// ReconfirmInterval re-emits an unchanged non-none classification at most
	// once per interval. Zero disables re-confirmation.
	ReconfirmInterval time.Duration

	// Location is used for daily aggregate buckets. Defaults to time.Local.
	Location *time.Location
}

// Tracker is the generic signal tracker.
type Tracker struct {
	rule      Accumulator
	cfg       Config
	monitored DomainSet
	store     *session.Store
	daily     *DailyTotals

	sinkMu sync.RWMutex
	sink   Sink

	ticking atomic.Bool
	nowFunc func() time.Time // injectable clock for testing
}

func newTracker(rule Accumulator, cfg Config) *Tracker {
	return &Tracker{
		rule:      rule,
		cfg:       cfg,
		monitored: NewDomainSet(cfg.Monitored),
		store:     session.NewStore(cfg.Window),
		daily:     newDailyTotals(cfg.Location),
		nowFunc:   time.Now,
	}
}

// NewScrollTracker creates a tracker accumulating scrolled pixels per tab.
func NewScrollTracker(cfg Config) *Tracker {
	return newTracker(scrollAccumulator{}, cfg)
}

// NewVisitTracker creates a tracker counting visits per domain.
func NewVisitTracker(cfg Config) *Tracker {
	return newTracker(visitAccumulator{}, cfg)
}

// SetClock replaces the tracker's clock.
func (t *Tracker) SetClock(now func() time.Time) {
	t.nowFunc = now
}

// SetSink sets the receiver of emitted events. A nil sink discards them.
func (t *Tracker) SetSink(s Sink) {
	t.sinkMu.Lock()
	defer t.sinkMu.Unlock()
	t.sink = s
}

// Kind returns the signal kind this tracker produces.
func (t *Tracker) Kind() models.SignalKind {
	return t.rule.Kind()
}

// Threshold returns the configured threshold.
func (t *Tracker) Threshold() float64 {
	return t.cfg.Threshold
}

// Window returns the configured window.
func (t *Tracker) Window() time.Duration {
	return t.cfg.Window
}

// Monitors reports whether the tracker accepts host.
func (t *Tracker) Monitors(host string) bool {
	return t.monitored.Match(host)
}

// RecordEvent applies ev to the session for key and returns the resulting
// classification. Events whose URL host is unmonitored or unparseable are
// ignored and classify as none.
func (t *Tracker) RecordEvent(key string, ev Event) models.Severity {
	emitted, sev := t.record(key, ev)
	if emitted != nil {
		t.emit(*emitted)
	}
	return sev
}

func (t *Tracker) record(key string, ev Event) (*models.BehaviorEvent, models.Severity) {
	if key == "" {
		return nil, models.SeverityNone
	}
	host := HostOf(ev.URL)
	if !t.monitored.Match(host) {
		return nil, models.SeverityNone
	}

	now := t.nowFunc()
	var (
		segment *session.Session
		out     *models.BehaviorEvent
	)
	_, next := t.store.Update(key, now, func(s *session.Session) {
		prevClass := s.Classification
		if t.rule.SegmentsByDomain() && s.Domain != "" && s.Domain != host {
			closed := *s
			closed.WindowAccumulator = t.rule.Measure(closed, now)
			segment = &closed
			s.ResetWindow(now)
			s.Classification = models.SeverityNone
			prevClass = models.SeverityNone
		}
		s.Domain = host
		t.rule.Apply(s, ev, now)
		t.evaluate(s, now)
		if t.shouldEmit(prevClass, s, now) {
			s.LastEmittedAt = now
			e := t.eventFor(s, now)
			out = &e
		}
	})

	if segment != nil {
		t.daily.add(now, segment.Domain, segment.WindowAccumulator)
	}
	return out, next.Classification
}

// evaluate recomputes the accumulator and classification of s.
func (t *Tracker) evaluate(s *session.Session, now time.Time) {
	s.WindowAccumulator = t.rule.Measure(*s, now)
	s.Classification = models.Classify(s.WindowAccumulator, t.cfg.Threshold)
}

// shouldEmit decides whether the new classification of s warrants an event.
func (t *Tracker) shouldEmit(prev models.Severity, s *session.Session, now time.Time) bool {
	if s.Classification == models.SeverityNone {
		return false
	}
	if s.Classification != prev {
		return true
	}
	if t.cfg.ReconfirmInterval <= 0 || s.LastEmittedAt.IsZero() {
		return false
	}
	return now.Sub(s.LastEmittedAt) >= t.cfg.ReconfirmInterval
}

func (t *Tracker) eventFor(s *session.Session, now time.Time) models.BehaviorEvent {
	return models.BehaviorEvent{
		Kind:      t.rule.Kind(),
		Key:       s.Key,
		Domain:    s.Domain,
		Severity:  s.Classification,
		Metric:    s.WindowAccumulator,
		Timestamp: now,
	}
}

func (t *Tracker) emit(ev models.BehaviorEvent) {
	t.sinkMu.RLock()
	sink := t.sink
	t.sinkMu.RUnlock()

	if sink != nil {
		sink.OnBehavior(ev)
	}
}

// EndSession finalizes the key's accumulator into the daily aggregate and
// deletes its session.
func (t *Tracker) EndSession(key string) {
	now := t.nowFunc()
	s, ok := t.store.Delete(key)
	if !ok {
		return
	}
	t.daily.add(now, s.Domain, t.rule.Measure(s, now))
}

// Query returns a snapshot of the session for key, measured at the current time.
func (t *Tracker) Query(key string) (session.Session, bool) {
	s, ok := t.store.Get(key)
	if !ok {
		return session.Session{}, false
	}
	now := t.nowFunc()
	s.WindowAccumulator = t.rule.Measure(s, now)
	s.Classification = models.Classify(s.WindowAccumulator, t.cfg.Threshold)
	return s, true
}

// QueryAll returns snapshots of every session, ordered by key.
func (t *Tracker) QueryAll() []session.Session {
	now := t.nowFunc()
	all := t.store.All()
	for i := range all {
		all[i].WindowAccumulator = t.rule.Measure(all[i], now)
		all[i].Classification = models.Classify(all[i].WindowAccumulator, t.cfg.Threshold)
	}
	return all
}

// Len returns the number of live sessions.
func (t *Tracker) Len() int {
	return t.store.Len()
}

// DailyTotals returns the domain totals finalized on a YYYY-MM-DD day.
func (t *Tracker) DailyTotals(day string) map[string]float64 {
	return t.daily.Day(day)
}

// Today returns the current day key in the tracker's location.
func (t *Tracker) Today() string {
	return DayKey(t.nowFunc(), t.cfg.Location)
}

// Tick evicts sessions idle for more than twice the window, resets expired
// windows, and re-evaluates the remaining sessions, emitting events for
// classifications that changed. Overlapping calls are skipped. Returns the
// number of evicted sessions.
func (t *Tracker) Tick(now time.Time) int {
	if !t.ticking.CompareAndSwap(false, true) {
		return 0
	}
	defer t.ticking.Store(false)

	evicted := 0
	if t.cfg.Window > 0 {
		for _, s := range t.store.Sweep(now, 2*t.cfg.Window) {
			t.daily.add(now, s.Domain, t.rule.Measure(s, now))
			evicted++
		}
	}

	for _, key := range t.store.Keys() {
		var out *models.BehaviorEvent
		t.store.Refresh(key, func(s *session.Session) {
			prevClass := s.Classification
			if t.cfg.Window > 0 && now.Sub(s.WindowStart) > t.cfg.Window {
				s.ResetWindow(now)
			}
			t.evaluate(s, now)
			if t.shouldEmit(prevClass, s, now) {
				s.LastEmittedAt = now
				e := t.eventFor(s, now)
				out = &e
			}
		})
		if out != nil {
			t.emit(*out)
		}
	}
	return evicted
}
