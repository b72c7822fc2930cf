package tracker

import (
	"math"
	"time"

	"github.com/nvandessel/nudgeloop/internal/models"
	"github.com/nvandessel/nudgeloop/internal/session"
)

// Accumulator is the variant-specific part of a tracker: how an event is
// folded into a session and how the session's accumulator is measured.
type Accumulator interface {
	Kind() models.SignalKind

	// Apply folds ev into s. Called with the store lock held.
	Apply(s *session.Session, ev Event, now time.Time)

	// Measure returns the accumulator value of s at now.
	Measure(s session.Session, now time.Time) float64

	// SegmentsByDomain reports whether a domain change on a key closes the
	// current segment and starts a fresh accumulation.
	SegmentsByDomain() bool
}

// timeAccumulator measures focused wall-clock minutes.
type timeAccumulator struct{}

func (timeAccumulator) Kind() models.SignalKind { return models.SignalTime }

func (timeAccumulator) Apply(s *session.Session, ev Event, now time.Time) {
	if ev.focused && !s.Active {
		s.Active = true
		s.ActiveSince = now
	}
}

func (timeAccumulator) Measure(s session.Session, now time.Time) float64 {
	total := s.Carried
	if s.Active && now.After(s.ActiveSince) {
		total += now.Sub(s.ActiveSince)
	}
	return total.Minutes()
}

func (timeAccumulator) SegmentsByDomain() bool { return true }

// scrollAccumulator sums scrolled pixels. Direction is ignored.
type scrollAccumulator struct{}

func (scrollAccumulator) Kind() models.SignalKind { return models.SignalScroll }

func (scrollAccumulator) Apply(s *session.Session, ev Event, _ time.Time) {
	s.WindowAccumulator += math.Abs(ev.Delta)
}

func (scrollAccumulator) Measure(s session.Session, _ time.Time) float64 {
	return s.WindowAccumulator
}

func (scrollAccumulator) SegmentsByDomain() bool { return false }

// visitAccumulator counts visits.
type visitAccumulator struct{}

func (visitAccumulator) Kind() models.SignalKind { return models.SignalVisit }

func (visitAccumulator) Apply(s *session.Session, _ Event, _ time.Time) {
	s.WindowAccumulator++
}

func (visitAccumulator) Measure(s session.Session, _ time.Time) float64 {
	return s.WindowAccumulator
}

func (visitAccumulator) SegmentsByDomain() bool { return false }
