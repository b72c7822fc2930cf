// Package models defines the value types exchanged between the signal
// trackers, the pattern analyzer and the intervention orchestrator.
package models

import (
	"time"
)

// SignalKind identifies which tracker produced a BehaviorEvent.
type SignalKind string

const (
	SignalTime   SignalKind = "time"   // time-on-site per tab
	SignalScroll SignalKind = "scroll" // accumulated scroll distance per tab
	SignalVisit  SignalKind = "visit"  // repeated visits per domain
)

// BehaviorEvent is emitted by a tracker when a key crosses a threshold.
// It is immutable once produced.
type BehaviorEvent struct {
	Kind      SignalKind `json:"kind"`
	Key       string     `json:"key"`              // tab id for time/scroll, domain for visit
	Domain    string     `json:"domain,omitempty"` // host the key was last seen on
	Severity  Severity   `json:"severity"`
	Metric    float64    `json:"metric"` // accumulator value at emission
	Timestamp time.Time  `json:"timestamp"`
}

// InsightType names a composite pattern found by the analyzer.
type InsightType string

const (
	InsightMultiTabOveruse    InsightType = "multiTabOveruse"
	InsightDoomscrollingHabit InsightType = "doomscrollingHabit"
	InsightShoppingImpulse    InsightType = "shoppingImpulse"
	InsightFocusLoss          InsightType = "focusLoss"
)

// Insight is a cross-tracker observation. Confidence is in [0,1].
type Insight struct {
	Type        InsightType `json:"type"`
	Description string      `json:"description"`
	Severity    Severity    `json:"severity"`
	Confidence  float64     `json:"confidence"`
	RelatedKeys []string    `json:"related_keys,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}
