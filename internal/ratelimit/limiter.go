// Package ratelimit provides per-key token bucket rate limiting for host
// adapter tools.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Rule configures one bucket: PerMinute tokens are added each minute, up to Burst.
type Rule struct {
	PerMinute float64
	Burst     int
}

// Limiter implements a per-key token bucket rate limiter.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int
	nowFunc func() time.Time
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
// A new key starts with a full burst.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// FromRule builds a limiter from a per-minute rule.
func FromRule(r Rule) *Limiter {
	return NewLimiter(r.PerMinute/60.0, r.Burst)
}

// SetClock replaces the limiter's time source.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFunc = now
}

// Allow reports whether a request for key may proceed, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	b := l.refillLocked(key, now)
	if b.tokens < 1.0 {
		return false
	}
	b.tokens--
	return true
}

// Tokens returns the tokens currently available for key without consuming any.
func (l *Limiter) Tokens(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refillLocked(key, l.nowFunc()).tokens
}

func (l *Limiter) refillLocked(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastCheck: now}
		l.buckets[key] = b
		return b
	}
	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens += l.rate * elapsed
		if b.tokens > float64(l.burst) {
			b.tokens = float64(l.burst)
		}
		b.lastCheck = now
	}
	return b
}

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// DefaultRules returns the per-tool limits for the nudge_* tools. Event
// ingestion is sized for a chatty browser host; snapshot I/O is kept rare.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"nudge_event":    {PerMinute: 600, Burst: 50},
		"nudge_poll":     {PerMinute: 120, Burst: 10},
		"nudge_context":  {PerMinute: 60, Burst: 10},
		"nudge_stats":    {PerMinute: 60, Burst: 10},
		"nudge_sessions": {PerMinute: 60, Burst: 10},
		"nudge_insights": {PerMinute: 60, Burst: 10},
		"nudge_graph":    {PerMinute: 30, Burst: 5},
		"nudge_snapshot": {PerMinute: 5, Burst: 2},
	}
}

// NewToolLimiters creates one limiter per rule.
func NewToolLimiters(rules map[string]Rule) ToolLimiters {
	limiters := make(ToolLimiters, len(rules))
	for tool, r := range rules {
		limiters[tool] = FromRule(r)
	}
	return limiters
}

// SetClock replaces the time source of every limiter.
func (tl ToolLimiters) SetClock(now func() time.Time) {
	for _, l := range tl {
		l.SetClock(now)
	}
}

// CheckLimit returns an error if toolName is over its limit. Tools without
// a configured limiter are always allowed.
func CheckLimit(limiters ToolLimiters, toolName string) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	if !limiter.Allow(toolName) {
		return fmt.Errorf("rate limit exceeded for %s, please try again shortly", toolName)
	}
	return nil
}
