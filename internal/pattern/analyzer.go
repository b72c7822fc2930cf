// Package pattern correlates tracker state into composite Insights.
package pattern

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/nudgeloop/internal/models"
	"github.com/nvandessel/nudgeloop/internal/session"
)

// Per-rule confidences.
const (
	ConfidenceMultiTab      = 0.7
	ConfidenceDoomscrolling = 0.8
	ConfidenceShopping      = 0.6
	ConfidenceFocusLoss     = 0.9
)

// SessionSource is the read side of a tracker.
type SessionSource interface {
	Query(key string) (session.Session, bool)
	QueryAll() []session.Session
}

// Config holds the analyzer's fixed thresholds.
type Config struct {
	// MultiTabThreshold: more long time sessions than this emits multiTabOveruse. Default: 3.
	MultiTabThreshold int

	// FocusLossLongTabs and FocusLossDomains: focusLoss requires more long
	// sessions than FocusLossLongTabs AND more impulsive domains than
	// FocusLossDomains. Defaults: 2 and 1.
	FocusLossLongTabs int
	FocusLossDomains  int

	// LogSize caps the rolling insight log. Default: 100.
	LogSize int

	// LongSessionMinutes: a time session is long once its minutes exceed
	// this. Zero falls back to any non-none classification.
	LongSessionMinutes float64
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		MultiTabThreshold: 3,
		FocusLossLongTabs: 2,
		FocusLossDomains:  1,
		LogSize:           100,
	}
}

// Analyzer evaluates the cross-tracker rules.
type Analyzer struct {
	cfg    Config
	time   SessionSource
	scroll SessionSource
	visit  SessionSource
	log    *Log

	mu      sync.Mutex // serializes Analyze calls
	nowFunc func() time.Time
}

// NewAnalyzer creates an analyzer over the three trackers.
func NewAnalyzer(cfg Config, timeSrc, scrollSrc, visitSrc SessionSource) *Analyzer {
	if cfg.LogSize <= 0 {
		cfg.LogSize = DefaultConfig().LogSize
	}
	return &Analyzer{
		cfg:     cfg,
		time:    timeSrc,
		scroll:  scrollSrc,
		visit:   visitSrc,
		log:     NewLog(cfg.LogSize),
		nowFunc: time.Now,
	}
}

// SetClock replaces the analyzer's clock.
func (a *Analyzer) SetClock(now func() time.Time) {
	a.nowFunc = now
}

// Analyze runs every rule in order, appends the resulting insights to the
// rolling log and returns them. Rules are independent; one pass may emit
// insights from several rules.
func (a *Analyzer) Analyze() []models.Insight {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.nowFunc()
	var insights []models.Insight

	// Rule 1: long time sessions across tabs.
	var longKeys []string
	for _, s := range a.time.QueryAll() {
		if a.isLong(s) {
			longKeys = append(longKeys, s.Key)
		}
	}
	if len(longKeys) > a.cfg.MultiTabThreshold {
		insights = append(insights, models.Insight{
			Type:        models.InsightMultiTabOveruse,
			Description: fmt.Sprintf("%d tabs have passed the time-on-site threshold", len(longKeys)),
			Severity:    models.SeverityMedium,
			Confidence:  ConfidenceMultiTab,
			RelatedKeys: copyKeys(longKeys),
			Timestamp:   now,
		})
	}

	// Rule 2: long sessions that are also scrolling heavily.
	for _, key := range longKeys {
		s, ok := a.scroll.Query(key)
		if !ok || s.Classification == models.SeverityNone {
			continue
		}
		desc := fmt.Sprintf("long session on tab %s with continuous scrolling", key)
		if s.Domain != "" {
			desc = fmt.Sprintf("long session on %s (tab %s) with continuous scrolling", s.Domain, key)
		}
		insights = append(insights, models.Insight{
			Type:        models.InsightDoomscrollingHabit,
			Description: desc,
			Severity:    models.SeverityHigh,
			Confidence:  ConfidenceDoomscrolling,
			RelatedKeys: []string{key},
			Timestamp:   now,
		})
	}

	// Rule 3: impulsive repeat visits per monitored domain.
	var impulsive []string
	for _, s := range a.visit.QueryAll() {
		if s.Classification == models.SeverityNone {
			continue
		}
		impulsive = append(impulsive, s.Key)
		insights = append(insights, models.Insight{
			Type:        models.InsightShoppingImpulse,
			Description: fmt.Sprintf("%d visits to %s within the window", int(s.WindowAccumulator), s.Key),
			Severity:    models.SeverityMedium,
			Confidence:  ConfidenceShopping,
			RelatedKeys: []string{s.Key},
			Timestamp:   now,
		})
	}

	// Rule 4: both conditions must hold in the same pass.
	if len(longKeys) > a.cfg.FocusLossLongTabs && len(impulsive) > a.cfg.FocusLossDomains {
		related := append(copyKeys(longKeys), impulsive...)
		insights = append(insights, models.Insight{
			Type: models.InsightFocusLoss,
			Description: fmt.Sprintf("%d long sessions while repeatedly visiting %s",
				len(longKeys), strings.Join(impulsive, ", ")),
			Severity:    models.SeverityHigh,
			Confidence:  ConfidenceFocusLoss,
			RelatedKeys: related,
			Timestamp:   now,
		})
	}

	for _, in := range insights {
		a.log.Append(in)
	}
	return insights
}

func (a *Analyzer) isLong(s session.Session) bool {
	if a.cfg.LongSessionMinutes > 0 {
		return s.WindowAccumulator > a.cfg.LongSessionMinutes
	}
	return s.Classification != models.SeverityNone
}

// Recent returns up to limit of the most recent insights, oldest first.
func (a *Analyzer) Recent(limit int) []models.Insight {
	return a.log.Recent(limit)
}

// LogLen returns the number of insights retained in the log.
func (a *Analyzer) LogLen() int {
	return a.log.Len()
}

func copyKeys(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}
