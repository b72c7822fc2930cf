package orchestrator

import (
	"time"

	"github.com/nvandessel/nudgeloop/internal/logging"
	"github.com/nvandessel/nudgeloop/internal/store"
	"github.com/nvandessel/nudgeloop/internal/tracker"
)

// OnTabActivated moves time-on-site focus to tabID.
func (m *Manager) OnTabActivated(tabID string) {
	if tabID == "" {
		return
	}
	m.pipeline.Lock()
	defer m.pipeline.Unlock()
	defer m.recoverStage("tab-activated")

	m.timeTracker.Activate(tabID)
}

// OnTabUpdated records a navigation of tabID to url: time accrual for the
// tab and a visit for the url's domain.
func (m *Manager) OnTabUpdated(tabID, url string) {
	if tabID == "" {
		return
	}
	m.pipeline.Lock()
	defer m.pipeline.Unlock()
	defer m.recoverStage("tab-updated")

	ev := tracker.Event{URL: url}
	m.timeTracker.RecordEvent(tabID, ev)

	host := tracker.HostOf(url)
	if host == "" {
		return
	}
	m.visitTracker.RecordEvent(host, ev)

	if m.visitTracker.Monitors(host) || m.scrollTracker.Monitors(host) {
		now := m.nowFunc()
		domainID := m.ensureDomain(host, now)
		tab := m.ensureTab(tabID, now)
		m.graph.AddEdge(store.Edge{Source: tab, Target: domainID, Type: store.EdgeVisited, CreatedAt: now})
	}
}

// OnScroll adds deltaPixels of scrolling on tabID at url.
func (m *Manager) OnScroll(tabID, url string, deltaPixels float64) {
	if tabID == "" {
		return
	}
	m.pipeline.Lock()
	defer m.pipeline.Unlock()
	defer m.recoverStage("scroll")

	m.scrollTracker.RecordEvent(tabID, tracker.Event{URL: url, Delta: deltaPixels})
}

// OnTabRemoved finalizes the tab's sessions into the daily aggregates.
func (m *Manager) OnTabRemoved(tabID string) {
	if tabID == "" {
		return
	}
	m.pipeline.Lock()
	defer m.pipeline.Unlock()
	defer m.recoverStage("tab-removed")

	m.timeTracker.EndSession(tabID)
	m.scrollTracker.EndSession(tabID)
}

// Tick runs the periodic re-check: stale sessions are evicted, live ones
// re-evaluated, and the pattern analyzer runs over the result. Overlapping
// ticks are coalesced; the skipped call returns false.
func (m *Manager) Tick(now time.Time) bool {
	if !m.ticking.CompareAndSwap(false, true) {
		return false
	}
	defer m.ticking.Store(false)

	m.pipeline.Lock()
	defer m.pipeline.Unlock()
	defer m.recoverStage("tick")

	evicted := m.timeTracker.Tick(now) + m.scrollTracker.Tick(now) + m.visitTracker.Tick(now)

	insights := m.analyzer.Analyze()
	for _, in := range insights {
		m.handleInsight(in)
	}

	m.logger.Log(m.ctx, logging.LevelTrace, "tick", "evicted", evicted, "insights", len(insights))
	return true
}
