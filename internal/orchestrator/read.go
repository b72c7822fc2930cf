package orchestrator

import (
	"context"

	"github.com/nvandessel/nudgeloop/internal/models"
	"github.com/nvandessel/nudgeloop/internal/retrieval"
	"github.com/nvandessel/nudgeloop/internal/scheduler"
	"github.com/nvandessel/nudgeloop/internal/session"
	"github.com/nvandessel/nudgeloop/internal/store"
)

// ActiveSession is a live tracker session tagged with its tracker.
type ActiveSession struct {
	Kind models.SignalKind `json:"kind"`
	session.Session
}

// Stats is the diagnostic summary of the pipeline.
type Stats struct {
	Graph     store.Stats               `json:"graph"`
	Sessions  map[models.SignalKind]int `json:"sessions"`
	Pending   int                       `json:"pending"`
	Cooldowns int                       `json:"cooldowns"`
	Insights  int                       `json:"insights"`
	Counters  Counters                  `json:"counters"`
}

// BuildNudgeContext returns the bounded graph slice handed to the nudge
// phrasing step. filter narrows behaviors by id or metadata; "" keeps all.
func (m *Manager) BuildNudgeContext(filter string) retrieval.NudgeContext {
	return m.builder.GenerateContextForNudge(filter)
}

// SimilarContext ranks behaviors and patterns against query.
func (m *Manager) SimilarContext(ctx context.Context, query string, k int) []retrieval.Scored {
	return m.builder.RetrieveSimilar(ctx, query, k)
}

// FullGraph returns every node and edge.
func (m *Manager) FullGraph() store.Snapshot {
	return m.builder.FullGraph()
}

// Stats returns current counts.
func (m *Manager) Stats() Stats {
	return Stats{
		Graph: m.graph.Stats(),
		Sessions: map[models.SignalKind]int{
			models.SignalTime:   m.timeTracker.Len(),
			models.SignalScroll: m.scrollTracker.Len(),
			models.SignalVisit:  m.visitTracker.Len(),
		},
		Pending:   len(m.sched.Pending()),
		Cooldowns: m.gate.Len(),
		Insights:  m.analyzer.LogLen(),
		Counters: Counters{
			Scheduled:    m.scheduled.Load(),
			Replaced:     m.replaced.Load(),
			Suppressed:   m.suppressed.Load(),
			Fired:        m.fired.Load(),
			NotifyFailed: m.notifyFailed.Load(),
		},
	}
}

// ActiveSessions returns every live session of the three trackers.
func (m *Manager) ActiveSessions() []ActiveSession {
	var out []ActiveSession
	for _, s := range m.timeTracker.QueryAll() {
		out = append(out, ActiveSession{Kind: models.SignalTime, Session: s})
	}
	for _, s := range m.scrollTracker.QueryAll() {
		out = append(out, ActiveSession{Kind: models.SignalScroll, Session: s})
	}
	for _, s := range m.visitTracker.QueryAll() {
		out = append(out, ActiveSession{Kind: models.SignalVisit, Session: s})
	}
	return out
}

// RecentInsights returns up to limit of the latest insights, oldest first.
func (m *Manager) RecentInsights(limit int) []models.Insight {
	return m.analyzer.Recent(limit)
}

// PendingInterventions returns the interventions waiting to fire.
func (m *Manager) PendingInterventions() []scheduler.Intervention {
	return m.sched.Pending()
}

// DailyTotals returns finalized per-domain totals for day (YYYY-MM-DD) by
// tracker kind. Time totals are minutes.
func (m *Manager) DailyTotals(day string) map[models.SignalKind]map[string]float64 {
	if day == "" {
		day = m.timeTracker.Today()
	}
	return map[models.SignalKind]map[string]float64{
		models.SignalTime:   m.timeTracker.DailyTotals(day),
		models.SignalScroll: m.scrollTracker.DailyTotals(day),
		models.SignalVisit:  m.visitTracker.DailyTotals(day),
	}
}

// Today returns the current day key used by DailyTotals.
func (m *Manager) Today() string {
	return m.timeTracker.Today()
}

// ExportSnapshot returns the knowledge graph as a snapshot.
func (m *Manager) ExportSnapshot() store.Snapshot {
	return m.graph.Export()
}

// ImportSnapshot replaces the knowledge graph with snap.
func (m *Manager) ImportSnapshot(snap store.Snapshot) {
	m.pipeline.Lock()
	defer m.pipeline.Unlock()
	m.graph.Import(snap)
}
