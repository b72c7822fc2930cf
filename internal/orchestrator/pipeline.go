package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/nudgeloop/internal/logging"
	"github.com/nvandessel/nudgeloop/internal/models"
	"github.com/nvandessel/nudgeloop/internal/store"
)

// Decision actions written to the decision log.
const (
	ActionScheduled    = "scheduled"
	ActionReplaced     = "replaced"
	ActionSuppressed   = "suppressed"
	ActionFired        = "fired"
	ActionNotifyFailed = "notify_failed"
)

// OnBehavior feeds a BehaviorEvent produced outside the built-in trackers
// through the pipeline.
func (m *Manager) OnBehavior(ev models.BehaviorEvent) {
	m.pipeline.Lock()
	defer m.pipeline.Unlock()
	m.handleBehavior(ev)
}

// OnInsight feeds an Insight through the pipeline.
func (m *Manager) OnInsight(in models.Insight) {
	m.pipeline.Lock()
	defer m.pipeline.Unlock()
	m.handleInsight(in)
}

// handleBehavior records ev in the graph and schedules a nudge if its
// cooldown allows. Callers hold the pipeline lock.
func (m *Manager) handleBehavior(ev models.BehaviorEvent) {
	defer m.recoverStage("behavior")

	m.recordBehavior(ev)

	subject := ev.Domain
	if subject == "" {
		subject = ev.Key
	}
	m.gateAndSchedule(Intervention{
		CooldownKey: string(ev.Kind) + ":" + subject,
		Source:      string(ev.Kind),
		Key:         ev.Key,
		Domain:      ev.Domain,
		Severity:    ev.Severity,
		Metric:      ev.Metric,
	})
}

// handleInsight records in as a pattern node and schedules a nudge if its
// cooldown allows. Callers hold the pipeline lock.
func (m *Manager) handleInsight(in models.Insight) {
	defer m.recoverStage("insight")

	m.recordInsight(in)

	key := "insight:" + string(in.Type)
	switch in.Type {
	case models.InsightDoomscrollingHabit, models.InsightShoppingImpulse:
		if len(in.RelatedKeys) > 0 {
			key += ":" + in.RelatedKeys[0]
		}
	}
	m.gateAndSchedule(Intervention{
		CooldownKey: key,
		Source:      string(in.Type),
		Severity:    in.Severity,
		Description: in.Description,
		RelatedKeys: append([]string(nil), in.RelatedKeys...),
	})
}

func (m *Manager) recordBehavior(ev models.BehaviorEvent) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = m.nowFunc()
	}

	id := fmt.Sprintf("behavior:%s:%s:%d", ev.Kind, ev.Key, ts.UnixNano())
	m.graph.AddNode(store.Node{
		ID:   id,
		Type: store.NodeBehavior,
		Metadata: map[string]interface{}{
			"kind":     string(ev.Kind),
			"key":      ev.Key,
			"domain":   ev.Domain,
			"severity": ev.Severity.String(),
			"metric":   ev.Metric,
		},
		CreatedAt: ts,
		UpdatedAt: ts,
	})

	if ev.Domain != "" {
		domainID := m.ensureDomain(ev.Domain, ts)
		m.graph.AddEdge(store.Edge{Source: id, Target: domainID, Type: store.EdgeObservedOn, CreatedAt: ts})
	}
	if ev.Kind != models.SignalVisit {
		tabID := m.ensureTab(ev.Key, ts)
		m.graph.AddEdge(store.Edge{Source: id, Target: tabID, Type: store.EdgeOccurredIn, CreatedAt: ts})
	}

	m.graph.PruneType(store.NodeBehavior, m.cfg.MaxBehaviorNodes)
}

func (m *Manager) recordInsight(in models.Insight) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = m.nowFunc()
	}

	related := make([]interface{}, len(in.RelatedKeys))
	for i, k := range in.RelatedKeys {
		related[i] = k
	}
	// One analyzer pass stamps every insight with the same time, so the
	// related keys keep same-type insights from colliding.
	id := fmt.Sprintf("pattern:%s:%s:%d", in.Type, strings.Join(in.RelatedKeys, ","), ts.UnixNano())
	m.graph.AddNode(store.Node{
		ID:   id,
		Type: store.NodePattern,
		Metadata: map[string]interface{}{
			"type":        string(in.Type),
			"description": in.Description,
			"severity":    in.Severity.String(),
			"confidence":  in.Confidence,
			"related":     related,
		},
		CreatedAt: ts,
		UpdatedAt: ts,
	})

	// Related keys are tab ids or domains; edges to absent endpoints are dropped.
	for _, k := range in.RelatedKeys {
		m.graph.AddEdge(store.Edge{Source: id, Target: "tab:" + k, Type: store.EdgeDerivedFrom, CreatedAt: ts})
		m.graph.AddEdge(store.Edge{Source: id, Target: "domain:" + k, Type: store.EdgeDerivedFrom, CreatedAt: ts})
	}

	m.graph.PruneType(store.NodePattern, m.cfg.MaxPatternNodes)
}

func (m *Manager) ensureDomain(domain string, at time.Time) string {
	id := "domain:" + domain
	if !m.graph.AddNode(store.Node{
		ID:        id,
		Type:      store.NodeDomain,
		Metadata:  map[string]interface{}{"domain": domain},
		CreatedAt: at,
		UpdatedAt: at,
	}) {
		m.graph.Touch(id, at, nil)
	}
	return id
}

func (m *Manager) ensureTab(tabID string, at time.Time) string {
	id := "tab:" + tabID
	if !m.graph.AddNode(store.Node{
		ID:        id,
		Type:      store.NodeTab,
		Metadata:  map[string]interface{}{"tab": tabID},
		CreatedAt: at,
		UpdatedAt: at,
	}) {
		m.graph.Touch(id, at, nil)
	} else {
		m.graph.PruneType(store.NodeTab, m.cfg.MaxTabNodes)
	}
	return id
}

// gateAndSchedule consults the cooldown gate for in.CooldownKey and, if it
// is open, schedules in after the severity's delay.
func (m *Manager) gateAndSchedule(in Intervention) bool {
	if in.Severity == models.SeverityNone {
		return false
	}
	policy, ok := (*m.policies.Load())[in.Severity]
	if !ok {
		return false
	}

	if !m.gate.TryAcquire(in.CooldownKey, policy.Cooldown) {
		m.suppressed.Add(1)
		next, _ := m.gate.NextAllowed(in.CooldownKey)
		m.decisions.Record(logging.Decision{
			Action:      ActionSuppressed,
			CooldownKey: in.CooldownKey,
			Source:      in.Source,
			Severity:    in.Severity.String(),
			NextAllowed: next,
		})
		m.logger.Debug("intervention suppressed", "key", in.CooldownKey, "next_allowed", next)
		return false
	}

	now := m.nowFunc()
	in.ID = uuid.NewString()
	in.Name = "nudge:" + in.CooldownKey
	in.ScheduledAt = now
	in.FireAt = now.Add(policy.Delay)

	action := ActionScheduled
	if m.sched.Schedule(in.Name, policy.Delay, in) {
		action = ActionReplaced
		m.replaced.Add(1)
	}
	m.scheduled.Add(1)
	m.decisions.Record(logging.Decision{
		Action:       action,
		Intervention: in.Name,
		CooldownKey:  in.CooldownKey,
		Source:       in.Source,
		Severity:     in.Severity.String(),
		Delay:        policy.Delay,
		NextAllowed:  now.Add(policy.Cooldown),
	})
	m.logger.Info("intervention scheduled",
		"name", in.Name, "severity", in.Severity, "delay", policy.Delay)
	return true
}

// fire is the scheduler callback. Notifier failures are logged and dropped.
func (m *Manager) fire(name string, payload any) {
	in, ok := payload.(Intervention)
	if !ok {
		m.logger.Error("unexpected intervention payload", "name", name, "type", fmt.Sprintf("%T", payload))
		return
	}

	err := m.notify(in)
	if err != nil {
		m.notifyFailed.Add(1)
		m.decisions.Record(logging.Decision{
			Action:       ActionNotifyFailed,
			Intervention: name,
			CooldownKey:  in.CooldownKey,
			Source:       in.Source,
			Error:        err.Error(),
		})
		m.logger.Warn("intervention delivery failed", "name", name, "error", err)
		return
	}

	m.fired.Add(1)
	m.decisions.Record(logging.Decision{
		Action:       ActionFired,
		Intervention: name,
		CooldownKey:  in.CooldownKey,
		Source:       in.Source,
		Severity:     in.Severity.String(),
	})
	m.logger.Info("intervention fired", "name", name, "id", in.ID)
}

func (m *Manager) notify(in Intervention) (err error) {
	if m.notifier == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.NotifyTimeout)
	defer cancel()
	return m.notifier.Notify(ctx, in)
}

// recoverStage keeps a failing pipeline stage from taking the host down.
// A recovered stage schedules nothing.
func (m *Manager) recoverStage(stage string) {
	if r := recover(); r != nil {
		m.logger.Error("pipeline stage panicked", "stage", stage, "panic", r)
	}
}
