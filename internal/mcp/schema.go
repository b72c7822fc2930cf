// Package mcp provides an MCP (Model Context Protocol) server that lets a
// browser host feed tab events into nudgeloop and collect fired nudges.
package mcp

import (
	"time"
)

// Event types accepted by nudge_event.
const (
	EventTabActivated = "tab_activated"
	EventTabUpdated   = "tab_updated"
	EventScroll       = "scroll"
	EventTabRemoved   = "tab_removed"
	EventTick         = "tick"
)

// NudgeEventInput defines the input for nudge_event tool.
type NudgeEventInput struct {
	Type  string  `json:"type" jsonschema:"description=Event type: tab_activated, tab_updated, scroll, tab_removed or tick,required"`
	TabID string  `json:"tab_id,omitempty" jsonschema:"description=Host tab identifier (required except for tick)"`
	URL   string  `json:"url,omitempty" jsonschema:"description=Current tab URL (tab_updated and scroll)"`
	Delta float64 `json:"delta,omitempty" jsonschema:"description=Scroll distance in pixels since the previous scroll event"`
}

// NudgeEventOutput defines the output for nudge_event tool.
type NudgeEventOutput struct {
	Type     string `json:"type" jsonschema:"description=Event type that was applied"`
	Accepted bool   `json:"accepted" jsonschema:"description=Whether the event reached the pipeline"`
	Pending  int    `json:"pending" jsonschema:"description=Interventions waiting to fire after this event"`
	Message  string `json:"message" jsonschema:"description=Human-readable result message"`
}

// NudgeContextInput defines the input for nudge_context tool.
type NudgeContextInput struct {
	Filter string `json:"filter,omitempty" jsonschema:"description=Keep behaviors whose id or metadata contains this text"`
	Query  string `json:"query,omitempty" jsonschema:"description=Free text to rank behaviors and patterns by similarity"`
	K      int    `json:"k,omitempty" jsonschema:"description=Number of similar nodes to return with query (default: 5)"`
}

// NudgeContextOutput defines the output for nudge_context tool.
type NudgeContextOutput struct {
	Behaviors []NodeSummary   `json:"behaviors" jsonschema:"description=Recent behavior nodes"`
	Patterns  []NodeSummary   `json:"patterns" jsonschema:"description=Recent pattern nodes, oldest first"`
	Similar   []ScoredSummary `json:"similar,omitempty" jsonschema:"description=Nodes ranked against query"`
	Timestamp time.Time       `json:"timestamp" jsonschema:"description=When the context was built"`
}

// NodeSummary is a graph node as exposed to the host.
type NodeSummary struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ScoredSummary pairs a node with its similarity score.
type ScoredSummary struct {
	Node  NodeSummary `json:"node"`
	Score float64     `json:"score"`
}

// NudgePollInput defines the input for nudge_poll tool.
type NudgePollInput struct {
	Max int `json:"max,omitempty" jsonschema:"description=Maximum interventions to drain (default: all)"`
}

// NudgePollOutput defines the output for nudge_poll tool.
type NudgePollOutput struct {
	Interventions []InterventionSummary `json:"interventions" jsonschema:"description=Fired interventions, oldest first"`
	Count         int                   `json:"count" jsonschema:"description=Number of interventions returned"`
	Remaining     int                   `json:"remaining" jsonschema:"description=Interventions still queued"`
	Dropped       int64                 `json:"dropped" jsonschema:"description=Interventions dropped because the queue was full"`
}

// InterventionSummary is a fired or pending intervention as exposed to the host.
type InterventionSummary struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Source      string    `json:"source,omitempty"`
	Key         string    `json:"key,omitempty"`
	Domain      string    `json:"domain,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Metric      float64   `json:"metric,omitempty"`
	Description string    `json:"description,omitempty"`
	RelatedKeys []string  `json:"related_keys,omitempty"`
	FireAt      time.Time `json:"fire_at"`
}

// NudgeStatsInput defines the input for nudge_stats tool.
type NudgeStatsInput struct {
	Day string `json:"day,omitempty" jsonschema:"description=Day for daily totals as YYYY-MM-DD (default: today)"`
}

// NudgeStatsOutput defines the output for nudge_stats tool.
type NudgeStatsOutput struct {
	NodeCount   int                           `json:"node_count" jsonschema:"description=Knowledge graph nodes"`
	EdgeCount   int                           `json:"edge_count" jsonschema:"description=Knowledge graph edges"`
	NodeTypes   map[string]int                `json:"node_types" jsonschema:"description=Node count per type"`
	EdgeTypes   map[string]int                `json:"edge_types" jsonschema:"description=Edge count per type"`
	Sessions    map[string]int                `json:"sessions" jsonschema:"description=Live sessions per tracker"`
	Pending     []InterventionSummary         `json:"pending" jsonschema:"description=Interventions waiting to fire"`
	Cooldowns   int                           `json:"cooldowns" jsonschema:"description=Tracked cooldown keys"`
	Insights    int                           `json:"insights" jsonschema:"description=Insights in the rolling log"`
	Decisions   map[string]int64              `json:"decisions" jsonschema:"description=Gate decisions since start"`
	Queued      int                           `json:"queued" jsonschema:"description=Fired interventions waiting for nudge_poll"`
	Policies    map[string]PolicySummary      `json:"policies" jsonschema:"description=Delay and cooldown per severity"`
	Day         string                        `json:"day" jsonschema:"description=Day of the daily totals"`
	DailyTotals map[string]map[string]float64 `json:"daily_totals" jsonschema:"description=Finalized per-domain totals by tracker (time in minutes)"`
}

// PolicySummary is one severity policy in seconds.
type PolicySummary struct {
	DelaySeconds    float64 `json:"delay_seconds"`
	CooldownSeconds float64 `json:"cooldown_seconds"`
}

// NudgeSessionsInput defines the input for nudge_sessions tool.
type NudgeSessionsInput struct {
	Kind string `json:"kind,omitempty" jsonschema:"description=Only sessions of this tracker: time, scroll or visit"`
}

// NudgeSessionsOutput defines the output for nudge_sessions tool.
type NudgeSessionsOutput struct {
	Sessions []SessionSummary `json:"sessions" jsonschema:"description=Live tracker sessions"`
	Count    int              `json:"count" jsonschema:"description=Number of sessions"`
}

// SessionSummary is a live tracker session as exposed to the host.
type SessionSummary struct {
	Kind           string    `json:"kind"`
	Key            string    `json:"key"`
	Domain         string    `json:"domain,omitempty"`
	Accumulator    float64   `json:"accumulator"`
	Classification string    `json:"classification"`
	EventCount     int       `json:"event_count"`
	WindowStart    time.Time `json:"window_start"`
	LastActivity   time.Time `json:"last_activity"`
	Active         bool      `json:"active,omitempty"`
}

// NudgeInsightsInput defines the input for nudge_insights tool.
type NudgeInsightsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum insights to return (default: 10)"`
}

// NudgeInsightsOutput defines the output for nudge_insights tool.
type NudgeInsightsOutput struct {
	Insights []InsightSummary `json:"insights" jsonschema:"description=Latest insights, oldest first"`
	Count    int              `json:"count" jsonschema:"description=Number of insights"`
}

// InsightSummary is a pattern analyzer insight as exposed to the host.
type InsightSummary struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	Confidence  float64   `json:"confidence"`
	RelatedKeys []string  `json:"related_keys,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NudgeGraphInput defines the input for nudge_graph tool.
type NudgeGraphInput struct {
	Format string `json:"format,omitempty" jsonschema:"description=Output format: 'dot' (Graphviz) or 'json' (default: json)"`
}

// NudgeGraphOutput defines the output for nudge_graph tool.
type NudgeGraphOutput struct {
	Format    string      `json:"format" jsonschema:"description=Output format used"`
	Graph     interface{} `json:"graph" jsonschema:"description=Graph in the requested format (DOT string or JSON object)"`
	NodeCount int         `json:"node_count" jsonschema:"description=Number of nodes in the graph"`
	EdgeCount int         `json:"edge_count" jsonschema:"description=Number of edges in the graph"`
}

// NudgeSnapshotInput defines the input for nudge_snapshot tool.
type NudgeSnapshotInput struct {
	Action string `json:"action" jsonschema:"description=export or import,required"`
	Path   string `json:"path,omitempty" jsonschema:"description=Snapshot file name or path inside the snapshot directory (export default: timestamped name; required for import)"`
}

// NudgeSnapshotOutput defines the output for nudge_snapshot tool.
type NudgeSnapshotOutput struct {
	Action    string `json:"action" jsonschema:"description=Action performed"`
	Path      string `json:"path" jsonschema:"description=Snapshot file path"`
	NodeCount int    `json:"node_count" jsonschema:"description=Nodes written or loaded"`
	EdgeCount int    `json:"edge_count" jsonschema:"description=Edges written or loaded"`
	Message   string `json:"message" jsonschema:"description=Human-readable result message"`
}
