package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/nudgeloop/internal/backup"
	"github.com/nvandessel/nudgeloop/internal/models"
	"github.com/nvandessel/nudgeloop/internal/orchestrator"
	"github.com/nvandessel/nudgeloop/internal/pathutil"
	"github.com/nvandessel/nudgeloop/internal/ratelimit"
	"github.com/nvandessel/nudgeloop/internal/sanitize"
	"github.com/nvandessel/nudgeloop/internal/scheduler"
	"github.com/nvandessel/nudgeloop/internal/store"
	"github.com/nvandessel/nudgeloop/internal/utils"
	"github.com/nvandessel/nudgeloop/internal/visualization"
)

// ContextResourceURI is the markdown nudge context resource.
const ContextResourceURI = "nudge://context"

const (
	defaultSimilarK      = 5
	defaultInsightsLimit = 10
)

// registerTools registers all nudge_* MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "nudge_event",
		Description: "Report a browser tab event (tab_activated, tab_updated, scroll, tab_removed) or force a tick",
	}, s.handleNudgeEvent)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "nudge_context",
		Description: "Get the recent behaviors and patterns used to phrase a nudge, optionally ranked against a query",
	}, s.handleNudgeContext)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "nudge_poll",
		Description: "Drain interventions that have fired since the last poll",
	}, s.handleNudgePoll)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "nudge_stats",
		Description: "Show graph, session, cooldown and scheduler counts plus daily per-domain totals",
	}, s.handleNudgeStats)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "nudge_sessions",
		Description: "List live tracker sessions",
	}, s.handleNudgeSessions)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "nudge_insights",
		Description: "List the latest composite insights from the pattern analyzer",
	}, s.handleNudgeInsights)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "nudge_graph",
		Description: "Render the knowledge graph in DOT (Graphviz) or JSON format",
	}, s.handleNudgeGraph)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "nudge_snapshot",
		Description: "Export the knowledge graph to a snapshot file or replace it from one",
	}, s.handleNudgeSnapshot)
}

// registerResources registers MCP resources for auto-loading into context.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         ContextResourceURI,
		Name:        "nudge-context",
		Description: "Recent browsing behaviors and patterns to ground the wording of a nudge.",
		MIMEType:    "text/markdown",
	}, s.handleContextResource)
}

// handleContextResource renders the nudge context as markdown.
func (s *Server) handleContextResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	nc := s.mgr.BuildNudgeContext("")

	var sb strings.Builder
	sb.WriteString("# Browsing Context\n\n")

	if len(nc.Behaviors) == 0 && len(nc.Patterns) == 0 {
		sb.WriteString("No behaviors recorded yet.\n")
	} else {
		if len(nc.Behaviors) > 0 {
			sb.WriteString("## Behaviors\n\n")
			for _, n := range nc.Behaviors {
				fmt.Fprintf(&sb, "- %s (%s)\n", sanitize.Text(visualization.Label(n)), n.CreatedAt.Format(time.Kitchen))
			}
			sb.WriteString("\n")
		}
		if len(nc.Patterns) > 0 {
			sb.WriteString("## Patterns\n\n")
			for _, n := range nc.Patterns {
				desc := sanitize.Text(utils.GetString(n.Metadata, "description", ""))
				sev := utils.GetString(n.Metadata, "severity", "")
				conf := utils.GetFloat64(n.Metadata, "confidence", 0)
				fmt.Fprintf(&sb, "- **%s** [%s, %.0f%%] %s", sanitize.Text(visualization.Label(n)), sev, conf*100, desc)
				if related := utils.GetStringSlice(n.Metadata, "related"); len(related) > 0 {
					fmt.Fprintf(&sb, " (%s)", sanitize.Text(strings.Join(related, ", ")))
				}
				sb.WriteString("\n")
			}
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "---\n*%d behaviors, %d patterns as of %s*\n",
		len(nc.Behaviors), len(nc.Patterns), nc.Timestamp.Format(time.RFC3339))

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      ContextResourceURI,
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

// handleNudgeEvent implements the nudge_event tool.
func (s *Server) handleNudgeEvent(ctx context.Context, req *sdk.CallToolRequest, args NudgeEventInput) (_ *sdk.CallToolResult, _ NudgeEventOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("nudge_event", start, retErr, sanitizeToolParams(map[string]interface{}{
			"type":   args.Type,
			"tab_id": args.TabID,
			"url":    args.URL,
			"delta":  args.Delta,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "nudge_event"); err != nil {
		return nil, NudgeEventOutput{}, err
	}

	tabID := sanitize.TabID(args.TabID)
	url := sanitize.URL(args.URL)
	if args.Type != EventTick && tabID == "" {
		return nil, NudgeEventOutput{}, fmt.Errorf("tab_id is required for %s events", args.Type)
	}

	msg := "ok"
	switch args.Type {
	case EventTabActivated:
		s.mgr.OnTabActivated(tabID)
	case EventTabUpdated:
		s.mgr.OnTabUpdated(tabID, url)
	case EventScroll:
		s.mgr.OnScroll(tabID, url, args.Delta)
	case EventTabRemoved:
		s.mgr.OnTabRemoved(tabID)
	case EventTick:
		if !s.mgr.Tick(s.nowFunc()) {
			msg = "tick already running; skipped"
		}
	default:
		return nil, NudgeEventOutput{}, fmt.Errorf("unknown event type %q (want %s, %s, %s, %s or %s)",
			args.Type, EventTabActivated, EventTabUpdated, EventScroll, EventTabRemoved, EventTick)
	}

	return nil, NudgeEventOutput{
		Type:     args.Type,
		Accepted: true,
		Pending:  len(s.mgr.PendingInterventions()),
		Message:  msg,
	}, nil
}

// handleNudgeContext implements the nudge_context tool.
func (s *Server) handleNudgeContext(ctx context.Context, req *sdk.CallToolRequest, args NudgeContextInput) (_ *sdk.CallToolResult, _ NudgeContextOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("nudge_context", start, retErr, sanitizeToolParams(map[string]interface{}{
			"filter": args.Filter,
			"query":  args.Query,
			"k":      args.K,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "nudge_context"); err != nil {
		return nil, NudgeContextOutput{}, err
	}
	if args.K < 0 {
		return nil, NudgeContextOutput{}, fmt.Errorf("k must be non-negative, got %d", args.K)
	}

	nc := s.mgr.BuildNudgeContext(sanitize.Text(args.Filter))
	out := NudgeContextOutput{
		Behaviors: nodeSummaries(nc.Behaviors),
		Patterns:  nodeSummaries(nc.Patterns),
		Timestamp: nc.Timestamp,
	}

	if query := sanitize.Text(args.Query); query != "" {
		k := args.K
		if k == 0 {
			k = defaultSimilarK
		}
		for _, sc := range s.mgr.SimilarContext(ctx, query, k) {
			out.Similar = append(out.Similar, ScoredSummary{Node: nodeSummary(sc.Node), Score: sc.Score})
		}
	}

	return nil, out, nil
}

// handleNudgePoll implements the nudge_poll tool.
func (s *Server) handleNudgePoll(ctx context.Context, req *sdk.CallToolRequest, args NudgePollInput) (_ *sdk.CallToolResult, _ NudgePollOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("nudge_poll", start, retErr, sanitizeToolParams(map[string]interface{}{
			"max": args.Max,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "nudge_poll"); err != nil {
		return nil, NudgePollOutput{}, err
	}

	drained := s.queue.Drain(args.Max)
	items := make([]InterventionSummary, 0, len(drained))
	for _, in := range drained {
		items = append(items, interventionSummary(in))
	}

	return nil, NudgePollOutput{
		Interventions: items,
		Count:         len(items),
		Remaining:     s.queue.Len(),
		Dropped:       s.queue.Dropped(),
	}, nil
}

// handleNudgeStats implements the nudge_stats tool.
func (s *Server) handleNudgeStats(ctx context.Context, req *sdk.CallToolRequest, args NudgeStatsInput) (_ *sdk.CallToolResult, _ NudgeStatsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("nudge_stats", start, retErr, sanitizeToolParams(map[string]interface{}{
			"day": args.Day,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "nudge_stats"); err != nil {
		return nil, NudgeStatsOutput{}, err
	}

	day := args.Day
	if day == "" {
		day = s.mgr.Today()
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		return nil, NudgeStatsOutput{}, fmt.Errorf("invalid day %q: want YYYY-MM-DD", day)
	}

	st := s.mgr.Stats()
	out := NudgeStatsOutput{
		NodeCount: st.Graph.NodeCount,
		EdgeCount: st.Graph.EdgeCount,
		NodeTypes: make(map[string]int, len(st.Graph.NodeTypes)),
		EdgeTypes: st.Graph.EdgeTypes,
		Sessions:  make(map[string]int, len(st.Sessions)),
		Pending:   pendingSummaries(s.mgr.PendingInterventions()),
		Cooldowns: st.Cooldowns,
		Insights:  st.Insights,
		Decisions: map[string]int64{
			orchestrator.ActionScheduled:    st.Counters.Scheduled,
			orchestrator.ActionReplaced:     st.Counters.Replaced,
			orchestrator.ActionSuppressed:   st.Counters.Suppressed,
			orchestrator.ActionFired:        st.Counters.Fired,
			orchestrator.ActionNotifyFailed: st.Counters.NotifyFailed,
		},
		Queued:      s.queue.Len(),
		Policies:    make(map[string]PolicySummary),
		Day:         day,
		DailyTotals: make(map[string]map[string]float64),
	}
	for t, n := range st.Graph.NodeTypes {
		out.NodeTypes[string(t)] = n
	}
	if out.EdgeTypes == nil {
		out.EdgeTypes = map[string]int{}
	}
	for k, n := range st.Sessions {
		out.Sessions[string(k)] = n
	}
	for sev, p := range s.mgr.Policies() {
		out.Policies[sev.String()] = PolicySummary{
			DelaySeconds:    p.Delay.Seconds(),
			CooldownSeconds: p.Cooldown.Seconds(),
		}
	}
	for kind, totals := range s.mgr.DailyTotals(day) {
		if totals == nil {
			totals = map[string]float64{}
		}
		out.DailyTotals[string(kind)] = totals
	}

	return nil, out, nil
}

// handleNudgeSessions implements the nudge_sessions tool.
func (s *Server) handleNudgeSessions(ctx context.Context, req *sdk.CallToolRequest, args NudgeSessionsInput) (_ *sdk.CallToolResult, _ NudgeSessionsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("nudge_sessions", start, retErr, sanitizeToolParams(map[string]interface{}{
			"kind": args.Kind,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "nudge_sessions"); err != nil {
		return nil, NudgeSessionsOutput{}, err
	}

	switch models.SignalKind(args.Kind) {
	case "", models.SignalTime, models.SignalScroll, models.SignalVisit:
	default:
		return nil, NudgeSessionsOutput{}, fmt.Errorf("unknown tracker kind %q (want time, scroll or visit)", args.Kind)
	}

	sessions := make([]SessionSummary, 0)
	for _, as := range s.mgr.ActiveSessions() {
		if args.Kind != "" && string(as.Kind) != args.Kind {
			continue
		}
		sessions = append(sessions, SessionSummary{
			Kind:           string(as.Kind),
			Key:            as.Key,
			Domain:         as.Domain,
			Accumulator:    as.WindowAccumulator,
			Classification: as.Classification.String(),
			EventCount:     as.EventCount,
			WindowStart:    as.WindowStart,
			LastActivity:   as.LastActivity,
			Active:         as.Active,
		})
	}

	return nil, NudgeSessionsOutput{Sessions: sessions, Count: len(sessions)}, nil
}

// handleNudgeInsights implements the nudge_insights tool.
func (s *Server) handleNudgeInsights(ctx context.Context, req *sdk.CallToolRequest, args NudgeInsightsInput) (_ *sdk.CallToolResult, _ NudgeInsightsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("nudge_insights", start, retErr, sanitizeToolParams(map[string]interface{}{
			"limit": args.Limit,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "nudge_insights"); err != nil {
		return nil, NudgeInsightsOutput{}, err
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultInsightsLimit
	}

	insights := make([]InsightSummary, 0, limit)
	for _, in := range s.mgr.RecentInsights(limit) {
		insights = append(insights, InsightSummary{
			Type:        string(in.Type),
			Description: in.Description,
			Severity:    in.Severity.String(),
			Confidence:  in.Confidence,
			RelatedKeys: in.RelatedKeys,
			Timestamp:   in.Timestamp,
		})
	}

	return nil, NudgeInsightsOutput{Insights: insights, Count: len(insights)}, nil
}

// handleNudgeGraph implements the nudge_graph tool.
func (s *Server) handleNudgeGraph(ctx context.Context, req *sdk.CallToolRequest, args NudgeGraphInput) (_ *sdk.CallToolResult, _ NudgeGraphOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("nudge_graph", start, retErr, sanitizeToolParams(map[string]interface{}{
			"format": args.Format,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "nudge_graph"); err != nil {
		return nil, NudgeGraphOutput{}, err
	}

	format := args.Format
	if format == "" {
		format = string(visualization.FormatJSON)
	}
	f, err := visualization.ParseFormat(format)
	if err != nil {
		return nil, NudgeGraphOutput{}, err
	}

	snap := s.mgr.FullGraph()
	out := NudgeGraphOutput{
		Format:    string(f),
		NodeCount: len(snap.Nodes),
		EdgeCount: len(snap.Edges),
	}
	switch f {
	case visualization.FormatDOT:
		out.Graph = visualization.RenderDOT(snap)
	default:
		out.Graph = visualization.RenderJSON(snap)
	}
	return nil, out, nil
}

// handleNudgeSnapshot implements the nudge_snapshot tool.
func (s *Server) handleNudgeSnapshot(ctx context.Context, req *sdk.CallToolRequest, args NudgeSnapshotInput) (_ *sdk.CallToolResult, _ NudgeSnapshotOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("nudge_snapshot", start, retErr, sanitizeToolParams(map[string]interface{}{
			"action": args.Action,
			"path":   args.Path,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "nudge_snapshot"); err != nil {
		return nil, NudgeSnapshotOutput{}, err
	}

	switch args.Action {
	case "export":
		path := args.Path
		if path == "" {
			path = backup.GeneratePath(s.snapshotDirs[0], s.nowFunc())
		}
		resolved, err := pathutil.ResolveSnapshotPath(path, s.snapshotDirs)
		if err != nil {
			return nil, NudgeSnapshotOutput{}, err
		}
		header, err := backup.Write(resolved, s.mgr.ExportSnapshot())
		if err != nil {
			return nil, NudgeSnapshotOutput{}, fmt.Errorf("export snapshot %s: %w", pathutil.RedactPath(resolved), err)
		}
		s.logger.Info("snapshot exported", "path", resolved, "nodes", header.NodeCount, "edges", header.EdgeCount)
		return nil, NudgeSnapshotOutput{
			Action:    "export",
			Path:      resolved,
			NodeCount: header.NodeCount,
			EdgeCount: header.EdgeCount,
			Message:   fmt.Sprintf("Exported %d nodes and %d edges", header.NodeCount, header.EdgeCount),
		}, nil

	case "import":
		if args.Path == "" {
			return nil, NudgeSnapshotOutput{}, fmt.Errorf("path is required for import")
		}
		resolved, err := pathutil.ResolveSnapshotPath(args.Path, s.snapshotDirs)
		if err != nil {
			return nil, NudgeSnapshotOutput{}, err
		}
		snap, err := backup.Read(resolved)
		if err != nil {
			return nil, NudgeSnapshotOutput{}, fmt.Errorf("import snapshot %s: %w", pathutil.RedactPath(resolved), err)
		}
		s.mgr.ImportSnapshot(snap)
		st := s.mgr.Stats().Graph
		s.logger.Info("snapshot imported", "path", resolved, "nodes", st.NodeCount, "edges", st.EdgeCount)
		return nil, NudgeSnapshotOutput{
			Action:    "import",
			Path:      resolved,
			NodeCount: st.NodeCount,
			EdgeCount: st.EdgeCount,
			Message:   fmt.Sprintf("Replaced graph with %d nodes and %d edges", st.NodeCount, st.EdgeCount),
		}, nil

	default:
		return nil, NudgeSnapshotOutput{}, fmt.Errorf("unknown snapshot action %q (want export or import)", args.Action)
	}
}

func nodeSummary(n store.Node) NodeSummary {
	return NodeSummary{
		ID:        n.ID,
		Type:      string(n.Type),
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}
}

func nodeSummaries(nodes []store.Node) []NodeSummary {
	out := make([]NodeSummary, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeSummary(n))
	}
	return out
}

func interventionSummary(in orchestrator.Intervention) InterventionSummary {
	return InterventionSummary{
		ID:          in.ID,
		Name:        in.Name,
		Source:      in.Source,
		Key:         in.Key,
		Domain:      in.Domain,
		Severity:    in.Severity.String(),
		Metric:      in.Metric,
		Description: in.Description,
		RelatedKeys: in.RelatedKeys,
		FireAt:      in.FireAt,
	}
}

func pendingSummaries(pending []scheduler.Intervention) []InterventionSummary {
	out := make([]InterventionSummary, 0, len(pending))
	for _, p := range pending {
		if in, ok := p.Payload.(orchestrator.Intervention); ok {
			out = append(out, interventionSummary(in))
			continue
		}
		out = append(out, InterventionSummary{Name: p.Name, FireAt: p.FireAt})
	}
	return out
}
