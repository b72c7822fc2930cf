package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/nudgeloop/internal/backup"
	"github.com/nvandessel/nudgeloop/internal/models"
	"github.com/nvandessel/nudgeloop/internal/orchestrator"
	"github.com/nvandessel/nudgeloop/internal/store"
)

func sendEvent(t *testing.T, s *Server, in NudgeEventInput) NudgeEventOutput {
	t.Helper()
	result, out, err := s.handleNudgeEvent(context.Background(), &sdk.CallToolRequest{}, in)
	if err != nil {
		t.Fatalf("handleNudgeEvent(%+v) error = %v", in, err)
	}
	if result != nil {
		t.Error("Expected nil result (SDK auto-populates)")
	}
	return out
}

func TestHandleNudgeEvent_ScrollSchedules(t *testing.T) {
	server, _ := setupTestServer(t)
	url := "https://www.reddit.com/r/all"

	sendEvent(t, server, NudgeEventInput{Type: EventTabUpdated, TabID: "7", URL: url})
	out := sendEvent(t, server, NudgeEventInput{Type: EventScroll, TabID: "7", URL: url, Delta: 12000})

	if !out.Accepted {
		t.Error("scroll event not accepted")
	}
	if out.Pending != 1 {
		t.Errorf("Pending = %d, want 1", out.Pending)
	}
}

func TestHandleNudgeEvent_Validation(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		in          NudgeEventInput
		errContains string
	}{
		{"missing tab", NudgeEventInput{Type: EventScroll, URL: "https://x.com"}, "tab_id is required"},
		{"tab sanitized to empty", NudgeEventInput{Type: EventScroll, TabID: "<>!", URL: "https://x.com"}, "tab_id is required"},
		{"unknown type", NudgeEventInput{Type: "focus", TabID: "1"}, "unknown event type"},
		{"empty type", NudgeEventInput{TabID: "1"}, "unknown event type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := server.handleNudgeEvent(ctx, nil, tt.in)
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error = %v, want containing %q", err, tt.errContains)
			}
		})
	}
}

func TestHandleNudgeEvent_MalformedURLIsNoop(t *testing.T) {
	server, _ := setupTestServer(t)

	out := sendEvent(t, server, NudgeEventInput{Type: EventScroll, TabID: "1", URL: "::not a url", Delta: 1e6})
	if !out.Accepted || out.Pending != 0 {
		t.Errorf("out = %+v, want accepted with nothing pending", out)
	}
}

func TestHandleNudgeEvent_TickAndRemove(t *testing.T) {
	server, clock := setupTestServer(t)

	sendEvent(t, server, NudgeEventInput{Type: EventTabUpdated, TabID: "3", URL: "https://example.com"})
	sendEvent(t, server, NudgeEventInput{Type: EventTabActivated, TabID: "3"})
	clock.Advance(time.Minute)

	out := sendEvent(t, server, NudgeEventInput{Type: EventTick})
	if out.Message != "ok" {
		t.Errorf("tick message = %q", out.Message)
	}

	sendEvent(t, server, NudgeEventInput{Type: EventTabRemoved, TabID: "3"})
	_, sessions, err := server.handleNudgeSessions(context.Background(), nil, NudgeSessionsInput{Kind: "time"})
	if err != nil {
		t.Fatal(err)
	}
	if sessions.Count != 0 {
		t.Errorf("time sessions after tab_removed = %d, want 0", sessions.Count)
	}
}

func TestHandleNudgeEvent_SanitizesTabID(t *testing.T) {
	server, _ := setupTestServer(t)
	sendEvent(t, server, NudgeEventInput{Type: EventScroll, TabID: " 7\n", URL: "\x00https://reddit.com ", Delta: 500})

	_, out, err := server.handleNudgeSessions(context.Background(), nil, NudgeSessionsInput{Kind: "scroll"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Count != 1 {
		t.Fatalf("Count = %d, want 1", out.Count)
	}
	if s := out.Sessions[0]; s.Key != "7" {
		t.Errorf("session key = %q, want 7", s.Key)
	}
}

func TestHandleNudgeContext(t *testing.T) {
	server, _ := setupTestServer(t)
	url := "https://reddit.com/r/all"
	sendEvent(t, server, NudgeEventInput{Type: EventScroll, TabID: "7", URL: url, Delta: 12000})

	_, out, err := server.handleNudgeContext(context.Background(), nil, NudgeContextInput{})
	if err != nil {
		t.Fatalf("handleNudgeContext() error = %v", err)
	}
	if len(out.Behaviors) != 1 {
		t.Fatalf("Behaviors = %d, want 1", len(out.Behaviors))
	}
	b := out.Behaviors[0]
	if b.Type != string(store.NodeBehavior) || b.Metadata["kind"] != "scroll" || b.Metadata["domain"] != "reddit.com" {
		t.Errorf("behavior = %+v", b)
	}
	if out.Patterns == nil {
		t.Error("Patterns should be an empty slice, not nil")
	}
	if out.Similar != nil {
		t.Error("Similar should be empty without a query")
	}

	_, filtered, err := server.handleNudgeContext(context.Background(), nil, NudgeContextInput{Filter: "visit"})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered.Behaviors) != 0 {
		t.Errorf("filtered Behaviors = %d, want 0", len(filtered.Behaviors))
	}
}

func TestHandleNudgeContext_Query(t *testing.T) {
	server, _ := setupTestServer(t)
	sendEvent(t, server, NudgeEventInput{Type: EventScroll, TabID: "7", URL: "https://reddit.com", Delta: 12000})

	_, out, err := server.handleNudgeContext(context.Background(), nil, NudgeContextInput{Query: "scrolling reddit", K: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Similar) != 1 {
		t.Errorf("Similar = %d, want 1", len(out.Similar))
	}

	if _, _, err := server.handleNudgeContext(context.Background(), nil, NudgeContextInput{K: -1}); err == nil {
		t.Error("negative k should be rejected")
	}
}

func TestHandleNudgePoll_DeliversFired(t *testing.T) {
	server, _ := setupTestServer(t)
	server.mgr.SetPolicy(models.SeverityLow, orchestrator.Policy{Delay: 10 * time.Millisecond, Cooldown: time.Minute})

	sendEvent(t, server, NudgeEventInput{Type: EventScroll, TabID: "7", URL: "https://reddit.com", Delta: 12000})

	deadline := time.Now().Add(2 * time.Second)
	for server.queue.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	_, out, err := server.handleNudgePoll(context.Background(), nil, NudgePollInput{})
	if err != nil {
		t.Fatalf("handleNudgePoll() error = %v", err)
	}
	if out.Count != 1 {
		t.Fatalf("Count = %d, want 1", out.Count)
	}
	in := out.Interventions[0]
	if in.Source != "scroll" || in.Severity != "low" || in.Domain != "reddit.com" || in.ID == "" {
		t.Errorf("intervention = %+v", in)
	}
	if out.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", out.Remaining)
	}

	_, again, _ := server.handleNudgePoll(context.Background(), nil, NudgePollInput{})
	if again.Count != 0 || again.Interventions == nil {
		t.Errorf("second poll = %+v, want empty non-nil list", again)
	}
}

func TestHandleNudgePoll_Max(t *testing.T) {
	server, _ := setupTestServer(t)
	for i := 0; i < 3; i++ {
		server.queue.Notify(context.Background(), orchestrator.Intervention{Name: "n"})
	}

	_, out, err := server.handleNudgePoll(context.Background(), nil, NudgePollInput{Max: 2})
	if err != nil {
		t.Fatal(err)
	}
	if out.Count != 2 || out.Remaining != 1 {
		t.Errorf("Count = %d, Remaining = %d, want 2 and 1", out.Count, out.Remaining)
	}
}

func TestHandleNudgeStats(t *testing.T) {
	server, _ := setupTestServer(t)
	url := "https://reddit.com/r/all"
	sendEvent(t, server, NudgeEventInput{Type: EventTabUpdated, TabID: "7", URL: url})
	sendEvent(t, server, NudgeEventInput{Type: EventScroll, TabID: "7", URL: url, Delta: 12000})
	sendEvent(t, server, NudgeEventInput{Type: EventScroll, TabID: "7", URL: url, Delta: 100})

	_, out, err := server.handleNudgeStats(context.Background(), nil, NudgeStatsInput{})
	if err != nil {
		t.Fatalf("handleNudgeStats() error = %v", err)
	}

	if out.NodeTypes["behavior"] != 1 || out.NodeTypes["domain"] != 1 || out.NodeTypes["tab"] != 1 {
		t.Errorf("NodeTypes = %v", out.NodeTypes)
	}
	if out.Sessions["scroll"] != 1 || out.Sessions["time"] != 1 {
		t.Errorf("Sessions = %v", out.Sessions)
	}
	if len(out.Pending) != 1 || out.Pending[0].Name != "nudge:scroll:reddit.com" {
		t.Errorf("Pending = %+v", out.Pending)
	}
	if out.Decisions[orchestrator.ActionScheduled] != 1 {
		t.Errorf("Decisions = %v", out.Decisions)
	}
	if out.Policies["high"].CooldownSeconds != 1800 {
		t.Errorf("Policies = %v", out.Policies)
	}
	if out.Day != "2026-03-14" {
		t.Errorf("Day = %q, want 2026-03-14", out.Day)
	}
	for _, kind := range []string{"time", "scroll", "visit"} {
		if out.DailyTotals[kind] == nil {
			t.Errorf("DailyTotals[%s] is nil", kind)
		}
	}

	if _, _, err := server.handleNudgeStats(context.Background(), nil, NudgeStatsInput{Day: "14/03/2026"}); err == nil {
		t.Error("malformed day should be rejected")
	}
}

func TestHandleNudgeSessions(t *testing.T) {
	server, _ := setupTestServer(t)
	sendEvent(t, server, NudgeEventInput{Type: EventTabUpdated, TabID: "1", URL: "https://amazon.com/dp/1"})
	sendEvent(t, server, NudgeEventInput{Type: EventTabUpdated, TabID: "1", URL: "https://amazon.com/dp/2"})

	_, out, err := server.handleNudgeSessions(context.Background(), nil, NudgeSessionsInput{Kind: "visit"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Count != 1 {
		t.Fatalf("Count = %d, want 1", out.Count)
	}
	s := out.Sessions[0]
	if s.Key != "amazon.com" || s.Accumulator != 2 || s.Classification != "none" {
		t.Errorf("session = %+v", s)
	}

	_, all, _ := server.handleNudgeSessions(context.Background(), nil, NudgeSessionsInput{})
	if all.Count != 2 {
		t.Errorf("all sessions = %d, want 2 (time + visit)", all.Count)
	}

	if _, _, err := server.handleNudgeSessions(context.Background(), nil, NudgeSessionsInput{Kind: "mouse"}); err == nil {
		t.Error("unknown kind should be rejected")
	}
}

func TestHandleNudgeInsights(t *testing.T) {
	server, _ := setupTestServer(t)

	_, out, err := server.handleNudgeInsights(context.Background(), nil, NudgeInsightsInput{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Count != 0 || out.Insights == nil {
		t.Errorf("empty insights = %+v", out)
	}

	// Three visits to a shopping domain within the window trip the impulse rule.
	for i := 0; i < 3; i++ {
		sendEvent(t, server, NudgeEventInput{Type: EventTabUpdated, TabID: "9", URL: "https://www.amazon.com/dp/1"})
	}
	sendEvent(t, server, NudgeEventInput{Type: EventTick})

	_, out, err = server.handleNudgeInsights(context.Background(), nil, NudgeInsightsInput{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, in := range out.Insights {
		if in.Type == string(models.InsightShoppingImpulse) && in.RelatedKeys[0] == "amazon.com" {
			found = true
		}
	}
	if !found {
		t.Errorf("insights = %+v, want a shopping impulse insight for amazon.com", out.Insights)
	}
}

func TestHandleNudgeGraph(t *testing.T) {
	server, _ := setupTestServer(t)
	url := "https://reddit.com"
	sendEvent(t, server, NudgeEventInput{Type: EventTabUpdated, TabID: "7", URL: url})
	sendEvent(t, server, NudgeEventInput{Type: EventScroll, TabID: "7", URL: url, Delta: 12000})

	_, out, err := server.handleNudgeGraph(context.Background(), nil, NudgeGraphInput{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Format != "json" {
		t.Errorf("default format = %q, want json", out.Format)
	}
	graph, ok := out.Graph.(map[string]interface{})
	if !ok {
		t.Fatalf("json graph type = %T", out.Graph)
	}
	if graph["node_count"] != out.NodeCount || out.NodeCount != 3 {
		t.Errorf("node_count = %v, NodeCount = %d, want 3", graph["node_count"], out.NodeCount)
	}

	_, dot, err := server.handleNudgeGraph(context.Background(), nil, NudgeGraphInput{Format: "dot"})
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := dot.Graph.(string); !strings.Contains(s, "digraph nudgeloop") {
		t.Errorf("dot graph = %v", dot.Graph)
	}

	if _, _, err := server.handleNudgeGraph(context.Background(), nil, NudgeGraphInput{Format: "html"}); err == nil {
		t.Error("unsupported format should be rejected")
	}
}

func TestHandleNudgeSnapshot_RoundTrip(t *testing.T) {
	server, _ := setupTestServer(t)
	url := "https://reddit.com"
	sendEvent(t, server, NudgeEventInput{Type: EventTabUpdated, TabID: "7", URL: url})
	sendEvent(t, server, NudgeEventInput{Type: EventScroll, TabID: "7", URL: url, Delta: 12000})
	ctx := context.Background()

	_, exp, err := server.handleNudgeSnapshot(ctx, nil, NudgeSnapshotInput{Action: "export"})
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	if exp.NodeCount != 3 || !strings.HasPrefix(exp.Path, server.snapshotDirs[0]) {
		t.Errorf("export = %+v", exp)
	}
	if err := backup.VerifyChecksum(exp.Path); err != nil {
		t.Errorf("exported file checksum: %v", err)
	}

	server.mgr.ImportSnapshot(store.Snapshot{Version: store.SnapshotVersion})
	if n := server.mgr.Stats().Graph.NodeCount; n != 0 {
		t.Fatalf("graph not cleared: %d nodes", n)
	}

	_, imp, err := server.handleNudgeSnapshot(ctx, nil, NudgeSnapshotInput{Action: "import", Path: filepath.Base(exp.Path)})
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	if imp.NodeCount != 3 || imp.EdgeCount != exp.EdgeCount {
		t.Errorf("import = %+v, export = %+v", imp, exp)
	}
}

func TestHandleNudgeSnapshot_RejectsOutsidePaths(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()
	outside := filepath.Join(t.TempDir(), "evil.json.gz")

	tests := []struct {
		name string
		in   NudgeSnapshotInput
	}{
		{"export outside", NudgeSnapshotInput{Action: "export", Path: outside}},
		{"import outside", NudgeSnapshotInput{Action: "import", Path: outside}},
		{"traversal", NudgeSnapshotInput{Action: "export", Path: "../../evil.json.gz"}},
		{"import without path", NudgeSnapshotInput{Action: "import"}},
		{"unknown action", NudgeSnapshotInput{Action: "delete"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := server.handleNudgeSnapshot(ctx, nil, tt.in); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Errorf("file written outside snapshot dir: %v", err)
	}
}

func TestHandleNudgeSnapshot_RateLimited(t *testing.T) {
	server, _ := setupTestServer(t)
	server.toolLimiters.SetClock(func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })
	ctx := context.Background()

	var lastErr error
	for i := 0; i < 5; i++ {
		_, _, lastErr = server.handleNudgeSnapshot(ctx, nil, NudgeSnapshotInput{Action: "export"})
	}
	if lastErr == nil || !strings.Contains(lastErr.Error(), "rate limit exceeded") {
		t.Errorf("error = %v, want rate limit", lastErr)
	}
}

func TestContextResource(t *testing.T) {
	server, _ := setupTestServer(t)
	ctx := context.Background()

	res, err := server.handleContextResource(ctx, &sdk.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if text := res.Contents[0].Text; !strings.Contains(text, "No behaviors recorded yet") {
		t.Errorf("empty resource = %q", text)
	}

	sendEvent(t, server, NudgeEventInput{Type: EventScroll, TabID: "7", URL: "https://reddit.com", Delta: 12000})
	res, err = server.handleContextResource(ctx, &sdk.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	c := res.Contents[0]
	if c.URI != ContextResourceURI || c.MIMEType != "text/markdown" {
		t.Errorf("contents = %+v", c)
	}
	if !strings.Contains(c.Text, "## Behaviors") || !strings.Contains(c.Text, "scroll reddit.com (low)") {
		t.Errorf("resource text = %q", c.Text)
	}
}

func TestContextResource_PatternsSanitized(t *testing.T) {
	server, clock := setupTestServer(t)

	server.mgr.OnInsight(models.Insight{
		Type:        models.InsightDoomscrollingHabit,
		Description: "<b>Long</b> scrolling\n# Override",
		Severity:    models.SeverityHigh,
		Confidence:  0.8,
		RelatedKeys: []string{"7", "reddit.com"},
		Timestamp:   clock.Now(),
	})

	res, err := server.handleContextResource(context.Background(), &sdk.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	text := res.Contents[0].Text
	want := "- **doomscrollingHabit** [high, 80%] Long scrolling - Override (7, reddit.com)\n"
	if !strings.Contains(text, want) {
		t.Errorf("resource text = %q, want line %q", text, want)
	}
	if strings.Contains(text, "<b>") {
		t.Errorf("markup leaked into resource: %q", text)
	}
}
