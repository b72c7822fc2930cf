package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nvandessel/nudgeloop/internal/embedding"
	"github.com/nvandessel/nudgeloop/internal/store"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestGraph(t *testing.T) *store.Graph {
	t.Helper()
	g := store.NewGraph()
	g.SetClock(func() time.Time { return t0 })

	add := func(id string, typ store.NodeType, meta map[string]interface{}, offset time.Duration) {
		if !g.AddNode(store.Node{ID: id, Type: typ, Metadata: meta, CreatedAt: t0.Add(offset), UpdatedAt: t0.Add(offset)}) {
			t.Fatalf("AddNode(%s) refused", id)
		}
	}
	add("domain:reddit.com", store.NodeDomain, map[string]interface{}{"domain": "reddit.com"}, 0)
	add("behavior:scroll:tab-1:1", store.NodeBehavior, map[string]interface{}{"kind": "scroll", "domain": "reddit.com", "severity": "high"}, time.Minute)
	add("behavior:time:tab-2:2", store.NodeBehavior, map[string]interface{}{"kind": "time", "domain": "news.ycombinator.com", "severity": "medium"}, 2*time.Minute)
	add("behavior:visit:amazon.com:3", store.NodeBehavior, map[string]interface{}{"kind": "visit", "domain": "amazon.com", "severity": "low"}, 3*time.Minute)
	add("pattern:doomscrollingHabit:4", store.NodePattern, map[string]interface{}{"type": "doomscrollingHabit"}, 4*time.Minute)
	add("pattern:shoppingImpulse:5", store.NodePattern, map[string]interface{}{"type": "shoppingImpulse"}, 5*time.Minute)
	return g
}

func newTestBuilder(t *testing.T, g *store.Graph, cfg Config, e embedding.Embedder) *Builder {
	t.Helper()
	b, err := NewBuilder(g, cfg, e, nil)
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	b.SetClock(func() time.Time { return t0.Add(time.Hour) })
	return b
}

func ids(nodes []store.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRetrieveBehaviorContext(t *testing.T) {
	b := newTestBuilder(t, newTestGraph(t), DefaultConfig(), nil)

	tests := []struct {
		name   string
		filter string
		want   []string
	}{
		{"empty filter matches all", "", []string{"behavior:scroll:tab-1:1", "behavior:time:tab-2:2", "behavior:visit:amazon.com:3"}},
		{"metadata value", "REDDIT", []string{"behavior:scroll:tab-1:1"}},
		{"id substring", "visit:", []string{"behavior:visit:amazon.com:3"}},
		{"severity value", "medium", []string{"behavior:time:tab-2:2"}},
		{"no match", "youtube", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(b.RetrieveBehaviorContext(tt.filter))
			if !equalStrings(got, tt.want) {
				t.Errorf("RetrieveBehaviorContext(%q) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestRetrieveRecentPatterns(t *testing.T) {
	b := newTestBuilder(t, newTestGraph(t), DefaultConfig(), nil)

	if got := ids(b.RetrieveRecentPatterns(1)); !equalStrings(got, []string{"pattern:shoppingImpulse:5"}) {
		t.Errorf("RetrieveRecentPatterns(1) = %v", got)
	}
	if got := b.RetrieveRecentPatterns(10); len(got) != 2 {
		t.Errorf("RetrieveRecentPatterns(10) returned %d, want 2", len(got))
	}
	if got := b.RetrieveRecentPatterns(0); len(got) != 0 {
		t.Errorf("RetrieveRecentPatterns(0) returned %d, want 0", len(got))
	}
}

func TestGenerateContextForNudge_Caps(t *testing.T) {
	g := newTestGraph(t)
	b := newTestBuilder(t, g, Config{MaxBehaviors: 2, MaxPatterns: 1}, nil)

	nc := b.GenerateContextForNudge("")
	if got := ids(nc.Behaviors); !equalStrings(got, []string{"behavior:time:tab-2:2", "behavior:visit:amazon.com:3"}) {
		t.Errorf("Behaviors = %v, want the two newest", got)
	}
	if got := ids(nc.Patterns); !equalStrings(got, []string{"pattern:shoppingImpulse:5"}) {
		t.Errorf("Patterns = %v", got)
	}
	if !nc.Timestamp.Equal(t0.Add(time.Hour)) {
		t.Errorf("Timestamp = %v", nc.Timestamp)
	}

	filtered := b.GenerateContextForNudge("amazon")
	if got := ids(filtered.Behaviors); !equalStrings(got, []string{"behavior:visit:amazon.com:3"}) {
		t.Errorf("filtered Behaviors = %v", got)
	}
	if len(filtered.Patterns) != 1 {
		t.Errorf("filter should not apply to patterns, got %d", len(filtered.Patterns))
	}
}

func TestGenerateContextForNudge_EmptyGraph(t *testing.T) {
	b := newTestBuilder(t, store.NewGraph(), DefaultConfig(), nil)
	nc := b.GenerateContextForNudge("")
	if len(nc.Behaviors) != 0 || len(nc.Patterns) != 0 {
		t.Errorf("expected empty context, got %+v", nc)
	}
}

func TestFullGraph(t *testing.T) {
	g := newTestGraph(t)
	g.AddEdge(store.Edge{Source: "behavior:scroll:tab-1:1", Target: "domain:reddit.com", Type: store.EdgeObservedOn})
	b := newTestBuilder(t, g, DefaultConfig(), nil)

	snap := b.FullGraph()
	if len(snap.Nodes) != 6 || len(snap.Edges) != 1 {
		t.Errorf("FullGraph() = %d nodes, %d edges; want 6, 1", len(snap.Nodes), len(snap.Edges))
	}
}

func TestRetrieveSimilar_RanksRelatedFirst(t *testing.T) {
	b := newTestBuilder(t, newTestGraph(t), DefaultConfig(), embedding.NewHashEmbedder(0))

	got := b.RetrieveSimilar(context.Background(), "doomscrollingHabit", 2)
	if len(got) != 2 {
		t.Fatalf("RetrieveSimilar() returned %d, want 2", len(got))
	}
	if got[0].Node.ID != "pattern:doomscrollingHabit:4" {
		t.Errorf("top result = %s, want pattern:doomscrollingHabit:4", got[0].Node.ID)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("results not sorted by score: %v, %v", got[0].Score, got[1].Score)
	}
	for _, s := range got {
		if s.Node.Type == store.NodeDomain {
			t.Errorf("domain node %s returned", s.Node.ID)
		}
	}
}

func TestRetrieveSimilar_CachesNodeVectors(t *testing.T) {
	b := newTestBuilder(t, newTestGraph(t), DefaultConfig(), embedding.NewHashEmbedder(0))
	ctx := context.Background()

	b.RetrieveSimilar(ctx, "scroll", 3)
	if b.CacheLen() != 5 {
		t.Errorf("CacheLen() = %d, want 5 (behaviors + patterns)", b.CacheLen())
	}
	b.RetrieveSimilar(ctx, "shopping", 3)
	if b.CacheLen() != 5 {
		t.Errorf("CacheLen() after second query = %d, want 5", b.CacheLen())
	}
}

func TestRetrieveSimilar_FallbackWithoutEmbedder(t *testing.T) {
	b := newTestBuilder(t, newTestGraph(t), DefaultConfig(), nil)

	got := b.RetrieveSimilar(context.Background(), "anything", 2)
	want := []string{"pattern:shoppingImpulse:5", "pattern:doomscrollingHabit:4"}
	var gotIDs []string
	for _, s := range got {
		gotIDs = append(gotIDs, s.Node.ID)
		if s.Score != 0 {
			t.Errorf("fallback score = %v, want 0", s.Score)
		}
	}
	if !equalStrings(gotIDs, want) {
		t.Errorf("fallback = %v, want %v", gotIDs, want)
	}
}

type fakeEmbedder struct {
	delay time.Duration
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) Available() bool { return true }
func (f *fakeEmbedder) Name() string    { return "fake" }
func (f *fakeEmbedder) Close() error    { return nil }

func TestRetrieveSimilar_FallbackOnError(t *testing.T) {
	b := newTestBuilder(t, newTestGraph(t), DefaultConfig(), &fakeEmbedder{err: errors.New("model crashed")})

	got := b.RetrieveSimilar(context.Background(), "q", 1)
	if len(got) != 1 || got[0].Node.ID != "pattern:shoppingImpulse:5" {
		t.Errorf("RetrieveSimilar() = %+v, want newest node", got)
	}
}

func TestRetrieveSimilar_FallbackOnTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmbedTimeout = 20 * time.Millisecond
	b := newTestBuilder(t, newTestGraph(t), cfg, &fakeEmbedder{delay: time.Second})

	start := time.Now()
	got := b.RetrieveSimilar(context.Background(), "q", 3)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("RetrieveSimilar() blocked for %v", elapsed)
	}
	if len(got) != 3 {
		t.Errorf("RetrieveSimilar() returned %d, want 3", len(got))
	}
}

func TestRetrieveSimilar_Bounds(t *testing.T) {
	b := newTestBuilder(t, newTestGraph(t), DefaultConfig(), embedding.NewHashEmbedder(0))

	if got := b.RetrieveSimilar(context.Background(), "q", 0); got != nil {
		t.Errorf("k=0 returned %v", got)
	}
	if got := b.RetrieveSimilar(context.Background(), "q", 100); len(got) != 5 {
		t.Errorf("k=100 returned %d, want 5", len(got))
	}

	empty := newTestBuilder(t, store.NewGraph(), DefaultConfig(), embedding.NewHashEmbedder(0))
	if got := empty.RetrieveSimilar(context.Background(), "q", 3); len(got) != 0 {
		t.Errorf("empty graph returned %d", len(got))
	}
}

func TestRetrieveSimilar_TouchedNodeReembedded(t *testing.T) {
	g := newTestGraph(t)
	b := newTestBuilder(t, g, DefaultConfig(), embedding.NewHashEmbedder(0))
	ctx := context.Background()

	b.RetrieveSimilar(ctx, "q", 1)
	before := b.CacheLen()
	g.Touch("behavior:scroll:tab-1:1", t0.Add(time.Hour), map[string]interface{}{"note": "again"})
	b.RetrieveSimilar(ctx, "q", 1)
	if b.CacheLen() != before+1 {
		t.Errorf("CacheLen() = %d, want %d", b.CacheLen(), before+1)
	}
}
