package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	g.SetClock(func() time.Time { return t0 })
	return g
}

func TestGraph_AddNode(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want bool
	}{
		{"valid node", Node{ID: "domain:reddit.com", Type: NodeDomain}, true},
		{"empty ID", Node{Type: NodeDomain}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGraph(t)
			if got := g.AddNode(tt.node); got != tt.want {
				t.Errorf("AddNode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGraph_AddNodeFirstWriteWins(t *testing.T) {
	g := newTestGraph(t)

	g.AddNode(Node{ID: "tab:1", Type: NodeTab, Metadata: map[string]interface{}{"url": "first"}})
	if g.AddNode(Node{ID: "tab:1", Type: NodeTab, Metadata: map[string]interface{}{"url": "second"}}) {
		t.Error("second AddNode with same id reported insert")
	}

	if got := g.Stats().NodeCount; got != 1 {
		t.Errorf("NodeCount = %d, want 1", got)
	}
	n, _ := g.GetNode("tab:1")
	if n.Metadata["url"] != "first" {
		t.Errorf("metadata url = %v, want first", n.Metadata["url"])
	}
	if !n.CreatedAt.Equal(t0) || !n.UpdatedAt.Equal(t0) {
		t.Errorf("timestamps = %v/%v, want %v", n.CreatedAt, n.UpdatedAt, t0)
	}
}

func TestGraph_GetNodeReturnsCopy(t *testing.T) {
	g := newTestGraph(t)
	g.AddNode(Node{ID: "a", Type: NodeTab, Metadata: map[string]interface{}{"k": "v"}})

	n, ok := g.GetNode("a")
	if !ok {
		t.Fatal("GetNode() not found")
	}
	n.Metadata["k"] = "mutated"

	again, _ := g.GetNode("a")
	if again.Metadata["k"] != "v" {
		t.Error("mutating a returned node changed the stored node")
	}

	if _, ok := g.GetNode("missing"); ok {
		t.Error("GetNode(missing) reported found")
	}
}

func TestGraph_AddEdgeRequiresEndpoints(t *testing.T) {
	g := newTestGraph(t)
	g.AddNode(Node{ID: "A", Type: NodeBehavior})

	if g.AddEdge(Edge{Source: "A", Target: "B", Type: EdgeObservedOn}) {
		t.Error("edge to missing target was inserted")
	}
	if got := g.Stats().EdgeCount; got != 0 {
		t.Fatalf("EdgeCount = %d, want 0", got)
	}

	g.AddNode(Node{ID: "B", Type: NodeDomain})
	if !g.AddEdge(Edge{Source: "A", Target: "B", Type: EdgeObservedOn}) {
		t.Error("edge between existing nodes was dropped")
	}
	if got := g.Stats().EdgeCount; got != 1 {
		t.Errorf("EdgeCount = %d, want 1", got)
	}
}

func TestGraph_AddEdgeDedup(t *testing.T) {
	g := newTestGraph(t)
	g.AddNode(Node{ID: "A", Type: NodeTab})
	g.AddNode(Node{ID: "B", Type: NodeDomain})

	g.AddEdge(Edge{Source: "A", Target: "B", Type: EdgeVisited})
	if g.AddEdge(Edge{Source: "A", Target: "B", Type: EdgeVisited}) {
		t.Error("duplicate edge inserted")
	}
	// Same endpoints with another type is a distinct edge.
	if !g.AddEdge(Edge{Source: "A", Target: "B", Type: "other"}) {
		t.Error("edge with different type dropped")
	}
	if got := g.Stats().EdgeCount; got != 2 {
		t.Errorf("EdgeCount = %d, want 2", got)
	}
}

func TestGraph_QueryNodes(t *testing.T) {
	g := newTestGraph(t)
	g.AddNode(Node{ID: "b1", Type: NodeBehavior, Metadata: map[string]interface{}{"kind": "scroll", "domain": "reddit.com"}})
	g.AddNode(Node{ID: "b2", Type: NodeBehavior, Metadata: map[string]interface{}{"kind": "time", "domain": "reddit.com"}})
	g.AddNode(Node{ID: "d1", Type: NodeDomain, Metadata: map[string]interface{}{"domain": "reddit.com"}})

	if got := g.GetNodesByType(NodeBehavior); len(got) != 2 || got[0].ID != "b1" || got[1].ID != "b2" {
		t.Errorf("GetNodesByType(behavior) = %v, want [b1 b2]", got)
	}

	got := g.QueryNodes(MatchMetadata(map[string]interface{}{"domain": "reddit.com", "kind": "scroll"}))
	if len(got) != 1 || got[0].ID != "b1" {
		t.Errorf("QueryNodes(domain+kind) = %v, want [b1]", got)
	}

	if got := g.QueryNodes(nil); len(got) != 3 {
		t.Errorf("QueryNodes(nil) returned %d nodes, want 3", len(got))
	}
}

func TestGraph_GetConnectedNodes(t *testing.T) {
	g := newTestGraph(t)
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		g.AddNode(Node{ID: id, Type: NodeTab})
	}
	// A -> B -> C -> D, plus E -> A (reached via inbound edge)
	g.AddEdge(Edge{Source: "A", Target: "B", Type: "x"})
	g.AddEdge(Edge{Source: "B", Target: "C", Type: "x"})
	g.AddEdge(Edge{Source: "C", Target: "D", Type: "x"})
	g.AddEdge(Edge{Source: "E", Target: "A", Type: "x"})
	// Cycle back to origin must not include it.
	g.AddEdge(Edge{Source: "C", Target: "A", Type: "y"})

	ids := func(nodes []Node) []string {
		out := make([]string, len(nodes))
		for i, n := range nodes {
			out[i] = n.ID
		}
		return out
	}

	tests := []struct {
		depth int
		want  []string
	}{
		{0, []string{}},
		{1, []string{"B", "E", "C"}},
		{2, []string{"B", "E", "C", "D"}},
		{5, []string{"B", "E", "C", "D"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("depth %d", tt.depth), func(t *testing.T) {
			got := ids(g.GetConnectedNodes("A", tt.depth))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("GetConnectedNodes(A, %d) mismatch (-want +got):\n%s", tt.depth, diff)
			}
		})
	}

	if got := g.GetConnectedNodes("missing", 3); len(got) != 0 {
		t.Errorf("GetConnectedNodes(missing) = %v, want empty", got)
	}
}

func TestGraph_RemoveNodeCascades(t *testing.T) {
	g := newTestGraph(t)
	g.AddNode(Node{ID: "A", Type: NodeBehavior})
	g.AddNode(Node{ID: "B", Type: NodeDomain})
	g.AddNode(Node{ID: "C", Type: NodeTab})
	g.AddEdge(Edge{Source: "A", Target: "B", Type: EdgeObservedOn})
	g.AddEdge(Edge{Source: "C", Target: "B", Type: EdgeVisited})
	g.AddEdge(Edge{Source: "A", Target: "C", Type: EdgeOccurredIn})

	if !g.RemoveNode("B") {
		t.Fatal("RemoveNode(B) = false")
	}
	st := g.Stats()
	if st.NodeCount != 2 || st.EdgeCount != 1 {
		t.Errorf("stats after remove = %+v, want 2 nodes, 1 edge", st)
	}
	if g.RemoveNode("B") {
		t.Error("second RemoveNode(B) = true")
	}

	// Re-adding B must allow the edge again: the dedup key was cleared.
	g.AddNode(Node{ID: "B", Type: NodeDomain})
	if !g.AddEdge(Edge{Source: "A", Target: "B", Type: EdgeObservedOn}) {
		t.Error("edge to re-added node was dropped")
	}
}

func TestGraph_Stats(t *testing.T) {
	g := newTestGraph(t)
	g.AddNode(Node{ID: "b1", Type: NodeBehavior})
	g.AddNode(Node{ID: "b2", Type: NodeBehavior})
	g.AddNode(Node{ID: "d1", Type: NodeDomain})
	g.AddEdge(Edge{Source: "b1", Target: "d1", Type: EdgeObservedOn})
	g.AddEdge(Edge{Source: "b2", Target: "d1", Type: EdgeObservedOn})

	want := Stats{
		NodeCount: 3,
		EdgeCount: 2,
		NodeTypes: map[NodeType]int{NodeBehavior: 2, NodeDomain: 1},
		EdgeTypes: map[string]int{EdgeObservedOn: 2},
	}
	if diff := cmp.Diff(want, g.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestGraph_Touch(t *testing.T) {
	g := newTestGraph(t)
	g.AddNode(Node{ID: "d", Type: NodeDomain, Metadata: map[string]interface{}{"domain": "x.com"}})

	later := t0.Add(time.Hour)
	if !g.Touch("d", later, map[string]interface{}{"last_kind": "scroll"}) {
		t.Fatal("Touch() = false")
	}
	n, _ := g.GetNode("d")
	if !n.UpdatedAt.Equal(later) || !n.CreatedAt.Equal(t0) {
		t.Errorf("timestamps = %v/%v", n.CreatedAt, n.UpdatedAt)
	}
	if n.Metadata["domain"] != "x.com" || n.Metadata["last_kind"] != "scroll" {
		t.Errorf("metadata = %v", n.Metadata)
	}

	// UpdatedAt never moves backwards.
	g.Touch("d", t0, nil)
	n, _ = g.GetNode("d")
	if !n.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt moved backwards to %v", n.UpdatedAt)
	}

	if g.Touch("missing", later, nil) {
		t.Error("Touch(missing) = true")
	}
}

func TestGraph_PruneType(t *testing.T) {
	g := newTestGraph(t)
	g.AddNode(Node{ID: "d", Type: NodeDomain})
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("b%d", i)
		g.AddNode(Node{ID: id, Type: NodeBehavior})
		g.AddEdge(Edge{Source: id, Target: "d", Type: EdgeObservedOn})
	}

	if removed := g.PruneType(NodeBehavior, 2); removed != 3 {
		t.Errorf("PruneType() = %d, want 3", removed)
	}
	left := g.GetNodesByType(NodeBehavior)
	if len(left) != 2 || left[0].ID != "b3" || left[1].ID != "b4" {
		t.Errorf("remaining = %v, want [b3 b4]", left)
	}
	if got := g.Stats().EdgeCount; got != 2 {
		t.Errorf("EdgeCount = %d, want 2", got)
	}
	if removed := g.PruneType(NodeBehavior, 10); removed != 0 {
		t.Errorf("PruneType() under limit = %d, want 0", removed)
	}
}

func TestGraph_ExportImportRoundTrip(t *testing.T) {
	g := newTestGraph(t)
	g.AddNode(Node{ID: "tab:1", Type: NodeTab})
	g.AddNode(Node{ID: "domain:x.com", Type: NodeDomain, Metadata: map[string]interface{}{"domain": "x.com"}})
	g.AddEdge(Edge{Source: "tab:1", Target: "domain:x.com", Type: EdgeVisited})

	snap := g.Export()
	if snap.Version != SnapshotVersion {
		t.Errorf("Version = %d, want %d", snap.Version, SnapshotVersion)
	}

	restored := newTestGraph(t)
	restored.AddNode(Node{ID: "stale", Type: NodeTab})
	restored.Import(snap)

	if diff := cmp.Diff(snap, restored.Export()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if _, ok := restored.GetNode("stale"); ok {
		t.Error("Import did not replace existing contents")
	}
}

func TestGraph_ImportAppliesInsertRules(t *testing.T) {
	g := newTestGraph(t)
	g.Import(Snapshot{
		Nodes: []Node{
			{ID: "a", Type: NodeTab, Metadata: map[string]interface{}{"n": "first"}},
			{ID: "a", Type: NodeTab, Metadata: map[string]interface{}{"n": "second"}},
			{ID: "", Type: NodeTab},
		},
		Edges: []Edge{
			{Source: "a", Target: "missing", Type: "x"},
		},
	})

	st := g.Stats()
	if st.NodeCount != 1 || st.EdgeCount != 0 {
		t.Errorf("stats = %+v, want 1 node, 0 edges", st)
	}
	n, _ := g.GetNode("a")
	if n.Metadata["n"] != "first" {
		t.Errorf("duplicate import overwrote node: %v", n.Metadata)
	}
}
