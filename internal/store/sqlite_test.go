package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestSnapshotStore(t *testing.T) *SQLiteSnapshotStore {
	t.Helper()
	s, err := NewSQLiteSnapshotStore(filepath.Join(t.TempDir(), "data", DBFileName))
	if err != nil {
		t.Fatalf("NewSQLiteSnapshotStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteSnapshotStore(t *testing.T) {
	s := newTestSnapshotStore(t)
	if _, err := os.Stat(s.Path()); os.IsNotExist(err) {
		t.Errorf("database %s was not created", s.Path())
	}
}

func TestSQLiteSnapshotStore_LoadEmpty(t *testing.T) {
	s := newTestSnapshotStore(t)

	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(snap.Nodes) != 0 || len(snap.Edges) != 0 {
		t.Errorf("Load() on empty db = %+v, want empty snapshot", snap)
	}
}

func TestSQLiteSnapshotStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestSnapshotStore(t)
	ctx := context.Background()

	g := newTestGraph(t)
	g.AddNode(Node{ID: "domain:reddit.com", Type: NodeDomain, Metadata: map[string]interface{}{"domain": "reddit.com"}})
	g.AddNode(Node{ID: "tab:7", Type: NodeTab})
	g.AddNode(Node{
		ID:        "behavior:scroll:7:1",
		Type:      NodeBehavior,
		Metadata:  map[string]interface{}{"kind": "scroll", "severity": "high", "metric": 2400.5},
		CreatedAt: t0.Add(time.Minute),
	})
	g.AddEdge(Edge{Source: "behavior:scroll:7:1", Target: "domain:reddit.com", Type: EdgeObservedOn})
	g.AddEdge(Edge{Source: "tab:7", Target: "domain:reddit.com", Type: EdgeVisited,
		Metadata: map[string]interface{}{"url": "https://reddit.com/"}})
	want := g.Export()

	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteSnapshotStore_SaveReplaces(t *testing.T) {
	s := newTestSnapshotStore(t)
	ctx := context.Background()

	first := Snapshot{Version: SnapshotVersion, ExportedAt: t0, Nodes: []Node{
		{ID: "a", Type: NodeTab, CreatedAt: t0, UpdatedAt: t0},
		{ID: "b", Type: NodeTab, CreatedAt: t0, UpdatedAt: t0},
	}}
	second := Snapshot{Version: SnapshotVersion, ExportedAt: t0.Add(time.Hour), Nodes: []Node{
		{ID: "c", Type: NodeDomain, CreatedAt: t0, UpdatedAt: t0},
	}}

	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("Save(first) error = %v", err)
	}
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("Save(second) error = %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Nodes) != 1 || got.Nodes[0].ID != "c" {
		t.Errorf("nodes = %v, want only c", got.Nodes)
	}
	if !got.ExportedAt.Equal(second.ExportedAt) {
		t.Errorf("ExportedAt = %v, want %v", got.ExportedAt, second.ExportedAt)
	}
}

func TestSQLiteSnapshotStore_SkipsDanglingEdges(t *testing.T) {
	s := newTestSnapshotStore(t)
	ctx := context.Background()

	snap := Snapshot{
		Nodes: []Node{{ID: "a", Type: NodeTab, CreatedAt: t0, UpdatedAt: t0}},
		Edges: []Edge{{Source: "a", Target: "gone", Type: "x", CreatedAt: t0}},
	}
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Edges) != 0 {
		t.Errorf("edges = %v, want none", got.Edges)
	}
}

func TestSQLiteSnapshotStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), DBFileName)
	ctx := context.Background()

	s, err := NewSQLiteSnapshotStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteSnapshotStore() error = %v", err)
	}
	snap := Snapshot{ExportedAt: t0, Nodes: []Node{{ID: "a", Type: NodeTab, CreatedAt: t0, UpdatedAt: t0}}}
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteSnapshotStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Nodes) != 1 {
		t.Errorf("nodes after reopen = %d, want 1", len(got.Nodes))
	}
}
