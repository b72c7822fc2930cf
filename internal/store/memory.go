package store

import (
	"reflect"
	"sync"
	"time"
)

type edgeKey struct {
	source, target, typ string
}

// Graph is the in-memory knowledge graph. Nodes are first-write-wins and
// edges are only inserted when both endpoints exist; every other insert is
// silently dropped.
type Graph struct {
	mu       sync.RWMutex
	nodes    map[string]Node
	order    []string // node ids in insertion order
	edges    []Edge
	edgeKeys map[edgeKey]struct{}

	nowFunc func() time.Time
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]Node),
		edgeKeys: make(map[edgeKey]struct{}),
		nowFunc:  time.Now,
	}
}

// SetClock replaces the clock used to stamp nodes and edges without timestamps.
func (g *Graph) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nowFunc = now
}

// AddNode inserts node unless its id is empty or already present.
// Reports whether the node was inserted.
func (g *Graph) AddNode(node Node) bool {
	if node.ID == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[node.ID]; exists {
		return false
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = g.nowFunc()
	}
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = node.CreatedAt
	}
	g.nodes[node.ID] = node.clone()
	g.order = append(g.order, node.ID)
	return true
}

// AddEdge inserts edge if both endpoints exist and no edge with the same
// source, target and type is present. Reports whether it was inserted.
func (g *Graph) AddEdge(edge Edge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(edge)
}

func (g *Graph) addEdgeLocked(edge Edge) bool {
	if _, ok := g.nodes[edge.Source]; !ok {
		return false
	}
	if _, ok := g.nodes[edge.Target]; !ok {
		return false
	}
	k := edgeKey{edge.Source, edge.Target, edge.Type}
	if _, dup := g.edgeKeys[k]; dup {
		return false
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = g.nowFunc()
	}
	g.edges = append(g.edges, edge.clone())
	g.edgeKeys[k] = struct{}{}
	return true
}

// GetNode returns a copy of the node with id.
func (g *Graph) GetNode(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Touch stamps the node's UpdatedAt and merges metadata into it. Existing
// keys are overwritten. Reports whether the node exists.
func (g *Graph) Touch(id string, at time.Time, metadata map[string]interface{}) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	if len(metadata) > 0 {
		merged := cloneMetadata(n.Metadata)
		if merged == nil {
			merged = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			merged[k] = v
		}
		n.Metadata = merged
	}
	if at.After(n.UpdatedAt) {
		n.UpdatedAt = at
	}
	g.nodes[id] = n
	return true
}

// GetNodesByType returns all nodes of type t in insertion order.
func (g *Graph) GetNodesByType(t NodeType) []Node {
	return g.QueryNodes(func(n Node) bool { return n.Type == t })
}

// QueryNodes returns the nodes matching pred in insertion order.
func (g *Graph) QueryNodes(pred func(Node) bool) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	results := make([]Node, 0)
	for _, id := range g.order {
		n := g.nodes[id]
		if pred == nil || pred(n) {
			results = append(results, n.clone())
		}
	}
	return results
}

// MatchMetadata returns a predicate matching nodes whose metadata holds
// every key of want with an equal value.
func MatchMetadata(want map[string]interface{}) func(Node) bool {
	return func(n Node) bool {
		for k, v := range want {
			got, ok := n.Metadata[k]
			if !ok || !reflect.DeepEqual(got, v) {
				return false
			}
		}
		return true
	}
}

// GetConnectedNodes returns the distinct nodes reachable from id within
// depth hops, following edges in both directions. The origin is excluded.
// Results are in breadth-first order.
func (g *Graph) GetConnectedNodes(id string, depth int) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	results := make([]Node, 0)
	if _, ok := g.nodes[id]; !ok || depth <= 0 {
		return results
	}

	adj := make(map[string][]string)
	for _, e := range g.edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
		adj[e.Target] = append(adj[e.Target], e.Source)
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, nb := range adj[cur] {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				next = append(next, nb)
				results = append(results, g.nodes[nb].clone())
			}
		}
		frontier = next
	}
	return results
}

// RemoveNode deletes the node and every edge referencing it.
// Reports whether the node existed.
func (g *Graph) RemoveNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return false
	}
	g.removeLocked(map[string]bool{id: true})
	return true
}

// PruneType removes the oldest nodes of type t (by insertion order) so
// that at most keep remain. Returns the number removed.
func (g *Graph) PruneType(t NodeType, keep int) int {
	if keep < 0 {
		keep = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var ofType []string
	for _, id := range g.order {
		if g.nodes[id].Type == t {
			ofType = append(ofType, id)
		}
	}
	excess := len(ofType) - keep
	if excess <= 0 {
		return 0
	}

	drop := make(map[string]bool, excess)
	for _, id := range ofType[:excess] {
		drop[id] = true
	}
	g.removeLocked(drop)
	return excess
}

// removeLocked deletes the given nodes and their incident edges.
func (g *Graph) removeLocked(ids map[string]bool) {
	for id := range ids {
		delete(g.nodes, id)
	}

	order := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if !ids[id] {
			order = append(order, id)
		}
	}
	g.order = order

	filtered := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		if ids[e.Source] || ids[e.Target] {
			delete(g.edgeKeys, edgeKey{e.Source, e.Target, e.Type})
			continue
		}
		filtered = append(filtered, e)
	}
	g.edges = filtered
}

// Edges returns a copy of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		out[i] = e.clone()
	}
	return out
}

// Stats returns node and edge counts with per-type histograms.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	st := Stats{
		NodeCount: len(g.nodes),
		EdgeCount: len(g.edges),
		NodeTypes: make(map[NodeType]int),
		EdgeTypes: make(map[string]int),
	}
	for _, n := range g.nodes {
		st.NodeTypes[n.Type]++
	}
	for _, e := range g.edges {
		st.EdgeTypes[e.Type]++
	}
	return st
}

// Export returns a snapshot of the whole graph. Nodes and edges are read
// under one lock, so the snapshot never reflects a half-applied mutation.
func (g *Graph) Export() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: g.nowFunc(),
		Nodes:      make([]Node, 0, len(g.order)),
		Edges:      make([]Edge, 0, len(g.edges)),
	}
	for _, id := range g.order {
		snap.Nodes = append(snap.Nodes, g.nodes[id].clone())
	}
	for _, e := range g.edges {
		snap.Edges = append(snap.Edges, e.clone())
	}
	return snap
}

// Import replaces the graph's contents with snap. Snapshot entries go
// through the same rules as live inserts: duplicate node ids keep the first
// entry and edges with missing endpoints are dropped.
func (g *Graph) Import(snap Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[string]Node, len(snap.Nodes))
	g.order = make([]string, 0, len(snap.Nodes))
	g.edges = make([]Edge, 0, len(snap.Edges))
	g.edgeKeys = make(map[edgeKey]struct{}, len(snap.Edges))

	now := g.nowFunc()
	for _, n := range snap.Nodes {
		if n.ID == "" {
			continue
		}
		if _, dup := g.nodes[n.ID]; dup {
			continue
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if n.UpdatedAt.IsZero() {
			n.UpdatedAt = n.CreatedAt
		}
		g.nodes[n.ID] = n.clone()
		g.order = append(g.order, n.ID)
	}
	for _, e := range snap.Edges {
		g.addEdgeLocked(e)
	}
}
