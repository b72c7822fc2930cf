// Package store holds the knowledge graph built from behavior events and
// insights, and its SQLite snapshot persistence.
package store

import (
	"time"
)

// NodeType classifies graph nodes.
type NodeType string

const (
	NodeBehavior NodeType = "behavior" // a classified BehaviorEvent
	NodePattern  NodeType = "pattern"  // an Insight
	NodeDomain   NodeType = "domain"
	NodeTab      NodeType = "tab"
	NodeSession  NodeType = "session"
)

// Edge types written by the orchestrator.
const (
	EdgeObservedOn  = "observed-on"  // behavior -> domain
	EdgeOccurredIn  = "occurred-in"  // behavior -> tab
	EdgeVisited     = "visited"      // tab -> domain
	EdgeDerivedFrom = "derived-from" // pattern -> tab or domain
)

// Node represents a node in the knowledge graph.
type Node struct {
	ID        string                 `json:"id"`
	Type      NodeType               `json:"type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Edge represents a directed relationship between two nodes.
type Edge struct {
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	Type      string                 `json:"type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Stats summarizes the graph.
type Stats struct {
	NodeCount int              `json:"node_count"`
	EdgeCount int              `json:"edge_count"`
	NodeTypes map[NodeType]int `json:"node_types"`
	EdgeTypes map[string]int   `json:"edge_types"`
}

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Snapshot is a plain copy of the graph for persistence. Nodes and edges
// are in insertion order.
type Snapshot struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Nodes      []Node    `json:"nodes"`
	Edges      []Edge    `json:"edges"`
}

func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (n Node) clone() Node {
	n.Metadata = cloneMetadata(n.Metadata)
	return n
}

func (e Edge) clone() Edge {
	e.Metadata = cloneMetadata(e.Metadata)
	return e
}
