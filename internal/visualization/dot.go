// Package visualization renders knowledge graph snapshots in various output formats.
package visualization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nvandessel/nudgeloop/internal/store"
	"github.com/nvandessel/nudgeloop/internal/utils"
)

// Format specifies the output format for graph rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name. The empty string selects DOT.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatDOT:
		return FormatDOT, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown graph format %q (want dot or json)", s)
	}
}

// nodeColors maps node types to DOT colors.
var nodeColors = map[store.NodeType]string{
	store.NodeBehavior: "steelblue",
	store.NodePattern:  "tomato",
	store.NodeDomain:   "mediumseagreen",
	store.NodeTab:      "goldenrod",
	store.NodeSession:  "plum",
}

// nodeShapes maps node types to DOT shapes.
var nodeShapes = map[store.NodeType]string{
	store.NodeDomain: "ellipse",
	store.NodeTab:    "note",
}

// edgeStyles maps edge types to DOT styles.
var edgeStyles = map[string]string{
	store.EdgeObservedOn:  "solid",
	store.EdgeOccurredIn:  "dashed",
	store.EdgeVisited:     "dotted",
	store.EdgeDerivedFrom: "bold",
}

// RenderDOT produces a Graphviz DOT representation of a graph snapshot.
func RenderDOT(snap store.Snapshot) string {
	var b strings.Builder
	b.WriteString("digraph nudgeloop {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=filled, fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n\n")

	for _, node := range snap.Nodes {
		color := nodeColors[node.Type]
		if color == "" {
			color = "lightgray"
		}
		shape := nodeShapes[node.Type]
		if shape == "" {
			shape = "box"
		}
		fmt.Fprintf(&b, "  %q [label=%q, shape=%s, fillcolor=%q, tooltip=%q];\n",
			node.ID, truncate(Label(node), 40), shape, color, tooltip(node))
	}
	b.WriteString("\n")

	for _, edge := range snap.Edges {
		style := edgeStyles[edge.Type]
		if style == "" {
			style = "solid"
		}
		fmt.Fprintf(&b, "  %q -> %q [label=%q, style=%s];\n",
			edge.Source, edge.Target, edge.Type, style)
	}

	b.WriteString("}\n")
	return b.String()
}

// RenderJSON produces a JSON-ready graph representation with nodes and edges arrays.
func RenderJSON(snap store.Snapshot) map[string]interface{} {
	jsonNodes := make([]map[string]interface{}, 0, len(snap.Nodes))
	for _, node := range snap.Nodes {
		entry := map[string]interface{}{
			"id":         node.ID,
			"type":       string(node.Type),
			"label":      Label(node),
			"created_at": node.CreatedAt,
			"updated_at": node.UpdatedAt,
		}
		if len(node.Metadata) > 0 {
			entry["metadata"] = node.Metadata
		}
		jsonNodes = append(jsonNodes, entry)
	}

	jsonEdges := make([]map[string]interface{}, 0, len(snap.Edges))
	for _, edge := range snap.Edges {
		jsonEdges = append(jsonEdges, map[string]interface{}{
			"source": edge.Source,
			"target": edge.Target,
			"type":   edge.Type,
		})
	}

	return map[string]interface{}{
		"nodes":      jsonNodes,
		"edges":      jsonEdges,
		"node_count": len(jsonNodes),
		"edge_count": len(jsonEdges),
	}
}

// Label picks a short human-readable label for a node.
func Label(node store.Node) string {
	str := func(k string) string {
		return utils.GetString(node.Metadata, k, "")
	}
	switch node.Type {
	case store.NodeBehavior:
		if kind, key := str("kind"), str("domain"); kind != "" {
			if key == "" {
				key = str("key")
			}
			return fmt.Sprintf("%s %s (%s)", kind, key, str("severity"))
		}
	case store.NodePattern:
		if t := str("type"); t != "" {
			return t
		}
	case store.NodeDomain:
		if d := str("domain"); d != "" {
			return d
		}
	case store.NodeTab:
		if t := str("tab"); t != "" {
			return "tab " + t
		}
	}
	return node.ID
}

// tooltip lists the node's scalar metadata as sorted key=value pairs.
func tooltip(node store.Node) string {
	keys := make([]string, 0, len(node.Metadata))
	for k := range node.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := node.Metadata[k].(type) {
		case string, float64, int, int64, bool:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return strings.Join(parts, " ")
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
