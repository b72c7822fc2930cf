package backup

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvandessel/nudgeloop/internal/store"
)

const (
	filePrefix = "nudgeloop-snapshot-"
	fileSuffix = ".json.gz"
)

// DefaultDir returns the snapshot directory inside dataDir.
func DefaultDir(dataDir string) string {
	return filepath.Join(dataDir, "snapshots")
}

// GeneratePath creates a timestamped snapshot filename in dir.
func GeneratePath(dir string, now time.Time) string {
	ts := now.Format("20060102-150405")
	return filepath.Join(dir, filePrefix+ts+fileSuffix)
}

func isSnapshotFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}

// Result summarizes an export or import.
type Result struct {
	Path      string `json:"path"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

// Export writes the graph's current contents to path.
func Export(g *store.Graph, path string) (*Result, error) {
	snap := g.Export()
	header, err := Write(path, snap)
	if err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	return &Result{Path: path, NodeCount: header.NodeCount, EdgeCount: header.EdgeCount}, nil
}

// Import replaces the graph's contents with the snapshot at path. Counts
// reflect what the graph kept after its insert rules were applied.
func Import(g *store.Graph, path string) (*Result, error) {
	snap, err := Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	g.Import(snap)
	st := g.Stats()
	return &Result{Path: path, NodeCount: st.NodeCount, EdgeCount: st.EdgeCount}, nil
}
