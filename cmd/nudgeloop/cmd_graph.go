package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/nudgeloop/internal/backup"
	"github.com/nvandessel/nudgeloop/internal/config"
	"github.com/nvandessel/nudgeloop/internal/store"
	"github.com/nvandessel/nudgeloop/internal/visualization"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Visualize the knowledge graph",
		Long: `Output the persisted knowledge graph in DOT (Graphviz) or JSON format.

The graph is read from the SQLite snapshot store written by serve, or from
a snapshot file with --snapshot.

Examples:
  nudgeloop graph | dot -Tsvg > graph.svg
  nudgeloop graph --format json
  nudgeloop graph --snapshot ~/.nudgeloop/snapshots/nudgeloop-snapshot-20260314-090000.json.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			snapshotPath, _ := cmd.Flags().GetString("snapshot")
			output, _ := cmd.Flags().GetString("output")

			f, err := visualization.ParseFormat(format)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			snap, err := loadGraph(cmd.Context(), cfg, snapshotPath)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer file.Close()
				w = file
			}

			switch f {
			case visualization.FormatDOT:
				if _, err := fmt.Fprint(w, visualization.RenderDOT(snap)); err != nil {
					return fmt.Errorf("write DOT: %w", err)
				}
			case visualization.FormatJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(visualization.RenderJSON(snap)); err != nil {
					return fmt.Errorf("encode JSON: %w", err)
				}
			}

			if output != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Graph written to %s (%d nodes, %d edges)\n", output, len(snap.Nodes), len(snap.Edges))
			}
			return nil
		},
	}

	cmd.Flags().String("format", "dot", "Output format: dot or json")
	cmd.Flags().String("snapshot", "", "Read the graph from this snapshot file instead of the store")
	cmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")

	return cmd
}

// loadGraph reads a snapshot file when path is set, otherwise the SQLite
// snapshot store in the data directory.
func loadGraph(ctx context.Context, cfg *config.Config, path string) (store.Snapshot, error) {
	if path != "" {
		snap, err := backup.Read(path)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
		}
		return snap, nil
	}

	snapshots, err := openSnapshotStore(cfg)
	if err != nil {
		return store.Snapshot{}, err
	}
	defer snapshots.Close()

	snap, err := snapshots.Load(ctx)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("load graph: %w", err)
	}
	return snap, nil
}

// openSnapshotStore opens the SQLite snapshot store in the data directory.
func openSnapshotStore(cfg *config.Config) (*store.SQLiteSnapshotStore, error) {
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	dbPath, err := store.DefaultDBPath(dataDir)
	if err != nil {
		return nil, err
	}
	snapshots, err := store.NewSQLiteSnapshotStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return snapshots, nil
}
