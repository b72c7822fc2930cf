package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/nudgeloop/internal/backup"
	"github.com/nvandessel/nudgeloop/internal/config"
	"github.com/nvandessel/nudgeloop/internal/pathutil"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export, import and list knowledge graph snapshot files",
		Long: `Move the knowledge graph between the SQLite store and snapshot files.

Snapshot files are a JSON header line followed by the gzip-compressed graph,
checksummed with sha256. Default location:
~/.nudgeloop/snapshots/nudgeloop-snapshot-YYYYMMDD-HHMMSS.json.gz

Paths must be inside the snapshot directory or the current directory. A
bare file name refers to the snapshot directory.

Examples:
  nudgeloop snapshot export                    # Export to the snapshot directory
  nudgeloop snapshot export -o ./graph.json.gz # Export into the current directory
  nudgeloop snapshot import ./graph.json.gz    # Replace the stored graph
  nudgeloop snapshot list                      # List snapshot files
  nudgeloop snapshot verify ./graph.json.gz    # Check a file's checksum`,
	}

	cmd.AddCommand(
		newSnapshotExportCmd(),
		newSnapshotImportCmd(),
		newSnapshotListCmd(),
		newSnapshotVerifyCmd(),
	)

	return cmd
}

func newSnapshotExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored graph to a snapshot file",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			output, _ := cmd.Flags().GetString("output")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dataDir, err := cfg.ResolveDataDir()
			if err != nil {
				return fmt.Errorf("resolve data directory: %w", err)
			}
			dir := backup.DefaultDir(dataDir)

			outputPath := backup.GeneratePath(dir, time.Now())
			if output != "" {
				if outputPath, err = resolveCLISnapshotPath(dataDir, output); err != nil {
					return err
				}
			}

			snap, err := loadGraph(cmd.Context(), cfg, "")
			if err != nil {
				return err
			}
			header, err := backup.Write(outputPath, snap)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			if output == "" {
				applySnapshotRetention(cmd, cfg, dir)
			}

			if jsonOut {
				return writeJSON(cmd, backup.Result{
					Path:      outputPath,
					NodeCount: header.NodeCount,
					EdgeCount: header.EdgeCount,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot exported: %d nodes, %d edges\n", header.NodeCount, header.EdgeCount)
			fmt.Fprintf(cmd.OutOrStdout(), "  Path: %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "Output file (default: timestamped file in the snapshot directory)")

	return cmd
}

func newSnapshotImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the stored graph with a snapshot file",
		Long: `Replace the graph in the SQLite store with the contents of a snapshot
file. Stop serve first: a running server overwrites the store with its own
graph on its next save.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dataDir, err := cfg.ResolveDataDir()
			if err != nil {
				return fmt.Errorf("resolve data directory: %w", err)
			}
			path, err := resolveCLISnapshotPath(dataDir, args[0])
			if err != nil {
				return err
			}

			snap, err := backup.Read(path)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			snapshots, err := openSnapshotStore(cfg)
			if err != nil {
				return err
			}
			defer snapshots.Close()
			if err := snapshots.Save(cmd.Context(), snap); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			result := backup.Result{Path: path, NodeCount: len(snap.Nodes), EdgeCount: len(snap.Edges)}
			if jsonOut {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot imported: %d nodes, %d edges\n", result.NodeCount, result.EdgeCount)
			fmt.Fprintf(cmd.OutOrStdout(), "  Store: %s\n", snapshots.Path())
			return nil
		},
	}
}

func newSnapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshot files in the snapshot directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dataDir, err := cfg.ResolveDataDir()
			if err != nil {
				return fmt.Errorf("resolve data directory: %w", err)
			}
			files, err := backup.List(backup.DefaultDir(dataDir))
			if err != nil {
				return err
			}

			if jsonOut {
				type entry struct {
					Path      string    `json:"path"`
					SizeBytes int64     `json:"size_bytes"`
					CreatedAt time.Time `json:"created_at"`
					NodeCount int       `json:"node_count"`
					EdgeCount int       `json:"edge_count"`
				}
				out := make([]entry, 0, len(files))
				for _, f := range files {
					e := entry{Path: f.Path, SizeBytes: f.Size, CreatedAt: f.CreatedAt}
					if h, err := backup.ReadHeader(f.Path); err == nil {
						e.NodeCount, e.EdgeCount = h.NodeCount, h.EdgeCount
					}
					out = append(out, e)
				}
				return writeJSON(cmd, map[string]interface{}{"snapshots": out, "count": len(out)})
			}

			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No snapshot files.")
				return nil
			}
			for _, f := range files {
				counts := ""
				if h, err := backup.ReadHeader(f.Path); err == nil {
					counts = fmt.Sprintf("  %d nodes, %d edges", h.NodeCount, h.EdgeCount)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %8s%s\n", filepath.Base(f.Path), formatSize(f.Size), counts)
			}
			return nil
		},
	}
}

func newSnapshotVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify a snapshot file's checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			path := args[0]

			verr := backup.VerifyChecksum(path)
			if jsonOut {
				out := map[string]interface{}{"path": path, "valid": verr == nil}
				if verr != nil {
					out["error"] = verr.Error()
				}
				if err := writeJSON(cmd, out); err != nil {
					return err
				}
				return verr
			}
			if verr != nil {
				if errors.Is(verr, backup.ErrChecksum) {
					return fmt.Errorf("%s is corrupted: %w", path, verr)
				}
				return fmt.Errorf("verify failed: %w", verr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}
}

// resolveCLISnapshotPath confines a user-supplied snapshot path to the
// snapshot directory or the current directory.
func resolveCLISnapshotPath(dataDir, path string) (string, error) {
	var extra []string
	if wd, err := os.Getwd(); err == nil {
		extra = append(extra, wd)
	}
	resolved, err := pathutil.ResolveSnapshotPath(path, pathutil.AllowedSnapshotDirs(dataDir, extra...))
	if err != nil {
		return "", fmt.Errorf("snapshot path rejected: %w", err)
	}
	return resolved, nil
}

// applySnapshotRetention keeps the configured number of snapshot files in dir.
func applySnapshotRetention(cmd *cobra.Command, cfg *config.Config, dir string) {
	if cfg.Graph.SnapshotRetention <= 0 {
		return
	}
	policy := &backup.CountPolicy{MaxCount: cfg.Graph.SnapshotRetention}
	if _, err := backup.ApplyRetention(dir, policy); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to apply retention: %v\n", err)
	}
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
