package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/nudgeloop/internal/config"
	"github.com/nvandessel/nudgeloop/internal/embedding"
	"github.com/nvandessel/nudgeloop/internal/logging"
	"github.com/nvandessel/nudgeloop/internal/mcp"
	"github.com/nvandessel/nudgeloop/internal/orchestrator"
	"github.com/nvandessel/nudgeloop/internal/store"
)

// finalSaveTimeout bounds the shutdown snapshot save.
const finalSaveTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server for a browser host",
		Long: `Start the nudgeloop MCP server on stdio.

The browser host reports tab events with the nudge_event tool and collects
fired nudges with nudge_poll. The knowledge graph is restored from the
SQLite snapshot store at startup, saved every graph.snapshot_interval and
saved again on shutdown. Edits to the config file's intervention policies
apply without a restart.

Logs go to stderr; stdout carries the MCP protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			noWatch, _ := cmd.Flags().GetBool("no-watch")
			noAudit, _ := cmd.Flags().GetBool("no-audit")

			opts := serveOptions{audit: !noAudit, stderr: cmd.ErrOrStderr()}
			if !noWatch {
				opts.watchPath = watchablePath(cmd)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
			defer stop()
			return runServe(ctx, cfg, opts)
		},
	}

	cmd.Flags().Bool("no-watch", false, "Do not reload intervention policies when the config file changes")
	cmd.Flags().Bool("no-audit", false, "Do not write the tool audit log")

	return cmd
}

type serveOptions struct {
	watchPath string // config file to watch; "" disables reload
	audit     bool
	stderr    io.Writer
}

// watchablePath returns the config file serve should watch, or "" when there
// is none on disk.
func watchablePath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return ""
		}
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// runServe wires the pipeline and serves until ctx is cancelled or the MCP
// client disconnects.
func runServe(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	if opts.stderr == nil {
		opts.stderr = os.Stderr
	}

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := store.EnsureDataDir(dataDir); err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, opts.stderr)
	decisions := logging.NewDecisionLogger(dataDir, cfg.Logging.Level)
	defer decisions.Close()

	emb, err := embedding.New(cfg.EmbeddingConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer emb.Close()

	queue := mcp.NewQueue(cfg.Interventions.QueueSize)
	mgr, err := orchestrator.New(cfg.Orchestrator(), orchestrator.Options{
		Notifier:  queue,
		Embedder:  emb,
		Logger:    logger,
		Decisions: decisions,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer mgr.Close()

	dbPath, err := store.DefaultDBPath(dataDir)
	if err != nil {
		return err
	}
	snapshots, err := store.NewSQLiteSnapshotStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer snapshots.Close()

	if err := restoreGraph(ctx, snapshots, mgr, logger); err != nil {
		return err
	}

	server, err := mcp.NewServer(&mcp.Config{
		Name:    "nudgeloop",
		Version: version,
		DataDir: dataDir,
		Audit:   opts.audit,
	}, mgr, queue, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer server.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return mgr.Run(gctx)
	})
	g.Go(func() error {
		// The host closing stdin ends the whole process.
		defer cancel()
		return server.Run(gctx)
	})
	if interval := cfg.Graph.SnapshotInterval; interval > 0 {
		g.Go(func() error {
			return snapshotLoop(gctx, interval, func(ctx context.Context) error {
				return snapshots.Save(ctx, mgr.ExportSnapshot())
			}, logger)
		})
	}
	if opts.watchPath != "" {
		w := config.NewWatcher(opts.watchPath, logger)
		g.Go(func() error {
			return w.Run(gctx, func(next *config.Config) {
				mgr.SetPolicies(next.Policies())
				logger.Info("intervention policies updated", "severities", len(next.Policies()))
			})
		})
	}

	logger.Info("nudgeloop serving", "data_dir", dataDir, "db", snapshots.Path(), "embedder", emb.Name())
	runErr := g.Wait()

	saveCtx, saveCancel := context.WithTimeout(context.Background(), finalSaveTimeout)
	defer saveCancel()
	if err := snapshots.Save(saveCtx, mgr.ExportSnapshot()); err != nil {
		logger.Error("final snapshot save failed", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("failed to save snapshot: %w", err)
		}
	}

	logger.Info("nudgeloop stopped")
	return runErr
}

// restoreGraph loads the persisted graph into mgr. An empty store is not an error.
func restoreGraph(ctx context.Context, snapshots *store.SQLiteSnapshotStore, mgr *orchestrator.Manager, logger *slog.Logger) error {
	snap, err := snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if len(snap.Nodes) == 0 {
		return nil
	}
	mgr.ImportSnapshot(snap)
	logger.Info("knowledge graph restored", "nodes", len(snap.Nodes), "edges", len(snap.Edges))
	return nil
}

// snapshotLoop calls save every interval until ctx is done. Failures are
// logged and retried on the next interval.
func snapshotLoop(ctx context.Context, interval time.Duration, save func(context.Context) error, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := save(ctx); err != nil {
				logger.Warn("snapshot save failed", "error", err)
				continue
			}
			logger.Debug("snapshot saved")
		}
	}
}
