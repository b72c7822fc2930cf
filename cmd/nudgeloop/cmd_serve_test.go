package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/goleak"

	"github.com/nvandessel/nudgeloop/internal/logging"
	"github.com/nvandessel/nudgeloop/internal/orchestrator"
	"github.com/nvandessel/nudgeloop/internal/store"
)

func TestSnapshotLoopSavesUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var saves atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- snapshotLoop(ctx, 5*time.Millisecond, func(context.Context) error {
			if saves.Add(1) == 1 {
				return errors.New("disk full")
			}
			return nil
		}, logging.Nop())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for saves.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("snapshotLoop() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshotLoop did not stop")
	}
	if saves.Load() < 3 {
		t.Errorf("saves = %d, want >= 3 (a failed save must not stop the loop)", saves.Load())
	}
}

func TestRestoreGraph(t *testing.T) {
	dataDir := t.TempDir()
	seedStore(t, dataDir)

	dbPath, _ := store.DefaultDBPath(dataDir)
	snapshots, err := store.NewSQLiteSnapshotStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer snapshots.Close()

	mgr, err := orchestrator.New(orchestrator.DefaultConfig(), orchestrator.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	if err := restoreGraph(context.Background(), snapshots, mgr, logging.Nop()); err != nil {
		t.Fatalf("restoreGraph() error = %v", err)
	}
	if got := mgr.Stats().Graph.NodeCount; got != 4 {
		t.Errorf("NodeCount = %d, want 4", got)
	}
}

func TestRestoreGraphEmptyStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), store.DBFileName)
	snapshots, err := store.NewSQLiteSnapshotStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer snapshots.Close()

	mgr, err := orchestrator.New(orchestrator.DefaultConfig(), orchestrator.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	if err := restoreGraph(context.Background(), snapshots, mgr, logging.Nop()); err != nil {
		t.Fatalf("restoreGraph() error = %v", err)
	}
	if got := mgr.Stats().Graph.NodeCount; got != 0 {
		t.Errorf("NodeCount = %d, want 0", got)
	}
}

func TestWatchablePath(t *testing.T) {
	isolateHome(t)
	existing := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(existing, []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		flag string
		want string
	}{
		{"explicit existing file", existing, existing},
		{"explicit missing file", filepath.Join(t.TempDir(), "nope.yaml"), ""},
		{"default path absent", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.Flags().String("config", tt.flag, "")
			if got := watchablePath(cmd); got != tt.want {
				t.Errorf("watchablePath() = %q, want %q", got, tt.want)
			}
		})
	}
}
