package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteSnapshotStore persists graph snapshots to a SQLite database.
// Each Save replaces the previously stored snapshot.
type SQLiteSnapshotStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteSnapshotStore opens (creating if needed) the database at dbPath.
func NewSQLiteSnapshotStore(dbPath string) (*SQLiteSnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteSnapshotStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteSnapshotStore) Path() string {
	return s.dbPath
}

// Save writes snap, replacing the stored snapshot in one transaction.
// Edges whose endpoints are absent from snap are skipped.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges`); err != nil {
		return fmt.Errorf("failed to clear edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("failed to clear nodes: %w", err)
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO nodes (id, type, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare node insert: %w", err)
	}
	defer nodeStmt.Close()

	ids := make(map[string]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		meta, err := marshalMetadata(n.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for node %s: %w", n.ID, err)
		}
		if _, err := nodeStmt.ExecContext(ctx, n.ID, string(n.Type), meta,
			formatTime(n.CreatedAt), formatTime(n.UpdatedAt)); err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}
		ids[n.ID] = true
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO edges (source, target, type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()

	edgeCount := 0
	for _, e := range snap.Edges {
		if !ids[e.Source] || !ids[e.Target] {
			continue
		}
		meta, err := marshalMetadata(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for edge %s->%s: %w", e.Source, e.Target, err)
		}
		if _, err := edgeStmt.ExecContext(ctx, e.Source, e.Target, e.Type, meta, formatTime(e.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert edge %s->%s: %w", e.Source, e.Target, err)
		}
		edgeCount++
	}

	exportedAt := snap.ExportedAt
	if exportedAt.IsZero() {
		exportedAt = time.Now()
	}
	version := snap.Version
	if version == 0 {
		version = SnapshotVersion
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshot_meta (id, version, exported_at, saved_at, node_count, edge_count)
		VALUES (1, ?, ?, ?, ?, ?)`,
		version, formatTime(exportedAt), formatTime(time.Now()), len(ids), edgeCount); err != nil {
		return fmt.Errorf("failed to record snapshot metadata: %w", err)
	}

	return tx.Commit()
}

// Load reads the stored snapshot. An empty database yields an empty
// snapshot and no error.
func (s *SQLiteSnapshotStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Version: SnapshotVersion, Nodes: []Node{}, Edges: []Edge{}}

	var exportedAt string
	err := s.db.QueryRowContext(ctx, `SELECT version, exported_at FROM snapshot_meta WHERE id = 1`).
		Scan(&snap.Version, &exportedAt)
	switch {
	case err == sql.ErrNoRows:
		return snap, nil
	case err != nil:
		return Snapshot{}, fmt.Errorf("failed to read snapshot metadata: %w", err)
	}
	if snap.ExportedAt, err = parseTime(exportedAt); err != nil {
		return Snapshot{}, fmt.Errorf("invalid exported_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, type, metadata, created_at, updated_at FROM nodes ORDER BY seq`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n                    Node
			typ                  string
			meta                 sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&n.ID, &typ, &meta, &createdAt, &updatedAt); err != nil {
			return Snapshot{}, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Type = NodeType(typ)
		if n.Metadata, err = unmarshalMetadata(meta); err != nil {
			return Snapshot{}, fmt.Errorf("invalid metadata for node %s: %w", n.ID, err)
		}
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return Snapshot{}, fmt.Errorf("invalid created_at for node %s: %w", n.ID, err)
		}
		if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return Snapshot{}, fmt.Errorf("invalid updated_at for node %s: %w", n.ID, err)
		}
		snap.Nodes = append(snap.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to iterate nodes: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx, `SELECT source, target, type, metadata, created_at FROM edges ORDER BY seq`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var (
			e         Edge
			meta      sql.NullString
			createdAt string
		)
		if err := edgeRows.Scan(&e.Source, &e.Target, &e.Type, &meta, &createdAt); err != nil {
			return Snapshot{}, fmt.Errorf("failed to scan edge: %w", err)
		}
		if e.Metadata, err = unmarshalMetadata(meta); err != nil {
			return Snapshot{}, fmt.Errorf("invalid metadata for edge %s->%s: %w", e.Source, e.Target, err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return Snapshot{}, fmt.Errorf("invalid created_at for edge %s->%s: %w", e.Source, e.Target, err)
		}
		snap.Edges = append(snap.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to iterate edges: %w", err)
	}

	return snap, nil
}

// Close closes the database.
func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}

func marshalMetadata(m map[string]interface{}) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMetadata(s sql.NullString) (map[string]interface{}, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
