package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the SQLite file at dbPath and migrates it.
func New(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only supports one writer
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			project_folder TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS canvas_pages (
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			page TEXT NOT NULL,
			zoom REAL NOT NULL DEFAULT 1.0,
			scroll_left REAL NOT NULL DEFAULT 0,
			scroll_top REAL NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (workspace_id, page)
		)`,
		`CREATE TABLE IF NOT EXISTS canvas_items (
			id TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			page TEXT NOT NULL,
			kind TEXT NOT NULL,
			x REAL NOT NULL DEFAULT 0,
			y REAL NOT NULL DEFAULT 0,
			width REAL NOT NULL DEFAULT 300,
			height REAL NOT NULL DEFAULT 150,
			item_json TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (workspace_id, page, id)
		)`,
		`CREATE TABLE IF NOT EXISTS canvas_connections (
			id TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			page TEXT NOT NULL,
			from_item_id TEXT NOT NULL,
			to_item_id TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (workspace_id, page, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_canvas_items_page ON canvas_items(workspace_id, page)`,
		`CREATE INDEX IF NOT EXISTS idx_canvas_connections_page ON canvas_connections(workspace_id, page)`,
		// Undo nodes, one per committed snapshot of a workspace page
		`CREATE TABLE IF NOT EXISTS undo_nodes (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			parent_id TEXT,
			label TEXT NOT NULL,
			snapshot_json TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_undo_nodes_scope ON undo_nodes(scope)`,
		// Undo state, the current position pointer per scope
		`CREATE TABLE IF NOT EXISTS undo_state (
			scope TEXT PRIMARY KEY,
			current_node_id TEXT NOT NULL REFERENCES undo_nodes(id)
		)`,
		`ALTER TABLE workspaces ADD COLUMN last_exported_at DATETIME`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			// ALTER TABLE fails if the column already exists
			if strings.Contains(m, "ALTER TABLE") && strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %s: %w", m[:40], err)
		}
	}
	return nil
}
