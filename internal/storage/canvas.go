package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

// CanvasStore implements domain.CanvasStateStore using SQLite. Each save
// replaces the whole page in one transaction.
type CanvasStore struct {
	db *DB
}

func NewCanvasStore(db *DB) *CanvasStore {
	return &CanvasStore{db: db}
}

// LoadState returns the saved state of a page, or an empty state when the
// page was never saved.
func (s *CanvasStore) LoadState(workspaceID string, page domain.Page) (domain.CanvasState, error) {
	st := domain.EmptyState()

	err := s.db.Conn().QueryRow(
		`SELECT zoom, scroll_left, scroll_top FROM canvas_pages WHERE workspace_id = ? AND page = ?`,
		workspaceID, page,
	).Scan(&st.Transform.Zoom, &st.Transform.ScrollLeft, &st.Transform.ScrollTop)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("load page: %w", err)
	}
	st.Transform = st.Transform.Normalize()

	rows, err := s.db.Conn().Query(
		`SELECT item_json FROM canvas_items WHERE workspace_id = ? AND page = ? ORDER BY sort_order ASC`,
		workspaceID, page,
	)
	if err != nil {
		return st, fmt.Errorf("load items: %w", err)
	}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return st, fmt.Errorf("scan item: %w", err)
		}
		var it domain.Item
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			rows.Close()
			return st, fmt.Errorf("decode item: %w", err)
		}
		st.Items = append(st.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	rows, err = s.db.Conn().Query(
		`SELECT id, from_item_id, to_item_id FROM canvas_connections WHERE workspace_id = ? AND page = ? ORDER BY sort_order ASC`,
		workspaceID, page,
	)
	if err != nil {
		return st, fmt.Errorf("load connections: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.Connection
		if err := rows.Scan(&c.ID, &c.From, &c.To); err != nil {
			return st, fmt.Errorf("scan connection: %w", err)
		}
		st.Connections = append(st.Connections, c)
	}
	return st, rows.Err()
}

// SaveState atomically replaces the items, connections and transform of a page.
func (s *CanvasStore) SaveState(workspaceID string, page domain.Page, st domain.CanvasState) error {
	tx, err := s.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	t := st.Transform.Normalize()
	now := time.Now()
	_, err = tx.Exec(
		`INSERT INTO canvas_pages (workspace_id, page, zoom, scroll_left, scroll_top, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workspace_id, page) DO UPDATE SET zoom = excluded.zoom, scroll_left = excluded.scroll_left,
		 scroll_top = excluded.scroll_top, updated_at = excluded.updated_at`,
		workspaceID, page, t.Zoom, t.ScrollLeft, t.ScrollTop, now,
	)
	if err != nil {
		return fmt.Errorf("save page: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM canvas_items WHERE workspace_id = ? AND page = ?`, workspaceID, page); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM canvas_connections WHERE workspace_id = ? AND page = ?`, workspaceID, page); err != nil {
		return fmt.Errorf("delete connections: %w", err)
	}

	for i, it := range st.Items {
		raw, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode item %s: %w", it.ID, err)
		}
		_, err = tx.Exec(
			`INSERT INTO canvas_items (id, workspace_id, page, kind, x, y, width, height, item_json, sort_order)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, workspaceID, page, it.Kind, it.X, it.Y, it.Width, it.Height, string(raw), i,
		)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}
	for i, c := range st.Connections {
		_, err := tx.Exec(
			`INSERT INTO canvas_connections (id, workspace_id, page, from_item_id, to_item_id, sort_order) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, workspaceID, page, c.From, c.To, i,
		)
		if err != nil {
			return fmt.Errorf("insert connection %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}
