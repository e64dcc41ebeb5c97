package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

// MaxUndoNodes bounds the history kept per scope.
const MaxUndoNodes = 40

// UndoNode is one committed snapshot in the undo history.
type UndoNode struct {
	ID           string    `json:"id"`
	Scope        string    `json:"scope"`
	ParentID     *string   `json:"parentId"`
	Label        string    `json:"label"`
	SnapshotJSON string    `json:"snapshotJson"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Snapshot decodes the canvas state stored in the node.
func (n *UndoNode) Snapshot() (domain.CanvasState, error) {
	var st domain.CanvasState
	if err := json.Unmarshal([]byte(n.SnapshotJSON), &st); err != nil {
		return domain.EmptyState(), fmt.Errorf("decode snapshot %s: %w", n.ID, err)
	}
	return st, nil
}

// UndoTree is the full history of a scope.
type UndoTree struct {
	Nodes     []UndoNode `json:"nodes"`
	CurrentID string     `json:"currentId"`
	RootID    string     `json:"rootId"`
}

// UndoStore manages undo history in SQLite. A scope is one workspace page.
type UndoStore struct {
	db *DB
}

func NewUndoStore(db *DB) *UndoStore {
	return &UndoStore{db: db}
}

// UndoScope names the history of a workspace page.
func UndoScope(workspaceID string, page domain.Page) string {
	return workspaceID + "/" + string(page)
}

// LoadTree returns the full undo tree of a scope, or nil when it has none.
func (s *UndoStore) LoadTree(scope string) (*UndoTree, error) {
	rows, err := s.db.Conn().Query(
		`SELECT id, scope, parent_id, label, snapshot_json, created_at
		 FROM undo_nodes WHERE scope = ? ORDER BY created_at ASC, rowid ASC`, scope,
	)
	if err != nil {
		return nil, fmt.Errorf("load undo nodes: %w", err)
	}
	defer rows.Close()

	var nodes []UndoNode
	var rootID string
	for rows.Next() {
		var n UndoNode
		if err := rows.Scan(&n.ID, &n.Scope, &n.ParentID, &n.Label, &n.SnapshotJSON, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan undo node: %w", err)
		}
		if n.ParentID == nil {
			rootID = n.ID
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	currentID, err := s.current(scope)
	if err != nil || currentID == "" {
		currentID = rootID
	}
	return &UndoTree{Nodes: nodes, CurrentID: currentID, RootID: rootID}, nil
}

// Push records st as a child of the current node and makes it current.
func (s *UndoStore) Push(scope, label string, st domain.CanvasState) (*UndoNode, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	parentID, err := s.current(scope)
	if err != nil {
		return nil, err
	}
	var pID *string
	if parentID != "" {
		pID = &parentID
	}

	now := time.Now()
	node := &UndoNode{
		ID:           uuid.NewString(),
		Scope:        scope,
		ParentID:     pID,
		Label:        label,
		SnapshotJSON: string(raw),
		CreatedAt:    now,
	}
	_, err = s.db.Conn().Exec(
		`INSERT INTO undo_nodes (id, scope, parent_id, label, snapshot_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		node.ID, scope, pID, label, node.SnapshotJSON, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert undo node: %w", err)
	}
	if err := s.GoTo(scope, node.ID); err != nil {
		return nil, fmt.Errorf("update undo state: %w", err)
	}

	s.pruneIfNeeded(scope, MaxUndoNodes)
	return node, nil
}

// Amend overwrites the snapshot of nodeID when it is still the current node
// of scope. It reports false when the history moved on and nothing changed.
func (s *UndoStore) Amend(scope, nodeID string, st domain.CanvasState) (bool, error) {
	cur, err := s.current(scope)
	if err != nil || cur != nodeID {
		return false, err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return false, fmt.Errorf("encode snapshot: %w", err)
	}
	res, err := s.db.Conn().Exec(
		`UPDATE undo_nodes SET snapshot_json = ? WHERE id = ? AND scope = ?`, string(raw), nodeID, scope,
	)
	if err != nil {
		return false, fmt.Errorf("amend undo node: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Undo moves to the parent of the current node and returns it. It returns
// nil when there is nothing to undo.
func (s *UndoStore) Undo(scope string) (*UndoNode, error) {
	cur, err := s.current(scope)
	if err != nil || cur == "" {
		return nil, err
	}
	var parentID sql.NullString
	if err := s.db.Conn().QueryRow(`SELECT parent_id FROM undo_nodes WHERE id = ?`, cur).Scan(&parentID); err != nil {
		return nil, fmt.Errorf("load undo node: %w", err)
	}
	if !parentID.Valid {
		return nil, nil
	}
	return s.moveTo(scope, parentID.String)
}

// Redo moves to the newest child of the current node and returns it. It
// returns nil when there is nothing to redo.
func (s *UndoStore) Redo(scope string) (*UndoNode, error) {
	cur, err := s.current(scope)
	if err != nil || cur == "" {
		return nil, err
	}
	var childID string
	err = s.db.Conn().QueryRow(
		`SELECT id FROM undo_nodes WHERE parent_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, cur,
	).Scan(&childID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find redo node: %w", err)
	}
	return s.moveTo(scope, childID)
}

func (s *UndoStore) moveTo(scope, id string) (*UndoNode, error) {
	n := &UndoNode{}
	err := s.db.Conn().QueryRow(
		`SELECT id, scope, parent_id, label, snapshot_json, created_at FROM undo_nodes WHERE id = ?`, id,
	).Scan(&n.ID, &n.Scope, &n.ParentID, &n.Label, &n.SnapshotJSON, &n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load undo node: %w", err)
	}
	if err := s.GoTo(scope, id); err != nil {
		return nil, err
	}
	return n, nil
}

// GoTo updates the current position pointer.
func (s *UndoStore) GoTo(scope, nodeID string) error {
	_, err := s.db.Conn().Exec(
		`INSERT INTO undo_state (scope, current_node_id) VALUES (?, ?)
		 ON CONFLICT(scope) DO UPDATE SET current_node_id = excluded.current_node_id`,
		scope, nodeID,
	)
	return err
}

// ClearScope removes all undo data of a scope.
func (s *UndoStore) ClearScope(scope string) error {
	_, _ = s.db.Conn().Exec(`DELETE FROM undo_state WHERE scope = ?`, scope)
	_, err := s.db.Conn().Exec(`DELETE FROM undo_nodes WHERE scope = ?`, scope)
	return err
}

func (s *UndoStore) current(scope string) (string, error) {
	var id string
	err := s.db.Conn().QueryRow(`SELECT current_node_id FROM undo_state WHERE scope = ?`, scope).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load undo state: %w", err)
	}
	return id, nil
}

// pruneIfNeeded removes the oldest nodes when count exceeds maxNodes,
// re-parenting their children.
func (s *UndoStore) pruneIfNeeded(scope string, maxNodes int) {
	var count int
	s.db.Conn().QueryRow(`SELECT COUNT(*) FROM undo_nodes WHERE scope = ?`, scope).Scan(&count)
	if count <= maxNodes {
		return
	}
	toDelete := count - maxNodes

	// Read the current node before opening the rows cursor
	currentID, _ := s.current(scope)

	rows, err := s.db.Conn().Query(
		`SELECT id FROM undo_nodes WHERE scope = ?
		 ORDER BY created_at ASC, rowid ASC LIMIT ?`, scope, toDelete,
	)
	if err != nil {
		return
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		if id != currentID {
			ids = append(ids, id)
		}
	}
	rows.Close()

	for _, id := range ids {
		var parentID sql.NullString
		s.db.Conn().QueryRow(`SELECT parent_id FROM undo_nodes WHERE id = ?`, id).Scan(&parentID)

		if parentID.Valid {
			s.db.Conn().Exec(`UPDATE undo_nodes SET parent_id = ? WHERE parent_id = ?`, parentID.String, id)
		} else {
			s.db.Conn().Exec(`UPDATE undo_nodes SET parent_id = NULL WHERE parent_id = ?`, id)
		}
		s.db.Conn().Exec(`DELETE FROM undo_nodes WHERE id = ?`, id)
	}
}
