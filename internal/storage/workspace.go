package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

var ErrWorkspaceNotFound = errors.New("workspace not found")

// WorkspaceStore implements domain.WorkspaceStore using SQLite.
type WorkspaceStore struct {
	db *DB
}

func NewWorkspaceStore(db *DB) *WorkspaceStore {
	return &WorkspaceStore{db: db}
}

func (s *WorkspaceStore) CreateWorkspace(w *domain.Workspace) error {
	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	_, err := s.db.Conn().Exec(
		`INSERT INTO workspaces (id, name, project_folder, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.ProjectFolder, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

func (s *WorkspaceStore) GetWorkspace(id string) (*domain.Workspace, error) {
	w := &domain.Workspace{}
	err := s.db.Conn().QueryRow(
		`SELECT id, name, project_folder, created_at, updated_at FROM workspaces WHERE id = ?`, id,
	).Scan(&w.ID, &w.Name, &w.ProjectFolder, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get workspace %s: %w", id, ErrWorkspaceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return w, nil
}

func (s *WorkspaceStore) ListWorkspaces() ([]domain.Workspace, error) {
	rows, err := s.db.Conn().Query(
		`SELECT id, name, project_folder, created_at, updated_at FROM workspaces ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workspaces := []domain.Workspace{}
	for rows.Next() {
		var w domain.Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.ProjectFolder, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, w)
	}
	return workspaces, rows.Err()
}

func (s *WorkspaceStore) UpdateWorkspace(w *domain.Workspace) error {
	w.UpdatedAt = time.Now()
	res, err := s.db.Conn().Exec(
		`UPDATE workspaces SET name = ?, project_folder = ?, updated_at = ? WHERE id = ?`,
		w.Name, w.ProjectFolder, w.UpdatedAt, w.ID,
	)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update workspace %s: %w", w.ID, ErrWorkspaceNotFound)
	}
	return nil
}

// MarkExported records the time of the last successful export.
func (s *WorkspaceStore) MarkExported(id string, at time.Time) error {
	_, err := s.db.Conn().Exec(`UPDATE workspaces SET last_exported_at = ? WHERE id = ?`, at, id)
	return err
}

// DeleteWorkspace removes a workspace together with its canvas pages.
func (s *WorkspaceStore) DeleteWorkspace(id string) error {
	tx, err := s.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM canvas_items WHERE workspace_id = ?`,
		`DELETE FROM canvas_connections WHERE workspace_id = ?`,
		`DELETE FROM canvas_pages WHERE workspace_id = ?`,
		`DELETE FROM workspaces WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("delete workspace: %w", err)
		}
	}
	return tx.Commit()
}
