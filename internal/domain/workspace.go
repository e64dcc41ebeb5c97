package domain

import "time"

// Workspace owns one canvas per page and the folder records are exported to.
type Workspace struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ProjectFolder string    `json:"projectFolder"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type WorkspaceStore interface {
	CreateWorkspace(w *Workspace) error
	GetWorkspace(id string) (*Workspace, error)
	ListWorkspaces() ([]Workspace, error)
	UpdateWorkspace(w *Workspace) error
	DeleteWorkspace(id string) error
}

// CanvasStateStore persists the latest state of each workspace page.
type CanvasStateStore interface {
	LoadState(workspaceID string, page Page) (CanvasState, error)
	SaveState(workspaceID string, page Page, state CanvasState) error
}

// Record is one named entry in a persisted record folder. Text records
// carry Content, binary records carry Data and optionally a JSON companion
// in Metadata.
type Record struct {
	Name     string `json:"name"`
	Content  string `json:"content,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Metadata []byte `json:"metadata,omitempty"`
}

func (r Record) IsBinary() bool {
	return r.Data != nil
}
