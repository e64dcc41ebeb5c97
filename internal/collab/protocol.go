// Package collab relays presence, cursors and whole-canvas snapshots
// between users of the same workspace over websockets.
//
// Every frame is a JSON envelope {"type": ..., "data": ...}. Clients send
// join-workspace, cursor-move and grid-update; the hub answers with
// workspace-users, user-joined, user-left, cursor-update and grid-change.
// Snapshots overwrite the receiver's state whole; there is no merge.
package collab

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf16"
)

// Event types.
const (
	EventJoinWorkspace  = "join-workspace"
	EventLeaveWorkspace = "leave-workspace"
	EventWorkspaceUsers = "workspace-users"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventCursorMove     = "cursor-move"
	EventCursorUpdate   = "cursor-update"
	EventGridUpdate     = "grid-update"
	EventGridChange     = "grid-change"
	EventError          = "error"
)

// UpdateState is the grid-update type that carries a full CanvasState.
const UpdateState = "state"

// Envelope is one websocket frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func encode(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Data: raw})
}

// User is a roster entry. ID is the connection id.
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Initial string `json:"initial"`
	Color   string `json:"color"`
}

// Identity is what a client says about itself when joining.
type Identity struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type JoinWorkspace struct {
	WorkspaceID string   `json:"workspaceId"`
	User        Identity `json:"user"`
}

type LeaveWorkspace struct {
	WorkspaceID string `json:"workspaceId"`
}

type UserJoined struct {
	User  User   `json:"user"`
	Users []User `json:"users"`
}

type UserLeft struct {
	UserID string `json:"userId"`
	User   User   `json:"user"`
	Users  []User `json:"users"`
}

type CursorMove struct {
	WorkspaceID string  `json:"workspaceId"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Page        string  `json:"page"`
}

type CursorUpdate struct {
	UserID string  `json:"userId"`
	User   User    `json:"user"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Page   string  `json:"page"`
}

type GridUpdate struct {
	WorkspaceID string          `json:"workspaceId"`
	Page        string          `json:"page"`
	UpdateType  string          `json:"updateType"`
	Data        json.RawMessage `json:"data"`
}

// GridChange is a relayed grid-update. Seq increases per room and lets
// receivers drop snapshots that arrive out of order.
type GridChange struct {
	UserID     string          `json:"userId"`
	Page       string          `json:"page"`
	UpdateType string          `json:"updateType"`
	Data       json.RawMessage `json:"data"`
	Timestamp  int64           `json:"timestamp"`
	Seq        uint64          `json:"seq"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// RoomID names the room of a workspace.
func RoomID(workspaceID string) string {
	return "workspace-" + workspaceID
}

// Palette holds the cursor colors handed out to users.
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8",
	"#F7DC6F", "#BB8FCE", "#85C1E2", "#F8B739", "#52B788",
}

// ColorFor picks a stable palette color for a connection id using the
// classic 31-multiplier string hash over UTF-16 code units.
func ColorFor(id string) string {
	var h int64
	for _, c := range utf16.Encode([]rune(id)) {
		h = int64(c) + int64(int32(h)<<5) - h
	}
	if h < 0 {
		h = -h
	}
	return Palette[h%int64(len(Palette))]
}

// NewUser builds the roster entry for a connection.
func NewUser(connID string, id Identity) User {
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name = id.Email
	}
	initial := ""
	for _, r := range name {
		initial = string(unicode.ToUpper(r))
		break
	}
	return User{ID: connID, Email: id.Email, Name: name, Initial: initial, Color: ColorFor(connID)}
}
