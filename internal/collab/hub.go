package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/log"
)

// ErrNotJoined is returned for room events from a peer outside that room.
var ErrNotJoined = errors.New("not joined to workspace")

// ServerUserID marks grid-changes published by the server itself.
const ServerUserID = "server"

const defaultSendBuffer = 64

// SnapshotFunc receives every accepted state snapshot so the server copy
// can follow the room.
type SnapshotFunc func(workspaceID string, page domain.Page, st domain.CanvasState)

type HubOptions struct {
	// SendBuffer is the per-peer outbound queue. When full the oldest
	// frame is dropped.
	SendBuffer int
	OnSnapshot SnapshotFunc
	Now        func() time.Time
}

// Hub tracks rooms and relays events between their peers.
type Hub struct {
	opts      HubOptions
	validator *Validator
	logger    *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room
	peers map[string]*Peer
}

type room struct {
	id          string
	workspaceID string
	members     map[string]*Peer
	order       []string
	seq         uint64
	applying    bool
}

// Peer is one connection as seen by the hub.
type Peer struct {
	id   string
	send chan []byte

	mu      sync.Mutex
	closed  bool
	user    User
	roomID  string
	dropped int
}

func (p *Peer) ID() string { return p.id }

// Outbox yields the frames queued for this peer. It is closed on Disconnect.
func (p *Peer) Outbox() <-chan []byte { return p.send }

// Dropped counts frames discarded because the peer fell behind.
func (p *Peer) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Peer) deliver(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.send <- frame:
		return
	default:
	}
	select {
	case <-p.send:
		p.dropped++
	default:
	}
	select {
	case p.send <- frame:
	default:
		p.dropped++
	}
}

func (p *Peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

func NewHub(opts HubOptions) (*Hub, error) {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Hub{
		opts:      opts,
		validator: v,
		logger:    log.WithComponent("collab"),
		rooms:     map[string]*room{},
		peers:     map[string]*Peer{},
	}, nil
}

// Connect registers a new peer.
func (h *Hub) Connect(id string) *Peer {
	p := &Peer{id: id, send: make(chan []byte, h.opts.SendBuffer)}
	h.mu.Lock()
	h.peers[id] = p
	h.mu.Unlock()
	h.logger.Debug("peer connected", slog.String("peer", id))
	return p
}

// Disconnect removes the peer from its room and closes its outbox.
func (h *Hub) Disconnect(p *Peer) {
	h.mu.Lock()
	h.leaveLocked(p)
	delete(h.peers, p.id)
	h.mu.Unlock()
	p.close()
	h.logger.Debug("peer disconnected", slog.String("peer", p.id))
}

// Handle dispatches one inbound frame from a peer.
func (h *Hub) Handle(p *Peer, frame []byte) error {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	switch env.Type {
	case EventJoinWorkspace:
		var msg JoinWorkspace
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return h.join(p, msg)
	case EventLeaveWorkspace:
		var msg LeaveWorkspace
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return h.leave(p, msg.WorkspaceID)
	case EventCursorMove:
		var msg CursorMove
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return h.cursor(p, msg)
	case EventGridUpdate:
		var msg GridUpdate
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return h.grid(p, msg)
	}
	return fmt.Errorf("unknown event %q", env.Type)
}

func (h *Hub) join(p *Peer, msg JoinWorkspace) error {
	if msg.WorkspaceID == "" {
		return fmt.Errorf("join: workspaceId is required")
	}
	if msg.User.Email == "" && msg.User.Name == "" {
		return fmt.Errorf("join: user email or name is required")
	}
	user := NewUser(p.id, msg.User)
	rid := RoomID(msg.WorkspaceID)

	h.mu.Lock()
	h.leaveLocked(p)
	r, ok := h.rooms[rid]
	if !ok {
		r = &room{id: rid, workspaceID: msg.WorkspaceID, members: map[string]*Peer{}}
		h.rooms[rid] = r
	}
	r.members[p.id] = p
	r.order = append(r.order, p.id)
	p.mu.Lock()
	p.user = user
	p.roomID = rid
	p.mu.Unlock()
	users := r.roster()
	h.broadcastLocked(r, p.id, EventUserJoined, UserJoined{User: user, Users: users})
	h.sendTo(p, EventWorkspaceUsers, users)
	h.mu.Unlock()

	h.logger.Info("user joined", slog.String("room", rid), slog.String("peer", p.id), slog.Int("active", len(users)))
	return nil
}

func (h *Hub) leave(p *Peer, workspaceID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p.mu.Lock()
	current := p.roomID
	p.mu.Unlock()
	if current == "" || (workspaceID != "" && current != RoomID(workspaceID)) {
		return ErrNotJoined
	}
	h.leaveLocked(p)
	return nil
}

func (h *Hub) leaveLocked(p *Peer) {
	p.mu.Lock()
	rid, user := p.roomID, p.user
	p.roomID = ""
	p.mu.Unlock()
	if rid == "" {
		return
	}
	r, ok := h.rooms[rid]
	if !ok {
		return
	}
	delete(r.members, p.id)
	for i, id := range r.order {
		if id == p.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if len(r.members) == 0 {
		delete(h.rooms, rid)
		h.logger.Debug("room closed", slog.String("room", rid))
		return
	}
	h.broadcastLocked(r, p.id, EventUserLeft, UserLeft{UserID: p.id, User: user, Users: r.roster()})
}

func (h *Hub) memberRoom(p *Peer, workspaceID string) (*room, User, error) {
	p.mu.Lock()
	rid, user := p.roomID, p.user
	p.mu.Unlock()
	if rid == "" || rid != RoomID(workspaceID) {
		return nil, User{}, ErrNotJoined
	}
	r, ok := h.rooms[rid]
	if !ok {
		return nil, User{}, ErrNotJoined
	}
	return r, user, nil
}

func (h *Hub) cursor(p *Peer, msg CursorMove) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, user, err := h.memberRoom(p, msg.WorkspaceID)
	if err != nil {
		return err
	}
	h.broadcastLocked(r, p.id, EventCursorUpdate, CursorUpdate{
		UserID: p.id, User: user, X: msg.X, Y: msg.Y, Page: msg.Page,
	})
	return nil
}

func (h *Hub) grid(p *Peer, msg GridUpdate) error {
	page, err := domain.ParsePage(msg.Page)
	if err != nil {
		return err
	}
	var st domain.CanvasState
	if msg.UpdateType == UpdateState {
		st, err = h.validator.DecodeState(msg.Data)
		if err != nil {
			h.logger.Warn("snapshot dropped", slog.String("peer", p.id), slog.String("workspace", msg.WorkspaceID), slog.String("err", err.Error()))
			h.mu.Lock()
			h.sendTo(p, EventError, ErrorPayload{Message: err.Error()})
			h.mu.Unlock()
			return err
		}
	}

	h.mu.Lock()
	r, _, err := h.memberRoom(p, msg.WorkspaceID)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	r.seq++
	change := GridChange{
		UserID:     p.id,
		Page:       msg.Page,
		UpdateType: msg.UpdateType,
		Data:       msg.Data,
		Timestamp:  h.opts.Now().UnixMilli(),
		Seq:        r.seq,
	}
	h.broadcastLocked(r, p.id, EventGridChange, change)
	h.mu.Unlock()

	h.logger.Debug("grid update", slog.String("room", r.id), slog.String("type", msg.UpdateType), slog.Uint64("seq", change.Seq))
	if msg.UpdateType == UpdateState && h.opts.OnSnapshot != nil {
		h.applySnapshot(r, page, st)
	}
	return nil
}

func (h *Hub) applySnapshot(r *room, page domain.Page, st domain.CanvasState) {
	h.mu.Lock()
	r.applying = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		r.applying = false
		h.mu.Unlock()
	}()
	h.opts.OnSnapshot(r.workspaceID, page, st)
}

// Publish sends a server-side state change to every peer of the workspace.
// Changes that the hub itself is applying from a peer are not echoed.
func (h *Hub) Publish(workspaceID string, page domain.Page, st domain.CanvasState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[RoomID(workspaceID)]
	if !ok || r.applying {
		return nil
	}
	r.seq++
	h.broadcastLocked(r, "", EventGridChange, GridChange{
		UserID:     ServerUserID,
		Page:       string(page),
		UpdateType: UpdateState,
		Data:       raw,
		Timestamp:  h.opts.Now().UnixMilli(),
		Seq:        r.seq,
	})
	return nil
}

// Users returns the roster of a workspace in join order.
func (h *Hub) Users(workspaceID string) []User {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[RoomID(workspaceID)]
	if !ok {
		return []User{}
	}
	return r.roster()
}

// Rooms lists the open room ids.
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *room) roster() []User {
	out := make([]User, 0, len(r.order))
	for _, id := range r.order {
		p := r.members[id]
		p.mu.Lock()
		out = append(out, p.user)
		p.mu.Unlock()
	}
	return out
}

func (h *Hub) broadcastLocked(r *room, except, typ string, data any) {
	frame, err := encode(typ, data)
	if err != nil {
		h.logger.Error("encode broadcast", slog.String("event", typ), slog.String("err", err.Error()))
		return
	}
	for _, id := range r.order {
		if id == except {
			continue
		}
		r.members[id].deliver(frame)
	}
}

func (h *Hub) sendTo(p *Peer, typ string, data any) {
	frame, err := encode(typ, data)
	if err != nil {
		h.logger.Error("encode frame", slog.String("event", typ), slog.String("err", err.Error()))
		return
	}
	p.deliver(frame)
}
