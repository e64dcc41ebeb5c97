package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/gorilla/websocket"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/log"
)

// ErrNotConnected is returned when a frame cannot be sent right now.
var ErrNotConnected = errors.New("collab: not connected")

type ClientOptions struct {
	URL string

	// Debounce delays BroadcastState so bursts send one snapshot.
	Debounce time.Duration
	// SequenceGuard drops grid-changes whose seq is not newer than the
	// last one applied.
	SequenceGuard bool

	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
}

// Client is the Go side of the collaboration channel. Run keeps it
// connected; the other methods are safe to call from any goroutine.
type Client struct {
	opts     ClientOptions
	logger   *slog.Logger
	debounce func(func())

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn

	workspaceID string
	page        domain.Page
	identity    Identity

	roster  []User
	cursors map[string]CursorUpdate
	lastSeq uint64

	pending *GridUpdate

	onGrid   func(GridChange)
	onRoster func([]User)
	onStatus func(bool)
}

func NewClient(opts ClientOptions) *Client {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:     opts,
		logger:   log.WithComponent("collab-client"),
		debounce: debounce.New(opts.Debounce),
		cursors:  map[string]CursorUpdate{},
	}
}

func (c *Client) OnGridChange(fn func(GridChange)) {
	c.mu.Lock()
	c.onGrid = fn
	c.mu.Unlock()
}

func (c *Client) OnRoster(fn func([]User)) {
	c.mu.Lock()
	c.onRoster = fn
	c.mu.Unlock()
}

// OnStatus is called with true after every (re)connect and false on loss.
func (c *Client) OnStatus(fn func(connected bool)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// ─────────────────────────────────────────────────────────────
// Connection loop
// ─────────────────────────────────────────────────────────────

// Run dials the hub and reconnects with exponential backoff until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("collab dial failed", slog.String("url", c.opts.URL), slog.Duration("retry_in", backoff), slog.String("err", err.Error()))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, c.opts.MaxBackoff)
			continue
		}
		backoff = c.opts.MinBackoff
		if err := c.attach(conn); err != nil {
			c.logger.Warn("collab rejoin failed", slog.String("err", err.Error()))
		}
		err = c.readLoop(ctx, conn)
		c.detach(conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("collab connection lost", slog.Duration("retry_in", backoff), slog.String("err", err.Error()))
		if !sleepCtx(ctx, backoff) {
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// attach installs a fresh connection. Roster and cursors from the previous
// connection are stale and get reset before rejoining.
func (c *Client) attach(conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.resetPresenceLocked()
	ws, id := c.workspaceID, c.identity
	status := c.onStatus
	c.mu.Unlock()
	if status != nil {
		status(true)
	}
	if ws == "" {
		return nil
	}
	return c.send(EventJoinWorkspace, JoinWorkspace{WorkspaceID: ws, User: id})
}

func (c *Client) detach(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.resetPresenceLocked()
	status := c.onStatus
	c.mu.Unlock()
	if status != nil {
		status(false)
	}
}

func (c *Client) resetPresenceLocked() {
	c.roster = nil
	c.cursors = map[string]CursorUpdate{}
	c.lastSeq = 0
}

// Connected reports whether a hub connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.dispatch(frame); err != nil {
			c.logger.Debug("collab frame ignored", slog.String("err", err.Error()))
		}
	}
}

func (c *Client) dispatch(frame []byte) error {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	switch env.Type {
	case EventWorkspaceUsers:
		var users []User
		if err := json.Unmarshal(env.Data, &users); err != nil {
			return err
		}
		c.setRoster(users)
	case EventUserJoined:
		var msg UserJoined
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		c.setRoster(msg.Users)
	case EventUserLeft:
		var msg UserLeft
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		c.mu.Lock()
		delete(c.cursors, msg.UserID)
		c.mu.Unlock()
		c.setRoster(msg.Users)
	case EventCursorUpdate:
		var msg CursorUpdate
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		c.mu.Lock()
		c.cursors[msg.UserID] = msg
		c.mu.Unlock()
	case EventGridChange:
		var msg GridChange
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		c.mu.Lock()
		if c.opts.SequenceGuard && msg.Seq != 0 && msg.Seq <= c.lastSeq {
			last := c.lastSeq
			c.mu.Unlock()
			c.logger.Debug("stale grid change dropped", slog.Uint64("seq", msg.Seq), slog.Uint64("last", last))
			return nil
		}
		if msg.Seq > c.lastSeq {
			c.lastSeq = msg.Seq
		}
		fn := c.onGrid
		c.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	case EventError:
		var msg ErrorPayload
		_ = json.Unmarshal(env.Data, &msg)
		c.logger.Warn("collab hub rejected a frame", slog.String("message", msg.Message))
	default:
		return fmt.Errorf("unknown event %q", env.Type)
	}
	return nil
}

func (c *Client) setRoster(users []User) {
	c.mu.Lock()
	c.roster = users
	fn := c.onRoster
	c.mu.Unlock()
	if fn != nil {
		fn(users)
	}
}

func (c *Client) send(typ string, data any) error {
	frame, err := encode(typ, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// ─────────────────────────────────────────────────────────────
// Channel operations
// ─────────────────────────────────────────────────────────────

// Join enters the workspace room and scopes snapshots to page. The join is
// replayed after every reconnect.
func (c *Client) Join(workspaceID string, page domain.Page, user Identity) error {
	if _, err := domain.ParsePage(string(page)); err != nil {
		return err
	}
	c.mu.Lock()
	c.workspaceID = workspaceID
	c.page = page
	c.identity = user
	c.resetPresenceLocked()
	c.pending = nil
	c.mu.Unlock()
	return c.send(EventJoinWorkspace, JoinWorkspace{WorkspaceID: workspaceID, User: user})
}

// Leave exits the room. A pending debounced snapshot is discarded.
func (c *Client) Leave(workspaceID string) error {
	c.mu.Lock()
	if c.workspaceID == "" || c.workspaceID != workspaceID {
		c.mu.Unlock()
		return ErrNotJoined
	}
	c.workspaceID = ""
	c.page = ""
	c.pending = nil
	c.resetPresenceLocked()
	c.mu.Unlock()
	err := c.send(EventLeaveWorkspace, LeaveWorkspace{WorkspaceID: workspaceID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// SendCursor is fire and forget.
func (c *Client) SendCursor(x, y float64, page domain.Page) error {
	c.mu.Lock()
	ws := c.workspaceID
	c.mu.Unlock()
	if ws == "" {
		return ErrNotJoined
	}
	return c.send(EventCursorMove, CursorMove{WorkspaceID: ws, X: x, Y: y, Page: string(page)})
}

// BroadcastState queues a snapshot. Only the latest one queued within the
// debounce window is sent.
func (c *Client) BroadcastState(page domain.Page, st domain.CanvasState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	c.mu.Lock()
	if c.workspaceID == "" {
		c.mu.Unlock()
		return ErrNotJoined
	}
	c.pending = &GridUpdate{WorkspaceID: c.workspaceID, Page: string(page), UpdateType: UpdateState, Data: raw}
	c.mu.Unlock()
	c.debounce(func() {
		if err := c.Flush(); err != nil && !errors.Is(err, ErrNotConnected) {
			c.logger.Warn("collab broadcast failed", slog.String("err", err.Error()))
		}
	})
	return nil
}

// Flush sends the pending snapshot now, if any.
func (c *Client) Flush() error {
	c.mu.Lock()
	msg := c.pending
	c.pending = nil
	c.mu.Unlock()
	if msg == nil {
		return nil
	}
	return c.send(EventGridUpdate, *msg)
}

// Users returns the last roster received.
func (c *Client) Users() []User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]User(nil), c.roster...)
}

// Cursors returns peers' last known cursors ordered by user id.
func (c *Client) Cursors() []CursorUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CursorUpdate, 0, len(c.cursors))
	for _, cu := range c.cursors {
		out = append(out, cu)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Page is the page the client joined with.
func (c *Client) Page() domain.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}
