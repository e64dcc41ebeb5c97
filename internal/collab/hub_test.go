package collab_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jareynolds/UbeCode-sub002/internal/collab"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/log"
)

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHub(t *testing.T, opts collab.HubOptions) *collab.Hub {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	h, err := collab.NewHub(opts)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	return h
}

func frame(t *testing.T, typ string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(collab.Envelope{Type: typ, Data: raw})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func next(t *testing.T, p *collab.Peer) collab.Envelope {
	t.Helper()
	select {
	case f := <-p.Outbox():
		var env collab.Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("peer %s: no frame", p.ID())
	}
	return collab.Envelope{}
}

func expectNone(t *testing.T, p *collab.Peer) {
	t.Helper()
	select {
	case f := <-p.Outbox():
		t.Fatalf("peer %s: unexpected frame %s", p.ID(), f)
	default:
	}
}

func decode[T any](t *testing.T, env collab.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return v
}

func join(t *testing.T, h *collab.Hub, p *collab.Peer, ws, email string) {
	t.Helper()
	msg := collab.JoinWorkspace{WorkspaceID: ws, User: collab.Identity{Email: email}}
	if err := h.Handle(p, frame(t, collab.EventJoinWorkspace, msg)); err != nil {
		t.Fatalf("join: %v", err)
	}
}

func stateJSON(t *testing.T, st domain.CanvasState) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func sampleState() domain.CanvasState {
	st := domain.EmptyState()
	st.Items = append(st.Items, domain.Item{
		ID: "a", Kind: domain.KindText, X: 10, Y: 20, Width: 300, Height: 150,
		Text: &domain.TextBody{Content: "Idea"},
	})
	return st
}

// ─────────────────────────────────────────────────────────────
// Roster
// ─────────────────────────────────────────────────────────────

func TestColorForIsStable(t *testing.T) {
	if got := collab.ColorFor("a"); got != "#85C1E2" {
		t.Errorf("ColorFor(a) = %s", got)
	}
	if got := collab.ColorFor("ab"); got != "#F7DC6F" {
		t.Errorf("ColorFor(ab) = %s", got)
	}
	if collab.ColorFor("socket-42") != collab.ColorFor("socket-42") {
		t.Error("color must be deterministic")
	}
}

func TestNewUserFallsBackToEmail(t *testing.T) {
	u := collab.NewUser("c1", collab.Identity{Email: "zoe@example.com"})
	if u.Name != "zoe@example.com" || u.Initial != "Z" || u.ID != "c1" {
		t.Errorf("user = %+v", u)
	}
	u = collab.NewUser("c2", collab.Identity{Email: "x@example.com", Name: "ana"})
	if u.Name != "ana" || u.Initial != "A" {
		t.Errorf("user = %+v", u)
	}
}

func TestJoinSendsRosterAndNotifiesOthers(t *testing.T) {
	h := newHub(t, collab.HubOptions{})
	a, b := h.Connect("a"), h.Connect("b")

	join(t, h, a, "w1", "a@example.com")
	env := next(t, a)
	if env.Type != collab.EventWorkspaceUsers {
		t.Fatalf("got %s", env.Type)
	}
	if users := decode[[]collab.User](t, env); len(users) != 1 {
		t.Fatalf("roster = %v", users)
	}

	join(t, h, b, "w1", "b@example.com")
	joined := decode[collab.UserJoined](t, next(t, a))
	if joined.User.ID != "b" || len(joined.Users) != 2 {
		t.Errorf("user-joined = %+v", joined)
	}
	env = next(t, b)
	if env.Type != collab.EventWorkspaceUsers || len(decode[[]collab.User](t, env)) != 2 {
		t.Errorf("b roster = %s", env.Data)
	}
	expectNone(t, b)
	if users := h.Users("w1"); users[0].ID != "a" || users[1].ID != "b" {
		t.Errorf("Users = %+v", users)
	}
}

func TestJoinLogsPeerNotEmail(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Options{Level: "info", Format: "json", Output: &buf})
	t.Cleanup(func() { log.Init(log.Options{Level: "error"}) })

	h := newHub(t, collab.HubOptions{})
	join(t, h, h.Connect("a"), "w1", "a@example.com")

	var rec map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, `"user joined"`) {
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				t.Fatalf("parse %q: %v", line, err)
			}
		}
	}
	if rec == nil {
		t.Fatalf("no join record in %q", buf.String())
	}
	if rec["peer"] != "a" || rec["active"] != float64(1) {
		t.Errorf("unexpected record %v", rec)
	}
	if strings.Contains(buf.String(), "a@example.com") {
		t.Errorf("email leaked into logs: %q", buf.String())
	}
}

func TestJoinOtherWorkspaceLeavesPrevious(t *testing.T) {
	h := newHub(t, collab.HubOptions{})
	a, b := h.Connect("a"), h.Connect("b")
	join(t, h, a, "w1", "a@example.com")
	join(t, h, b, "w1", "b@example.com")
	next(t, a)
	next(t, a)
	next(t, b)

	join(t, h, b, "w2", "b@example.com")
	left := decode[collab.UserLeft](t, next(t, a))
	if left.UserID != "b" || len(left.Users) != 1 {
		t.Errorf("user-left = %+v", left)
	}
	if got := h.Rooms(); len(got) != 2 {
		t.Errorf("rooms = %v", got)
	}
}

func TestDisconnectDeletesEmptyRoom(t *testing.T) {
	h := newHub(t, collab.HubOptions{})
	a := h.Connect("a")
	join(t, h, a, "w1", "a@example.com")
	next(t, a)
	h.Disconnect(a)
	if rooms := h.Rooms(); len(rooms) != 0 {
		t.Errorf("rooms = %v", rooms)
	}
	if _, ok := <-a.Outbox(); ok {
		t.Error("outbox not closed")
	}
}

func TestLeaveRequiresMembership(t *testing.T) {
	h := newHub(t, collab.HubOptions{})
	a := h.Connect("a")
	err := h.Handle(a, frame(t, collab.EventLeaveWorkspace, collab.LeaveWorkspace{WorkspaceID: "w1"}))
	if !errors.Is(err, collab.ErrNotJoined) {
		t.Errorf("err = %v", err)
	}
}

// ─────────────────────────────────────────────────────────────
// Relay
// ─────────────────────────────────────────────────────────────

func TestCursorRelayedOnlyForMembers(t *testing.T) {
	h := newHub(t, collab.HubOptions{})
	a, b, c := h.Connect("a"), h.Connect("b"), h.Connect("c")
	join(t, h, a, "w1", "a@example.com")
	join(t, h, b, "w1", "b@example.com")
	next(t, a)
	next(t, a)
	next(t, b)

	err := h.Handle(c, frame(t, collab.EventCursorMove, collab.CursorMove{WorkspaceID: "w1", X: 1, Y: 2}))
	if !errors.Is(err, collab.ErrNotJoined) {
		t.Fatalf("outsider cursor err = %v", err)
	}
	expectNone(t, a)

	move := collab.CursorMove{WorkspaceID: "w1", X: 40, Y: 60, Page: "ideation"}
	if err := h.Handle(a, frame(t, collab.EventCursorMove, move)); err != nil {
		t.Fatal(err)
	}
	upd := decode[collab.CursorUpdate](t, next(t, b))
	if upd.UserID != "a" || upd.X != 40 || upd.Y != 60 || upd.Page != "ideation" || upd.User.Email != "a@example.com" {
		t.Errorf("cursor-update = %+v", upd)
	}
	expectNone(t, a)
}

func TestGridUpdateFansOutWithSequence(t *testing.T) {
	var applied []domain.CanvasState
	h := newHub(t, collab.HubOptions{OnSnapshot: func(ws string, page domain.Page, st domain.CanvasState) {
		if ws != "w1" || page != domain.PageIdeation {
			t.Errorf("snapshot for %s/%s", ws, page)
		}
		applied = append(applied, st)
	}})
	a, b := h.Connect("a"), h.Connect("b")
	join(t, h, a, "w1", "a@example.com")
	join(t, h, b, "w1", "b@example.com")
	next(t, a)
	next(t, a)
	next(t, b)

	upd := collab.GridUpdate{WorkspaceID: "w1", Page: "ideation", UpdateType: collab.UpdateState, Data: stateJSON(t, sampleState())}
	for i := 0; i < 2; i++ {
		if err := h.Handle(a, frame(t, collab.EventGridUpdate, upd)); err != nil {
			t.Fatal(err)
		}
	}
	first := decode[collab.GridChange](t, next(t, b))
	second := decode[collab.GridChange](t, next(t, b))
	if first.UserID != "a" || first.Page != "ideation" || first.Timestamp != fixedNow.UnixMilli() {
		t.Errorf("grid-change = %+v", first)
	}
	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("seq = %d, %d", first.Seq, second.Seq)
	}
	expectNone(t, a)
	if len(applied) != 2 || applied[0].Items[0].ID != "a" {
		t.Errorf("applied = %+v", applied)
	}
}

func TestInvalidSnapshotIsDropped(t *testing.T) {
	h := newHub(t, collab.HubOptions{})
	a, b := h.Connect("a"), h.Connect("b")
	join(t, h, a, "w1", "a@example.com")
	join(t, h, b, "w1", "b@example.com")
	next(t, a)
	next(t, a)
	next(t, b)

	bad := collab.GridUpdate{
		WorkspaceID: "w1", Page: "ideation", UpdateType: collab.UpdateState,
		Data: json.RawMessage(`{"items":[{"id":"","kind":"blob","x":0,"y":0,"width":-1,"height":10}],"connections":[]}`),
	}
	if err := h.Handle(a, frame(t, collab.EventGridUpdate, bad)); err == nil {
		t.Fatal("expected validation error")
	}
	if env := next(t, a); env.Type != collab.EventError {
		t.Errorf("sender got %s", env.Type)
	}
	expectNone(t, b)
}

func TestPublishSkipsSnapshotsBeingApplied(t *testing.T) {
	var h *collab.Hub
	h = newHub(t, collab.HubOptions{OnSnapshot: func(ws string, page domain.Page, st domain.CanvasState) {
		if err := h.Publish(ws, page, st); err != nil {
			t.Error(err)
		}
	}})
	a, b := h.Connect("a"), h.Connect("b")
	join(t, h, a, "w1", "a@example.com")
	join(t, h, b, "w1", "b@example.com")
	next(t, a)
	next(t, a)
	next(t, b)

	upd := collab.GridUpdate{WorkspaceID: "w1", Page: "ideation", UpdateType: collab.UpdateState, Data: stateJSON(t, sampleState())}
	if err := h.Handle(a, frame(t, collab.EventGridUpdate, upd)); err != nil {
		t.Fatal(err)
	}
	next(t, b)
	expectNone(t, a)
	expectNone(t, b)

	if err := h.Publish("w1", domain.PageIdeation, sampleState()); err != nil {
		t.Fatal(err)
	}
	for _, p := range []*collab.Peer{a, b} {
		change := decode[collab.GridChange](t, next(t, p))
		if change.UserID != collab.ServerUserID || change.Seq != 2 {
			t.Errorf("%s got %+v", p.ID(), change)
		}
	}
}

func TestSlowPeerDropsOldestFrames(t *testing.T) {
	h := newHub(t, collab.HubOptions{SendBuffer: 2})
	a, b := h.Connect("a"), h.Connect("b")
	join(t, h, a, "w1", "a@example.com")
	join(t, h, b, "w1", "b@example.com")
	next(t, a)
	next(t, a)
	next(t, b)

	for i := 1; i <= 3; i++ {
		move := collab.CursorMove{WorkspaceID: "w1", X: float64(i)}
		if err := h.Handle(a, frame(t, collab.EventCursorMove, move)); err != nil {
			t.Fatal(err)
		}
	}
	if x := decode[collab.CursorUpdate](t, next(t, b)).X; x != 2 {
		t.Errorf("first queued x = %v, want 2", x)
	}
	if x := decode[collab.CursorUpdate](t, next(t, b)).X; x != 3 {
		t.Errorf("second queued x = %v, want 3", x)
	}
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d", b.Dropped())
	}
}

func TestUnknownEventRejected(t *testing.T) {
	h := newHub(t, collab.HubOptions{})
	a := h.Connect("a")
	if err := h.Handle(a, []byte(`{"type":"nope"}`)); err == nil {
		t.Error("expected error")
	}
	if err := h.Handle(a, []byte(`not json`)); err == nil {
		t.Error("expected decode error")
	}
}
