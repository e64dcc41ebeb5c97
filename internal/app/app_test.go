package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jareynolds/UbeCode-sub002/internal/collab"
	"github.com/jareynolds/UbeCode-sub002/internal/config"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

// ── Fixtures ───────────────────────────────────────────────

type fixture struct {
	app    *App
	srv    *httptest.Server
	folder string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "canvas.db")
	cfg.Export.WatchConception = false
	cfg.Logging.Level = "error"

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.canvas.MinUndoInterval = 0
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})

	f := &fixture{app: a, srv: srv, folder: t.TempDir()}
	f.createWorkspace(t, "w1", f.folder)
	return f
}

func (f *fixture) createWorkspace(t *testing.T, id, folder string) {
	t.Helper()
	body := `{"id":"` + id + `","name":"Workspace ` + id + `","projectFolder":` + quote(folder) + `}`
	resp := f.do(t, http.MethodPost, "/api/workspaces", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create workspace: status %d", resp.StatusCode)
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func twoIdeas() domain.CanvasState {
	st := domain.EmptyState()
	st.Items = append(st.Items,
		domain.NewTextItem("a-1", "Idea", 0, 0),
		domain.NewTextItem("b-2", "Problem", 400, 0),
	)
	st.Connections = append(st.Connections, domain.Connection{ID: "c1", From: "a-1", To: "b-2"})
	return st
}

func stateBody(t *testing.T, st domain.CanvasState) string {
	t.Helper()
	raw, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

const ideation = "/api/workspaces/w1/pages/ideation"

// ── Routes ─────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", "")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestWorkspacesListAndValidate(t *testing.T) {
	f := newFixture(t)
	f.createWorkspace(t, "w2", "")

	list := decode[[]domain.Workspace](t, f.do(t, http.MethodGet, "/api/workspaces", ""))
	if len(list) != 2 || list[0].ID != "w1" {
		t.Fatalf("workspaces = %+v", list)
	}
	if resp := f.do(t, http.MethodPost, "/api/workspaces", `{"name":"  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank name: status %d", resp.StatusCode)
	}
}

func TestStatePutThenGet(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPut, ideation+"/state", stateBody(t, twoIdeas()))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT state: status %d", resp.StatusCode)
	}

	st := decode[domain.CanvasState](t, f.do(t, http.MethodGet, ideation+"/state", ""))
	if len(st.Items) != 2 || len(st.Connections) != 1 {
		t.Fatalf("state = %d items %d connections", len(st.Items), len(st.Connections))
	}
}

func TestStateRejectsInvalidSnapshot(t *testing.T) {
	f := newFixture(t)
	body := `{"items":[{"id":"a","kind":"text","x":0,"y":0,"width":0,"height":10}],"connections":[]}`
	if resp := f.do(t, http.MethodPut, ideation+"/state", body); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestUnknownTargets(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodGet, "/api/workspaces/w1/pages/kanban/state", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown page: status %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/workspaces/nope/pages/ideation/state", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown workspace: status %d", resp.StatusCode)
	}
}

func TestUndoRedoRoutes(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, ideation+"/state", stateBody(t, twoIdeas()))

	st := decode[domain.CanvasState](t, f.do(t, http.MethodPost, ideation+"/undo", ""))
	if len(st.Items) != 0 {
		t.Fatalf("expected empty canvas after undo, got %d items", len(st.Items))
	}
	if resp := f.do(t, http.MethodPost, ideation+"/undo", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("undo past the start: status %d", resp.StatusCode)
	}
	st = decode[domain.CanvasState](t, f.do(t, http.MethodPost, ideation+"/redo", ""))
	if len(st.Items) != 2 {
		t.Fatalf("expected 2 items after redo, got %d", len(st.Items))
	}
}

func TestExportImportRoutes(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, ideation+"/state", stateBody(t, twoIdeas()))

	resp := f.do(t, http.MethodPost, ideation+"/export", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: status %d", resp.StatusCode)
	}
	var exported struct {
		Records []string `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&exported); err != nil || len(exported.Records) != 2 {
		t.Fatalf("export = %+v, %v", exported, err)
	}

	f.createWorkspace(t, "w2", f.folder)
	resp = f.do(t, http.MethodPost, "/api/workspaces/w2/pages/ideation/import", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import: status %d", resp.StatusCode)
	}
	var sum struct {
		Items       int `json:"items"`
		Connections int `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil || sum.Items != 2 || sum.Connections != 1 {
		t.Fatalf("import = %+v, %v", sum, err)
	}
}

func TestExportWithoutFolder(t *testing.T) {
	f := newFixture(t)
	f.createWorkspace(t, "bare", "")
	if resp := f.do(t, http.MethodPost, "/api/workspaces/bare/pages/ideation/export", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPreviews(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodGet, ideation+"/preview.png", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("empty canvas preview: status %d", resp.StatusCode)
	}
	f.do(t, http.MethodPut, ideation+"/state", stateBody(t, twoIdeas()))

	cases := []struct {
		path   string
		ctype  string
		prefix []byte
	}{
		{ideation + "/preview.png", "image/png", []byte("\x89PNG")},
		{ideation + "/preview.pdf", "application/pdf", []byte("%PDF-")},
	}
	for _, c := range cases {
		resp := f.do(t, http.MethodGet, c.path, "")
		if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != c.ctype {
			t.Errorf("%s: status %d type %q", c.path, resp.StatusCode, resp.Header.Get("Content-Type"))
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		if !bytes.HasPrefix(body, c.prefix) {
			t.Errorf("%s: unexpected body prefix %q", c.path, body[:min(len(body), 8)])
		}
	}
}

// ── Collaboration over /ws ─────────────────────────────────

func dialHub(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	raw, _ := json.Marshal(data)
	if err := conn.WriteJSON(collab.Envelope{Type: typ, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func read(t *testing.T, conn *websocket.Conn) collab.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env collab.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestHubFollowsServerAndPeers(t *testing.T) {
	f := newFixture(t)
	conn := dialHub(t, f)
	send(t, conn, collab.EventJoinWorkspace, collab.JoinWorkspace{
		WorkspaceID: "w1", User: collab.Identity{Email: "ada@example.com"},
	})
	if env := read(t, conn); env.Type != collab.EventWorkspaceUsers {
		t.Fatalf("expected roster, got %s", env.Type)
	}

	// A server-side edit reaches the room.
	f.do(t, http.MethodPut, ideation+"/state", stateBody(t, twoIdeas()))
	env := read(t, conn)
	if env.Type != collab.EventGridChange {
		t.Fatalf("expected grid-change, got %s", env.Type)
	}
	var change collab.GridChange
	if err := json.Unmarshal(env.Data, &change); err != nil {
		t.Fatal(err)
	}
	if change.UserID != collab.ServerUserID || change.Page != "ideation" || change.Seq != 1 {
		t.Fatalf("change = %+v", change)
	}

	// A peer snapshot becomes the server copy.
	one := domain.EmptyState()
	one.Items = append(one.Items, domain.NewTextItem("z", "From peer", 10, 10))
	raw, _ := json.Marshal(one)
	send(t, conn, collab.EventGridUpdate, collab.GridUpdate{
		WorkspaceID: "w1", Page: "ideation", UpdateType: collab.UpdateState, Data: raw,
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, _ := f.app.canvas.State(context.Background(), "w1", domain.PageIdeation)
		if len(st.Items) == 1 && st.Items[0].ID == "z" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("peer snapshot not applied, have %d items", len(st.Items))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ── CLI ────────────────────────────────────────────────────

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()
	want := []string{"serve", "mcp", "export", "import", "render", "mirror"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("missing subcommand %q: %v", name, err)
		}
	}
}

func TestRenderCommandRejectsExtension(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"render", "--config", filepath.Join(t.TempDir(), "none.yaml"),
		"--workspace", "w1", "--out", "canvas.svg"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), ".png or .pdf") {
		t.Fatalf("expected extension error, got %v", err)
	}
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "canvasd.yaml")
	cfg := config.Defaults()
	cfg.Storage.DBPath = filepath.Join(dir, "canvas.db")
	cfg.Logging.Level = "error"
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	folder := t.TempDir()
	if err := a.workspaces.CreateWorkspace(&domain.Workspace{ID: "w1", Name: "Demo", ProjectFolder: folder}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.canvas.ReplaceState(context.Background(), "w1", domain.PageIdeation, twoIdeas()); err != nil {
		t.Fatal(err)
	}
	a.Close()

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"export", "--config", cfgPath, "--workspace", "w1", "--page", "ideation"})
	if err := root.Execute(); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out.String(), "IDEA-") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
