package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/recordstore"
	"github.com/jareynolds/UbeCode-sub002/internal/service"
	"github.com/jareynolds/UbeCode-sub002/internal/storage"
)

// ── Fixtures ───────────────────────────────────────────────

type fixture struct {
	srv    *Server
	folder string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "canvas.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	workspaces := storage.NewWorkspaceStore(db)
	cs := service.NewCanvasService(storage.NewCanvasStore(db), storage.NewUndoStore(db), nil)
	ts := service.NewTransferService(cs, workspaces, recordstore.NewFileStore(""), nil)

	f := &fixture{folder: t.TempDir()}
	for _, w := range []domain.Workspace{
		{ID: "w1", Name: "Demo", ProjectFolder: f.folder},
		{ID: "w2", Name: "Copy", ProjectFolder: f.folder},
	} {
		if err := workspaces.CreateWorkspace(&w); err != nil {
			t.Fatalf("create workspace: %v", err)
		}
	}
	f.srv = New(Deps{Canvas: cs, Transfer: ts, Workspaces: workspaces})
	return f
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args map[string]any) string {
	t.Helper()
	res, err := h(context.Background(), makeReq(args))
	if err != nil {
		t.Fatalf("tool error: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool result error: %s", resultText(res))
	}
	return resultText(res)
}

func (f *fixture) activate(t *testing.T, page string) {
	t.Helper()
	call(t, f.srv.handleSetActiveCanvas, map[string]any{"workspaceId": "w1", "page": page})
}

func (f *fixture) state(t *testing.T, ws string, page domain.Page) domain.CanvasState {
	t.Helper()
	st, err := f.srv.canvas.State(context.Background(), ws, page)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func addText(t *testing.T, f *fixture, content string) itemSummary {
	t.Helper()
	var it itemSummary
	if err := json.Unmarshal([]byte(call(t, f.srv.handleAddTextItem, map[string]any{"content": content})), &it); err != nil {
		t.Fatal(err)
	}
	return it
}

// ── Navigation ─────────────────────────────────────────────

func TestSetActiveCanvas(t *testing.T) {
	f := newFixture(t)
	if _, err := f.srv.handleSetActiveCanvas(context.Background(), makeReq(map[string]any{"workspaceId": "nope"})); err == nil {
		t.Error("expected error for unknown workspace")
	}
	if _, err := f.srv.handleAddTextItem(context.Background(), makeReq(map[string]any{"content": "x"})); err == nil {
		t.Error("expected error without an active canvas")
	}
	f.activate(t, "storyboard")
	ws, page, err := f.srv.resolveTarget(map[string]any{})
	if err != nil || ws != "w1" || page != domain.PageStoryboard {
		t.Errorf("target = %s/%s, %v", ws, page, err)
	}
}

func TestListWorkspaces(t *testing.T) {
	f := newFixture(t)
	out := call(t, f.srv.handleListWorkspaces, nil)
	if !strings.Contains(out, `"w1"`) || !strings.Contains(out, `"w2"`) {
		t.Errorf("list = %s", out)
	}
}

// ── Items ──────────────────────────────────────────────────

func TestAddTextItemAutoLayout(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "ideation")

	a := addText(t, f, "Idea\nmore detail")
	b := addText(t, f, "Problem")
	if a.Title != "Idea" || a.X != Padding || a.Y != Padding {
		t.Errorf("first item = %+v", a)
	}
	ra := domain.NewTextItem("", "", a.X, a.Y).Bounds()
	rb := domain.NewTextItem("", "", b.X, b.Y).Bounds()
	if ra.Intersects(rb) {
		t.Errorf("items overlap: %+v %+v", a, b)
	}

	var listed canvasSummary
	if err := json.Unmarshal([]byte(call(t, f.srv.handleListItems, map[string]any{"kind": "text"})), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Items) != 2 || listed.Page != "ideation" {
		t.Errorf("listed = %+v", listed)
	}
}

func TestStoryCardNeedsStoryboard(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "ideation")
	if _, err := f.srv.handleAddShapeItem(context.Background(), makeReq(map[string]any{"shapeType": "circle"})); err != nil {
		t.Fatal(err)
	}

	out := call(t, f.srv.handleAddStoryCard, map[string]any{"title": "Checkout", "status": "completed"})
	var card itemSummary
	if err := json.Unmarshal([]byte(out), &card); err != nil {
		t.Fatal(err)
	}
	if card.Kind != "card" || card.Status != "completed" {
		t.Errorf("card = %+v", card)
	}
	if n := len(f.state(t, "w1", domain.PageStoryboard).Items); n != 1 {
		t.Errorf("storyboard items = %d", n)
	}

	_, err := f.srv.handleAddTextItem(context.Background(), makeReq(map[string]any{"content": "x", "page": "storyboard"}))
	if err == nil {
		t.Error("text item accepted on the storyboard")
	}
}

func TestMoveResizeConnectDelete(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "ideation")
	a := addText(t, f, "Idea")
	b := addText(t, f, "Problem")

	call(t, f.srv.handleMoveItem, map[string]any{"itemId": a.ID, "x": 10.0, "y": 20.0})
	call(t, f.srv.handleResizeItem, map[string]any{"itemId": a.ID, "width": 10.0, "height": 400.0})
	st := f.state(t, "w1", domain.PageIdeation)
	got, _ := st.Find(a.ID)
	if got.X != 10 || got.Y != 20 || got.Width != 50 || got.Height != 400 {
		t.Errorf("item after move/resize = %+v", got.Bounds())
	}

	call(t, f.srv.handleResizeItem, map[string]any{"itemId": b.ID, "handle": "se", "dx": 100.0, "dy": 0.0})
	got, _ = f.state(t, "w1", domain.PageIdeation).Find(b.ID)
	if got.Width != 400 {
		t.Errorf("width after handle drag = %v", got.Width)
	}

	call(t, f.srv.handleConnectItems, map[string]any{"fromId": a.ID, "toId": b.ID})
	again := call(t, f.srv.handleConnectItems, map[string]any{"fromId": a.ID, "toId": b.ID})
	if !strings.Contains(again, "already connected") {
		t.Errorf("second connect = %s", again)
	}
	call(t, f.srv.handleConnectItems, map[string]any{"fromId": a.ID, "toId": a.ID})
	if n := len(f.state(t, "w1", domain.PageIdeation).Connections); n != 1 {
		t.Fatalf("connections = %d", n)
	}

	call(t, f.srv.handleDeleteItem, map[string]any{"itemId": b.ID})
	st = f.state(t, "w1", domain.PageIdeation)
	if len(st.Items) != 1 || len(st.Connections) != 0 {
		t.Errorf("after delete: %d items, %d connections", len(st.Items), len(st.Connections))
	}
	if _, err := f.srv.handleMoveItem(context.Background(), makeReq(map[string]any{"itemId": b.ID, "x": 1.0, "y": 1.0})); err == nil {
		t.Error("expected error moving a deleted item")
	}
}

func TestArrangeItems(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "ideation")
	for i := 0; i < 5; i++ {
		call(t, f.srv.handleAddTextItem, map[string]any{"content": "card", "x": 0.0, "y": 0.0})
	}
	call(t, f.srv.handleArrangeItems, map[string]any{})
	st := f.state(t, "w1", domain.PageIdeation)
	for i := range st.Items {
		for j := i + 1; j < len(st.Items); j++ {
			if st.Items[i].Bounds().Intersects(st.Items[j].Bounds()) {
				t.Errorf("items %d and %d overlap after arrange", i, j)
			}
		}
	}
}

// ── Transfer ───────────────────────────────────────────────

func TestExportThenImportIntoOtherWorkspace(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "ideation")
	a := addText(t, f, "Idea")
	b := addText(t, f, "Problem")
	call(t, f.srv.handleConnectItems, map[string]any{"fromId": a.ID, "toId": b.ID})

	var res service.ExportResult
	if err := json.Unmarshal([]byte(call(t, f.srv.handleExportCanvas, map[string]any{})), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %v", res.Records)
	}
	for _, name := range res.Records {
		if _, err := os.Stat(filepath.Join(f.folder, "conception", name)); err != nil {
			t.Errorf("record %s: %v", name, err)
		}
	}

	var sum service.ImportSummary
	if err := json.Unmarshal([]byte(call(t, f.srv.handleImportCanvas, map[string]any{"workspaceId": "w2"})), &sum); err != nil {
		t.Fatal(err)
	}
	st := f.state(t, "w2", domain.PageIdeation)
	if sum.Items != 2 || len(st.Items) != 2 || len(st.Connections) != 1 {
		t.Errorf("import summary %+v, state %d items %d connections", sum, len(st.Items), len(st.Connections))
	}
}

// ── Resources ──────────────────────────────────────────────

func TestParseStateURI(t *testing.T) {
	ws, page, err := parseStateURI("canvas://workspace/w1/storyboard/state")
	if err != nil || ws != "w1" || page != domain.PageStoryboard {
		t.Errorf("got %s/%s, %v", ws, page, err)
	}
	for _, bad := range []string{
		"canvas://workspace//ideation/state",
		"canvas://workspace/w1/kanban/state",
		"notes://page/1/blocks",
	} {
		if _, _, err := parseStateURI(bad); err == nil {
			t.Errorf("expected error for %s", bad)
		}
	}
}

func TestStateResource(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "ideation")
	addText(t, f, "Idea")

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "canvas://workspace/w1/ideation/state"
	contents, err := f.srv.handleStateResource(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	var st domain.CanvasState
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatal(err)
	}
	if len(st.Items) != 1 || st.Items[0].Title() != "Idea" {
		t.Errorf("state = %+v", st)
	}
}
