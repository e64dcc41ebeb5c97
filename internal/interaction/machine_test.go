package interaction_test

import (
	"math"
	"testing"

	"github.com/jareynolds/UbeCode-sub002/internal/canvas"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
	"github.com/jareynolds/UbeCode-sub002/internal/interaction"
)

var viewport = geometry.Viewport{Left: 0, Top: 0, Width: 800, Height: 600}

func setup(t *testing.T, opts ...interaction.Option) (*interaction.Machine, *canvas.Store) {
	t.Helper()
	s := canvas.New()
	for _, it := range []domain.Item{
		domain.NewTextItem("a", "Idea", 0, 0),
		domain.NewTextItem("b", "Problem", 500, 0),
	} {
		if _, err := s.AddItem(it); err != nil {
			t.Fatal(err)
		}
	}
	return interaction.New(s, viewport, opts...), s
}

func pt(x, y float64) geometry.Point { return geometry.Point{X: x, Y: y} }

// ── Drag and pan ───────────────────────────────────────────

func TestDragItemKeepsGrabOffset(t *testing.T) {
	m, s := setup(t)
	s.SetTransform(geometry.Transform{Zoom: 2, ScrollLeft: 100, ScrollTop: 50})

	// canvas point under (120,70) is ((120+100)/2, (70+50)/2) = (110,60)
	m.PointerDown(pt(120, 70), interaction.Item("a"))
	if m.Mode() != interaction.DraggingItem {
		t.Fatalf("expected dragging, got %s", m.Mode())
	}
	m.PointerMove(pt(220, 170)) // canvas (160,110)
	m.PointerUp()

	a, _ := s.Item("a")
	if a.X != 50 || a.Y != 50 {
		t.Errorf("expected item at (50,50), got (%v,%v)", a.X, a.Y)
	}
	if m.Mode() != interaction.Idle {
		t.Errorf("expected idle after pointer up, got %s", m.Mode())
	}
}

func TestPanUsesRawScreenDelta(t *testing.T) {
	m, s := setup(t)
	s.SetTransform(geometry.Transform{Zoom: 2, ScrollLeft: 10, ScrollTop: 20})

	m.PointerDown(pt(300, 300), interaction.Background())
	if m.Mode() != interaction.PanningViewport {
		t.Fatalf("expected panning, got %s", m.Mode())
	}
	m.PointerMove(pt(250, 280))
	tr := s.Transform()
	if tr.ScrollLeft != 60 || tr.ScrollTop != 40 || tr.Zoom != 2 {
		t.Errorf("unexpected transform %+v", tr)
	}
	m.PointerUp()
	if m.Mode() != interaction.Idle {
		t.Errorf("expected idle, got %s", m.Mode())
	}
}

func TestCursorListener(t *testing.T) {
	var got []geometry.Point
	m, _ := setup(t, interaction.WithCursorListener(func(p geometry.Point) { got = append(got, p) }))
	m.PointerMove(pt(10, 20))
	if len(got) != 1 || got[0] != pt(10, 20) {
		t.Errorf("unexpected cursor events %+v", got)
	}
}

// ── Resize ─────────────────────────────────────────────────

func TestResizeFromStartRect(t *testing.T) {
	m, s := setup(t)
	m.PointerDown(pt(300, 150), interaction.Handle("a", geometry.HandleSE))
	m.PointerMove(pt(350, 170))
	m.PointerMove(pt(400, 200)) // cumulative delta (100,50) from the start
	m.PointerUp()

	a, _ := s.Item("a")
	if a.Width != 400 || a.Height != 200 || a.X != 0 || a.Y != 0 {
		t.Errorf("unexpected bounds %+v", a.Bounds())
	}
}

func TestResizeFloor(t *testing.T) {
	m, s := setup(t)
	m.PointerDown(pt(0, 0), interaction.Handle("a", geometry.HandleNW))
	m.PointerMove(pt(1000, 1000))
	a, _ := s.Item("a")
	if a.Width != geometry.MinItemSize || a.Height != geometry.MinItemSize {
		t.Errorf("floor violated: %+v", a.Bounds())
	}
	if a.X+a.Width != 300 || a.Y+a.Height != 150 {
		t.Errorf("opposite corner moved: %+v", a.Bounds())
	}
}

func TestResizeMalformedHandleIsNoop(t *testing.T) {
	m, s := setup(t)
	rev := s.Revision()
	m.PointerDown(pt(0, 0), interaction.Handle("a", geometry.Handle("diagonal")))
	m.PointerMove(pt(90, 90))
	m.PointerUp()
	if s.Revision() != rev {
		t.Error("malformed handle mutated the store")
	}
}

// ── Connections ────────────────────────────────────────────

func TestConnectFlow(t *testing.T) {
	m, s := setup(t)
	m.StartConnect("a")
	if m.Mode() != interaction.DrawingConnection {
		t.Fatalf("expected drawing, got %s", m.Mode())
	}
	m.PointerDown(pt(10, 10), interaction.Item("a")) // self target ignored
	if m.Mode() != interaction.DrawingConnection || len(s.State().Connections) != 0 {
		t.Fatal("self connection should be ignored")
	}
	m.PointerDown(pt(510, 10), interaction.Item("b"))
	st := s.State()
	if len(st.Connections) != 1 || st.Connections[0].From != "a" || st.Connections[0].To != "b" {
		t.Fatalf("unexpected connections %+v", st.Connections)
	}
	if m.Mode() != interaction.Idle {
		t.Errorf("expected idle after commit, got %s", m.Mode())
	}

	// second attempt to the same target is a silent no-op
	m.StartConnect("a")
	m.PointerDown(pt(510, 10), interaction.Item("b"))
	if len(s.State().Connections) != 1 {
		t.Error("duplicate connection created")
	}
}

func TestConnectCancel(t *testing.T) {
	m, s := setup(t)
	m.StartConnect("a")
	m.StartConnect("a")
	if m.Mode() != interaction.Idle {
		t.Errorf("second connect on same item should cancel, got %s", m.Mode())
	}
	m.StartConnect("a")
	m.Cancel()
	m.PointerDown(pt(510, 10), interaction.Item("b"))
	m.PointerUp()
	if len(s.State().Connections) != 0 {
		t.Error("escape should not commit a connection")
	}
}

func TestDeleteConnectionNeedsConfirmation(t *testing.T) {
	answer := false
	m, s := setup(t, interaction.WithConfirm(func(string) bool { return answer }))
	st, _ := s.AddConnection("a", "b")
	id := st.Connections[0].ID

	m.PointerDown(pt(400, 75), interaction.Connection(id))
	if len(s.State().Connections) != 1 {
		t.Fatal("connection deleted without confirmation")
	}
	answer = true
	m.PointerDown(pt(400, 75), interaction.Connection(id))
	if len(s.State().Connections) != 0 {
		t.Error("confirmed delete did not remove the connection")
	}
}

// ── Editing ────────────────────────────────────────────────

func TestInlineEditCommit(t *testing.T) {
	m, s := setup(t)
	m.DoubleClick(interaction.Item("a"))
	if st := m.Status(); st.Mode != interaction.EditingInlineText || st.Buffer != "Idea" {
		t.Fatalf("unexpected status %+v", st)
	}
	m.Edit("Better idea")
	m.CommitEdit()
	a, _ := s.Item("a")
	if a.Text.Content != "Better idea" || m.Mode() != interaction.Idle {
		t.Errorf("edit not committed: %q %s", a.Text.Content, m.Mode())
	}
}

func TestInlineEditEscapeDiscards(t *testing.T) {
	m, s := setup(t)
	m.DoubleClick(interaction.Item("a"))
	m.Edit("throwaway")
	m.Cancel()
	a, _ := s.Item("a")
	if a.Text.Content != "Idea" {
		t.Errorf("escape should discard, got %q", a.Text.Content)
	}
}

func TestInlineEditCommitsOnBlur(t *testing.T) {
	m, s := setup(t)
	m.DoubleClick(interaction.Item("a"))
	m.Edit("blurred")
	m.PointerDown(pt(700, 500), interaction.Background())
	a, _ := s.Item("a")
	if a.Text.Content != "blurred" {
		t.Errorf("pointer down elsewhere should commit, got %q", a.Text.Content)
	}
	if m.Mode() != interaction.PanningViewport {
		t.Errorf("expected panning after blur, got %s", m.Mode())
	}
}

// ── Nested ─────────────────────────────────────────────────

func TestNestedTextBoxDragResizeEdit(t *testing.T) {
	m, s := setup(t)
	s.MoveItem("a", 100, 100)
	box, err := s.AddNested("a", domain.SubTextBox, domain.SubItem{X: 10, Y: 10, Width: 80, Height: 40, Content: "note"})
	if err != nil {
		t.Fatal(err)
	}

	m.PointerDown(pt(115, 115), interaction.Nested("a", box.ID))
	if m.Mode() != interaction.DraggingNestedItem {
		t.Fatalf("expected nested drag, got %s", m.Mode())
	}
	m.PointerMove(pt(135, 145))
	m.PointerUp()
	if got, _ := s.Nested(box.ID); got.X != 30 || got.Y != 40 {
		t.Errorf("expected nested at (30,40), got (%v,%v)", got.X, got.Y)
	}

	m.PointerDown(pt(210, 180), interaction.NestedHandle("a", box.ID, geometry.HandleSE))
	m.PointerMove(pt(100, 100))
	m.PointerUp()
	if got, _ := s.Nested(box.ID); got.Width != geometry.MinNestedSize || got.Height != geometry.MinNestedSize {
		t.Errorf("nested floor violated: %+v", got)
	}

	m.DoubleClick(interaction.Nested("a", box.ID))
	m.Edit("edited")
	m.CommitEdit()
	if got, _ := s.Nested(box.ID); got.Content != "edited" {
		t.Errorf("nested edit lost: %q", got.Content)
	}
}

// ── Zoom ───────────────────────────────────────────────────

func TestWheelZoomPinsPointer(t *testing.T) {
	m, s := setup(t)
	before := geometry.ScreenToCanvas(pt(400, 300), viewport, s.Transform())
	m.Wheel(pt(400, 300), 0, -200, true) // +0.5
	tr := s.Transform()
	if math.Abs(tr.Zoom-1.5) > 1e-9 {
		t.Fatalf("expected zoom 1.5, got %v", tr.Zoom)
	}
	after := geometry.ScreenToCanvas(pt(400, 300), viewport, tr)
	if math.Abs(before.X-after.X) > 1e-6 || math.Abs(before.Y-after.Y) > 1e-6 {
		t.Errorf("pinned point moved %+v -> %+v", before, after)
	}
}

func TestWheelScrollsWithoutModifier(t *testing.T) {
	m, s := setup(t)
	m.Wheel(pt(0, 0), 30, 40, false)
	if tr := s.Transform(); tr.ScrollLeft != 30 || tr.ScrollTop != 40 || tr.Zoom != 1 {
		t.Errorf("unexpected transform %+v", tr)
	}
}

func TestZoomButtonsAndReset(t *testing.T) {
	m, s := setup(t)
	for i := 0; i < 40; i++ {
		m.ZoomIn()
	}
	if z := s.Transform().Zoom; z != geometry.MaxZoom {
		t.Errorf("expected clamp at %v, got %v", geometry.MaxZoom, z)
	}
	m.ResetView()
	if tr := s.Transform(); tr != geometry.Identity() {
		t.Errorf("expected identity, got %+v", tr)
	}
	m.ZoomOut()
	if z := s.Transform().Zoom; math.Abs(z-0.9) > 1e-9 {
		t.Errorf("expected 0.9, got %v", z)
	}
}

func TestPlaceAtCenter(t *testing.T) {
	m, s := setup(t)
	s.SetTransform(geometry.Transform{Zoom: 1, ScrollLeft: 1000, ScrollTop: 0})
	it, err := m.PlaceAtCenter(domain.Item{Kind: domain.KindText})
	if err != nil {
		t.Fatal(err)
	}
	if it.X != 1250 || it.Y != 225 {
		t.Errorf("expected (1250,225), got (%v,%v)", it.X, it.Y)
	}
}
