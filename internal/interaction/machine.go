// Package interaction turns pointer and keyboard events into canvas
// mutations. A Machine is driven from a single event loop and is not
// safe for concurrent use.
package interaction

import (
	"log/slog"

	"github.com/jareynolds/UbeCode-sub002/internal/canvas"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
	"github.com/jareynolds/UbeCode-sub002/internal/log"
)

type Mode string

const (
	Idle               Mode = "idle"
	PanningViewport    Mode = "panning-viewport"
	DraggingItem       Mode = "dragging-item"
	ResizingItem       Mode = "resizing-item"
	DrawingConnection  Mode = "drawing-connection"
	EditingInlineText  Mode = "editing-inline-text"
	DraggingNestedItem Mode = "dragging-nested-item"
	ResizingNestedItem Mode = "resizing-nested-item"
)

// TargetKind says what part of the canvas a pointer event hit.
type TargetKind int

const (
	OnBackground TargetKind = iota
	OnItem
	OnResizeHandle
	OnNestedItem
	OnNestedHandle
	OnConnectionAction
)

type Target struct {
	Kind         TargetKind
	ItemID       string
	ChildID      string
	Handle       geometry.Handle
	ConnectionID string
}

func Background() Target { return Target{Kind: OnBackground} }
func Item(id string) Target { return Target{Kind: OnItem, ItemID: id} }
func Connection(id string) Target { return Target{Kind: OnConnectionAction, ConnectionID: id} }
func Nested(parent, child string) Target { return Target{Kind: OnNestedItem, ItemID: parent, ChildID: child} }

func Handle(id string, h geometry.Handle) Target {
	return Target{Kind: OnResizeHandle, ItemID: id, Handle: h}
}

func NestedHandle(parent, child string, h geometry.Handle) Target {
	return Target{Kind: OnNestedHandle, ItemID: parent, ChildID: child, Handle: h}
}

// Status is a read-only view of the current mode and its payload.
type Status struct {
	Mode      Mode
	ItemID    string
	ChildID   string
	ChildKind domain.SubKind
	Handle    geometry.Handle
	Grab      geometry.Point
	StartRect geometry.Rect
	Buffer    string
}

type Option func(*Machine)

// WithConfirm installs the prompt shown before a connection is deleted.
// Without it deletions are refused.
func WithConfirm(fn func(connectionID string) bool) Option {
	return func(m *Machine) { m.confirm = fn }
}

// WithCursorListener receives the canvas position of every pointer move.
func WithCursorListener(fn func(p geometry.Point)) Option {
	return func(m *Machine) { m.onCursor = fn }
}

type Machine struct {
	store *canvas.Store
	vp    geometry.Viewport
	st    Status

	startPointer geometry.Point
	panStart     geometry.Point

	confirm  func(string) bool
	onCursor func(geometry.Point)
	logger   *slog.Logger
}

func New(store *canvas.Store, vp geometry.Viewport, opts ...Option) *Machine {
	m := &Machine{
		store:  store,
		vp:     vp,
		st:     Status{Mode: Idle},
		logger: log.WithComponent("interaction"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Machine) Mode() Mode { return m.st.Mode }
func (m *Machine) Status() Status { return m.st }
func (m *Machine) Store() *canvas.Store { return m.store }

func (m *Machine) SetViewport(vp geometry.Viewport) { m.vp = vp }
func (m *Machine) Viewport() geometry.Viewport { return m.vp }

func (m *Machine) toCanvas(screen geometry.Point) geometry.Point {
	return geometry.ScreenToCanvas(screen, m.vp, m.store.Transform())
}

func (m *Machine) reset() {
	m.st = Status{Mode: Idle}
}

// ── Pointer ────────────────────────────────────────────────

func (m *Machine) PointerDown(screen geometry.Point, target Target) {
	switch m.st.Mode {
	case EditingInlineText:
		m.CommitEdit()
	case DrawingConnection:
		m.finishConnection(target)
		return
	}

	p := m.toCanvas(screen)
	switch target.Kind {
	case OnBackground:
		t := m.store.Transform()
		m.panStart = geometry.Point{X: screen.X + t.ScrollLeft, Y: screen.Y + t.ScrollTop}
		m.st = Status{Mode: PanningViewport}

	case OnItem:
		it, ok := m.store.Item(target.ItemID)
		if !ok {
			return
		}
		m.st = Status{
			Mode:   DraggingItem,
			ItemID: it.ID,
			Grab:   p.Sub(geometry.Point{X: it.X, Y: it.Y}),
		}

	case OnResizeHandle:
		it, ok := m.store.Item(target.ItemID)
		if !ok {
			return
		}
		m.startPointer = p
		m.st = Status{
			Mode:      ResizingItem,
			ItemID:    it.ID,
			Handle:    target.Handle,
			StartRect: it.Bounds(),
		}

	case OnNestedItem, OnNestedHandle:
		parent, kind, ok := m.store.ParentOf(target.ChildID)
		if !ok || parent != target.ItemID {
			return
		}
		it, _ := m.store.Item(parent)
		sub, _ := m.store.Nested(target.ChildID)
		if target.Kind == OnNestedItem {
			origin := geometry.Point{X: it.X + sub.X, Y: it.Y + sub.Y}
			m.st = Status{Mode: DraggingNestedItem, ItemID: parent, ChildID: sub.ID, ChildKind: kind, Grab: p.Sub(origin)}
			return
		}
		m.startPointer = p
		m.st = Status{Mode: ResizingNestedItem, ItemID: parent, ChildID: sub.ID, ChildKind: kind, Handle: target.Handle, StartRect: sub.Bounds()}

	case OnConnectionAction:
		m.deleteConnection(target.ConnectionID)
	}
}

func (m *Machine) PointerMove(screen geometry.Point) {
	p := m.toCanvas(screen)
	if m.onCursor != nil {
		m.onCursor(p)
	}

	switch m.st.Mode {
	case PanningViewport:
		t := m.store.Transform()
		t.ScrollLeft = m.panStart.X - screen.X
		t.ScrollTop = m.panStart.Y - screen.Y
		m.store.SetTransform(t)

	case DraggingItem:
		pos := p.Sub(m.st.Grab)
		m.logIfErr(m.store.MoveItem(m.st.ItemID, pos.X, pos.Y))

	case ResizingItem:
		if _, ok := geometry.ParseHandle(string(m.st.Handle)); !ok {
			return
		}
		d := p.Sub(m.startPointer)
		r := geometry.ResizeRect(m.st.StartRect, m.st.Handle, d.X, d.Y, geometry.MinItemSize)
		m.logIfErr(m.store.SetBounds(m.st.ItemID, r))

	case DraggingNestedItem:
		parent, ok := m.store.Item(m.st.ItemID)
		if !ok {
			m.reset()
			return
		}
		local := p.Sub(geometry.Point{X: parent.X, Y: parent.Y}).Sub(m.st.Grab)
		m.logIfErr(m.store.MoveNested(m.st.ChildID, local.X, local.Y))

	case ResizingNestedItem:
		if _, ok := geometry.ParseHandle(string(m.st.Handle)); !ok {
			return
		}
		d := p.Sub(m.startPointer)
		r := geometry.ResizeRect(m.st.StartRect, m.st.Handle, d.X, d.Y, geometry.MinNestedSize)
		m.logIfErr(m.store.SetNestedBounds(m.st.ChildID, r))
	}
}

func (m *Machine) PointerUp() {
	switch m.st.Mode {
	case PanningViewport, DraggingItem, ResizingItem, DraggingNestedItem, ResizingNestedItem:
		m.reset()
	}
}

// ── Editing ────────────────────────────────────────────────

// DoubleClick starts inline editing of an item's primary text or of a
// nested text box.
func (m *Machine) DoubleClick(target Target) {
	if m.st.Mode == EditingInlineText {
		m.CommitEdit()
	}
	switch target.Kind {
	case OnItem:
		it, ok := m.store.Item(target.ItemID)
		if !ok {
			return
		}
		m.st = Status{Mode: EditingInlineText, ItemID: it.ID, Buffer: it.PrimaryText()}
	case OnNestedItem:
		_, kind, ok := m.store.ParentOf(target.ChildID)
		if !ok || kind != domain.SubTextBox {
			return
		}
		sub, _ := m.store.Nested(target.ChildID)
		m.st = Status{Mode: EditingInlineText, ItemID: target.ItemID, ChildID: sub.ID, ChildKind: kind, Buffer: sub.Content}
	}
}

// Edit replaces the inline edit buffer.
func (m *Machine) Edit(text string) {
	if m.st.Mode == EditingInlineText {
		m.st.Buffer = text
	}
}

// CommitEdit writes the edit buffer back and returns to Idle.
func (m *Machine) CommitEdit() {
	if m.st.Mode != EditingInlineText {
		return
	}
	buf := m.st.Buffer
	if m.st.ChildID != "" {
		m.logIfErr(m.store.UpdateNested(m.st.ChildID, func(sub *domain.SubItem) { sub.Content = buf }))
	} else {
		m.logIfErr(m.store.UpdateItem(m.st.ItemID, func(it *domain.Item) { it.SetPrimaryText(buf) }))
	}
	m.reset()
}

// ── Connections ────────────────────────────────────────────

// StartConnect toggles connection drawing from itemID.
func (m *Machine) StartConnect(itemID string) {
	if m.st.Mode == DrawingConnection && m.st.ItemID == itemID {
		m.reset()
		return
	}
	if _, ok := m.store.Item(itemID); !ok {
		return
	}
	if m.st.Mode == EditingInlineText {
		m.CommitEdit()
	}
	m.st = Status{Mode: DrawingConnection, ItemID: itemID}
}

func (m *Machine) finishConnection(target Target) {
	switch target.Kind {
	case OnItem, OnResizeHandle, OnNestedItem, OnNestedHandle:
		if target.ItemID == m.st.ItemID {
			return
		}
		m.logIfErr(m.store.AddConnection(m.st.ItemID, target.ItemID))
		m.reset()
	case OnBackground:
		m.reset()
	}
}

func (m *Machine) deleteConnection(id string) {
	if m.confirm == nil || !m.confirm(id) {
		return
	}
	m.logIfErr(m.store.RemoveConnection(id))
}

// Cancel handles Escape: it abandons connection drawing and inline edits
// without committing, and ends any drag.
func (m *Machine) Cancel() {
	m.reset()
}

// ── Zoom ───────────────────────────────────────────────────

// Wheel zooms around the pointer when the zoom modifier is held and
// scrolls otherwise.
func (m *Machine) Wheel(screen geometry.Point, deltaX, deltaY float64, zoomModifier bool) {
	t := m.store.Transform()
	if zoomModifier {
		m.store.SetTransform(geometry.ZoomAt(screen, m.vp, geometry.ZoomDeltaFromWheel(deltaY), t))
		return
	}
	t.ScrollLeft += deltaX
	t.ScrollTop += deltaY
	m.store.SetTransform(t)
}

func (m *Machine) ZoomIn() {
	m.store.SetTransform(geometry.ZoomStep(m.vp, m.store.Transform(), geometry.ZoomButtonStep))
}

func (m *Machine) ZoomOut() {
	m.store.SetTransform(geometry.ZoomStep(m.vp, m.store.Transform(), -geometry.ZoomButtonStep))
}

func (m *Machine) ResetView() {
	m.store.SetTransform(geometry.Identity())
}

// PlaceAtCenter adds it centered in the visible viewport.
func (m *Machine) PlaceAtCenter(it domain.Item) (domain.Item, error) {
	r := it.Bounds()
	if it.Kind == domain.KindCard && it.Width <= 0 {
		r.Width, r.Height = domain.StoryCardWidth, domain.StoryCardHeight
	}
	p := geometry.VisibleCenter(m.vp, m.store.Transform(), r.Width, r.Height)
	it.X, it.Y = p.X, p.Y
	return m.store.AddItem(it)
}

func (m *Machine) logIfErr(_ domain.CanvasState, err error) {
	if err != nil {
		m.logger.Debug("interaction ignored", slog.String("mode", string(m.st.Mode)), slog.String("err", err.Error()))
	}
}
