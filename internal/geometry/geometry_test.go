package geometry

import (
	"math"
	"testing"
)

const eps = 1e-6

func near(a, b Point) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps
}

// ── Transform ──────────────────────────────────────────────

func TestScreenCanvasInverse(t *testing.T) {
	viewports := []Viewport{
		{Width: 800, Height: 600},
		{Left: 120, Top: 64, Width: 1920, Height: 1080},
		{Left: -30, Top: 5.5, Width: 320, Height: 200},
	}
	transforms := []Transform{
		{Zoom: 1},
		{Zoom: 0.1, ScrollLeft: 12.5, ScrollTop: -40},
		{Zoom: 3, ScrollLeft: 2400, ScrollTop: 1800},
		{Zoom: 1.37, ScrollLeft: -999.25, ScrollTop: 77},
	}
	points := []Point{{0, 0}, {400, 300}, {-1234.5, 98765.25}, {0.001, -0.001}}

	for _, vp := range viewports {
		for _, tr := range transforms {
			for _, p := range points {
				got := ScreenToCanvas(CanvasToScreen(p, vp, tr), vp, tr)
				if !near(got, p) {
					t.Errorf("vp=%+v t=%+v: round trip of %+v gave %+v", vp, tr, p, got)
				}
			}
		}
	}
}

func TestZoomAtKeepsPointerPinned(t *testing.T) {
	vp := Viewport{Left: 40, Top: 20, Width: 1024, Height: 768}
	cases := []struct {
		start   Transform
		pointer Point
		delta   float64
	}{
		{Transform{Zoom: 1}, Point{400, 300}, 0.5},
		{Transform{Zoom: 0.2, ScrollLeft: 10, ScrollTop: 30}, Point{41, 21}, -0.5},
		{Transform{Zoom: 2.9, ScrollLeft: 800, ScrollTop: 100}, Point{1000, 700}, 0.5},
		{Transform{Zoom: 1.1, ScrollLeft: -50, ScrollTop: -50}, Point{500, 500}, ZoomDeltaFromWheel(120)},
	}
	for _, tc := range cases {
		before := ScreenToCanvas(tc.pointer, vp, tc.start)
		next := ZoomAt(tc.pointer, vp, tc.delta, tc.start)
		after := ScreenToCanvas(tc.pointer, vp, next)
		if !near(before, after) {
			t.Errorf("zoom %v%+v moved pinned point %+v -> %+v", tc.start.Zoom, tc.delta, before, after)
		}
		if next.Zoom < MinZoom || next.Zoom > MaxZoom {
			t.Errorf("zoom %v escaped clamp", next.Zoom)
		}
	}
}

func TestZoomAtScenario(t *testing.T) {
	vp := Viewport{Width: 800, Height: 600}
	start := Transform{Zoom: 1}
	pointer := Point{400, 300}

	before := ScreenToCanvas(pointer, vp, start)
	next := ZoomAt(pointer, vp, 0.5, start)

	if next.Zoom != 1.5 {
		t.Fatalf("expected zoom 1.5, got %v", next.Zoom)
	}
	if next.ScrollLeft != 200 || next.ScrollTop != 150 {
		t.Errorf("expected scroll (200,150), got (%v,%v)", next.ScrollLeft, next.ScrollTop)
	}
	if after := ScreenToCanvas(pointer, vp, next); !near(before, after) {
		t.Errorf("canvas point moved from %+v to %+v", before, after)
	}
}

func TestZoomClamp(t *testing.T) {
	vp := Viewport{Width: 800, Height: 600}
	if z := ZoomAt(Point{}, vp, 10, Transform{Zoom: 2}).Zoom; z != MaxZoom {
		t.Errorf("expected %v, got %v", MaxZoom, z)
	}
	if z := ZoomAt(Point{}, vp, -10, Transform{Zoom: 2}).Zoom; z != MinZoom {
		t.Errorf("expected %v, got %v", MinZoom, z)
	}
	if z := ClampZoom(math.NaN()); z != 1 {
		t.Errorf("NaN zoom should reset to 1, got %v", z)
	}
}

func TestWheelDelta(t *testing.T) {
	if d := ZoomDeltaFromWheel(100); math.Abs(d+0.25) > eps {
		t.Errorf("expected -0.25, got %v", d)
	}
	if d := ZoomDeltaFromWheel(-40); math.Abs(d-0.1) > eps {
		t.Errorf("expected 0.1, got %v", d)
	}
}

func TestVisibleCenter(t *testing.T) {
	vp := Viewport{Width: 800, Height: 600}
	p := VisibleCenter(vp, Transform{Zoom: 2, ScrollLeft: 200, ScrollTop: 100}, 300, 150)
	// ((200+400)/2 - 150, (100+300)/2 - 75)
	if !near(p, Point{150, 125}) {
		t.Errorf("got %+v", p)
	}
}

// ── Edges ──────────────────────────────────────────────────

func TestEdgeAttachment(t *testing.T) {
	a := Rect{0, 0, 300, 150}
	cases := []struct {
		name        string
		b           Rect
		exit, entry Edge
	}{
		{"right", Rect{500, 0, 300, 150}, EdgeRight, EdgeLeft},
		{"left", Rect{-500, 0, 300, 150}, EdgeLeft, EdgeRight},
		{"below", Rect{0, 400, 300, 150}, EdgeBottom, EdgeTop},
		{"above", Rect{0, -400, 300, 150}, EdgeTop, EdgeBottom},
		// |dy| > |dx| but under the threshold stays horizontal
		{"small vertical", Rect{10, 40, 300, 150}, EdgeRight, EdgeLeft},
		{"coincident", Rect{0, 0, 300, 150}, EdgeLeft, EdgeRight},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			att := EdgeAttachment(a, tc.b)
			if att.ExitEdge != tc.exit || att.EntryEdge != tc.entry {
				t.Fatalf("expected %s->%s, got %s->%s", tc.exit, tc.entry, att.ExitEdge, att.EntryEdge)
			}
			if att.Exit != a.Midpoint(tc.exit) || att.Entry != tc.b.Midpoint(tc.entry) {
				t.Errorf("attachment points off edge midpoints: %+v", att)
			}
		})
	}
}

func TestEdgeAttachmentDefaultsSize(t *testing.T) {
	att := EdgeAttachment(Rect{}, Rect{X: 1000})
	if att.Exit != (Point{300, 75}) {
		t.Errorf("expected default-size exit (300,75), got %+v", att.Exit)
	}
}

func TestBezierControlPointsPerpendicular(t *testing.T) {
	exit, entry := Point{300, 75}, Point{500, 75}
	c1, c2 := BezierControlPoints(exit, EdgeRight, entry, EdgeLeft, CurveDistanceFor(1.5))
	if c1 != (Point{450, 75}) || c2 != (Point{350, 75}) {
		t.Errorf("horizontal control points: %+v %+v", c1, c2)
	}
	c1, c2 = BezierControlPoints(Point{0, 150}, EdgeBottom, Point{0, 400}, EdgeTop, 100)
	if c1 != (Point{0, 250}) || c2 != (Point{0, 300}) {
		t.Errorf("vertical control points: %+v %+v", c1, c2)
	}
}

func TestPathEndpoints(t *testing.T) {
	p := ConnectionPath(Rect{0, 0, 300, 150}, Rect{500, 0, 300, 150}, 1)
	if !near(p.At(0), p.Start) || !near(p.At(1), p.End) {
		t.Errorf("path does not interpolate endpoints: %+v", p)
	}
	if mid := p.At(0.5); !near(mid, Point{400, 75}) {
		t.Errorf("symmetric path midpoint: %+v", mid)
	}
}

// ── Resize ─────────────────────────────────────────────────

func TestResizeRectKeepsOppositeAnchor(t *testing.T) {
	orig := Rect{100, 100, 300, 150}
	cases := []struct {
		h      Handle
		dx, dy float64
		want   Rect
	}{
		{HandleE, 50, 999, Rect{100, 100, 350, 150}},
		{HandleW, 50, 0, Rect{150, 100, 250, 150}},
		{HandleS, 0, 30, Rect{100, 100, 300, 180}},
		{HandleN, 0, -30, Rect{100, 70, 300, 180}},
		{HandleSE, 10, 10, Rect{100, 100, 310, 160}},
		{HandleNW, -10, -10, Rect{90, 90, 310, 160}},
		{HandleNE, 20, 20, Rect{100, 120, 320, 130}},
		{HandleSW, 20, 20, Rect{120, 100, 280, 170}},
	}
	for _, tc := range cases {
		if got := ResizeRect(orig, tc.h, tc.dx, tc.dy, MinItemSize); got != tc.want {
			t.Errorf("%s: expected %+v, got %+v", tc.h, tc.want, got)
		}
	}
}

func TestResizeRectFloor(t *testing.T) {
	orig := Rect{0, 0, 120, 90}
	deltas := []float64{-1e6, -500, -100, -1, 0, 1, 100, 1e6}
	for _, min := range []float64{MinItemSize, MinNestedSize} {
		for _, h := range Handles {
			for _, dx := range deltas {
				for _, dy := range deltas {
					got := ResizeRect(orig, h, dx, dy, min)
					if got.Width < min || got.Height < min {
						t.Fatalf("%s (%v,%v) floor %v: got %+v", h, dx, dy, min, got)
					}
				}
			}
		}
	}
}

func TestResizeRectFloorPinsOppositeEdge(t *testing.T) {
	got := ResizeRect(Rect{100, 100, 300, 150}, HandleW, 1000, 0, MinItemSize)
	if got.Width != MinItemSize || got.X+got.Width != 400 {
		t.Errorf("right edge should stay at 400, got %+v", got)
	}
}

func TestResizeRectUnknownHandle(t *testing.T) {
	orig := Rect{1, 2, 3, 4}
	if got := ResizeRect(orig, Handle("up"), 10, 10, MinItemSize); got != orig {
		t.Errorf("expected unchanged rect, got %+v", got)
	}
}

func TestHandleAt(t *testing.T) {
	r := Rect{0, 0, 300, 150}
	if h, ok := HandleAt(r, Point{299, 149}, 10); !ok || h != HandleSE {
		t.Errorf("expected se, got %q %v", h, ok)
	}
	if h, ok := HandleAt(r, Point{150, 1}, 10); !ok || h != HandleN {
		t.Errorf("expected n, got %q %v", h, ok)
	}
	if _, ok := HandleAt(r, Point{150, 75}, 10); ok {
		t.Error("center should not hit a handle")
	}
}

// ── Layout ─────────────────────────────────────────────────

func TestFlowLayoutWraps(t *testing.T) {
	f := NewFlowLayout()
	want := []Point{{50, 50}, {400, 50}, {750, 50}, {1100, 50}, {50, 300}}
	for i, w := range want {
		if got := f.Next(); got != w {
			t.Errorf("slot %d: expected %+v, got %+v", i, w, got)
		}
	}
}

func TestStoryGrid(t *testing.T) {
	g := NewStoryGrid(500)
	want := []Point{{500, 100}, {880, 100}, {1260, 100}, {500, 600}}
	for i, w := range want {
		if got := g.Next(); got != w {
			t.Errorf("slot %d: expected %+v, got %+v", i, w, got)
		}
	}
}
