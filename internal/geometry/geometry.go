// Package geometry maps between screen and canvas coordinates and computes
// how connections attach to item rectangles. Everything here is pure.
package geometry

import "math"

const (
	MinZoom = 0.1
	MaxZoom = 3.0

	// WheelSensitivity converts a wheel deltaY into a zoom delta.
	WheelSensitivity = -0.0025
	ZoomButtonStep   = 0.1

	DefaultItemWidth  = 300.0
	DefaultItemHeight = 150.0
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// WithDefaultSize fills a zero width or height with the default card size.
func (r Rect) WithDefaultSize() Rect {
	if r.Width <= 0 {
		r.Width = DefaultItemWidth
	}
	if r.Height <= 0 {
		r.Height = DefaultItemHeight
	}
	return r
}

func (r Rect) Center() Point {
	return Point{r.X + r.Width/2, r.Y + r.Height/2}
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.Width && r.X+r.Width > o.X &&
		r.Y < o.Y+o.Height && r.Y+r.Height > o.Y
}

// Inset grows (negative d) or shrinks the rectangle on every side.
func (r Rect) Inset(d float64) Rect {
	return Rect{r.X + d, r.Y + d, r.Width - 2*d, r.Height - 2*d}
}

// Viewport is the on-screen box the canvas is drawn into.
type Viewport struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Transform is the zoom and scroll offset of a canvas. Scroll is measured
// in screen pixels of the zoomed surface.
type Transform struct {
	Zoom       float64 `json:"zoom"`
	ScrollLeft float64 `json:"scrollLeft"`
	ScrollTop  float64 `json:"scrollTop"`
}

func Identity() Transform {
	return Transform{Zoom: 1}
}

func ClampZoom(z float64) float64 {
	if math.IsNaN(z) || z == 0 {
		return 1
	}
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}

// Normalize clamps the zoom and replaces non-finite scroll values.
func (t Transform) Normalize() Transform {
	t.Zoom = ClampZoom(t.Zoom)
	if !finite(t.ScrollLeft) {
		t.ScrollLeft = 0
	}
	if !finite(t.ScrollTop) {
		t.ScrollTop = 0
	}
	return t
}

// ScreenToCanvas converts a pointer position in screen pixels to canvas units.
func ScreenToCanvas(p Point, vp Viewport, t Transform) Point {
	z := ClampZoom(t.Zoom)
	return Point{
		X: (p.X - vp.Left + t.ScrollLeft) / z,
		Y: (p.Y - vp.Top + t.ScrollTop) / z,
	}
}

// CanvasToScreen is the rendering transform and the inverse of ScreenToCanvas.
func CanvasToScreen(p Point, vp Viewport, t Transform) Point {
	z := ClampZoom(t.Zoom)
	return Point{
		X: p.X*z - t.ScrollLeft + vp.Left,
		Y: p.Y*z - t.ScrollTop + vp.Top,
	}
}

// ZoomAt changes the zoom by delta while keeping the canvas point under the
// pointer fixed on screen.
func ZoomAt(pointer Point, vp Viewport, delta float64, t Transform) Transform {
	if !finite(delta) {
		return t
	}
	return SetZoomAt(pointer, vp, ClampZoom(t.Zoom)+delta, t)
}

// SetZoomAt moves to an absolute zoom, pinned at pointer.
func SetZoomAt(pointer Point, vp Viewport, zoom float64, t Transform) Transform {
	t = t.Normalize()
	next := ClampZoom(zoom)
	pinned := ScreenToCanvas(pointer, vp, t)
	local := Point{pointer.X - vp.Left, pointer.Y - vp.Top}
	return Transform{
		Zoom:       next,
		ScrollLeft: pinned.X*next - local.X,
		ScrollTop:  pinned.Y*next - local.Y,
	}
}

func ZoomDeltaFromWheel(deltaY float64) float64 {
	return deltaY * WheelSensitivity
}

// ZoomStep applies a button zoom step pinned at the viewport center.
func ZoomStep(vp Viewport, t Transform, delta float64) Transform {
	center := Point{vp.Left + vp.Width/2, vp.Top + vp.Height/2}
	return ZoomAt(center, vp, delta, t)
}

// VisibleCenter returns the top-left position that centers an item of the
// given size in the visible part of the canvas.
func VisibleCenter(vp Viewport, t Transform, width, height float64) Point {
	z := ClampZoom(t.Zoom)
	return Point{
		X: (t.ScrollLeft+vp.Width/2)/z - width/2,
		Y: (t.ScrollTop+vp.Height/2)/z - height/2,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
