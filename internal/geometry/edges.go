package geometry

import "math"

type Edge string

const (
	EdgeTop    Edge = "top"
	EdgeBottom Edge = "bottom"
	EdgeLeft   Edge = "left"
	EdgeRight  Edge = "right"
)

const (
	// DominanceThreshold is the vertical delta below which connections
	// always attach horizontally.
	DominanceThreshold = 50.0
	// CurveDistance is the control point offset at zoom 1.
	CurveDistance = 100.0
)

// Midpoint returns the middle of the given edge.
func (r Rect) Midpoint(e Edge) Point {
	switch e {
	case EdgeTop:
		return Point{r.X + r.Width/2, r.Y}
	case EdgeBottom:
		return Point{r.X + r.Width/2, r.Y + r.Height}
	case EdgeLeft:
		return Point{r.X, r.Y + r.Height/2}
	default:
		return Point{r.X + r.Width, r.Y + r.Height/2}
	}
}

type Attachment struct {
	ExitEdge  Edge  `json:"exitEdge"`
	EntryEdge Edge  `json:"entryEdge"`
	Exit      Point `json:"exit"`
	Entry     Point `json:"entry"`
}

// EdgeAttachment picks the edge a connection leaves a and the edge it
// enters b. Vertical attachment needs the vertical delta to dominate and
// to exceed DominanceThreshold, so near-diagonal layouts do not flap.
func EdgeAttachment(a, b Rect) Attachment {
	a, b = a.WithDefaultSize(), b.WithDefaultSize()
	d := b.Center().Sub(a.Center())

	var exit, entry Edge
	switch {
	case math.Abs(d.Y) > math.Abs(d.X) && math.Abs(d.Y) > DominanceThreshold:
		if d.Y > 0 {
			exit, entry = EdgeBottom, EdgeTop
		} else {
			exit, entry = EdgeTop, EdgeBottom
		}
	case d.X > 0:
		exit, entry = EdgeRight, EdgeLeft
	default:
		exit, entry = EdgeLeft, EdgeRight
	}
	return Attachment{
		ExitEdge:  exit,
		EntryEdge: entry,
		Exit:      a.Midpoint(exit),
		Entry:     b.Midpoint(entry),
	}
}

// outward is the unit normal pointing away from the rectangle at e.
func outward(e Edge) Point {
	switch e {
	case EdgeTop:
		return Point{0, -1}
	case EdgeBottom:
		return Point{0, 1}
	case EdgeLeft:
		return Point{-1, 0}
	default:
		return Point{1, 0}
	}
}

// BezierControlPoints pushes each attachment point out along its edge
// normal so the curve meets both rectangles at a right angle.
func BezierControlPoints(exit Point, exitEdge Edge, entry Point, entryEdge Edge, distance float64) (Point, Point) {
	n1, n2 := outward(exitEdge), outward(entryEdge)
	return Point{exit.X + n1.X*distance, exit.Y + n1.Y*distance},
		Point{entry.X + n2.X*distance, entry.Y + n2.Y*distance}
}

func CurveDistanceFor(zoom float64) float64 {
	return CurveDistance * ClampZoom(zoom)
}

// Path is a cubic bezier from Start to End.
type Path struct {
	Start Point `json:"start"`
	C1    Point `json:"c1"`
	C2    Point `json:"c2"`
	End   Point `json:"end"`
}

// ConnectionPath computes the curve between two item rectangles.
func ConnectionPath(a, b Rect, zoom float64) Path {
	att := EdgeAttachment(a, b)
	c1, c2 := BezierControlPoints(att.Exit, att.ExitEdge, att.Entry, att.EntryEdge, CurveDistanceFor(zoom))
	return Path{Start: att.Exit, C1: c1, C2: c2, End: att.Entry}
}

// At evaluates the curve at t in [0,1].
func (p Path) At(t float64) Point {
	u := 1 - t
	a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
	return Point{
		X: a*p.Start.X + b*p.C1.X + c*p.C2.X + d*p.End.X,
		Y: a*p.Start.Y + b*p.C1.Y + c*p.C2.Y + d*p.End.Y,
	}
}

// Map sends every point of the path through f.
func (p Path) Map(f func(Point) Point) Path {
	return Path{f(p.Start), f(p.C1), f(p.C2), f(p.End)}
}
