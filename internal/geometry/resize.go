package geometry

import "math"

type Handle string

const (
	HandleN  Handle = "n"
	HandleS  Handle = "s"
	HandleE  Handle = "e"
	HandleW  Handle = "w"
	HandleNE Handle = "ne"
	HandleNW Handle = "nw"
	HandleSE Handle = "se"
	HandleSW Handle = "sw"
)

const (
	MinItemSize   = 50.0
	MinNestedSize = 30.0
)

var Handles = []Handle{HandleN, HandleS, HandleE, HandleW, HandleNE, HandleNW, HandleSE, HandleSW}

func ParseHandle(s string) (Handle, bool) {
	for _, h := range Handles {
		if string(h) == s {
			return h, true
		}
	}
	return "", false
}

func (h Handle) moves(edge byte) bool {
	for i := 0; i < len(h); i++ {
		if h[i] == edge {
			return true
		}
	}
	return false
}

// ResizeRect drags handle h by (dx, dy). The edge or corner opposite the
// handle stays fixed and both dimensions are floored at minSize. Unknown
// handles return orig unchanged.
func ResizeRect(orig Rect, h Handle, dx, dy, minSize float64) Rect {
	if _, ok := ParseHandle(string(h)); !ok {
		return orig
	}
	if minSize <= 0 {
		minSize = MinItemSize
	}
	if !finite(dx) {
		dx = 0
	}
	if !finite(dy) {
		dy = 0
	}

	out := orig
	if h.moves('e') {
		out.Width = math.Max(minSize, orig.Width+dx)
	}
	if h.moves('w') {
		out.Width = math.Max(minSize, orig.Width-dx)
		out.X = orig.X + orig.Width - out.Width
	}
	if h.moves('s') {
		out.Height = math.Max(minSize, orig.Height+dy)
	}
	if h.moves('n') {
		out.Height = math.Max(minSize, orig.Height-dy)
		out.Y = orig.Y + orig.Height - out.Height
	}
	return out
}

// HandleAt returns the handle whose grip square of the given size contains p.
func HandleAt(r Rect, p Point, grip float64) (Handle, bool) {
	half := grip / 2
	for _, h := range Handles {
		hx, hy := r.X+r.Width/2, r.Y+r.Height/2
		switch {
		case h.moves('w'):
			hx = r.X
		case h.moves('e'):
			hx = r.X + r.Width
		}
		switch {
		case h.moves('n'):
			hy = r.Y
		case h.moves('s'):
			hy = r.Y + r.Height
		}
		if math.Abs(p.X-hx) <= half && math.Abs(p.Y-hy) <= half {
			return h, true
		}
	}
	return "", false
}
