// Package render draws a canvas page as a PNG preview or a vector PDF.
// Both outputs share one scene: the bounding box of every item plus a
// padding, with connections drawn as the same bezier curves the canvas
// uses at zoom 1.
package render

import (
	"errors"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
)

// ErrEmptyCanvas is returned when there is nothing to draw.
var ErrEmptyCanvas = errors.New("nothing to render")

// MaxPixels caps the longest side of a PNG preview.
const MaxPixels = 8192

type Options struct {
	// Padding around the item bounds, in canvas units.
	Padding float64
	// Scale multiplies canvas units into pixels (PNG) or points (PDF).
	Scale float64
	Title string
}

func (o Options) withDefaults() Options {
	if o.Padding <= 0 {
		o.Padding = 40
	}
	if o.Scale <= 0 {
		o.Scale = 1
	}
	return o
}

type scene struct {
	bounds geometry.Rect
	scale  float64
	items  []domain.Item
	paths  []geometry.Path
}

func buildScene(st domain.CanvasState, opts Options) (*scene, error) {
	if len(st.Items) == 0 {
		return nil, ErrEmptyCanvas
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	byID := make(map[string]geometry.Rect, len(st.Items))
	for _, it := range st.Items {
		r := it.Bounds().WithDefaultSize()
		byID[it.ID] = r
		minX, minY = math.Min(minX, r.X), math.Min(minY, r.Y)
		maxX, maxY = math.Max(maxX, r.X+r.Width), math.Max(maxY, r.Y+r.Height)
	}
	sc := &scene{
		bounds: geometry.Rect{
			X:      minX - opts.Padding,
			Y:      minY - opts.Padding,
			Width:  maxX - minX + 2*opts.Padding,
			Height: maxY - minY + 2*opts.Padding,
		},
		scale: opts.Scale,
		items: st.Items,
	}
	for _, c := range st.Connections {
		a, okA := byID[c.From]
		b, okB := byID[c.To]
		if !okA || !okB {
			continue
		}
		sc.paths = append(sc.paths, geometry.ConnectionPath(a, b, 1))
	}
	return sc, nil
}

// pt maps a canvas point into output space.
func (s *scene) pt(p geometry.Point) geometry.Point {
	return geometry.Point{X: (p.X - s.bounds.X) * s.scale, Y: (p.Y - s.bounds.Y) * s.scale}
}

func (s *scene) rect(r geometry.Rect) geometry.Rect {
	o := s.pt(geometry.Point{X: r.X, Y: r.Y})
	return geometry.Rect{X: o.X, Y: o.Y, Width: r.Width * s.scale, Height: r.Height * s.scale}
}

func (s *scene) size() (float64, float64) {
	return s.bounds.Width * s.scale, s.bounds.Height * s.scale
}

// label is the text drawn inside an item.
func label(it domain.Item) string {
	switch it.Kind {
	case domain.KindCard:
		return it.Title()
	case domain.KindText:
		if it.Text != nil && strings.TrimSpace(it.Text.Content) != "" {
			return stripTags(it.Text.Content)
		}
	case domain.KindImage:
		if it.Image != nil && it.Image.TextContent != "" {
			return it.Image.TextContent
		}
		return "[image]"
	}
	return it.CardName
}

// stripTags drops inline markup from rich text content.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var (
	colorInk       = color.RGBA{0x33, 0x33, 0x33, 0xff}
	colorCardFill  = color.RGBA{0xff, 0xff, 0xff, 0xff}
	colorImageFill = color.RGBA{0xee, 0xee, 0xee, 0xff}
	colorLink      = color.RGBA{0x4a, 0x90, 0xe2, 0xff}
)

func statusColor(s domain.CardStatus) color.RGBA {
	switch s {
	case domain.StatusCompleted:
		return color.RGBA{0x52, 0xb7, 0x88, 0xff}
	case domain.StatusInProgress:
		return color.RGBA{0xf8, 0xb7, 0x39, 0xff}
	}
	return color.RGBA{0x9e, 0x9e, 0x9e, 0xff}
}

// parseHex reads #rgb or #rrggbb, falling back to def.
func parseHex(s string, def color.RGBA) color.RGBA {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return def
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return def
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 0xff}
}

// shapeStyle returns fill, stroke and width for a shape item.
func shapeStyle(it domain.Item) (fill, stroke color.RGBA, width float64, filled bool) {
	stroke, width = colorInk, 2
	if it.Shape == nil {
		return color.RGBA{}, stroke, width, false
	}
	if it.Shape.StrokeWidth > 0 {
		width = it.Shape.StrokeWidth
	}
	stroke = parseHex(it.Shape.StrokeColor, colorInk)
	f := strings.TrimSpace(it.Shape.FillColor)
	if f == "" || strings.EqualFold(f, "transparent") || strings.EqualFold(f, "none") {
		return color.RGBA{}, stroke, width, false
	}
	return parseHex(f, colorCardFill), stroke, width, true
}

// linePoints returns the endpoints and quadratic control point of a line
// shape. The curve control offsets the midpoint.
func linePoints(r geometry.Rect, sh *domain.ShapeBody) (start, ctrl, end geometry.Point) {
	start = geometry.Point{X: r.X, Y: r.Y + r.Height/2}
	end = geometry.Point{X: r.X + r.Width, Y: r.Y + r.Height/2}
	ctrl = r.Center()
	if sh != nil {
		ctrl = ctrl.Add(geometry.Point{X: sh.CurveControlX, Y: sh.CurveControlY})
	}
	return start, ctrl, end
}

// arrowHead returns the two base corners of an arrow ending at tip and
// pointing away from from.
func arrowHead(from, tip geometry.Point, size float64) (geometry.Point, geometry.Point) {
	dx, dy := tip.X-from.X, tip.Y-from.Y
	l := math.Hypot(dx, dy)
	if l < 1e-9 {
		return tip, tip
	}
	dx, dy = dx/l, dy/l
	const spread = 0.5
	return geometry.Point{X: tip.X - size*dx + size*dy*spread, Y: tip.Y - size*dy - size*dx*spread},
		geometry.Point{X: tip.X - size*dx - size*dy*spread, Y: tip.Y - size*dy + size*dx*spread}
}
