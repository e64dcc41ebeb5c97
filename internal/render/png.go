package render

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
)

const baseFontSize = 14.0

func loadFace(size float64) (font.Face, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingFull}), nil
}

// PNG writes a raster preview of the canvas.
func PNG(w io.Writer, st domain.CanvasState, opts Options) error {
	opts = opts.withDefaults()
	sc, err := buildScene(st, opts)
	if err != nil {
		return err
	}
	width, height := sc.size()
	if longest := math.Max(width, height); longest > MaxPixels {
		sc.scale *= MaxPixels / longest
		width, height = sc.size()
	}
	dc := gg.NewContext(pixels(width), pixels(height))
	dc.SetColor(color.White)
	dc.Clear()

	face, err := loadFace(math.Max(6, baseFontSize*sc.scale))
	if err != nil {
		return err
	}
	dc.SetFontFace(face)

	// connections go underneath the items
	dc.SetColor(colorLink)
	dc.SetLineWidth(2 * sc.scale)
	for _, p := range sc.paths {
		drawPathPNG(dc, sc, p)
	}
	for _, it := range sc.items {
		drawItemPNG(dc, sc, it)
	}
	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

func pixels(v float64) int {
	return int(math.Max(1, math.Min(math.Ceil(v), MaxPixels)))
}

func drawPathPNG(dc *gg.Context, sc *scene, p geometry.Path) {
	m := p.Map(sc.pt)
	dc.MoveTo(m.Start.X, m.Start.Y)
	dc.CubicTo(m.C1.X, m.C1.Y, m.C2.X, m.C2.Y, m.End.X, m.End.Y)
	dc.Stroke()

	a, b := arrowHead(m.C2, m.End, 10*sc.scale)
	dc.MoveTo(m.End.X, m.End.Y)
	dc.LineTo(a.X, a.Y)
	dc.LineTo(b.X, b.Y)
	dc.ClosePath()
	dc.Fill()
}

func drawItemPNG(dc *gg.Context, sc *scene, it domain.Item) {
	r := sc.rect(it.Bounds())
	pad := 8 * sc.scale

	switch it.Kind {
	case domain.KindShape:
		drawShapePNG(dc, sc, it, r)
		return
	case domain.KindImage:
		dc.SetColor(colorImageFill)
		dc.DrawRectangle(r.X, r.Y, r.Width, r.Height)
		dc.Fill()
	case domain.KindCard:
		dc.SetColor(colorCardFill)
		dc.DrawRoundedRectangle(r.X, r.Y, r.Width, r.Height, 6*sc.scale)
		dc.Fill()
		if it.Card != nil {
			dc.SetColor(statusColor(it.Card.Status))
			dc.DrawRectangle(r.X, r.Y, r.Width, 6*sc.scale)
			dc.Fill()
		}
	default:
		dc.SetColor(colorCardFill)
		dc.DrawRoundedRectangle(r.X, r.Y, r.Width, r.Height, 6*sc.scale)
		dc.Fill()
	}
	dc.SetColor(colorInk)
	dc.SetLineWidth(math.Max(1, sc.scale))
	dc.DrawRectangle(r.X, r.Y, r.Width, r.Height)
	dc.Stroke()

	text := label(it)
	if text == "" || r.Width <= 2*pad {
		return
	}
	lineH := dc.FontHeight() * 1.3
	y := r.Y + pad + dc.FontHeight()
	for _, line := range dc.WordWrap(text, r.Width-2*pad) {
		if y > r.Y+r.Height-pad {
			break
		}
		dc.DrawString(line, r.X+pad, y)
		y += lineH
	}
}

func drawShapePNG(dc *gg.Context, sc *scene, it domain.Item, r geometry.Rect) {
	fill, stroke, width, filled := shapeStyle(it)
	dc.SetLineWidth(width * sc.scale)
	shape := domain.ShapeBox
	if it.Shape != nil {
		shape = it.Shape.ShapeType
	}
	switch shape {
	case domain.ShapeLine:
		s, c, e := linePoints(it.Bounds(), it.Shape)
		s, c, e = sc.pt(s), sc.pt(c), sc.pt(e)
		dc.MoveTo(s.X, s.Y)
		dc.QuadraticTo(c.X, c.Y, e.X, e.Y)
		dc.SetColor(stroke)
		dc.Stroke()
		return
	case domain.ShapeCircle:
		dc.DrawEllipse(r.X+r.Width/2, r.Y+r.Height/2, r.Width/2, r.Height/2)
	default:
		dc.DrawRectangle(r.X, r.Y, r.Width, r.Height)
	}
	if filled {
		dc.SetColor(fill)
		dc.FillPreserve()
	}
	dc.SetColor(stroke)
	dc.Stroke()
}
