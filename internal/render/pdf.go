package render

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/jung-kurt/gofpdf"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
)

// PDF writes the canvas as a single vector page sized to its content.
// Units are points; Options.Scale maps canvas units to points.
func PDF(w io.Writer, st domain.CanvasState, opts Options) error {
	opts = opts.withDefaults()
	sc, err := buildScene(st, opts)
	if err != nil {
		return err
	}
	width, height := sc.size()

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: width, Ht: height},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	if opts.Title != "" {
		pdf.SetTitle(opts.Title, true)
	}
	pdf.SetCreator("canvasd", false)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	setDraw(pdf, colorLink)
	setFill(pdf, colorLink)
	pdf.SetLineWidth(1.5 * sc.scale)
	for _, p := range sc.paths {
		m := p.Map(sc.pt)
		pdf.CurveBezierCubic(m.Start.X, m.Start.Y, m.C1.X, m.C1.Y, m.C2.X, m.C2.Y, m.End.X, m.End.Y, "D")
		a, b := arrowHead(m.C2, m.End, 8*sc.scale)
		pdf.Polygon([]gofpdf.PointType{{X: m.End.X, Y: m.End.Y}, {X: a.X, Y: a.Y}, {X: b.X, Y: b.Y}}, "F")
	}

	fontSize := math.Max(4, 11*sc.scale)
	pdf.SetFont("Helvetica", "", fontSize)
	for _, it := range sc.items {
		drawItemPDF(pdf, sc, it, fontSize, tr)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func setDraw(pdf *gofpdf.Fpdf, c color.RGBA) { pdf.SetDrawColor(int(c.R), int(c.G), int(c.B)) }
func setFill(pdf *gofpdf.Fpdf, c color.RGBA) { pdf.SetFillColor(int(c.R), int(c.G), int(c.B)) }

func drawItemPDF(pdf *gofpdf.Fpdf, sc *scene, it domain.Item, fontSize float64, tr func(string) string) {
	r := sc.rect(it.Bounds())
	if it.Kind == domain.KindShape {
		drawShapePDF(pdf, sc, it, r)
		return
	}

	fill := colorCardFill
	if it.Kind == domain.KindImage {
		fill = colorImageFill
	}
	setFill(pdf, fill)
	setDraw(pdf, colorInk)
	pdf.SetLineWidth(math.Max(0.5, 0.75*sc.scale))
	pdf.Rect(r.X, r.Y, r.Width, r.Height, "FD")
	if it.Kind == domain.KindCard && it.Card != nil {
		setFill(pdf, statusColor(it.Card.Status))
		pdf.Rect(r.X, r.Y, r.Width, 5*sc.scale, "F")
	}

	text := label(it)
	pad := 6 * sc.scale
	if text == "" || r.Width <= 2*pad {
		return
	}
	pdf.SetTextColor(int(colorInk.R), int(colorInk.G), int(colorInk.B))
	lineH := fontSize * 1.25
	y := r.Y + pad + fontSize
	for _, line := range pdf.SplitText(tr(text), r.Width-2*pad) {
		if y > r.Y+r.Height-pad {
			break
		}
		pdf.Text(r.X+pad, y, line)
		y += lineH
	}
}

func drawShapePDF(pdf *gofpdf.Fpdf, sc *scene, it domain.Item, r geometry.Rect) {
	fill, stroke, width, filled := shapeStyle(it)
	setDraw(pdf, stroke)
	pdf.SetLineWidth(width * sc.scale)
	style := "D"
	if filled {
		setFill(pdf, fill)
		style = "FD"
	}
	shape := domain.ShapeBox
	if it.Shape != nil {
		shape = it.Shape.ShapeType
	}
	switch shape {
	case domain.ShapeLine:
		s, c, e := linePoints(it.Bounds(), it.Shape)
		s, c, e = sc.pt(s), sc.pt(c), sc.pt(e)
		pdf.Curve(s.X, s.Y, c.X, c.Y, e.X, e.Y, "D")
	case domain.ShapeCircle:
		pdf.Ellipse(r.X+r.Width/2, r.Y+r.Height/2, r.Width/2, r.Height/2, 0, style)
	default:
		pdf.Rect(r.X, r.Y, r.Width, r.Height, style)
	}
}
