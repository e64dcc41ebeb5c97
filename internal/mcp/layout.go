package mcpserver

import (
	"math"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
)

const (
	GridSize = 50.0
	Padding  = 50.0 // one grid cell between items
	MaxRowW  = 1400.0
)

// LayoutEngine places items created by tools so that they don't overlap
// existing ones.
type LayoutEngine struct {
	gridSize float64
	padding  float64
	maxRowW  float64
}

func NewLayoutEngine() *LayoutEngine {
	return &LayoutEngine{
		gridSize: GridSize,
		padding:  Padding,
		maxRowW:  MaxRowW,
	}
}

// snap rounds v to the nearest grid point.
func (le *LayoutEngine) snap(v float64) float64 {
	return math.Round(v/le.gridSize) * le.gridSize
}

func (le *LayoutEngine) padded(r geometry.Rect) geometry.Rect {
	return r.Inset(-le.padding)
}

// NextPosition finds the first free grid position, scanning rows top to
// bottom, for an item of size (w, h).
func (le *LayoutEngine) NextPosition(existing []domain.Item, w, h float64) (float64, float64) {
	if len(existing) == 0 {
		return le.padding, le.padding
	}

	occupied := make([]geometry.Rect, len(existing))
	for i, it := range existing {
		occupied[i] = le.padded(it.Bounds())
	}

	candidate := geometry.Rect{Width: w, Height: h}
	for y := 0.0; y < 100000; y += le.gridSize {
		for x := 0.0; x+w <= le.maxRowW; x += le.gridSize {
			candidate.X, candidate.Y = le.snap(x), le.snap(y)
			overlaps := false
			for _, occ := range occupied {
				if candidate.Intersects(occ) {
					overlaps = true
					break
				}
			}
			if !overlaps {
				return candidate.X, candidate.Y
			}
		}
	}

	// Fallback: below everything
	maxY := 0.0
	for _, it := range existing {
		maxY = math.Max(maxY, it.Y+it.Bounds().Height)
	}
	return 0, le.snap(maxY + le.padding)
}

// ArrangeGroup lays items out in rows from (startX, startY), wrapping at
// the maximum row width. It updates positions in place and returns items.
func (le *LayoutEngine) ArrangeGroup(items []domain.Item, startX, startY float64) []domain.Item {
	x := le.snap(startX)
	y := le.snap(startY)
	rowHeight := 0.0

	for i := range items {
		b := items[i].Bounds()
		if x > le.snap(startX) && x+b.Width > le.maxRowW {
			x = le.snap(startX)
			y += le.snap(rowHeight + le.padding)
			rowHeight = 0
		}
		items[i].X, items[i].Y = x, y
		rowHeight = math.Max(rowHeight, b.Height)
		x += le.snap(b.Width + le.padding)
	}
	return items
}
