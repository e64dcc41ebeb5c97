package geometry

// FlowLayout places records that carry no position, left to right,
// wrapping to a new row once the cursor passes MaxX.
type FlowLayout struct {
	StartX, StartY float64
	StepX, StepY   float64
	MaxX           float64

	x, y float64
}

// NewFlowLayout returns the layout used for imported ideation records.
func NewFlowLayout() *FlowLayout {
	f := &FlowLayout{StartX: 50, StartY: 50, StepX: 350, StepY: 250, MaxX: 1400}
	f.x, f.y = f.StartX, f.StartY
	return f
}

// Next returns the current slot and advances the cursor.
func (f *FlowLayout) Next() Point {
	p := Point{f.x, f.y}
	f.x += f.StepX
	if f.x > f.MaxX {
		f.x = f.StartX
		f.y += f.StepY
	}
	return p
}

// GridLayout places items in fixed-size rows of Columns cells.
type GridLayout struct {
	Origin       Point
	Columns      int
	StepX, StepY float64

	n int
}

// NewStoryGrid lays story cards three per row to the right of offsetX.
func NewStoryGrid(offsetX float64) *GridLayout {
	return &GridLayout{Origin: Point{offsetX, 100}, Columns: 3, StepX: 380, StepY: 500}
}

func (g *GridLayout) Next() Point {
	cols := g.Columns
	if cols <= 0 {
		cols = 1
	}
	col, row := g.n%cols, g.n/cols
	g.n++
	return Point{g.Origin.X + float64(col)*g.StepX, g.Origin.Y + float64(row)*g.StepY}
}
