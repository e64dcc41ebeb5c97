package mcpserver

import (
	"testing"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

func TestNextPosition_EmptyCanvas(t *testing.T) {
	le := NewLayoutEngine()
	x, y := le.NextPosition(nil, 300, 150)
	if x != Padding || y != Padding {
		t.Errorf("expected (%.0f, %.0f) for empty canvas, got (%.0f, %.0f)", Padding, Padding, x, y)
	}
}

func TestNextPosition_AvoidsExistingItems(t *testing.T) {
	le := NewLayoutEngine()
	existing := []domain.Item{
		domain.NewTextItem("a", "A", 0, 0),
		domain.NewTextItem("b", "B", 400, 0),
	}
	x, y := le.NextPosition(existing, 300, 150)

	for _, it := range existing {
		candidate := domain.NewTextItem("new", "", x, y).Bounds()
		if candidate.Intersects(le.padded(it.Bounds())) {
			t.Errorf("position (%.0f, %.0f) overlaps item %s", x, y, it.ID)
		}
	}
	if x+300 > MaxRowW {
		t.Errorf("position (%.0f, %.0f) exceeds the row width", x, y)
	}
}

func TestArrangeGroup(t *testing.T) {
	le := NewLayoutEngine()
	items := make([]domain.Item, 6)
	for i := range items {
		items[i] = domain.NewTextItem(string(rune('a'+i)), "", 0, 0)
	}

	arranged := le.ArrangeGroup(items, 50, 50)

	if arranged[0].X != 50 || arranged[0].Y != 50 {
		t.Errorf("first item at (%.0f, %.0f)", arranged[0].X, arranged[0].Y)
	}
	for i := 0; i < len(arranged); i++ {
		if arranged[i].X+arranged[i].Width > MaxRowW {
			t.Errorf("item %d past row width: x=%.0f", i, arranged[i].X)
		}
		for j := i + 1; j < len(arranged); j++ {
			if arranged[i].Bounds().Intersects(arranged[j].Bounds()) {
				t.Errorf("items %d and %d overlap: (%.0f,%.0f) and (%.0f,%.0f)",
					i, j, arranged[i].X, arranged[i].Y, arranged[j].X, arranged[j].Y)
			}
		}
	}
	if arranged[4].Y == arranged[0].Y {
		t.Error("expected a wrap onto a second row")
	}
}

func TestSnap(t *testing.T) {
	le := NewLayoutEngine()
	tests := []struct {
		input, want float64
	}{
		{0, 0},
		{24, 0},
		{25, 50},
		{50, 50},
		{120, 100},
		{130, 150},
	}
	for _, tt := range tests {
		got := le.snap(tt.input)
		if got != tt.want {
			t.Errorf("snap(%.0f) = %.0f, want %.0f", tt.input, got, tt.want)
		}
	}
}
