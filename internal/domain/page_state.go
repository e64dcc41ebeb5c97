package domain

import (
	"fmt"

	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
)

type Page string

const (
	PageIdeation   Page = "ideation"
	PageStoryboard Page = "storyboard"
)

func ParsePage(s string) (Page, error) {
	switch Page(s) {
	case PageIdeation, PageStoryboard:
		return Page(s), nil
	}
	return "", fmt.Errorf("unknown page %q", s)
}

// Accepts reports whether an item kind may live on the page.
func (p Page) Accepts(k ItemKind) bool {
	if p == PageStoryboard {
		return k == KindCard
	}
	return k == KindText || k == KindImage || k == KindShape
}

// CanvasState is the complete replicated value of one workspace page.
type CanvasState struct {
	Items       []Item             `json:"items"`
	Connections []Connection       `json:"connections"`
	Transform   geometry.Transform `json:"transform"`
}

func EmptyState() CanvasState {
	return CanvasState{
		Items:       []Item{},
		Connections: []Connection{},
		Transform:   geometry.Identity(),
	}
}

func (s CanvasState) Clone() CanvasState {
	out := CanvasState{
		Items:       make([]Item, len(s.Items)),
		Connections: append([]Connection{}, s.Connections...),
		Transform:   s.Transform,
	}
	for i, it := range s.Items {
		out.Items[i] = it.Clone()
	}
	return out
}

func (s CanvasState) Find(id string) (Item, bool) {
	for _, it := range s.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}
