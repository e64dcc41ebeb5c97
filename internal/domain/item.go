package domain

import (
	"strings"

	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
)

type ItemKind string

const (
	KindText  ItemKind = "text"
	KindImage ItemKind = "image"
	KindShape ItemKind = "shape"
	KindCard  ItemKind = "card"
)

func (k ItemKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindShape, KindCard:
		return true
	}
	return false
}

type ShapeType string

const (
	ShapeBox    ShapeType = "box"
	ShapeSquare ShapeType = "square"
	ShapeCircle ShapeType = "circle"
	ShapeLine   ShapeType = "line"
)

// ParseShapeType maps a free-form label to a shape type, falling back to box.
func ParseShapeType(s string) ShapeType {
	switch ShapeType(strings.ToLower(strings.TrimSpace(s))) {
	case ShapeSquare:
		return ShapeSquare
	case ShapeCircle:
		return ShapeCircle
	case ShapeLine:
		return ShapeLine
	}
	return ShapeBox
}

type CardStatus string

const (
	StatusPending    CardStatus = "pending"
	StatusInProgress CardStatus = "in-progress"
	StatusCompleted  CardStatus = "completed"
)

// Label is the human readable form written into story records.
func (s CardStatus) Label() string {
	switch s {
	case StatusCompleted:
		return "Completed"
	case StatusInProgress:
		return "In Progress"
	}
	return "Pending"
}

// Item is one positioned unit on a canvas. Exactly one of the body
// pointers is set, selected by Kind.
type Item struct {
	ID       string   `json:"id"`
	Kind     ItemKind `json:"kind"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Width    float64  `json:"width"`
	Height   float64  `json:"height"`
	Tags     []string `json:"tags,omitempty"`
	CardName string   `json:"cardName,omitempty"`

	Text  *TextBody      `json:"text,omitempty"`
	Image *ImageBody     `json:"image,omitempty"`
	Shape *ShapeBody     `json:"shape,omitempty"`
	Card  *StoryCardBody `json:"card,omitempty"`
}

type TextBody struct {
	Content   string    `json:"content"`
	Notes     []string  `json:"notes,omitempty"`
	Images    []SubItem `json:"images,omitempty"`
	Shapes    []SubItem `json:"shapes,omitempty"`
	TextBoxes []SubItem `json:"textBoxes,omitempty"`
	Assets    []Asset   `json:"assets,omitempty"`
}

type ImageBody struct {
	URL              string   `json:"imageUrl"`
	TextContent      string   `json:"textContent,omitempty"`
	AdditionalImages []string `json:"additionalImages,omitempty"`
}

type ShapeBody struct {
	ShapeType     ShapeType `json:"shapeType"`
	FillColor     string    `json:"fillColor"`
	StrokeColor   string    `json:"strokeColor"`
	StrokeWidth   float64   `json:"strokeWidth"`
	CurveControlX float64   `json:"curveControlX,omitempty"`
	CurveControlY float64   `json:"curveControlY,omitempty"`
}

type StoryCardBody struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         CardStatus `json:"status"`
	IdeationCardID string     `json:"ideationCardId,omitempty"`
	SourceFileName string     `json:"sourceFileName,omitempty"`
}

// SubKind identifies which nested collection of a text item a SubItem lives in.
type SubKind string

const (
	SubImage   SubKind = "image"
	SubShape   SubKind = "shape"
	SubTextBox SubKind = "textBox"
)

// SubItem is positioned relative to its parent item's top-left corner.
type SubItem struct {
	ID          string    `json:"id"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	URL         string    `json:"url,omitempty"`
	ShapeType   ShapeType `json:"shapeType,omitempty"`
	FillColor   string    `json:"fillColor,omitempty"`
	StrokeColor string    `json:"strokeColor,omitempty"`
	StrokeWidth float64   `json:"strokeWidth,omitempty"`
	Content     string    `json:"content,omitempty"`
	FontSize    float64   `json:"fontSize,omitempty"`
}

func (s SubItem) Bounds() geometry.Rect {
	return geometry.Rect{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height}
}

type Asset struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Bounds returns the item rectangle, substituting the default card size
// for unset dimensions.
func (it Item) Bounds() geometry.Rect {
	return geometry.Rect{X: it.X, Y: it.Y, Width: it.Width, Height: it.Height}.WithDefaultSize()
}

// Title is the primary label used for dedupe and display.
func (it Item) Title() string {
	switch it.Kind {
	case KindCard:
		if it.Card != nil {
			return it.Card.Title
		}
	case KindShape:
		if it.CardName != "" {
			return it.CardName
		}
		if it.Shape != nil {
			return "Shape: " + string(it.Shape.ShapeType)
		}
	case KindImage:
		if it.CardName != "" {
			return it.CardName
		}
	case KindText:
		if it.CardName != "" {
			return it.CardName
		}
		if it.Text != nil {
			return firstLine(it.Text.Content)
		}
	}
	return ""
}

// Description is the free-text body of the item.
func (it Item) Description() string {
	switch it.Kind {
	case KindText:
		if it.Text != nil {
			return it.Text.Content
		}
	case KindImage:
		if it.Image != nil {
			return it.Image.TextContent
		}
	case KindCard:
		if it.Card != nil {
			return it.Card.Description
		}
	}
	return ""
}

// DisplayName is the label used on connection lines in exported records.
func (it Item) DisplayName() string {
	if it.Kind == KindCard && it.Card != nil && it.Card.Title != "" {
		return it.Card.Title
	}
	if it.CardName != "" {
		return it.CardName
	}
	if len(it.ID) > 8 {
		return it.ID[:8]
	}
	return it.ID
}

// PrimaryText returns the field edited inline on double-click.
func (it Item) PrimaryText() string {
	switch it.Kind {
	case KindText:
		if it.Text != nil {
			return it.Text.Content
		}
	case KindImage:
		if it.Image != nil {
			return it.Image.TextContent
		}
	case KindCard:
		if it.Card != nil {
			return it.Card.Title
		}
	case KindShape:
		return it.CardName
	}
	return ""
}

// SetPrimaryText writes v into the field returned by PrimaryText.
func (it *Item) SetPrimaryText(v string) {
	switch it.Kind {
	case KindText:
		if it.Text == nil {
			it.Text = &TextBody{}
		}
		it.Text.Content = v
	case KindImage:
		if it.Image == nil {
			it.Image = &ImageBody{}
		}
		it.Image.TextContent = v
	case KindCard:
		if it.Card == nil {
			it.Card = &StoryCardBody{Status: StatusPending}
		}
		it.Card.Title = v
	case KindShape:
		it.CardName = v
	}
}

func (it Item) HasTag(tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (it Item) Clone() Item {
	out := it
	out.Tags = cloneStrings(it.Tags)
	if it.Text != nil {
		tb := *it.Text
		tb.Notes = cloneStrings(it.Text.Notes)
		tb.Images = cloneSubs(it.Text.Images)
		tb.Shapes = cloneSubs(it.Text.Shapes)
		tb.TextBoxes = cloneSubs(it.Text.TextBoxes)
		if it.Text.Assets != nil {
			tb.Assets = append([]Asset(nil), it.Text.Assets...)
		}
		out.Text = &tb
	}
	if it.Image != nil {
		ib := *it.Image
		ib.AdditionalImages = cloneStrings(it.Image.AdditionalImages)
		out.Image = &ib
	}
	if it.Shape != nil {
		sb := *it.Shape
		out.Shape = &sb
	}
	if it.Card != nil {
		cb := *it.Card
		out.Card = &cb
	}
	return out
}

// SubItems returns the nested collection of the given kind.
func (tb *TextBody) SubItems(kind SubKind) *[]SubItem {
	switch kind {
	case SubImage:
		return &tb.Images
	case SubShape:
		return &tb.Shapes
	case SubTextBox:
		return &tb.TextBoxes
	}
	return nil
}

func NewTextItem(id, content string, x, y float64) Item {
	return Item{
		ID: id, Kind: KindText, X: x, Y: y,
		Width: geometry.DefaultItemWidth, Height: geometry.DefaultItemHeight,
		Text: &TextBody{Content: content},
	}
}

func NewShapeItem(id string, shape ShapeType, x, y, w, h float64) Item {
	return Item{
		ID: id, Kind: KindShape, X: x, Y: y, Width: w, Height: h,
		Shape: &ShapeBody{ShapeType: shape, FillColor: DefaultFillColor, StrokeColor: DefaultStrokeColor, StrokeWidth: DefaultStrokeWidth},
	}
}

func NewStoryCard(id, title, description string, x, y float64) Item {
	return Item{
		ID: id, Kind: KindCard, X: x, Y: y,
		Width: StoryCardWidth, Height: StoryCardHeight,
		Card: &StoryCardBody{Title: title, Description: description, Status: StatusPending},
	}
}

const (
	DefaultFillColor   = "#47A8E5"
	DefaultStrokeColor = "#133A7C"
	DefaultStrokeWidth = 2

	StoryCardWidth  = 330
	StoryCardHeight = 450
)

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.TrimLeft(s, "# "))
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneSubs(in []SubItem) []SubItem {
	if in == nil {
		return nil
	}
	return append([]SubItem(nil), in...)
}
