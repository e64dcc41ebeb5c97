package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jareynolds/UbeCode-sub002/internal/canvas"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
)

func targetParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("workspaceId", mcp.Description("Workspace ID (optional, defaults to active canvas)")),
		mcp.WithString("page", mcp.Description("ideation or storyboard (optional, defaults to active canvas)")),
	}
}

func tool(name string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append(opts, targetParams()...)...)
}

func (s *Server) registerItemTools() {
	// ── list_items ─────────────────────────────────────
	s.mcp.AddTool(tool("list_items",
		mcp.WithDescription("List items and connections on a canvas, optionally filtered by kind"),
		mcp.WithString("kind", mcp.Description("Filter by kind: text, image, shape, card (optional)")),
	), s.handleListItems)

	// ── add_text_item ──────────────────────────────────
	s.mcp.AddTool(tool("add_text_item",
		mcp.WithDescription("Add a text card to the ideation canvas. Position is auto-calculated if not provided."),
		mcp.WithString("content", mcp.Description("Card text; the first line is its title"), mcp.Required()),
		mcp.WithString("cardName", mcp.Description("Display name (optional)")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags (optional)")),
		mcp.WithNumber("x", mcp.Description("X position (optional, auto-layout if omitted)")),
		mcp.WithNumber("y", mcp.Description("Y position (optional, auto-layout if omitted)")),
		mcp.WithNumber("width", mcp.Description("Width (default 300)")),
		mcp.WithNumber("height", mcp.Description("Height (default 150)")),
	), s.handleAddTextItem)

	// ── add_shape_item ─────────────────────────────────
	s.mcp.AddTool(tool("add_shape_item",
		mcp.WithDescription("Add a shape to the ideation canvas"),
		mcp.WithString("shapeType",
			mcp.Description("box, square, circle or line"),
			mcp.Required(),
		),
		mcp.WithString("fillColor", mcp.Description("Fill color as #rrggbb (optional)")),
		mcp.WithString("strokeColor", mcp.Description("Stroke color as #rrggbb (optional)")),
		mcp.WithNumber("x", mcp.Description("X position (optional, auto-layout if omitted)")),
		mcp.WithNumber("y", mcp.Description("Y position (optional, auto-layout if omitted)")),
		mcp.WithNumber("width", mcp.Description("Width (default 150)")),
		mcp.WithNumber("height", mcp.Description("Height (default 150)")),
	), s.handleAddShapeItem)

	// ── add_story_card ─────────────────────────────────
	s.mcp.AddTool(tool("add_story_card",
		mcp.WithDescription("Add a story card to the storyboard canvas"),
		mcp.WithString("title", mcp.Description("Card title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Card description (optional)")),
		mcp.WithString("status",
			mcp.Description("pending, in-progress or completed (default pending)"),
			mcp.Enum(string(domain.StatusPending), string(domain.StatusInProgress), string(domain.StatusCompleted)),
		),
		mcp.WithString("ideationCardId", mcp.Description("Related ideation card ID (optional)")),
	), s.handleAddStoryCard)

	// ── move_item ──────────────────────────────────────
	s.mcp.AddTool(tool("move_item",
		mcp.WithDescription("Move an item to a new position"),
		mcp.WithString("itemId", mcp.Description("Item ID"), mcp.Required()),
		mcp.WithNumber("x", mcp.Description("New X position"), mcp.Required()),
		mcp.WithNumber("y", mcp.Description("New Y position"), mcp.Required()),
	), s.handleMoveItem)

	// ── resize_item ────────────────────────────────────
	s.mcp.AddTool(tool("resize_item",
		mcp.WithDescription("Resize an item. Pass width/height, or a handle (n, s, e, w, ne, nw, se, sw) with dx/dy. Sizes below 50 are raised to 50."),
		mcp.WithString("itemId", mcp.Description("Item ID"), mcp.Required()),
		mcp.WithNumber("width", mcp.Description("New width")),
		mcp.WithNumber("height", mcp.Description("New height")),
		mcp.WithString("handle", mcp.Description("Resize handle (optional)")),
		mcp.WithNumber("dx", mcp.Description("Handle drag X")),
		mcp.WithNumber("dy", mcp.Description("Handle drag Y")),
	), s.handleResizeItem)

	// ── connect_items ──────────────────────────────────
	s.mcp.AddTool(tool("connect_items",
		mcp.WithDescription("Connect two items. Self links and duplicate pairs are ignored."),
		mcp.WithString("fromId", mcp.Description("Source item ID"), mcp.Required()),
		mcp.WithString("toId", mcp.Description("Target item ID"), mcp.Required()),
	), s.handleConnectItems)

	// ── delete_item (destructive) ──────────────────────
	s.mcp.AddTool(tool("delete_item",
		mcp.WithDescription("DESTRUCTIVE: Delete an item and its connections. Story cards loaded from a record also delete that record."),
		mcp.WithString("itemId", mcp.Description("Item ID to delete"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleDeleteItem)

	// ── arrange_items ──────────────────────────────────
	s.mcp.AddTool(tool("arrange_items",
		mcp.WithDescription("Auto-arrange all items of a canvas in rows"),
		mcp.WithNumber("startX", mcp.Description("Starting X position (default 50)")),
		mcp.WithNumber("startY", mcp.Description("Starting Y position (default 50)")),
	), s.handleArrangeItems)
}

// ── Handlers ───────────────────────────────────────────────

func (s *Server) handleListItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	store, _, err := s.storeForTool(ctx, args)
	if err != nil {
		return nil, err
	}
	st := store.State()
	kind := getString(args, "kind", "")

	out := canvasSummary{Page: string(store.Page()), Items: []itemSummary{}, Connections: st.Connections}
	for _, it := range st.Items {
		if kind != "" && string(it.Kind) != kind {
			continue
		}
		out.Items = append(out.Items, summarizeItem(it))
	}
	return jsonResult(out)
}

func (s *Server) placeNew(store *canvas.Store, args map[string]any, w, h float64) (float64, float64) {
	x, hasX := args["x"].(float64)
	y, hasY := args["y"].(float64)
	if hasX && hasY {
		return x, y
	}
	return s.layout.NextPosition(store.State().Items, w, h)
}

func (s *Server) handleAddTextItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	content := getString(args, "content", "")
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}
	store, _, err := s.storeForTool(ctx, args)
	if err != nil {
		return nil, err
	}

	w := getFloat(args, "width", geometry.DefaultItemWidth)
	h := getFloat(args, "height", geometry.DefaultItemHeight)
	x, y := s.placeNew(store, args, w, h)

	it := domain.NewTextItem("", content, x, y)
	it.Width, it.Height = w, h
	it.CardName = getString(args, "cardName", "")
	it.Tags = splitList(getString(args, "tags", ""))

	added, err := store.AddItem(it)
	if err != nil {
		return nil, fmt.Errorf("add text item: %w", err)
	}
	return jsonResult(summarizeItem(added))
}

func (s *Server) handleAddShapeItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	raw := getString(args, "shapeType", "")
	if raw == "" {
		return nil, fmt.Errorf("shapeType is required")
	}
	store, _, err := s.storeForTool(ctx, args)
	if err != nil {
		return nil, err
	}

	w := getFloat(args, "width", 150)
	h := getFloat(args, "height", 150)
	x, y := s.placeNew(store, args, w, h)

	it := domain.NewShapeItem("", domain.ParseShapeType(raw), x, y, w, h)
	it.Shape.FillColor = getString(args, "fillColor", it.Shape.FillColor)
	it.Shape.StrokeColor = getString(args, "strokeColor", it.Shape.StrokeColor)

	added, err := store.AddItem(it)
	if err != nil {
		return nil, fmt.Errorf("add shape item: %w", err)
	}
	return jsonResult(summarizeItem(added))
}

func (s *Server) handleAddStoryCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	title := getString(args, "title", "")
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if _, ok := args["page"]; !ok {
		args["page"] = string(domain.PageStoryboard)
	}
	store, _, err := s.storeForTool(ctx, args)
	if err != nil {
		return nil, err
	}

	x, y := s.placeNew(store, args, domain.StoryCardWidth, domain.StoryCardHeight)
	it := domain.NewStoryCard("", title, getString(args, "description", ""), x, y)
	switch status := domain.CardStatus(getString(args, "status", "")); status {
	case domain.StatusInProgress, domain.StatusCompleted:
		it.Card.Status = status
	}
	it.Card.IdeationCardID = getString(args, "ideationCardId", "")

	added, err := store.AddItem(it)
	if err != nil {
		return nil, fmt.Errorf("add story card: %w", err)
	}
	return jsonResult(summarizeItem(added))
}

func (s *Server) handleMoveItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	store, _, err := s.storeForTool(ctx, args)
	if err != nil {
		return nil, err
	}
	it, err := itemForTool(store, args)
	if err != nil {
		return nil, err
	}

	x := getFloat(args, "x", it.X)
	y := getFloat(args, "y", it.Y)
	if _, err := store.MoveItem(it.ID, x, y); err != nil {
		return nil, fmt.Errorf("move item: %w", err)
	}
	return textResult(fmt.Sprintf("Item %s moved to (%.0f, %.0f)", it.ID, x, y)), nil
}

func (s *Server) handleResizeItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	store, _, err := s.storeForTool(ctx, args)
	if err != nil {
		return nil, err
	}
	it, err := itemForTool(store, args)
	if err != nil {
		return nil, err
	}

	if raw := getString(args, "handle", ""); raw != "" {
		h, ok := geometry.ParseHandle(raw)
		if !ok {
			return nil, fmt.Errorf("unknown handle %q", raw)
		}
		if _, err := store.ResizeItem(it.ID, h, getFloat(args, "dx", 0), getFloat(args, "dy", 0)); err != nil {
			return nil, fmt.Errorf("resize item: %w", err)
		}
	} else {
		r := it.Bounds()
		r.Width = getFloat(args, "width", r.Width)
		r.Height = getFloat(args, "height", r.Height)
		if _, err := store.SetBounds(it.ID, r); err != nil {
			return nil, fmt.Errorf("resize item: %w", err)
		}
	}

	after, _ := store.Item(it.ID)
	return textResult(fmt.Sprintf("Item %s resized to (%.0f × %.0f)", it.ID, after.Width, after.Height)), nil
}

func (s *Server) handleConnectItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	from, to := getString(args, "fromId", ""), getString(args, "toId", "")
	if from == "" || to == "" {
		return nil, fmt.Errorf("fromId and toId are required")
	}
	store, _, err := s.storeForTool(ctx, args)
	if err != nil {
		return nil, err
	}

	before := len(store.State().Connections)
	st, err := store.AddConnection(from, to)
	if err != nil {
		return nil, fmt.Errorf("connect items: %w", err)
	}
	if len(st.Connections) == before {
		return textResult(fmt.Sprintf("Items %s and %s are already connected", from, to)), nil
	}
	return jsonResult(st.Connections[len(st.Connections)-1])
}

func (s *Server) handleDeleteItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	store, ws, err := s.storeForTool(ctx, args)
	if err != nil {
		return nil, err
	}
	it, err := itemForTool(store, args)
	if err != nil {
		return nil, err
	}

	if it.Kind == domain.KindCard && s.transfer != nil {
		err = s.transfer.DeleteCard(ctx, ws, it.ID)
	} else {
		_, err = store.RemoveItem(it.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("delete item: %w", err)
	}
	return textResult(fmt.Sprintf("Item %s deleted", it.ID)), nil
}

func (s *Server) handleArrangeItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	store, _, err := s.storeForTool(ctx, args)
	if err != nil {
		return nil, err
	}

	st := store.State()
	arranged := s.layout.ArrangeGroup(st.Items, getFloat(args, "startX", Padding), getFloat(args, "startY", Padding))
	st.Items = arranged
	store.Replace(st)
	return textResult(fmt.Sprintf("Arranged %d items", len(arranged))), nil
}

// ── Helper types ───────────────────────────────────────────

type itemSummary struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Title   string   `json:"title"`
	X       float64  `json:"x"`
	Y       float64  `json:"y"`
	Width   float64  `json:"width"`
	Height  float64  `json:"height"`
	Tags    []string `json:"tags,omitempty"`
	Status  string   `json:"status,omitempty"`
	Preview string   `json:"preview,omitempty"` // first 200 chars of the text
}

type canvasSummary struct {
	Page        string              `json:"page"`
	Items       []itemSummary       `json:"items"`
	Connections []domain.Connection `json:"connections"`
}

func summarizeItem(it domain.Item) itemSummary {
	preview := []rune(it.Description())
	if len(preview) > 200 {
		preview = append(preview[:200], []rune("...")...)
	}
	out := itemSummary{
		ID:      it.ID,
		Kind:    string(it.Kind),
		Title:   it.Title(),
		X:       it.X,
		Y:       it.Y,
		Width:   it.Width,
		Height:  it.Height,
		Tags:    it.Tags,
		Preview: string(preview),
	}
	if it.Card != nil {
		out.Status = string(it.Card.Status)
	}
	return out
}
