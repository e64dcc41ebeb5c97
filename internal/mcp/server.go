package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jareynolds/UbeCode-sub002/internal/canvas"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/log"
	"github.com/jareynolds/UbeCode-sub002/internal/service"
)

// WorkspaceLister is the read side of the workspace store the server needs.
type WorkspaceLister interface {
	ListWorkspaces() ([]domain.Workspace, error)
	GetWorkspace(id string) (*domain.Workspace, error)
}

// Server is the MCP server for the canvas.
// It exposes tools, resources, and prompts so AI agents can read and edit
// workspace canvases.
type Server struct {
	mcp    *server.MCPServer
	layout *LayoutEngine
	logger *slog.Logger

	canvas     *service.CanvasService
	transfer   *service.TransferService
	workspaces WorkspaceLister

	// Active target (set by set_active_canvas)
	mu              sync.Mutex
	activeWorkspace string
	activePage      domain.Page
}

// Deps holds the services passed from the app layer to the MCP server.
type Deps struct {
	Canvas     *service.CanvasService
	Transfer   *service.TransferService
	Workspaces WorkspaceLister
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	s := &Server{
		layout:     NewLayoutEngine(),
		logger:     log.WithComponent("mcp"),
		canvas:     deps.Canvas,
		transfer:   deps.Transfer,
		workspaces: deps.Workspaces,
		activePage: domain.PageIdeation,
	}

	s.mcp = server.NewMCPServer(
		"canvas-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerNavigationTools()
	s.registerItemTools()
	s.registerTransferTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("starting stdio server")
	return server.ServeStdio(s.mcp)
}

// MCP exposes the underlying server, mainly for tests and in-process transports.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// resolveTarget returns the workspace and page from tool args, falling back
// to the active canvas.
func (s *Server) resolveTarget(args map[string]any) (string, domain.Page, error) {
	s.mu.Lock()
	ws, page := s.activeWorkspace, s.activePage
	s.mu.Unlock()

	if v, ok := args["workspaceId"].(string); ok && v != "" {
		ws = v
	}
	if v, ok := args["page"].(string); ok && v != "" {
		p, err := domain.ParsePage(v)
		if err != nil {
			return "", "", err
		}
		page = p
	}
	if ws == "" {
		return "", "", fmt.Errorf("no workspaceId provided and no active canvas set (use set_active_canvas first)")
	}
	return ws, page, nil
}

// storeForTool resolves the target canvas and returns its live store.
func (s *Server) storeForTool(ctx context.Context, args map[string]any) (*canvas.Store, string, error) {
	ws, page, err := s.resolveTarget(args)
	if err != nil {
		return nil, "", err
	}
	store, err := s.canvas.Store(ctx, ws, page)
	if err != nil {
		return nil, "", fmt.Errorf("open canvas: %w", err)
	}
	return store, ws, nil
}

// itemForTool looks up the item named by args["itemId"].
func itemForTool(store *canvas.Store, args map[string]any) (domain.Item, error) {
	id, _ := args["itemId"].(string)
	if id == "" {
		return domain.Item{}, fmt.Errorf("itemId is required")
	}
	it, ok := store.Item(id)
	if !ok {
		return domain.Item{}, fmt.Errorf("item %s: %w", id, canvas.ErrItemNotFound)
	}
	return it, nil
}
