package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

func (s *Server) registerNavigationTools() {
	// ── list_workspaces ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_workspaces",
		mcp.WithDescription("List all workspaces"),
	), s.handleListWorkspaces)

	// ── set_active_canvas ──────────────────────────────
	s.mcp.AddTool(mcp.NewTool("set_active_canvas",
		mcp.WithDescription("Set the workspace and page used by subsequent tool calls that omit them."),
		mcp.WithString("workspaceId",
			mcp.Description("ID of the workspace"),
			mcp.Required(),
		),
		mcp.WithString("page",
			mcp.Description("Canvas page: ideation or storyboard (default ideation)"),
			mcp.Enum(string(domain.PageIdeation), string(domain.PageStoryboard)),
		),
	), s.handleSetActiveCanvas)
}

func (s *Server) handleListWorkspaces(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaces, err := s.workspaces.ListWorkspaces()
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return jsonResult(workspaces)
}

func (s *Server) handleSetActiveCanvas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	wsID := getString(args, "workspaceId", "")
	if wsID == "" {
		return nil, fmt.Errorf("workspaceId is required")
	}
	page, err := domain.ParsePage(getString(args, "page", string(domain.PageIdeation)))
	if err != nil {
		return nil, err
	}
	if _, err := s.workspaces.GetWorkspace(wsID); err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}

	s.mu.Lock()
	s.activeWorkspace, s.activePage = wsID, page
	s.mu.Unlock()
	s.canvas.Activate(wsID)
	return textResult(fmt.Sprintf("Active canvas set to %s/%s", wsID, page)), nil
}
