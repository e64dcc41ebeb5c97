package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jareynolds/UbeCode-sub002/internal/service"
)

func (s *Server) registerTransferTools() {
	// ── export_canvas ──────────────────────────────────
	s.mcp.AddTool(tool("export_canvas",
		mcp.WithDescription("Write the canvas as markdown records into the workspace conception folder"),
	), s.handleExportCanvas)

	// ── import_canvas ──────────────────────────────────
	s.mcp.AddTool(tool("import_canvas",
		mcp.WithDescription("Load records from the workspace conception folder into the canvas. Items already present (same title and description) are skipped."),
	), s.handleImportCanvas)
}

func (s *Server) handleExportCanvas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, page, err := s.resolveTarget(req.GetArguments())
	if err != nil {
		return nil, err
	}
	res, err := s.transfer.Export(ctx, ws, page)
	if err != nil {
		return transferError("export", err)
	}
	return jsonResult(res)
}

func (s *Server) handleImportCanvas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, page, err := s.resolveTarget(req.GetArguments())
	if err != nil {
		return nil, err
	}
	s.canvas.Activate(ws)
	sum, err := s.transfer.Import(ctx, ws, page)
	if err != nil {
		return transferError("import", err)
	}
	return jsonResult(sum)
}

// transferError turns expected transfer conditions into tool errors the
// agent can read, and passes anything else through.
func transferError(op string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, service.ErrBusy), errors.Is(err, service.ErrNoFolder), errors.Is(err, service.ErrStale):
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", op, err)), nil
	}
	return nil, fmt.Errorf("%s canvas: %w", op, err)
}
