package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

const (
	workspacesURI = "canvas://workspaces"
	statePrefix   = "canvas://workspace/"
)

func (s *Server) registerResources() {
	// ── canvas://workspaces ────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		workspacesURI,
		"All Workspaces",
		mcp.WithMIMEType("application/json"),
	), s.handleWorkspacesResource)

	// ── canvas://workspace/{workspaceId}/{page}/state ──
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"canvas://workspace/{workspaceId}/{page}/state",
			"Canvas State of a Workspace Page",
		),
		s.handleStateResource,
	)
}

func (s *Server) handleWorkspacesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	workspaces, err := s.workspaces.ListWorkspaces()
	if err != nil {
		return nil, err
	}

	type workspaceSummary struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Folder string `json:"projectFolder"`
	}

	summaries := make([]workspaceSummary, 0, len(workspaces))
	for _, w := range workspaces {
		summaries = append(summaries, workspaceSummary{ID: w.ID, Name: w.Name, Folder: w.ProjectFolder})
	}

	data, _ := json.MarshalIndent(summaries, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      workspacesURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleStateResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	wsID, page, err := parseStateURI(uri)
	if err != nil {
		return nil, err
	}
	st, err := s.canvas.State(ctx, wsID, page)
	if err != nil {
		return nil, err
	}

	data, _ := json.MarshalIndent(st, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseStateURI extracts workspace and page from
// "canvas://workspace/{id}/{page}/state".
func parseStateURI(uri string) (string, domain.Page, error) {
	rest, ok := strings.CutPrefix(uri, statePrefix)
	if !ok {
		return "", "", fmt.Errorf("not a canvas state URI: %s", uri)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[2] != "state" {
		return "", "", fmt.Errorf("could not extract workspace and page from URI: %s", uri)
	}
	page, err := domain.ParsePage(parts[1])
	if err != nil {
		return "", "", err
	}
	return parts[0], page, nil
}
