package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("brainstorm",
		mcp.WithPromptDescription("Lay out a brainstorm of connected idea cards on the ideation canvas"),
		mcp.WithArgument("topic",
			mcp.ArgumentDescription("Topic to brainstorm"),
			mcp.RequiredArgument(),
		),
	), s.handleBrainstormPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("story_map",
		mcp.WithPromptDescription("Turn ideation cards into storyboard story cards with dependencies"),
		mcp.WithArgument("workspaceId",
			mcp.ArgumentDescription("Workspace to map"),
			mcp.RequiredArgument(),
		),
	), s.handleStoryMapPrompt)
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.TextContent{Type: "text", Text: text},
			},
		},
	}
}

func (s *Server) handleBrainstormPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	topic := req.Params.Arguments["topic"]
	return userPrompt(fmt.Sprintf("Brainstorm: %s", topic), fmt.Sprintf(`Brainstorm "%s" on the active ideation canvas. Follow these steps:

1. Use add_text_item to create a central card titled "%s"
2. Add one text card per idea, problem or question; put the title on the first line
3. Use connect_items to link each card to the card it builds on
4. Group related cards with tags (comma-separated in add_text_item)
5. Finish with arrange_items, then export_canvas so the cards are saved as records`, topic, topic)), nil
}

func (s *Server) handleStoryMapPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	wsID := req.Params.Arguments["workspaceId"]
	return userPrompt(fmt.Sprintf("Story map for workspace %s", wsID), fmt.Sprintf(`Build a storyboard for workspace %s. Follow these steps:

1. Call set_active_canvas with workspaceId %s and page ideation, then list_items
2. For each text card that describes user-facing behaviour, call add_story_card on page storyboard with ideationCardId set to the card ID
3. Use connect_items on the storyboard to express dependencies (upstream → downstream)
4. Mark finished work with status completed, work underway with in-progress
5. Call export_canvas with page storyboard to write the STORY records and the index`, wsID, wsID)), nil
}
