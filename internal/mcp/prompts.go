package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("browse_records",
		mcp.WithPromptDescription("Walk through browsing and editing the records of one object"),
		mcp.WithArgument("connectionId",
			mcp.ArgumentDescription("Connection profile ID"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("objectId",
			mcp.ArgumentDescription("Object to browse"),
			mcp.RequiredArgument(),
		),
	), s.handleBrowseRecordsPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("review_permissions",
		mcp.WithPromptDescription("Review which objects grant create, edit, delete or modify-all access"),
		mcp.WithArgument("connectionId",
			mcp.ArgumentDescription("Connection profile ID"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("objectId",
			mcp.ArgumentDescription("Object holding the permission rows"),
			mcp.RequiredArgument(),
		),
	), s.handleReviewPermissionsPrompt)
}

func (s *Server) handleBrowseRecordsPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	connID := req.Params.Arguments["connectionId"]
	objectID := req.Params.Arguments["objectId"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Browse %s records", objectID),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Browse the records of "%s" on connection %s. Follow these steps:

1. Use open_session with the connection and keep the returned session ID
2. Use select_object for "%s" and look at the returned field options
3. Use select_fields with a handful of useful fields; the first page of rows comes back
4. Use load_more with the number of rows already shown to reveal further pages
5. To change values, call edit_row per row, check grid_view for the pending count, then submit_edits
6. Read the success and failure counts in the result, and close_session when done

Only editable columns accept changes. If the grid shows "No Records", the selection returned nothing.`, objectID, connID, objectID),
				},
			},
		},
	}, nil
}

func (s *Server) handleReviewPermissionsPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	connID := req.Params.Arguments["connectionId"]
	objectID := req.Params.Arguments["objectId"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Review permissions stored in %s", objectID),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Review object permissions read from "%s" on connection %s. Follow these steps:

1. Call audit_permissions with no filters to see the total and the first page
2. Call it again with levels ["Create", "Delete", "ModifyAll"] to list objects granting write access
3. Page through with the page argument until isLast is true
4. Summarize which objects grant Modify All or View All, as these bypass sharing
5. If the connection also holds permission sets, list_permission_sets shows the most assigned ones first

Use search to focus on a single object label when the list is long.`, objectID, connID),
				},
			},
		},
	}, nil
}
