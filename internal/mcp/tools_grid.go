package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerGridTools() {
	s.mcp.AddTool(mcp.NewTool("open_session",
		mcp.WithDescription("Open a record grid session on a connection. Returns the session ID used by every grid tool."),
		mcp.WithString("connectionId", mcp.Description("Connection profile ID"), mcp.Required()),
	), s.handleOpenSession)

	s.mcp.AddTool(mcp.NewTool("close_session",
		mcp.WithDescription("Close a record grid session"),
		mcp.WithString("sessionId", mcp.Description("Session ID"), mcp.Required()),
	), s.handleCloseSession)

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List open record grid sessions"),
	), s.handleListSessions)

	s.mcp.AddTool(mcp.NewTool("list_objects",
		mcp.WithDescription("List the objects (tables or collections) a session can browse, sorted by label"),
		mcp.WithString("sessionId", mcp.Description("Session ID"), mcp.Required()),
	), s.handleListObjects)

	s.mcp.AddTool(mcp.NewTool("select_object",
		mcp.WithDescription("Select the object to browse. Clears the field selection, the snapshot and pending edits, and returns the field options."),
		mcp.WithString("sessionId", mcp.Description("Session ID"), mcp.Required()),
		mcp.WithString("objectId", mcp.Description("Object ID from list_objects"), mcp.Required()),
	), s.handleSelectObject)

	s.mcp.AddTool(mcp.NewTool("select_fields",
		mcp.WithDescription("Choose the fields to show. The identifier column is always included."),
		mcp.WithString("sessionId", mcp.Description("Session ID"), mcp.Required()),
		mcp.WithArray("fields", mcp.Description("Field names from the field options"), mcp.Required(), mcp.WithStringItems()),
		mcp.WithBoolean("autoFetch", mcp.Description("Fetch records right away (default true)")),
	), s.handleSelectFields)

	s.mcp.AddTool(mcp.NewTool("fetch_records",
		mcp.WithDescription("Fetch a fresh snapshot for the selected fields and show its first page"),
		mcp.WithString("sessionId", mcp.Description("Session ID"), mcp.Required()),
	), s.handleFetchRecords)

	s.mcp.AddTool(mcp.NewTool("load_more",
		mcp.WithDescription("Reveal the next page of the snapshot"),
		mcp.WithString("sessionId", mcp.Description("Session ID"), mcp.Required()),
		mcp.WithNumber("seen", mcp.Description("Number of rows currently shown; a stale value is ignored (default: skip the check)")),
	), s.handleLoadMore)

	s.mcp.AddTool(mcp.NewTool("edit_row",
		mcp.WithDescription("Record field changes for one row. Nothing is written until submit_edits."),
		mcp.WithString("sessionId", mcp.Description("Session ID"), mcp.Required()),
		mcp.WithString("rowId", mcp.Description("Row identifier (Id column)"), mcp.Required()),
		mcp.WithObject("changes", mcp.Description("Field name to new value"), mcp.Required()),
	), s.handleEditRow)

	s.mcp.AddTool(mcp.NewTool("submit_edits",
		mcp.WithDescription("Write all pending edits, report successes and failures, then refresh the snapshot. 🛑 May require user approval."),
		mcp.WithString("sessionId", mcp.Description("Session ID"), mcp.Required()),
	), s.handleSubmitEdits)

	s.mcp.AddTool(mcp.NewTool("grid_view",
		mcp.WithDescription("Show the current grid: state, columns, visible rows, pending edit count and messages"),
		mcp.WithString("sessionId", mcp.Description("Session ID"), mcp.Required()),
	), s.handleGridView)

	s.mcp.AddTool(mcp.NewTool("edit_log",
		mcp.WithDescription("List recent edit submissions, newest first"),
		mcp.WithString("objectId", mcp.Description("Only submissions on this object (optional)")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 50)")),
	), s.handleEditLog)
}

func (s *Server) handleOpenSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID, err := requiredString(req, "connectionId")
	if err != nil {
		return nil, err
	}
	sess, err := s.grid.OpenSession(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return jsonResult(sess)
}

func (s *Server) handleCloseSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := requiredString(req, "sessionId")
	if err != nil {
		return nil, err
	}
	if err := s.grid.CloseSession(sid); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Session %s closed", sid)), nil
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type sessionSummary struct {
		ID           string `json:"id"`
		ConnectionID string `json:"connectionId"`
		ObjectID     string `json:"objectId,omitempty"`
		State        string `json:"state"`
	}
	sessions := s.grid.Sessions()
	out := make([]sessionSummary, len(sessions))
	for i, sess := range sessions {
		ctrl := sess.Controller()
		out[i] = sessionSummary{
			ID:           sess.ID,
			ConnectionID: sess.ConnectionID,
			ObjectID:     ctrl.ObjectID(),
			State:        string(ctrl.State()),
		}
	}
	return jsonResult(out)
}

func (s *Server) handleListObjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := requiredString(req, "sessionId")
	if err != nil {
		return nil, err
	}
	objs, err := s.grid.Objects(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return jsonResult(objs)
}

func (s *Server) handleSelectObject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := requiredString(req, "sessionId")
	if err != nil {
		return nil, err
	}
	objectID, err := requiredString(req, "objectId")
	if err != nil {
		return nil, err
	}
	view, err := s.grid.SelectObject(ctx, sid, objectID)
	if err != nil {
		return nil, fmt.Errorf("select object: %w", err)
	}
	return jsonResult(view)
}

func (s *Server) handleSelectFields(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := requiredString(req, "sessionId")
	if err != nil {
		return nil, err
	}
	fields := req.GetStringSlice("fields", nil)
	view, err := s.grid.SelectFields(ctx, sid, fields, req.GetBool("autoFetch", true))
	if err != nil {
		return nil, fmt.Errorf("select fields: %w", err)
	}
	return jsonResult(view)
}

func (s *Server) handleFetchRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := requiredString(req, "sessionId")
	if err != nil {
		return nil, err
	}
	if _, err := s.grid.Fetch(ctx, sid); err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	view, err := s.grid.View(sid)
	if err != nil {
		return nil, err
	}
	return jsonResult(view)
}

func (s *Server) handleLoadMore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := requiredString(req, "sessionId")
	if err != nil {
		return nil, err
	}
	res, err := s.grid.LoadMore(ctx, sid, req.GetInt("seen", -1))
	if err != nil {
		return nil, fmt.Errorf("load more: %w", err)
	}
	view, err := s.grid.View(sid)
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"added": res.Added, "exhausted": res.Exhausted, "view": view})
}

func (s *Server) handleEditRow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := requiredString(req, "sessionId")
	if err != nil {
		return nil, err
	}
	rowID, err := requiredString(req, "rowId")
	if err != nil {
		return nil, err
	}
	changes, _ := req.GetArguments()["changes"].(map[string]any)
	if len(changes) == 0 {
		return nil, fmt.Errorf("changes is required")
	}
	recorded, err := s.grid.Edit(sid, rowID, changes)
	if err != nil {
		return nil, fmt.Errorf("edit row: %w", err)
	}
	if !recorded {
		return textResult(fmt.Sprintf("Row %s is not in the current snapshot; edit ignored", rowID)), nil
	}
	view, err := s.grid.View(sid)
	if err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Edit recorded; %d row(s) pending", view.Pending)), nil
}

func (s *Server) handleSubmitEdits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := requiredString(req, "sessionId")
	if err != nil {
		return nil, err
	}
	sess, err := s.grid.Session(sid)
	if err != nil {
		return nil, err
	}
	pending := sess.Controller().Pending()
	if len(pending) == 0 {
		return textResult("No pending edits"), nil
	}
	desc := fmt.Sprintf("Update %d row(s) of %s", len(pending), sess.Controller().ObjectID())
	if !s.confirm(ctx, "submit_edits", desc, pending) {
		return textResult("Edit submission rejected by user"), nil
	}
	res, err := s.grid.SubmitEdits(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("submit edits: %w", err)
	}
	return jsonResult(res)
}

func (s *Server) handleGridView(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := requiredString(req, "sessionId")
	if err != nil {
		return nil, err
	}
	view, err := s.grid.View(sid)
	if err != nil {
		return nil, err
	}
	return jsonResult(view)
}

func (s *Server) handleEditLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.grid.EditLog(req.GetString("objectId", ""), req.GetInt("limit", 0))
	if err != nil {
		return nil, fmt.Errorf("edit log: %w", err)
	}
	return jsonResult(entries)
}
