package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"recordgrid/internal/audit"
	"recordgrid/internal/service"
)

func (s *Server) registerAuditTools() {
	levels := make([]string, 0, len(audit.Options()))
	for _, l := range audit.Options() {
		levels = append(levels, string(l))
	}

	s.mcp.AddTool(mcp.NewTool("audit_permissions",
		mcp.WithDescription("Page through object permissions read from an object whose rows describe one object's access each. "+
			"Rows are sorted by object label; search, level filters and sort direction apply before paging. "+
			"The result also lists privileged permissions (View All or Modify All) of the audited subject."),
		mcp.WithString("connectionId", mcp.Description("Connection profile ID"), mcp.Required()),
		mcp.WithString("objectId", mcp.Description("Object holding the permission rows"), mcp.Required()),
		mcp.WithString("subject", mcp.Description("Audit one user, profile or permission set by the ID in the mapped subject column (default ParentId)")),
		mcp.WithString("subjectType", mcp.Description("Keep rows whose mapped subject type column (default ParentType) matches, e.g. Profile")),
		mcp.WithString("search", mcp.Description("Case-insensitive substring of the object label")),
		mcp.WithArray("levels", mcp.Description("Keep rows granting any of: "+strings.Join(levels, ", ")), mcp.WithStringItems()),
		mcp.WithBoolean("descending", mcp.Description("Sort labels Z to A")),
		mcp.WithNumber("page", mcp.Description("1-based page number (default 1)")),
		mcp.WithObject("mapping", mcp.Description("Field names for label, subject, subjectType, create, read, edit, delete, viewAll, modifyAll (default: ObjectPermissions export columns)")),
	), s.handleAuditPermissions)

	s.mcp.AddTool(mcp.NewTool("list_permission_sets",
		mcp.WithDescription("Page through permission sets, most assigned users first, 8 per page. "+
			"Each set shows its first two permissions as badges and the rest as remaining."),
		mcp.WithString("connectionId", mcp.Description("Connection profile ID"), mcp.Required()),
		mcp.WithString("objectId", mcp.Description("Object holding one permission set per row"), mcp.Required()),
		mcp.WithNumber("page", mcp.Description("1-based page number (default 1)")),
		mcp.WithArray("expand", mcp.Description("Set IDs whose permissions show in full"), mcp.WithStringItems()),
		mcp.WithObject("mapping", mcp.Description("Field names for id, name, assignedUserCount, assignedPermissions (default: PermissionSet export columns)")),
	), s.handleListPermissionSets)
}

func (s *Server) handleAuditPermissions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	audReq := service.AuditRequest{
		ConnectionID: req.GetString("connectionId", ""),
		ObjectID:     req.GetString("objectId", ""),
		Subject:      req.GetString("subject", ""),
		SubjectType:  req.GetString("subjectType", ""),
		Search:       req.GetString("search", ""),
		Levels:       req.GetStringSlice("levels", nil),
		Descending:   req.GetBool("descending", false),
		Page:         req.GetInt("page", 0),
	}
	if err := decodeArg(req, "mapping", &audReq.Mapping); err != nil {
		return nil, err
	}
	view, err := s.grid.Audit(ctx, audReq)
	if err != nil {
		return nil, fmt.Errorf("audit permissions: %w", err)
	}
	return jsonResult(view)
}

func (s *Server) handleListPermissionSets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	setsReq := service.PermissionSetsRequest{
		ConnectionID: req.GetString("connectionId", ""),
		ObjectID:     req.GetString("objectId", ""),
		Page:         req.GetInt("page", 0),
		Expand:       req.GetStringSlice("expand", nil),
	}
	if err := decodeArg(req, "mapping", &setsReq.Mapping); err != nil {
		return nil, err
	}
	view, err := s.grid.PermissionSets(ctx, setsReq)
	if err != nil {
		return nil, fmt.Errorf("list permission sets: %w", err)
	}
	return jsonResult(view)
}
