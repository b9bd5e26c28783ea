package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	connectionsURI    = "recordgrid://connections"
	editLogURI        = "recordgrid://edit-log"
	sessionViewPrefix = "recordgrid://sessions/"
	sessionViewSuffix = "/view"
)

func (s *Server) registerResources() {
	// ── recordgrid://connections ───────────────────────
	s.mcp.AddResource(mcp.NewResource(
		connectionsURI,
		"Connection Profiles",
		mcp.WithMIMEType("application/json"),
	), s.handleConnectionsResource)

	// ── recordgrid://edit-log ──────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		editLogURI,
		"Recent Edit Submissions",
		mcp.WithMIMEType("application/json"),
	), s.handleEditLogResource)

	// ── recordgrid://sessions/{sessionId}/view ─────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			sessionViewPrefix+"{sessionId}"+sessionViewSuffix,
			"Grid View of a Session",
		),
		s.handleSessionViewResource,
	)
}

func (s *Server) handleConnectionsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	conns, err := s.grid.ListConnections()
	if err != nil {
		return nil, err
	}

	type connectionSummary struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Driver string `json:"driver"`
	}

	summaries := make([]connectionSummary, 0, len(conns))
	for _, c := range conns {
		summaries = append(summaries, connectionSummary{ID: c.ID, Name: c.Name, Driver: string(c.Driver)})
	}
	return jsonResource(connectionsURI, summaries)
}

func (s *Server) handleEditLogResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	entries, err := s.grid.EditLog("", 0)
	if err != nil {
		return nil, err
	}
	return jsonResource(editLogURI, entries)
}

func (s *Server) handleSessionViewResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	sid := sessionIDFromURI(uri)
	if sid == "" {
		return nil, fmt.Errorf("could not extract sessionId from URI: %s", uri)
	}
	view, err := s.grid.View(sid)
	if err != nil {
		return nil, err
	}
	return jsonResource(uri, view)
}

// sessionIDFromURI extracts the id from "recordgrid://sessions/{id}/view".
func sessionIDFromURI(uri string) string {
	if !strings.HasPrefix(uri, sessionViewPrefix) || !strings.HasSuffix(uri, sessionViewSuffix) {
		return ""
	}
	id := strings.TrimSuffix(strings.TrimPrefix(uri, sessionViewPrefix), sessionViewSuffix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
