package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"recordgrid/internal/service"
)

func (s *Server) registerDatabaseTools() {
	s.mcp.AddTool(mcp.NewTool("list_connections",
		mcp.WithDescription("List all stored connection profiles"),
	), s.handleListConnections)

	s.mcp.AddTool(mcp.NewTool("save_connection",
		mcp.WithDescription("Create a connection profile, or update one when id is given"),
		mcp.WithString("id", mcp.Description("Profile ID to update (omit to create)")),
		mcp.WithString("name", mcp.Description("Display name"), mcp.Required()),
		mcp.WithString("driver", mcp.Description("mysql, postgres, mongodb or sqlite"), mcp.Required()),
		mcp.WithString("host", mcp.Description("Host name, Mongo URI, or SQLite file path"), mcp.Required()),
		mcp.WithNumber("port", mcp.Description("Port (0 for the driver default)")),
		mcp.WithString("database", mcp.Description("Database name")),
		mcp.WithString("username", mcp.Description("User name")),
		mcp.WithString("password", mcp.Description("Password, kept in the secret store")),
		mcp.WithString("sslMode", mcp.Description("Postgres sslmode (default disable)")),
	), s.handleSaveConnection)

	s.mcp.AddTool(mcp.NewTool("delete_connection",
		mcp.WithDescription("Delete a connection profile and close its sessions. 🛑 May require user approval."),
		mcp.WithString("connectionId", mcp.Description("Connection profile ID"), mcp.Required()),
	), s.handleDeleteConnection)

	s.mcp.AddTool(mcp.NewTool("test_connection",
		mcp.WithDescription("Check that the source behind a connection profile is reachable"),
		mcp.WithString("connectionId", mcp.Description("Connection profile ID"), mcp.Required()),
	), s.handleTestConnection)
}

func (s *Server) handleListConnections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conns, err := s.grid.ListConnections()
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return jsonResult(conns)
}

func (s *Server) handleSaveConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.grid.SaveConnection(service.ConnectionInput{
		ID:       req.GetString("id", ""),
		Name:     req.GetString("name", ""),
		Driver:   req.GetString("driver", ""),
		Host:     req.GetString("host", ""),
		Port:     req.GetInt("port", 0),
		Database: req.GetString("database", ""),
		Username: req.GetString("username", ""),
		Password: req.GetString("password", ""),
		SSLMode:  req.GetString("sslMode", ""),
	})
	if err != nil {
		return nil, err
	}
	return jsonResult(conn)
}

func (s *Server) handleDeleteConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID, err := requiredString(req, "connectionId")
	if err != nil {
		return nil, err
	}
	if !s.confirm(ctx, "delete_connection", fmt.Sprintf("Delete connection %s", connID), nil) {
		return textResult("Connection deletion rejected by user"), nil
	}
	if err := s.grid.DeleteConnection(connID); err != nil {
		return nil, fmt.Errorf("delete connection: %w", err)
	}
	return textResult(fmt.Sprintf("Connection %s deleted", connID)), nil
}

func (s *Server) handleTestConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID, err := requiredString(req, "connectionId")
	if err != nil {
		return nil, err
	}
	if err := s.grid.TestConnection(ctx, connID); err != nil {
		return nil, fmt.Errorf("test connection: %w", err)
	}
	return textResult("Connection OK"), nil
}
