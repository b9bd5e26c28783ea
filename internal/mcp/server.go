package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"recordgrid/internal/domain"
	"recordgrid/internal/logger"
	"recordgrid/internal/service"
)

// Server is the MCP presentation adapter of the record grid. Every tool
// turns one user intent into a GridService call and answers with JSON.
type Server struct {
	mcp      *server.MCPServer
	emitter  EventEmitter
	approval *ApprovalQueue
	grid     *service.GridService
	log      *logrus.Entry

	requireApproval bool
}

// Deps holds everything the server needs from main.
type Deps struct {
	Grid    *service.GridService
	Emitter EventEmitter
	Version string

	// RequireApproval gates record writes and profile deletion.
	RequireApproval bool
	ApprovalTimeout time.Duration
	// Approvals, when set, stores pending approvals so the approve command
	// of another process can resolve them.
	Approvals domain.ApprovalStore
}

// New creates and configures the MCP server with all tools, resources
// and prompts.
func New(ctx context.Context, deps Deps) *Server {
	if deps.Emitter == nil {
		deps.Emitter = service.LogEmitter{}
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	approval := NewApprovalQueue(ctx, deps.Emitter)
	if deps.ApprovalTimeout > 0 {
		approval.SetTimeout(deps.ApprovalTimeout)
	}
	if deps.Approvals != nil {
		approval.SetStore(deps.Approvals)
	}
	s := &Server{
		emitter:         deps.Emitter,
		approval:        approval,
		grid:            deps.Grid,
		log:             logger.Log.WithField("component", "mcp"),
		requireApproval: deps.RequireApproval,
	}

	s.mcp = server.NewMCPServer(
		"recordgrid",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerDatabaseTools()
	s.registerGridTools()
	s.registerAuditTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio serves MCP on stdin/stdout until ctx is cancelled or stdin
// closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.log.Info("starting stdio server")
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// Approve forwards a user approval to the approval queue.
func (s *Server) Approve(actionID string) {
	s.approval.Approve(actionID)
}

// Reject forwards a user rejection to the approval queue.
func (s *Server) Reject(actionID string) {
	s.approval.Reject(actionID)
}

// ── Helpers ────────────────────────────────────────────────

// confirm asks for approval when writes are gated. It reports whether the
// tool may proceed.
func (s *Server) confirm(ctx context.Context, tool, description string, metadata any) bool {
	if !s.requireApproval {
		return true
	}
	meta := ""
	if metadata != nil {
		if data, err := marshalJSON(metadata); err == nil {
			meta = string(data)
		}
	}
	approved, err := s.approval.Request(ctx, tool, description, meta)
	if err != nil {
		s.log.WithField("tool", tool).Warnf("approval: %v", err)
	}
	return approved
}

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
