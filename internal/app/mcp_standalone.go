package app

import (
	"context"
	"fmt"

	"recordgrid/internal/config"
	mcpserver "recordgrid/internal/mcp"
	"recordgrid/internal/service"
)

// ServeMCP runs the grid as an MCP server on stdin/stdout until ctx is
// cancelled. When configPath is set, edits to that file re-apply the
// schema mismatch phrases without a restart.
func (a *App) ServeMCP(ctx context.Context, configPath, version string) error {
	if err := a.grid.Start(); err != nil {
		return err
	}

	if configPath != "" {
		err := config.Watch(ctx, configPath, func(cfg *config.Config) {
			a.grid.SetPhrases(cfg.Grid.SchemaMismatchPhrases)
		})
		if err != nil {
			a.log.Warnf("config watch disabled: %v", err)
		}
	}

	srv := mcpserver.New(ctx, mcpserver.Deps{
		Grid:            a.grid,
		Emitter:         service.LogEmitter{},
		Version:         version,
		RequireApproval: a.cfg.Approval.Required,
		ApprovalTimeout: a.cfg.Approval.Timeout,
		Approvals:       a.approvals, // resolved by the approve command
	})

	if err := srv.ServeStdio(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
