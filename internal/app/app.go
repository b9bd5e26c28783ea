package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"recordgrid/internal/config"
	"recordgrid/internal/domain"
	"recordgrid/internal/logger"
	"recordgrid/internal/secret"
	"recordgrid/internal/service"
	"recordgrid/internal/storage"
)

// shutdownGrace bounds how long Close waits for in-flight operations.
const shutdownGrace = 10 * time.Second

// App wires configuration, storage, secrets and the grid service. Every
// command of the binary runs on one App.
type App struct {
	cfg       *config.Config
	db        *storage.DB
	approvals *storage.ApprovalStore
	grid      *service.GridService
	log       *logrus.Entry
}

// New opens storage and builds the services described by cfg. Connection
// profiles declared in cfg are upserted into the registry.
func New(cfg *config.Config) (*App, error) {
	db, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	secrets, err := secret.New(cfg.Secrets.Backend)
	if err != nil {
		db.Close()
		return nil, err
	}

	grid := service.NewGridService(
		storage.NewDBConnectionStore(db),
		storage.NewEditLogStore(db),
		secrets,
		service.Options{
			PageSize:        cfg.Grid.PageSize,
			MaxFetch:        cfg.Grid.MaxFetch,
			Phrases:         cfg.Grid.SchemaMismatchPhrases,
			IdleTimeout:     cfg.Session.IdleTimeout,
			JanitorSpec:     cfg.Session.JanitorSpec,
			CacheSizeMB:     cfg.Cache.SizeMB,
			CacheTTLSeconds: cfg.Cache.TTLSeconds,
		},
	)

	profiles := make([]*domain.DatabaseConnection, 0, len(cfg.Connections))
	for _, cc := range cfg.Connections {
		profiles = append(profiles, cc.Profile())
	}
	if err := grid.SeedConnections(profiles); err != nil {
		db.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		db:        db,
		approvals: storage.NewApprovalStore(db),
		grid:      grid,
		log:       logger.Log.WithField("component", "app"),
	}, nil
}

// Grid returns the grid service.
func (a *App) Grid() *service.GridService { return a.grid }

// ObjectNames lists the objects of a stored connection.
func (a *App) ObjectNames(ctx context.Context, connectionID string) ([]domain.ObjectDescriptor, error) {
	sess, err := a.grid.OpenSession(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	defer a.grid.CloseSession(sess.ID)
	return a.grid.Objects(ctx, sess.ID)
}

// PendingApprovals lists writes an MCP server is waiting on.
func (a *App) PendingApprovals() ([]domain.Approval, error) {
	return a.approvals.ListPendingApprovals()
}

// ResolveApproval approves or rejects a pending write.
func (a *App) ResolveApproval(id string, approved bool) error {
	return a.approvals.ResolveApproval(id, approved)
}

// Close waits briefly for running operations, then releases connectors
// and storage.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	a.grid.Close(ctx)
	if err := a.db.Close(); err != nil {
		a.log.Warnf("close storage: %v", err)
	}
}
