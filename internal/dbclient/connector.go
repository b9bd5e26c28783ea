package dbclient

import (
	"context"
	"fmt"

	"recordgrid/internal/domain"
)

// Connector abstracts a record source: its schema, a capped snapshot read
// and batched per-row updates. It satisfies grid.Backend.
type Connector interface {
	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// ListObjects returns the tables or collections that can be browsed.
	ListObjects(ctx context.Context) ([]domain.ObjectDescriptor, error)

	// ListFields describes the fields of one object.
	ListFields(ctx context.Context, objectID string) ([]domain.FieldDescriptor, error)

	// FetchRecords reads at most maxCount rows of fieldNames plus the
	// identifier, in a stable order.
	FetchRecords(ctx context.Context, objectID string, fieldNames []string, maxCount int) ([]domain.Row, error)

	// ApplyUpdates writes each edit independently. A returned error means
	// nothing was attempted; otherwise there is one result per edit.
	ApplyUpdates(ctx context.Context, objectID string, batch []domain.RowEdit) ([]domain.RowResult, error)

	// Close releases the underlying pool or client.
	Close() error
}

// NewConnector creates a Connector for the given connection profile.
// The password must be provided separately (from SecretStore).
func NewConnector(conn *domain.DatabaseConnection, password string) (Connector, error) {
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLiteConnector(conn)
	case domain.DatabaseDriverMySQL:
		return newSQLConnector("mysql", buildMySQLDSN(conn, password))
	case domain.DatabaseDriverPostgres:
		return newSQLConnector("postgres", buildPostgresDSN(conn, password))
	case domain.DatabaseDriverMongoDB:
		return newMongoConnector(conn, password)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}
