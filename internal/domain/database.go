package domain

import "time"

// DatabaseDriver represents the type of database engine behind a record source.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// Valid reports whether d is one of the supported drivers.
func (d DatabaseDriver) Valid() bool {
	switch d {
	case DatabaseDriverMySQL, DatabaseDriverPostgres, DatabaseDriverMongoDB, DatabaseDriverSQLite:
		return true
	}
	return false
}

// DatabaseConnection holds the metadata for connecting to a record source.
// The password lives in the SecretStore, never in this struct.
type DatabaseConnection struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Driver    DatabaseDriver `json:"driver"`
	Host      string         `json:"host"`     // hostname, URI or file path (sqlite)
	Port      int            `json:"port"`     // 0 for sqlite
	Database  string         `json:"database"` // db name or empty for sqlite
	Username  string         `json:"username"`
	SSLMode   string         `json:"sslMode"`
	ExtraJSON string         `json:"extraJson"` // driver-specific options
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// DatabaseConnectionStore manages CRUD operations for connection profiles.
type DatabaseConnectionStore interface {
	CreateConnection(c *DatabaseConnection) error
	UpsertConnection(c *DatabaseConnection) error
	GetConnection(id string) (*DatabaseConnection, error)
	ListConnections() ([]DatabaseConnection, error)
	UpdateConnection(c *DatabaseConnection) error
	DeleteConnection(id string) error
}

// EditLogEntry records the outcome of one edit submission.
type EditLogEntry struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	ConnectionID string    `json:"connectionId"`
	ObjectID     string    `json:"objectId"`
	BatchSize    int       `json:"batchSize"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Error        string    `json:"error"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// EditLogStore persists edit submissions.
type EditLogStore interface {
	AppendEdit(e *EditLogEntry) error
	ListEdits(objectID string, limit int) ([]EditLogEntry, error)
}
