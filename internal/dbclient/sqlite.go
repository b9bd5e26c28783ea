package dbclient

import (
	"recordgrid/internal/domain"

	_ "modernc.org/sqlite"
)

// newSQLiteConnector creates a connector for a SQLite file.
// Opens in WAL mode with a busy timeout for concurrent access.
func newSQLiteConnector(conn *domain.DatabaseConnection) (*sqlConnector, error) {
	dsn := conn.Host + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return newSQLConnector("sqlite", dsn)
}
