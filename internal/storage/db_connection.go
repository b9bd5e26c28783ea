package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recordgrid/internal/domain"
)

// ErrConnectionNotFound is returned when no profile has the requested id.
var ErrConnectionNotFound = errors.New("database connection not found")

const connectionColumns = `id, name, driver, host, port, database_name, username, ssl_mode, extra_json, created_at, updated_at`

// DBConnectionStore manages connection profiles in SQLite.
type DBConnectionStore struct {
	db *DB
}

// NewDBConnectionStore creates a new DBConnectionStore.
func NewDBConnectionStore(db *DB) *DBConnectionStore {
	return &DBConnectionStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(r rowScanner) (*domain.DatabaseConnection, error) {
	c := &domain.DatabaseConnection{}
	err := r.Scan(&c.ID, &c.Name, &c.Driver, &c.Host, &c.Port, &c.Database, &c.Username, &c.SSLMode, &c.ExtraJSON, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func normalizeConnection(c *domain.DatabaseConnection) error {
	if !c.Driver.Valid() {
		return fmt.Errorf("unsupported driver: %s", c.Driver)
	}
	if c.ExtraJSON == "" {
		c.ExtraJSON = "{}"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return nil
}

// CreateConnection inserts a profile, assigning an id when it has none.
func (s *DBConnectionStore) CreateConnection(c *domain.DatabaseConnection) error {
	if err := normalizeConnection(c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.Conn().Exec(
		`INSERT INTO db_connections (`+connectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.ExtraJSON, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// UpsertConnection inserts c or replaces the profile with the same id,
// keeping its original creation time. Used to seed profiles from config.
func (s *DBConnectionStore) UpsertConnection(c *domain.DatabaseConnection) error {
	if err := normalizeConnection(c); err != nil {
		return err
	}
	if c.ID == "" {
		return errors.New("upsert requires a connection id")
	}
	now := time.Now()
	c.UpdatedAt = now
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	_, err := s.db.Conn().Exec(
		`INSERT INTO db_connections (`+connectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, driver=excluded.driver, host=excluded.host,
		   port=excluded.port, database_name=excluded.database_name, username=excluded.username,
		   ssl_mode=excluded.ssl_mode, extra_json=excluded.extra_json, updated_at=excluded.updated_at`,
		c.ID, c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.ExtraJSON, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *DBConnectionStore) GetConnection(id string) (*domain.DatabaseConnection, error) {
	c, err := scanConnection(s.db.Conn().QueryRow(
		`SELECT `+connectionColumns+` FROM db_connections WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *DBConnectionStore) ListConnections() ([]domain.DatabaseConnection, error) {
	rows, err := s.db.Conn().Query(`SELECT ` + connectionColumns + ` FROM db_connections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []domain.DatabaseConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (s *DBConnectionStore) UpdateConnection(c *domain.DatabaseConnection) error {
	if err := normalizeConnection(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now()
	res, err := s.db.Conn().Exec(
		`UPDATE db_connections SET name=?, driver=?, host=?, port=?, database_name=?, username=?, ssl_mode=?, extra_json=?, updated_at=?
		 WHERE id=?`,
		c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.ExtraJSON, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, c.ID)
	}
	return nil
}

func (s *DBConnectionStore) DeleteConnection(id string) error {
	_, err := s.db.Conn().Exec(`DELETE FROM db_connections WHERE id = ?`, id)
	return err
}
