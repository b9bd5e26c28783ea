package storage

import (
	"time"

	"github.com/google/uuid"

	"recordgrid/internal/domain"
)

// defaultEditLogLimit caps ListEdits when the caller passes no limit.
const defaultEditLogLimit = 50

// EditLogStore records every edit submission for later review.
type EditLogStore struct {
	db *DB
}

// NewEditLogStore creates a new EditLogStore.
func NewEditLogStore(db *DB) *EditLogStore {
	return &EditLogStore{db: db}
}

// AppendEdit stores e, assigning its id and submission time when unset.
func (s *EditLogStore) AppendEdit(e *domain.EditLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.SubmittedAt.IsZero() {
		e.SubmittedAt = time.Now()
	}
	_, err := s.db.Conn().Exec(
		`INSERT INTO edit_log (id, session_id, connection_id, object_id, batch_size, succeeded, failed, error, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.ConnectionID, e.ObjectID, e.BatchSize, e.Succeeded, e.Failed, e.Error, e.SubmittedAt,
	)
	return err
}

// ListEdits returns the newest entries first. An empty objectID lists
// entries for every object.
func (s *EditLogStore) ListEdits(objectID string, limit int) ([]domain.EditLogEntry, error) {
	if limit <= 0 {
		limit = defaultEditLogLimit
	}
	rows, err := s.db.Conn().Query(
		`SELECT id, session_id, connection_id, object_id, batch_size, succeeded, failed, error, submitted_at
		 FROM edit_log WHERE (? = '' OR object_id = ?)
		 ORDER BY submitted_at DESC, rowid DESC LIMIT ?`,
		objectID, objectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EditLogEntry
	for rows.Next() {
		var e domain.EditLogEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ConnectionID, &e.ObjectID, &e.BatchSize,
			&e.Succeeded, &e.Failed, &e.Error, &e.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
