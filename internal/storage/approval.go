package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recordgrid/internal/domain"
)

var ErrApprovalNotFound = errors.New("approval not found")

// ApprovalStore keeps approvals in mcp_approvals so a separate process
// can resolve what the server is waiting on.
type ApprovalStore struct {
	db *DB
}

func NewApprovalStore(db *DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

func (s *ApprovalStore) CreateApproval(a *domain.Approval) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = domain.ApprovalPending
	}
	if a.Metadata == "" {
		a.Metadata = "{}"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.Conn().Exec(
		`INSERT INTO mcp_approvals (id, tool, description, status, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Tool, a.Description, string(a.Status), a.Metadata, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) GetApproval(id string) (*domain.Approval, error) {
	var a domain.Approval
	var status string
	err := s.db.Conn().QueryRow(
		`SELECT id, tool, description, status, metadata, created_at FROM mcp_approvals WHERE id = ?`, id,
	).Scan(&a.ID, &a.Tool, &a.Description, &status, &a.Metadata, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	a.Status = domain.ApprovalStatus(status)
	return &a, nil
}

// ListPendingApprovals returns unresolved approvals, oldest first.
func (s *ApprovalStore) ListPendingApprovals() ([]domain.Approval, error) {
	rows, err := s.db.Conn().Query(
		`SELECT id, tool, description, status, metadata, created_at FROM mcp_approvals
		 WHERE status = 'pending' ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Approval
	for rows.Next() {
		var a domain.Approval
		var status string
		if err := rows.Scan(&a.ID, &a.Tool, &a.Description, &status, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Status = domain.ApprovalStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ResolveApproval records a decision. Only pending approvals change.
func (s *ApprovalStore) ResolveApproval(id string, approved bool) error {
	status := domain.ApprovalRejected
	if approved {
		status = domain.ApprovalApproved
	}
	res, err := s.db.Conn().Exec(
		`UPDATE mcp_approvals SET status = ? WHERE id = ? AND status = 'pending'`, string(status), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}
	return nil
}

func (s *ApprovalStore) DeleteApproval(id string) error {
	_, err := s.db.Conn().Exec(`DELETE FROM mcp_approvals WHERE id = ?`, id)
	return err
}
