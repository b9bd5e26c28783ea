package domain

import "time"

// ApprovalStatus is the state of a pending approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a write operation waiting for a human decision.
type Approval struct {
	ID          string         `json:"id"`
	Tool        string         `json:"tool"`
	Description string         `json:"description"`
	Status      ApprovalStatus `json:"status"`
	Metadata    string         `json:"metadata"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// ApprovalStore shares approvals between the server process and the
// command that resolves them.
type ApprovalStore interface {
	CreateApproval(a *Approval) error
	GetApproval(id string) (*Approval, error)
	ListPendingApprovals() ([]Approval, error)
	ResolveApproval(id string, approved bool) error
	DeleteApproval(id string) error
}
