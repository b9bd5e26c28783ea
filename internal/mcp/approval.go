package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"recordgrid/internal/domain"
)

// EventEmitter allows the approval queue to notify whoever is watching.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// Approval events.
const (
	EventApprovalRequired  = "mcp:approval-required"
	EventApprovalDismissed = "mcp:approval-dismissed"
)

var (
	ErrApprovalRejected = errors.New("action rejected by user")
	ErrApprovalTimeout  = errors.New("action timed out")
)

// PendingAction represents a write awaiting user approval.
type PendingAction struct {
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	Metadata    string `json:"metadata"`
}

// ApprovalQueue manages human-in-the-loop approval for write tools.
// It supports two modes:
//   - in-process: Approve/Reject resolve a waiting channel
//   - store-backed: the action is written to the approval store and polled
//     until the approve command of another process resolves it
type ApprovalQueue struct {
	mu      sync.Mutex
	pending map[string]chan bool
	ctx     context.Context
	emitter EventEmitter
	timeout time.Duration
	poll    time.Duration
	store   domain.ApprovalStore
}

func NewApprovalQueue(ctx context.Context, emitter EventEmitter) *ApprovalQueue {
	return &ApprovalQueue{
		pending: make(map[string]chan bool),
		ctx:     ctx,
		emitter: emitter,
		timeout: 120 * time.Second,
		poll:    500 * time.Millisecond,
	}
}

// SetStore enables store-backed approvals.
func (q *ApprovalQueue) SetStore(store domain.ApprovalStore) {
	q.store = store
}

func (q *ApprovalQueue) SetTimeout(d time.Duration) {
	q.timeout = d
}

// Request blocks until the action is approved, rejected, times out or
// ctx ends. metadata is optional JSON with extra context.
func (q *ApprovalQueue) Request(ctx context.Context, tool, description string, metadata ...string) (bool, error) {
	action := PendingAction{
		ID:          uuid.New().String(),
		Tool:        tool,
		Description: description,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Metadata:    "{}",
	}
	if len(metadata) > 0 && metadata[0] != "" {
		action.Metadata = metadata[0]
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	if q.store != nil {
		return q.requestViaStore(ctx, action)
	}
	return q.requestViaChannel(ctx, action)
}

// requestViaStore writes the action and polls its status.
func (q *ApprovalQueue) requestViaStore(ctx context.Context, action PendingAction) (bool, error) {
	err := q.store.CreateApproval(&domain.Approval{
		ID:          action.ID,
		Tool:        action.Tool,
		Description: action.Description,
		Metadata:    action.Metadata,
	})
	if err != nil {
		return false, err
	}
	defer q.store.DeleteApproval(action.ID)
	q.emitter.Emit(q.ctx, EventApprovalRequired, action)

	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a, err := q.store.GetApproval(action.ID)
			if err != nil {
				continue
			}
			switch a.Status {
			case domain.ApprovalApproved:
				return true, nil
			case domain.ApprovalRejected:
				return false, fmt.Errorf("%w: %s", ErrApprovalRejected, action.Tool)
			}
		case <-ctx.Done():
			return false, q.expired(ctx, action)
		case <-q.ctx.Done():
			return false, q.ctx.Err()
		}
	}
}

func (q *ApprovalQueue) requestViaChannel(ctx context.Context, action PendingAction) (bool, error) {
	ch := make(chan bool, 1)

	q.mu.Lock()
	q.pending[action.ID] = ch
	q.mu.Unlock()
	defer q.cleanup(action.ID)

	q.emitter.Emit(q.ctx, EventApprovalRequired, action)

	select {
	case approved := <-ch:
		if !approved {
			return false, fmt.Errorf("%w: %s", ErrApprovalRejected, action.Tool)
		}
		return true, nil
	case <-ctx.Done():
		return false, q.expired(ctx, action)
	case <-q.ctx.Done():
		return false, q.ctx.Err()
	}
}

func (q *ApprovalQueue) expired(ctx context.Context, action PendingAction) error {
	q.emitter.Emit(q.ctx, EventApprovalDismissed, map[string]string{"id": action.ID})
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %s", ErrApprovalTimeout, q.timeout, action.Tool)
	}
	return ctx.Err()
}

// Approve marks a pending in-process action as approved.
func (q *ApprovalQueue) Approve(actionID string) { q.resolve(actionID, true) }

// Reject marks a pending in-process action as rejected.
func (q *ApprovalQueue) Reject(actionID string) { q.resolve(actionID, false) }

func (q *ApprovalQueue) resolve(actionID string, approved bool) {
	q.mu.Lock()
	ch, ok := q.pending[actionID]
	q.mu.Unlock()
	if ok {
		select {
		case ch <- approved:
		default:
		}
	}
}

func (q *ApprovalQueue) cleanup(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}
