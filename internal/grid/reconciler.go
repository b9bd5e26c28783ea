package grid

import (
	"context"
	"maps"
	"sync"

	"recordgrid/internal/domain"
)

// UpdateFunc applies a batch of row edits and reports one result per row.
// A returned error means the whole call failed and nothing was applied.
type UpdateFunc func(ctx context.Context, batch []domain.RowEdit) ([]domain.RowResult, error)

// EditReconciler accumulates edits per row and submits them as one batch.
type EditReconciler struct {
	mu    sync.Mutex
	order []string
	edits map[string]map[string]any
	known func(rowID string) bool
}

// NewEditReconciler creates a reconciler. known filters edits to rows that
// exist in the current snapshot; nil accepts every row.
func NewEditReconciler(known func(rowID string) bool) *EditReconciler {
	return &EditReconciler{edits: map[string]map[string]any{}, known: known}
}

// RecordEdit merges changes into the pending entry for rowID, last value
// per field winning. Returns false when the row is unknown or changes is empty.
func (r *EditReconciler) RecordEdit(rowID string, changes map[string]any) bool {
	if rowID == "" || len(changes) == 0 {
		return false
	}
	if r.known != nil && !r.known(rowID) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.edits[rowID]
	if !ok {
		entry = make(map[string]any, len(changes))
		r.edits[rowID] = entry
		r.order = append(r.order, rowID)
	}
	maps.Copy(entry, changes)
	return true
}

// Pending returns a detached copy of the batch in first-edit order.
func (r *EditReconciler) Pending() []domain.RowEdit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *EditReconciler) snapshotLocked() []domain.RowEdit {
	batch := make([]domain.RowEdit, 0, len(r.order))
	for _, id := range r.order {
		batch = append(batch, domain.RowEdit{RowID: id, Changes: maps.Clone(r.edits[id])})
	}
	return batch
}

func (r *EditReconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Clear discards the batch.
func (r *EditReconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

func (r *EditReconciler) clearLocked() {
	r.order = nil
	r.edits = map[string]map[string]any{}
}

// Take removes and returns the current batch.
func (r *EditReconciler) Take() []domain.RowEdit {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := r.snapshotLocked()
	r.clearLocked()
	return batch
}

// Submit sends the batch through update and clears it regardless of the
// outcome. An empty batch performs no I/O and returns a zero outcome.
func (r *EditReconciler) Submit(ctx context.Context, update UpdateFunc) (domain.EditOutcome, []domain.RowResult, error) {
	batch := r.Take()
	return SubmitBatch(ctx, batch, update)
}

// SubmitBatch forwards batch verbatim and tallies the per-row results.
// Rows missing from the backend's reply count as failed so the outcome
// always sums to len(batch).
func SubmitBatch(ctx context.Context, batch []domain.RowEdit, update UpdateFunc) (domain.EditOutcome, []domain.RowResult, error) {
	if len(batch) == 0 {
		return domain.EditOutcome{}, nil, nil
	}
	results, err := update(ctx, batch)
	if err != nil {
		return domain.EditOutcome{}, nil, domain.AsFailure("update records", err)
	}
	return Tally(batch, results), results, nil
}

// Tally partitions results against the submitted batch.
func Tally(batch []domain.RowEdit, results []domain.RowResult) domain.EditOutcome {
	verdict := make(map[string]bool, len(results))
	for _, res := range results {
		if prev, seen := verdict[res.RowID]; seen {
			verdict[res.RowID] = prev && res.Succeeded
			continue
		}
		verdict[res.RowID] = res.Succeeded
	}
	var out domain.EditOutcome
	for _, e := range batch {
		if verdict[e.RowID] {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out
}
