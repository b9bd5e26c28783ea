package grid_test

import (
	"context"
	"fmt"
	"sync"

	"recordgrid/internal/domain"
)

// fakeBackend is an in-memory Backend with hooks for failure and timing.
type fakeBackend struct {
	mu sync.Mutex

	objects   []domain.ObjectDescriptor
	fields    map[string][]domain.FieldDescriptor
	rows      []domain.Row
	fieldsErr error
	fetchErr  error
	updateErr error
	verdict   func(domain.RowEdit) (bool, string)

	// When set, FetchRecords signals entered and waits on release.
	entered chan struct{}
	release chan struct{}
	// Same for ApplyUpdates.
	updateEntered chan struct{}
	updateRelease chan struct{}

	fetchCalls  int
	updateCalls int
	batches     [][]domain.RowEdit
	lastFields  []string
}

func newInvoiceBackend(n int) *fakeBackend {
	return &fakeBackend{
		objects: []domain.ObjectDescriptor{{ID: "Invoice", Label: "Invoice"}, {ID: "Account", Label: "account"}},
		fields: map[string][]domain.FieldDescriptor{
			"Invoice": {
				{Name: "Amount", Label: "Amount", DataType: "currency"},
				{Name: "DueDate", Label: "Due Date", DataType: "date"},
				{Name: "CreatedDate", Label: "Created Date", DataType: "datetime"},
			},
		},
		rows: makeRows(n),
	}
}

func makeRows(n int) []domain.Row {
	rows := make([]domain.Row, n)
	for i := range rows {
		rows[i] = domain.Row{"Id": fmt.Sprintf("%d", i+1), "Amount": float64(i * 10), "DueDate": "2024-01-01"}
	}
	return rows
}

func (b *fakeBackend) ListObjects(context.Context) ([]domain.ObjectDescriptor, error) {
	return append([]domain.ObjectDescriptor(nil), b.objects...), nil
}

func (b *fakeBackend) ListFields(_ context.Context, objectID string) ([]domain.FieldDescriptor, error) {
	if b.fieldsErr != nil {
		return nil, b.fieldsErr
	}
	return b.fields[objectID], nil
}

func (b *fakeBackend) FetchRecords(_ context.Context, _ string, fieldNames []string, maxCount int) ([]domain.Row, error) {
	b.mu.Lock()
	b.fetchCalls++
	b.lastFields = fieldNames
	entered, release := b.entered, b.release
	err := b.fetchErr
	rows := b.rows
	b.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if err != nil {
		return nil, err
	}
	if len(rows) > maxCount {
		rows = rows[:maxCount]
	}
	return rows, nil
}

func (b *fakeBackend) ApplyUpdates(_ context.Context, _ string, batch []domain.RowEdit) ([]domain.RowResult, error) {
	b.mu.Lock()
	b.updateCalls++
	b.batches = append(b.batches, batch)
	entered, release := b.updateEntered, b.updateRelease
	b.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.updateErr != nil {
		return nil, b.updateErr
	}
	results := make([]domain.RowResult, 0, len(batch))
	for _, e := range batch {
		ok, msg := true, ""
		if b.verdict != nil {
			ok, msg = b.verdict(e)
		}
		results = append(results, domain.RowResult{RowID: e.RowID, Succeeded: ok, Error: msg})
	}
	return results, nil
}

func (b *fakeBackend) calls() (fetch, update int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetchCalls, b.updateCalls
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
	data   []any
}

func (e *recordingEmitter) Emit(_ context.Context, event string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	e.data = append(e.data, data)
}

func (e *recordingEmitter) messages() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Message
	for i, ev := range e.events {
		if m, ok := e.data[i].(domain.Message); ok && ev == "grid:message" {
			out = append(out, m)
		}
	}
	return out
}
