package grid_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordgrid/internal/domain"
	"recordgrid/internal/grid"
)

func readyController(t *testing.T, b *fakeBackend, em grid.Emitter) *grid.Controller {
	t.Helper()
	ctx := context.Background()
	c := grid.NewController(b, grid.Options{PageSize: 20, Emitter: em})
	require.NoError(t, c.SelectObject(ctx, "Invoice"))
	require.NoError(t, c.SelectFields(ctx, []string{"Amount", "DueDate"}))
	_, err := c.Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, grid.StateReady, c.State())
	return c
}

func TestController_InitialState(t *testing.T) {
	c := grid.NewController(newInvoiceBackend(0), grid.Options{})
	v := c.View()

	assert.Equal(t, grid.StateIdle, v.State)
	assert.Empty(t, v.Rows)
	assert.False(t, v.MoreAvailable)
}

func TestController_ObjectsSortedByLabel(t *testing.T) {
	c := grid.NewController(newInvoiceBackend(0), grid.Options{})
	objs, err := c.Objects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Account", objs[0].ID)
	assert.Equal(t, "Invoice", objs[1].ID)
}

func TestController_WindowScenario(t *testing.T) {
	b := newInvoiceBackend(45)
	c := readyController(t, b, nil)
	ctx := context.Background()

	v := c.View()
	assert.Len(t, v.Rows, 20)
	assert.True(t, v.MoreAvailable)
	assert.Equal(t, []string{"Amount", "DueDate"}, b.lastFields)

	res, err := c.LoadMore(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, grid.ExtendResult{Added: 20, Exhausted: false}, res)
	assert.Len(t, c.View().Rows, 40)

	res, err = c.LoadMore(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, grid.ExtendResult{Added: 5, Exhausted: true}, res)
	assert.Len(t, c.View().Rows, 45)
	assert.False(t, c.View().MoreAvailable)

	res, err = c.LoadMore(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, grid.ExtendResult{Added: 0, Exhausted: true}, res)
	assert.Len(t, c.View().Rows, 45)

	fetches, _ := b.calls()
	assert.Equal(t, 1, fetches)
}

func TestController_LoadMoreDuplicateTriggerIgnored(t *testing.T) {
	c := readyController(t, newInvoiceBackend(45), nil)
	ctx := context.Background()

	_, err := c.LoadMore(ctx, 20)
	require.NoError(t, err)
	res, err := c.LoadMore(ctx, 20)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Added)
	assert.Len(t, c.View().Rows, 40)
}

func TestController_ConcurrentLoadMoreNeverOvershoots(t *testing.T) {
	c := readyController(t, newInvoiceBackend(45), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.LoadMore(ctx, 20)
		}()
	}
	wg.Wait()

	assert.Len(t, c.View().Rows, 40)
}

func TestController_SchemaMismatchRendersPlaceholder(t *testing.T) {
	b := newInvoiceBackend(10)
	b.fetchErr = errors.New("No such column 'Foo' on entity Invoice")
	em := &recordingEmitter{}
	c := readyController(t, b, em)

	v := c.View()
	assert.True(t, v.Empty)
	assert.Empty(t, v.Messages)
	assert.Empty(t, em.messages())
	require.Len(t, v.Rows, 1)
	assert.Equal(t, domain.Row{"Id": grid.PlaceholderID, "Amount": "No Records", "DueDate": "No Records"}, v.Rows[0])
	assert.Equal(t, 0, v.Total)
	assert.False(t, v.MoreAvailable)
}

func TestController_FetchKinds(t *testing.T) {
	ctx := context.Background()

	b := newInvoiceBackend(0)
	c := grid.NewController(b, grid.Options{})
	require.NoError(t, c.SelectObject(ctx, "Invoice"))
	require.NoError(t, c.SelectFields(ctx, []string{"Amount"}))
	res, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, grid.Empty, res.Kind)
	assert.True(t, c.View().Empty)
	assert.Empty(t, c.View().Messages)

	b.rows = makeRows(3)
	res, err = c.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, grid.Populated, res.Kind)
	assert.Equal(t, 3, res.Visible)
	assert.True(t, res.Exhausted)
	assert.False(t, c.View().Empty)
}

func TestController_OperationalFailureSurfacesMessage(t *testing.T) {
	b := newInvoiceBackend(10)
	b.fetchErr = errors.New("insufficient access rights on object")
	em := &recordingEmitter{}
	c := readyController(t, b, em)

	v := c.View()
	assert.True(t, v.Empty)
	require.Len(t, v.Messages, 1)
	assert.Equal(t, domain.SeverityError, v.Messages[0].Severity)
	assert.Contains(t, v.Messages[0].Text, "insufficient access rights")
	assert.Len(t, em.messages(), 1)
}

func TestController_SubmitScenario(t *testing.T) {
	b := newInvoiceBackend(5)
	b.verdict = func(e domain.RowEdit) (bool, string) {
		if e.RowID == "2" {
			return false, "amount must be positive"
		}
		return true, ""
	}
	em := &recordingEmitter{}
	c := readyController(t, b, em)
	ctx := context.Background()

	ok, err := c.Edit("1", map[string]any{"Amount": 100})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.Edit("2", map[string]any{"Amount": -5})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, c.View().Pending)

	res, err := c.SubmitEdits(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.EditOutcome{Succeeded: 1, Failed: 1}, res.Outcome)
	assert.Equal(t, 2, res.BatchSize)
	assert.Empty(t, c.Pending())
	require.NotNil(t, res.Refetch)
	assert.Equal(t, grid.StateReady, c.State())

	fetches, updates := b.calls()
	assert.Equal(t, 2, fetches)
	assert.Equal(t, 1, updates)

	msgs := c.View().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.Message{Severity: domain.SeveritySuccess, Text: "1 record(s) updated successfully."}, msgs[0])
	assert.Equal(t, domain.Message{Severity: domain.SeverityWarning, Text: "1 record(s) failed to update."}, msgs[1])
}

func TestController_LoadMoreDuringRefetchAfterSubmit(t *testing.T) {
	b := newInvoiceBackend(45)
	c := readyController(t, b, nil)
	ctx := context.Background()

	ok, err := c.Edit("1", map[string]any{"Amount": 5})
	require.NoError(t, err)
	require.True(t, ok)

	b.entered = make(chan struct{})
	b.release = make(chan struct{})
	done := make(chan grid.SubmitResult, 1)
	go func() {
		res, _ := c.SubmitEdits(ctx)
		done <- res
	}()
	<-b.entered
	assert.Equal(t, grid.StateFetching, c.State())

	ext, err := c.LoadMore(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, ext.Added)
	assert.Len(t, c.View().Rows, 40)

	close(b.release)
	res := <-done
	require.NotNil(t, res.Refetch)
	assert.Equal(t, 1, res.BatchSize)
	assert.Equal(t, grid.StateReady, c.State())
	assert.Len(t, c.View().Rows, 20)
}

func TestController_LoadMoreDuringFirstFetchIsInvalid(t *testing.T) {
	b := newInvoiceBackend(45)
	c := grid.NewController(b, grid.Options{PageSize: 20})
	ctx := context.Background()
	require.NoError(t, c.SelectObject(ctx, "Invoice"))
	require.NoError(t, c.SelectFields(ctx, []string{"Amount"}))

	b.entered = make(chan struct{})
	b.release = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx)
		done <- err
	}()
	<-b.entered

	_, err := c.LoadMore(ctx, -1)
	assert.ErrorIs(t, err, grid.ErrInvalidState)
	close(b.release)
	require.NoError(t, <-done)
}

func TestController_SubmitOutcomeSurvivesSelectionChange(t *testing.T) {
	b := newInvoiceBackend(5)
	c := readyController(t, b, nil)
	ctx := context.Background()

	ok, err := c.Edit("1", map[string]any{"Amount": 100})
	require.NoError(t, err)
	require.True(t, ok)

	b.updateEntered = make(chan struct{})
	b.updateRelease = make(chan struct{})
	type submitted struct {
		res grid.SubmitResult
		err error
	}
	done := make(chan submitted, 1)
	go func() {
		res, err := c.SubmitEdits(ctx)
		done <- submitted{res, err}
	}()
	<-b.updateEntered

	require.NoError(t, c.SelectFields(ctx, []string{"DueDate"}))
	close(b.updateRelease)

	got := <-done
	require.NoError(t, got.err)
	assert.True(t, got.res.Superseded)
	assert.Equal(t, 1, got.res.BatchSize)
	assert.Equal(t, domain.EditOutcome{Succeeded: 1}, got.res.Outcome)
	assert.Nil(t, got.res.Refetch)

	fetches, updates := b.calls()
	assert.Equal(t, 1, fetches)
	assert.Equal(t, 1, updates)
	v := c.View()
	assert.Equal(t, grid.StateFieldsSelected, v.State)
	assert.Empty(t, v.Messages)
	assert.Equal(t, []string{"DueDate"}, v.Selected)
}

func TestController_SubmitEmptyBatchIsNoop(t *testing.T) {
	b := newInvoiceBackend(5)
	c := readyController(t, b, nil)

	res, err := c.SubmitEdits(context.Background())
	require.NoError(t, err)

	assert.Equal(t, grid.SubmitResult{}, res)
	assert.Equal(t, grid.StateReady, c.State())
	fetches, updates := b.calls()
	assert.Equal(t, 1, fetches)
	assert.Equal(t, 0, updates)
}

func TestController_SubmitWholeFailureStillRefetches(t *testing.T) {
	b := newInvoiceBackend(5)
	b.updateErr = errors.New("session expired")
	c := readyController(t, b, nil)

	_, _ = c.Edit("1", map[string]any{"Amount": 1})
	res, err := c.SubmitEdits(context.Background())
	require.NoError(t, err)

	require.NotNil(t, res.Failure)
	assert.Equal(t, "session expired", res.Failure.Message)
	assert.Equal(t, domain.EditOutcome{}, res.Outcome)
	assert.Equal(t, 1, res.BatchSize)
	assert.Empty(t, c.Pending())
	fetches, _ := b.calls()
	assert.Equal(t, 2, fetches)
	require.Len(t, c.View().Messages, 1)
	assert.Equal(t, domain.SeverityError, c.View().Messages[0].Severity)
}

func TestController_EditUnknownRowIgnored(t *testing.T) {
	c := readyController(t, newInvoiceBackend(5), nil)

	ok, err := c.Edit("999", map[string]any{"Amount": 1})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.View().Pending)
}

func TestController_EditOutsideReady(t *testing.T) {
	c := grid.NewController(newInvoiceBackend(5), grid.Options{})
	_, err := c.Edit("1", map[string]any{"Amount": 1})
	assert.ErrorIs(t, err, grid.ErrInvalidState)
}

func TestController_SelectFieldsValidation(t *testing.T) {
	ctx := context.Background()
	c := grid.NewController(newInvoiceBackend(5), grid.Options{})

	assert.ErrorIs(t, c.SelectFields(ctx, []string{"Amount"}), grid.ErrInvalidState)

	require.NoError(t, c.SelectObject(ctx, "Invoice"))
	assert.ErrorIs(t, c.SelectFields(ctx, []string{"Ghost"}), grid.ErrUnknownField)

	assert.ErrorIs(t, c.SelectFields(ctx, nil), grid.ErrNoFields)
	v := c.View()
	assert.Equal(t, grid.StateObjectSelected, v.State)
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "Select at least one field.", v.Messages[0].Text)
}

func TestController_FieldChangeClearsSnapshotAndBatch(t *testing.T) {
	ctx := context.Background()
	c := readyController(t, newInvoiceBackend(30), nil)
	_, _ = c.Edit("1", map[string]any{"Amount": 1})
	epoch := c.Epoch()

	require.NoError(t, c.SelectFields(ctx, []string{"Amount", "CreatedDate"}))

	v := c.View()
	assert.Equal(t, grid.StateFieldsSelected, v.State)
	assert.Greater(t, v.Epoch, epoch)
	assert.Empty(t, v.Rows)
	assert.Equal(t, 0, v.Pending)
	require.Len(t, v.Columns, 3)
	assert.True(t, v.Columns[1].Editable)
	assert.False(t, v.Columns[2].Editable)
	assert.Len(t, v.FieldOptions, 3)
}

func TestController_SelectObjectResets(t *testing.T) {
	ctx := context.Background()
	c := readyController(t, newInvoiceBackend(30), nil)

	require.NoError(t, c.SelectObject(ctx, "Account"))
	v := c.View()
	assert.Equal(t, grid.StateObjectSelected, v.State)
	assert.Empty(t, v.Columns)
	assert.Empty(t, v.Rows)
	assert.Empty(t, v.Selected)

	require.NoError(t, c.SelectObject(ctx, ""))
	assert.Equal(t, grid.StateIdle, c.State())
}

func TestController_SchemaGatewayFailure(t *testing.T) {
	b := newInvoiceBackend(0)
	b.fieldsErr = errors.New("network unreachable")
	c := grid.NewController(b, grid.Options{})

	err := c.SelectObject(context.Background(), "Invoice")
	require.Error(t, err)

	v := c.View()
	assert.Equal(t, grid.StateObjectSelected, v.State)
	assert.Empty(t, v.FieldOptions)
	require.Len(t, v.Messages, 1)
	assert.Equal(t, "network unreachable", v.Messages[0].Text)
}

func TestController_StaleFetchDiscarded(t *testing.T) {
	ctx := context.Background()
	b := newInvoiceBackend(30)
	c := grid.NewController(b, grid.Options{PageSize: 20})
	require.NoError(t, c.SelectObject(ctx, "Invoice"))
	require.NoError(t, c.SelectFields(ctx, []string{"Amount"}))

	b.entered = make(chan struct{})
	b.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx)
		done <- err
	}()
	<-b.entered
	assert.True(t, c.View().Busy)

	_, err := c.Fetch(ctx)
	assert.ErrorIs(t, err, grid.ErrBusy)

	require.NoError(t, c.SelectFields(ctx, []string{"DueDate"}))
	close(b.release)

	assert.ErrorIs(t, <-done, grid.ErrStale)
	v := c.View()
	assert.Equal(t, grid.StateFieldsSelected, v.State)
	assert.Empty(t, v.Rows)
	assert.Equal(t, []string{"DueDate"}, v.Selected)
}

func TestController_LoadMoreInvalidBeforeReady(t *testing.T) {
	c := grid.NewController(newInvoiceBackend(5), grid.Options{})
	_, err := c.LoadMore(context.Background(), -1)
	assert.ErrorIs(t, err, grid.ErrInvalidState)
}

func TestController_EmitsStateEvents(t *testing.T) {
	em := &recordingEmitter{}
	readyController(t, newInvoiceBackend(5), em)

	em.mu.Lock()
	defer em.mu.Unlock()
	assert.Contains(t, em.events, grid.EventState)
}
