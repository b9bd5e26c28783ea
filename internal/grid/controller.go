package grid

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"recordgrid/internal/domain"
	"recordgrid/internal/logger"
)

const (
	// DefaultPageSize is the number of rows one load-more reveals.
	DefaultPageSize = 20
	// DefaultMaxFetch caps the rows pulled into one snapshot.
	DefaultMaxFetch = 2000

	// PlaceholderID fills the identifier cell of the empty-state row.
	PlaceholderID = "—"
	// PlaceholderText fills every selected field of the empty-state row.
	PlaceholderText = "No Records"
)

var (
	ErrInvalidState = errors.New("operation not valid in current state")
	ErrUnknownField = errors.New("unknown field")
	ErrNoFields     = errors.New("no fields selected")
	ErrBusy         = errors.New("operation already in progress")
	ErrStale        = errors.New("result superseded by a newer selection")
)

// State is the controller's externally observable phase.
type State string

const (
	StateIdle           State = "idle"
	StateObjectSelected State = "object_selected"
	StateFieldsSelected State = "fields_selected"
	StateFetching       State = "fetching"
	StateReady          State = "ready"
	StateSubmitting     State = "submitting"
)

// SchemaGateway lists objects and their fields.
type SchemaGateway interface {
	ListObjects(ctx context.Context) ([]domain.ObjectDescriptor, error)
	ListFields(ctx context.Context, objectID string) ([]domain.FieldDescriptor, error)
}

// RecordFetcher returns at most maxCount rows of objectID. Every row
// carries domain.IDField in addition to the requested fields.
type RecordFetcher interface {
	FetchRecords(ctx context.Context, objectID string, fieldNames []string, maxCount int) ([]domain.Row, error)
}

// RecordUpdater applies a batch of row edits to objectID.
type RecordUpdater interface {
	ApplyUpdates(ctx context.Context, objectID string, batch []domain.RowEdit) ([]domain.RowResult, error)
}

// Backend is everything the controller needs from the record source.
type Backend interface {
	SchemaGateway
	RecordFetcher
	RecordUpdater
}

// Emitter receives state and message notifications.
type Emitter interface {
	Emit(ctx context.Context, event string, data any)
}

// Event names sent through the Emitter.
const (
	EventState   = "grid:state"
	EventMessage = "grid:message"
)

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	PageSize   int
	MaxFetch   int
	Classifier *ErrorClassifier
	Emitter    Emitter
}

// FetchResult describes how a fetch resolved.
type FetchResult struct {
	Kind      Kind   `json:"kind"`
	Total     int    `json:"total"`
	Visible   int    `json:"visible"`
	Exhausted bool   `json:"exhausted"`
	Error     string `json:"error,omitempty"`
}

// SubmitResult describes how an edit submission resolved. Superseded means
// the selection changed while the batch was in flight: the outcome is
// still reported but no messages were set and no re-fetch ran.
type SubmitResult struct {
	BatchSize  int                `json:"batchSize"`
	Superseded bool               `json:"superseded,omitempty"`
	Outcome    domain.EditOutcome `json:"outcome"`
	Rows       []domain.RowResult `json:"rows,omitempty"`
	Failure    *domain.Failure    `json:"failure,omitempty"`
	Refetch    *FetchResult       `json:"refetch,omitempty"`
}

// View is a detached snapshot of everything the presentation layer renders.
type View struct {
	State         State                     `json:"state"`
	Epoch         uint64                    `json:"epoch"`
	ObjectID      string                    `json:"objectId,omitempty"`
	FieldOptions  []domain.FieldDescriptor  `json:"fieldOptions,omitempty"`
	Selected      []string                  `json:"selected,omitempty"`
	Columns       []domain.ColumnDescriptor `json:"columns"`
	Rows          []domain.Row              `json:"rows"`
	Total         int                       `json:"total"`
	Empty         bool                      `json:"empty"`
	MoreAvailable bool                      `json:"moreAvailable"`
	Busy          bool                      `json:"busy"`
	Pending       int                       `json:"pending"`
	Messages      []domain.Message          `json:"messages,omitempty"`
}

// Controller is the grid state machine. Every mutation happens under mu;
// backend calls run outside it and their results are dropped when the
// epoch moved on while they were in flight.
type Controller struct {
	backend    Backend
	classifier *ErrorClassifier
	emitter    Emitter
	maxFetch   int
	log        *logrus.Entry

	mu           sync.Mutex
	state        State
	epoch        uint64
	objectID     string
	fieldOptions []domain.FieldDescriptor
	selected     []string
	columns      []domain.ColumnDescriptor
	empty        bool
	messages     []domain.Message
	cache        *RecordCache
	edits        *EditReconciler

	loadingMore atomic.Bool
}

// NewController creates an idle controller over backend.
func NewController(backend Backend, opts Options) *Controller {
	if opts.MaxFetch <= 0 {
		opts.MaxFetch = DefaultMaxFetch
	}
	if opts.Classifier == nil {
		opts.Classifier = NewErrorClassifier()
	}
	c := &Controller{
		backend:    backend,
		classifier: opts.Classifier,
		emitter:    opts.Emitter,
		maxFetch:   opts.MaxFetch,
		log:        logger.Log.WithField("component", "grid"),
		state:      StateIdle,
		cache:      NewRecordCache(opts.PageSize),
	}
	c.edits = NewEditReconciler(c.cache.Has)
	return c
}

// ── Schema ────────────────────────────────────────────────

// Objects lists the queryable objects sorted by label.
func (c *Controller) Objects(ctx context.Context) ([]domain.ObjectDescriptor, error) {
	objs, err := c.backend.ListObjects(ctx)
	if err != nil {
		f := domain.AsFailure("list objects", err)
		c.mu.Lock()
		c.setMessagesLocked(domain.Message{Severity: domain.SeverityError, Text: "Failed to load objects: " + f.Message})
		c.mu.Unlock()
		c.emitMessages(ctx)
		return nil, f
	}
	slices.SortStableFunc(objs, func(a, b domain.ObjectDescriptor) int {
		return strings.Compare(strings.ToLower(a.Label), strings.ToLower(b.Label))
	})
	return objs, nil
}

// SelectObject starts a new epoch for objectID and loads its field options.
// An empty objectID returns the controller to Idle.
func (c *Controller) SelectObject(ctx context.Context, objectID string) error {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.resetSelectionLocked()
	c.objectID = objectID
	c.messages = nil
	if objectID == "" {
		c.state = StateIdle
		c.mu.Unlock()
		c.emitState(ctx)
		return nil
	}
	c.state = StateObjectSelected
	c.mu.Unlock()
	c.emitState(ctx)

	fields, err := c.backend.ListFields(ctx, objectID)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		f := domain.AsFailure("list fields", err)
		if c.classifier.Classify(f) == Operational {
			c.setMessagesLocked(domain.Message{Severity: domain.SeverityError, Text: f.Message})
		}
		c.log.WithFields(logrus.Fields{"object": objectID, "epoch": epoch}).Warnf("list fields failed: %v", err)
		c.mu.Unlock()
		c.emitMessages(ctx)
		return f
	}
	c.fieldOptions = fields
	c.mu.Unlock()
	c.emitState(ctx)
	return nil
}

// SelectFields derives columns for names and clears the snapshot and the
// pending batch. Names must come from the current field options.
func (c *Controller) SelectFields(ctx context.Context, names []string) error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("select fields: %w", ErrInvalidState)
	}
	if len(names) == 0 {
		c.setMessagesLocked(domain.Message{Severity: domain.SeverityWarning, Text: "Select at least one field."})
		c.mu.Unlock()
		c.emitMessages(ctx)
		return ErrNoFields
	}
	for _, n := range names {
		if !slices.ContainsFunc(c.fieldOptions, func(f domain.FieldDescriptor) bool { return f.Name == n }) {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownField, n)
		}
	}
	c.epoch++
	c.selected = dedupe(names)
	c.columns = Columns(c.selected, c.fieldOptions)
	c.cache.Clear()
	c.edits.Clear()
	c.empty = false
	c.messages = nil
	c.state = StateFieldsSelected
	c.mu.Unlock()
	c.emitState(ctx)
	return nil
}

// ── Fetch ─────────────────────────────────────────────────

// Fetch pulls a fresh snapshot for the current selection.
func (c *Controller) Fetch(ctx context.Context) (FetchResult, error) {
	return c.fetch(ctx, false)
}

func (c *Controller) fetch(ctx context.Context, keepMessages bool) (FetchResult, error) {
	c.mu.Lock()
	switch c.state {
	case StateFieldsSelected, StateReady:
	case StateFetching, StateSubmitting:
		c.mu.Unlock()
		return FetchResult{}, ErrBusy
	default:
		c.mu.Unlock()
		return FetchResult{}, fmt.Errorf("fetch: %w", ErrInvalidState)
	}
	c.state = StateFetching
	if !keepMessages {
		c.messages = nil
	}
	epoch := c.epoch
	objectID := c.objectID
	fields := slices.Clone(c.selected)
	c.mu.Unlock()
	c.emitState(ctx)

	rows, err := c.backend.FetchRecords(ctx, objectID, fields, c.maxFetch)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{"object": objectID, "epoch": epoch}).Debug("dropping stale fetch")
		return FetchResult{}, ErrStale
	}
	var res FetchResult
	switch {
	case err != nil:
		f := domain.AsFailure("fetch records", err)
		res.Kind = c.classifier.Classify(f)
		c.cache.Clear()
		c.empty = true
		if res.Kind == Operational {
			res.Error = f.Message
			c.appendMessageLocked(domain.Message{Severity: domain.SeverityError, Text: f.Message})
			c.log.WithFields(logrus.Fields{"object": objectID, "epoch": epoch}).Errorf("fetch failed: %v", err)
		}
	case len(rows) == 0:
		res.Kind = Empty
		c.cache.Clear()
		c.empty = true
	default:
		c.cache.Replace(rows)
		c.empty = false
		res.Kind = Populated
	}
	c.state = StateReady
	res.Total = c.cache.Len()
	res.Visible = c.cache.WindowEnd()
	res.Exhausted = c.cache.Exhausted()
	c.mu.Unlock()

	c.emitState(ctx)
	if res.Error != "" {
		c.emitMessages(ctx)
	}
	return res, nil
}

// LoadMore reveals the next page. seen is the window length the caller
// rendered; a trigger carrying an outdated seen is a duplicate and does
// nothing. A negative seen skips that check. It also works during a
// re-fetch of a populated snapshot.
func (c *Controller) LoadMore(ctx context.Context, seen int) (ExtendResult, error) {
	if !c.loadingMore.CompareAndSwap(false, true) {
		return ExtendResult{}, ErrBusy
	}
	defer c.loadingMore.Store(false)

	c.mu.Lock()
	if !c.canExtendLocked() {
		c.mu.Unlock()
		return ExtendResult{}, fmt.Errorf("load more: %w", ErrInvalidState)
	}
	if c.cache.Exhausted() || (seen >= 0 && seen != c.cache.WindowEnd()) {
		res := ExtendResult{Exhausted: c.cache.Exhausted()}
		c.mu.Unlock()
		return res, nil
	}
	res := c.cache.ExtendWindow(c.cache.PageSize())
	c.mu.Unlock()
	c.emitState(ctx)
	return res, nil
}

// ── Edits ─────────────────────────────────────────────────

// Edit records changes for rowID. Unknown rows are ignored and reported
// as false.
func (c *Controller) Edit(rowID string, changes map[string]any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return false, fmt.Errorf("edit: %w", ErrInvalidState)
	}
	return c.edits.RecordEdit(rowID, changes), nil
}

// EditableFields returns the names of the editable columns.
func (c *Controller) EditableFields() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for _, col := range c.columns {
		if col.Editable {
			names = append(names, col.FieldName)
		}
	}
	return names
}

// SubmitEdits sends the pending batch and re-fetches afterwards whatever
// the outcome. An empty batch does nothing.
func (c *Controller) SubmitEdits(ctx context.Context) (SubmitResult, error) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("submit: %w", ErrInvalidState)
	}
	batch := c.edits.Take()
	if len(batch) == 0 {
		c.mu.Unlock()
		return SubmitResult{}, nil
	}
	c.state = StateSubmitting
	c.messages = nil
	epoch := c.epoch
	objectID := c.objectID
	c.mu.Unlock()
	c.emitState(ctx)

	outcome, rows, err := SubmitBatch(ctx, batch, func(ctx context.Context, b []domain.RowEdit) ([]domain.RowResult, error) {
		return c.backend.ApplyUpdates(ctx, objectID, b)
	})

	res := SubmitResult{BatchSize: len(batch), Outcome: outcome, Rows: rows}
	if err != nil {
		res.Failure = domain.AsFailure("update records", err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		res.Superseded = true
		c.log.WithFields(logrus.Fields{
			"object":    objectID,
			"epoch":     epoch,
			"succeeded": outcome.Succeeded,
			"failed":    outcome.Failed,
		}).Warn("edits submitted for a superseded selection")
		return res, nil
	}
	if res.Failure != nil {
		c.appendMessageLocked(domain.Message{Severity: domain.SeverityError, Text: res.Failure.Message})
	} else {
		if outcome.Succeeded > 0 {
			c.appendMessageLocked(domain.Message{
				Severity: domain.SeveritySuccess,
				Text:     fmt.Sprintf("%d record(s) updated successfully.", outcome.Succeeded),
			})
		}
		if outcome.Failed > 0 {
			c.appendMessageLocked(domain.Message{
				Severity: domain.SeverityWarning,
				Text:     fmt.Sprintf("%d record(s) failed to update.", outcome.Failed),
			})
		}
	}
	c.state = StateReady
	c.mu.Unlock()
	c.log.WithFields(logrus.Fields{
		"object":    objectID,
		"epoch":     epoch,
		"succeeded": outcome.Succeeded,
		"failed":    outcome.Failed,
	}).Info("edits submitted")
	c.emitMessages(ctx)

	refetch, ferr := c.fetch(ctx, true)
	if ferr == nil {
		res.Refetch = &refetch
	}
	return res, nil
}

// ── Snapshot ──────────────────────────────────────────────

// View returns a detached snapshot for rendering.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		State:         c.state,
		Epoch:         c.epoch,
		ObjectID:      c.objectID,
		FieldOptions:  slices.Clone(c.fieldOptions),
		Selected:      slices.Clone(c.selected),
		Columns:       slices.Clone(c.columns),
		Total:         c.cache.Len(),
		Empty:         c.empty,
		MoreAvailable: c.canExtendLocked() && !c.cache.Exhausted(),
		Busy:          c.state == StateFetching || c.state == StateSubmitting || c.loadingMore.Load(),
		Pending:       c.edits.Len(),
		Messages:      slices.Clone(c.messages),
	}
	if c.empty {
		v.Rows = []domain.Row{c.placeholderLocked()}
	} else {
		v.Rows = slices.Clone(c.cache.Window())
	}
	if v.Columns == nil {
		v.Columns = []domain.ColumnDescriptor{}
	}
	if v.Rows == nil {
		v.Rows = []domain.Row{}
	}
	return v
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch returns the current selection epoch.
func (c *Controller) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Pending returns a copy of the pending batch.
func (c *Controller) Pending() []domain.RowEdit {
	return c.edits.Pending()
}

// ObjectID returns the selected object.
func (c *Controller) ObjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objectID
}

// canExtendLocked reports whether the window may grow. A re-fetch keeps
// the previous snapshot until its rows arrive.
func (c *Controller) canExtendLocked() bool {
	return c.state == StateReady || (c.state == StateFetching && c.cache.Len() > 0)
}

func (c *Controller) placeholderLocked() domain.Row {
	row := domain.Row{domain.IDField: PlaceholderID}
	for _, name := range c.selected {
		if name != domain.IDField {
			row[name] = PlaceholderText
		}
	}
	return row
}

func (c *Controller) resetSelectionLocked() {
	c.fieldOptions = nil
	c.selected = nil
	c.columns = nil
	c.empty = false
	c.cache.Clear()
	c.edits.Clear()
}

func (c *Controller) setMessagesLocked(m domain.Message) {
	c.messages = []domain.Message{m}
}

func (c *Controller) appendMessageLocked(m domain.Message) {
	c.messages = append(c.messages, m)
}

func (c *Controller) emitState(ctx context.Context) {
	if c.emitter == nil {
		return
	}
	c.mu.Lock()
	payload := map[string]any{"state": c.state, "epoch": c.epoch, "objectId": c.objectID}
	c.mu.Unlock()
	c.emitter.Emit(ctx, EventState, payload)
}

func (c *Controller) emitMessages(ctx context.Context) {
	if c.emitter == nil {
		return
	}
	c.mu.Lock()
	msgs := slices.Clone(c.messages)
	c.mu.Unlock()
	for _, m := range msgs {
		c.emitter.Emit(ctx, EventMessage, m)
	}
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
