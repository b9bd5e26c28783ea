package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"recordgrid/internal/audit"
	"recordgrid/internal/dbclient"
	"recordgrid/internal/domain"
	"recordgrid/internal/grid"
	"recordgrid/internal/logger"
	"recordgrid/internal/secret"
)

// ─────────────────────────────────────────────────────────────
// Grid Service — sessions of the record grid over stored connections
// ─────────────────────────────────────────────────────────────

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotEditable     = errors.New("field is not editable")
	ErrClosed          = errors.New("service is closed")
)

// Options configures a GridService. Zero values use the grid defaults.
type Options struct {
	PageSize        int
	MaxFetch        int
	Phrases         []string
	IdleTimeout     time.Duration
	JanitorSpec     string
	CacheSizeMB     int
	CacheTTLSeconds int
	Emitter         EventEmitter
	Now             func() time.Time
}

// ConnectionInput is the service-layer DTO for creating or updating a
// connection profile. An empty ID creates a new profile.
type ConnectionInput struct {
	ID       string `json:"id"`
	Name     string `json:"name" validate:"required"`
	Driver   string `json:"driver" validate:"required,oneof=mysql postgres mongodb sqlite"`
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port" validate:"gte=0,lte=65535"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSLMode  string `json:"sslMode"`
}

// AuditRequest asks for one page of an object-permission audit built
// from the records of ObjectID. Subject and SubjectType narrow it to one
// user, profile or permission set.
type AuditRequest struct {
	ConnectionID string        `json:"connectionId" validate:"required"`
	ObjectID     string        `json:"objectId" validate:"required"`
	Mapping      audit.Mapping `json:"mapping"`
	Subject      string        `json:"subject"`
	SubjectType  string        `json:"subjectType"`
	Search       string        `json:"search"`
	Levels       []string      `json:"levels"`
	Descending   bool          `json:"descending"`
	Page         int           `json:"page" validate:"gte=0"`
}

// PermissionSetsRequest asks for one page of permission sets, most
// assigned first. Expand lists set ids whose badges show in full.
type PermissionSetsRequest struct {
	ConnectionID string           `json:"connectionId" validate:"required"`
	ObjectID     string           `json:"objectId" validate:"required"`
	Mapping      audit.SetMapping `json:"mapping"`
	Page         int              `json:"page" validate:"gte=0"`
	Expand       []string         `json:"expand"`
}

// Session is one grid controller bound to a connection.
type Session struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connectionId"`
	CreatedAt    time.Time `json:"createdAt"`

	ctrl     *grid.Controller
	lastUsed atomic.Int64
}

// Controller returns the session's grid controller.
func (s *Session) Controller() *grid.Controller { return s.ctrl }

func (s *Session) touch(now time.Time) { s.lastUsed.Store(now.UnixNano()) }

// LastUsed is the time of the most recent call on the session.
func (s *Session) LastUsed() time.Time { return time.Unix(0, s.lastUsed.Load()) }

type connEntry struct {
	connector dbclient.Connector
	createdAt time.Time
}

// GridService manages connection profiles, a pool of live connectors and
// the grid sessions running on them.
type GridService struct {
	connStore  domain.DatabaseConnectionStore
	editLog    domain.EditLogStore
	secrets    secret.SecretStore
	classifier *grid.ErrorClassifier
	schema     *schemaCache
	validate   *validator.Validate
	opts       Options
	log        *logrus.Entry

	newConnector func(conn *domain.DatabaseConnection, password string) (dbclient.Connector, error)
	now          func() time.Time

	mu         sync.Mutex
	connectors map[string]*connEntry
	sessions   map[string]*Session
	closed     bool

	guard   runningJobsGuard
	janitor *cron.Cron
}

// NewGridService creates a GridService. Call Start to run the idle
// session janitor.
func NewGridService(
	connStore domain.DatabaseConnectionStore,
	editLog domain.EditLogStore,
	secrets secret.SecretStore,
	opts Options,
) *GridService {
	if opts.PageSize <= 0 {
		opts.PageSize = grid.DefaultPageSize
	}
	if opts.MaxFetch <= 0 {
		opts.MaxFetch = grid.DefaultMaxFetch
	}
	if opts.JanitorSpec == "" {
		opts.JanitorSpec = "@every 1m"
	}
	if opts.Emitter == nil {
		opts.Emitter = LogEmitter{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &GridService{
		connStore:    connStore,
		editLog:      editLog,
		secrets:      secrets,
		classifier:   grid.NewErrorClassifier(opts.Phrases...),
		schema:       newSchemaCache(opts.CacheSizeMB, opts.CacheTTLSeconds),
		validate:     validator.New(),
		opts:         opts,
		log:          logger.Log.WithField("component", "service"),
		newConnector: dbclient.NewConnector,
		now:          opts.Now,
		connectors:   make(map[string]*connEntry),
		sessions:     make(map[string]*Session),
	}
}

// Start schedules the janitor that closes sessions idle longer than the
// configured timeout. A zero timeout disables it.
func (s *GridService) Start() error {
	if s.opts.IdleTimeout <= 0 {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.opts.JanitorSpec, func() { s.EvictIdle() }); err != nil {
		return fmt.Errorf("schedule janitor %q: %w", s.opts.JanitorSpec, err)
	}
	c.Start()
	s.mu.Lock()
	s.janitor = c
	s.mu.Unlock()
	return nil
}

// SetPhrases replaces the schema-mismatch phrases of every session.
func (s *GridService) SetPhrases(phrases []string) {
	s.classifier.SetPhrases(phrases)
	s.log.WithField("phrases", s.classifier.Phrases()).Info("schema mismatch phrases updated")
}

// ── Connection CRUD ────────────────────────────────────────

func (s *GridService) ListConnections() ([]domain.DatabaseConnection, error) {
	return s.connStore.ListConnections()
}

// SaveConnection creates or updates a profile and stores its password.
// Live connectors and sessions of an updated profile are dropped.
func (s *GridService) SaveConnection(input ConnectionInput) (*domain.DatabaseConnection, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid connection: %w", err)
	}
	conn := &domain.DatabaseConnection{
		ID:       input.ID,
		Name:     input.Name,
		Driver:   domain.DatabaseDriver(input.Driver),
		Host:     input.Host,
		Port:     input.Port,
		Database: input.Database,
		Username: input.Username,
		SSLMode:  input.SSLMode,
	}
	if input.ID == "" {
		if err := s.connStore.CreateConnection(conn); err != nil {
			return nil, fmt.Errorf("create connection: %w", err)
		}
	} else {
		existing, err := s.connStore.GetConnection(input.ID)
		if err != nil {
			return nil, err
		}
		conn.CreatedAt = existing.CreatedAt
		conn.ExtraJSON = existing.ExtraJSON
		if err := s.connStore.UpdateConnection(conn); err != nil {
			return nil, fmt.Errorf("update connection: %w", err)
		}
		s.dropConnection(conn.ID)
	}
	if input.Password != "" && s.secrets != nil {
		if err := s.secrets.Set(secret.ConnectionKey(conn.ID), []byte(input.Password)); err != nil {
			s.log.WithField("connection", conn.ID).Warnf("store password: %v", err)
		}
	}
	return conn, nil
}

// SeedConnections upserts profiles declared in configuration.
func (s *GridService) SeedConnections(profiles []*domain.DatabaseConnection) error {
	for _, p := range profiles {
		if err := s.connStore.UpsertConnection(p); err != nil {
			return fmt.Errorf("seed connection %s: %w", p.ID, err)
		}
		s.dropConnection(p.ID)
	}
	return nil
}

func (s *GridService) DeleteConnection(id string) error {
	s.dropConnection(id)
	if s.secrets != nil {
		_ = s.secrets.Delete(secret.ConnectionKey(id))
	}
	return s.connStore.DeleteConnection(id)
}

// TestConnection pings the source behind a profile.
func (s *GridService) TestConnection(ctx context.Context, id string) error {
	connector, err := s.getOrCreate(id)
	if err != nil {
		return err
	}
	return connector.TestConnection(ctx)
}

// ── Connector Pool ─────────────────────────────────────────

func (s *GridService) getOrCreate(id string) (dbclient.Connector, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := s.connectors[id]; ok {
		s.mu.Unlock()
		return e.connector, nil
	}
	s.mu.Unlock()

	conn, err := s.connStore.GetConnection(id)
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}

	var password string
	if s.secrets != nil {
		if pw, err := s.secrets.Get(secret.ConnectionKey(id)); err == nil {
			password = string(pw)
		}
	}

	connector, err := s.newConnector(conn, password)
	if err != nil {
		return nil, fmt.Errorf("open db connection: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have connected meanwhile; keep the first.
	if e, ok := s.connectors[id]; ok {
		_ = connector.Close()
		return e.connector, nil
	}
	s.connectors[id] = &connEntry{connector: connector, createdAt: s.now()}
	return connector, nil
}

// dropConnection closes the connector of id together with its sessions
// and forgets its cached schema.
func (s *GridService) dropConnection(id string) {
	s.mu.Lock()
	for sid, sess := range s.sessions {
		if sess.ConnectionID == id {
			delete(s.sessions, sid)
		}
	}
	e, ok := s.connectors[id]
	delete(s.connectors, id)
	s.mu.Unlock()

	if ok {
		_ = e.connector.Close()
	}
	s.schema.Invalidate(id)
}

// ── Sessions ───────────────────────────────────────────────

// OpenSession starts a grid session on a stored connection.
func (s *GridService) OpenSession(ctx context.Context, connectionID string) (*Session, error) {
	connector, err := s.getOrCreate(connectionID)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	backend := &cachedBackend{Connector: connector, connID: connectionID, cache: s.schema}
	sess := &Session{
		ID:           id,
		ConnectionID: connectionID,
		CreatedAt:    s.now(),
		ctrl: grid.NewController(backend, grid.Options{
			PageSize:   s.opts.PageSize,
			MaxFetch:   s.opts.MaxFetch,
			Classifier: s.classifier,
			Emitter:    sessionEmitter{sessionID: id, inner: s.opts.Emitter},
		}),
	}
	sess.touch(s.now())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"session": id, "connection": connectionID}).Info("session opened")
	return sess, nil
}

// Session looks up an open session and marks it used.
func (s *GridService) Session(id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.touch(s.now())
	return sess, nil
}

// Sessions lists open sessions ordered by creation time.
func (s *GridService) Sessions() []*Session {
	s.mu.Lock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CloseSession forgets a session. The connector stays pooled.
func (s *GridService) CloseSession(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.log.WithField("session", id).Info("session closed")
	return nil
}

// EvictIdle closes sessions unused for longer than the idle timeout and
// not running an operation. It returns how many were closed.
func (s *GridService) EvictIdle() int {
	if s.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.opts.IdleTimeout)

	s.mu.Lock()
	var stale []string
	for id, sess := range s.sessions {
		if sess.LastUsed().Before(cutoff) && !s.guard.HasPrefix(id+":") {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if len(stale) > 0 {
		s.log.WithField("sessions", stale).Info("evicted idle sessions")
	}
	return len(stale)
}

// run executes fn under the "<session>:<op>" guard key.
func (s *GridService) run(sessionID, op string, fn func(*Session) error) error {
	sess, err := s.Session(sessionID)
	if err != nil {
		return err
	}
	key := sessionID + ":" + op
	if !s.guard.TryLock(key) {
		return fmt.Errorf("%s: %w", op, grid.ErrBusy)
	}
	defer s.guard.Unlock(key)
	return fn(sess)
}

// ── Grid intents ───────────────────────────────────────────

// Objects lists the objects of a session's connection.
func (s *GridService) Objects(ctx context.Context, sessionID string) ([]domain.ObjectDescriptor, error) {
	var objs []domain.ObjectDescriptor
	err := s.run(sessionID, "schema", func(sess *Session) error {
		var err error
		objs, err = sess.ctrl.Objects(ctx)
		return err
	})
	return objs, err
}

// SelectObject switches the session to objectID and loads its fields.
func (s *GridService) SelectObject(ctx context.Context, sessionID, objectID string) (grid.View, error) {
	return s.intent(sessionID, "select", func(sess *Session) error {
		return sess.ctrl.SelectObject(ctx, objectID)
	})
}

// SelectFields sets the field selection and, with autoFetch, pulls the
// first snapshot right away.
func (s *GridService) SelectFields(ctx context.Context, sessionID string, names []string, autoFetch bool) (grid.View, error) {
	view, err := s.intent(sessionID, "select", func(sess *Session) error {
		return sess.ctrl.SelectFields(ctx, names)
	})
	if err != nil || !autoFetch {
		return view, err
	}
	// The fetch runs outside the "select" key so a newer selection can
	// supersede it. Each epoch gets its own key.
	err = s.run(sessionID, fmt.Sprintf("fetch@%d", view.Epoch), func(sess *Session) error {
		_, err := sess.ctrl.Fetch(ctx)
		if errors.Is(err, grid.ErrStale) {
			return nil
		}
		return err
	})
	if err != nil {
		return grid.View{}, err
	}
	return s.View(sessionID)
}

// Fetch pulls a fresh snapshot for the session's selection.
func (s *GridService) Fetch(ctx context.Context, sessionID string) (grid.FetchResult, error) {
	var res grid.FetchResult
	err := s.run(sessionID, "fetch", func(sess *Session) error {
		var err error
		res, err = sess.ctrl.Fetch(ctx)
		return err
	})
	return res, err
}

// LoadMore reveals the next page of the session's snapshot.
func (s *GridService) LoadMore(ctx context.Context, sessionID string, seen int) (grid.ExtendResult, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return grid.ExtendResult{}, err
	}
	return sess.ctrl.LoadMore(ctx, seen)
}

// Edit records changes for one row after checking every field is an
// editable column.
func (s *GridService) Edit(sessionID, rowID string, changes map[string]any) (bool, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return false, err
	}
	editable := map[string]bool{}
	for _, f := range sess.ctrl.EditableFields() {
		editable[f] = true
	}
	for field := range changes {
		if !editable[field] {
			return false, fmt.Errorf("%w: %s", ErrNotEditable, field)
		}
	}
	return sess.ctrl.Edit(rowID, changes)
}

// SubmitEdits sends the pending batch and records the outcome in the
// edit log.
func (s *GridService) SubmitEdits(ctx context.Context, sessionID string) (grid.SubmitResult, error) {
	var res grid.SubmitResult
	err := s.run(sessionID, "submit", func(sess *Session) error {
		objectID := sess.ctrl.ObjectID()
		var err error
		res, err = sess.ctrl.SubmitEdits(ctx)
		if err != nil || res.BatchSize == 0 {
			return err
		}
		if res.Superseded {
			s.log.WithFields(logrus.Fields{"session": sess.ID, "object": objectID}).
				Warn("edit batch applied after the selection changed")
		}
		s.appendEditLog(sess, objectID, res)
		return nil
	})
	return res, err
}

func (s *GridService) appendEditLog(sess *Session, objectID string, res grid.SubmitResult) {
	if s.editLog == nil {
		return
	}
	entry := &domain.EditLogEntry{
		SessionID:    sess.ID,
		ConnectionID: sess.ConnectionID,
		ObjectID:     objectID,
		BatchSize:    res.BatchSize,
		Succeeded:    res.Outcome.Succeeded,
		Failed:       res.Outcome.Failed,
		SubmittedAt:  s.now(),
	}
	if res.Failure != nil {
		entry.Error = res.Failure.Message
	}
	if err := s.editLog.AppendEdit(entry); err != nil {
		s.log.WithField("session", sess.ID).Warnf("append edit log: %v", err)
	}
}

// View returns the session's current grid snapshot.
func (s *GridService) View(sessionID string) (grid.View, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return grid.View{}, err
	}
	return sess.ctrl.View(), nil
}

// intent runs a guarded controller call and returns the resulting view.
func (s *GridService) intent(sessionID, op string, fn func(*Session) error) (grid.View, error) {
	var view grid.View
	err := s.run(sessionID, op, func(sess *Session) error {
		err := fn(sess)
		view = sess.ctrl.View()
		return err
	})
	return view, err
}

// EditLog lists recent submissions, newest first.
func (s *GridService) EditLog(objectID string, limit int) ([]domain.EditLogEntry, error) {
	if s.editLog == nil {
		return nil, nil
	}
	return s.editLog.ListEdits(objectID, limit)
}

// ── Audit ──────────────────────────────────────────────────

// Audit fetches the records of req.ObjectID, maps them to object
// permissions, narrows them to req.Subject when set and returns the
// requested page after search, level filter and sort. The view also lists
// the subject's privileged permissions.
func (s *GridService) Audit(ctx context.Context, req AuditRequest) (audit.TableView, error) {
	if req.Mapping.Label == "" {
		req.Mapping = audit.DefaultMapping
	}
	if req.Subject != "" && req.Mapping.Subject == "" {
		req.Mapping.Subject = audit.DefaultSubjectField
	}
	if req.SubjectType != "" && req.Mapping.SubjectType == "" {
		req.Mapping.SubjectType = audit.DefaultSubjectTypeField
	}
	if err := s.validate.Struct(req); err != nil {
		return audit.TableView{}, fmt.Errorf("invalid audit request: %w", err)
	}
	levels := make([]audit.Level, 0, len(req.Levels))
	for _, name := range req.Levels {
		l, err := audit.ParseLevel(name)
		if err != nil {
			return audit.TableView{}, err
		}
		levels = append(levels, l)
	}

	connector, err := s.getOrCreate(req.ConnectionID)
	if err != nil {
		return audit.TableView{}, err
	}
	rows, err := connector.FetchRecords(ctx, req.ObjectID, req.Mapping.Fields(), s.opts.MaxFetch)
	if err != nil {
		return audit.TableView{}, domain.AsFailure("audit permissions", err)
	}

	t := audit.NewTable(audit.DefaultTablePageSize)
	t.Load(audit.ForSubject(audit.FromRows(rows, req.Mapping), req.Subject, req.SubjectType))
	t.SetLevels(levels)
	t.Search(req.Search)
	if req.Descending {
		t.ToggleSort()
	}
	if req.Page > 0 {
		t.GoTo(req.Page)
	}
	return t.View(), nil
}

// PermissionSets fetches the records of req.ObjectID as permission sets
// and returns the requested page.
func (s *GridService) PermissionSets(ctx context.Context, req PermissionSetsRequest) (audit.SetsView, error) {
	if req.Mapping.Name == "" {
		req.Mapping = audit.DefaultSetMapping
	}
	if err := s.validate.Struct(req); err != nil {
		return audit.SetsView{}, fmt.Errorf("invalid permission sets request: %w", err)
	}

	connector, err := s.getOrCreate(req.ConnectionID)
	if err != nil {
		return audit.SetsView{}, err
	}
	rows, err := connector.FetchRecords(ctx, req.ObjectID, req.Mapping.Fields(), s.opts.MaxFetch)
	if err != nil {
		return audit.SetsView{}, domain.AsFailure("list permission sets", err)
	}

	b := audit.NewSetBrowser()
	b.Load(audit.SetsFromRows(rows, req.Mapping))
	for _, id := range req.Expand {
		if !b.ToggleExpand(id) {
			return audit.SetsView{}, fmt.Errorf("permission set not found: %s", id)
		}
	}
	if req.Page > 0 {
		b.GoTo(req.Page)
	}
	return b.View(), nil
}

// ── Shutdown ───────────────────────────────────────────────

// Close stops the janitor, waits for in-flight operations until ctx is
// done, then drops every session and closes every connector.
func (s *GridService) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	janitor := s.janitor
	s.janitor = nil
	s.mu.Unlock()

	if janitor != nil {
		<-janitor.Stop().Done()
	}
	if !s.guard.WaitAll(ctx) {
		s.log.WithField("running", s.guard.Running()).Warn("closing with operations still running")
	}

	hits, misses := s.schema.Stats()
	s.log.WithFields(logrus.Fields{"cache_hits": hits, "cache_misses": misses}).Debug("grid service closed")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
	for id, entry := range s.connectors {
		_ = entry.connector.Close()
		delete(s.connectors, id)
	}
}
