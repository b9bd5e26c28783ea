package service_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"recordgrid/internal/audit"
	"recordgrid/internal/domain"
	"recordgrid/internal/grid"
	"recordgrid/internal/secret"
	"recordgrid/internal/service"
	"recordgrid/internal/storage"
)

type memSecrets struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memSecrets) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = value
	return nil
}

func (m *memSecrets) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memSecrets) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc     *service.GridService
	connID  string
	secrets *memSecrets
	emitter *service.MockEmitter
	clock   *clock
}

// newSourceDB creates the SQLite database the grid browses.
func newSourceDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE invoices (id INTEGER PRIMARY KEY, amount REAL, notes TEXT, created_at DATETIME)`,
		`CREATE TABLE object_permissions (
			id INTEGER PRIMARY KEY,
			SobjectType TEXT,
			PermissionsCreate INTEGER, PermissionsRead INTEGER, PermissionsEdit INTEGER,
			PermissionsDelete INTEGER, PermissionsViewAllRecords INTEGER, PermissionsModifyAllRecords INTEGER
		)`,
		`INSERT INTO object_permissions (SobjectType, PermissionsCreate, PermissionsRead, PermissionsEdit,
			PermissionsDelete, PermissionsViewAllRecords, PermissionsModifyAllRecords) VALUES
			('Opportunity', 0, 1, 1, 0, 0, 0),
			('Account', 1, 1, 0, 0, 0, 0),
			('Contact', 1, 1, 1, 1, 0, 0),
			('Lead', 0, 0, 0, 0, 0, 1)`,
		`CREATE TABLE subject_permissions (
			id INTEGER PRIMARY KEY,
			SobjectType TEXT, ParentId TEXT, ParentType TEXT,
			PermissionsCreate INTEGER, PermissionsRead INTEGER, PermissionsEdit INTEGER,
			PermissionsDelete INTEGER, PermissionsViewAllRecords INTEGER, PermissionsModifyAllRecords INTEGER
		)`,
		`INSERT INTO subject_permissions (SobjectType, ParentId, ParentType, PermissionsCreate, PermissionsRead,
			PermissionsEdit, PermissionsDelete, PermissionsViewAllRecords, PermissionsModifyAllRecords) VALUES
			('Account', '0PS1', 'PermissionSet', 1, 1, 0, 0, 0, 1),
			('Contact', '0PS1', 'PermissionSet', 0, 1, 0, 0, 1, 0),
			('Account', '00e1', 'Profile', 0, 1, 0, 0, 0, 0),
			('Lead', '00e1', 'Profile', 0, 1, 1, 0, 1, 0)`,
		`CREATE TABLE permission_sets (id INTEGER PRIMARY KEY, Label TEXT, AssignedUserCount INTEGER, AssignedPermissions TEXT)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	for i := 1; i <= 10; i++ {
		_, err := db.Exec(`INSERT INTO permission_sets (id, Label, AssignedUserCount, AssignedPermissions) VALUES (?, ?, ?, 'ViewSetup,EditTask,ManageUsers')`,
			i, fmt.Sprintf("Set %02d", i), i*3)
		require.NoError(t, err)
	}
	for i := 1; i <= 45; i++ {
		_, err := db.Exec(`INSERT INTO invoices (id, amount, notes, created_at) VALUES (?, ?, 'n', '2024-01-01T00:00:00Z')`,
			i, float64(i))
		require.NoError(t, err)
	}
	return path
}

func newFixture(t *testing.T, opts service.Options) *fixture {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "recordgrid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		secrets: &memSecrets{},
		emitter: &service.MockEmitter{},
		clock:   &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts.Emitter = f.emitter
	opts.Now = f.clock.Now
	f.svc = service.NewGridService(storage.NewDBConnectionStore(db), storage.NewEditLogStore(db), f.secrets, opts)
	t.Cleanup(func() { f.svc.Close(context.Background()) })

	conn, err := f.svc.SaveConnection(service.ConnectionInput{
		Name:   "Source",
		Driver: "sqlite",
		Host:   newSourceDB(t),
	})
	require.NoError(t, err)
	f.connID = conn.ID
	return f
}

// readySession opens a session and fetches invoices with amount and notes.
func (f *fixture) readySession(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.OpenSession(ctx, f.connID)
	require.NoError(t, err)

	_, err = f.svc.SelectObject(ctx, sess.ID, "invoices")
	require.NoError(t, err)
	view, err := f.svc.SelectFields(ctx, sess.ID, []string{"amount", "notes"}, true)
	require.NoError(t, err)
	require.Equal(t, grid.StateReady, view.State)
	return sess.ID
}

// ── Sessions ───────────────────────────────────────────────

func TestGridService_WindowedBrowsing(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()
	sid := f.readySession(t)

	objs, err := f.svc.Objects(ctx, sid)
	require.NoError(t, err)
	var ids []string
	for _, o := range objs {
		ids = append(ids, o.ID)
	}
	assert.ElementsMatch(t, []string{"invoices", "object_permissions", "permission_sets", "subject_permissions"}, ids)

	view, err := f.svc.View(sid)
	require.NoError(t, err)
	assert.Len(t, view.Rows, 20)
	assert.Equal(t, 45, view.Total)
	assert.True(t, view.MoreAvailable)

	res, err := f.svc.LoadMore(ctx, sid, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Added)

	res, err = f.svc.LoadMore(ctx, sid, 20)
	require.NoError(t, err)
	assert.Zero(t, res.Added, "outdated trigger must not extend the window")

	res, err = f.svc.LoadMore(ctx, sid, 40)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Added)
	assert.True(t, res.Exhausted)

	assert.Positive(t, f.emitter.Count(grid.EventState))
	for _, e := range f.emitter.Snapshot() {
		se, ok := e.Data.(service.SessionEvent)
		require.True(t, ok)
		assert.Equal(t, sid, se.SessionID)
	}
}

func TestGridService_SelectFieldsWithoutAutoFetch(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()
	sess, err := f.svc.OpenSession(ctx, f.connID)
	require.NoError(t, err)

	_, err = f.svc.SelectObject(ctx, sess.ID, "invoices")
	require.NoError(t, err)
	view, err := f.svc.SelectFields(ctx, sess.ID, []string{"amount"}, false)
	require.NoError(t, err)
	assert.Equal(t, grid.StateFieldsSelected, view.State)

	res, err := f.svc.Fetch(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, grid.Populated, res.Kind)
	assert.Equal(t, 45, res.Total)
	assert.Equal(t, 20, res.Visible)
}

func TestGridService_SelectFieldsRejectsUnknownField(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()
	sid := f.readySession(t)

	_, err := f.svc.SelectFields(ctx, sid, []string{"ghost"}, true)
	assert.ErrorIs(t, err, grid.ErrUnknownField)
}

func TestGridService_SessionLifecycle(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()

	_, err := f.svc.OpenSession(ctx, "missing")
	assert.Error(t, err)

	a, err := f.svc.OpenSession(ctx, f.connID)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	b, err := f.svc.OpenSession(ctx, f.connID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	sessions := f.svc.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, a.ID, sessions[0].ID)

	require.NoError(t, f.svc.CloseSession(a.ID))
	_, err = f.svc.View(a.ID)
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
	assert.ErrorIs(t, f.svc.CloseSession(a.ID), service.ErrSessionNotFound)
}

func TestGridService_EvictIdle(t *testing.T) {
	f := newFixture(t, service.Options{IdleTimeout: 10 * time.Minute})
	ctx := context.Background()

	idle, err := f.svc.OpenSession(ctx, f.connID)
	require.NoError(t, err)
	f.clock.Advance(8 * time.Minute)
	active, err := f.svc.OpenSession(ctx, f.connID)
	require.NoError(t, err)

	f.clock.Advance(3 * time.Minute)
	_, err = f.svc.View(active.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.svc.EvictIdle())
	_, err = f.svc.Session(idle.ID)
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
	_, err = f.svc.Session(active.ID)
	assert.NoError(t, err)

	assert.Equal(t, 0, f.svc.EvictIdle())
}

func TestGridService_EvictIdleDisabled(t *testing.T) {
	f := newFixture(t, service.Options{})
	_, err := f.svc.OpenSession(context.Background(), f.connID)
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, f.svc.EvictIdle())
	require.NoError(t, f.svc.Start())
}

func TestGridService_StartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, service.Options{IdleTimeout: time.Minute, JanitorSpec: "every now and then"})
	assert.Error(t, f.svc.Start())
}

func TestGridService_CloseRejectsNewSessions(t *testing.T) {
	f := newFixture(t, service.Options{IdleTimeout: time.Minute})
	require.NoError(t, f.svc.Start())
	f.readySession(t)

	f.svc.Close(context.Background())
	assert.Empty(t, f.svc.Sessions())
	_, err := f.svc.OpenSession(context.Background(), f.connID)
	assert.ErrorIs(t, err, service.ErrClosed)
}

// ── Edits ──────────────────────────────────────────────────

func TestGridService_EditAndSubmit(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()
	sid := f.readySession(t)

	_, err := f.svc.Edit(sid, "1", map[string]any{"created_at": "2020-01-01"})
	assert.ErrorIs(t, err, service.ErrNotEditable)
	_, err = f.svc.Edit(sid, "1", map[string]any{"Id": "9"})
	assert.ErrorIs(t, err, service.ErrNotEditable)

	ok, err := f.svc.Edit(sid, "1", map[string]any{"notes": "paid"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.svc.Edit(sid, "1", map[string]any{"amount": 99.5})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.svc.Edit(sid, "2", map[string]any{"notes": "void"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.svc.Edit(sid, "9999", map[string]any{"notes": "x"})
	require.NoError(t, err)
	assert.False(t, ok, "rows outside the snapshot are ignored")

	view, err := f.svc.View(sid)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Pending)

	res, err := f.svc.SubmitEdits(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Outcome.Succeeded)
	assert.Zero(t, res.Outcome.Failed)
	require.NotNil(t, res.Refetch)
	assert.Equal(t, 45, res.Refetch.Total)

	view, err = f.svc.View(sid)
	require.NoError(t, err)
	assert.Zero(t, view.Pending)
	assert.Equal(t, "paid", view.Rows[0]["notes"])
	assert.Equal(t, 99.5, view.Rows[0]["amount"])
	require.NotEmpty(t, view.Messages)
	assert.Equal(t, "2 record(s) updated successfully.", view.Messages[0].Text)

	entries, err := f.svc.EditLog("invoices", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sid, entries[0].SessionID)
	assert.Equal(t, f.connID, entries[0].ConnectionID)
	assert.Equal(t, 2, entries[0].BatchSize)
	assert.Equal(t, 2, entries[0].Succeeded)
}

func TestGridService_SubmitEmptyBatchSkipsEditLog(t *testing.T) {
	f := newFixture(t, service.Options{})
	sid := f.readySession(t)

	res, err := f.svc.SubmitEdits(context.Background(), sid)
	require.NoError(t, err)
	assert.Zero(t, res.Outcome.Succeeded)

	entries, err := f.svc.EditLog("", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGridService_EditBeforeReady(t *testing.T) {
	f := newFixture(t, service.Options{})
	sess, err := f.svc.OpenSession(context.Background(), f.connID)
	require.NoError(t, err)

	_, err = f.svc.Edit(sess.ID, "1", map[string]any{"notes": "x"})
	assert.ErrorIs(t, err, service.ErrNotEditable)
}

// ── Connections ────────────────────────────────────────────

func TestGridService_SaveConnection(t *testing.T) {
	f := newFixture(t, service.Options{})

	_, err := f.svc.SaveConnection(service.ConnectionInput{Name: "x", Driver: "oracle", Host: "h"})
	assert.Error(t, err)

	conn, err := f.svc.SaveConnection(service.ConnectionInput{
		Name: "Warehouse", Driver: "postgres", Host: "db.internal", Port: 5432,
		Database: "dw", Username: "reader", Password: "s3cret",
	})
	require.NoError(t, err)
	pw, _ := f.secrets.Get(secret.ConnectionKey(conn.ID))
	assert.Equal(t, "s3cret", string(pw))

	conns, err := f.svc.ListConnections()
	require.NoError(t, err)
	assert.Len(t, conns, 2)

	require.NoError(t, f.svc.DeleteConnection(conn.ID))
	pw, _ = f.secrets.Get(secret.ConnectionKey(conn.ID))
	assert.Empty(t, pw)
}

func TestGridService_UpdateConnectionDropsSessions(t *testing.T) {
	f := newFixture(t, service.Options{})
	sid := f.readySession(t)

	existing, err := f.svc.ListConnections()
	require.NoError(t, err)
	require.Len(t, existing, 1)

	_, err = f.svc.SaveConnection(service.ConnectionInput{
		ID: f.connID, Name: "Renamed", Driver: "sqlite", Host: existing[0].Host,
	})
	require.NoError(t, err)

	_, err = f.svc.View(sid)
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	require.NoError(t, f.svc.TestConnection(context.Background(), f.connID))
}

func TestGridService_SeedConnections(t *testing.T) {
	f := newFixture(t, service.Options{})
	seed := []*domain.DatabaseConnection{
		{ID: "analytics", Name: "Analytics", Driver: domain.DatabaseDriverMySQL, Host: "mysql", Port: 3306},
	}
	require.NoError(t, f.svc.SeedConnections(seed))
	seed[0].Port = 3307
	require.NoError(t, f.svc.SeedConnections(seed))

	conns, err := f.svc.ListConnections()
	require.NoError(t, err)
	var found *domain.DatabaseConnection
	for i := range conns {
		if conns[i].ID == "analytics" {
			found = &conns[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 3307, found.Port)
}

// ── Audit ──────────────────────────────────────────────────

func TestGridService_Audit(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()

	view, err := f.svc.Audit(ctx, service.AuditRequest{ConnectionID: f.connID, ObjectID: "object_permissions"})
	require.NoError(t, err)
	assert.Equal(t, 4, view.Total)
	require.Len(t, view.Rows, 4)
	assert.Equal(t, "Account", view.Rows[0].ObjectLabel)
	assert.True(t, view.Rows[0].Create)

	view, err = f.svc.Audit(ctx, service.AuditRequest{
		ConnectionID: f.connID,
		ObjectID:     "object_permissions",
		Levels:       []string{"Create", "Modify All"},
		Descending:   true,
	})
	require.NoError(t, err)
	var got []string
	for _, p := range view.Rows {
		got = append(got, p.ObjectLabel)
	}
	assert.Equal(t, []string{"Lead", "Contact", "Account"}, got)
	assert.Equal(t, "2 permissions selected", view.LevelsLabel)

	view, err = f.svc.Audit(ctx, service.AuditRequest{
		ConnectionID: f.connID, ObjectID: "object_permissions", Search: "con",
	})
	require.NoError(t, err)
	require.Len(t, view.Rows, 1)
	assert.Equal(t, "Contact", view.Rows[0].ObjectLabel)
}

func TestGridService_AuditSubject(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()

	view, err := f.svc.Audit(ctx, service.AuditRequest{
		ConnectionID: f.connID, ObjectID: "subject_permissions", Subject: "0PS1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Total)
	require.Len(t, view.Rows, 2)
	assert.Equal(t, "0PS1", view.Rows[0].Subject)
	var privileged []string
	for _, p := range view.Privileged {
		privileged = append(privileged, p.ObjectLabel)
	}
	assert.Equal(t, []string{"Account", "Contact"}, privileged)

	view, err = f.svc.Audit(ctx, service.AuditRequest{
		ConnectionID: f.connID, ObjectID: "subject_permissions", Subject: "00e1", SubjectType: "profile",
		Search: "acc",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Total)
	require.Len(t, view.Rows, 1)
	assert.Equal(t, "Account", view.Rows[0].ObjectLabel)
	assert.Equal(t, "Profile", view.Rows[0].SubjectType)
	require.Len(t, view.Privileged, 1)
	assert.Equal(t, "Lead", view.Privileged[0].ObjectLabel)

	view, err = f.svc.Audit(ctx, service.AuditRequest{
		ConnectionID: f.connID, ObjectID: "subject_permissions", SubjectType: "User",
	})
	require.NoError(t, err)
	assert.Zero(t, view.Total)
	assert.Zero(t, view.Page)
	assert.Empty(t, view.Privileged)

	_, err = f.svc.Audit(ctx, service.AuditRequest{
		ConnectionID: f.connID, ObjectID: "object_permissions", Subject: "0PS1",
	})
	assert.Error(t, err)
}

func TestGridService_PermissionSets(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()

	view, err := f.svc.PermissionSets(ctx, service.PermissionSetsRequest{
		ConnectionID: f.connID, ObjectID: "permission_sets", Expand: []string{"10"},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, view.Total)
	assert.Equal(t, 2, view.TotalPages)
	require.Len(t, view.Sets, 8)
	assert.Equal(t, "Set 10", view.Sets[0].Name)
	assert.Equal(t, 30, view.Sets[0].AssignedUserCount)
	assert.True(t, view.Sets[0].Expanded)
	assert.Equal(t, []string{"ViewSetup", "EditTask"}, view.Sets[0].Badges)
	assert.Equal(t, []string{"ManageUsers"}, view.Sets[0].Remaining)

	view, err = f.svc.PermissionSets(ctx, service.PermissionSetsRequest{
		ConnectionID: f.connID, ObjectID: "permission_sets", Page: 2,
	})
	require.NoError(t, err)
	require.Len(t, view.Sets, 2)
	assert.Equal(t, "Set 01", view.Sets[1].Name)
	assert.True(t, view.IsLast)

	_, err = f.svc.PermissionSets(ctx, service.PermissionSetsRequest{
		ConnectionID: f.connID, ObjectID: "permission_sets", Expand: []string{"99"},
	})
	assert.ErrorContains(t, err, "permission set not found")

	_, err = f.svc.PermissionSets(ctx, service.PermissionSetsRequest{ConnectionID: f.connID})
	assert.Error(t, err)
}

func TestGridService_AuditErrors(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()

	_, err := f.svc.Audit(ctx, service.AuditRequest{ConnectionID: f.connID})
	assert.Error(t, err)

	_, err = f.svc.Audit(ctx, service.AuditRequest{
		ConnectionID: f.connID, ObjectID: "object_permissions", Levels: []string{"Transfer"},
	})
	assert.Error(t, err)

	_, err = f.svc.Audit(ctx, service.AuditRequest{
		ConnectionID: f.connID, ObjectID: "invoices", Mapping: audit.Mapping{Label: "missing_column"},
	})
	var failure *domain.Failure
	require.True(t, errors.As(err, &failure), fmt.Sprintf("%T", err))
	assert.Contains(t, failure.Message, "no such column")
}
