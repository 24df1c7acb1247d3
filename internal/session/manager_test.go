package session

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"dbconnector/internal/connection"
	"dbconnector/internal/db"
	"dbconnector/internal/logger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type sent struct {
	Response map[string]interface{}
	Status   int
}

type recorder struct {
	mu    sync.Mutex
	calls []sent
}

func (r *recorder) send(response interface{}, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sent{Response: response.(map[string]interface{}), Status: status})
}

func (r *recorder) last(t *testing.T) sent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.calls)
	return r.calls[len(r.calls)-1]
}

var fixedNow = time.Date(2017, 3, 1, 14, 39, 7, 0, time.UTC)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Options{Logger: logger.Nop()})
	m.now = func() time.Time { return fixedNow }
	return m
}

// withSQLMock makes the next connection use a go-sqlmock handle.
func withSQLMock(t *testing.T, m *Manager, driver string) sqlmock.Sqlmock {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	m.newDatabase = func(dialect string) (db.Database, error) {
		return db.FromSQL(conn, driver, dialect), nil
	}
	return mock
}

func TestAuthenticateWithoutSessionRaisesConnectionError(t *testing.T) {
	m := newTestManager(t)
	rec := &recorder{}

	err := m.Authenticate(context.Background(), rec.send)
	require.Error(t, err)
	assert.True(t, IsRaised(err))

	got := rec.last(t)
	assert.Equal(t, 400, got.Status)
	assert.Equal(t, map[string]interface{}{
		"message":   AppNotConnected,
		"name":      ConnectionErrorName,
		"timestamp": logger.Timestamp(fixedNow),
	}, got.Response["error"])
}

func TestRaiseErrorLogsAtErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := NewManager(Options{Logger: logger.Wrap(zap.New(core), logger.DetailError, true)})
	rec := &recorder{}

	err := m.RaiseError(NewError("Syntax Error in Query"), rec.send)
	assert.True(t, IsRaised(err))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
	assert.Equal(t, "Syntax Error in Query", logs.All()[0].Message)
}

func TestConnectAndShowDatabases(t *testing.T) {
	m := newTestManager(t)
	mock := withSQLMock(t, m, "mysql")
	mock.ExpectQuery("SHOW DATABASES").WillReturnRows(
		sqlmock.NewRows([]string{"Database"}).AddRow("plotly_datasets").AddRow("information_schema"))

	require.NoError(t, m.Connect(context.Background(), connection.ConnectionConfig{Dialect: "mysql", Username: "masteruser"}))
	rec := &recorder{}
	require.NoError(t, m.Authenticate(context.Background(), rec.send))
	require.NoError(t, m.ShowDatabases(context.Background(), rec.send))

	got := rec.last(t)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, []string{"plotly_datasets", "information_schema"}, got.Response["databases"])
	assert.Nil(t, got.Response["error"])
	assert.Contains(t, got.Response, "tables")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestShowDatabasesSQLiteSendsTablesToo(t *testing.T) {
	m := newTestManager(t)
	mock := withSQLMock(t, m, "sqlite")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name FROM sqlite_master WHERE type="table"`)).WillReturnRows(
		sqlmock.NewRows([]string{"name"}).AddRow("consumer"))

	require.NoError(t, m.Connect(context.Background(), connection.ConnectionConfig{Dialect: "sqlite", Storage: "plotly.db"}))
	rec := &recorder{}
	require.NoError(t, m.ShowDatabases(context.Background(), rec.send))

	require.Len(t, rec.calls, 2)
	assert.Equal(t, []string{"SQLITE database accessed"}, rec.calls[0].Response["databases"])
	assert.Equal(t, []map[string]interface{}{{"consumer": map[string]interface{}{}}}, rec.calls[1].Response["tables"])
}

func TestPreviewTablesKeepsRequestOrder(t *testing.T) {
	m := newTestManager(t)
	mock := withSQLMock(t, m, "postgres")
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM consumer LIMIT 5")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "a"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM empty_table LIMIT 5")).WillReturnRows(
		sqlmock.NewRows([]string{"id"}))

	require.NoError(t, m.Connect(context.Background(), connection.ConnectionConfig{Dialect: "postgres"}))
	rec := &recorder{}
	require.NoError(t, m.PreviewTables(context.Background(), []string{"empty_table", "consumer"}, rec.send))

	previews := rec.last(t).Response["previews"].([]map[string]interface{})
	require.Len(t, previews, 2)
	assert.Equal(t, db.EmptyTable(), previews[0]["empty_table"])
	consumer := previews[1]["consumer"].(connection.Grid)
	assert.Equal(t, []string{"id", "name"}, consumer.ColumnNames)
	assert.Equal(t, 1, consumer.NRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryReadAndWrite(t *testing.T) {
	m := newTestManager(t)
	mock := withSQLMock(t, m, "postgres")
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, m.Connect(context.Background(), connection.ConnectionConfig{Dialect: "postgres"}))
	rec := &recorder{}
	require.NoError(t, m.Query(context.Background(), "SELECT 1", rec.send))
	got := rec.last(t).Response
	assert.Equal(t, []string{"?column?"}, got["columnnames"])
	assert.Equal(t, 1, got["nrows"])
	assert.Contains(t, got, "error")

	require.NoError(t, m.Query(context.Background(), "CREATE TABLE t (id int)", rec.send))
	assert.Equal(t, [][]interface{}{{"command executed"}}, rec.last(t).Response["rows"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryErrorFromMockDialect(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Connect(context.Background(), connection.ConnectionConfig{Dialect: connection.DialectMock}))
	err := m.Query(context.Background(), db.MockQueryError, (&recorder{}).send)
	assert.EqualError(t, err, "Syntax Error in Query")
	assert.False(t, IsRaised(err))
}

func TestSelectDatabaseReconnects(t *testing.T) {
	m := newTestManager(t)
	var opened []connection.ConnectionConfig
	m.newDatabase = func(string) (db.Database, error) {
		return &recordingDB{opened: &opened}, nil
	}
	require.NoError(t, m.Connect(context.Background(), connection.ConnectionConfig{Dialect: "redshift", Database: "dev"}))
	require.NoError(t, m.SelectDatabase(context.Background(), "dev"))
	require.Len(t, opened, 1)

	require.NoError(t, m.SelectDatabase(context.Background(), "plotly"))
	require.Len(t, opened, 2)
	assert.Equal(t, "plotly", opened[1].Database)
	assert.Equal(t, connection.DialectRedshift, opened[1].Dialect)
	assert.Equal(t, "plotly", m.Database(DefaultSessionID))
}

type recordingDB struct {
	db.MockDB
	opened *[]connection.ConnectionConfig
}

func (r *recordingDB) Connect(cfg connection.ConnectionConfig) error {
	*r.opened = append(*r.opened, cfg)
	return r.MockDB.Connect(cfg)
}

func TestSessionsLifecycle(t *testing.T) {
	m := newTestManager(t)
	m.SetSelected("b")
	require.NoError(t, m.Connect(context.Background(), connection.ConnectionConfig{Dialect: connection.DialectMock, Username: "chris", Host: "db.plot.ly"}))
	require.NoError(t, m.AddSession("a", "postgres", "plotly"))

	rec := &recorder{}
	require.NoError(t, m.ShowSessions(context.Background(), rec.send))
	assert.Equal(t, []map[string]string{
		{"a": "Session currently empty."},
		{"b": "mock:chris@db.plot.ly"},
	}, rec.last(t).Response["sessions"])
	assert.Equal(t, "postgres", m.Dialect("a"))
	assert.Equal(t, "plotly", m.Database("a"))

	require.NoError(t, m.DeleteSession("b"))
	assert.Equal(t, "a", m.Selected())
	assert.False(t, m.Exists("b"))

	err := m.DeleteSession("missing")
	assert.EqualError(t, err, NonExistentSession)
	// clients match on this text, typo included
	assert.Contains(t, err.Error(), "at the end poitn /v1/sessions")
}

func TestDisconnect(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Connect(context.Background(), connection.ConnectionConfig{Dialect: connection.DialectMock}))
	rec := &recorder{}
	require.NoError(t, m.Disconnect(context.Background(), rec.send))
	assert.Equal(t, map[string]interface{}{
		"databases": nil, "error": nil, "tables": nil, "previews": nil,
	}, rec.last(t).Response)

	err := m.Authenticate(context.Background(), rec.send)
	assert.True(t, IsRaised(err))
}

func TestHeadlessConnectReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\"7\":\n  dialect: mock\n  username: headless\n"), 0o600))

	m := NewManager(Options{Logger: logger.Nop(), Headless: true, ConfigPath: path})
	m.SetSelected("7")
	require.NoError(t, m.Connect(context.Background(), connection.ConnectionConfig{Dialect: "mysql"}))
	assert.Equal(t, connection.DialectMock, m.Dialect("7"))

	m.SetSelected("8")
	assert.Error(t, m.Connect(context.Background(), connection.ConnectionConfig{}))
}

func TestGetMappings(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Connect(context.Background(), connection.ConnectionConfig{Dialect: connection.DialectMock}))
	rec := &recorder{}
	require.NoError(t, m.GetMappings(context.Background(), rec.send))
	assert.Contains(t, rec.last(t).Response["mappings"], "test-mappings")
}
