package scheduler

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dbconnector/internal/connection"
	"dbconnector/internal/plotly"
	"dbconnector/internal/store"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type gridUpdate struct {
	fid     string
	uids    []string
	columns [][]interface{}
	creds   plotly.Credentials
}

type fakeGrids struct {
	mu        sync.Mutex
	updates   []gridUpdate
	updateErr error
}

func (f *fakeGrids) UpdateGrid(_ context.Context, fid string, uids []string, columns [][]interface{}, creds plotly.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, gridUpdate{fid: fid, uids: uids, columns: columns, creds: creds})
	return f.updateErr
}

func (f *fakeGrids) CreateGrid(_ context.Context, filename string, columnNames []string, columns [][]interface{}, _ plotly.Credentials) (string, []string, error) {
	uids := make([]string, len(columnNames))
	for i, name := range columnNames {
		uids[i] = "uid-" + name
	}
	return "chris:" + filename, uids, nil
}

func (f *fakeGrids) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fixture struct {
	scheduler    *Scheduler
	queries      *store.Queries
	grids        *fakeGrids
	connectionID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	connections := store.NewConnections(filepath.Join(dir, "connections.yaml"))
	id, err := connections.Save(connection.ConnectionConfig{Dialect: connection.DialectMock, Username: "user"})
	require.NoError(t, err)

	queries := store.NewQueries(filepath.Join(dir, "queries.yaml"))
	grids := &fakeGrids{}
	s := New(Options{
		Queries:     queries,
		Connections: connections,
		Plotly:      grids,
		Credentials: func(username string) plotly.Credentials {
			return plotly.Credentials{Username: username, APIKey: "key-" + username}
		},
		Cron: cron.New(cron.WithLocation(time.UTC), cron.WithSeconds()),
	})
	t.Cleanup(s.Stop)
	return &fixture{scheduler: s, queries: queries, grids: grids, connectionID: id}
}

func (f *fixture) query(fid, statement string) store.Query {
	return store.Query{
		Fid:             fid,
		Uids:            []string{"u1", "u2"},
		ConnectionID:    f.connectionID,
		Query:           statement,
		RefreshInterval: 3600,
		Requestor:       "chris",
	}
}

func TestScheduleQueryPersistsAndRegisters(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.scheduler.ScheduleQuery(f.query("chris:1", "SELECT * FROM t")))
	assert.True(t, f.scheduler.Scheduled("chris:1"))

	saved, err := f.queries.Get("chris:1")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t", saved.Query)

	// rescheduling replaces the entry
	require.NoError(t, f.scheduler.ScheduleQuery(f.query("chris:1", "SELECT 2")))
	assert.Len(t, f.scheduler.cron.Entries(), 1)

	f.scheduler.ClearQuery("chris:1")
	assert.False(t, f.scheduler.Scheduled("chris:1"))
	_, err = f.queries.Get("chris:1")
	assert.NoError(t, err, "clearing a job keeps the saved query")
}

func TestScheduleQueryValidation(t *testing.T) {
	f := newFixture(t)

	q := f.query("", "SELECT 1")
	assert.Error(t, f.scheduler.ScheduleQuery(q))

	q = f.query("chris:2", "SELECT 1")
	q.RefreshInterval = 0
	assert.Error(t, f.scheduler.ScheduleQuery(q))

	q.CronInterval = "not a cron"
	err := f.scheduler.ScheduleQuery(q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cronInterval")
	assert.False(t, f.scheduler.Scheduled("chris:2"))

	q.CronInterval = "*/5 * * * *"
	assert.NoError(t, f.scheduler.ScheduleQuery(q))
}

func TestLoadQueriesAndClearQueries(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queries.Save(f.query("chris:1", "SELECT 1")))
	require.NoError(t, f.queries.Save(f.query("chris:2", "SELECT 2")))
	broken := f.query("chris:3", "SELECT 3")
	broken.CronInterval = "bogus"
	require.NoError(t, f.queries.Save(broken))

	require.NoError(t, f.scheduler.LoadQueries())
	assert.True(t, f.scheduler.Scheduled("chris:1"))
	assert.True(t, f.scheduler.Scheduled("chris:2"))
	assert.False(t, f.scheduler.Scheduled("chris:3"))

	f.scheduler.ClearQueries()
	assert.Empty(t, f.scheduler.cron.Entries())
}

func TestQueryAndUpdateGridTrimsColumns(t *testing.T) {
	f := newFixture(t)

	exec, err := f.scheduler.QueryAndUpdateGrid(context.Background(), f.query("chris:1", "SELECT * FROM t"))
	require.NoError(t, err)
	assert.Equal(t, store.StatusOK, exec.Status)
	assert.Equal(t, 3, exec.RowCount)
	require.NotNil(t, exec.CompletedAt)

	require.Equal(t, 1, f.grids.count())
	update := f.grids.updates[0]
	assert.Equal(t, "chris:1", update.fid)
	assert.Equal(t, []string{"u1", "u2"}, update.uids)
	assert.Equal(t, [][]interface{}{
		{"ROW_1", "ROW_2", "ROW_3"},
		{"1.112", "2.2", "3.12"},
	}, update.columns)
	assert.Equal(t, plotly.Credentials{Username: "chris", APIKey: "key-chris"}, update.creds)
}

func TestQueryAndCreateGrid(t *testing.T) {
	f := newFixture(t)

	q, err := f.scheduler.QueryAndCreateGrid(context.Background(), "consumer", store.Query{
		ConnectionID: f.connectionID,
		Query:        "SELECT 1+1 AS A, 1+2 AS B",
		Requestor:    "chris",
	})
	require.NoError(t, err)
	assert.Equal(t, "chris:consumer", q.Fid)
	assert.Equal(t, []string{"uid-A", "uid-B"}, q.Uids)
	require.NotNil(t, q.LastExecution)
	assert.Equal(t, 1, q.LastExecution.RowCount)
}

func TestExecuteUnknownConnection(t *testing.T) {
	f := newFixture(t)
	_, err := f.scheduler.Execute(context.Background(), "missing", "SELECT 1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunJobRecordsExecution(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.scheduler.ScheduleQuery(f.query("chris:1", "SELECT * FROM t")))

	f.scheduler.runJob("chris:1")

	saved, err := f.queries.Get("chris:1")
	require.NoError(t, err)
	require.NotNil(t, saved.LastExecution)
	assert.Equal(t, store.StatusOK, saved.LastExecution.Status)
	assert.Equal(t, 3, saved.LastExecution.RowCount)
}

func TestRunJobRecordsFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.scheduler.ScheduleQuery(f.query("chris:1", "ERROR")))

	f.scheduler.runJob("chris:1")

	saved, err := f.queries.Get("chris:1")
	require.NoError(t, err)
	require.NotNil(t, saved.LastExecution)
	assert.Equal(t, store.StatusFailed, saved.LastExecution.Status)
	assert.Equal(t, "Syntax Error in Query", saved.LastExecution.ErrorMessage)
	assert.Zero(t, f.grids.count())
	assert.True(t, f.scheduler.Scheduled("chris:1"))
}

func TestRunJobRemovesQueryWhenGridIsGone(t *testing.T) {
	f := newFixture(t)
	f.grids.updateErr = &plotly.StatusError{Path: "grids/chris:1/col", Status: http.StatusNotFound}
	require.NoError(t, f.scheduler.ScheduleQuery(f.query("chris:1", "SELECT * FROM t")))

	f.scheduler.runJob("chris:1")

	assert.False(t, f.scheduler.Scheduled("chris:1"))
	_, err := f.queries.Get("chris:1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStartedSchedulerRunsJobs(t *testing.T) {
	f := newFixture(t)
	q := f.query("chris:1", "SELECT * FROM t")
	q.CronInterval = "@every 1s"
	require.NoError(t, f.scheduler.ScheduleQuery(q))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.scheduler.Start(ctx)

	require.Eventually(t, func() bool { return f.grids.count() > 0 }, 5*time.Second, 50*time.Millisecond)
	f.scheduler.Stop()
}
