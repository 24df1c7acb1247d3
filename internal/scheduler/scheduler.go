package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dbconnector/internal/connection"
	"dbconnector/internal/db"
	"dbconnector/internal/logger"
	"dbconnector/internal/metrics"
	"dbconnector/internal/plotly"
	"dbconnector/internal/session"
	"dbconnector/internal/store"

	"github.com/robfig/cron/v3"
)

const runTimeout = 10 * time.Minute

type QueryStore interface {
	List() ([]store.Query, error)
	Get(fid string) (store.Query, error)
	Save(q store.Query) error
	Delete(fid string) error
	UpdateExecution(fid string, exec store.Execution) error
}

type ConnectionStore interface {
	Get(id string) (connection.ConnectionConfig, error)
}

// GridClient is the part of the Plotly API a run needs.
type GridClient interface {
	UpdateGrid(ctx context.Context, fid string, uids []string, columns [][]interface{}, creds plotly.Credentials) error
	CreateGrid(ctx context.Context, filename string, columnNames []string, columns [][]interface{}, creds plotly.Credentials) (string, []string, error)
}

type Options struct {
	Queries     QueryStore
	Connections ConnectionStore
	Pool        *db.Pool
	Plotly      GridClient
	// Credentials resolves the Plotly credentials of a requestor.
	Credentials func(username string) plotly.Credentials
	Logger      *logger.Logger
	Cron        *cron.Cron
}

// Scheduler re-runs saved queries and pushes their results to Plotly grids.
type Scheduler struct {
	queries     QueryStore
	connections ConnectionStore
	pool        *db.Pool
	plotly      GridClient
	credentials func(string) plotly.Credentials
	log         *logger.Logger
	cron        *cron.Cron
	parser      cron.Parser
	entries     map[string]cron.EntryID
	mu          sync.Mutex
	rootCtx     context.Context
	startOnce   sync.Once
	stopOnce    sync.Once
	now         func() time.Time
}

func New(opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronEngine := opts.Cron
	if cronEngine == nil {
		cronEngine = cron.New(cron.WithParser(parser))
	}
	pool := opts.Pool
	if pool == nil {
		pool = db.NewPool(log.Zap())
	}
	credentials := opts.Credentials
	if credentials == nil {
		credentials = func(string) plotly.Credentials { return plotly.Credentials{} }
	}
	return &Scheduler{
		queries:     opts.Queries,
		connections: opts.Connections,
		pool:        pool,
		plotly:      opts.Plotly,
		credentials: credentials,
		log:         log,
		cron:        cronEngine,
		parser:      parser,
		entries:     make(map[string]cron.EntryID),
		rootCtx:     context.Background(),
		now:         time.Now,
	}
}

// Start runs the cron loop. Jobs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.rootCtx = ctx
		s.mu.Unlock()
		s.cron.Start()
	})
}

// Stop waits up to five seconds for running jobs.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		ctx := s.cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			s.log.Log("scheduler: timed out waiting for jobs to finish", logger.DetailWarn)
		}
	})
}

func (s *Scheduler) expression(q store.Query) string {
	if q.CronInterval != "" {
		return q.CronInterval
	}
	return MapRefreshToCron(q.RefreshInterval, s.now())
}

// ScheduleQuery saves q and (re)registers its job.
func (s *Scheduler) ScheduleQuery(q store.Query) error {
	if q.Fid == "" {
		return fmt.Errorf("query requires a fid")
	}
	if q.CronInterval == "" && q.RefreshInterval <= 0 {
		return fmt.Errorf("query requires a refreshInterval or a cronInterval")
	}
	schedule, err := s.parser.Parse(s.expression(q))
	if err != nil {
		return fmt.Errorf("invalid cronInterval %q: %w", q.CronInterval, err)
	}
	s.log.Logf(logger.DetailInfo, "Scheduling %q with connection %s updating grid %s", q.Query, q.ConnectionID, q.Fid)
	if err := s.queries.Save(q); err != nil {
		return err
	}
	s.register(q.Fid, schedule)
	return nil
}

func (s *Scheduler) register(fid string, schedule cron.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[fid]; ok {
		s.cron.Remove(entryID)
	}
	s.entries[fid] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.runJob(fid)
	}))
}

// LoadQueries registers every saved query. Run once at start.
func (s *Scheduler) LoadQueries() error {
	queries, err := s.queries.List()
	if err != nil {
		return err
	}
	for _, q := range queries {
		schedule, err := s.parser.Parse(s.expression(q))
		if err != nil {
			s.log.Logf(logger.DetailError, "Skipping query %s: %v", q.Fid, err)
			continue
		}
		s.register(q.Fid, schedule)
	}
	return nil
}

// ClearQuery forgets the job of fid; the saved query is kept.
func (s *Scheduler) ClearQuery(fid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[fid]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, fid)
	}
}

func (s *Scheduler) ClearQueries() {
	s.mu.Lock()
	fids := make([]string, 0, len(s.entries))
	for fid := range s.entries {
		fids = append(fids, fid)
	}
	s.mu.Unlock()
	for _, fid := range fids {
		s.ClearQuery(fid)
	}
}

// Scheduled reports whether fid has a job.
func (s *Scheduler) Scheduled(fid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[fid]
	return ok
}

// Execute runs statement on the saved connection connectionID.
func (s *Scheduler) Execute(ctx context.Context, connectionID, statement string) (connection.Grid, error) {
	cfg, err := s.connections.Get(connectionID)
	if err != nil {
		return connection.Grid{}, err
	}
	database, err := s.pool.Get(cfg)
	if err != nil {
		return connection.Grid{}, err
	}
	return session.Execute(ctx, database, cfg.Dialect, statement)
}

func (s *Scheduler) finish(exec store.Execution, rowCount int, err error) store.Execution {
	completed := s.now()
	exec.CompletedAt = &completed
	exec.Duration = completed.Sub(exec.StartedAt).Seconds()
	exec.RowCount = rowCount
	if err != nil {
		exec.Status = store.StatusFailed
		exec.ErrorMessage = err.Error()
	} else {
		exec.Status = store.StatusOK
	}
	return exec
}

// QueryAndUpdateGrid runs q and replaces the data of its grid columns.
func (s *Scheduler) QueryAndUpdateGrid(ctx context.Context, q store.Query) (store.Execution, error) {
	exec := store.Execution{Status: store.StatusRunning, StartedAt: s.now()}
	s.log.Logf(logger.DetailInfo, "Querying %q with connection %s to update grid %s", q.Query, q.ConnectionID, q.Fid)
	grid, err := s.Execute(ctx, q.ConnectionID, q.Query)
	if err != nil {
		return s.finish(exec, 0, err), err
	}
	if grid.NCols != len(q.Uids) {
		s.log.Logf(logger.DetailWarn,
			"A different number of columns was returned in the query than what was initially saved in the grid. %d columns were queried, %d columns were originally saved. Only the first %d columns will be updated.",
			grid.NCols, len(q.Uids), len(q.Uids))
	}
	s.log.Logf(logger.DetailInfo, "Updating grid %s with new data", q.Fid)
	columns := plotly.Columns(grid.Rows, len(q.Uids))
	err = s.plotly.UpdateGrid(ctx, q.Fid, q.Uids, columns, s.credentials(q.Requestor))
	return s.finish(exec, grid.NRows, err), err
}

// QueryAndCreateGrid runs q and uploads the result as a new grid called
// filename. The returned query carries the new fid and uids.
func (s *Scheduler) QueryAndCreateGrid(ctx context.Context, filename string, q store.Query) (store.Query, error) {
	exec := store.Execution{Status: store.StatusRunning, StartedAt: s.now()}
	grid, err := s.Execute(ctx, q.ConnectionID, q.Query)
	if err != nil {
		return q, err
	}
	columns := plotly.Columns(grid.Rows, grid.NCols)
	fid, uids, err := s.plotly.CreateGrid(ctx, filename, grid.ColumnNames, columns, s.credentials(q.Requestor))
	if err != nil {
		return q, err
	}
	q.Fid = fid
	q.Uids = uids
	exec = s.finish(exec, grid.NRows, nil)
	q.LastExecution = &exec
	return q, nil
}

// runJob is what cron calls for fid.
func (s *Scheduler) runJob(fid string) {
	q, err := s.queries.Get(fid)
	if err != nil {
		s.log.Logf(logger.DetailError, "Scheduled query %s is gone: %v", fid, err)
		s.ClearQuery(fid)
		return
	}

	s.mu.Lock()
	root := s.rootCtx
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(root, runTimeout)
	defer cancel()

	_ = s.queries.UpdateExecution(fid, store.Execution{Status: store.StatusRunning, StartedAt: s.now()})
	exec, err := s.QueryAndUpdateGrid(ctx, q)
	metrics.ObserveSchedulerRun(exec.Status)

	if plotly.IsNotFound(err) {
		s.ClearQuery(fid)
		if deleteErr := s.queries.Delete(fid); deleteErr != nil {
			s.log.Logf(logger.DetailError, "failed to delete query %s: %v", fid, deleteErr)
		}
		s.log.Logf(logger.DetailInfo, "Grid ID %s doesn't exist on Plotly anymore, removing persistent query.", fid)
		return
	}
	if err != nil {
		s.log.Logf(logger.DetailError, "Error while updating grid %s: %v", fid, err)
	} else {
		s.log.Logf(logger.DetailInfo, "Grid %s has been updated.", fid)
	}
	if updateErr := s.queries.UpdateExecution(fid, exec); updateErr != nil {
		s.log.Logf(logger.DetailError, "failed to record execution of %s: %v", fid, updateErr)
	}
}
