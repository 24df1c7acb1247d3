package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"dbconnector/internal/api"
	"dbconnector/internal/connection"
	"dbconnector/internal/db"
	"dbconnector/internal/export"
	"dbconnector/internal/ipc"
	"dbconnector/internal/logger"
	"dbconnector/internal/plotly"
	"dbconnector/internal/scheduler"
	"dbconnector/internal/session"
	"dbconnector/internal/settings"
	"dbconnector/internal/store"
	"dbconnector/internal/utils"

	"go.uber.org/zap"
)

// queryTimeout bounds one-off queries run from the command line.
const queryTimeout = 10 * time.Minute

type Options struct {
	Args settings.Args
	// Settings are extra settings options, mostly for tests.
	Settings []settings.Option
	// Stdio keeps stdout free for the ipc channel.
	Stdio bool
}

// App wires the stores, sessions, scheduler and servers together.
type App struct {
	ctx  context.Context
	args settings.Args

	settings    *settings.Settings
	log         *logger.Logger
	pool        *db.Pool
	connections *store.Connections
	queries     *store.Queries
	tags        *store.Tags
	sessions    *session.Manager
	handler     *ipc.Handler
	hub         *ipc.Hub
	scheduler   *scheduler.Scheduler
	server      *api.Server

	shutdownOnce sync.Once
	stopForward  func()
}

// NewApp creates a new App from the command line arguments
func NewApp(opts Options) (*App, error) {
	if err := opts.Args.Validate(); err != nil {
		return nil, err
	}
	cfg, err := settings.Load(append(opts.Settings, opts.Args.Options()...)...)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Options{
		Path:     cfg.String("LOG_PATH"),
		Detail:   opts.Args.LogDetail,
		ToStdout: cfg.Bool("LOG_TO_STDOUT") && !opts.Stdio,
		Clear:    opts.Args.ClearLog,
		Headless: opts.Args.Headless,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		ctx:         context.Background(),
		args:        opts.Args,
		settings:    cfg,
		log:         log,
		pool:        db.NewPool(log.Zap()),
		connections: store.NewConnections(cfg.String("CONNECTIONS_PATH")),
		queries:     store.NewQueries(cfg.String("QUERIES_PATH")),
		tags:        store.NewTags(cfg.String("TAGS_PATH")),
		stopForward: func() {},
	}
	a.sessions = session.NewManager(session.Options{
		Logger:     log,
		Headless:   opts.Args.Headless,
		ConfigPath: opts.Args.ConfigPath,
	})
	a.handler = ipc.NewHandler(a.sessions, log)
	a.hub = ipc.NewHub(a.handler, log, nil)
	a.scheduler = scheduler.New(scheduler.Options{
		Queries:     a.queries,
		Connections: a.connections,
		Pool:        a.pool,
		Plotly:      plotlyGrids{build: a.plotly},
		Credentials: a.credentials,
		Logger:      log,
	})
	a.server = api.New(api.Options{
		Settings:    cfg,
		Logger:      log,
		Handler:     a.handler,
		Hub:         a.hub,
		Connections: a.connections,
		Queries:     a.queries,
		Tags:        a.tags,
		Scheduler:   a.scheduler,
		Pool:        a.pool,
		Version:     Version(),
	})
	return a, nil
}

func (a *App) Settings() *settings.Settings {
	return a.settings
}

func (a *App) Logger() *logger.Logger {
	return a.log
}

// ServeHTTP exposes the REST routes without a listener.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.server.ServeHTTP(w, r)
}

// plotly is rebuilt on every call so settings edits apply to the next run.
func (a *App) plotly() *plotly.Client {
	return plotly.NewClient(
		a.settings.String("PLOTLY_API_URL"),
		a.settings.String("PLOTLY_URL"),
		plotly.WithLogger(a.log.Zap()),
	)
}

func (a *App) credentials(username string) plotly.Credentials {
	user, ok := a.settings.User(username)
	if !ok {
		return plotly.Credentials{Username: username}
	}
	return plotly.Credentials{Username: user.Username, APIKey: user.APIKey, AccessToken: user.AccessToken}
}

// plotlyGrids resolves the Plotly client when a job runs.
type plotlyGrids struct {
	build func() *plotly.Client
}

func (g plotlyGrids) UpdateGrid(ctx context.Context, fid string, uids []string, columns [][]interface{}, creds plotly.Credentials) error {
	return g.build().UpdateGrid(ctx, fid, uids, columns, creds)
}

func (g plotlyGrids) CreateGrid(ctx context.Context, filename string, columnNames []string, columns [][]interface{}, creds plotly.Credentials) (string, []string, error) {
	return g.build().CreateGrid(ctx, filename, columnNames, columns, creds)
}

// Startup loads the saved queries and starts the scheduler.
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	if err := a.scheduler.LoadQueries(); err != nil {
		a.log.Logf(logger.DetailError, "Failed to load scheduled queries: %v", err)
	}
	a.scheduler.Start(ctx)
	a.settings.Watch(func() {
		a.log.Log("Settings reloaded.", logger.DetailInfo)
	})
	if !a.args.Headless {
		a.stopForward = a.hub.ForwardLogs()
	}
}

// Shutdown is called when the app terminates
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.stopForward()
		a.scheduler.Stop()
		a.hub.Close()
		a.sessions.CloseAll()
		a.pool.CloseAll()
		_ = a.log.Sync()
	})
}

// Serve runs the HTTP(S) server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	a.Startup(ctx)
	defer a.Shutdown()
	a.log.Zap().Info("server starting",
		zap.Int("port", a.settings.Int("PORT")),
		zap.String("storage", a.settings.String("STORAGE_PATH")),
		zap.String("version", Version()),
	)
	return a.server.ListenAndServe(ctx)
}

// ServeIPC answers stdio requests from r on w until r closes.
func (a *App) ServeIPC(ctx context.Context, r io.Reader, w io.Writer) error {
	a.ctx = ctx
	defer a.Shutdown()
	return ipc.Serve(ctx, r, w, a.handler, a.log)
}

// QueryToFile runs statement on a saved connection and exports the result
// to out, picking the format from its extension.
func (a *App) QueryToFile(connectionID, statement, out string) connection.QueryResult {
	ctx, cancel := utils.ContextWithTimeoutFrom(a.ctx, queryTimeout)
	defer cancel()

	grid, err := a.scheduler.Execute(ctx, connectionID, statement)
	if err != nil {
		return connection.QueryResult{Success: false, Message: err.Error()}
	}
	return writeGrid(out, grid)
}

// AgentQuery runs statement through an ipc agent process instead of the
// drivers linked into this binary.
func (a *App) AgentQuery(agentPath, connectionID, statement, out string) connection.QueryResult {
	cfg, err := a.connections.Get(connectionID)
	if err != nil {
		return connection.QueryResult{Success: false, Message: err.Error()}
	}
	client, err := ipc.NewClient(agentPath, "--logdetail", "0")
	if err != nil {
		return connection.QueryResult{Success: false, Message: err.Error()}
	}
	defer client.Close()
	client.OnLog = func(entry json.RawMessage) {
		a.log.Zap().Debug("agent", zap.ByteString("entry", entry))
	}

	ctx, cancel := utils.ContextWithTimeoutFrom(a.ctx, queryTimeout)
	defer cancel()

	if _, err := callAgent(ctx, client, ipc.Payload{Task: ipc.TaskConnect, Message: cfg}); err != nil {
		return connection.QueryResult{Success: false, Message: err.Error()}
	}
	raw, err := callAgent(ctx, client, ipc.Payload{Task: ipc.TaskQuery, Message: statement})
	if err != nil {
		return connection.QueryResult{Success: false, Message: err.Error()}
	}
	var grid connection.Grid
	if err := json.Unmarshal(raw, &grid); err != nil {
		return connection.QueryResult{Success: false, Message: fmt.Sprintf("failed to parse agent result: %v", err)}
	}
	return writeGrid(out, grid)
}

// callAgent returns the first response of a call, or the error the agent
// raised.
func callAgent(ctx context.Context, client *ipc.Client, p ipc.Payload) (json.RawMessage, error) {
	var first json.RawMessage
	var status int
	err := client.Call(ctx, p, func(s int, response json.RawMessage) {
		if first == nil {
			first, status = response, s
		}
	})
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nil, fmt.Errorf("agent sent no response to %s", p.Task)
	}
	if status != http.StatusOK {
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(first, &body) == nil && body.Error.Message != "" {
			return nil, errors.New(body.Error.Message)
		}
		return nil, fmt.Errorf("agent answered %s with status %d", p.Task, status)
	}
	return first, nil
}

func writeGrid(out string, grid connection.Grid) connection.QueryResult {
	if out != "" {
		if err := export.Write(out, export.FormatFromPath(out), grid); err != nil {
			return connection.QueryResult{Success: false, Message: err.Error()}
		}
	}
	return connection.QueryResult{Success: true, Data: grid, Fields: grid.ColumnNames, Message: fmt.Sprintf("%d rows", grid.NRows)}
}
