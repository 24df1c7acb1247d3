package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"dbconnector/internal/connection"
	"dbconnector/internal/db"
	"dbconnector/internal/logger"
	"dbconnector/internal/metrics"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// DefaultSessionID is used until a client names a session.
const DefaultSessionID = "0"

const emptySessionLabel = "Session currently empty."

// ResponseSender delivers one response for the message being handled.
type ResponseSender func(response interface{}, status int)

// Session is one named connection. DB is nil until Connect succeeds.
type Session struct {
	ID     string
	Config connection.ConnectionConfig
	DB     db.Database
}

type Options struct {
	Logger *logger.Logger
	// Headless sessions read their configuration from ConfigPath.
	Headless   bool
	ConfigPath string
}

// Manager owns the sessions and the one currently selected.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	selected string

	log         *logger.Logger
	headless    bool
	configPath  string
	newDatabase func(dialect string) (db.Database, error)
	now         func() time.Time
}

func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		selected:    DefaultSessionID,
		log:         log,
		headless:    opts.Headless,
		configPath:  opts.ConfigPath,
		newDatabase: db.NewDatabase,
		now:         time.Now,
	}
}

func (m *Manager) Log(entry interface{}, detail int) {
	m.log.Log(entry, detail)
}

func (m *Manager) SetSelected(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = id
}

func (m *Manager) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// Exists reports whether a session with id was added or connected.
func (m *Manager) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// Dialect of the session id, or "" when unknown.
func (m *Manager) Dialect(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.Config.Dialect
	}
	return ""
}

// Database the session id is pointed at, or "".
func (m *Manager) Database(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.Config.Database
	}
	return ""
}

func (m *Manager) current() (*Session, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[m.selected], m.selected
}

// RaiseError reports err to the requester as {"error": {...}} with status 400.
func (m *Manager) RaiseError(err error, send ResponseSender) error {
	if err == nil {
		return nil
	}
	body := map[string]interface{}{
		"message":   errorText(err),
		"timestamp": logger.Timestamp(m.now()),
	}
	var uiErr *Error
	if errors.As(err, &uiErr) {
		if uiErr.Name != "" {
			body["name"] = uiErr.Name
		}
		if uiErr.Type != "" {
			body["type"] = uiErr.Type
		}
	}
	m.log.Log(body, logger.DetailError)
	if send != nil {
		send(map[string]interface{}{"error": body}, 400)
	}
	return &raisedError{err: err}
}

func (m *Manager) readHeadlessConfig(id string) (connection.ConnectionConfig, error) {
	raw, err := os.ReadFile(m.configPath)
	if err != nil {
		return connection.ConnectionConfig{}, fmt.Errorf("failed to read %s: %w", m.configPath, err)
	}
	var configs map[string]connection.ConnectionConfig
	if err := yaml.Unmarshal(raw, &configs); err != nil {
		return connection.ConnectionConfig{}, fmt.Errorf("failed to parse %s: %w", m.configPath, err)
	}
	cfg, ok := configs[id]
	if !ok {
		return connection.ConnectionConfig{}, fmt.Errorf("no configuration for session %s in %s", id, m.configPath)
	}
	return cfg, nil
}

// Connect opens a datastore for the selected session, replacing whatever
// that session held before.
func (m *Manager) Connect(ctx context.Context, cfg connection.ConnectionConfig) error {
	_, id := m.current()
	if m.headless {
		fromFile, err := m.readHeadlessConfig(id)
		if err != nil {
			return err
		}
		cfg = fromFile
	}
	m.log.Logf(logger.DetailWarn, "Creating a connection for user %s", cfg.Username)
	return m.open(id, cfg)
}

func (m *Manager) open(id string, cfg connection.ConnectionConfig) error {
	cfg.Dialect = db.NormalizeDialect(cfg.Dialect)
	database, err := m.newDatabase(cfg.Dialect)
	if err != nil {
		return err
	}
	connectErr := database.Connect(cfg)

	m.mu.Lock()
	previous := m.sessions[id]
	next := &Session{ID: id, Config: cfg}
	if connectErr == nil {
		next.DB = database
	}
	m.sessions[id] = next
	m.mu.Unlock()

	if previous != nil && previous.DB != nil {
		_ = previous.DB.Close()
	}
	if connectErr != nil {
		_ = database.Close()
		return connectErr
	}
	return nil
}

// Authenticate pings the selected session. Failures are raised through send.
func (m *Manager) Authenticate(ctx context.Context, send ResponseSender) error {
	m.log.Log("Authenticating connection.", logger.DetailInfo)
	s, _ := m.current()
	if s == nil || s.DB == nil {
		return m.RaiseError(NewConnectionError(AppNotConnected), send)
	}
	if err := s.DB.Ping(); err != nil {
		return m.RaiseError(NewConnectionError(Authentication(err)), send)
	}
	return nil
}

// SelectDatabase reconnects the selected session against database when it
// differs from the current one.
func (m *Manager) SelectDatabase(ctx context.Context, database string) error {
	s, id := m.current()
	if s == nil || s.DB == nil {
		return NewConnectionError(AppNotConnected)
	}
	if database == "" || database == s.Config.Database {
		m.log.Log("Authenticating connection.", logger.DetailInfo)
		return s.DB.Ping()
	}
	m.log.Logf(logger.DetailWarn, "Switching to a new database %s", database)
	cfg := s.Config
	cfg.Database = database
	return m.open(id, cfg)
}

func (m *Manager) connected() (*Session, error) {
	s, _ := m.current()
	if s == nil || s.DB == nil {
		return nil, NewConnectionError(AppNotConnected)
	}
	return s, nil
}

func (m *Manager) ShowDatabases(ctx context.Context, send ResponseSender) error {
	s, err := m.connected()
	if err != nil {
		return err
	}
	if s.Config.Dialect == connection.DialectSQLite {
		send(map[string]interface{}{
			"databases": []string{"SQLITE database accessed"},
			"error":     nil,
			"tables":    nil,
		}, 200)
		return m.ShowTables(ctx, send)
	}
	databases, err := s.DB.GetDatabases()
	if err != nil {
		return err
	}
	m.log.Log("Results received.", logger.DetailInfo)
	send(map[string]interface{}{
		"databases": databases,
		"error":     nil,
		"tables":    nil,
	}, 200)
	return nil
}

func (m *Manager) ShowTables(ctx context.Context, send ResponseSender) error {
	s, err := m.connected()
	if err != nil {
		return err
	}
	tables, err := s.DB.GetTables(s.Config.Database)
	if err != nil {
		return err
	}
	m.log.Log("Results received", logger.DetailInfo)
	entries := make([]map[string]interface{}, 0, len(tables))
	for _, table := range tables {
		entries = append(entries, map[string]interface{}{table: map[string]interface{}{}})
	}
	send(map[string]interface{}{
		"error":  nil,
		"tables": entries,
	}, 200)
	return nil
}

// PreviewTables fetches the first rows of every table concurrently and
// answers once, in the order the tables were requested.
func (m *Manager) PreviewTables(ctx context.Context, tables []string, send ResponseSender) error {
	s, err := m.connected()
	if err != nil {
		return err
	}
	grids := make([]connection.Grid, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, table := range tables {
		i, table := i, strings.TrimSpace(table)
		g.Go(func() error {
			rows, fields, err := m.previewTable(gctx, s, table)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				grids[i] = db.EmptyTable()
			} else {
				grids[i] = db.Parse(rows, fields)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.log.Log("Sending tables' previews.", logger.DetailInfo)
	previews := make([]map[string]interface{}, 0, len(tables))
	for i, table := range tables {
		previews = append(previews, map[string]interface{}{strings.TrimSpace(table): grids[i]})
	}
	send(map[string]interface{}{
		"error":    nil,
		"previews": previews,
	}, 200)
	return nil
}

func (m *Manager) previewTable(ctx context.Context, s *Session, table string) ([]map[string]interface{}, []string, error) {
	if previewer, ok := s.DB.(db.Previewer); ok {
		return previewer.Preview(table, db.PreviewRowLimit)
	}
	query, err := db.PresetQuery(db.PresetShow5Rows, s.Config.Dialect, table, s.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	m.log.Logf(logger.DetailInfo, "Querying: %s", query)
	return runQuery(ctx, s.DB, query)
}

func runQuery(ctx context.Context, database db.Database, query string) ([]map[string]interface{}, []string, error) {
	if cq, ok := database.(db.ContextQuerier); ok {
		return cq.QueryContext(ctx, query)
	}
	return database.Query(query)
}

func runExec(ctx context.Context, database db.Database, query string) (int64, error) {
	if cq, ok := database.(db.ContextQuerier); ok {
		return cq.ExecContext(ctx, query)
	}
	return database.Exec(query)
}

// Execute runs statement on database and lays the result out as a grid.
// Statements that return no row set produce the "command executed" grid.
func Execute(ctx context.Context, database db.Database, dialect, statement string) (connection.Grid, error) {
	started := time.Now()
	var grid connection.Grid
	var err error
	if isSQLDialect(dialect) && !db.IsReadStatement(statement) {
		if _, err = runExec(ctx, database, statement); err == nil {
			grid = db.CommandExecuted()
		}
	} else {
		var rows []map[string]interface{}
		var fields []string
		if rows, fields, err = runQuery(ctx, database, statement); err == nil {
			grid = db.Parse(rows, fields)
		}
	}
	metrics.ObserveQuery(dialect, started, err)
	return grid, err
}

func isSQLDialect(dialect string) bool {
	switch db.NormalizeDialect(dialect) {
	case connection.DialectMySQL, connection.DialectMariaDB, connection.DialectPostgres,
		connection.DialectRedshift, connection.DialectMSSQL, connection.DialectSQLite,
		connection.DialectOracle, connection.DialectDuckDB:
		return true
	}
	return false
}

// GridResponse flattens grid into the {columnnames, rows, ...} object the
// UI expects, with error set to null.
func GridResponse(grid connection.Grid) map[string]interface{} {
	return map[string]interface{}{
		"columnnames": grid.ColumnNames,
		"ncols":       grid.NCols,
		"nrows":       grid.NRows,
		"rows":        grid.Rows,
		"error":       nil,
	}
}

func (m *Manager) Query(ctx context.Context, statement string, send ResponseSender) error {
	s, err := m.connected()
	if err != nil {
		return err
	}
	m.log.Logf(logger.DetailInfo, "Querying: %s", statement)
	grid, err := Execute(ctx, s.DB, s.Config.Dialect, statement)
	if err != nil {
		return err
	}
	m.log.Log("Results received.", logger.DetailInfo)
	send(GridResponse(grid), 200)
	return nil
}

func (m *Manager) Disconnect(ctx context.Context, send ResponseSender) error {
	m.log.Log("Disconnecting", logger.DetailInfo)
	m.mu.Lock()
	s := m.sessions[m.selected]
	var database db.Database
	if s != nil {
		database = s.DB
		s.DB = nil
	}
	m.mu.Unlock()
	if database == nil {
		return NewConnectionError(AppNotConnected)
	}
	if err := database.Close(); err != nil {
		return err
	}
	send(map[string]interface{}{
		"databases": nil,
		"error":     nil,
		"tables":    nil,
		"previews":  nil,
	}, 200)
	return nil
}

func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) ShowSessions(ctx context.Context, send ResponseSender) error {
	m.mu.Lock()
	ids := m.sortedIDs()
	list := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		s := m.sessions[id]
		label := emptySessionLabel
		if s.DB != nil {
			label = connection.Summary(s.Config)
		}
		list = append(list, map[string]string{id: label})
	}
	m.mu.Unlock()

	send(map[string]interface{}{
		"error":    nil,
		"sessions": list,
	}, 200)
	return nil
}

// AddSession registers an empty session that a later CONNECT fills in.
func (m *Manager) AddSession(id, dialect, database string) error {
	if strings.TrimSpace(id) == "" {
		return NewError(SessionParam)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok && existing.DB != nil {
		_ = existing.DB.Close()
	}
	m.sessions[id] = &Session{
		ID:     id,
		Config: connection.ConnectionConfig{Dialect: db.NormalizeDialect(dialect), Database: database},
	}
	return nil
}

// DeleteSession closes and forgets id, then selects the first session left.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return NewError(NonExistentSession)
	}
	delete(m.sessions, id)
	ids := m.sortedIDs()
	if len(ids) > 0 {
		m.selected = ids[0]
	} else {
		m.selected = DefaultSessionID
	}
	selected := m.selected
	m.mu.Unlock()

	m.log.Log(selected, logger.DetailWarn)
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

func (m *Manager) GetMappings(ctx context.Context, send ResponseSender) error {
	s, err := m.connected()
	if err != nil {
		return err
	}
	provider, ok := s.DB.(db.MappingsProvider)
	if !ok {
		return NewError(fmt.Sprintf("Mappings are not available for %s", db.DriverDisplayName(s.Config.Dialect)))
	}
	mappings, err := provider.GetMappings()
	if err != nil {
		return err
	}
	send(map[string]interface{}{
		"error":    nil,
		"mappings": mappings,
	}, 200)
	return nil
}

// CloseAll closes every open datastore.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.DB != nil {
			_ = s.DB.Close()
			s.DB = nil
		}
	}
}
