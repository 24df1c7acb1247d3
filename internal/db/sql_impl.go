package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"dbconnector/internal/connection"
	"dbconnector/internal/ssh"
	"dbconnector/internal/utils"

	"github.com/jmoiron/sqlx"
)

const defaultPingTimeout = 10 * time.Second

// ContextQuerier is implemented by stores that honour cancellation.
type ContextQuerier interface {
	QueryContext(ctx context.Context, query string) ([]map[string]interface{}, []string, error)
	ExecContext(ctx context.Context, query string) (int64, error)
}

// sqlDatabase carries everything the database/sql backed dialects share.
// The concrete types only build a DSN.
type sqlDatabase struct {
	conn           *sqlx.DB
	dialect        string
	config         connection.ConnectionConfig
	pingTimeout    time.Duration
	requestTimeout time.Duration // zero means no deadline
	tunnel         *ssh.Tunnel
}

// attachedSQLDB serves a *sql.DB the caller already opened.
type attachedSQLDB struct {
	sqlDatabase
}

func (a *attachedSQLDB) Connect(connection.ConnectionConfig) error {
	return a.Ping()
}

// FromSQL wraps an open handle, e.g. one created by go-sqlmock.
func FromSQL(conn *sql.DB, driverName, dialect string) Database {
	return &attachedSQLDB{sqlDatabase{
		conn:        sqlx.NewDb(conn, driverName),
		dialect:     normalizeDatabaseType(dialect),
		pingTimeout: defaultPingTimeout,
	}}
}

func getConnectTimeout(config connection.ConnectionConfig) time.Duration {
	if config.ConnectTimeout > 0 {
		return time.Duration(config.ConnectTimeout) * time.Second
	}
	return defaultPingTimeout
}

func getRequestTimeout(config connection.ConnectionConfig) time.Duration {
	if config.RequestTimeout > 0 {
		return time.Duration(config.RequestTimeout) * time.Second
	}
	return 0
}

// requestContext bounds one statement by the connection's requestTimeout.
func (s *sqlDatabase) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.requestTimeout)
}

func (s *sqlDatabase) open(driverName, dsn string, config connection.ConnectionConfig) error {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("failed to open connection: %w", err)
	}
	s.conn = db
	s.config = config
	s.pingTimeout = getConnectTimeout(config)
	s.requestTimeout = getRequestTimeout(config)

	if err := s.Ping(); err != nil {
		_ = s.Close()
		return fmt.Errorf("connection verification failed: %w", err)
	}
	return nil
}

// forwardIfNeeded opens the SSH tunnel for config and returns the address
// the driver should dial instead of config.Address().
func (s *sqlDatabase) forwardIfNeeded(config connection.ConnectionConfig) (string, error) {
	if !config.UseSSH {
		return config.Address(), nil
	}
	tunnel, err := ssh.Open(config.SSH, getConnectTimeout(config))
	if err != nil {
		return "", err
	}
	local, err := tunnel.Forward(config.Address())
	if err != nil {
		_ = tunnel.Close()
		return "", err
	}
	s.tunnel = tunnel
	return local, nil
}

func (s *sqlDatabase) Close() error {
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	if s.tunnel != nil {
		_ = s.tunnel.Close()
		s.tunnel = nil
	}
	return err
}

func (s *sqlDatabase) Ping() error {
	if s.conn == nil {
		return fmt.Errorf("connection not open")
	}
	timeout := s.pingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := utils.ContextWithTimeout(timeout)
	defer cancel()
	return s.conn.PingContext(ctx)
}

func (s *sqlDatabase) QueryContext(ctx context.Context, query string) ([]map[string]interface{}, []string, error) {
	if s.conn == nil {
		return nil, nil, fmt.Errorf("connection not open")
	}
	ctx, cancel := s.requestContext(ctx)
	defer cancel()
	rows, err := s.conn.QueryxContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *sqlDatabase) Query(query string) ([]map[string]interface{}, []string, error) {
	return s.QueryContext(context.Background(), query)
}

func (s *sqlDatabase) ExecContext(ctx context.Context, query string) (int64, error) {
	if s.conn == nil {
		return 0, fmt.Errorf("connection not open")
	}
	ctx, cancel := s.requestContext(ctx)
	defer cancel()
	res, err := s.conn.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlDatabase) Exec(query string) (int64, error) {
	return s.ExecContext(context.Background(), query)
}

func (s *sqlDatabase) GetDatabases() ([]string, error) {
	query, err := PresetQuery(PresetShowDatabases, s.dialect, "", "")
	if err != nil {
		return nil, err
	}
	data, fields, err := s.Query(query)
	if err != nil {
		return nil, err
	}
	return FirstColumn(data, fields), nil
}

func (s *sqlDatabase) GetTables(dbName string) ([]string, error) {
	query, err := PresetQuery(PresetShowTables, s.dialect, "", dbName)
	if err != nil {
		return nil, err
	}
	data, fields, err := s.Query(query)
	if err != nil {
		return nil, err
	}
	return FirstColumn(data, fields), nil
}

func (s *sqlDatabase) GetSchemas() ([]connection.ColumnDefinitionWithTable, error) {
	query := schemaQuery(s.dialect)
	if query == "" {
		return nil, fmt.Errorf("schemas are not available for %s", DriverDisplayName(s.dialect))
	}
	data, _, err := s.Query(query)
	if err != nil {
		return nil, err
	}
	columns := make([]connection.ColumnDefinitionWithTable, 0, len(data))
	for _, row := range data {
		tableName := rowString(row, "table_name")
		if tableName == "" {
			continue
		}
		columns = append(columns, connection.ColumnDefinitionWithTable{
			TableName: tableName,
			Name:      rowString(row, "column_name"),
			Type:      rowString(row, "data_type"),
		})
	}
	return columns, nil
}

func schemaQuery(dialect string) string {
	switch dialect {
	case connection.DialectMySQL, connection.DialectMariaDB:
		return `SELECT TABLE_NAME AS table_name, COLUMN_NAME AS column_name, DATA_TYPE AS data_type
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = DATABASE()
ORDER BY TABLE_NAME, ORDINAL_POSITION`
	case connection.DialectPostgres, connection.DialectRedshift:
		return `SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name, ordinal_position`
	case connection.DialectMSSQL:
		return `SELECT TABLE_NAME AS table_name, COLUMN_NAME AS column_name, DATA_TYPE AS data_type
FROM INFORMATION_SCHEMA.COLUMNS
ORDER BY TABLE_NAME, ORDINAL_POSITION`
	case connection.DialectSQLite, connection.DialectCSV:
		return `SELECT m.name AS table_name, p.name AS column_name, p.type AS data_type
FROM sqlite_master m JOIN pragma_table_info(m.name) p
WHERE m.type = 'table'
ORDER BY m.name, p.cid`
	case connection.DialectOracle:
		return `SELECT TABLE_NAME AS table_name, COLUMN_NAME AS column_name, DATA_TYPE AS data_type
FROM USER_TAB_COLUMNS
ORDER BY TABLE_NAME, COLUMN_ID`
	case connection.DialectDuckDB:
		return `SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY table_schema, table_name, ordinal_position`
	}
	return ""
}

func scanRows(rows *sqlx.Rows) ([]map[string]interface{}, []string, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	data := make([]map[string]interface{}, 0)
	for rows.Next() {
		row := make(map[string]interface{}, len(columns))
		if err := rows.MapScan(row); err != nil {
			return nil, nil, err
		}
		for key, value := range row {
			row[key] = normalizeValue(value)
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return data, columns, nil
}

func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return v
	}
}

func rowString(row map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		for rowKey, value := range row {
			if !strings.EqualFold(rowKey, key) || value == nil {
				continue
			}
			return stringify(value)
		}
	}
	return ""
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortedKeys(row map[string]interface{}) []string {
	keys := make([]string, 0, len(row))
	for key := range row {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func splitHostPort(addr string, fallbackPort int) (string, int) {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, fallbackPort
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return host, fallbackPort
	}
	return host, port
}
