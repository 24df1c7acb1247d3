package db

import (
	"errors"
	"fmt"
	"strings"

	"dbconnector/internal/connection"
)

const (
	PresetShowDatabases = "SHOW_DATABASES"
	PresetShowTables    = "SHOW_TABLES"
	PresetShow5Rows     = "SHOW5ROWS"
)

const PreviewRowLimit = 5

var ErrNoPresetQuery = errors.New("could not build a presetQuery")

// PresetQuery builds the dialect specific statement behind the databases,
// tables and preview tasks. database is only used by mssql previews.
func PresetQuery(kind, dialect, table, database string) (string, error) {
	dialect = normalizeDatabaseType(dialect)

	switch kind {
	case PresetShowDatabases:
		switch dialect {
		case connection.DialectMySQL, connection.DialectMariaDB:
			return "SHOW DATABASES", nil
		case connection.DialectPostgres, connection.DialectRedshift:
			return "SELECT datname AS database FROM pg_database WHERE datistemplate = false;", nil
		case connection.DialectMSSQL:
			return "SELECT name FROM Sys.Databases", nil
		case connection.DialectOracle:
			return "SELECT USERNAME FROM ALL_USERS", nil
		case connection.DialectDuckDB:
			return "SELECT schema_name FROM information_schema.schemata", nil
		}
	case PresetShowTables:
		switch dialect {
		case connection.DialectMySQL, connection.DialectMariaDB:
			return "SHOW TABLES", nil
		case connection.DialectPostgres, connection.DialectRedshift:
			return "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'", nil
		case connection.DialectMSSQL:
			return "SELECT TABLE_NAME FROM information_schema.tables", nil
		case connection.DialectSQLite, connection.DialectCSV:
			return `SELECT name FROM sqlite_master WHERE type="table"`, nil
		case connection.DialectOracle:
			return "SELECT TABLE_NAME FROM USER_TABLES", nil
		case connection.DialectDuckDB:
			return "SELECT table_name FROM information_schema.tables WHERE table_schema = 'main'", nil
		}
	case PresetShow5Rows:
		if strings.TrimSpace(table) == "" {
			return "", fmt.Errorf("%w: table name is empty", ErrNoPresetQuery)
		}
		switch dialect {
		case connection.DialectMySQL, connection.DialectMariaDB, connection.DialectSQLite,
			connection.DialectPostgres, connection.DialectRedshift, connection.DialectDuckDB,
			connection.DialectCSV:
			return fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, PreviewRowLimit), nil
		case connection.DialectMSSQL:
			return fmt.Sprintf("SELECT TOP %d * FROM %s.dbo.%s", PreviewRowLimit, database, table), nil
		case connection.DialectOracle:
			return fmt.Sprintf("SELECT * FROM %s FETCH FIRST %d ROWS ONLY", table, PreviewRowLimit), nil
		}
	}
	return "", ErrNoPresetQuery
}
