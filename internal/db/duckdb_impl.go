//go:build connector_duckdb_driver && cgo && (duckdb_use_lib || duckdb_use_static_lib || (darwin && (amd64 || arm64)) || (linux && (amd64 || arm64)) || (windows && amd64))

package db

import (
	"fmt"
	"strings"

	"dbconnector/internal/connection"

	_ "github.com/duckdb/duckdb-go/v2"
)

type DuckDB struct {
	sqlDatabase
}

func (d *DuckDB) Connect(config connection.ConnectionConfig) error {
	d.dialect = connection.DialectDuckDB
	_ = d.Close()

	dsn := strings.TrimSpace(config.Storage)
	if dsn == "" {
		dsn = strings.TrimSpace(config.Database)
	}
	if dsn == "" {
		dsn = ":memory:"
	}
	return d.open("duckdb", dsn, config)
}

func (d *DuckDB) GetDatabases() ([]string, error) {
	data, _, err := d.Query("PRAGMA database_list")
	if err != nil {
		return []string{"main"}, nil
	}

	seen := map[string]struct{}{}
	var names []string
	for _, row := range data {
		name := strings.TrimSpace(rowString(row, "name", "database_name", "database"))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if len(names) == 0 {
		names = []string{"main"}
	}
	return names, nil
}

func (d *DuckDB) GetTables(dbName string) ([]string, error) {
	schema, _ := normalizeDuckDBSchemaAndTable(dbName, "")
	query := fmt.Sprintf(
		"SELECT table_name FROM information_schema.tables WHERE table_schema = '%s' ORDER BY table_name",
		escapeDuckDBLiteral(schema),
	)
	data, fields, err := d.Query(query)
	if err != nil {
		return nil, err
	}
	return FirstColumn(data, fields), nil
}

func (d *DuckDB) Preview(table string, limit int) ([]map[string]interface{}, []string, error) {
	schema, name := normalizeDuckDBSchemaAndTable("", table)
	return d.Query(fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteDuckDBQualifiedTable(schema, name), limit))
}

func normalizeDuckDBSchemaAndTable(dbName string, tableName string) (string, string) {
	schema := strings.TrimSpace(dbName)
	table := strings.TrimSpace(tableName)
	if parts := strings.SplitN(table, ".", 2); len(parts) == 2 {
		left := strings.TrimSpace(parts[0])
		right := strings.TrimSpace(parts[1])
		if left != "" && right != "" {
			return normalizeDuckDBIdentifier(left), normalizeDuckDBIdentifier(right)
		}
	}
	if schema == "" {
		schema = "main"
	}
	return normalizeDuckDBIdentifier(schema), normalizeDuckDBIdentifier(table)
}

func normalizeDuckDBIdentifier(raw string) string {
	text := strings.TrimSpace(raw)
	if len(text) >= 2 {
		first := text[0]
		last := text[len(text)-1]
		if (first == '"' && last == '"') || (first == '`' && last == '`') {
			text = strings.TrimSpace(text[1 : len(text)-1])
		}
	}
	return text
}

func quoteDuckDBIdentifier(raw string) string {
	text := normalizeDuckDBIdentifier(raw)
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

func quoteDuckDBQualifiedTable(schema string, table string) string {
	s := strings.TrimSpace(schema)
	t := strings.TrimSpace(table)
	if s == "" {
		return quoteDuckDBIdentifier(t)
	}
	return quoteDuckDBIdentifier(s) + "." + quoteDuckDBIdentifier(t)
}

func escapeDuckDBLiteral(raw string) string {
	return strings.ReplaceAll(raw, "'", "''")
}
