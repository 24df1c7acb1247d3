package db

import (
	"regexp"
	"strings"

	"dbconnector/internal/connection"
)

// EmptyTable stands in for a preview of a table without rows.
func EmptyTable() connection.Grid {
	return connection.Grid{
		ColumnNames: []string{"NA"},
		Rows:        [][]interface{}{{"empty table"}},
		NCols:       1,
		NRows:       1,
	}
}

// CommandExecuted is the result of a statement that returns no row set.
func CommandExecuted() connection.Grid {
	return connection.Grid{
		ColumnNames: []string{"message"},
		Rows:        [][]interface{}{{"command executed"}},
		NCols:       1,
		NRows:       1,
	}
}

// Parse lays rows out in fields order. A nil row set means the statement
// produced no result set at all.
func Parse(rows []map[string]interface{}, fields []string) connection.Grid {
	if rows == nil {
		return CommandExecuted()
	}
	if len(fields) == 0 && len(rows) > 0 {
		fields = sortedKeys(rows[0])
	}
	grid := connection.Grid{
		ColumnNames: append([]string{}, fields...),
		NCols:       len(fields),
		NRows:       len(rows),
		Rows:        make([][]interface{}, 0, len(rows)),
	}
	for _, row := range rows {
		values := make([]interface{}, len(fields))
		for i, field := range fields {
			values[i] = row[field]
		}
		grid.Rows = append(grid.Rows, values)
	}
	return grid
}

// FirstColumn collects the first column of every row, as returned by the
// SHOW DATABASES / SHOW TABLES style presets.
func FirstColumn(rows []map[string]interface{}, fields []string) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		var value interface{}
		if len(fields) > 0 {
			value = row[fields[0]]
		} else {
			for _, v := range row {
				value = v
				break
			}
		}
		out = append(out, stringify(value))
	}
	return out
}

var readStatementPattern = regexp.MustCompile(`(?is)^\s*(select|show|describe|desc|explain|with|pragma|values|table)\b`)

// IsReadStatement reports whether query returns a row set.
func IsReadStatement(query string) bool {
	return readStatementPattern.MatchString(stripLeadingComments(query))
}

func stripLeadingComments(query string) string {
	text := strings.TrimSpace(query)
	for {
		switch {
		case strings.HasPrefix(text, "--"):
			idx := strings.IndexByte(text, '\n')
			if idx < 0 {
				return ""
			}
			text = strings.TrimSpace(text[idx+1:])
		case strings.HasPrefix(text, "/*"):
			idx := strings.Index(text, "*/")
			if idx < 0 {
				return ""
			}
			text = strings.TrimSpace(text[idx+2:])
		default:
			return text
		}
	}
}
