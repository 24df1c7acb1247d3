package db

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"dbconnector/internal/connection"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	sqlDatabase
}

var hostPortPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]+:\d+$`)

func looksLikeHostPort(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	// C:\path or C:/path
	if len(trimmed) >= 2 && trimmed[1] == ':' {
		return false
	}
	return hostPortPattern.MatchString(trimmed)
}

// resolveSQLiteDSN picks the database file from storage, then database,
// then host.
func resolveSQLiteDSN(config connection.ConnectionConfig) (string, error) {
	for _, candidate := range []string{config.Storage, config.Database, config.Host} {
		path := strings.TrimSpace(candidate)
		if path == "" {
			continue
		}
		if looksLikeHostPort(path) {
			return "", fmt.Errorf("SQLite expects a local database file path, got %q", path)
		}
		return filepath.Clean(path), nil
	}
	return "", fmt.Errorf("SQLite storage path is empty")
}

func (s *SQLiteDB) Connect(config connection.ConnectionConfig) error {
	s.dialect = connection.DialectSQLite
	_ = s.Close()

	path, err := resolveSQLiteDSN(config)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("SQLite file not found: %s", path)
	}
	return s.open("sqlite", path, config)
}

// GetDatabases has no meaning for a single file store.
func (s *SQLiteDB) GetDatabases() ([]string, error) {
	return []string{"SQLITE database accessed"}, nil
}
