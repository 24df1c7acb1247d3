package db

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"dbconnector/internal/connection"

	"github.com/jmoiron/sqlx"
)

// CSVTableName is the only table a CSV connection exposes.
const CSVTableName = "data"

const csvFetchTimeout = 60 * time.Second

var csvPlaceholderPattern = regexp.MustCompile(`(?i)\bFROM\s+\?`)

// CSVDB downloads a CSV file and serves it from an in-memory SQLite
// database so that plain SQL works against it.
type CSVDB struct {
	sqlDatabase
	client *http.Client
}

func (c *CSVDB) Connect(config connection.ConnectionConfig) error {
	c.dialect = connection.DialectCSV
	_ = c.Close()

	source := strings.TrimSpace(config.URL)
	if source == "" {
		source = strings.TrimSpace(config.Database)
	}
	if source == "" {
		return fmt.Errorf("CSV connection requires a url")
	}
	records, err := c.fetch(source, getConnectTimeout(config))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("CSV file %s is empty", source)
	}

	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		return fmt.Errorf("failed to open connection: %w", err)
	}
	// every statement must hit the same in-memory database
	db.SetMaxOpenConns(1)
	if err := loadCSVTable(db, records); err != nil {
		_ = db.Close()
		return err
	}
	c.conn = db
	c.config = config
	c.pingTimeout = getConnectTimeout(config)
	return nil
}

func (c *CSVDB) fetch(source string, timeout time.Duration) ([][]string, error) {
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("CSV url must be an http or https url: %s", source)
	}
	client := c.client
	if client == nil {
		client = &http.Client{Timeout: csvFetchTimeout}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+csvFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch CSV: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch CSV: %s", resp.Status)
	}
	body := resp.Body
	defer body.Close()

	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("CSV parse error: %w", err)
	}
	return records, nil
}

func loadCSVTable(db *sqlx.DB, records [][]string) error {
	headers := uniqueHeaders(records[0])
	rows := records[1:]
	numeric := make([]bool, len(headers))
	for i := range headers {
		numeric[i] = columnIsNumeric(rows, i)
	}

	defs := make([]string, len(headers))
	for i, h := range headers {
		kind := "TEXT"
		if numeric[i] {
			kind = "REAL"
		}
		defs[i] = fmt.Sprintf(`%s %s`, quoteSQLiteIdent(h), kind)
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", CSVTableName, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create CSV table: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(headers)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", CSVTableName, placeholders)
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(insert)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, record := range rows {
		args := make([]interface{}, len(headers))
		for i := range headers {
			if i >= len(record) || record[i] == "" {
				args[i] = nil
				continue
			}
			if numeric[i] {
				f, _ := parseFinite(record[i])
				args[i] = f
			} else {
				args[i] = record[i]
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("failed to load CSV row: %w", err)
		}
	}
	return tx.Commit()
}

func uniqueHeaders(raw []string) []string {
	seen := map[string]int{}
	out := make([]string, len(raw))
	for i, h := range raw {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

func columnIsNumeric(rows [][]string, idx int) bool {
	found := false
	for _, row := range rows {
		if idx >= len(row) || row[idx] == "" {
			continue
		}
		if _, ok := parseFinite(row[idx]); !ok {
			return false
		}
		found = true
	}
	return found
}

// parseFinite accepts numbers only. NaN and Inf spellings stay text.
func parseFinite(text string) (float64, bool) {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func quoteSQLiteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (c *CSVDB) rewrite(query string) string {
	return csvPlaceholderPattern.ReplaceAllString(query, "FROM "+CSVTableName)
}

func (c *CSVDB) QueryContext(ctx context.Context, query string) ([]map[string]interface{}, []string, error) {
	return c.sqlDatabase.QueryContext(ctx, c.rewrite(query))
}

func (c *CSVDB) Query(query string) ([]map[string]interface{}, []string, error) {
	return c.QueryContext(context.Background(), query)
}

func (c *CSVDB) GetDatabases() ([]string, error) {
	return []string{}, nil
}

func (c *CSVDB) GetTables(string) ([]string, error) {
	return []string{CSVTableName}, nil
}
