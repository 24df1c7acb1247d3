package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"dbconnector/internal/connection"
)

// DrillDB runs SQL through the Apache Drill REST endpoint.
type DrillDB struct {
	config  connection.ConnectionConfig
	baseURL string
	client  *http.Client
}

type drillQueryResponse struct {
	Columns      []string                 `json:"columns"`
	Rows         []map[string]interface{} `json:"rows"`
	ErrorMessage string                   `json:"errorMessage"`
	QueryState   string                   `json:"queryState"`
}

func (d *DrillDB) Connect(config connection.ConnectionConfig) error {
	d.config = config
	d.baseURL = elasticsearchBaseURL(config)
	if d.client == nil {
		d.client = &http.Client{Timeout: requestTimeout(config)}
	}
	return d.Ping()
}

func (d *DrillDB) Close() error {
	d.client = nil
	return nil
}

func (d *DrillDB) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), getConnectTimeout(d.config))
	defer cancel()
	return d.do(ctx, http.MethodGet, "status.json", nil, nil)
}

func (d *DrillDB) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if d.client == nil {
		return fmt.Errorf("connection not open")
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+"/"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var failed drillQueryResponse
		if json.Unmarshal(raw, &failed) == nil && failed.ErrorMessage != "" {
			return fmt.Errorf("%s", failed.ErrorMessage)
		}
		return fmt.Errorf("apache drill %s: %s", path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (d *DrillDB) Query(query string) ([]map[string]interface{}, []string, error) {
	return d.QueryContext(context.Background(), query)
}

func (d *DrillDB) QueryContext(ctx context.Context, query string) ([]map[string]interface{}, []string, error) {
	var resp drillQueryResponse
	body := map[string]string{"queryType": "SQL", "query": query}
	if err := d.do(ctx, http.MethodPost, "query.json", body, &resp); err != nil {
		return nil, nil, err
	}
	if resp.ErrorMessage != "" {
		return nil, nil, fmt.Errorf("%s", resp.ErrorMessage)
	}
	if resp.Rows == nil {
		resp.Rows = []map[string]interface{}{}
	}
	return resp.Rows, resp.Columns, nil
}

func (d *DrillDB) Exec(query string) (int64, error) {
	rows, _, err := d.Query(query)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (d *DrillDB) GetDatabases() ([]string, error) {
	rows, fields, err := d.Query("SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	return FirstColumn(rows, fields), nil
}

func (d *DrillDB) GetTables(dbName string) ([]string, error) {
	query := "SHOW TABLES"
	if strings.TrimSpace(dbName) != "" {
		query = fmt.Sprintf("SHOW TABLES IN %s", dbName)
	}
	rows, _, err := d.Query(query)
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, rowString(row, "TABLE_NAME"))
	}
	return tables, nil
}

// ListStorage returns the storage plugin configurations.
func (d *DrillDB) ListStorage() ([]map[string]interface{}, error) {
	var storage []map[string]interface{}
	if err := d.do(context.Background(), http.MethodGet, "storage.json", nil, &storage); err != nil {
		return nil, err
	}
	return storage, nil
}

// ListFiles lists the files of the first enabled s3 storage plugin.
func (d *DrillDB) ListFiles() ([]FileInfo, error) {
	storage, err := d.ListStorage()
	if err != nil {
		return nil, err
	}
	plugin := ""
	for _, entry := range storage {
		cfg, _ := entry["config"].(map[string]interface{})
		conn := stringify(cfg["connection"])
		enabled, _ := cfg["enabled"].(bool)
		if enabled && strings.HasPrefix(conn, "s3") {
			plugin = stringify(entry["name"])
			break
		}
	}
	if plugin == "" {
		return []FileInfo{}, nil
	}
	rows, _, err := d.Query(fmt.Sprintf("SHOW FILES IN %s", plugin))
	if err != nil {
		return nil, err
	}
	files := make([]FileInfo, 0, len(rows))
	for _, row := range rows {
		info := FileInfo{Key: rowString(row, "name"), LastModified: rowString(row, "lastModified")}
		fmt.Sscan(rowString(row, "length"), &info.Size)
		files = append(files, info)
	}
	return files, nil
}

func (d *DrillDB) Preview(table string, limit int) ([]map[string]interface{}, []string, error) {
	return d.Query(fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, limit))
}
