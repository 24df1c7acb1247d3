package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"dbconnector/internal/connection"
)

const (
	esScrollKeepAlive = "1m"
	esMaxResultSize   = 10000
)

// ElasticsearchDB talks to the Elasticsearch REST API directly.
// Indices play the part of databases and mapping types the part of tables.
type ElasticsearchDB struct {
	config  connection.ConnectionConfig
	baseURL string
	client  *http.Client
}

// esQuery is the JSON document accepted by Query.
type esQuery struct {
	Index string                 `json:"index"`
	Type  string                 `json:"type"`
	Body  map[string]interface{} `json:"body"`
}

func (e *ElasticsearchDB) Connect(config connection.ConnectionConfig) error {
	e.config = config
	e.baseURL = elasticsearchBaseURL(config)
	if e.client == nil {
		e.client = &http.Client{Timeout: requestTimeout(config)}
	}
	return e.Ping()
}

func elasticsearchBaseURL(config connection.ConnectionConfig) string {
	base := strings.TrimSpace(config.URL)
	if base == "" {
		base = strings.TrimSpace(config.Host)
	}
	if base == "" {
		base = "localhost"
	}
	if !strings.Contains(base, "://") {
		scheme := "http"
		if config.SSL {
			scheme = "https"
		}
		base = scheme + "://" + base
	}
	base = strings.TrimRight(base, "/")
	if config.Port > 0 && !hasExplicitPort(base) {
		base = fmt.Sprintf("%s:%d", base, config.Port)
	}
	return base
}

func hasExplicitPort(base string) bool {
	rest := base[strings.Index(base, "://")+3:]
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.Contains(rest, ":")
}

func requestTimeout(config connection.ConnectionConfig) time.Duration {
	if config.RequestTimeout > 0 {
		return time.Duration(config.RequestTimeout) * time.Second
	}
	return 60 * time.Second
}

func (e *ElasticsearchDB) request(ctx context.Context, method, path string, query string, body interface{}, out interface{}) error {
	if e.client == nil {
		return fmt.Errorf("connection not open")
	}
	url := e.baseURL + "/" + strings.TrimLeft(path, "/") + "?format=json"
	if query != "" {
		url += "&" + query
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if e.config.Username != "" && e.config.Password != "" {
		req.SetBasicAuth(e.config.Username, e.config.Password)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("elasticsearch %s %s: %s", method, path, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (e *ElasticsearchDB) Close() error {
	e.client = nil
	return nil
}

func (e *ElasticsearchDB) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), getConnectTimeout(e.config))
	defer cancel()
	return e.request(ctx, http.MethodGet, "_cat/indices", "", nil, nil)
}

// GetDatabases lists index names.
func (e *ElasticsearchDB) GetDatabases() ([]string, error) {
	var indices []map[string]interface{}
	if err := e.request(context.Background(), http.MethodGet, "_cat/indices", "", nil, &indices); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(indices))
	for _, idx := range indices {
		if name := stringify(idx["index"]); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetTables lists the mapping types of an index. Typeless indices report
// their single "_doc" type.
func (e *ElasticsearchDB) GetTables(index string) ([]string, error) {
	mappings, err := e.GetMappings()
	if err != nil {
		return nil, err
	}
	types := esTypeMappings(mappings, index)
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (e *ElasticsearchDB) GetMappings() (map[string]interface{}, error) {
	var mappings map[string]interface{}
	if err := e.request(context.Background(), http.MethodGet, "_all/_mappings", "", nil, &mappings); err != nil {
		return nil, err
	}
	return mappings, nil
}

func esTypeMappings(mappings map[string]interface{}, index string) map[string]map[string]interface{} {
	out := map[string]map[string]interface{}{}
	indexEntry, _ := mappings[index].(map[string]interface{})
	typed, _ := indexEntry["mappings"].(map[string]interface{})
	if typed == nil {
		return out
	}
	if props, ok := typed["properties"].(map[string]interface{}); ok {
		out["_doc"] = props
		return out
	}
	for name, def := range typed {
		body, _ := def.(map[string]interface{})
		props, _ := body["properties"].(map[string]interface{})
		out[name] = props
	}
	return out
}

func (e *ElasticsearchDB) Query(query string) ([]map[string]interface{}, []string, error) {
	return e.QueryContext(context.Background(), query)
}

func (e *ElasticsearchDB) QueryContext(ctx context.Context, query string) ([]map[string]interface{}, []string, error) {
	var q esQuery
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return nil, nil, fmt.Errorf("invalid elasticsearch query: %w", err)
	}
	if q.Index == "" {
		return nil, nil, fmt.Errorf("invalid elasticsearch query: index is required")
	}
	if q.Body == nil {
		q.Body = map[string]interface{}{}
	}

	var fields []string
	if mappings, err := e.GetMappings(); err == nil {
		props := esTypeMappings(mappings, q.Index)[esTypeOrDoc(q.Type)]
		fields = sortedKeys(props)
	}

	requested := esRequestedSize(q.Body)
	path := q.Index + "/_search"
	if q.Type != "" && q.Type != "_doc" {
		path = q.Index + "/" + q.Type + "/_search"
	}

	if _, hasAggs := q.Body["aggs"]; hasAggs {
		var result map[string]interface{}
		if err := e.request(ctx, http.MethodPost, path, "", q.Body, &result); err != nil {
			return nil, nil, err
		}
		rows, cols := flattenAggregations(result["aggregations"])
		return rows, cols, nil
	}

	scroll := requested > esMaxResultSize
	params := ""
	if scroll {
		params = "scroll=" + esScrollKeepAlive
		q.Body["size"] = esMaxResultSize
	}
	var page esSearchResponse
	if err := e.request(ctx, http.MethodPost, path, params, q.Body, &page); err != nil {
		return nil, nil, err
	}
	hits := page.Hits.Hits
	for scroll && len(page.Hits.Hits) > 0 && len(hits) < requested && page.ScrollID != "" {
		next := esSearchResponse{}
		body := map[string]interface{}{"scroll": esScrollKeepAlive, "scroll_id": page.ScrollID}
		if err := e.request(ctx, http.MethodPost, "_search/scroll", "", body, &next); err != nil {
			return nil, nil, err
		}
		page = next
		hits = append(hits, page.Hits.Hits...)
	}
	if scroll && len(hits) > requested {
		hits = hits[:requested]
	}

	rows := make([]map[string]interface{}, 0, len(hits))
	for _, hit := range hits {
		rows = append(rows, flattenSource("", hit.Source, map[string]interface{}{}))
	}
	if len(fields) == 0 && len(rows) > 0 {
		fields = sortedKeys(rows[0])
	}
	return rows, fields, nil
}

type esSearchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func esTypeOrDoc(t string) string {
	if t == "" {
		return "_doc"
	}
	return t
}

func esRequestedSize(body map[string]interface{}) int {
	switch v := body["size"].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func flattenSource(prefix string, source map[string]interface{}, out map[string]interface{}) map[string]interface{} {
	for key, value := range source {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			flattenSource(name, nested, out)
			continue
		}
		out[name] = value
	}
	return out
}

// flattenAggregations turns the first bucket aggregation into rows of
// (key, metric...) pairs.
func flattenAggregations(raw interface{}) ([]map[string]interface{}, []string) {
	aggs, _ := raw.(map[string]interface{})
	for _, name := range sortedKeys(aggs) {
		agg, _ := aggs[name].(map[string]interface{})
		buckets, ok := agg["buckets"].([]interface{})
		if !ok {
			continue
		}
		fields := []string{name}
		rows := make([]map[string]interface{}, 0, len(buckets))
		for _, b := range buckets {
			bucket, _ := b.(map[string]interface{})
			row := map[string]interface{}{name: bucket["key"]}
			for _, sub := range sortedKeys(bucket) {
				metric, ok := bucket[sub].(map[string]interface{})
				if !ok {
					continue
				}
				if value, ok := metric["value"]; ok {
					row[sub] = value
					if len(rows) == 0 {
						fields = append(fields, sub)
					}
				}
			}
			rows = append(rows, row)
		}
		return rows, fields
	}
	return []map[string]interface{}{}, []string{}
}

func (e *ElasticsearchDB) Exec(string) (int64, error) {
	return 0, fmt.Errorf("exec is not supported for %s", DriverDisplayName(connection.DialectElasticsearch))
}

// Preview returns the first documents of an index. table is "index" or
// "index/type".
func (e *ElasticsearchDB) Preview(table string, limit int) ([]map[string]interface{}, []string, error) {
	index, typ := table, ""
	if idx := strings.IndexByte(table, '/'); idx >= 0 {
		index, typ = table[:idx], table[idx+1:]
	}
	q, _ := json.Marshal(esQuery{Index: index, Type: typ, Body: map[string]interface{}{"size": limit}})
	return e.Query(string(q))
}
