package db

import (
	"fmt"

	"dbconnector/internal/connection"
)

// MockQueryError is the statement MockDB rejects.
const MockQueryError = "ERROR"

// MockDB answers every call with fixed data and never touches a network.
type MockDB struct {
	connected bool
}

func (m *MockDB) Connect(connection.ConnectionConfig) error {
	m.connected = true
	return nil
}

func (m *MockDB) Close() error {
	m.connected = false
	return nil
}

func (m *MockDB) Ping() error {
	if !m.connected {
		return fmt.Errorf("connection not open")
	}
	return nil
}

func mockRows() ([]map[string]interface{}, []string) {
	fields := []string{"COLUMN_A", "COLUMN_B", "COLUMN_C"}
	rows := []map[string]interface{}{
		{"COLUMN_A": "ROW_1", "COLUMN_B": "1.112", "COLUMN_C": "12"},
		{"COLUMN_A": "ROW_2", "COLUMN_B": "2.2", "COLUMN_C": "98"},
		{"COLUMN_A": "ROW_3", "COLUMN_B": "3.12", "COLUMN_C": "62"},
	}
	return rows, fields
}

func (m *MockDB) Query(query string) ([]map[string]interface{}, []string, error) {
	if query == MockQueryError {
		return nil, nil, fmt.Errorf("Syntax Error in Query")
	}
	if query == "SELECT 1+1 AS A, 1+2 AS B" {
		return []map[string]interface{}{{"A": "2", "B": "3"}}, []string{"A", "B"}, nil
	}
	rows, fields := mockRows()
	return rows, fields, nil
}

func (m *MockDB) Exec(query string) (int64, error) {
	if query == MockQueryError {
		return 0, fmt.Errorf("Syntax Error in Query")
	}
	return 0, nil
}

func (m *MockDB) GetDatabases() ([]string, error) {
	return []string{"DATABASE_A", "DATABASE_B"}, nil
}

func (m *MockDB) GetTables(string) ([]string, error) {
	return []string{"TABLE_A", "TABLE_B", "TABLE_C", "TABLE_D"}, nil
}

func (m *MockDB) Preview(string, int) ([]map[string]interface{}, []string, error) {
	rows, fields := mockRows()
	return rows, fields, nil
}

func (m *MockDB) ListFiles() ([]FileInfo, error) {
	return []FileInfo{
		{Key: "A.csv", Size: 151650, LastModified: "2016-10-09T17:29:49.000Z"},
		{Key: "B.csv", Size: 151650, LastModified: "2016-10-09T17:29:49.000Z"},
	}, nil
}

func (m *MockDB) ListStorage() ([]map[string]interface{}, error) {
	return []map[string]interface{}{
		{
			"name": "s3",
			"config": map[string]interface{}{
				"type":       "file",
				"enabled":    true,
				"connection": "s3a://plotly-s3-connector-test",
				"formats":    map[string]interface{}{"parquet": map[string]interface{}{"type": "parquet"}},
			},
		},
	}, nil
}

func (m *MockDB) GetMappings() (map[string]interface{}, error) {
	return map[string]interface{}{
		"test-mappings": map[string]interface{}{
			"mappings": map[string]interface{}{
				"TABLE_A": map[string]interface{}{
					"properties": map[string]interface{}{
						"COLUMN_A": map[string]interface{}{"type": "string"},
						"COLUMN_B": map[string]interface{}{"type": "float"},
						"COLUMN_C": map[string]interface{}{"type": "integer"},
					},
				},
				"TABLE_B": map[string]interface{}{
					"properties": map[string]interface{}{
						"COLUMN_M": map[string]interface{}{"type": "string"},
						"COLUMN_N": map[string]interface{}{"type": "float"},
						"COLUMN_O": map[string]interface{}{"type": "integer"},
					},
				},
			},
		},
	}, nil
}

func (m *MockDB) GetSchemas() ([]connection.ColumnDefinitionWithTable, error) {
	return []connection.ColumnDefinitionWithTable{
		{TableName: "TABLE_A", Name: "COLUMN_A", Type: "string"},
		{TableName: "TABLE_A", Name: "COLUMN_B", Type: "float"},
		{TableName: "TABLE_A", Name: "COLUMN_C", Type: "integer"},
	}, nil
}
