package db

import (
	"testing"

	"dbconnector/internal/connection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockDatabaseThroughFactory(t *testing.T) {
	database, err := NewDatabase(connection.DialectMock)
	require.NoError(t, err)
	require.Error(t, database.Ping())
	require.NoError(t, database.Connect(connection.ConnectionConfig{Dialect: connection.DialectMock}))
	require.NoError(t, database.Ping())

	tables, err := database.GetTables("")
	require.NoError(t, err)
	assert.Equal(t, []string{"TABLE_A", "TABLE_B", "TABLE_C", "TABLE_D"}, tables)

	rows, fields, err := database.Query("SELECT * FROM TABLE_A")
	require.NoError(t, err)
	grid := Parse(rows, fields)
	assert.Equal(t, []string{"COLUMN_A", "COLUMN_B", "COLUMN_C"}, grid.ColumnNames)
	assert.Equal(t, []interface{}{"ROW_2", "2.2", "98"}, grid.Rows[1])

	_, _, err = database.Query(MockQueryError)
	assert.EqualError(t, err, "Syntax Error in Query")
}

func TestMockImplementsOptionalCapabilities(t *testing.T) {
	var database Database = &MockDB{}
	_, ok := database.(Previewer)
	assert.True(t, ok)
	_, ok = database.(FileLister)
	assert.True(t, ok)
	_, ok = database.(StorageLister)
	assert.True(t, ok)
	_, ok = database.(MappingsProvider)
	assert.True(t, ok)
	_, ok = database.(SchemaLister)
	assert.True(t, ok)
}

func TestNewDatabaseUnknownDialect(t *testing.T) {
	_, err := NewDatabase("cassandra")
	assert.EqualError(t, err, "unsupported database type: cassandra")
}

func TestNormalizeDialectAliases(t *testing.T) {
	assert.Equal(t, connection.DialectPostgres, NormalizeDialect("PostgreSQL"))
	assert.Equal(t, connection.DialectMSSQL, NormalizeDialect("sqlserver"))
	assert.Equal(t, connection.DialectApacheDrill, NormalizeDialect("drill"))
	assert.Equal(t, connection.DialectElasticsearch, NormalizeDialect("es"))
}
