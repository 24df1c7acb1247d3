package db

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"dbconnector/internal/connection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "country,population,code\nFrance,67.1,FR\nChile,19.5,CL\nPeru,,PE\n"

func serveCSV(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCSVQueryWithPlaceholderTable(t *testing.T) {
	srv := serveCSV(t, sampleCSV)
	database := &CSVDB{}
	require.NoError(t, database.Connect(connection.ConnectionConfig{Dialect: connection.DialectCSV, URL: srv.URL}))
	defer database.Close()

	tables, err := database.GetTables("")
	require.NoError(t, err)
	assert.Equal(t, []string{CSVTableName}, tables)

	rows, fields, err := database.Query("SELECT country, population FROM ? WHERE population > 20")
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "population"}, fields)
	require.Len(t, rows, 1)
	assert.Equal(t, "France", rows[0]["country"])
	assert.Equal(t, 67.1, rows[0]["population"])
}

func TestCSVQueryByTableName(t *testing.T) {
	srv := serveCSV(t, sampleCSV)
	database := &CSVDB{}
	require.NoError(t, database.Connect(connection.ConnectionConfig{Dialect: connection.DialectCSV, URL: srv.URL}))
	defer database.Close()

	rows, _, err := database.Query("SELECT code FROM data ORDER BY code")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "CL", rows[0]["code"])
}

func TestCSVConnectFailsOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	err := (&CSVDB{}).Connect(connection.ConnectionConfig{Dialect: connection.DialectCSV, URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch CSV")
}

func TestCSVConnectRequiresURL(t *testing.T) {
	err := (&CSVDB{}).Connect(connection.ConnectionConfig{Dialect: connection.DialectCSV})
	assert.EqualError(t, err, "CSV connection requires a url")
}

func TestCSVConnectRejectsLocalSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	for _, source := range []string{path, "file://" + path, "ftp://example.com/a.csv", "http:///a.csv"} {
		err := (&CSVDB{}).Connect(connection.ConnectionConfig{Dialect: connection.DialectCSV, URL: source})
		require.Error(t, err, source)
		assert.Contains(t, err.Error(), "CSV url must be an http or https url", source)
	}
}

func TestCSVKeepsNonFiniteNumbersAsText(t *testing.T) {
	srv := serveCSV(t, "label,value\na,NaN\nb,Inf\nc,2\n")
	database := &CSVDB{}
	require.NoError(t, database.Connect(connection.ConnectionConfig{Dialect: connection.DialectCSV, URL: srv.URL}))
	defer database.Close()

	rows, _, err := database.Query("SELECT value FROM data ORDER BY label")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "NaN", rows[0]["value"])
	assert.Equal(t, "Inf", rows[1]["value"])
	assert.Equal(t, "2", rows[2]["value"])
}

func TestParseFinite(t *testing.T) {
	for _, text := range []string{"NaN", "nan", "Inf", "-Infinity", "+inf", "abc"} {
		_, ok := parseFinite(text)
		assert.False(t, ok, text)
	}
	f, ok := parseFinite("1e3")
	assert.True(t, ok)
	assert.Equal(t, 1000.0, f)
}

func TestUniqueHeaders(t *testing.T) {
	assert.Equal(t, []string{"a", "a_2", "column_3"}, uniqueHeaders([]string{"a", "a", " "}))
}
