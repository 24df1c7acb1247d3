package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dbconnector/internal/export"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const datacachePayload = "A,B\n1,2\n3,4\n"

func exportedFile(t *testing.T, ts *testServer, body map[string]interface{}, wantType string) string {
	t.Helper()
	require.Equal(t, wantType, body["type"])
	u, _ := body["url"].(string)
	require.True(t, strings.HasPrefix(u, "file://"), u)
	path := strings.TrimPrefix(u, "file://")
	assert.Equal(t, ts.storage, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "data_export_"))
	return path
}

func TestDatacacheCSV(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/datacache", map[string]string{"payload": datacachePayload, "type": "csv"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	path := exportedFile(t, ts, decode(t, w), "csv")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, datacachePayload, string(raw))
}

func TestDatacacheXLSX(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/datacache", map[string]string{"payload": datacachePayload, "type": "xlsx"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	path := exportedFile(t, ts, decode(t, w), "xlsx")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"A", "B"}, rows[0])
}

func TestDatacachePlot(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/datacache", map[string]string{"payload": `{"data":[]}`, "type": "plot"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"url":"https://plot.ly/datacache/1"}`, w.Body.String())
	assert.Contains(t, ts.plotly.calls(), "POST /datacache")
}
