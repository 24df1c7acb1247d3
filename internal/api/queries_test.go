package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"dbconnector/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoColumns = "SELECT 1+1 AS A, 1+2 AS B"

// withUsers stores plotly API keys for usernames.
func withUsers(t *testing.T, ts *testServer, usernames ...string) {
	t.Helper()
	users := make([]map[string]string, 0, len(usernames))
	for _, username := range usernames {
		users = append(users, map[string]string{"username": username, "apiKey": username + "-key"})
	}
	w := ts.do(t, http.MethodPatch, "/settings", map[string]interface{}{"USERS": users})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCreateQueryRequiresTarget(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/queries", map[string]interface{}{"connectionId": "mock-1", "query": twoColumns})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Bad request", errorMessage(t, w))

	w = ts.do(t, http.MethodPost, "/queries", map[string]interface{}{
		"fid": "chris:10", "connectionId": "mock-1", "query": twoColumns,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "refreshInterval or cronInterval is required", errorMessage(t, w))

	w = ts.do(t, http.MethodPost, "/queries", map[string]interface{}{
		"fid": "chris:10", "connectionId": "mock-1", "query": twoColumns, "refreshInterval": 60,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "uids are required to update a grid", errorMessage(t, w))
}

func TestCreateQueryWithNewGrid(t *testing.T) {
	ts := newTestServer(t, nil)
	id := createMockConnection(t, ts)

	w := ts.do(t, http.MethodPost, "/queries", map[string]interface{}{
		"filename":        "report",
		"connectionId":    id,
		"query":           twoColumns,
		"refreshInterval": 60,
		"requestor":       "chris",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created store.Query
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "chris:20", created.Fid)
	assert.Equal(t, []string{"ua", "ub"}, created.Uids)
	require.NotNil(t, created.LastExecution)
	assert.Equal(t, store.StatusOK, created.LastExecution.Status)

	assert.True(t, ts.scheduler.Scheduled("chris:20"))
	w = ts.do(t, http.MethodGet, "/queries/chris:20", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, ts.plotly.calls(), "POST /v2/grids")
}

func TestCreateQueryUpdatesExistingGrid(t *testing.T) {
	ts := newTestServer(t, nil)
	withUsers(t, ts, "chris", "eve")
	id := createMockConnection(t, ts)

	body := map[string]interface{}{
		"fid":             "chris:10",
		"uids":            []string{"ua", "ub"},
		"connectionId":    id,
		"query":           twoColumns,
		"refreshInterval": 60,
		"requestor":       "chris",
		"name":            "daily",
	}
	w := ts.do(t, http.MethodPost, "/queries", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, ts.plotly.calls(), "PUT /v2/grids/chris:10/col")

	delete(body, "name")
	body["cronInterval"] = "0 * * * *"
	w = ts.do(t, http.MethodPost, "/queries", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	saved, err := ts.queries.Get("chris:10")
	require.NoError(t, err)
	assert.Equal(t, "daily", saved.Name)
	assert.Equal(t, "0 * * * *", saved.CronInterval)
	require.NotNil(t, saved.LastExecution)
	assert.Equal(t, store.StatusOK, saved.LastExecution.Status)

	body["requestor"] = "eve"
	w = ts.do(t, http.MethodPost, "/queries", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Permission denied", errorMessage(t, w))
	saved, err = ts.queries.Get("chris:10")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, saved.LastExecution.Status)
	assert.Equal(t, "Permission denied", saved.LastExecution.ErrorMessage)
}

func TestCreateQueryPermissionErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	id := createMockConnection(t, ts)
	body := map[string]interface{}{
		"fid":             "alice:3",
		"uids":            []string{"ua"},
		"connectionId":    id,
		"query":           twoColumns,
		"refreshInterval": 60,
		"requestor":       "chris",
	}

	w := ts.do(t, http.MethodPost, "/queries", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessage(t, w), "Unauthenticated")

	withUsers(t, ts, "chris")
	w = ts.do(t, http.MethodPost, "/queries", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Not found", errorMessage(t, w))

	_, err := ts.queries.Get("alice:3")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteQuery(t *testing.T) {
	ts := newTestServer(t, nil)
	id := createMockConnection(t, ts)

	w := ts.do(t, http.MethodPost, "/queries", map[string]interface{}{
		"filename": "report", "connectionId": id, "query": twoColumns, "refreshInterval": 60,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/queries", nil)
	var listed []store.Query
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	w = ts.do(t, http.MethodDelete, "/queries/chris:20", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, ts.scheduler.Scheduled("chris:20"))

	w = ts.do(t, http.MethodDelete, "/queries/chris:20", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodGet, "/queries/chris:20", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
