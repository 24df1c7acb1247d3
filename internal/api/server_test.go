package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"dbconnector/internal/db"
	"dbconnector/internal/ipc"
	"dbconnector/internal/logger"
	"dbconnector/internal/plotly"
	"dbconnector/internal/scheduler"
	"dbconnector/internal/session"
	"dbconnector/internal/settings"
	"dbconnector/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakePlotly answers the Plotly v2 API calls the server makes.
type fakePlotly struct {
	mu       sync.Mutex
	users    map[string]string // access token -> username
	owners   map[string]string // fid -> owner
	requests []string
}

func (f *fakePlotly) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	switch {
	case r.URL.Path == "/v2/users/current":
		token := r.Header.Get("Authorization")[len("Bearer "):]
		username, ok := f.users[token]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"bad token"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"username": username})
	case r.URL.Path == "/v2/grids" && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"file":{"fid":"chris:20","cols":[{"name":"A","uid":"ua"},{"name":"B","uid":"ub"}]}}`))
	case r.Method == http.MethodPut:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	case r.Method == http.MethodGet && len(r.URL.Path) > len("/v2/grids/"):
		fid := r.URL.Path[len("/v2/grids/"):]
		owner, ok := f.owners[fid]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Not found."}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"fid": fid, "owner": owner})
	case r.URL.Path == "/datacache":
		w.Write([]byte(`{"url":"https://plot.ly/datacache/1"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakePlotly) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

type testServer struct {
	*Server
	plotly  *fakePlotly
	storage string
}

func newTestServer(t *testing.T, env map[string]string) *testServer {
	t.Helper()
	fake := &fakePlotly{
		users:  map[string]string{"good-token": "chris"},
		owners: map[string]string{"chris:10": "chris"},
	}
	upstream := httptest.NewServer(fake)
	t.Cleanup(upstream.Close)
	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	vars := map[string]string{
		settings.EnvPrefix + "PLOTLY_API_DOMAIN":      u.Host,
		settings.EnvPrefix + "PLOTLY_API_SSL_ENABLED": "false",
		settings.EnvPrefix + "AUTH_ENABLED":           "false",
		settings.EnvPrefix + "ACCESS_TOKEN_SECRET":    "test-secret",
	}
	for k, v := range env {
		vars[settings.EnvPrefix+k] = v
	}
	dir := t.TempDir()
	cfg, err := settings.Load(
		settings.WithStoragePath(dir),
		settings.WithEnv(func(key string) (string, bool) {
			v, ok := vars[key]
			return v, ok
		}),
	)
	require.NoError(t, err)

	log := logger.Nop()
	pool := db.NewPool(nil)
	t.Cleanup(pool.CloseAll)
	connections := store.NewConnections(filepath.Join(dir, "connections.yaml"))
	queries := store.NewQueries(filepath.Join(dir, "queries.yaml"))
	handler := ipc.NewHandler(session.NewManager(session.Options{Logger: log}), log)
	sched := scheduler.New(scheduler.Options{
		Queries:     queries,
		Connections: connections,
		Pool:        pool,
		Plotly:      plotly.NewClient(upstream.URL, upstream.URL),
		Credentials: func(username string) plotly.Credentials {
			return plotly.Credentials{Username: username, APIKey: "key"}
		},
		Logger: log,
	})
	t.Cleanup(sched.Stop)

	srv := New(Options{
		Settings:    cfg,
		Logger:      log,
		Handler:     handler,
		Hub:         ipc.NewHub(handler, log, nil),
		Connections: connections,
		Queries:     queries,
		Tags:        store.NewTags(filepath.Join(dir, "tags.yaml")),
		Scheduler:   sched,
		Pool:        pool,
		Version:     "test",
	})
	return &testServer{Server: srv, plotly: fake, storage: dir}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	ts.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "no error object in %s", w.Body.String())
	message, _ := errObj["message"].(string)
	return message
}

func TestPingAndStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = ts.do(t, http.MethodGet, "/status", nil)
	assert.JSONEq(t, `{"status":"running","version":"test"}`, w.Body.String())
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)
	withOrigin := func(origin string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Origin", origin) }
	}

	w := ts.do(t, http.MethodOptions, "/connections", nil, withOrigin("https://plot.ly"))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://plot.ly", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, corsAllowMethods, w.Header().Get("Access-Control-Allow-Methods"))

	w = ts.do(t, http.MethodGet, "/ping", nil, withOrigin("https://evil.example"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	ts.AddAllowedOrigin("https://onprem.example/")
	w = ts.do(t, http.MethodGet, "/ping", nil, withOrigin("https://onprem.example"))
	assert.Equal(t, "https://onprem.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, ts.settings.Strings("ADDITIONAL_CORS_ALLOWED_ORIGINS"), "https://onprem.example")
}

func TestSettingsRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPatch, "/settings", map[string]interface{}{
		"USERS": []map[string]string{{"username": "chris", "apiKey": "secret"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/settings", nil)
	body := decode(t, w)
	assert.Equal(t, []interface{}{"chris"}, body["USERS"])
	assert.Equal(t, ts.settings.String("PLOTLY_API_URL"), body["PLOTLY_URL"])
	assert.NotContains(t, w.Body.String(), "secret")

	w = ts.do(t, http.MethodPatch, "/settings", map[string]interface{}{"NOPE": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Setting NOPE does not exist", errorMessage(t, w))

	w = ts.do(t, http.MethodGet, "/settings/urls", nil)
	assert.JSONEq(t, `{"http":"http://localhost:9494","https":""}`, w.Body.String())
}

func TestStartHTTPSWithoutCertificate(t *testing.T) {
	ts := newTestServer(t, nil)
	started, err := ts.StartHTTPS()
	require.NoError(t, err)
	assert.False(t, started)
}

func TestUnknownAPIVersion(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/v7/connect", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Api version [v7] is not implemented", errorMessage(t, w))

	w = ts.do(t, http.MethodGet, "/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDriversAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/drivers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var drivers []db.DriverStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &drivers))
	assert.NotEmpty(t, drivers)

	ts.do(t, http.MethodGet, "/v1/sessions", nil)
	w = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SESSIONS")
}
