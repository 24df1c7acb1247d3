package plotly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout = 60 * time.Second
	clientPlatform = "db-connect"
)

// Credentials authenticate a request as one Plotly user: basic auth with
// an API key, or a bearer OAuth access token.
type Credentials struct {
	Username    string
	APIKey      string
	AccessToken string
}

func (c Credentials) authorization() string {
	switch {
	case c.APIKey != "":
		return "Basic " + basicAuth(c.Username, c.APIKey)
	case c.AccessToken != "":
		return "Bearer " + c.AccessToken
	}
	return ""
}

// Valid reports whether c can authenticate anything.
func (c Credentials) Valid() bool {
	return c.Username != "" && (c.APIKey != "" || c.AccessToken != "")
}

// StatusError is a non-2xx answer from Plotly.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Failed request '%s'. Status: %d. Body: %s", e.Path, e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from Plotly.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return asStatusError(err, &statusErr) && statusErr.Status == http.StatusNotFound
}

type Client struct {
	apiURL string
	webURL string
	http   *http.Client
	log    *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient talks to the v2 API under apiURL (PLOTLY_API_URL) and to the
// datacache under webURL (PLOTLY_URL).
func NewClient(apiURL, webURL string, opts ...Option) *Client {
	c := &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		webURL: strings.TrimRight(webURL, "/"),
		http:   &http.Client{Timeout: defaultTimeout},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) APIURL() string {
	return c.apiURL
}

// request calls /v2/<relativeURL> and decodes a JSON answer into out.
func (c *Client) request(ctx context.Context, method, relativeURL string, body interface{}, creds Credentials, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+"/v2/"+relativeURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Plotly-Client-Platform", clientPlatform)
	if auth := creds.authorization(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.log.Debug("plotly request",
		zap.String("method", method),
		zap.String("path", relativeURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Path: relativeURL, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("Error parsing response at %s: %w", relativeURL, err)
	}
	return nil
}

type User struct {
	Username string `json:"username"`
}

// CurrentUser resolves the owner of an OAuth access token.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (User, error) {
	var user User
	err := c.request(ctx, http.MethodGet, "users/current", nil, Credentials{AccessToken: accessToken}, &user)
	return user, err
}

type Collaborator struct {
	Username string `json:"username"`
}

type Column struct {
	Name string `json:"name"`
	UID  string `json:"uid"`
}

// Grid is the grid metadata returned by GET /v2/grids/:fid.
type Grid struct {
	Fid           string `json:"fid"`
	Filename      string `json:"filename"`
	Owner         string `json:"owner"`
	Collaborators struct {
		Results []Collaborator `json:"results"`
	} `json:"collaborators"`
	Cols []Column `json:"cols,omitempty"`
}

func (c *Client) GetGrid(ctx context.Context, fid string, creds Credentials) (Grid, error) {
	var grid Grid
	err := c.request(ctx, http.MethodGet, "grids/"+fid, nil, creds, &grid)
	return grid, err
}

// CheckWritePermission succeeds when requestor owns fid or collaborates
// on it.
func (c *Client) CheckWritePermission(ctx context.Context, fid, requestor string, creds Credentials) error {
	if !creds.Valid() {
		return fmt.Errorf("Unauthenticated: Attempting to update grid %s but the authentication credentials for the user %q do not exist.", fid, requestor)
	}
	grid, err := c.GetGrid(ctx, fid, creds)
	if err != nil {
		var statusErr *StatusError
		if asStatusError(err, &statusErr) {
			switch statusErr.Status {
			case http.StatusNotFound:
				return fmt.Errorf("Not found")
			case http.StatusUnauthorized:
				return fmt.Errorf("Unauthenticated")
			}
		}
		return err
	}
	if owner, _, _ := strings.Cut(fid, ":"); owner == requestor {
		return nil
	}
	for _, collaborator := range grid.Collaborators.Results {
		if collaborator.Username == requestor {
			return nil
		}
	}
	return fmt.Errorf("Permission denied")
}

// UpdateGrid replaces the data of the columns uids of fid with columns.
func (c *Client) UpdateGrid(ctx context.Context, fid string, uids []string, columns [][]interface{}, creds Credentials) error {
	cols := make([]map[string]interface{}, 0, len(columns))
	for _, column := range columns {
		cols = append(cols, map[string]interface{}{"data": column})
	}
	encoded, err := json.Marshal(cols)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("grids/%s/col?uid=%s", fid, url.QueryEscape(strings.Join(uids, ",")))
	return c.request(ctx, http.MethodPut, path, map[string]string{"cols": string(encoded)}, creds, nil)
}

// CreateGrid uploads a new grid and returns its fid and column uids in
// column order.
func (c *Client) CreateGrid(ctx context.Context, filename string, columnNames []string, columns [][]interface{}, creds Credentials) (string, []string, error) {
	cols := make(map[string]interface{}, len(columnNames))
	for i, name := range columnNames {
		var data []interface{}
		if i < len(columns) {
			data = columns[i]
		}
		cols[name] = map[string]interface{}{"data": data, "order": i}
	}
	body := map[string]interface{}{
		"data":           map[string]interface{}{"cols": cols},
		"world_readable": true,
		"parent":         -1,
		"filename":       filename,
	}
	var created struct {
		File Grid `json:"file"`
	}
	if err := c.request(ctx, http.MethodPost, "grids", body, creds, &created); err != nil {
		return "", nil, err
	}
	uidByName := make(map[string]string, len(created.File.Cols))
	for _, col := range created.File.Cols {
		uidByName[col.Name] = col.UID
	}
	uids := make([]string, 0, len(columnNames))
	for _, name := range columnNames {
		uids = append(uids, uidByName[name])
	}
	return created.File.Fid, uids, nil
}

// NewDatacache posts payload to the Plotly web app datacache. Credentials
// are optional there.
func (c *Client) NewDatacache(ctx context.Context, payload, contentType string, creds Credentials) (map[string]interface{}, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := [][2]string{{"type", contentType}, {"origin", "Falcon"}, {"payload", payload}}
	if creds.Username != "" {
		fields = append(fields, [2]string{"username", creds.Username})
	}
	for _, field := range fields {
		if err := form.WriteField(field[0], field[1]); err != nil {
			return nil, err
		}
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webURL+"/datacache", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", creds.authorization())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Path: "datacache", Status: resp.StatusCode, Body: string(raw)}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("Error parsing response at datacache: %w", err)
	}
	return out, nil
}
