package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	EnvPrefix        = "PLOTLY_CONNECTOR_"
	defaultAPIDomain = "api.plot.ly"
)

// User is an entry of the USERS setting.
type User struct {
	Username    string `json:"username" mapstructure:"username"`
	APIKey      string `json:"apiKey,omitempty" mapstructure:"apiKey"`
	AccessToken string `json:"accessToken,omitempty" mapstructure:"accessToken"`
}

func defaultStoragePath() string {
	if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
		return filepath.Join(home, ".plotly", "connector")
	}
	return filepath.Join(".plotly", "connector")
}

func defaultSettings() map[string]interface{} {
	return map[string]interface{}{
		"HEADLESS":                        false,
		"STORAGE_PATH":                    defaultStoragePath(),
		"AUTH_ENABLED":                    true,
		"PLOTLY_API_SSL_ENABLED":          true,
		"PLOTLY_API_DOMAIN":               defaultAPIDomain,
		"CERTIFICATE_LAST_UPDATED":        "",
		"CONNECTOR_HTTPS_DOMAIN":          "default",
		"USERS":                           []interface{}{},
		"ALLOWED_USERS":                   []interface{}{},
		"ACCESS_TOKEN":                    "",
		"ACCESS_TOKEN_AGE":                300,
		"ACCESS_TOKEN_SECRET":             "",
		"SSL_ENABLED":                     false,
		"WEB_BASE_PATHNAME":               "/",
		"ADDITIONAL_CORS_ALLOWED_ORIGINS": []interface{}{},
		"DEFAULT_CORS_ALLOWED_ORIGINS": []interface{}{
			"https://plot.ly",
			"https://stage.plot.ly",
			"https://local.plot.ly",
			"http://localhost:9494",
		},
		"PORT":                      9494,
		"PORT_HTTPS":                9495,
		"LOG_TO_STDOUT":             false,
		"IS_RUNNING_INSIDE_ON_PREM": false,
	}
}

var derivedSettingNames = map[string]struct{}{
	"PLOTLY_API_URL":       {},
	"PLOTLY_URL":           {},
	"CONNECTIONS_PATH":     {},
	"QUERIES_PATH":         {},
	"TAGS_PATH":            {},
	"LOG_PATH":             {},
	"SETTINGS_PATH":        {},
	"KEY_FILE":             {},
	"CERT_FILE":            {},
	"CORS_ALLOWED_ORIGINS": {},
}

// Settings resolves a setting from the environment (PLOTLY_CONNECTOR_<NAME>,
// JSON-decoded when possible), then settings.yaml, then the defaults.
type Settings struct {
	mu        sync.RWMutex
	v         *viper.Viper
	defaults  map[string]interface{}
	overrides map[string]interface{}
	lookupEnv func(string) (string, bool)
	listeners []func()
}

type Option func(*Settings)

// WithEnv replaces os.LookupEnv.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(s *Settings) {
		if lookup != nil {
			s.lookupEnv = lookup
		}
	}
}

// WithStoragePath overrides the STORAGE_PATH default.
func WithStoragePath(path string) Option {
	return func(s *Settings) {
		if strings.TrimSpace(path) != "" {
			s.defaults["STORAGE_PATH"] = path
		}
	}
}

// WithOverride pins name to value for this process, ahead of the
// environment and settings.yaml. Command line flags use it.
func WithOverride(name string, value interface{}) Option {
	return func(s *Settings) {
		if s.overrides == nil {
			s.overrides = make(map[string]interface{})
		}
		s.overrides[strings.ToUpper(strings.TrimSpace(name))] = value
	}
}

func Load(opts ...Option) (*Settings, error) {
	s := &Settings{
		defaults:  defaultSettings(),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) reload() error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(s.settingsPath())
	if _, err := os.Stat(s.settingsPath()); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read settings: %w", err)
		}
	}
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
	return nil
}

// Get returns the resolved value of name.
func (s *Settings) Get(name string) (interface{}, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if _, ok := derivedSettingNames[name]; ok {
		return s.derived(name), nil
	}
	if value, ok := s.overrides[name]; ok {
		return value, nil
	}
	if raw, ok := s.lookupEnv(EnvPrefix + name); ok {
		var parsed interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			return parsed, nil
		}
		return raw, nil
	}
	// STORAGE_PATH can't live in the settings file it locates.
	if name != "STORAGE_PATH" {
		s.mu.RLock()
		v := s.v
		s.mu.RUnlock()
		if v != nil && v.InConfig(strings.ToLower(name)) {
			return v.Get(name), nil
		}
	}
	if value, ok := s.defaults[name]; ok {
		return value, nil
	}
	return nil, fmt.Errorf("Setting %s does not exist", name)
}

func (s *Settings) MustGet(name string) interface{} {
	value, err := s.Get(name)
	if err != nil {
		panic(err)
	}
	return value
}

func (s *Settings) String(name string) string {
	value, err := s.Get(name)
	if err != nil || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}
	return fmt.Sprintf("%v", value)
}

func (s *Settings) Bool(name string) bool {
	value, err := s.Get(name)
	if err != nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

func (s *Settings) Int(name string) int {
	value, err := s.Get(name)
	if err != nil {
		return 0
	}
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
			return n
		}
	}
	return 0
}

func (s *Settings) Strings(name string) []string {
	value, err := s.Get(name)
	if err != nil || value == nil {
		return nil
	}
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// Users decodes the USERS setting.
func (s *Settings) Users() []User {
	value, err := s.Get("USERS")
	if err != nil || value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var users []User
	if err := json.Unmarshal(payload, &users); err != nil {
		return nil
	}
	return users
}

// User looks up username in USERS.
func (s *Settings) User(username string) (User, bool) {
	for _, user := range s.Users() {
		if user.Username == username {
			return user, true
		}
	}
	return User{}, false
}

// Save writes one setting to settings.yaml.
func (s *Settings) Save(name string, value interface{}) error {
	return s.Merge(map[string]interface{}{name: value})
}

// Merge writes several settings at once. Unknown or derived names are
// rejected before anything is written.
func (s *Settings) Merge(values map[string]interface{}) error {
	names := make([]string, 0, len(values))
	for name := range values {
		upper := strings.ToUpper(strings.TrimSpace(name))
		if _, ok := s.defaults[upper]; !ok {
			return fmt.Errorf("Setting %s does not exist", name)
		}
		if upper == "STORAGE_PATH" {
			return fmt.Errorf("Setting %s can not be saved", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if err := os.MkdirAll(s.storagePath(), 0o755); err != nil {
		return fmt.Errorf("failed to create storage path: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		s.v.Set(strings.ToUpper(strings.TrimSpace(name)), values[name])
	}
	if err := s.v.WriteConfigAs(s.settingsPath()); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := s.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	return nil
}

// Watch reloads settings.yaml when it changes on disk and calls onChange.
func (s *Settings) Watch(onChange func()) {
	s.mu.Lock()
	if onChange != nil {
		s.listeners = append(s.listeners, onChange)
	}
	v := s.v
	s.mu.Unlock()

	if err := os.MkdirAll(s.storagePath(), 0o755); err != nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := s.reload(); err != nil {
			return
		}
		s.mu.RLock()
		listeners := append([]func(){}, s.listeners...)
		s.mu.RUnlock()
		for _, fn := range listeners {
			fn()
		}
	})
	v.WatchConfig()
}

func (s *Settings) storagePath() string {
	if raw, ok := s.lookupEnv(EnvPrefix + "STORAGE_PATH"); ok && strings.TrimSpace(raw) != "" {
		var parsed string
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			return parsed
		}
		return raw
	}
	path, _ := s.defaults["STORAGE_PATH"].(string)
	return path
}

func (s *Settings) settingsPath() string {
	return filepath.Join(s.storagePath(), "settings.yaml")
}

func (s *Settings) derived(name string) interface{} {
	storage := s.storagePath()
	switch name {
	case "PLOTLY_API_URL":
		scheme := "http://"
		if s.Bool("PLOTLY_API_SSL_ENABLED") {
			scheme = "https://"
		}
		return scheme + s.String("PLOTLY_API_DOMAIN")
	case "PLOTLY_URL":
		if s.String("PLOTLY_API_DOMAIN") == defaultAPIDomain {
			return "https://plot.ly"
		}
		return s.String("PLOTLY_API_URL")
	case "CONNECTIONS_PATH":
		return filepath.Join(storage, "connections.yaml")
	case "QUERIES_PATH":
		return filepath.Join(storage, "queries.yaml")
	case "TAGS_PATH":
		return filepath.Join(storage, "tags.yaml")
	case "LOG_PATH":
		return filepath.Join(storage, "log.log")
	case "SETTINGS_PATH":
		return s.settingsPath()
	case "KEY_FILE":
		return filepath.Join(storage, "privkey.pem")
	case "CERT_FILE":
		return filepath.Join(storage, "fullchain.pem")
	case "CORS_ALLOWED_ORIGINS":
		origins := append(s.Strings("DEFAULT_CORS_ALLOWED_ORIGINS"), s.Strings("ADDITIONAL_CORS_ALLOWED_ORIGINS")...)
		if s.String("PLOTLY_API_DOMAIN") != defaultAPIDomain {
			origins = append(origins, s.String("PLOTLY_URL"))
		}
		return origins
	}
	return nil
}
