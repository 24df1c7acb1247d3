package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaultsAndDerived(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(WithStoragePath(dir), WithEnv(envMap(nil)))
	require.NoError(t, err)

	assert.Equal(t, 9494, s.Int("PORT"))
	assert.True(t, s.Bool("AUTH_ENABLED"))
	assert.Equal(t, "https://api.plot.ly", s.String("PLOTLY_API_URL"))
	assert.Equal(t, "https://plot.ly", s.String("PLOTLY_URL"))
	assert.Equal(t, filepath.Join(dir, "connections.yaml"), s.String("CONNECTIONS_PATH"))
	assert.Equal(t, filepath.Join(dir, "fullchain.pem"), s.String("CERT_FILE"))
	assert.Contains(t, s.Strings("CORS_ALLOWED_ORIGINS"), "https://plot.ly")
}

func TestUnknownSetting(t *testing.T) {
	s, err := Load(WithStoragePath(t.TempDir()), WithEnv(envMap(nil)))
	require.NoError(t, err)

	_, err = s.Get("NOT_A_SETTING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
	assert.Error(t, s.Save("NOT_A_SETTING", 1))
}

func TestEnvironmentIsJSONDecoded(t *testing.T) {
	env := envMap(map[string]string{
		"PLOTLY_CONNECTOR_PORT":              "9000",
		"PLOTLY_CONNECTOR_AUTH_ENABLED":      "false",
		"PLOTLY_CONNECTOR_PLOTLY_API_DOMAIN": "plotly.acme.com",
	})
	s, err := Load(WithStoragePath(t.TempDir()), WithEnv(env))
	require.NoError(t, err)

	port, err := s.Get("PORT")
	require.NoError(t, err)
	assert.Equal(t, float64(9000), port)
	assert.False(t, s.Bool("AUTH_ENABLED"))
	assert.Equal(t, "plotly.acme.com", s.String("PLOTLY_API_DOMAIN"))
	assert.Equal(t, "https://plotly.acme.com", s.String("PLOTLY_URL"))
	assert.Contains(t, s.Strings("CORS_ALLOWED_ORIGINS"), "https://plotly.acme.com")
}

func TestSaveWritesSettingsFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(WithStoragePath(dir), WithEnv(envMap(nil)))
	require.NoError(t, err)

	require.NoError(t, s.Save("PLOTLY_API_DOMAIN", "plotly.local"))
	assert.Equal(t, "plotly.local", s.String("PLOTLY_API_DOMAIN"))

	_, err = os.Stat(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, err)

	reloaded, err := Load(WithStoragePath(dir), WithEnv(envMap(nil)))
	require.NoError(t, err)
	assert.Equal(t, "plotly.local", reloaded.String("PLOTLY_API_DOMAIN"))
}

func TestEnvironmentBeatsFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(WithStoragePath(dir), WithEnv(envMap(nil)))
	require.NoError(t, err)
	require.NoError(t, s.Save("PORT", 8000))

	env := envMap(map[string]string{"PLOTLY_CONNECTOR_PORT": "7000"})
	s2, err := Load(WithStoragePath(dir), WithEnv(env))
	require.NoError(t, err)
	assert.Equal(t, 7000, s2.Int("PORT"))
}

func TestStoragePathCannotBeSaved(t *testing.T) {
	s, err := Load(WithStoragePath(t.TempDir()), WithEnv(envMap(nil)))
	require.NoError(t, err)
	assert.Error(t, s.Save("STORAGE_PATH", "/tmp/elsewhere"))
}

func TestUsersDecoding(t *testing.T) {
	s, err := Load(WithStoragePath(t.TempDir()), WithEnv(envMap(nil)))
	require.NoError(t, err)
	require.NoError(t, s.Save("USERS", []map[string]interface{}{
		{"username": "chris", "accessToken": "abc"},
	}))

	users := s.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "chris", users[0].Username)
	assert.Equal(t, "abc", users[0].AccessToken)
}

func TestArgsValidate(t *testing.T) {
	args := DefaultArgs()
	require.NoError(t, args.Validate())

	args.LogDetail = 3
	assert.Error(t, args.Validate())

	args = DefaultArgs()
	args.Port = 70000
	assert.Error(t, args.Validate())
}

func TestPortFlagWinsOverEnvironment(t *testing.T) {
	args := DefaultArgs()
	args.Port = 9000
	opts := append([]Option{
		WithStoragePath(t.TempDir()),
		WithEnv(envMap(map[string]string{EnvPrefix + "PORT": "1234"})),
	}, args.Options()...)

	s, err := Load(opts...)
	require.NoError(t, err)
	assert.Equal(t, 9000, s.Int("PORT"))
	assert.Equal(t, 9495, s.Int("PORT_HTTPS"))
}
