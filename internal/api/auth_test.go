package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager(t *testing.T) {
	m := newTokenManager("secret", time.Minute)
	token, err := m.Generate("chris")
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "chris", claims.Username)
	assert.Equal(t, tokenIssuer, claims.Issuer)

	_, err = newTokenManager("other", time.Minute).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := &tokenManager{secretKey: []byte("secret"), age: -time.Minute}
	old, err := expired.Generate("chris")
	require.NoError(t, err)
	_, err = m.Validate(old)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func cookie(name, value string) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"AUTH_ENABLED": "true",
		"ACCESS_TOKEN": "static-token",
	})

	w := ts.do(t, http.MethodGet, "/connections", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Please login to access this page.", errorMessage(t, w))

	w = ts.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/connections", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer static-token")
	})
	assert.Equal(t, http.StatusOK, w.Code)

	token, err := ts.tokens.Generate("chris")
	require.NoError(t, err)
	w = ts.do(t, http.MethodGet, "/connections", nil, cookie(authTokenCookie, token))
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/connections", nil, cookie(plotlyTokenCookie, "bad-token"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/connections", nil, cookie(plotlyTokenCookie, "good-token"))
	assert.Equal(t, http.StatusOK, w.Code)
	refreshed := findCookie(w.Result(), authTokenCookie)
	require.NotNil(t, refreshed)
	claims, err := ts.tokens.Validate(refreshed.Value)
	require.NoError(t, err)
	assert.Equal(t, "chris", claims.Username)
}

func TestOAuth2(t *testing.T) {
	ts := newTestServer(t, map[string]string{"AUTH_ENABLED": "true", "ALLOWED_USERS": `["chris"]`})

	w := ts.do(t, http.MethodPost, "/oauth2", map[string]string{"access_token": "good-token"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := w.Result()
	require.NotNil(t, findCookie(resp, plotlyTokenCookie))
	require.NotNil(t, findCookie(resp, authTokenCookie))
	assert.Equal(t, "chris", findCookie(resp, userCookie).Value)

	user, ok := ts.settings.User("chris")
	require.True(t, ok)
	assert.Equal(t, "good-token", user.AccessToken)

	w = ts.do(t, http.MethodPost, "/oauth2", map[string]string{"access_token": "good-token"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, ts.settings.Users(), 1)

	w = ts.do(t, http.MethodPost, "/oauth2", map[string]string{"access_token": "bad-token"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, `Error fetching user. Status: 401. Body: {"detail":"bad token"}.`, errorMessage(t, w))
}

func TestOAuth2RejectsUnknownUsers(t *testing.T) {
	ts := newTestServer(t, map[string]string{"AUTH_ENABLED": "true"})

	w := ts.do(t, http.MethodPost, "/oauth2", map[string]string{"access_token": "good-token"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "User chris is not allowed to view this app", errorMessage(t, w))
}

func TestOAuth2OnPremAllowsAndRemembersUsers(t *testing.T) {
	ts := newTestServer(t, map[string]string{"AUTH_ENABLED": "true", "IS_RUNNING_INSIDE_ON_PREM": "true"})

	w := ts.do(t, http.MethodPost, "/oauth2", map[string]string{"access_token": "good-token"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []string{"chris"}, ts.settings.Strings("ALLOWED_USERS"))
}

func TestLogoutClearsCookies(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	c := findCookie(w.Result(), authTokenCookie)
	require.NotNil(t, c)
	assert.Empty(t, c.Value)
	assert.True(t, c.MaxAge < 0)
}
