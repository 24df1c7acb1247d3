package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dbconnector/internal/logger"
	"dbconnector/internal/plotly"
	"dbconnector/internal/settings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	plotlyTokenCookie = "plotly-auth-token"
	authTokenCookie   = "db-connector-auth-token"
	userCookie        = "db-connector-user"

	tokenIssuer = "plotly-database-connector"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// publicPaths skip authentication.
var publicPaths = map[string]struct{}{
	"/ping":          {},
	"/status":        {},
	"/oauth2":        {},
	"/settings/urls": {},
	"/metrics":       {},
}

type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type tokenManager struct {
	secretKey []byte
	age       time.Duration
}

func newTokenManager(secret string, age time.Duration) *tokenManager {
	if age <= 0 {
		age = 5 * time.Minute
	}
	return &tokenManager{secretKey: []byte(secret), age: age}
}

func (m *tokenManager) Generate(username string) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.age)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   username,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

func (m *tokenManager) Validate(tokenString string) (*tokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Server) setAuthCookies(c *gin.Context, username, plotlyToken string) error {
	token, err := s.tokens.Generate(username)
	if err != nil {
		return err
	}
	secure := c.Request.TLS != nil
	if plotlyToken != "" {
		c.SetCookie(plotlyTokenCookie, plotlyToken, 0, "/", "", secure, true)
	}
	c.SetCookie(authTokenCookie, token, int(s.tokens.age.Seconds()), "/", "", secure, true)
	c.SetCookie(userCookie, username, 0, "/", "", false, false)
	return nil
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("Please login to access this page."))
}

// authorize lets a request through with a valid connector token, a
// static ACCESS_TOKEN bearer, or a Plotly token that Plotly still accepts.
func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.settings.Bool("AUTH_ENABLED") {
			c.Next()
			return
		}
		path := c.Request.URL.Path
		if _, ok := publicPaths[path]; ok || strings.HasPrefix(path, "/static/") {
			c.Next()
			return
		}

		if token, err := c.Cookie(authTokenCookie); err == nil && token != "" {
			if claims, err := s.tokens.Validate(token); err == nil {
				c.Set("username", claims.Username)
				c.Next()
				return
			}
		}

		if bearer := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "); bearer != c.GetHeader("Authorization") {
			if expected := s.settings.String("ACCESS_TOKEN"); expected != "" && bearer == expected {
				c.Next()
				return
			}
		}

		plotlyToken, err := c.Cookie(plotlyTokenCookie)
		if err != nil || plotlyToken == "" {
			unauthorized(c)
			return
		}
		user, err := s.plotly().CurrentUser(c.Request.Context(), plotlyToken)
		if err != nil || user.Username == "" {
			unauthorized(c)
			return
		}
		if err := s.setAuthCookies(c, user.Username, ""); err != nil {
			unauthorized(c)
			return
		}
		c.Set("username", user.Username)
		c.Next()
	}
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

type oauthRequest struct {
	AccessToken string `json:"access_token"`
}

// oauth2 exchanges a Plotly access token for connector cookies.
func (s *Server) oauth2(c *gin.Context) {
	var req oauthRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AccessToken == "" {
		c.JSON(http.StatusBadRequest, errorBody("access_token is required"))
		return
	}
	client := s.plotly()
	s.log.Logf(logger.DetailInfo, "Checking token against %s/v2/users/current", client.APIURL())

	user, err := client.CurrentUser(c.Request.Context(), req.AccessToken)
	if err != nil {
		message := err.Error()
		var statusErr *plotly.StatusError
		if errors.As(err, &statusErr) {
			message = fmt.Sprintf("Error fetching user. Status: %d. Body: %s.", statusErr.Status, statusErr.Body)
		}
		s.log.Log(message, logger.DetailError)
		c.JSON(http.StatusInternalServerError, errorBody(message))
		return
	}
	if user.Username == "" {
		c.JSON(http.StatusInternalServerError, errorBody("User was not found at "+client.APIURL()))
		return
	}

	allowed := s.settings.Strings("ALLOWED_USERS")
	onPrem := s.settings.Bool("IS_RUNNING_INSIDE_ON_PREM")
	if !containsString(allowed, user.Username) && s.settings.Bool("AUTH_ENABLED") && !onPrem {
		c.JSON(http.StatusForbidden, errorBody("User "+user.Username+" is not allowed to view this app"))
		return
	}

	if err := s.setAuthCookies(c, user.Username, req.AccessToken); err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}

	status := http.StatusCreated
	users := s.settings.Users()
	for i := range users {
		if users[i].Username == user.Username {
			users[i].AccessToken = req.AccessToken
			status = http.StatusOK
		}
	}
	if status == http.StatusCreated {
		users = append(users, settings.User{Username: user.Username, AccessToken: req.AccessToken})
	}
	updates := map[string]interface{}{"USERS": userSettings(users)}
	if onPrem && !containsString(allowed, user.Username) {
		updates["ALLOWED_USERS"] = append(allowed, user.Username)
	}
	if err := s.settings.Merge(updates); err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(status, gin.H{})
}

// userSettings keeps the camelCase keys of USERS when written to yaml.
func userSettings(users []settings.User) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(users))
	for _, user := range users {
		entry := map[string]interface{}{"username": user.Username}
		if user.APIKey != "" {
			entry["apiKey"] = user.APIKey
		}
		if user.AccessToken != "" {
			entry["accessToken"] = user.AccessToken
		}
		out = append(out, entry)
	}
	return out
}

func (s *Server) logout(c *gin.Context) {
	for _, name := range []string{plotlyTokenCookie, authTokenCookie, userCookie} {
		c.SetCookie(name, "", -1, "/", "", false, false)
	}
	c.JSON(http.StatusOK, gin.H{})
}
