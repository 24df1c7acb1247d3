package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var corsAllowHeaders = []string{
	"Accept",
	"Accept-Version",
	"Authorization",
	"Content-Length",
	"Content-MD5",
	"Content-Type",
	"Date",
	"X-Api-Version",
	"X-Response-Time",
	"X-PINGOTHER",
	"X-CSRF-Token",
	"Access-Control-Allow-Origin",
	"Connection",
	"Upgrade",
	"DNT",
	"If-Modified-Since",
	"Cache-Control",
}

const corsAllowMethods = "PATCH, POST, GET, DELETE, OPTIONS"

// quiet paths are polled by the UI and never logged.
var quietPrefixes = []string{"/settings/urls", "/static", "/images"}

func errorBody(message string) gin.H {
	return gin.H{"error": gin.H{"message": message}}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins() {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

// channelOriginAllowed accepts same-origin websocket upgrades and every
// origin cors would allow.
func (s *Server) channelOriginAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return s.originAllowed(origin)
}

// cors echoes allowed origins with credentials and answers every
// preflight with 204.
func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Headers", strings.Join(corsAllowHeaders, ", "))
			c.Header("Access-Control-Allow-Methods", corsAllowMethods)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func frameGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, prefix := range quietPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}
		started := time.Now()
		c.Next()
		s.log.Zap().Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
			zap.String("clientIP", c.ClientIP()),
		)
	}
}
