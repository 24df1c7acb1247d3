package api

import (
	"net/http"
	"regexp"

	"dbconnector/internal/db"
	"dbconnector/internal/metrics"
	"dbconnector/internal/session"

	"github.com/gin-gonic/gin"
)

var versionedPath = regexp.MustCompile(`^/(v\d+)/([^/]*)`)

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.cors(), frameGuard(), s.authorize())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "running", "version": s.version})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/drivers", func(c *gin.Context) {
		c.JSON(http.StatusOK, db.SupportMatrix())
	})
	if s.hub != nil {
		r.GET("/channel", gin.WrapH(s.hub))
	}

	r.GET("/settings", s.getSettings)
	r.PATCH("/settings", s.patchSettings)
	r.GET("/settings/urls", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.URLs())
	})

	r.POST("/oauth2", s.oauth2)
	r.GET("/logout", s.logout)
	r.POST("/logout", s.logout)

	v0 := r.Group("/v0")
	v0.GET("/:endpoint", s.legacyV0)
	v0.POST("/:endpoint", s.legacyV0)
	v1 := r.Group("/v1")
	v1.GET("/:endpoint", s.legacyV1)
	v1.POST("/:endpoint", s.legacyV1)

	r.GET("/connections", s.listConnections)
	r.POST("/connections", s.createConnection)
	r.GET("/connections/:id", s.getConnection)
	r.PUT("/connections/:id", s.updateConnection)
	r.DELETE("/connections/:id", s.deleteConnection)
	r.POST("/connections/:id/connect", s.connect)
	r.POST("/connections/:id/query", s.oneShotQuery)
	r.POST("/connections/:id/sql-tables", s.sqlTables)
	r.POST("/connections/:id/sql-schemas", s.sqlSchemas)
	r.POST("/connections/:id/s3-keys", s.fileKeys)
	r.POST("/connections/:id/apache-drill-storage", s.drillStorage)
	r.POST("/connections/:id/apache-drill-s3-keys", s.fileKeys)
	r.POST("/connections/:id/elasticsearch-mappings", s.elasticsearchMappings)

	r.POST("/datacache", s.datacache)

	r.GET("/tags", s.listTags)
	r.POST("/tags", s.createTag)
	r.GET("/tags/:id", s.getTag)
	r.PATCH("/tags/:id", s.updateTag)
	r.DELETE("/tags/:id", s.deleteTag)

	r.GET("/queries", s.listQueries)
	r.POST("/queries", s.createQuery)
	r.GET("/queries/:fid", s.getQuery)
	r.DELETE("/queries/:fid", s.deleteQuery)

	r.NoRoute(func(c *gin.Context) {
		if m := versionedPath.FindStringSubmatch(c.Request.URL.Path); m != nil && s.handler != nil {
			s.respondWithError(c, session.APIVersion(m[1]))
			return
		}
		c.JSON(http.StatusNotFound, gin.H{})
	})
	return r
}

func (s *Server) getSettings(c *gin.Context) {
	usernames := []string{}
	for _, user := range s.settings.Users() {
		usernames = append(usernames, user.Username)
	}
	c.JSON(http.StatusOK, gin.H{
		"USERS":      usernames,
		"PLOTLY_URL": s.settings.String("PLOTLY_URL"),
	})
}

func (s *Server) patchSettings(c *gin.Context) {
	var values map[string]interface{}
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := s.settings.Merge(values); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}
