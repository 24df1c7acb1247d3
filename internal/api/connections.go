package api

import (
	"errors"
	"fmt"
	"net/http"

	"dbconnector/internal/connection"
	"dbconnector/internal/db"
	"dbconnector/internal/logger"
	"dbconnector/internal/session"
	"dbconnector/internal/store"

	"github.com/gin-gonic/gin"
)

func sanitizeAll(configs []connection.ConnectionConfig) []connection.ConnectionConfig {
	out := make([]connection.ConnectionConfig, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, connection.Sanitize(cfg))
	}
	return out
}

func (s *Server) listConnections(c *gin.Context) {
	configs, err := s.connections.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, sanitizeAll(configs))
}

func (s *Server) getConnection(c *gin.Context) {
	cfg, err := s.connections.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{})
		return
	}
	c.JSON(http.StatusOK, connection.Sanitize(cfg))
}

func (s *Server) createConnection(c *gin.Context) {
	var cfg connection.ConnectionConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	// the UI may resend a config it got from GET /connections, without
	// the password
	existing, found, err := s.connections.Lookup(cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	if found {
		c.JSON(http.StatusConflict, gin.H{"connectionId": existing.ID})
		return
	}
	if err := validateConnection(cfg); err != nil {
		s.log.Log(err, logger.DetailInfo)
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	id, err := s.connections.Save(cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"connectionId": id})
}

func (s *Server) updateConnection(c *gin.Context) {
	id := c.Param("id")
	stored, err := s.connections.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{})
		return
	}
	var cfg connection.ConnectionConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	cfg.ID = id
	// the UI only ever holds the sanitized config
	if cfg.Password == "" {
		cfg.Password = stored.Password
	}
	if cfg.SecretAccessKey == "" {
		cfg.SecretAccessKey = stored.SecretAccessKey
	}
	if err := validateConnection(cfg); err != nil {
		s.log.Log(err, logger.DetailInfo)
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := s.connections.Update(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	s.pool.Close(id)
	c.JSON(http.StatusOK, connection.Sanitize(cfg))
}

func (s *Server) deleteConnection(c *gin.Context) {
	id := c.Param("id")
	if err := s.connections.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{})
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	s.pool.Close(id)
	c.JSON(http.StatusOK, gin.H{})
}

// open resolves the :id connection and a live database for it. It writes
// the error response itself and returns ok=false when it fails.
func (s *Server) open(c *gin.Context, failStatus int) (connection.ConnectionConfig, db.Database, bool) {
	cfg, err := s.connections.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{})
		return cfg, nil, false
	}
	database, err := s.pool.Get(cfg)
	if err != nil {
		c.JSON(failStatus, errorBody(err.Error()))
		return cfg, nil, false
	}
	return cfg, database, true
}

func (s *Server) connect(c *gin.Context) {
	if _, _, ok := s.open(c, http.StatusBadRequest); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) oneShotQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Query == "" {
		c.JSON(http.StatusBadRequest, errorBody(session.QueryParam))
		return
	}
	cfg, database, ok := s.open(c, http.StatusBadRequest)
	if !ok {
		return
	}
	grid, err := session.Execute(c.Request.Context(), database, cfg.Dialect, req.Query)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, grid)
}

func unsupported(cfg connection.ConnectionConfig, what string) error {
	return fmt.Errorf("%s is not supported by %s connections", what, cfg.Dialect)
}

func (s *Server) sqlTables(c *gin.Context) {
	cfg, database, ok := s.open(c, http.StatusInternalServerError)
	if !ok {
		return
	}
	tables, err := database.GetTables(cfg.Database)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, tables)
}

func (s *Server) sqlSchemas(c *gin.Context) {
	cfg, database, ok := s.open(c, http.StatusInternalServerError)
	if !ok {
		return
	}
	lister, isLister := database.(db.SchemaLister)
	if !isLister {
		c.JSON(http.StatusInternalServerError, errorBody(unsupported(cfg, "sql-schemas").Error()))
		return
	}
	schemas, err := lister.GetSchemas()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, schemas)
}

// fileKeys serves both s3-keys and apache-drill-s3-keys.
func (s *Server) fileKeys(c *gin.Context) {
	cfg, database, ok := s.open(c, http.StatusInternalServerError)
	if !ok {
		return
	}
	lister, isLister := database.(db.FileLister)
	if !isLister {
		c.JSON(http.StatusInternalServerError, errorBody(unsupported(cfg, "listing keys").Error()))
		return
	}
	files, err := lister.ListFiles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, files)
}

func (s *Server) drillStorage(c *gin.Context) {
	cfg, database, ok := s.open(c, http.StatusInternalServerError)
	if !ok {
		return
	}
	lister, isLister := database.(db.StorageLister)
	if !isLister {
		c.JSON(http.StatusInternalServerError, errorBody(unsupported(cfg, "apache-drill-storage").Error()))
		return
	}
	storage, err := lister.ListStorage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, storage)
}

func (s *Server) elasticsearchMappings(c *gin.Context) {
	cfg, database, ok := s.open(c, http.StatusInternalServerError)
	if !ok {
		return
	}
	provider, isProvider := database.(db.MappingsProvider)
	if !isProvider {
		c.JSON(http.StatusInternalServerError, errorBody(unsupported(cfg, "elasticsearch-mappings").Error()))
		return
	}
	mappings, err := provider.GetMappings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, mappings)
}
