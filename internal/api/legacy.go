package api

import (
	"fmt"
	"net/http"
	"sync"

	"dbconnector/internal/connection"
	"dbconnector/internal/ipc"
	"dbconnector/internal/session"

	"github.com/gin-gonic/gin"
)

// firstResponse keeps the first response of a task for the HTTP caller
// and mirrors every response on the UI channel.
type firstResponse struct {
	mu       sync.Mutex
	hub      *ipc.Hub
	got      bool
	status   int
	response interface{}
}

func (f *firstResponse) send(response interface{}, status int) {
	if f.hub != nil {
		f.hub.Send(response, status)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.got {
		f.got, f.status, f.response = true, status, response
	}
}

func (f *firstResponse) write(c *gin.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.got {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(f.status, f.response)
}

func (s *Server) dispatch(c *gin.Context, p ipc.Payload) {
	if s.handler == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("no session handler"))
		return
	}
	out := &firstResponse{hub: s.hub}
	_ = s.handler.Handle(c.Request.Context(), p, out.send)
	out.write(c)
}

func (s *Server) respondWithError(c *gin.Context, message string) {
	out := &firstResponse{hub: s.hub}
	_ = s.handler.Sessions().RaiseError(session.NewError(message), out.send)
	out.write(c)
}

// bodyConfig reads an optional connection config from the request body.
func bodyConfig(c *gin.Context) (interface{}, error) {
	if c.Request.ContentLength <= 0 {
		return nil, nil
	}
	var cfg connection.ConnectionConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Server) legacyV0(c *gin.Context) {
	if s.handler == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("no session handler"))
		return
	}
	endpoint := c.Param("endpoint")
	var p ipc.Payload
	switch endpoint {
	case "connect":
		p.Task = ipc.TaskCheckConnectionAndShowDatabases
	case "login":
		message, err := bodyConfig(c)
		if err != nil {
			s.respondWithError(c, err.Error())
			return
		}
		p.Task, p.Message = ipc.TaskConnectAndShowDatabases, message
	case "query":
		p.Task, p.Message = ipc.TaskQuery, c.Query("statement")
	case "tables":
		p.Task, p.Message = ipc.TaskSelectDatabaseAndShowTables, c.Query("database")
	case "databases":
		p.Task = ipc.TaskDatabases
	case "selectdatabase":
		p.Task, p.Database = ipc.TaskSelectDatabase, c.Query("database")
	case "preview":
		p.Task, p.Message = ipc.TaskPreview, c.Query("tables")
	case "disconnect":
		p.Task = ipc.TaskDisconnect
	default:
		s.respondWithError(c, fmt.Sprintf("Endpoint %s is not implemented in API v0.", endpoint))
		return
	}
	s.dispatch(c, p)
}

func (s *Server) legacyV1(c *gin.Context) {
	if s.handler == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("no session handler"))
		return
	}
	sessions := s.handler.Sessions()
	endpoint := c.Param("endpoint")

	p := ipc.Payload{SessionSelectedID: sessions.Selected()}
	if id, ok := c.GetQuery("session"); ok {
		p.SessionSelectedID = id
	}

	// database for tasks that run against one
	database := func() (string, bool) {
		if name, ok := c.GetQuery("database"); ok {
			return name, true
		}
		if sessions.Exists(p.SessionSelectedID) {
			return sessions.Database(p.SessionSelectedID), true
		}
		s.respondWithError(c, session.DatabaseParam)
		return "", false
	}

	switch endpoint {
	case "connect":
		message, err := bodyConfig(c)
		if err != nil {
			s.respondWithError(c, err.Error())
			return
		}
		p.Task, p.Message = ipc.TaskConnect, message
	case "authenticate":
		p.Task = ipc.TaskAuthenticate
	case "sessions":
		p.Task = ipc.TaskSessions
	case "deletesession":
		id, ok := c.GetQuery("session")
		if !ok {
			s.respondWithError(c, session.SessionParam)
			return
		}
		// the selection is not moved to the session being deleted
		p.Task, p.Message, p.SessionSelectedID = ipc.TaskDeleteSession, id, sessions.Selected()
	case "databases":
		p.Task = ipc.TaskDatabases
	case "selectdatabase", "tables":
		name, ok := database()
		if !ok {
			return
		}
		p.Task, p.Database = ipc.TaskSelectDatabase, name
		if endpoint == "tables" {
			p.Task = ipc.TaskTables
		}
	case "preview":
		name, ok := database()
		if !ok {
			return
		}
		tables, found := c.GetQuery("tables")
		if !found {
			s.respondWithError(c, session.TablesParam)
			return
		}
		p.Task, p.Database, p.Message = ipc.TaskPreview, name, tables
	case "query":
		name, ok := database()
		if !ok {
			return
		}
		statement, found := c.GetQuery("statement")
		if !found {
			s.respondWithError(c, session.QueryParam)
			return
		}
		p.Task, p.Database, p.Message = ipc.TaskQuery, name, statement
	case "disconnect":
		p.Task = ipc.TaskDisconnect
	default:
		s.respondWithError(c, fmt.Sprintf("Endpoint %s is not implemented in API v1.", endpoint))
		return
	}
	s.dispatch(c, p)
}
