package api

import (
	"errors"
	"net/http"
	"time"

	"dbconnector/internal/logger"
	"dbconnector/internal/store"

	"github.com/gin-gonic/gin"
)

type scheduleRequest struct {
	store.Query
	// Filename asks for a new grid instead of updating Fid.
	Filename string `json:"filename"`
}

func (r scheduleRequest) validate() error {
	switch {
	case r.ConnectionID == "":
		return errors.New("connectionId is required")
	case r.Query.Query == "":
		return errors.New("query is required")
	case r.RefreshInterval <= 0 && r.CronInterval == "":
		return errors.New("refreshInterval or cronInterval is required")
	case r.Filename == "" && r.Fid != "" && len(r.Uids) == 0:
		return errors.New("uids are required to update a grid")
	}
	return nil
}

func (s *Server) listQueries(c *gin.Context) {
	queries, err := s.queries.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, queries)
}

func (s *Server) getQuery(c *gin.Context) {
	q, err := s.queries.Get(c.Param("fid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{})
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) deleteQuery(c *gin.Context) {
	fid := c.Param("fid")
	if err := s.queries.Delete(fid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{})
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	s.scheduler.ClearQuery(fid)
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) queryFailed(c *gin.Context, err error) {
	s.log.Log(err, logger.DetailError)
	c.JSON(http.StatusBadRequest, errorBody(err.Error()))
}

// createQuery runs the query once, creating or updating its grid, then
// schedules it.
func (s *Server) createQuery(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.queryFailed(c, err)
		return
	}
	if req.Filename == "" && req.Fid == "" {
		s.queryFailed(c, errors.New("Bad request"))
		return
	}
	if err := req.validate(); err != nil {
		s.queryFailed(c, err)
		return
	}
	if req.Requestor == "" {
		req.Requestor = c.GetString("username")
	}
	ctx := c.Request.Context()
	q := req.Query
	q.LastExecution = nil

	if req.Filename != "" {
		created, err := s.scheduler.QueryAndCreateGrid(ctx, req.Filename, q)
		if err != nil {
			s.queryFailed(c, err)
			return
		}
		if err := s.scheduler.ScheduleQuery(created); err != nil {
			s.queryFailed(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
		return
	}

	previous, err := s.queries.Get(q.Fid)
	existed := err == nil
	recordFailure := func(err error) {
		if !existed {
			return
		}
		completed := time.Now()
		exec := store.Execution{
			Status:       store.StatusFailed,
			StartedAt:    completed,
			CompletedAt:  &completed,
			ErrorMessage: err.Error(),
		}
		if updateErr := s.queries.UpdateExecution(q.Fid, exec); updateErr != nil {
			s.log.Log(updateErr, logger.DetailError)
		}
	}

	if err := s.plotly().CheckWritePermission(ctx, q.Fid, q.Requestor, s.credentials(q.Requestor)); err != nil {
		recordFailure(err)
		s.queryFailed(c, err)
		return
	}
	if existed {
		_ = s.queries.UpdateExecution(q.Fid, store.Execution{Status: store.StatusRunning, StartedAt: time.Now()})
	}
	exec, err := s.scheduler.QueryAndUpdateGrid(ctx, q)
	if err != nil {
		recordFailure(err)
		s.queryFailed(c, err)
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
		if q.Name == "" {
			q.Name = previous.Name
		}
		if q.Tags == nil {
			q.Tags = previous.Tags
		}
	}
	q.LastExecution = &exec
	if err := s.scheduler.ScheduleQuery(q); err != nil {
		s.queryFailed(c, err)
		return
	}
	c.JSON(status, q)
}
