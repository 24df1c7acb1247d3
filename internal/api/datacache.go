package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"dbconnector/internal/connection"
	"dbconnector/internal/export"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type datacacheRequest struct {
	Payload   string `json:"payload"`
	Type      string `json:"type"`
	Requestor string `json:"requestor"`
}

func (s *Server) exportPath(ext string) (string, error) {
	path, err := filepath.Abs(filepath.Join(
		s.settings.String("STORAGE_PATH"),
		fmt.Sprintf("data_export_%s.%s", strings.SplitN(uuid.NewString(), "-", 2)[0], ext),
	))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// csvGrid reads CSV text with a header row.
func csvGrid(payload string) (connection.Grid, error) {
	records, err := csv.NewReader(strings.NewReader(payload)).ReadAll()
	if err != nil {
		return connection.Grid{}, err
	}
	if len(records) == 0 {
		return connection.Grid{}, nil
	}
	grid := connection.Grid{ColumnNames: records[0], NCols: len(records[0])}
	for _, record := range records[1:] {
		row := make([]interface{}, len(record))
		for i, value := range record {
			row[i] = value
		}
		grid.Rows = append(grid.Rows, row)
	}
	grid.NRows = len(grid.Rows)
	return grid, nil
}

// datacache saves csv and xlsx exports next to the settings and sends
// everything else to the Plotly datacache.
func (s *Server) datacache(c *gin.Context) {
	var req datacacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	switch req.Type {
	case "csv":
		path, err := s.exportPath("csv")
		if err == nil {
			err = os.WriteFile(path, []byte(req.Payload), 0o644)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
			return
		}
		c.JSON(http.StatusOK, gin.H{"type": "csv", "url": "file://" + path})
		return

	case "xlsx":
		grid, err := csvGrid(req.Payload)
		var path string
		if err == nil {
			path, err = s.exportPath("xlsx")
		}
		if err == nil {
			err = export.WriteXLSX(path, grid)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
			return
		}
		c.JSON(http.StatusOK, gin.H{"type": "xlsx", "url": "file://" + path})
		return
	}

	requestor := req.Requestor
	if requestor == "" {
		requestor = c.GetString("username")
	}
	out, err := s.plotly().NewDatacache(c.Request.Context(), req.Payload, req.Type, s.credentials(requestor))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, out)
}
