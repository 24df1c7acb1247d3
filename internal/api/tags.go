package api

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"dbconnector/internal/store"

	"github.com/gin-gonic/gin"
)

const maxTagLength = 30

var hexColor = regexp.MustCompile(`^#([A-Fa-f0-9]{6}|[A-Fa-f0-9]{3})$`)

type tagRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

func validateTag(tag store.Tag) error {
	switch {
	case tag.Name == "" || tag.Color == "":
		return errors.New("Tags must have name and color parameters.")
	case len(tag.Name) > maxTagLength:
		return fmt.Errorf("Tag name must be less than %d characters.", maxTagLength)
	case !hexColor.MatchString(tag.Color):
		return errors.New("Tag color must be a valid hex code.")
	}
	return nil
}

// nameTaken reports whether another tag than id is called name.
func (s *Server) nameTaken(name, id string) (bool, error) {
	tags, err := s.tags.List()
	if err != nil {
		return false, err
	}
	for _, tag := range tags {
		if tag.Name == name && tag.ID != id {
			return true, nil
		}
	}
	return false, nil
}

func (s *Server) listTags(c *gin.Context) {
	tags, err := s.tags.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, tags)
}

func (s *Server) getTag(c *gin.Context) {
	tag, err := s.tags.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{})
		return
	}
	c.JSON(http.StatusOK, tag)
}

func (s *Server) saveTag(c *gin.Context, tag store.Tag, status int) {
	if err := validateTag(tag); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	taken, err := s.nameTaken(tag.Name, tag.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	if taken {
		c.JSON(http.StatusBadRequest, errorBody("A tag with that name already exists"))
		return
	}
	if tag.ID == "" {
		tag, err = s.tags.Create(tag)
	} else {
		tag, err = s.tags.Update(tag)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(status, tag)
}

func (s *Server) createTag(c *gin.Context) {
	var req tagRequest
	_ = c.ShouldBindJSON(&req)
	var tag store.Tag
	if req.Name != nil {
		tag.Name = *req.Name
	}
	if req.Color != nil {
		tag.Color = *req.Color
	}
	s.saveTag(c, tag, http.StatusCreated)
}

// updateTag patches name and/or color.
func (s *Server) updateTag(c *gin.Context) {
	tag, err := s.tags.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{})
		return
	}
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if req.Name != nil {
		tag.Name = *req.Name
	}
	if req.Color != nil {
		tag.Color = *req.Color
	}
	s.saveTag(c, tag, http.StatusOK)
}

func (s *Server) deleteTag(c *gin.Context) {
	id := c.Param("id")
	if err := s.tags.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{})
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	if err := s.queries.RemoveTag(id); err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}
