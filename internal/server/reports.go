package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetWeeklyBoard(c *gin.Context) {
	if s.reportSvc == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	weekRef, err := resolveWeekRef(c, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	board, err := s.reportSvc.WeeklyBoard(c.Request.Context(), weekRef)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": board})
}
