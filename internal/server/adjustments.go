package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	adjustmentdomain "github.com/smallbiznis/repairpay/internal/adjustment/domain"
)

type createAdjustmentRequest struct {
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	Note          string `json:"note"`
	AvailableFrom string `json:"available_from"`
}

func (s *Server) CreateAdjustment(c *gin.Context) {
	var req createAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	availableFrom, err := parseOptionalTime("available_from", req.AvailableFrom, anchorNoon)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	adjustment, err := s.adjustmentSvc.CreateAdjustment(c.Request.Context(), adjustmentdomain.CreateAdjustmentRequest{
		TechnicianID:  technicianIDFromContext(c),
		Type:          req.Type,
		Amount:        req.Amount,
		Note:          req.Note,
		AvailableFrom: availableFrom,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": adjustment})
}

// ListPendingAdjustments returns adjustments with an unpaid remainder as seen from the requested week.
func (s *Server) ListPendingAdjustments(c *gin.Context) {
	weekRef, err := resolveWeekRef(c, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.adjustmentSvc.PendingFor(c.Request.Context(), technicianIDFromContext(c), weekRef, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetAdjustment(c *gin.Context) {
	adjustmentID, err := parseSnowflakeParam(c, "adjustmentId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	item, err := s.adjustmentSvc.GetByID(ctx, adjustmentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !ownsTechnicianRecord(c, item.TechnicianID) {
		AbortWithError(c, adjustmentdomain.ErrNotFound)
		return
	}

	applications, err := s.adjustmentSvc.ListApplications(ctx, adjustmentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item, "applications": applications})
}

func (s *Server) DeleteAdjustment(c *gin.Context) {
	adjustmentID, err := parseSnowflakeParam(c, "adjustmentId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.adjustmentSvc.DeleteAdjustment(c.Request.Context(), technicianIDFromContext(c), adjustmentID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
