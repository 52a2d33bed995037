package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
)

type pendingReturnsQuery struct {
	Since string `form:"since"`
}

type settleReturnsRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) ListPendingReturns(c *gin.Context) {
	var query pendingReturnsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	since, err := parseOptionalTime("since", query.Since, anchorStartOfDay)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orders, err := s.returnsSvc.PendingReturns(c.Request.Context(), technicianIDFromContext(c), since)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders, "total": s.returnsSvc.ReturnsTotal(orders)})
}

func (s *Server) GetWeekReturns(c *gin.Context) {
	weekRef, err := resolveWeekRef(c, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	week, err := s.returnsSvc.ForWeek(c.Request.Context(), technicianIDFromContext(c), payoutweek.WeekRange(weekRef))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": week})
}

// SettleReturns closes the returns inside [start, end]; both default to the current payout week.
func (s *Server) SettleReturns(c *gin.Context) {
	var req settleReturnsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	week := payoutweek.WeekRangeNow(s.clock)
	start, end := week.Start, week.End
	if parsed, err := parseOptionalTime("start", req.Start, anchorStartOfDay); err != nil {
		AbortWithError(c, err)
		return
	} else if parsed != nil {
		start = *parsed
	}
	if parsed, err := parseOptionalTime("end", req.End, anchorEndOfDay); err != nil {
		AbortWithError(c, err)
		return
	} else if parsed != nil {
		end = *parsed
	}

	result, err := s.returnsSvc.SettleReturns(c.Request.Context(), technicianIDFromContext(c), start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
