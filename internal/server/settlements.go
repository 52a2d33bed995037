package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	settlementdomain "github.com/smallbiznis/repairpay/internal/settlement/domain"
)

type summaryRequest struct {
	// Selected maps adjustment ids to the amount to deduct this week.
	Selected map[string]int64 `json:"selected"`
}

type settleRequest struct {
	Amount         int64  `json:"amount"`
	PaymentMethod  string `json:"payment_method"`
	CashAmount     *int64 `json:"cash_amount"`
	TransferAmount *int64 `json:"transfer_amount"`
	Note           string `json:"note"`
}

type listSettlementsQuery struct {
	WeekStart string `form:"week_start"`
	Limit     int    `form:"limit"`
}

func (s *Server) GetSettlementSummary(c *gin.Context) {
	weekRef, err := resolveWeekRef(c, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var selected map[snowflake.ID]int64
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		var req summaryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		selected = make(map[snowflake.ID]int64, len(req.Selected))
		for rawID, amount := range req.Selected {
			id, err := snowflake.ParseString(strings.TrimSpace(rawID))
			if err != nil || id <= 0 {
				AbortWithError(c, newValidationError("selected", "invalid_adjustment_id", "invalid adjustment id "+rawID))
				return
			}
			selected[id] = amount
		}
	}

	summary, err := s.settlementSvc.Summary(c.Request.Context(), settlementdomain.SummaryRequest{
		TechnicianID: technicianIDFromContext(c),
		WeekRef:      weekRef,
		Selected:     selected,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) Settle(c *gin.Context) {
	weekRef, err := resolveWeekRef(c, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	settlement, err := s.settlementSvc.Settle(c.Request.Context(), settlementdomain.SettleRequest{
		TechnicianID:   technicianIDFromContext(c),
		WeekRef:        weekRef,
		Amount:         req.Amount,
		PaymentMethod:  req.PaymentMethod,
		CashAmount:     req.CashAmount,
		TransferAmount: req.TransferAmount,
		Note:           req.Note,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": settlement})
}

func (s *Server) ListSettlements(c *gin.Context) {
	var query listSettlementsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	weekStart, err := parseOptionalTime("week_start", query.WeekStart, anchorNoon)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.settlementSvc.List(c.Request.Context(), settlementdomain.ListSettlementsRequest{
		TechnicianID: technicianIDFromContext(c),
		WeekStart:    weekStart,
		Limit:        query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetSettlement(c *gin.Context) {
	settlement, ok := s.loadOwnSettlement(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": settlement})
}

func (s *Server) RenderPayslip(c *gin.Context) {
	settlement, ok := s.loadOwnSettlement(c)
	if !ok {
		return
	}

	doc, err := s.settlementSvc.RenderPayslip(c.Request.Context(), settlement.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filename := fmt.Sprintf("payslip-%s-%s.pdf", settlement.TechnicianID.String(), payoutweek.FormatDate(settlement.WeekStart))
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", doc)
}

func (s *Server) loadOwnSettlement(c *gin.Context) (settlementdomain.SalarySettlement, bool) {
	settlementID, err := parseSnowflakeParam(c, "settlementId")
	if err != nil {
		AbortWithError(c, err)
		return settlementdomain.SalarySettlement{}, false
	}

	settlement, err := s.settlementSvc.GetByID(c.Request.Context(), settlementID)
	if err != nil {
		AbortWithError(c, err)
		return settlementdomain.SalarySettlement{}, false
	}
	if !ownsTechnicianRecord(c, settlement.TechnicianID) {
		AbortWithError(c, settlementdomain.ErrNotFound)
		return settlementdomain.SalarySettlement{}, false
	}
	return settlement, true
}
