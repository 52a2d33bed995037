package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/repairpay/internal/audit/domain"
	"github.com/smallbiznis/repairpay/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	PageToken    string `form:"page_token"`
	PageSize     int    `form:"page_size"`
	TechnicianID string `form:"technician_id"`
	Action       string `form:"action"`
	TargetType   string `form:"target_type"`
	TargetID     string `form:"target_id"`
	StartAt      string `form:"start_at"`
	EndAt        string `form:"end_at"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	technicianID, err := parseOptionalSnowflakeID(query.TechnicianID)
	if err != nil {
		AbortWithError(c, newValidationError("technician_id", "invalid_technician_id", "invalid technician_id"))
		return
	}
	startAt, err := parseOptionalTime("start_at", query.StartAt, anchorStartOfDay)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	endAt, err := parseOptionalTime("end_at", query.EndAt, anchorEndOfDay)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.auditSvc.ListPage(c.Request.Context(), auditdomain.ListAuditLogPageRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		ListAuditLogRequest: auditdomain.ListAuditLogRequest{
			TechnicianID: technicianID,
			Action:       strings.TrimSpace(query.Action),
			TargetType:   strings.TrimSpace(query.TargetType),
			TargetID:     strings.TrimSpace(query.TargetID),
			StartAt:      startAt,
			EndAt:        endAt,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
