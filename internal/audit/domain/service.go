package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"github.com/smallbiznis/repairpay/pkg/db/pagination"
)

type Entry struct {
	TechnicianID *snowflake.ID
	Action       string
	TargetType   string
	TargetID     *string
	Metadata     map[string]any
}

type ListAuditLogRequest struct {
	TechnicianID *snowflake.ID
	Action       string
	TargetType   string
	TargetID     string
	StartAt      *time.Time
	EndAt        *time.Time
	Limit        int
}

type ListAuditLogPageRequest struct {
	pagination.Pagination
	ListAuditLogRequest
}

type ListAuditLogResponse struct {
	AuditLogs []AuditLog           `json:"audit_logs"`
	PageInfo  *pagination.PageInfo `json:"page_info"`
}

type Service interface {
	AuditLog(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) ([]AuditLog, error)
	// ListPage walks the log newest first using an opaque page token.
	ListPage(ctx context.Context, req ListAuditLogPageRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidAction    = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_action")
	ErrInvalidTimeRange = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_time_range")
	ErrInvalidPageToken = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_page_token")
)
