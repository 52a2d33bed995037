package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	adjustmentdomain "github.com/smallbiznis/repairpay/internal/adjustment/domain"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
)

type SummaryRequest struct {
	TechnicianID snowflake.ID
	WeekRef      time.Time
	// Selected maps adjustment ids to the amount the caller intends to deduct.
	// Each value is clamped to [0, remaining].
	Selected map[snowflake.ID]int64
}

type SettleRequest struct {
	TechnicianID   snowflake.ID
	WeekRef        time.Time
	Amount         int64
	PaymentMethod  string
	CashAmount     *int64
	TransferAmount *int64
	Note           string
}

type ListSettlementsRequest struct {
	TechnicianID snowflake.ID
	WeekStart    *time.Time
	Limit        int
}

type Service interface {
	Summary(ctx context.Context, req SummaryRequest) (WeekSummary, error)
	DistributeDeduction(adjustments []adjustmentdomain.AdjustmentWithRemaining, target int64) ([]Allocation, error)
	Settle(ctx context.Context, req SettleRequest) (SalarySettlement, error)

	List(ctx context.Context, req ListSettlementsRequest) ([]SalarySettlement, error)
	GetByID(ctx context.Context, settlementID snowflake.ID) (SalarySettlement, error)
	RenderPayslip(ctx context.Context, settlementID snowflake.ID) ([]byte, error)
}

var (
	ErrInvalidID            = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_settlement_id")
	ErrInvalidTechnician    = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_technician")
	ErrInvalidPaymentMethod = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_settlement_payment_method")
	ErrInvalidDeduction     = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_deduction_target")
	ErrAmountOutOfRange     = payrollerr.New(payrollerr.ErrInvalidAmount, "settlement_amount_out_of_range")
	ErrInvalidSplit         = payrollerr.New(payrollerr.ErrInvalidAmount, "invalid_payment_split")
	ErrStaleState           = payrollerr.New(payrollerr.ErrConflict, "settlement_state_changed")
	ErrDuplicate            = payrollerr.New(payrollerr.ErrConflict, "settlement_duplicate")
	ErrUnconfirmed          = payrollerr.New(payrollerr.ErrPersistenceFailure, "settlement_write_unconfirmed")
	ErrNotFound             = payrollerr.New(payrollerr.ErrNotFound, "settlement_not_found")
	ErrPayslipUnavailable   = payrollerr.New(payrollerr.ErrInvalidState, "payslip_renderer_unavailable")
)

// PayslipRenderer turns a settlement into a printable document.
type PayslipRenderer interface {
	RenderPayslip(ctx context.Context, settlement SalarySettlement) ([]byte, error)
}
