package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
)

type Service interface {
	PendingReturns(ctx context.Context, technicianID snowflake.ID, sinceDate *time.Time) ([]orderdomain.Order, error)
	ReturnsTotal(orders []orderdomain.Order) int64
	// SettleReturns hard-deletes the returned and cancelled orders closed within [start, end].
	SettleReturns(ctx context.Context, technicianID snowflake.ID, start, end time.Time) (SettleReturnsResult, error)

	ForWeek(ctx context.Context, technicianID snowflake.ID, week payoutweek.Range) (WeekReturns, error)
	ClosedEarnedForEpoch(ctx context.Context, technicianID snowflake.ID, epoch payoutweek.Epoch) (int64, error)
}

var (
	ErrInvalidTechnician = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_technician")
	ErrInvalidRange      = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_date_range")
	ErrNothingToSettle   = payrollerr.New(payrollerr.ErrNotFound, "no_returns_to_settle")
)
