package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
)

// BoardRow is one technician's payroll position for a payout week.
type BoardRow struct {
	TechnicianID    snowflake.ID `db:"technician_id" json:"technician_id"`
	GrossEarned     int64        `db:"gross_earned" json:"gross_earned"`
	ReturnsTotal    int64        `db:"returns_total" json:"returns_total"`
	Settled         int64        `db:"settled" json:"settled"`
	Deducted        int64        `db:"deducted" json:"deducted"`
	SettlementCount int64        `db:"settlement_count" json:"settlement_count"`
	// DeferredHoldback is the unapplied remainder of adjustments that only
	// become available in a later week.
	DeferredHoldback int64 `db:"deferred_holdback" json:"deferred_holdback"`
	// Outstanding matches the settle limit: earned less returns, settlements,
	// deductions and the deferred holdback, floored at zero.
	Outstanding int64 `db:"-" json:"outstanding"`
}

// Board is the weekly payroll overview across technicians.
type Board struct {
	Week   payoutweek.Range `json:"week"`
	Epoch  payoutweek.Epoch `json:"epoch"`
	Rows   []BoardRow       `json:"rows"`
	Totals BoardRow         `json:"totals"`
}

type Service interface {
	WeeklyBoard(ctx context.Context, weekRef time.Time) (Board, error)
}

var ErrInvalidWeek = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_report_week")
