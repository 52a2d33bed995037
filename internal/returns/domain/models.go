package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
)

// ClosedReturn keeps the payroll footprint of a returned or cancelled order
// after SettleReturns hard-deletes it, so the week it was earned in and the
// week it was clawed back in both keep their totals.
type ClosedReturn struct {
	ID               snowflake.ID       `gorm:"primaryKey" json:"id"`
	OrderID          snowflake.ID       `gorm:"not null;uniqueIndex" json:"order_id"`
	TechnicianID     snowflake.ID       `gorm:"not null;index" json:"technician_id"`
	Status           orderdomain.Status `gorm:"type:text;not null" json:"status"`
	CommissionAmount int64              `gorm:"not null" json:"commission_amount"`
	TotalPrice       int64              `gorm:"not null" json:"total_price"`
	PayoutWeek       *int               `json:"payout_week,omitempty"`
	PayoutYear       *int               `json:"payout_year,omitempty"`
	ClosedAt         time.Time          `gorm:"not null" json:"closed_at"`
	ClosedWeekStart  time.Time          `gorm:"not null;index" json:"closed_week_start"`
	SettledBy        string             `gorm:"type:text;not null" json:"settled_by"`
	SettledAt        time.Time          `gorm:"not null" json:"settled_at"`
}

func (ClosedReturn) TableName() string { return "closed_returns" }

// WasPaid reports whether the order had reached paid before it was closed.
func (c ClosedReturn) WasPaid() bool {
	return c.PayoutWeek != nil && c.PayoutYear != nil
}

// WeekReturns is the clawback charged against one payout week.
type WeekReturns struct {
	Week   payoutweek.Range    `json:"week"`
	Orders []orderdomain.Order `json:"orders"`
	Closed []ClosedReturn      `json:"closed"`
	Total  int64               `json:"total"`
}

type SettleReturnsResult struct {
	Closed []ClosedReturn `json:"closed"`
	Total  int64          `json:"total"`
}
