package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/commission"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusReturned  Status = "returned"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusReturned || s == StatusCancelled
}

// Order is one repair job.
//
// PaidAt, PayoutWeek and PayoutYear are written together on the first
// transition to paid and never again. CreatedAt is the editable business
// date; OriginalCreatedAt is the immutable first-save timestamp.
type Order struct {
	ID                snowflake.ID             `gorm:"primaryKey" json:"id"`
	TechnicianID      snowflake.ID             `gorm:"not null;index" json:"technician_id"`
	Status            Status                   `gorm:"type:text;not null;index" json:"status"`
	PaymentMethod     commission.PaymentMethod `gorm:"type:text;not null;default:''" json:"payment_method"`
	ReplacementCost   int64                    `gorm:"not null;default:0" json:"replacement_cost"`
	TotalPrice        int64                    `gorm:"not null;default:0" json:"total_price"`
	CommissionAmount  int64                    `gorm:"not null;default:0" json:"commission_amount"`
	CustomerName      string                   `gorm:"type:text" json:"customer_name,omitempty"`
	Device            string                   `gorm:"type:text" json:"device,omitempty"`
	Description       string                   `gorm:"type:text" json:"description,omitempty"`
	CreatedAt         time.Time                `gorm:"not null" json:"created_at"`
	OriginalCreatedAt time.Time                `gorm:"not null;autoCreateTime:false" json:"original_created_at"`
	PaidAt            *time.Time               `json:"paid_at,omitempty"`
	PayoutWeek        *int                     `gorm:"index:idx_orders_payout_epoch,priority:2" json:"payout_week,omitempty"`
	PayoutYear        *int                     `gorm:"index:idx_orders_payout_epoch,priority:1" json:"payout_year,omitempty"`
	ReturnedAt        *time.Time               `json:"returned_at,omitempty"`
	CancelledAt       *time.Time               `json:"cancelled_at,omitempty"`
	UpdatedAt         time.Time                `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// Epoch returns the permanent payout epoch, or nil if the order was never paid.
func (o Order) Epoch() *payoutweek.Epoch {
	if o.PayoutWeek == nil || o.PayoutYear == nil {
		return nil
	}
	return &payoutweek.Epoch{Week: *o.PayoutWeek, Year: *o.PayoutYear}
}

// ClosedAt is the returned or cancelled timestamp, whichever is set.
func (o Order) ClosedAt() *time.Time {
	if o.ReturnedAt != nil {
		return o.ReturnedAt
	}
	return o.CancelledAt
}

// OrderNote is a free-form note attached to an order. Notes are removed with their order.
type OrderNote struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID   snowflake.ID `gorm:"not null;index" json:"order_id"`
	Body      string       `gorm:"type:text;not null" json:"body"`
	CreatedBy string       `gorm:"type:text;not null" json:"created_by"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (OrderNote) TableName() string { return "order_notes" }
