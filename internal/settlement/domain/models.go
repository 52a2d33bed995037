package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	adjustmentdomain "github.com/smallbiznis/repairpay/internal/adjustment/domain"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	returnsdomain "github.com/smallbiznis/repairpay/internal/returns/domain"
	"gorm.io/datatypes"
)

type PaymentMethod string

const (
	PaymentMethodCash            PaymentMethod = "cash"
	PaymentMethodTransfer        PaymentMethod = "transfer"
	PaymentMethodCashAndTransfer PaymentMethod = "cash_and_transfer"
)

// SalarySettlement is an append-only payroll payment for one technician and payout week.
//
// DeductedAmount is the sum of adjustment applications recorded with this
// settlement; together with Amount it is what the payment consumed of the week.
type SalarySettlement struct {
	ID             snowflake.ID                          `gorm:"primaryKey" json:"id"`
	TechnicianID   snowflake.ID                          `gorm:"not null;index:idx_settlements_week,priority:1" json:"technician_id"`
	WeekStart      time.Time                             `gorm:"not null;index:idx_settlements_week,priority:2" json:"week_start"`
	Amount         int64                                 `gorm:"not null" json:"amount"`
	DeductedAmount int64                                 `gorm:"not null;default:0" json:"deducted_amount"`
	PaymentMethod  PaymentMethod                         `gorm:"type:text;not null" json:"payment_method"`
	Details        datatypes.JSONType[SettlementDetails] `json:"details"`
	CreatedBy      string                                `gorm:"type:text;not null" json:"created_by"`
	CreatedAt      time.Time                             `gorm:"not null" json:"created_at"`
}

func (SalarySettlement) TableName() string { return "salary_settlements" }

type AppliedAdjustment struct {
	AdjustmentID   string    `json:"adjustment_id"`
	Type           string    `json:"type"`
	CreatedAt      time.Time `json:"created_at"`
	RemainingAfter int64     `json:"remaining_after"`
	Applied        int64     `json:"applied"`
}

type OmittedAdjustment struct {
	AdjustmentID string `json:"adjustment_id"`
	Type         string `json:"type"`
	Remaining    int64  `json:"remaining"`
	Reason       string `json:"reason"`
}

const (
	OmitReasonNotAvailable = "not_available"
	OmitReasonNotNeeded    = "not_needed"
)

type CarriedOver struct {
	AdjustmentID  string    `json:"adjustment_id"`
	Amount        int64     `json:"amount"`
	AvailableFrom time.Time `json:"available_from"`
}

type PaymentSplit struct {
	Cash     int64 `json:"cash"`
	Transfer int64 `json:"transfer"`
}

// SettlementDetails is the breakdown stored with each settlement.
type SettlementDetails struct {
	BaseAmount       int64               `json:"base_amount"`
	GrossEarned      int64               `json:"gross_earned"`
	ReturnsTotal     int64               `json:"returns_total"`
	AlreadySettled   int64               `json:"already_settled"`
	DeferredHoldback int64               `json:"deferred_holdback"`
	DesiredDeduction int64               `json:"desired_deduction"`
	Applied          []AppliedAdjustment `json:"applied,omitempty"`
	Omitted          []OmittedAdjustment `json:"omitted,omitempty"`
	CarriedOver      []CarriedOver       `json:"carried_over,omitempty"`
	Split            *PaymentSplit       `json:"split,omitempty"`
	SourceOrderIDs   []string            `json:"source_order_ids,omitempty"`
	// SincePaidAt is the latest paid_at covered by this settlement.
	SincePaidAt *time.Time `json:"since_paid_at,omitempty"`
	Note        string     `json:"note,omitempty"`
}

// Allocation is the share of a deduction assigned to one adjustment.
type Allocation struct {
	AdjustmentID snowflake.ID `json:"adjustment_id"`
	Amount       int64        `json:"amount"`
}

// WeekSummary is the payable state of a technician for one payout week.
type WeekSummary struct {
	TechnicianID snowflake.ID     `json:"technician_id"`
	Week         payoutweek.Range `json:"week"`
	Epoch        payoutweek.Epoch `json:"epoch"`

	GrossEarned     int64 `json:"gross_earned"`
	ReturnsTotal    int64 `json:"returns_total"`
	AlreadySettled  int64 `json:"already_settled"`
	AlreadyDeducted int64 `json:"already_deducted"`
	// GrossAvailableSigned may go negative after a late return; GrossAvailable is clamped at zero.
	GrossAvailableSigned     int64 `json:"gross_available_signed"`
	GrossAvailable           int64 `json:"gross_available"`
	TotalAdjustable          int64 `json:"total_adjustable"`
	DeferredHoldback         int64 `json:"deferred_holdback"`
	SelectedAdjustmentsTotal int64 `json:"selected_adjustments_total"`
	MinPayable               int64 `json:"min_payable"`
	MaxPayable               int64 `json:"max_payable"`
	NetRemaining             int64 `json:"net_remaining"`
	// SettleLimit is the largest amount Settle accepts: the net remaining with no adjustment selected.
	SettleLimit int64 `json:"settle_limit"`

	Available    []adjustmentdomain.AdjustmentWithRemaining `json:"available_adjustments"`
	Deferred     []adjustmentdomain.AdjustmentWithRemaining `json:"deferred_adjustments"`
	EarnedOrders []orderdomain.Order                        `json:"earned_orders"`
	Returns      returnsdomain.WeekReturns                  `json:"returns"`
	Settlements  []SalarySettlement                         `json:"settlements"`
	// UnsettledOrderIDs are paid orders newer than the last settlement's cursor.
	UnsettledOrderIDs []string   `json:"unsettled_order_ids"`
	SincePaidAt       *time.Time `json:"since_paid_at,omitempty"`
}
