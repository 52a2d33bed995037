package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Type string

const (
	TypeAdvance  Type = "advance"
	TypeDiscount Type = "discount"
)

// SalaryAdjustment is an advance or discount deducted from a technician's pay.
// Remaining is never stored; it is Amount minus the sum of applications.
type SalaryAdjustment struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	TechnicianID  snowflake.ID `gorm:"not null;index" json:"technician_id"`
	Type          Type         `gorm:"type:text;not null" json:"type"`
	Amount        int64        `gorm:"not null" json:"amount"`
	Note          string       `gorm:"type:text" json:"note,omitempty"`
	CreatedBy     string       `gorm:"type:text;not null" json:"created_by"`
	CreatedAt     time.Time    `gorm:"not null;index" json:"created_at"`
	AvailableFrom time.Time    `gorm:"not null" json:"available_from"`
	UpdatedAt     time.Time    `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (SalaryAdjustment) TableName() string { return "salary_adjustments" }

// SalaryAdjustmentApplication is one partial consumption of an adjustment by a settlement.
type SalaryAdjustmentApplication struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	AdjustmentID  snowflake.ID  `gorm:"not null;index" json:"adjustment_id"`
	SettlementID  *snowflake.ID `gorm:"index" json:"settlement_id,omitempty"`
	WeekStart     time.Time     `gorm:"not null;index" json:"week_start"`
	AppliedAmount int64         `gorm:"not null" json:"applied_amount"`
	CreatedAt     time.Time     `gorm:"not null" json:"created_at"`
}

func (SalaryAdjustmentApplication) TableName() string { return "salary_adjustment_applications" }

type AdjustmentWithRemaining struct {
	SalaryAdjustment
	Applied   int64 `json:"applied"`
	Remaining int64 `json:"remaining"`
	// IsAvailableThisWeek is false while AvailableFrom lies after the reference week.
	IsAvailableThisWeek bool `json:"is_available_this_week"`
	CreatedThisWeek     bool `json:"created_this_week"`
}

// Remaining clamps amount - applied at zero.
func Remaining(amount, applied int64) int64 {
	if rem := amount - applied; rem > 0 {
		return rem
	}
	return 0
}
