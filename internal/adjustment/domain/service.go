package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"gorm.io/gorm"
)

type CreateAdjustmentRequest struct {
	TechnicianID snowflake.ID
	Type         string
	Amount       int64
	Note         string
	// AvailableFrom defaults to the creation date.
	AvailableFrom *time.Time
}

type ApplicationEntry struct {
	AdjustmentID  snowflake.ID
	WeekStart     time.Time
	AppliedAmount int64
}

type Service interface {
	CreateAdjustment(ctx context.Context, req CreateAdjustmentRequest) (SalaryAdjustment, error)
	PendingFor(ctx context.Context, technicianID snowflake.ID, weekRef time.Time, sinceCreatedAt *time.Time) ([]AdjustmentWithRemaining, error)
	RecordApplications(ctx context.Context, entries []ApplicationEntry) ([]SalaryAdjustmentApplication, error)
	// RecordApplicationsTx runs inside the caller's transaction and tags rows with settlementID.
	RecordApplicationsTx(ctx context.Context, tx *gorm.DB, settlementID *snowflake.ID, entries []ApplicationEntry) ([]SalaryAdjustmentApplication, error)
	DeferRemainder(ctx context.Context, adjustmentID snowflake.ID, leftover int64, nextAvailableFrom time.Time) (SalaryAdjustment, error)
	DeferRemainderTx(ctx context.Context, tx *gorm.DB, adjustmentID snowflake.ID, leftover int64, nextAvailableFrom time.Time) (SalaryAdjustment, error)
	DeleteAdjustment(ctx context.Context, technicianID, adjustmentID snowflake.ID) error

	GetByID(ctx context.Context, adjustmentID snowflake.ID) (AdjustmentWithRemaining, error)
	ListApplications(ctx context.Context, adjustmentID snowflake.ID) ([]SalaryAdjustmentApplication, error)
}

var (
	ErrInvalidID         = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_adjustment_id")
	ErrInvalidTechnician = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_technician")
	ErrInvalidType       = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_adjustment_type")
	ErrInvalidAmount     = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_adjustment_amount")
	ErrInvalidDeferral   = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_deferral")
	ErrExceedsRemaining  = payrollerr.New(payrollerr.ErrConflict, "application_exceeds_remaining")
	ErrNotFound          = payrollerr.New(payrollerr.ErrNotFound, "adjustment_not_found")
)
