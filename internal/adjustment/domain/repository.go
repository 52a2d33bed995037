package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	TechnicianID  snowflake.ID
	CreatedBefore *time.Time
	CreatedAfter  *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, adjustment *SalaryAdjustment) error
	Update(ctx context.Context, db *gorm.DB, adjustment *SalaryAdjustment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SalaryAdjustment, error)
	FindByIDsForUpdate(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*SalaryAdjustment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*SalaryAdjustment, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	InsertApplications(ctx context.Context, db *gorm.DB, applications []*SalaryAdjustmentApplication) error
	ListApplications(ctx context.Context, db *gorm.DB, adjustmentID snowflake.ID) ([]*SalaryAdjustmentApplication, error)
	SumApplied(ctx context.Context, db *gorm.DB, adjustmentIDs []snowflake.ID) (map[snowflake.ID]int64, error)
	DeleteApplications(ctx context.Context, db *gorm.DB, adjustmentID snowflake.ID) error
}
