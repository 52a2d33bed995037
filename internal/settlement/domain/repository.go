package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	TechnicianID snowflake.ID
	WeekStart    *time.Time
	Limit        int
}

// WeekTotals is what existing settlements already consumed of a week.
type WeekTotals struct {
	Settled  int64
	Deducted int64
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, settlement *SalarySettlement) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SalarySettlement, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*SalarySettlement, error)
	SumForWeek(ctx context.Context, db *gorm.DB, technicianID snowflake.ID, weekStart time.Time) (WeekTotals, error)
	// LockWeek serializes settlements of one technician's week until the
	// surrounding transaction ends. db must be a transaction.
	LockWeek(ctx context.Context, db *gorm.DB, technicianID snowflake.ID, weekStart time.Time) error
}
