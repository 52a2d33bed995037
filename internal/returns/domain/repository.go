package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, closed []*ClosedReturn) error
	ListByClosedWeek(ctx context.Context, db *gorm.DB, technicianID snowflake.ID, weekStart time.Time) ([]*ClosedReturn, error)
	SumEarnedForEpoch(ctx context.Context, db *gorm.DB, technicianID snowflake.ID, epoch payoutweek.Epoch) (int64, error)
}
