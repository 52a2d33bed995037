package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/returns/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, closed []*domain.ClosedReturn) error {
	if len(closed) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&closed).Error
}

func (r *repo) ListByClosedWeek(ctx context.Context, db *gorm.DB, technicianID snowflake.ID, weekStart time.Time) ([]*domain.ClosedReturn, error) {
	var closed []*domain.ClosedReturn
	err := db.WithContext(ctx).
		Where("technician_id = ? AND closed_week_start = ?", technicianID, weekStart.UTC()).
		Order("closed_at asc, id asc").
		Find(&closed).Error
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (r *repo) SumEarnedForEpoch(ctx context.Context, db *gorm.DB, technicianID snowflake.ID, epoch payoutweek.Epoch) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(commission_amount), 0)
		 FROM closed_returns
		 WHERE technician_id = ? AND payout_week = ? AND payout_year = ?`,
		technicianID,
		epoch.Week,
		epoch.Year,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
