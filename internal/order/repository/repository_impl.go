package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/order/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Save(order).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM orders WHERE id = ?`,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.OrderFilter) ([]*domain.Order, error) {
	var orders []*domain.Order
	stmt := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("technician_id = ?", filter.TechnicianID)
	if len(filter.Statuses) > 0 {
		stmt = stmt.Where("status IN ?", filter.Statuses)
	}
	if filter.PayoutWeek != nil {
		stmt = stmt.Where("payout_week = ?", *filter.PayoutWeek)
	}
	if filter.PayoutYear != nil {
		stmt = stmt.Where("payout_year = ?", *filter.PayoutYear)
	}
	if filter.PaidAfter != nil {
		stmt = stmt.Where("paid_at > ?", filter.PaidAfter.UTC())
	}
	if filter.CreatedAfter != nil {
		stmt = stmt.Where("created_at > ?", filter.CreatedAfter.UTC())
	}
	if filter.ClosedFrom != nil {
		stmt = stmt.Where("COALESCE(returned_at, cancelled_at) >= ?", filter.ClosedFrom.UTC())
	}
	if filter.ClosedBefore != nil {
		stmt = stmt.Where("COALESCE(returned_at, cancelled_at) < ?", filter.ClosedBefore.UTC())
	}

	stmt = stmt.Order("created_at asc, id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&domain.Order{})
	return result.RowsAffected, result.Error
}

func (r *repo) InsertNote(ctx context.Context, db *gorm.DB, note *domain.OrderNote) error {
	return db.WithContext(ctx).Create(note).Error
}

func (r *repo) ListNotes(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]*domain.OrderNote, error) {
	var notes []*domain.OrderNote
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at asc, id asc").
		Find(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (r *repo) DeleteNotes(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID) error {
	if len(orderIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Where("order_id IN ?", orderIDs).
		Delete(&domain.OrderNote{}).Error
}
