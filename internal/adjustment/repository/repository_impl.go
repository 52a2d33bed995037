package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/adjustment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, adjustment *domain.SalaryAdjustment) error {
	return db.WithContext(ctx).Create(adjustment).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, adjustment *domain.SalaryAdjustment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE salary_adjustments SET note = ?, available_from = ?, updated_at = ? WHERE id = ?`,
		adjustment.Note,
		adjustment.AvailableFrom,
		adjustment.UpdatedAt,
		adjustment.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SalaryAdjustment, error) {
	var adjustment domain.SalaryAdjustment
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM salary_adjustments WHERE id = ?`,
		id,
	).Scan(&adjustment).Error
	if err != nil {
		return nil, err
	}
	if adjustment.ID == 0 {
		return nil, nil
	}
	return &adjustment, nil
}

// FindByIDsForUpdate locks rows in id order.
func (r *repo) FindByIDsForUpdate(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*domain.SalaryAdjustment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var adjustments []*domain.SalaryAdjustment
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id asc").
		Find(&adjustments).Error
	if err != nil {
		return nil, err
	}
	return adjustments, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.SalaryAdjustment, error) {
	var adjustments []*domain.SalaryAdjustment
	stmt := db.WithContext(ctx).
		Model(&domain.SalaryAdjustment{}).
		Where("technician_id = ?", filter.TechnicianID)
	if filter.CreatedBefore != nil {
		stmt = stmt.Where("created_at < ?", filter.CreatedBefore.UTC())
	}
	if filter.CreatedAfter != nil {
		stmt = stmt.Where("created_at > ?", filter.CreatedAfter.UTC())
	}
	if err := stmt.Order("created_at asc, id asc").Find(&adjustments).Error; err != nil {
		return nil, err
	}
	return adjustments, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.SalaryAdjustment{}).Error
}

func (r *repo) InsertApplications(ctx context.Context, db *gorm.DB, applications []*domain.SalaryAdjustmentApplication) error {
	if len(applications) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&applications).Error
}

func (r *repo) ListApplications(ctx context.Context, db *gorm.DB, adjustmentID snowflake.ID) ([]*domain.SalaryAdjustmentApplication, error) {
	var applications []*domain.SalaryAdjustmentApplication
	err := db.WithContext(ctx).
		Where("adjustment_id = ?", adjustmentID).
		Order("created_at asc, id asc").
		Find(&applications).Error
	if err != nil {
		return nil, err
	}
	return applications, nil
}

func (r *repo) SumApplied(ctx context.Context, db *gorm.DB, adjustmentIDs []snowflake.ID) (map[snowflake.ID]int64, error) {
	sums := make(map[snowflake.ID]int64, len(adjustmentIDs))
	if len(adjustmentIDs) == 0 {
		return sums, nil
	}

	var rows []struct {
		AdjustmentID snowflake.ID
		Applied      int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT adjustment_id, COALESCE(SUM(applied_amount), 0) AS applied
		 FROM salary_adjustment_applications
		 WHERE adjustment_id IN ?
		 GROUP BY adjustment_id`,
		adjustmentIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		sums[row.AdjustmentID] = row.Applied
	}
	return sums, nil
}

func (r *repo) DeleteApplications(ctx context.Context, db *gorm.DB, adjustmentID snowflake.ID) error {
	return db.WithContext(ctx).
		Where("adjustment_id = ?", adjustmentID).
		Delete(&domain.SalaryAdjustmentApplication{}).Error
}
