package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/lock"
	"github.com/smallbiznis/repairpay/internal/settlement/domain"
	dbpkg "github.com/smallbiznis/repairpay/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, settlement *domain.SalarySettlement) error {
	err := db.WithContext(ctx).Create(settlement).Error
	if dbpkg.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicate
	}
	return err
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SalarySettlement, error) {
	var settlements []domain.SalarySettlement
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&settlements).Error
	if err != nil {
		return nil, err
	}
	if len(settlements) == 0 {
		return nil, nil
	}
	return &settlements[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.SalarySettlement, error) {
	var settlements []*domain.SalarySettlement
	stmt := db.WithContext(ctx).
		Model(&domain.SalarySettlement{}).
		Where("technician_id = ?", filter.TechnicianID)
	if filter.WeekStart != nil {
		stmt = stmt.Where("week_start = ?", filter.WeekStart.UTC())
	}
	stmt = stmt.Order("created_at asc, id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if err := stmt.Find(&settlements).Error; err != nil {
		return nil, err
	}
	return settlements, nil
}

func (r *repo) SumForWeek(ctx context.Context, db *gorm.DB, technicianID snowflake.ID, weekStart time.Time) (domain.WeekTotals, error) {
	var totals domain.WeekTotals
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS settled, COALESCE(SUM(deducted_amount), 0) AS deducted
		 FROM salary_settlements
		 WHERE technician_id = ? AND week_start = ?`,
		technicianID,
		weekStart.UTC(),
	).Scan(&totals).Error
	if err != nil {
		return domain.WeekTotals{}, err
	}
	return totals, nil
}

func (r *repo) LockWeek(ctx context.Context, db *gorm.DB, technicianID snowflake.ID, weekStart time.Time) error {
	query, args, ok := weekLockStatement(db.Dialector.Name(), technicianID, weekStart)
	if !ok {
		return nil
	}
	var ids []int64
	return db.WithContext(ctx).Raw(query, args...).Scan(&ids).Error
}

// weekLockStatement returns the transaction-scoped lock for a payout week.
// Postgres takes an advisory lock released at commit; mysql takes next-key
// locks on the week's index range. SQLite allows a single writer, so no
// statement is needed.
func weekLockStatement(dialect string, technicianID snowflake.ID, weekStart time.Time) (string, []any, bool) {
	switch strings.ToLower(dialect) {
	case "postgres":
		return `SELECT 1 FROM (SELECT pg_advisory_xact_lock(hashtext(?))) AS week_lock`,
			[]any{lock.SettlementKey(technicianID, weekStart)}, true
	case "mysql":
		return `SELECT id FROM salary_settlements WHERE technician_id = ? AND week_start = ? FOR UPDATE`,
			[]any{technicianID, weekStart.UTC()}, true
	default:
		return "", nil, false
	}
}
