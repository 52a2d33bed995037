package service

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/smallbiznis/repairpay/internal/authorization"
	"github.com/smallbiznis/repairpay/internal/config"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"github.com/smallbiznis/repairpay/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Authz  authorization.Service
	Config config.Config
}

type Service struct {
	db    *sqlx.DB
	log   *zap.Logger
	authz authorization.Service
}

// NewService shares the gorm connection pool with sqlx for the read-model queries.
func NewService(p Params) (domain.Service, error) {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return nil, err
	}
	return &Service{
		db:    sqlx.NewDb(sqlDB, driverName(p.Config.DBType)),
		log:   p.Log.Named("report.service"),
		authz: p.Authz,
	}, nil
}

func driverName(dbType string) string {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "postgres":
		return "pgx"
	case "mysql":
		return "mysql"
	default:
		return "sqlite3"
	}
}

// Each branch contributes one measure per row; the outer query folds them per technician.
// The holdback branch mirrors the settlement summary: adjustments created
// before the week ends but not available until a later week.
const boardQuery = `
SELECT technician_id,
       CAST(SUM(earned) AS BIGINT)      AS gross_earned,
       CAST(SUM(returned) AS BIGINT)    AS returns_total,
       CAST(SUM(settled) AS BIGINT)     AS settled,
       CAST(SUM(deducted) AS BIGINT)    AS deducted,
       CAST(SUM(settlements) AS BIGINT) AS settlement_count,
       CAST(SUM(holdback) AS BIGINT)    AS deferred_holdback
FROM (
    SELECT technician_id, commission_amount AS earned, 0 AS returned, 0 AS settled, 0 AS deducted, 0 AS settlements, 0 AS holdback
    FROM orders
    WHERE payout_week = ? AND payout_year = ? AND status IN (?)
    UNION ALL
    SELECT technician_id, commission_amount, 0, 0, 0, 0, 0
    FROM closed_returns
    WHERE payout_week = ? AND payout_year = ?
    UNION ALL
    SELECT technician_id, 0, commission_amount, 0, 0, 0, 0
    FROM orders
    WHERE status IN (?) AND payout_week IS NOT NULL
      AND COALESCE(returned_at, cancelled_at) >= ? AND COALESCE(returned_at, cancelled_at) < ?
    UNION ALL
    SELECT technician_id, 0, commission_amount, 0, 0, 0, 0
    FROM closed_returns
    WHERE closed_week_start = ? AND payout_week IS NOT NULL
    UNION ALL
    SELECT technician_id, 0, 0, amount, deducted_amount, 1, 0
    FROM salary_settlements
    WHERE week_start = ?
    UNION ALL
    SELECT a.technician_id, 0, 0, 0, 0, 0, a.amount - COALESCE(applied.total, 0)
    FROM salary_adjustments a
    LEFT JOIN (
        SELECT adjustment_id, SUM(applied_amount) AS total
        FROM salary_adjustment_applications
        GROUP BY adjustment_id
    ) applied ON applied.adjustment_id = a.id
    WHERE a.created_at < ? AND a.available_from >= ?
      AND a.amount > COALESCE(applied.total, 0)
) board
GROUP BY technician_id
ORDER BY technician_id`

func (s *Service) WeeklyBoard(ctx context.Context, weekRef time.Time) (domain.Board, error) {
	if weekRef.IsZero() {
		return domain.Board{}, domain.ErrInvalidWeek
	}
	if err := s.authz.Authorize(ctx, authorization.ObjectReport, authorization.ActionReportView); err != nil {
		return domain.Board{}, err
	}

	week := payoutweek.WeekRange(weekRef)
	epoch := payoutweek.EpochOf(week.Start)
	next := week.Next()

	earnedStatuses := []string{string(orderdomain.StatusPaid), string(orderdomain.StatusReturned), string(orderdomain.StatusCancelled)}
	closedStatuses := []string{string(orderdomain.StatusReturned), string(orderdomain.StatusCancelled)}

	query, args, err := sqlx.In(boardQuery,
		epoch.Week, epoch.Year, earnedStatuses,
		epoch.Week, epoch.Year,
		closedStatuses, week.Start, next,
		week.Start,
		week.Start,
		next, next,
	)
	if err != nil {
		return domain.Board{}, payrollerr.Persistence("build weekly board query", err)
	}

	var rows []domain.BoardRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return domain.Board{}, payrollerr.Persistence("query weekly board", err)
	}

	board := domain.Board{Week: week, Epoch: epoch, Rows: make([]domain.BoardRow, 0, len(rows))}
	for _, row := range rows {
		row.Outstanding = max(row.GrossEarned-row.ReturnsTotal-row.Settled-row.Deducted-row.DeferredHoldback, 0)
		board.Totals.GrossEarned += row.GrossEarned
		board.Totals.ReturnsTotal += row.ReturnsTotal
		board.Totals.Settled += row.Settled
		board.Totals.Deducted += row.Deducted
		board.Totals.SettlementCount += row.SettlementCount
		board.Totals.DeferredHoldback += row.DeferredHoldback
		board.Totals.Outstanding += row.Outstanding
		board.Rows = append(board.Rows, row)
	}

	s.log.Debug("weekly board built",
		zap.String("week_start", payoutweek.FormatDate(week.Start)),
		zap.Int("technicians", len(board.Rows)),
	)
	return board, nil
}
