package service_test

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	adjustmentdomain "github.com/smallbiznis/repairpay/internal/adjustment/domain"
	"github.com/smallbiznis/repairpay/internal/config"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"github.com/smallbiznis/repairpay/internal/report/domain"
	"github.com/smallbiznis/repairpay/internal/report/service"
	returnsdomain "github.com/smallbiznis/repairpay/internal/returns/domain"
	settlementdomain "github.com/smallbiznis/repairpay/internal/settlement/domain"
	"github.com/smallbiznis/repairpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	svc, err := service.NewService(service.Params{
		DB:     db,
		Log:    zaptest.NewLogger(t),
		Authz:  testutil.NewAuthorizer(t, db),
		Config: config.Config{DBType: "sqlite"},
	})
	require.NoError(t, err)
	return svc, db
}

func paidOrder(id, tech snowflake.ID, status orderdomain.Status, commission int64, paidAt time.Time) orderdomain.Order {
	week, year := payoutweek.PayoutEpoch(paidAt)
	return orderdomain.Order{
		ID:                id,
		TechnicianID:      tech,
		Status:            status,
		CommissionAmount:  commission,
		CreatedAt:         paidAt,
		OriginalCreatedAt: paidAt,
		PaidAt:            &paidAt,
		PayoutWeek:        &week,
		PayoutYear:        &year,
		UpdatedAt:         paidAt,
	}
}

func TestWeeklyBoard_AggregatesPerTechnician(t *testing.T) {
	svc, db := newService(t)
	week := payoutweek.WeekRange(testutil.DefaultNow)
	prevWeek := week.Start.AddDate(0, 0, -3)

	const techA, techB snowflake.ID = 100, 200

	returnedAt := week.Start.Add(2 * time.Hour)
	returned := paidOrder(3, techA, orderdomain.StatusReturned, 3000, prevWeek)
	returned.ReturnedAt = &returnedAt

	pending := orderdomain.Order{
		ID: 5, TechnicianID: techB, Status: orderdomain.StatusPending, CommissionAmount: 9999,
		CreatedAt: week.Start, OriginalCreatedAt: week.Start, UpdatedAt: week.Start,
	}

	require.NoError(t, db.Create([]orderdomain.Order{
		paidOrder(1, techA, orderdomain.StatusPaid, 10000, week.Start.Add(time.Hour)),
		paidOrder(2, techA, orderdomain.StatusPaid, 5000, week.Start.Add(26*time.Hour)),
		returned,
		paidOrder(4, techB, orderdomain.StatusPaid, 7000, week.Start.Add(3*time.Hour)),
		pending,
	}).Error)

	require.NoError(t, db.Create(&settlementdomain.SalarySettlement{
		ID:             10,
		TechnicianID:   techA,
		WeekStart:      week.Start,
		Amount:         4000,
		DeductedAmount: 1000,
		PaymentMethod:  "cash",
		CreatedBy:      "admin-1",
		CreatedAt:      week.Start.Add(30 * time.Hour),
	}).Error)

	board, err := svc.WeeklyBoard(testutil.AdminContext(), testutil.DefaultNow)
	require.NoError(t, err)

	assert.Equal(t, week.Start, board.Week.Start)
	assert.Equal(t, payoutweek.EpochOf(week.Start), board.Epoch)
	require.Len(t, board.Rows, 2)

	a := board.Rows[0]
	assert.Equal(t, techA, a.TechnicianID)
	assert.EqualValues(t, 15000, a.GrossEarned)
	assert.EqualValues(t, 3000, a.ReturnsTotal)
	assert.EqualValues(t, 4000, a.Settled)
	assert.EqualValues(t, 1000, a.Deducted)
	assert.EqualValues(t, 1, a.SettlementCount)
	assert.EqualValues(t, 7000, a.Outstanding)

	b := board.Rows[1]
	assert.Equal(t, techB, b.TechnicianID)
	assert.EqualValues(t, 7000, b.GrossEarned)
	assert.EqualValues(t, 7000, b.Outstanding)

	assert.EqualValues(t, 22000, board.Totals.GrossEarned)
	assert.EqualValues(t, 14000, board.Totals.Outstanding)
}

func TestWeeklyBoard_IncludesClosedReturnTombstones(t *testing.T) {
	svc, db := newService(t)
	week := payoutweek.WeekRange(testutil.DefaultNow)
	paidWeek, paidYear := payoutweek.PayoutEpoch(week.Start)

	require.NoError(t, db.Create(&returnsdomain.ClosedReturn{
		ID:               1,
		OrderID:          42,
		TechnicianID:     300,
		Status:           orderdomain.StatusCancelled,
		CommissionAmount: 2500,
		TotalPrice:       25000,
		PayoutWeek:       &paidWeek,
		PayoutYear:       &paidYear,
		ClosedAt:         week.Start.Add(5 * time.Hour),
		ClosedWeekStart:  week.Start,
		SettledBy:        "admin-1",
		SettledAt:        week.Start.Add(6 * time.Hour),
	}).Error)

	board, err := svc.WeeklyBoard(testutil.AdminContext(), testutil.DefaultNow)
	require.NoError(t, err)
	require.Len(t, board.Rows, 1)
	assert.EqualValues(t, 2500, board.Rows[0].GrossEarned)
	assert.EqualValues(t, 2500, board.Rows[0].ReturnsTotal)
	assert.EqualValues(t, 0, board.Rows[0].Outstanding)
}

func TestWeeklyBoard_OutstandingHoldsBackDeferredAdjustments(t *testing.T) {
	svc, db := newService(t)
	week := payoutweek.WeekRange(testutil.DefaultNow)
	next := week.Next()
	const tech snowflake.ID = 400

	require.NoError(t, db.Create([]orderdomain.Order{
		paidOrder(1, tech, orderdomain.StatusPaid, 10000, week.Start.Add(time.Hour)),
	}).Error)

	createdAt := week.Start.Add(2 * time.Hour)
	adjustment := func(id snowflake.ID, amount int64, availableFrom time.Time) adjustmentdomain.SalaryAdjustment {
		return adjustmentdomain.SalaryAdjustment{
			ID: id, TechnicianID: tech, Type: adjustmentdomain.TypeAdvance, Amount: amount,
			CreatedBy: "admin-1", CreatedAt: createdAt, AvailableFrom: availableFrom, UpdatedAt: createdAt,
		}
	}
	require.NoError(t, db.Create([]adjustmentdomain.SalaryAdjustment{
		adjustment(20, 3000, next),
		adjustment(21, 2000, next.AddDate(0, 0, 7)),
		// available this week, so it is deductible rather than held back
		adjustment(22, 1500, week.Start),
		// created after the week, ignored
		{
			ID: 23, TechnicianID: tech, Type: adjustmentdomain.TypeAdvance, Amount: 900,
			CreatedBy: "admin-1", CreatedAt: next.Add(time.Hour), AvailableFrom: next.AddDate(0, 0, 7), UpdatedAt: next,
		},
	}).Error)
	require.NoError(t, db.Create(&adjustmentdomain.SalaryAdjustmentApplication{
		ID: 30, AdjustmentID: 21, WeekStart: week.Start.AddDate(0, 0, -7), AppliedAmount: 500, CreatedAt: createdAt,
	}).Error)

	board, err := svc.WeeklyBoard(testutil.AdminContext(), testutil.DefaultNow)
	require.NoError(t, err)
	require.Len(t, board.Rows, 1)

	row := board.Rows[0]
	assert.EqualValues(t, 10000, row.GrossEarned)
	assert.EqualValues(t, 4500, row.DeferredHoldback)
	assert.EqualValues(t, 5500, row.Outstanding)
	assert.EqualValues(t, 4500, board.Totals.DeferredHoldback)
	assert.EqualValues(t, 5500, board.Totals.Outstanding)
}

func TestWeeklyBoard_EmptyWeek(t *testing.T) {
	svc, _ := newService(t)

	board, err := svc.WeeklyBoard(testutil.AdminContext(), testutil.DefaultNow)
	require.NoError(t, err)
	assert.Empty(t, board.Rows)
	assert.Zero(t, board.Totals.GrossEarned)
}

func TestWeeklyBoard_TechnicianForbidden(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.WeeklyBoard(testutil.TechnicianContext(100), testutil.DefaultNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, payrollerr.ErrForbidden)
}

func TestWeeklyBoard_RejectsZeroWeek(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.WeeklyBoard(testutil.AdminContext(), time.Time{})
	assert.ErrorIs(t, err, domain.ErrInvalidWeek)
}
