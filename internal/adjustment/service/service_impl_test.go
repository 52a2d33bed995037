package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/adjustment/domain"
	"github.com/smallbiznis/repairpay/internal/adjustment/repository"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/events"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"github.com/smallbiznis/repairpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const technician = snowflake.ID(7)

func newAdjustmentService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := testutil.NewClock()

	return NewService(Params{
		DB:     db,
		Log:    zaptest.NewLogger(t),
		GenID:  node,
		Clock:  clk,
		Repo:   repository.Provide(),
		Authz:  testutil.NewAuthorizer(t, db),
		Outbox: events.NewOutbox(node),
	}), clk
}

func create(t *testing.T, svc domain.Service, typ string, amount int64) domain.SalaryAdjustment {
	t.Helper()
	adj, err := svc.CreateAdjustment(testutil.AdminContext(), domain.CreateAdjustmentRequest{
		TechnicianID: technician,
		Type:         typ,
		Amount:       amount,
	})
	require.NoError(t, err)
	return adj
}

func TestCreateAdjustment_Defaults(t *testing.T) {
	svc, _ := newAdjustmentService(t)

	adj := create(t, svc, "Advance", 50_000)
	assert.Equal(t, domain.TypeAdvance, adj.Type)
	assert.Equal(t, "admin-1", adj.CreatedBy)
	assert.True(t, adj.AvailableFrom.Equal(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)))
}

func TestCreateAdjustment_Validation(t *testing.T) {
	svc, _ := newAdjustmentService(t)
	ctx := testutil.AdminContext()

	_, err := svc.CreateAdjustment(ctx, domain.CreateAdjustmentRequest{TechnicianID: technician, Type: "bonus", Amount: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidType)

	_, err = svc.CreateAdjustment(ctx, domain.CreateAdjustmentRequest{TechnicianID: technician, Type: "discount", Amount: 0})
	assert.ErrorIs(t, err, payrollerr.ErrInvalidInput)

	_, err = svc.CreateAdjustment(ctx, domain.CreateAdjustmentRequest{Type: "discount", Amount: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidTechnician)
}

func TestPendingFor_OldestFirstWithRemaining(t *testing.T) {
	svc, clk := newAdjustmentService(t)

	first := create(t, svc, "advance", 30_000)
	clk.Advance(time.Hour)
	second := create(t, svc, "discount", 20_000)
	clk.Advance(time.Hour)
	settledOff := create(t, svc, "discount", 5_000)

	_, err := svc.RecordApplications(testutil.AdminContext(), []domain.ApplicationEntry{
		{AdjustmentID: first.ID, WeekStart: testutil.DefaultNow, AppliedAmount: 10_000},
		{AdjustmentID: settledOff.ID, WeekStart: testutil.DefaultNow, AppliedAmount: 5_000},
	})
	require.NoError(t, err)

	pending, err := svc.PendingFor(testutil.AdminContext(), technician, testutil.DefaultNow, nil)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, int64(20_000), pending[0].Remaining)
	assert.Equal(t, second.ID, pending[1].ID)
	assert.True(t, pending[1].IsAvailableThisWeek)
	assert.True(t, pending[1].CreatedThisWeek)
}

func TestPendingFor_ExcludesLaterWeeks(t *testing.T) {
	svc, clk := newAdjustmentService(t)

	create(t, svc, "advance", 10_000)
	clk.Advance(8 * 24 * time.Hour)
	create(t, svc, "advance", 20_000)

	pending, err := svc.PendingFor(testutil.AdminContext(), technician, testutil.DefaultNow, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(10_000), pending[0].Remaining)
}

func TestRecordApplications_RejectsOverdraw(t *testing.T) {
	svc, _ := newAdjustmentService(t)
	ctx := testutil.AdminContext()

	adj := create(t, svc, "advance", 10_000)
	_, err := svc.RecordApplications(ctx, []domain.ApplicationEntry{
		{AdjustmentID: adj.ID, WeekStart: testutil.DefaultNow, AppliedAmount: 6_000},
		{AdjustmentID: adj.ID, WeekStart: testutil.DefaultNow, AppliedAmount: 6_000},
	})
	assert.ErrorIs(t, err, domain.ErrExceedsRemaining)
	assert.ErrorIs(t, err, payrollerr.ErrConflict)

	applications, err := svc.ListApplications(ctx, adj.ID)
	require.NoError(t, err)
	assert.Empty(t, applications)

	_, err = svc.RecordApplications(ctx, []domain.ApplicationEntry{
		{AdjustmentID: snowflake.ID(999), WeekStart: testutil.DefaultNow, AppliedAmount: 1},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordApplications_NormalisesWeekStart(t *testing.T) {
	svc, _ := newAdjustmentService(t)

	adj := create(t, svc, "advance", 10_000)
	apps, err := svc.RecordApplications(testutil.AdminContext(), []domain.ApplicationEntry{
		{AdjustmentID: adj.ID, WeekStart: testutil.DefaultNow.Add(30 * time.Hour), AppliedAmount: 4_000},
	})
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.True(t, apps[0].WeekStart.Equal(payoutweek.WeekStart(testutil.DefaultNow)))
	assert.Nil(t, apps[0].SettlementID)

	got, err := svc.GetByID(testutil.AdminContext(), adj.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4_000), got.Applied)
	assert.Equal(t, int64(6_000), got.Remaining)
}

func TestDeferRemainder_MovesAvailabilityAndKeepsAmount(t *testing.T) {
	svc, _ := newAdjustmentService(t)
	ctx := testutil.AdminContext()

	adj := create(t, svc, "advance", 10_000)
	next := payoutweek.NextWeekStart(testutil.DefaultNow)

	deferred, err := svc.DeferRemainder(ctx, adj.ID, 10_000, next)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), deferred.Amount)
	assert.True(t, deferred.AvailableFrom.Equal(next))
	assert.Contains(t, deferred.Note, "Remainder 10000 deferred to 2024-03-16")

	pending, err := svc.PendingFor(ctx, technician, testutil.DefaultNow, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.False(t, pending[0].IsAvailableThisWeek)

	_, err = svc.DeferRemainder(ctx, adj.ID, 10_000, next)
	assert.ErrorIs(t, err, domain.ErrInvalidDeferral)
	_, err = svc.DeferRemainder(ctx, adj.ID, 20_000, next.AddDate(0, 0, 7))
	assert.ErrorIs(t, err, domain.ErrExceedsRemaining)
}

func TestDeleteAdjustment(t *testing.T) {
	svc, _ := newAdjustmentService(t)
	ctx := testutil.AdminContext()

	adj := create(t, svc, "discount", 10_000)
	_, err := svc.RecordApplications(ctx, []domain.ApplicationEntry{
		{AdjustmentID: adj.ID, WeekStart: testutil.DefaultNow, AppliedAmount: 1_000},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteAdjustment(testutil.TechnicianContext(technician), technician, adj.ID), payrollerr.ErrForbidden)
	assert.ErrorIs(t, svc.DeleteAdjustment(ctx, snowflake.ID(8), adj.ID), domain.ErrNotFound)

	require.NoError(t, svc.DeleteAdjustment(ctx, technician, adj.ID))
	_, err = svc.GetByID(ctx, adj.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	applications, err := svc.ListApplications(ctx, adj.ID)
	require.NoError(t, err)
	assert.Empty(t, applications)
}
