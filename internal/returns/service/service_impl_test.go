package service

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/repairpay/internal/audit/domain"
	auditrepository "github.com/smallbiznis/repairpay/internal/audit/repository"
	auditservice "github.com/smallbiznis/repairpay/internal/audit/service"
	"github.com/smallbiznis/repairpay/internal/commission"
	"github.com/smallbiznis/repairpay/internal/events"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
	orderrepository "github.com/smallbiznis/repairpay/internal/order/repository"
	orderservice "github.com/smallbiznis/repairpay/internal/order/service"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"github.com/smallbiznis/repairpay/internal/returns/domain"
	"github.com/smallbiznis/repairpay/internal/returns/repository"
	"github.com/smallbiznis/repairpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const technician = snowflake.ID(11)

type fixture struct {
	returns domain.Service
	orders  orderdomain.Service
	audit   auditdomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := testutil.NewClock()
	log := zaptest.NewLogger(t)
	authz := testutil.NewAuthorizer(t, db)
	outbox := events.NewOutbox(node)
	orderRepo := orderrepository.Provide()

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})
	orders := orderservice.NewService(orderservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  clk,
		Repo:   orderRepo,
		Policy: commission.StaticPolicy(commission.DefaultPolicy),
		Authz:  authz,
		Outbox: outbox,
	})
	returns := NewService(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Repo:      repository.Provide(),
		OrderRepo: orderRepo,
		Authz:     authz,
		AuditSvc:  auditSvc,
		Outbox:    outbox,
	})
	return fixture{returns: returns, orders: orders, audit: auditSvc}
}

func (f fixture) order(t *testing.T, total int64, paid bool) orderdomain.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(testutil.AdminContext(), orderdomain.CreateOrderRequest{
		TechnicianID:  technician,
		PaymentMethod: "cash",
		TotalPrice:    total,
		HasReceipt:    paid,
	})
	require.NoError(t, err)
	return order
}

func TestForWeek_CountsOnlyOrdersThatWerePaid(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.AdminContext()

	paid := f.order(t, 37_500, true)
	_, err := f.orders.MarkReturned(ctx, paid.ID)
	require.NoError(t, err)
	neverPaid := f.order(t, 50_000, false)
	_, err = f.orders.MarkCancelled(ctx, neverPaid.ID)
	require.NoError(t, err)

	week := payoutweek.WeekRange(testutil.DefaultNow)
	got, err := f.returns.ForWeek(ctx, technician, week)
	require.NoError(t, err)
	require.Len(t, got.Orders, 1)
	assert.Equal(t, paid.ID, got.Orders[0].ID)
	assert.Equal(t, int64(15_000), got.Total)

	pending, err := f.returns.PendingReturns(ctx, technician, nil)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.Equal(t, int64(35_000), f.returns.ReturnsTotal(pending))
}

func TestSettleReturns_KeepsWeekTotals(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.AdminContext()
	week := payoutweek.WeekRange(testutil.DefaultNow)
	epoch := payoutweek.EpochOf(testutil.DefaultNow)

	paid := f.order(t, 37_500, true)
	_, err := f.orders.MarkReturned(ctx, paid.ID)
	require.NoError(t, err)

	before, err := f.returns.ForWeek(ctx, technician, week)
	require.NoError(t, err)

	result, err := f.returns.SettleReturns(ctx, technician, week.Start, week.End)
	require.NoError(t, err)
	require.Len(t, result.Closed, 1)
	assert.Equal(t, paid.ID, result.Closed[0].OrderID)
	assert.Equal(t, int64(15_000), result.Total)

	_, err = f.orders.GetByID(ctx, paid.ID)
	assert.ErrorIs(t, err, orderdomain.ErrNotFound)

	after, err := f.returns.ForWeek(ctx, technician, week)
	require.NoError(t, err)
	assert.Equal(t, before.Total, after.Total)
	assert.Empty(t, after.Orders)
	assert.Len(t, after.Closed, 1)

	earned, err := f.returns.ClosedEarnedForEpoch(ctx, technician, epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(15_000), earned)

	logs, err := f.audit.List(ctx, auditdomain.ListAuditLogRequest{TechnicianID: ptr(technician)})
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "returns.settled")
}

func TestSettleReturns_Errors(t *testing.T) {
	f := newFixture(t)
	week := payoutweek.WeekRange(testutil.DefaultNow)

	_, err := f.returns.SettleReturns(testutil.AdminContext(), technician, week.Start, week.End)
	assert.ErrorIs(t, err, domain.ErrNothingToSettle)

	_, err = f.returns.SettleReturns(testutil.AdminContext(), technician, week.End, week.Start)
	assert.ErrorIs(t, err, payrollerr.ErrInvalidInput)

	_, err = f.returns.SettleReturns(testutil.TechnicianContext(technician), technician, week.Start, week.End)
	assert.ErrorIs(t, err, payrollerr.ErrForbidden)
}

func ptr[T any](v T) *T { return &v }
