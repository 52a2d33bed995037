package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/authorization"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/commission"
	"github.com/smallbiznis/repairpay/internal/events"
	"github.com/smallbiznis/repairpay/internal/order/domain"
	"github.com/smallbiznis/repairpay/internal/order/repository"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"github.com/smallbiznis/repairpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const technician = snowflake.ID(42)

type fixture struct {
	svc   domain.Service
	db    *gorm.DB
	clock *clock.FakeClock
	bus   *events.Bus
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := testutil.NewClock()
	bus := events.NewBus(zaptest.NewLogger(t))

	svc := NewService(Params{
		DB:        db,
		Log:       zaptest.NewLogger(t),
		GenID:     node,
		Clock:     clk,
		Repo:      repository.Provide(),
		Policy:    commission.StaticPolicy(commission.DefaultPolicy),
		Authz:     testutil.NewAuthorizer(t, db),
		Outbox:    events.NewOutbox(node),
		Publisher: bus,
	})
	return fixture{svc: svc, db: db, clock: clk, bus: bus}
}

func (f fixture) create(t *testing.T, method string, total int64, paid bool) domain.Order {
	t.Helper()
	order, err := f.svc.CreateOrder(testutil.AdminContext(), domain.CreateOrderRequest{
		TechnicianID:    technician,
		PaymentMethod:   method,
		ReplacementCost: 10_000,
		TotalPrice:      total,
		CustomerName:    " Ana ",
		Device:          "Phone",
		HasReceipt:      paid,
	})
	require.NoError(t, err)
	return order
}

func TestCreateOrder_CommissionByPaymentMethod(t *testing.T) {
	f := newFixture(t)

	cash := f.create(t, "cash", 100_000, true)
	assert.Equal(t, int64(40_000), cash.CommissionAmount)
	assert.Equal(t, domain.StatusPaid, cash.Status)
	assert.Equal(t, "Ana", cash.CustomerName)

	card := f.create(t, "card", 100_000, true)
	assert.Equal(t, int64(32_400), card.CommissionAmount)

	pending := f.create(t, "", 100_000, false)
	assert.Equal(t, domain.StatusPending, pending.Status)
	assert.Zero(t, pending.CommissionAmount)
	assert.Nil(t, pending.Epoch())
}

func TestCreateOrder_AssignsEpochOfPaymentWeek(t *testing.T) {
	f := newFixture(t)

	order := f.create(t, "cash", 50_000, true)
	epoch := order.Epoch()
	require.NotNil(t, epoch)
	assert.Equal(t, payoutweek.EpochOf(testutil.DefaultNow), *epoch)
	require.NotNil(t, order.PaidAt)
	assert.True(t, order.PaidAt.Equal(testutil.DefaultNow))
}

func TestCreateOrder_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.AdminContext()

	_, err := f.svc.CreateOrder(ctx, domain.CreateOrderRequest{PaymentMethod: "cash", TotalPrice: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidTechnician)

	_, err = f.svc.CreateOrder(ctx, domain.CreateOrderRequest{TechnicianID: technician, TotalPrice: -1})
	assert.ErrorIs(t, err, payrollerr.ErrInvalidInput)

	_, err = f.svc.CreateOrder(ctx, domain.CreateOrderRequest{TechnicianID: technician, PaymentMethod: "cheque", TotalPrice: 1})
	assert.ErrorIs(t, err, commission.ErrInvalidPaymentMethod)
}

func TestAttachReceipt_EpochIsAssignedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.AdminContext()

	order := f.create(t, "", 80_000, false)
	method := "cash"
	paid, err := f.svc.AttachOrUpdateReceipt(ctx, domain.AttachReceiptRequest{OrderID: order.ID, PaymentMethod: &method})
	require.NoError(t, err)
	first := *paid.Epoch()
	assert.Equal(t, int64(32_000), paid.CommissionAmount)

	_, err = f.svc.RemoveReceipt(ctx, order.ID)
	require.NoError(t, err)

	f.clock.Advance(9 * 24 * time.Hour)
	repaid, err := f.svc.AttachOrUpdateReceipt(ctx, domain.AttachReceiptRequest{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, repaid.Status)
	assert.Equal(t, first, *repaid.Epoch())
	assert.True(t, repaid.PaidAt.Equal(*paid.PaidAt))
}

func TestAttachReceipt_ReceiptDateMovesBusinessDateOnly(t *testing.T) {
	f := newFixture(t)

	order := f.create(t, "transfer", 100_000, false)
	receiptDate := testutil.DefaultNow.AddDate(0, 0, -3)
	paid, err := f.svc.AttachOrUpdateReceipt(testutil.AdminContext(), domain.AttachReceiptRequest{
		OrderID:     order.ID,
		ReceiptDate: &receiptDate,
	})
	require.NoError(t, err)

	assert.True(t, paid.CreatedAt.Equal(receiptDate))
	assert.True(t, paid.OriginalCreatedAt.Equal(testutil.DefaultNow))
	assert.Equal(t, payoutweek.EpochOf(testutil.DefaultNow), *paid.Epoch())
}

func TestRemoveReceipt_RequiresPaid(t *testing.T) {
	f := newFixture(t)

	order := f.create(t, "cash", 10_000, false)
	_, err := f.svc.RemoveReceipt(testutil.AdminContext(), order.ID)
	assert.ErrorIs(t, err, domain.ErrNotPaid)
}

func TestUpdateCosts_RecomputesCommission(t *testing.T) {
	f := newFixture(t)

	order := f.create(t, "cash", 10_000, true)
	updated, err := f.svc.UpdateCosts(testutil.AdminContext(), domain.UpdateCostsRequest{
		OrderID:         order.ID,
		ReplacementCost: 5_000,
		TotalPrice:      20_000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8_000), updated.CommissionAmount)
	assert.Equal(t, *order.Epoch(), *updated.Epoch())
}

func TestClose_TerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.AdminContext()

	order := f.create(t, "cash", 10_000, true)
	returned, err := f.svc.MarkReturned(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReturned, returned.Status)
	require.NotNil(t, returned.ReturnedAt)
	assert.NotNil(t, returned.Epoch())

	_, err = f.svc.MarkCancelled(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrTerminal)
	_, err = f.svc.AttachOrUpdateReceipt(ctx, domain.AttachReceiptRequest{OrderID: order.ID})
	assert.ErrorIs(t, err, payrollerr.ErrInvalidState)
}

func TestClose_TechnicianIsForbidden(t *testing.T) {
	f := newFixture(t)

	order := f.create(t, "cash", 10_000, true)
	_, err := f.svc.MarkReturned(testutil.TechnicianContext(technician), order.ID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	assert.ErrorIs(t, err, payrollerr.ErrForbidden)
}

func TestDeleteOrder_RemovesNotesAndOrder(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.AdminContext()

	order := f.create(t, "cash", 10_000, false)
	_, err := f.svc.AddNote(ctx, order.ID, "screen cracked")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))

	_, err = f.svc.GetByID(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	notes, err := f.svc.ListNotes(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, notes)

	assert.ErrorIs(t, f.svc.DeleteOrder(ctx, order.ID), payrollerr.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteOrder(testutil.TechnicianContext(technician), order.ID), payrollerr.ErrForbidden)
}

func TestAddNote_RejectsBlank(t *testing.T) {
	f := newFixture(t)

	order := f.create(t, "cash", 10_000, false)
	_, err := f.svc.AddNote(testutil.AdminContext(), order.ID, "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyNote)
}

func TestStatusChange_PublishedAfterCommit(t *testing.T) {
	f := newFixture(t)

	var seen []events.Event
	f.bus.Subscribe(func(_ context.Context, evt events.Event) {
		seen = append(seen, evt)
	}, events.EventOrderStatusChanged)

	order := f.create(t, "cash", 10_000, false)
	_, err := f.svc.AttachOrUpdateReceipt(testutil.AdminContext(), domain.AttachReceiptRequest{OrderID: order.ID})
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, order.ID, seen[0].SubjectID)
	assert.Equal(t, "paid", seen[0].Payload["to"])

	var unpublished int64
	require.NoError(t, f.db.Model(&events.Record{}).Where("published = ?", false).Count(&unpublished).Error)
	assert.Zero(t, unpublished)
}

func TestEpochQueries(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.AdminContext()
	epoch := payoutweek.EpochOf(testutil.DefaultNow)

	paid := f.create(t, "cash", 10_000, true)
	returned := f.create(t, "cash", 20_000, true)
	_, err := f.svc.MarkReturned(ctx, returned.ID)
	require.NoError(t, err)
	f.create(t, "cash", 30_000, false)

	onlyPaid, err := f.svc.PaidOrdersForEpoch(ctx, technician, epoch, nil)
	require.NoError(t, err)
	require.Len(t, onlyPaid, 1)
	assert.Equal(t, paid.ID, onlyPaid[0].ID)

	earned, err := f.svc.EarnedForEpoch(ctx, technician, epoch)
	require.NoError(t, err)
	assert.Len(t, earned, 2)

	pending, err := f.svc.PendingOrders(ctx, technician)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	week := payoutweek.WeekRange(testutil.DefaultNow)
	closed, err := f.svc.ReturnedOrCancelledInRange(ctx, technician, week.Start, week.End, nil)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, returned.ID, closed[0].ID)

	_, err = f.svc.ReturnedOrCancelledInRange(ctx, technician, week.End, week.Start, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}
