package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	auditdomain "github.com/smallbiznis/repairpay/internal/audit/domain"
	"github.com/smallbiznis/repairpay/internal/authorization"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/events"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"github.com/smallbiznis/repairpay/internal/returns/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	OrderRepo orderdomain.Repository
	Authz     authorization.Service
	AuditSvc  auditdomain.Service `optional:"true"`
	Outbox    *events.Outbox      `optional:"true"`
	Publisher events.Publisher    `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	orderRepo orderdomain.Repository
	authz     authorization.Service
	auditSvc  auditdomain.Service
	outbox    *events.Outbox
	publisher events.Publisher
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("returns.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		orderRepo: p.OrderRepo,
		authz:     p.Authz,
		auditSvc:  p.AuditSvc,
		outbox:    p.Outbox,
		publisher: p.Publisher,
	}
}

func (s *Service) PendingReturns(ctx context.Context, technicianID snowflake.ID, sinceDate *time.Time) ([]orderdomain.Order, error) {
	if technicianID == 0 {
		return nil, domain.ErrInvalidTechnician
	}
	items, err := s.orderRepo.List(ctx, s.db, orderdomain.OrderFilter{
		TechnicianID: technicianID,
		Statuses:     []orderdomain.Status{orderdomain.StatusReturned, orderdomain.StatusCancelled},
		CreatedAfter: sinceDate,
	})
	if err != nil {
		return nil, payrollerr.Persistence("list returns", err)
	}
	return derefOrders(items), nil
}

// ReturnsTotal is the commission clawed back for orders whose sale no longer stands.
func (s *Service) ReturnsTotal(orders []orderdomain.Order) int64 {
	var total int64
	for _, order := range orders {
		total += order.CommissionAmount
	}
	return total
}

// ForWeek returns the clawback charged to week: live orders closed inside it
// that had been paid, plus returns already settled out of it.
func (s *Service) ForWeek(ctx context.Context, technicianID snowflake.ID, week payoutweek.Range) (domain.WeekReturns, error) {
	if technicianID == 0 {
		return domain.WeekReturns{}, domain.ErrInvalidTechnician
	}
	next := week.Next()
	items, err := s.orderRepo.List(ctx, s.db, orderdomain.OrderFilter{
		TechnicianID: technicianID,
		Statuses:     []orderdomain.Status{orderdomain.StatusReturned, orderdomain.StatusCancelled},
		ClosedFrom:   &week.Start,
		ClosedBefore: &next,
	})
	if err != nil {
		return domain.WeekReturns{}, payrollerr.Persistence("list week returns", err)
	}

	orders := make([]orderdomain.Order, 0, len(items))
	for _, item := range items {
		// A sale that never reached paid was never earned.
		if item == nil || item.Epoch() == nil {
			continue
		}
		orders = append(orders, *item)
	}

	closedItems, err := s.repo.ListByClosedWeek(ctx, s.db, technicianID, week.Start)
	if err != nil {
		return domain.WeekReturns{}, payrollerr.Persistence("list closed returns", err)
	}
	closed := make([]domain.ClosedReturn, 0, len(closedItems))
	var closedTotal int64
	for _, item := range closedItems {
		if item == nil || !item.WasPaid() {
			continue
		}
		closed = append(closed, *item)
		closedTotal += item.CommissionAmount
	}

	return domain.WeekReturns{
		Week:   week,
		Orders: orders,
		Closed: closed,
		Total:  s.ReturnsTotal(orders) + closedTotal,
	}, nil
}

func (s *Service) ClosedEarnedForEpoch(ctx context.Context, technicianID snowflake.ID, epoch payoutweek.Epoch) (int64, error) {
	if technicianID == 0 {
		return 0, domain.ErrInvalidTechnician
	}
	total, err := s.repo.SumEarnedForEpoch(ctx, s.db, technicianID, epoch)
	if err != nil {
		return 0, payrollerr.Persistence("sum closed returns", err)
	}
	return total, nil
}

func (s *Service) SettleReturns(ctx context.Context, technicianID snowflake.ID, start, end time.Time) (domain.SettleReturnsResult, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectReturns, authorization.ActionReturnsSettle); err != nil {
		return domain.SettleReturnsResult{}, err
	}
	if technicianID == 0 {
		return domain.SettleReturnsResult{}, domain.ErrInvalidTechnician
	}
	if end.Before(start) {
		return domain.SettleReturnsResult{}, domain.ErrInvalidRange
	}

	from := start.UTC()
	before := end.UTC().Add(time.Nanosecond)
	actor := actorcontext.ActorFromContext(ctx)

	var (
		result domain.SettleReturnsResult
		evt    events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items, err := s.orderRepo.List(ctx, tx, orderdomain.OrderFilter{
			TechnicianID: technicianID,
			Statuses:     []orderdomain.Status{orderdomain.StatusReturned, orderdomain.StatusCancelled},
			ClosedFrom:   &from,
			ClosedBefore: &before,
		})
		if err != nil {
			return payrollerr.Persistence("list returns", err)
		}
		if len(items) == 0 {
			return domain.ErrNothingToSettle
		}

		now := s.clock.Now().UTC()
		ids := make([]snowflake.ID, 0, len(items))
		tombstones := make([]*domain.ClosedReturn, 0, len(items))
		for _, item := range items {
			closedAt := item.ClosedAt()
			if closedAt == nil {
				continue
			}
			ids = append(ids, item.ID)
			tombstones = append(tombstones, &domain.ClosedReturn{
				ID:               s.genID.Generate(),
				OrderID:          item.ID,
				TechnicianID:     item.TechnicianID,
				Status:           item.Status,
				CommissionAmount: item.CommissionAmount,
				TotalPrice:       item.TotalPrice,
				PayoutWeek:       item.PayoutWeek,
				PayoutYear:       item.PayoutYear,
				ClosedAt:         closedAt.UTC(),
				ClosedWeekStart:  payoutweek.WeekStart(*closedAt),
				SettledBy:        actor.ID,
				SettledAt:        now,
			})
		}

		if err := s.repo.Insert(ctx, tx, tombstones); err != nil {
			return payrollerr.Persistence("insert closed returns", err)
		}
		if err := s.orderRepo.DeleteNotes(ctx, tx, ids); err != nil {
			return payrollerr.Persistence("delete order notes", err)
		}
		if _, err := s.orderRepo.Delete(ctx, tx, ids); err != nil {
			return payrollerr.Persistence("delete returned orders", err)
		}

		result.Closed = make([]domain.ClosedReturn, 0, len(tombstones))
		orderIDs := make([]string, 0, len(tombstones))
		for _, tombstone := range tombstones {
			result.Closed = append(result.Closed, *tombstone)
			result.Total += tombstone.CommissionAmount
			orderIDs = append(orderIDs, tombstone.OrderID.String())
		}

		evt, err = s.outbox.PublishTx(ctx, tx, events.Event{
			Type:         events.EventReturnsSettled,
			TechnicianID: technicianID,
			Payload: map[string]any{
				"order_ids": orderIDs,
				"count":     len(orderIDs),
				"total":     result.Total,
				"from":      payoutweek.FormatDate(from),
				"to":        payoutweek.FormatDate(end),
			},
			OccurredAt: now,
		})
		if err != nil {
			return payrollerr.Persistence("publish returns event", err)
		}
		return nil
	})
	if err != nil {
		return domain.SettleReturnsResult{}, err
	}

	if s.outbox != nil && evt.ID != 0 {
		if err := s.outbox.Relay(ctx, s.db, s.publisher, evt); err != nil {
			s.log.Warn("failed to mark returns event published", zap.Error(err))
		}
	}
	s.emitAudit(ctx, technicianID, result)
	return result, nil
}

func (s *Service) emitAudit(ctx context.Context, technicianID snowflake.ID, result domain.SettleReturnsResult) {
	if s.auditSvc == nil {
		return
	}
	deleted := make([]map[string]any, 0, len(result.Closed))
	for _, closed := range result.Closed {
		deleted = append(deleted, map[string]any{
			"order_id":          closed.OrderID.String(),
			"status":            string(closed.Status),
			"commission_amount": closed.CommissionAmount,
			"closed_at":         closed.ClosedAt,
		})
	}
	if err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		TechnicianID: &technicianID,
		Action:       "returns.settled",
		TargetType:   "order",
		Metadata: map[string]any{
			"orders": deleted,
			"total":  result.Total,
		},
	}); err != nil {
		s.log.Warn("failed to write returns audit log", zap.Error(err))
	}
}

func derefOrders(items []*orderdomain.Order) []orderdomain.Order {
	orders := make([]orderdomain.Order, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		orders = append(orders, *item)
	}
	return orders
}
