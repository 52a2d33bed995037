package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	auditdomain "github.com/smallbiznis/repairpay/internal/audit/domain"
	"github.com/smallbiznis/repairpay/internal/authorization"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/commission"
	"github.com/smallbiznis/repairpay/internal/events"
	"github.com/smallbiznis/repairpay/internal/order/domain"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
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
	Policy    commission.PolicySource
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
	policy    commission.PolicySource
	authz     authorization.Service
	auditSvc  auditdomain.Service
	outbox    *events.Outbox
	publisher events.Publisher
}

func NewService(p Params) domain.Service {
	policy := p.Policy
	if policy == nil {
		policy = commission.StaticPolicy(commission.DefaultPolicy)
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("order.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		policy:    policy,
		authz:     p.Authz,
		auditSvc:  p.AuditSvc,
		outbox:    p.Outbox,
		publisher: p.Publisher,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectOrder, authorization.ActionOrderCreate); err != nil {
		return domain.Order{}, err
	}
	if req.TechnicianID == 0 {
		return domain.Order{}, domain.ErrInvalidTechnician
	}
	if req.ReplacementCost < 0 || req.TotalPrice < 0 {
		return domain.Order{}, domain.ErrInvalidAmounts
	}
	method, err := commission.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.clock.Now().UTC()
	businessDate := now
	if req.CreatedAt != nil && !req.CreatedAt.IsZero() {
		businessDate = req.CreatedAt.UTC()
	}

	order := domain.Order{
		ID:                s.genID.Generate(),
		TechnicianID:      req.TechnicianID,
		Status:            domain.StatusPending,
		PaymentMethod:     method,
		ReplacementCost:   req.ReplacementCost,
		TotalPrice:        req.TotalPrice,
		CustomerName:      strings.TrimSpace(req.CustomerName),
		Device:            strings.TrimSpace(req.Device),
		Description:       strings.TrimSpace(req.Description),
		CreatedAt:         businessDate,
		OriginalCreatedAt: now,
		UpdatedAt:         now,
	}
	s.recomputeCommission(&order)
	if req.HasReceipt {
		markPaid(&order, now)
	}

	var evt *events.Event
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &order); err != nil {
			return payrollerr.Persistence("insert order", err)
		}
		if order.Status == domain.StatusPaid {
			published, err := s.emitStatusChange(ctx, tx, order, domain.StatusPending)
			if err != nil {
				return err
			}
			evt = published
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.relay(ctx, evt)
	return order, nil
}

func (s *Service) AttachOrUpdateReceipt(ctx context.Context, req domain.AttachReceiptRequest) (domain.Order, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectOrder, authorization.ActionOrderUpdate); err != nil {
		return domain.Order{}, err
	}

	var method *commission.PaymentMethod
	if req.PaymentMethod != nil {
		parsed, err := commission.ParsePaymentMethod(*req.PaymentMethod)
		if err != nil {
			return domain.Order{}, err
		}
		method = &parsed
	}

	return s.mutate(ctx, req.OrderID, func(order *domain.Order, now time.Time) error {
		if order.Status.Terminal() {
			return domain.ErrTerminal
		}
		if method != nil {
			order.PaymentMethod = *method
		}
		if order.ReplacementCost < 0 || order.TotalPrice < 0 {
			return domain.ErrInvalidAmounts
		}
		s.recomputeCommission(order)

		if req.ReceiptDate != nil && !req.ReceiptDate.IsZero() && !payoutweek.SameDate(*req.ReceiptDate, order.CreatedAt) {
			// The business date moves; the payout epoch does not.
			if order.OriginalCreatedAt.IsZero() {
				order.OriginalCreatedAt = order.CreatedAt
			}
			order.CreatedAt = req.ReceiptDate.UTC()
		}

		if order.Status != domain.StatusPaid {
			markPaid(order, now)
		}
		return nil
	})
}

func (s *Service) RemoveReceipt(ctx context.Context, orderID snowflake.ID) (domain.Order, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectOrder, authorization.ActionOrderUpdate); err != nil {
		return domain.Order{}, err
	}
	return s.mutate(ctx, orderID, func(order *domain.Order, _ time.Time) error {
		if order.Status.Terminal() {
			return domain.ErrTerminal
		}
		if order.Status != domain.StatusPaid {
			return domain.ErrNotPaid
		}
		order.Status = domain.StatusPending
		return nil
	})
}

func (s *Service) UpdateCosts(ctx context.Context, req domain.UpdateCostsRequest) (domain.Order, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectOrder, authorization.ActionOrderUpdate); err != nil {
		return domain.Order{}, err
	}
	if req.ReplacementCost < 0 || req.TotalPrice < 0 {
		return domain.Order{}, domain.ErrInvalidAmounts
	}
	return s.mutate(ctx, req.OrderID, func(order *domain.Order, _ time.Time) error {
		order.ReplacementCost = req.ReplacementCost
		order.TotalPrice = req.TotalPrice
		s.recomputeCommission(order)
		return nil
	})
}

func (s *Service) MarkReturned(ctx context.Context, orderID snowflake.ID) (domain.Order, error) {
	return s.close(ctx, orderID, domain.StatusReturned)
}

func (s *Service) MarkCancelled(ctx context.Context, orderID snowflake.ID) (domain.Order, error) {
	return s.close(ctx, orderID, domain.StatusCancelled)
}

func (s *Service) close(ctx context.Context, orderID snowflake.ID, status domain.Status) (domain.Order, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectOrder, authorization.ActionOrderClose); err != nil {
		return domain.Order{}, err
	}
	order, err := s.mutate(ctx, orderID, func(order *domain.Order, now time.Time) error {
		if order.Status.Terminal() {
			return domain.ErrTerminal
		}
		order.Status = status
		if status == domain.StatusReturned {
			order.ReturnedAt = &now
		} else {
			order.CancelledAt = &now
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.emitAudit(ctx, "order."+string(status), order, map[string]any{
		"commission_amount": order.CommissionAmount,
	})
	return order, nil
}

func (s *Service) DeleteOrder(ctx context.Context, orderID snowflake.ID) error {
	if err := s.authz.Authorize(ctx, authorization.ObjectOrder, authorization.ActionOrderDelete); err != nil {
		return err
	}
	if orderID == 0 {
		return domain.ErrInvalidID
	}

	var (
		deleted domain.Order
		evt     events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return payrollerr.Persistence("load order", err)
		}
		if order == nil {
			return domain.ErrNotFound
		}
		ids := []snowflake.ID{order.ID}
		if err := s.repo.DeleteNotes(ctx, tx, ids); err != nil {
			return payrollerr.Persistence("delete order notes", err)
		}
		if _, err := s.repo.Delete(ctx, tx, ids); err != nil {
			return payrollerr.Persistence("delete order", err)
		}
		evt, err = s.outbox.PublishTx(ctx, tx, events.Event{
			Type:         events.EventOrderDeleted,
			TechnicianID: order.TechnicianID,
			SubjectID:    order.ID,
			Payload: map[string]any{
				"status":            string(order.Status),
				"commission_amount": order.CommissionAmount,
			},
			OccurredAt: s.clock.Now().UTC(),
		})
		if err != nil {
			return payrollerr.Persistence("publish order event", err)
		}
		deleted = *order
		return nil
	})
	if err != nil {
		return err
	}

	s.relay(ctx, &evt)
	s.emitAudit(ctx, "order.deleted", deleted, map[string]any{
		"status":            string(deleted.Status),
		"total_price":       deleted.TotalPrice,
		"commission_amount": deleted.CommissionAmount,
	})
	return nil
}

func (s *Service) GetByID(ctx context.Context, orderID snowflake.ID) (domain.Order, error) {
	if orderID == 0 {
		return domain.Order{}, domain.ErrInvalidID
	}
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return domain.Order{}, payrollerr.Persistence("load order", err)
	}
	if order == nil {
		return domain.Order{}, domain.ErrNotFound
	}
	return *order, nil
}

func (s *Service) ListByTechnician(ctx context.Context, req domain.ListOrdersRequest) ([]domain.Order, error) {
	if req.TechnicianID == 0 {
		return nil, domain.ErrInvalidTechnician
	}
	filter := domain.OrderFilter{TechnicianID: req.TechnicianID, Limit: req.Limit}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed := domain.Status(strings.ToLower(status))
		switch parsed {
		case domain.StatusPending, domain.StatusPaid, domain.StatusReturned, domain.StatusCancelled:
			filter.Statuses = []domain.Status{parsed}
		default:
			return nil, domain.ErrInvalidStatus
		}
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 500
	}
	return s.list(ctx, filter)
}

func (s *Service) AddNote(ctx context.Context, orderID snowflake.ID, body string) (domain.OrderNote, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectOrder, authorization.ActionOrderUpdate); err != nil {
		return domain.OrderNote{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.OrderNote{}, domain.ErrEmptyNote
	}
	if _, err := s.GetByID(ctx, orderID); err != nil {
		return domain.OrderNote{}, err
	}

	note := domain.OrderNote{
		ID:        s.genID.Generate(),
		OrderID:   orderID,
		Body:      body,
		CreatedBy: actorcontext.ActorFromContext(ctx).ID,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.InsertNote(ctx, s.db, &note); err != nil {
		return domain.OrderNote{}, payrollerr.Persistence("insert order note", err)
	}
	return note, nil
}

func (s *Service) ListNotes(ctx context.Context, orderID snowflake.ID) ([]domain.OrderNote, error) {
	if orderID == 0 {
		return nil, domain.ErrInvalidID
	}
	items, err := s.repo.ListNotes(ctx, s.db, orderID)
	if err != nil {
		return nil, payrollerr.Persistence("list order notes", err)
	}
	notes := make([]domain.OrderNote, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		notes = append(notes, *item)
	}
	return notes, nil
}

func (s *Service) PaidOrdersForEpoch(ctx context.Context, technicianID snowflake.ID, epoch payoutweek.Epoch, sincePaidAt *time.Time) ([]domain.Order, error) {
	if technicianID == 0 {
		return nil, domain.ErrInvalidTechnician
	}
	return s.list(ctx, domain.OrderFilter{
		TechnicianID: technicianID,
		Statuses:     []domain.Status{domain.StatusPaid},
		PayoutWeek:   &epoch.Week,
		PayoutYear:   &epoch.Year,
		PaidAfter:    sincePaidAt,
	})
}

func (s *Service) EarnedForEpoch(ctx context.Context, technicianID snowflake.ID, epoch payoutweek.Epoch) ([]domain.Order, error) {
	if technicianID == 0 {
		return nil, domain.ErrInvalidTechnician
	}
	return s.list(ctx, domain.OrderFilter{
		TechnicianID: technicianID,
		Statuses:     []domain.Status{domain.StatusPaid, domain.StatusReturned, domain.StatusCancelled},
		PayoutWeek:   &epoch.Week,
		PayoutYear:   &epoch.Year,
	})
}

func (s *Service) PendingOrders(ctx context.Context, technicianID snowflake.ID) ([]domain.Order, error) {
	if technicianID == 0 {
		return nil, domain.ErrInvalidTechnician
	}
	return s.list(ctx, domain.OrderFilter{
		TechnicianID: technicianID,
		Statuses:     []domain.Status{domain.StatusPending},
	})
}

// ReturnedOrCancelledInRange returns orders closed within [start, end].
func (s *Service) ReturnedOrCancelledInRange(ctx context.Context, technicianID snowflake.ID, start, end time.Time, sinceCreatedAt *time.Time) ([]domain.Order, error) {
	if technicianID == 0 {
		return nil, domain.ErrInvalidTechnician
	}
	if end.Before(start) {
		return nil, domain.ErrInvalidRange
	}
	from := start.UTC()
	before := end.UTC().Add(time.Nanosecond)
	return s.list(ctx, domain.OrderFilter{
		TechnicianID: technicianID,
		Statuses:     []domain.Status{domain.StatusReturned, domain.StatusCancelled},
		CreatedAfter: sinceCreatedAt,
		ClosedFrom:   &from,
		ClosedBefore: &before,
	})
}

func (s *Service) list(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, payrollerr.Persistence("list orders", err)
	}
	orders := make([]domain.Order, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		orders = append(orders, *item)
	}
	return orders, nil
}

// mutate loads the order under lock, applies fn and persists the result.
// A status change is written to the outbox in the same transaction.
func (s *Service) mutate(ctx context.Context, orderID snowflake.ID, fn func(order *domain.Order, now time.Time) error) (domain.Order, error) {
	if orderID == 0 {
		return domain.Order{}, domain.ErrInvalidID
	}

	var (
		updated domain.Order
		evt     *events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return payrollerr.Persistence("load order", err)
		}
		if order == nil {
			return domain.ErrNotFound
		}

		previous := order.Status
		now := s.clock.Now().UTC()
		if err := fn(order, now); err != nil {
			return err
		}
		order.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, order); err != nil {
			return payrollerr.Persistence("update order", err)
		}

		if order.Status != previous {
			published, err := s.emitStatusChange(ctx, tx, *order, previous)
			if err != nil {
				return err
			}
			evt = published
		}
		updated = *order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.relay(ctx, evt)
	return updated, nil
}

func (s *Service) recomputeCommission(order *domain.Order) {
	order.CommissionAmount = s.policy.Policy().Compute(order.PaymentMethod, order.ReplacementCost, order.TotalPrice)
}

// markPaid moves the order to paid and assigns the payout epoch the first time only.
func markPaid(order *domain.Order, now time.Time) {
	order.Status = domain.StatusPaid
	if order.PaidAt != nil {
		return
	}
	epoch := payoutweek.EpochOf(now)
	paidAt := now
	order.PaidAt = &paidAt
	order.PayoutWeek = &epoch.Week
	order.PayoutYear = &epoch.Year
}

func (s *Service) emitStatusChange(ctx context.Context, tx *gorm.DB, order domain.Order, previous domain.Status) (*events.Event, error) {
	if s.outbox == nil {
		return nil, nil
	}
	payload := map[string]any{
		"from":              string(previous),
		"to":                string(order.Status),
		"payment_method":    string(order.PaymentMethod),
		"commission_amount": order.CommissionAmount,
	}
	if epoch := order.Epoch(); epoch != nil {
		payload["payout_week"] = epoch.Week
		payload["payout_year"] = epoch.Year
	}
	evt, err := s.outbox.PublishTx(ctx, tx, events.Event{
		Type:         events.EventOrderStatusChanged,
		TechnicianID: order.TechnicianID,
		SubjectID:    order.ID,
		Payload:      payload,
		OccurredAt:   s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, payrollerr.Persistence("publish order event", err)
	}
	return &evt, nil
}

func (s *Service) relay(ctx context.Context, evt *events.Event) {
	if evt == nil || s.outbox == nil {
		return
	}
	if err := s.outbox.Relay(ctx, s.db, s.publisher, *evt); err != nil {
		s.log.Warn("failed to mark order event published", zap.String("event_id", evt.ID.String()), zap.Error(err))
	}
}

func (s *Service) emitAudit(ctx context.Context, action string, order domain.Order, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	technicianID := order.TechnicianID
	targetID := order.ID.String()
	err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		TechnicianID: &technicianID,
		Action:       action,
		TargetType:   "order",
		TargetID:     &targetID,
		Metadata:     metadata,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("failed to write order audit log", zap.String("action", action), zap.Error(err))
	}
}
