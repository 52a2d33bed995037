package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	adjustmentdomain "github.com/smallbiznis/repairpay/internal/adjustment/domain"
	auditdomain "github.com/smallbiznis/repairpay/internal/audit/domain"
	"github.com/smallbiznis/repairpay/internal/authorization"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/config"
	"github.com/smallbiznis/repairpay/internal/events"
	"github.com/smallbiznis/repairpay/internal/lock"
	obslogger "github.com/smallbiznis/repairpay/internal/observability/logger"
	"github.com/smallbiznis/repairpay/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	returnsdomain "github.com/smallbiznis/repairpay/internal/returns/domain"
	"github.com/smallbiznis/repairpay/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultLockTTL = 30 * time.Second

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	Orders      orderdomain.Service
	Adjustments adjustmentdomain.Service
	Returns     returnsdomain.Service
	Authz       authorization.Service
	AuditSvc    auditdomain.Service        `optional:"true"`
	Outbox      *events.Outbox             `optional:"true"`
	Publisher   events.Publisher           `optional:"true"`
	Locker      lock.Locker                `optional:"true"`
	Payroll     *config.PayrollHolder      `optional:"true"`
	Metrics     *metrics.SettlementMetrics `optional:"true"`
	Payslips    domain.PayslipRenderer     `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	orders      orderdomain.Service
	adjustments adjustmentdomain.Service
	returns     returnsdomain.Service
	authz       authorization.Service
	auditSvc    auditdomain.Service
	outbox      *events.Outbox
	publisher   events.Publisher
	locker      lock.Locker
	payroll     *config.PayrollHolder
	metrics     *metrics.SettlementMetrics
	payslips    domain.PayslipRenderer
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("settlement.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		orders:      p.Orders,
		adjustments: p.Adjustments,
		returns:     p.Returns,
		authz:       p.Authz,
		auditSvc:    p.AuditSvc,
		outbox:      p.Outbox,
		publisher:   p.Publisher,
		locker:      p.Locker,
		payroll:     p.Payroll,
		metrics:     p.Metrics,
		payslips:    p.Payslips,
	}
}

func (s *Service) Summary(ctx context.Context, req domain.SummaryRequest) (domain.WeekSummary, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectSettlement, authorization.ActionSettlementView); err != nil {
		return domain.WeekSummary{}, err
	}
	if req.TechnicianID == 0 {
		return domain.WeekSummary{}, domain.ErrInvalidTechnician
	}
	return s.loadState(ctx, req.TechnicianID, s.weekRef(req.WeekRef), req.Selected)
}

func (s *Service) DistributeDeduction(adjustments []adjustmentdomain.AdjustmentWithRemaining, target int64) ([]domain.Allocation, error) {
	return domain.DistributeDeduction(adjustments, target)
}

func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (domain.SalarySettlement, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectSettlement, authorization.ActionSettlementCreate); err != nil {
		return domain.SalarySettlement{}, err
	}
	if req.TechnicianID == 0 {
		return domain.SalarySettlement{}, domain.ErrInvalidTechnician
	}

	week := payoutweek.WeekRange(s.weekRef(req.WeekRef))
	payment, err := resolvePayment(req)
	if err != nil {
		s.metrics.IncFailure(string(payrollerr.StepValidate), err)
		return domain.SalarySettlement{}, &payrollerr.SettlementError{
			Step:         payrollerr.StepValidate,
			TechnicianID: req.TechnicianID,
			WeekStart:    week.Start,
			Amount:       req.Amount,
			Err:          err,
		}
	}

	var settlement domain.SalarySettlement
	err = lock.WithLock(ctx, s.locker, lock.SettlementKey(req.TechnicianID, week.Start), s.lockTTL(), func() error {
		var err error
		settlement, err = s.settle(ctx, req, week, payment)
		return err
	})
	if err != nil {
		return domain.SalarySettlement{}, err
	}
	return settlement, nil
}

type payment struct {
	method domain.PaymentMethod
	amount int64
	split  *domain.PaymentSplit
}

func (s *Service) settle(ctx context.Context, req domain.SettleRequest, week payoutweek.Range, pay payment) (domain.SalarySettlement, error) {
	started := time.Now()
	fail := func(step payrollerr.SettlementStep, err error) error {
		s.metrics.IncFailure(string(step), err)
		obslogger.WithTechnician(s.log, req.TechnicianID.String()).Warn("settlement failed",
			zap.String("step", string(step)),
			zap.Time("week_start", week.Start),
			zap.Int64("amount", pay.amount),
			zap.Error(err),
		)
		return &payrollerr.SettlementError{
			Step:         step,
			TechnicianID: req.TechnicianID,
			WeekStart:    week.Start,
			Amount:       pay.amount,
			Retryable:    metrics.IsRetryable(err),
			Err:          err,
		}
	}

	// 1. Fresh state.
	state, err := s.loadState(ctx, req.TechnicianID, week.Start, nil)
	if err != nil {
		return domain.SalarySettlement{}, fail(payrollerr.StepLoadState, err)
	}

	// 2. Bounds are checked before anything is written.
	if pay.amount <= 0 || pay.amount > state.SettleLimit {
		return domain.SalarySettlement{}, fail(payrollerr.StepValidate, domain.ErrAmountOutOfRange)
	}

	// 3. Deduct whatever of the week is not being paid out, oldest adjustments first.
	desired := clamp(state.GrossAvailableSigned-state.DeferredHoldback-pay.amount, 0, state.TotalAdjustable)
	allocations, err := domain.DistributeDeduction(state.Available, desired)
	if err != nil {
		return domain.SalarySettlement{}, fail(payrollerr.StepAllocate, err)
	}

	plan := buildPlan(state, allocations, week)
	details := plan.details
	details.BaseAmount = state.GrossAvailable
	details.GrossEarned = state.GrossEarned
	details.ReturnsTotal = state.ReturnsTotal
	details.AlreadySettled = state.AlreadySettled + state.AlreadyDeducted
	details.DeferredHoldback = state.DeferredHoldback
	details.DesiredDeduction = desired
	details.Split = pay.split
	details.Note = strings.TrimSpace(req.Note)
	details.SincePaidAt, details.SourceOrderIDs = paidCursor(state.EarnedOrders)

	now := s.clock.Now().UTC()
	settlement := domain.SalarySettlement{
		ID:             s.genID.Generate(),
		TechnicianID:   req.TechnicianID,
		WeekStart:      week.Start,
		Amount:         pay.amount,
		DeductedAmount: domain.TotalAllocated(allocations),
		PaymentMethod:  pay.method,
		Details:        datatypes.NewJSONType(details),
		CreatedBy:      actorcontext.ActorFromContext(ctx).ID,
		CreatedAt:      now,
	}

	var (
		evt  events.Event
		step = payrollerr.StepLoadState
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.LockWeek(ctx, tx, req.TechnicianID, week.Start); err != nil {
			return payrollerr.Persistence("lock settlement week", err)
		}
		totals, err := s.repo.SumForWeek(ctx, tx, req.TechnicianID, week.Start)
		if err != nil {
			return payrollerr.Persistence("sum settlements", err)
		}
		if totals.Settled != state.AlreadySettled || totals.Deducted != state.AlreadyDeducted {
			return domain.ErrStaleState
		}

		step = payrollerr.StepInsertSettlement
		if err := s.repo.Insert(ctx, tx, &settlement); err != nil {
			return payrollerr.Persistence("insert settlement", err)
		}

		step = payrollerr.StepRecordApplications
		if _, err := s.adjustments.RecordApplicationsTx(ctx, tx, &settlement.ID, plan.entries); err != nil {
			return err
		}

		step = payrollerr.StepDeferRemainders
		for _, carry := range plan.carries {
			if _, err := s.adjustments.DeferRemainderTx(ctx, tx, carry.id, carry.amount, week.Next()); err != nil {
				return err
			}
		}

		step = payrollerr.StepInsertSettlement
		evt, err = s.outbox.PublishTx(ctx, tx, events.Event{
			Type:         events.EventSettlementRecorded,
			TechnicianID: settlement.TechnicianID,
			SubjectID:    settlement.ID,
			Payload: map[string]any{
				"week_start":      payoutweek.FormatDate(week.Start),
				"amount":          settlement.Amount,
				"deducted_amount": settlement.DeductedAmount,
				"payment_method":  string(settlement.PaymentMethod),
				"carried_over":    len(plan.carries),
			},
			OccurredAt: now,
		})
		if err != nil {
			return payrollerr.Persistence("publish settlement event", err)
		}
		return nil
	})
	if err != nil {
		return domain.SalarySettlement{}, fail(step, err)
	}

	// Confirm the write landed before reporting success.
	confirmed, err := s.repo.FindByID(ctx, s.db, settlement.ID)
	if err != nil {
		return domain.SalarySettlement{}, fail(payrollerr.StepConfirm, payrollerr.Persistence("read back settlement", err))
	}
	if confirmed == nil || confirmed.Amount != settlement.Amount {
		return domain.SalarySettlement{}, fail(payrollerr.StepConfirm, domain.ErrUnconfirmed)
	}

	if s.outbox != nil && evt.ID != 0 {
		if err := s.outbox.Relay(ctx, s.db, s.publisher, evt); err != nil {
			s.log.Warn("failed to mark settlement event published", zap.Error(err))
		}
	}
	s.emitAudit(ctx, *confirmed, len(plan.carries))
	s.metrics.ObserveSettled(string(confirmed.PaymentMethod), confirmed.Amount, confirmed.DeductedAmount, len(plan.carries), time.Since(started))

	s.log.Info("settlement recorded",
		zap.String("settlement_id", confirmed.ID.String()),
		zap.String("technician_id", confirmed.TechnicianID.String()),
		zap.Time("week_start", confirmed.WeekStart),
		zap.Int64("amount", confirmed.Amount),
		zap.Int64("deducted_amount", confirmed.DeductedAmount),
	)
	return *confirmed, nil
}

func (s *Service) List(ctx context.Context, req domain.ListSettlementsRequest) ([]domain.SalarySettlement, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectSettlement, authorization.ActionSettlementView); err != nil {
		return nil, err
	}
	if req.TechnicianID == 0 {
		return nil, domain.ErrInvalidTechnician
	}
	filter := domain.ListFilter{TechnicianID: req.TechnicianID, Limit: req.Limit}
	if req.WeekStart != nil {
		start := payoutweek.WeekStart(*req.WeekStart)
		filter.WeekStart = &start
	}
	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, payrollerr.Persistence("list settlements", err)
	}
	return derefSettlements(items), nil
}

func (s *Service) GetByID(ctx context.Context, settlementID snowflake.ID) (domain.SalarySettlement, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectSettlement, authorization.ActionSettlementView); err != nil {
		return domain.SalarySettlement{}, err
	}
	if settlementID == 0 {
		return domain.SalarySettlement{}, domain.ErrInvalidID
	}
	item, err := s.repo.FindByID(ctx, s.db, settlementID)
	if err != nil {
		return domain.SalarySettlement{}, payrollerr.Persistence("load settlement", err)
	}
	if item == nil {
		return domain.SalarySettlement{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) RenderPayslip(ctx context.Context, settlementID snowflake.ID) ([]byte, error) {
	if s.payslips == nil {
		return nil, domain.ErrPayslipUnavailable
	}
	settlement, err := s.GetByID(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	return s.payslips.RenderPayslip(ctx, settlement)
}

func (s *Service) weekRef(ref time.Time) time.Time {
	if ref.IsZero() {
		return s.clock.Now()
	}
	return ref
}

func (s *Service) lockTTL() time.Duration {
	if s.payroll == nil {
		return defaultLockTTL
	}
	if ttl := s.payroll.Get().SettlementLockTTL; ttl > 0 {
		return ttl
	}
	return defaultLockTTL
}

func (s *Service) emitAudit(ctx context.Context, settlement domain.SalarySettlement, carried int) {
	if s.auditSvc == nil {
		return
	}
	technicianID := settlement.TechnicianID
	targetID := settlement.ID.String()
	if err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		TechnicianID: &technicianID,
		Action:       "settlement.recorded",
		TargetType:   "settlement",
		TargetID:     &targetID,
		Metadata: map[string]any{
			"week_start":      payoutweek.FormatDate(settlement.WeekStart),
			"amount":          settlement.Amount,
			"deducted_amount": settlement.DeductedAmount,
			"payment_method":  string(settlement.PaymentMethod),
			"carried_over":    carried,
		},
	}); err != nil {
		s.log.Warn("failed to write settlement audit log", zap.Error(err))
	}
}

func resolvePayment(req domain.SettleRequest) (payment, error) {
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod)))
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodTransfer:
		return payment{method: method, amount: req.Amount}, nil
	case domain.PaymentMethodCashAndTransfer:
		if req.CashAmount == nil || req.TransferAmount == nil {
			return payment{}, domain.ErrInvalidSplit
		}
		cash, transfer := *req.CashAmount, *req.TransferAmount
		if cash < 0 || transfer < 0 {
			return payment{}, domain.ErrInvalidSplit
		}
		total := cash + transfer
		if req.Amount != 0 && req.Amount != total {
			return payment{}, domain.ErrInvalidSplit
		}
		return payment{
			method: method,
			amount: total,
			split:  &domain.PaymentSplit{Cash: cash, Transfer: transfer},
		}, nil
	default:
		return payment{}, domain.ErrInvalidPaymentMethod
	}
}

func clamp(v, lo, hi int64) int64 {
	return max(lo, min(v, hi))
}

func derefSettlements(items []*domain.SalarySettlement) []domain.SalarySettlement {
	settlements := make([]domain.SalarySettlement, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		settlements = append(settlements, *item)
	}
	return settlements
}
