package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	"github.com/smallbiznis/repairpay/internal/adjustment/domain"
	auditdomain "github.com/smallbiznis/repairpay/internal/audit/domain"
	"github.com/smallbiznis/repairpay/internal/authorization"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/events"
	obslogger "github.com/smallbiznis/repairpay/internal/observability/logger"
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
	authz     authorization.Service
	auditSvc  auditdomain.Service
	outbox    *events.Outbox
	publisher events.Publisher
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("adjustment.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		authz:     p.Authz,
		auditSvc:  p.AuditSvc,
		outbox:    p.Outbox,
		publisher: p.Publisher,
	}
}

func (s *Service) CreateAdjustment(ctx context.Context, req domain.CreateAdjustmentRequest) (domain.SalaryAdjustment, error) {
	if err := s.authz.Authorize(ctx, authorization.ObjectAdjustment, authorization.ActionAdjustmentCreate); err != nil {
		return domain.SalaryAdjustment{}, err
	}
	if req.TechnicianID == 0 {
		return domain.SalaryAdjustment{}, domain.ErrInvalidTechnician
	}
	adjType, err := parseType(req.Type)
	if err != nil {
		return domain.SalaryAdjustment{}, err
	}
	if req.Amount <= 0 {
		return domain.SalaryAdjustment{}, domain.ErrInvalidAmount
	}

	now := s.clock.Now().UTC()
	availableFrom := startOfDay(now)
	if req.AvailableFrom != nil && !req.AvailableFrom.IsZero() {
		availableFrom = startOfDay(*req.AvailableFrom)
	}

	adjustment := domain.SalaryAdjustment{
		ID:            s.genID.Generate(),
		TechnicianID:  req.TechnicianID,
		Type:          adjType,
		Amount:        req.Amount,
		Note:          strings.TrimSpace(req.Note),
		CreatedBy:     actorcontext.ActorFromContext(ctx).ID,
		CreatedAt:     now,
		AvailableFrom: availableFrom,
		UpdatedAt:     now,
	}

	var evt events.Event
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &adjustment); err != nil {
			return payrollerr.Persistence("insert adjustment", err)
		}
		var err error
		evt, err = s.outbox.PublishTx(ctx, tx, events.Event{
			Type:         events.EventAdjustmentCreated,
			TechnicianID: adjustment.TechnicianID,
			SubjectID:    adjustment.ID,
			Payload: map[string]any{
				"type":           string(adjustment.Type),
				"amount":         adjustment.Amount,
				"available_from": payoutweek.FormatDate(adjustment.AvailableFrom),
			},
			OccurredAt: now,
		})
		if err != nil {
			return payrollerr.Persistence("publish adjustment event", err)
		}
		return nil
	})
	if err != nil {
		return domain.SalaryAdjustment{}, err
	}

	s.relay(ctx, evt)
	return adjustment, nil
}

// PendingFor lists adjustments created up to the end of weekRef's payout week
// that still have a remaining balance, oldest first.
func (s *Service) PendingFor(ctx context.Context, technicianID snowflake.ID, weekRef time.Time, sinceCreatedAt *time.Time) ([]domain.AdjustmentWithRemaining, error) {
	if technicianID == 0 {
		return nil, domain.ErrInvalidTechnician
	}
	week := payoutweek.WeekRange(weekRef)
	nextWeek := week.Next()

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		TechnicianID:  technicianID,
		CreatedBefore: &nextWeek,
		CreatedAfter:  sinceCreatedAt,
	})
	if err != nil {
		return nil, payrollerr.Persistence("list adjustments", err)
	}

	ids := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	applied, err := s.repo.SumApplied(ctx, s.db, ids)
	if err != nil {
		return nil, payrollerr.Persistence("sum adjustment applications", err)
	}

	pending := make([]domain.AdjustmentWithRemaining, 0, len(items))
	for _, item := range items {
		annotated := annotate(*item, applied[item.ID], week)
		if annotated.Remaining <= 0 {
			continue
		}
		pending = append(pending, annotated)
	}
	sortOldestFirst(pending)
	return pending, nil
}

func (s *Service) RecordApplications(ctx context.Context, entries []domain.ApplicationEntry) ([]domain.SalaryAdjustmentApplication, error) {
	var applications []domain.SalaryAdjustmentApplication
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		applications, err = s.RecordApplicationsTx(ctx, tx, nil, entries)
		return err
	})
	if err != nil {
		return nil, err
	}
	return applications, nil
}

// RecordApplicationsTx appends application rows after re-reading each
// adjustment's remaining balance under a row lock.
func (s *Service) RecordApplicationsTx(ctx context.Context, tx *gorm.DB, settlementID *snowflake.ID, entries []domain.ApplicationEntry) ([]domain.SalaryAdjustmentApplication, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	requested := make(map[snowflake.ID]int64, len(entries))
	ids := make([]snowflake.ID, 0, len(entries))
	for _, entry := range entries {
		if entry.AdjustmentID == 0 {
			return nil, domain.ErrInvalidID
		}
		if entry.AppliedAmount <= 0 {
			return nil, domain.ErrInvalidAmount
		}
		if _, seen := requested[entry.AdjustmentID]; !seen {
			ids = append(ids, entry.AdjustmentID)
		}
		requested[entry.AdjustmentID] += entry.AppliedAmount
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	locked, err := s.repo.FindByIDsForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, payrollerr.Persistence("lock adjustments", err)
	}
	if len(locked) != len(ids) {
		return nil, domain.ErrNotFound
	}
	applied, err := s.repo.SumApplied(ctx, tx, ids)
	if err != nil {
		return nil, payrollerr.Persistence("sum adjustment applications", err)
	}
	for _, adjustment := range locked {
		remaining := domain.Remaining(adjustment.Amount, applied[adjustment.ID])
		if requested[adjustment.ID] > remaining {
			obslogger.WithTechnician(s.log, adjustment.TechnicianID.String()).Info("adjustment application exceeds remaining",
				zap.String("adjustment_id", adjustment.ID.String()),
				zap.Int64("requested", requested[adjustment.ID]),
				zap.Int64("remaining", remaining),
			)
			return nil, domain.ErrExceedsRemaining
		}
	}

	now := s.clock.Now().UTC()
	rows := make([]*domain.SalaryAdjustmentApplication, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, &domain.SalaryAdjustmentApplication{
			ID:            s.genID.Generate(),
			AdjustmentID:  entry.AdjustmentID,
			SettlementID:  settlementID,
			WeekStart:     payoutweek.WeekStart(entry.WeekStart),
			AppliedAmount: entry.AppliedAmount,
			CreatedAt:     now,
		})
	}
	if err := s.repo.InsertApplications(ctx, tx, rows); err != nil {
		return nil, payrollerr.Persistence("insert adjustment applications", err)
	}

	applications := make([]domain.SalaryAdjustmentApplication, 0, len(rows))
	for _, row := range rows {
		applications = append(applications, *row)
	}
	return applications, nil
}

func (s *Service) DeferRemainder(ctx context.Context, adjustmentID snowflake.ID, leftover int64, nextAvailableFrom time.Time) (domain.SalaryAdjustment, error) {
	var (
		deferred domain.SalaryAdjustment
		evt      events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		deferred, err = s.DeferRemainderTx(ctx, tx, adjustmentID, leftover, nextAvailableFrom)
		if err != nil {
			return err
		}
		evt, err = s.outbox.PublishTx(ctx, tx, events.Event{
			Type:         events.EventAdjustmentDeferred,
			TechnicianID: deferred.TechnicianID,
			SubjectID:    deferred.ID,
			Payload: map[string]any{
				"leftover":       leftover,
				"available_from": payoutweek.FormatDate(deferred.AvailableFrom),
			},
			OccurredAt: s.clock.Now().UTC(),
		})
		if err != nil {
			return payrollerr.Persistence("publish adjustment event", err)
		}
		return nil
	})
	if err != nil {
		return domain.SalaryAdjustment{}, err
	}

	s.relay(ctx, evt)
	return deferred, nil
}

// DeferRemainderTx pushes available_from forward and appends a note. Amount is untouched.
func (s *Service) DeferRemainderTx(ctx context.Context, tx *gorm.DB, adjustmentID snowflake.ID, leftover int64, nextAvailableFrom time.Time) (domain.SalaryAdjustment, error) {
	if adjustmentID == 0 {
		return domain.SalaryAdjustment{}, domain.ErrInvalidID
	}
	if leftover <= 0 || nextAvailableFrom.IsZero() {
		return domain.SalaryAdjustment{}, domain.ErrInvalidDeferral
	}

	locked, err := s.repo.FindByIDsForUpdate(ctx, tx, []snowflake.ID{adjustmentID})
	if err != nil {
		return domain.SalaryAdjustment{}, payrollerr.Persistence("lock adjustment", err)
	}
	if len(locked) == 0 {
		return domain.SalaryAdjustment{}, domain.ErrNotFound
	}
	adjustment := locked[0]

	next := startOfDay(nextAvailableFrom)
	if !next.After(adjustment.AvailableFrom) {
		return domain.SalaryAdjustment{}, domain.ErrInvalidDeferral
	}

	applied, err := s.repo.SumApplied(ctx, tx, []snowflake.ID{adjustmentID})
	if err != nil {
		return domain.SalaryAdjustment{}, payrollerr.Persistence("sum adjustment applications", err)
	}
	if leftover > domain.Remaining(adjustment.Amount, applied[adjustmentID]) {
		return domain.SalaryAdjustment{}, domain.ErrExceedsRemaining
	}

	deferral := fmt.Sprintf("Remainder %d deferred to %s", leftover, payoutweek.FormatDate(next))
	if adjustment.Note == "" {
		adjustment.Note = deferral
	} else {
		adjustment.Note = adjustment.Note + "\n" + deferral
	}
	adjustment.AvailableFrom = next
	adjustment.UpdatedAt = s.clock.Now().UTC()

	if err := s.repo.Update(ctx, tx, adjustment); err != nil {
		return domain.SalaryAdjustment{}, payrollerr.Persistence("update adjustment", err)
	}
	return *adjustment, nil
}

func (s *Service) DeleteAdjustment(ctx context.Context, technicianID, adjustmentID snowflake.ID) error {
	if err := s.authz.Authorize(ctx, authorization.ObjectAdjustment, authorization.ActionAdjustmentDelete); err != nil {
		return err
	}
	if technicianID == 0 {
		return domain.ErrInvalidTechnician
	}
	if adjustmentID == 0 {
		return domain.ErrInvalidID
	}

	var (
		deleted domain.SalaryAdjustment
		applied int64
		evt     events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindByIDsForUpdate(ctx, tx, []snowflake.ID{adjustmentID})
		if err != nil {
			return payrollerr.Persistence("lock adjustment", err)
		}
		if len(locked) == 0 || locked[0].TechnicianID != technicianID {
			return domain.ErrNotFound
		}
		deleted = *locked[0]

		sums, err := s.repo.SumApplied(ctx, tx, []snowflake.ID{adjustmentID})
		if err != nil {
			return payrollerr.Persistence("sum adjustment applications", err)
		}
		applied = sums[adjustmentID]

		if err := s.repo.DeleteApplications(ctx, tx, adjustmentID); err != nil {
			return payrollerr.Persistence("delete adjustment applications", err)
		}
		if err := s.repo.Delete(ctx, tx, adjustmentID); err != nil {
			return payrollerr.Persistence("delete adjustment", err)
		}
		evt, err = s.outbox.PublishTx(ctx, tx, events.Event{
			Type:         events.EventAdjustmentDeleted,
			TechnicianID: technicianID,
			SubjectID:    adjustmentID,
			Payload: map[string]any{
				"type":    string(deleted.Type),
				"amount":  deleted.Amount,
				"applied": applied,
			},
			OccurredAt: s.clock.Now().UTC(),
		})
		if err != nil {
			return payrollerr.Persistence("publish adjustment event", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.relay(ctx, evt)
	s.emitAudit(ctx, "adjustment.deleted", deleted, map[string]any{
		"type":    string(deleted.Type),
		"amount":  deleted.Amount,
		"applied": applied,
		"note":    deleted.Note,
	})
	return nil
}

func (s *Service) GetByID(ctx context.Context, adjustmentID snowflake.ID) (domain.AdjustmentWithRemaining, error) {
	if adjustmentID == 0 {
		return domain.AdjustmentWithRemaining{}, domain.ErrInvalidID
	}
	adjustment, err := s.repo.FindByID(ctx, s.db, adjustmentID)
	if err != nil {
		return domain.AdjustmentWithRemaining{}, payrollerr.Persistence("load adjustment", err)
	}
	if adjustment == nil {
		return domain.AdjustmentWithRemaining{}, domain.ErrNotFound
	}
	applied, err := s.repo.SumApplied(ctx, s.db, []snowflake.ID{adjustmentID})
	if err != nil {
		return domain.AdjustmentWithRemaining{}, payrollerr.Persistence("sum adjustment applications", err)
	}
	return annotate(*adjustment, applied[adjustmentID], payoutweek.WeekRangeNow(s.clock)), nil
}

func (s *Service) ListApplications(ctx context.Context, adjustmentID snowflake.ID) ([]domain.SalaryAdjustmentApplication, error) {
	if adjustmentID == 0 {
		return nil, domain.ErrInvalidID
	}
	items, err := s.repo.ListApplications(ctx, s.db, adjustmentID)
	if err != nil {
		return nil, payrollerr.Persistence("list adjustment applications", err)
	}
	applications := make([]domain.SalaryAdjustmentApplication, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		applications = append(applications, *item)
	}
	return applications, nil
}

func annotate(adjustment domain.SalaryAdjustment, applied int64, week payoutweek.Range) domain.AdjustmentWithRemaining {
	return domain.AdjustmentWithRemaining{
		SalaryAdjustment:    adjustment,
		Applied:             applied,
		Remaining:           domain.Remaining(adjustment.Amount, applied),
		IsAvailableThisWeek: adjustment.AvailableFrom.Before(week.Next()),
		CreatedThisWeek:     week.Contains(adjustment.CreatedAt),
	}
}

// sortOldestFirst orders by created_at then id so equal timestamps still sort stably.
func sortOldestFirst(items []domain.AdjustmentWithRemaining) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func parseType(raw string) (domain.Type, error) {
	switch domain.Type(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.TypeAdvance:
		return domain.TypeAdvance, nil
	case domain.TypeDiscount:
		return domain.TypeDiscount, nil
	default:
		return "", domain.ErrInvalidType
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Service) relay(ctx context.Context, evt events.Event) {
	if s.outbox == nil || evt.ID == 0 {
		return
	}
	if err := s.outbox.Relay(ctx, s.db, s.publisher, evt); err != nil {
		s.log.Warn("failed to mark adjustment event published", zap.String("event_id", evt.ID.String()), zap.Error(err))
	}
}

func (s *Service) emitAudit(ctx context.Context, action string, adjustment domain.SalaryAdjustment, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	technicianID := adjustment.TechnicianID
	targetID := adjustment.ID.String()
	if err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		TechnicianID: &technicianID,
		Action:       action,
		TargetType:   "adjustment",
		TargetID:     &targetID,
		Metadata:     metadata,
	}); err != nil {
		obslogger.WithTechnician(s.log, technicianID.String()).Warn("failed to write adjustment audit log", zap.String("action", action), zap.Error(err))
	}
}
