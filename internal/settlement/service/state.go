package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	adjustmentdomain "github.com/smallbiznis/repairpay/internal/adjustment/domain"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
	"github.com/smallbiznis/repairpay/internal/payoutweek"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"github.com/smallbiznis/repairpay/internal/settlement/domain"
)

// loadState computes the payable state of one technician for the week containing weekRef.
func (s *Service) loadState(ctx context.Context, technicianID snowflake.ID, weekRef time.Time, selected map[snowflake.ID]int64) (domain.WeekSummary, error) {
	week := payoutweek.WeekRange(weekRef)
	epoch := payoutweek.EpochOf(week.Start)

	earned, err := s.orders.EarnedForEpoch(ctx, technicianID, epoch)
	if err != nil {
		return domain.WeekSummary{}, err
	}
	closedEarned, err := s.returns.ClosedEarnedForEpoch(ctx, technicianID, epoch)
	if err != nil {
		return domain.WeekSummary{}, err
	}
	weekReturns, err := s.returns.ForWeek(ctx, technicianID, week)
	if err != nil {
		return domain.WeekSummary{}, err
	}
	totals, err := s.repo.SumForWeek(ctx, s.db, technicianID, week.Start)
	if err != nil {
		return domain.WeekSummary{}, payrollerr.Persistence("sum settlements", err)
	}
	weekStart := week.Start
	settlements, err := s.repo.List(ctx, s.db, domain.ListFilter{TechnicianID: technicianID, WeekStart: &weekStart})
	if err != nil {
		return domain.WeekSummary{}, payrollerr.Persistence("list settlements", err)
	}
	pending, err := s.adjustments.PendingFor(ctx, technicianID, week.Start, nil)
	if err != nil {
		return domain.WeekSummary{}, err
	}

	summary := domain.WeekSummary{
		TechnicianID:    technicianID,
		Week:            week,
		Epoch:           epoch,
		ReturnsTotal:    weekReturns.Total,
		AlreadySettled:  totals.Settled,
		AlreadyDeducted: totals.Deducted,
		Available:       []adjustmentdomain.AdjustmentWithRemaining{},
		Deferred:        []adjustmentdomain.AdjustmentWithRemaining{},
		EarnedOrders:    earned,
		Returns:         weekReturns,
		Settlements:     derefSettlements(settlements),
	}

	summary.GrossEarned = closedEarned
	for _, order := range earned {
		summary.GrossEarned += order.CommissionAmount
	}

	for _, adj := range pending {
		if adj.IsAvailableThisWeek {
			summary.Available = append(summary.Available, adj)
			summary.TotalAdjustable += adj.Remaining
			if want, ok := selected[adj.ID]; ok {
				summary.SelectedAdjustmentsTotal += clamp(want, 0, adj.Remaining)
			}
			continue
		}
		summary.Deferred = append(summary.Deferred, adj)
		summary.DeferredHoldback += adj.Remaining
	}

	signed := summary.GrossEarned - summary.ReturnsTotal - summary.AlreadySettled - summary.AlreadyDeducted
	summary.GrossAvailableSigned = signed
	summary.GrossAvailable = max(signed, 0)
	summary.MinPayable = max(signed-summary.TotalAdjustable-summary.DeferredHoldback, 0)
	summary.MaxPayable = max(signed+summary.DeferredHoldback, signed)
	summary.NetRemaining = max(signed-summary.SelectedAdjustmentsTotal-summary.DeferredHoldback, 0)
	summary.SettleLimit = max(signed-summary.DeferredHoldback, 0)

	summary.SincePaidAt = lastCursor(summary.Settlements)
	summary.UnsettledOrderIDs = unsettledOrders(earned, summary.SincePaidAt)
	return summary, nil
}

type carry struct {
	id     snowflake.ID
	amount int64
}

type plan struct {
	entries []adjustmentdomain.ApplicationEntry
	carries []carry
	details domain.SettlementDetails
}

// buildPlan turns allocations into application entries, remainder deferrals
// and the applied/omitted/carried breakdown.
func buildPlan(state domain.WeekSummary, allocations []domain.Allocation, week payoutweek.Range) plan {
	allocated := make(map[snowflake.ID]int64, len(allocations))
	for _, a := range allocations {
		allocated[a.AdjustmentID] += a.Amount
	}

	var out plan
	for _, adj := range state.Available {
		amount := allocated[adj.ID]
		leftover := adj.Remaining - amount
		if amount > 0 {
			out.entries = append(out.entries, adjustmentdomain.ApplicationEntry{
				AdjustmentID:  adj.ID,
				WeekStart:     week.Start,
				AppliedAmount: amount,
			})
			out.details.Applied = append(out.details.Applied, domain.AppliedAdjustment{
				AdjustmentID:   adj.ID.String(),
				Type:           string(adj.Type),
				CreatedAt:      adj.CreatedAt,
				RemainingAfter: leftover,
				Applied:        amount,
			})
		} else {
			out.details.Omitted = append(out.details.Omitted, domain.OmittedAdjustment{
				AdjustmentID: adj.ID.String(),
				Type:         string(adj.Type),
				Remaining:    adj.Remaining,
				Reason:       domain.OmitReasonNotNeeded,
			})
		}
		// Only adjustments created in this week roll forward; older carry-overs stay put.
		if leftover > 0 && adj.CreatedThisWeek {
			out.carries = append(out.carries, carry{id: adj.ID, amount: leftover})
			out.details.CarriedOver = append(out.details.CarriedOver, domain.CarriedOver{
				AdjustmentID:  adj.ID.String(),
				Amount:        leftover,
				AvailableFrom: week.Next(),
			})
		}
	}
	for _, adj := range state.Deferred {
		out.details.Omitted = append(out.details.Omitted, domain.OmittedAdjustment{
			AdjustmentID: adj.ID.String(),
			Type:         string(adj.Type),
			Remaining:    adj.Remaining,
			Reason:       domain.OmitReasonNotAvailable,
		})
	}
	return out
}

// paidCursor returns the latest paid_at of the paid orders in earned along with their ids.
func paidCursor(earned []orderdomain.Order) (*time.Time, []string) {
	var (
		cursor *time.Time
		ids    []string
	)
	for _, order := range earned {
		if order.Status != orderdomain.StatusPaid || order.PaidAt == nil {
			continue
		}
		ids = append(ids, order.ID.String())
		if cursor == nil || order.PaidAt.After(*cursor) {
			paidAt := order.PaidAt.UTC()
			cursor = &paidAt
		}
	}
	sort.Strings(ids)
	return cursor, ids
}

func lastCursor(settlements []domain.SalarySettlement) *time.Time {
	var cursor *time.Time
	for _, settlement := range settlements {
		since := settlement.Details.Data().SincePaidAt
		if since == nil {
			continue
		}
		if cursor == nil || since.After(*cursor) {
			value := *since
			cursor = &value
		}
	}
	return cursor
}

func unsettledOrders(earned []orderdomain.Order, since *time.Time) []string {
	ids := []string{}
	for _, order := range earned {
		if order.Status != orderdomain.StatusPaid || order.PaidAt == nil {
			continue
		}
		if since != nil && !order.PaidAt.After(*since) {
			continue
		}
		ids = append(ids, order.ID.String())
	}
	return ids
}
