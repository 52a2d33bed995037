package domain

import (
	"sort"

	adjustmentdomain "github.com/smallbiznis/repairpay/internal/adjustment/domain"
)

// DistributeDeduction spreads target over the adjustments available this week,
// paying down the oldest first. Unavailable adjustments receive nothing.
// The result lists every available adjustment in allocation order, including
// zero allocations, and is identical for identical inputs.
func DistributeDeduction(adjustments []adjustmentdomain.AdjustmentWithRemaining, target int64) ([]Allocation, error) {
	available := make([]adjustmentdomain.AdjustmentWithRemaining, 0, len(adjustments))
	var totalAdjustable int64
	for _, adjustment := range adjustments {
		if !adjustment.IsAvailableThisWeek || adjustment.Remaining <= 0 {
			continue
		}
		available = append(available, adjustment)
		totalAdjustable += adjustment.Remaining
	}
	if target < 0 || target > totalAdjustable {
		return nil, ErrInvalidDeduction
	}

	sort.SliceStable(available, func(i, j int) bool {
		if !available[i].CreatedAt.Equal(available[j].CreatedAt) {
			return available[i].CreatedAt.Before(available[j].CreatedAt)
		}
		return available[i].ID < available[j].ID
	})

	leftover := target
	allocations := make([]Allocation, 0, len(available))
	for _, adjustment := range available {
		amount := min(adjustment.Remaining, leftover)
		leftover -= amount
		allocations = append(allocations, Allocation{
			AdjustmentID: adjustment.ID,
			Amount:       amount,
		})
	}
	return allocations, nil
}

// TotalAllocated sums the allocated amounts.
func TotalAllocated(allocations []Allocation) int64 {
	var total int64
	for _, allocation := range allocations {
		total += allocation.Amount
	}
	return total
}
