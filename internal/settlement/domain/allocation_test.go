package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	adjustmentdomain "github.com/smallbiznis/repairpay/internal/adjustment/domain"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adjustment(id int64, created time.Time, remaining int64, available bool) adjustmentdomain.AdjustmentWithRemaining {
	return adjustmentdomain.AdjustmentWithRemaining{
		SalaryAdjustment: adjustmentdomain.SalaryAdjustment{
			ID:        snowflake.ID(id),
			Amount:    remaining,
			CreatedAt: created,
		},
		Remaining:           remaining,
		IsAvailableThisWeek: available,
	}
}

func TestDistributeDeduction_OldestFirst(t *testing.T) {
	base := time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	adjustments := []adjustmentdomain.AdjustmentWithRemaining{
		adjustment(3, base.Add(2*time.Hour), 10_000, true),
		adjustment(1, base, 5_000, true),
		adjustment(2, base.Add(time.Hour), 8_000, true),
		adjustment(4, base.Add(-time.Hour), 50_000, false),
	}

	got, err := DistributeDeduction(adjustments, 9_000)
	require.NoError(t, err)
	assert.Equal(t, []Allocation{
		{AdjustmentID: 1, Amount: 5_000},
		{AdjustmentID: 2, Amount: 4_000},
		{AdjustmentID: 3, Amount: 0},
	}, got)
	assert.Equal(t, int64(9_000), TotalAllocated(got))
}

func TestDistributeDeduction_TiesBrokenByID(t *testing.T) {
	at := time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	adjustments := []adjustmentdomain.AdjustmentWithRemaining{
		adjustment(9, at, 1_000, true),
		adjustment(5, at, 1_000, true),
	}

	got, err := DistributeDeduction(adjustments, 1_500)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(5), got[0].AdjustmentID)
	assert.Equal(t, int64(1_000), got[0].Amount)
	assert.Equal(t, int64(500), got[1].Amount)
}

func TestDistributeDeduction_Deterministic(t *testing.T) {
	base := time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	var adjustments []adjustmentdomain.AdjustmentWithRemaining
	for i := int64(1); i <= 20; i++ {
		adjustments = append(adjustments, adjustment(i, base.Add(time.Duration(i%4)*time.Minute), 1_000+i*10, true))
	}

	first, err := DistributeDeduction(adjustments, 12_345)
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		again, err := DistributeDeduction(adjustments, 12_345)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestDistributeDeduction_TargetOutOfRange(t *testing.T) {
	adjustments := []adjustmentdomain.AdjustmentWithRemaining{
		adjustment(1, time.Now(), 1_000, true),
	}

	_, err := DistributeDeduction(adjustments, 1_001)
	assert.ErrorIs(t, err, payrollerr.ErrInvalidInput)
	_, err = DistributeDeduction(adjustments, -1)
	assert.ErrorIs(t, err, ErrInvalidDeduction)

	got, err := DistributeDeduction(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
