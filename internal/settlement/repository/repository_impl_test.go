package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/lock"
	"github.com/smallbiznis/repairpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestWeekLockStatement(t *testing.T) {
	weekStart := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	technicianID := snowflake.ID(21)

	query, args, ok := weekLockStatement("postgres", technicianID, weekStart)
	require.True(t, ok)
	assert.Contains(t, query, "pg_advisory_xact_lock(hashtext(?))")
	assert.Equal(t, []any{lock.SettlementKey(technicianID, weekStart)}, args)

	query, args, ok = weekLockStatement("mysql", technicianID, weekStart)
	require.True(t, ok)
	assert.Contains(t, query, "FOR UPDATE")
	assert.Equal(t, []any{technicianID, weekStart}, args)

	_, _, ok = weekLockStatement("sqlite", technicianID, weekStart)
	assert.False(t, ok)
}

func TestLockWeek_SqliteIsNoop(t *testing.T) {
	db := testutil.NewDB(t)
	r := Provide()

	err := db.Transaction(func(tx *gorm.DB) error {
		return r.LockWeek(context.Background(), tx, snowflake.ID(21), time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))
	})
	assert.NoError(t, err)
}
