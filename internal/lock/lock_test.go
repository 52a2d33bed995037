package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/config"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLocker_ExclusiveUntilReleased(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "k", "someone-else"))
	_, ok, _ = locker.TryLock(ctx, "k", time.Minute)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "k", token))
	_, ok, _ = locker.TryLock(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestLocalLocker_LeaseExpires(t *testing.T) {
	now := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.nowFn = func() time.Time { return now }

	_, ok, _ := locker.TryLock(context.Background(), "k", time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = locker.TryLock(context.Background(), "k", time.Second)
	assert.True(t, ok)
}

func TestWithLock_BusyIsConflict(t *testing.T) {
	locker := NewLocalLocker()
	key := SettlementKey(snowflake.ID(42), time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "repairpay:settle:42:2024-03-09", key)

	err := WithLock(context.Background(), locker, key, time.Minute, func() error {
		inner := WithLock(context.Background(), locker, key, time.Minute, func() error { return nil })
		assert.ErrorIs(t, inner, ErrBusy)
		assert.ErrorIs(t, inner, payrollerr.ErrConflict)
		return errors.New("outer")
	})
	assert.EqualError(t, err, "outer")

	ran := false
	require.NoError(t, WithLock(context.Background(), locker, key, time.Minute, func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestRedisLocker_NilClient(t *testing.T) {
	assert.Nil(t, NewRedisLocker(nil))
}

func TestNewLockerFallsBackToLocal(t *testing.T) {
	assert.Nil(t, NewRedisClient(nil, config.Config{}))

	locker := NewLocker(nil, zap.NewNop())
	_, ok := locker.(*LocalLocker)
	assert.True(t, ok)
}

func TestNewLockerUsesRedisWhenConfigured(t *testing.T) {
	client := NewRedisClient(nil, config.Config{RedisAddr: "127.0.0.1:6379"})
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client, zap.NewNop())
	_, ok := locker.(*RedisLocker)
	assert.True(t, ok)
}
