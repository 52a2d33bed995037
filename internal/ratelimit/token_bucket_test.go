package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilBucketIsNotConfigured(t *testing.T) {
	var bucket *TokenBucket
	assert.Nil(t, NewTokenBucket(nil))

	_, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, bucketTTL(0, 5))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, 20*time.Second, bucketTTL(0.5, 5))
}

func TestBuildResult(t *testing.T) {
	ok := buildResult(true, 2.5, 1, 5)
	assert.True(t, ok.Allowed)
	assert.Equal(t, 2, ok.Remaining)
	assert.Zero(t, ok.RetryAfter)

	denied := buildResult(false, 0.25, 0.5, 5)
	require.False(t, denied.Allowed)
	assert.Equal(t, 5, denied.Limit)
	assert.Equal(t, 1500*time.Millisecond, denied.RetryAfter)
}

func TestScriptReplyParsing(t *testing.T) {
	assert.EqualValues(t, 1, toInt(int64(1)))
	assert.EqualValues(t, 3, toInt("3"))
	assert.InDelta(t, 0.75, toFloat("0.75"), 1e-9)
	assert.InDelta(t, 2, toFloat(int64(2)), 1e-9)
	assert.Zero(t, toFloat(struct{}{}))
}
