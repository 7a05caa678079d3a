package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creatorops/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult(t *testing.T) {
	r := parseResult([]any{int64(1), "4.5", int64(1700000000000)}, 1)
	assert.True(t, r.Allowed)
	assert.Equal(t, 4, r.Remaining)
	assert.Zero(t, r.RetryAfter)

	r = parseResult([]any{int64(0), "0.5", int64(1700000000000)}, 0.5)
	assert.False(t, r.Allowed)
	assert.Equal(t, time.Second, r.RetryAfter)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 40*time.Second, bucketTTL(1, 20))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}

func TestDisabledLimiterAllows(t *testing.T) {
	l := NewNotificationLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true}}, nil)
	assert.Nil(t, l)

	ok, wait, err := l.Allow(context.Background(), "slack")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, wait)
}

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTokenBucketSpendsBurstThenDenies(t *testing.T) {
	bucket := NewTokenBucket(newTestClient(t))
	ctx := context.Background()

	first, err := bucket.Allow(ctx, "creatorops:notify:slack", 0.01, 2)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second, err := bucket.Allow(ctx, "creatorops:notify:slack", 0.01, 2)
	require.NoError(t, err)
	assert.True(t, second.Allowed)

	third, err := bucket.Allow(ctx, "creatorops:notify:slack", 0.01, 2)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Greater(t, third.RetryAfter, time.Duration(0))

	other, err := bucket.Allow(ctx, "creatorops:notify:email", 0.01, 2)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "buckets are per key")
}

func TestTokenBucketRejectsBadArguments(t *testing.T) {
	bucket := NewTokenBucket(newTestClient(t))
	ctx := context.Background()

	_, err := bucket.Allow(ctx, "", 1, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(ctx, "k", 0, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(ctx, "k", 1, 0)
	assert.Error(t, err)
}

func TestNotificationLimiterPerChannel(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, NotifyPerMinute: 1, NotifyBurst: 1}}
	l := NewNotificationLimiter(cfg, newTestClient(t))
	require.NotNil(t, l)
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "slack")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, wait, err := l.Allow(ctx, "slack")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Minute)

	ok, _, err = l.Allow(ctx, "email")
	require.NoError(t, err)
	assert.True(t, ok)
}
