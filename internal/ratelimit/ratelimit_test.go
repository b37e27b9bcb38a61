package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mailpool/mailpool/internal/apperr"
	"github.com/mailpool/mailpool/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow_WithinBudget(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemory())

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(ctx, 1, 5))
	}
	err := l.Allow(ctx, 1, 5)
	assert.True(t, errors.Is(err, apperr.ErrRateLimitExceeded))
}

func TestAllow_IndependentCredentials(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemory())

	require.NoError(t, l.Allow(ctx, 1, 1))
	assert.Error(t, l.Allow(ctx, 1, 1))
	assert.NoError(t, l.Allow(ctx, 2, 1), "credential 2 has its own window")
}

func TestAllow_WindowRollsOver(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemory())
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Allow(ctx, 1, 1))
	assert.Error(t, l.Allow(ctx, 1, 1))

	now = now.Add(time.Minute)
	assert.NoError(t, l.Allow(ctx, 1, 1), "new minute bucket resets the count")
}

func TestAllow_ZeroMeansUnlimited(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemory())
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow(ctx, 1, 0))
	}
}

// brokenKV fails every operation, standing in for an unreachable Redis.
type brokenKV struct{}

func (brokenKV) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("kv down")
}

func (brokenKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.New("kv down")
}

func (brokenKV) Del(ctx context.Context, keys ...string) error {
	return errors.New("kv down")
}

func (brokenKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("kv down")
}

func TestAllow_FailsOpenWhenStoreIsDown(t *testing.T) {
	ctx := context.Background()
	l := New(brokenKV{})

	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Allow(ctx, 1, 1), "store outage must not reject requests")
	}
}
