package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/tenantry/internal/clock"
	"github.com/smallbiznis/tenantry/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, login config.RateRule) (*policyLimiter, *clock.FakeClock) {
	t.Helper()

	policy := config.DefaultPolicyConfig()
	policy.RateLimits.Login = login
	clk := clock.NewFakeClock(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	return newPolicyLimiter(NewLocalBucket(clk), config.NewStaticPolicyHolder(policy), zap.NewNop(), nil), clk
}

func TestLocalLimiterExhaustsAndRefills(t *testing.T) {
	limiter, clk := newTestLimiter(t, config.RateRule{Rate: 1, Burst: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, EndpointLogin, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2, res.Limit)
	}

	res, err := limiter.Allow(ctx, EndpointLogin, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Second, res.RetryAfter)

	other, err := limiter.Allow(ctx, EndpointLogin, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	clk.Advance(time.Second)
	res, err = limiter.Allow(ctx, EndpointLogin, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiterKeysAreCaseInsensitive(t *testing.T) {
	limiter, _ := newTestLimiter(t, config.RateRule{Rate: 0.1, Burst: 1})
	ctx := context.Background()

	res, err := limiter.Allow(ctx, EndpointLogin, "Alice@Example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, EndpointLogin, " alice@example.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestLimiterRejectsUnknownEndpoint(t *testing.T) {
	limiter, _ := newTestLimiter(t, config.RateRule{Rate: 1, Burst: 1})

	_, err := limiter.Allow(context.Background(), "export", "x")
	assert.Error(t, err)
}

type failingBucket struct{}

func (failingBucket) Allow(context.Context, string, Rule) (*Result, error) {
	return nil, errors.New("connection refused")
}

func TestLimiterFailsOpen(t *testing.T) {
	holder := config.NewStaticPolicyHolder(config.DefaultPolicyConfig())
	limiter := newPolicyLimiter(failingBucket{}, holder, zap.NewNop(), nil)

	res, err := limiter.Allow(context.Background(), EndpointSignup, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucketRequiresClient(t *testing.T) {
	assert.Nil(t, NewTokenBucket(nil))

	var bucket *TokenBucket
	_, err := bucket.Allow(context.Background(), "k", Rule{Rate: 1, Burst: 1})
	assert.Error(t, err)
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(3), castToInt(int64(3)))
	assert.Equal(t, int64(7), castToInt("7"))
	assert.InDelta(t, 1.5, castToFloat("1.5"), 1e-9)
	assert.InDelta(t, 2.0, castToFloat(int64(2)), 1e-9)
	assert.Equal(t, 2*time.Second, defaultBucketTTL(2, 2))
}
