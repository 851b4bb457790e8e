package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-timing/internal/common/errors"
)

func TestLocalLimiter(t *testing.T) {
	limiter, err := NewLocalLimiter(Config{RequestsPerSecond: 10, BurstSize: 5, Enabled: true})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.TryAcquire(), "request %d within burst", i)
	}
	assert.False(t, limiter.TryAcquire(), "burst exhausted")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, limiter.Wait(ctx))
}

func TestLocalLimiterKeyBased(t *testing.T) {
	limiter, err := NewLocalLimiter(Config{
		RequestsPerSecond:       100,
		BurstSize:               100,
		PerKeyRequestsPerSecond: 1,
		PerKeyBurstSize:         2,
		Enabled:                 true,
	})
	require.NoError(t, err)

	assert.True(t, limiter.TryAcquireForKey("10.0.0.1"))
	assert.True(t, limiter.TryAcquireForKey("10.0.0.1"))
	assert.False(t, limiter.TryAcquireForKey("10.0.0.1"))

	assert.True(t, limiter.TryAcquireForKey("10.0.0.2"), "keys have separate buckets")
	assert.Equal(t, 2, limiter.Stats()["active_keys"])
}

func TestLocalLimiterGlobalBucketAppliesToKeys(t *testing.T) {
	limiter, err := NewLocalLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, PerKeyBurstSize: 5, Enabled: true})
	require.NoError(t, err)

	assert.True(t, limiter.TryAcquireForKey("a"))
	assert.False(t, limiter.TryAcquireForKey("b"))
}

func TestLocalLimiterDisabled(t *testing.T) {
	limiter, err := NewLocalLimiter(Config{Enabled: false})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.True(t, limiter.TryAcquireForKey("k"))
	}
	assert.NoError(t, limiter.Wait(context.Background()))
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Enabled: true, RequestsPerSecond: 0.5}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.BurstSize)
	assert.Equal(t, 0.5, cfg.PerKeyRequestsPerSecond)
	assert.Equal(t, 10000, cfg.MaxKeys)

	bad := Config{Enabled: true}
	assert.True(t, errors.IsType(bad.Validate(), errors.ErrTypeConfig))
}
