package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-timing/internal/common/errors"
	"live-timing/internal/common/logging"
)

func failing(ctx context.Context) error { return fmt.Errorf("proxy returned 502") }

func TestGoBreakerAdapter(t *testing.T) {
	logger := logging.NewNopLogger()
	cfg := Config{MaxFailures: 2, Timeout: 50 * time.Millisecond, MaxConcurrentRequests: 1}

	t.Run("closed on success", func(t *testing.T) {
		cb := NewGoBreaker("relay", cfg, logger)
		require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, "relay", cb.Name())
	})

	t.Run("opens after consecutive failures and rejects immediately", func(t *testing.T) {
		cb := NewGoBreaker("fallback-1", cfg, logger)
		for i := 0; i < 2; i++ {
			assert.Error(t, cb.Execute(context.Background(), failing))
		}
		require.True(t, cb.IsOpen())

		called := false
		err := cb.Execute(context.Background(), func(context.Context) error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.ErrorIs(t, err, ErrOpen)
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
		assert.True(t, errors.IsTransient(err))
	})

	t.Run("half-open success closes the breaker", func(t *testing.T) {
		cb := NewGoBreaker("fallback-2", cfg, logger)
		for i := 0; i < 2; i++ {
			_ = cb.Execute(context.Background(), failing)
		}
		require.Equal(t, StateOpen, cb.State())

		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, StateHalfOpen, cb.State())

		require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("cancellation does not count as failure", func(t *testing.T) {
		cb := NewGoBreaker("relay-cancel", cfg, logger)
		for i := 0; i < 5; i++ {
			err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
			assert.ErrorIs(t, err, context.Canceled)
		}
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("done context short-circuits", func(t *testing.T) {
		cb := NewGoBreaker("relay-done", cfg, logger)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := cb.Execute(ctx, func(context.Context) error {
			t.Fatal("must not run")
			return nil
		})
		assert.True(t, stderrors.Is(err, context.Canceled))
	})

	t.Run("invalid config falls back to defaults", func(t *testing.T) {
		cb := NewGoBreaker("bad", Config{}, logger)
		for i := 0; i < 4; i++ {
			_ = cb.Execute(context.Background(), failing)
		}
		assert.Equal(t, StateClosed, cb.State(), "default threshold is five failures")
	})
}

func TestGoBreakerManager(t *testing.T) {
	m := NewGoBreakerManager(Config{MaxFailures: 1, Timeout: time.Minute, MaxConcurrentRequests: 1}, logging.NewNopLogger())

	assert.Same(t, m.GetOrCreate("relay"), m.GetOrCreate("relay"))
	assert.False(t, m.IsOpen("unknown"))

	_ = m.Execute(context.Background(), "fallback-b", failing)
	require.NoError(t, m.Execute(context.Background(), "fallback-a", func(context.Context) error { return nil }))

	assert.True(t, m.IsOpen("fallback-b"))
	assert.False(t, m.IsOpen("fallback-a"))

	stats := m.AllStats()
	require.Len(t, stats, 3)
	assert.Equal(t, []string{"fallback-a", "fallback-b", "relay"}, []string{stats[0].Name, stats[1].Name, stats[2].Name})
	assert.Equal(t, "open", stats[1].State)
	assert.Equal(t, 1, stats[1].Failures)
}
