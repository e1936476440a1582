package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProvider = errors.New("provider down")

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return errProvider })
	}
}

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{Name: "test", FailureThreshold: threshold, ResetTimeout: reset})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	failN(t, b, 3)
	assert.Equal(t, CircuitOpen, b.State())

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	failN(t, b, 2)
	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	failN(t, b, 2)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	failN(t, b, 1)
	assert.Equal(t, CircuitOpen, b.State())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, b.State())

	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)
	failN(t, b, 2)
	*now = now.Add(2 * time.Minute)

	failN(t, b, 1)
	assert.Equal(t, CircuitOpen, b.State())
}

func TestBreaker_ShouldTrip(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, context.Canceled) },
	})
	_ = b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour)
	failN(t, b, 1)
	b.Reset()
	assert.Equal(t, CircuitClosed, b.State())
}

func TestExecuteVal(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour)
	v, err := ExecuteVal(context.Background(), b, func(context.Context) (string, error) { return "hello", nil })
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = ExecuteVal(context.Background(), b, func(context.Context) (string, error) { return "partial", errProvider })
	require.Error(t, err)
	assert.Empty(t, v)

	_, err = ExecuteVal(context.Background(), b, func(context.Context) (string, error) { return "x", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_Concurrent(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(context.Context) error {
				if i%2 == 0 {
					return errProvider
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreakerFromConfig(t *testing.T) {
	cfg := BreakerFromConfig("anthropic", 3, 60)
	assert.Equal(t, "anthropic", cfg.Name)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.ResetTimeout)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}
