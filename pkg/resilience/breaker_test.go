package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/richxcame/risk-engine/pkg/config"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func failing(ctx context.Context) (interface{}, error) { return nil, errBackend }

func TestCircuitBreaker_PassesThrough(t *testing.T) {
	b := NewCircuitBreaker(Settings{Name: "test-pass", Timeout: time.Second, FailureThreshold: 2}, nil)

	result, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result)
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, "test-pass", b.Name())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(Settings{Name: "test-open", Timeout: time.Minute, FailureThreshold: 2}, NoopFallback)
	ctx := context.Background()

	_, err := b.Execute(ctx, failing)
	assert.ErrorIs(t, err, errBackend)
	_, err = b.Execute(ctx, failing)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	called := false
	_, err = b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not run the operation")
}

func TestCircuitBreaker_FallbackValue(t *testing.T) {
	fallback := func(ctx context.Context, err error) (interface{}, error) { return "cached", nil }
	b := NewCircuitBreaker(Settings{Name: "test-fallback", Timeout: time.Minute, FailureThreshold: 1}, fallback)

	_, _ = b.Execute(context.Background(), failing)
	result, err := b.Execute(context.Background(), failing)
	require.NoError(t, err)
	assert.Equal(t, "cached", result)
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	ignored := errors.New("not found")
	b := NewCircuitBreaker(Settings{
		Name:             "test-filter",
		Timeout:          time.Minute,
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, ignored) },
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, ignored
		})
		assert.ErrorIs(t, err, ignored)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestCircuitBreaker_GeneratedName(t *testing.T) {
	b := NewCircuitBreaker(Settings{}, nil)
	assert.Contains(t, b.Name(), "breaker-")
}

func TestGracefulDegradation(t *testing.T) {
	_, err := GracefulDegradation("redis")(context.Background(), gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSettingsFromConfig(t *testing.T) {
	s := SettingsFromConfig("velocity", config.RiskConfig{}, nil)
	assert.Equal(t, time.Minute, s.Interval)
	assert.Equal(t, 30*time.Second, s.Timeout)
	assert.Equal(t, uint32(5), s.FailureThreshold)
	assert.Equal(t, uint32(1), s.SuccessThreshold)

	s = SettingsFromConfig("velocity", config.RiskConfig{
		BreakerInterval:  10,
		BreakerTimeout:   3,
		BreakerFailures:  2,
		BreakerSuccesses: 4,
	}, nil)
	assert.Equal(t, 10*time.Second, s.Interval)
	assert.Equal(t, 3*time.Second, s.Timeout)
	assert.Equal(t, uint32(2), s.FailureThreshold)
	assert.Equal(t, uint32(4), s.SuccessThreshold)
}
