package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("temporary error")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	cause := errors.New("persistent error")
	err := Retry(context.Background(), fastConfig(2), func() error {
		attempts++
		return cause
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts) // Initial attempt + 2 retries
	assert.True(t, errors.Is(err, ErrMaxRetriesExceeded))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrNonRetryable))
}

func TestRetry_NonRetryableError(t *testing.T) {
	config := fastConfig(3)
	config.RetryableErrors = func(err error) bool {
		return err.Error() != "non-retryable"
	}

	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		return errors.New("non-retryable")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, ErrNonRetryable))
	assert.False(t, errors.Is(err, ErrMaxRetriesExceeded))
}

func TestRetry_ZeroRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(0), func() error {
		attempts++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, ErrMaxRetriesExceeded))
}

func TestRetry_ContextCancellation(t *testing.T) {
	config := fastConfig(5)
	config.InitialBackoff = 100 * time.Millisecond
	config.MaxBackoff = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	err := Retry(ctx, config, func() error {
		attempts++
		return errors.New("temporary error")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.GreaterOrEqual(t, attempts, 1)
	assert.LessOrEqual(t, attempts, 3)
}

func TestRetry_OnRetry(t *testing.T) {
	config := fastConfig(2)
	var seen []int
	config.OnRetry = func(attempt int, err error) {
		seen = append(seen, attempt)
	}
	_ = Retry(context.Background(), config, func() error {
		return errors.New("again")
	})
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetry_ZeroBackoff(t *testing.T) {
	config := fastConfig(4)
	config.InitialBackoff = 0
	config.MaxBackoff = 0

	attempts := 0
	start := time.Now()
	err := Retry(context.Background(), config, func() error {
		attempts++
		return errors.New("again")
	})
	require.Error(t, err)
	assert.Equal(t, 5, attempts)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()
	assert.Equal(t, 3, config.MaxRetries)
	assert.True(t, config.Jitter)
	require.NotNil(t, config.RetryableErrors)
	assert.False(t, config.RetryableErrors(context.Canceled))

	// exponential growth is capped at MaxBackoff
	config.Jitter = false
	assert.Equal(t, 100*time.Millisecond, calculateBackoff(0, config))
	assert.Equal(t, 400*time.Millisecond, calculateBackoff(2, config))
	assert.Equal(t, 10*time.Second, calculateBackoff(20, config))
}

func TestRetryWithStats(t *testing.T) {
	config := fastConfig(2)
	config.InitialBackoff = 5 * time.Millisecond
	config.MaxBackoff = 50 * time.Millisecond

	attempts := 0
	stats, err := RetryWithStats(context.Background(), config, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, stats.TotalAttempts)
	assert.Equal(t, 1, stats.SuccessfulCalls)
	assert.Equal(t, 2, stats.TotalRetries)
	assert.Greater(t, stats.AverageBackoff, time.Duration(0))
}

func TestDefaultRetryableErrors(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{errors.New("network error"), true},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{errors.Wrap(context.Canceled, "wrapped"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.retryable, DefaultRetryableErrors(tt.err), "error %v", tt.err)
	}
}

func TestCalculateBackoff(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second}, // Capped at MaxBackoff
		{5, 1 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, calculateBackoff(tt.attempt, config), "attempt %d", tt.attempt)
	}
}

func TestCalculateBackoffWithJitter(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	results := make(map[time.Duration]bool)
	for range 10 {
		results[calculateBackoff(1, config)] = true
	}

	assert.GreaterOrEqual(t, len(results), 2, "jitter should produce different backoff values")

	for duration := range results {
		assert.GreaterOrEqual(t, duration, 200*time.Millisecond)
		assert.LessOrEqual(t, duration, 220*time.Millisecond)
	}
}
