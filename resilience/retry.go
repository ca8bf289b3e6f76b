package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrMaxRetriesExceeded marks the error returned once the retry budget is spent.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	// ErrNonRetryable marks the error returned when the predicate rejected an error.
	ErrNonRetryable = errors.New("non-retryable error")
)

// RetryConfig defines configuration for retry logic
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first one
	MaxRetries int

	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64

	// Jitter adds randomness to backoff to avoid thundering herd
	Jitter bool

	// RetryableErrors is a function that determines if an error is retryable
	RetryableErrors func(error) bool

	// OnRetry is called before sleeping ahead of each retry
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors determines if an error is retryable by default
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}

	// Don't retry context cancellation
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return true
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// Retry executes a function with retry logic.
//
// The returned error wraps the last failure and is marked with
// ErrNonRetryable or ErrMaxRetriesExceeded so callers can tell the two apart.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	_, err := RetryWithStats(ctx, config, fn)
	return err
}

// calculateBackoff calculates the backoff duration for a given attempt
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt))

	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}

	if config.Jitter {
		jitter := rand.Float64() * 0.1 * backoff // 10% jitter
		backoff += jitter
	}

	return time.Duration(backoff)
}

// RetryStats tracks retry statistics
type RetryStats struct {
	TotalAttempts   int
	SuccessfulCalls int
	FailedCalls     int
	TotalRetries    int
	AverageBackoff  time.Duration
	LastError       error
}

// RetryWithStats executes a function with retry logic and tracks statistics
func RetryWithStats(ctx context.Context, config RetryConfig, fn RetryableFunc) (RetryStats, error) {
	stats := RetryStats{}
	var totalBackoff time.Duration
	var backoffCount int

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		stats.TotalAttempts++

		err := fn()
		if err == nil {
			stats.SuccessfulCalls++
			if backoffCount > 0 {
				stats.AverageBackoff = totalBackoff / time.Duration(backoffCount)
			}
			return stats, nil
		}

		stats.LastError = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			stats.FailedCalls++
			return stats, errors.Mark(err, ErrNonRetryable)
		}

		// Don't sleep after the last attempt
		if attempt == config.MaxRetries {
			break
		}

		stats.TotalRetries++
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err)
		}

		backoff := calculateBackoff(attempt, config)
		totalBackoff += backoff
		backoffCount++

		if backoff <= 0 {
			if err := ctx.Err(); err != nil {
				stats.FailedCalls++
				return stats, errors.Wrap(err, "retry cancelled")
			}
			continue
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			stats.FailedCalls++
			return stats, errors.Wrap(ctx.Err(), "retry cancelled")
		case <-timer.C:
		}
	}

	stats.FailedCalls++
	if backoffCount > 0 {
		stats.AverageBackoff = totalBackoff / time.Duration(backoffCount)
	}

	return stats, errors.Mark(
		errors.Wrapf(stats.LastError, "max retries exceeded (%d)", config.MaxRetries),
		ErrMaxRetriesExceeded,
	)
}
