package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
)

// RetryConfig controls Retry.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int
	// InitialBackoff is the wait before the first retry
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after each retry
	BackoffMultiplier float64
	// Jitter randomizes each wait by up to 10%
	Jitter bool
	// RetryableErrors decides whether an error is worth another attempt
	RetryableErrors func(error) bool
}

// DefaultRetryConfig retries three times starting at 10ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors retries everything except an open circuit and
// context cancellation.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrCircuitBreakerOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// RetryStats describes the attempts made by RetryWithStats.
type RetryStats struct {
	TotalAttempts   int
	TotalRetries    int
	SuccessfulCalls int
	TotalBackoff    time.Duration
	AverageBackoff  time.Duration
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = c.BackoffMultiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	if c.Jitter {
		b.RandomizationFactor = 0.1
	}
	b.Reset()
	return b
}

// Retry calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx ends.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := RetryWithStats(ctx, config, fn)
	return err
}

// RetryWithStats is Retry that also reports what happened.
func RetryWithStats(ctx context.Context, config RetryConfig, fn func() error) (RetryStats, error) {
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = DefaultRetryableErrors
	}
	var stats RetryStats
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		stats.TotalAttempts++
		err := fn()
		if err == nil {
			stats.SuccessfulCalls++
			return struct{}{}, nil
		}
		if !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(config.backOff()),
		backoff.WithMaxTries(uint(max(config.MaxRetries, 0)+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, wait time.Duration) {
			stats.TotalRetries++
			stats.TotalBackoff += wait
		}),
	)
	if stats.TotalRetries > 0 {
		stats.AverageBackoff = stats.TotalBackoff / time.Duration(stats.TotalRetries)
	}
	return stats, err
}

// RetryWithCircuitBreaker retries fn through cb. An open circuit ends the
// retries immediately.
func RetryWithCircuitBreaker(ctx context.Context, config RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		return cb.Execute(ctx, func(context.Context) error { return fn() })
	})
}
