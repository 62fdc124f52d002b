// Package resilience retries operations with exponential backoff.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig controls Retry.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps every wait.
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after each retry.
	BackoffMultiplier float64
	// Jitter spreads each wait by up to 10% either way.
	Jitter bool
	// RetryableErrors decides whether an error is worth another attempt. Nil
	// means DefaultRetryableErrors.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a config with three retries starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// RetryStats describes a RetryWithStats run.
type RetryStats struct {
	TotalAttempts   int
	SuccessfulCalls int
	TotalRetries    int
	TotalBackoff    time.Duration
	AverageBackoff  time.Duration
	LastError       error
}

// DefaultRetryableErrors retries everything except nil and context errors.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// retries are used up or ctx is done. The last error from fn is returned.
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
	for attempt := 0; ; attempt++ {
		stats.TotalAttempts++
		err := fn()
		if err == nil {
			stats.SuccessfulCalls++
			stats.LastError = nil
			stats.finish()
			return stats, nil
		}
		stats.LastError = err

		if attempt >= config.MaxRetries || !retryable(err) {
			stats.finish()
			return stats, err
		}

		wait := calculateBackoff(attempt, config)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			stats.finish()
			return stats, errors.Mark(err, ctx.Err())
		case <-timer.C:
		}
		stats.TotalRetries++
		stats.TotalBackoff += wait
	}
}

func (s *RetryStats) finish() {
	if s.TotalRetries > 0 {
		s.AverageBackoff = s.TotalBackoff / time.Duration(s.TotalRetries)
	}
}

// ExponentialBackoff retries fn up to maxRetries times, doubling the wait
// from initialBackoff each time.
func ExponentialBackoff(ctx context.Context, maxRetries int, initialBackoff time.Duration, fn func() error) error {
	return Retry(ctx, RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    initialBackoff,
		MaxBackoff:        time.Duration(math.MaxInt64),
		BackoffMultiplier: 2.0,
		RetryableErrors:   DefaultRetryableErrors,
	}, fn)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiplier := config.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := float64(config.InitialBackoff) * math.Pow(multiplier, float64(attempt))
	if config.Jitter {
		backoff += backoff * 0.1 * (rand.Float64()*2 - 1)
	}
	ceiling := config.MaxBackoff
	if ceiling <= 0 {
		ceiling = time.Duration(math.MaxInt64)
	}
	// float64(ceiling) may round above the largest Duration, so compare in
	// float and return the integer ceiling. Jitter on an infinite wait is NaN.
	if math.IsNaN(backoff) || backoff >= float64(ceiling) {
		return ceiling
	}
	return time.Duration(backoff)
}
