package strava

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy defines how transient failures are retried.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         bool
}

// DefaultRetryPolicy retries three times, starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// retryableError marks an error as transient.
type retryableError struct {
	Err         error
	RetryAfter  time.Duration
	RateLimited bool
}

func (e *retryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %v)", e.Err, e.RetryAfter)
	}
	return e.Err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.Err
}

func isRetryable(err error) bool {
	var retryable *retryableError
	return errors.As(err, &retryable)
}

// retry runs fn until it succeeds, returns a non-transient error, or the
// policy is exhausted. Exhaustion yields a *TransportError.
func retry(ctx context.Context, policy RetryPolicy, logger zerolog.Logger, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == policy.MaxRetries {
			break
		}

		backoff := calculateBackoff(policy, attempt)
		var retryErr *retryableError
		if errors.As(err, &retryErr) && retryErr.RetryAfter > 0 {
			backoff = retryErr.RetryAfter
		}

		logger.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying strava request")

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	var retryErr *retryableError
	if errors.As(lastErr, &retryErr) {
		lastErr = retryErr.Err
	}
	return &TransportError{Attempts: policy.MaxRetries + 1, Err: lastErr}
}

func calculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	backoff := float64(policy.InitialBackoff) * math.Pow(policy.BackoffFactor, float64(attempt))
	if backoff > float64(policy.MaxBackoff) {
		backoff = float64(policy.MaxBackoff)
	}

	duration := time.Duration(backoff)
	if policy.Jitter {
		// +/- 10%
		duration += time.Duration(float64(duration) * 0.1 * (2*rand.Float64() - 1))
	}
	return duration
}
