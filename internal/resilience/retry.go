package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cyxwiz-lab/hybridbuild/internal/errkind"
)

// Common errors.
var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrNotRetryable       = errors.New("error is not retryable")
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		Multiplier:      2.0,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

// RetryOperation represents an operation that can be retried.
type RetryOperation func() error

// RetryableOperation represents an operation that returns a result.
type RetryableOperation[T any] func() (T, error)

func newBackoff(cfg RetryConfig, ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime

	withRetries := backoff.WithMaxRetries(b, cfg.MaxRetries)
	return backoff.WithContext(withRetries, ctx)
}

// Retry executes an operation with exponential backoff, stopping early on a
// non-retryable error.
func Retry(ctx context.Context, cfg RetryConfig, log zerolog.Logger, operation RetryOperation) error {
	bo := newBackoff(cfg, ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := operation()
		if err != nil {
			if !IsRetryable(err) {
				log.Debug().Int("attempt", attempt).Err(err).Msg("non-retryable error, stopping retries")
				return backoff.Permanent(err)
			}
			log.Debug().Int("attempt", attempt).Err(err).Msg("retryable error, will retry")
		}
		return err
	}, bo)
}

// RetryWithResult executes an operation with exponential backoff and returns
// a result.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, log zerolog.Logger, operation RetryableOperation[T]) (T, error) {
	var result T
	var lastErr error

	bo := newBackoff(cfg, ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var opErr error
		result, opErr = operation()
		if opErr != nil {
			lastErr = opErr
			if !IsRetryable(opErr) {
				log.Debug().Int("attempt", attempt).Err(opErr).Msg("non-retryable error, stopping retries")
				return backoff.Permanent(opErr)
			}
			log.Debug().Int("attempt", attempt).Err(opErr).Msg("retryable error, will retry")
			return opErr
		}
		return nil
	}, bo)

	if err != nil {
		return result, err
	}
	return result, lastErr
}

// RetryNotify is like Retry but calls a notify function on each retry.
func RetryNotify(ctx context.Context, cfg RetryConfig, operation RetryOperation, notify func(err error, duration time.Duration)) error {
	bo := newBackoff(cfg, ctx)
	return backoff.RetryNotify(func() error {
		err := operation()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo, notify)
}

// IsRetryable determines if an error is retryable per the error-kind
// propagation policy: an *errkind.Error is classified by its Kind; any
// other error (including context cancellation) is treated as non-retryable
// so unclassified failures fail fast rather than retrying indefinitely.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ke *errkind.Error
	if errors.As(err, &ke) {
		return errkind.IsRetryable(ke.Kind)
	}

	return false
}
