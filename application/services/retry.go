// Package services holds helpers shared by the core application services.
package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"loci/domain/config"
	pkgerrors "loci/pkg/errors"
)

const maxRetryDelay = 2 * time.Second

// RetryPolicy bounds optimistic write retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// PolicyFrom reads the retry policy out of the domain config.
func PolicyFrom(cfg *config.DomainConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxWriteAttempts, BaseDelay: cfg.RetryBaseDelay}
}

// WithOptimisticRetry runs fn until it succeeds, fails with something other
// than a version conflict, or runs out of attempts. fn must re-read whatever
// state it depends on each time it is called.
func WithOptimisticRetry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, op string, fn func(attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if !pkgerrors.IsVersionConflict(err) || attempt == attempts-1 {
			return err
		}

		delay := backoff(policy.BaseDelay, attempt)
		logger.Debug("Optimistic write conflict, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// backoff doubles per attempt: 100ms, 200ms, 400ms with the default base.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt > 16 {
		return maxRetryDelay
	}
	delay := base * time.Duration(1<<attempt)
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}
