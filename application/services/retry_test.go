package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	pkgerrors "loci/pkg/errors"
)

func TestWithOptimisticRetry(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	logger := zap.NewNop()

	t.Run("retries version conflicts until success", func(t *testing.T) {
		calls := 0
		err := WithOptimisticRetry(context.Background(), policy, logger, "test", func(int) error {
			calls++
			if calls < 3 {
				return pkgerrors.NewVersionConflictError("user", "u1")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := WithOptimisticRetry(context.Background(), policy, logger, "test", func(int) error {
			calls++
			return pkgerrors.NewVersionConflictError("user", "u1")
		})
		assert.True(t, pkgerrors.IsVersionConflict(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		err := WithOptimisticRetry(context.Background(), policy, logger, "test", func(int) error {
			calls++
			return pkgerrors.NewInsufficientFundsError("u1", 1, 2)
		})
		assert.True(t, pkgerrors.IsInsufficientFunds(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("duplicate conflicts are not retried", func(t *testing.T) {
		calls := 0
		err := WithOptimisticRetry(context.Background(), policy, logger, "test", func(int) error {
			calls++
			return pkgerrors.NewConflictError("dup").WithCode(pkgerrors.CodeDuplicateConnection)
		})
		assert.True(t, pkgerrors.IsConflict(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}
		err := WithOptimisticRetry(ctx, slow, logger, "test", func(int) error {
			return pkgerrors.NewVersionConflictError("user", "u1")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt, want := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond} {
		t.Run(fmt.Sprintf("attempt %d", attempt), func(t *testing.T) {
			assert.Equal(t, want, backoff(base, attempt))
		})
	}
	assert.Equal(t, maxRetryDelay, backoff(base, 40))
}
