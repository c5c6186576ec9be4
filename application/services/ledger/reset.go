package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"loci/application/services"
	"loci/domain/core/entities"
	"loci/domain/events"
)

const resetLockName = "monthly-allowance-reset"

// ResetResult reports a monthly allowance run.
type ResetResult struct {
	ProcessedCount int      `json:"processedCount"`
	Failed         []string `json:"failed,omitempty"`
}

// MonthlyAllowanceReset grants the monthly allowance to every user who has
// one and has not received it for now's calendar month. Users are checked
// again on their fresh record before writing, so running twice in a month
// processes each user at most once. A failure for one user is recorded and
// the run continues.
func (s *Service) MonthlyAllowanceReset(ctx context.Context, now time.Time) (*ResetResult, error) {
	if s.lock != nil {
		release, err := s.lock.Acquire(ctx, resetLockName, s.cfg.ResetLockDuration)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Failed to release reset lock", zap.Error(err))
			}
		}()
	}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	result := &ResetResult{}
	for _, candidate := range users {
		if !candidate.NeedsAllowanceReset(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		tx, balance, err := s.resetUser(ctx, candidate.ID, now)
		if err != nil {
			s.metrics.LedgerOperation("monthly_reset", outcomeError, 0)
			s.logger.Error("Monthly allowance reset failed for user",
				zap.String("userID", candidate.ID),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, candidate.ID)
			continue
		}
		if tx == nil {
			continue
		}

		result.ProcessedCount++
		s.metrics.LedgerOperation("monthly_reset", outcomeOK, tx.ShardAmount)
		s.publish(ctx, events.NewLedgerEvent(events.TypeAllowanceReset, candidate.ID, tx.ID, tx.ShardAmount, balance, now))
	}

	s.logger.Info("Monthly allowance reset complete",
		zap.Int("processed", result.ProcessedCount),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

// resetUser applies one user's allowance. It returns a nil transaction when
// the fresh record no longer needs a reset.
func (s *Service) resetUser(ctx context.Context, userID string, now time.Time) (*entities.ShardTransaction, float64, error) {
	var tx *entities.ShardTransaction
	var balance float64
	err := services.WithOptimisticRetry(ctx, s.policy, s.logger, "ledger.monthly_reset", func(int) error {
		tx = nil
		user, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if !user.NeedsAllowanceReset(now) {
			return nil
		}

		expected := user.Version
		amount := user.ApplyAllowance(now)
		tx = entities.NewShardTransaction(userID, entities.TxMonthlyReset, amount, user.ShardBalance, "monthly allowance", nil, now)

		uow := s.uowFactory.Begin()
		uow.UpdateUser(user, expected)
		uow.Create(tx)
		if err := uow.Commit(ctx); err != nil {
			return err
		}
		balance = user.ShardBalance
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return tx, balance, nil
}
