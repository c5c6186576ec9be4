// Package ledger implements the shard economy: a per-user prepaid balance
// that only changes together with an appended ShardTransaction.
package ledger

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"loci/application/ports"
	"loci/application/services"
	"loci/domain/config"
	"loci/domain/core/entities"
	"loci/domain/events"
	pkgerrors "loci/pkg/errors"
)

// Metric outcomes.
const (
	outcomeOK                = "ok"
	outcomeSkipped           = "skipped"
	outcomeInsufficientFunds = "insufficient_funds"
	outcomeError             = "error"
)

// DebitOptions annotates a debit.
type DebitOptions struct {
	Reason string
	Usage  *entities.UsageMetadata
}

// BalanceResult is the outcome of a balance mutation. Skipped is set when
// the amount was not positive and nothing was written.
type BalanceResult struct {
	Balance       float64 `json:"balance"`
	Skipped       bool    `json:"skipped,omitempty"`
	TransactionID string  `json:"transactionId,omitempty"`
}

// ChargeResult is the outcome of charging a priced model call.
type ChargeResult struct {
	BalanceResult
	Cost          float64       `json:"cost"`
	PricingSource PricingSource `json:"pricingSource"`
}

// Summary is a read-only view of a user's shard account.
type Summary struct {
	Balance            float64                      `json:"balance"`
	MonthlyAllowance   float64                      `json:"monthlyAllowance"`
	LastAllowanceReset time.Time                    `json:"lastAllowanceReset"`
	PurchasedShards    float64                      `json:"purchasedShards"`
	RecentTransactions []*entities.ShardTransaction `json:"recentTransactions"`
}

// Service is the shard ledger.
type Service struct {
	users      ports.UserRepository
	uowFactory ports.UnitOfWorkFactory
	pricing    *PricingResolver
	lock       ports.JobLock
	publisher  ports.EventPublisher
	metrics    ports.Metrics
	clock      ports.Clock
	cfg        *config.DomainConfig
	policy     services.RetryPolicy
	logger     *zap.Logger
}

// NewService creates a new ledger service. lock may be nil, in which case
// overlapping allowance resets are not prevented.
func NewService(
	users ports.UserRepository,
	uowFactory ports.UnitOfWorkFactory,
	pricing *PricingResolver,
	lock ports.JobLock,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	clock ports.Clock,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *Service {
	if publisher == nil {
		publisher = ports.NoopPublisher{}
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	if clock == nil {
		clock = ports.SystemClock
	}
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:      users,
		uowFactory: uowFactory,
		pricing:    pricing,
		lock:       lock,
		publisher:  publisher,
		metrics:    metrics,
		clock:      clock,
		cfg:        cfg,
		policy:     services.PolicyFrom(cfg),
		logger:     logger,
	}
}

// RegisterUser creates a user and grants the welcome bonus in the same unit
// of work. Registering an existing user returns it unchanged with created
// false, so the bonus is granted at most once.
func (s *Service) RegisterUser(ctx context.Context, userID, email string) (*entities.User, bool, error) {
	if userID == "" {
		return nil, false, pkgerrors.NewUnauthenticatedError("registration requires a signed-in user")
	}
	if existing, err := s.users.GetUser(ctx, userID); err == nil {
		return existing, false, nil
	} else if !pkgerrors.IsNotFound(err) {
		return nil, false, err
	}

	now := s.clock.Now()
	user, err := entities.NewUser(userID, email, s.cfg.DefaultMonthlyAllowance, now)
	if err != nil {
		return nil, false, err
	}

	// Staging copies the record, so the grant has to land first.
	var tx *entities.ShardTransaction
	if bonus := s.cfg.WelcomeBonusShards; bonus > 0 {
		user.Grant(bonus, now)
		tx = entities.NewShardTransaction(userID, entities.TxWelcomeBonus, bonus, user.ShardBalance, "welcome bonus", nil, now)
	}
	uow := s.uowFactory.Begin()
	uow.Create(user)
	if tx != nil {
		uow.Create(tx)
	}

	if err := uow.Commit(ctx); err != nil {
		if appErr := pkgerrors.GetAppError(err); appErr != nil && appErr.Code == pkgerrors.CodeDuplicateRecord {
			// Lost a registration race; the winner granted the bonus.
			existing, getErr := s.users.GetUser(ctx, userID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	s.logger.Info("User registered",
		zap.String("userID", userID),
		zap.Float64("balance", user.ShardBalance),
	)
	if tx != nil {
		s.metrics.LedgerOperation("welcome_bonus", outcomeOK, tx.ShardAmount)
		s.publish(ctx, events.NewLedgerEvent(events.TypeWelcomeBonusGranted, userID, tx.ID, tx.ShardAmount, user.ShardBalance, now))
	}
	return user, true, nil
}

// DebitShards removes cost from the balance and appends a DEBIT row. A cost
// that is not positive writes nothing. A cost above the balance fails with
// INSUFFICIENT_FUNDS and writes nothing.
func (s *Service) DebitShards(ctx context.Context, userID string, cost float64, opts DebitOptions) (*BalanceResult, error) {
	if err := validateAmount(userID, cost); err != nil {
		return nil, err
	}

	var result *BalanceResult
	var tx *entities.ShardTransaction
	err := services.WithOptimisticRetry(ctx, s.policy, s.logger, "ledger.debit", func(int) error {
		user, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if cost <= 0 {
			result = &BalanceResult{Balance: user.ShardBalance, Skipped: true}
			return nil
		}

		expected := user.Version
		now := s.clock.Now()
		if err := user.Debit(cost, now); err != nil {
			return err
		}
		tx = entities.NewShardTransaction(userID, entities.TxDebit, -cost, user.ShardBalance, opts.Reason, opts.Usage, now)

		uow := s.uowFactory.Begin()
		uow.UpdateUser(user, expected)
		uow.Create(tx)
		if err := uow.Commit(ctx); err != nil {
			return err
		}
		result = &BalanceResult{Balance: user.ShardBalance, TransactionID: tx.ID}
		return nil
	})

	switch {
	case pkgerrors.IsInsufficientFunds(err):
		s.metrics.LedgerOperation("debit", outcomeInsufficientFunds, cost)
		s.logger.Info("Debit rejected for insufficient funds",
			zap.String("userID", userID),
			zap.Float64("cost", cost),
		)
		return nil, err
	case err != nil:
		s.metrics.LedgerOperation("debit", outcomeError, cost)
		return nil, err
	case result.Skipped:
		s.metrics.LedgerOperation("debit", outcomeSkipped, 0)
		return result, nil
	}

	s.metrics.LedgerOperation("debit", outcomeOK, cost)
	s.logger.Info("Shards debited",
		zap.String("userID", userID),
		zap.Float64("cost", cost),
		zap.Float64("balance", result.Balance),
	)
	s.publish(ctx, events.NewLedgerEvent(events.TypeShardsDebited, userID, tx.ID, tx.ShardAmount, result.Balance, tx.CreatedAt))
	return result, nil
}

// CreditShards adds purchased shards and appends a PURCHASE row. An amount
// that is not positive writes nothing.
func (s *Service) CreditShards(ctx context.Context, userID string, amount float64, reason string) (*BalanceResult, error) {
	if err := validateAmount(userID, amount); err != nil {
		return nil, err
	}

	var result *BalanceResult
	var tx *entities.ShardTransaction
	err := services.WithOptimisticRetry(ctx, s.policy, s.logger, "ledger.credit", func(int) error {
		user, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if amount <= 0 {
			result = &BalanceResult{Balance: user.ShardBalance, Skipped: true}
			return nil
		}

		expected := user.Version
		now := s.clock.Now()
		user.Purchase(amount, now)
		tx = entities.NewShardTransaction(userID, entities.TxPurchase, amount, user.ShardBalance, reason, nil, now)

		uow := s.uowFactory.Begin()
		uow.UpdateUser(user, expected)
		uow.Create(tx)
		if err := uow.Commit(ctx); err != nil {
			return err
		}
		result = &BalanceResult{Balance: user.ShardBalance, TransactionID: tx.ID}
		return nil
	})
	if err != nil {
		s.metrics.LedgerOperation("credit", outcomeError, amount)
		return nil, err
	}
	if result.Skipped {
		s.metrics.LedgerOperation("credit", outcomeSkipped, 0)
		return result, nil
	}

	s.metrics.LedgerOperation("credit", outcomeOK, amount)
	s.logger.Info("Shards credited",
		zap.String("userID", userID),
		zap.Float64("amount", amount),
		zap.Float64("balance", result.Balance),
	)
	s.publish(ctx, events.NewLedgerEvent(events.TypeShardsCredited, userID, tx.ID, tx.ShardAmount, result.Balance, tx.CreatedAt))
	return result, nil
}

// ChargeUsage prices a model call and debits its cost. Calls priced at zero
// write nothing.
func (s *Service) ChargeUsage(ctx context.Context, userID string, usage entities.UsageMetadata) (*ChargeResult, error) {
	if usage.InputTokens < 0 || usage.OutputTokens < 0 {
		return nil, pkgerrors.NewValidationError("token counts must not be negative")
	}
	pricing, source, err := s.pricing.Resolve(ctx, usage.Model)
	if err != nil {
		return nil, err
	}
	cost := pricing.Cost(usage.InputTokens, usage.OutputTokens)

	result, err := s.DebitShards(ctx, userID, cost, DebitOptions{
		Reason: "model usage: " + usage.Model,
		Usage:  &usage,
	})
	if err != nil {
		return nil, err
	}
	return &ChargeResult{BalanceResult: *result, Cost: cost, PricingSource: source}, nil
}

// ShardSummary returns the account with its newest transactions. limit is
// clamped to the configured bounds.
func (s *Service) ShardSummary(ctx context.Context, userID string, limit int) (*Summary, error) {
	if userID == "" {
		return nil, pkgerrors.NewUnauthenticatedError("")
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.users.ListShardTransactions(ctx, userID, s.cfg.ClampSummaryLimit(limit))
	if err != nil {
		return nil, err
	}
	return &Summary{
		Balance:            user.ShardBalance,
		MonthlyAllowance:   user.MonthlyShardAllowance,
		LastAllowanceReset: time.UnixMilli(user.LastAllowanceResetDate).UTC(),
		PurchasedShards:    user.PurchasedShards,
		RecentTransactions: txs,
	}, nil
}

func (s *Service) publish(ctx context.Context, evts ...events.DomainEvent) {
	if err := s.publisher.Publish(ctx, evts...); err != nil {
		s.logger.Warn("Failed to publish ledger events", zap.Int("events", len(evts)), zap.Error(err))
	}
}

func validateAmount(userID string, amount float64) error {
	if userID == "" {
		return pkgerrors.NewUnauthenticatedError("")
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return pkgerrors.NewValidationError("amount must be a finite number")
	}
	return nil
}
