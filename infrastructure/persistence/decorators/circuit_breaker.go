// Package decorators wraps persistence ports with cross-cutting behaviour:
// a circuit breaker around commits and pricing reads, and tracing spans.
package decorators

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"loci/application/ports"
	"loci/domain/core/entities"
	pkgerrors "loci/pkg/errors"
)

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// The breaker trips once MinRequests have been seen in an interval and
	// the failure ratio reaches FailureThreshold.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the production breaker settings.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// countsAsSuccess reports whether an outcome says the store is healthy.
// Domain outcomes such as a lost version race or a missing record are
// answers from a working store.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	appErr := pkgerrors.GetAppError(err)
	if appErr == nil {
		return errors.Is(err, context.Canceled)
	}
	switch appErr.Type {
	case pkgerrors.ErrorTypeDatabase, pkgerrors.ErrorTypeUnavailable, pkgerrors.ErrorTypeInternal, pkgerrors.ErrorTypeExternal:
		return false
	default:
		return true
	}
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: countsAsSuccess,
	})
}

// breakerError maps the breaker's own rejections to UNAVAILABLE.
func breakerError(name string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.NewUnavailableError(name).WithCause(err)
	}
	return err
}

// BreakerUnitOfWorkFactory guards commits with a circuit breaker, so a
// failing store is shed quickly instead of every request timing out.
type BreakerUnitOfWorkFactory struct {
	inner   ports.UnitOfWorkFactory
	breaker *gobreaker.CircuitBreaker
	name    string
}

// NewBreakerUnitOfWorkFactory wraps inner.
func NewBreakerUnitOfWorkFactory(inner ports.UnitOfWorkFactory, cfg BreakerConfig, logger *zap.Logger) *BreakerUnitOfWorkFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerUnitOfWorkFactory{inner: inner, breaker: newBreaker(cfg, logger), name: cfg.Name}
}

// Begin starts a guarded unit of work.
func (f *BreakerUnitOfWorkFactory) Begin() ports.UnitOfWork {
	return &breakerUnitOfWork{UnitOfWork: f.inner.Begin(), factory: f}
}

// State exposes the breaker state for health reporting.
func (f *BreakerUnitOfWorkFactory) State() gobreaker.State {
	return f.breaker.State()
}

type breakerUnitOfWork struct {
	ports.UnitOfWork
	factory *BreakerUnitOfWorkFactory
}

func (u *breakerUnitOfWork) Commit(ctx context.Context) error {
	_, err := u.factory.breaker.Execute(func() (interface{}, error) {
		return nil, u.UnitOfWork.Commit(ctx)
	})
	return breakerError(u.factory.name, err)
}

// BreakerPricingRepository guards stored pricing reads.
type BreakerPricingRepository struct {
	inner   ports.PricingRepository
	breaker *gobreaker.CircuitBreaker
	name    string
}

// NewBreakerPricingRepository wraps inner.
func NewBreakerPricingRepository(inner ports.PricingRepository, cfg BreakerConfig, logger *zap.Logger) *BreakerPricingRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerPricingRepository{inner: inner, breaker: newBreaker(cfg, logger), name: cfg.Name}
}

func (r *BreakerPricingRepository) GetModelPricing(ctx context.Context, modelID string) (*entities.ModelPricing, error) {
	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.GetModelPricing(ctx, modelID)
	})
	if err != nil {
		return nil, breakerError(r.name, err)
	}
	return out.(*entities.ModelPricing), nil
}
