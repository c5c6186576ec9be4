//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"loci/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideDomainConfig,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideStorage,
	ProvideUnitOfWorkFactory,
	ProvideRedis,
	ProvidePricingRepository,
	ProvidePriceTable,
	ProvideEventPublisher,
	ProvideCollector,
	ProvideCloudWatchMetrics,
	ProvideMetrics,
	ProvideTracing,
	ProvideGuard,
	ProvideOrderingService,
	ProvideContentService,
	ProvidePricingResolver,
	ProvideLedgerService,
	ProvideCascadeService,
	ProvideJWTValidator,
	ProvideRateLimiter,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
