//go:build !wireinject
// +build !wireinject

// Injector bodies for the sets in wire.go, kept in step with them by hand.

package di

import (
	"context"

	"loci/infrastructure/config"
)

// Injectors from wire.go:

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	domainConfig := ProvideDomainConfig(cfg)
	awsConfig, err := ProvideAWSConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	client := ProvideDynamoDBClient(awsConfig)
	storage, err := ProvideStorage(cfg, client, logger)
	if err != nil {
		return nil, nil, err
	}
	unitOfWorkFactory := ProvideUnitOfWorkFactory(storage, logger)
	collector := ProvideCollector()
	cloudwatchClient := ProvideCloudWatchClient(awsConfig)
	cloudWatchMetrics := ProvideCloudWatchMetrics(cfg, cloudwatchClient, logger)
	metrics := ProvideMetrics(collector, cloudWatchMetrics)
	service := ProvideOrderingService(storage, unitOfWorkFactory, metrics, domainConfig, logger)
	guard := ProvideGuard(storage, domainConfig)
	contentService := ProvideContentService(storage, service, guard, unitOfWorkFactory, domainConfig, logger)
	priceTable, cleanup, err := ProvidePriceTable(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	redisClient, cleanup2 := ProvideRedis(ctx, cfg, logger)
	pricingRepository := ProvidePricingRepository(storage, redisClient, cfg, logger)
	pricingResolver := ProvidePricingResolver(priceTable, pricingRepository, logger)
	eventbridgeClient := ProvideEventBridgeClient(awsConfig)
	eventPublisher := ProvideEventPublisher(cfg, eventbridgeClient, logger)
	ledgerService := ProvideLedgerService(storage, unitOfWorkFactory, pricingResolver, eventPublisher, metrics, domainConfig, logger)
	cascadeService := ProvideCascadeService(storage, service, guard, unitOfWorkFactory, eventPublisher, metrics, domainConfig, logger)
	jwtValidator, err := ProvideJWTValidator(cfg, logger)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	limiter := ProvideRateLimiter(cfg, redisClient)
	tracerProvider, cleanup3, err := ProvideTracing(ctx, cfg, logger)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	router := ProvideRouter(cfg, storage, contentService, ledgerService, cascadeService, jwtValidator, limiter, collector, tracerProvider, logger)
	container := &Container{
		Config:     cfg,
		Logger:     logger,
		Storage:    storage,
		Content:    contentService,
		Ledger:     ledgerService,
		Cascade:    cascadeService,
		Router:     router,
		Collector:  collector,
		CloudWatch: cloudWatchMetrics,
		Tracing:    tracerProvider,
	}
	return container, func() {
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}
