package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"loci/application/ports"
	"loci/application/services/cascade"
	"loci/application/services/content"
	"loci/application/services/ledger"
	"loci/application/services/ordering"
	"loci/application/services/scoping"
	domainconfig "loci/domain/config"
	"loci/domain/core/valueobjects"
	"loci/infrastructure/cache"
	"loci/infrastructure/config"
	"loci/infrastructure/messaging/eventbridge"
	"loci/infrastructure/observability"
	"loci/infrastructure/persistence/decorators"
	"loci/infrastructure/persistence/dynamodb"
	"loci/infrastructure/persistence/memory"
	"loci/interfaces/http/rest"
	"loci/interfaces/http/rest/middleware"
	"loci/pkg/auth"
)

// developmentSecret signs tokens when no JWT_SECRET is configured outside
// production.
const developmentSecret = "development-secret-change-in-production"

// readinessKey is read by the readiness probe. It never holds data.
var readinessKey = valueobjects.OrderKey{LocusID: "readiness-probe"}

// Storage groups the ports served by the selected backend.
type Storage struct {
	Items      ports.ContentItemRepository
	Knowledge  ports.KnowledgeRepository
	Users      ports.UserRepository
	Pricing    ports.PricingRepository
	UnitOfWork ports.UnitOfWorkFactory
	Lock       ports.JobLock
	Ready      rest.ReadinessCheck
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Environment, cfg.LogLevel)
}

// ProvideDomainConfig selects the business-rule preset.
func ProvideDomainConfig(cfg *config.Config) *domainconfig.DomainConfig {
	return cfg.Domain()
}

// ProvideAWSConfig creates AWS configuration. Inside Lambda with tracing on,
// SDK calls are recorded as X-Ray subsegments.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.IsLambda && cfg.EnableTracing {
		awsv2.AWSV2Instrumentor(&awsCfg.APIOptions)
	}
	return awsCfg, nil
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideStorage opens the configured backend.
func ProvideStorage(cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) (*Storage, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage; data is lost on restart")
		store := memory.NewStore(logger)
		return &Storage{
			Items:      store,
			Knowledge:  store,
			Users:      store,
			Pricing:    store,
			UnitOfWork: store,
			Lock:       store,
			Ready:      func(context.Context) error { return nil },
		}, nil
	case config.StorageDynamoDB:
		store := dynamodb.NewStore(client, cfg.DynamoDBTable, cfg.IndexName, cfg.GSI2IndexName, logger)
		return &Storage{
			Items:      store,
			Knowledge:  store,
			Users:      store,
			Pricing:    store,
			UnitOfWork: store,
			Lock:       dynamodb.NewJobLock(client, cfg.DynamoDBTable, logger),
			Ready: func(ctx context.Context) error {
				_, err := store.GetOrderVersion(ctx, readinessKey)
				return err
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// ProvideUnitOfWorkFactory wraps the backend's commits in a circuit breaker
// and a span.
func ProvideUnitOfWorkFactory(storage *Storage, logger *zap.Logger) ports.UnitOfWorkFactory {
	breaker := decorators.NewBreakerUnitOfWorkFactory(storage.UnitOfWork, decorators.DefaultBreakerConfig("unit-of-work"), logger)
	return decorators.NewTracingUnitOfWorkFactory(breaker, nil)
}

// ProvideRedis connects to Redis when REDIS_ADDR is set. An unreachable
// Redis disables caching and distributed rate limiting instead of failing
// startup.
func ProvideRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}
	client, err := cache.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		return nil, func() {}
	}
	logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
}

// ProvidePricingRepository layers the circuit breaker, a span and, when
// Redis is available, a read-through cache over stored model pricing.
func ProvidePricingRepository(storage *Storage, redisClient *redis.Client, cfg *config.Config, logger *zap.Logger) ports.PricingRepository {
	var repo ports.PricingRepository = decorators.NewBreakerPricingRepository(storage.Pricing, decorators.DefaultBreakerConfig("pricing"), logger)
	repo = decorators.NewTracingPricingRepository(repo, nil)
	if redisClient != nil {
		repo = cache.NewPricingCache(repo, redisClient, cfg.PricingCacheTTL, logger)
	}
	return repo
}

// ProvidePriceTable loads the static price table and reloads it on change.
func ProvidePriceTable(cfg *config.Config, logger *zap.Logger) (ports.PriceTable, func(), error) {
	if cfg.PriceTableFile == "" {
		return nil, func() {}, nil
	}
	table, err := config.LoadPriceTable(cfg.PriceTableFile)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Loaded price table", zap.String("path", cfg.PriceTableFile), zap.Int("models", table.Len()))
	if cfg.IsLambda {
		return table, func() {}, nil
	}
	watcher, err := config.WatchPriceTable(cfg.PriceTableFile, table, logger)
	if err != nil {
		logger.Warn("Price table will not be reloaded", zap.Error(err))
		return table, func() {}, nil
	}
	return table, watcher.Stop, nil
}

// ProvideEventPublisher publishes to EventBridge on the dynamodb backend and
// discards events otherwise.
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if cfg.StorageBackend != config.StorageDynamoDB || cfg.EventBusName == "" {
		return ports.NoopPublisher{}
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideCollector creates the Prometheus collector.
func ProvideCollector() *observability.Collector {
	return observability.NewCollector("loci")
}

// ProvideCloudWatchMetrics creates the CloudWatch sink used inside Lambda,
// where nothing scrapes /metrics.
func ProvideCloudWatchMetrics(cfg *config.Config, client *awscloudwatch.Client, logger *zap.Logger) *observability.CloudWatchMetrics {
	if !cfg.IsLambda || !cfg.EnableMetrics {
		return nil
	}
	namespace := fmt.Sprintf("%s/%s", cfg.MetricsNamespace, cfg.Environment)
	return observability.NewCloudWatchMetrics(namespace, client, logger)
}

// ProvideMetrics fans measurements out to every configured sink.
func ProvideMetrics(collector *observability.Collector, cloudWatch *observability.CloudWatchMetrics) ports.Metrics {
	sinks := observability.Tee{collector}
	if cloudWatch != nil {
		sinks = append(sinks, cloudWatch)
	}
	return sinks
}

// ProvideTracing installs the OTLP exporter when tracing is enabled outside
// Lambda. Lambda traces through X-Ray instead.
func ProvideTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	if !cfg.EnableTracing || cfg.IsLambda {
		return nil, func() {}, nil
	}
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: "loci",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, nil, err
	}
	return tp, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}, nil
}

// ProvideGuard creates the ownership guard.
func ProvideGuard(storage *Storage, domainCfg *domainconfig.DomainConfig) *scoping.Guard {
	return scoping.NewGuard(storage.Knowledge, domainCfg.PublicManualNexusName)
}

// ProvideOrderingService creates the content ordering engine.
func ProvideOrderingService(storage *Storage, uow ports.UnitOfWorkFactory, metrics ports.Metrics, domainCfg *domainconfig.DomainConfig, logger *zap.Logger) *ordering.Service {
	return ordering.NewService(storage.Items, storage.Knowledge, uow, metrics, nil, domainCfg, logger.Named("ordering"))
}

// ProvideContentService creates the content service.
func ProvideContentService(storage *Storage, orderingService *ordering.Service, guard *scoping.Guard, uow ports.UnitOfWorkFactory, domainCfg *domainconfig.DomainConfig, logger *zap.Logger) *content.Service {
	return content.NewService(storage.Knowledge, storage.Items, storage.Users, orderingService, guard, uow, nil, domainCfg, logger.Named("content"))
}

// ProvidePricingResolver creates the model pricing resolver.
func ProvidePricingResolver(table ports.PriceTable, stored ports.PricingRepository, logger *zap.Logger) *ledger.PricingResolver {
	return ledger.NewPricingResolver(table, stored, logger.Named("pricing"))
}

// ProvideLedgerService creates the shard ledger.
func ProvideLedgerService(storage *Storage, uow ports.UnitOfWorkFactory, pricing *ledger.PricingResolver, publisher ports.EventPublisher, metrics ports.Metrics, domainCfg *domainconfig.DomainConfig, logger *zap.Logger) *ledger.Service {
	return ledger.NewService(storage.Users, uow, pricing, storage.Lock, publisher, metrics, nil, domainCfg, logger.Named("ledger"))
}

// ProvideCascadeService creates the cascade deletion orchestrator.
func ProvideCascadeService(storage *Storage, orderingService *ordering.Service, guard *scoping.Guard, uow ports.UnitOfWorkFactory, publisher ports.EventPublisher, metrics ports.Metrics, domainCfg *domainconfig.DomainConfig, logger *zap.Logger) *cascade.Service {
	return cascade.NewService(storage.Knowledge, storage.Items, orderingService, guard, uow, publisher, metrics, nil, domainCfg, logger.Named("cascade"))
}

// ProvideJWTValidator creates the bearer token validator.
func ProvideJWTValidator(cfg *config.Config, logger *zap.Logger) (*auth.JWTValidator, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		logger.Warn("JWT_SECRET not set, using the development secret")
		secret = developmentSecret
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     secret,
		Issuer:        cfg.JWTIssuer,
		Audience:      []string{"loci-api"},
	})
}

// ProvideRateLimiter limits callers through Redis. Without Redis there is
// no limiter.
func ProvideRateLimiter(cfg *config.Config, redisClient *redis.Client) middleware.Limiter {
	if redisClient == nil || cfg.RateLimitPerMinute == 0 {
		return nil
	}
	return cache.NewRateLimiter(redisClient, cfg.RateLimitPerMinute, time.Minute)
}

// ProvideRouter assembles the HTTP surface.
func ProvideRouter(
	cfg *config.Config,
	storage *Storage,
	contentService *content.Service,
	ledgerService *ledger.Service,
	cascadeService *cascade.Service,
	validator *auth.JWTValidator,
	limiter middleware.Limiter,
	collector *observability.Collector,
	tracing *observability.TracerProvider,
	logger *zap.Logger,
) *rest.Router {
	opts := rest.Options{
		Content: contentService,
		Ledger:  ledgerService,
		Cascade: cascadeService,
		Logger:  logger.Named("http"),
		Auth: middleware.AuthConfig{
			Validator:    validator,
			AllowGuests:  cfg.AllowGuests,
			TrustGateway: cfg.IsLambda,
		},
		Admins:      cfg.AdminUsers,
		Limiter:     limiter,
		LimitWindow: time.Minute,
		Debug:       cfg.IsDevelopment(),
		Ready:       storage.Ready,
	}
	if cfg.EnableMetrics {
		opts.Observer = collector
		opts.Metrics = collector.Handler()
	}
	if tracing != nil {
		opts.Tracer = tracing.Tracer()
	}
	if cfg.EnableCORS {
		opts.CORSOrigins = cfg.CORSOrigins
		if len(opts.CORSOrigins) == 0 && cfg.IsDevelopment() {
			opts.CORSOrigins = []string{"http://localhost:3000"}
		}
	}
	return rest.NewRouter(opts)
}
