package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	domainconfig "loci/domain/config"
)

// Storage backends.
const (
	StorageDynamoDB = "dynamodb"
	StorageMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress   string
	Environment     string
	ShutdownTimeout time.Duration

	// AWS configuration
	AWSRegion     string
	DynamoDBTable string
	IndexName     string // GSI1 - locus, content and owner lookups
	GSI2IndexName string // GSI2 - child lookups by parent record
	EventBusName  string
	// StorageBackend selects dynamodb or the in-process memory store.
	StorageBackend string

	// Lambda configuration
	IsLambda           bool
	LambdaFunctionName string

	// Pricing
	PriceTableFile  string
	RedisAddr       string
	PricingCacheTTL time.Duration

	// Logging
	LogLevel string

	// Authentication
	JWTSecret string
	JWTIssuer string
	// AllowGuests accepts X-Guest-Session in place of a bearer token.
	AllowGuests bool
	// AdminUsers may run maintenance endpoints such as orphan repair.
	AdminUsers  []string
	CORSOrigins []string

	// Rate limiting, per caller
	RateLimitPerMinute int

	// Observability
	MetricsNamespace string
	OTLPEndpoint     string

	// Feature flags
	EnableMetrics bool
	EnableTracing bool
	EnableCORS    bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress:   getEnv("SERVER_ADDRESS", ":8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		AWSRegion:      getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable:  getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", "loci")),
		IndexName:      getEnv("GSI1_INDEX_NAME", "GSI1"),
		GSI2IndexName:  getEnv("GSI2_INDEX_NAME", "GSI2"),
		EventBusName:   getEnv("EVENT_BUS_NAME", "loci-events"),
		StorageBackend: getEnv("STORAGE_BACKEND", StorageDynamoDB),

		IsLambda:           getEnvBool("IS_LAMBDA", false),
		LambdaFunctionName: getEnv("AWS_LAMBDA_FUNCTION_NAME", ""),

		PriceTableFile:  getEnv("PRICE_TABLE_FILE", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		PricingCacheTTL: getEnvDuration("PRICING_CACHE_TTL", 5*time.Minute),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "loci"),
		AllowGuests: getEnvBool("ALLOW_GUESTS", true),
		AdminUsers:  getEnvList("ADMIN_USER_IDS"),
		CORSOrigins: getEnvList("CORS_ORIGINS"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 300),

		MetricsNamespace: getEnv("METRICS_NAMESPACE", "Loci"),
		OTLPEndpoint:     getEnv("OTLP_ENDPOINT", "localhost:4317"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", false),
		EnableTracing: getEnvBool("ENABLE_TRACING", false),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),
	}
	cfg.IsLambda = cfg.IsLambda || cfg.LambdaFunctionName != ""

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageDynamoDB:
		if c.DynamoDBTable == "" {
			return fmt.Errorf("TABLE_NAME is required for the dynamodb backend")
		}
	case StorageMemory:
		if c.IsProduction() {
			return fmt.Errorf("the memory backend cannot run in production")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.IsProduction() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.EventBusName == "" {
			return fmt.Errorf("EVENT_BUS_NAME is required")
		}
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE cannot be negative")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Domain returns the business-rule preset for the environment.
func (c *Config) Domain() *domainconfig.DomainConfig {
	return domainconfig.ForEnvironment(c.Environment)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvDuration parses values like "250ms" or "5m".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
