package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loci/application/ports"
	"loci/infrastructure/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:        "test",
		AWSRegion:          "us-west-2",
		StorageBackend:     config.StorageMemory,
		JWTIssuer:          "loci",
		AllowGuests:        true,
		RateLimitPerMinute: 10,
		MetricsNamespace:   "Loci",
		LogLevel:           "error",
		EnableMetrics:      true,
	}
}

func TestInitializeContainerMemoryBackend(t *testing.T) {
	container, cleanup, err := InitializeContainer(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, container.Content)
	assert.NotNil(t, container.Cascade)
	assert.Nil(t, container.CloudWatch)
	assert.Nil(t, container.Tracing)
	container.FlushMetrics(context.Background())

	handler := container.Router.Setup()
	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	user, created, err := container.Ledger.RegisterUser(context.Background(), "alice", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Positive(t, user.ShardBalance)
}

func TestInitializeContainerWithRedisAndPriceTable(t *testing.T) {
	mr := miniredis.RunT(t)
	path := filepath.Join(t.TempDir(), "prices.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  small-model:\n    inputPerMillion: 100\n    outputPerMillion: 400\n"), 0o600))

	cfg := memoryConfig()
	cfg.RedisAddr = mr.Addr()
	cfg.PriceTableFile = path

	container, cleanup, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	handler := container.Router.Setup()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/shards/summary", nil)
	req.Header.Set("X-Guest-Session", "guest-1")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
}

func TestProvidersFallBack(t *testing.T) {
	logger := zap.NewNop()
	cfg := memoryConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	client, cleanup := ProvideRedis(context.Background(), cfg, logger)
	defer cleanup()
	assert.Nil(t, client)
	assert.Nil(t, ProvideRateLimiter(cfg, client))

	table, stop, err := ProvidePriceTable(memoryConfig(), logger)
	require.NoError(t, err)
	stop()
	assert.Nil(t, table)

	assert.IsType(t, ports.NoopPublisher{}, ProvideEventPublisher(cfg, nil, logger))

	_, err = ProvideStorage(&config.Config{StorageBackend: "sqlite"}, nil, logger)
	assert.Error(t, err)
}
