package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("PRICING_CACHE_TTL", "90s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.Equal(t, StorageDynamoDB, cfg.StorageBackend)
	assert.Equal(t, 90*time.Second, cfg.PricingCacheTTL)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 500.0, cfg.Domain().DefaultMonthlyAllowance)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory in development", Config{Environment: "development", StorageBackend: StorageMemory}, false},
		{"memory in production", Config{Environment: "production", StorageBackend: StorageMemory, JWTSecret: "s", EventBusName: "b"}, true},
		{"production without secret", Config{Environment: "production", StorageBackend: StorageDynamoDB, DynamoDBTable: "t", EventBusName: "b"}, true},
		{"production complete", Config{Environment: "production", StorageBackend: StorageDynamoDB, DynamoDBTable: "t", EventBusName: "b", JWTSecret: "s"}, false},
		{"unknown backend", Config{StorageBackend: "postgres"}, true},
		{"negative rate limit", Config{StorageBackend: StorageMemory, RateLimitPerMinute: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func writePrices(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadPriceTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.yaml")
	writePrices(t, path, `
version: "1"
models:
  small-model:
    inputPerMillion: 100
    outputPerMillion: 400
`)

	table, err := LoadPriceTable(path)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	pricing, ok := table.Lookup("small-model")
	require.True(t, ok)
	assert.Equal(t, 100.0, pricing.InputPerMillion)
	assert.InDelta(t, 0.5, pricing.Cost(1000, 1000), 1e-9)

	_, ok = table.Lookup("unknown")
	assert.False(t, ok)
}

func TestLoadPriceTableRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	writePrices(t, bad, "models: [not, a, map]")
	_, err := LoadPriceTable(bad)
	assert.Error(t, err)

	negative := filepath.Join(dir, "negative.yaml")
	writePrices(t, negative, "models:\n  m:\n    inputPerMillion: -1\n")
	_, err = LoadPriceTable(negative)
	assert.Error(t, err)

	_, err = LoadPriceTable(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestPriceTableWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.yaml")
	writePrices(t, path, "models:\n  m:\n    inputPerMillion: 1\n")
	table, err := LoadPriceTable(path)
	require.NoError(t, err)

	w, err := WatchPriceTable(path, table, nil)
	require.NoError(t, err)
	defer w.Stop()

	writePrices(t, path, "models:\n  m:\n    inputPerMillion: 2\n  n:\n    outputPerMillion: 3\n")
	require.Eventually(t, func() bool {
		pricing, ok := table.Lookup("m")
		return ok && pricing.InputPerMillion == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, table.Len())

	writePrices(t, path, "models: [broken")
	deadline := time.After(5 * time.Second)
	for failed := false; !failed; {
		select {
		case err := <-w.reloaded:
			failed = err != nil
		case <-deadline:
			t.Fatal("broken price table was not rejected")
		}
	}
	pricing, _ := table.Lookup("m")
	assert.Equal(t, 2.0, pricing.InputPerMillion, "a broken file keeps the last good prices")
}
