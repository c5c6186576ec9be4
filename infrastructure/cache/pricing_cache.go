// Package cache provides Redis-backed read-through caching and rate limiting.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"loci/application/ports"
	"loci/domain/core/entities"
	pkgerrors "loci/pkg/errors"
)

// missingMarker is cached for models storage does not know, so repeated
// lookups of an unpriced model do not reach storage.
const missingMarker = "-"

// NewClient connects to Redis at addr and checks it is reachable.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		// Plain host:port is accepted too.
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// PricingCache is a read-through cache in front of stored model pricing.
// Redis failures fall through to storage.
type PricingCache struct {
	inner  ports.PricingRepository
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewPricingCache wraps inner with a cache whose entries live for ttl.
func NewPricingCache(inner ports.PricingRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) *PricingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PricingCache{
		inner:  inner,
		client: client,
		prefix: "pricing:",
		ttl:    ttl,
		logger: logger,
	}
}

func (c *PricingCache) key(modelID string) string {
	return c.prefix + modelID
}

// GetModelPricing returns cached pricing, loading and caching it on a miss.
func (c *PricingCache) GetModelPricing(ctx context.Context, modelID string) (*entities.ModelPricing, error) {
	cached, err := c.client.Get(ctx, c.key(modelID)).Result()
	switch {
	case err == nil:
		if cached == missingMarker {
			return nil, pkgerrors.NewNotFoundError("model pricing", modelID)
		}
		var pricing entities.ModelPricing
		if err := json.Unmarshal([]byte(cached), &pricing); err == nil {
			return &pricing, nil
		}
		c.logger.Warn("Dropping unreadable cached pricing", zap.String("model", modelID))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Pricing cache read failed", zap.String("model", modelID), zap.Error(err))
	}

	pricing, err := c.inner.GetModelPricing(ctx, modelID)
	switch {
	case err == nil:
		if data, merr := json.Marshal(pricing); merr == nil {
			c.store(ctx, modelID, string(data))
		}
	case pkgerrors.IsNotFound(err):
		c.store(ctx, modelID, missingMarker)
	}
	return pricing, err
}

// Invalidate drops a model's cached pricing.
func (c *PricingCache) Invalidate(ctx context.Context, modelID string) error {
	if err := c.client.Del(ctx, c.key(modelID)).Err(); err != nil {
		return fmt.Errorf("invalidate pricing: %w", err)
	}
	return nil
}

func (c *PricingCache) store(ctx context.Context, modelID, value string) {
	if err := c.client.Set(ctx, c.key(modelID), value, c.ttl).Err(); err != nil {
		c.logger.Warn("Pricing cache write failed", zap.String("model", modelID), zap.Error(err))
	}
}
