// Package di wires the application together for the command entrypoints.
package di

import (
	"context"

	"go.uber.org/zap"

	"loci/application/services/cascade"
	"loci/application/services/content"
	"loci/application/services/ledger"
	"loci/infrastructure/config"
	"loci/infrastructure/observability"
	"loci/interfaces/http/rest"
)

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Storage    *Storage
	Content    *content.Service
	Ledger     *ledger.Service
	Cascade    *cascade.Service
	Router     *rest.Router
	Collector  *observability.Collector
	CloudWatch *observability.CloudWatchMetrics
	Tracing    *observability.TracerProvider
}

// FlushMetrics sends buffered CloudWatch metrics, if any are configured.
func (c *Container) FlushMetrics(ctx context.Context) {
	if c.CloudWatch == nil {
		return
	}
	if err := c.CloudWatch.Flush(ctx); err != nil {
		c.Logger.Warn("Failed to flush CloudWatch metrics", zap.Error(err))
	}
}
