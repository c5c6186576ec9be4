// Package main implements the scheduled Lambda that grants monthly shard
// allowances. EventBridge invokes it on a cron schedule; overlapping runs
// are kept apart by the ledger's job lock.
package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"loci/application/services/ledger"
	"loci/infrastructure/config"
	"loci/infrastructure/di"
	"loci/infrastructure/observability"
	pkgerrors "loci/pkg/errors"
)

var container *di.Container

func init() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.IsLambda = true

	container, _, err = di.InitializeContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
}

// HandleRequest runs one allowance reset for the month the event fired in.
func HandleRequest(ctx context.Context, event events.CloudWatchEvent) (*ledger.ResetResult, error) {
	logger := container.Logger.With(zap.String("eventID", event.ID))
	logger.Info("Starting monthly allowance reset", zap.Time("scheduledAt", event.Time))
	defer container.FlushMetrics(context.WithoutCancel(ctx))

	now := event.Time
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result *ledger.ResetResult
	err := observability.TraceJob(ctx, "MonthlyAllowanceReset", func(ctx context.Context) error {
		var err error
		result, err = container.Ledger.MonthlyAllowanceReset(ctx, now)
		return err
	})
	if pkgerrors.IsConflict(err) {
		// Another invocation holds the lock and is doing the work.
		logger.Info("Allowance reset already running, skipping")
		return &ledger.ResetResult{}, nil
	}
	if err != nil {
		logger.Error("Monthly allowance reset failed", zap.Error(err))
		return result, err
	}
	return result, nil
}

func main() {
	lambda.Start(HandleRequest)
}
