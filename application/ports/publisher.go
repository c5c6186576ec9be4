package ports

import (
	"context"
	"time"

	"loci/domain/events"
)

// EventPublisher publishes domain events after a successful commit.
type EventPublisher interface {
	Publish(ctx context.Context, evts ...events.DomainEvent) error
}

// Metrics records core operation outcomes.
type Metrics interface {
	LedgerOperation(op, outcome string, amount float64)
	OrderingMutation(op string, duration time.Duration, err error)
	CascadeDeleted(kind string, records int, dryRun bool)
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, ...events.DomainEvent) error { return nil }

// NoopMetrics discards measurements.
type NoopMetrics struct{}

func (NoopMetrics) LedgerOperation(string, string, float64)       {}
func (NoopMetrics) OrderingMutation(string, time.Duration, error) {}
func (NoopMetrics) CascadeDeleted(string, int, bool)              {}
