package decorators

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loci/application/ports"
	"loci/domain/core/entities"
)

const tracerName = "loci/persistence"

// TracingUnitOfWorkFactory opens a span around every commit.
type TracingUnitOfWorkFactory struct {
	inner  ports.UnitOfWorkFactory
	tracer trace.Tracer
}

// NewTracingUnitOfWorkFactory wraps inner. A nil tracer uses the global
// provider.
func NewTracingUnitOfWorkFactory(inner ports.UnitOfWorkFactory, tracer trace.Tracer) *TracingUnitOfWorkFactory {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &TracingUnitOfWorkFactory{inner: inner, tracer: tracer}
}

func (f *TracingUnitOfWorkFactory) Begin() ports.UnitOfWork {
	return &tracingUnitOfWork{UnitOfWork: f.inner.Begin(), tracer: f.tracer}
}

type tracingUnitOfWork struct {
	ports.UnitOfWork
	tracer trace.Tracer
}

func (u *tracingUnitOfWork) Commit(ctx context.Context) error {
	ctx, span := u.tracer.Start(ctx, "UnitOfWork.Commit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("uow.operations", u.Len())),
	)
	defer span.End()

	err := u.UnitOfWork.Commit(ctx)
	endSpan(span, err)
	return err
}

// TracingPricingRepository opens a span around stored pricing reads.
type TracingPricingRepository struct {
	inner  ports.PricingRepository
	tracer trace.Tracer
}

// NewTracingPricingRepository wraps inner.
func NewTracingPricingRepository(inner ports.PricingRepository, tracer trace.Tracer) *TracingPricingRepository {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &TracingPricingRepository{inner: inner, tracer: tracer}
}

func (r *TracingPricingRepository) GetModelPricing(ctx context.Context, modelID string) (*entities.ModelPricing, error) {
	ctx, span := r.tracer.Start(ctx, "PricingRepository.GetModelPricing",
		trace.WithAttributes(attribute.String("pricing.model", modelID)),
	)
	defer span.End()

	pricing, err := r.inner.GetModelPricing(ctx, modelID)
	endSpan(span, err)
	return pricing, err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
