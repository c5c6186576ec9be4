package decorators

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"loci/domain/core/entities"
	"loci/infrastructure/persistence/memory"
	pkgerrors "loci/pkg/errors"
)

func testBreakerConfig() BreakerConfig {
	cfg := DefaultBreakerConfig("store")
	cfg.MinRequests = 3
	cfg.Timeout = time.Hour
	return cfg
}

func TestBreakerTripsOnStoreFailures(t *testing.T) {
	store := memory.NewStore(nil)
	store.SetError("Commit", pkgerrors.NewDatabaseError("TransactWriteItems", errors.New("timeout")))
	factory := NewBreakerUnitOfWorkFactory(store, testBreakerConfig(), nil)

	for i := 0; i < 3; i++ {
		uow := factory.Begin()
		uow.Put(&entities.Jem{ID: "j1"})
		err := uow.Commit(context.Background())
		assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDatabase))
	}
	assert.Equal(t, gobreaker.StateOpen, factory.State())

	store.ClearErrors()
	uow := factory.Begin()
	uow.Put(&entities.Jem{ID: "j1"})
	err := uow.Commit(context.Background())
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable), "an open breaker sheds commits")
	assert.Equal(t, 0, store.Count(entities.KindJem))
}

func TestBreakerIgnoresDomainConflicts(t *testing.T) {
	store := memory.NewStore(nil)
	store.Seed(&entities.Jem{ID: "j1"})
	factory := NewBreakerUnitOfWorkFactory(store, testBreakerConfig(), nil)

	for i := 0; i < 5; i++ {
		uow := factory.Begin()
		uow.Create(&entities.Jem{ID: "j1"})
		err := uow.Commit(context.Background())
		assert.True(t, pkgerrors.IsConflict(err))
	}
	assert.Equal(t, gobreaker.StateClosed, factory.State())
}

func TestBreakerPricingRepository(t *testing.T) {
	store := memory.NewStore(nil)
	store.Seed(&entities.ModelPricing{ModelID: "m", InputPerMillion: 1})
	repo := NewBreakerPricingRepository(store, testBreakerConfig(), nil)

	pricing, err := repo.GetModelPricing(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, 1.0, pricing.InputPerMillion)

	_, err = repo.GetModelPricing(context.Background(), "missing")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestTracingRecordsCommitSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	store := memory.NewStore(nil)
	factory := NewTracingUnitOfWorkFactory(store, provider.Tracer("test"))

	uow := factory.Begin()
	uow.Put(&entities.Jem{ID: "j1"})
	uow.Put(&entities.Jem{ID: "j2"})
	require.NoError(t, uow.Commit(context.Background()))

	uow = factory.Begin()
	uow.Create(&entities.Jem{ID: "j1"})
	require.Error(t, uow.Commit(context.Background()))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "UnitOfWork.Commit", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, int64(2), spans[0].Attributes()[0].Value.AsInt64())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
