package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "loci/pkg/errors"
)

func TestCollectorRecordsCoreMetrics(t *testing.T) {
	c := NewCollector("loci_test")

	c.LedgerOperation("debit", "ok", 2.5)
	c.LedgerOperation("debit", "insufficient_funds", 100)
	c.OrderingMutation("move", 10*time.Millisecond, nil)
	c.OrderingMutation("move", time.Millisecond, pkgerrors.NewVersionConflictError("order", "nb1"))
	c.CascadeDeleted("NOTEBOOK", 7, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.LedgerOperations.WithLabelValues("debit", "ok")))
	assert.Equal(t, 2.5, testutil.ToFloat64(c.ShardsMoved.WithLabelValues("debit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OrderingErrors.WithLabelValues("move", "CONFLICT")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.CascadeRecords.WithLabelValues("NOTEBOOK", "false")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "loci_test_cascade_records_total")
}

func TestTeeFansOut(t *testing.T) {
	a, b := NewCollector("a"), NewCollector("b")
	Tee{a, b}.CascadeDeleted("TAG", 2, true)
	assert.Equal(t, 2.0, testutil.ToFloat64(a.CascadeRecords.WithLabelValues("TAG", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(b.CascadeRecords.WithLabelValues("TAG", "true")))
}

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestCloudWatchMetricsFlush(t *testing.T) {
	fake := &fakeCloudWatch{}
	m := NewCloudWatchMetrics("Loci", fake, nil)

	m.LedgerOperation("credit", "ok", 5)
	m.CascadeDeleted("NEXUS", 3, false)
	require.NoError(t, m.Flush(context.Background()))

	require.Len(t, fake.inputs, 1)
	assert.Equal(t, "Loci", aws.ToString(fake.inputs[0].Namespace))
	assert.Len(t, fake.inputs[0].MetricData, 3)

	require.NoError(t, m.Flush(context.Background()))
	assert.Len(t, fake.inputs, 1, "an empty buffer sends nothing")

	fake.err = errors.New("throttled")
	m.OrderingMutation("reorder", time.Millisecond, nil)
	assert.Error(t, m.Flush(context.Background()))
}

func TestTraceJobWithoutSegment(t *testing.T) {
	called := false
	err := TraceJob(context.Background(), "job", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("production", "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = NewLogger("development", "loud")
	assert.Error(t, err)
}
