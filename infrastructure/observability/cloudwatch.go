package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"loci/application/ports"
)

// maxDatumsPerCall is the PutMetricData per-request cap.
const maxDatumsPerCall = 1000

// CloudWatchAPI is the subset of the CloudWatch client the sink uses.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ ports.Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics buffers measurements and ships them on Flush. Lambda
// functions cannot be scraped, so they flush at the end of each invocation.
type CloudWatchMetrics struct {
	namespace string
	client    CloudWatchAPI
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	buffer []types.MetricDatum
}

// NewCloudWatchMetrics creates a sink publishing under namespace.
func NewCloudWatchMetrics(namespace string, client CloudWatchAPI, logger *zap.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudWatchMetrics{
		namespace: namespace,
		client:    client,
		logger:    logger,
		now:       time.Now,
	}
}

func (m *CloudWatchMetrics) datum(name string, value float64, unit types.StandardUnit, dims ...string) types.MetricDatum {
	dimensions := make([]types.Dimension, 0, len(dims)/2)
	for i := 0; i+1 < len(dims); i += 2 {
		dimensions = append(dimensions, types.Dimension{Name: aws.String(dims[i]), Value: aws.String(dims[i+1])})
	}
	return types.MetricDatum{
		MetricName: aws.String(name),
		Dimensions: dimensions,
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(m.now()),
	}
}

func (m *CloudWatchMetrics) add(data ...types.MetricDatum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, data...)
}

func (m *CloudWatchMetrics) LedgerOperation(op, outcome string, amount float64) {
	data := []types.MetricDatum{
		m.datum("LedgerOperation", 1, types.StandardUnitCount, "Operation", op, "Outcome", outcome),
	}
	if outcome == "ok" && amount > 0 {
		data = append(data, m.datum("ShardsMoved", amount, types.StandardUnitNone, "Operation", op))
	}
	m.add(data...)
}

func (m *CloudWatchMetrics) OrderingMutation(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = errorType(err)
	}
	m.add(m.datum("OrderingMutation", float64(duration.Milliseconds()), types.StandardUnitMilliseconds,
		"Operation", op, "Status", status))
}

func (m *CloudWatchMetrics) CascadeDeleted(kind string, records int, dryRun bool) {
	m.add(m.datum("CascadeRecords", float64(records), types.StandardUnitCount,
		"Kind", kind, "DryRun", strconv.FormatBool(dryRun)))
}

// Flush sends everything buffered. Data that fails to send is dropped
// after logging.
func (m *CloudWatchMetrics) Flush(ctx context.Context) error {
	m.mu.Lock()
	pending := m.buffer
	m.buffer = nil
	m.mu.Unlock()

	for start := 0; start < len(pending); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(pending))
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: pending[start:end],
		})
		if err != nil {
			m.logger.Warn("Failed to send metrics", zap.Int("dropped", len(pending)-start), zap.Error(err))
			return err
		}
	}
	return nil
}
