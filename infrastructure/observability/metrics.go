package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loci/application/ports"
	pkgerrors "loci/pkg/errors"
)

var _ ports.Metrics = (*Collector)(nil)

// Collector holds all Prometheus metrics for the application. Each
// collector owns its registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Core metrics
	LedgerOperations *prometheus.CounterVec
	ShardsMoved      *prometheus.CounterVec
	OrderingDuration *prometheus.HistogramVec
	OrderingErrors   *prometheus.CounterVec
	CascadeRecords   *prometheus.CounterVec
}

// NewCollector creates a collector with the given namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LedgerOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Ledger operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		ShardsMoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_shards_total",
				Help:      "Shards debited or credited by successful ledger operations",
			},
			[]string{"operation"},
		),
		OrderingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ordering_mutation_duration_seconds",
				Help:      "Ordering mutation duration in seconds, retries included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		OrderingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ordering_mutation_errors_total",
				Help:      "Failed ordering mutations by error type",
			},
			[]string{"operation", "type"},
		),
		CascadeRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cascade_records_total",
				Help:      "Records removed, or planned for removal in dry runs, by cascades",
			},
			[]string{"kind", "dry_run"},
		),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.LedgerOperations,
		c.ShardsMoved,
		c.OrderingDuration,
		c.OrderingErrors,
		c.CascadeRecords,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) LedgerOperation(op, outcome string, amount float64) {
	c.LedgerOperations.WithLabelValues(op, outcome).Inc()
	if outcome == "ok" && amount > 0 {
		c.ShardsMoved.WithLabelValues(op).Add(amount)
	}
}

func (c *Collector) OrderingMutation(op string, duration time.Duration, err error) {
	c.OrderingDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		c.OrderingErrors.WithLabelValues(op, errorType(err)).Inc()
	}
}

func (c *Collector) CascadeDeleted(kind string, records int, dryRun bool) {
	c.CascadeRecords.WithLabelValues(kind, strconv.FormatBool(dryRun)).Add(float64(records))
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func errorType(err error) string {
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		return string(appErr.Type)
	}
	return string(pkgerrors.ErrorTypeInternal)
}

// Tee fans measurements out to several sinks.
type Tee []ports.Metrics

func (t Tee) LedgerOperation(op, outcome string, amount float64) {
	for _, m := range t {
		m.LedgerOperation(op, outcome, amount)
	}
}

func (t Tee) OrderingMutation(op string, duration time.Duration, err error) {
	for _, m := range t {
		m.OrderingMutation(op, duration, err)
	}
}

func (t Tee) CascadeDeleted(kind string, records int, dryRun bool) {
	for _, m := range t {
		m.CascadeDeleted(kind, records, dryRun)
	}
}
