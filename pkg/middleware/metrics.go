package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/acceptd/pkg/conn"
	"github.com/vango-dev/acceptd/pkg/server"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "acceptd").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for connection duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "acceptd",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Outcome labels.
const (
	OutcomeOK            = "ok"
	OutcomeReadError     = "read_error"
	OutcomeBuildError    = "build_error"
	OutcomeWriteMismatch = "write_mismatch"
	OutcomeError         = "error"
)

// metrics holds the per-connection Prometheus metrics.
type metrics struct {
	connectionsTotal   *prometheus.CounterVec
	connectionDuration prometheus.Histogram
	queueWait          prometheus.Histogram
	inFlight           prometheus.Gauge
}

// globalMetrics is created on the first call to Prometheus so that repeated
// calls share one registration.
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total connections handled, by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connection_duration_seconds",
			Help:        "Time spent in the request handler per connection",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		queueWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "queue_wait_seconds",
			Help:        "Time between accept and a worker picking the connection up",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_in_flight",
			Help:        "Connections currently inside a request handler",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Prometheus creates middleware that records Prometheus metrics for every
// handled connection.
//
// Metrics collected:
//   - acceptd_connections_total: Counter of connections by outcome
//   - acceptd_connection_duration_seconds: Histogram of handler duration
//   - acceptd_queue_wait_seconds: Histogram of accept-to-dequeue delay
//   - acceptd_connections_in_flight: Gauge of connections being handled
//
// Example:
//
//	srv.Use(middleware.Prometheus(middleware.WithNamespace("edge")))
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) server.Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(ctx context.Context, c *conn.Conn) error {
			start := time.Now()
			m.queueWait.Observe(start.Sub(c.AcceptedAt()).Seconds())
			m.inFlight.Inc()

			err := next.ServeConn(ctx, c)

			m.inFlight.Dec()
			m.connectionDuration.Observe(time.Since(start).Seconds())
			m.connectionsTotal.WithLabelValues(Outcome(err)).Inc()
			return err
		})
	}
}

// Outcome maps a handler error to a low-cardinality label.
func Outcome(err error) string {
	var mismatch *server.WriteSizeMismatchError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &mismatch):
		return OutcomeWriteMismatch
	case errors.Is(err, server.ErrRead):
		return OutcomeReadError
	case errors.Is(err, server.ErrBuild):
		return OutcomeBuildError
	default:
		return OutcomeError
	}
}
