package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vango-dev/acceptd/pkg/server"
)

// StatsSource is implemented by *server.Server.
type StatsSource interface {
	Metrics() *server.ServerMetrics
}

// StatsCollector exports a server's built-in counters as Prometheus metrics.
// Values are read from a fresh snapshot on every scrape.
type StatsCollector struct {
	src StatsSource

	up              *prometheus.Desc
	accepted        *prometheus.Desc
	acceptErrors    *prometheus.Desc
	queued          *prometheus.Desc
	inFlight        *prometheus.Desc
	handled         *prometheus.Desc
	connErrors      *prometheus.Desc
	handlerPanics   *prometheus.Desc
	bytesRead       *prometheus.Desc
	bytesWritten    *prometheus.Desc
	latencyQuantile *prometheus.Desc
}

// NewStatsCollector creates a collector for src under namespace
// (default "acceptd").
func NewStatsCollector(src StatsSource, namespace string) *StatsCollector {
	if namespace == "" {
		namespace = "acceptd"
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "server", name), help, labels, nil)
	}
	return &StatsCollector{
		src:             src,
		up:              desc("listening", "1 while the accept loop is listening"),
		accepted:        desc("accepted_total", "Connections accepted"),
		acceptErrors:    desc("accept_errors_total", "Recoverable accept failures"),
		queued:          desc("queue_depth", "Accepted connections waiting for a worker"),
		inFlight:        desc("in_flight", "Connections inside a request handler"),
		handled:         desc("handled_total", "Connections that left a request handler"),
		connErrors:      desc("connection_errors_total", "Per-connection failures by kind", "kind"),
		handlerPanics:   desc("handler_panics_total", "Recovered handler panics"),
		bytesRead:       desc("read_bytes_total", "Request bytes read"),
		bytesWritten:    desc("written_bytes_total", "Response bytes written"),
		latencyQuantile: desc("latency_seconds", "Accept-to-close latency over recent connections", "quantile"),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.accepted
	ch <- c.acceptErrors
	ch <- c.queued
	ch <- c.inFlight
	ch <- c.handled
	ch <- c.connErrors
	ch <- c.handlerPanics
	ch <- c.bytesRead
	ch <- c.bytesWritten
	ch <- c.latencyQuantile
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.src.Metrics()

	up := 0.0
	if m.State == server.StateListening.String() {
		up = 1
	}
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	gauge(c.up, up)
	counter(c.accepted, m.Accepted)
	counter(c.acceptErrors, m.AcceptErrors)
	gauge(c.queued, float64(m.Queued))
	gauge(c.inFlight, float64(m.InFlight))
	counter(c.handled, m.Handled)
	counter(c.connErrors, m.ReadErrors, OutcomeReadError)
	counter(c.connErrors, m.BuildErrors, OutcomeBuildError)
	counter(c.connErrors, m.WriteMismatches, OutcomeWriteMismatch)
	counter(c.handlerPanics, m.HandlerPanics)
	counter(c.bytesRead, m.BytesRead)
	counter(c.bytesWritten, m.BytesWritten)
	gauge(c.latencyQuantile, float64(m.LatencyP50)/1e6, "0.5")
	gauge(c.latencyQuantile, float64(m.LatencyP99)/1e6, "0.99")
}
