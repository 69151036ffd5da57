package server

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ServerMetrics aggregates metrics across the server.
type ServerMetrics struct {
	// Accept loop
	State        string `json:"state"`
	Accepted     int64  `json:"accepted"`
	AcceptErrors int64  `json:"accept_errors"`
	Queued       int64  `json:"queued"`

	// Handlers
	InFlight        int64 `json:"in_flight"`
	Handled         int64 `json:"handled"`
	ReadErrors      int64 `json:"read_errors"`
	BuildErrors     int64 `json:"build_errors"`
	WriteMismatches int64 `json:"write_mismatches"`
	HandlerPanics   int64 `json:"handler_panics"`

	// Network
	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`

	// Handle latency, accept to close (microseconds)
	LatencyP50 int64 `json:"latency_p50_us"`
	LatencyP99 int64 `json:"latency_p99_us"`

	CollectedAt time.Time `json:"collected_at"`
}

// Metrics returns a snapshot of the server's counters, queue depth and
// accept loop state.
func (s *Server) Metrics() *ServerMetrics {
	m := s.metrics.Snapshot()
	m.State = s.State().String()
	m.Queued = int64(s.QueueLen())
	return m
}

const maxLatencySamples = 1000

// MetricsCollector collects and aggregates metrics over time.
type MetricsCollector struct {
	accepted        atomic.Int64
	acceptErrors    atomic.Int64
	inFlight        atomic.Int64
	handled         atomic.Int64
	readErrors      atomic.Int64
	buildErrors     atomic.Int64
	writeMismatches atomic.Int64
	handlerPanics   atomic.Int64
	bytesRead       atomic.Int64
	bytesWritten    atomic.Int64

	latencyMu sync.Mutex
	latencies []int64
}

// NewMetricsCollector creates a new MetricsCollector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		latencies: make([]int64, 0, maxLatencySamples),
	}
}

// RecordAccepted records an accepted connection.
func (m *MetricsCollector) RecordAccepted() {
	m.accepted.Add(1)
}

// RecordAcceptError records a recoverable accept failure.
func (m *MetricsCollector) RecordAcceptError() {
	m.acceptErrors.Add(1)
}

// RecordStart records a connection entering a handler.
func (m *MetricsCollector) RecordStart() {
	m.inFlight.Add(1)
}

// RecordDone records a connection leaving a handler, with the time since it
// was accepted.
func (m *MetricsCollector) RecordDone(latency time.Duration) {
	m.inFlight.Add(-1)
	m.handled.Add(1)

	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()
	// Keep only recent samples
	if len(m.latencies) >= maxLatencySamples {
		m.latencies = append(m.latencies[:0], m.latencies[maxLatencySamples/2:]...)
	}
	m.latencies = append(m.latencies, latency.Microseconds())
}

// RecordReadError records a failed request read.
func (m *MetricsCollector) RecordReadError() {
	m.readErrors.Add(1)
}

// RecordBuildError records a failed response build.
func (m *MetricsCollector) RecordBuildError() {
	m.buildErrors.Add(1)
}

// RecordWriteMismatch records a short response write.
func (m *MetricsCollector) RecordWriteMismatch() {
	m.writeMismatches.Add(1)
}

// RecordHandlerPanic records a recovered handler panic.
func (m *MetricsCollector) RecordHandlerPanic() {
	m.handlerPanics.Add(1)
}

// RecordBytesRead records request bytes read.
func (m *MetricsCollector) RecordBytesRead(n int) {
	m.bytesRead.Add(int64(n))
}

// RecordBytesWritten records response bytes written.
func (m *MetricsCollector) RecordBytesWritten(n int) {
	m.bytesWritten.Add(int64(n))
}

// Snapshot returns current metrics. State and Queued are left empty; they
// belong to the server rather than the collector.
func (m *MetricsCollector) Snapshot() *ServerMetrics {
	metrics := &ServerMetrics{
		Accepted:        m.accepted.Load(),
		AcceptErrors:    m.acceptErrors.Load(),
		InFlight:        m.inFlight.Load(),
		Handled:         m.handled.Load(),
		ReadErrors:      m.readErrors.Load(),
		BuildErrors:     m.buildErrors.Load(),
		WriteMismatches: m.writeMismatches.Load(),
		HandlerPanics:   m.handlerPanics.Load(),
		BytesRead:       m.bytesRead.Load(),
		BytesWritten:    m.bytesWritten.Load(),
		CollectedAt:     time.Now(),
	}
	metrics.LatencyP50, metrics.LatencyP99 = m.latencyPercentiles()
	return metrics
}

func (m *MetricsCollector) latencyPercentiles() (p50, p99 int64) {
	m.latencyMu.Lock()
	sorted := slices.Clone(m.latencies)
	m.latencyMu.Unlock()

	n := len(sorted)
	if n == 0 {
		return 0, 0
	}
	slices.Sort(sorted)
	return sorted[n/2], sorted[(n*99)/100]
}
