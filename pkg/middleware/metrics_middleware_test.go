package middleware

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/vango-dev/acceptd/pkg/server"
)

func resetGlobalMetricsForTest() {
	globalMetricsMu.Lock()
	globalMetrics = nil
	globalMetricsMu.Unlock()
}

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func TestPrometheusMiddleware_RecordsSuccess(t *testing.T) {
	resetGlobalMetricsForTest()
	reg := prometheus.NewRegistry()

	h := Prometheus(WithRegistry(reg))(handlerReturning(nil))
	if err := h.ServeConn(context.Background(), newTestConn(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := globalMetrics
	if got := metricCounterValue(t, m.connectionsTotal.WithLabelValues(OutcomeOK)); got != 1 {
		t.Fatalf("connections_total(ok)=%v, want 1", got)
	}
	if got := metricHistogramCount(t, m.connectionDuration); got != 1 {
		t.Fatalf("connection_duration_seconds count=%d, want 1", got)
	}
	if got := metricHistogramCount(t, m.queueWait); got != 1 {
		t.Fatalf("queue_wait_seconds count=%d, want 1", got)
	}
	if got := metricGaugeValue(t, m.inFlight); got != 0 {
		t.Fatalf("connections_in_flight=%v, want 0 after the handler returns", got)
	}
}

func TestPrometheusMiddleware_OutcomeLabels(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{"read error", &server.ConnError{Op: "read", Kind: server.ErrRead, Err: syscall.ECONNRESET}, OutcomeReadError},
		{"build error", &server.ConnError{Op: "build", Kind: server.ErrBuild, Err: errors.New("x")}, OutcomeBuildError},
		{"write mismatch", &server.WriteSizeMismatchError{Sent: 1, Size: 2}, OutcomeWriteMismatch},
		{"other", errors.New("custom"), OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobalMetricsForTest()
			reg := prometheus.NewRegistry()

			h := Prometheus(WithRegistry(reg))(handlerReturning(tt.err))
			if err := h.ServeConn(context.Background(), newTestConn(t)); err != tt.err {
				t.Fatalf("error not propagated: got %v", err)
			}

			if got := metricCounterValue(t, globalMetrics.connectionsTotal.WithLabelValues(tt.outcome)); got != 1 {
				t.Fatalf("connections_total(%s)=%v, want 1", tt.outcome, got)
			}
		})
	}
}

func TestPrometheusMiddleware_SharedRegistration(t *testing.T) {
	resetGlobalMetricsForTest()
	reg := prometheus.NewRegistry()

	// A second call must not register the collectors again.
	first := Prometheus(WithRegistry(reg))(handlerReturning(nil))
	second := Prometheus(WithRegistry(reg))(handlerReturning(nil))

	first.ServeConn(context.Background(), newTestConn(t))
	second.ServeConn(context.Background(), newTestConn(t))

	if got := metricCounterValue(t, globalMetrics.connectionsTotal.WithLabelValues(OutcomeOK)); got != 2 {
		t.Fatalf("connections_total(ok)=%v, want 2", got)
	}
}

func TestPrometheusMiddleware_Namespace(t *testing.T) {
	resetGlobalMetricsForTest()
	reg := prometheus.NewRegistry()

	h := Prometheus(WithRegistry(reg), WithNamespace("edge"), WithSubsystem("tcp"),
		WithConstLabels(prometheus.Labels{"instance": "a"}), WithBuckets([]float64{0.1, 1}))
	h(handlerReturning(nil)).ServeConn(context.Background(), newTestConn(t))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"edge_tcp_connections_total",
		"edge_tcp_connection_duration_seconds",
		"edge_tcp_queue_wait_seconds",
		"edge_tcp_connections_in_flight",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered, have %v", want, names)
		}
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{fmt.Errorf("wrapped: %w", &server.WriteSizeMismatchError{}), OutcomeWriteMismatch},
		{fmt.Errorf("wrapped: %w", server.ErrRead), OutcomeReadError},
		{server.ErrBuild, OutcomeBuildError},
		{context.Canceled, OutcomeError},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
