package server

import (
	"sync"
	"testing"
	"time"
)

func TestNewMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector()
	if mc == nil {
		t.Fatal("NewMetricsCollector should not return nil")
	}
	if mc.latencies == nil {
		t.Error("latencies should be initialized")
	}
}

func TestMetricsCollector_Counters(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordAccepted()
	mc.RecordAccepted()
	mc.RecordAcceptError()
	mc.RecordReadError()
	mc.RecordBuildError()
	mc.RecordWriteMismatch()
	mc.RecordHandlerPanic()
	mc.RecordBytesRead(100)
	mc.RecordBytesRead(50)
	mc.RecordBytesWritten(300)

	s := mc.Snapshot()
	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"Accepted", s.Accepted, 2},
		{"AcceptErrors", s.AcceptErrors, 1},
		{"ReadErrors", s.ReadErrors, 1},
		{"BuildErrors", s.BuildErrors, 1},
		{"WriteMismatches", s.WriteMismatches, 1},
		{"HandlerPanics", s.HandlerPanics, 1},
		{"BytesRead", s.BytesRead, 150},
		{"BytesWritten", s.BytesWritten, 300},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
	if s.CollectedAt.IsZero() {
		t.Error("CollectedAt should be set")
	}
}

func TestMetricsCollector_InFlight(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordStart()
	mc.RecordStart()
	if got := mc.Snapshot().InFlight; got != 2 {
		t.Errorf("InFlight = %d, want 2", got)
	}

	mc.RecordDone(time.Millisecond)
	s := mc.Snapshot()
	if s.InFlight != 1 {
		t.Errorf("InFlight = %d, want 1", s.InFlight)
	}
	if s.Handled != 1 {
		t.Errorf("Handled = %d, want 1", s.Handled)
	}
}

func TestMetricsCollector_LatencyPercentiles(t *testing.T) {
	mc := NewMetricsCollector()

	if s := mc.Snapshot(); s.LatencyP50 != 0 || s.LatencyP99 != 0 {
		t.Errorf("empty percentiles = %d/%d, want 0/0", s.LatencyP50, s.LatencyP99)
	}

	for i := 100; i >= 1; i-- {
		mc.RecordStart()
		mc.RecordDone(time.Duration(i) * time.Microsecond)
	}

	s := mc.Snapshot()
	if s.LatencyP50 != 51 {
		t.Errorf("P50 = %d, want 51", s.LatencyP50)
	}
	if s.LatencyP99 != 100 {
		t.Errorf("P99 = %d, want 100", s.LatencyP99)
	}
}

func TestMetricsCollector_LatencyWindow(t *testing.T) {
	mc := NewMetricsCollector()
	for i := 0; i < maxLatencySamples+10; i++ {
		mc.RecordStart()
		mc.RecordDone(time.Microsecond)
	}

	mc.latencyMu.Lock()
	n := len(mc.latencies)
	mc.latencyMu.Unlock()
	if n > maxLatencySamples {
		t.Errorf("kept %d samples, want at most %d", n, maxLatencySamples)
	}
}

func TestMetricsCollector_Concurrent(t *testing.T) {
	mc := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mc.RecordAccepted()
				mc.RecordStart()
				mc.RecordDone(time.Microsecond)
				_ = mc.Snapshot()
			}
		}()
	}
	wg.Wait()

	s := mc.Snapshot()
	if s.Accepted != 5000 || s.Handled != 5000 || s.InFlight != 0 {
		t.Errorf("Accepted=%d Handled=%d InFlight=%d", s.Accepted, s.Handled, s.InFlight)
	}
}
