package main

import (
	"bytes"
	"flag"
	"strings"
	"testing"
	"time"
)

func TestParseConfig_ProfileAndOverrides(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseConfig(fs, []string{"-profile=fast", "-clients=3", "-duration=2s", "-mem-limit=1GiB"})
	if err != nil {
		t.Fatalf("parseConfig error: %v", err)
	}
	if cfg.Profile != "fast" || cfg.Clients != 3 || cfg.Duration != 2*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Workers != profiles["fast"].Workers {
		t.Errorf("Workers = %d, want profile default", cfg.Workers)
	}
	if cfg.MemLimitBytes != 1<<30 {
		t.Errorf("MemLimitBytes = %d", cfg.MemLimitBytes)
	}
	if cfg.Timeout < 2*time.Second {
		t.Errorf("Timeout = %s, want at least 2s", cfg.Timeout)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := [][]string{
		{"-profile=huge"},
		{"-clients=0"},
		{"-duration=soon"},
		{"-rps=0"},
		{"-workers=0"},
		{"-mem-limit=lots"},
	}
	for _, args := range tests {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.SetOutput(new(bytes.Buffer))
		if _, err := parseConfig(fs, args); err == nil {
			t.Errorf("parseConfig(%v) should fail", args)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"2kb", 2000},
		{"1.5MiB", 3 << 19},
		{"2GiB", 2 << 30},
		{" 10 b ", 10},
	}
	for _, tt := range tests {
		got, err := parseBytes(tt.in)
		if err != nil {
			t.Errorf("parseBytes(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseBytes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "GiB", "3 parsecs"} {
		if _, err := parseBytes(bad); err == nil {
			t.Errorf("parseBytes(%q) should fail", bad)
		}
	}
}

func TestPercentile(t *testing.T) {
	var samples []time.Duration
	for i := 1; i <= 100; i++ {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	if got := percentile(samples, 0.50); got != 50*time.Millisecond {
		t.Errorf("p50 = %s", got)
	}
	if got := percentile(samples, 0.99); got != 99*time.Millisecond {
		t.Errorf("p99 = %s", got)
	}
	if got := percentile(samples, 1); got != 100*time.Millisecond {
		t.Errorf("p100 = %s", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Errorf("empty percentile = %s", got)
	}
}

func TestRequestTimeout(t *testing.T) {
	if got := requestTimeout(1, 50*time.Millisecond); got != 10*time.Second {
		t.Errorf("rps=1: %s, want 10s", got)
	}
	if got := requestTimeout(100, 50*time.Millisecond); got != 2*time.Second {
		t.Errorf("rps=100: %s, want 2s floor", got)
	}
	if got := requestTimeout(100, 3*time.Second); got != 6*time.Second {
		t.Errorf("slow poll: %s, want 6s", got)
	}
}

func TestRun_InProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("load run")
	}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseConfig(fs, []string{"-profile=fast", "-clients=2", "-duration=400ms", "-rps=20", "-payload-bytes=64"})
	if err != nil {
		t.Fatal(err)
	}

	srv, stop, err := startLocalServer(cfg)
	if err != nil {
		t.Fatalf("startLocalServer error: %v", err)
	}
	defer stop()

	report := run(cfg, srv.Addr().String(), 0)
	if report.Throughput.Completed == 0 {
		t.Fatalf("no requests completed: %+v", report.Errors)
	}
	if report.Errors.TotalErrors != 0 {
		t.Errorf("errors = %+v", report.Errors)
	}
	if report.LatencyMS.P50 <= 0 {
		t.Errorf("latency = %+v", report.LatencyMS)
	}

	var out strings.Builder
	writeSummary(&out, report)
	if !strings.Contains(out.String(), "acceptd load benchmark") {
		t.Errorf("summary = %s", out.String())
	}
}
