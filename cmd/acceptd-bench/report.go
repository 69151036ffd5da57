package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	GC         gcInfo         `json:"gc"`
	Transfer   transferInfo   `json:"transfer"`
	Errors     errorInfo      `json:"errors"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
	GitCommit string `json:"git_commit,omitempty"`
}

type workloadInfo struct {
	Profile        string  `json:"profile"`
	Target         string  `json:"target"`
	Clients        int     `json:"clients"`
	DurationMS     int64   `json:"duration_ms"`
	RPSPerClient   float64 `json:"rps_per_client"`
	Workers        int     `json:"workers,omitempty"`
	PollIntervalMS int64   `json:"poll_interval_ms,omitempty"`
	PayloadBytes   int     `json:"payload_bytes,omitempty"`
	MaxProcs       int     `json:"max_procs"`
	MemLimitBytes  int64   `json:"mem_limit_bytes"`
	TimeoutMS      int64   `json:"timeout_ms"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	Requests              uint64  `json:"requests_total"`
	Completed             uint64  `json:"completed_total"`
	CompletedPerSec       float64 `json:"completed_per_sec"`
	CompletedPerSecClient float64 `json:"completed_per_sec_per_client"`
}

type gcInfo struct {
	AllocMB       float64 `json:"alloc_mb"`
	HeapLiveMB    float64 `json:"heap_live_mb"`
	NumGC         uint32  `json:"num_gc"`
	PauseTotalMS  float64 `json:"pause_total_ms"`
	PauseAvgMS    float64 `json:"pause_avg_ms"`
	GCCPUFraction float64 `json:"gc_cpu_fraction"`
	AllocsObjects uint64  `json:"allocs_objects"`
}

type transferInfo struct {
	BytesSent       uint64  `json:"bytes_sent"`
	BytesReceived   uint64  `json:"bytes_received"`
	AvgResponseSize float64 `json:"avg_response_bytes"`
}

type errorInfo struct {
	TotalErrors   uint64 `json:"total_errors"`
	DialFailures  uint64 `json:"dial_failures"`
	WriteFailures uint64 `json:"write_failures"`
	ReadFailures  uint64 `json:"read_failures"`
	Timeouts      uint64 `json:"timeouts"`
	ShortReplies  uint64 `json:"short_replies"`
}

func buildReport(
	cfg benchConfig,
	elapsed time.Duration,
	latencies []time.Duration,
	counters *benchCounters,
	errCounts *benchErrors,
	before runtime.MemStats,
	after runtime.MemStats,
	beforeMetrics runtimeMetricsSnapshot,
	afterMetrics runtimeMetricsSnapshot,
) benchReport {
	completed := counters.completed.Load()
	received := counters.bytesReceived.Load()

	elapsedSeconds := math.Max(0.001, elapsed.Seconds())
	perSec := float64(completed) / elapsedSeconds

	latency := latencyInfo{}
	if len(latencies) > 0 {
		latency = latencyInfo{
			Min: ms(latencies[0]),
			P50: ms(percentile(latencies, 0.50)),
			P95: ms(percentile(latencies, 0.95)),
			P99: ms(percentile(latencies, 0.99)),
			Max: ms(latencies[len(latencies)-1]),
		}
	}

	avgResponse := 0.0
	if completed > 0 {
		avgResponse = float64(received) / float64(completed)
	}

	target := cfg.Addr
	workload := workloadInfo{
		Profile:       cfg.Profile,
		Clients:       cfg.Clients,
		DurationMS:    cfg.Duration.Milliseconds(),
		RPSPerClient:  cfg.RPS,
		MaxProcs:      cfg.MaxProcs,
		MemLimitBytes: cfg.MemLimitBytes,
		TimeoutMS:     cfg.Timeout.Milliseconds(),
	}
	if target == "" {
		target = "in-process"
		workload.Workers = cfg.Workers
		workload.PollIntervalMS = cfg.PollInterval.Milliseconds()
		workload.PayloadBytes = cfg.PayloadBytes
	}
	workload.Target = target

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
			GitCommit: gitCommit(),
		},
		Workload:  workload,
		LatencyMS: latency,
		Throughput: throughputInfo{
			Requests:              counters.requests.Load(),
			Completed:             completed,
			CompletedPerSec:       perSec,
			CompletedPerSecClient: perSec / float64(cfg.Clients),
		},
		GC: gcInfo{
			AllocMB:       float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024),
			HeapLiveMB:    float64(after.HeapAlloc) / (1024 * 1024),
			NumGC:         after.NumGC - before.NumGC,
			PauseTotalMS:  ms(time.Duration(after.PauseTotalNs - before.PauseTotalNs)),
			PauseAvgMS:    ms(avgPause(after, before)),
			GCCPUFraction: cpuFraction(afterMetrics, beforeMetrics),
			AllocsObjects: afterMetrics.heapAllocsObjects - beforeMetrics.heapAllocsObjects,
		},
		Transfer: transferInfo{
			BytesSent:       counters.bytesSent.Load(),
			BytesReceived:   received,
			AvgResponseSize: avgResponse,
		},
		Errors: errorInfo{
			TotalErrors:   errCounts.totalErrors.Load(),
			DialFailures:  errCounts.dialFailures.Load(),
			WriteFailures: errCounts.writeFailures.Load(),
			ReadFailures:  errCounts.readFailures.Load(),
			Timeouts:      errCounts.timeouts.Load(),
			ShortReplies:  errCounts.shortReplies.Load(),
		},
	}
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== acceptd load benchmark ===")
	fmt.Fprintf(w, "Profile: %s\n", report.Workload.Profile)
	fmt.Fprintf(w, "Target: %s\n", report.Workload.Target)
	fmt.Fprintf(w, "Clients: %d\n", report.Workload.Clients)
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(report.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "Target per-client rate: %.2f req/s\n", report.Workload.RPSPerClient)
	if report.Workload.Workers > 0 {
		fmt.Fprintf(w, "Server workers: %d, poll interval: %dms\n", report.Workload.Workers, report.Workload.PollIntervalMS)
		fmt.Fprintf(w, "Payload bytes: %d\n", report.Workload.PayloadBytes)
	}
	if report.Workload.MaxProcs > 0 {
		fmt.Fprintf(w, "GOMAXPROCS cap: %d\n", report.Workload.MaxProcs)
	}
	if report.Workload.MemLimitBytes > 0 {
		fmt.Fprintf(w, "GOMEMLIMIT cap: %.2f GiB\n", float64(report.Workload.MemLimitBytes)/float64(gib))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Completed: %d of %d\n", report.Throughput.Completed, report.Throughput.Requests)
	fmt.Fprintf(w, "Throughput: %.1f req/s (%.2f per client)\n", report.Throughput.CompletedPerSec, report.Throughput.CompletedPerSecClient)
	fmt.Fprintf(w, "Errors: %d (dial %d, write %d, read %d, timeout %d, short %d)\n",
		report.Errors.TotalErrors, report.Errors.DialFailures, report.Errors.WriteFailures,
		report.Errors.ReadFailures, report.Errors.Timeouts, report.Errors.ShortReplies)
	fmt.Fprintln(w)

	if report.LatencyMS.Max == 0 {
		fmt.Fprintln(w, "No latency samples recorded.")
	} else {
		fmt.Fprintln(w, "RTT (dial -> write -> half-close -> read to EOF):")
		fmt.Fprintf(w, "  min: %.2f ms\n", report.LatencyMS.Min)
		fmt.Fprintf(w, "  p50: %.2f ms\n", report.LatencyMS.P50)
		fmt.Fprintf(w, "  p95: %.2f ms\n", report.LatencyMS.P95)
		fmt.Fprintf(w, "  p99: %.2f ms\n", report.LatencyMS.P99)
		fmt.Fprintf(w, "  max: %.2f ms\n", report.LatencyMS.Max)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Go runtime / GC (process-wide):")
	fmt.Fprintf(w, "  alloc:     %.2f MB\n", report.GC.AllocMB)
	fmt.Fprintf(w, "  heap_live: %.2f MB\n", report.GC.HeapLiveMB)
	fmt.Fprintf(w, "  num_gc:    %d\n", report.GC.NumGC)
	fmt.Fprintf(w, "  gc_pause:  %.2f ms (total)\n", report.GC.PauseTotalMS)
	fmt.Fprintf(w, "  gc_pause:  %.2f ms (avg)\n", report.GC.PauseAvgMS)
	fmt.Fprintf(w, "  gc_cpu:    %.2f%%\n", report.GC.GCCPUFraction*100)
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func gitCommit() string {
	if val := strings.TrimSpace(os.Getenv("ACCEPTD_GIT_COMMIT")); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv("GIT_COMMIT")); val != "" {
		return val
	}
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
