// acceptd-bench drives concurrent TCP clients against an acceptd server and
// reports round-trip latency, throughput and GC cost.
//
// Each request is a full connection lifecycle: dial, write, half-close, read
// until the server closes. That is the only exchange acceptd supports, so it
// measures accept loop wake-up, queue hand-off, the single read and the
// response write together.
//
// Without -addr an in-process server is started on 127.0.0.1 with the
// requested poll interval and worker count.
//
// Run:
//
//	go run ./cmd/acceptd-bench -profile=fast
//	go run ./cmd/acceptd-bench -addr=10.0.0.5:8080 -clients=64 -duration=30s
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"net"
	"os"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/acceptd/pkg/response"
	"github.com/vango-dev/acceptd/pkg/server"
)

const (
	gib = int64(1024 * 1024 * 1024)
)

type profile struct {
	Name          string
	Clients       int
	Duration      time.Duration
	RPS           float64
	Workers       int
	PayloadBytes  int
	MaxProcs      int
	MemLimitBytes int64
}

var profiles = map[string]profile{
	"fast": {
		Name:         "fast",
		Clients:      16,
		Duration:     10 * time.Second,
		RPS:          20,
		Workers:      4,
		PayloadBytes: 1024,
	},
	"standard": {
		Name:         "standard",
		Clients:      64,
		Duration:     30 * time.Second,
		RPS:          50,
		Workers:      8,
		PayloadBytes: 4096,
	},
	"stress": {
		Name:          "stress",
		Clients:       256,
		Duration:      60 * time.Second,
		RPS:           100,
		Workers:       32,
		PayloadBytes:  30720,
		MaxProcs:      4,
		MemLimitBytes: 2 * gib,
	},
}

type benchConfig struct {
	Profile       string
	Addr          string
	Clients       int
	Duration      time.Duration
	RPS           float64
	Workers       int
	PollInterval  time.Duration
	PayloadBytes  int
	Request       string
	MaxProcs      int
	MemLimitBytes int64
	JSONOutput    string
	Timeout       time.Duration
}

type benchCounters struct {
	requests      atomic.Uint64
	completed     atomic.Uint64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

type benchErrors struct {
	dialFailures  atomic.Uint64
	writeFailures atomic.Uint64
	readFailures  atomic.Uint64
	timeouts      atomic.Uint64
	shortReplies  atomic.Uint64
	totalErrors   atomic.Uint64
}

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
	if cfg.MemLimitBytes > 0 {
		debug.SetMemoryLimit(cfg.MemLimitBytes)
	}
	debug.SetGCPercent(100)

	addr := cfg.Addr
	var want int
	if addr == "" {
		srv, stop, err := startLocalServer(cfg)
		if err != nil {
			log.Fatalf("start server: %v", err)
		}
		defer stop()
		addr = srv.Addr().String()
		want = len(response.Frame(200, "application/octet-stream", make([]byte, cfg.PayloadBytes)))
	}

	report := run(cfg, addr, want)
	writeSummary(os.Stderr, report)
	if err := writeJSON(cfg.JSONOutput, report); err != nil {
		log.Fatalf("write json: %v", err)
	}
}

// startLocalServer runs an in-process acceptd that answers with a payload of
// cfg.PayloadBytes.
func startLocalServer(cfg benchConfig) (*server.Server, func(), error) {
	sc := server.DefaultServerConfig().
		WithAddress("127.0.0.1", 0).
		WithWorkers(cfg.Workers).
		WithPollInterval(cfg.PollInterval)
	sc.Backlog = 128

	body := []byte(strings.Repeat("x", cfg.PayloadBytes))
	srv, err := server.New(sc, response.HTTP(200, "", body))
	if err != nil {
		return nil, nil, err
	}
	srv.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for srv.State() != server.StateListening {
		if time.Now().After(deadline) {
			cancel()
			return nil, nil, errors.New("server did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stop := func() {
		cancel()
		<-done
	}
	return srv, stop, nil
}

func run(cfg benchConfig, addr string, wantBytes int) benchReport {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	samplesCh := make(chan time.Duration, sampleBuffer(cfg.Clients))
	var samples []time.Duration
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for rtt := range samplesCh {
			samples = append(samples, rtt)
		}
	}()

	var counters benchCounters
	var errCounts benchErrors

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	beforeMetrics := readRuntimeMetrics()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(cfg.Clients)
	for i := 0; i < cfg.Clients; i++ {
		go func() {
			defer wg.Done()
			runClient(ctx, addr, cfg, wantBytes, &counters, &errCounts, samplesCh)
		}()
	}

	wg.Wait()
	close(samplesCh)
	<-collectorDone
	elapsed := time.Since(start)

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)
	afterMetrics := readRuntimeMetrics()

	slices.Sort(samples)
	return buildReport(cfg, elapsed, samples, &counters, &errCounts, before, after, beforeMetrics, afterMetrics)
}

func sampleBuffer(clients int) int {
	if clients < 1 {
		return 1024
	}
	return max(clients*4, 1024)
}

func parseConfig(fs *flag.FlagSet, args []string) (benchConfig, error) {
	profileFlag := fs.String("profile", "standard", "profile: fast|standard|stress")
	addrFlag := fs.String("addr", "", "target server host:port (default: in-process server)")
	clientsFlag := fs.Int("clients", -1, "number of concurrent clients")
	durationFlag := fs.String("duration", "", "benchmark duration, e.g. 30s")
	rpsFlag := fs.Float64("rps", -1, "target requests/sec per client")
	workersFlag := fs.Int("workers", -1, "in-process server workers")
	pollFlag := fs.Duration("poll-interval", 50*time.Millisecond, "in-process server poll interval")
	payloadFlag := fs.Int("payload-bytes", -1, "in-process response body size")
	requestFlag := fs.String("request", "GET / HTTP/1.1\r\n\r\n", "bytes each client sends")
	maxProcsFlag := fs.Int("max-procs", -1, "GOMAXPROCS cap (0 to leave unchanged)")
	memLimitFlag := fs.String("mem-limit", "", "GOMEMLIMIT (e.g. 2GiB)")
	jsonFlag := fs.String("json", "-", "JSON output path ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return benchConfig{}, err
	}

	name := strings.ToLower(strings.TrimSpace(*profileFlag))
	if name == "" {
		name = "standard"
	}
	base, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}

	cfg := benchConfig{
		Profile:       base.Name,
		Addr:          strings.TrimSpace(*addrFlag),
		Clients:       base.Clients,
		Duration:      base.Duration,
		RPS:           base.RPS,
		Workers:       base.Workers,
		PollInterval:  *pollFlag,
		PayloadBytes:  base.PayloadBytes,
		Request:       *requestFlag,
		MaxProcs:      base.MaxProcs,
		MemLimitBytes: base.MemLimitBytes,
		JSONOutput:    strings.TrimSpace(*jsonFlag),
	}

	if *clientsFlag != -1 {
		cfg.Clients = *clientsFlag
	}
	if *durationFlag != "" {
		d, err := time.ParseDuration(*durationFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid -duration: %w", err)
		}
		cfg.Duration = d
	}
	if *rpsFlag != -1 {
		cfg.RPS = *rpsFlag
	}
	if *workersFlag != -1 {
		cfg.Workers = *workersFlag
	}
	if *payloadFlag != -1 {
		cfg.PayloadBytes = *payloadFlag
	}
	if *maxProcsFlag != -1 {
		cfg.MaxProcs = *maxProcsFlag
	}
	if *memLimitFlag != "" {
		limit, err := parseBytes(*memLimitFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid -mem-limit: %w", err)
		}
		cfg.MemLimitBytes = limit
	}
	if cfg.JSONOutput == "" {
		cfg.JSONOutput = "-"
	}

	switch {
	case cfg.Clients <= 0:
		return benchConfig{}, errors.New("-clients must be > 0")
	case cfg.Duration <= 0:
		return benchConfig{}, errors.New("-duration must be > 0")
	case cfg.RPS <= 0:
		return benchConfig{}, errors.New("-rps must be > 0")
	case cfg.Workers <= 0:
		return benchConfig{}, errors.New("-workers must be > 0")
	case cfg.PollInterval <= 0:
		return benchConfig{}, errors.New("-poll-interval must be > 0")
	case cfg.PayloadBytes < 0:
		return benchConfig{}, errors.New("-payload-bytes must be >= 0")
	case cfg.MaxProcs < 0:
		return benchConfig{}, errors.New("-max-procs must be >= 0")
	case cfg.MemLimitBytes < 0:
		return benchConfig{}, errors.New("-mem-limit must be >= 0")
	}

	cfg.Timeout = requestTimeout(cfg.RPS, cfg.PollInterval)
	return cfg, nil
}

// requestTimeout allows ten request periods, and never less than two seconds
// or two poll intervals.
func requestTimeout(rps float64, poll time.Duration) time.Duration {
	if rps <= 0 {
		return 0
	}
	period := time.Duration(float64(time.Second) / rps)
	return max(period*10, 2*time.Second, 2*poll)
}

func parseBytes(input string) (int64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, errors.New("empty size")
	}

	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if i == -1 {
		i = len(s)
	}
	if i == 0 {
		return 0, fmt.Errorf("invalid size %q", input)
	}

	value, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, err
	}

	multipliers := map[string]float64{
		"": 1, "b": 1,
		"kb": 1e3, "mb": 1e6, "gb": 1e9, "tb": 1e12,
		"kib": 1 << 10, "mib": 1 << 20, "gib": 1 << 30, "tib": 1 << 40,
	}
	suffix := strings.ToLower(strings.TrimSpace(s[i:]))
	m, ok := multipliers[suffix]
	if !ok {
		return 0, fmt.Errorf("unknown size suffix %q", suffix)
	}

	result := value * m
	if result > math.MaxInt64 {
		return 0, fmt.Errorf("size %q overflows", input)
	}
	return int64(result), nil
}

// runClient paces one client at cfg.RPS until ctx is done.
func runClient(
	ctx context.Context,
	addr string,
	cfg benchConfig,
	wantBytes int,
	counters *benchCounters,
	errCounts *benchErrors,
	samples chan<- time.Duration,
) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / cfg.RPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		counters.requests.Add(1)
		rtt, n, err := roundTrip(ctx, addr, cfg.Request, cfg.Timeout)
		counters.bytesSent.Add(uint64(len(cfg.Request)))
		counters.bytesReceived.Add(uint64(n))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errCounts.totalErrors.Add(1)
			classify(err, errCounts)
			continue
		}
		if wantBytes > 0 && n != wantBytes {
			errCounts.totalErrors.Add(1)
			errCounts.shortReplies.Add(1)
			continue
		}

		counters.completed.Add(1)
		select {
		case samples <- rtt:
		default:
		}
	}
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// roundTrip performs one connection lifecycle and returns its duration and
// the number of response bytes.
func roundTrip(ctx context.Context, addr, request string, timeout time.Duration) (time.Duration, int, error) {
	start := time.Now()

	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, 0, &stageError{"dial", err}
	}
	defer c.Close()
	c.SetDeadline(start.Add(timeout))

	if request != "" {
		if _, err := io.WriteString(c, request); err != nil {
			return 0, 0, &stageError{"write", err}
		}
	}
	if tc, ok := c.(*net.TCPConn); ok {
		tc.CloseWrite()
	}

	n, err := io.Copy(io.Discard, c)
	if err != nil {
		return 0, int(n), &stageError{"read", err}
	}
	return time.Since(start), int(n), nil
}

func classify(err error, e *benchErrors) {
	if isTimeout(err) {
		e.timeouts.Add(1)
		return
	}
	var se *stageError
	if !errors.As(err, &se) {
		return
	}
	switch se.stage {
	case "dial":
		e.dialFailures.Add(1)
	case "write":
		e.writeFailures.Add(1)
	case "read":
		e.readFailures.Add(1)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

type runtimeMetricsSnapshot struct {
	cpuTotalSeconds float64
	cpuGCSeconds    float64

	heapAllocsBytes   uint64
	heapAllocsObjects uint64
}

func readRuntimeMetrics() runtimeMetricsSnapshot {
	samples := []metrics.Sample{
		{Name: "/cpu/classes/total:cpu-seconds"},
		{Name: "/cpu/classes/gc/total:cpu-seconds"},
		{Name: "/gc/heap/allocs:bytes"},
		{Name: "/gc/heap/allocs:objects"},
	}
	metrics.Read(samples)

	var out runtimeMetricsSnapshot
	for _, s := range samples {
		if s.Value.Kind() == metrics.KindBad {
			continue
		}
		switch s.Name {
		case "/cpu/classes/total:cpu-seconds":
			out.cpuTotalSeconds = s.Value.Float64()
		case "/cpu/classes/gc/total:cpu-seconds":
			out.cpuGCSeconds = s.Value.Float64()
		case "/gc/heap/allocs:bytes":
			out.heapAllocsBytes = s.Value.Uint64()
		case "/gc/heap/allocs:objects":
			out.heapAllocsObjects = s.Value.Uint64()
		}
	}
	return out
}

func cpuFraction(after, before runtimeMetricsSnapshot) float64 {
	total := after.cpuTotalSeconds - before.cpuTotalSeconds
	gc := after.cpuGCSeconds - before.cpuGCSeconds
	if total <= 0 || gc < 0 {
		return 0
	}
	return gc / total
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}

func avgPause(after, before runtime.MemStats) time.Duration {
	gcCount := after.NumGC - before.NumGC
	if gcCount == 0 {
		return 0
	}
	return time.Duration((after.PauseTotalNs - before.PauseTotalNs) / uint64(gcCount))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
