package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-dev/acceptd/pkg/server"
)

// Source is the server being observed. *server.Server implements it.
type Source interface {
	State() server.State
	Metrics() *server.ServerMetrics
}

// Config configures the admin HTTP server.
type Config struct {
	// Address is the host:port to listen on.
	// Default: "127.0.0.1:9090".
	Address string

	// Gatherer backs /metrics.
	// Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Registerer, when set, receives the event feed client and drop
	// metrics. Registering twice on one registry panics.
	Registerer prometheus.Registerer

	// Namespace prefixes the event feed metrics.
	// Default: "acceptd".
	Namespace string

	// CheckOrigin replaces the same-origin check on /events upgrades.
	CheckOrigin func(r *http.Request) bool

	// Logger receives admin server logs.
	// Default: slog.Default() with component=admin.
	Logger *slog.Logger
}

// Server serves health, stats, Prometheus metrics and the live event feed
// for one acceptd server.
type Server struct {
	config Config
	src    Source
	feed   *EventFeed
	router chi.Router
	logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New creates an admin server for src. Nothing listens until Start.
func New(src Source, config Config) *Server {
	if config.Address == "" {
		config.Address = "127.0.0.1:9090"
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.Logger == nil {
		config.Logger = slog.Default().With("component", "admin")
	}
	if config.Namespace == "" {
		config.Namespace = "acceptd"
	}

	s := &Server{
		config: config,
		src:    src,
		feed:   NewEventFeed(),
		logger: config.Logger,
	}
	s.feed.logger = config.Logger
	if config.CheckOrigin != nil {
		s.feed.SetCheckOrigin(config.CheckOrigin)
	}
	if config.Registerer != nil {
		config.Registerer.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: "admin",
				Name:      "event_clients",
				Help:      "WebSocket clients subscribed to the event feed",
			}, func() float64 { return float64(s.feed.ClientCount()) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: "admin",
				Name:      "events_dropped_total",
				Help:      "Events dropped because the feed buffer was full",
			}, func() float64 { return float64(s.feed.Dropped()) }),
		)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/events", s.feed.HandleWebSocket)
	s.router = r

	return s
}

// Handler returns the admin router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Feed returns the event feed. Install it with server.SetEventSink.
func (s *Server) Feed() *EventFeed {
	return s.feed
}

// Health is the /healthz response body.
type Health struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.src.State()
	h := Health{Status: "ok", State: state.String()}
	code := http.StatusOK
	if state != server.StateListening {
		h.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Metrics())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Start binds the admin address and serves in the background. Bind errors
// are returned directly.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("admin: already started")
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := s.httpServer
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server stopped", "error", err)
		}
	}()
	s.logger.Info("admin listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the HTTP server and closes the event feed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.Close()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
