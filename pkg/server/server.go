package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/acceptd/pkg/conn"
	"github.com/vango-dev/acceptd/pkg/listener"
	"github.com/vango-dev/acceptd/pkg/queue"
	"github.com/vango-dev/acceptd/pkg/response"
)

// Server ties a listening endpoint, the accept loop, the connection queue and
// a pool of request handlers together.
type Server struct {
	config   *ServerConfig
	endpoint Endpoint
	queue    *queue.Queue[*conn.Conn]
	loop     *AcceptLoop
	handler  *RequestHandler

	middleware []Middleware
	metrics    *MetricsCollector
	sink       atomic.Pointer[EventSink]

	logger *slog.Logger

	// mu guards closing, cancel and loopDone. Close during Run stops the
	// loop through cancel and waits on loopDone before touching the endpoint.
	mu       sync.Mutex
	closing  bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	ran       atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New binds the configured address and returns a server ready to Run.
//
// A nil config uses DefaultServerConfig. Zero-valued fields of a non-nil
// config are filled from the defaults; the caller's value is not modified.
// A nil builder uses response.Default. Bind failures are returned as
// *listener.OpError matching listener.ErrBind, and no socket is left open.
func New(config *ServerConfig, builder response.Builder) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		config = config.Clone()
		config.applyDefaults()
	}
	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	l, err := listener.New(config.IP, config.Port,
		listener.WithBacklog(config.Backlog),
		listener.WithLogger(slog.Default().With("component", "listener")))
	if err != nil {
		return nil, err
	}
	return newServer(config, l, builder, slog.Default()), nil
}

// newServer assembles a server around ep. base is the logger the per-component
// loggers are derived from.
func newServer(config *ServerConfig, ep Endpoint, builder response.Builder, base *slog.Logger) *Server {
	metrics := NewMetricsCollector()
	q := queue.New[*conn.Conn]()

	s := &Server{
		config:   config,
		endpoint: ep,
		queue:    q,
		metrics:  metrics,
	}

	s.loop = NewAcceptLoop(ep, q, config.PollInterval)
	s.loop.metrics = metrics
	s.loop.publish = s.publish

	s.handler = NewRequestHandler(builder, config)
	s.handler.metrics = metrics

	s.SetLogger(base)
	return s
}

// Use appends middleware around the request handler. Middleware added first
// is outermost. Call before Run.
func (s *Server) Use(mw Middleware) {
	s.middleware = append(s.middleware, mw)
}

// SetEventSink installs the receiver of connection events. It may be called
// at any time; nil removes the sink.
func (s *Server) SetEventSink(sink EventSink) {
	if sink == nil {
		s.sink.Store(nil)
		return
	}
	s.sink.Store(&sink)
}

func (s *Server) publish(ev Event) {
	p := s.sink.Load()
	if p == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	(*p).Publish(ev)
}

func (s *Server) buildHandler() Handler {
	var h Handler = s.handler
	for i := len(s.middleware) - 1; i >= 0; i-- {
		h = s.middleware[i](h)
	}
	return h
}

// Run serves until ctx is done or the accept loop fails.
//
// Workers are started first, then the accept loop runs on the calling
// goroutine. When the loop stops the queue is closed and workers finish the
// connections already dequeued or pending; those are not interrupted by ctx.
// Run waits up to ShutdownTimeout for that and then closes the endpoint.
//
// Run returns nil after a clean cancellation or Close, the *LoopError that
// stopped the loop, and/or ErrShutdownTimeout. A second call, or a call after
// Close, returns ErrServerStopped.
func (s *Server) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return ErrServerStopped
	}
	defer s.Close()

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrServerStopped
	}
	workCtx := context.WithoutCancel(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan struct{})
	s.cancel = cancel
	s.loopDone = loopDone
	s.mu.Unlock()

	h := s.buildHandler()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.worker(workCtx, id, h)
		}(i)
	}
	s.logger.Info("server starting",
		"address", s.config.IP,
		"port", s.config.Port,
		"workers", s.config.Workers)

	loopErr := func() error {
		defer close(loopDone)
		return s.loop.Run(ctx)
	}()
	s.queue.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("server shutdown complete")
		return loopErr
	case <-timer.C:
		s.logger.Error("shutdown timed out",
			"timeout", s.config.ShutdownTimeout,
			"in_flight", s.metrics.inFlight.Load(),
			"queued", s.queue.Len())
		return errors.Join(loopErr, ErrShutdownTimeout)
	}
}

func (s *Server) worker(ctx context.Context, id int, h Handler) {
	logger := s.logger.With("worker", id)
	for {
		c, err := s.queue.Dequeue(ctx)
		if err != nil {
			logger.Debug("worker exiting", "reason", err)
			return
		}
		s.serve(ctx, logger, h, c)
	}
}

func (s *Server) serve(ctx context.Context, logger *slog.Logger, h Handler, c *conn.Conn) {
	s.metrics.RecordStart()
	defer func() {
		s.metrics.RecordDone(time.Since(c.AcceptedAt()))
		if r := recover(); r != nil {
			c.Close()
			herr := NewHandlerError(c.ID(), c.PeerString(), r, debug.Stack())
			s.metrics.RecordHandlerPanic()
			logger.Error("handler panic", "conn_id", c.ID(), "peer", c.PeerString(), "error", herr, "stack", string(herr.Stack))
			s.publish(Event{Type: EventPanic, ConnID: c.ID(), Peer: c.PeerString(), Error: herr.Error()})
		}
	}()

	err := h.ServeConn(ctx, c)
	if !c.Closed() {
		// Middleware that returned without calling the handler.
		c.Close()
	}
	s.report(logger, c, err)
}

// report logs, counts and publishes the outcome of one connection.
func (s *Server) report(logger *slog.Logger, c *conn.Conn, err error) {
	ev := Event{ConnID: c.ID(), Peer: c.PeerString()}

	var mismatch *WriteSizeMismatchError
	switch {
	case err == nil:
		logger.Info("response sent", "conn_id", c.ID(), "peer", c.PeerString())
		ev.Type = EventHandled
	case errors.As(err, &mismatch):
		s.metrics.RecordWriteMismatch()
		logger.Warn("response write incomplete",
			"conn_id", c.ID(),
			"peer", c.PeerString(),
			"bytes_sent", mismatch.Sent,
			"response_size", mismatch.Size,
			"error", mismatch.Err)
		ev.Type = EventWriteMismatch
		ev.Bytes = mismatch.Sent
		ev.Size = mismatch.Size
		ev.Error = err.Error()
	case errors.Is(err, ErrRead):
		s.metrics.RecordReadError()
		logger.Warn("request read failed", "conn_id", c.ID(), "peer", c.PeerString(), "error", err)
		ev.Type = EventReadError
		ev.Error = err.Error()
	case errors.Is(err, ErrBuild):
		s.metrics.RecordBuildError()
		logger.Error("response build failed", "conn_id", c.ID(), "peer", c.PeerString(), "error", err)
		ev.Type = EventBuildError
		ev.Error = err.Error()
	default:
		logger.Warn("connection failed", "conn_id", c.ID(), "peer", c.PeerString(), "error", err)
		ev.Type = EventHandled
		ev.Error = err.Error()
	}
	s.publish(ev)
}

// Close closes the listening endpoint and the queue. It is safe to call
// before, during or after Run, and more than once; only the first call
// reaches the socket.
//
// During Run, Close cancels the accept loop and waits for it to exit before
// closing the endpoint, so it can block for up to one poll interval. Run then
// drains the queue as on cancellation and returns nil.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	cancel, loopDone := s.cancel, s.loopDone
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-loopDone
	}

	s.closeOnce.Do(func() {
		s.closeErr = s.endpoint.Close()
		s.queue.Close()
	})
	return s.closeErr
}

// Addr returns the bound address.
func (s *Server) Addr() *net.TCPAddr {
	return s.endpoint.Addr()
}

// State returns the accept loop state.
func (s *Server) State() State {
	return s.loop.State()
}

// QueueLen returns the number of accepted connections waiting for a worker.
func (s *Server) QueueLen() int {
	return s.queue.Len()
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// SetLogger sets the base logger. The server, accept loop and request handler
// each log through it with their own component attribute. Call before Run.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.logger = logger.With("component", "server")
	s.loop.SetLogger(logger.With("component", "accept"))
	s.handler.logger = logger.With("component", "handler")
}
