package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/vango-dev/acceptd/pkg/conn"
	"github.com/vango-dev/acceptd/pkg/response"
)

// Handler serves one connection. ServeConn owns c and must close it before
// returning.
type Handler interface {
	ServeConn(ctx context.Context, c *conn.Conn) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, c *conn.Conn) error

// ServeConn calls f(ctx, c).
func (f HandlerFunc) ServeConn(ctx context.Context, c *conn.Conn) error {
	return f(ctx, c)
}

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// RequestHandler answers a connection with a single read, a single write of
// the builder's payload, and a close.
type RequestHandler struct {
	builder response.Builder
	config  *ServerConfig
	metrics *MetricsCollector
	logger  *slog.Logger
	bufs    sync.Pool
}

// NewRequestHandler creates a RequestHandler. A nil config uses
// DefaultServerConfig.
func NewRequestHandler(builder response.Builder, config *ServerConfig) *RequestHandler {
	if config == nil {
		config = DefaultServerConfig()
	}
	if builder == nil {
		builder = response.Default()
	}
	size := config.ReadBufferSize
	if size <= 0 {
		size = DefaultServerConfig().ReadBufferSize
	}
	h := &RequestHandler{
		builder: builder,
		config:  config,
		metrics: NewMetricsCollector(),
		logger:  slog.Default().With("component", "handler"),
	}
	h.bufs.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return h
}

// ServeConn reads the request, writes the response and closes c.
//
// Read and build failures return a *ConnError. A short write returns a
// *WriteSizeMismatchError; the rest of the payload is not retried. c is
// closed exactly once on every path.
func (h *RequestHandler) ServeConn(ctx context.Context, c *conn.Conn) error {
	defer c.Close()

	if err := c.SetReadDeadline(h.config.ReadTimeout); err != nil {
		h.logger.Debug("set read deadline failed", "conn_id", c.ID(), "error", err)
	}

	bp := h.bufs.Get().(*[]byte)
	n, err := c.Read(*bp)
	h.bufs.Put(bp)
	if err != nil && !errors.Is(err, io.EOF) {
		return &ConnError{ConnID: c.ID(), Peer: c.PeerString(), Op: "read", Kind: ErrRead, Err: err}
	}
	h.metrics.RecordBytesRead(n)

	payload, err := h.builder.Build(ctx)
	if err != nil {
		return &ConnError{ConnID: c.ID(), Peer: c.PeerString(), Op: "build", Kind: ErrBuild, Err: err}
	}

	if err := c.SetWriteDeadline(h.config.WriteTimeout); err != nil {
		h.logger.Debug("set write deadline failed", "conn_id", c.ID(), "error", err)
	}

	sent, err := c.Write(payload)
	h.metrics.RecordBytesWritten(sent)
	if sent < len(payload) {
		return &WriteSizeMismatchError{
			ConnID: c.ID(),
			Peer:   c.PeerString(),
			Sent:   sent,
			Size:   len(payload),
			Err:    err,
		}
	}
	return nil
}
