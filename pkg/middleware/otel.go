package middleware

import (
	"context"
	"time"

	"github.com/vango-dev/acceptd/pkg/conn"
	"github.com/vango-dev/acceptd/pkg/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for acceptd.
const defaultTracerName = "acceptd"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "acceptd").
	TracerName string

	// TracerProvider overrides the global tracer provider.
	TracerProvider trace.TracerProvider

	// IncludePeer records the client address on the span.
	// Enabled by default.
	IncludePeer bool

	// Filter determines which connections to trace.
	// Return true to trace the connection, false to skip.
	// If nil, all connections are traced.
	Filter func(c *conn.Conn) bool

	// AttributeExtractor adds custom attributes for each traced connection.
	AttributeExtractor func(c *conn.Conn) []attribute.KeyValue

	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludePeer enables/disables recording the peer address.
func WithIncludePeer(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludePeer = include
	}
}

// WithConnFilter sets a filter function for connections.
func WithConnFilter(filter func(c *conn.Conn) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(c *conn.Conn) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName:  defaultTracerName,
		IncludePeer: true,
	}
}

// OpenTelemetry creates middleware that opens a server span around every
// handled connection.
//
// The span carries the connection ID, the peer address and the time the
// connection spent queued. Handler errors are recorded on the span and set
// its status; the outcome label matches the Prometheus middleware. The
// span's context is passed down, so builders that make outbound calls (for
// example to S3) join the trace.
//
// The tracer comes from the global provider unless WithTracerProvider is
// given. Configure it in main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	srv.Use(middleware.OpenTelemetry())
func OpenTelemetry(opts ...OTelOption) server.Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	if config.TracerProvider != nil {
		config.tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		config.tracer = otel.Tracer(config.TracerName)
	}

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(ctx context.Context, c *conn.Conn) error {
			if config.Filter != nil && !config.Filter(c) {
				return next.ServeConn(ctx, c)
			}

			now := time.Now()
			attrs := []attribute.KeyValue{
				attribute.Int64("acceptd.conn_id", int64(c.ID())),
				attribute.Int64("acceptd.queue_wait_us", now.Sub(c.AcceptedAt()).Microseconds()),
			}
			if config.IncludePeer {
				attrs = append(attrs, attribute.String("net.peer.address", c.PeerString()))
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(c)...)
			}

			spanCtx, span := config.tracer.Start(
				ctx,
				"acceptd.conn",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
				trace.WithTimestamp(now),
			)
			defer span.End()

			err := next.ServeConn(spanCtx, c)

			span.SetAttributes(attribute.String("acceptd.outcome", Outcome(err)))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		})
	}
}
