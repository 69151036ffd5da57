// Package middleware provides observability middleware for acceptd servers.
//
// This package includes:
//   - OpenTelemetry tracing middleware, one span per connection
//   - Prometheus metrics middleware
//   - A Prometheus collector exporting the server's built-in counters
//
// # OpenTelemetry Middleware
//
//	srv.Use(middleware.OpenTelemetry(
//	    middleware.WithTracerName("edge"),
//	    middleware.WithConnFilter(func(c *conn.Conn) bool {
//	        return !strings.HasPrefix(c.PeerString(), "10.")
//	    }),
//	))
//
// The span context is passed to the rest of the chain, so the response
// builder's outbound calls inherit the trace.
//
// # Prometheus Metrics
//
// The Prometheus middleware records:
//   - acceptd_connections_total{outcome}
//   - acceptd_connection_duration_seconds
//   - acceptd_queue_wait_seconds
//   - acceptd_connections_in_flight
//
// Register it together with the server's own counters:
//
//	reg := prometheus.NewRegistry()
//	srv.Use(middleware.Prometheus(middleware.WithRegistry(reg)))
//	reg.MustRegister(middleware.NewStatsCollector(srv, ""))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// Outcome labels are ok, read_error, build_error, write_mismatch and error.
package middleware
