// Package admin provides an optional HTTP surface for observing a running
// acceptd server.
//
// Routes:
//
//	GET /healthz  200 while the accept loop is listening, 503 otherwise
//	GET /stats    JSON snapshot of server.ServerMetrics
//	GET /metrics  Prometheus exposition of the configured gatherer
//	GET /events   WebSocket stream of server.Event as JSON
//
// The admin server listens on its own address and never touches the
// accepting socket.
package admin
