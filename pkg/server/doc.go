// Package server accepts TCP connections and dispatches them to request
// handlers.
//
// # Architecture
//
// A Server is built from four parts:
//
//   - Endpoint: the listening socket (normally a *listener.Listener)
//   - AcceptLoop: waits for readiness with a bounded timeout, accepts, and
//     enqueues each connection
//   - Queue: an unbounded FIFO of *conn.Conn between the loop and the workers
//   - RequestHandler: one read, one write of the response payload, one close
//
// The accept loop runs on the goroutine that called Run. Workers are separate
// goroutines, each handling one connection at a time. The queue is the only
// structure they share, and a connection has exactly one owner at any moment:
// the loop until Enqueue, the queue until Dequeue, then the worker, which
// closes it.
//
// # Lifecycle
//
//	srv, err := server.New(&server.ServerConfig{IP: "127.0.0.1", Port: 8080}, response.Default())
//	if err != nil {
//	    // errors.Is(err, listener.ErrBind)
//	}
//	defer srv.Close()
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := srv.Run(ctx); err != nil {
//	    // *LoopError, ErrShutdownTimeout
//	}
//
// The accept loop moves through StateNotListening, StateListening and
// StateStopped. Cancelling the context stops it within one PollInterval;
// connections already queued or in flight are still served before Run
// returns.
//
// # Errors
//
// Startup failures (bind, listen) are returned to the caller. Per-connection
// failures never leave the worker: *ConnError (ErrRead, ErrBuild) and
// *WriteSizeMismatchError are logged, counted in MetricsCollector and
// published as events. Recoverable accept failures are logged and the loop
// continues; an accept or poll failure on a closed socket ends the loop with
// a *LoopError.
//
// # Middleware
//
// Handlers compose like net/http handlers:
//
//	srv.Use(func(next server.Handler) server.Handler {
//	    return server.HandlerFunc(func(ctx context.Context, c *conn.Conn) error {
//	        start := time.Now()
//	        err := next.ServeConn(ctx, c)
//	        log.Println(c.ID(), time.Since(start))
//	        return err
//	    })
//	})
package server
