package middleware

import (
	"context"
	"net"
	"testing"

	"github.com/vango-dev/acceptd/pkg/conn"
	"github.com/vango-dev/acceptd/pkg/server"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestConn returns a handle over one end of an in-memory pipe.
func newTestConn(t *testing.T) *conn.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return conn.New(a)
}

// handlerReturning is a terminal handler that closes the connection and
// returns err.
func handlerReturning(err error) server.Handler {
	return server.HandlerFunc(func(_ context.Context, c *conn.Conn) error {
		c.Close()
		return err
	})
}
