package conn

import (
	"errors"
	"net"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Read and Write after the handle has been closed.
var ErrClosed = errors.New("conn: use of closed connection")

// nextID hands out process-unique connection IDs.
var nextID atomic.Uint64

// Conn is the owned handle for one accepted connection.
//
// A Conn has exactly one owner at a time. The accept loop creates it, the queue
// holds it, and the request handler that dequeues it is responsible for closing
// it. Ownership moves with the pointer; callers must not keep using a Conn after
// handing it off.
type Conn struct {
	nc         net.Conn
	id         uint64
	peer       net.Addr
	acceptedAt time.Time
	closed     atomic.Bool
}

// New wraps an accepted net.Conn in a fresh handle.
func New(nc net.Conn) *Conn {
	return &Conn{
		nc:         nc,
		id:         nextID.Add(1),
		peer:       nc.RemoteAddr(),
		acceptedAt: time.Now(),
	}
}

// ID returns the process-unique connection ID.
func (c *Conn) ID() uint64 {
	return c.id
}

// Peer returns the address of the remote end.
func (c *Conn) Peer() net.Addr {
	return c.peer
}

// PeerString returns the peer address as a string, or "" if unknown.
func (c *Conn) PeerString() string {
	if c.peer == nil {
		return ""
	}
	return c.peer.String()
}

// AcceptedAt returns when the connection was accepted.
func (c *Conn) AcceptedAt() time.Time {
	return c.acceptedAt
}

// Read performs a single read on the underlying connection.
func (c *Conn) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return c.nc.Read(p)
}

// Write performs a single write on the underlying connection.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return c.nc.Write(p)
}

// SetReadDeadline sets the read deadline. A zero duration clears it.
func (c *Conn) SetReadDeadline(d time.Duration) error {
	if d <= 0 {
		return c.nc.SetReadDeadline(time.Time{})
	}
	return c.nc.SetReadDeadline(time.Now().Add(d))
}

// SetWriteDeadline sets the write deadline. A zero duration clears it.
func (c *Conn) SetWriteDeadline(d time.Duration) error {
	if d <= 0 {
		return c.nc.SetWriteDeadline(time.Time{})
	}
	return c.nc.SetWriteDeadline(time.Now().Add(d))
}

// Close closes the underlying socket. Only the first call reaches the socket;
// later calls return nil.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.nc.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}
