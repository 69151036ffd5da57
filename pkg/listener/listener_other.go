//go:build !linux && !darwin

package listener

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/vango-dev/acceptd/pkg/conn"
)

// Listener owns one listening TCP socket.
//
// On this platform the net package binds and listens in one step, so New
// already holds a listening socket and Listen only reports it. The readiness
// wait is an accept bounded by a deadline; the accepted connection is kept
// until the next Accept call. The backlog option is ignored.
type Listener struct {
	ln         *net.TCPListener
	addr       *net.TCPAddr
	configured string
	opts       options
	listening  bool
	pending    *net.TCPConn
	closed     atomic.Bool
}

// New binds a TCP socket to ip:port.
func New(ip string, port int, opts ...Option) (*Listener, error) {
	o := applyOptions(opts)
	configured := hostPort(ip, port)

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, opError("bind", configured, ErrBind, fmt.Errorf("invalid IP address %q", ip))
	}
	if port < 0 || port > 65535 {
		return nil, opError("bind", configured, ErrBind, fmt.Errorf("port %d out of range", port))
	}

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: parsed, Port: port})
	if err != nil {
		return nil, opError("bind", configured, ErrBind, err)
	}

	return &Listener{
		ln:         ln,
		addr:       ln.Addr().(*net.TCPAddr),
		configured: configured,
		opts:       o,
	}, nil
}

// Listen logs the listening address. Calling it again is a no-op.
func (l *Listener) Listen() error {
	if l.closed.Load() {
		return opError("listen", l.configured, ErrListen, ErrClosed)
	}
	if l.listening {
		return nil
	}
	l.listening = true
	logListening(l.opts.logger, l.addr, l.opts.backlog)
	return nil
}

// Wait blocks until a connection is pending or timeout elapses.
func (l *Listener) Wait(timeout time.Duration) (bool, error) {
	if l.closed.Load() {
		return false, opError("poll", l.configured, ErrPoll, ErrClosed)
	}
	if l.pending != nil {
		return true, nil
	}

	if err := l.ln.SetDeadline(time.Now().Add(timeout)); err != nil {
		return false, opError("poll", l.configured, ErrPoll, err)
	}
	c, err := l.ln.AcceptTCP()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return false, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return false, opError("poll", l.configured, ErrPoll, closedError(err))
		}
		return false, opError("poll", l.configured, ErrPoll, err)
	}
	l.pending = c
	return true, nil
}

// Accept returns the connection found by the last Wait.
func (l *Listener) Accept() (*conn.Conn, error) {
	if l.closed.Load() {
		return nil, opError("accept", l.configured, ErrAccept, ErrClosed)
	}
	if l.pending == nil {
		return nil, ErrNoPending
	}
	c := l.pending
	l.pending = nil
	return conn.New(c), nil
}

// Close closes the listening socket. Only the first call closes it; later
// calls return nil.
func (l *Listener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if l.pending != nil {
		l.pending.Close()
		l.pending = nil
	}
	if err := l.ln.Close(); err != nil {
		return opError("close", l.configured, nil, err)
	}
	return nil
}

// Addr returns the bound address.
func (l *Listener) Addr() *net.TCPAddr {
	return l.addr
}
