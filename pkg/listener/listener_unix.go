//go:build linux || darwin

package listener

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/vango-dev/acceptd/pkg/conn"
	"golang.org/x/sys/unix"
)

// Listener owns one listening TCP socket.
//
// New creates and binds the socket, Listen moves it to the passive state,
// and Wait plus Accept turn pending connections into *conn.Conn handles.
// Listen, Wait and Accept must be called from a single goroutine; Close may
// be called once that goroutine is done with the listener.
type Listener struct {
	fd         int
	addr       *net.TCPAddr
	configured string
	opts       options
	listening  bool
	closed     atomic.Bool
}

// New creates a stream socket for the family of ip and binds it to ip:port.
// Port 0 binds an ephemeral port; Addr reports the port that was chosen.
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

	family, sa := sockaddr(parsed, port)

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, opError("socket", configured, ErrBind, os.NewSyscallError("socket", err))
	}
	setCloexec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, opError("socket", configured, ErrBind, os.NewSyscallError("setsockopt", err))
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, opError("bind", configured, ErrBind, os.NewSyscallError("bind", err))
	}

	// Accept must never block the loop if a ready connection disappears.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, opError("socket", configured, ErrBind, os.NewSyscallError("setnonblock", err))
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, opError("bind", configured, ErrBind, os.NewSyscallError("getsockname", err))
	}

	return &Listener{
		fd:         fd,
		addr:       tcpAddr(bound),
		configured: configured,
		opts:       o,
	}, nil
}

// Listen puts the bound socket into the listening state and logs the address.
// Calling Listen again after success is a no-op.
func (l *Listener) Listen() error {
	if l.closed.Load() {
		return opError("listen", l.configured, ErrListen, ErrClosed)
	}
	if l.listening {
		return nil
	}
	if err := unix.Listen(l.fd, l.opts.backlog); err != nil {
		return opError("listen", l.configured, ErrListen, os.NewSyscallError("listen", err))
	}
	l.listening = true
	logListening(l.opts.logger, l.addr, l.opts.backlog)
	return nil
}

// Wait blocks until a connection is pending or timeout elapses. An
// interrupted wait reports not ready without an error.
func (l *Listener) Wait(timeout time.Duration) (bool, error) {
	if l.closed.Load() {
		return false, opError("poll", l.configured, ErrPoll, ErrClosed)
	}

	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}

	fds := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		if errors.Is(err, unix.EBADF) {
			return false, opError("poll", l.configured, ErrPoll, closedError(err))
		}
		return false, opError("poll", l.configured, ErrPoll, os.NewSyscallError("poll", err))
	}
	if n == 0 {
		return false, nil
	}

	revents := fds[0].Revents
	switch {
	case revents&unix.POLLNVAL != 0:
		return false, opError("poll", l.configured, ErrPoll, ErrClosed)
	case revents&unix.POLLERR != 0:
		return false, opError("poll", l.configured, ErrPoll, errors.New("socket error condition"))
	}
	return revents&unix.POLLIN != 0, nil
}

// Accept accepts one pending connection and wraps it in a new handle.
func (l *Listener) Accept() (*conn.Conn, error) {
	if l.closed.Load() {
		return nil, opError("accept", l.configured, ErrAccept, ErrClosed)
	}

	nfd, _, err := unix.Accept(l.fd)
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ECONNABORTED), errors.Is(err, unix.EINTR):
			return nil, ErrNoPending
		case errors.Is(err, unix.EBADF), errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOTSOCK):
			return nil, opError("accept", l.configured, ErrAccept, closedError(os.NewSyscallError("accept", err)))
		default:
			return nil, opError("accept", l.configured, ErrAccept, os.NewSyscallError("accept", err))
		}
	}
	setCloexec(nfd)

	// FileConn dups the descriptor onto the runtime poller; the original is
	// closed right after.
	f := os.NewFile(uintptr(nfd), "acceptd-conn")
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, opError("accept", l.configured, ErrAccept, err)
	}

	return conn.New(nc), nil
}

// Close closes the listening socket. Only the first call closes the
// descriptor; later calls return nil.
func (l *Listener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if err := unix.Close(l.fd); err != nil {
		return opError("close", l.configured, nil, os.NewSyscallError("close", err))
	}
	return nil
}

// Addr returns the bound address.
func (l *Listener) Addr() *net.TCPAddr {
	return l.addr
}

func setCloexec(fd int) {
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
}

func sockaddr(ip net.IP, port int) (int, unix.Sockaddr) {
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return unix.AF_INET6, sa
}

func tcpAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	default:
		return &net.TCPAddr{}
	}
}
