package server

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/acceptd/pkg/conn"
	"github.com/vango-dev/acceptd/pkg/listener"
)

// fakeEndpoint hands out scripted connections and accept errors.
type fakeEndpoint struct {
	mu         sync.Mutex
	listenErr  error
	waitErr    error
	acceptErrs []error
	pending    []*conn.Conn
	closed     bool

	// waitHook replaces the default Wait when set.
	waitHook func(timeout time.Duration) (bool, error)

	listens atomic.Int32
	waits   atomic.Int32
	accepts atomic.Int32
	closes  atomic.Int32

	// usedAfterClose counts Wait and Accept calls made after Close.
	usedAfterClose atomic.Int32
}

func (f *fakeEndpoint) Listen() error {
	f.listens.Add(1)
	return f.listenErr
}

func (f *fakeEndpoint) Wait(timeout time.Duration) (bool, error) {
	f.waits.Add(1)
	if f.waitHook != nil {
		return f.waitHook(timeout)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.usedAfterClose.Add(1)
		return false, fmt.Errorf("%w: %w", listener.ErrPoll, listener.ErrClosed)
	}
	if f.waitErr != nil {
		err := f.waitErr
		f.mu.Unlock()
		return false, err
	}
	ready := len(f.acceptErrs) > 0 || len(f.pending) > 0
	f.mu.Unlock()

	if ready {
		return true, nil
	}
	time.Sleep(timeout)
	return false, nil
}

func (f *fakeEndpoint) Accept() (*conn.Conn, error) {
	f.accepts.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.usedAfterClose.Add(1)
		return nil, fmt.Errorf("%w: %w", listener.ErrAccept, listener.ErrClosed)
	}

	if len(f.acceptErrs) > 0 {
		err := f.acceptErrs[0]
		f.acceptErrs = f.acceptErrs[1:]
		return nil, err
	}
	if len(f.pending) > 0 {
		c := f.pending[0]
		f.pending = f.pending[1:]
		return c, nil
	}
	return nil, listener.ErrNoPending
}

func (f *fakeEndpoint) Close() error {
	f.closes.Add(1)
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEndpoint) Addr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}
}

func (f *fakeEndpoint) push(c *conn.Conn) {
	f.mu.Lock()
	f.pending = append(f.pending, c)
	f.mu.Unlock()
}

// fakeNetConn is a scripted net.Conn.
type fakeNetConn struct {
	mu sync.Mutex

	readData []byte
	readErr  error
	readLens []int

	// writeLimit caps the bytes accepted by Write; negative means no cap.
	writeLimit int
	writeErr   error
	written    bytes.Buffer

	readDeadline  time.Time
	writeDeadline time.Time

	closes atomic.Int32
}

func newFakeNetConn(request string) *fakeNetConn {
	return &fakeNetConn{readData: []byte(request), writeLimit: -1}
}

func (f *fakeNetConn) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readLens = append(f.readLens, len(p))
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.readData) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.readData)
	f.readData = f.readData[n:]
	return n, nil
}

func (f *fakeNetConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(p)
	if f.writeLimit >= 0 && n > f.writeLimit {
		n = f.writeLimit
	}
	f.written.Write(p[:n])
	if n < len(p) {
		return n, f.writeErr
	}
	return n, nil
}

func (f *fakeNetConn) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeNetConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}
}

func (f *fakeNetConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

func (f *fakeNetConn) SetDeadline(t time.Time) error {
	f.SetReadDeadline(t)
	return f.SetWriteDeadline(t)
}

func (f *fakeNetConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	f.readDeadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeNetConn) SetWriteDeadline(t time.Time) error {
	f.mu.Lock()
	f.writeDeadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeNetConn) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
