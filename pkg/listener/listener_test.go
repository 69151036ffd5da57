package listener

import (
	"bytes"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestListener(t *testing.T, opts ...Option) *Listener {
	t.Helper()
	l, err := New("127.0.0.1", 0, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestNew_BindsEphemeralPort(t *testing.T) {
	l := newTestListener(t)

	addr := l.Addr()
	if addr == nil {
		t.Fatal("Addr() returned nil")
	}
	if addr.Port == 0 {
		t.Error("expected ephemeral port to be resolved")
	}
	if !addr.IP.Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("Addr().IP = %v, want 127.0.0.1", addr.IP)
	}
}

func TestNew_BindErrors(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		port int
	}{
		{"invalid ip", "not-an-ip", 8080},
		{"negative port", "127.0.0.1", -1},
		{"port too large", "127.0.0.1", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.ip, tt.port)
			if err == nil {
				l.Close()
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrBind) {
				t.Errorf("errors.Is(err, ErrBind) = false for %v", err)
			}
			var opErr *OpError
			if !errors.As(err, &opErr) {
				t.Fatalf("expected *OpError, got %T", err)
			}
			if opErr.Op != "bind" {
				t.Errorf("Op = %q, want bind", opErr.Op)
			}
		})
	}
}

func TestNew_PortInUse(t *testing.T) {
	first := newTestListener(t)
	if err := first.Listen(); err != nil {
		t.Fatalf("Listen error: %v", err)
	}

	second, err := New("127.0.0.1", first.Addr().Port)
	if err == nil {
		second.Close()
		t.Fatal("expected bind to fail on a port in use")
	}
	if !errors.Is(err, ErrBind) {
		t.Errorf("expected ErrBind, got %v", err)
	}
}

func TestListen_LogsAddressAndPort(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	l := newTestListener(t, WithLogger(logger))
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "msg=listening") {
		t.Errorf("log output missing listening line: %s", out)
	}
	if !strings.Contains(out, "address=127.0.0.1") {
		t.Errorf("log output missing address: %s", out)
	}
	if !strings.Contains(out, "port="+strconv.Itoa(l.Addr().Port)) {
		t.Errorf("log output missing port: %s", out)
	}

	// Second Listen is a no-op and does not log again.
	buf.Reset()
	if err := l.Listen(); err != nil {
		t.Fatalf("second Listen error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("second Listen logged: %s", buf.String())
	}
}

func TestWait_TimesOutWithoutClient(t *testing.T) {
	l := newTestListener(t)
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen error: %v", err)
	}

	start := time.Now()
	ready, err := l.Wait(50 * time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if ready {
		t.Error("Wait reported ready with no client")
	}
	if elapsed < 40*time.Millisecond {
		t.Errorf("Wait returned after %v, expected to block for the timeout", elapsed)
	}
}

func TestWaitAccept_Client(t *testing.T) {
	l := newTestListener(t)
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen error: %v", err)
	}

	client, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer client.Close()

	ready, err := l.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if !ready {
		t.Fatal("Wait did not report the pending connection")
	}

	c, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	defer c.Close()

	if c.PeerString() != client.LocalAddr().String() {
		t.Errorf("Peer = %s, want %s", c.PeerString(), client.LocalAddr())
	}

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("client Write error: %v", err)
	}
	buf := make([]byte, 16)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("Read = %q, want hello", buf[:n])
	}
}

func TestAccept_NothingPending(t *testing.T) {
	l := newTestListener(t)
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen error: %v", err)
	}

	c, err := l.Accept()
	if c != nil {
		c.Close()
	}
	if !errors.Is(err, ErrNoPending) {
		t.Errorf("Accept with nothing pending: err = %v, want ErrNoPending", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	l, err := New("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen error: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
}

func TestOperationsAfterClose(t *testing.T) {
	l, err := New("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	l.Close()

	if err := l.Listen(); !errors.Is(err, ErrListen) || !errors.Is(err, ErrClosed) {
		t.Errorf("Listen after Close: err = %v, want ErrListen and ErrClosed", err)
	}
	if _, err := l.Wait(10 * time.Millisecond); !errors.Is(err, ErrPoll) || !errors.Is(err, ErrClosed) {
		t.Errorf("Wait after Close: err = %v, want ErrPoll and ErrClosed", err)
	}
	if _, err := l.Accept(); !errors.Is(err, ErrAccept) || !errors.Is(err, ErrClosed) {
		t.Errorf("Accept after Close: err = %v, want ErrAccept and ErrClosed", err)
	}
}

func TestOpError(t *testing.T) {
	cause := errors.New("address already in use")
	err := opError("bind", "127.0.0.1:8080", ErrBind, cause)

	want := "listener: bind 127.0.0.1:8080: address already in use"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrBind) {
		t.Error("expected errors.Is(err, ErrBind)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is(err, cause)")
	}
	if errors.Is(err, ErrAccept) {
		t.Error("bind error should not match ErrAccept")
	}

	noAddr := opError("close", "", nil, cause)
	if noAddr.Error() != "listener: close: address already in use" {
		t.Errorf("Error() = %q", noAddr.Error())
	}
}

func TestClosedError(t *testing.T) {
	if got := closedError(nil); got != ErrClosed {
		t.Errorf("closedError(nil) = %v, want ErrClosed", got)
	}
	cause := errors.New("bad file descriptor")
	wrapped := closedError(cause)
	if !errors.Is(wrapped, ErrClosed) || !errors.Is(wrapped, cause) {
		t.Errorf("closedError should wrap both ErrClosed and cause, got %v", wrapped)
	}
}

func TestWithBacklog(t *testing.T) {
	o := applyOptions([]Option{WithBacklog(16)})
	if o.backlog != 16 {
		t.Errorf("backlog = %d, want 16", o.backlog)
	}
	o = applyOptions([]Option{WithBacklog(0)})
	if o.backlog != DefaultBacklog {
		t.Errorf("backlog = %d, want %d", o.backlog, DefaultBacklog)
	}
}
