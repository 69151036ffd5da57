package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/vango-dev/acceptd/pkg/conn"
	"github.com/vango-dev/acceptd/pkg/listener"
	"github.com/vango-dev/acceptd/pkg/queue"
)

// Endpoint is the listening side driven by the accept loop.
// *listener.Listener implements it.
type Endpoint interface {
	Listen() error
	Wait(timeout time.Duration) (ready bool, err error)
	Accept() (*conn.Conn, error)
	Close() error
	Addr() *net.TCPAddr
}

var _ Endpoint = (*listener.Listener)(nil)

// State is the accept loop state.
type State int32

const (
	StateNotListening State = iota
	StateListening
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotListening:
		return "not_listening"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Backoff bounds for repeated recoverable accept failures such as EMFILE.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// AcceptLoop accepts connections from an Endpoint and enqueues them.
//
// The loop owns the endpoint while it runs but never closes it. Cancellation
// is observed once per iteration, so a cancelled context stops the loop within
// one poll interval.
type AcceptLoop struct {
	endpoint Endpoint
	queue    *queue.Queue[*conn.Conn]
	interval time.Duration

	logger  *slog.Logger
	metrics *MetricsCollector
	publish func(Event)

	started atomic.Bool
	state   atomic.Int32
}

// NewAcceptLoop creates an accept loop that waits at most interval per
// iteration.
func NewAcceptLoop(ep Endpoint, q *queue.Queue[*conn.Conn], interval time.Duration) *AcceptLoop {
	if interval <= 0 {
		interval = time.Second
	}
	return &AcceptLoop{
		endpoint: ep,
		queue:    q,
		interval: interval,
		logger:   slog.Default().With("component", "accept"),
		metrics:  NewMetricsCollector(),
		publish:  func(Event) {},
	}
}

// SetLogger sets the loop logger. Call before Run.
func (l *AcceptLoop) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// State returns the current state.
func (l *AcceptLoop) State() State {
	return State(l.state.Load())
}

func (l *AcceptLoop) setState(s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}
	l.publish(Event{Type: EventState, State: s.String()})
}

// Run starts listening and accepts until ctx is done or the endpoint fails.
// A cancelled context is a clean stop and returns nil. Failures that end the
// loop are returned as *LoopError; the endpoint is left open for the caller
// to close.
func (l *AcceptLoop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrLoopStarted
	}
	defer l.setState(StateStopped)

	if err := l.endpoint.Listen(); err != nil {
		return &LoopError{Op: "listen", Err: err}
	}
	l.setState(StateListening)

	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			l.logger.Info("accept loop stopped")
			return nil
		}

		ready, err := l.endpoint.Wait(l.interval)
		if err != nil {
			l.logger.Error("accept loop poll failed", "error", err)
			return &LoopError{Op: "poll", Err: err}
		}
		if !ready {
			continue
		}
		// Cancellation during the wait wins over a pending connection.
		if ctx.Err() != nil {
			l.logger.Info("accept loop stopped")
			return nil
		}

		c, err := l.endpoint.Accept()
		if err != nil {
			if errors.Is(err, listener.ErrNoPending) {
				continue
			}
			if errors.Is(err, listener.ErrClosed) {
				l.logger.Error("accept loop stopped on closed socket", "error", err)
				return &LoopError{Op: "accept", Err: err}
			}

			l.metrics.RecordAcceptError()
			l.publish(Event{Type: EventAcceptError, Error: err.Error()})
			backoff = nextBackoff(backoff)
			l.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				l.logger.Info("accept loop stopped")
				return nil
			}
			continue
		}
		backoff = 0

		l.metrics.RecordAccepted()
		l.publish(Event{Type: EventAccepted, ConnID: c.ID(), Peer: c.PeerString()})
		l.logger.Debug("connection accepted", "conn_id", c.ID(), "peer", c.PeerString())

		if err := l.queue.Enqueue(c); err != nil {
			l.logger.Warn("queue closed, dropping connection", "conn_id", c.ID(), "error", err)
			c.Close()
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}

// sleepCtx sleeps for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
