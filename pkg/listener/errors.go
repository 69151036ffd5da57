package listener

import (
	"errors"
	"fmt"
)

// Error kinds. Every *OpError matches exactly one of ErrBind, ErrListen,
// ErrAccept or ErrPoll through errors.Is, and additionally ErrClosed when the
// socket was no longer usable.
var (
	// ErrBind is returned when the socket cannot be created or bound.
	ErrBind = errors.New("listener: bind failed")

	// ErrListen is returned when the socket cannot enter the listening state.
	ErrListen = errors.New("listener: listen failed")

	// ErrAccept is returned when accepting a pending connection fails.
	ErrAccept = errors.New("listener: accept failed")

	// ErrPoll is returned when the readiness wait itself fails.
	ErrPoll = errors.New("listener: poll failed")

	// ErrClosed is returned for operations on a closed or invalid socket.
	ErrClosed = errors.New("listener: socket closed")

	// ErrNoPending is returned by Accept when the connection that signalled
	// readiness is gone before it could be accepted. It is not a failure.
	ErrNoPending = errors.New("listener: no pending connection")
)

// OpError describes a failed socket operation.
type OpError struct {
	Op   string // socket, bind, listen, poll, accept, close
	Addr string // ip:port the listener was configured with
	Kind error  // one of the Err* kinds above, may be nil for close
	Err  error  // underlying error
}

// Error returns the error message with operation and address context.
func (e *OpError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("listener: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("listener: %s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap exposes both the kind and the underlying error to errors.Is/As.
func (e *OpError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func opError(op, addr string, kind, err error) *OpError {
	return &OpError{Op: op, Addr: addr, Kind: kind, Err: err}
}

// closedError marks err as caused by an unusable socket.
func closedError(err error) error {
	if err == nil || errors.Is(err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrClosed, err)
}
