package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection handling and server lifecycle.
var (
	// ErrRead is matched by errors from the request read.
	ErrRead = errors.New("server: read failed")

	// ErrBuild is matched by errors from the response builder.
	ErrBuild = errors.New("server: response build failed")

	// ErrServerStopped is returned by Run when the server has already run.
	ErrServerStopped = errors.New("server: server stopped")

	// ErrShutdownTimeout is returned by Run when workers did not drain within
	// ShutdownTimeout.
	ErrShutdownTimeout = errors.New("server: shutdown timed out")

	// ErrLoopStarted is returned when an AcceptLoop is run twice.
	ErrLoopStarted = errors.New("server: accept loop already started")
)

// ConnError wraps a per-connection failure with the connection it happened on.
type ConnError struct {
	ConnID uint64
	Peer   string
	Op     string // "read" or "build"
	Kind   error  // ErrRead or ErrBuild
	Err    error
}

// Error returns the error message with connection context.
func (e *ConnError) Error() string {
	return fmt.Sprintf("server: conn %d (%s): %s: %v", e.ConnID, e.Peer, e.Op, e.Err)
}

// Unwrap returns both the kind and the cause for errors.Is/As.
func (e *ConnError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// WriteSizeMismatchError reports a response write that sent fewer bytes than
// the payload held. The remainder is not retried.
type WriteSizeMismatchError struct {
	ConnID uint64
	Peer   string
	Sent   int
	Size   int
	Err    error // cause reported by the write, may be nil
}

// Error returns the error message.
func (e *WriteSizeMismatchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("server: conn %d (%s): sent %d of %d bytes", e.ConnID, e.Peer, e.Sent, e.Size)
	}
	return fmt.Sprintf("server: conn %d (%s): sent %d of %d bytes: %v", e.ConnID, e.Peer, e.Sent, e.Size, e.Err)
}

// Unwrap returns the underlying write error.
func (e *WriteSizeMismatchError) Unwrap() error {
	return e.Err
}

// LoopError is returned when the accept loop stops on a failure.
type LoopError struct {
	Op  string // "listen", "poll" or "accept"
	Err error
}

// Error returns the error message.
func (e *LoopError) Error() string {
	return fmt.Sprintf("server: accept loop: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying listener error.
func (e *LoopError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a panic recovered from a request handler.
type HandlerError struct {
	ConnID uint64
	Peer   string
	Panic  any
	Stack  []byte
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: handler panic on conn %d (%s): %v", e.ConnID, e.Peer, e.Panic)
}

// NewHandlerError creates a new HandlerError.
func NewHandlerError(connID uint64, peer string, panicVal any, stack []byte) *HandlerError {
	return &HandlerError{
		ConnID: connID,
		Peer:   peer,
		Panic:  panicVal,
		Stack:  stack,
	}
}
