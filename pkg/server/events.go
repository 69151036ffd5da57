package server

import "time"

// EventType identifies a connection lifecycle event.
type EventType string

const (
	EventAccepted      EventType = "accepted"
	EventHandled       EventType = "handled"
	EventReadError     EventType = "read_error"
	EventBuildError    EventType = "build_error"
	EventWriteMismatch EventType = "write_mismatch"
	EventAcceptError   EventType = "accept_error"
	EventPanic         EventType = "panic"
	EventState         EventType = "state"
)

// Event is published for every connection lifecycle step and every accept
// loop state change.
type Event struct {
	Type   EventType `json:"type"`
	Time   time.Time `json:"time"`
	ConnID uint64    `json:"conn_id,omitempty"`
	Peer   string    `json:"peer,omitempty"`

	// Bytes is the number of bytes written for handled and write_mismatch.
	Bytes int `json:"bytes,omitempty"`
	// Size is the response size for write_mismatch.
	Size int `json:"size,omitempty"`

	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// EventSink receives server events. Publish is called from the accept loop
// and worker goroutines and must not block.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Publish calls f(ev).
func (f EventSinkFunc) Publish(ev Event) {
	f(ev)
}
