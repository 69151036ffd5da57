package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/acceptd/pkg/server"
)

// feedBuffer is the number of events held for the broadcaster before new
// events are dropped.
const feedBuffer = 256

const feedWriteTimeout = 5 * time.Second

// EventFeed streams server events to WebSocket clients as JSON text messages.
//
// Publish never blocks: events go through a buffered channel to a single
// broadcaster goroutine, and are dropped when the buffer is full.
type EventFeed struct {
	clients  map[*websocket.Conn]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader

	events  chan server.Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	dropped atomic.Int64

	logger *slog.Logger
}

// NewEventFeed creates a feed and starts its broadcaster. Call Close to stop
// it.
func NewEventFeed() *EventFeed {
	f := &EventFeed{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		events:  make(chan server.Event, feedBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  slog.Default().With("component", "admin"),
	}
	go f.run()
	return f
}

// SetCheckOrigin replaces the WebSocket origin check. By default only
// same-origin upgrades are accepted.
func (f *EventFeed) SetCheckOrigin(fn func(r *http.Request) bool) {
	f.upgrader.CheckOrigin = fn
}

// Publish implements server.EventSink.
func (f *EventFeed) Publish(ev server.Event) {
	select {
	case <-f.done:
		return
	default:
	}
	select {
	case f.events <- ev:
	default:
		f.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (f *EventFeed) Dropped() int64 {
	return f.dropped.Load()
}

// HandleWebSocket upgrades the request and keeps the client subscribed until
// it disconnects.
func (f *EventFeed) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := f.upgrader.Upgrade(w, req, nil)
	if err != nil {
		f.logger.Debug("event feed upgrade failed", "error", err)
		return
	}

	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		conn.Close()
		return
	default:
	}
	f.clients[conn] = true
	f.mu.Unlock()

	// Keep connection alive until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	f.remove(conn)
}

func (f *EventFeed) remove(conn *websocket.Conn) {
	f.mu.Lock()
	delete(f.clients, conn)
	f.mu.Unlock()
	conn.Close()
}

func (f *EventFeed) run() {
	defer close(f.stopped)
	for {
		select {
		case <-f.done:
			return
		case ev := <-f.events:
			f.broadcast(ev)
		}
	}
}

// broadcast sends one event to all connected clients.
func (f *EventFeed) broadcast(ev server.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	f.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(f.clients))
	for client := range f.clients {
		clients = append(clients, client)
	}
	f.mu.RUnlock()

	for _, client := range clients {
		client.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			f.remove(client)
		}
	}
}

// ClientCount returns the number of connected clients.
func (f *EventFeed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Close stops the broadcaster and closes all client connections.
func (f *EventFeed) Close() {
	f.once.Do(func() {
		f.mu.Lock()
		close(f.done)
		f.mu.Unlock()
		<-f.stopped

		f.mu.Lock()
		defer f.mu.Unlock()
		for client := range f.clients {
			client.Close()
			delete(f.clients, client)
		}
	})
}
