// Package hub fans websocket messages out to many clients with one
// goroutine owning the client set.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-headwatch/internal/log"
)

// Message is one payload to broadcast: JSON text, or a JPEG camera frame
// sent as a binary websocket frame.
type Message struct {
	Data []byte
	JPEG bool
}

// JSON wraps pre-encoded JSON.
func JSON(data []byte) Message { return Message{Data: data} }

// JPEG wraps an encoded camera frame.
func JPEG(frame []byte) Message { return Message{Data: frame, JPEG: true} }

// opcode is the websocket frame type msg is written with.
func (msg Message) opcode() int {
	if msg.JPEG {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// mu guards reads of the client count from other goroutines.
	mu sync.RWMutex

	running atomic.Bool
	dropped atomic.Uint64
}

// New creates a hub. name only appears in logs.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		logger:     log.With("hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// SetLogger replaces the logger.
func (h *Hub) SetLogger(logger *slog.Logger) {
	h.logger = logger.With("hub", h.name)
}

// Run owns the client set until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "clients", n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Too slow to keep up.
					close(c.send)
					delete(h.clients, c)
					h.logger.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues msg for every client. It never blocks; when the queue
// is full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Debug("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(JSON(data))
	return nil
}

// BroadcastFrame broadcasts an encoded camera frame.
func (h *Hub) BroadcastFrame(frame []byte) {
	h.Broadcast(JPEG(frame))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Dropped returns how many broadcasts were discarded.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
